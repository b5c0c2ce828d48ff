package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SchedulingMetrics exposes counters/histograms for booking flows.
type SchedulingMetrics struct {
	bookingsTotal      *prometheus.CounterVec
	statusChanges      *prometheus.CounterVec
	notificationsTotal *prometheus.CounterVec
	slotQueryLatency   prometheus.Histogram
}

func NewSchedulingMetrics(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hospital",
			Subsystem: "scheduling",
			Name:      "bookings_total",
			Help:      "Booking attempts by commitment kind and outcome",
		}, []string{"kind", "outcome"}),
		statusChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hospital",
			Subsystem: "scheduling",
			Name:      "status_changes_total",
			Help:      "Commitment status transitions",
		}, []string{"kind", "status"}),
		notificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hospital",
			Subsystem: "notify",
			Name:      "events_total",
			Help:      "Notification events handed to the notifier",
		}, []string{"outcome"}),
		slotQueryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "hospital",
			Subsystem: "scheduling",
			Name:      "slot_query_seconds",
			Help:      "Latency of free slot computation",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal, m.statusChanges, m.notificationsTotal, m.slotQueryLatency)
	return m
}

func (m *SchedulingMetrics) ObserveBooking(kind, outcome string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(kind, outcome).Inc()
}

func (m *SchedulingMetrics) ObserveStatusChange(kind, status string) {
	if m == nil {
		return
	}
	m.statusChanges.WithLabelValues(kind, status).Inc()
}

func (m *SchedulingMetrics) ObserveNotification(outcome string) {
	if m == nil {
		return
	}
	m.notificationsTotal.WithLabelValues(outcome).Inc()
}

func (m *SchedulingMetrics) ObserveSlotQuery(d time.Duration) {
	if m == nil {
		return
	}
	m.slotQueryLatency.Observe(d.Seconds())
}
