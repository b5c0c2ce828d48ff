package scheduling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/hospital-scheduling/internal/audit"
	"github.com/wolfman30/hospital-scheduling/internal/directory"
	"github.com/wolfman30/hospital-scheduling/internal/notify"
	"github.com/wolfman30/hospital-scheduling/internal/observability/metrics"
	"github.com/wolfman30/hospital-scheduling/internal/session"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
	err    error
}

func (n *recordingNotifier) Notify(ctx context.Context, evt notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, evt)
	return n.err
}

func (n *recordingNotifier) byType(eventType string) []notify.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notify.Event
	for _, e := range n.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (a *recordingAudit) Record(ctx context.Context, entry audit.Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return nil
}

type staticGuard struct{ allow bool }

func (g staticGuard) Allow(ctx context.Context, patientID uuid.UUID) (bool, error) {
	return g.allow, nil
}

type fixture struct {
	svc      *Service
	store    *MemoryStore
	notifier *recordingNotifier
	audit    *recordingAudit
	doctor   directory.DoctorRef
	p1, p2   directory.PatientRef
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := directory.NewInMemoryRepository()
	f := &fixture{
		store:    NewMemoryStore(),
		notifier: &recordingNotifier{},
		audit:    &recordingAudit{},
		doctor:   dir.AddDoctor(directory.DoctorRef{Name: "Gregory House", Specialization: "Diagnostics", Email: "house@example.com"}),
		p1:       dir.AddPatient(directory.PatientRef{Name: "Jane Doe", Email: "jane@example.com"}),
		p2:       dir.AddPatient(directory.PatientRef{Name: "John Roe", Email: "john@example.com", Phone: "+15550002222"}),
	}
	f.svc = NewService(f.store, f.store, nil).
		WithDirectory(dir).
		WithNotifier(f.notifier).
		WithAudit(f.audit).
		WithMetrics(metrics.NewSchedulingMetrics(prometheus.NewRegistry())).
		WithOptions(Options{MeetingBaseURL: "https://meet.example.org"})
	return f
}

func (f *fixture) declare(t *testing.T, date Date, start, end TimeOfDay) {
	t.Helper()
	_, err := f.svc.DeclareAvailability(context.Background(), f.doctor.ID, date, start, end)
	require.NoError(t, err)
}

func (f *fixture) book(patient uuid.UUID, start, end TimeOfDay) (*Commitment, error) {
	return f.svc.Book(context.Background(), BookingRequest{
		DoctorID:  f.doctor.ID,
		PatientID: patient,
		Date:      testDate,
		Start:     start,
		End:       end,
	})
}

func TestListAvailableSlotsFullDay(t *testing.T) {
	f := newFixture(t)
	f.declare(t, testDate, Clock(9, 0), Clock(17, 0))

	slots, err := f.svc.ListAvailableSlots(context.Background(), f.doctor.ID, testDate, SlotQuery{})
	require.NoError(t, err)
	require.Len(t, slots, 15)
	assert.Equal(t, Clock(9, 0), slots[0].Start)
	assert.Equal(t, Clock(16, 0), slots[14].Start)
	assert.Equal(t, Clock(17, 0), slots[14].End)

	again, err := f.svc.ListAvailableSlots(context.Background(), f.doctor.ID, testDate, SlotQuery{})
	require.NoError(t, err)
	assert.Equal(t, slots, again)
}

func TestListAvailableSlotsWithoutWindowIsEmpty(t *testing.T) {
	f := newFixture(t)
	slots, err := f.svc.ListAvailableSlots(context.Background(), f.doctor.ID, testDate, SlotQuery{})
	require.NoError(t, err)
	assert.NotNil(t, slots)
	assert.Empty(t, slots)
}

func TestListAvailableSlotsExcludesBooked(t *testing.T) {
	f := newFixture(t)
	f.declare(t, testDate, Clock(9, 0), Clock(17, 0))
	_, err := f.book(f.p1.ID, Clock(10, 0), Clock(11, 0))
	require.NoError(t, err)

	slots, err := f.svc.ListAvailableSlots(context.Background(), f.doctor.ID, testDate, SlotQuery{})
	require.NoError(t, err)
	starts := make(map[TimeOfDay]bool)
	for _, s := range slots {
		starts[s.Start] = true
	}
	assert.Len(t, slots, 12)
	assert.True(t, starts[Clock(9, 0)])
	assert.True(t, starts[Clock(11, 0)])
	assert.False(t, starts[Clock(9, 30)])
	assert.False(t, starts[Clock(10, 0)])
	assert.False(t, starts[Clock(10, 30)])

	free, err := f.svc.IsFree(context.Background(), f.doctor.ID, testDate, Clock(10, 30), Clock(11, 30))
	require.NoError(t, err)
	assert.False(t, free)
	free, err = f.svc.IsFree(context.Background(), f.doctor.ID, testDate, Clock(11, 0), Clock(12, 0))
	require.NoError(t, err)
	assert.True(t, free)
}

func TestListAvailableSlotsValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ListAvailableSlots(context.Background(), uuid.Nil, testDate, SlotQuery{})
	assert.True(t, errors.Is(err, ErrValidation))
	_, err = f.svc.ListAvailableSlots(context.Background(), f.doctor.ID, Date{}, SlotQuery{})
	assert.True(t, errors.Is(err, ErrValidation))
	_, err = f.svc.ListAvailableSlots(context.Background(), f.doctor.ID, testDate, SlotQuery{Step: -time.Minute})
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestIsFreeValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.IsFree(ctx, uuid.Nil, testDate, Clock(9, 0), Clock(10, 0))
	assert.True(t, errors.Is(err, ErrValidation))
	_, err = f.svc.IsFree(ctx, f.doctor.ID, Date{}, Clock(9, 0), Clock(10, 0))
	assert.True(t, errors.Is(err, ErrValidation))

	free, err := f.svc.IsFree(ctx, f.doctor.ID, testDate, Clock(11, 0), Clock(10, 0))
	assert.True(t, errors.Is(err, ErrValidation))
	assert.False(t, free)
	_, err = f.svc.IsFree(ctx, f.doctor.ID, testDate, Clock(10, 0), Clock(10, 0))
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestBookingScenario(t *testing.T) {
	f := newFixture(t)
	f.declare(t, testDate, Clock(9, 0), Clock(12, 0))

	first, err := f.book(f.p1.ID, Clock(10, 0), Clock(11, 0))
	require.NoError(t, err)
	assert.Equal(t, StatusPending, first.Status)
	assert.NotEqual(t, uuid.Nil, first.ID)

	_, err = f.book(f.p2.ID, Clock(10, 30), Clock(11, 30))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSlotUnavailable))
	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	require.Len(t, conflict.Conflicts, 1)
	assert.Equal(t, first.ID, conflict.Conflicts[0].ID)

	second, err := f.book(f.p2.ID, Clock(11, 0), Clock(12, 0))
	require.NoError(t, err)
	assert.Equal(t, StatusPending, second.Status)

	requested := f.notifier.byType(EventBookingRequested)
	require.Len(t, requested, 2)
	assert.Equal(t, "New Appointment Request from Jane Doe", requested[0].Subject)
	assert.Equal(t, "house@example.com", requested[0].Recipient.Email)
}

func TestBookOutsideAvailability(t *testing.T) {
	f := newFixture(t)

	_, err := f.book(f.p1.ID, Clock(10, 0), Clock(11, 0))
	assert.True(t, errors.Is(err, ErrNotFound), "no window on the date")

	f.declare(t, testDate, Clock(9, 0), Clock(12, 0))
	_, err = f.book(f.p1.ID, Clock(11, 30), Clock(12, 30))
	assert.True(t, errors.Is(err, ErrSlotUnavailable))
}

func TestBookValidatesAndResolvesParties(t *testing.T) {
	f := newFixture(t)
	f.declare(t, testDate, Clock(9, 0), Clock(12, 0))

	_, err := f.book(f.p1.ID, Clock(11, 0), Clock(10, 0))
	assert.True(t, errors.Is(err, ErrValidation))

	_, err = f.book(uuid.New(), Clock(9, 0), Clock(10, 0))
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestBookRateLimited(t *testing.T) {
	f := newFixture(t)
	f.declare(t, testDate, Clock(9, 0), Clock(12, 0))
	f.svc.WithGuard(staticGuard{allow: false})

	_, err := f.book(f.p1.ID, Clock(9, 0), Clock(10, 0))
	assert.True(t, errors.Is(err, ErrRateLimited))
}

func TestConcurrentIdenticalBookings(t *testing.T) {
	f := newFixture(t)
	f.declare(t, testDate, Clock(9, 0), Clock(12, 0))

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			patient := f.p1.ID
			if i%2 == 1 {
				patient = f.p2.ID
			}
			_, errs[i] = f.book(patient, Clock(10, 0), Clock(11, 0))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, errors.Is(err, ErrSlotUnavailable))
	}
	assert.Equal(t, 1, succeeded)

	list, err := f.svc.CommitmentsForDoctor(context.Background(), f.doctor.ID, testDate)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestCommitmentsNeverOverlap(t *testing.T) {
	f := newFixture(t)
	f.declare(t, testDate, Clock(8, 0), Clock(18, 0))

	starts := []TimeOfDay{Clock(8, 0), Clock(8, 30), Clock(9, 15), Clock(10, 0), Clock(9, 45), Clock(12, 0), Clock(12, 30), Clock(16, 0)}
	var wg sync.WaitGroup
	for i, s := range starts {
		wg.Add(1)
		go func(i int, s TimeOfDay) {
			defer wg.Done()
			patient := f.p1.ID
			if i%2 == 1 {
				patient = f.p2.ID
			}
			_, _ = f.book(patient, s, s.Add(time.Hour))
		}(i, s)
	}
	wg.Wait()

	list, err := f.svc.CommitmentsForDoctor(context.Background(), f.doctor.ID, testDate)
	require.NoError(t, err)
	require.NotEmpty(t, list)
	for i := range list {
		for j := i + 1; j < len(list); j++ {
			assert.False(t, list[i].Interval().Overlaps(list[j].Interval()), "%s overlaps %s", list[i].Start, list[j].Start)
		}
	}
}

func TestFailedInsertLeavesNothingBehind(t *testing.T) {
	f := newFixture(t)
	f.declare(t, testDate, Clock(9, 0), Clock(12, 0))
	f.store.insertHook = func(Commitment) error { return errors.New("disk full") }

	_, err := f.book(f.p1.ID, Clock(10, 0), Clock(11, 0))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransactionFailed))

	iv := Interval{Start: testDate.At(Clock(9, 0), time.UTC), End: testDate.At(Clock(12, 0), time.UTC)}
	hits, err := f.store.FindOverlapping(context.Background(), f.doctor.ID, iv, uuid.Nil)
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.Empty(t, f.notifier.byType(EventBookingRequested))

	f.store.insertHook = nil
	_, err = f.book(f.p1.ID, Clock(10, 0), Clock(11, 0))
	require.NoError(t, err)
}

func TestUpdateStatusFlow(t *testing.T) {
	f := newFixture(t)
	f.declare(t, testDate, Clock(9, 0), Clock(12, 0))
	c, err := f.book(f.p1.ID, Clock(10, 0), Clock(11, 0))
	require.NoError(t, err)

	accepted, err := f.svc.UpdateStatus(context.Background(), KindAppointment, c.ID, StatusAccepted)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, accepted.Status)

	changed := f.notifier.byType(EventStatusChanged)
	require.Len(t, changed, 1)
	assert.Equal(t, "Your Appointment Has Been Accepted", changed[0].Subject)
	assert.Equal(t, "jane@example.com", changed[0].Recipient.Email)

	_, err = f.svc.UpdateStatus(context.Background(), KindAppointment, c.ID, StatusPending)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	done, err := f.svc.UpdateStatus(context.Background(), KindAppointment, c.ID, StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	assert.Len(t, f.notifier.byType(EventStatusChanged), 1, "completion does not notify")

	_, err = f.svc.UpdateStatus(context.Background(), KindAppointment, uuid.New(), StatusAccepted)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestCancelledAppointmentFreesTime(t *testing.T) {
	f := newFixture(t)
	f.declare(t, testDate, Clock(9, 0), Clock(12, 0))
	c, err := f.book(f.p1.ID, Clock(10, 0), Clock(11, 0))
	require.NoError(t, err)

	_, err = f.svc.UpdateStatus(context.Background(), KindAppointment, c.ID, StatusCancelled)
	require.NoError(t, err)

	_, err = f.book(f.p2.ID, Clock(10, 0), Clock(11, 0))
	require.NoError(t, err)
}

func TestVideoCallLifecycle(t *testing.T) {
	f := newFixture(t)
	f.declare(t, testDate, Clock(9, 0), Clock(12, 0))

	call, err := f.svc.BookVideoCall(context.Background(), VideoCallRequest{
		DoctorID:  f.doctor.ID,
		PatientID: f.p2.ID,
		Date:      testDate,
		Start:     Clock(9, 0),
	})
	require.NoError(t, err)
	assert.Equal(t, KindVideoCall, call.Kind)
	assert.Equal(t, Clock(10, 0), call.End)
	assert.Empty(t, call.MeetingLink)

	_, err = f.book(f.p1.ID, Clock(9, 30), Clock(10, 30))
	assert.True(t, errors.Is(err, ErrSlotUnavailable), "video calls and appointments share the doctor's time")

	accepted, err := f.svc.UpdateStatus(context.Background(), KindVideoCall, call.ID, StatusAccepted)
	require.NoError(t, err)
	assert.Regexp(t, `^https://meet\.example\.org/Meet-[0-9a-f]{12}$`, accepted.MeetingLink)

	confirmed := f.notifier.byType(EventVideoCallConfirmed)
	require.Len(t, confirmed, 2)
	recipients := []string{confirmed[0].Recipient.Email, confirmed[1].Recipient.Email}
	assert.ElementsMatch(t, []string{"john@example.com", "house@example.com"}, recipients)
	assert.Contains(t, confirmed[0].Body, accepted.MeetingLink)

	stored, err := f.svc.Commitment(context.Background(), KindVideoCall, call.ID)
	require.NoError(t, err)
	assert.Equal(t, accepted.MeetingLink, stored.MeetingLink)

	_, err = f.svc.UpdateStatus(context.Background(), KindVideoCall, call.ID, StatusCompleted)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	_, err = f.svc.Commitment(context.Background(), KindAppointment, call.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListVideoCallSlotsUsesOneHour(t *testing.T) {
	f := newFixture(t)
	f.declare(t, testDate, Clock(9, 0), Clock(11, 0))
	slots, err := f.svc.ListVideoCallSlots(context.Background(), f.doctor.ID, testDate)
	require.NoError(t, err)
	require.Len(t, slots, 3)
	for _, s := range slots {
		assert.Equal(t, time.Hour, s.EndsAt.Sub(s.StartsAt))
	}
}

func TestReschedule(t *testing.T) {
	f := newFixture(t)
	next := testDate.AddDays(1)
	f.declare(t, testDate, Clock(9, 0), Clock(12, 0))
	f.declare(t, next, Clock(9, 0), Clock(12, 0))

	c, err := f.book(f.p1.ID, Clock(10, 0), Clock(11, 0))
	require.NoError(t, err)

	moved, err := f.svc.Reschedule(context.Background(), c.ID, next)
	require.NoError(t, err)
	assert.Equal(t, next, moved.Date)
	assert.Equal(t, Clock(10, 0), moved.Start)
	assert.Equal(t, StatusPending, moved.Status)
	require.Len(t, f.notifier.byType(EventRescheduled), 1)

	_, err = f.svc.Reschedule(context.Background(), c.ID, next)
	require.NoError(t, err, "moving onto its own slot does not conflict with itself")

	_, err = f.book(f.p2.ID, Clock(10, 0), Clock(11, 0))
	require.NoError(t, err, "old date is free again")

	_, err = f.svc.Reschedule(context.Background(), c.ID, testDate)
	assert.True(t, errors.Is(err, ErrSlotUnavailable))

	_, err = f.svc.UpdateStatus(context.Background(), KindAppointment, c.ID, StatusRejected)
	require.NoError(t, err)
	_, err = f.svc.Reschedule(context.Background(), c.ID, testDate.AddDays(5))
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestNotificationFailureDoesNotFailBooking(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("smtp down")
	f.declare(t, testDate, Clock(9, 0), Clock(12, 0))

	c, err := f.book(f.p1.ID, Clock(10, 0), Clock(11, 0))
	require.NoError(t, err)
	assert.Equal(t, StatusPending, c.Status)
}

func TestAuditTrailUsesSessionActor(t *testing.T) {
	f := newFixture(t)
	ctx := session.NewContext(context.Background(), session.Session{UserID: f.doctor.ID, Role: session.RoleDoctor})

	_, err := f.svc.DeclareAvailability(ctx, f.doctor.ID, testDate, Clock(9, 0), Clock(12, 0))
	require.NoError(t, err)

	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, audit.ActionAvailabilitySet, f.audit.entries[0].Action)
	assert.Equal(t, "doctor:"+f.doctor.ID.String(), f.audit.entries[0].Actor)
}

func TestDeclareAvailabilityReplacesWindow(t *testing.T) {
	f := newFixture(t)
	f.declare(t, testDate, Clock(9, 0), Clock(12, 0))
	f.declare(t, testDate, Clock(13, 0), Clock(15, 0))

	windows, err := f.svc.Availability(context.Background(), f.doctor.ID, testDate, testDate.AddDays(6))
	require.NoError(t, err)
	require.Len(t, windows, 1)
	assert.Equal(t, Clock(13, 0), windows[0].Start)

	_, err = f.svc.DeclareAvailability(context.Background(), f.doctor.ID, testDate, Clock(15, 0), Clock(13, 0))
	assert.True(t, errors.Is(err, ErrValidation))

	_, err = f.svc.DeclareAvailability(context.Background(), uuid.New(), testDate, Clock(9, 0), Clock(10, 0))
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = f.svc.Availability(context.Background(), f.doctor.ID, testDate, testDate.AddDays(-1))
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestCommitmentsForPatient(t *testing.T) {
	f := newFixture(t)
	f.declare(t, testDate, Clock(9, 0), Clock(12, 0))
	_, err := f.book(f.p1.ID, Clock(11, 0), Clock(12, 0))
	require.NoError(t, err)
	_, err = f.book(f.p1.ID, Clock(9, 0), Clock(10, 0))
	require.NoError(t, err)

	list, err := f.svc.CommitmentsForPatient(context.Background(), f.p1.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, Clock(9, 0), list[0].Start)

	empty, err := f.svc.CommitmentsForPatient(context.Background(), f.p2.ID)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}
