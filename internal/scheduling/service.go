package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/hospital-scheduling/internal/audit"
	"github.com/wolfman30/hospital-scheduling/internal/directory"
	"github.com/wolfman30/hospital-scheduling/internal/notify"
	"github.com/wolfman30/hospital-scheduling/internal/observability/metrics"
	"github.com/wolfman30/hospital-scheduling/internal/session"
	"github.com/wolfman30/hospital-scheduling/pkg/logging"
)

var tracer = otel.Tracer("hospital.internal.scheduling")

// Directory resolves the parties of a booking.
type Directory interface {
	Doctor(ctx context.Context, id uuid.UUID) (directory.DoctorRef, error)
	Patient(ctx context.Context, id uuid.UUID) (directory.PatientRef, error)
}

// AuditRecorder writes to the system log.
type AuditRecorder interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// AttemptGuard limits booking attempts per patient.
type AttemptGuard interface {
	Allow(ctx context.Context, patientID uuid.UUID) (bool, error)
}

// Options configures slot defaults, the hospital clock and meeting links.
type Options struct {
	Location       *time.Location
	Step           time.Duration
	Duration       time.Duration
	MeetingBaseURL string
}

// Service is the availability and booking engine.
type Service struct {
	availability AvailabilityStore
	commitments  CommitmentStore
	directory    Directory
	notifier     Notifier
	audit        AuditRecorder
	guard        AttemptGuard
	metrics      *metrics.SchedulingMetrics
	logger       *logging.Logger
	opts         Options
}

// NewService wires the engine to its stores.
func NewService(availability AvailabilityStore, commitments CommitmentStore, logger *logging.Logger) *Service {
	if availability == nil || commitments == nil {
		panic("scheduling: availability and commitment stores required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		availability: availability,
		commitments:  commitments,
		logger:       logger,
		opts: Options{
			Location:       time.UTC,
			Step:           DefaultStep,
			Duration:       DefaultDuration,
			MeetingBaseURL: "https://meet.jit.si/",
		},
	}
}

func (s *Service) WithOptions(opts Options) *Service {
	if opts.Location != nil {
		s.opts.Location = opts.Location
	}
	if opts.Step > 0 {
		s.opts.Step = opts.Step
	}
	if opts.Duration > 0 {
		s.opts.Duration = opts.Duration
	}
	if opts.MeetingBaseURL != "" {
		s.opts.MeetingBaseURL = opts.MeetingBaseURL
	}
	return s
}

func (s *Service) WithDirectory(d Directory) *Service {
	s.directory = d
	return s
}

func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

func (s *Service) WithAudit(a AuditRecorder) *Service {
	s.audit = a
	return s
}

func (s *Service) WithGuard(g AttemptGuard) *Service {
	s.guard = g
	return s
}

func (s *Service) WithMetrics(m *metrics.SchedulingMetrics) *Service {
	s.metrics = m
	return s
}

// Location is the hospital clock used to turn dates and times into instants.
func (s *Service) Location() *time.Location {
	return s.opts.Location
}

// ListAvailableSlots computes the free slots of a doctor on a date. A date
// without declared availability yields an empty list.
func (s *Service) ListAvailableSlots(ctx context.Context, doctorID uuid.UUID, date Date, q SlotQuery) ([]Slot, error) {
	ctx, span := tracer.Start(ctx, "scheduling.list_slots")
	defer span.End()
	span.SetAttributes(
		attribute.String("hospital.doctor_id", doctorID.String()),
		attribute.String("hospital.date", date.String()),
	)
	started := time.Now()
	defer func() { s.metrics.ObserveSlotQuery(time.Since(started)) }()

	if doctorID == uuid.Nil {
		return nil, &ValidationError{Field: "doctor_id", Reason: "required"}
	}
	if date.IsZero() {
		return nil, &ValidationError{Field: "date", Reason: "required"}
	}
	if q.Step == 0 {
		q.Step = s.opts.Step
	}
	if q.Duration == 0 {
		q.Duration = s.opts.Duration
	}
	if q.Step < 0 {
		return nil, &ValidationError{Field: "step", Reason: "must be positive"}
	}
	if q.Duration < 0 {
		return nil, &ValidationError{Field: "duration", Reason: "must be positive"}
	}

	windows, err := s.availability.Windows(ctx, doctorID, date)
	if err != nil {
		span.RecordError(err)
		return nil, classify("load windows", err)
	}
	if len(windows) == 0 {
		return []Slot{}, nil
	}
	taken, err := s.commitments.FindOverlapping(ctx, doctorID, s.span(date, windows), uuid.Nil)
	if err != nil {
		span.RecordError(err)
		return nil, classify("load commitments", err)
	}
	slots, err := freeSlots(date, windows, taken, q, s.opts.Location)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("hospital.slots", len(slots)))
	return slots, nil
}

// ListVideoCallSlots is ListAvailableSlots with the fixed video call length.
func (s *Service) ListVideoCallSlots(ctx context.Context, doctorID uuid.UUID, date Date) ([]Slot, error) {
	return s.ListAvailableSlots(ctx, doctorID, date, SlotQuery{Duration: VideoCallDuration})
}

// IsFree reports whether [start, end) on date is clear of blocking commitments.
func (s *Service) IsFree(ctx context.Context, doctorID uuid.UUID, date Date, start, end TimeOfDay) (bool, error) {
	switch {
	case doctorID == uuid.Nil:
		return false, &ValidationError{Field: "doctor_id", Reason: "required"}
	case date.IsZero():
		return false, &ValidationError{Field: "date", Reason: "required"}
	}
	if err := validateTimeRange(start, end); err != nil {
		return false, err
	}
	iv := Interval{Start: date.At(start, s.opts.Location), End: date.At(end, s.opts.Location)}
	err := checkFree(ctx, s.commitments, doctorID, iv, uuid.Nil)
	if errors.Is(err, ErrSlotUnavailable) {
		return false, nil
	}
	if err != nil {
		return false, classify("check conflicts", err)
	}
	return true, nil
}

// span covers every window of the day so one query loads all relevant commitments.
func (s *Service) span(date Date, windows []AvailabilityWindow) Interval {
	lo, hi := windows[0].Start, windows[0].End
	for _, w := range windows[1:] {
		if w.Start < lo {
			lo = w.Start
		}
		if w.End > hi {
			hi = w.End
		}
	}
	return Interval{Start: date.At(lo, s.opts.Location), End: date.At(hi, s.opts.Location)}
}

// Book reserves a standard appointment with status pending.
func (s *Service) Book(ctx context.Context, req BookingRequest) (*Commitment, error) {
	if err := req.Validate(); err != nil {
		s.metrics.ObserveBooking(string(KindAppointment), outcomeOf(err))
		return nil, err
	}
	c := Commitment{
		Kind:      KindAppointment,
		DoctorID:  req.DoctorID,
		PatientID: req.PatientID,
		Date:      req.Date,
		Start:     req.Start,
		End:       req.End,
		StartsAt:  req.Date.At(req.Start, s.opts.Location),
		EndsAt:    req.Date.At(req.End, s.opts.Location),
		Status:    StatusPending,
	}
	return s.reserve(ctx, c)
}

// BookVideoCall reserves a one-hour video call with status pending.
func (s *Service) BookVideoCall(ctx context.Context, req VideoCallRequest) (*Commitment, error) {
	if err := req.Validate(); err != nil {
		s.metrics.ObserveBooking(string(KindVideoCall), outcomeOf(err))
		return nil, err
	}
	startsAt := req.Date.At(req.Start, s.opts.Location)
	c := Commitment{
		Kind:      KindVideoCall,
		DoctorID:  req.DoctorID,
		PatientID: req.PatientID,
		Date:      req.Date,
		Start:     req.Start,
		End:       req.Start.Add(VideoCallDuration),
		StartsAt:  startsAt,
		EndsAt:    startsAt.Add(VideoCallDuration),
		Status:    StatusPending,
	}
	return s.reserve(ctx, c)
}

func (s *Service) reserve(ctx context.Context, c Commitment) (*Commitment, error) {
	ctx, span := tracer.Start(ctx, "scheduling.book")
	defer span.End()
	span.SetAttributes(
		attribute.String("hospital.kind", string(c.Kind)),
		attribute.String("hospital.doctor_id", c.DoctorID.String()),
		attribute.String("hospital.patient_id", c.PatientID.String()),
		attribute.String("hospital.date", c.Date.String()),
	)

	booked, doctor, patient, err := s.reserveLocked(ctx, c)
	s.metrics.ObserveBooking(string(c.Kind), outcomeOf(err))
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, ErrTransactionFailed) {
			s.logger.Error("booking failed", "error", err, "kind", c.Kind, "doctor_id", c.DoctorID, "patient_id", c.PatientID)
		} else {
			s.logger.Info("booking rejected", "reason", err.Error(), "kind", c.Kind, "doctor_id", c.DoctorID, "patient_id", c.PatientID)
		}
		return nil, err
	}
	span.SetAttributes(attribute.String("hospital.commitment_id", booked.ID.String()))
	s.logger.Info("commitment booked",
		"commitment_id", booked.ID,
		"kind", booked.Kind,
		"doctor_id", booked.DoctorID,
		"patient_id", booked.PatientID,
		"starts_at", booked.StartsAt,
	)

	s.record(ctx, audit.ActionBookingCreated, fmt.Sprintf("%s %s booked for doctor %s by patient %s", booked.Kind, booked.ID, booked.DoctorID, booked.PatientID))
	s.notify(ctx, bookingRequestedEvent(*booked, doctor, patient))
	return booked, nil
}

func (s *Service) reserveLocked(ctx context.Context, c Commitment) (*Commitment, directory.DoctorRef, directory.PatientRef, error) {
	var doctor directory.DoctorRef
	var patient directory.PatientRef

	if s.guard != nil {
		allowed, err := s.guard.Allow(ctx, c.PatientID)
		if err != nil {
			return nil, doctor, patient, classify("attempt guard", err)
		}
		if !allowed {
			return nil, doctor, patient, ErrRateLimited
		}
	}

	doctor, patient, err := s.parties(ctx, c.DoctorID, c.PatientID)
	if err != nil {
		return nil, doctor, patient, err
	}
	if err := s.withinAvailability(ctx, c); err != nil {
		return nil, doctor, patient, err
	}

	iv := c.Interval()
	err = s.commitments.WithDoctorLock(ctx, c.DoctorID, iv.Dates(s.opts.Location), func(tx CommitmentTx) error {
		if err := checkFree(ctx, tx, c.DoctorID, iv, uuid.Nil); err != nil {
			return err
		}
		return tx.Insert(ctx, &c)
	})
	if err != nil {
		return nil, doctor, patient, classify("book", err)
	}
	return &c, doctor, patient, nil
}

// withinAvailability requires a window on the date that fully contains the commitment.
func (s *Service) withinAvailability(ctx context.Context, c Commitment) error {
	windows, err := s.availability.Windows(ctx, c.DoctorID, c.Date)
	if err != nil {
		return classify("load windows", err)
	}
	if len(windows) == 0 {
		return fmt.Errorf("%w: no availability for doctor %s on %s", ErrNotFound, c.DoctorID, c.Date)
	}
	for _, w := range windows {
		if w.Contains(c.Start, c.End) {
			return nil
		}
	}
	return &ConflictError{Reason: fmt.Sprintf("%s-%s is outside the doctor's availability", c.Start, c.End)}
}

func (s *Service) parties(ctx context.Context, doctorID, patientID uuid.UUID) (directory.DoctorRef, directory.PatientRef, error) {
	doctor := directory.DoctorRef{ID: doctorID}
	patient := directory.PatientRef{ID: patientID}
	if s.directory == nil {
		return doctor, patient, nil
	}
	var err error
	if doctor, err = s.directory.Doctor(ctx, doctorID); err != nil {
		return doctor, patient, lookupError("doctor", doctorID, err)
	}
	if patientID == uuid.Nil {
		return doctor, patient, nil
	}
	if patient, err = s.directory.Patient(ctx, patientID); err != nil {
		return doctor, patient, lookupError("patient", patientID, err)
	}
	return doctor, patient, nil
}

func lookupError(what string, id uuid.UUID, err error) error {
	if errors.Is(err, directory.ErrNotFound) {
		return notFound(what, id)
	}
	return classify("lookup "+what, err)
}

// Commitment loads one commitment.
func (s *Service) Commitment(ctx context.Context, kind Kind, id uuid.UUID) (*Commitment, error) {
	if !kind.Valid() {
		return nil, &ValidationError{Field: "kind", Reason: "unknown commitment kind"}
	}
	c, err := s.commitments.Get(ctx, kind, id)
	if err != nil {
		return nil, classify("load commitment", err)
	}
	return c, nil
}

// UpdateStatus applies a state machine transition and notifies the affected parties.
func (s *Service) UpdateStatus(ctx context.Context, kind Kind, id uuid.UUID, to Status) (*Commitment, error) {
	ctx, span := tracer.Start(ctx, "scheduling.update_status")
	defer span.End()
	span.SetAttributes(
		attribute.String("hospital.kind", string(kind)),
		attribute.String("hospital.commitment_id", id.String()),
		attribute.String("hospital.status", string(to)),
	)

	c, err := s.Commitment(ctx, kind, id)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := checkTransition(kind, c.Status, to); err != nil {
		return nil, err
	}
	link := ""
	if kind == KindVideoCall && to == StatusAccepted {
		link = s.meetingLink(c.ID)
	}
	if err := s.commitments.UpdateStatus(ctx, kind, id, c.Status, to, link); err != nil {
		span.RecordError(err)
		return nil, classify("update status", err)
	}
	from := c.Status
	c.Status = to
	if link != "" {
		c.MeetingLink = link
	}
	s.metrics.ObserveStatusChange(string(kind), string(to))
	s.logger.Info("commitment status changed", "commitment_id", id, "kind", kind, "from", from, "to", to)
	s.record(ctx, audit.ActionStatusChanged, fmt.Sprintf("%s %s moved from %s to %s", kind, id, from, to))

	if to == StatusCompleted {
		return c, nil
	}
	doctor, patient, err := s.parties(ctx, c.DoctorID, c.PatientID)
	if err != nil {
		s.logger.Warn("notification skipped", "error", err, "commitment_id", id)
		return c, nil
	}
	if link != "" {
		for _, evt := range videoCallConfirmedEvents(*c, doctor, patient) {
			s.notify(ctx, evt)
		}
		return c, nil
	}
	s.notify(ctx, statusChangedEvent(*c, patient))
	return c, nil
}

// Reschedule moves a pending or accepted standard appointment to another
// date, keeping its times and status. The new date is checked for conflicts.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, newDate Date) (*Commitment, error) {
	ctx, span := tracer.Start(ctx, "scheduling.reschedule")
	defer span.End()
	span.SetAttributes(attribute.String("hospital.commitment_id", id.String()))

	if newDate.IsZero() {
		return nil, &ValidationError{Field: "date", Reason: "required"}
	}
	c, err := s.Commitment(ctx, KindAppointment, id)
	if err != nil {
		return nil, err
	}
	if !reschedulable(c.Status) {
		return nil, fmt.Errorf("%w: appointment %s is %s", ErrInvalidTransition, id, c.Status)
	}

	moved := *c
	moved.Date = newDate
	moved.StartsAt = newDate.At(c.Start, s.opts.Location)
	moved.EndsAt = newDate.At(c.End, s.opts.Location)
	iv := moved.Interval()

	err = s.commitments.WithDoctorLock(ctx, c.DoctorID, iv.Dates(s.opts.Location), func(tx CommitmentTx) error {
		if err := checkFree(ctx, tx, c.DoctorID, iv, c.ID); err != nil {
			return err
		}
		return tx.Reschedule(ctx, c.ID, newDate, iv)
	})
	if err != nil {
		span.RecordError(err)
		return nil, classify("reschedule", err)
	}
	s.logger.Info("appointment rescheduled", "commitment_id", id, "from", c.Date, "to", newDate)
	s.record(ctx, audit.ActionRescheduled, fmt.Sprintf("appointment %s moved from %s to %s", id, c.Date, newDate))

	if _, patient, err := s.parties(ctx, c.DoctorID, c.PatientID); err == nil {
		s.notify(ctx, rescheduledEvent(moved, patient))
	}
	return &moved, nil
}

// DeclareAvailability upserts the doctor's window for a date.
func (s *Service) DeclareAvailability(ctx context.Context, doctorID uuid.UUID, date Date, start, end TimeOfDay) (AvailabilityWindow, error) {
	w := AvailabilityWindow{DoctorID: doctorID, Date: date, Start: start, End: end}
	if err := w.Validate(); err != nil {
		return AvailabilityWindow{}, err
	}
	if _, _, err := s.parties(ctx, doctorID, uuid.Nil); err != nil {
		return AvailabilityWindow{}, err
	}
	saved, err := s.availability.UpsertWindow(ctx, w)
	if err != nil {
		return AvailabilityWindow{}, classify("upsert window", err)
	}
	s.logger.Info("availability declared", "doctor_id", doctorID, "date", date, "start", start, "end", end)
	s.record(ctx, audit.ActionAvailabilitySet, fmt.Sprintf("doctor %s available on %s from %s to %s", doctorID, date, start, end))
	return saved, nil
}

// Availability lists the declared windows of a doctor between two dates inclusive.
func (s *Service) Availability(ctx context.Context, doctorID uuid.UUID, from, to Date) ([]AvailabilityWindow, error) {
	if from.IsZero() || to.IsZero() {
		return nil, &ValidationError{Field: "range", Reason: "from and to are required"}
	}
	if to.Before(from) {
		return nil, &ValidationError{Field: "range", Reason: "to is before from"}
	}
	windows, err := s.availability.WindowsBetween(ctx, doctorID, from, to)
	if err != nil {
		return nil, classify("list windows", err)
	}
	if windows == nil {
		windows = []AvailabilityWindow{}
	}
	return windows, nil
}

func (s *Service) CommitmentsForDoctor(ctx context.Context, doctorID uuid.UUID, date Date) ([]Commitment, error) {
	if date.IsZero() {
		return nil, &ValidationError{Field: "date", Reason: "required"}
	}
	out, err := s.commitments.ListForDoctor(ctx, doctorID, date)
	if err != nil {
		return nil, classify("list doctor commitments", err)
	}
	if out == nil {
		out = []Commitment{}
	}
	return out, nil
}

func (s *Service) CommitmentsForPatient(ctx context.Context, patientID uuid.UUID) ([]Commitment, error) {
	out, err := s.commitments.ListForPatient(ctx, patientID)
	if err != nil {
		return nil, classify("list patient commitments", err)
	}
	if out == nil {
		out = []Commitment{}
	}
	return out, nil
}

func (s *Service) meetingLink(id uuid.UUID) string {
	base := s.opts.MeetingBaseURL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	token := strings.ReplaceAll(id.String(), "-", "")
	return base + "Meet-" + token[:12]
}

// notify is best-effort: failures are logged and counted, never returned.
func (s *Service) notify(ctx context.Context, evt notify.Event) {
	if s.notifier == nil {
		return
	}
	if evt.Recipient.Email == "" && evt.Recipient.Phone == "" {
		s.metrics.ObserveNotification("skipped")
		return
	}
	if err := s.notifier.Notify(ctx, evt); err != nil {
		trace.SpanFromContext(ctx).RecordError(err)
		s.metrics.ObserveNotification("failed")
		s.logger.Warn("notification failed", "error", err, "type", evt.Type, "recipient", evt.Recipient.Email)
		return
	}
	s.metrics.ObserveNotification("sent")
}

// record is best-effort like notify.
func (s *Service) record(ctx context.Context, action, description string) {
	if s.audit == nil {
		return
	}
	entry := audit.Entry{Actor: actorFrom(ctx), Action: action, Description: description}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Warn("system log write failed", "error", err, "action", action)
	}
}

func actorFrom(ctx context.Context) string {
	if sess, ok := session.FromContext(ctx); ok {
		return sess.Actor()
	}
	return "system"
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "booked"
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, ErrSlotUnavailable):
		return "unavailable"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	default:
		return "failed"
	}
}
