package scheduling

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// VideoCallDuration is the fixed length of every video call.
const VideoCallDuration = time.Hour

// Kind distinguishes the two commitment variants that share a doctor's time axis.
type Kind string

const (
	KindAppointment Kind = "appointment"
	KindVideoCall   Kind = "video_call"
)

func (k Kind) Valid() bool {
	return k == KindAppointment || k == KindVideoCall
}

// Status is the lifecycle state of a commitment.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// ParseStatus is case-insensitive so "Pending" and "PENDING" both parse.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case StatusPending, StatusAccepted, StatusRejected, StatusCancelled, StatusCompleted:
		return st, nil
	}
	return "", &ValidationError{Field: "status", Reason: "unknown status " + s}
}

// Blocking reports whether a commitment in this status occupies its interval.
func (s Status) Blocking() bool {
	return s != StatusCancelled && s != StatusRejected
}

// AvailabilityWindow is a doctor-declared open interval on one calendar date.
type AvailabilityWindow struct {
	ID        uuid.UUID `json:"id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	Date      Date      `json:"date"`
	Start     TimeOfDay `json:"start"`
	End       TimeOfDay `json:"end"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

func (w AvailabilityWindow) Validate() error {
	if w.DoctorID == uuid.Nil {
		return &ValidationError{Field: "doctor_id", Reason: "required"}
	}
	if w.Date.IsZero() {
		return &ValidationError{Field: "date", Reason: "required"}
	}
	if w.Start < 0 || w.End > EndOfDay {
		return &ValidationError{Field: "window", Reason: "must lie within the day"}
	}
	if w.Start >= w.End {
		return &ValidationError{Field: "window", Reason: "start must be before end"}
	}
	return nil
}

// Contains reports whether [start, end) lies inside the window.
func (w AvailabilityWindow) Contains(start, end TimeOfDay) bool {
	return w.Start <= start && end <= w.End
}

// Commitment is a standard appointment or a video call reserving doctor time.
type Commitment struct {
	ID          uuid.UUID `json:"id"`
	Kind        Kind      `json:"kind"`
	DoctorID    uuid.UUID `json:"doctor_id"`
	PatientID   uuid.UUID `json:"patient_id"`
	Date        Date      `json:"date"`
	Start       TimeOfDay `json:"start"`
	End         TimeOfDay `json:"end"`
	StartsAt    time.Time `json:"starts_at"`
	EndsAt      time.Time `json:"ends_at"`
	Status      Status    `json:"status"`
	MeetingLink string    `json:"meeting_link,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func (c Commitment) Interval() Interval {
	return Interval{Start: c.StartsAt, End: c.EndsAt}
}

// Slot is a derived candidate interval; it is never stored.
type Slot struct {
	DoctorID uuid.UUID `json:"doctor_id"`
	Date     Date      `json:"date"`
	Start    TimeOfDay `json:"start"`
	End      TimeOfDay `json:"end"`
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
}

// SlotQuery tunes slot generation; zero values fall back to service defaults.
type SlotQuery struct {
	Duration time.Duration
	Step     time.Duration
}

// BookingRequest asks for a standard appointment.
type BookingRequest struct {
	DoctorID  uuid.UUID `json:"doctor_id"`
	PatientID uuid.UUID `json:"patient_id"`
	Date      Date      `json:"date"`
	Start     TimeOfDay `json:"start"`
	End       TimeOfDay `json:"end"`
}

func (r BookingRequest) Validate() error {
	if err := validateParties(r.DoctorID, r.PatientID, r.Date); err != nil {
		return err
	}
	return validateTimeRange(r.Start, r.End)
}

func validateTimeRange(start, end TimeOfDay) error {
	if start < 0 || end > EndOfDay {
		return &ValidationError{Field: "time", Reason: "must lie within the day"}
	}
	if start >= end {
		return &ValidationError{Field: "time", Reason: "start must be before end"}
	}
	return nil
}

// VideoCallRequest asks for a one-hour video call starting at Start.
type VideoCallRequest struct {
	DoctorID  uuid.UUID `json:"doctor_id"`
	PatientID uuid.UUID `json:"patient_id"`
	Date      Date      `json:"date"`
	Start     TimeOfDay `json:"start"`
}

func (r VideoCallRequest) Validate() error {
	if err := validateParties(r.DoctorID, r.PatientID, r.Date); err != nil {
		return err
	}
	if r.Start < 0 || r.Start >= EndOfDay {
		return &ValidationError{Field: "start", Reason: "must lie within the day"}
	}
	return nil
}

func validateParties(doctorID, patientID uuid.UUID, date Date) error {
	switch {
	case doctorID == uuid.Nil:
		return &ValidationError{Field: "doctor_id", Reason: "required"}
	case patientID == uuid.Nil:
		return &ValidationError{Field: "patient_id", Reason: "required"}
	case date.IsZero():
		return &ValidationError{Field: "date", Reason: "required"}
	}
	return nil
}
