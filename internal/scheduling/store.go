package scheduling

import (
	"context"

	"github.com/google/uuid"
)

// AvailabilityStore holds doctor-declared windows.
type AvailabilityStore interface {
	Windows(ctx context.Context, doctorID uuid.UUID, date Date) ([]AvailabilityWindow, error)
	WindowsBetween(ctx context.Context, doctorID uuid.UUID, from, to Date) ([]AvailabilityWindow, error)
	// UpsertWindow replaces the window for (doctor, date) when one exists.
	UpsertWindow(ctx context.Context, w AvailabilityWindow) (AvailabilityWindow, error)
}

// CommitmentStore holds both commitment variants.
type CommitmentStore interface {
	// WithDoctorLock runs fn while holding the doctor's lock for every listed
	// date. Writes made through tx are committed only when fn returns nil.
	WithDoctorLock(ctx context.Context, doctorID uuid.UUID, dates []Date, fn func(tx CommitmentTx) error) error
	FindOverlapping(ctx context.Context, doctorID uuid.UUID, iv Interval, exclude uuid.UUID) ([]Commitment, error)
	Get(ctx context.Context, kind Kind, id uuid.UUID) (*Commitment, error)
	// UpdateStatus moves a commitment from one status to another and fails
	// with ErrInvalidTransition when the stored status is no longer from.
	UpdateStatus(ctx context.Context, kind Kind, id uuid.UUID, from, to Status, meetingLink string) error
	ListForDoctor(ctx context.Context, doctorID uuid.UUID, date Date) ([]Commitment, error)
	ListForPatient(ctx context.Context, patientID uuid.UUID) ([]Commitment, error)
}

// CommitmentTx is the write scope handed to WithDoctorLock callbacks.
type CommitmentTx interface {
	FindOverlapping(ctx context.Context, doctorID uuid.UUID, iv Interval, exclude uuid.UUID) ([]Commitment, error)
	// Insert stores c and fills in its ID and CreatedAt.
	Insert(ctx context.Context, c *Commitment) error
	Reschedule(ctx context.Context, id uuid.UUID, date Date, iv Interval) error
}
