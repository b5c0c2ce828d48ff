// Package prescriptions records the medicines doctors prescribe to patients.
package prescriptions

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalid marks a malformed prescription.
var ErrInvalid = errors.New("prescriptions: invalid input")

// StatusActive is the only status a new prescription gets.
const StatusActive = "active"

// Prescription is one medicine issued by a doctor.
type Prescription struct {
	ID           uuid.UUID `json:"id"`
	PatientID    uuid.UUID `json:"patient_id"`
	DoctorID     uuid.UUID `json:"doctor_id"`
	Medicine     string    `json:"medicine"`
	Dosage       string    `json:"dosage"`
	Instructions string    `json:"instructions,omitempty"`
	DurationDays int       `json:"duration_days"`
	Refills      int       `json:"refills"`
	Status       string    `json:"status"`
	PrescribedAt time.Time `json:"prescribed_at"`
}

// Normalize trims free text and defaults the status.
func (p Prescription) Normalize() Prescription {
	p.Medicine = strings.TrimSpace(p.Medicine)
	p.Dosage = strings.TrimSpace(p.Dosage)
	p.Instructions = strings.TrimSpace(p.Instructions)
	if p.Status == "" {
		p.Status = StatusActive
	}
	return p
}

func (p Prescription) Validate() error {
	switch {
	case p.PatientID == uuid.Nil:
		return fmt.Errorf("%w: patient_id required", ErrInvalid)
	case p.DoctorID == uuid.Nil:
		return fmt.Errorf("%w: doctor_id required", ErrInvalid)
	case strings.TrimSpace(p.Medicine) == "":
		return fmt.Errorf("%w: medicine required", ErrInvalid)
	case strings.TrimSpace(p.Dosage) == "":
		return fmt.Errorf("%w: dosage required", ErrInvalid)
	case p.DurationDays <= 0:
		return fmt.Errorf("%w: duration_days must be positive", ErrInvalid)
	case p.Refills < 0:
		return fmt.Errorf("%w: refills must not be negative", ErrInvalid)
	}
	return nil
}
