// Package directory resolves doctors and patients to typed references.
package directory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no doctor or patient has the requested id.
var ErrNotFound = errors.New("directory: not found")

// DoctorRef identifies a doctor and carries the details shown to patients.
type DoctorRef struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	Specialization string    `json:"specialization,omitempty"`
	Email          string    `json:"-"`
	Phone          string    `json:"-"`
}

// PatientRef identifies a patient.
type PatientRef struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"-"`
	Phone string    `json:"-"`
}

// Repository looks up people known to the hospital.
type Repository interface {
	Doctor(ctx context.Context, id uuid.UUID) (DoctorRef, error)
	Patient(ctx context.Context, id uuid.UUID) (PatientRef, error)
	ListDoctors(ctx context.Context) ([]DoctorRef, error)
}

// InMemoryRepository is a Repository backed by maps.
type InMemoryRepository struct {
	mu       sync.RWMutex
	doctors  map[uuid.UUID]DoctorRef
	patients map[uuid.UUID]PatientRef
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		doctors:  make(map[uuid.UUID]DoctorRef),
		patients: make(map[uuid.UUID]PatientRef),
	}
}

// AddDoctor stores d, assigning an id when it has none.
func (r *InMemoryRepository) AddDoctor(d DoctorRef) DoctorRef {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	r.mu.Lock()
	r.doctors[d.ID] = d
	r.mu.Unlock()
	return d
}

// AddPatient stores p, assigning an id when it has none.
func (r *InMemoryRepository) AddPatient(p PatientRef) PatientRef {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	r.mu.Lock()
	r.patients[p.ID] = p
	r.mu.Unlock()
	return p
}

func (r *InMemoryRepository) Doctor(ctx context.Context, id uuid.UUID) (DoctorRef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.doctors[id]
	if !ok {
		return DoctorRef{}, ErrNotFound
	}
	return d, nil
}

func (r *InMemoryRepository) Patient(ctx context.Context, id uuid.UUID) (PatientRef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.patients[id]
	if !ok {
		return PatientRef{}, ErrNotFound
	}
	return p, nil
}

func (r *InMemoryRepository) ListDoctors(ctx context.Context) ([]DoctorRef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]DoctorRef, 0, len(r.doctors))
	for _, d := range r.doctors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
