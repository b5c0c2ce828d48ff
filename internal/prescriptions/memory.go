package prescriptions

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps prescriptions in process memory for local runs.
type MemoryRepository struct {
	mu    sync.RWMutex
	items map[uuid.UUID][]Prescription
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{items: make(map[uuid.UUID][]Prescription)}
}

func (m *MemoryRepository) Insert(ctx context.Context, p Prescription) (Prescription, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.PrescribedAt.IsZero() {
		p.PrescribedAt = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[p.PatientID] = append(m.items[p.PatientID], p)
	return p, nil
}

func (m *MemoryRepository) ListForPatient(ctx context.Context, patientID uuid.UUID) ([]Prescription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]Prescription(nil), m.items[patientID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].PrescribedAt.After(out[j].PrescribedAt) })
	return out, nil
}
