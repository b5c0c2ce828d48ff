package vitals

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps readings in process memory for local runs.
type MemoryRepository struct {
	mu       sync.RWMutex
	readings map[uuid.UUID][]Reading
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{readings: make(map[uuid.UUID][]Reading)}
}

func (m *MemoryRepository) Insert(ctx context.Context, r Reading) (Reading, error) {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.RecordedAt.IsZero() {
		r.RecordedAt = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readings[r.PatientID] = append(m.readings[r.PatientID], r)
	return r, nil
}

func (m *MemoryRepository) ListForPatient(ctx context.Context, patientID uuid.UUID) ([]Reading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]Reading(nil), m.readings[patientID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].RecordedAt.Before(out[j].RecordedAt) })
	return out, nil
}
