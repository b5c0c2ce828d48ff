package scheduling

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type windowKey struct {
	doctorID uuid.UUID
	date     Date
}

// MemoryStore keeps availability and commitments in process memory. It is
// used for local development and tests; a per-doctor mutex serialises the
// check-and-insert sequence.
type MemoryStore struct {
	mu          sync.RWMutex
	windows     map[windowKey]AvailabilityWindow
	commitments map[uuid.UUID]Commitment

	lockMu sync.Mutex
	locks  map[uuid.UUID]*sync.Mutex

	now func() time.Time
	// insertHook, when set, runs before every insert; a non-nil result aborts it.
	insertHook func(Commitment) error
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		windows:     make(map[windowKey]AvailabilityWindow),
		commitments: make(map[uuid.UUID]Commitment),
		locks:       make(map[uuid.UUID]*sync.Mutex),
		now:         time.Now,
	}
}

func (s *MemoryStore) Windows(ctx context.Context, doctorID uuid.UUID, date Date) ([]AvailabilityWindow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.windows[windowKey{doctorID: doctorID, date: date}]
	if !ok {
		return nil, nil
	}
	return []AvailabilityWindow{w}, nil
}

func (s *MemoryStore) WindowsBetween(ctx context.Context, doctorID uuid.UUID, from, to Date) ([]AvailabilityWindow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []AvailabilityWindow
	for key, w := range s.windows {
		if key.doctorID != doctorID || key.date.Before(from) || key.date.After(to) {
			continue
		}
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (s *MemoryStore) UpsertWindow(ctx context.Context, w AvailabilityWindow) (AvailabilityWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := windowKey{doctorID: w.DoctorID, date: w.Date}
	if existing, ok := s.windows[key]; ok {
		w.ID = existing.ID
	} else if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	w.UpdatedAt = s.now().UTC()
	s.windows[key] = w
	return w, nil
}

func (s *MemoryStore) doctorLock(doctorID uuid.UUID) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	l, ok := s.locks[doctorID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[doctorID] = l
	}
	return l
}

// WithDoctorLock holds one mutex per doctor regardless of dates; writes are
// staged and applied only when fn succeeds.
func (s *MemoryStore) WithDoctorLock(ctx context.Context, doctorID uuid.UUID, dates []Date, fn func(tx CommitmentTx) error) error {
	l := s.doctorLock(doctorID)
	l.Lock()
	defer l.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memoryTx{store: s, staged: make(map[uuid.UUID]Commitment)}
	if err := fn(tx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range tx.staged {
		cur, exists := s.commitments[id]
		if !exists {
			s.commitments[id] = c
			continue
		}
		// Status may have changed outside the doctor lock; only the schedule moves.
		cur.Date, cur.Start, cur.End = c.Date, c.Start, c.End
		cur.StartsAt, cur.EndsAt = c.StartsAt, c.EndsAt
		s.commitments[id] = cur
	}
	return nil
}

func (s *MemoryStore) FindOverlapping(ctx context.Context, doctorID uuid.UUID, iv Interval, exclude uuid.UUID) ([]Commitment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return overlapping(iv, s.forDoctorLocked(doctorID, nil), exclude), nil
}

func (s *MemoryStore) forDoctorLocked(doctorID uuid.UUID, staged map[uuid.UUID]Commitment) []Commitment {
	var out []Commitment
	for id, c := range s.commitments {
		if _, shadowed := staged[id]; shadowed {
			continue
		}
		if c.DoctorID == doctorID {
			out = append(out, c)
		}
	}
	for _, c := range staged {
		if c.DoctorID == doctorID {
			out = append(out, c)
		}
	}
	return out
}

func (s *MemoryStore) Get(ctx context.Context, kind Kind, id uuid.UUID) (*Commitment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.commitments[id]
	if !ok || c.Kind != kind {
		return nil, notFound(string(kind), id)
	}
	return &c, nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, kind Kind, id uuid.UUID, from, to Status, meetingLink string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.commitments[id]
	if !ok || c.Kind != kind {
		return notFound(string(kind), id)
	}
	if c.Status != from {
		return staleStatus(id, c.Status, from)
	}
	c.Status = to
	if meetingLink != "" {
		c.MeetingLink = meetingLink
	}
	s.commitments[id] = c
	return nil
}

func (s *MemoryStore) ListForDoctor(ctx context.Context, doctorID uuid.UUID, date Date) ([]Commitment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Commitment
	for _, c := range s.commitments {
		if c.DoctorID == doctorID && c.Date == date {
			out = append(out, c)
		}
	}
	sortByStart(out)
	return out, nil
}

func (s *MemoryStore) ListForPatient(ctx context.Context, patientID uuid.UUID) ([]Commitment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Commitment
	for _, c := range s.commitments {
		if c.PatientID == patientID {
			out = append(out, c)
		}
	}
	sortByStart(out)
	return out, nil
}

func sortByStart(cs []Commitment) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].StartsAt.Before(cs[j].StartsAt) })
}

type memoryTx struct {
	store  *MemoryStore
	staged map[uuid.UUID]Commitment
}

func (tx *memoryTx) FindOverlapping(ctx context.Context, doctorID uuid.UUID, iv Interval, exclude uuid.UUID) ([]Commitment, error) {
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	return overlapping(iv, tx.store.forDoctorLocked(doctorID, tx.staged), exclude), nil
}

func (tx *memoryTx) Insert(ctx context.Context, c *Commitment) error {
	if hook := tx.store.insertHook; hook != nil {
		if err := hook(*c); err != nil {
			return err
		}
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.CreatedAt = tx.store.now().UTC()
	tx.staged[c.ID] = *c
	return nil
}

func (tx *memoryTx) Reschedule(ctx context.Context, id uuid.UUID, date Date, iv Interval) error {
	c, ok := tx.staged[id]
	if !ok {
		tx.store.mu.RLock()
		c, ok = tx.store.commitments[id]
		tx.store.mu.RUnlock()
	}
	if !ok || c.Kind != KindAppointment {
		return notFound("appointment", id)
	}
	if !reschedulable(c.Status) {
		return fmt.Errorf("%w: appointment %s is %s", ErrInvalidTransition, id, c.Status)
	}
	c.Date = date
	c.StartsAt = iv.Start
	c.EndsAt = iv.End
	tx.staged[id] = c
	return nil
}
