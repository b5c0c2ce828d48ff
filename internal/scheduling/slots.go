package scheduling

import (
	"sort"
	"time"
)

const (
	DefaultStep     = 30 * time.Minute
	DefaultDuration = 60 * time.Minute
)

// GenerateStarts lists every t with w.Start <= t and t+duration <= w.End,
// stepping by step from w.Start. It does not look at existing commitments.
func GenerateStarts(w AvailabilityWindow, step, duration time.Duration) ([]TimeOfDay, error) {
	if step <= 0 {
		return nil, &ValidationError{Field: "step", Reason: "must be positive"}
	}
	if duration <= 0 {
		return nil, &ValidationError{Field: "duration", Reason: "must be positive"}
	}
	var starts []TimeOfDay
	for t := w.Start; t.Add(duration) <= w.End; t = t.Add(step) {
		starts = append(starts, t)
	}
	return starts, nil
}

// freeSlots expands windows into candidate slots and drops any that overlap a blocking commitment.
func freeSlots(date Date, windows []AvailabilityWindow, taken []Commitment, q SlotQuery, loc *time.Location) ([]Slot, error) {
	seen := make(map[TimeOfDay]struct{})
	slots := make([]Slot, 0)
	for _, w := range windows {
		starts, err := GenerateStarts(w, q.Step, q.Duration)
		if err != nil {
			return nil, err
		}
		for _, t := range starts {
			if _, dup := seen[t]; dup {
				continue
			}
			end := t.Add(q.Duration)
			iv := Interval{Start: date.At(t, loc), End: date.At(end, loc)}
			if !isFree(iv, taken) {
				continue
			}
			seen[t] = struct{}{}
			slots = append(slots, Slot{
				DoctorID: w.DoctorID,
				Date:     date,
				Start:    t,
				End:      end,
				StartsAt: iv.Start,
				EndsAt:   iv.End,
			})
		}
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].Start < slots[j].Start })
	return slots, nil
}
