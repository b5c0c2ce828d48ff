package scheduling

import (
	"context"
	"sort"

	"github.com/google/uuid"
)

// overlapping returns the blocking commitments whose interval overlaps iv.
// Both variants are checked the same way and the result is ordered by start.
func overlapping(iv Interval, commitments []Commitment, exclude uuid.UUID) []Commitment {
	var hits []Commitment
	for _, c := range commitments {
		if c.ID == exclude && exclude != uuid.Nil {
			continue
		}
		if !c.Status.Blocking() {
			continue
		}
		if c.Interval().Overlaps(iv) {
			hits = append(hits, c)
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].StartsAt.Before(hits[j].StartsAt) })
	return hits
}

func isFree(iv Interval, commitments []Commitment) bool {
	return len(overlapping(iv, commitments, uuid.Nil)) == 0
}

// overlapFinder is satisfied by both CommitmentStore and CommitmentTx.
type overlapFinder interface {
	FindOverlapping(ctx context.Context, doctorID uuid.UUID, iv Interval, exclude uuid.UUID) ([]Commitment, error)
}

// checkFree runs the conflict detector against a store and returns a *ConflictError when taken.
func checkFree(ctx context.Context, finder overlapFinder, doctorID uuid.UUID, iv Interval, exclude uuid.UUID) error {
	hits, err := finder.FindOverlapping(ctx, doctorID, iv, exclude)
	if err != nil {
		return err
	}
	if len(hits) > 0 {
		return &ConflictError{Conflicts: hits}
	}
	return nil
}
