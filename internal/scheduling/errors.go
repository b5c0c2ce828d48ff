package scheduling

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation marks malformed or incomplete input.
	ErrValidation = errors.New("scheduling: validation failed")
	// ErrSlotUnavailable marks a requested interval that is outside availability or already taken.
	ErrSlotUnavailable = errors.New("scheduling: slot unavailable")
	// ErrTransactionFailed marks a data-access fault; the caller may retry.
	ErrTransactionFailed = errors.New("scheduling: transaction failed")
	// ErrNotFound marks a missing doctor, patient, window or commitment.
	ErrNotFound = errors.New("scheduling: not found")
	// ErrInvalidTransition marks a status change the state machine does not allow.
	ErrInvalidTransition = errors.New("scheduling: invalid status transition")
	// ErrRateLimited marks a patient exceeding the booking attempt budget.
	ErrRateLimited = errors.New("scheduling: too many booking attempts")
	// ErrAlertUndelivered marks an emergency alert no channel accepted.
	ErrAlertUndelivered = errors.New("scheduling: emergency alert not delivered")
)

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("scheduling: invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ConflictError carries the commitments that block a requested interval.
type ConflictError struct {
	Reason    string
	Conflicts []Commitment
}

func (e *ConflictError) Error() string {
	if len(e.Conflicts) == 0 {
		if e.Reason == "" {
			return ErrSlotUnavailable.Error()
		}
		return fmt.Sprintf("%s: %s", ErrSlotUnavailable, e.Reason)
	}
	ids := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		ids = append(ids, c.ID.String())
	}
	return fmt.Sprintf("%s: overlaps %s", ErrSlotUnavailable, strings.Join(ids, ", "))
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrSlotUnavailable
}

func notFound(what string, id fmt.Stringer) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, what, id)
}

// expected reports whether err is one of the outcomes surfaced to callers as-is.
func expected(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrSlotUnavailable) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrRateLimited)
}

// classify passes expected outcomes through and folds everything else into ErrTransactionFailed.
func classify(op string, err error) error {
	if err == nil || expected(err) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrTransactionFailed, op, err)
}
