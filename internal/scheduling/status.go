package scheduling

import (
	"fmt"

	"github.com/google/uuid"
)

var transitions = map[Kind]map[Status][]Status{
	KindAppointment: {
		StatusPending:  {StatusAccepted, StatusRejected, StatusCancelled},
		StatusAccepted: {StatusCancelled, StatusCompleted},
	},
	// Video calls are never marked completed.
	KindVideoCall: {
		StatusPending:  {StatusAccepted, StatusRejected, StatusCancelled},
		StatusAccepted: {StatusCancelled},
	},
}

// CanTransition reports whether a commitment of kind may move from one status to another.
func CanTransition(kind Kind, from, to Status) bool {
	for _, next := range transitions[kind][from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves the status.
func Terminal(kind Kind, s Status) bool {
	return len(transitions[kind][s]) == 0
}

func checkTransition(kind Kind, from, to Status) error {
	if !CanTransition(kind, from, to) {
		return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, kind, from, to)
	}
	return nil
}

// reschedulable statuses keep a standard appointment open for a date change.
func reschedulable(s Status) bool {
	return s == StatusPending || s == StatusAccepted
}

func staleStatus(id uuid.UUID, actual, expected Status) error {
	return fmt.Errorf("%w: %s is %s, expected %s", ErrInvalidTransition, id, actual, expected)
}
