package notify

import (
	"time"

	"github.com/google/uuid"
)

// Recipient is whoever should hear about an event. Either contact may be empty.
type Recipient struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Event is a fire-and-forget notification.
type Event struct {
	ID         uuid.UUID `json:"id"`
	Type       string    `json:"type"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	Recipient  Recipient `json:"recipient"`
	OccurredAt time.Time `json:"occurred_at"`
}

// stamp fills in the id and timestamp when the producer left them empty.
func (e Event) stamp() Event {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	return e
}
