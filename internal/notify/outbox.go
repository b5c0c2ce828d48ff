package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/wolfman30/hospital-scheduling/internal/events"
)

// OutboxTopic is the outbox topic notification events are written under.
const OutboxTopic = "notifications"

type outboxWriter interface {
	Insert(ctx context.Context, topic string, eventType string, payload any) (uuid.UUID, error)
}

// OutboxNotifier defers delivery by writing events to the outbox table;
// cmd/notify-worker drains it.
type OutboxNotifier struct {
	store outboxWriter
}

func NewOutboxNotifier(store *events.OutboxStore) *OutboxNotifier {
	if store == nil {
		panic("notify: outbox store required")
	}
	return &OutboxNotifier{store: store}
}

func (n *OutboxNotifier) Notify(ctx context.Context, evt Event) error {
	evt = evt.stamp()
	if _, err := n.store.Insert(ctx, OutboxTopic, evt.Type, evt); err != nil {
		return fmt.Errorf("notify: enqueue %s: %w", evt.Type, err)
	}
	return nil
}

// OutboxHandler replays outbox entries through a notifier.
type OutboxHandler struct {
	target interface {
		Notify(ctx context.Context, evt Event) error
	}
}

func NewOutboxHandler(target *Service) *OutboxHandler {
	return &OutboxHandler{target: target}
}

func (h *OutboxHandler) Handle(ctx context.Context, entry events.OutboxEntry) error {
	if entry.Topic != OutboxTopic {
		return nil
	}
	var evt Event
	if err := json.Unmarshal(entry.Payload, &evt); err != nil {
		return fmt.Errorf("notify: decode outbox entry %s: %w", entry.ID, err)
	}
	return h.target.Notify(ctx, evt)
}

var _ events.DeliveryHandler = (*OutboxHandler)(nil)
