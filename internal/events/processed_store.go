package events

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// DefaultClaimLease bounds how long a crashed worker can hold an event.
const DefaultClaimLease = 5 * time.Minute

// ProcessedStore records which events a worker has taken ownership of.
// A claim older than the lease may be taken over by another worker.
type ProcessedStore struct {
	pool  execer
	lease time.Duration
}

func NewProcessedStore(pool *pgxpool.Pool) *ProcessedStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &ProcessedStore{pool: pool, lease: DefaultClaimLease}
}

func newProcessedStoreWithExec(exec execer) *ProcessedStore {
	if exec == nil {
		panic("events: exec required")
	}
	return &ProcessedStore{pool: exec, lease: DefaultClaimLease}
}

// WithLease overrides DefaultClaimLease.
func (s *ProcessedStore) WithLease(lease time.Duration) *ProcessedStore {
	if lease > 0 {
		s.lease = lease
	}
	return s
}

// MarkProcessed claims an event id for the provider. It returns false while
// another worker holds an unexpired claim.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	query := `
		INSERT INTO processed_events (provider, event_id, processed_at)
		VALUES ($1, $2, now())
		ON CONFLICT (provider, event_id) DO UPDATE
		SET processed_at = now()
		WHERE processed_events.processed_at < now() - make_interval(secs => $3)
	`
	ct, err := s.pool.Exec(ctx, query, provider, eventID, s.lease.Seconds())
	if err != nil {
		return false, fmt.Errorf("events: mark processed: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// Release forgets an event id so a later attempt can claim it again.
func (s *ProcessedStore) Release(ctx context.Context, provider, eventID string) error {
	query := `DELETE FROM processed_events WHERE provider = $1 AND event_id = $2`
	if _, err := s.pool.Exec(ctx, query, provider, eventID); err != nil {
		return fmt.Errorf("events: release processed: %w", err)
	}
	return nil
}
