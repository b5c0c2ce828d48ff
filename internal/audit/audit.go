// Package audit records administrative and clinical actions in the system log.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

const (
	ActionAvailabilitySet = "availability.set"
	ActionBookingCreated  = "booking.created"
	ActionStatusChanged   = "commitment.status_changed"
	ActionRescheduled     = "appointment.rescheduled"
	ActionVitalsRecorded  = "vitals.recorded"
	ActionEmergencyRaised = "emergency.raised"
	ActionPrescribed      = "prescription.created"
)

// Entry is one system log row.
type Entry struct {
	ID          int64     `json:"id"`
	Actor       string    `json:"actor"`
	Action      string    `json:"action"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Filter narrows List results. Empty fields match everything.
type Filter struct {
	Actor   string
	Actions []string
	Since   time.Time
	Until   time.Time
	Limit   int
	Offset  int
}

// Service writes and reads system_logs.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Record appends an entry; the actor defaults to "system".
func (s *Service) Record(ctx context.Context, entry Entry) error {
	if entry.Action == "" {
		return fmt.Errorf("audit: action required")
	}
	if entry.Actor == "" {
		entry.Actor = "system"
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO system_logs (actor, action, description, created_at)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := s.db.ExecContext(ctx, query, entry.Actor, entry.Action, entry.Description, entry.CreatedAt); err != nil {
		return fmt.Errorf("audit: failed to record entry: %w", err)
	}
	return nil
}

// List returns matching entries, newest first.
func (s *Service) List(ctx context.Context, filter Filter) ([]Entry, error) {
	query := `
		SELECT id, actor, action, description, created_at
		FROM system_logs
		WHERE 1 = 1
	`
	var args []any
	argIdx := 1

	if filter.Actor != "" {
		query += fmt.Sprintf(" AND actor = $%d", argIdx)
		args = append(args, filter.Actor)
		argIdx++
	}
	if len(filter.Actions) > 0 {
		query += fmt.Sprintf(" AND action = ANY($%d)", argIdx)
		args = append(args, pq.Array(filter.Actions))
		argIdx++
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.Since)
		argIdx++
	}
	if !filter.Until.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, filter.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC, id DESC"

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query += fmt.Sprintf(" LIMIT %d", limit)
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to query entries: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var e Entry
		var description sql.NullString
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &description, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: failed to scan entry: %w", err)
		}
		e.Description = description.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
