package scheduling

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SQLSTATE codes mapped to ErrSlotUnavailable.
const (
	pgExclusionViolation = "23P01"
	pgUniqueViolation    = "23505"
)

type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgConn interface {
	pgQuerier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore implements AvailabilityStore and CommitmentStore on pgx.
// Bookings serialise on transaction-scoped advisory locks keyed by doctor
// and date; the appointments table also carries an exclusion constraint.
type PostgresStore struct {
	db  pgConn
	loc *time.Location
}

// NewPostgresStore uses loc to convert appointment dates and times into instants.
func NewPostgresStore(pool *pgxpool.Pool, loc *time.Location) *PostgresStore {
	if pool == nil {
		panic("scheduling: pgx pool required")
	}
	return newPostgresStoreWithConn(pool, loc)
}

func newPostgresStoreWithConn(db pgConn, loc *time.Location) *PostgresStore {
	if db == nil {
		panic("scheduling: db required")
	}
	if loc == nil {
		loc = time.UTC
	}
	return &PostgresStore{db: db, loc: loc}
}

func pgTime(t TimeOfDay) pgtype.Time {
	return pgtype.Time{Microseconds: int64(t.Duration() / time.Microsecond), Valid: true}
}

func fromPgTime(t pgtype.Time) TimeOfDay {
	return TimeOfDay(time.Duration(t.Microseconds) * time.Microsecond)
}

const windowColumns = `id, doctor_id, available_date, start_time, end_time, updated_at`

func scanWindows(rows pgx.Rows) ([]AvailabilityWindow, error) {
	defer rows.Close()
	var out []AvailabilityWindow
	for rows.Next() {
		var (
			w          AvailabilityWindow
			day        time.Time
			start, end pgtype.Time
		)
		if err := rows.Scan(&w.ID, &w.DoctorID, &day, &start, &end, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scheduling: scan window: %w", err)
		}
		w.Date = DateOf(day)
		w.Start = fromPgTime(start)
		w.End = fromPgTime(end)
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Windows(ctx context.Context, doctorID uuid.UUID, date Date) ([]AvailabilityWindow, error) {
	query := `
		SELECT ` + windowColumns + `
		FROM doctor_availability
		WHERE doctor_id = $1 AND available_date = $2
		ORDER BY start_time
	`
	rows, err := s.db.Query(ctx, query, doctorID, date.Time())
	if err != nil {
		return nil, fmt.Errorf("scheduling: query windows: %w", err)
	}
	return scanWindows(rows)
}

func (s *PostgresStore) WindowsBetween(ctx context.Context, doctorID uuid.UUID, from, to Date) ([]AvailabilityWindow, error) {
	query := `
		SELECT ` + windowColumns + `
		FROM doctor_availability
		WHERE doctor_id = $1 AND available_date BETWEEN $2 AND $3
		ORDER BY available_date, start_time
	`
	rows, err := s.db.Query(ctx, query, doctorID, from.Time(), to.Time())
	if err != nil {
		return nil, fmt.Errorf("scheduling: query windows: %w", err)
	}
	return scanWindows(rows)
}

func (s *PostgresStore) UpsertWindow(ctx context.Context, w AvailabilityWindow) (AvailabilityWindow, error) {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	query := `
		INSERT INTO doctor_availability (id, doctor_id, available_date, start_time, end_time)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (doctor_id, available_date)
		DO UPDATE SET start_time = EXCLUDED.start_time, end_time = EXCLUDED.end_time, updated_at = now()
		RETURNING id, updated_at
	`
	err := s.db.QueryRow(ctx, query, w.ID, w.DoctorID, w.Date.Time(), pgTime(w.Start), pgTime(w.End)).Scan(&w.ID, &w.UpdatedAt)
	if err != nil {
		return AvailabilityWindow{}, fmt.Errorf("scheduling: upsert window: %w", err)
	}
	return w, nil
}

// commitmentSource unions both commitment tables onto one time axis. $1 is
// the hospital time zone used to place appointment dates and times.
const commitmentSource = `(
		SELECT id, 'appointment' AS kind, doctor_id, patient_id,
		       (appointment_date + start_time) AT TIME ZONE $1 AS starts_at,
		       (appointment_date + end_time) AT TIME ZONE $1 AS ends_at,
		       status, '' AS meeting_link, created_at
		FROM appointments
		UNION ALL
		SELECT id, 'video_call' AS kind, doctor_id, patient_id,
		       appointment_time AS starts_at,
		       appointment_time + interval '1 hour' AS ends_at,
		       status, COALESCE(meeting_link, '') AS meeting_link, created_at
		FROM video_call_appointments
	) c`

const commitmentColumns = `c.id, c.kind, c.doctor_id, c.patient_id, c.starts_at, c.ends_at, c.status, c.meeting_link, c.created_at`

func (s *PostgresStore) scanCommitments(rows pgx.Rows) ([]Commitment, error) {
	defer rows.Close()
	var out []Commitment
	for rows.Next() {
		var (
			c            Commitment
			kind, status string
		)
		if err := rows.Scan(&c.ID, &kind, &c.DoctorID, &c.PatientID, &c.StartsAt, &c.EndsAt, &status, &c.MeetingLink, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scheduling: scan commitment: %w", err)
		}
		c.Kind = Kind(kind)
		c.Status = Status(status)
		local := c.StartsAt.In(s.loc)
		c.Date = DateOf(local)
		c.Start = TimeOfDayOf(local)
		c.End = c.Start.Add(c.EndsAt.Sub(c.StartsAt))
		out = append(out, c)
	}
	return out, rows.Err()
}

func findOverlapping(ctx context.Context, q pgQuerier, s *PostgresStore, doctorID uuid.UUID, iv Interval, exclude uuid.UUID) ([]Commitment, error) {
	query := `
		SELECT ` + commitmentColumns + `
		FROM ` + commitmentSource + `
		WHERE c.doctor_id = $2
		  AND c.status NOT IN ('cancelled', 'rejected')
		  AND c.starts_at < $4
		  AND c.ends_at > $3
		  AND c.id <> $5
		ORDER BY c.starts_at
	`
	rows, err := q.Query(ctx, query, s.loc.String(), doctorID, iv.Start, iv.End, exclude)
	if err != nil {
		return nil, fmt.Errorf("scheduling: find overlapping: %w", err)
	}
	return s.scanCommitments(rows)
}

func (s *PostgresStore) FindOverlapping(ctx context.Context, doctorID uuid.UUID, iv Interval, exclude uuid.UUID) ([]Commitment, error) {
	return findOverlapping(ctx, s.db, s, doctorID, iv, exclude)
}

// WithDoctorLock takes pg_advisory_xact_lock for each (doctor, date) in
// ascending date order, runs fn and commits. Any error rolls back.
func (s *PostgresStore) WithDoctorLock(ctx context.Context, doctorID uuid.UUID, dates []Date, fn func(tx CommitmentTx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("scheduling: begin: %w", err)
	}
	for _, d := range sortedDates(dates) {
		key := doctorID.String() + ":" + d.String()
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("scheduling: advisory lock: %w", err)
		}
	}
	if err := fn(&postgresTx{tx: tx, store: s}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return mapConstraint(fmt.Errorf("scheduling: commit: %w", err))
	}
	return nil
}

func sortedDates(dates []Date) []Date {
	out := append([]Date(nil), dates...)
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// mapConstraint turns exclusion and uniqueness violations into ConflictErrors.
func mapConstraint(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == pgExclusionViolation || pgErr.Code == pgUniqueViolation) {
		return &ConflictError{Reason: pgErr.ConstraintName}
	}
	return err
}

func (s *PostgresStore) Get(ctx context.Context, kind Kind, id uuid.UUID) (*Commitment, error) {
	query := `
		SELECT ` + commitmentColumns + `
		FROM ` + commitmentSource + `
		WHERE c.id = $2 AND c.kind = $3
	`
	rows, err := s.db.Query(ctx, query, s.loc.String(), id, string(kind))
	if err != nil {
		return nil, fmt.Errorf("scheduling: get commitment: %w", err)
	}
	out, err := s.scanCommitments(rows)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, notFound(string(kind), id)
	}
	return &out[0], nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, kind Kind, id uuid.UUID, from, to Status, meetingLink string) error {
	var query string
	args := []any{id, string(from), string(to)}
	switch kind {
	case KindAppointment:
		query = `
			UPDATE appointments
			SET status = $3, updated_at = now()
			WHERE id = $1 AND status = $2
		`
	case KindVideoCall:
		query = `
			UPDATE video_call_appointments
			SET status = $3, meeting_link = COALESCE(NULLIF($4, ''), meeting_link), updated_at = now()
			WHERE id = $1 AND status = $2
		`
		args = append(args, meetingLink)
	default:
		return &ValidationError{Field: "kind", Reason: "unknown commitment kind"}
	}
	ct, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("scheduling: update status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s %s is no longer %s", ErrInvalidTransition, kind, id, from)
	}
	return nil
}

func (s *PostgresStore) ListForDoctor(ctx context.Context, doctorID uuid.UUID, date Date) ([]Commitment, error) {
	query := `
		SELECT ` + commitmentColumns + `
		FROM ` + commitmentSource + `
		WHERE c.doctor_id = $2 AND c.starts_at >= $3 AND c.starts_at < $4
		ORDER BY c.starts_at
	`
	rows, err := s.db.Query(ctx, query, s.loc.String(), doctorID, date.At(0, s.loc), date.AddDays(1).At(0, s.loc))
	if err != nil {
		return nil, fmt.Errorf("scheduling: list doctor commitments: %w", err)
	}
	return s.scanCommitments(rows)
}

func (s *PostgresStore) ListForPatient(ctx context.Context, patientID uuid.UUID) ([]Commitment, error) {
	query := `
		SELECT ` + commitmentColumns + `
		FROM ` + commitmentSource + `
		WHERE c.patient_id = $2
		ORDER BY c.starts_at
	`
	rows, err := s.db.Query(ctx, query, s.loc.String(), patientID)
	if err != nil {
		return nil, fmt.Errorf("scheduling: list patient commitments: %w", err)
	}
	return s.scanCommitments(rows)
}

type postgresTx struct {
	tx    pgx.Tx
	store *PostgresStore
}

func (t *postgresTx) FindOverlapping(ctx context.Context, doctorID uuid.UUID, iv Interval, exclude uuid.UUID) ([]Commitment, error) {
	return findOverlapping(ctx, t.tx, t.store, doctorID, iv, exclude)
}

func (t *postgresTx) Insert(ctx context.Context, c *Commitment) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	var row pgx.Row
	switch c.Kind {
	case KindAppointment:
		row = t.tx.QueryRow(ctx, `
			INSERT INTO appointments (id, doctor_id, patient_id, appointment_date, start_time, end_time, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING created_at
		`, c.ID, c.DoctorID, c.PatientID, c.Date.Time(), pgTime(c.Start), pgTime(c.End), string(c.Status))
	case KindVideoCall:
		row = t.tx.QueryRow(ctx, `
			INSERT INTO video_call_appointments (id, doctor_id, patient_id, appointment_time, status)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING created_at
		`, c.ID, c.DoctorID, c.PatientID, c.StartsAt, string(c.Status))
	default:
		return &ValidationError{Field: "kind", Reason: "unknown commitment kind"}
	}
	if err := row.Scan(&c.CreatedAt); err != nil {
		return mapConstraint(fmt.Errorf("scheduling: insert %s: %w", c.Kind, err))
	}
	return nil
}

func (t *postgresTx) Reschedule(ctx context.Context, id uuid.UUID, date Date, iv Interval) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE appointments
		SET appointment_date = $2, updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'accepted')
	`, id, date.Time())
	if err != nil {
		return mapConstraint(fmt.Errorf("scheduling: reschedule: %w", err))
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: appointment %s cannot be rescheduled", ErrInvalidTransition, id)
	}
	return nil
}
