package vitals

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresRepository persists readings in the vitals table.
type PostgresRepository struct {
	db querier
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("vitals: pgx pool required")
	}
	return &PostgresRepository{db: pool}
}

func newPostgresRepositoryWithQuerier(db querier) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Insert stores r, filling in its id and recorded_at when unset.
func (p *PostgresRepository) Insert(ctx context.Context, r Reading) (Reading, error) {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.RecordedAt.IsZero() {
		r.RecordedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO vitals (id, patient_id, heart_rate, oxygen_level, temperature, blood_pressure, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := p.db.Exec(ctx, query, r.ID, r.PatientID, r.HeartRate, r.OxygenLevel, r.Temperature, r.BloodPressure, r.RecordedAt); err != nil {
		return Reading{}, fmt.Errorf("vitals: insert reading: %w", err)
	}
	return r, nil
}

// ListForPatient returns readings oldest first.
func (p *PostgresRepository) ListForPatient(ctx context.Context, patientID uuid.UUID) ([]Reading, error) {
	query := `
		SELECT id, patient_id, heart_rate, oxygen_level, temperature, blood_pressure, recorded_at
		FROM vitals
		WHERE patient_id = $1
		ORDER BY recorded_at ASC
	`
	rows, err := p.db.Query(ctx, query, patientID)
	if err != nil {
		return nil, fmt.Errorf("vitals: list readings: %w", err)
	}
	defer rows.Close()

	var out []Reading
	for rows.Next() {
		var r Reading
		if err := rows.Scan(&r.ID, &r.PatientID, &r.HeartRate, &r.OxygenLevel, &r.Temperature, &r.BloodPressure, &r.RecordedAt); err != nil {
			return nil, fmt.Errorf("vitals: scan reading: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
