package prescriptions

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

// PostgresRepository persists prescriptions in the prescriptions table.
type PostgresRepository struct {
	db querier
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("prescriptions: pgx pool required")
	}
	return &PostgresRepository{db: pool}
}

func newPostgresRepositoryWithQuerier(db querier) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Insert stores p, filling in its id and prescribed_at when unset.
func (r *PostgresRepository) Insert(ctx context.Context, p Prescription) (Prescription, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.PrescribedAt.IsZero() {
		p.PrescribedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO prescriptions (id, patient_id, doctor_id, medicine, dosage, instructions, duration_days, refills, status, prescribed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	if _, err := r.db.Exec(ctx, query, p.ID, p.PatientID, p.DoctorID, p.Medicine, p.Dosage, p.Instructions, p.DurationDays, p.Refills, p.Status, p.PrescribedAt); err != nil {
		return Prescription{}, fmt.Errorf("prescriptions: insert: %w", err)
	}
	return p, nil
}

// ListForPatient returns prescriptions newest first.
func (r *PostgresRepository) ListForPatient(ctx context.Context, patientID uuid.UUID) ([]Prescription, error) {
	query := `
		SELECT id, patient_id, doctor_id, medicine, dosage, instructions, duration_days, refills, status, prescribed_at
		FROM prescriptions
		WHERE patient_id = $1
		ORDER BY prescribed_at DESC
	`
	rows, err := r.db.Query(ctx, query, patientID)
	if err != nil {
		return nil, fmt.Errorf("prescriptions: list: %w", err)
	}
	defer rows.Close()

	var out []Prescription
	for rows.Next() {
		var p Prescription
		if err := rows.Scan(&p.ID, &p.PatientID, &p.DoctorID, &p.Medicine, &p.Dosage, &p.Instructions, &p.DurationDays, &p.Refills, &p.Status, &p.PrescribedAt); err != nil {
			return nil, fmt.Errorf("prescriptions: scan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
