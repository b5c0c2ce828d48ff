package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type rowQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository reads the doctors and patients tables.
type PostgresRepository struct {
	db rowQuerier
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("directory: pgx pool required")
	}
	return &PostgresRepository{db: pool}
}

func newPostgresRepositoryWithQuerier(db rowQuerier) *PostgresRepository {
	if db == nil {
		panic("directory: querier required")
	}
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Doctor(ctx context.Context, id uuid.UUID) (DoctorRef, error) {
	query := `
		SELECT id, name, COALESCE(specialization, ''), COALESCE(email, ''), COALESCE(phone, '')
		FROM doctors
		WHERE id = $1
	`
	var d DoctorRef
	err := r.db.QueryRow(ctx, query, id).Scan(&d.ID, &d.Name, &d.Specialization, &d.Email, &d.Phone)
	if errors.Is(err, pgx.ErrNoRows) {
		return DoctorRef{}, ErrNotFound
	}
	if err != nil {
		return DoctorRef{}, fmt.Errorf("directory: get doctor: %w", err)
	}
	return d, nil
}

func (r *PostgresRepository) Patient(ctx context.Context, id uuid.UUID) (PatientRef, error) {
	query := `
		SELECT id, name, COALESCE(email, ''), COALESCE(phone, '')
		FROM patients
		WHERE id = $1
	`
	var p PatientRef
	err := r.db.QueryRow(ctx, query, id).Scan(&p.ID, &p.Name, &p.Email, &p.Phone)
	if errors.Is(err, pgx.ErrNoRows) {
		return PatientRef{}, ErrNotFound
	}
	if err != nil {
		return PatientRef{}, fmt.Errorf("directory: get patient: %w", err)
	}
	return p, nil
}

func (r *PostgresRepository) ListDoctors(ctx context.Context) ([]DoctorRef, error) {
	query := `
		SELECT id, name, COALESCE(specialization, ''), COALESCE(email, ''), COALESCE(phone, '')
		FROM doctors
		ORDER BY name
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("directory: list doctors: %w", err)
	}
	defer rows.Close()

	out := make([]DoctorRef, 0)
	for rows.Next() {
		var d DoctorRef
		if err := rows.Scan(&d.ID, &d.Name, &d.Specialization, &d.Email, &d.Phone); err != nil {
			return nil, fmt.Errorf("directory: scan doctor: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
