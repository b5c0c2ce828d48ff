package directory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryRepository(t *testing.T) {
	repo := NewInMemoryRepository()
	house := repo.AddDoctor(DoctorRef{Name: "Gregory House", Specialization: "Diagnostics"})
	cuddy := repo.AddDoctor(DoctorRef{Name: "Lisa Cuddy"})
	patient := repo.AddPatient(PatientRef{Name: "Rebecca Adler", Email: "rebecca@example.com"})

	got, err := repo.Doctor(context.Background(), house.ID)
	require.NoError(t, err)
	assert.Equal(t, "Diagnostics", got.Specialization)

	p, err := repo.Patient(context.Background(), patient.ID)
	require.NoError(t, err)
	assert.Equal(t, "rebecca@example.com", p.Email)

	_, err = repo.Doctor(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.Patient(context.Background(), house.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	doctors, err := repo.ListDoctors(context.Background())
	require.NoError(t, err)
	require.Len(t, doctors, 2)
	assert.Equal(t, house.ID, doctors[0].ID)
	assert.Equal(t, cuddy.ID, doctors[1].ID)
}

func TestPostgresRepository_Doctor(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := newPostgresRepositoryWithQuerier(mock)
	id := uuid.New()
	mock.ExpectQuery("FROM doctors").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "specialization", "email", "phone"}).
			AddRow(id, "James Wilson", "Oncology", "wilson@example.com", "+15550100"))

	d, err := repo.Doctor(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "James Wilson", d.Name)
	assert.Equal(t, "+15550100", d.Phone)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_PatientNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := newPostgresRepositoryWithQuerier(mock)
	id := uuid.New()
	mock.ExpectQuery("FROM patients").WithArgs(id).WillReturnError(pgx.ErrNoRows)

	_, err = repo.Patient(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_DoctorQueryError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := newPostgresRepositoryWithQuerier(mock)
	mock.ExpectQuery("FROM doctors").WillReturnError(errors.New("boom"))

	_, err = repo.Doctor(context.Background(), uuid.New())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestPostgresRepository_ListDoctors(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := newPostgresRepositoryWithQuerier(mock)
	mock.ExpectQuery("ORDER BY name").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "specialization", "email", "phone"}).
			AddRow(uuid.New(), "Allison Cameron", "Immunology", "", "").
			AddRow(uuid.New(), "Robert Chase", "Surgery", "", ""))

	doctors, err := repo.ListDoctors(context.Background())
	require.NoError(t, err)
	assert.Len(t, doctors, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandler_ListDoctorsHidesContactDetails(t *testing.T) {
	repo := NewInMemoryRepository()
	repo.AddDoctor(DoctorRef{Name: "Eric Foreman", Email: "foreman@example.com", Phone: "+15550101"})

	w := httptest.NewRecorder()
	NewHandler(repo, nil).ListDoctors(w, httptest.NewRequest(http.MethodGet, "/doctors", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "foreman@example.com")
	var body struct {
		Doctors []DoctorRef `json:"doctors"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	require.Len(t, body.Doctors, 1)
	assert.Equal(t, "Eric Foreman", body.Doctors[0].Name)
}
