package prescriptions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/hospital-scheduling/internal/audit"
	"github.com/wolfman30/hospital-scheduling/internal/directory"
	"github.com/wolfman30/hospital-scheduling/internal/notify"
	"github.com/wolfman30/hospital-scheduling/internal/session"
)

func TestPrescriptionValidate(t *testing.T) {
	valid := Prescription{
		PatientID:    uuid.New(),
		DoctorID:     uuid.New(),
		Medicine:     "Paracetamol",
		Dosage:       "2 times a day",
		DurationDays: 7,
	}
	require.NoError(t, valid.Validate())

	tests := map[string]func(*Prescription){
		"no patient":       func(p *Prescription) { p.PatientID = uuid.Nil },
		"no doctor":        func(p *Prescription) { p.DoctorID = uuid.Nil },
		"blank medicine":   func(p *Prescription) { p.Medicine = "   " },
		"no dosage":        func(p *Prescription) { p.Dosage = "" },
		"zero duration":    func(p *Prescription) { p.DurationDays = 0 },
		"negative refills": func(p *Prescription) { p.Refills = -1 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			p := valid
			mutate(&p)
			assert.True(t, errors.Is(p.Validate(), ErrInvalid))
		})
	}
}

func TestNormalize(t *testing.T) {
	p := Prescription{Medicine: " Ibuprofen ", Dosage: " As needed", Instructions: " after meals "}.Normalize()
	assert.Equal(t, "Ibuprofen", p.Medicine)
	assert.Equal(t, "As needed", p.Dosage)
	assert.Equal(t, "after meals", p.Instructions)
	assert.Equal(t, StatusActive, p.Status)
}

func TestPostgresRepository(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	repo := newPostgresRepositoryWithQuerier(mock)
	patient, doctor := uuid.New(), uuid.New()
	at := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO prescriptions").
		WithArgs(pgxmock.AnyArg(), patient, doctor, "Amoxicillin", "3 times a day", "", 10, 1, StatusActive, at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	saved, err := repo.Insert(context.Background(), Prescription{
		PatientID: patient, DoctorID: doctor, Medicine: "Amoxicillin", Dosage: "3 times a day",
		DurationDays: 10, Refills: 1, Status: StatusActive, PrescribedAt: at,
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, saved.ID)

	rows := pgxmock.NewRows([]string{"id", "patient_id", "doctor_id", "medicine", "dosage", "instructions", "duration_days", "refills", "status", "prescribed_at"}).
		AddRow(saved.ID, patient, doctor, "Amoxicillin", "3 times a day", "", 10, 1, StatusActive, at)
	mock.ExpectQuery("FROM prescriptions").WithArgs(patient).WillReturnRows(rows)
	list, err := repo.ListForPatient(context.Background(), patient)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Amoxicillin", list[0].Medicine)
	assert.Equal(t, 10, list[0].DurationDays)

	mock.ExpectExec("INSERT INTO prescriptions").WillReturnError(errors.New("connection reset"))
	_, err = repo.Insert(context.Background(), Prescription{PatientID: patient, DoctorID: doctor})
	assert.Error(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryRepositoryNewestFirst(t *testing.T) {
	repo := NewMemoryRepository()
	patient := uuid.New()
	t0 := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	_, err := repo.Insert(context.Background(), Prescription{PatientID: patient, Medicine: "old", PrescribedAt: t0})
	require.NoError(t, err)
	_, err = repo.Insert(context.Background(), Prescription{PatientID: patient, Medicine: "new", PrescribedAt: t0.Add(time.Hour)})
	require.NoError(t, err)

	list, err := repo.ListForPatient(context.Background(), patient)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "new", list[0].Medicine)
}

type recordingAudit struct{ entries []audit.Entry }

func (r *recordingAudit) Record(ctx context.Context, entry audit.Entry) error {
	r.entries = append(r.entries, entry)
	return nil
}

type recordingNotifier struct {
	events []notify.Event
	err    error
}

func (n *recordingNotifier) Notify(ctx context.Context, evt notify.Event) error {
	n.events = append(n.events, evt)
	return n.err
}

type testEnv struct {
	router   http.Handler
	audit    *recordingAudit
	notifier *recordingNotifier
	doctor   directory.DoctorRef
	patient  directory.PatientRef
}

func newTestEnv() *testEnv {
	dir := directory.NewInMemoryRepository()
	env := &testEnv{
		audit:    &recordingAudit{},
		notifier: &recordingNotifier{},
		doctor:   dir.AddDoctor(directory.DoctorRef{Name: "Meredith Grey"}),
		patient:  dir.AddPatient(directory.PatientRef{Name: "Pat Doe", Email: "pat@example.com"}),
	}
	h := NewHandler(NewMemoryRepository(), dir, nil, nil).WithNotifier(env.notifier)
	h.audit = env.audit
	r := chi.NewRouter()
	r.Post("/patients/{patientID}/prescriptions", h.Prescribe)
	r.Get("/patients/{patientID}/prescriptions", h.List)
	env.router = r
	return env
}

func serve(router http.Handler, sess *session.Session, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if sess != nil {
		req = req.WithContext(session.NewContext(req.Context(), *sess))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

const prescribeBody = `{"medicine":"Paracetamol","dosage":"2 times a day","instructions":"Take after meals","duration_days":7,"refills":2}`

func TestHandlerPrescribeAndList(t *testing.T) {
	env := newTestEnv()
	base := "/patients/" + env.patient.ID.String() + "/prescriptions"
	doctor := &session.Session{UserID: env.doctor.ID, Role: session.RoleDoctor}

	rec := serve(env.router, doctor, http.MethodPost, base, prescribeBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var saved Prescription
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &saved))
	assert.Equal(t, env.doctor.ID, saved.DoctorID)
	assert.Equal(t, env.patient.ID, saved.PatientID)
	assert.Equal(t, StatusActive, saved.Status)

	require.Len(t, env.notifier.events, 1)
	evt := env.notifier.events[0]
	assert.Equal(t, EventPrescribed, evt.Type)
	assert.Equal(t, "pat@example.com", evt.Recipient.Email)
	assert.Equal(t, "Prescription Issued: Paracetamol", evt.Subject)
	assert.Contains(t, evt.Body, "Refills: 2")
	assert.Contains(t, evt.Body, "Dr. Meredith Grey")

	require.Len(t, env.audit.entries, 1)
	assert.Equal(t, audit.ActionPrescribed, env.audit.entries[0].Action)
	assert.Equal(t, doctor.Actor(), env.audit.entries[0].Actor)

	self := &session.Session{UserID: env.patient.ID, Role: session.RolePatient}
	rec = serve(env.router, self, http.MethodGet, base, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Prescriptions []Prescription `json:"prescriptions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Prescriptions, 1)
	assert.Equal(t, saved.ID, out.Prescriptions[0].ID)
}

func TestHandlerPrescribeAsAdminNamesDoctor(t *testing.T) {
	env := newTestEnv()
	base := "/patients/" + env.patient.ID.String() + "/prescriptions"
	admin := &session.Session{UserID: uuid.New(), Role: session.RoleAdmin}

	rec := serve(env.router, admin, http.MethodPost, base, prescribeBody)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "admin without doctor_id")

	body := fmt.Sprintf(`{"doctor_id":%q,"medicine":"Ibuprofen","dosage":"As needed","duration_days":3}`, env.doctor.ID)
	rec = serve(env.router, admin, http.MethodPost, base, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestHandlerPrescribeNotificationFailureStillStores(t *testing.T) {
	env := newTestEnv()
	env.notifier.err = errors.New("smtp down")
	base := "/patients/" + env.patient.ID.String() + "/prescriptions"
	doctor := &session.Session{UserID: env.doctor.ID, Role: session.RoleDoctor}

	rec := serve(env.router, doctor, http.MethodPost, base, prescribeBody)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = serve(env.router, doctor, http.MethodGet, base, "")
	assert.Contains(t, rec.Body.String(), "Paracetamol")
}

func TestHandlerPrescribeRejects(t *testing.T) {
	env := newTestEnv()
	base := "/patients/" + env.patient.ID.String() + "/prescriptions"
	doctor := &session.Session{UserID: env.doctor.ID, Role: session.RoleDoctor}
	self := &session.Session{UserID: env.patient.ID, Role: session.RolePatient}
	other := &session.Session{UserID: uuid.New(), Role: session.RolePatient}

	assert.Equal(t, http.StatusUnauthorized, serve(env.router, nil, http.MethodPost, base, prescribeBody).Code)
	assert.Equal(t, http.StatusForbidden, serve(env.router, self, http.MethodPost, base, prescribeBody).Code)
	assert.Equal(t, http.StatusForbidden, serve(env.router, other, http.MethodGet, base, "").Code)
	assert.Equal(t, http.StatusBadRequest, serve(env.router, doctor, http.MethodPost, base, `{`).Code)
	assert.Equal(t, http.StatusBadRequest, serve(env.router, doctor, http.MethodPost, base, `{"medicine":"X","dosage":"daily"}`).Code)
	assert.Equal(t, http.StatusBadRequest, serve(env.router, doctor, http.MethodPost, "/patients/nope/prescriptions", prescribeBody).Code)

	impersonate := fmt.Sprintf(`{"doctor_id":%q,"medicine":"X","dosage":"daily","duration_days":1}`, uuid.New())
	assert.Equal(t, http.StatusForbidden, serve(env.router, doctor, http.MethodPost, base, impersonate).Code)

	unknown := "/patients/" + uuid.New().String() + "/prescriptions"
	assert.Equal(t, http.StatusNotFound, serve(env.router, doctor, http.MethodPost, unknown, prescribeBody).Code)
	assert.Empty(t, env.audit.entries)
}
