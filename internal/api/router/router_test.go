package router

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

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/hospital-scheduling/internal/audit"
	"github.com/wolfman30/hospital-scheduling/internal/directory"
	httpmiddleware "github.com/wolfman30/hospital-scheduling/internal/http/middleware"
	"github.com/wolfman30/hospital-scheduling/internal/prescriptions"
	"github.com/wolfman30/hospital-scheduling/internal/scheduling"
	"github.com/wolfman30/hospital-scheduling/internal/session"
	"github.com/wolfman30/hospital-scheduling/internal/vitals"
	"github.com/wolfman30/hospital-scheduling/pkg/logging"
)

const testSecret = "router-test-secret"

type testEnv struct {
	handler http.Handler
	doctor  directory.DoctorRef
	patient directory.PatientRef
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	logger := logging.Default()

	dir := directory.NewInMemoryRepository()
	doctor := dir.AddDoctor(directory.DoctorRef{Name: "Dr. Grey", Specialization: "Cardiology"})
	patient := dir.AddPatient(directory.PatientRef{Name: "Pat Doe"})

	store := scheduling.NewMemoryStore()
	svc := scheduling.NewService(store, store, logger).WithDirectory(dir)

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "router_test_total", Help: "test"}))

	cfg := &Config{
		Logger:         logger,
		Scheduling:     scheduling.NewHandler(svc, logger),
		Directory:      directory.NewHandler(dir, logger),
		Vitals:         vitals.NewHandler(vitals.NewMemoryRepository(), nil, logger),
		Prescriptions:  prescriptions.NewHandler(prescriptions.NewMemoryRepository(), dir, nil, logger),
		Audit:          audit.NewHandler(nil, logger),
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		SessionSecret:  testSecret,
	}
	if mutate != nil {
		mutate(cfg)
	}
	return &testEnv{handler: New(cfg), doctor: doctor, patient: patient}
}

func token(t *testing.T, id uuid.UUID, role session.Role) string {
	t.Helper()
	tok, err := httpmiddleware.IssueToken(testSecret, session.Session{UserID: id, Role: role}, time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(method, path, tok, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func TestRouterHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestRouterHealthReportsFailingCheck(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.HealthCheck = func(context.Context) error { return errors.New("db down") }
	})

	rec := env.do(http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "db down")
}

func TestRouterMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "router_test_total")
}

func TestRouterRequiresSession(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/doctors", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(http.MethodGet, "/doctors", "not-a-jwt", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(http.MethodGet, "/doctors", token(t, env.patient.ID, session.RolePatient), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Dr. Grey")
}

func TestRouterBookingThroughSession(t *testing.T) {
	env := newTestEnv(t, nil)
	doctorTok := token(t, env.doctor.ID, session.RoleDoctor)
	patientTok := token(t, env.patient.ID, session.RolePatient)
	base := "/doctors/" + env.doctor.ID.String()

	rec := env.do(http.MethodPut, base+"/availability/2024-06-01", doctorTok, `{"start":"09:00","end":"12:00"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(http.MethodGet, base+"/slots?date=2024-06-01", patientTok, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":5`)

	body := fmt.Sprintf(`{"doctor_id":%q,"date":"2024-06-01","start":"10:00","end":"11:00"}`, env.doctor.ID)
	rec = env.do(http.MethodPost, "/appointments", patientTok, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(http.MethodPost, "/appointments", patientTok, body)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(http.MethodGet, "/patients/"+env.patient.ID.String()+"/commitments", patientTok, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), env.doctor.ID.String())
}

func TestRouterAdminLogsForbiddenForDoctors(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/admin/logs", token(t, env.doctor.ID, session.RoleDoctor), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRouterDevSessions(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) { cfg.DevSessions = true })

	req := httptest.NewRequest(http.MethodGet, "/doctors", nil)
	req.Header.Set("X-Debug-User", env.patient.ID.String())
	req.Header.Set("X-Debug-Role", "patient")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouterRateLimit(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) { cfg.RateLimiter = httpmiddleware.NewRateLimiter(0.001, 1) })
	tok := token(t, env.patient.ID, session.RolePatient)

	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/doctors", tok, "").Code)
	assert.Equal(t, http.StatusTooManyRequests, env.do(http.MethodGet, "/doctors", tok, "").Code)
}

func TestRouterCORSPreflightBeforeSession(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.DevSessions = true
		cfg.CORSAllowedOrigins = []string{"http://localhost:3000"}
	})

	req := httptest.NewRequest(http.MethodOptions, "/appointments", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "x-debug-user, x-debug-role")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-Debug-Role")
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouterPrescriptionsAndEmergency(t *testing.T) {
	env := newTestEnv(t, nil)
	doctorTok := token(t, env.doctor.ID, session.RoleDoctor)
	patientTok := token(t, env.patient.ID, session.RolePatient)
	base := "/patients/" + env.patient.ID.String()

	rec := env.do(http.MethodPost, base+"/prescriptions", doctorTok, `{"medicine":"Paracetamol","dosage":"1 time a day","duration_days":5}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(http.MethodGet, base+"/prescriptions", patientTok, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Paracetamol")

	rec = env.do(http.MethodPost, base+"/prescriptions", patientTok, `{"medicine":"X","dosage":"daily","duration_days":1}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(http.MethodPost, base+"/emergency", patientTok, fmt.Sprintf(`{"doctor_id":%q}`, env.doctor.ID))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var alert scheduling.EmergencyAlert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &alert))
	assert.Equal(t, env.doctor.ID, alert.DoctorID)
}
