package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/wolfman30/hospital-scheduling/internal/session"
	"github.com/wolfman30/hospital-scheduling/pkg/logging"
)

func TestRequestLoggerRecordsStatusAndActor(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithWriter(&buf, "info")
	user := uuid.New()

	handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	req := httptest.NewRequest(http.MethodGet, "/doctors", nil)
	req.Header.Set("X-Request-ID", "req-1")
	req = req.WithContext(session.NewContext(req.Context(), session.Session{UserID: user, Role: session.RoleDoctor}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))
	out := buf.String()
	assert.Contains(t, out, `"status":418`)
	assert.Contains(t, out, `"request_id":"req-1"`)
	assert.Contains(t, out, `"actor":"doctor:`+user.String()+`"`)
}
