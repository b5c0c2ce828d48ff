package vitals

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/hospital-scheduling/internal/audit"
	"github.com/wolfman30/hospital-scheduling/internal/session"
	"github.com/wolfman30/hospital-scheduling/pkg/logging"
)

// Repository stores readings.
type Repository interface {
	Insert(ctx context.Context, r Reading) (Reading, error)
	ListForPatient(ctx context.Context, patientID uuid.UUID) ([]Reading, error)
}

type auditRecorder interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// Handler serves vital uploads and series.
type Handler struct {
	repo   Repository
	audit  auditRecorder
	logger *logging.Logger
}

// NewHandler accepts a nil recorder, in which case uploads are not logged to the system log.
func NewHandler(repo Repository, recorder *audit.Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	h := &Handler{repo: repo, logger: logger}
	if recorder != nil {
		h.audit = recorder
	}
	return h
}

type uploadResponse struct {
	Readings []Reading `json:"readings"`
	Abnormal int       `json:"abnormal"`
	Skipped  int       `json:"skipped"`
}

// Record handles POST /patients/{patientID}/vitals. A JSON body holds one
// reading; a text/csv body holds many.
func (h *Handler) Record(w http.ResponseWriter, r *http.Request) {
	patientID, ok := h.patient(w, r)
	if !ok {
		return
	}
	if !authorized(w, r, patientID) {
		return
	}

	var (
		readings []Reading
		skipped  int
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "text/csv" {
		var err error
		readings, skipped, err = ParseCSV(r.Body, patientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	} else {
		var reading Reading
		if err := json.NewDecoder(r.Body).Decode(&reading); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		reading.ID = uuid.Nil
		reading.PatientID = patientID
		if err := reading.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		readings = []Reading{reading}
	}

	resp := uploadResponse{Readings: make([]Reading, 0, len(readings)), Skipped: skipped}
	for _, reading := range readings {
		saved, err := h.repo.Insert(r.Context(), reading)
		if err != nil {
			h.logger.Error("vitals insert failed", "error", err, "patient_id", patientID)
			writeError(w, http.StatusServiceUnavailable, http.StatusText(http.StatusServiceUnavailable))
			return
		}
		if saved.Abnormal() {
			resp.Abnormal++
			h.logger.Warn("abnormal vitals recorded", "patient_id", patientID, "reading_id", saved.ID)
		}
		resp.Readings = append(resp.Readings, saved)
	}
	h.record(r.Context(), fmt.Sprintf("%d vital readings recorded for patient %s (%d abnormal, %d skipped)", len(resp.Readings), patientID, resp.Abnormal, skipped))
	writeJSON(w, http.StatusCreated, resp)
}

// Series handles GET /patients/{patientID}/vitals/{kind}.
func (h *Handler) Series(w http.ResponseWriter, r *http.Request) {
	patientID, ok := h.patient(w, r)
	if !ok {
		return
	}
	if !authorized(w, r, patientID) {
		return
	}
	kind, err := ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	readings, err := h.repo.ListForPatient(r.Context(), patientID)
	if err != nil {
		h.logger.Error("vitals list failed", "error", err, "patient_id", patientID)
		writeError(w, http.StatusServiceUnavailable, http.StatusText(http.StatusServiceUnavailable))
		return
	}
	writeJSON(w, http.StatusOK, BuildSeries(kind, readings))
}

func (h *Handler) patient(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "patientID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "patientID must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

// authorized lets patients see their own vitals and any doctor or admin see all.
func authorized(w http.ResponseWriter, r *http.Request, patientID uuid.UUID) bool {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "session required")
		return false
	}
	if sess.Role == session.RoleDoctor || sess.ActsFor(session.RolePatient, patientID) {
		return true
	}
	writeError(w, http.StatusForbidden, "forbidden")
	return false
}

func (h *Handler) record(ctx context.Context, description string) {
	if h.audit == nil {
		return
	}
	actor := "system"
	if sess, ok := session.FromContext(ctx); ok {
		actor = sess.Actor()
	}
	if err := h.audit.Record(ctx, audit.Entry{Actor: actor, Action: audit.ActionVitalsRecorded, Description: description}); err != nil {
		h.logger.Warn("system log write failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
