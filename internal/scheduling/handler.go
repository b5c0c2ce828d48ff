package scheduling

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/hospital-scheduling/internal/session"
	"github.com/wolfman30/hospital-scheduling/pkg/logging"
)

// Handler exposes the engine over HTTP.
type Handler struct {
	service *Service
	logger  *logging.Logger
}

func NewHandler(service *Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, logger: logger}
}

type availabilityRequest struct {
	Start *TimeOfDay `json:"start"`
	End   *TimeOfDay `json:"end"`
}

type bookingRequest struct {
	DoctorID  uuid.UUID  `json:"doctor_id"`
	PatientID uuid.UUID  `json:"patient_id"`
	Date      Date       `json:"date"`
	Start     *TimeOfDay `json:"start"`
	End       *TimeOfDay `json:"end"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type rescheduleRequest struct {
	Date Date `json:"date"`
}

// DeclareAvailability handles PUT /doctors/{doctorID}/availability/{date}.
func (h *Handler) DeclareAvailability(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := h.uuidParam(w, r, "doctorID")
	if !ok {
		return
	}
	if !h.authorize(w, r, func(s session.Session) bool { return s.ActsFor(session.RoleDoctor, doctorID) }) {
		return
	}
	date, err := ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req availabilityRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Start == nil || req.End == nil {
		h.writeError(w, &ValidationError{Field: "window", Reason: "start and end are required"})
		return
	}
	window, err := h.service.DeclareAvailability(r.Context(), doctorID, date, *req.Start, *req.End)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, window)
}

// ListAvailability handles GET /doctors/{doctorID}/availability?from=&to=.
func (h *Handler) ListAvailability(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := h.uuidParam(w, r, "doctorID")
	if !ok {
		return
	}
	from, err := ParseDate(r.URL.Query().Get("from"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	to := from.AddDays(6)
	if raw := r.URL.Query().Get("to"); raw != "" {
		if to, err = ParseDate(raw); err != nil {
			h.writeError(w, err)
			return
		}
	}
	windows, err := h.service.Availability(r.Context(), doctorID, from, to)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"windows": windows})
}

// ListSlots handles GET /doctors/{doctorID}/slots?date=&duration=&step=&kind=.
func (h *Handler) ListSlots(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := h.uuidParam(w, r, "doctorID")
	if !ok {
		return
	}
	query := r.URL.Query()
	date, err := ParseDate(query.Get("date"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	var slots []Slot
	if Kind(query.Get("kind")) == KindVideoCall {
		slots, err = h.service.ListVideoCallSlots(r.Context(), doctorID, date)
	} else {
		var q SlotQuery
		if q.Duration, err = minutesParam(query.Get("duration"), "duration"); err != nil {
			h.writeError(w, err)
			return
		}
		if q.Step, err = minutesParam(query.Get("step"), "step"); err != nil {
			h.writeError(w, err)
			return
		}
		slots, err = h.service.ListAvailableSlots(r.Context(), doctorID, date, q)
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"slots": slots, "count": len(slots)})
}

func minutesParam(raw, field string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, &ValidationError{Field: field, Reason: "must be a positive number of minutes"}
	}
	return time.Duration(n) * time.Minute, nil
}

// DoctorCommitments handles GET /doctors/{doctorID}/commitments?date=.
func (h *Handler) DoctorCommitments(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := h.uuidParam(w, r, "doctorID")
	if !ok {
		return
	}
	if !h.authorize(w, r, func(s session.Session) bool { return s.ActsFor(session.RoleDoctor, doctorID) }) {
		return
	}
	date, err := ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	out, err := h.service.CommitmentsForDoctor(r.Context(), doctorID, date)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"commitments": out})
}

// PatientCommitments handles GET /patients/{patientID}/commitments.
func (h *Handler) PatientCommitments(w http.ResponseWriter, r *http.Request) {
	patientID, ok := h.uuidParam(w, r, "patientID")
	if !ok {
		return
	}
	if !h.authorize(w, r, func(s session.Session) bool {
		return s.Role == session.RoleDoctor || s.ActsFor(session.RolePatient, patientID)
	}) {
		return
	}
	out, err := h.service.CommitmentsForPatient(r.Context(), patientID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"commitments": out})
}

// BookAppointment handles POST /appointments. A patient session always books for itself.
func (h *Handler) BookAppointment(w http.ResponseWriter, r *http.Request) {
	var req bookingRequest
	if !h.decode(w, r, &req) {
		return
	}
	patientID, ok := h.bookingPatient(w, r, req.PatientID)
	if !ok {
		return
	}
	if req.Start == nil || req.End == nil {
		h.writeError(w, &ValidationError{Field: "time", Reason: "start and end are required"})
		return
	}
	c, err := h.service.Book(r.Context(), BookingRequest{
		DoctorID:  req.DoctorID,
		PatientID: patientID,
		Date:      req.Date,
		Start:     *req.Start,
		End:       *req.End,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// BookVideoCall handles POST /video-calls.
func (h *Handler) BookVideoCall(w http.ResponseWriter, r *http.Request) {
	var req bookingRequest
	if !h.decode(w, r, &req) {
		return
	}
	patientID, ok := h.bookingPatient(w, r, req.PatientID)
	if !ok {
		return
	}
	if req.Start == nil {
		h.writeError(w, &ValidationError{Field: "start", Reason: "required"})
		return
	}
	c, err := h.service.BookVideoCall(r.Context(), VideoCallRequest{
		DoctorID:  req.DoctorID,
		PatientID: patientID,
		Date:      req.Date,
		Start:     *req.Start,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *Handler) bookingPatient(w http.ResponseWriter, r *http.Request, requested uuid.UUID) (uuid.UUID, bool) {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "session required"})
		return uuid.Nil, false
	}
	switch sess.Role {
	case session.RolePatient:
		if requested != uuid.Nil && requested != sess.UserID {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "patients book for themselves"})
			return uuid.Nil, false
		}
		return sess.UserID, true
	case session.RoleAdmin:
		return requested, true
	default:
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "only patients book appointments"})
		return uuid.Nil, false
	}
}

// UpdateAppointmentStatus handles POST /appointments/{id}/status.
func (h *Handler) UpdateAppointmentStatus(w http.ResponseWriter, r *http.Request) {
	h.updateStatus(w, r, KindAppointment)
}

// UpdateVideoCallStatus handles POST /video-calls/{id}/status.
func (h *Handler) UpdateVideoCallStatus(w http.ResponseWriter, r *http.Request) {
	h.updateStatus(w, r, KindVideoCall)
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request, kind Kind) {
	id, ok := h.uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req statusRequest
	if !h.decode(w, r, &req) {
		return
	}
	to, err := ParseStatus(req.Status)
	if err != nil {
		h.writeError(w, err)
		return
	}
	c, err := h.service.Commitment(r.Context(), kind, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	// Doctors manage their own commitments; patients may only cancel theirs.
	if !h.authorize(w, r, func(s session.Session) bool {
		if s.ActsFor(session.RoleDoctor, c.DoctorID) {
			return true
		}
		return to == StatusCancelled && s.ActsFor(session.RolePatient, c.PatientID)
	}) {
		return
	}
	updated, err := h.service.UpdateStatus(r.Context(), kind, id, to)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// Reschedule handles POST /appointments/{id}/reschedule.
func (h *Handler) Reschedule(w http.ResponseWriter, r *http.Request) {
	id, ok := h.uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req rescheduleRequest
	if !h.decode(w, r, &req) {
		return
	}
	c, err := h.service.Commitment(r.Context(), KindAppointment, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !h.authorize(w, r, func(s session.Session) bool { return s.ActsFor(session.RoleDoctor, c.DoctorID) }) {
		return
	}
	moved, err := h.service.Reschedule(r.Context(), id, req.Date)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, moved)
}

type emergencyRequest struct {
	DoctorID uuid.UUID `json:"doctor_id"`
	Message  string    `json:"message"`
}

// RaiseEmergency handles POST /patients/{patientID}/emergency. The body is
// optional; without doctor_id the patient's current doctor is alerted.
func (h *Handler) RaiseEmergency(w http.ResponseWriter, r *http.Request) {
	patientID, ok := h.uuidParam(w, r, "patientID")
	if !ok {
		return
	}
	if !h.authorize(w, r, func(s session.Session) bool { return s.ActsFor(session.RolePatient, patientID) }) {
		return
	}
	var req emergencyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	alert, err := h.service.RaiseEmergency(r.Context(), patientID, req.DoctorID, req.Message)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, alert)
}

func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, allowed func(session.Session) bool) bool {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "session required"})
		return false
	}
	if !allowed(sess) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
		return false
	}
	return true
}

func (h *Handler) uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		h.writeError(w, &ValidationError{Field: name, Reason: "must be a UUID"})
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, ErrValidation) {
			h.writeError(w, err)
			return false
		}
		h.logger.Warn("failed to decode request", "error", err, "path", r.URL.Path)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

// StatusCode maps engine errors onto HTTP status codes.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrSlotUnavailable), errors.Is(err, ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrTransactionFailed):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrAlertUndelivered):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := StatusCode(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		h.logger.Error("scheduling request failed", "error", err)
		msg = http.StatusText(status)
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
