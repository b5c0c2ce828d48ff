package prescriptions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/hospital-scheduling/internal/audit"
	"github.com/wolfman30/hospital-scheduling/internal/directory"
	"github.com/wolfman30/hospital-scheduling/internal/notify"
	"github.com/wolfman30/hospital-scheduling/internal/session"
	"github.com/wolfman30/hospital-scheduling/pkg/logging"
)

// EventPrescribed is the notification type sent to the patient.
const EventPrescribed = "prescription.issued"

// Repository stores prescriptions.
type Repository interface {
	Insert(ctx context.Context, p Prescription) (Prescription, error)
	ListForPatient(ctx context.Context, patientID uuid.UUID) ([]Prescription, error)
}

// Directory resolves the doctor and patient named on a prescription.
type Directory interface {
	Doctor(ctx context.Context, id uuid.UUID) (directory.DoctorRef, error)
	Patient(ctx context.Context, id uuid.UUID) (directory.PatientRef, error)
}

// Notifier tells the patient about a new prescription.
type Notifier interface {
	Notify(ctx context.Context, evt notify.Event) error
}

type auditRecorder interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// Handler serves prescribing and prescription history.
type Handler struct {
	repo     Repository
	people   Directory
	notifier Notifier
	audit    auditRecorder
	logger   *logging.Logger
}

// NewHandler accepts a nil recorder, in which case prescriptions are not
// written to the system log.
func NewHandler(repo Repository, people Directory, recorder *audit.Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	h := &Handler{repo: repo, people: people, logger: logger}
	if recorder != nil {
		h.audit = recorder
	}
	return h
}

func (h *Handler) WithNotifier(n Notifier) *Handler {
	h.notifier = n
	return h
}

type prescribeRequest struct {
	DoctorID     uuid.UUID `json:"doctor_id"`
	Medicine     string    `json:"medicine"`
	Dosage       string    `json:"dosage"`
	Instructions string    `json:"instructions"`
	DurationDays int       `json:"duration_days"`
	Refills      int       `json:"refills"`
}

// Prescribe handles POST /patients/{patientID}/prescriptions. Doctors
// prescribe as themselves; admins must name the doctor.
func (h *Handler) Prescribe(w http.ResponseWriter, r *http.Request) {
	patientID, ok := patientParam(w, r)
	if !ok {
		return
	}
	sess, ok := session.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "session required")
		return
	}
	var req prescribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	switch sess.Role {
	case session.RoleDoctor:
		if req.DoctorID != uuid.Nil && req.DoctorID != sess.UserID {
			writeError(w, http.StatusForbidden, "doctors prescribe as themselves")
			return
		}
		req.DoctorID = sess.UserID
	case session.RoleAdmin:
	default:
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	p := Prescription{
		PatientID:    patientID,
		DoctorID:     req.DoctorID,
		Medicine:     req.Medicine,
		Dosage:       req.Dosage,
		Instructions: req.Instructions,
		DurationDays: req.DurationDays,
		Refills:      req.Refills,
	}.Normalize()
	if err := p.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	doctor, patient, err := h.parties(r.Context(), p)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.logger.Error("prescription lookup failed", "error", err, "patient_id", patientID)
		writeError(w, http.StatusServiceUnavailable, http.StatusText(http.StatusServiceUnavailable))
		return
	}

	saved, err := h.repo.Insert(r.Context(), p)
	if err != nil {
		h.logger.Error("prescription insert failed", "error", err, "patient_id", patientID)
		writeError(w, http.StatusServiceUnavailable, http.StatusText(http.StatusServiceUnavailable))
		return
	}
	h.record(r.Context(), fmt.Sprintf("%s prescribed to patient %s by doctor %s", saved.Medicine, saved.PatientID, saved.DoctorID))
	h.notify(r.Context(), prescribedEvent(saved, doctor, patient))
	writeJSON(w, http.StatusCreated, saved)
}

// List handles GET /patients/{patientID}/prescriptions.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	patientID, ok := patientParam(w, r)
	if !ok {
		return
	}
	sess, ok := session.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "session required")
		return
	}
	if sess.Role != session.RoleDoctor && !sess.ActsFor(session.RolePatient, patientID) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	out, err := h.repo.ListForPatient(r.Context(), patientID)
	if err != nil {
		h.logger.Error("prescription list failed", "error", err, "patient_id", patientID)
		writeError(w, http.StatusServiceUnavailable, http.StatusText(http.StatusServiceUnavailable))
		return
	}
	if out == nil {
		out = []Prescription{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"prescriptions": out})
}

func (h *Handler) parties(ctx context.Context, p Prescription) (directory.DoctorRef, directory.PatientRef, error) {
	doctor := directory.DoctorRef{ID: p.DoctorID}
	patient := directory.PatientRef{ID: p.PatientID}
	if h.people == nil {
		return doctor, patient, nil
	}
	var err error
	if doctor, err = h.people.Doctor(ctx, p.DoctorID); err != nil {
		return doctor, patient, fmt.Errorf("doctor %s: %w", p.DoctorID, err)
	}
	if patient, err = h.people.Patient(ctx, p.PatientID); err != nil {
		return doctor, patient, fmt.Errorf("patient %s: %w", p.PatientID, err)
	}
	return doctor, patient, nil
}

func prescribedEvent(p Prescription, doctor directory.DoctorRef, patient directory.PatientRef) notify.Event {
	instructions := p.Instructions
	if instructions == "" {
		instructions = "N/A"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Dear %s,\n\n", nameOr(patient.Name, "patient"))
	fmt.Fprintf(&b, "Dr. %s has issued a new prescription for you.\n\n", nameOr(doctor.Name, ""))
	fmt.Fprintf(&b, "Medicine: %s\nDosage: %s\nDuration: %d day(s)\nRefills: %d\nInstructions: %s\n",
		p.Medicine, p.Dosage, p.DurationDays, p.Refills, instructions)
	fmt.Fprintf(&b, "Issued on: %s", p.PrescribedAt.Format("2006-01-02"))
	return notify.Event{
		Type:       EventPrescribed,
		Subject:    "Prescription Issued: " + p.Medicine,
		Body:       b.String(),
		Recipient:  notify.Recipient{Name: patient.Name, Email: patient.Email},
		OccurredAt: p.PrescribedAt,
	}
}

func nameOr(name, fallback string) string {
	if strings.TrimSpace(name) == "" {
		return fallback
	}
	return name
}

// notify is best-effort; the prescription is already stored.
func (h *Handler) notify(ctx context.Context, evt notify.Event) {
	if h.notifier == nil || evt.Recipient.Email == "" {
		return
	}
	if err := h.notifier.Notify(ctx, evt); err != nil {
		h.logger.Warn("prescription notification failed", "error", err, "type", evt.Type)
	}
}

func (h *Handler) record(ctx context.Context, description string) {
	if h.audit == nil {
		return
	}
	actor := "system"
	if sess, ok := session.FromContext(ctx); ok {
		actor = sess.Actor()
	}
	if err := h.audit.Record(ctx, audit.Entry{Actor: actor, Action: audit.ActionPrescribed, Description: description}); err != nil {
		h.logger.Warn("system log write failed", "error", err)
	}
}

func patientParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "patientID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "patientID must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
