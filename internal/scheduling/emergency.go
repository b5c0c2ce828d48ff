package scheduling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/hospital-scheduling/internal/audit"
)

// EmergencyAlert is a patient's call for immediate attention from a doctor.
type EmergencyAlert struct {
	ID        uuid.UUID `json:"id"`
	PatientID uuid.UUID `json:"patient_id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	Message   string    `json:"message,omitempty"`
	RaisedAt  time.Time `json:"raised_at"`
	// Notified is false when no notifier is configured or the doctor has no contact.
	Notified bool `json:"notified"`
}

// RaiseEmergency alerts a doctor about the patient. With a nil doctorID the
// doctor of the patient's latest live commitment is alerted. Unlike booking
// notifications, a failed send is returned to the caller.
func (s *Service) RaiseEmergency(ctx context.Context, patientID, doctorID uuid.UUID, message string) (*EmergencyAlert, error) {
	if patientID == uuid.Nil {
		return nil, &ValidationError{Field: "patient_id", Reason: "required"}
	}
	if doctorID == uuid.Nil {
		var err error
		if doctorID, err = s.attendingDoctor(ctx, patientID); err != nil {
			return nil, err
		}
	}
	doctor, patient, err := s.parties(ctx, doctorID, patientID)
	if err != nil {
		return nil, err
	}

	alert := EmergencyAlert{
		ID:        uuid.New(),
		PatientID: patientID,
		DoctorID:  doctorID,
		Message:   strings.TrimSpace(message),
		RaisedAt:  time.Now().UTC(),
	}
	s.logger.Warn("emergency alert raised", "alert_id", alert.ID, "patient_id", patientID, "doctor_id", doctorID)
	s.record(ctx, audit.ActionEmergencyRaised, fmt.Sprintf("emergency alert %s from patient %s sent to doctor %s", alert.ID, patientID, doctorID))

	evt := emergencyEvent(alert, doctor, patient)
	if s.notifier == nil || (evt.Recipient.Email == "" && evt.Recipient.Phone == "") {
		s.metrics.ObserveNotification("skipped")
		s.logger.Error("emergency alert has no delivery channel", "alert_id", alert.ID, "doctor_id", doctorID)
		return &alert, nil
	}
	if err := s.notifier.Notify(ctx, evt); err != nil {
		s.metrics.ObserveNotification("failed")
		return nil, fmt.Errorf("%w: %w", ErrAlertUndelivered, err)
	}
	s.metrics.ObserveNotification("sent")
	alert.Notified = true
	return &alert, nil
}

// attendingDoctor picks the doctor of the patient's latest commitment that is
// neither cancelled nor rejected.
func (s *Service) attendingDoctor(ctx context.Context, patientID uuid.UUID) (uuid.UUID, error) {
	commitments, err := s.commitments.ListForPatient(ctx, patientID)
	if err != nil {
		return uuid.Nil, classify("list patient commitments", err)
	}
	var latest *Commitment
	for i := range commitments {
		c := &commitments[i]
		if !c.Status.Blocking() {
			continue
		}
		if latest == nil || c.StartsAt.After(latest.StartsAt) {
			latest = c
		}
	}
	if latest == nil {
		return uuid.Nil, fmt.Errorf("%w: no doctor on record for patient %s", ErrNotFound, patientID)
	}
	return latest.DoctorID, nil
}
