package scheduling

import (
	"context"
	"fmt"
	"strings"

	"github.com/wolfman30/hospital-scheduling/internal/directory"
	"github.com/wolfman30/hospital-scheduling/internal/notify"
)

// Notifier receives fire-and-forget notification events after a commit.
type Notifier interface {
	Notify(ctx context.Context, evt notify.Event) error
}

const (
	EventBookingRequested   = "booking.requested"
	EventStatusChanged      = "commitment.status_changed"
	EventVideoCallConfirmed = "video_call.confirmed"
	EventRescheduled        = "appointment.rescheduled"
	EventEmergency          = "emergency.raised"
)

func doctorRecipient(d directory.DoctorRef) notify.Recipient {
	return notify.Recipient{Name: d.Name, Email: d.Email, Phone: d.Phone}
}

func patientRecipient(p directory.PatientRef) notify.Recipient {
	return notify.Recipient{Name: p.Name, Email: p.Email, Phone: p.Phone}
}

func describe(c Commitment) string {
	if c.Kind == KindVideoCall {
		return fmt.Sprintf("video call on %s at %s", c.Date, c.Start)
	}
	return fmt.Sprintf("appointment on %s from %s to %s", c.Date, c.Start, c.End)
}

func bookingRequestedEvent(c Commitment, doctor directory.DoctorRef, patient directory.PatientRef) notify.Event {
	what := "Appointment"
	if c.Kind == KindVideoCall {
		what = "Video Call"
	}
	return notify.Event{
		Type:      EventBookingRequested,
		Subject:   fmt.Sprintf("New %s Request from %s", what, displayName(patient.Name, "a patient")),
		Body:      fmt.Sprintf("Dear Dr. %s,\n\n%s has requested a %s. Please review it in your dashboard.", displayName(doctor.Name, ""), displayName(patient.Name, "A patient"), describe(c)),
		Recipient: doctorRecipient(doctor),
	}
}

func statusChangedEvent(c Commitment, patient directory.PatientRef) notify.Event {
	word := titleStatus(c.Status)
	return notify.Event{
		Type:      EventStatusChanged,
		Subject:   fmt.Sprintf("Your Appointment Has Been %s", word),
		Body:      fmt.Sprintf("Dear %s,\n\nYour %s has been %s.", displayName(patient.Name, "patient"), describe(c), strings.ToLower(word)),
		Recipient: patientRecipient(patient),
	}
}

func videoCallConfirmedEvents(c Commitment, doctor directory.DoctorRef, patient directory.PatientRef) []notify.Event {
	body := fmt.Sprintf("The %s between Dr. %s and %s is confirmed.\n\nJoin here: %s",
		describe(c), displayName(doctor.Name, ""), displayName(patient.Name, "the patient"), c.MeetingLink)
	return []notify.Event{
		{Type: EventVideoCallConfirmed, Subject: "Video Call Appointment Confirmed", Body: body, Recipient: patientRecipient(patient)},
		{Type: EventVideoCallConfirmed, Subject: "Video Call Appointment Confirmed", Body: body, Recipient: doctorRecipient(doctor)},
	}
}

func rescheduledEvent(c Commitment, patient directory.PatientRef) notify.Event {
	return notify.Event{
		Type:      EventRescheduled,
		Subject:   "Your Appointment Has Been Rescheduled",
		Body:      fmt.Sprintf("Dear %s,\n\nYour appointment has been moved to %s.", displayName(patient.Name, "patient"), describe(c)),
		Recipient: patientRecipient(patient),
	}
}

func emergencyEvent(a EmergencyAlert, doctor directory.DoctorRef, patient directory.PatientRef) notify.Event {
	name := displayName(patient.Name, "A patient")
	var b strings.Builder
	fmt.Fprintf(&b, "Dear Dr. %s,\n\n%s has raised an emergency alert.\n", displayName(doctor.Name, ""), name)
	if patient.Phone != "" {
		fmt.Fprintf(&b, "Phone: %s\n", patient.Phone)
	}
	if patient.Email != "" {
		fmt.Fprintf(&b, "Email: %s\n", patient.Email)
	}
	if a.Message != "" {
		fmt.Fprintf(&b, "Message: %s\n", a.Message)
	}
	b.WriteString("\nPlease check on them immediately.")
	return notify.Event{
		ID:         a.ID,
		Type:       EventEmergency,
		Subject:    "Emergency Alert: Immediate Attention Needed",
		Body:       b.String(),
		Recipient:  doctorRecipient(doctor),
		OccurredAt: a.RaisedAt,
	}
}

func titleStatus(s Status) string {
	if s == "" {
		return ""
	}
	return strings.ToUpper(string(s[:1])) + string(s[1:])
}

func displayName(name, fallback string) string {
	if strings.TrimSpace(name) == "" {
		return fallback
	}
	return name
}
