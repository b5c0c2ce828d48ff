package notify

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/hospital-scheduling/pkg/logging"
)

var tracer = otel.Tracer("hospital.internal.notify")

// Service delivers events to their recipient over email and SMS.
type Service struct {
	email  EmailSender
	sms    SMSSender
	logger *logging.Logger
}

// NewService accepts nil senders; the missing channel is then skipped.
func NewService(email EmailSender, sms SMSSender, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{email: email, sms: sms, logger: logger}
}

// Notify sends evt on every channel the recipient has a contact for. Errors
// from the channels are joined; one failing channel does not stop the other.
func (s *Service) Notify(ctx context.Context, evt Event) error {
	ctx, span := tracer.Start(ctx, "notify.dispatch")
	defer span.End()
	span.SetAttributes(attribute.String("hospital.event_type", evt.Type))

	var errs []error
	sent := 0
	if evt.Recipient.Email != "" && s.email != nil {
		err := s.email.Send(ctx, EmailMessage{
			To:      evt.Recipient.Email,
			ToName:  evt.Recipient.Name,
			Subject: evt.Subject,
			Body:    evt.Body,
		})
		if err != nil {
			errs = append(errs, err)
		} else {
			sent++
		}
	}
	if evt.Recipient.Phone != "" && s.sms != nil {
		if err := s.sms.SendSMS(ctx, evt.Recipient.Phone, smsText(evt)); err != nil {
			errs = append(errs, err)
		} else {
			sent++
		}
	}
	if len(errs) > 0 {
		err := errors.Join(errs...)
		span.RecordError(err)
		s.logger.Warn("notification partially failed", "error", err, "type", evt.Type, "delivered", sent)
		return fmt.Errorf("notify: deliver %s: %w", evt.Type, err)
	}
	if sent == 0 {
		s.logger.Debug("notification had no deliverable channel", "type", evt.Type)
	}
	return nil
}

func smsText(evt Event) string {
	if evt.Subject == "" {
		return evt.Body
	}
	return evt.Subject + ": " + evt.Body
}
