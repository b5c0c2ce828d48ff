package bootstrap

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	appconfig "github.com/wolfman30/hospital-scheduling/internal/config"
	"github.com/wolfman30/hospital-scheduling/internal/events"
	"github.com/wolfman30/hospital-scheduling/internal/notify"
	"github.com/wolfman30/hospital-scheduling/internal/scheduling"
	"github.com/wolfman30/hospital-scheduling/pkg/logging"
)

// Notification modes accepted by NOTIFY_MODE.
const (
	NotifyModeDirect = "direct"
	NotifyModeOutbox = "outbox"
	NotifyModeSQS    = "sqs"
	NotifyModeOff    = "off"
)

// NotifierDeps carries the optional collaborators a notification mode may need.
type NotifierDeps struct {
	// Outbox is required for NOTIFY_MODE=outbox.
	Outbox *events.OutboxStore
	// AWS is required for NOTIFY_MODE=sqs and EMAIL_PROVIDER=ses.
	AWS *aws.Config
}

// BuildEmailSender picks the email provider named by EMAIL_PROVIDER.
func BuildEmailSender(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) (notify.EmailSender, error) {
	if logger == nil {
		logger = logging.Default()
	}
	switch cfg.EmailProvider {
	case "", "stub":
		return notify.NewStubEmailSender(logger), nil
	case "sendgrid":
		sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger)
		if sender == nil {
			return nil, fmt.Errorf("bootstrap: SENDGRID_API_KEY required for sendgrid email")
		}
		return sender, nil
	case "ses":
		if awsCfg == nil {
			return nil, fmt.Errorf("bootstrap: aws config required for ses email")
		}
		if cfg.SESFromEmail == "" {
			return nil, fmt.Errorf("bootstrap: SES_FROM_EMAIL required for ses email")
		}
		return notify.NewSESSender(sesv2.NewFromConfig(*awsCfg), notify.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SESFromName,
		}, logger), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown email provider %q", cfg.EmailProvider)
	}
}

// BuildDeliveryService wires the email and SMS channels used to actually
// deliver notifications. SMS is skipped without Twilio credentials.
func BuildDeliveryService(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) (*notify.Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	email, err := BuildEmailSender(cfg, awsCfg, logger)
	if err != nil {
		return nil, err
	}
	var sms notify.SMSSender
	if twilio := notify.NewTwilioSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber, logger); twilio != nil {
		sms = twilio
	} else {
		logger.Info("twilio not configured; sms notifications disabled")
	}
	return notify.NewService(email, sms, logger), nil
}

// BuildNotifier selects the scheduling notifier for NOTIFY_MODE. Mode "off"
// returns a nil notifier.
func BuildNotifier(cfg *appconfig.Config, deps NotifierDeps, logger *logging.Logger) (scheduling.Notifier, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	switch cfg.NotifyMode {
	case NotifyModeOff:
		logger.Info("notifications disabled")
		return nil, nil
	case "", NotifyModeDirect:
		svc, err := BuildDeliveryService(cfg, deps.AWS, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("notifications delivered inline", "email_provider", cfg.EmailProvider)
		return svc, nil
	case NotifyModeOutbox:
		if deps.Outbox == nil {
			return nil, fmt.Errorf("bootstrap: outbox notifications require a database")
		}
		logger.Info("notifications queued in outbox")
		return notify.NewOutboxNotifier(deps.Outbox), nil
	case NotifyModeSQS:
		if deps.AWS == nil {
			return nil, fmt.Errorf("bootstrap: aws config required for sqs notifications")
		}
		if cfg.NotifyQueueURL == "" {
			return nil, fmt.Errorf("bootstrap: NOTIFY_QUEUE_URL required for sqs notifications")
		}
		logger.Info("notifications published to sqs", "queue_url", cfg.NotifyQueueURL)
		return notify.NewSQSPublisher(sqs.NewFromConfig(*deps.AWS), cfg.NotifyQueueURL, logger), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown notify mode %q", cfg.NotifyMode)
	}
}
