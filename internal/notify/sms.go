package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/hospital-scheduling/pkg/logging"
)

// SMSSender sends SMS messages.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

const twilioAPIBase = "https://api.twilio.com"

// TwilioSender posts SMS messages using Twilio's REST API.
type TwilioSender struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	backoff    time.Duration
	httpClient *http.Client
	logger     *logging.Logger
}

// NewTwilioSender returns nil when credentials are missing.
func NewTwilioSender(accountSID, authToken, from string, logger *logging.Logger) *TwilioSender {
	if accountSID == "" || authToken == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &TwilioSender{
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		baseURL:    twilioAPIBase,
		backoff:    250 * time.Millisecond,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// SendSMS dispatches one message, retrying 5xx and 429 responses up to three times.
func (s *TwilioSender) SendSMS(ctx context.Context, to, body string) error {
	if to == "" {
		return errors.New("notify: sms recipient required")
	}
	if s.from == "" {
		return errors.New("notify: sms sender number required")
	}
	if strings.TrimSpace(body) == "" {
		return errors.New("notify: sms body required")
	}

	ctx, span := tracer.Start(ctx, "notify.twilio.send")
	defer span.End()
	span.SetAttributes(attribute.String("hospital.sms_to", to))

	payload := url.Values{}
	payload.Set("To", to)
	payload.Set("From", s.from)
	payload.Set("Body", body)
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.baseURL, s.accountSID)

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		retry, err := s.post(ctx, endpoint, payload)
		if err == nil {
			s.logger.Info("twilio sms sent", "to", to, "attempt", attempt)
			return nil
		}
		lastErr = err
		if !retry || attempt == 3 {
			break
		}
		select {
		case <-ctx.Done():
			span.RecordError(ctx.Err())
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * s.backoff):
		}
	}
	span.RecordError(lastErr)
	return lastErr
}

func (s *TwilioSender) post(ctx context.Context, endpoint string, payload url.Values) (retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(payload.Encode()))
	if err != nil {
		return false, err
	}
	req.SetBasicAuth(s.accountSID, s.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return true, fmt.Errorf("notify: twilio request: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return false, nil
	}
	err = fmt.Errorf("notify: twilio send failed: %s", formatTwilioError(resp.StatusCode, raw))
	return resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500, err
}

type twilioAPIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func formatTwilioError(status int, body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return fmt.Sprintf("status %d", status)
	}
	var parsed twilioAPIError
	if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil && parsed.Message != "" {
		if parsed.Code != 0 {
			return fmt.Sprintf("status %d code %d: %s", status, parsed.Code, parsed.Message)
		}
		return fmt.Sprintf("status %d: %s", status, parsed.Message)
	}
	return fmt.Sprintf("status %d: %s", status, trimmed)
}
