package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSendGridSender_NilWithoutAPIKey(t *testing.T) {
	assert.Nil(t, NewSendGridSender(SendGridConfig{FromEmail: "desk@example.com"}, nil))
}

func TestNewSendGridSender_DefaultFromName(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{APIKey: "test-key", FromEmail: "desk@example.com"}, nil)
	require.NotNil(t, sender)
	assert.Equal(t, "City Hospital", sender.fromName)

	custom := NewSendGridSender(SendGridConfig{APIKey: "test-key", FromEmail: "desk@example.com", FromName: "North Wing"}, nil)
	require.NotNil(t, custom)
	assert.Equal(t, "North Wing", custom.fromName)
}

func TestSendGridSender_SendPostsMail(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/mail/send", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sender := NewSendGridSender(SendGridConfig{APIKey: "test-key", FromEmail: "desk@example.com", BaseURL: srv.URL}, nil)
	require.NotNil(t, sender)

	err := sender.Send(context.Background(), EmailMessage{
		To:      "dr.house@example.com",
		ToName:  "Dr. House",
		Subject: "New Appointment Request from Jane Doe",
		Body:    "Jane Doe requested 2024-06-01 10:00-11:00",
	})
	require.NoError(t, err)
	assert.Equal(t, "New Appointment Request from Jane Doe", got["subject"])
}

func TestSendGridSender_SendErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errors":[{"message":"bad key"}]}`))
	}))
	defer srv.Close()

	sender := NewSendGridSender(SendGridConfig{APIKey: "bad", FromEmail: "desk@example.com", BaseURL: srv.URL}, nil)
	err := sender.Send(context.Background(), EmailMessage{To: "a@example.com", Subject: "s", Body: "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestSendGridSender_SendNilClient(t *testing.T) {
	err := (&SendGridSender{}).Send(context.Background(), EmailMessage{To: "a@example.com"})
	require.Error(t, err)
}

func TestPlainToHTML(t *testing.T) {
	assert.Equal(t, "<p>a &lt;b&gt;<br>c</p>", plainToHTML("a <b>\nc"))
}

type fakeSES struct {
	input *sesv2.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
}

func TestSESSender_Send(t *testing.T) {
	api := &fakeSES{}
	sender := newSESSender(api, SESConfig{FromEmail: "desk@example.com"}, nil)

	err := sender.Send(context.Background(), EmailMessage{To: "p@example.com", Subject: "Video Call Appointment Confirmed", Body: "link"})
	require.NoError(t, err)
	require.NotNil(t, api.input)
	assert.Equal(t, "City Hospital <desk@example.com>", aws.ToString(api.input.FromEmailAddress))
	assert.Equal(t, []string{"p@example.com"}, api.input.Destination.ToAddresses)
	assert.Equal(t, "link", aws.ToString(api.input.Content.Simple.Body.Text.Data))
	assert.Nil(t, api.input.Content.Simple.Body.Html)
}

func TestSESSender_SendError(t *testing.T) {
	sender := newSESSender(&fakeSES{err: errors.New("throttled")}, SESConfig{FromEmail: "desk@example.com"}, nil)
	err := sender.Send(context.Background(), EmailMessage{To: "p@example.com", Subject: "s", Body: "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}

func TestNewSESSender_NilClient(t *testing.T) {
	assert.Nil(t, NewSESSender(nil, SESConfig{}, nil))
}
