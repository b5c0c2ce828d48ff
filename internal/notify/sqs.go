package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/wolfman30/hospital-scheduling/pkg/logging"
)

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSPublisher hands events to an external notification service through a queue.
type SQSPublisher struct {
	client   sqsAPI
	queueURL string
	logger   *logging.Logger
}

func NewSQSPublisher(client *sqs.Client, queueURL string, logger *logging.Logger) *SQSPublisher {
	if client == nil {
		panic("notify: sqs client required")
	}
	return newSQSPublisher(client, queueURL, logger)
}

func newSQSPublisher(client sqsAPI, queueURL string, logger *logging.Logger) *SQSPublisher {
	if logger == nil {
		logger = logging.Default()
	}
	return &SQSPublisher{client: client, queueURL: queueURL, logger: logger}
}

func (p *SQSPublisher) Notify(ctx context.Context, evt Event) error {
	if p.queueURL == "" {
		return fmt.Errorf("notify: sqs queue url not configured")
	}
	evt = evt.stamp()
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("notify: marshal event: %w", err)
	}
	out, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"event_type": {DataType: aws.String("String"), StringValue: aws.String(evt.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("notify: sqs send: %w", err)
	}
	p.logger.Debug("notification published", "type", evt.Type, "message_id", aws.ToString(out.MessageId))
	return nil
}
