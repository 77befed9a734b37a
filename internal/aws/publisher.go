package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// JobMessage is the body of a notification wake-up message.
type JobMessage struct {
	JobID   string `json:"job_id"`
	OrderID string `json:"order_id"`
	Kind    string `json:"kind"`
}

// Publisher wraps an SQS client and a queue URL.
type Publisher struct {
	SQS      SQSAPI
	QueueURL string
}

// NewPublisher returns a Publisher bound to a queue URL.
func NewPublisher(sqsClient SQSAPI, queueURL string) *Publisher {
	return &Publisher{
		SQS:      sqsClient,
		QueueURL: queueURL,
	}
}

// maxDelay is the largest per-message delay SQS accepts.
const maxDelay = 15 * time.Minute

// PublishJob tells the notification worker that a job is ready for delivery
// after delay. The message only carries identifiers; the job row stays the
// source of truth. Delays beyond the SQS maximum are capped, so the worker
// may be woken before the job is due and will skip it.
func (p *Publisher) PublishJob(ctx context.Context, msg JobMessage, delay time.Duration) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal job message: %w", err)
	}
	bodyStr := string(body)

	input := &sqs.SendMessageInput{
		QueueUrl:    &p.QueueURL,
		MessageBody: &bodyStr,
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"order_id": {DataType: awsString("String"), StringValue: awsString(msg.OrderID)},
			"kind":     {DataType: awsString("String"), StringValue: awsString(msg.Kind)},
		},
	}

	if delay > maxDelay {
		delay = maxDelay
	}
	if delay > 0 {
		input.DelaySeconds = int32(delay / time.Second)
	}

	if _, err := p.SQS.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// awsString helper
func awsString(s string) *string { return &s }
