package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/storefront-reconciler/internal/aws"
	"github.com/imrishuroy/storefront-reconciler/internal/notifications"
)

// Deliverer is implemented by notifications.Dispatcher.
type Deliverer interface {
	Deliver(ctx context.Context, jobID string) error
}

// Processor turns SQS wake-up messages into delivery attempts.
type Processor struct {
	deliverer Deliverer
	log       logrus.FieldLogger
}

func NewProcessor(d Deliverer, log logrus.FieldLogger) *Processor {
	return &Processor{deliverer: d, log: log}
}

// Handle processes an SQS batch and reports the messages to redeliver.
// Malformed messages are dropped. A failed send is acknowledged because the
// dispatcher has already rescheduled the job and published a delayed wake-up.
// Anything else (e.g. DynamoDB unavailable) is left on the queue.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	p.log.WithField("records", len(ev.Records)).Debug("received SQS batch")

	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			p.log.WithError(err).WithField("message_id", rec.MessageId).Warn("job message will be redelivered")
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var msg aws.JobMessage
	if err := json.Unmarshal([]byte(rec.Body), &msg); err != nil || msg.JobID == "" {
		p.log.WithField("body", rec.Body).Error("dropping malformed job message")
		return nil
	}

	err := p.deliverer.Deliver(ctx, msg.JobID)
	if err == nil || errors.Is(err, notifications.ErrDeliveryFailure) {
		return nil
	}
	return fmt.Errorf("deliver %s: %w", msg.JobID, err)
}
