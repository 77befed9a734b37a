package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/storefront-reconciler/internal/aws"
	"github.com/imrishuroy/storefront-reconciler/internal/orders"
)

// OrderRecorder mirrors delivery outcomes onto the order.
type OrderRecorder interface {
	RecordNotificationSent(ctx context.Context, orderID string, target orders.NotificationTarget, at time.Time) error
	RecordNotificationError(ctx context.Context, orderID, msg string) error
}

// Publisher wakes workers; see aws.Publisher.
type Publisher interface {
	PublishJob(ctx context.Context, msg aws.JobMessage, delay time.Duration) error
}

type Metrics interface {
	Incr(ctx context.Context, name string, dims map[string]string) error
}

type Dispatcher struct {
	store     *Store
	sender    Sender
	renderer  *Renderer
	orders    OrderRecorder
	publisher Publisher
	metrics   Metrics
	policy    Policy
	owner     string
	log       logrus.FieldLogger
	nowFunc   func() time.Time
}

// Options wires the optional collaborators of a Dispatcher. Publisher and
// Metrics may be nil.
type Options struct {
	Orders    OrderRecorder
	Publisher Publisher
	Metrics   Metrics
	Policy    Policy
	Log       logrus.FieldLogger
}

func NewDispatcher(store *Store, sender Sender, renderer *Renderer, opts Options) *Dispatcher {
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Dispatcher{
		store:     store,
		sender:    sender,
		renderer:  renderer,
		orders:    opts.Orders,
		publisher: opts.Publisher,
		metrics:   opts.Metrics,
		policy:    opts.Policy,
		owner:     "worker-" + uuid.NewString(),
		log:       log,
		nowFunc:   time.Now,
	}
}

// Enqueue inserts the job for (orderID, kind). A job that already exists is
// left untouched and created is false.
func (d *Dispatcher) Enqueue(ctx context.Context, orderID string, kind Kind, payload Payload) (bool, error) {
	job, created, err := d.store.Enqueue(ctx, orderID, kind, payload)
	if err != nil {
		return false, err
	}
	log := d.log.WithFields(logrus.Fields{"job_id": job.JobID, "order_id": orderID, "kind": kind})
	if !created {
		log.Debug("notification job already exists")
		return false, nil
	}
	log.Info("notification job enqueued")
	d.wake(ctx, job, 0)
	return true, nil
}

// Requeue returns a dead job to the queue.
func (d *Dispatcher) Requeue(ctx context.Context, orderID string, kind Kind) error {
	id := JobID(orderID, kind)
	if err := d.store.Requeue(ctx, id); err != nil {
		return err
	}
	d.log.WithFields(logrus.Fields{"job_id": id, "order_id": orderID, "kind": kind}).Info("dead notification job requeued")
	d.wake(ctx, Job{JobID: id, OrderID: orderID, Kind: kind}, 0)
	return nil
}

// Deliver leases the job and attempts one send. It returns nil when the job is
// not deliverable right now (held by another worker, not due, already sent).
// A failed send is recorded on the job and reported as ErrDeliveryFailure.
func (d *Dispatcher) Deliver(ctx context.Context, jobID string) error {
	_, err := d.deliver(ctx, jobID)
	return err
}

// deliver reports whether this dispatcher won the lease on jobID.
func (d *Dispatcher) deliver(ctx context.Context, jobID string) (bool, error) {
	log := d.log.WithField("job_id", jobID)

	job, err := d.store.Lease(ctx, jobID, d.owner, d.policy.LeaseTimeout)
	if err != nil {
		if errors.Is(err, ErrLeaseHeld) || errors.Is(err, ErrNotFound) {
			log.WithError(err).Debug("notification job skipped")
			return false, nil
		}
		return false, err
	}
	log = log.WithFields(logrus.Fields{"order_id": job.OrderID, "kind": job.Kind, "attempt": job.Attempts})

	msg, err := d.renderer.Render(job)
	var messageID string
	if err == nil {
		messageID, err = d.sender.Send(ctx, msg)
	}
	if err != nil {
		return true, d.fail(ctx, log, job, err)
	}

	if err := d.store.MarkSent(ctx, job.JobID, d.owner, messageID); err != nil {
		// the message went out; another worker may send it again after our lease expired
		log.WithError(err).Error("notification sent but job could not be marked")
		return true, err
	}
	if d.orders != nil {
		if err := d.orders.RecordNotificationSent(ctx, job.OrderID, job.Kind.Target(), d.nowFunc()); err != nil {
			log.WithError(err).Warn("record notification on order")
		}
	}
	d.incr(ctx, "NotificationSent", job.Kind)
	log.WithField("message_id", messageID).Info("notification sent")
	return true, nil
}

func (d *Dispatcher) fail(ctx context.Context, log logrus.FieldLogger, job *Job, cause error) error {
	status, next, err := d.store.MarkFailed(ctx, job, d.owner, cause.Error(), d.policy)
	if err != nil {
		log.WithError(err).Error("record notification failure")
		return fmt.Errorf("%w: %v", ErrDeliveryFailure, cause)
	}
	if d.orders != nil {
		if err := d.orders.RecordNotificationError(ctx, job.OrderID, fmt.Sprintf("%s: %v", job.Kind, cause)); err != nil {
			log.WithError(err).Warn("record notification error on order")
		}
	}

	log = log.WithError(cause)
	if status == StatusDead {
		d.incr(ctx, "NotificationDead", job.Kind)
		log.Error("notification dead-lettered, operator requeue required")
	} else {
		d.incr(ctx, "NotificationRetry", job.Kind)
		log.WithField("next_attempt_at", next).Warn("notification delivery failed, will retry")
		d.wake(ctx, *job, next.Sub(d.nowFunc()))
	}
	return fmt.Errorf("%w: %v", ErrDeliveryFailure, cause)
}

func (d *Dispatcher) wake(ctx context.Context, job Job, delay time.Duration) {
	if d.publisher == nil {
		return
	}
	err := d.publisher.PublishJob(ctx, aws.JobMessage{JobID: job.JobID, OrderID: job.OrderID, Kind: string(job.Kind)}, delay)
	if err != nil {
		// the poller still finds the job
		d.log.WithError(err).WithField("job_id", job.JobID).Warn("publish job wake-up")
	}
}

func (d *Dispatcher) incr(ctx context.Context, name string, kind Kind) {
	if d.metrics == nil {
		return
	}
	if err := d.metrics.Incr(ctx, name, map[string]string{"Kind": string(kind)}); err != nil {
		d.log.WithError(err).WithField("metric", name).Warn("publish metric")
	}
}
