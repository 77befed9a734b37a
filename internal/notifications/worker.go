package notifications

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Worker polls for due jobs and delivers them with bounded parallelism.
type Worker struct {
	dispatcher  *Dispatcher
	store       *Store
	interval    time.Duration
	concurrency int
	batch       int32
	log         logrus.FieldLogger
}

func NewWorker(d *Dispatcher, s *Store, interval time.Duration, concurrency int, batch int32, log logrus.FieldLogger) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	if batch < 1 {
		batch = 25
	}
	return &Worker{
		dispatcher:  d,
		store:       s,
		interval:    interval,
		concurrency: concurrency,
		batch:       batch,
		log:         log,
	}
}

// RunOnce delivers one batch of due jobs and returns how many it attempted.
// Delivery failures are already recorded on their jobs and only logged here.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	listed, _, err := w.runBatch(ctx)
	return listed, err
}

// runBatch returns the number of jobs listed and the number this worker leased.
func (w *Worker) runBatch(ctx context.Context) (int, int, error) {
	ids, err := w.store.ListDue(ctx, w.batch)
	if err != nil {
		return 0, 0, err
	}

	var (
		leased atomic.Int32
		g      errgroup.Group
	)
	g.SetLimit(w.concurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			ok, err := w.dispatcher.deliver(ctx, id)
			if ok {
				leased.Add(1)
			}
			if err != nil && !errors.Is(err, ErrDeliveryFailure) {
				w.log.WithError(err).WithField("job_id", id).Error("deliver notification")
			}
			return nil
		})
	}
	// every goroutine returns nil; failures are logged per job above
	g.Wait()
	return len(ids), int(leased.Load()), nil
}

// Run polls every interval until ctx is cancelled. A full batch in which at
// least one job was leased is followed immediately by another poll; a batch of
// jobs that could not be leased waits for the interval.
func (w *Worker) Run(ctx context.Context) error {
	w.log.WithFields(logrus.Fields{"interval": w.interval, "concurrency": w.concurrency}).Info("notification worker started")
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("notification worker stopped")
			return nil
		case <-timer.C:
		}

		listed, leased, err := w.runBatch(ctx)
		if err != nil && ctx.Err() == nil {
			w.log.WithError(err).Warn("poll notification jobs")
		}
		timer.Reset(w.nextPoll(listed, leased, err))
	}
}

func (w *Worker) nextPoll(listed, leased int, err error) time.Duration {
	if err == nil && int32(listed) >= w.batch && leased > 0 {
		return 0
	}
	return w.interval
}
