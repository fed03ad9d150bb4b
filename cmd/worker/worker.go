package worker

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	appkafka "example.com/photofeed/internal/broker"
	"example.com/photofeed/internal/gateway"
	"example.com/photofeed/internal/logger"
	"example.com/photofeed/internal/models"
	"example.com/photofeed/internal/profile"
	"github.com/cenkalti/backoff/v4"
)

var logg = logger.New()

// Worker consumes interaction events from Kafka and writes the recipients'
// notification documents concurrently.
type Worker struct {
	docs         gateway.DocumentStore
	profiles     *profile.Service
	reader       appkafka.KafkaReader
	workerCount  int
	jobQueueSize int

	// notification writes are retried with exponential backoff
	writeRetries  uint64
	retryInterval time.Duration
}

// New creates a new concurrent Worker using pre-initialized dependencies.
func New(docs gateway.DocumentStore, reader appkafka.KafkaReader, workerCount, jobQueueSize int) *Worker {
	if workerCount <= 0 {
		workerCount = runtime.NumCPU()
	}
	if jobQueueSize <= 0 {
		jobQueueSize = workerCount * 10
	}
	return &Worker{
		docs:          docs,
		profiles:      profile.NewService(docs, nil),
		reader:        reader,
		workerCount:   workerCount,
		jobQueueSize:  jobQueueSize,
		writeRetries:  3,
		retryInterval: 100 * time.Millisecond,
	}
}

// Run starts message reading and concurrent processing. It returns once ctx
// is cancelled and every worker has drained.
func (w *Worker) Run(ctx context.Context) {
	if w.workerCount <= 0 {
		w.workerCount = 1
	}
	if w.jobQueueSize <= 0 {
		w.jobQueueSize = 10
	}

	logg.Info("worker", "Starting "+fmt.Sprint(w.workerCount)+" workers with queue size "+fmt.Sprint(w.jobQueueSize))

	jobs := make(chan []byte, w.jobQueueSize)
	var wg sync.WaitGroup

	for i := 0; i < w.workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.processLoop(ctx, jobs)
		}()
	}

	w.readLoop(ctx, jobs)

	close(jobs)
	wg.Wait()
	logg.Info("worker", "All workers stopped gracefully")
}

// readLoop reads Kafka messages and pushes them into a job queue. Read
// errors back off exponentially up to one second.
func (w *Worker) readLoop(ctx context.Context, jobs chan<- []byte) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Millisecond
	bo.MaxInterval = time.Second
	bo.MaxElapsedTime = 0
	bo.Reset()

	for {
		if ctx.Err() != nil {
			return
		}
		msg, err := w.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logg.Error("worker", "Kafka read error, backing off", err)
			if !waitWithContext(ctx, bo.NextBackOff()) {
				return
			}
			continue
		}
		bo.Reset()

		if len(msg.Value) == 0 {
			if !waitWithContext(ctx, 50*time.Millisecond) {
				return
			}
			continue
		}

		if !w.enqueue(ctx, jobs, msg.Value) {
			return
		}
	}
}

// enqueue blocks until the job is queued or ctx ends.
func (w *Worker) enqueue(ctx context.Context, jobs chan<- []byte, data []byte) bool {
	for {
		select {
		case jobs <- data:
			return true
		case <-ctx.Done():
			return false
		case <-time.After(100 * time.Millisecond):
			logg.Info("worker", "Queue full, waiting to enqueue Kafka message")
		}
	}
}

// processLoop drains the queue until it is closed. Events already queued
// when ctx ends are still written.
func (w *Worker) processLoop(ctx context.Context, jobs <-chan []byte) {
	for data := range jobs {
		if err := w.handle(context.WithoutCancel(ctx), data); err != nil {
			logg.Error("worker", "Failed to handle interaction event", err)
		}
	}
}

// handle turns one event into a stored notification. Self-interactions are
// ignored.
func (w *Worker) handle(ctx context.Context, data []byte) error {
	e, err := appkafka.DecodeEvent(data)
	if err != nil {
		return fmt.Errorf("%w: %v", gateway.ErrMalformedData, err)
	}
	if e.Actor == e.Recipient {
		return nil
	}

	n := e.Notification()
	if e.Kind == models.NotificationFollow {
		back, err := w.profiles.IsFollowing(ctx, e.Recipient, e.Actor)
		if err != nil {
			logg.Warn("worker", "Follow-back state unknown", err)
		} else {
			n.IsFollowingBack = &back
		}
	}

	if err := w.store(ctx, e.Recipient, n); err != nil {
		return err
	}
	logg.Debug("worker", "Notification "+string(n.Kind)+" stored")
	return nil
}

// store writes the notification, retrying failed writes. Notification ids
// are event ids, so a retried write overwrites rather than duplicates.
func (w *Worker) store(ctx context.Context, recipient string, n models.Notification) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = w.retryInterval
	bo.MaxInterval = 10 * w.retryInterval
	bo.Reset()

	write := func() error {
		return w.docs.SetDocument(ctx, models.NotificationsPath(recipient), n.ID, n.ToFields())
	}
	notify := func(err error, next time.Duration) {
		logg.Warn("worker", "Notification write failed, retrying in "+next.Round(time.Millisecond).String(), err)
	}
	return backoff.RetryNotify(write, backoff.WithContext(backoff.WithMaxRetries(bo, w.writeRetries), ctx), notify)
}

// waitWithContext waits for duration or context cancellation.
func waitWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Close shuts down Kafka reader and Cassandra session.
func (w *Worker) Close() error {
	logg.Info("worker", "Closing Kafka reader")
	if err := w.reader.Close(); err != nil {
		logg.Error("worker", "Error closing Kafka reader", err)
		return err
	}

	logg.Info("worker", "Closing Cassandra session")
	w.docs.Close()
	return nil
}
