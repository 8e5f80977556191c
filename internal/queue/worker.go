package queue

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/probatio/internal/interfaces"
	"github.com/ternarybob/probatio/internal/models"
)

// JobHandler executes one validated test case job to completion
type JobHandler func(ctx context.Context, job *models.TestCaseJob) error

// Worker is a single blocking consumer loop: one message in flight at a
// time (prefetch = 1). Horizontal scale-out means running more worker
// processes against the same queue.
type Worker struct {
	queueMgr     interfaces.QueueManager
	handler      JobHandler
	logger       arbor.ILogger
	pollInterval time.Duration
	retryBackoff time.Duration
	heartbeat    time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker creates a new worker bound to one queue
func NewWorker(queueMgr interfaces.QueueManager, handler JobHandler, logger arbor.ILogger, pollInterval, retryBackoff time.Duration) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		queueMgr:     queueMgr,
		handler:      handler,
		logger:       logger,
		pollInterval: pollInterval,
		retryBackoff: retryBackoff,
		heartbeat:    time.Minute,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start launches the consumer loop
func (w *Worker) Start() error {
	w.logger.Info().
		Str("poll_interval", w.pollInterval.String()).
		Msg("Starting execution worker")

	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop gracefully stops the worker. An in-flight job runs to completion;
// cancellation mid-run is deliberately unsupported.
func (w *Worker) Stop() error {
	w.logger.Info().Msg("Stopping execution worker")
	w.cancel()
	w.wg.Wait()
	return nil
}

func (w *Worker) loop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			w.logger.Debug().Msg("Worker stopped")
			return

		case <-ticker.C:
			if err := w.processMessage(); err != nil {
				if err == models.ErrNoMessage {
					continue
				}
				// Queue errors are retried with a fixed backoff; no run is
				// in flight during this state so nothing else to report
				w.logger.Warn().
					Err(err).
					Str("retry_backoff", w.retryBackoff.String()).
					Msg("Queue unavailable, backing off")

				select {
				case <-w.ctx.Done():
					return
				case <-time.After(w.retryBackoff):
				}
			}
		}
	}
}

// processMessage receives and processes a single message. The message is
// acknowledged on every outcome except a worker crash: a failed test is
// not a failed job, and a malformed job must not requeue forever.
func (w *Worker) processMessage() error {
	msg, ack, err := w.queueMgr.Receive(w.ctx)
	if err != nil {
		return err
	}

	w.logger.Debug().
		Str("message_id", msg.MessageID).
		Str("queue", msg.Queue).
		Msg("Message received")

	job, err := models.ParseTestCaseJob(msg.Payload)
	if err != nil {
		// Malformed job: no run record exists to update, so log and ack
		// to avoid an infinite redelivery loop
		w.logger.Error().
			Err(err).
			Str("message_id", msg.MessageID).
			Msg("Discarding malformed job")
		w.ackMessage(msg.MessageID, ack)
		return nil
	}

	// Keep the message invisible while the job runs so a slow run is not
	// redelivered to another worker
	heartbeatDone := make(chan struct{})
	w.wg.Add(1)
	go w.extendLoop(msg.MessageID, heartbeatDone)

	startTime := time.Now()
	handlerErr := w.handler(w.ctx, job)
	close(heartbeatDone)

	if handlerErr != nil {
		// Dispatch failure, not a test failure: the run controller already
		// reported whatever it could. Logged and acked.
		w.logger.Error().
			Err(handlerErr).
			Str("test_case_id", job.TestCaseID).
			Str("duration", time.Since(startTime).String()).
			Msg("Job dispatch failed")
	} else {
		w.logger.Info().
			Str("test_case_id", job.TestCaseID).
			Str("duration", time.Since(startTime).String()).
			Msg("Job completed")
	}

	w.ackMessage(msg.MessageID, ack)
	return nil
}

func (w *Worker) ackMessage(messageID string, ack interfaces.AckFunc) {
	if err := ack(); err != nil {
		// The broker will redeliver; at-least-once delivery makes this
		// safe, if wasteful
		w.logger.Warn().
			Err(err).
			Str("message_id", messageID).
			Msg("Failed to acknowledge message")
	}
}

// extendLoop renews the message visibility timeout until the job finishes
func (w *Worker) extendLoop(messageID string, done <-chan struct{}) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			if err := w.queueMgr.Extend(w.ctx, messageID, w.heartbeat*3); err != nil {
				w.logger.Warn().
					Err(err).
					Str("message_id", messageID).
					Msg("Failed to extend message visibility")
			}
		}
	}
}
