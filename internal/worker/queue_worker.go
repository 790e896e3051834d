package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cardforge/connector/internal/metrics"
	"github.com/cardforge/connector/internal/queue"
	"github.com/cardforge/connector/internal/service"
	"github.com/cardforge/connector/internal/utils"
)

// QueueWorker drains the task queue and dispatches each message to the
// matching service operation. Delivery is at-least-once, so every handler
// it calls must tolerate redelivery; the worker's own job is routing,
// retry scheduling, and isolation so one poisoned message cannot stall the
// batch.
type QueueWorker struct {
	tasks     queue.TaskQueue
	charges   *service.ChargeService
	interval  time.Duration
	batchSize int

	// captureRetryDelay spaces out redeliveries of capture tasks while the
	// gateway settles asynchronously.
	captureRetryDelay time.Duration
}

// NewQueueWorker constructs a QueueWorker.
func NewQueueWorker(
	tasks queue.TaskQueue,
	charges *service.ChargeService,
	interval time.Duration,
	batchSize int,
	captureRetryDelay time.Duration,
) *QueueWorker {
	return &QueueWorker{
		tasks:             tasks,
		charges:           charges,
		interval:          interval,
		batchSize:         batchSize,
		captureRetryDelay: captureRetryDelay,
	}
}

// Start begins the polling loop until context is canceled.
func (w *QueueWorker) Start(ctx context.Context) {
	log.Info().Dur("interval", w.interval).Int("batch", w.batchSize).Msg("Starting queue worker")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.run(ctx)
		case <-ctx.Done():
			log.Info().Msg("Queue worker stopped")
			return
		}
	}
}

func (w *QueueWorker) run(ctx context.Context) {
	msgs, err := w.tasks.Receive(ctx, w.batchSize)
	if err != nil {
		log.Error().Err(err).Msg("Failed to receive tasks")
	}
	for i := range msgs {
		select {
		case <-ctx.Done():
			return
		default:
			w.process(ctx, msgs[i])
		}
	}
}

func (w *QueueWorker) process(ctx context.Context, msg queue.Message) {
	logger := log.With().
		Str("task_id", msg.ID).
		Str("kind", string(msg.Kind)).
		Str("target", msg.Target).
		Int("attempts", msg.Attempts).
		Logger()

	switch msg.Kind {
	case queue.TaskCapture:
		w.processCapture(ctx, msg, logger)
	case queue.TaskQueryStatus:
		w.finish(ctx, msg, w.charges.QueryAndReconcile(ctx, msg.Target), logger)
	case queue.TaskCollectFees:
		w.finish(ctx, msg, w.charges.CollectFees(ctx, msg.Target), logger)
	case queue.TaskDeleteStoredInstrument:
		w.finish(ctx, msg, w.charges.DeleteStoredInstrument(ctx, msg.Target), logger)
	default:
		// Unknown kinds are acked, not retried: redelivering them forever
		// helps nobody once a deploy removes a task type.
		logger.Warn().Msg("Acking task of unknown kind")
		metrics.Tasks.WithLabelValues(string(msg.Kind), metrics.OutcomeIgnored).Inc()
		w.ack(ctx, msg, logger)
	}
}

// processCapture drives one capture attempt. Pending and transport-level
// outcomes come back for another pass; everything else is final.
func (w *QueueWorker) processCapture(ctx context.Context, msg queue.Message, logger zerolog.Logger) {
	outcome, err := w.charges.CaptureCharge(ctx, msg.Target)
	switch outcome {
	case service.CaptureOutcomeCaptured, service.CaptureOutcomeAlreadyDone:
		metrics.Tasks.WithLabelValues(string(msg.Kind), metrics.OutcomeAcked).Inc()
		w.ack(ctx, msg, logger)
	case service.CaptureOutcomePending, service.CaptureOutcomeRetriable:
		if err != nil && !errors.Is(err, utils.ErrGatewayConnection) {
			logger.Warn().Err(err).Msg("Capture attempt failed, retrying")
		}
		metrics.Tasks.WithLabelValues(string(msg.Kind), metrics.OutcomeRetried).Inc()
		if err := w.tasks.ScheduleRetry(ctx, msg, w.captureRetryDelay); err != nil {
			logger.Error().Err(err).Msg("Failed to schedule capture retry")
		}
	case service.CaptureOutcomeFailed:
		if err != nil {
			logger.Error().Err(err).Msg("Capture failed permanently")
		}
		metrics.Tasks.WithLabelValues(string(msg.Kind), metrics.OutcomeError).Inc()
		w.ack(ctx, msg, logger)
	}
}

// finish settles the auxiliary tasks: failures are retried up to
// maxAuxAttempts deliveries, then logged and dropped, since the handlers
// themselves converge on redelivery.
func (w *QueueWorker) finish(ctx context.Context, msg queue.Message, err error, logger zerolog.Logger) {
	if err != nil {
		if msg.Attempts < maxAuxAttempts {
			logger.Warn().Err(err).Msg("Task failed, retrying")
			metrics.Tasks.WithLabelValues(string(msg.Kind), metrics.OutcomeRetried).Inc()
			if rErr := w.tasks.ScheduleRetry(ctx, msg, w.captureRetryDelay); rErr != nil {
				logger.Error().Err(rErr).Msg("Failed to schedule task retry")
			}
			return
		}
		logger.Error().Err(err).Msg("Task failed, giving up")
		metrics.Tasks.WithLabelValues(string(msg.Kind), metrics.OutcomeError).Inc()
		w.ack(ctx, msg, logger)
		return
	}
	metrics.Tasks.WithLabelValues(string(msg.Kind), metrics.OutcomeAcked).Inc()
	w.ack(ctx, msg, logger)
}

const maxAuxAttempts = 10

func (w *QueueWorker) ack(ctx context.Context, msg queue.Message, logger zerolog.Logger) {
	if err := w.tasks.Ack(ctx, msg); err != nil {
		logger.Error().Err(err).Msg("Failed to ack task")
	}
}
