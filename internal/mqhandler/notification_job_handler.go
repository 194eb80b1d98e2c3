package mqhandler

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	mqcontracts "github.com/asyncarush/makemates-sub000/contracts/mq"
	"github.com/asyncarush/makemates-sub000/internal/model"
	"github.com/asyncarush/makemates-sub000/pkg/logger"
	"github.com/asyncarush/makemates-sub000/pkg/metrics"
	"github.com/asyncarush/makemates-sub000/pkg/trace"
	"github.com/asyncarush/makemates-sub000/pkg/util"
)

const jobScope = "notification_fanout"

// NotificationStore persists a batch of notification rows atomically.
type NotificationStore interface {
	BulkInsert(ctx context.Context, rows []model.Notification) error
}

// DedupGuard makes redelivered jobs idempotent on top of the broker's
// at-least-once delivery.
type DedupGuard interface {
	AcquireOnce(ctx context.Context, handler, id string) bool
	Release(ctx context.Context, handler, id string)
}

// RetryTracker bounds how many times a failing job is redelivered before it
// is dead-lettered.
type RetryTracker interface {
	IncrementAndGet(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

// SignalPublisher emits completion/failure signals and forwards poison jobs
// to the dead letter exchange.
type SignalPublisher interface {
	PublishWithContext(ctx context.Context, routingKey string, payload any) error
	PublishToDLQ(routingKey string, payload []byte, originalError string) error
}

// NotificationJobHandler consumes fan-out jobs: one bulk insert per job,
// then a completed signal and a live-push request for the recipients.
type NotificationJobHandler struct {
	store      NotificationStore
	deduper    DedupGuard
	retries    RetryTracker
	signals    SignalPublisher
	maxRetries int64
	logger     *zap.Logger
}

func NewNotificationJobHandler(
	store NotificationStore,
	deduper DedupGuard,
	retries RetryTracker,
	signals SignalPublisher,
	maxRetries int64,
	log *zap.Logger,
) *NotificationJobHandler {
	return &NotificationJobHandler{
		store:      store,
		deduper:    deduper,
		retries:    retries,
		signals:    signals,
		maxRetries: maxRetries,
		logger:     log,
	}
}

// Handle processes one dequeued job. A nil return acks the delivery; a
// non-nil return nacks it so the broker redelivers.
func (h *NotificationJobHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	start := time.Now()

	var job mqcontracts.NotificationJobPayload
	if err := json.Unmarshal(raw, &job); err != nil {
		// Malformed payload: retrying cannot help, dead-letter it.
		h.logger.Error("Failed to unmarshal notification job", zap.Error(err))
		if dlqErr := h.signals.PublishToDLQ(mqcontracts.RouteNotificationFanout, raw, err.Error()); dlqErr != nil {
			h.logger.Error("Failed to dead-letter malformed job", zap.Error(dlqErr))
		}
		metrics.IncrementFanoutJobOutcome("dead_lettered")
		return nil
	}

	if job.TraceID != "" {
		ctx = trace.WithContext(ctx, job.TraceID)
	}
	log := logger.WithTrace(ctx, h.logger)

	if !h.deduper.AcquireOnce(ctx, jobScope, job.JobID) {
		log.Info("Duplicate job skipped",
			zap.String("job_id", job.JobID),
			zap.String("job_name", job.JobName),
		)
		metrics.IncrementFanoutJobOutcome("deduped")
		return nil
	}

	rows := make([]model.Notification, 0, len(job.RecipientBatch))
	for _, recipientID := range job.RecipientBatch {
		rows = append(rows, model.Notification{
			RecipientID: recipientID,
			SenderID:    job.SenderID,
			Type:        job.Type,
			ResourceID:  job.ResourceID,
			Message:     job.Message,
		})
	}

	if err := h.store.BulkInsert(ctx, rows); err != nil {
		// The insert rolled back: release the dedup lock so a redelivery
		// is processed instead of skipped.
		h.deduper.Release(ctx, jobScope, job.JobID)
		return h.onPersistFailure(ctx, log, &job, raw, err)
	}

	h.retries.Reset(ctx, util.FormatRetryKey(jobScope, job.JobID))
	metrics.IncrementFanoutJobOutcome("completed")
	metrics.AddNotificationsWritten(len(rows))

	log.Info("Notification batch persisted",
		zap.String("job_id", job.JobID),
		zap.String("job_name", job.JobName),
		zap.Int("sender_id", job.SenderID),
		zap.Int("recipients", len(rows)),
	)

	// Completion signal and live push are best-effort: the rows are durable
	// already, a lost signal never rolls them back.
	completed := mqcontracts.FanoutCompletedPayload{
		JobID:       job.JobID,
		JobName:     job.JobName,
		Recipients:  len(rows),
		CompletedAt: time.Now().UTC(),
	}
	if err := h.signals.PublishWithContext(ctx, mqcontracts.RouteFanoutCompleted, completed); err != nil {
		log.Warn("Failed to publish completed signal", zap.String("job_id", job.JobID), zap.Error(err))
	}

	push := mqcontracts.NotificationPushPayload{
		JobID:      job.JobID,
		Recipients: job.RecipientBatch,
		TraceID:    job.TraceID,
	}
	if err := h.signals.PublishWithContext(ctx, mqcontracts.RouteNotificationPush, push); err != nil {
		log.Warn("Failed to publish live-push request", zap.String("job_id", job.JobID), zap.Error(err))
	}

	metrics.RecordMQConsumeLatency(mqcontracts.RouteNotificationFanout, "notification.fanout.q", time.Since(start))
	return nil
}

func (h *NotificationJobHandler) onPersistFailure(
	ctx context.Context,
	log *zap.Logger,
	job *mqcontracts.NotificationJobPayload,
	raw json.RawMessage,
	err error,
) error {
	isRetryable, errType := util.IsRetryableError(err)
	retryCount, counterErr := h.retries.IncrementAndGet(ctx, util.FormatRetryKey(jobScope, job.JobID))
	if counterErr != nil {
		log.Warn("Retry counter unavailable", zap.Error(counterErr))
	}

	log.Error("Failed to persist notification batch",
		zap.String("job_id", job.JobID),
		zap.String("job_name", job.JobName),
		zap.String("error_type", errType),
		zap.Bool("retryable", isRetryable),
		zap.Int64("retry_count", retryCount),
		zap.Error(err),
	)
	metrics.IncrementFanoutJobOutcome("failed")

	failed := mqcontracts.FanoutFailedPayload{
		JobID:      job.JobID,
		JobName:    job.JobName,
		Error:      err.Error(),
		RetryCount: retryCount,
	}
	if sigErr := h.signals.PublishWithContext(ctx, mqcontracts.RouteFanoutFailed, failed); sigErr != nil {
		log.Warn("Failed to publish failed signal", zap.String("job_id", job.JobID), zap.Error(sigErr))
	}

	if util.ShouldRetry(retryCount, h.maxRetries, isRetryable) {
		// Nack: the broker redelivers and another worker retries.
		return err
	}

	if dlqErr := h.signals.PublishToDLQ(mqcontracts.RouteNotificationFanout, raw, err.Error()); dlqErr != nil {
		log.Error("Failed to dead-letter job, nacking for redelivery",
			zap.String("job_id", job.JobID),
			zap.Error(dlqErr),
		)
		return err
	}

	metrics.IncrementFanoutJobOutcome("dead_lettered")
	return nil
}
