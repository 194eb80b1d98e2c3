package fanout

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	mqcontracts "github.com/asyncarush/makemates-sub000/contracts/mq"
	"github.com/asyncarush/makemates-sub000/pkg/circuitbreaker"
	"github.com/asyncarush/makemates-sub000/pkg/logger"
	"github.com/asyncarush/makemates-sub000/pkg/metrics"
	"github.com/asyncarush/makemates-sub000/pkg/trace"
)

const DefaultBatchSize = 50

// FollowerStore resolves the recipients of a fan-out: everybody following
// the sender.
type FollowerStore interface {
	FindFollowers(ctx context.Context, userID int) ([]int, error)
}

// JobPublisher publishes a job durably to the broker.
type JobPublisher interface {
	PublishWithContext(ctx context.Context, routingKey string, payload any) error
}

// JobParker records a job that could not be published so it can be replayed
// later. Backed by the transactional outbox.
type JobParker interface {
	Park(ctx context.Context, routingKey string, payload any) error
}

// Payload carries the notification fields of one fan-out request.
type Payload struct {
	SenderID   int
	Type       string
	ResourceID int
	Message    string
}

// Queue turns one "notify the followers of X" request into durable per-batch
// jobs. Enqueue returns once every batch is recorded in the broker or the
// outbox, so a queued job survives process restarts.
type Queue struct {
	followers FollowerStore
	publisher JobPublisher
	parker    JobParker
	breaker   *circuitbreaker.CircuitBreaker
	batchSize int
	logger    *zap.Logger
}

func NewQueue(
	followers FollowerStore,
	publisher JobPublisher,
	parker JobParker,
	batchSize int,
	log *zap.Logger,
) *Queue {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Queue{
		followers: followers,
		publisher: publisher,
		parker:    parker,
		breaker:   circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig()),
		batchSize: batchSize,
		logger:    log,
	}
}

// Enqueue fetches the sender's followers, partitions them into batches of at
// most batchSize, and enqueues one job per batch. Zero followers is a no-op.
// A follower lookup failure is returned to the caller; it must be treated as
// non-fatal to whatever user action triggered the fan-out.
func (q *Queue) Enqueue(ctx context.Context, jobName string, p Payload) error {
	log := logger.WithTrace(ctx, q.logger)

	var recipients []int
	err := q.breaker.Execute(func() error {
		var lookupErr error
		recipients, lookupErr = q.followers.FindFollowers(ctx, p.SenderID)
		return lookupErr
	})
	if err != nil {
		return fmt.Errorf("failed to fetch followers of sender %d: %w", p.SenderID, err)
	}

	if len(recipients) == 0 {
		log.Debug("No followers to notify, skipping fanout",
			zap.Int("sender_id", p.SenderID),
			zap.String("job_name", jobName),
		)
		return nil
	}

	batches := partition(recipients, q.batchSize)
	traceID := trace.FromContext(ctx)

	for _, batch := range batches {
		job := mqcontracts.NotificationJobPayload{
			JobID:          uuid.NewString(),
			JobName:        jobName,
			SenderID:       p.SenderID,
			Type:           p.Type,
			ResourceID:     p.ResourceID,
			Message:        p.Message,
			RecipientBatch: batch,
			CreatedAt:      time.Now().UTC(),
			TraceID:        traceID,
		}

		if err := q.publisher.PublishWithContext(ctx, mqcontracts.RouteNotificationFanout, job); err != nil {
			log.Warn("Publish failed, parking job in outbox",
				zap.String("job_id", job.JobID),
				zap.Error(err),
			)
			if parkErr := q.parker.Park(ctx, mqcontracts.RouteNotificationFanout, job); parkErr != nil {
				return fmt.Errorf("failed to enqueue job %s: publish: %v, park: %w", job.JobID, err, parkErr)
			}
		}

		metrics.IncrementFanoutBatch(jobName)
	}

	log.Info("Fanout enqueued",
		zap.String("job_name", jobName),
		zap.Int("sender_id", p.SenderID),
		zap.Int("recipients", len(recipients)),
		zap.Int("batches", len(batches)),
	)

	return nil
}

// partition splits ids into consecutive chunks of at most size, preserving
// relative order. The last chunk may be shorter.
func partition(ids []int, size int) [][]int {
	if len(ids) == 0 {
		return nil
	}

	batches := make([][]int, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		batches = append(batches, ids[start:end])
	}
	return batches
}
