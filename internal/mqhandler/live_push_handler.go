package mqhandler

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	mqcontracts "github.com/asyncarush/makemates-sub000/contracts/mq"
	"github.com/asyncarush/makemates-sub000/pkg/logger"
	"github.com/asyncarush/makemates-sub000/pkg/metrics"
	"github.com/asyncarush/makemates-sub000/pkg/trace"
)

// UserPusher pushes an event to a user's live connection. Returns false when
// the user has no connection on this gateway.
type UserPusher interface {
	PushToUser(userID int, event string, payload any) bool
}

// LivePushHandler runs on the gateway. It consumes live-push requests
// emitted by workers and nudges each online recipient with a
// "new_notification" event (no payload, the client refetches). Everything
// here is best-effort: a recipient who misses the push still has the
// durable notification row.
type LivePushHandler struct {
	pusher UserPusher
	logger *zap.Logger
}

func NewLivePushHandler(pusher UserPusher, log *zap.Logger) *LivePushHandler {
	return &LivePushHandler{pusher: pusher, logger: log}
}

// Handle always returns nil: live pushes are never retried.
func (h *LivePushHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	var p mqcontracts.NotificationPushPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		h.logger.Error("Failed to unmarshal live-push payload", zap.Error(err))
		return nil
	}

	if p.TraceID != "" {
		ctx = trace.WithContext(ctx, p.TraceID)
	}
	log := logger.WithTrace(ctx, h.logger)

	delivered := 0
	for _, recipientID := range p.Recipients {
		if h.pusher.PushToUser(recipientID, "new_notification", nil) {
			metrics.IncrementLivePush("delivered")
			delivered++
		} else {
			metrics.IncrementLivePush("skipped_offline")
		}
	}

	log.Debug("Live push processed",
		zap.String("job_id", p.JobID),
		zap.Int("recipients", len(p.Recipients)),
		zap.Int("delivered", delivered),
	)
	return nil
}
