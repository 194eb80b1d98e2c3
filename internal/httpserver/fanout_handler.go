package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/asyncarush/makemates-sub000/internal/fanout"
	"github.com/asyncarush/makemates-sub000/pkg/logger"
	"github.com/asyncarush/makemates-sub000/pkg/trace"
)

// FanoutHandler is the entrypoint the post-creation handler calls after
// committing its own write. The response never waits for, or fails on, the
// fan-out itself.
type FanoutHandler struct {
	queue   *fanout.Queue
	jobName string
	logger  *zap.Logger
}

func NewFanoutHandler(queue *fanout.Queue, jobName string, log *zap.Logger) *FanoutHandler {
	return &FanoutHandler{queue: queue, jobName: jobName, logger: log}
}

type fanoutRequest struct {
	SenderID   int    `json:"senderId" binding:"required"`
	Type       string `json:"type" binding:"required"`
	ResourceID int    `json:"resourceId" binding:"required"`
	Message    string `json:"message" binding:"required"`
}

// Enqueue accepts a fan-out request and returns 202 immediately; the queue
// work happens in the background.
func (h *FanoutHandler) Enqueue(c *gin.Context) {
	var req fanoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	traceID := trace.FromContext(c.Request.Context())

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		ctx = trace.WithContext(ctx, traceID)

		if err := h.queue.Enqueue(ctx, h.jobName, fanout.Payload{
			SenderID:   req.SenderID,
			Type:       req.Type,
			ResourceID: req.ResourceID,
			Message:    req.Message,
		}); err != nil {
			// Fanout failure never reaches the caller; it is logged and the
			// triggering action has already succeeded.
			logger.WithTrace(ctx, h.logger).Error("Fanout enqueue failed",
				zap.Int("sender_id", req.SenderID),
				zap.Error(err),
			)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}
