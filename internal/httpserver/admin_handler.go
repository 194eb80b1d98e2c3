package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/asyncarush/makemates-sub000/pkg/outbox"
)

// OutboxStore is the slice of the outbox repository the admin surface needs:
// inspecting permanently failed events and putting one back in play.
type OutboxStore interface {
	GetFailedEvents(ctx context.Context, limit int) ([]*outbox.Event, error)
	GetEventByID(ctx context.Context, eventID int64) (*outbox.Event, error)
	ReplayEvent(ctx context.Context, eventID int64) error
}

// NotificationCounter reports unread notification counts per recipient.
type NotificationCounter interface {
	CountForRecipient(ctx context.Context, recipientID int) (int, error)
}

// AdminHandler serves the internal operations endpoints: outbox inspection
// and replay, and per-user unread counts. Trusted-network only, like the
// fanout entrypoint.
type AdminHandler struct {
	outbox        OutboxStore
	notifications NotificationCounter
	logger        *zap.Logger
}

func NewAdminHandler(outbox OutboxStore, notifications NotificationCounter, log *zap.Logger) *AdminHandler {
	return &AdminHandler{outbox: outbox, notifications: notifications, logger: log}
}

const defaultFailedEventsLimit = 50

// ListFailedEvents handles GET /internal/outbox/failed.
func (h *AdminHandler) ListFailedEvents(c *gin.Context) {
	limit := defaultFailedEventsLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	events, err := h.outbox.GetFailedEvents(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list failed outbox events", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list events"})
		return
	}

	out := make([]gin.H, 0, len(events))
	for _, e := range events {
		out = append(out, eventResponse(e))
	}
	c.JSON(http.StatusOK, gin.H{"events": out})
}

// ReplayEvent handles POST /internal/outbox/:id/replay. The event is reset
// to pending; the dispatcher picks it up on its next pass.
func (h *AdminHandler) ReplayEvent(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	ctx := c.Request.Context()
	event, err := h.outbox.GetEventByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
			return
		}
		h.logger.Error("Failed to load outbox event", zap.Int64("event_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load event"})
		return
	}

	if err := h.outbox.ReplayEvent(ctx, id); err != nil {
		h.logger.Error("Failed to replay outbox event", zap.Int64("event_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to replay event"})
		return
	}

	h.logger.Info("Outbox event queued for replay",
		zap.Int64("event_id", id),
		zap.String("routing_key", event.RoutingKey),
	)
	c.JSON(http.StatusAccepted, gin.H{"status": "replaying", "event": eventResponse(event)})
}

// UnreadCount handles GET /internal/notifications/:id/unread_count.
func (h *AdminHandler) UnreadCount(c *gin.Context) {
	userID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	count, err := h.notifications.CountForRecipient(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to count notifications", zap.Int("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count notifications"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"userId": userID, "unreadCount": count})
}

func eventResponse(e *outbox.Event) gin.H {
	return gin.H{
		"id":             e.ID,
		"aggregate_type": e.AggregateType,
		"routing_key":    e.RoutingKey,
		"payload":        json.RawMessage(e.Payload),
		"status":         e.Status,
		"retry_count":    e.RetryCount,
		"created_at":     e.CreatedAt,
		"updated_at":     e.UpdatedAt,
	}
}
