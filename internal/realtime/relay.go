package realtime

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/asyncarush/makemates-sub000/internal/model"
	"github.com/asyncarush/makemates-sub000/pkg/logger"
	"github.com/asyncarush/makemates-sub000/pkg/metrics"
)

// ChatStore persists chat messages before they are broadcast.
type ChatStore interface {
	Insert(ctx context.Context, msg model.ChatMessage) (id int, createdAt time.Time, err error)
}

// Relay moves chat messages and typing indicators between room members.
// Messages are persisted before broadcast; typing indicators are ephemeral.
type Relay struct {
	registry *Registry
	store    ChatStore
	logger   *zap.Logger
}

func NewRelay(registry *Registry, store ChatStore, log *zap.Logger) *Relay {
	return &Relay{
		registry: registry,
		store:    store,
		logger:   log,
	}
}

func chatRoom(chatID int) string {
	return "chat:" + strconv.Itoa(chatID)
}

func (r *Relay) JoinRoom(c Conn, chatID int) {
	r.registry.JoinRoom(c, chatRoom(chatID))
}

func (r *Relay) LeaveRoom(c Conn, chatID int) {
	r.registry.LeaveRoom(c, chatRoom(chatID))
}

// SendMessage persists the message, then broadcasts "receive_message" to the
// other room members and acks the sender with "message_sent" carrying the
// persisted id and timestamp. On persistence failure the sender gets a
// "message_error" ack and nothing is broadcast.
func (r *Relay) SendMessage(ctx context.Context, c Conn, msg model.ChatMessage) {
	log := logger.WithTrace(ctx, r.logger)

	id, createdAt, err := r.store.Insert(ctx, msg)
	if err != nil {
		log.Error("Failed to persist chat message",
			zap.Int("chat_id", msg.ChatID),
			zap.Int("sender_id", msg.SenderID),
			zap.Error(err),
		)
		metrics.IncrementChatMessage("error")

		if sendErr := c.Send("message_error", map[string]any{"error": "failed to send message"}); sendErr != nil {
			log.Warn("Failed to deliver message_error ack", zap.Error(sendErr))
		}
		return
	}

	msg.ID = id
	msg.CreatedAt = createdAt

	r.registry.BroadcastToRoom(chatRoom(msg.ChatID), "receive_message", msg, c.ID())

	if err := c.Send("message_sent", msg); err != nil {
		log.Warn("Failed to deliver message_sent ack",
			zap.Int("message_id", id),
			zap.Error(err),
		)
	}

	metrics.IncrementChatMessage("sent")
	log.Debug("Chat message relayed",
		zap.Int("message_id", id),
		zap.Int("chat_id", msg.ChatID),
	)
}

// Typing relays a typing indicator to the other room members. Best-effort,
// no persistence, no ack.
func (r *Relay) Typing(c Conn, chatID, userID int) {
	r.registry.BroadcastToRoom(chatRoom(chatID), "user_typing",
		map[string]any{"chatId": chatID, "userId": userID}, c.ID())
}

// StopTyping relays the end of a typing indicator.
func (r *Relay) StopTyping(c Conn, chatID, userID int) {
	r.registry.BroadcastToRoom(chatRoom(chatID), "user_stop_typing",
		map[string]any{"chatId": chatID, "userId": userID}, c.ID())
}
