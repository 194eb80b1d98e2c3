package realtime

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/asyncarush/makemates-sub000/internal/model"
)

// Client event payloads. Field names are part of the wire contract.
type userOnlinePayload struct {
	UserID int `json:"userId"`
}

type chatRoomPayload struct {
	ChatID int `json:"chatId"`
}

type sendMessagePayload struct {
	ChatID   int    `json:"chatId"`
	SenderID int    `json:"senderId"`
	Text     string `json:"text"`
}

type typingPayload struct {
	ChatID int `json:"chatId"`
	UserID int `json:"userId"`
}

// RegisterHandlers binds every inbound wire event to the registry and relay.
func RegisterHandlers(d *Dispatcher, registry *Registry, relay *Relay, logger *zap.Logger) {
	d.Register("userOnline", func(ctx context.Context, sess *Session, data json.RawMessage) error {
		var p userOnlinePayload
		if len(data) > 0 {
			if err := json.Unmarshal(data, &p); err != nil {
				logger.Warn("Malformed userOnline payload", zap.Error(err))
			}
		}
		// The handshake identity wins. A client asserting a different id is
		// trying to spoof presence.
		if p.UserID != 0 && p.UserID != sess.UserID {
			logger.Warn("userOnline payload disagrees with authenticated user",
				zap.Int("claimed_user_id", p.UserID),
				zap.Int("auth_user_id", sess.UserID),
			)
		}
		registry.Identify(ctx, sess.Conn, sess.UserID)
		return nil
	})

	d.Register("user:offline", func(ctx context.Context, sess *Session, data json.RawMessage) error {
		registry.SetUserOffline(ctx, sess.Conn)
		return nil
	})

	d.Register("join_chat", func(ctx context.Context, sess *Session, data json.RawMessage) error {
		var p chatRoomPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		relay.JoinRoom(sess.Conn, p.ChatID)
		return nil
	})

	d.Register("leave_chat", func(ctx context.Context, sess *Session, data json.RawMessage) error {
		var p chatRoomPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		relay.LeaveRoom(sess.Conn, p.ChatID)
		return nil
	})

	d.Register("send_message", func(ctx context.Context, sess *Session, data json.RawMessage) error {
		var p sendMessagePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		relay.SendMessage(ctx, sess.Conn, model.ChatMessage{
			ChatID:   p.ChatID,
			SenderID: sess.UserID,
			Text:     p.Text,
		})
		return nil
	})

	d.Register("typing", func(ctx context.Context, sess *Session, data json.RawMessage) error {
		var p typingPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		relay.Typing(sess.Conn, p.ChatID, sess.UserID)
		return nil
	})

	d.Register("stop_typing", func(ctx context.Context, sess *Session, data json.RawMessage) error {
		var p typingPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		relay.StopTyping(sess.Conn, p.ChatID, sess.UserID)
		return nil
	})
}
