package realtime

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
)

type HandlerFunc func(ctx context.Context, sess *Session, data json.RawMessage) error

// Dispatcher maps event names to handler functions. One dispatch call per
// inbound event, invoked from the connection's read loop, so events for a
// single socket are always handled in arrival order.
type Dispatcher struct {
	routes map[string]HandlerFunc
	logger *zap.Logger
}

func NewDispatcher(logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		routes: make(map[string]HandlerFunc),
		logger: logger,
	}
}

func (d *Dispatcher) Register(eventName string, h HandlerFunc) {
	d.routes[eventName] = h
}

// Dispatch routes one event. Unknown events are logged and dropped; a
// panicking handler must not take down the read loop.
func (d *Dispatcher) Dispatch(ctx context.Context, sess *Session, evt Event) error {
	h, ok := d.routes[evt.Name]
	if !ok {
		d.logger.Warn("No handler for event",
			zap.String("event", evt.Name),
			zap.String("socket_id", sess.Conn.ID()),
		)
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Event handler panic recovered",
				zap.String("event", evt.Name),
				zap.String("socket_id", sess.Conn.ID()),
				zap.Any("panic", r),
			)
		}
	}()

	return h(ctx, sess, evt.Data)
}
