package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/asyncarush/makemates-sub000/internal/realtime"
)

// WSHandler upgrades authenticated requests to websocket connections and
// runs each connection's read loop.
type WSHandler struct {
	registry   *realtime.Registry
	dispatcher *realtime.Dispatcher
	upgrader   websocket.Upgrader
	logger     *zap.Logger
}

func NewWSHandler(registry *realtime.Registry, dispatcher *realtime.Dispatcher, log *zap.Logger) *WSHandler {
	return &WSHandler{
		registry:   registry,
		dispatcher: dispatcher,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin is enforced upstream at the reverse proxy.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: log,
	}
}

// Serve handles GET /ws. AuthMiddleware has already resolved the user id.
func (h *WSHandler) Serve(c *gin.Context) {
	userID := c.GetInt(userIDKey)

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}

	conn := realtime.NewWSConn(uuid.NewString(), ws)
	sess := &realtime.Session{Conn: conn, UserID: userID}
	h.registry.Register(conn)

	h.logger.Info("Websocket connected",
		zap.String("socket_id", conn.ID()),
		zap.Int("user_id", userID),
	)

	go h.readLoop(sess, conn)
	go h.pingLoop(conn)
}

// pingLoop pings the peer on a fixed interval. Pong responses refresh the
// read deadline, so a peer that vanishes without a close frame fails its
// next read within one ping cycle instead of hanging until TCP gives up.
func (h *WSHandler) pingLoop(conn *realtime.WSConn) {
	ticker := time.NewTicker(realtime.PingPeriod)
	defer ticker.Stop()

	for range ticker.C {
		if !conn.Alive() {
			return
		}
	}
}

// readLoop handles one connection until EOF. Events are dispatched in
// arrival order; the loop exiting is the transport disconnect signal.
func (h *WSHandler) readLoop(sess *realtime.Session, conn *realtime.WSConn) {
	defer func() {
		conn.MarkClosed()
		h.registry.Disconnect(context.Background(), conn.ID())
		conn.Close()
	}()

	for {
		evt, err := conn.ReadEvent()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("Websocket read error",
					zap.String("socket_id", conn.ID()),
					zap.Error(err),
				)
			}
			return
		}

		if err := h.dispatcher.Dispatch(context.Background(), sess, evt); err != nil {
			h.logger.Error("Event handling failed",
				zap.String("socket_id", conn.ID()),
				zap.String("event", evt.Name),
				zap.Error(err),
			)
		}
	}
}
