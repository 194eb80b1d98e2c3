package realtime

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/asyncarush/makemates-sub000/pkg/metrics"
)

// PresenceStore is the shared user<->socket mapping the registry writes
// through to. Backed by Redis in production so the online set survives
// across gateway processes; best-effort, last write wins.
type PresenceStore interface {
	SetOnline(ctx context.Context, userID int, socketID string) error
	SetOffline(ctx context.Context, userID int) error
	OnlineUsers(ctx context.Context) ([]int, error)
}

// Registry tracks every live connection on this gateway and which user, if
// any, each one is identified as. A connection moves through
// connected (anonymous) -> identified -> disconnected; identification is
// last-writer-wins per user, so the newest socket owns the mapping.
type Registry struct {
	mu         sync.RWMutex
	conns      map[string]Conn
	userSocket map[int]string
	socketUser map[string]int
	rooms      map[string]map[string]struct{}

	presence PresenceStore
	logger   *zap.Logger
}

func NewRegistry(presence PresenceStore, logger *zap.Logger) *Registry {
	return &Registry{
		conns:      make(map[string]Conn),
		userSocket: make(map[int]string),
		socketUser: make(map[string]int),
		rooms:      make(map[string]map[string]struct{}),
		presence:   presence,
		logger:     logger,
	}
}

// Register adds a freshly connected, still anonymous socket.
func (r *Registry) Register(c Conn) {
	r.mu.Lock()
	r.conns[c.ID()] = c
	r.mu.Unlock()

	r.logger.Debug("Socket connected", zap.String("socket_id", c.ID()))
}

// Identify binds a connection to a user. Any previous socket mapped to the
// same user loses its mapping first, then presence flips online and the
// new set is broadcast: "users:online" to everyone, "user:online" targeted.
func (r *Registry) Identify(ctx context.Context, c Conn, userID int) {
	r.mu.Lock()
	if oldSocket, ok := r.userSocket[userID]; ok && oldSocket != c.ID() {
		delete(r.socketUser, oldSocket)
		r.logger.Info("Replacing socket mapping for user",
			zap.Int("user_id", userID),
			zap.String("old_socket", oldSocket),
			zap.String("new_socket", c.ID()),
		)
	}
	r.conns[c.ID()] = c
	r.userSocket[userID] = c.ID()
	r.socketUser[c.ID()] = userID
	r.mu.Unlock()

	if err := r.presence.SetOnline(ctx, userID, c.ID()); err != nil {
		r.logger.Error("Failed to set presence online",
			zap.Int("user_id", userID),
			zap.Error(err),
		)
	}

	r.broadcastOnlineSet(ctx)
	r.Broadcast("user:online", map[string]any{"userId": userID})

	r.logger.Info("User identified",
		zap.Int("user_id", userID),
		zap.String("socket_id", c.ID()),
	)
}

// SetUserOffline handles an explicit offline signal. The socket stays
// connected but its user binding and presence entry are cleared.
func (r *Registry) SetUserOffline(ctx context.Context, c Conn) {
	r.mu.Lock()
	userID, ok := r.socketUser[c.ID()]
	if ok {
		delete(r.socketUser, c.ID())
		if r.userSocket[userID] == c.ID() {
			delete(r.userSocket, userID)
		}
	}
	r.mu.Unlock()

	if !ok {
		return
	}

	r.markOffline(ctx, userID)
}

// Disconnect handles a transport-level disconnect: clear the socket, its
// user binding and any room memberships, then broadcast "user:offline".
func (r *Registry) Disconnect(ctx context.Context, socketID string) {
	r.mu.Lock()
	delete(r.conns, socketID)
	for roomID, members := range r.rooms {
		delete(members, socketID)
		if len(members) == 0 {
			delete(r.rooms, roomID)
		}
	}
	userID, ok := r.socketUser[socketID]
	if ok {
		delete(r.socketUser, socketID)
		if r.userSocket[userID] == socketID {
			delete(r.userSocket, userID)
		}
	}
	r.mu.Unlock()

	r.logger.Debug("Socket disconnected", zap.String("socket_id", socketID))

	if !ok {
		return
	}

	r.markOffline(ctx, userID)
}

func (r *Registry) markOffline(ctx context.Context, userID int) {
	if err := r.presence.SetOffline(ctx, userID); err != nil {
		r.logger.Error("Failed to set presence offline",
			zap.Int("user_id", userID),
			zap.Error(err),
		)
	}

	r.Broadcast("user:offline", map[string]any{"userId": userID})
	r.logger.Info("User offline", zap.Int("user_id", userID))
}

// OnlineUsers returns the shared online set.
func (r *Registry) OnlineUsers(ctx context.Context) ([]int, error) {
	return r.presence.OnlineUsers(ctx)
}

// PushToUser sends an event to a user's active connection. Returns false
// without error when the user is not connected to this gateway.
func (r *Registry) PushToUser(userID int, event string, payload any) bool {
	r.mu.RLock()
	socketID, ok := r.userSocket[userID]
	var c Conn
	if ok {
		c, ok = r.conns[socketID]
	}
	r.mu.RUnlock()

	if !ok {
		return false
	}

	if err := c.Send(event, payload); err != nil {
		r.logger.Warn("Failed to push event to user",
			zap.Int("user_id", userID),
			zap.String("event", event),
			zap.Error(err),
		)
		return false
	}
	return true
}

// Broadcast sends an event to every connected socket.
func (r *Registry) Broadcast(event string, payload any) {
	r.mu.RLock()
	targets := make([]Conn, 0, len(r.conns))
	for _, c := range r.conns {
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	for _, c := range targets {
		if err := c.Send(event, payload); err != nil {
			r.logger.Debug("Broadcast send failed",
				zap.String("socket_id", c.ID()),
				zap.String("event", event),
				zap.Error(err),
			)
		}
	}
}

// JoinRoom adds a socket to a room.
func (r *Registry) JoinRoom(c Conn, roomID string) {
	r.mu.Lock()
	if _, ok := r.rooms[roomID]; !ok {
		r.rooms[roomID] = make(map[string]struct{})
	}
	r.rooms[roomID][c.ID()] = struct{}{}
	r.mu.Unlock()

	r.logger.Debug("Socket joined room",
		zap.String("socket_id", c.ID()),
		zap.String("room", roomID),
	)
}

// LeaveRoom removes a socket from a room, dropping the room when empty.
func (r *Registry) LeaveRoom(c Conn, roomID string) {
	r.mu.Lock()
	if members, ok := r.rooms[roomID]; ok {
		delete(members, c.ID())
		if len(members) == 0 {
			delete(r.rooms, roomID)
		}
	}
	r.mu.Unlock()
}

// BroadcastToRoom sends an event to every room member except the sockets
// listed in except.
func (r *Registry) BroadcastToRoom(roomID, event string, payload any, except ...string) {
	skip := make(map[string]struct{}, len(except))
	for _, id := range except {
		skip[id] = struct{}{}
	}

	r.mu.RLock()
	var targets []Conn
	for socketID := range r.rooms[roomID] {
		if _, ok := skip[socketID]; ok {
			continue
		}
		if c, ok := r.conns[socketID]; ok {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()

	for _, c := range targets {
		if err := c.Send(event, payload); err != nil {
			r.logger.Debug("Room broadcast send failed",
				zap.String("socket_id", c.ID()),
				zap.String("room", roomID),
				zap.String("event", event),
				zap.Error(err),
			)
		}
	}
}

func (r *Registry) broadcastOnlineSet(ctx context.Context) {
	users, err := r.presence.OnlineUsers(ctx)
	if err != nil {
		r.logger.Error("Failed to read online set", zap.Error(err))
		return
	}
	if users == nil {
		users = []int{}
	}
	metrics.SetOnlineUsers(len(users))
	r.Broadcast("users:online", map[string]any{"users": users})
}

// Reconcile sweeps every socket->user mapping and treats any mapping whose
// connection is gone, or no longer answers, as an implicit disconnect. This
// catches disconnect events lost to crashes and network partitions.
func (r *Registry) Reconcile(ctx context.Context) {
	metrics.ReconcileSweepCount.Inc()

	r.mu.RLock()
	type binding struct {
		socketID string
		conn     Conn
	}
	var stale []binding
	for socketID := range r.socketUser {
		c, ok := r.conns[socketID]
		if !ok {
			stale = append(stale, binding{socketID: socketID})
			continue
		}
		stale = append(stale, binding{socketID: socketID, conn: c})
	}
	r.mu.RUnlock()

	evicted := 0
	for _, b := range stale {
		if b.conn != nil && b.conn.Alive() {
			continue
		}
		r.logger.Info("Reconciliation evicting stale socket",
			zap.String("socket_id", b.socketID),
		)
		r.Disconnect(ctx, b.socketID)
		if b.conn != nil {
			// Unblocks the read loop; without this the goroutine and fd
			// linger until TCP keepalive gives up.
			_ = b.conn.Close()
		}
		metrics.ReconcileEvictionCount.Inc()
		evicted++
	}

	if evicted > 0 {
		r.broadcastOnlineSet(ctx)
	}
}

// StartReconciler runs Reconcile on a fixed interval until ctx is cancelled.
func (r *Registry) StartReconciler(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("Presence reconciler started", zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Presence reconciler stopped")
			return
		case <-ticker.C:
			r.Reconcile(ctx)
		}
	}
}
