package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"go.uber.org/zap"
)

type sentEvent struct {
	name    string
	payload any
}

type fakeConn struct {
	mu     sync.Mutex
	id     string
	sent   []sentEvent
	alive  bool
	closed bool
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id, alive: true}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sentEvent{name: event, payload: payload})
	return nil
}

func (c *fakeConn) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alive
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, len(c.sent))
	for i, e := range c.sent {
		names[i] = e.name
	}
	return names
}

func (c *fakeConn) received(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.sent {
		if e.name == event {
			n++
		}
	}
	return n
}

type fakePresence struct {
	mu     sync.Mutex
	online map[int]string
	err    error
}

func newFakePresence() *fakePresence {
	return &fakePresence{online: make(map[int]string)}
}

func (f *fakePresence) SetOnline(ctx context.Context, userID int, socketID string) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online[userID] = socketID
	return nil
}

func (f *fakePresence) SetOffline(ctx context.Context, userID int) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.online, userID)
	return nil
}

func (f *fakePresence) OnlineUsers(ctx context.Context) ([]int, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	users := make([]int, 0, len(f.online))
	for id := range f.online {
		users = append(users, id)
	}
	return users, nil
}

func (f *fakePresence) isOnline(userID int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.online[userID]
	return ok
}

func TestIdentifyBroadcastsOnlineSet(t *testing.T) {
	presence := newFakePresence()
	r := NewRegistry(presence, zap.NewNop())

	observer := newFakeConn("obs")
	r.Register(observer)

	c := newFakeConn("s1")
	r.Register(c)
	r.Identify(context.Background(), c, 42)

	if !presence.isOnline(42) {
		t.Error("identify did not flip presence online")
	}
	if observer.received("users:online") != 1 {
		t.Errorf("observer got %d users:online broadcasts, want 1", observer.received("users:online"))
	}
	if observer.received("user:online") != 1 {
		t.Errorf("observer got %d user:online broadcasts, want 1", observer.received("user:online"))
	}
}

func TestIdentifyLastWriterWins(t *testing.T) {
	presence := newFakePresence()
	r := NewRegistry(presence, zap.NewNop())

	first := newFakeConn("s1")
	second := newFakeConn("s2")
	r.Register(first)
	r.Register(second)

	r.Identify(context.Background(), first, 42)
	r.Identify(context.Background(), second, 42)

	delivered := r.PushToUser(42, "new_notification", nil)
	if !delivered {
		t.Fatal("push to identified user failed")
	}
	if second.received("new_notification") != 1 {
		t.Error("push did not reach the newest socket")
	}
	if first.received("new_notification") != 0 {
		t.Error("push reached a replaced socket")
	}

	// The replaced socket disconnecting must not flip the user offline.
	r.Disconnect(context.Background(), "s1")
	if !presence.isOnline(42) {
		t.Error("disconnecting a replaced socket took the user offline")
	}
}

func TestDisconnectBroadcastsOffline(t *testing.T) {
	presence := newFakePresence()
	r := NewRegistry(presence, zap.NewNop())

	observer := newFakeConn("obs")
	r.Register(observer)

	c := newFakeConn("s1")
	r.Register(c)
	r.Identify(context.Background(), c, 42)

	r.Disconnect(context.Background(), "s1")

	if presence.isOnline(42) {
		t.Error("disconnect did not flip presence offline")
	}
	if observer.received("user:offline") != 1 {
		t.Errorf("observer got %d user:offline broadcasts, want 1", observer.received("user:offline"))
	}
	if r.PushToUser(42, "new_notification", nil) {
		t.Error("push succeeded after disconnect")
	}
}

func TestDisconnectAnonymousSocketNoBroadcast(t *testing.T) {
	r := NewRegistry(newFakePresence(), zap.NewNop())

	observer := newFakeConn("obs")
	r.Register(observer)

	c := newFakeConn("s1")
	r.Register(c)
	r.Disconnect(context.Background(), "s1")

	if observer.received("user:offline") != 0 {
		t.Error("anonymous disconnect must not broadcast user:offline")
	}
}

func TestSetUserOfflineKeepsConnection(t *testing.T) {
	presence := newFakePresence()
	r := NewRegistry(presence, zap.NewNop())

	c := newFakeConn("s1")
	r.Register(c)
	r.Identify(context.Background(), c, 42)

	r.SetUserOffline(context.Background(), c)

	if presence.isOnline(42) {
		t.Error("explicit offline did not clear presence")
	}
	if c.received("user:offline") != 1 {
		t.Error("socket should still receive broadcasts after going offline")
	}
}

func TestPushToUserOffline(t *testing.T) {
	r := NewRegistry(newFakePresence(), zap.NewNop())

	if r.PushToUser(7, "new_notification", nil) {
		t.Error("push to an unknown user must report not delivered")
	}
}

func TestReconcileEvictsDeadConnections(t *testing.T) {
	presence := newFakePresence()
	r := NewRegistry(presence, zap.NewNop())

	healthy := newFakeConn("s1")
	dead := newFakeConn("s2")
	r.Register(healthy)
	r.Register(dead)
	r.Identify(context.Background(), healthy, 1)
	r.Identify(context.Background(), dead, 2)

	dead.mu.Lock()
	dead.alive = false
	dead.mu.Unlock()

	r.Reconcile(context.Background())

	if presence.isOnline(2) {
		t.Error("reconciliation did not evict the dead connection")
	}
	if !presence.isOnline(1) {
		t.Error("reconciliation evicted a healthy connection")
	}
	if healthy.received("user:offline") != 1 {
		t.Errorf("healthy socket got %d user:offline broadcasts, want 1", healthy.received("user:offline"))
	}
}

func TestReconcileClosesEvictedConnections(t *testing.T) {
	r := NewRegistry(newFakePresence(), zap.NewNop())

	dead := newFakeConn("s1")
	r.Register(dead)
	r.Identify(context.Background(), dead, 1)

	dead.mu.Lock()
	dead.alive = false
	dead.mu.Unlock()

	r.Reconcile(context.Background())

	if !dead.isClosed() {
		t.Error("eviction must close the underlying connection so its read loop unblocks")
	}
}

func TestBroadcastToRoomExcludesSender(t *testing.T) {
	r := NewRegistry(newFakePresence(), zap.NewNop())

	a := newFakeConn("a")
	b := newFakeConn("b")
	outsider := newFakeConn("c")
	r.Register(a)
	r.Register(b)
	r.Register(outsider)
	r.JoinRoom(a, "chat:1")
	r.JoinRoom(b, "chat:1")

	r.BroadcastToRoom("chat:1", "receive_message", map[string]any{"text": "hi"}, "a")

	if a.received("receive_message") != 0 {
		t.Error("sender received its own room broadcast")
	}
	if b.received("receive_message") != 1 {
		t.Error("room member did not receive the broadcast")
	}
	if outsider.received("receive_message") != 0 {
		t.Error("socket outside the room received the broadcast")
	}
}

func TestLeaveRoomStopsDelivery(t *testing.T) {
	r := NewRegistry(newFakePresence(), zap.NewNop())

	a := newFakeConn("a")
	b := newFakeConn("b")
	r.Register(a)
	r.Register(b)
	r.JoinRoom(a, "chat:1")
	r.JoinRoom(b, "chat:1")
	r.LeaveRoom(b, "chat:1")

	r.BroadcastToRoom("chat:1", "user_typing", nil)

	if b.received("user_typing") != 0 {
		t.Error("socket received room event after leaving")
	}
	if a.received("user_typing") != 1 {
		t.Error("remaining member did not receive room event")
	}
}

func TestDispatchUnknownEventDropped(t *testing.T) {
	d := NewDispatcher(zap.NewNop())
	sess := &Session{Conn: newFakeConn("s1"), UserID: 1}

	if err := d.Dispatch(context.Background(), sess, Event{Name: "bogus"}); err != nil {
		t.Errorf("unknown event must be dropped without error, got: %v", err)
	}
}

func TestDispatchRecoversFromPanic(t *testing.T) {
	d := NewDispatcher(zap.NewNop())
	d.Register("boom", func(ctx context.Context, sess *Session, data json.RawMessage) error {
		panic("handler bug")
	})
	sess := &Session{Conn: newFakeConn("s1"), UserID: 1}

	d.Dispatch(context.Background(), sess, Event{Name: "boom"})
}

func TestDispatchRoutesByEventName(t *testing.T) {
	d := NewDispatcher(zap.NewNop())
	var got json.RawMessage
	d.Register("typing", func(ctx context.Context, sess *Session, data json.RawMessage) error {
		got = data
		return nil
	})
	sess := &Session{Conn: newFakeConn("s1"), UserID: 1}

	payload := json.RawMessage(`{"chatId":3}`)
	if err := d.Dispatch(context.Background(), sess, Event{Name: "typing", Data: payload}); err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	if string(got) != `{"chatId":3}` {
		t.Errorf("handler got %s, want the raw payload", got)
	}
}
