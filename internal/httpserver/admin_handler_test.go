package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/asyncarush/makemates-sub000/pkg/outbox"
)

type fakeOutboxStore struct {
	failed   []*outbox.Event
	events   map[int64]*outbox.Event
	replayed []int64
	err      error
}

func (f *fakeOutboxStore) GetFailedEvents(ctx context.Context, limit int) ([]*outbox.Event, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.failed) {
		return f.failed[:limit], nil
	}
	return f.failed, nil
}

func (f *fakeOutboxStore) GetEventByID(ctx context.Context, eventID int64) (*outbox.Event, error) {
	if f.err != nil {
		return nil, f.err
	}
	e, ok := f.events[eventID]
	if !ok {
		return nil, fmt.Errorf("event %d: %w", eventID, pgx.ErrNoRows)
	}
	return e, nil
}

func (f *fakeOutboxStore) ReplayEvent(ctx context.Context, eventID int64) error {
	if f.err != nil {
		return f.err
	}
	f.replayed = append(f.replayed, eventID)
	return nil
}

type fakeCounter struct {
	counts map[int]int
	err    error
}

func (f *fakeCounter) CountForRecipient(ctx context.Context, recipientID int) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.counts[recipientID], nil
}

func adminRouter(store *fakeOutboxStore, counter *fakeCounter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewAdminHandler(store, counter, zap.NewNop())

	r := gin.New()
	r.GET("/internal/outbox/failed", h.ListFailedEvents)
	r.POST("/internal/outbox/:id/replay", h.ReplayEvent)
	r.GET("/internal/notifications/:id/unread_count", h.UnreadCount)
	return r
}

func TestListFailedEvents(t *testing.T) {
	store := &fakeOutboxStore{
		failed: []*outbox.Event{
			{ID: 1, RoutingKey: "notification.fanout", Payload: []byte(`{"job_id":"a"}`), Status: "failed", RetryCount: 5},
		},
	}
	r := adminRouter(store, &fakeCounter{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/internal/outbox/failed", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "notification.fanout") || !strings.Contains(body, `"job_id":"a"`) {
		t.Errorf("response missing event fields: %s", body)
	}
}

func TestListFailedEventsRejectsBadLimit(t *testing.T) {
	r := adminRouter(&fakeOutboxStore{}, &fakeCounter{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/internal/outbox/failed?limit=zero", nil))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestReplayEvent(t *testing.T) {
	store := &fakeOutboxStore{
		events: map[int64]*outbox.Event{
			7: {ID: 7, RoutingKey: "notification.fanout", Status: "failed"},
		},
	}
	r := adminRouter(store, &fakeCounter{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/internal/outbox/7/replay", nil))

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}
	if len(store.replayed) != 1 || store.replayed[0] != 7 {
		t.Errorf("replayed = %v, want [7]", store.replayed)
	}
}

func TestReplayEventNotFound(t *testing.T) {
	store := &fakeOutboxStore{events: map[int64]*outbox.Event{}}
	r := adminRouter(store, &fakeCounter{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/internal/outbox/99/replay", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	if len(store.replayed) != 0 {
		t.Error("missing event must not be replayed")
	}
}

func TestUnreadCount(t *testing.T) {
	counter := &fakeCounter{counts: map[int]int{5: 3}}
	r := adminRouter(&fakeOutboxStore{}, counter)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/internal/notifications/5/unread_count", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"unreadCount":3`) {
		t.Errorf("response missing count: %s", w.Body.String())
	}
}

func TestUnreadCountStoreError(t *testing.T) {
	counter := &fakeCounter{err: errors.New("db down")}
	r := adminRouter(&fakeOutboxStore{}, counter)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/internal/notifications/5/unread_count", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestHealthHandlerReportsBrokerState(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name     string
		brokerUp func() bool
		want     int
	}{
		{"broker up", func() bool { return true }, http.StatusOK},
		{"broker down", func() bool { return false }, http.StatusServiceUnavailable},
		{"no check wired", nil, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.GET("/healthz", healthHandler(tt.brokerUp))

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}
