package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"go.uber.org/zap"

	mqcontracts "github.com/asyncarush/makemates-sub000/contracts/mq"
	"github.com/asyncarush/makemates-sub000/internal/model"
)

type fakeStore struct {
	inserted [][]model.Notification
	err      error
}

func (f *fakeStore) BulkInsert(ctx context.Context, rows []model.Notification) error {
	if f.err != nil {
		return f.err
	}
	f.inserted = append(f.inserted, rows)
	return nil
}

type fakeDeduper struct {
	seen     map[string]bool
	released []string
}

func newFakeDeduper() *fakeDeduper {
	return &fakeDeduper{seen: make(map[string]bool)}
}

func (f *fakeDeduper) AcquireOnce(ctx context.Context, handler, id string) bool {
	key := handler + ":" + id
	if f.seen[key] {
		return false
	}
	f.seen[key] = true
	return true
}

func (f *fakeDeduper) Release(ctx context.Context, handler, id string) {
	key := handler + ":" + id
	delete(f.seen, key)
	f.released = append(f.released, id)
}

type fakeRetries struct {
	counts map[string]int64
	resets []string
}

func newFakeRetries() *fakeRetries {
	return &fakeRetries{counts: make(map[string]int64)}
}

func (f *fakeRetries) IncrementAndGet(ctx context.Context, key string) (int64, error) {
	f.counts[key]++
	return f.counts[key], nil
}

func (f *fakeRetries) Reset(ctx context.Context, key string) error {
	f.resets = append(f.resets, key)
	delete(f.counts, key)
	return nil
}

type published struct {
	routingKey string
	payload    any
}

type fakeSignals struct {
	published []published
	dlq       []string
	dlqErr    error
}

func (f *fakeSignals) PublishWithContext(ctx context.Context, routingKey string, payload any) error {
	f.published = append(f.published, published{routingKey: routingKey, payload: payload})
	return nil
}

func (f *fakeSignals) PublishToDLQ(routingKey string, payload []byte, originalError string) error {
	if f.dlqErr != nil {
		return f.dlqErr
	}
	f.dlq = append(f.dlq, originalError)
	return nil
}

func jobJSON(t *testing.T, job mqcontracts.NotificationJobPayload) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(job)
	if err != nil {
		t.Fatalf("marshal job: %v", err)
	}
	return raw
}

func testJob() mqcontracts.NotificationJobPayload {
	return mqcontracts.NotificationJobPayload{
		JobID:          "job-1",
		JobName:        "newpost",
		SenderID:       7,
		Type:           "post",
		ResourceID:     99,
		Message:        "posted a photo",
		RecipientBatch: []int{1, 2, 3},
	}
}

func newHandler(store *fakeStore, dedup *fakeDeduper, retries *fakeRetries, signals *fakeSignals) *NotificationJobHandler {
	return NewNotificationJobHandler(store, dedup, retries, signals, 5, zap.NewNop())
}

func TestHandlePersistsOneRowPerRecipient(t *testing.T) {
	store := &fakeStore{}
	signals := &fakeSignals{}
	h := newHandler(store, newFakeDeduper(), newFakeRetries(), signals)

	if err := h.Handle(context.Background(), jobJSON(t, testJob())); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}

	if len(store.inserted) != 1 {
		t.Fatalf("expected exactly one bulk insert, got %d", len(store.inserted))
	}
	rows := store.inserted[0]
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	for i, row := range rows {
		if row.RecipientID != i+1 {
			t.Errorf("row %d recipient = %d, want %d", i, row.RecipientID, i+1)
		}
		if row.SenderID != 7 || row.Type != "post" || row.ResourceID != 99 {
			t.Errorf("row %d did not carry the job fields: %+v", i, row)
		}
		if row.IsRead {
			t.Errorf("row %d written as read, new notifications must be unread", i)
		}
	}

	var gotCompleted, gotPush bool
	for _, p := range signals.published {
		switch p.routingKey {
		case mqcontracts.RouteFanoutCompleted:
			gotCompleted = true
			c := p.payload.(mqcontracts.FanoutCompletedPayload)
			if c.JobID != "job-1" || c.Recipients != 3 {
				t.Errorf("unexpected completed payload: %+v", c)
			}
		case mqcontracts.RouteNotificationPush:
			gotPush = true
			push := p.payload.(mqcontracts.NotificationPushPayload)
			if len(push.Recipients) != 3 {
				t.Errorf("push covers %d recipients, want 3", len(push.Recipients))
			}
		}
	}
	if !gotCompleted {
		t.Error("completed signal was not published")
	}
	if !gotPush {
		t.Error("live-push request was not published")
	}
}

func TestHandleDuplicateJobSkipped(t *testing.T) {
	store := &fakeStore{}
	dedup := newFakeDeduper()
	h := newHandler(store, dedup, newFakeRetries(), &fakeSignals{})

	raw := jobJSON(t, testJob())
	if err := h.Handle(context.Background(), raw); err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}
	if err := h.Handle(context.Background(), raw); err != nil {
		t.Fatalf("redelivery should ack, got: %v", err)
	}

	if len(store.inserted) != 1 {
		t.Errorf("redelivered job was processed twice: %d inserts", len(store.inserted))
	}
}

func TestHandleRetryableFailureNacksAndReleasesDedup(t *testing.T) {
	store := &fakeStore{err: errors.New("db connection lost")}
	dedup := newFakeDeduper()
	signals := &fakeSignals{}
	h := newHandler(store, dedup, newFakeRetries(), signals)

	err := h.Handle(context.Background(), jobJSON(t, testJob()))
	if err == nil {
		t.Fatal("retryable failure must return an error so the delivery is nacked")
	}

	if len(dedup.released) != 1 || dedup.released[0] != "job-1" {
		t.Errorf("dedup lock not released on failure: %v", dedup.released)
	}
	if len(signals.dlq) != 0 {
		t.Error("retryable failure must not dead-letter the job")
	}

	var gotFailed bool
	for _, p := range signals.published {
		if p.routingKey == mqcontracts.RouteFanoutFailed {
			gotFailed = true
			f := p.payload.(mqcontracts.FanoutFailedPayload)
			if f.JobID != "job-1" || f.RetryCount != 1 {
				t.Errorf("unexpected failed payload: %+v", f)
			}
		}
	}
	if !gotFailed {
		t.Error("failed signal was not published")
	}
}

func TestHandleNonRetryableFailureDeadLetters(t *testing.T) {
	store := &fakeStore{err: errors.New("invalid input syntax for type integer")}
	signals := &fakeSignals{}
	h := newHandler(store, newFakeDeduper(), newFakeRetries(), signals)

	if err := h.Handle(context.Background(), jobJSON(t, testJob())); err != nil {
		t.Fatalf("dead-lettered job must be acked, got: %v", err)
	}
	if len(signals.dlq) != 1 {
		t.Fatalf("expected 1 dead-lettered job, got %d", len(signals.dlq))
	}
}

func TestHandleRetriesExhaustedDeadLetters(t *testing.T) {
	store := &fakeStore{err: errors.New("db connection lost")}
	dedup := newFakeDeduper()
	signals := &fakeSignals{}
	h := newHandler(store, dedup, newFakeRetries(), signals)

	raw := jobJSON(t, testJob())
	var acked bool
	for i := 0; i < 10; i++ {
		if err := h.Handle(context.Background(), raw); err == nil {
			acked = true
			break
		}
	}

	if !acked {
		t.Fatal("job was never dead-lettered after exhausting retries")
	}
	if len(signals.dlq) != 1 {
		t.Errorf("expected 1 dead-lettered job, got %d", len(signals.dlq))
	}
}

func TestHandleMalformedPayloadDeadLetters(t *testing.T) {
	store := &fakeStore{}
	signals := &fakeSignals{}
	h := newHandler(store, newFakeDeduper(), newFakeRetries(), signals)

	if err := h.Handle(context.Background(), json.RawMessage(`{not json`)); err != nil {
		t.Fatalf("malformed payload must be acked after dead-lettering, got: %v", err)
	}
	if len(signals.dlq) != 1 {
		t.Errorf("expected malformed payload in DLQ, got %d entries", len(signals.dlq))
	}
	if len(store.inserted) != 0 {
		t.Error("malformed payload must not reach the store")
	}
}

func TestHandleSuccessResetsRetryCounter(t *testing.T) {
	store := &fakeStore{}
	retries := newFakeRetries()
	h := newHandler(store, newFakeDeduper(), retries, &fakeSignals{})

	if err := h.Handle(context.Background(), jobJSON(t, testJob())); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if len(retries.resets) != 1 {
		t.Errorf("retry counter not reset on success: %v", retries.resets)
	}
}
