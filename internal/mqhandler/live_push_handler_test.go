package mqhandler

import (
	"context"
	"encoding/json"
	"testing"

	"go.uber.org/zap"

	mqcontracts "github.com/asyncarush/makemates-sub000/contracts/mq"
)

type fakePusher struct {
	online map[int]bool
	pushed []int
	events []string
}

func (f *fakePusher) PushToUser(userID int, event string, payload any) bool {
	if !f.online[userID] {
		return false
	}
	f.pushed = append(f.pushed, userID)
	f.events = append(f.events, event)
	return true
}

func TestLivePushOnlyReachesOnlineRecipients(t *testing.T) {
	pusher := &fakePusher{online: map[int]bool{1: true, 3: true}}
	h := NewLivePushHandler(pusher, zap.NewNop())

	raw, _ := json.Marshal(mqcontracts.NotificationPushPayload{
		JobID:      "job-1",
		Recipients: []int{1, 2, 3},
	})
	if err := h.Handle(context.Background(), raw); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}

	if len(pusher.pushed) != 2 || pusher.pushed[0] != 1 || pusher.pushed[1] != 3 {
		t.Errorf("pushed to %v, want [1 3]", pusher.pushed)
	}
	for _, evt := range pusher.events {
		if evt != "new_notification" {
			t.Errorf("pushed event %q, want new_notification", evt)
		}
	}
}

func TestLivePushNeverNacks(t *testing.T) {
	h := NewLivePushHandler(&fakePusher{}, zap.NewNop())

	if err := h.Handle(context.Background(), json.RawMessage(`{broken`)); err != nil {
		t.Errorf("malformed push payload must still ack, got: %v", err)
	}

	raw, _ := json.Marshal(mqcontracts.NotificationPushPayload{Recipients: []int{5}})
	if err := h.Handle(context.Background(), raw); err != nil {
		t.Errorf("offline recipients must still ack, got: %v", err)
	}
}
