package mq

import "testing"

func TestDLQQueueName(t *testing.T) {
	tests := []struct {
		routingKey string
		want       string
	}{
		{"notification.fanout", "notification.fanout.dlq"},
		{"notification.push", "notification.push.dlq"},
	}

	for _, tt := range tests {
		if got := DLQQueueName(tt.routingKey); got != tt.want {
			t.Errorf("DLQQueueName(%q) = %q, want %q", tt.routingKey, got, tt.want)
		}
	}
}
