package mq

import "time"

// Routing keys for the notification fan-out pipeline.
const (
	RouteNotificationFanout = "notification.fanout"
	RouteNotificationPush   = "notification.push"
	RouteFanoutCompleted    = "notification.fanout.completed"
	RouteFanoutFailed       = "notification.fanout.failed"
)

// NotificationJobPayload is one fan-out batch: the original notification
// fields plus the slice of recipients this job covers.
type NotificationJobPayload struct {
	JobID          string    `json:"job_id"`
	JobName        string    `json:"job_name"`
	SenderID       int       `json:"sender_id"`
	Type           string    `json:"type"` // post, ...
	ResourceID     int       `json:"resource_id"`
	Message        string    `json:"message"`
	RecipientBatch []int     `json:"recipient_batch"`
	CreatedAt      time.Time `json:"created_at"`
	TraceID        string    `json:"trace_id,omitempty"`
}

// NotificationPushPayload asks the gateway to push a live "new_notification"
// event to any of the recipients that are currently online.
type NotificationPushPayload struct {
	JobID      string `json:"job_id"`
	Recipients []int  `json:"recipients"`
	TraceID    string `json:"trace_id,omitempty"`
}

// FanoutCompletedPayload signals that a batch was fully persisted.
type FanoutCompletedPayload struct {
	JobID       string    `json:"job_id"`
	JobName     string    `json:"job_name"`
	Recipients  int       `json:"recipients"`
	CompletedAt time.Time `json:"completed_at"`
}

// FanoutFailedPayload signals a batch that could not be persisted.
type FanoutFailedPayload struct {
	JobID      string `json:"job_id"`
	JobName    string `json:"job_name"`
	Error      string `json:"error"`
	RetryCount int64  `json:"retry_count"`
}
