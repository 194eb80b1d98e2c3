package model

import "time"

// Notification is one row in the notifications table, addressed to a single
// recipient. Rows are written unread by the fan-out worker; a separate
// mark-read endpoint flips IsRead later.
type Notification struct {
	ID          int       `json:"id"`
	RecipientID int       `json:"recipient_id"`
	SenderID    int       `json:"sender_id"`
	Type        string    `json:"type"`
	ResourceID  int       `json:"resource_id"`
	Message     string    `json:"message"`
	IsRead      bool      `json:"is_read"`
	CreatedAt   time.Time `json:"created_at"`
}
