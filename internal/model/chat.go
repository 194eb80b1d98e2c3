package model

import "time"

// ChatMessage is one persisted chat message.
type ChatMessage struct {
	ID        int       `json:"id"`
	ChatID    int       `json:"chatId"`
	SenderID  int       `json:"senderId"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}
