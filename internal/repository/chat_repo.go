package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/asyncarush/makemates-sub000/internal/model"
)

type ChatRepository struct {
	db *pgxpool.Pool
}

func NewChatRepository(db *pgxpool.Pool) *ChatRepository {
	return &ChatRepository{db: db}
}

// Insert persists a chat message and returns its id and server timestamp.
func (r *ChatRepository) Insert(ctx context.Context, msg model.ChatMessage) (int, time.Time, error) {
	query := `
        INSERT INTO chat_messages (chat_id, sender_id, text, created_at)
        VALUES ($1, $2, $3, NOW())
        RETURNING id, created_at
    `

	var id int
	var createdAt time.Time
	err := r.db.QueryRow(ctx, query, msg.ChatID, msg.SenderID, msg.Text).Scan(&id, &createdAt)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to insert chat message: %w", err)
	}

	return id, createdAt, nil
}
