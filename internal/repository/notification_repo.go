package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/asyncarush/makemates-sub000/internal/model"
)

type NotificationRepository struct {
	db *pgxpool.Pool
}

func NewNotificationRepository(db *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// BulkInsert writes one notification row per recipient as a single batched
// round-trip inside a transaction. Either every row lands or none do.
func (r *NotificationRepository) BulkInsert(ctx context.Context, rows []model.Notification) error {
	if len(rows) == 0 {
		return nil
	}

	query := `
        INSERT INTO notifications (recipient_id, sender_id, type, resource_id, message, is_read, created_at)
        VALUES ($1, $2, $3, $4, $5, false, NOW())
    `

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, n := range rows {
		batch.Queue(query, n.RecipientID, n.SenderID, n.Type, n.ResourceID, n.Message)
	}

	results := tx.SendBatch(ctx, batch)
	for range rows {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("failed to insert notification: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("failed to close batch results: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit notifications: %w", err)
	}

	return nil
}

// CountForRecipient returns the number of unread notifications for a user.
func (r *NotificationRepository) CountForRecipient(ctx context.Context, recipientID int) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
        SELECT COUNT(*) FROM notifications
        WHERE recipient_id = $1 AND is_read = false
    `, recipientID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count notifications: %w", err)
	}
	return count, nil
}
