package fanout

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/asyncarush/makemates-sub000/pkg/outbox"
)

// OutboxParker parks unpublishable jobs in the transactional outbox; the
// outbox dispatcher replays them once the broker is reachable again.
type OutboxParker struct {
	db   *pgxpool.Pool
	repo *outbox.Repository
}

func NewOutboxParker(db *pgxpool.Pool, repo *outbox.Repository) *OutboxParker {
	return &OutboxParker{db: db, repo: repo}
}

func (p *OutboxParker) Park(ctx context.Context, routingKey string, payload any) error {
	return outbox.Park(ctx, p.db, p.repo, "notification_job", nil, routingKey, payload)
}
