package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type FollowerRepository struct {
	db *pgxpool.Pool
}

func NewFollowerRepository(db *pgxpool.Pool) *FollowerRepository {
	return &FollowerRepository{db: db}
}

// FindFollowers returns the ids of all users following userID.
func (r *FollowerRepository) FindFollowers(ctx context.Context, userID int) ([]int, error) {
	query := `
        SELECT follower_id FROM follows
        WHERE followee_id = $1
        ORDER BY follower_id
    `
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query followers: %w", err)
	}
	defer rows.Close()

	var followers []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan follower id: %w", err)
		}
		followers = append(followers, id)
	}

	return followers, rows.Err()
}
