package presence

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	sockKeyPrefix = "presence:sock:" // socket id -> user id
	userKeyPrefix = "presence:user:" // user id -> socket id
)

// Store keeps the socket<->user presence mapping in Redis so every gateway
// process sees the same online set. It is a best-effort cache, not a source
// of truth: last write wins, stale entries are swept by reconciliation.
type Store struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewStore(rdb *redis.Client, logger *zap.Logger) *Store {
	return &Store{rdb: rdb, logger: logger}
}

func sockKey(socketID string) string {
	return sockKeyPrefix + socketID
}

func userKey(userID int) string {
	return userKeyPrefix + strconv.Itoa(userID)
}

// SetOnline binds a socket to a user and marks the user online. The socket
// key left by the user's previous connection, if any, is dropped so it does
// not dangle until the next restart.
func (s *Store) SetOnline(ctx context.Context, userID int, socketID string) error {
	prev, ok, err := s.SocketByUser(ctx, userID)
	if err != nil {
		return err
	}

	pipe := s.rdb.Pipeline()
	if ok && prev != socketID {
		pipe.Del(ctx, sockKey(prev))
	}
	pipe.Set(ctx, sockKey(socketID), userID, 0)
	pipe.Set(ctx, userKey(userID), socketID, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set user online: %w", err)
	}
	return nil
}

// SetOffline removes both directions of the mapping for a user.
func (s *Store) SetOffline(ctx context.Context, userID int) error {
	socketID, err := s.rdb.Get(ctx, userKey(userID)).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to look up user socket: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.Del(ctx, userKey(userID))
	if socketID != "" {
		pipe.Del(ctx, sockKey(socketID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set user offline: %w", err)
	}
	return nil
}

// SocketByUser resolves the socket a user is bound to, if any.
func (s *Store) SocketByUser(ctx context.Context, userID int) (string, bool, error) {
	val, err := s.rdb.Get(ctx, userKey(userID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to look up user: %w", err)
	}
	return val, true, nil
}

// OnlineUsers returns the ids of every user with a live presence entry.
func (s *Store) OnlineUsers(ctx context.Context) ([]int, error) {
	var users []int
	iter := s.rdb.Scan(ctx, 0, userKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		idStr := strings.TrimPrefix(iter.Val(), userKeyPrefix)
		id, err := strconv.Atoi(idStr)
		if err != nil {
			s.logger.Warn("Skipping corrupt presence key", zap.String("key", iter.Val()))
			continue
		}
		users = append(users, id)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan presence keys: %w", err)
	}
	return users, nil
}

// Reset wipes all presence state. Called once at gateway start: no user
// survives a restart as online.
func (s *Store) Reset(ctx context.Context) error {
	for _, pattern := range []string{sockKeyPrefix + "*", userKeyPrefix + "*"} {
		iter := s.rdb.Scan(ctx, 0, pattern, 100).Iterator()
		for iter.Next(ctx) {
			if err := s.rdb.Del(ctx, iter.Val()).Err(); err != nil {
				return fmt.Errorf("failed to delete presence key %s: %w", iter.Val(), err)
			}
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("failed to scan presence keys: %w", err)
		}
	}
	s.logger.Info("Presence state reset")
	return nil
}
