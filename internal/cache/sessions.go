package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Sessions maps a Telegram chat to the stored Chat row it is talking in.
type Sessions struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewSessions(rdb *redis.Client, ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Sessions{redis: rdb, ttl: ttl}
}

func (s *Sessions) key(telegramChatID int64) string {
	return fmt.Sprintf("aiconnect:session:%d", telegramChatID)
}

// Get returns the Chat row id, or 0 when no session is active.
func (s *Sessions) Get(ctx context.Context, telegramChatID int64) (int64, error) {
	raw, err := s.redis.Get(ctx, s.key(telegramChatID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get session: %w", err)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse session %q: %w", raw, err)
	}
	return id, nil
}

// Set stores the mapping and restarts its TTL.
func (s *Sessions) Set(ctx context.Context, telegramChatID, chatID int64) error {
	return s.redis.Set(ctx, s.key(telegramChatID), strconv.FormatInt(chatID, 10), s.ttl).Err()
}

func (s *Sessions) Clear(ctx context.Context, telegramChatID int64) error {
	return s.redis.Del(ctx, s.key(telegramChatID)).Err()
}
