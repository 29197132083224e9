package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrChatBusy = errors.New("chat is busy")

var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// ChatLocker serializes work on one Telegram chat across workers. The lock
// expires after ttl so a crashed holder cannot block the chat for good.
type ChatLocker struct {
	redis *redis.Client
	ttl   time.Duration
	wait  time.Duration
	poll  time.Duration
}

func NewChatLocker(rdb *redis.Client, ttl, wait time.Duration) *ChatLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &ChatLocker{redis: rdb, ttl: ttl, wait: wait, poll: 100 * time.Millisecond}
}

// Acquire blocks until the chat lock is held or wait elapses, in which case
// it returns ErrChatBusy.
func (l *ChatLocker) Acquire(ctx context.Context, chatID int64) (release func(), err error) {
	key := fmt.Sprintf("aiconnect:chatlock:%d", chatID)
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.redis.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("chat lock setnx: %w", err)
		}
		if ok {
			return func() {
				_ = releaseLockScript.Run(context.Background(), l.redis, []string{key}, token).Err()
			}, nil
		}
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("chat %d: %w", chatID, ErrChatBusy)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.poll):
		}
	}
}
