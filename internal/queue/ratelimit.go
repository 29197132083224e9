package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// takeScript counts one request against KEYS[1] unless the count already
// reached ARGV[1]. Denied requests do not consume the allowance.
var takeScript = redis.NewScript(`
local used = tonumber(redis.call("GET", KEYS[1]) or "0")
if used >= tonumber(ARGV[1]) then
  return {0, used}
end
used = redis.call("INCR", KEYS[1])
if used == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return {1, used}
`)

// Limits holds hourly allowances per user and chat. Text covers /complete
// and /chat, Image covers /image. Zero or less means unlimited.
type Limits struct {
	Text  int64
	Image int64
}

// Decision is the outcome of one RateLimiter.Allow call.
type Decision struct {
	Allowed bool
	Used    int64
	Limit   int64
	ResetAt time.Time
}

// RateLimiter keeps separate hourly buckets for text and image jobs, so
// image requests cannot starve the text allowance.
type RateLimiter struct {
	redis  *redis.Client
	limits Limits
}

func NewRateLimiter(rdb *redis.Client, limits Limits) *RateLimiter {
	return &RateLimiter{redis: rdb, limits: limits}
}

func (r *RateLimiter) bucket(kind JobKind) (string, int64) {
	if kind == JobImage {
		return "image", r.limits.Image
	}
	return "text", r.limits.Text
}

// Allow takes one request of kind from the bucket of userID in chatID for
// the hour containing now.
func (r *RateLimiter) Allow(ctx context.Context, kind JobKind, chatID, userID int64, now time.Time) (Decision, error) {
	window := now.UTC().Truncate(time.Hour)
	d := Decision{Allowed: true, ResetAt: window.Add(time.Hour)}

	name, limit := r.bucket(kind)
	if limit <= 0 {
		return d, nil
	}
	d.Limit = limit

	ttl := d.ResetAt.Sub(now.UTC())
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}
	key := fmt.Sprintf("aiconnect:ratelimit:%s:%d:%d:%s", name, chatID, userID, window.Format("2006010215"))
	res, err := takeScript.Run(ctx, r.redis, []string{key}, limit, ttl.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit %s: %w", name, err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("rate limit %s: unexpected reply %v", name, res)
	}
	d.Allowed = res[0] == 1
	d.Used = res[1]
	return d, nil
}

type UpdateDeduplicator struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewUpdateDeduplicator(rdb *redis.Client, ttl time.Duration) *UpdateDeduplicator {
	return &UpdateDeduplicator{redis: rdb, ttl: ttl}
}

// MarkFirst reports whether this is the first time updateID has been seen.
func (d *UpdateDeduplicator) MarkFirst(ctx context.Context, updateID int64) (bool, error) {
	key := fmt.Sprintf("aiconnect:update:%d", updateID)
	ok, err := d.redis.SetNX(ctx, key, "1", d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe setnx: %w", err)
	}
	return ok, nil
}
