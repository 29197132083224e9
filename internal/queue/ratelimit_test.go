package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRateLimiterAllow(t *testing.T) {
	_, rdb := newRedis(t)
	ctx := context.Background()

	rl := NewRateLimiter(rdb, Limits{Text: 2})
	now := time.Date(2026, 2, 13, 10, 0, 0, 0, time.UTC)

	for i := int64(1); i <= 2; i++ {
		d, err := rl.Allow(ctx, JobChat, 1, 10, now)
		if err != nil {
			t.Fatalf("allow#%d: %v", i, err)
		}
		if !d.Allowed || d.Used != i || d.Limit != 2 {
			t.Fatalf("expected call %d allowed with used=%d, got %+v", i, i, d)
		}
	}

	d, err := rl.Allow(ctx, JobComplete, 1, 10, now)
	if err != nil {
		t.Fatalf("allow#3: %v", err)
	}
	if d.Allowed || d.Used != 2 {
		t.Fatalf("expected third call denied without consuming, got %+v", d)
	}
	if !d.ResetAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("expected reset at %s, got %s", now.Add(time.Hour), d.ResetAt)
	}

	d, err = rl.Allow(ctx, JobChat, 1, 10, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("allow next window: %v", err)
	}
	if !d.Allowed || d.Used != 1 {
		t.Fatalf("expected next window to start fresh, got %+v", d)
	}
}

func TestRateLimiterSeparatesImageBucket(t *testing.T) {
	_, rdb := newRedis(t)
	ctx := context.Background()

	rl := NewRateLimiter(rdb, Limits{Text: 1, Image: 1})
	now := time.Date(2026, 2, 13, 10, 15, 0, 0, time.UTC)

	if d, err := rl.Allow(ctx, JobImage, 1, 10, now); err != nil || !d.Allowed {
		t.Fatalf("expected first image allowed, got %+v err=%v", d, err)
	}
	if d, err := rl.Allow(ctx, JobImage, 1, 10, now); err != nil || d.Allowed {
		t.Fatalf("expected second image denied, got %+v err=%v", d, err)
	}
	if d, err := rl.Allow(ctx, JobChat, 1, 10, now); err != nil || !d.Allowed {
		t.Fatalf("expected text still allowed after image limit, got %+v err=%v", d, err)
	}
	if d, err := rl.Allow(ctx, JobImage, 1, 11, now); err != nil || !d.Allowed {
		t.Fatalf("expected other user unaffected, got %+v err=%v", d, err)
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	mr, rdb := newRedis(t)
	rl := NewRateLimiter(rdb, Limits{Text: 0, Image: -1})
	for i := 0; i < 5; i++ {
		for _, kind := range []JobKind{JobComplete, JobImage} {
			d, err := rl.Allow(context.Background(), kind, 1, 10, time.Now())
			if err != nil || !d.Allowed {
				t.Fatalf("expected disabled limiter to allow %s, got %+v err=%v", kind, d, err)
			}
		}
	}
	if keys := mr.Keys(); len(keys) != 0 {
		t.Fatalf("expected no counters, got %v", keys)
	}
}

func TestRateLimiterExpiresWithWindow(t *testing.T) {
	mr, rdb := newRedis(t)
	rl := NewRateLimiter(rdb, Limits{Text: 5})
	now := time.Date(2026, 2, 13, 10, 45, 0, 0, time.UTC)

	if _, err := rl.Allow(context.Background(), JobChat, 1, 10, now); err != nil {
		t.Fatalf("allow: %v", err)
	}
	key := "aiconnect:ratelimit:text:1:10:2026021310"
	if ttl := mr.TTL(key); ttl != 15*time.Minute {
		t.Fatalf("expected counter to expire with the window, got %s", ttl)
	}
}

func TestUpdateDeduplicator(t *testing.T) {
	_, rdb := newRedis(t)
	d := NewUpdateDeduplicator(rdb, time.Minute)

	first, err := d.MarkFirst(context.Background(), 77)
	if err != nil || !first {
		t.Fatalf("expected first sighting, got first=%v err=%v", first, err)
	}
	first, err = d.MarkFirst(context.Background(), 77)
	if err != nil || first {
		t.Fatalf("expected duplicate, got first=%v err=%v", first, err)
	}
}
