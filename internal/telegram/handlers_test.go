package telegram

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"aiconnect/internal/ai"
	"aiconnect/internal/bridge"
	"aiconnect/internal/cache"
	"aiconnect/internal/connectors/connectortest"
	"aiconnect/internal/metrics"
	"aiconnect/internal/queue"
	"aiconnect/internal/storage"
)

type fixture struct {
	svc      *Service
	fake     *connectortest.Fake
	queue    *queue.StreamQueue
	store    *storage.Store
	sessions *cache.Sessions
}

func newFixture(t *testing.T, perHour int64) *fixture {
	t.Helper()
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	s, err := storage.Open(ctx, "sqlite", filepath.Join(t.TempDir(), "bot.db"), true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	q := queue.NewStreamQueue(rdb, "aiconnect:jobs", "workers", "w1", -1)
	require.NoError(t, q.EnsureGroup(ctx))

	f := &fixture{
		fake:     &connectortest.Fake{},
		queue:    q,
		store:    s,
		sessions: cache.NewSessions(rdb, time.Hour),
	}
	f.svc = NewService(Config{
		Queue:       q,
		Connector:   f.fake,
		Repo:        s,
		Models:      cache.NewModels(rdb, time.Hour, zerolog.Nop()),
		Sessions:    f.sessions,
		RateLimiter: queue.NewRateLimiter(rdb, queue.Limits{Text: perHour, Image: perHour}),
		Logger:      zerolog.Nop(),
		Metrics:     metrics.New(),
	})
	f.svc.now = func() time.Time { return time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC) }
	return f
}

func TestEnqueueBuildsJob(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	out := f.svc.enqueue(ctx, request{ChatID: 1, UserID: 2, MessageID: 3, Text: "/chat   tell me a joke"}, queue.JobChat, "usage")
	require.Equal(t, "Accepted. Processing in queue.", out)

	msgs, err := f.queue.Read(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	job := msgs[0].Job
	require.Equal(t, queue.JobChat, job.Kind)
	require.Equal(t, int64(1), job.ChatID)
	require.Equal(t, int64(3), job.MessageID)
	require.Equal(t, "tell me a joke", job.Prompt)
}

func TestEnqueueRequiresPrompt(t *testing.T) {
	f := newFixture(t, 10)
	out := f.svc.enqueue(context.Background(), request{ChatID: 1, UserID: 2, Text: "/image"}, queue.JobImage, "Usage: /image <text>")
	require.Equal(t, "Usage: /image <text>", out)
}

func TestEnqueueRateLimited(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	r := request{ChatID: 1, UserID: 2, Text: "/complete hi"}

	require.Equal(t, "Accepted. Processing in queue.", f.svc.enqueue(ctx, r, queue.JobComplete, "usage"))
	require.Equal(t, "Rate limit of 1 per hour exceeded. Try again after 10:00 UTC", f.svc.enqueue(ctx, r, queue.JobComplete, "usage"))
}

func TestImageLimitIsSeparateFromText(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	img := request{ChatID: 1, UserID: 2, Text: "/image a cat"}
	txt := request{ChatID: 1, UserID: 2, Text: "/chat hi"}

	require.Equal(t, "Accepted. Processing in queue.", f.svc.enqueue(ctx, img, queue.JobImage, "usage"))
	require.Equal(t, "Image limit of 1 per hour exceeded. Try again after 10:00 UTC", f.svc.enqueue(ctx, img, queue.JobImage, "usage"))
	require.Equal(t, "Accepted. Processing in queue.", f.svc.enqueue(ctx, txt, queue.JobChat, "usage"))
}

func TestResetClearsSession(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	require.NoError(t, f.sessions.Set(ctx, 1, 42))

	require.Equal(t, "Conversation reset.", f.svc.doReset(ctx, request{ChatID: 1}))
	id, err := f.sessions.Get(ctx, 1)
	require.NoError(t, err)
	require.Zero(t, id)
}

func TestModelsMarksImported(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	f.fake.Models = []bridge.ModelBridge{
		bridge.NewModelBridge(ai.OpenAI, "gpt-4o", "gpt-4o"),
		bridge.NewModelBridge(ai.OpenAI, "dall-e-3", "dall-e-3"),
	}
	_, err := f.fake.Models[0].Import(ctx, f.store)
	require.NoError(t, err)

	out := f.svc.doModels(ctx)
	require.Equal(t, "Models (2):\n- gpt-4o [imported]\n- dall-e-3", out)
}

func TestModelsTruncatesLongList(t *testing.T) {
	f := newFixture(t, 10)
	for i := 0; i < maxListedModels+5; i++ {
		id := fmt.Sprintf("model-%d", i)
		f.fake.Models = append(f.fake.Models, bridge.NewModelBridge(ai.OpenAI, id, id))
	}
	out := f.svc.doModels(context.Background())
	require.True(t, strings.HasSuffix(out, "... and 5 more"))
}

func TestModelsReportsProviderError(t *testing.T) {
	f := newFixture(t, 10)
	f.fake.Err = errors.New("invalid_api_key")
	require.Equal(t, "Failed to list models: invalid_api_key", f.svc.doModels(context.Background()))
}

func TestProcessorAllowed(t *testing.T) {
	open := Processor{}
	require.True(t, open.allowed(nil))

	private := Processor{AllowedUserID: 7}
	require.False(t, private.allowed(nil))
	require.False(t, private.allowed(&gotgbot.User{Id: 8}))
	require.True(t, private.allowed(&gotgbot.User{Id: 7}))
}

func TestCommandRemainder(t *testing.T) {
	require.Equal(t, "", commandRemainder("/chat"))
	require.Equal(t, "hello world", commandRemainder("/chat hello world"))
}
