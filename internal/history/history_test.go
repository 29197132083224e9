package history

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"aiconnect/internal/ai"
	"aiconnect/internal/connectors/connectortest"
	"aiconnect/internal/metrics"
	"aiconnect/internal/storage"
)

func setup(t *testing.T) (*connectortest.Fake, *storage.Store, Config) {
	t.Helper()
	s, err := storage.Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "history.db"), true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	fake := &connectortest.Fake{}
	return fake, s, Config{Connector: fake, Repo: s, Logger: zerolog.Nop(), Metrics: metrics.New()}
}

func TestCompleterStoresCompletion(t *testing.T) {
	ctx := context.Background()
	fake, s, cfg := setup(t)
	c := NewCompleter(cfg)

	resp, err := c.Complete(ctx, "gpt-3.5-turbo-instruct", "hello")
	require.NoError(t, err)
	require.Equal(t, "echo: hello", resp.Content())
	require.Len(t, fake.CompleteCalls, 1)

	m, err := s.GetModel(ctx, "gpt-3.5-turbo-instruct", ai.OpenAI)
	require.NoError(t, err)
	require.True(t, m.IsActive)

	rows, err := s.ListCompletions(ctx, m.ID, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "hello", rows[0].Prompt)
	require.Equal(t, "echo: hello", rows[0].Completion)
	require.Equal(t, resp.ExternalID, rows[0].ExternalID)
}

func TestCompleterReusesImportedModel(t *testing.T) {
	ctx := context.Background()
	_, s, cfg := setup(t)
	c := NewCompleter(cfg)

	_, err := c.Complete(ctx, "gpt-3.5-turbo-instruct", "one")
	require.NoError(t, err)
	_, err = c.CompleteStream(ctx, "gpt-3.5-turbo-instruct", "two")
	require.NoError(t, err)

	models, err := s.ListModels(ctx, ai.OpenAI, false)
	require.NoError(t, err)
	require.Len(t, models, 1)

	rows, err := s.ListCompletions(ctx, models[0].ID, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestCompleterFailureStoresNothing(t *testing.T) {
	ctx := context.Background()
	fake, s, cfg := setup(t)
	boom := errors.New("rate limited")
	fake.Err = boom

	_, err := NewCompleter(cfg).Complete(ctx, "gpt-3.5-turbo-instruct", "hello")
	require.ErrorIs(t, err, boom)

	models, err := s.ListModels(ctx, "", false)
	require.NoError(t, err)
	require.Empty(t, models)
}

func TestChatterAppendsInOrder(t *testing.T) {
	ctx := context.Background()
	fake, _, cfg := setup(t)
	c := NewChatter(cfg)

	first, err := c.Send(ctx, 0, "gpt-4o-mini", "hi")
	require.NoError(t, err)
	require.NotZero(t, first.ChatID)

	second, err := c.SendStream(ctx, first.ChatID, "ignored-model", "how are you")
	require.NoError(t, err)
	require.Equal(t, first.ChatID, second.ChatID)

	require.Len(t, fake.ChatCalls, 2)
	require.Equal(t, "gpt-4o-mini", fake.ChatCalls[1].Model)
	require.Equal(t, ai.Input{
		{Role: ai.RoleUser, Content: "hi"},
		{Role: ai.RoleAssistant, Content: "echo: hi"},
		{Role: ai.RoleUser, Content: "how are you"},
	}, fake.ChatCalls[1].Input)
	require.True(t, fake.ChatCalls[1].Stream)

	msgs, err := c.History(ctx, first.ChatID)
	require.NoError(t, err)
	require.Equal(t, []ai.Message{
		{Role: ai.RoleUser, Content: "hi"},
		{Role: ai.RoleAssistant, Content: "echo: hi"},
		{Role: ai.RoleUser, Content: "how are you"},
		{Role: ai.RoleAssistant, Content: "echo: how are you"},
	}, msgs)
}

func TestChatterUnknownChat(t *testing.T) {
	_, _, cfg := setup(t)
	_, err := NewChatter(cfg).Send(context.Background(), 999, "gpt-4o-mini", "hi")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestChatterFailureLeavesChatUntouched(t *testing.T) {
	ctx := context.Background()
	fake, _, cfg := setup(t)
	c := NewChatter(cfg)

	turn, err := c.Send(ctx, 0, "gpt-4o-mini", "hi")
	require.NoError(t, err)

	fake.Err = errors.New("provider down")
	_, err = c.Send(ctx, turn.ChatID, "", "again")
	require.Error(t, err)

	msgs, err := c.History(ctx, turn.ChatID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
}

func TestChatterConcurrentTurnsAllKept(t *testing.T) {
	ctx := context.Background()
	_, _, cfg := setup(t)
	c := NewChatter(cfg)

	first, err := c.Send(ctx, 0, "gpt-4o-mini", "hi")
	require.NoError(t, err)

	prompts := []string{"a", "b", "c", "d"}
	var wg sync.WaitGroup
	errs := make(chan error, len(prompts))
	for _, p := range prompts {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			_, err := c.Send(ctx, first.ChatID, "", p)
			errs <- err
		}(p)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	msgs, err := c.History(ctx, first.ChatID)
	require.NoError(t, err)
	require.Len(t, msgs, 2+2*len(prompts))

	seen := map[string]int{}
	for i := 2; i < len(msgs); i += 2 {
		require.Equal(t, ai.RoleUser, msgs[i].Role)
		require.Equal(t, "echo: "+msgs[i].Content, msgs[i+1].Content)
		seen[msgs[i].Content]++
	}
	for _, p := range prompts {
		require.Equal(t, 1, seen[p], "turn %q", p)
	}
}

// interferingRepo lets another writer change the chat right before the
// first UpdateChat lands.
type interferingRepo struct {
	storage.Repository
	once      sync.Once
	interfere func()
}

func (r *interferingRepo) UpdateChat(ctx context.Context, id int64, externalID string, prior, messages []ai.Message) error {
	r.once.Do(r.interfere)
	return r.Repository.UpdateChat(ctx, id, externalID, prior, messages)
}

func TestChatterReplaysTurnAfterOutsideWrite(t *testing.T) {
	ctx := context.Background()
	fake, s, cfg := setup(t)

	first, err := NewChatter(cfg).Send(ctx, 0, "gpt-4o-mini", "hi")
	require.NoError(t, err)

	repo := &interferingRepo{Repository: s}
	repo.interfere = func() {
		chat, err := s.GetChat(ctx, first.ChatID)
		require.NoError(t, err)
		next := append(append([]ai.Message{}, chat.Messages...),
			ai.Message{Role: ai.RoleUser, Content: "elsewhere"},
			ai.Message{Role: ai.RoleAssistant, Content: "echo: elsewhere"},
		)
		require.NoError(t, s.UpdateChat(ctx, first.ChatID, "chatcmpl-x", chat.Messages, next))
	}
	cfg.Repo = repo

	_, err = NewChatter(cfg).Send(ctx, first.ChatID, "", "mine")
	require.NoError(t, err)

	msgs, err := s.GetChat(ctx, first.ChatID)
	require.NoError(t, err)
	got := make([]string, 0, len(msgs.Messages))
	for _, m := range msgs.Messages {
		got = append(got, fmt.Sprintf("%s:%s", m.Role, m.Content))
	}
	require.Equal(t, []string{
		"user:hi", "assistant:echo: hi",
		"user:elsewhere", "assistant:echo: elsewhere",
		"user:mine", "assistant:echo: mine",
	}, got)
	require.Len(t, fake.ChatCalls, 3)
}
