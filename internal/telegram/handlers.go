package telegram

import (
	"context"
	"fmt"
	"strings"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"

	"aiconnect/internal/queue"
)

const maxListedModels = 50

// request is the part of an update the commands look at.
type request struct {
	ChatID    int64
	UserID    int64
	MessageID int64
	Text      string
}

var helpText = strings.Join([]string{
	"Commands:",
	"/help",
	"/complete <text> - one-shot completion",
	"/chat <text> - continue the conversation of this chat",
	"/reset - start a new conversation",
	"/image <text> - generate an image",
	"/models - list available models",
}, "\n")

func (s *Service) help(b *gotgbot.Bot, ctx *ext.Context) error {
	return s.reply(ctx, b, helpText)
}

func (s *Service) complete(b *gotgbot.Bot, ctx *ext.Context) error {
	return s.run(b, ctx, func(c context.Context, r request) string {
		return s.enqueue(c, r, queue.JobComplete, "Usage: /complete <text>")
	})
}

func (s *Service) chat(b *gotgbot.Bot, ctx *ext.Context) error {
	return s.run(b, ctx, func(c context.Context, r request) string {
		return s.enqueue(c, r, queue.JobChat, "Usage: /chat <text>")
	})
}

func (s *Service) image(b *gotgbot.Bot, ctx *ext.Context) error {
	return s.run(b, ctx, func(c context.Context, r request) string {
		return s.enqueue(c, r, queue.JobImage, "Usage: /image <text>")
	})
}

func (s *Service) reset(b *gotgbot.Bot, ctx *ext.Context) error {
	return s.run(b, ctx, s.doReset)
}

func (s *Service) listModels(b *gotgbot.Bot, ctx *ext.Context) error {
	return s.run(b, ctx, func(c context.Context, _ request) string {
		return s.doModels(c)
	})
}

func (s *Service) run(b *gotgbot.Bot, ctx *ext.Context, fn func(context.Context, request) string) error {
	msg := ctx.EffectiveMessage
	if msg == nil || ctx.EffectiveChat == nil {
		return nil
	}
	text := fn(context.Background(), request{
		ChatID:    ctx.EffectiveChat.Id,
		UserID:    userID(ctx),
		MessageID: msg.MessageId,
		Text:      msg.GetText(),
	})
	return s.reply(ctx, b, text)
}

func (s *Service) enqueue(ctx context.Context, r request, kind queue.JobKind, usage string) string {
	prompt := strings.TrimSpace(commandRemainder(r.Text))
	if prompt == "" {
		return usage
	}
	if denied, ok := s.allowRate(ctx, r, kind); !ok {
		return denied
	}

	job := queue.Job{
		Kind:      kind,
		ChatID:    r.ChatID,
		UserID:    r.UserID,
		MessageID: r.MessageID,
		Prompt:    prompt,
	}
	if _, err := s.queue.Enqueue(ctx, job); err != nil {
		s.logger.Error().Err(err).Str("kind", string(kind)).Msg("failed to enqueue job")
		return "Queue is unavailable right now."
	}
	s.metrics.EnqueuedJobs.Inc()
	return "Accepted. Processing in queue."
}

func (s *Service) doReset(ctx context.Context, r request) string {
	if err := s.sessions.Clear(ctx, r.ChatID); err != nil {
		s.logger.Error().Err(err).Int64("chat_id", r.ChatID).Msg("failed to clear session")
		return "Failed to reset the conversation right now."
	}
	return "Conversation reset."
}

// doModels lists the remote models and marks the ones already imported.
func (s *Service) doModels(ctx context.Context) string {
	remote, err := s.models.Load(ctx, s.connector)
	if err != nil {
		s.logger.Error().Err(err).Msg("list models failed")
		return "Failed to list models: " + err.Error()
	}
	if len(remote) == 0 {
		return "No models available."
	}

	imported := map[string]bool{}
	if local, err := s.repo.ListModels(ctx, s.connector.Name(), true); err != nil {
		s.logger.Warn().Err(err).Msg("failed to read local models")
	} else {
		for _, m := range local {
			imported[m.ExternalID] = true
		}
	}

	lines := []string{fmt.Sprintf("Models (%d):", len(remote))}
	for i, m := range remote {
		if i == maxListedModels {
			lines = append(lines, fmt.Sprintf("... and %d more", len(remote)-maxListedModels))
			break
		}
		line := "- " + m.ExternalID
		if imported[m.ExternalID] {
			line += " [imported]"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// allowRate returns the denial text when the user is over the hourly limit
// for kind. Limiter failures let the request through.
func (s *Service) allowRate(ctx context.Context, r request, kind queue.JobKind) (string, bool) {
	if r.UserID == 0 || s.rateLimiter == nil {
		return "", true
	}
	d, err := s.rateLimiter.Allow(ctx, kind, r.ChatID, r.UserID, s.now())
	if err != nil {
		s.logger.Error().Err(err).Str("kind", string(kind)).Msg("rate limiter failed")
		return "", true
	}
	if d.Allowed {
		return "", true
	}
	what := "Rate limit"
	if kind == queue.JobImage {
		what = "Image limit"
	}
	return fmt.Sprintf("%s of %d per hour exceeded. Try again after %s", what, d.Limit, d.ResetAt.Format("15:04 UTC")), false
}

func (s *Service) reply(ctx *ext.Context, b *gotgbot.Bot, text string) error {
	if ctx.EffectiveChat == nil {
		return nil
	}
	_, err := b.SendMessage(ctx.EffectiveChat.Id, text, nil)
	return err
}

func commandRemainder(text string) string {
	parts := strings.SplitN(strings.TrimSpace(text), " ", 2)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

func userID(ctx *ext.Context) int64 {
	if ctx.EffectiveUser == nil {
		return 0
	}
	return ctx.EffectiveUser.Id
}
