package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"aiconnect/internal/cache"
	"aiconnect/internal/connectors"
	"aiconnect/internal/history"
	"aiconnect/internal/metrics"
	"aiconnect/internal/queue"
	"aiconnect/internal/storage"
)

const maxReplyRunes = 4000

// Sender delivers a text reply to a Telegram chat.
type Sender interface {
	SendText(ctx context.Context, chatID, replyTo int64, text string) error
}

type Worker struct {
	sender          Sender
	queue           *queue.StreamQueue
	connector       connectors.Connector
	completer       *history.Completer
	chatter         *history.Chatter
	sessions        *cache.Sessions
	locks           *queue.ChatLocker
	completionModel string
	chatModel       string
	imageSize       string
	maxJobRetries   int
	logger          zerolog.Logger
	metrics         *metrics.Metrics
}

type Config struct {
	Sender          Sender
	Queue           *queue.StreamQueue
	Connector       connectors.Connector
	Repo            storage.Repository
	Sessions        *cache.Sessions
	Locks           *queue.ChatLocker
	CompletionModel string
	ChatModel       string
	ImageSize       string
	MaxJobRetries   int
	Logger          zerolog.Logger
	Metrics         *metrics.Metrics
}

func New(cfg Config) *Worker {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	if cfg.MaxJobRetries < 0 {
		cfg.MaxJobRetries = 0
	}
	hcfg := history.Config{
		Connector: cfg.Connector,
		Repo:      cfg.Repo,
		Logger:    cfg.Logger,
		Metrics:   m,
	}
	return &Worker{
		sender:          cfg.Sender,
		queue:           cfg.Queue,
		connector:       cfg.Connector,
		completer:       history.NewCompleter(hcfg),
		chatter:         history.NewChatter(hcfg),
		sessions:        cfg.Sessions,
		locks:           cfg.Locks,
		completionModel: cfg.CompletionModel,
		chatModel:       cfg.ChatModel,
		imageSize:       cfg.ImageSize,
		maxJobRetries:   cfg.MaxJobRetries,
		logger:          cfg.Logger,
		metrics:         m,
	}
}

func (w *Worker) Start(ctx context.Context, concurrency int) error {
	if err := w.queue.EnsureGroup(ctx); err != nil {
		return err
	}
	if concurrency < 1 {
		concurrency = 1
	}

	wg := sync.WaitGroup{}
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			w.consumeLoop(ctx, slot)
		}(i)
	}

	<-ctx.Done()
	wg.Wait()
	return nil
}

func (w *Worker) consumeLoop(ctx context.Context, slot int) {
	log := w.logger.With().Int("slot", slot).Logger()
	for {
		if err := ctx.Err(); err != nil {
			return
		}

		messages, err := w.queue.Read(ctx, 1)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("failed to read queue")
			time.Sleep(1 * time.Second)
			continue
		}

		for _, msg := range messages {
			w.handle(ctx, log, msg)
		}
	}
}

// handle runs one message and always acks it. A job whose work fails goes
// back on the stream until its attempts run out, then the error is sent to
// the user. Once the work succeeded its result is stored, so a failed reply
// is logged and never retried.
func (w *Worker) handle(ctx context.Context, log zerolog.Logger, msg queue.Message) {
	job := msg.Job
	text, err := w.run(ctx, job)
	if err != nil {
		w.fail(ctx, log, msg, err)
		return
	}

	w.metrics.ProcessedJobs.Inc()
	if err := w.sender.SendText(ctx, job.ChatID, job.MessageID, replyText(text)); err != nil {
		log.Error().Err(err).Str("job_id", job.JobID).Int64("chat_id", job.ChatID).Msg("failed to send telegram response")
	}
	if ackErr := w.queue.Ack(ctx, msg.ID); ackErr != nil {
		log.Error().Err(ackErr).Str("msg_id", msg.ID).Msg("failed to ack message")
	}
}

func (w *Worker) fail(ctx context.Context, log zerolog.Logger, msg queue.Message, err error) {
	w.metrics.FailedJobs.Inc()
	log.Error().Err(err).Str("job_id", msg.Job.JobID).Str("kind", string(msg.Job.Kind)).Int("attempt", msg.Job.Attempts).Msg("job failed")

	if msg.Job.Attempts < w.maxJobRetries {
		msg.Job.Attempts++
		if _, enqueueErr := w.queue.Enqueue(ctx, msg.Job); enqueueErr != nil {
			log.Error().Err(enqueueErr).Str("job_id", msg.Job.JobID).Msg("failed to re-enqueue failed job")
			return
		}
		if ackErr := w.queue.Ack(ctx, msg.ID); ackErr != nil {
			log.Error().Err(ackErr).Str("msg_id", msg.ID).Msg("failed to ack after re-enqueue")
		}
		return
	}

	if sendErr := w.sender.SendText(ctx, msg.Job.ChatID, msg.Job.MessageID, "Request failed: "+err.Error()); sendErr != nil {
		log.Error().Err(sendErr).Int64("chat_id", msg.Job.ChatID).Msg("failed to report job failure")
	}
	if ackErr := w.queue.Ack(ctx, msg.ID); ackErr != nil {
		log.Error().Err(ackErr).Str("msg_id", msg.ID).Msg("failed to ack terminal failed message")
	}
}

// run does the work of a job and returns the reply text. An error means
// nothing was stored and the job may run again.
func (w *Worker) run(ctx context.Context, job queue.Job) (string, error) {
	switch job.Kind {
	case queue.JobComplete:
		return w.complete(ctx, job)
	case queue.JobChat:
		return w.chat(ctx, job)
	case queue.JobImage:
		return w.image(ctx, job)
	default:
		w.logger.Warn().Str("kind", string(job.Kind)).Str("job_id", job.JobID).Msg("dropping job of unknown kind")
		return "Unsupported request.", nil
	}
}

func replyText(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return "Provider returned an empty response."
	}
	if r := []rune(text); len(r) > maxReplyRunes {
		return string(r[:maxReplyRunes])
	}
	return text
}

func (w *Worker) complete(ctx context.Context, job queue.Job) (string, error) {
	model := job.Model
	if model == "" {
		model = w.completionModel
	}
	resp, err := w.completer.Complete(ctx, model, job.Prompt)
	if err != nil {
		return "", err
	}
	return resp.Content(), nil
}

func (w *Worker) chat(ctx context.Context, job queue.Job) (string, error) {
	model := job.Model
	if model == "" {
		model = w.chatModel
	}
	if w.locks != nil {
		release, err := w.locks.Acquire(ctx, job.ChatID)
		if err != nil {
			return "", err
		}
		defer release()
	}

	chatID, err := w.sessions.Get(ctx, job.ChatID)
	if err != nil {
		return "", err
	}

	turn, err := w.chatter.Send(ctx, chatID, model, job.Prompt)
	if chatID != 0 && errors.Is(err, storage.ErrNotFound) {
		// Session outlived its chat row; start over.
		w.logger.Warn().Int64("chat_id", chatID).Msg("session points to missing chat")
		turn, err = w.chatter.Send(ctx, 0, model, job.Prompt)
	}
	if err != nil {
		return "", err
	}
	if err := w.sessions.Set(ctx, job.ChatID, turn.ChatID); err != nil {
		w.logger.Error().Err(err).Int64("telegram_chat_id", job.ChatID).Int64("chat_id", turn.ChatID).Msg("failed to store chat session")
	}
	return turn.Response.Content(), nil
}

func (w *Worker) image(ctx context.Context, job queue.Job) (string, error) {
	var opts []connectors.Option
	if w.imageSize != "" {
		opts = append(opts, connectors.WithImageSize(w.imageSize))
	}
	images, err := w.connector.ImageGenerate(ctx, job.Prompt, opts...)
	if err != nil {
		return "", err
	}
	lines := make([]string, 0, len(images))
	for _, img := range images {
		if img.URL != nil {
			lines = append(lines, *img.URL)
		}
	}
	if len(lines) == 0 {
		return "No image URL returned.", nil
	}
	return strings.Join(lines, "\n"), nil
}
