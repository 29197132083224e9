package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"aiconnect/internal/bridge"
	"aiconnect/internal/connectors"
	"aiconnect/internal/history"
	"aiconnect/internal/metrics"
	"aiconnect/internal/storage"
)

const exitWord = "exit"

type Config struct {
	In              io.Reader
	Out             io.Writer
	Connector       connectors.Connector
	Repo            storage.Repository
	CompletionModel string
	ChatModel       string
	ImageSize       string
	Logger          zerolog.Logger
	Metrics         *metrics.Metrics
}

// Console runs the interactive commands over a line-oriented reader and writer.
type Console struct {
	in        *bufio.Scanner
	out       io.Writer
	connector connectors.Connector
	repo      storage.Repository
	completer *history.Completer
	chatter   *history.Chatter
	cfg       Config
	logger    zerolog.Logger
	metrics   *metrics.Metrics
}

func New(cfg Config) *Console {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	hcfg := history.Config{
		Connector: cfg.Connector,
		Repo:      cfg.Repo,
		Logger:    cfg.Logger,
		Metrics:   m,
	}
	sc := bufio.NewScanner(cfg.In)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return &Console{
		in:        sc,
		out:       cfg.Out,
		connector: cfg.Connector,
		repo:      cfg.Repo,
		completer: history.NewCompleter(hcfg),
		chatter:   history.NewChatter(hcfg),
		cfg:       cfg,
		logger:    cfg.Logger,
		metrics:   m,
	}
}

// Run dispatches a command by name.
func (c *Console) Run(ctx context.Context, command string) error {
	switch command {
	case "ai:complete":
		return c.Complete(ctx)
	case "ai:chat":
		return c.Chat(ctx)
	case "ai:image":
		return c.ImageGenerate(ctx)
	case "ai:import-models":
		return c.ImportModels(ctx)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

// Complete answers each prompt with a single-shot completion until "exit".
func (c *Console) Complete(ctx context.Context) error {
	c.printf("Completion model: %s (type %q to quit)\n", c.cfg.CompletionModel, exitWord)
	for {
		prompt, ok := c.ask("You")
		if !ok {
			return c.in.Err()
		}
		resp, err := c.completer.Complete(ctx, c.cfg.CompletionModel, prompt)
		if err != nil {
			c.fail(err)
			continue
		}
		c.printf("AI: %s\n", resp.Content())
	}
}

// Chat keeps one conversation across turns and streams each reply.
func (c *Console) Chat(ctx context.Context) error {
	c.printf("Chat model: %s (type %q to quit)\n", c.cfg.ChatModel, exitWord)
	var chatID int64
	for {
		text, ok := c.ask("You")
		if !ok {
			return c.in.Err()
		}
		c.printf("AI: ")
		turn, err := c.chatter.SendStream(ctx, chatID, c.cfg.ChatModel, text, connectors.WithEcho(c.out))
		c.printf("\n")
		if err != nil {
			c.fail(err)
			continue
		}
		chatID = turn.ChatID
	}
}

// ImageGenerate prints one line per generated image until "exit".
func (c *Console) ImageGenerate(ctx context.Context) error {
	var opts []connectors.Option
	if c.cfg.ImageSize != "" {
		opts = append(opts, connectors.WithImageSize(c.cfg.ImageSize))
	}
	for {
		prompt, ok := c.ask("Describe the image")
		if !ok {
			return c.in.Err()
		}
		images, err := c.connector.ImageGenerate(ctx, prompt, opts...)
		if err != nil {
			c.fail(err)
			continue
		}
		for _, img := range images {
			if img.URL == nil {
				c.printf("Image (%s): inline data, no url\n", img.CreatedAt.Format("2006-01-02 15:04:05"))
				continue
			}
			c.printf("Image (%s): %s\n", img.CreatedAt.Format("2006-01-02 15:04:05"), *img.URL)
		}
	}
}

// ImportModels mirrors every remote model into the local store.
func (c *Console) ImportModels(ctx context.Context) error {
	remote, err := c.connector.ListModels(ctx)
	if err != nil {
		return err
	}
	imported, err := bridge.ImportAll(ctx, c.repo, remote)
	for _, m := range imported {
		c.metrics.ImportedModels.Inc()
		c.printf("Imported %s [%s]\n", m.ExternalID, m.Connector)
	}
	if err != nil {
		return err
	}
	c.logger.Info().Int("count", len(imported)).Str("connector", c.connector.Name().String()).Msg("models imported")
	c.printf("Imported %d models\n", len(imported))
	return nil
}

// ask prints a label and reads one non-empty line. ok is false on EOF or exit.
func (c *Console) ask(label string) (string, bool) {
	for {
		c.printf("%s: ", label)
		if !c.in.Scan() {
			return "", false
		}
		line := strings.TrimSpace(c.in.Text())
		if line == exitWord {
			return "", false
		}
		if line != "" {
			return line, true
		}
	}
}

func (c *Console) fail(err error) {
	c.logger.Error().Err(err).Msg("command step failed")
	c.printf("Error: %s\n", err.Error())
}

func (c *Console) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(c.out, format, args...)
}
