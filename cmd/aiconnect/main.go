package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"aiconnect/internal/ai"
	"aiconnect/internal/cache"
	"aiconnect/internal/config"
	"aiconnect/internal/connectors"
	"aiconnect/internal/connectors/registry"
	"aiconnect/internal/console"
	"aiconnect/internal/metrics"
	"aiconnect/internal/queue"
	"aiconnect/internal/storage"
	"aiconnect/internal/telegram"
	"aiconnect/internal/worker"
)

const usage = `usage: aiconnect [flags] <command>

commands:
  ai:complete        interactive single-shot completions
  ai:chat            interactive chat, replies streamed
  ai:image           generate images from a description
  ai:import-models   import every remote model into the database
  bot                run the Telegram bot, worker and metrics server

flags:
`

func main() {
	model := flag.String("model", "", "override the configured model for ai:complete and ai:chat")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	command := flag.Arg(0)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if *model != "" {
		cfg.OpenAI.CompletionModel = *model
		cfg.OpenAI.ChatModel = *model
	}

	setupLogger(cfg.Log.Level, command != "bot")
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := storage.Open(ctx, cfg.DB.Driver, cfg.DB.DSN, cfg.DB.AutoMigrate)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}
	defer store.Close()

	m := metrics.Global()
	conn, err := registry.Build(registry.BuildOptions{
		Name:               ai.OpenAI,
		APIKey:             cfg.OpenAI.APIKey,
		BaseURL:            cfg.OpenAI.BaseURL,
		OrgID:              cfg.OpenAI.OrgID,
		HTTPClient:         registry.NewHTTPClient(cfg.HTTP.ClientTimeout),
		DefaultMaxTokens:   cfg.OpenAI.DefaultMaxTokens,
		DefaultTemperature: &cfg.OpenAI.DefaultTemperature,
		DefaultImageModel:  cfg.OpenAI.ImageModel,
		DefaultImageSize:   cfg.OpenAI.ImageSize,
		Logger:             log.Logger,
		Metrics:            m,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build connector")
	}

	if command == "bot" {
		runBot(ctx, cfg, store, conn, m)
		return
	}

	c := console.New(console.Config{
		In:              os.Stdin,
		Out:             os.Stdout,
		Connector:       conn,
		Repo:            store,
		CompletionModel: cfg.OpenAI.CompletionModel,
		ChatModel:       cfg.OpenAI.ChatModel,
		ImageSize:       cfg.OpenAI.ImageSize,
		Logger:          log.Logger,
		Metrics:         m,
	})
	if err := c.Run(ctx, command); err != nil {
		log.Error().Err(err).Str("command", command).Msg("command failed")
		os.Exit(1)
	}
}

func runBot(ctx context.Context, cfg *config.Config, store *storage.Store, conn connectors.Connector, m *metrics.Metrics) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := cfg.ValidateBot(); err != nil {
		log.Fatal().Err(err).Msg("invalid bot config")
	}
	log.Info().
		Str("access_mode", cfg.Bot.AccessMode).
		Bool("webhook", cfg.Bot.WebhookURL != "").
		Int("concurrency", cfg.Worker.Concurrency).
		Msg("starting aiconnect bot")

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect redis")
	}
	defer rdb.Close()

	bot, err := gotgbot.NewBot(cfg.Bot.Token, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create telegram bot")
	}
	log.Info().Str("bot_username", bot.User.Username).Int64("bot_id", bot.User.Id).Msg("telegram bot initialized")

	jobQueue := queue.NewStreamQueue(rdb, cfg.Redis.QueueStream, cfg.Redis.QueueGroup, cfg.Worker.ConsumerName, cfg.Redis.QueueBlock)
	if err := jobQueue.EnsureGroup(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to prepare job queue")
	}
	sessions := cache.NewSessions(rdb, cfg.Redis.ChatSessionTTL)

	errCh := make(chan error, 4)
	logTelegramErr := func(err error) {
		log.Error().Str("component", "telegram").Msg(sanitizeTelegramErr(err, cfg.Bot.Token))
	}

	allowedUserID := int64(0)
	if cfg.Bot.AccessMode == config.AccessModePrivate {
		allowedUserID = cfg.Bot.AllowedUserID
	}
	dispatcher := ext.NewDispatcher(&ext.DispatcherOpts{
		MaxRoutines:      100,
		UnhandledErrFunc: logTelegramErr,
		Processor: telegram.Processor{
			Dedupe:        queue.NewUpdateDeduplicator(rdb, cfg.Redis.UpdateTTL),
			Metrics:       m,
			Logger:        log.Logger,
			AllowedUserID: allowedUserID,
		},
	})
	service := telegram.NewService(telegram.Config{
		Queue:       jobQueue,
		Connector:   conn,
		Repo:        store,
		Models:      cache.NewModels(rdb, cfg.Redis.ModelsCacheTTL, log.Logger),
		Sessions:    sessions,
		RateLimiter: queue.NewRateLimiter(rdb, queue.Limits{Text: cfg.Rate.PerHour, Image: cfg.Rate.ImagesPerHour}),
		Logger:      log.Logger,
		Metrics:     m,
	})
	service.Register(dispatcher)
	updater := ext.NewUpdater(dispatcher, &ext.UpdaterOpts{
		UnhandledErrFunc: logTelegramErr,
	})

	var webhookHandler http.HandlerFunc
	var webhookRoute string
	if cfg.Bot.WebhookURL == "" {
		if err := updater.StartPolling(bot, &ext.PollingOpts{
			EnableWebhookDeletion: true,
			DropPendingUpdates:    true,
			GetUpdatesOpts: &gotgbot.GetUpdatesOpts{
				Timeout: 50,
				RequestOpts: &gotgbot.RequestOpts{
					Timeout: 60 * time.Second,
				},
			},
		}); err != nil {
			log.Fatal().Err(err).Msg("failed to start polling")
		}
		log.Info().Msg("polling mode started")
	} else {
		path := cfg.Bot.SecretPath
		if path == "" {
			path = "telegram"
		}
		if err := updater.AddWebhook(bot, path, &ext.AddWebhookOpts{SecretToken: cfg.Bot.SecretToken}); err != nil {
			log.Fatal().Err(err).Msg("failed to configure webhook handler")
		}
		webhookURL := strings.TrimSuffix(cfg.Bot.WebhookURL, "/") + "/" + path
		if _, err := bot.SetWebhook(webhookURL, &gotgbot.SetWebhookOpts{
			SecretToken: cfg.Bot.SecretToken,
		}); err != nil {
			log.Fatal().Err(err).Msg("failed to set telegram webhook")
		}
		log.Info().Str("webhook_url", webhookURL).Msg("webhook registered")
		webhookRoute = "/" + path
		webhookHandler = updater.GetHandlerFunc("/")
	}

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.HTTP.HealthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle(cfg.HTTP.MetricsPath, promhttp.Handler())
	if webhookHandler != nil {
		mux.HandleFunc(webhookRoute, webhookHandler)
	}
	httpServer := &http.Server{
		Addr:              cfg.HTTP.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.HTTP.ListenAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	w := worker.New(worker.Config{
		Sender:          worker.BotSender{Bot: bot},
		Queue:           jobQueue,
		Connector:       conn,
		Repo:            store,
		Sessions:        sessions,
		Locks:           queue.NewChatLocker(rdb, cfg.Worker.ChatLockTTL, cfg.Worker.ChatLockWait),
		CompletionModel: cfg.OpenAI.CompletionModel,
		ChatModel:       cfg.OpenAI.ChatModel,
		ImageSize:       cfg.OpenAI.ImageSize,
		MaxJobRetries:   cfg.Worker.MaxRetries,
		Logger:          log.Logger,
		Metrics:         m,
	})
	go func() {
		if err := w.Start(ctx, cfg.Worker.Concurrency); err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("worker failed: %w", err)
		}
	}()
	log.Info().Int("concurrency", cfg.Worker.Concurrency).Msg("worker started")

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("runtime error")
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := updater.Stop(); err != nil {
		log.Error().Err(err).Msg("failed to stop updater")
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to stop http server")
	}

	log.Info().Msg("stopped")
}

// setupLogger writes JSON to stdout for the bot. Console commands own stdout,
// so their logs go to stderr in human-readable form.
func setupLogger(level string, interactive bool) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLogLevel(level))
	if interactive {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
		return
	}
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func sanitizeTelegramErr(err error, token string) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if strings.TrimSpace(token) == "" {
		return msg
	}

	msg = strings.ReplaceAll(msg, token, "<redacted-token>")
	if idx := strings.Index(token, ":"); idx > 0 {
		botID := token[:idx]
		msg = strings.ReplaceAll(msg, "/bot"+botID+":", "/bot<redacted>:")
		msg = strings.ReplaceAll(msg, "bot"+botID+"/", "bot<redacted>/")
	}
	return msg
}
