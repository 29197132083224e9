package telegram

import (
	"time"

	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers"
	"github.com/rs/zerolog"

	"aiconnect/internal/cache"
	"aiconnect/internal/connectors"
	"aiconnect/internal/metrics"
	"aiconnect/internal/queue"
	"aiconnect/internal/storage"
)

type Service struct {
	queue       *queue.StreamQueue
	connector   connectors.Connector
	repo        storage.Repository
	models      *cache.Models
	sessions    *cache.Sessions
	rateLimiter *queue.RateLimiter
	logger      zerolog.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

type Config struct {
	Queue       *queue.StreamQueue
	Connector   connectors.Connector
	Repo        storage.Repository
	Models      *cache.Models
	Sessions    *cache.Sessions
	RateLimiter *queue.RateLimiter
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics
}

func NewService(cfg Config) *Service {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	return &Service{
		queue:       cfg.Queue,
		connector:   cfg.Connector,
		repo:        cfg.Repo,
		models:      cfg.Models,
		sessions:    cfg.Sessions,
		rateLimiter: cfg.RateLimiter,
		logger:      cfg.Logger,
		metrics:     m,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Register(d *ext.Dispatcher) {
	d.AddHandler(handlers.NewCommand("help", s.help))
	d.AddHandler(handlers.NewCommand("start", s.help))
	d.AddHandler(handlers.NewCommand("complete", s.complete))
	d.AddHandler(handlers.NewCommand("chat", s.chat))
	d.AddHandler(handlers.NewCommand("reset", s.reset))
	d.AddHandler(handlers.NewCommand("image", s.image))
	d.AddHandler(handlers.NewCommand("models", s.listModels))
}
