package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"aiconnect/internal/ai"
	"aiconnect/internal/bridge"
	"aiconnect/internal/connectors"
)

// Models caches remote model listings per connector.
type Models struct {
	redis  *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

func NewModels(rdb *redis.Client, ttl time.Duration, logger zerolog.Logger) *Models {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Models{redis: rdb, ttl: ttl, logger: logger}
}

func (m *Models) key(name ai.ConnectorName) string {
	return fmt.Sprintf("aiconnect:models:%s", name)
}

// Get returns the cached listing. ok is false on a miss.
func (m *Models) Get(ctx context.Context, name ai.ConnectorName) ([]bridge.ModelBridge, bool, error) {
	raw, err := m.redis.Get(ctx, m.key(name)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get models cache: %w", err)
	}
	var out []bridge.ModelBridge
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, false, fmt.Errorf("decode models cache: %w", err)
	}
	return out, true, nil
}

func (m *Models) Set(ctx context.Context, name ai.ConnectorName, models []bridge.ModelBridge) error {
	b, err := json.Marshal(models)
	if err != nil {
		return fmt.Errorf("encode models cache: %w", err)
	}
	if err := m.redis.Set(ctx, m.key(name), string(b), m.ttl).Err(); err != nil {
		return fmt.Errorf("set models cache: %w", err)
	}
	return nil
}

func (m *Models) Invalidate(ctx context.Context, name ai.ConnectorName) error {
	return m.redis.Del(ctx, m.key(name)).Err()
}

// Load serves the cached listing, falling back to the connector on a miss.
// Cache failures are logged and never block the remote call.
func (m *Models) Load(ctx context.Context, c connectors.Connector) ([]bridge.ModelBridge, error) {
	cached, ok, err := m.Get(ctx, c.Name())
	if err != nil {
		m.logger.Warn().Err(err).Msg("failed to read models cache")
	}
	if ok {
		return cached, nil
	}

	models, err := c.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	if err := m.Set(ctx, c.Name(), models); err != nil {
		m.logger.Warn().Err(err).Msg("failed to write models cache")
	}
	return models, nil
}
