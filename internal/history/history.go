package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"aiconnect/internal/bridge"
	"aiconnect/internal/connectors"
	"aiconnect/internal/metrics"
	"aiconnect/internal/storage"
)

type Config struct {
	Connector connectors.Connector
	Repo      storage.Repository
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics
}

type base struct {
	connector connectors.Connector
	repo      storage.Repository
	logger    zerolog.Logger
	metrics   *metrics.Metrics
}

func newBase(cfg Config) base {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	return base{
		connector: cfg.Connector,
		repo:      cfg.Repo,
		logger:    cfg.Logger,
		metrics:   m,
	}
}

// resolveModel finds the local row for a remote model id, importing it
// through the model bridge when it has not been imported yet.
func (b base) resolveModel(ctx context.Context, externalID string) (storage.Model, error) {
	m, err := b.repo.GetModel(ctx, externalID, b.connector.Name())
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return storage.Model{}, fmt.Errorf("resolve model %q: %w", externalID, err)
	}
	m, err = bridge.NewModelBridge(b.connector.Name(), externalID, externalID).Import(ctx, b.repo)
	if err != nil {
		return storage.Model{}, fmt.Errorf("import model %q: %w", externalID, err)
	}
	b.metrics.ImportedModels.Inc()
	b.logger.Info().Str("model", externalID).Int64("model_id", m.ID).Msg("model imported on first use")
	return m, nil
}
