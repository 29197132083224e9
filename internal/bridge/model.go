package bridge

import (
	"context"
	"fmt"

	"aiconnect/internal/ai"
	"aiconnect/internal/storage"
)

// ModelBridge carries a remote model descriptor until it is imported.
type ModelBridge struct {
	Connector  ai.ConnectorName `json:"connector"`
	ExternalID string           `json:"external_id"`
	Name       string           `json:"name"`
}

func NewModelBridge(connector ai.ConnectorName, externalID, name string) ModelBridge {
	return ModelBridge{Connector: connector, ExternalID: externalID, Name: name}
}

// Import upserts the model keyed on (external_id, connector). The stored row
// is always marked active, so importing a deactivated model reactivates it.
func (b ModelBridge) Import(ctx context.Context, repo storage.Repository) (storage.Model, error) {
	if !b.Connector.Valid() {
		return storage.Model{}, fmt.Errorf("import model %q: unsupported connector %q", b.ExternalID, b.Connector)
	}
	return repo.UpsertModel(ctx, storage.Model{
		ExternalID: b.ExternalID,
		Name:       b.Name,
		Connector:  b.Connector,
		IsActive:   true,
	})
}

// ImportAll imports every bridge in order and stops on the first failure.
func ImportAll(ctx context.Context, repo storage.Repository, bridges []ModelBridge) ([]storage.Model, error) {
	out := make([]storage.Model, 0, len(bridges))
	for _, b := range bridges {
		m, err := b.Import(ctx, repo)
		if err != nil {
			return out, err
		}
		out = append(out, m)
	}
	return out, nil
}
