package history

import (
	"context"
	"fmt"

	"aiconnect/internal/ai"
	"aiconnect/internal/connectors"
	"aiconnect/internal/storage"
)

// Completer runs single-shot completions and records each one.
type Completer struct {
	base
}

func NewCompleter(cfg Config) *Completer {
	return &Completer{base: newBase(cfg)}
}

func (c *Completer) Complete(ctx context.Context, model, prompt string, opts ...connectors.Option) (ai.TextResponse, error) {
	resp, err := c.connector.Complete(ctx, model, prompt, opts...)
	if err != nil {
		return ai.TextResponse{}, err
	}
	return resp, c.record(ctx, model, prompt, resp)
}

func (c *Completer) CompleteStream(ctx context.Context, model, prompt string, opts ...connectors.Option) (ai.TextResponse, error) {
	resp, err := c.connector.CompleteStream(ctx, model, prompt, opts...)
	if err != nil {
		return ai.TextResponse{}, err
	}
	return resp, c.record(ctx, model, prompt, resp)
}

func (c *Completer) record(ctx context.Context, model, prompt string, resp ai.TextResponse) error {
	m, err := c.resolveModel(ctx, model)
	if err != nil {
		return err
	}
	id, err := c.repo.CreateCompletion(ctx, storage.Completion{
		ModelID:    m.ID,
		ExternalID: resp.ExternalID,
		Prompt:     prompt,
		Completion: resp.Content(),
	})
	if err != nil {
		return fmt.Errorf("record completion: %w", err)
	}
	c.metrics.StoredCompletions.Inc()
	c.logger.Debug().Int64("completion_id", id).Str("external_id", resp.ExternalID).Msg("completion stored")
	return nil
}
