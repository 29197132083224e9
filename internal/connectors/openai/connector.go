package openai

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog"
	goopenai "github.com/sashabaranov/go-openai"

	"aiconnect/internal/ai"
	"aiconnect/internal/bridge"
	"aiconnect/internal/connectors"
	"aiconnect/internal/metrics"
)

const (
	DefaultMaxTokens   = 1000
	DefaultTemperature = float32(0.7)
	DefaultImageModel  = goopenai.CreateImageModelDallE2
	DefaultImageSize   = goopenai.CreateImageSize1024x1024
)

// Client is the subset of the vendor client the connector calls.
// *goopenai.Client satisfies it.
type Client interface {
	ListModels(ctx context.Context) (goopenai.ModelsList, error)
	CreateCompletion(ctx context.Context, req goopenai.CompletionRequest) (goopenai.CompletionResponse, error)
	CreateCompletionStream(ctx context.Context, req goopenai.CompletionRequest) (*goopenai.CompletionStream, error)
	CreateChatCompletion(ctx context.Context, req goopenai.ChatCompletionRequest) (goopenai.ChatCompletionResponse, error)
	CreateChatCompletionStream(ctx context.Context, req goopenai.ChatCompletionRequest) (*goopenai.ChatCompletionStream, error)
	CreateImage(ctx context.Context, req goopenai.ImageRequest) (goopenai.ImageResponse, error)
}

var _ Client = (*goopenai.Client)(nil)

type Config struct {
	Client           Client
	DefaultMaxTokens int
	// DefaultTemperature applies to calls without WithTemperature. Nil means
	// DefaultTemperature (0.7). Zero is omitted from requests, so the vendor
	// falls back to its own default.
	DefaultTemperature *float32
	DefaultImageModel  string
	DefaultImageSize   string
	Logger             zerolog.Logger
	Metrics            *metrics.Metrics
}

type Connector struct {
	client   Client
	defaults connectors.CallOptions
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

var _ connectors.Connector = (*Connector)(nil)

func New(cfg Config) *Connector {
	if cfg.DefaultMaxTokens == 0 {
		cfg.DefaultMaxTokens = DefaultMaxTokens
	}
	temperature := DefaultTemperature
	if cfg.DefaultTemperature != nil {
		temperature = *cfg.DefaultTemperature
	}
	if cfg.DefaultImageModel == "" {
		cfg.DefaultImageModel = DefaultImageModel
	}
	if cfg.DefaultImageSize == "" {
		cfg.DefaultImageSize = DefaultImageSize
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	return &Connector{
		client: cfg.Client,
		defaults: connectors.CallOptions{
			MaxTokens:   cfg.DefaultMaxTokens,
			Temperature: temperature,
			ImageModel:  cfg.DefaultImageModel,
			ImageSize:   cfg.DefaultImageSize,
		},
		logger:  cfg.Logger.With().Str("connector", string(ai.OpenAI)).Logger(),
		metrics: m,
	}
}

func (c *Connector) Name() ai.ConnectorName {
	return ai.OpenAI
}

func (c *Connector) ListModels(ctx context.Context) ([]bridge.ModelBridge, error) {
	list, err := c.client.ListModels(ctx)
	if err := c.observe("list_models", err); err != nil {
		return nil, err
	}
	out := make([]bridge.ModelBridge, 0, len(list.Models))
	for _, m := range list.Models {
		out = append(out, bridge.NewModelBridge(ai.OpenAI, m.ID, m.ID))
	}
	return out, nil
}

func (c *Connector) Complete(ctx context.Context, model, prompt string, opts ...connectors.Option) (ai.TextResponse, error) {
	o := connectors.Resolve(c.defaults, opts...)
	resp, err := c.client.CreateCompletion(ctx, completionRequest(model, prompt, o))
	if err := c.observe("complete", err); err != nil {
		return ai.TextResponse{}, err
	}

	texts := make([]string, 0, len(resp.Choices))
	for _, choice := range resp.Choices {
		texts = append(texts, choice.Text)
	}
	return ai.NewTextResponse(
		connectors.ExternalIDOrNew(resp.ID),
		ai.MessageResponse{Role: ai.RoleAssistant, Content: connectors.JoinChoices(texts)},
	), nil
}

func (c *Connector) CompleteStream(ctx context.Context, model, prompt string, opts ...connectors.Option) (ai.TextResponse, error) {
	o := connectors.Resolve(c.defaults, opts...)
	stream, err := c.client.CreateCompletionStream(ctx, completionRequest(model, prompt, o))
	if err := c.observe("complete_stream", err); err != nil {
		return ai.TextResponse{}, err
	}
	defer stream.Close()

	acc := connectors.NewAccumulator(o.Echo)
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			c.metrics.ConnectorFailures.WithLabelValues(string(ai.OpenAI), "complete_stream").Inc()
			return ai.TextResponse{}, err
		}
		acc.SetID(chunk.ID)
		for _, choice := range chunk.Choices {
			acc.Add(choice.Index, choice.Text)
		}
	}

	return ai.NewTextResponse(
		connectors.ExternalIDOrNew(acc.ID()),
		ai.MessageResponse{Role: ai.RoleAssistant, Content: connectors.JoinChoices(acc.Texts())},
	), nil
}

func (c *Connector) Chat(ctx context.Context, model string, in ai.Input, opts ...connectors.Option) (ai.TextResponse, error) {
	o := connectors.Resolve(c.defaults, opts...)
	resp, err := c.client.CreateChatCompletion(ctx, chatRequest(model, in, o))
	if err := c.observe("chat", err); err != nil {
		return ai.TextResponse{}, err
	}

	msgs := make([]ai.MessageResponse, 0, len(resp.Choices))
	for _, choice := range resp.Choices {
		role := choice.Message.Role
		if role == "" {
			role = ai.RoleAssistant
		}
		msgs = append(msgs, ai.MessageResponse{Role: role, Content: choice.Message.Content})
	}
	return ai.NewTextResponse(connectors.ExternalIDOrNew(resp.ID), msgs...), nil
}

func (c *Connector) ChatStream(ctx context.Context, model string, in ai.Input, opts ...connectors.Option) (ai.TextResponse, error) {
	o := connectors.Resolve(c.defaults, opts...)
	stream, err := c.client.CreateChatCompletionStream(ctx, chatRequest(model, in, o))
	if err := c.observe("chat_stream", err); err != nil {
		return ai.TextResponse{}, err
	}
	defer stream.Close()

	acc := connectors.NewAccumulator(o.Echo)
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			c.metrics.ConnectorFailures.WithLabelValues(string(ai.OpenAI), "chat_stream").Inc()
			return ai.TextResponse{}, err
		}
		acc.SetID(chunk.ID)
		for _, choice := range chunk.Choices {
			acc.SetRole(choice.Index, choice.Delta.Role)
			acc.Add(choice.Index, choice.Delta.Content)
		}
	}

	return ai.NewTextResponse(connectors.ExternalIDOrNew(acc.ID()), acc.Messages()...), nil
}

func (c *Connector) ImageGenerate(ctx context.Context, prompt string, opts ...connectors.Option) ([]ai.ImageResponse, error) {
	o := connectors.Resolve(c.defaults, opts...)
	req := goopenai.ImageRequest{
		Prompt:         prompt,
		Model:          o.ImageModel,
		Size:           o.ImageSize,
		ResponseFormat: goopenai.CreateImageResponseFormatURL,
	}
	if o.Choices > 0 {
		req.N = o.Choices
	}
	resp, err := c.client.CreateImage(ctx, req)
	if err := c.observe("image_generate", err); err != nil {
		return nil, err
	}

	created := time.Unix(resp.Created, 0).UTC()
	out := make([]ai.ImageResponse, 0, len(resp.Data))
	for _, d := range resp.Data {
		out = append(out, ai.NewImageResponse(created, d.URL))
	}
	return out, nil
}

// observe counts the call and hands err back unchanged.
func (c *Connector) observe(op string, err error) error {
	c.metrics.ConnectorRequests.WithLabelValues(string(ai.OpenAI), op).Inc()
	if err != nil {
		c.metrics.ConnectorFailures.WithLabelValues(string(ai.OpenAI), op).Inc()
		c.logger.Debug().Err(err).Str("operation", op).Msg("provider call failed")
		return err
	}
	c.logger.Debug().Str("operation", op).Msg("provider call done")
	return nil
}

func completionRequest(model, prompt string, o connectors.CallOptions) goopenai.CompletionRequest {
	req := goopenai.CompletionRequest{
		Model:       model,
		Prompt:      prompt,
		MaxTokens:   o.MaxTokens,
		Temperature: o.Temperature,
	}
	if o.Choices > 0 {
		req.N = o.Choices
	}
	return req
}

func chatRequest(model string, in ai.Input, o connectors.CallOptions) goopenai.ChatCompletionRequest {
	msgs := make([]goopenai.ChatCompletionMessage, 0, len(in))
	for _, m := range in {
		msgs = append(msgs, goopenai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	req := goopenai.ChatCompletionRequest{
		Model:       model,
		Messages:    msgs,
		MaxTokens:   o.MaxTokens,
		Temperature: o.Temperature,
	}
	if o.Choices > 0 {
		req.N = o.Choices
	}
	return req
}
