package registry

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	goopenai "github.com/sashabaranov/go-openai"

	"aiconnect/internal/ai"
	"aiconnect/internal/connectors"
	"aiconnect/internal/connectors/openai"
	"aiconnect/internal/metrics"
)

type BuildOptions struct {
	Name               ai.ConnectorName
	APIKey             string
	BaseURL            string
	OrgID              string
	HTTPClient         *http.Client
	DefaultMaxTokens   int
	DefaultTemperature *float32
	DefaultImageModel  string
	DefaultImageSize   string
	Logger             zerolog.Logger
	Metrics            *metrics.Metrics
}

// NewHTTPClient returns a client for vendor calls. The timeout bounds the
// wait for response headers only, so streamed bodies may run longer; callers
// bound the whole call with their context.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout
	return &http.Client{Transport: transport}
}

func Build(opts BuildOptions) (connectors.Connector, error) {
	if opts.HTTPClient == nil {
		opts.HTTPClient = NewHTTPClient(0)
	}
	switch opts.Name {
	case ai.OpenAI:
		if strings.TrimSpace(opts.APIKey) == "" {
			return nil, fmt.Errorf("openai api key is empty")
		}
		cfg := goopenai.DefaultConfig(opts.APIKey)
		if base := strings.TrimSpace(opts.BaseURL); base != "" {
			cfg.BaseURL = strings.TrimSuffix(base, "/")
		}
		cfg.OrgID = opts.OrgID
		cfg.HTTPClient = opts.HTTPClient
		return openai.New(openai.Config{
			Client:             goopenai.NewClientWithConfig(cfg),
			DefaultMaxTokens:   opts.DefaultMaxTokens,
			DefaultTemperature: opts.DefaultTemperature,
			DefaultImageModel:  opts.DefaultImageModel,
			DefaultImageSize:   opts.DefaultImageSize,
			Logger:             opts.Logger,
			Metrics:            opts.Metrics,
		}), nil

	default:
		return nil, fmt.Errorf("unsupported connector %q", opts.Name)
	}
}
