package connectors

import (
	"context"
	"io"
	"sort"
	"strings"

	"github.com/google/uuid"

	"aiconnect/internal/ai"
	"aiconnect/internal/bridge"
)

// ChoiceSeparator joins the texts of a multi-choice completion.
const ChoiceSeparator = "\n--\n"

// Connector exposes the fixed capability set of one provider.
type Connector interface {
	Name() ai.ConnectorName
	ListModels(ctx context.Context) ([]bridge.ModelBridge, error)
	Complete(ctx context.Context, model, prompt string, opts ...Option) (ai.TextResponse, error)
	CompleteStream(ctx context.Context, model, prompt string, opts ...Option) (ai.TextResponse, error)
	Chat(ctx context.Context, model string, in ai.Input, opts ...Option) (ai.TextResponse, error)
	ChatStream(ctx context.Context, model string, in ai.Input, opts ...Option) (ai.TextResponse, error)
	ImageGenerate(ctx context.Context, prompt string, opts ...Option) ([]ai.ImageResponse, error)
}

// CallOptions is the resolved set of per-call parameters.
type CallOptions struct {
	MaxTokens   int
	Temperature float32
	Choices     int
	ImageModel  string
	ImageSize   string
	Echo        io.Writer
}

type Option func(*CallOptions)

func WithMaxTokens(n int) Option {
	return func(o *CallOptions) { o.MaxTokens = n }
}

func WithTemperature(t float32) Option {
	return func(o *CallOptions) { o.Temperature = t }
}

// WithChoices asks the provider for n alternative replies.
func WithChoices(n int) Option {
	return func(o *CallOptions) { o.Choices = n }
}

func WithImageModel(model string) Option {
	return func(o *CallOptions) { o.ImageModel = model }
}

func WithImageSize(size string) Option {
	return func(o *CallOptions) { o.ImageSize = size }
}

// WithEcho copies streamed deltas to w as they arrive.
func WithEcho(w io.Writer) Option {
	return func(o *CallOptions) { o.Echo = w }
}

// Resolve applies opts on top of defaults.
func Resolve(defaults CallOptions, opts ...Option) CallOptions {
	out := defaults
	for _, opt := range opts {
		if opt != nil {
			opt(&out)
		}
	}
	return out
}

// JoinChoices concatenates choice texts in provider order.
func JoinChoices(texts []string) string {
	return strings.Join(texts, ChoiceSeparator)
}

// ExternalIDOrNew returns id, or a fresh UUID when the provider omitted one.
func ExternalIDOrNew(id string) string {
	if strings.TrimSpace(id) != "" {
		return id
	}
	return uuid.NewString()
}

// Accumulator collects streamed text deltas per choice index.
type Accumulator struct {
	id    string
	roles map[int]string
	parts map[int]*strings.Builder
	echo  io.Writer
}

func NewAccumulator(echo io.Writer) *Accumulator {
	return &Accumulator{
		roles: map[int]string{},
		parts: map[int]*strings.Builder{},
		echo:  echo,
	}
}

func (a *Accumulator) SetID(id string) {
	if a.id == "" && id != "" {
		a.id = id
	}
}

func (a *Accumulator) SetRole(index int, role string) {
	if role != "" {
		a.roles[index] = role
	}
}

func (a *Accumulator) Add(index int, delta string) {
	b, ok := a.parts[index]
	if !ok {
		b = &strings.Builder{}
		a.parts[index] = b
	}
	b.WriteString(delta)
	if a.echo != nil && delta != "" {
		_, _ = io.WriteString(a.echo, delta)
	}
}

func (a *Accumulator) ID() string {
	return a.id
}

// Texts returns accumulated text ordered by choice index.
func (a *Accumulator) Texts() []string {
	idx := a.indexes()
	out := make([]string, 0, len(idx))
	for _, i := range idx {
		out = append(out, a.parts[i].String())
	}
	return out
}

// Messages returns one message per choice index, defaulting to the
// assistant role.
func (a *Accumulator) Messages() []ai.MessageResponse {
	idx := a.indexes()
	out := make([]ai.MessageResponse, 0, len(idx))
	for _, i := range idx {
		role := a.roles[i]
		if role == "" {
			role = ai.RoleAssistant
		}
		out = append(out, ai.MessageResponse{Role: role, Content: a.parts[i].String()})
	}
	return out
}

func (a *Accumulator) indexes() []int {
	seen := make(map[int]struct{}, len(a.parts)+len(a.roles))
	for i := range a.parts {
		seen[i] = struct{}{}
	}
	for i := range a.roles {
		seen[i] = struct{}{}
		if _, ok := a.parts[i]; !ok {
			a.parts[i] = &strings.Builder{}
		}
	}
	out := make([]int, 0, len(seen))
	for i := range seen {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}
