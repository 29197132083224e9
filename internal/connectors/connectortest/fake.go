// Package connectortest provides an in-memory connector for tests.
package connectortest

import (
	"context"
	"fmt"
	"io"
	"sync"

	"aiconnect/internal/ai"
	"aiconnect/internal/bridge"
	"aiconnect/internal/connectors"
)

type ChatCall struct {
	Model  string
	Input  ai.Input
	Stream bool
}

type CompleteCall struct {
	Model  string
	Prompt string
	Stream bool
}

// Fake replies "echo: <last user message>" unless Err is set. Streamed
// replies are written to the echo writer word by word.
type Fake struct {
	mu sync.Mutex

	Models []bridge.ModelBridge
	Images []ai.ImageResponse
	Err    error

	ChatCalls     []ChatCall
	CompleteCalls []CompleteCall
	ImagePrompts  []string

	seq int
}

var _ connectors.Connector = (*Fake)(nil)

func (f *Fake) Name() ai.ConnectorName {
	return ai.OpenAI
}

func (f *Fake) ListModels(ctx context.Context) ([]bridge.ModelBridge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	out := make([]bridge.ModelBridge, len(f.Models))
	copy(out, f.Models)
	return out, nil
}

func (f *Fake) Complete(ctx context.Context, model, prompt string, opts ...connectors.Option) (ai.TextResponse, error) {
	return f.complete(model, prompt, false, opts)
}

func (f *Fake) CompleteStream(ctx context.Context, model, prompt string, opts ...connectors.Option) (ai.TextResponse, error) {
	return f.complete(model, prompt, true, opts)
}

func (f *Fake) Chat(ctx context.Context, model string, in ai.Input, opts ...connectors.Option) (ai.TextResponse, error) {
	return f.chat(model, in, false, opts)
}

func (f *Fake) ChatStream(ctx context.Context, model string, in ai.Input, opts ...connectors.Option) (ai.TextResponse, error) {
	return f.chat(model, in, true, opts)
}

func (f *Fake) ImageGenerate(ctx context.Context, prompt string, opts ...connectors.Option) ([]ai.ImageResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ImagePrompts = append(f.ImagePrompts, prompt)
	if f.Err != nil {
		return nil, f.Err
	}
	out := make([]ai.ImageResponse, len(f.Images))
	copy(out, f.Images)
	return out, nil
}

func (f *Fake) complete(model, prompt string, stream bool, opts []connectors.Option) (ai.TextResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CompleteCalls = append(f.CompleteCalls, CompleteCall{Model: model, Prompt: prompt, Stream: stream})
	if f.Err != nil {
		return ai.TextResponse{}, f.Err
	}
	f.seq++
	text := "echo: " + prompt
	if stream {
		f.echo(opts, text)
	}
	return ai.NewTextResponse(fmt.Sprintf("cmpl-%d", f.seq), ai.MessageResponse{Role: ai.RoleAssistant, Content: text}), nil
}

func (f *Fake) chat(model string, in ai.Input, stream bool, opts []connectors.Option) (ai.TextResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make(ai.Input, len(in))
	copy(cp, in)
	f.ChatCalls = append(f.ChatCalls, ChatCall{Model: model, Input: cp, Stream: stream})
	if f.Err != nil {
		return ai.TextResponse{}, f.Err
	}
	f.seq++
	last := ""
	for i := len(in) - 1; i >= 0; i-- {
		if in[i].Role == ai.RoleUser {
			last = in[i].Content
			break
		}
	}
	text := "echo: " + last
	if stream {
		f.echo(opts, text)
	}
	return ai.NewTextResponse(fmt.Sprintf("chatcmpl-%d", f.seq), ai.MessageResponse{Role: ai.RoleAssistant, Content: text}), nil
}

func (f *Fake) echo(opts []connectors.Option, text string) {
	o := connectors.Resolve(connectors.CallOptions{}, opts...)
	if o.Echo != nil {
		_, _ = io.WriteString(o.Echo, text)
	}
}
