package ai

import (
	"testing"
	"time"
)

func TestPromptWrapsSingleUserMessage(t *testing.T) {
	in := Prompt("hello")
	if len(in) != 1 {
		t.Fatalf("expected one message, got %d", len(in))
	}
	if in[0].Role != RoleUser || in[0].Content != "hello" {
		t.Fatalf("unexpected message %#v", in[0])
	}
}

func TestNewTextResponseCopiesMessages(t *testing.T) {
	msgs := []MessageResponse{{Role: RoleAssistant, Content: "a"}}
	resp := NewTextResponse("id-1", msgs...)
	msgs[0].Content = "changed"
	if resp.Content() != "a" {
		t.Fatalf("response must not alias caller slice, got %q", resp.Content())
	}
}

func TestNewImageResponseEmptyURL(t *testing.T) {
	created := time.Unix(1700000000, 0).UTC()
	resp := NewImageResponse(created, "")
	if resp.URL != nil {
		t.Fatalf("expected nil url, got %q", *resp.URL)
	}
	if !resp.CreatedAt.Equal(created) {
		t.Fatalf("unexpected created at %v", resp.CreatedAt)
	}

	resp = NewImageResponse(created, "https://img.example/a.png")
	if resp.URL == nil || *resp.URL != "https://img.example/a.png" {
		t.Fatalf("unexpected url %v", resp.URL)
	}
}

func TestParseConnectorName(t *testing.T) {
	n, err := ParseConnectorName(" OpenAI ")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if n != OpenAI {
		t.Fatalf("expected openai, got %q", n)
	}
	if _, err := ParseConnectorName("anthropic"); err == nil {
		t.Fatalf("expected error for unknown connector")
	}
}
