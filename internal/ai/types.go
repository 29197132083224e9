package ai

import (
	"fmt"
	"strings"
	"time"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ConnectorName identifies the provider behind a connector. The set is closed.
type ConnectorName string

const (
	OpenAI ConnectorName = "openai"
)

var connectorNames = []ConnectorName{OpenAI}

func (n ConnectorName) Valid() bool {
	for _, v := range connectorNames {
		if n == v {
			return true
		}
	}
	return false
}

func (n ConnectorName) String() string {
	return string(n)
}

// ParseConnectorName accepts the enumeration values case-insensitively.
func ParseConnectorName(v string) (ConnectorName, error) {
	n := ConnectorName(strings.ToLower(strings.TrimSpace(v)))
	if !n.Valid() {
		return "", fmt.Errorf("unsupported connector %q", v)
	}
	return n, nil
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Input is an ordered conversation sent to a chat operation.
type Input []Message

// Prompt wraps free text into a single user message.
func Prompt(text string) Input {
	return Input{{Role: RoleUser, Content: text}}
}

func Messages(msgs ...Message) Input {
	out := make(Input, len(msgs))
	copy(out, msgs)
	return out
}

type MessageResponse struct {
	Role    string
	Content string
}

type TextResponse struct {
	ExternalID string
	Messages   []MessageResponse
}

func NewTextResponse(externalID string, messages ...MessageResponse) TextResponse {
	cp := make([]MessageResponse, len(messages))
	copy(cp, messages)
	return TextResponse{ExternalID: externalID, Messages: cp}
}

// Content returns the first message content, or "" when there is none.
func (r TextResponse) Content() string {
	if len(r.Messages) == 0 {
		return ""
	}
	return r.Messages[0].Content
}

// AsMessages converts the reply into history entries.
func (r TextResponse) AsMessages() []Message {
	out := make([]Message, 0, len(r.Messages))
	for _, m := range r.Messages {
		out = append(out, Message{Role: m.Role, Content: m.Content})
	}
	return out
}

type ImageResponse struct {
	CreatedAt time.Time
	URL       *string
}

func NewImageResponse(createdAt time.Time, url string) ImageResponse {
	resp := ImageResponse{CreatedAt: createdAt}
	if url != "" {
		resp.URL = &url
	}
	return resp
}
