package storage

import (
	"time"

	"aiconnect/internal/ai"
)

type Model struct {
	ID         int64
	ExternalID string
	Name       string
	Connector  ai.ConnectorName
	IsActive   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Chat struct {
	ID         int64
	ModelID    int64
	ExternalID string
	Messages   []ai.Message
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Completion struct {
	ID         int64
	ModelID    int64
	ExternalID string
	Prompt     string
	Completion string
	CreatedAt  time.Time
}
