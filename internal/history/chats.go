package history

import (
	"context"
	"errors"
	"fmt"

	"aiconnect/internal/ai"
	"aiconnect/internal/connectors"
	"aiconnect/internal/storage"
)

// Turn is the outcome of one chat exchange.
type Turn struct {
	ChatID   int64
	Response ai.TextResponse
}

// maxChatAttempts bounds how often a turn is replayed after another writer
// changed the chat between load and save.
const maxChatAttempts = 3

// Chatter keeps chat rows in step with a conversation. Messages are only
// ever appended; earlier entries are written back unchanged. Turns on the
// same chat are serialized within the process, and UpdateChat's check on
// the prior messages catches writers in other processes.
type Chatter struct {
	base
	locks *chatLocks
}

func NewChatter(cfg Config) *Chatter {
	return &Chatter{base: newBase(cfg), locks: newChatLocks()}
}

// Send appends text as a user message to chat chatID (0 starts a new chat
// on model) and stores the reply.
func (c *Chatter) Send(ctx context.Context, chatID int64, model, text string, opts ...connectors.Option) (Turn, error) {
	return c.send(ctx, chatID, model, text, false, opts)
}

// SendStream is Send over the streaming operation.
func (c *Chatter) SendStream(ctx context.Context, chatID int64, model, text string, opts ...connectors.Option) (Turn, error) {
	return c.send(ctx, chatID, model, text, true, opts)
}

// History returns the stored messages of a chat in order.
func (c *Chatter) History(ctx context.Context, chatID int64) ([]ai.Message, error) {
	chat, err := c.repo.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return chat.Messages, nil
}

func (c *Chatter) send(ctx context.Context, chatID int64, model, text string, stream bool, opts []connectors.Option) (Turn, error) {
	if chatID == 0 {
		return c.start(ctx, model, text, stream, opts)
	}

	unlock := c.locks.lock(chatID)
	defer unlock()

	var err error
	for attempt := 1; attempt <= maxChatAttempts; attempt++ {
		var turn Turn
		turn, err = c.appendTurn(ctx, chatID, text, stream, opts)
		if !errors.Is(err, storage.ErrChatChanged) {
			return turn, err
		}
		c.logger.Warn().Int64("chat_id", chatID).Int("attempt", attempt).Msg("chat changed during turn, replaying")
	}
	return Turn{}, fmt.Errorf("record chat %d: %w", chatID, err)
}

// start opens a new chat on model with text as its first message.
func (c *Chatter) start(ctx context.Context, model, text string, stream bool, opts []connectors.Option) (Turn, error) {
	in := ai.Input{{Role: ai.RoleUser, Content: text}}
	resp, err := c.call(ctx, model, in, stream, opts)
	if err != nil {
		return Turn{}, err
	}

	m, err := c.resolveModel(ctx, model)
	if err != nil {
		return Turn{}, err
	}
	messages := append([]ai.Message(in), resp.AsMessages()...)
	chatID, err := c.repo.CreateChat(ctx, storage.Chat{
		ModelID:    m.ID,
		ExternalID: resp.ExternalID,
		Messages:   messages,
	})
	if err != nil {
		return Turn{}, fmt.Errorf("record chat: %w", err)
	}
	c.stored(chatID, m.ID, len(messages))
	return Turn{ChatID: chatID, Response: resp}, nil
}

// appendTurn runs one turn against the stored state of chatID. The chat
// keeps the model it was created with.
func (c *Chatter) appendTurn(ctx context.Context, chatID int64, text string, stream bool, opts []connectors.Option) (Turn, error) {
	chat, err := c.repo.GetChat(ctx, chatID)
	if err != nil {
		return Turn{}, fmt.Errorf("load chat %d: %w", chatID, err)
	}
	m, err := c.repo.GetModelByID(ctx, chat.ModelID)
	if err != nil {
		return Turn{}, fmt.Errorf("load chat model: %w", err)
	}

	in := make(ai.Input, 0, len(chat.Messages)+1)
	in = append(in, chat.Messages...)
	in = append(in, ai.Message{Role: ai.RoleUser, Content: text})
	resp, err := c.call(ctx, m.ExternalID, in, stream, opts)
	if err != nil {
		return Turn{}, err
	}

	messages := append([]ai.Message(in), resp.AsMessages()...)
	if err := c.repo.UpdateChat(ctx, chatID, resp.ExternalID, chat.Messages, messages); err != nil {
		if errors.Is(err, storage.ErrChatChanged) {
			return Turn{}, err
		}
		return Turn{}, fmt.Errorf("record chat %d: %w", chatID, err)
	}
	c.stored(chatID, m.ID, len(messages))
	return Turn{ChatID: chatID, Response: resp}, nil
}

func (c *Chatter) call(ctx context.Context, model string, in ai.Input, stream bool, opts []connectors.Option) (ai.TextResponse, error) {
	if stream {
		return c.connector.ChatStream(ctx, model, in, opts...)
	}
	return c.connector.Chat(ctx, model, in, opts...)
}

func (c *Chatter) stored(chatID, modelID int64, n int) {
	c.metrics.StoredChatTurns.Inc()
	c.logger.Debug().Int64("chat_id", chatID).Int64("model_id", modelID).Int("messages", n).Msg("chat turn stored")
}
