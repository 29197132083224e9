package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"aiconnect/internal/ai"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrChatChanged is returned by UpdateChat when the stored messages no
	// longer match the ones the caller read.
	ErrChatChanged = errors.New("chat changed concurrently")
)

const (
	modelsTable      = "ai_models"
	chatsTable       = "ai_chats"
	completionsTable = "ai_completions"
)

// Repository is the persistence surface used by the bridge and history
// packages. Store is the SQL implementation.
type Repository interface {
	UpsertModel(ctx context.Context, m Model) (Model, error)
	GetModel(ctx context.Context, externalID string, connector ai.ConnectorName) (Model, error)
	GetModelByID(ctx context.Context, id int64) (Model, error)
	ListModels(ctx context.Context, connector ai.ConnectorName, activeOnly bool) ([]Model, error)

	CreateChat(ctx context.Context, c Chat) (int64, error)
	GetChat(ctx context.Context, id int64) (Chat, error)
	UpdateChat(ctx context.Context, id int64, externalID string, prior, messages []ai.Message) error

	CreateCompletion(ctx context.Context, c Completion) (int64, error)
	ListCompletions(ctx context.Context, modelID int64, limit uint64) ([]Completion, error)
}

var modelColumns = []string{"id", "external_id", "name", "connector", "is_active", "created_at", "updated_at"}

func (s *Store) UpsertModel(ctx context.Context, m Model) (Model, error) {
	q := s.sql.Insert(modelsTable).
		Columns("external_id", "name", "connector", "is_active", "updated_at").
		Values(m.ExternalID, m.Name, string(m.Connector), m.IsActive, nowExpr(s.driver)).
		Suffix("ON CONFLICT(external_id, connector) DO UPDATE SET name=excluded.name, is_active=excluded.is_active, updated_at=excluded.updated_at RETURNING id")

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Model{}, fmt.Errorf("build model upsert query: %w", err)
	}
	var id int64
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&id); err != nil {
		return Model{}, fmt.Errorf("upsert model: %w", err)
	}
	return s.GetModelByID(ctx, id)
}

func (s *Store) GetModel(ctx context.Context, externalID string, connector ai.ConnectorName) (Model, error) {
	return s.getModel(ctx, sq.Eq{"external_id": externalID, "connector": string(connector)})
}

func (s *Store) GetModelByID(ctx context.Context, id int64) (Model, error) {
	return s.getModel(ctx, sq.Eq{"id": id})
}

func (s *Store) getModel(ctx context.Context, where sq.Sqlizer) (Model, error) {
	q := s.sql.Select(modelColumns...).From(modelsTable).Where(where)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Model{}, fmt.Errorf("build get model query: %w", err)
	}
	m, err := scanModel(s.db.QueryRowContext(ctx, sqlStr, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Model{}, ErrNotFound
		}
		return Model{}, fmt.Errorf("get model: %w", err)
	}
	return m, nil
}

func (s *Store) ListModels(ctx context.Context, connector ai.ConnectorName, activeOnly bool) ([]Model, error) {
	q := s.sql.Select(modelColumns...).From(modelsTable).OrderBy("external_id ASC")
	if connector != "" {
		q = q.Where(sq.Eq{"connector": string(connector)})
	}
	if activeOnly {
		q = q.Where(sq.Eq{"is_active": true})
	}
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list models query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer rows.Close()

	out := make([]Model, 0)
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan model row: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate model rows: %w", err)
	}
	return out, nil
}

func (s *Store) CreateChat(ctx context.Context, c Chat) (int64, error) {
	raw, err := encodeMessages(c.Messages)
	if err != nil {
		return 0, err
	}
	q := s.sql.Insert(chatsTable).
		Columns("model_id", "external_id", "messages").
		Values(c.ModelID, c.ExternalID, raw).
		Suffix("RETURNING id")

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build create chat query: %w", err)
	}
	var id int64
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("create chat: %w", err)
	}
	return id, nil
}

func (s *Store) GetChat(ctx context.Context, id int64) (Chat, error) {
	q := s.sql.Select("id", "model_id", "external_id", "messages", "created_at", "updated_at").
		From(chatsTable).
		Where(sq.Eq{"id": id})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Chat{}, fmt.Errorf("build get chat query: %w", err)
	}

	var c Chat
	var raw string
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(
		&c.ID,
		&c.ModelID,
		&c.ExternalID,
		&raw,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Chat{}, ErrNotFound
		}
		return Chat{}, fmt.Errorf("get chat: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &c.Messages); err != nil {
		return Chat{}, fmt.Errorf("decode chat messages: %w", err)
	}
	return c, nil
}

// UpdateChat replaces the messages of chat id, but only while the stored
// messages still equal prior.
func (s *Store) UpdateChat(ctx context.Context, id int64, externalID string, prior, messages []ai.Message) error {
	expected, err := encodeMessages(prior)
	if err != nil {
		return err
	}
	raw, err := encodeMessages(messages)
	if err != nil {
		return err
	}
	q := s.sql.Update(chatsTable).
		Set("external_id", externalID).
		Set("messages", raw).
		Set("updated_at", nowExpr(s.driver)).
		Where(sq.Eq{"id": id, "messages": expected})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build update chat query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("update chat: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil || n > 0 {
		return nil
	}
	if _, err := s.GetChat(ctx, id); err != nil {
		return err
	}
	return ErrChatChanged
}

func (s *Store) CreateCompletion(ctx context.Context, c Completion) (int64, error) {
	q := s.sql.Insert(completionsTable).
		Columns("model_id", "external_id", "prompt", "completion").
		Values(c.ModelID, c.ExternalID, c.Prompt, c.Completion).
		Suffix("RETURNING id")

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build create completion query: %w", err)
	}
	var id int64
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("create completion: %w", err)
	}
	return id, nil
}

func (s *Store) ListCompletions(ctx context.Context, modelID int64, limit uint64) ([]Completion, error) {
	q := s.sql.Select("id", "model_id", "external_id", "prompt", "completion", "created_at").
		From(completionsTable).
		Where(sq.Eq{"model_id": modelID}).
		OrderBy("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list completions query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list completions: %w", err)
	}
	defer rows.Close()

	out := make([]Completion, 0)
	for rows.Next() {
		var c Completion
		if err := rows.Scan(&c.ID, &c.ModelID, &c.ExternalID, &c.Prompt, &c.Completion, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan completion row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate completion rows: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanModel(row rowScanner) (Model, error) {
	var m Model
	var connector string
	if err := row.Scan(
		&m.ID,
		&m.ExternalID,
		&m.Name,
		&connector,
		&m.IsActive,
		&m.CreatedAt,
		&m.UpdatedAt,
	); err != nil {
		return Model{}, err
	}
	m.Connector = ai.ConnectorName(connector)
	return m, nil
}

func encodeMessages(messages []ai.Message) (string, error) {
	if messages == nil {
		messages = []ai.Message{}
	}
	b, err := json.Marshal(messages)
	if err != nil {
		return "", fmt.Errorf("encode chat messages: %w", err)
	}
	return string(b), nil
}

func nowExpr(driver string) any {
	if driver == "postgres" {
		return sq.Expr("NOW()")
	}
	return sq.Expr("CURRENT_TIMESTAMP")
}
