package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/markdave123-py/Parley/internal/models"
)

const messageColumns = `
	id, conversation_id, role, content, token_count, model, finish_reason,
	latency_ms, metadata, estimated_cost_usd, created_at
`

func scanMessage(row rowScanner) (*models.Message, error) {
	var (
		m        models.Message
		model    sql.NullString
		finish   sql.NullString
		latency  sql.NullInt64
		metadata string
	)
	err := row.Scan(
		&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.TokenCount, &model, &finish,
		&latency, &metadata, &m.EstimatedCostUSD, &m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if model.Valid {
		m.Model = &model.String
	}
	if finish.Valid {
		m.FinishReason = &finish.String
	}
	if latency.Valid {
		m.LatencyMs = &latency.Int64
	}
	m.Metadata = decodeMetadata(metadata)
	return &m, nil
}

// AppendMessage stores msg and bumps the parent conversation's updated_at in
// the same transaction. Messages are never updated afterwards.
func (c *DatabaseClient) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg == nil {
		return errors.New("nil message")
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = nowUTC()
	}
	if msg.Metadata == nil {
		msg.Metadata = map[string]any{}
	}
	metadata, err := encodeJSON(msg.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("append message", err)
	}
	defer func() { _ = tx.Rollback() }()

	const q = `
		INSERT INTO messages
			(id, conversation_id, role, content, token_count, model, finish_reason, latency_ms, metadata, estimated_cost_usd, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, q,
		msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.TokenCount, msg.Model, msg.FinishReason,
		msg.LatencyMs, metadata, msg.EstimatedCostUSD, msg.CreatedAt,
	); err != nil {
		return storageErr("append message", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`, msg.CreatedAt, msg.ConversationID,
	); err != nil {
		return storageErr("append message", err)
	}
	return storageErr("append message", tx.Commit())
}

// ListMessages returns the whole history of a conversation, oldest first.
func (c *DatabaseClient) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	q := `SELECT ` + messageColumns + `
		FROM messages WHERE conversation_id = ?
		ORDER BY created_at ASC, seq ASC`
	rows, err := c.db.QueryContext(ctx, q, conversationID)
	if err != nil {
		return nil, storageErr("list messages", err)
	}
	defer rows.Close()
	return collectMessages(rows, 0)
}

func (c *DatabaseClient) ListMessagesPage(ctx context.Context, conversationID string, limit, offset int) ([]models.Message, int, error) {
	var total int
	if err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID,
	).Scan(&total); err != nil {
		return nil, 0, storageErr("count messages", err)
	}

	q := `SELECT ` + messageColumns + `
		FROM messages WHERE conversation_id = ?
		ORDER BY created_at ASC, seq ASC
		LIMIT ? OFFSET ?`
	rows, err := c.db.QueryContext(ctx, q, conversationID, limit, offset)
	if err != nil {
		return nil, 0, storageErr("list messages", err)
	}
	defer rows.Close()

	out, err := collectMessages(rows, limit)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func collectMessages(rows *sql.Rows, capHint int) ([]models.Message, error) {
	out := make([]models.Message, 0, capHint)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, storageErr("list messages", err)
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list messages", err)
	}
	return out, nil
}
