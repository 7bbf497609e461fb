package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/markdave123-py/Parley/internal/core"
	"github.com/markdave123-py/Parley/internal/models"
)

const conversationColumns = `
	id, user_id, title, title_is_default, model, system_prompt, metadata,
	is_archived, is_deleted, created_at, updated_at
`

func scanConversation(row rowScanner) (*models.Conversation, error) {
	var (
		conv     models.Conversation
		prompt   sql.NullString
		metadata string
	)
	err := row.Scan(
		&conv.ID, &conv.UserID, &conv.Title, &conv.TitleIsDefault, &conv.Model, &prompt, &metadata,
		&conv.IsArchived, &conv.IsDeleted, &conv.CreatedAt, &conv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if prompt.Valid {
		conv.SystemPrompt = &prompt.String
	}
	conv.Metadata = decodeMetadata(metadata)
	return &conv, nil
}

// CreateConversation inserts conv. Timestamps default to now; the title flag is
// set by the caller.
func (c *DatabaseClient) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	if conv == nil {
		return errors.New("nil conversation")
	}
	now := nowUTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = conv.CreatedAt
	}
	if conv.Metadata == nil {
		conv.Metadata = map[string]any{}
	}
	metadata, err := encodeJSON(conv.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	const q = `
		INSERT INTO conversations
			(id, user_id, title, title_is_default, model, system_prompt, metadata, is_archived, is_deleted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
	`
	_, err = c.db.ExecContext(ctx, q,
		conv.ID, conv.UserID, conv.Title, conv.TitleIsDefault, conv.Model, conv.SystemPrompt, metadata,
		conv.IsArchived, conv.CreatedAt, conv.UpdatedAt)
	return storageErr("create conversation", err)
}

// GetConversation returns the conversation including soft-deleted rows; visibility is decided by the caller.
func (c *DatabaseClient) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	q := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = ?`
	conv, err := scanConversation(c.db.QueryRowContext(ctx, q, id))
	if err != nil {
		return nil, storageErr("get conversation", err)
	}
	return conv, nil
}

func (c *DatabaseClient) ListConversations(ctx context.Context, userID string, limit, offset int) ([]models.Conversation, int, error) {
	var total int
	if err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversations WHERE user_id = ? AND is_deleted = 0`, userID,
	).Scan(&total); err != nil {
		return nil, 0, storageErr("count conversations", err)
	}

	q := `SELECT ` + conversationColumns + `
		FROM conversations
		WHERE user_id = ? AND is_deleted = 0
		ORDER BY updated_at DESC, created_at DESC
		LIMIT ? OFFSET ?`
	rows, err := c.db.QueryContext(ctx, q, userID, limit, offset)
	if err != nil {
		return nil, 0, storageErr("list conversations", err)
	}
	defer rows.Close()

	out := make([]models.Conversation, 0, limit)
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, 0, storageErr("list conversations", err)
		}
		out = append(out, *conv)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, storageErr("list conversations", err)
	}
	return out, total, nil
}

// UpdateConversation applies the non-nil fields of upd. Setting a title clears
// the default-title flag.
func (c *DatabaseClient) UpdateConversation(ctx context.Context, id string, upd models.ConversationUpdate) (*models.Conversation, error) {
	sets := []string{"updated_at = ?"}
	args := []any{nowUTC()}
	if upd.Title != nil {
		sets = append(sets, "title = ?", "title_is_default = 0")
		args = append(args, *upd.Title)
	}
	if upd.SystemPrompt != nil {
		sets = append(sets, "system_prompt = ?")
		args = append(args, *upd.SystemPrompt)
	}
	if upd.IsArchived != nil {
		sets = append(sets, "is_archived = ?")
		args = append(args, *upd.IsArchived)
	}
	args = append(args, id)

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("update conversation", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE conversations SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return nil, storageErr("update conversation", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, core.ErrNotFound
	}

	conv, err := scanConversation(tx.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id))
	if err != nil {
		return nil, storageErr("update conversation", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, storageErr("update conversation", err)
	}
	return conv, nil
}

// SetAutoTitle replaces the title only while the default-title flag is still
// set, and clears the flag. It reports whether the title changed.
func (c *DatabaseClient) SetAutoTitle(ctx context.Context, id, title string) (bool, error) {
	const q = `
		UPDATE conversations
		SET title = ?, title_is_default = 0, updated_at = ?
		WHERE id = ? AND title_is_default = 1
	`
	res, err := c.db.ExecContext(ctx, q, title, nowUTC(), id)
	if err != nil {
		return false, storageErr("set title", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storageErr("set title", err)
	}
	return n == 1, nil
}

func (c *DatabaseClient) SoftDeleteConversation(ctx context.Context, id string) error {
	res, err := c.db.ExecContext(ctx,
		`UPDATE conversations SET is_deleted = 1, updated_at = ? WHERE id = ? AND is_deleted = 0`, nowUTC(), id)
	if err != nil {
		return storageErr("soft delete conversation", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	return nil
}

// HardDeleteConversation removes the conversation row and every message in it.
func (c *DatabaseClient) HardDeleteConversation(ctx context.Context, id string) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("hard delete conversation", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return storageErr("hard delete conversation", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return storageErr("hard delete conversation", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	return storageErr("hard delete conversation", tx.Commit())
}
