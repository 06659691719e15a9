package sql

import (
	"context"
	"fmt"
	"time"

	"github.com/agor-sh/agor/internal/store/models"
	"github.com/agor-sh/agor/internal/store/repository"
)

// messageRow mirrors the messages table.
type messageRow struct {
	ID             string    `db:"id"`
	SessionID      string    `db:"session_id"`
	TaskID         string    `db:"task_id"`
	Index          int       `db:"idx"`
	Role           string    `db:"role"`
	Content        string    `db:"content"`
	ContentPreview string    `db:"content_preview"`
	ToolUses       string    `db:"tool_uses"`
	MetaModel      string    `db:"meta_model"`
	InputTokens    int       `db:"input_tokens"`
	OutputTokens   int       `db:"output_tokens"`
	CreatedAt      time.Time `db:"created_at"`
}

func (row *messageRow) toModel() (*models.Message, error) {
	m := &models.Message{
		ID:             row.ID,
		SessionID:      row.SessionID,
		TaskID:         row.TaskID,
		Index:          row.Index,
		Role:           models.MessageRole(row.Role),
		ContentPreview: row.ContentPreview,
		Metadata: models.MessageMetadata{
			Model:        row.MetaModel,
			InputTokens:  row.InputTokens,
			OutputTokens: row.OutputTokens,
		},
		CreatedAt: row.CreatedAt,
	}
	if err := unmarshalJSON(row.Content, &m.Content); err != nil {
		return nil, fmt.Errorf("corrupt content for message %s: %w", row.ID, err)
	}
	if err := unmarshalJSON(row.ToolUses, &m.ToolUses); err != nil {
		return nil, fmt.Errorf("corrupt tool_uses for message %s: %w", row.ID, err)
	}
	return m, nil
}

const messageColumns = `id, session_id, task_id, idx, role, content, content_preview,
	tool_uses, meta_model, input_tokens, output_tokens, created_at`

// AppendMessage allocates the session's next index and inserts the
// message in one transaction. The session row update serializes
// concurrent appenders; the UNIQUE(session_id, idx) constraint backs
// the density invariant.
func (r *Repository) AppendMessage(ctx context.Context, m *models.Message) error {
	if m.Role == "" {
		return fmt.Errorf("%w: role required", repository.ErrValidation)
	}
	content, err := marshalJSON(m.Content)
	if err != nil {
		return err
	}
	toolUses, err := marshalJSON(m.ToolUses)
	if err != nil {
		return err
	}

	tx, err := r.pool.Writer().BeginTxx(ctx, nil)
	if err != nil {
		return mapError(err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}

	// The current message_count is this message's index.
	var next int
	lockQuery := `SELECT message_count FROM sessions WHERE id = ?`
	if r.pool.IsPostgres() {
		lockQuery += ` FOR UPDATE`
	}
	if err := tx.GetContext(ctx, &next, r.rebind(lockQuery), m.SessionID); err != nil {
		return mapError(err)
	}
	m.Index = next

	toolUseDelta := 0
	for _, b := range m.Content {
		if b.Type == models.BlockTypeToolUse {
			toolUseDelta++
		}
	}

	if _, err := tx.ExecContext(ctx,
		r.rebind(`INSERT INTO messages (`+messageColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		m.ID, m.SessionID, m.TaskID, m.Index, string(m.Role), content, m.ContentPreview,
		toolUses, m.Metadata.Model, m.Metadata.InputTokens, m.Metadata.OutputTokens,
		m.CreatedAt); err != nil {
		return mapError(err)
	}

	if _, err := tx.ExecContext(ctx,
		r.rebind(`UPDATE sessions SET message_count = ?, tool_use_count = tool_use_count + ?,
			updated_at = ? WHERE id = ?`),
		next+1, toolUseDelta, now, m.SessionID); err != nil {
		return mapError(err)
	}

	// Keep the owning task's message range in step with the append.
	if m.TaskID != "" {
		if _, err := tx.ExecContext(ctx,
			r.rebind(`UPDATE tasks SET
				start_index = CASE WHEN start_index < 0 THEN ? ELSE start_index END,
				end_index = ?,
				tool_use_count = tool_use_count + ?,
				updated_at = ?
				WHERE id = ?`),
			m.Index, m.Index, toolUseDelta, now, m.TaskID); err != nil {
			return mapError(err)
		}
	}

	return mapError(tx.Commit())
}

// GetMessage loads a message by id.
func (r *Repository) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	var row messageRow
	query := r.rebind(`SELECT ` + messageColumns + ` FROM messages WHERE id = ?`)
	if err := r.pool.Reader().GetContext(ctx, &row, query, id); err != nil {
		return nil, mapError(err)
	}
	return row.toModel()
}

// ListMessages returns a session's messages in index order.
func (r *Repository) ListMessages(ctx context.Context, sessionID string, opts repository.ListMessagesOptions) ([]*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE session_id = ?`
	args := []any{sessionID}
	if opts.TaskID != "" {
		query += ` AND task_id = ?`
		args = append(args, opts.TaskID)
	}
	if opts.AfterIndex >= 0 {
		query += ` AND idx > ?`
		args = append(args, opts.AfterIndex)
	}
	query += ` ORDER BY idx`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	var rows []messageRow
	if err := r.pool.Reader().SelectContext(ctx, &rows, r.rebind(query), args...); err != nil {
		return nil, mapError(err)
	}
	msgs := make([]*models.Message, 0, len(rows))
	for i := range rows {
		m, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// PatchMessage replaces the preview and/or finalizes token counts.
// Message text blocks are append-only and cannot be rewritten.
func (r *Repository) PatchMessage(ctx context.Context, id string, preview *string, meta *models.MessageMetadata) error {
	if preview == nil && meta == nil {
		return fmt.Errorf("%w: nothing to patch", repository.ErrValidation)
	}

	query := `UPDATE messages SET id = id`
	var args []any
	if preview != nil {
		query += `, content_preview = ?`
		args = append(args, *preview)
	}
	if meta != nil {
		query += `, meta_model = ?, input_tokens = ?, output_tokens = ?`
		args = append(args, meta.Model, meta.InputTokens, meta.OutputTokens)
	}
	query += ` WHERE id = ?`
	args = append(args, id)

	res, err := r.pool.Writer().ExecContext(ctx, r.rebind(query), args...)
	if err != nil {
		return mapError(err)
	}
	return requireRowAffected(res)
}
