package sql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/agor-sh/agor/internal/store/models"
	"github.com/agor-sh/agor/internal/store/repository"
)

// sessionRow mirrors the sessions table.
type sessionRow struct {
	ID             string    `db:"id"`
	Title          string    `db:"title"`
	CreatedBy      string    `db:"created_by"`
	Tool           string    `db:"tool"`
	Status         string    `db:"status"`
	AgentSessionID string    `db:"agent_session_id"`
	WorktreeID     string    `db:"worktree_id"`
	WorkingDir     string    `db:"working_dir"`
	GitRef         string    `db:"git_ref"`
	BaseCommit     string    `db:"base_commit"`
	CurrentCommit  string    `db:"current_commit"`
	ForkedFrom     string    `db:"forked_from"`
	ForkPointTask  string    `db:"fork_point_task"`
	ParentSession  string    `db:"parent_session"`
	SpawnPointTask string    `db:"spawn_point_task"`
	MessageCount   int       `db:"message_count"`
	ToolUseCount   int       `db:"tool_use_count"`
	AllowedTools   string    `db:"allowed_tools"`
	PermissionMode string    `db:"permission_mode"`
	ModelMode      string    `db:"model_mode"`
	ModelID        string    `db:"model_id"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func (row *sessionRow) toModel() (*models.Session, error) {
	s := &models.Session{
		ID:             row.ID,
		Title:          row.Title,
		CreatedBy:      row.CreatedBy,
		Tool:           models.ToolFamily(row.Tool),
		Status:         models.SessionStatus(row.Status),
		AgentSessionID: row.AgentSessionID,
		WorktreeID:     row.WorktreeID,
		WorkingDir:     row.WorkingDir,
		Git: models.GitState{
			Ref:           row.GitRef,
			BaseCommit:    row.BaseCommit,
			CurrentCommit: row.CurrentCommit,
		},
		Genealogy: models.Genealogy{
			ForkedFrom:     row.ForkedFrom,
			ForkPointTask:  row.ForkPointTask,
			ParentSession:  row.ParentSession,
			SpawnPointTask: row.SpawnPointTask,
		},
		MessageCount:   row.MessageCount,
		ToolUseCount:   row.ToolUseCount,
		PermissionMode: row.PermissionMode,
		Model: models.ModelConfig{
			Mode:  models.ModelMode(row.ModelMode),
			Model: row.ModelID,
		},
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	if err := unmarshalJSON(row.AllowedTools, &s.AllowedTools); err != nil {
		return nil, fmt.Errorf("corrupt allowed_tools for session %s: %w", row.ID, err)
	}
	return s, nil
}

const sessionColumns = `id, title, created_by, tool, status, agent_session_id, worktree_id,
	working_dir, git_ref, base_commit, current_commit, forked_from, fork_point_task,
	parent_session, spawn_point_task, message_count, tool_use_count, allowed_tools,
	permission_mode, model_mode, model_id, created_at, updated_at`

// CreateSession inserts a new session.
func (r *Repository) CreateSession(ctx context.Context, s *models.Session) error {
	if !s.Tool.Valid() {
		return fmt.Errorf("%w: unknown tool family %q", repository.ErrValidation, s.Tool)
	}
	if s.WorktreeID == "" {
		return fmt.Errorf("%w: worktree_id required", repository.ErrValidation)
	}
	allowed, err := marshalJSON(s.AllowedTools)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	if s.Status == "" {
		s.Status = models.SessionStatusIdle
	}

	query := r.rebind(`INSERT INTO sessions (` + sessionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = r.pool.Writer().ExecContext(ctx, query,
		s.ID, s.Title, s.CreatedBy, string(s.Tool), string(s.Status), s.AgentSessionID,
		s.WorktreeID, s.WorkingDir, s.Git.Ref, s.Git.BaseCommit, s.Git.CurrentCommit,
		s.Genealogy.ForkedFrom, s.Genealogy.ForkPointTask, s.Genealogy.ParentSession,
		s.Genealogy.SpawnPointTask, s.MessageCount, s.ToolUseCount, allowed,
		s.PermissionMode, string(s.Model.Mode), s.Model.Model, s.CreatedAt, s.UpdatedAt)
	return mapError(err)
}

// GetSession loads a session with its derived task id list and children.
func (r *Repository) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var row sessionRow
	query := r.rebind(`SELECT ` + sessionColumns + ` FROM sessions WHERE id = ?`)
	if err := r.pool.Reader().GetContext(ctx, &row, query, id); err != nil {
		return nil, mapError(err)
	}
	s, err := row.toModel()
	if err != nil {
		return nil, err
	}

	if err := r.pool.Reader().SelectContext(ctx, &s.TaskIDs,
		r.rebind(`SELECT id FROM tasks WHERE session_id = ? ORDER BY created_at, id`), id); err != nil {
		return nil, mapError(err)
	}
	s.Genealogy.Children, err = r.ListSessionChildren(ctx, id)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// UpdateSession persists the mutable fields of a session.
func (r *Repository) UpdateSession(ctx context.Context, s *models.Session) error {
	allowed, err := marshalJSON(s.AllowedTools)
	if err != nil {
		return err
	}
	s.UpdatedAt = time.Now().UTC()

	query := r.rebind(`UPDATE sessions SET title = ?, status = ?, agent_session_id = ?,
		working_dir = ?, git_ref = ?, base_commit = ?, current_commit = ?,
		message_count = ?, tool_use_count = ?, allowed_tools = ?, permission_mode = ?,
		model_mode = ?, model_id = ?, updated_at = ? WHERE id = ?`)
	res, err := r.pool.Writer().ExecContext(ctx, query,
		s.Title, string(s.Status), s.AgentSessionID, s.WorkingDir,
		s.Git.Ref, s.Git.BaseCommit, s.Git.CurrentCommit,
		s.MessageCount, s.ToolUseCount, allowed, s.PermissionMode,
		string(s.Model.Mode), s.Model.Model, s.UpdatedAt, s.ID)
	if err != nil {
		return mapError(err)
	}
	return requireRowAffected(res)
}

// DeleteSession removes a session; tasks and messages cascade.
func (r *Repository) DeleteSession(ctx context.Context, id string) error {
	res, err := r.pool.Writer().ExecContext(ctx, r.rebind(`DELETE FROM sessions WHERE id = ?`), id)
	if err != nil {
		return mapError(err)
	}
	return requireRowAffected(res)
}

// ListSessions returns sessions matching the filter, newest first.
func (r *Repository) ListSessions(ctx context.Context, filter repository.SessionFilter) ([]*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE 1=1`
	var args []any
	if filter.CreatedBy != "" {
		query += ` AND created_by = ?`
		args = append(args, filter.CreatedBy)
	}
	if filter.WorktreeID != "" {
		query += ` AND worktree_id = ?`
		args = append(args, filter.WorktreeID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	var rows []sessionRow
	if err := r.pool.Reader().SelectContext(ctx, &rows, r.rebind(query), args...); err != nil {
		return nil, mapError(err)
	}
	sessions := make([]*models.Session, 0, len(rows))
	for i := range rows {
		s, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

// ListSessionChildren returns ids of sessions spawned from this one.
func (r *Repository) ListSessionChildren(ctx context.Context, id string) ([]string, error) {
	var children []string
	err := r.pool.Reader().SelectContext(ctx, &children,
		r.rebind(`SELECT id FROM sessions WHERE parent_session = ? ORDER BY created_at, id`), id)
	if err != nil {
		return nil, mapError(err)
	}
	return children, nil
}

// SetAgentSessionID persists the vendor resume token. Writing the same
// token twice is a no-op.
func (r *Repository) SetAgentSessionID(ctx context.Context, sessionID, token string) error {
	query := r.rebind(`UPDATE sessions SET agent_session_id = ?, updated_at = ? WHERE id = ?`)
	res, err := r.pool.Writer().ExecContext(ctx, query, token, time.Now().UTC(), sessionID)
	if err != nil {
		return mapError(err)
	}
	return requireRowAffected(res)
}

// SetSessionStatus transitions a session's status.
func (r *Repository) SetSessionStatus(ctx context.Context, sessionID string, status models.SessionStatus) error {
	query := r.rebind(`UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?`)
	res, err := r.pool.Writer().ExecContext(ctx, query, string(status), time.Now().UTC(), sessionID)
	if err != nil {
		return mapError(err)
	}
	return requireRowAffected(res)
}

// SetSessionAllowedTools replaces the allow-list atomically.
func (r *Repository) SetSessionAllowedTools(ctx context.Context, sessionID string, tools []string) error {
	allowed, err := marshalJSON(tools)
	if err != nil {
		return err
	}
	query := r.rebind(`UPDATE sessions SET allowed_tools = ?, updated_at = ? WHERE id = ?`)
	res, err := r.pool.Writer().ExecContext(ctx, query, allowed, time.Now().UTC(), sessionID)
	if err != nil {
		return mapError(err)
	}
	return requireRowAffected(res)
}

// requireRowAffected converts a zero-row update into ErrNotFound.
func requireRowAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}
