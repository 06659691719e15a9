package sql

import (
	"context"
	"fmt"
	"time"

	"github.com/agor-sh/agor/internal/store/models"
	"github.com/agor-sh/agor/internal/store/repository"
)

const taskColumns = `id, session_id, status, description, prompt, start_index, end_index,
	tool_use_count, resolved_model, input_tokens, output_tokens, failure_reason,
	start_commit, end_commit, created_at, updated_at, started_at, completed_at`

// CreateTask inserts a task without touching the session status.
func (r *Repository) CreateTask(ctx context.Context, t *models.Task) error {
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = models.TaskStatusPending
	}

	query := r.rebind(`INSERT INTO tasks (` + taskColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.pool.Writer().ExecContext(ctx, query,
		t.ID, t.SessionID, string(t.Status), t.Description, t.Prompt,
		t.StartIndex, t.EndIndex, t.ToolUseCount, t.ResolvedModel,
		t.InputTokens, t.OutputTokens, t.FailureReason,
		t.StartCommit, t.EndCommit, t.CreatedAt, t.UpdatedAt, t.StartedAt, t.CompletedAt)
	return mapError(err)
}

// GetTask loads a task by id.
func (r *Repository) GetTask(ctx context.Context, id string) (*models.Task, error) {
	var t models.Task
	query := r.rebind(`SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`)
	if err := r.pool.Reader().GetContext(ctx, &t, query, id); err != nil {
		return nil, mapError(err)
	}
	return &t, nil
}

// UpdateTask persists the mutable fields of a task.
func (r *Repository) UpdateTask(ctx context.Context, t *models.Task) error {
	t.UpdatedAt = time.Now().UTC()
	query := r.rebind(`UPDATE tasks SET status = ?, description = ?, start_index = ?,
		end_index = ?, tool_use_count = ?, resolved_model = ?, input_tokens = ?,
		output_tokens = ?, failure_reason = ?, start_commit = ?, end_commit = ?,
		updated_at = ?, started_at = ?, completed_at = ? WHERE id = ?`)
	res, err := r.pool.Writer().ExecContext(ctx, query,
		string(t.Status), t.Description, t.StartIndex, t.EndIndex, t.ToolUseCount,
		t.ResolvedModel, t.InputTokens, t.OutputTokens, t.FailureReason,
		t.StartCommit, t.EndCommit, t.UpdatedAt, t.StartedAt, t.CompletedAt, t.ID)
	if err != nil {
		return mapError(err)
	}
	return requireRowAffected(res)
}

// ListTasks returns a session's tasks in creation order.
func (r *Repository) ListTasks(ctx context.Context, sessionID string) ([]*models.Task, error) {
	var tasks []*models.Task
	query := r.rebind(`SELECT ` + taskColumns + ` FROM tasks WHERE session_id = ? ORDER BY created_at, id`)
	if err := r.pool.Reader().SelectContext(ctx, &tasks, query, sessionID); err != nil {
		return nil, mapError(err)
	}
	return tasks, nil
}

// ListRunningTasks returns all tasks still marked running, for restart
// reconciliation.
func (r *Repository) ListRunningTasks(ctx context.Context) ([]*models.Task, error) {
	var tasks []*models.Task
	query := r.rebind(`SELECT ` + taskColumns + ` FROM tasks WHERE status = ?`)
	if err := r.pool.Reader().SelectContext(ctx, &tasks, query, string(models.TaskStatusRunning)); err != nil {
		return nil, mapError(err)
	}
	return tasks, nil
}

// ClaimSessionTask creates the task and flips the session to running in
// one transaction. The status guard on the session update enforces the
// one-running-task-per-session rule.
func (r *Repository) ClaimSessionTask(ctx context.Context, t *models.Task) error {
	tx, err := r.pool.Writer().BeginTxx(ctx, nil)
	if err != nil {
		return mapError(err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()

	res, err := tx.ExecContext(ctx,
		r.rebind(`UPDATE sessions SET status = ?, updated_at = ? WHERE id = ? AND status != ?`),
		string(models.SessionStatusRunning), now, t.SessionID, string(models.SessionStatusRunning))
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Either the session does not exist or it is already running.
		var exists int
		if err := tx.GetContext(ctx, &exists,
			r.rebind(`SELECT COUNT(*) FROM sessions WHERE id = ?`), t.SessionID); err != nil {
			return mapError(err)
		}
		if exists == 0 {
			return repository.ErrNotFound
		}
		return fmt.Errorf("%w: session %s has a running task", repository.ErrSessionBusy, t.SessionID)
	}

	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = models.TaskStatusPending
	}
	_, err = tx.ExecContext(ctx,
		r.rebind(`INSERT INTO tasks (`+taskColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		t.ID, t.SessionID, string(t.Status), t.Description, t.Prompt,
		t.StartIndex, t.EndIndex, t.ToolUseCount, t.ResolvedModel,
		t.InputTokens, t.OutputTokens, t.FailureReason,
		t.StartCommit, t.EndCommit, t.CreatedAt, t.UpdatedAt, t.StartedAt, t.CompletedAt)
	if err != nil {
		return mapError(err)
	}

	return mapError(tx.Commit())
}

// FinishTask records a terminal status exactly once and releases the
// session back to idle (or failed, for a failed task). A task already
// in a terminal state returns ErrConflict.
func (r *Repository) FinishTask(ctx context.Context, taskID string, status models.TaskStatus, failureReason string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("%w: %q is not a terminal task status", repository.ErrValidation, status)
	}

	tx, err := r.pool.Writer().BeginTxx(ctx, nil)
	if err != nil {
		return mapError(err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()

	var t models.Task
	if err := tx.GetContext(ctx, &t,
		r.rebind(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`), taskID); err != nil {
		return mapError(err)
	}
	if t.Status.IsTerminal() {
		return fmt.Errorf("%w: task %s already %s", repository.ErrConflict, taskID, t.Status)
	}

	res, err := tx.ExecContext(ctx,
		r.rebind(`UPDATE tasks SET status = ?, failure_reason = ?, updated_at = ?, completed_at = ?
			WHERE id = ? AND status NOT IN (?, ?)`),
		string(status), failureReason, now, now, taskID,
		string(models.TaskStatusCompleted), string(models.TaskStatusFailed))
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: task %s already terminal", repository.ErrConflict, taskID)
	}

	sessionStatus := models.SessionStatusIdle
	if status == models.TaskStatusFailed && failureReason != models.FailureReasonCancelled {
		sessionStatus = models.SessionStatusFailed
	}
	if _, err := tx.ExecContext(ctx,
		r.rebind(`UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?`),
		string(sessionStatus), now, t.SessionID); err != nil {
		return mapError(err)
	}

	return mapError(tx.Commit())
}
