package sql

import (
	"context"
	"fmt"
	"time"

	"github.com/agor-sh/agor/internal/store/models"
	"github.com/agor-sh/agor/internal/store/repository"
)

const worktreeColumns = `id, repo_id, path, ref, board_id, created_by, created_at, updated_at`

// worktreeRow mirrors the worktrees table; board_id is nullable.
type worktreeRow struct {
	ID        string    `db:"id"`
	RepoID    string    `db:"repo_id"`
	Path      string    `db:"path"`
	Ref       string    `db:"ref"`
	BoardID   *string   `db:"board_id"`
	CreatedBy string    `db:"created_by"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (row *worktreeRow) toModel() *models.Worktree {
	wt := &models.Worktree{
		ID:        row.ID,
		RepoID:    row.RepoID,
		Path:      row.Path,
		Ref:       row.Ref,
		CreatedBy: row.CreatedBy,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	if row.BoardID != nil {
		wt.BoardID = *row.BoardID
	}
	return wt
}

func nullableID(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}

// CreateWorktree inserts a worktree record.
func (r *Repository) CreateWorktree(ctx context.Context, wt *models.Worktree) error {
	if wt.Path == "" {
		return fmt.Errorf("%w: path required", repository.ErrValidation)
	}
	now := time.Now().UTC()
	if wt.CreatedAt.IsZero() {
		wt.CreatedAt = now
	}
	wt.UpdatedAt = now

	query := r.rebind(`INSERT INTO worktrees (` + worktreeColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.pool.Writer().ExecContext(ctx, query,
		wt.ID, wt.RepoID, wt.Path, wt.Ref, nullableID(wt.BoardID), wt.CreatedBy, wt.CreatedAt, wt.UpdatedAt)
	return mapError(err)
}

// GetWorktree loads a worktree by id.
func (r *Repository) GetWorktree(ctx context.Context, id string) (*models.Worktree, error) {
	var row worktreeRow
	query := r.rebind(`SELECT ` + worktreeColumns + ` FROM worktrees WHERE id = ?`)
	if err := r.pool.Reader().GetContext(ctx, &row, query, id); err != nil {
		return nil, mapError(err)
	}
	return row.toModel(), nil
}

// UpdateWorktree persists ref and board membership changes.
func (r *Repository) UpdateWorktree(ctx context.Context, wt *models.Worktree) error {
	wt.UpdatedAt = time.Now().UTC()
	query := r.rebind(`UPDATE worktrees SET ref = ?, board_id = ?, updated_at = ? WHERE id = ?`)
	res, err := r.pool.Writer().ExecContext(ctx, query, wt.Ref, nullableID(wt.BoardID), wt.UpdatedAt, wt.ID)
	if err != nil {
		return mapError(err)
	}
	return requireRowAffected(res)
}

// DeleteWorktree removes the worktree; its sessions, their tasks and
// messages, and its board placement cascade.
func (r *Repository) DeleteWorktree(ctx context.Context, id string) error {
	res, err := r.pool.Writer().ExecContext(ctx, r.rebind(`DELETE FROM worktrees WHERE id = ?`), id)
	if err != nil {
		return mapError(err)
	}
	return requireRowAffected(res)
}

// ListWorktrees returns all worktrees, newest first.
func (r *Repository) ListWorktrees(ctx context.Context) ([]*models.Worktree, error) {
	var rows []worktreeRow
	query := `SELECT ` + worktreeColumns + ` FROM worktrees ORDER BY created_at DESC`
	if err := r.pool.Reader().SelectContext(ctx, &rows, query); err != nil {
		return nil, mapError(err)
	}
	wts := make([]*models.Worktree, 0, len(rows))
	for i := range rows {
		wts = append(wts, rows[i].toModel())
	}
	return wts, nil
}
