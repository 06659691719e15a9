package sql

import (
	"context"
	"fmt"
	"time"

	"github.com/agor-sh/agor/internal/store/models"
	"github.com/agor-sh/agor/internal/store/repository"
)

const boardColumns = `id, name, slug, icon, color, created_by, objects, created_at, updated_at`

type boardRow struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	Slug      string    `db:"slug"`
	Icon      string    `db:"icon"`
	Color     string    `db:"color"`
	CreatedBy string    `db:"created_by"`
	Objects   string    `db:"objects"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (row *boardRow) toModel() (*models.Board, error) {
	b := &models.Board{
		ID:        row.ID,
		Name:      row.Name,
		Slug:      row.Slug,
		Icon:      row.Icon,
		Color:     row.Color,
		CreatedBy: row.CreatedBy,
		Objects:   make(map[string]models.CanvasObject),
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	if err := unmarshalJSON(row.Objects, &b.Objects); err != nil {
		return nil, fmt.Errorf("corrupt objects for board %s: %w", row.ID, err)
	}
	return b, nil
}

// CreateBoard inserts a board.
func (r *Repository) CreateBoard(ctx context.Context, b *models.Board) error {
	if b.Name == "" {
		return fmt.Errorf("%w: name required", repository.ErrValidation)
	}
	objects, err := b.ObjectsJSON()
	if err != nil {
		return fmt.Errorf("%w: %v", repository.ErrValidation, err)
	}
	now := time.Now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now

	query := r.rebind(`INSERT INTO boards (` + boardColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = r.pool.Writer().ExecContext(ctx, query,
		b.ID, b.Name, b.Slug, b.Icon, b.Color, b.CreatedBy, objects, b.CreatedAt, b.UpdatedAt)
	return mapError(err)
}

// GetBoard loads a board by id.
func (r *Repository) GetBoard(ctx context.Context, id string) (*models.Board, error) {
	var row boardRow
	query := r.rebind(`SELECT ` + boardColumns + ` FROM boards WHERE id = ?`)
	if err := r.pool.Reader().GetContext(ctx, &row, query, id); err != nil {
		return nil, mapError(err)
	}
	return row.toModel()
}

// UpdateBoard persists board metadata and the full objects map.
func (r *Repository) UpdateBoard(ctx context.Context, b *models.Board) error {
	objects, err := b.ObjectsJSON()
	if err != nil {
		return fmt.Errorf("%w: %v", repository.ErrValidation, err)
	}
	b.UpdatedAt = time.Now().UTC()
	query := r.rebind(`UPDATE boards SET name = ?, slug = ?, icon = ?, color = ?, objects = ?, updated_at = ? WHERE id = ?`)
	res, err := r.pool.Writer().ExecContext(ctx, query,
		b.Name, b.Slug, b.Icon, b.Color, objects, b.UpdatedAt, b.ID)
	if err != nil {
		return mapError(err)
	}
	return requireRowAffected(res)
}

// DeleteBoard removes a board; placements cascade and member worktrees
// are released.
func (r *Repository) DeleteBoard(ctx context.Context, id string) error {
	res, err := r.pool.Writer().ExecContext(ctx, r.rebind(`DELETE FROM boards WHERE id = ?`), id)
	if err != nil {
		return mapError(err)
	}
	return requireRowAffected(res)
}

// ListBoards returns all boards, newest first.
func (r *Repository) ListBoards(ctx context.Context) ([]*models.Board, error) {
	var rows []boardRow
	if err := r.pool.Reader().SelectContext(ctx, &rows,
		`SELECT `+boardColumns+` FROM boards ORDER BY created_at DESC`); err != nil {
		return nil, mapError(err)
	}
	boards := make([]*models.Board, 0, len(rows))
	for i := range rows {
		b, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		boards = append(boards, b)
	}
	return boards, nil
}

// editBoardObjects applies fn to the objects map inside one transaction,
// so concurrent editors never lose each other's keys.
func (r *Repository) editBoardObjects(ctx context.Context, boardID string, fn func(objs map[string]models.CanvasObject)) error {
	tx, err := r.pool.Writer().BeginTxx(ctx, nil)
	if err != nil {
		return mapError(err)
	}
	defer func() { _ = tx.Rollback() }()

	lockQuery := `SELECT objects FROM boards WHERE id = ?`
	if r.pool.IsPostgres() {
		lockQuery += ` FOR UPDATE`
	}
	var raw string
	if err := tx.GetContext(ctx, &raw, r.rebind(lockQuery), boardID); err != nil {
		return mapError(err)
	}

	objs := make(map[string]models.CanvasObject)
	if err := unmarshalJSON(raw, &objs); err != nil {
		return fmt.Errorf("corrupt objects for board %s: %w", boardID, err)
	}

	fn(objs)

	updated, err := marshalJSON(objs)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		r.rebind(`UPDATE boards SET objects = ?, updated_at = ? WHERE id = ?`),
		updated, time.Now().UTC(), boardID); err != nil {
		return mapError(err)
	}

	return mapError(tx.Commit())
}

// UpsertBoardCanvasObject sets one key of the board's objects map.
func (r *Repository) UpsertBoardCanvasObject(ctx context.Context, boardID, objectID string, obj models.CanvasObject) error {
	return r.editBoardObjects(ctx, boardID, func(objs map[string]models.CanvasObject) {
		objs[objectID] = obj
	})
}

// RemoveBoardCanvasObject deletes one key of the board's objects map.
func (r *Repository) RemoveBoardCanvasObject(ctx context.Context, boardID, objectID string) error {
	return r.editBoardObjects(ctx, boardID, func(objs map[string]models.CanvasObject) {
		delete(objs, objectID)
	})
}

// BatchUpsertBoardCanvasObjects sets several keys in one transaction.
func (r *Repository) BatchUpsertBoardCanvasObjects(ctx context.Context, boardID string, batch map[string]models.CanvasObject) error {
	return r.editBoardObjects(ctx, boardID, func(objs map[string]models.CanvasObject) {
		for id, obj := range batch {
			objs[id] = obj
		}
	})
}

const boardObjectColumns = `id, board_id, worktree_id, x, y, created_at, updated_at`

// CreateBoardObject places a worktree on a board. The unique constraint
// on worktree_id enforces one-board-per-worktree.
func (r *Repository) CreateBoardObject(ctx context.Context, obj *models.BoardObject) error {
	now := time.Now().UTC()
	if obj.CreatedAt.IsZero() {
		obj.CreatedAt = now
	}
	obj.UpdatedAt = now

	tx, err := r.pool.Writer().BeginTxx(ctx, nil)
	if err != nil {
		return mapError(err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		r.rebind(`INSERT INTO board_objects (`+boardObjectColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`),
		obj.ID, obj.BoardID, obj.WorktreeID, obj.X, obj.Y, obj.CreatedAt, obj.UpdatedAt); err != nil {
		return mapError(err)
	}
	if _, err := tx.ExecContext(ctx,
		r.rebind(`UPDATE worktrees SET board_id = ?, updated_at = ? WHERE id = ?`),
		obj.BoardID, now, obj.WorktreeID); err != nil {
		return mapError(err)
	}
	return mapError(tx.Commit())
}

// DeleteBoardObject removes a placement and releases the worktree.
func (r *Repository) DeleteBoardObject(ctx context.Context, id string) error {
	tx, err := r.pool.Writer().BeginTxx(ctx, nil)
	if err != nil {
		return mapError(err)
	}
	defer func() { _ = tx.Rollback() }()

	var worktreeID string
	if err := tx.GetContext(ctx, &worktreeID,
		r.rebind(`SELECT worktree_id FROM board_objects WHERE id = ?`), id); err != nil {
		return mapError(err)
	}
	if _, err := tx.ExecContext(ctx, r.rebind(`DELETE FROM board_objects WHERE id = ?`), id); err != nil {
		return mapError(err)
	}
	if _, err := tx.ExecContext(ctx,
		r.rebind(`UPDATE worktrees SET board_id = NULL, updated_at = ? WHERE id = ?`),
		time.Now().UTC(), worktreeID); err != nil {
		return mapError(err)
	}
	return mapError(tx.Commit())
}

// ListBoardObjects returns a board's worktree placements.
func (r *Repository) ListBoardObjects(ctx context.Context, boardID string) ([]*models.BoardObject, error) {
	var objs []*models.BoardObject
	query := r.rebind(`SELECT ` + boardObjectColumns + ` FROM board_objects WHERE board_id = ? ORDER BY created_at, id`)
	if err := r.pool.Reader().SelectContext(ctx, &objs, query, boardID); err != nil {
		return nil, mapError(err)
	}
	return objs, nil
}

// UpdateBoardObjectPosition moves a placement; last write wins.
func (r *Repository) UpdateBoardObjectPosition(ctx context.Context, id string, x, y float64) error {
	query := r.rebind(`UPDATE board_objects SET x = ?, y = ?, updated_at = ? WHERE id = ?`)
	res, err := r.pool.Writer().ExecContext(ctx, query, x, y, time.Now().UTC(), id)
	if err != nil {
		return mapError(err)
	}
	return requireRowAffected(res)
}
