package sql

import (
	"context"
	"fmt"
	"time"

	"github.com/agor-sh/agor/internal/store/models"
	"github.com/agor-sh/agor/internal/store/repository"
)

const permissionColumns = `id, session_id, task_id, tool_name, input_preview, status,
	behavior, scope, decided_by, created_at, resolved_at`

// CreatePermissionRequest records a pending tool-permission request.
func (r *Repository) CreatePermissionRequest(ctx context.Context, req *models.PermissionRequest) error {
	if req.ToolName == "" {
		return fmt.Errorf("%w: tool_name required", repository.ErrValidation)
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	if req.Status == "" {
		req.Status = models.PermissionStatusPending
	}

	query := r.rebind(`INSERT INTO permission_requests (` + permissionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.pool.Writer().ExecContext(ctx, query,
		req.ID, req.SessionID, req.TaskID, req.ToolName, req.InputPreview,
		string(req.Status), string(req.Behavior), string(req.Scope), req.DecidedBy,
		req.CreatedAt, req.ResolvedAt)
	return mapError(err)
}

// GetPermissionRequest loads a request by id.
func (r *Repository) GetPermissionRequest(ctx context.Context, id string) (*models.PermissionRequest, error) {
	var req models.PermissionRequest
	query := r.rebind(`SELECT ` + permissionColumns + ` FROM permission_requests WHERE id = ?`)
	if err := r.pool.Reader().GetContext(ctx, &req, query, id); err != nil {
		return nil, mapError(err)
	}
	return &req, nil
}

// ListPermissionRequests returns a session's permission requests in
// creation order, optionally narrowed to pending ones.
func (r *Repository) ListPermissionRequests(ctx context.Context, sessionID string, pendingOnly bool) ([]*models.PermissionRequest, error) {
	query := `SELECT ` + permissionColumns + ` FROM permission_requests WHERE session_id = ?`
	args := []any{sessionID}
	if pendingOnly {
		query += ` AND status = ?`
		args = append(args, string(models.PermissionStatusPending))
	}
	query += ` ORDER BY created_at, id`

	var reqs []*models.PermissionRequest
	if err := r.pool.Reader().SelectContext(ctx, &reqs, r.rebind(query), args...); err != nil {
		return nil, mapError(err)
	}
	return reqs, nil
}

// ResolvePermissionRequest records the first decision. The status guard
// makes later decisions fail with ErrConflict.
func (r *Repository) ResolvePermissionRequest(ctx context.Context, id string, behavior models.PermissionBehavior, scope models.PermissionScope, decidedBy string) error {
	now := time.Now().UTC()
	query := r.rebind(`UPDATE permission_requests
		SET status = ?, behavior = ?, scope = ?, decided_by = ?, resolved_at = ?
		WHERE id = ? AND status = ?`)
	res, err := r.pool.Writer().ExecContext(ctx, query,
		string(models.PermissionStatusResolved), string(behavior), string(scope),
		decidedBy, now, id, string(models.PermissionStatusPending))
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := r.GetPermissionRequest(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: permission request %s already decided", repository.ErrConflict, id)
	}
	return nil
}

// ExpirePermissionRequest marks a pending request as expired on timeout.
func (r *Repository) ExpirePermissionRequest(ctx context.Context, id string) error {
	now := time.Now().UTC()
	query := r.rebind(`UPDATE permission_requests
		SET status = ?, behavior = ?, resolved_at = ?
		WHERE id = ? AND status = ?`)
	_, err := r.pool.Writer().ExecContext(ctx, query,
		string(models.PermissionStatusExpired), string(models.PermissionDeny), now,
		id, string(models.PermissionStatusPending))
	return mapError(err)
}
