package sql

import (
	"context"
	"fmt"
	"time"

	"github.com/agor-sh/agor/internal/store/models"
	"github.com/agor-sh/agor/internal/store/repository"
)

const userColumns = `id, username, role, created_at, updated_at`

// CreateUser inserts a user; usernames are unique.
func (r *Repository) CreateUser(ctx context.Context, u *models.User) error {
	if u.Username == "" {
		return fmt.Errorf("%w: username required", repository.ErrValidation)
	}
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	if u.Role == "" {
		u.Role = models.RoleMember
	}

	query := r.rebind(`INSERT INTO users (` + userColumns + `) VALUES (?, ?, ?, ?, ?)`)
	_, err := r.pool.Writer().ExecContext(ctx, query, u.ID, u.Username, u.Role, u.CreatedAt, u.UpdatedAt)
	return mapError(err)
}

// GetUser loads a user by id.
func (r *Repository) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	query := r.rebind(`SELECT ` + userColumns + ` FROM users WHERE id = ?`)
	if err := r.pool.Reader().GetContext(ctx, &u, query, id); err != nil {
		return nil, mapError(err)
	}
	return &u, nil
}

// GetUserByUsername loads a user by username.
func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	query := r.rebind(`SELECT ` + userColumns + ` FROM users WHERE username = ?`)
	if err := r.pool.Reader().GetContext(ctx, &u, query, username); err != nil {
		return nil, mapError(err)
	}
	return &u, nil
}

// ListUsers returns all users.
func (r *Repository) ListUsers(ctx context.Context) ([]*models.User, error) {
	var users []*models.User
	if err := r.pool.Reader().SelectContext(ctx, &users,
		`SELECT `+userColumns+` FROM users ORDER BY username`); err != nil {
		return nil, mapError(err)
	}
	return users, nil
}
