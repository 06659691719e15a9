package service

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/agor-sh/agor/internal/store/models"
	"github.com/agor-sh/agor/internal/store/repository"
)

// UserService manages identities.
type UserService struct {
	repo repository.Repository
}

// NewUserService creates a user service.
func NewUserService(repo repository.Repository) *UserService {
	return &UserService{repo: repo}
}

// EnsureUser looks up a username, creating the user on first login.
func (s *UserService) EnsureUser(ctx context.Context, username string) (*models.User, error) {
	user, err := s.repo.GetUserByUsername(ctx, username)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, FromRepository(err)
	}

	user = &models.User{
		ID:       uuid.New().String(),
		Username: username,
		Role:     models.RoleMember,
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		// Concurrent first login: fetch the winner.
		if errors.Is(err, repository.ErrConflict) {
			return s.repo.GetUserByUsername(ctx, username)
		}
		return nil, FromRepository(err)
	}
	return user, nil
}

// Get loads a user by id.
func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return nil, FromRepository(err)
	}
	return user, nil
}

// List returns all users.
func (s *UserService) List(ctx context.Context) ([]*models.User, error) {
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, FromRepository(err)
	}
	return users, nil
}
