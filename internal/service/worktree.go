package service

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agor-sh/agor/internal/common/logger"
	"github.com/agor-sh/agor/internal/events"
	"github.com/agor-sh/agor/internal/events/bus"
	"github.com/agor-sh/agor/internal/store/models"
	"github.com/agor-sh/agor/internal/store/repository"
)

// GitManager performs the actual git worktree plumbing on disk.
// Implemented by the worktree package; split out so service tests can
// run without a git checkout.
type GitManager interface {
	// AddWorktree creates a git worktree for the ref and returns its path.
	AddWorktree(ctx context.Context, repoID, ref, name string) (string, error)
	// RemoveWorktree deletes the worktree directory and git bookkeeping.
	RemoveWorktree(ctx context.Context, path string) error
}

// WorktreeService owns worktree lifecycle; deletion cascades to the
// sessions that reference the worktree.
type WorktreeService struct {
	repo   repository.Repository
	git    GitManager
	pub    *publisher
	logger *logger.Logger
}

// NewWorktreeService creates a worktree service.
func NewWorktreeService(repo repository.Repository, git GitManager, eventBus bus.EventBus, log *logger.Logger) *WorktreeService {
	return &WorktreeService{
		repo:   repo,
		git:    git,
		pub:    &publisher{bus: eventBus, logger: log},
		logger: log.WithFields(zap.String("component", "worktree-service")),
	}
}

// Create makes a git worktree on disk and records it.
func (s *WorktreeService) Create(ctx context.Context, p Principal, repoID, ref string) (*models.Worktree, error) {
	if repoID == "" {
		return nil, NewError(KindValidation, "repo_id required")
	}
	if ref == "" {
		ref = "main"
	}

	id := uuid.New().String()
	path, err := s.git.AddWorktree(ctx, repoID, ref, id[:8])
	if err != nil {
		return nil, WrapError(KindTransient, err, "git worktree add failed")
	}

	wt := &models.Worktree{
		ID:        id,
		RepoID:    repoID,
		Path:      path,
		Ref:       ref,
		CreatedBy: p.UserID,
	}
	if err := s.repo.CreateWorktree(ctx, wt); err != nil {
		// Undo the disk state if the record failed.
		if rmErr := s.git.RemoveWorktree(ctx, path); rmErr != nil {
			s.logger.Error("failed to clean up worktree after insert failure",
				zap.String("path", path), zap.Error(rmErr))
		}
		return nil, FromRepository(err)
	}

	s.pub.publish(ctx, events.SubjectWorktreeCreated, events.TypeWorktreeCreated, "worktrees", "created", wt)
	return wt, nil
}

// Get loads a worktree.
func (s *WorktreeService) Get(ctx context.Context, p Principal, id string) (*models.Worktree, error) {
	wt, err := s.repo.GetWorktree(ctx, id)
	if err != nil {
		return nil, FromRepository(err)
	}
	return wt, nil
}

// List returns all worktrees.
func (s *WorktreeService) List(ctx context.Context, p Principal) ([]*models.Worktree, error) {
	wts, err := s.repo.ListWorktrees(ctx)
	if err != nil {
		return nil, FromRepository(err)
	}
	return wts, nil
}

// Remove deletes the worktree record (sessions cascade) and then the
// directory on disk. Busy sessions block the removal.
func (s *WorktreeService) Remove(ctx context.Context, p Principal, id string) error {
	wt, err := s.repo.GetWorktree(ctx, id)
	if err != nil {
		return FromRepository(err)
	}

	sessions, err := s.repo.ListSessions(ctx, repository.SessionFilter{WorktreeID: id})
	if err != nil {
		return FromRepository(err)
	}
	for _, session := range sessions {
		if session.IsBusy() {
			return NewError(KindConflict, "session %s is running in this worktree", session.ID)
		}
	}

	if err := s.repo.DeleteWorktree(ctx, id); err != nil {
		return FromRepository(err)
	}
	if err := s.git.RemoveWorktree(ctx, wt.Path); err != nil {
		s.logger.Warn("worktree record removed but directory cleanup failed",
			zap.String("path", wt.Path), zap.Error(err))
	}

	s.pub.publish(ctx, events.SubjectWorktreeRemoved, events.TypeWorktreeRemoved, "worktrees", "removed", wt)
	return nil
}
