// Package worktree shells out to git to maintain the shadow worktree
// tree under the daemon's state directory.
package worktree

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/agor-sh/agor/internal/common/config"
	"github.com/agor-sh/agor/internal/common/logger"
)

// Errors surfaced to the service layer.
var (
	ErrRepoNotGit       = errors.New("path is not a git repository")
	ErrInvalidRef       = errors.New("ref does not exist in repository")
	ErrGitCommandFailed = errors.New("git command failed")
)

// Manager creates and removes git worktrees. Operations on the same
// repository are serialized; git worktree bookkeeping is not safe for
// concurrent mutation of one repo.
type Manager struct {
	cfg    config.WorktreeConfig
	logger *logger.Logger

	repoLockMu sync.Mutex
	repoLocks  map[string]*sync.Mutex
}

// NewManager creates a manager and ensures the base directory exists.
func NewManager(cfg config.WorktreeConfig, log *logger.Logger) (*Manager, error) {
	if cfg.BasePath == "" {
		return nil, fmt.Errorf("worktree base path not configured")
	}
	if err := os.MkdirAll(cfg.BasePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create worktree base directory: %w", err)
	}
	return &Manager{
		cfg:       cfg,
		logger:    log.WithFields(zap.String("component", "worktree-manager")),
		repoLocks: make(map[string]*sync.Mutex),
	}, nil
}

// repoLock returns the mutex serializing operations on one repository.
func (m *Manager) repoLock(repoPath string) *sync.Mutex {
	m.repoLockMu.Lock()
	defer m.repoLockMu.Unlock()
	if lock, ok := m.repoLocks[repoPath]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	m.repoLocks[repoPath] = lock
	return lock
}

// AddWorktree creates a worktree for the ref on a fresh branch and
// returns its path. repoID is the path of the source repository.
func (m *Manager) AddWorktree(ctx context.Context, repoID, ref, name string) (string, error) {
	if !isGitRepo(repoID) {
		return "", fmt.Errorf("%w: %s", ErrRepoNotGit, repoID)
	}
	if !m.refExists(ctx, repoID, ref) {
		return "", fmt.Errorf("%w: %s", ErrInvalidRef, ref)
	}

	lock := m.repoLock(repoID)
	lock.Lock()
	defer lock.Unlock()

	dirName := fmt.Sprintf("%s_%s", sanitize(filepath.Base(repoID)), name)
	path := filepath.Join(m.cfg.BasePath, dirName)
	branch := "agor/" + name

	cmd := exec.CommandContext(ctx, "git", "worktree", "add", "-b", branch, path, ref)
	cmd.Dir = repoID
	if output, err := cmd.CombinedOutput(); err != nil {
		m.logger.Error("git worktree add failed",
			zap.String("repo", repoID),
			zap.String("ref", ref),
			zap.String("output", string(output)),
			zap.Error(err))
		return "", fmt.Errorf("%w: %s", ErrGitCommandFailed, strings.TrimSpace(string(output)))
	}

	m.logger.Info("created worktree",
		zap.String("repo", repoID),
		zap.String("ref", ref),
		zap.String("path", path),
		zap.String("branch", branch))
	return path, nil
}

// RemoveWorktree deletes the worktree directory and prunes the git
// bookkeeping. Falls back to a plain directory removal when git refuses.
func (m *Manager) RemoveWorktree(ctx context.Context, path string) error {
	if !m.cfg.CleanupOnRemove {
		m.logger.Info("worktree cleanup disabled, leaving directory", zap.String("path", path))
		return nil
	}

	repoPath, err := resolveRepo(path)
	if err != nil {
		// No git metadata left; just remove the directory.
		return os.RemoveAll(path)
	}

	lock := m.repoLock(repoPath)
	lock.Lock()
	defer lock.Unlock()

	cmd := exec.CommandContext(ctx, "git", "worktree", "remove", "--force", path)
	cmd.Dir = repoPath
	if output, err := cmd.CombinedOutput(); err != nil {
		m.logger.Debug("git worktree remove failed, falling back to rm",
			zap.String("output", string(output)),
			zap.Error(err))
		if err := os.RemoveAll(path); err != nil {
			return err
		}
		prune := exec.CommandContext(ctx, "git", "worktree", "prune")
		prune.Dir = repoPath
		if err := prune.Run(); err != nil {
			m.logger.Debug("git worktree prune failed", zap.Error(err))
		}
	}

	m.logger.Info("removed worktree", zap.String("path", path))
	return nil
}

// refExists checks that the ref resolves in the repository.
func (m *Manager) refExists(ctx context.Context, repoPath, ref string) bool {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--verify", ref)
	cmd.Dir = repoPath
	return cmd.Run() == nil
}

// isGitRepo checks for .git, which is a directory in a regular repo and
// a file inside a worktree.
func isGitRepo(path string) bool {
	info, err := os.Stat(filepath.Join(path, ".git"))
	if err != nil {
		return false
	}
	return info.IsDir() || info.Mode().IsRegular()
}

// resolveRepo finds the source repository of a worktree by reading its
// .git file ("gitdir: <repo>/.git/worktrees/<name>").
func resolveRepo(worktreePath string) (string, error) {
	content, err := os.ReadFile(filepath.Join(worktreePath, ".git"))
	if err != nil {
		return "", err
	}
	line := strings.TrimSpace(string(content))
	gitdir, found := strings.CutPrefix(line, "gitdir:")
	if !found {
		return "", fmt.Errorf("unexpected .git file in %s", worktreePath)
	}
	gitdir = strings.TrimSpace(gitdir)

	// <repo>/.git/worktrees/<name> -> <repo>
	marker := string(filepath.Separator) + ".git" + string(filepath.Separator) + "worktrees" + string(filepath.Separator)
	idx := strings.Index(gitdir, marker)
	if idx < 0 {
		return "", fmt.Errorf("cannot resolve repository from gitdir %s", gitdir)
	}
	return gitdir[:idx], nil
}

// sanitize keeps directory names shell and filesystem friendly.
func sanitize(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}
