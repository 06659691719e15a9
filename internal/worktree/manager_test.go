package worktree

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agor-sh/agor/internal/common/config"
	"github.com/agor-sh/agor/internal/common/logger"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console", OutputPath: "stderr"})
	require.NoError(t, err)
	m, err := NewManager(config.WorktreeConfig{
		BasePath:        filepath.Join(t.TempDir(), "worktrees"),
		DefaultBranch:   "main",
		CleanupOnRemove: true,
	}, log)
	require.NoError(t, err)
	return m
}

// initRepo creates a git repository with one commit on main.
func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@test",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@test",
		)
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}
	run("init", "-b", "main")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README"), []byte("hi\n"), 0o644))
	run("add", ".")
	run("commit", "-m", "init")
	return dir
}

func TestAddWorktree_CreatesBranchAndDir(t *testing.T) {
	m := newTestManager(t)
	repo := initRepo(t)

	path, err := m.AddWorktree(context.Background(), repo, "main", "abc12345")
	require.NoError(t, err)
	require.DirExists(t, path)
	require.FileExists(t, filepath.Join(path, "README"))

	// The worktree carries a .git file pointing back at the repo.
	resolved, err := resolveRepo(path)
	require.NoError(t, err)
	require.Equal(t, repo, resolved)
}

func TestAddWorktree_RejectsNonRepo(t *testing.T) {
	m := newTestManager(t)

	_, err := m.AddWorktree(context.Background(), t.TempDir(), "main", "abc12345")
	require.ErrorIs(t, err, ErrRepoNotGit)
}

func TestAddWorktree_RejectsUnknownRef(t *testing.T) {
	m := newTestManager(t)
	repo := initRepo(t)

	_, err := m.AddWorktree(context.Background(), repo, "no-such-branch", "abc12345")
	require.ErrorIs(t, err, ErrInvalidRef)
}

func TestRemoveWorktree_CleansUp(t *testing.T) {
	m := newTestManager(t)
	repo := initRepo(t)

	path, err := m.AddWorktree(context.Background(), repo, "main", "abc12345")
	require.NoError(t, err)

	require.NoError(t, m.RemoveWorktree(context.Background(), path))
	require.NoDirExists(t, path)
}

func TestRemoveWorktree_DisabledLeavesDirectory(t *testing.T) {
	m := newTestManager(t)
	m.cfg.CleanupOnRemove = false
	repo := initRepo(t)

	path, err := m.AddWorktree(context.Background(), repo, "main", "abc12345")
	require.NoError(t, err)

	require.NoError(t, m.RemoveWorktree(context.Background(), path))
	require.DirExists(t, path)
}

func TestSanitize(t *testing.T) {
	require.Equal(t, "my-repo_x", sanitize("My Repo_x"))
	require.Equal(t, "a-b", sanitize("-a.b-"))
}
