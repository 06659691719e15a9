package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agor-sh/agor/internal/auth"
	"github.com/agor-sh/agor/internal/common/config"
	"github.com/agor-sh/agor/internal/common/logger"
	"github.com/agor-sh/agor/internal/db"
	"github.com/agor-sh/agor/internal/events/bus"
	"github.com/agor-sh/agor/internal/store/models"
	"github.com/agor-sh/agor/internal/store/repository"
	sqlrepo "github.com/agor-sh/agor/internal/store/repository/sql"
)

func setup(t *testing.T, executorPath string) (*Scheduler, repository.Repository) {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console", OutputPath: "stderr"})
	require.NoError(t, err)

	pool, err := db.Open(config.DatabaseConfig{
		Dialect: "sqlite",
		Path:    filepath.Join(t.TempDir(), "agor.db"),
	})
	require.NoError(t, err)
	repo, err := sqlrepo.New(pool)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	signer := auth.NewSigner("test-secret")
	cfg := config.SchedulerConfig{
		MaxConcurrent:   2,
		CancelGraceSecs: 1,
		ExecutorPath:    executorPath,
	}
	return New(cfg, repo, bus.NewMemoryEventBus(log), signer, time.Hour, "http://127.0.0.1:7365", log), repo
}

func seedClaimedTask(t *testing.T, repo repository.Repository) (*models.Session, *models.Task) {
	t.Helper()
	ctx := context.Background()
	wt := &models.Worktree{ID: uuid.New().String(), RepoID: "r", Path: t.TempDir(), Ref: "main", CreatedBy: "u-1"}
	require.NoError(t, repo.CreateWorktree(ctx, wt))
	session := &models.Session{
		ID: models.NewSessionID(), CreatedBy: "u-1", Tool: models.ToolClaudeCode,
		WorktreeID: wt.ID, WorkingDir: wt.Path,
	}
	require.NoError(t, repo.CreateSession(ctx, session))
	task := &models.Task{ID: uuid.New().String(), SessionID: session.ID, Prompt: "hello"}
	require.NoError(t, repo.ClaimSessionTask(ctx, task))
	return session, task
}

func TestLaunch_SettlesFailedOnNonZeroExit(t *testing.T) {
	sched, repo := setup(t, "/bin/false")
	session, task := seedClaimedTask(t, repo)

	require.NoError(t, sched.Launch(context.Background(), session, task))

	require.Eventually(t, func() bool {
		got, err := repo.GetTask(context.Background(), task.ID)
		return err == nil && got.Status == models.TaskStatusFailed
	}, 5*time.Second, 20*time.Millisecond)

	got, err := repo.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Contains(t, got.FailureReason, "exited with code 1")
	assert.Equal(t, 0, sched.RunningCount())
}

func TestLaunch_BadExecutorPathReleasesSlot(t *testing.T) {
	sched, repo := setup(t, "/nonexistent/agor-executor")
	session, task := seedClaimedTask(t, repo)

	err := sched.Launch(context.Background(), session, task)
	require.Error(t, err)
	assert.Equal(t, 0, sched.RunningCount())

	// The slot must be reusable after the failure.
	sched.cfg.ExecutorPath = "/bin/true"
	session2, task2 := seedClaimedTask(t, repo)
	assert.NoError(t, sched.Launch(context.Background(), session2, task2))
}

func TestCancel_KillsAfterGrace(t *testing.T) {
	// A stand-in executor that ignores its arguments and never exits on
	// its own, so the grace timer must SIGKILL it.
	script := filepath.Join(t.TempDir(), "stuck-executor")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nsleep 60\n"), 0o755))

	sched, repo := setup(t, script)
	session, task := seedClaimedTask(t, repo)

	require.NoError(t, sched.Launch(context.Background(), session, task))
	require.Equal(t, 1, sched.RunningCount())

	require.NoError(t, sched.Cancel(context.Background(), task.ID))

	require.Eventually(t, func() bool {
		return sched.RunningCount() == 0
	}, 10*time.Second, 50*time.Millisecond)

	got, err := repo.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, got.Status)
	assert.Equal(t, models.FailureReasonCancelled, got.FailureReason)
}

func TestCancel_NotRunningIsIdempotent(t *testing.T) {
	sched, _ := setup(t, "/bin/true")
	assert.NoError(t, sched.Cancel(context.Background(), "no-such-task"))
}

func TestReconcile_OrphansStaleRunningTasks(t *testing.T) {
	sched, repo := setup(t, "/bin/true")
	ctx := context.Background()
	_, task := seedClaimedTask(t, repo)

	// Simulate a daemon restart: the task says running but no process
	// is tracked.
	loaded, err := repo.GetTask(ctx, task.ID)
	require.NoError(t, err)
	loaded.Status = models.TaskStatusRunning
	require.NoError(t, repo.UpdateTask(ctx, loaded))

	require.NoError(t, sched.Reconcile(ctx))

	got, err := repo.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, got.Status)
	assert.Equal(t, models.FailureReasonOrphaned, got.FailureReason)
}
