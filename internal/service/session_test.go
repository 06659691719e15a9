package service

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agor-sh/agor/internal/common/config"
	"github.com/agor-sh/agor/internal/common/logger"
	"github.com/agor-sh/agor/internal/db"
	"github.com/agor-sh/agor/internal/events/bus"
	"github.com/agor-sh/agor/internal/store/models"
	"github.com/agor-sh/agor/internal/store/repository"
	sqlrepo "github.com/agor-sh/agor/internal/store/repository/sql"
)

// nopLauncher accepts every launch so service tests run without an
// executor binary.
type nopLauncher struct {
	launched  []string
	cancelled []string
}

func (l *nopLauncher) Launch(ctx context.Context, session *models.Session, task *models.Task) error {
	l.launched = append(l.launched, task.ID)
	return nil
}

func (l *nopLauncher) Cancel(ctx context.Context, taskID string) error {
	l.cancelled = append(l.cancelled, taskID)
	return nil
}

func newSessionService(t *testing.T) (*SessionService, repository.Repository, *nopLauncher) {
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

	launcher := &nopLauncher{}
	svc := NewSessionService(repo, bus.NewMemoryEventBus(log), launcher, log)

	wt := &models.Worktree{ID: "wt-1", RepoID: "/repo", Path: "/repo/wt", Ref: "main", CreatedBy: "u-1"}
	require.NoError(t, repo.CreateWorktree(context.Background(), wt))
	return svc, repo, launcher
}

func member() Principal {
	return Principal{UserID: "u-1", Role: models.RoleMember}
}

func seedSession(t *testing.T, svc *SessionService) *models.Session {
	t.Helper()
	session, err := svc.Create(context.Background(), member(), CreateSessionRequest{
		Title:        "refactor parser",
		Tool:         models.ToolClaudeCode,
		WorktreeID:   "wt-1",
		AllowedTools: []string{"Read", "Grep"},
	})
	require.NoError(t, err)
	return session
}

// finishRunningTask settles the session's single pending task so the
// session is promptable again.
func finishRunningTask(t *testing.T, repo repository.Repository, sessionID string) *models.Task {
	t.Helper()
	ctx := context.Background()
	tasks, err := repo.ListTasks(ctx, sessionID)
	require.NoError(t, err)
	require.NotEmpty(t, tasks)
	task := tasks[len(tasks)-1]
	require.NoError(t, repo.FinishTask(ctx, task.ID, models.TaskStatusCompleted, ""))
	return task
}

func TestPromptRejectsBusySession(t *testing.T) {
	svc, _, launcher := newSessionService(t)
	session := seedSession(t, svc)
	ctx := context.Background()

	_, err := svc.Prompt(ctx, member(), session.ID, "first", PromptOptions{})
	require.NoError(t, err)
	require.Len(t, launcher.launched, 1)

	_, err = svc.Prompt(ctx, member(), session.ID, "second while busy", PromptOptions{})
	require.Error(t, err)
	assert.Equal(t, KindConflict, KindOf(err))
}

func TestPromptRejectsEmptyPrompt(t *testing.T) {
	svc, _, _ := newSessionService(t)
	session := seedSession(t, svc)

	_, err := svc.Prompt(context.Background(), member(), session.ID, "   ", PromptOptions{})
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestPromptPersistsUserMessage(t *testing.T) {
	svc, repo, _ := newSessionService(t)
	session := seedSession(t, svc)
	ctx := context.Background()

	task, err := svc.Prompt(ctx, member(), session.ID, "hello agent", PromptOptions{})
	require.NoError(t, err)

	msgs, err := repo.ListMessages(ctx, session.ID, repository.ListMessagesOptions{AfterIndex: -1})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, 0, msgs[0].Index)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, task.ID, msgs[0].TaskID)
	assert.Equal(t, "hello agent", msgs[0].Content.PlainText())

	got, err := repo.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.MessageCount)
}

func TestForkCreatesSibling(t *testing.T) {
	svc, repo, _ := newSessionService(t)
	origin := seedSession(t, svc)
	ctx := context.Background()

	_, err := svc.Prompt(ctx, member(), origin.ID, "origin work", PromptOptions{})
	require.NoError(t, err)
	task := finishRunningTask(t, repo, origin.ID)

	// Give the origin a resume token to prove the fork drops it.
	require.NoError(t, repo.SetAgentSessionID(ctx, origin.ID, "vendor-123"))

	fork, forkTask, err := svc.Fork(ctx, member(), origin.ID, task.ID, "try another approach")
	require.NoError(t, err)
	require.NotNil(t, forkTask)

	assert.Equal(t, origin.ID, fork.Genealogy.ForkedFrom)
	assert.Equal(t, task.ID, fork.Genealogy.ForkPointTask)
	assert.Empty(t, fork.Genealogy.ParentSession, "fork of a root session has no parent")
	assert.Empty(t, fork.AgentSessionID, "fork starts a fresh vendor conversation")
	assert.Equal(t, origin.WorktreeID, fork.WorktreeID)
	assert.Equal(t, origin.AllowedTools, fork.AllowedTools)
}

func TestSpawnCreatesChildAndGenealogyIsSymmetric(t *testing.T) {
	svc, repo, _ := newSessionService(t)
	parent := seedSession(t, svc)
	ctx := context.Background()

	_, err := svc.Prompt(ctx, member(), parent.ID, "parent work", PromptOptions{})
	require.NoError(t, err)
	task := finishRunningTask(t, repo, parent.ID)

	child, childTask, err := svc.Spawn(ctx, member(), parent.ID, task.ID, "handle the subtask")
	require.NoError(t, err)
	require.NotNil(t, childTask)

	assert.Equal(t, parent.ID, child.Genealogy.ParentSession)
	assert.Equal(t, task.ID, child.Genealogy.SpawnPointTask)

	// The inverse edge is derived on read.
	reloaded, err := svc.Get(ctx, member(), parent.ID)
	require.NoError(t, err)
	assert.Contains(t, reloaded.Genealogy.Children, child.ID)
}

func TestForkOfChildInheritsParent(t *testing.T) {
	svc, repo, _ := newSessionService(t)
	parent := seedSession(t, svc)
	ctx := context.Background()

	_, err := svc.Prompt(ctx, member(), parent.ID, "parent work", PromptOptions{})
	require.NoError(t, err)
	parentTask := finishRunningTask(t, repo, parent.ID)

	child, _, err := svc.Spawn(ctx, member(), parent.ID, parentTask.ID, "child work")
	require.NoError(t, err)
	childTask := finishRunningTask(t, repo, child.ID)

	fork, _, err := svc.Fork(ctx, member(), child.ID, childTask.ID, "sibling of child")
	require.NoError(t, err)

	// A fork is a sibling of its origin, so it keeps the origin's parent.
	assert.Equal(t, parent.ID, fork.Genealogy.ParentSession)
	assert.Equal(t, child.ID, fork.Genealogy.ForkedFrom)
}

func TestForkRejectsForeignTask(t *testing.T) {
	svc, repo, _ := newSessionService(t)
	a := seedSession(t, svc)
	b := seedSession(t, svc)
	ctx := context.Background()

	_, err := svc.Prompt(ctx, member(), a.ID, "work in a", PromptOptions{})
	require.NoError(t, err)
	taskA := finishRunningTask(t, repo, a.ID)

	_, _, err = svc.Fork(ctx, member(), b.ID, taskA.ID, "fork b at a's task")
	require.Error(t, err)
}

func TestCancelIdleSessionIsIdempotent(t *testing.T) {
	svc, repo, launcher := newSessionService(t)
	session := seedSession(t, svc)
	ctx := context.Background()

	_, err := svc.Prompt(ctx, member(), session.ID, "work", PromptOptions{})
	require.NoError(t, err)
	task := finishRunningTask(t, repo, session.ID)

	require.NoError(t, svc.Cancel(ctx, member(), session.ID, task.ID))
	assert.Empty(t, launcher.cancelled, "terminal task needs no launcher cancel")
}

func TestForeignUserCannotAccessSession(t *testing.T) {
	svc, _, _ := newSessionService(t)
	session := seedSession(t, svc)

	intruder := Principal{UserID: "u-2", Role: models.RoleMember}
	_, err := svc.Get(context.Background(), intruder, session.ID)
	require.Error(t, err)
	assert.Equal(t, KindForbidden, KindOf(err))
}
