package permission

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agor-sh/agor/internal/common/config"
	"github.com/agor-sh/agor/internal/common/logger"
	"github.com/agor-sh/agor/internal/db"
	"github.com/agor-sh/agor/internal/events/bus"
	"github.com/agor-sh/agor/internal/service"
	"github.com/agor-sh/agor/internal/store/models"
	"github.com/agor-sh/agor/internal/store/repository"
	sqlrepo "github.com/agor-sh/agor/internal/store/repository/sql"
)

func setup(t *testing.T) (*Arbiter, repository.Repository, *models.Session) {
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

	ctx := context.Background()
	wt := &models.Worktree{ID: "wt-1", RepoID: "r", Path: "/tmp/wt", Ref: "main", CreatedBy: "u-1"}
	require.NoError(t, repo.CreateWorktree(ctx, wt))
	session := &models.Session{
		ID: models.NewSessionID(), CreatedBy: "u-1", Tool: models.ToolClaudeCode,
		WorktreeID: wt.ID, WorkingDir: wt.Path, AllowedTools: []string{"read_file"},
	}
	require.NoError(t, repo.CreateSession(ctx, session))

	arbiter := NewArbiter(repo, bus.NewMemoryEventBus(log), time.Minute, log)
	return arbiter, repo, session
}

func owner() service.Principal {
	return service.Principal{UserID: "u-1", Role: models.RoleMember}
}

func pendingRequestID(t *testing.T, repo repository.Repository, sessionID string) string {
	t.Helper()
	req := &models.PermissionRequest{
		ID: "req-1", SessionID: sessionID, TaskID: "t-1", ToolName: "bash",
	}
	require.NoError(t, repo.CreatePermissionRequest(context.Background(), req))
	return req.ID
}

func TestArbiter_AllowUnblocksRequest(t *testing.T) {
	arbiter, _, session := setup(t)
	ctx := context.Background()

	result := make(chan decision, 1)
	go func() {
		behavior, scope, err := arbiter.Request(ctx, session.ID, "t-1", "bash", "ls")
		assert.NoError(t, err)
		result <- decision{behavior: behavior, scope: scope}
	}()

	// Wait for the request to land, then decide it.
	var reqID string
	require.Eventually(t, func() bool {
		arbiter.mu.Lock()
		defer arbiter.mu.Unlock()
		for id := range arbiter.waiters {
			reqID = id
			return true
		}
		return false
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, arbiter.Decide(ctx, owner(), reqID, models.PermissionAllow, models.PermissionScopeTask))

	select {
	case d := <-result:
		assert.Equal(t, models.PermissionAllow, d.behavior)
		assert.Equal(t, models.PermissionScopeTask, d.scope)
	case <-time.After(time.Second):
		t.Fatal("request did not unblock")
	}
}

func TestArbiter_FirstDecisionWins(t *testing.T) {
	arbiter, repo, session := setup(t)
	ctx := context.Background()
	reqID := pendingRequestID(t, repo, session.ID)

	require.NoError(t, arbiter.Decide(ctx, owner(), reqID, models.PermissionDeny, models.PermissionScopeOnce))

	err := arbiter.Decide(ctx, owner(), reqID, models.PermissionAllow, models.PermissionScopeOnce)
	require.Error(t, err)
	assert.Equal(t, service.KindConflict, service.KindOf(err))
}

func TestArbiter_SessionScopeExtendsAllowList(t *testing.T) {
	arbiter, repo, session := setup(t)
	ctx := context.Background()
	reqID := pendingRequestID(t, repo, session.ID)

	require.NoError(t, arbiter.Decide(ctx, owner(), reqID, models.PermissionAllow, models.PermissionScopeSession))

	got, err := repo.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Contains(t, got.AllowedTools, "bash")
	assert.Contains(t, got.AllowedTools, "read_file")
}

func TestArbiter_DenyDoesNotExtendAllowList(t *testing.T) {
	arbiter, repo, session := setup(t)
	ctx := context.Background()
	reqID := pendingRequestID(t, repo, session.ID)

	require.NoError(t, arbiter.Decide(ctx, owner(), reqID, models.PermissionDeny, models.PermissionScopeSession))

	got, err := repo.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.NotContains(t, got.AllowedTools, "bash")
}

func TestArbiter_ForeignUserForbidden(t *testing.T) {
	arbiter, repo, session := setup(t)
	reqID := pendingRequestID(t, repo, session.ID)

	err := arbiter.Decide(context.Background(),
		service.Principal{UserID: "intruder", Role: models.RoleMember},
		reqID, models.PermissionAllow, models.PermissionScopeOnce)
	require.Error(t, err)
	assert.Equal(t, service.KindForbidden, service.KindOf(err))
}

func TestArbiter_TimeoutDeniesAndExpires(t *testing.T) {
	arbiter, repo, session := setup(t)
	arbiter.timeout = 50 * time.Millisecond // floor bypassed for test speed
	ctx := context.Background()

	behavior, scope, err := arbiter.Request(ctx, session.ID, "t-1", "bash", "ls")
	require.NoError(t, err)
	assert.Equal(t, models.PermissionDeny, behavior)
	assert.Equal(t, models.PermissionScopeOnce, scope)

	reqs, err := repo.ListPermissionRequests(ctx, session.ID, false)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, models.PermissionStatusExpired, reqs[0].Status)
	assert.Equal(t, models.PermissionDeny, reqs[0].Behavior)
}

func TestNewArbiter_EnforcesMinimumTimeout(t *testing.T) {
	arbiter, _, _ := setup(t)
	assert.GreaterOrEqual(t, arbiter.timeout, minTimeout)

	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console", OutputPath: "stderr"})
	require.NoError(t, err)
	short := NewArbiter(nil, bus.NewMemoryEventBus(log), time.Second, log)
	assert.Equal(t, minTimeout, short.timeout)
}
