package importer

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

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

func setup(t *testing.T) (*Service, repository.Repository) {
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

	return NewService(repo, bus.NewMemoryEventBus(log), log), repo
}

func owner() service.Principal {
	return service.Principal{UserID: "u-1", Role: models.RoleMember}
}

func TestImportCreatesSessionTaskAndMessages(t *testing.T) {
	svc, repo := setup(t)
	ctx := context.Background()

	tr, err := ParseClaude(strings.NewReader(claudeTranscript))
	require.NoError(t, err)

	session, created, err := svc.Import(ctx, owner(), tr)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.ToolClaudeCode, session.Tool)
	assert.Equal(t, "cc-123", session.AgentSessionID)
	assert.Equal(t, models.SessionStatusIdle, session.Status)
	assert.Equal(t, "/home/dev/proj", session.WorkingDir)

	stored, err := repo.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "cc-123", stored.AgentSessionID)

	tasks, err := repo.ListTasks(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, models.TaskStatusCompleted, tasks[0].Status)
	assert.Equal(t, "fix the flaky test", tasks[0].Prompt)
	assert.Equal(t, 1, tasks[0].ToolUseCount)

	msgs, err := repo.ListMessages(ctx, session.ID, repository.ListMessagesOptions{AfterIndex: -1})
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	for i, m := range msgs {
		assert.Equal(t, i, m.Index, "indexes are dense from zero")
		assert.Equal(t, tasks[0].ID, m.TaskID)
	}

	// tool_result links back to its tool_use
	var useID string
	for _, m := range msgs {
		for _, b := range m.Content {
			if b.Type == models.BlockTypeToolUse {
				useID = b.ID
			}
			if b.Type == models.BlockTypeToolResult {
				assert.Equal(t, useID, b.ToolUseID)
			}
		}
	}
}

func TestImportIsIdempotent(t *testing.T) {
	svc, repo := setup(t)
	ctx := context.Background()

	tr, err := ParseClaude(strings.NewReader(claudeTranscript))
	require.NoError(t, err)

	first, created, err := svc.Import(ctx, owner(), tr)
	require.NoError(t, err)
	require.True(t, created)

	again, err := ParseClaude(strings.NewReader(claudeTranscript))
	require.NoError(t, err)
	second, created, err := svc.Import(ctx, owner(), again)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	msgs, err := repo.ListMessages(ctx, first.ID, repository.ListMessagesOptions{AfterIndex: -1})
	require.NoError(t, err)
	assert.Len(t, msgs, 4, "re-import must not duplicate messages")
}

func TestImportReusesWorktreeByPath(t *testing.T) {
	svc, repo := setup(t)
	ctx := context.Background()

	claude, err := ParseClaude(strings.NewReader(claudeTranscript))
	require.NoError(t, err)
	codex, err := ParseCodex(strings.NewReader(codexRollout))
	require.NoError(t, err)

	s1, _, err := svc.Import(ctx, owner(), claude)
	require.NoError(t, err)
	s2, _, err := svc.Import(ctx, owner(), codex)
	require.NoError(t, err)

	// Same cwd, different vendor: one worktree, two sessions.
	assert.Equal(t, s1.WorktreeID, s2.WorktreeID)
	worktrees, err := repo.ListWorktrees(ctx)
	require.NoError(t, err)
	assert.Len(t, worktrees, 1)
}

func TestImportRejectsEmptyTranscript(t *testing.T) {
	svc, _ := setup(t)
	_, _, err := svc.Import(context.Background(), owner(), &Transcript{
		Tool: models.ToolCodex, VendorSessionID: "th-1", WorkDir: "/w",
	})
	assert.Error(t, err)
}
