package mcpresolve

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agor-sh/agor/internal/common/config"
	"github.com/agor-sh/agor/internal/common/logger"
	"github.com/agor-sh/agor/internal/db"
	"github.com/agor-sh/agor/internal/store/models"
	"github.com/agor-sh/agor/internal/store/repository"
	sqlrepo "github.com/agor-sh/agor/internal/store/repository/sql"
)

func setup(t *testing.T) (*Resolver, repository.Repository) {
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

	return NewResolver(repo, log), repo
}

func seedSession(t *testing.T, repo repository.Repository, owner string) *models.Session {
	t.Helper()
	ctx := context.Background()
	wt := &models.Worktree{
		ID: "wt-" + owner, RepoID: "r", Path: "/tmp/" + owner, Ref: "main", CreatedBy: owner,
	}
	if _, err := repo.GetWorktree(ctx, wt.ID); err != nil {
		require.NoError(t, repo.CreateWorktree(ctx, wt))
	}
	s := &models.Session{
		ID: models.NewSessionID(), CreatedBy: owner, Tool: models.ToolClaudeCode,
		WorktreeID: wt.ID, WorkingDir: wt.Path,
	}
	require.NoError(t, repo.CreateSession(ctx, s))
	return s
}

func TestResolve_IsolatedOverridesGlobal(t *testing.T) {
	resolver, repo := setup(t)
	ctx := context.Background()

	s1 := seedSession(t, repo, "u-1")
	s2 := seedSession(t, repo, "u-1")

	global := &models.MCPServer{
		ID: "m-global", Name: "fs", Transport: models.MCPTransportStdio,
		Scope: models.MCPScopeGlobal, OwnerID: "u-1", Enabled: true,
		Source: models.MCPSourceUser, Command: "mcp-fs",
	}
	scoped := &models.MCPServer{
		ID: "m-scoped", Name: "db", Transport: models.MCPTransportHTTP,
		Scope: models.MCPScopeSession, Enabled: true,
		Source: models.MCPSourceUser, URL: "http://localhost:9000",
	}
	require.NoError(t, repo.CreateMCPServer(ctx, global))
	require.NoError(t, repo.CreateMCPServer(ctx, scoped))
	require.NoError(t, repo.AssignMCPServer(ctx, &models.SessionMCPAssignment{
		SessionID: s1.ID, MCPServerID: scoped.ID, Enabled: true,
	}))

	r1, err := resolver.Resolve(ctx, s1, nil)
	require.NoError(t, err)
	require.Len(t, r1, 1)
	assert.Equal(t, "m-scoped", r1[0].Server.ID)
	assert.Equal(t, ModeIsolated, r1[0].Mode)

	r2, err := resolver.Resolve(ctx, s2, nil)
	require.NoError(t, err)
	require.Len(t, r2, 1)
	assert.Equal(t, "m-global", r2[0].Server.ID)
	assert.Equal(t, ModeHierarchical, r2[0].Mode)
}

func TestResolve_InvalidTemplateOmitsServer(t *testing.T) {
	resolver, repo := setup(t)
	ctx := context.Background()
	s := seedSession(t, repo, "u-1")

	require.NoError(t, repo.CreateMCPServer(ctx, &models.MCPServer{
		ID: "m-1", Name: "api", Transport: models.MCPTransportHTTP,
		Scope: models.MCPScopeGlobal, OwnerID: "u-1", Enabled: true,
		Source: models.MCPSourceUser,
		URL:    "https://api.example.com/{{ user.env.MISSING_KEY }}",
	}))

	resolved, err := resolver.Resolve(ctx, s, map[string]string{})
	require.NoError(t, err)
	assert.Empty(t, resolved, "server with unresolvable url must be omitted")
}

func TestRenderServer(t *testing.T) {
	env := map[string]string{"API_TOKEN": "s3cret", "REGION": "eu"}

	server := &models.MCPServer{
		Name:      "api",
		Transport: models.MCPTransportHTTP,
		URL:       "https://{{ user.env.REGION }}.example.com",
		Auth:      &models.MCPAuth{Type: "bearer", Token: "{{ user.env.API_TOKEN }}"},
		Env: map[string]string{
			"TOKEN":  "{{ user.env.API_TOKEN }}",
			"ABSENT": "{{ user.env.NOT_ALLOWED }}",
			"PLAIN":  "literal",
		},
	}

	rendered, err := RenderServer(server, env)
	require.NoError(t, err)
	assert.Equal(t, "https://eu.example.com", rendered.URL)
	assert.Equal(t, "s3cret", rendered.Auth.Token)
	assert.Equal(t, "s3cret", rendered.Env["TOKEN"])
	assert.Equal(t, "literal", rendered.Env["PLAIN"])
	// A missing optional env template drops only that entry.
	_, ok := rendered.Env["ABSENT"]
	assert.False(t, ok)

	// The original definition keeps its placeholders.
	assert.Equal(t, "{{ user.env.API_TOKEN }}", server.Auth.Token)
}

func TestRenderServer_RequiredFieldFails(t *testing.T) {
	_, err := RenderServer(&models.MCPServer{
		URL: "https://example.com/{{ user.env.NOPE }}",
	}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOPE")
}

func TestAllowedUserEnv(t *testing.T) {
	lookup := func(key string) (string, bool) {
		vals := map[string]string{"A": "1", "B": "2", "C": "3"}
		v, ok := vals[key]
		return v, ok
	}

	env := AllowedUserEnv("A, C ,MISSING", lookup)
	assert.Equal(t, map[string]string{"A": "1", "C": "3"}, env)

	assert.Empty(t, AllowedUserEnv("", lookup))
}
