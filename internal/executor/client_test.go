package executor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agor-sh/agor/internal/common/logger"
	"github.com/agor-sh/agor/internal/store/models"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console", OutputPath: "stderr"})
	require.NoError(t, err)
	return log
}

// The daemon serializes the rendered servers directly; the client must
// decode that wire shape, not an intermediate resolver struct.
func TestClientMCPConfigDecodesDaemonResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/sessions/s-1/mcp-config", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"servers": []*models.MCPServer{
				{
					ID:        "m-1",
					Name:      "github",
					Transport: models.MCPTransportStdio,
					Scope:     models.MCPScopeGlobal,
					Enabled:   true,
					Command:   "gh-mcp",
					Args:      []string{"serve"},
				},
			},
			"mode": "hierarchical",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", testLogger(t))
	servers, err := c.MCPConfig(context.Background(), "s-1")

	require.NoError(t, err)
	require.Len(t, servers, 1)
	require.NotNil(t, servers[0])
	assert.Equal(t, "github", servers[0].Name)
	assert.Equal(t, models.MCPTransportStdio, servers[0].Transport)
	assert.Equal(t, "gh-mcp", servers[0].Command)
}

func TestClientRequestPermissionCarriesScope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/sessions/s-1/permission-requests", r.URL.Path)
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "WebFetch", req["tool_name"])
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"behavior": "allow", "scope": "session"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", testLogger(t))
	allowed, scope, err := c.RequestPermission(context.Background(), "s-1", "t-1", "WebFetch", "{}")

	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, models.PermissionScopeSession, scope)
}

func TestClientAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "bad", testLogger(t))
	_, err := c.GetSession(context.Background(), "s-1")

	require.ErrorIs(t, err, ErrAuth)
}
