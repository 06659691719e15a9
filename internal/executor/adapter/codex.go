package adapter

import (
	"context"
	"fmt"

	"github.com/agor-sh/agor/internal/store/models"
	"github.com/agor-sh/agor/pkg/codex"
)

// CodexAdapter drives the Codex CLI in thread mode. The vendor resume token
// is the thread id.
type CodexAdapter struct{}

// Family implements Adapter.
func (a *CodexAdapter) Family() models.ToolFamily { return models.ToolCodex }

// Capabilities implements Adapter.
func (a *CodexAdapter) Capabilities() Capabilities {
	return Capabilities{
		SupportsStreaming:     true,
		SupportsResume:        true,
		SupportsSessionImport: true,
		SupportsPermissions:   true,
		SupportsMCP:           true,
	}
}

// ExecuteTask implements Adapter.
func (a *CodexAdapter) ExecuteTask(ctx context.Context, req Request, cb Callbacks) (*Result, error) {
	proc, err := codex.Spawn(ctx, codex.Config{
		Prompt:          req.Prompt,
		WorkDir:         req.WorkDir,
		Model:           req.Model.Model,
		ThreadID:        req.ResumeToken,
		SkipPermissions: req.skipPermissions(),
		MCPConfig:       codexMCPConfig(req.MCPServers),
		Timeout:         req.Timeout,
	})
	if err != nil {
		return nil, err
	}
	return consume(ctx, proc, &req, cb)
}

// codexMCPConfig renders the first URL-backed server as a -c TOML override.
// The exec subcommand takes one override; stdio servers need the user's own
// codex config and are skipped here.
func codexMCPConfig(servers []*models.MCPServer) string {
	for _, server := range servers {
		if server.URL != "" {
			return fmt.Sprintf("mcp_servers.%s={url=%q}", server.Name, server.URL)
		}
	}
	return ""
}
