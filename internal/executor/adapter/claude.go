package adapter

import (
	"context"
	"encoding/json"

	"github.com/agor-sh/agor/internal/store/models"
	"github.com/agor-sh/agor/pkg/claudecode"
)

// ClaudeAdapter drives the Claude Code CLI.
type ClaudeAdapter struct{}

// Family implements Adapter.
func (a *ClaudeAdapter) Family() models.ToolFamily { return models.ToolClaudeCode }

// Capabilities implements Adapter.
func (a *ClaudeAdapter) Capabilities() Capabilities {
	return Capabilities{
		SupportsStreaming:     true,
		SupportsResume:        true,
		SupportsSessionImport: true,
		SupportsPermissions:   true,
		SupportsMCP:           true,
	}
}

// ExecuteTask implements Adapter. The resume token is passed through
// opaquely; allowed tools go to the CLI so it runs them unprompted, and
// anything else is gated through the arbiter callback.
func (a *ClaudeAdapter) ExecuteTask(ctx context.Context, req Request, cb Callbacks) (*Result, error) {
	proc, err := claudecode.Spawn(ctx, claudecode.Config{
		Prompt:          req.Prompt,
		WorkDir:         req.WorkDir,
		Model:           req.Model.Model,
		ResumeToken:     req.ResumeToken,
		AllowedTools:    req.AllowedTools,
		PermissionMode:  req.PermissionMode,
		SkipPermissions: req.skipPermissions(),
		MCPConfigJSON:   claudeMCPConfig(req.MCPServers),
		Timeout:         req.Timeout,
	})
	if err != nil {
		return nil, err
	}
	return consume(ctx, proc, &req, cb)
}

// claudeMCPConfig renders resolved servers as the CLI's inline mcp-config
// document: {"mcpServers": {name: {command,args,env} | {type:"http",url}}}.
func claudeMCPConfig(servers []*models.MCPServer) string {
	if len(servers) == 0 {
		return ""
	}

	entries := make(map[string]any, len(servers))
	for _, server := range servers {
		if server.URL != "" {
			entry := map[string]any{"type": "http", "url": server.URL}
			if server.Auth != nil && server.Auth.Token != "" {
				entry["headers"] = map[string]string{"Authorization": "Bearer " + server.Auth.Token}
			}
			entries[server.Name] = entry
			continue
		}
		entry := map[string]any{"command": server.Command}
		if len(server.Args) > 0 {
			entry["args"] = server.Args
		}
		if len(server.Env) > 0 {
			entry["env"] = server.Env
		}
		entries[server.Name] = entry
	}

	doc, err := json.Marshal(map[string]any{"mcpServers": entries})
	if err != nil {
		return ""
	}
	return string(doc)
}
