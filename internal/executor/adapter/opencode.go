package adapter

import (
	"context"
	"encoding/json"

	"github.com/agor-sh/agor/internal/store/models"
	"github.com/agor-sh/agor/pkg/opencode"
)

// OpenCodeAdapter drives the OpenCode CLI.
type OpenCodeAdapter struct{}

// Family implements Adapter.
func (a *OpenCodeAdapter) Family() models.ToolFamily { return models.ToolOpenCode }

// Capabilities implements Adapter.
func (a *OpenCodeAdapter) Capabilities() Capabilities {
	return Capabilities{
		SupportsStreaming:   true,
		SupportsResume:      true,
		SupportsPermissions: true,
		SupportsMCP:         true,
	}
}

// ExecuteTask implements Adapter.
func (a *OpenCodeAdapter) ExecuteTask(ctx context.Context, req Request, cb Callbacks) (*Result, error) {
	proc, err := opencode.Spawn(ctx, opencode.Config{
		Prompt:        req.Prompt,
		WorkDir:       req.WorkDir,
		Model:         req.Model.Model,
		SessionID:     req.ResumeToken,
		MCPConfigJSON: opencodeMCPConfig(req.MCPServers),
		Timeout:       req.Timeout,
	})
	if err != nil {
		return nil, err
	}
	return consume(ctx, proc, &req, cb)
}

// opencodeMCPConfig renders resolved servers as an inline OpenCode config
// document for OPENCODE_CONFIG_CONTENT: {"mcp": {name: {type,url|command}}}.
func opencodeMCPConfig(servers []*models.MCPServer) string {
	if len(servers) == 0 {
		return ""
	}

	entries := make(map[string]any, len(servers))
	for _, server := range servers {
		if server.URL != "" {
			entries[server.Name] = map[string]any{"type": "remote", "url": server.URL, "enabled": true}
			continue
		}
		command := append([]string{server.Command}, server.Args...)
		entry := map[string]any{"type": "local", "command": command, "enabled": true}
		if len(server.Env) > 0 {
			entry["environment"] = server.Env
		}
		entries[server.Name] = entry
	}

	doc, err := json.Marshal(map[string]any{"mcp": entries})
	if err != nil {
		return ""
	}
	return string(doc)
}
