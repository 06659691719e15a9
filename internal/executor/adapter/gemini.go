package adapter

import (
	"context"

	"github.com/agor-sh/agor/internal/store/models"
	"github.com/agor-sh/agor/pkg/gemini"
)

// GeminiAdapter drives the Gemini CLI.
type GeminiAdapter struct{}

// Family implements Adapter.
func (a *GeminiAdapter) Family() models.ToolFamily { return models.ToolGemini }

// Capabilities implements Adapter. Gemini's headless mode carries no
// per-process MCP wiring and has no native transcript format we import.
func (a *GeminiAdapter) Capabilities() Capabilities {
	return Capabilities{
		SupportsStreaming:   true,
		SupportsResume:      true,
		SupportsPermissions: true,
	}
}

// ExecuteTask implements Adapter.
func (a *GeminiAdapter) ExecuteTask(ctx context.Context, req Request, cb Callbacks) (*Result, error) {
	approvalMode := ""
	if !req.skipPermissions() && req.PermissionMode != "" {
		approvalMode = req.PermissionMode
	}

	proc, err := gemini.Spawn(ctx, gemini.Config{
		Prompt:       req.Prompt,
		WorkDir:      req.WorkDir,
		Model:        req.Model.Model,
		SessionID:    req.ResumeToken,
		ApprovalMode: approvalMode,
		Timeout:      req.Timeout,
	})
	if err != nil {
		return nil, err
	}
	return consume(ctx, proc, &req, cb)
}
