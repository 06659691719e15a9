// Package adapter bridges the daemon's message model to the vendor agent
// SDKs. One adapter per tool family translates a prompt request into a
// headless subprocess run and streams the vendor's events back through a
// fixed set of callbacks.
package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/agor-sh/agor/internal/store/models"
)

// Capabilities describes what a vendor family supports.
type Capabilities struct {
	SupportsStreaming     bool `json:"supports_streaming"`
	SupportsResume        bool `json:"supports_resume"`
	SupportsSessionImport bool `json:"supports_session_import"`
	SupportsPermissions   bool `json:"supports_permission_hooks"`
	SupportsMCP           bool `json:"supports_mcp"`
}

// Usage is the token accounting a vendor reported for a run. Absent counts
// stay zero; nothing is estimated.
type Usage struct {
	InputTokens  int
	CachedTokens int
	OutputTokens int
}

// Callbacks receive the vendor event stream. All callbacks run on the
// adapter's consume goroutine; a returned error aborts the run.
type Callbacks struct {
	// OnText delivers assistant text. Delta marks a chunk to accumulate
	// onto the previous message.
	OnText func(ctx context.Context, text string, delta bool) error
	// OnToolUse delivers a tool invocation.
	OnToolUse func(ctx context.Context, id, name string, input map[string]any) error
	// OnToolResult delivers a tool result linked to a prior tool use.
	OnToolResult func(ctx context.Context, toolUseID, output string, isError bool) error
	// OnPermissionRequest is called synchronously when the vendor invokes a
	// tool absent from the session allow-list. Returning allowed=false
	// aborts the run. A scope beyond once widens the run's allow-list so
	// the tool does not re-prompt.
	OnPermissionRequest func(ctx context.Context, toolName, inputPreview string) (allowed bool, scope models.PermissionScope, err error)
	// OnVendorSessionID delivers the vendor resume token once known.
	OnVendorSessionID func(ctx context.Context, id string) error
	// OnUsage delivers token usage updates.
	OnUsage func(ctx context.Context, usage Usage) error
}

// Request is one prompt run against a vendor agent.
type Request struct {
	Prompt         string
	WorkDir        string
	Model          models.ModelConfig
	ResumeToken    string
	AllowedTools   []string
	PermissionMode string
	MCPServers     []*models.MCPServer
	Timeout        time.Duration
}

// toolAllowed reports whether the tool is on the request allow-list.
func (r *Request) toolAllowed(name string) bool {
	for _, t := range r.AllowedTools {
		if t == name {
			return true
		}
	}
	return false
}

// allowTool adds a tool to the request allow-list for the rest of the run.
func (r *Request) allowTool(name string) {
	if !r.toolAllowed(name) {
		r.AllowedTools = append(r.AllowedTools, name)
	}
}

// skipPermissions reports whether permission gating is disabled for this run.
func (r *Request) skipPermissions() bool {
	return r.PermissionMode == "bypassPermissions" || r.PermissionMode == "skip"
}

// Result is the terminal outcome of a successful run.
type Result struct {
	// VendorSessionID is the resume token for the vendor conversation.
	VendorSessionID string
	// ResolvedModel is the concrete model the vendor reported using.
	ResolvedModel string
	// Usage is the accumulated token accounting.
	Usage Usage
	// FinalText is the last assistant text of the turn.
	FinalText string
}

// Adapter drives one vendor family.
type Adapter interface {
	Family() models.ToolFamily
	Capabilities() Capabilities
	// ExecuteTask runs one prompt to completion, streaming progress through
	// the callbacks. Cancelling ctx aborts the vendor subprocess.
	ExecuteTask(ctx context.Context, req Request, cb Callbacks) (*Result, error)
}

// ForFamily returns the adapter for a tool family.
func ForFamily(family models.ToolFamily) (Adapter, error) {
	switch family {
	case models.ToolClaudeCode:
		return &ClaudeAdapter{}, nil
	case models.ToolCodex:
		return &CodexAdapter{}, nil
	case models.ToolGemini:
		return &GeminiAdapter{}, nil
	case models.ToolOpenCode:
		return &OpenCodeAdapter{}, nil
	default:
		return nil, fmt.Errorf("adapter: unsupported tool family %q", family)
	}
}
