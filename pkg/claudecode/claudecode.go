// Package claudecode drives the Claude Code CLI in headless stream-json mode.
// Each Spawn runs one prompt turn; the vendor session id from the init event
// is the resume token for continuing the conversation in a later process.
package claudecode

import (
	"context"
	"errors"
	"os/exec"
	"time"

	"github.com/agor-sh/agor/pkg/agent"
)

// ErrNotFound is returned when the claude executable cannot be located.
var ErrNotFound = errors.New("claudecode: claude executable not found in PATH")

// Config describes one headless Claude Code invocation.
type Config struct {
	// Prompt is the user prompt for this turn. Required.
	Prompt string
	// WorkDir is the working directory for the subprocess.
	WorkDir string
	// Model selects the model by alias or full identifier.
	Model string
	// ResumeToken continues an existing vendor session when set.
	ResumeToken string
	// SystemPrompt is appended to the vendor's base system prompt.
	SystemPrompt string
	// AllowedTools lists tools the CLI may run without prompting.
	AllowedTools []string
	// PermissionMode sets the CLI permission mode (e.g. "acceptEdits").
	PermissionMode string
	// SkipPermissions bypasses all permission prompts.
	SkipPermissions bool
	// MCPConfigJSON is an inline MCP server config document.
	MCPConfigJSON string
	// Timeout bounds the subprocess lifetime. Zero means unbounded.
	Timeout time.Duration
	// Path overrides executable lookup, mainly for tests.
	Path string
}

// Process is a running headless Claude Code subprocess.
type Process struct {
	*agent.Process
}

// Spawn starts a new Claude Code turn.
func Spawn(ctx context.Context, cfg Config) (*Process, error) {
	path := cfg.Path
	if path == "" {
		var err error
		path, err = exec.LookPath("claude")
		if err != nil {
			return nil, ErrNotFound
		}
	}

	proc, err := agent.Spawn(ctx, agent.Options{
		Path:       path,
		Args:       buildArgs(cfg),
		Dir:        cfg.WorkDir,
		Parser:     NewParser(),
		SessionRef: cfg.ResumeToken,
		Timeout:    cfg.Timeout,
		Name:       "claude",
	})
	if err != nil {
		return nil, err
	}
	return &Process{Process: proc}, nil
}

// buildArgs constructs the CLI arguments for a headless turn. The prompt is
// always passed after "--" so prompts starting with "-" survive intact.
func buildArgs(cfg Config) []string {
	args := []string{"--print", "--output-format", "stream-json", "--verbose"}

	if cfg.ResumeToken != "" {
		args = append(args, "--resume", cfg.ResumeToken)
	}
	if cfg.Model != "" {
		args = append(args, "--model", cfg.Model)
	}
	if cfg.SkipPermissions {
		args = append(args, "--dangerously-skip-permissions")
	} else if cfg.PermissionMode != "" {
		args = append(args, "--permission-mode", cfg.PermissionMode)
	}
	if cfg.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", cfg.SystemPrompt)
	}
	for _, tool := range cfg.AllowedTools {
		args = append(args, "--allowed-tools", tool)
	}
	if cfg.MCPConfigJSON != "" {
		args = append(args, "--mcp-config", cfg.MCPConfigJSON)
	}

	return append(args, "--", cfg.Prompt)
}
