// Package codex drives the Codex CLI in headless exec mode. Codex is
// thread-based: the thread id from the thread.started event is the resume
// token, and resumed turns run through "codex exec resume <thread-id>".
package codex

import (
	"context"
	"errors"
	"os/exec"
	"time"

	"github.com/agor-sh/agor/pkg/agent"
)

// ErrNotFound is returned when the codex executable cannot be located.
var ErrNotFound = errors.New("codex: codex executable not found in PATH")

// Config describes one headless Codex invocation.
type Config struct {
	// Prompt is the user prompt for this turn. Required for new threads.
	Prompt string
	// WorkDir is the working directory for the subprocess.
	WorkDir string
	// Model selects the model (-m flag). Ignored when resuming.
	Model string
	// ThreadID resumes an existing thread when set.
	ThreadID string
	// SandboxMode is one of read-only, workspace-write, danger-full-access.
	SandboxMode string
	// SkipPermissions bypasses approvals and sandboxing entirely. Only
	// consulted when SandboxMode is empty.
	SkipPermissions bool
	// MCPConfig is a TOML config override for an MCP server, in the form
	// `mcp_servers.NAME={url="..."}`.
	MCPConfig string
	// Timeout bounds the subprocess lifetime. Zero means unbounded.
	Timeout time.Duration
	// Path overrides executable lookup, mainly for tests.
	Path string
}

// Process is a running headless Codex subprocess.
type Process struct {
	*agent.Process
}

// Spawn starts a new Codex turn, resuming the configured thread when
// ThreadID is set.
func Spawn(ctx context.Context, cfg Config) (*Process, error) {
	path := cfg.Path
	if path == "" {
		var err error
		path, err = exec.LookPath("codex")
		if err != nil {
			return nil, ErrNotFound
		}
	}

	proc, err := agent.Spawn(ctx, agent.Options{
		Path:       path,
		Args:       buildArgs(cfg),
		Dir:        cfg.WorkDir,
		Parser:     NewParser(),
		SessionRef: cfg.ThreadID,
		Timeout:    cfg.Timeout,
		Name:       "codex",
	})
	if err != nil {
		return nil, err
	}
	return &Process{Process: proc}, nil
}

// buildArgs constructs the CLI arguments. The resume subcommand accepts only
// the -c override and the prompt; model, sandbox, and workdir flags are
// rejected by the CLI when resuming.
func buildArgs(cfg Config) []string {
	args := []string{"exec", "--json"}

	if cfg.ThreadID != "" {
		args = append(args, "resume", cfg.ThreadID)
		if cfg.MCPConfig != "" {
			args = append(args, "-c", cfg.MCPConfig)
		}
		if cfg.Prompt != "" {
			args = append(args, cfg.Prompt)
		}
		return args
	}

	if cfg.Model != "" {
		args = append(args, "-m", cfg.Model)
	}
	if cfg.SandboxMode != "" {
		args = append(args, "-s", cfg.SandboxMode)
	} else if cfg.SkipPermissions {
		args = append(args, "--dangerously-bypass-approvals-and-sandbox")
	}
	if cfg.WorkDir != "" {
		args = append(args, "-C", cfg.WorkDir)
	}
	if cfg.MCPConfig != "" {
		args = append(args, "-c", cfg.MCPConfig)
	}
	if cfg.Prompt != "" {
		args = append(args, cfg.Prompt)
	}

	return args
}
