// Package opencode drives the OpenCode CLI in headless run mode. OpenCode has
// no init event; the camelCase sessionID field can appear on any event and is
// captured from the first one that carries it. MCP configuration travels via
// the OPENCODE_CONFIG_CONTENT environment variable so parallel processes do
// not fight over a shared config file.
package opencode

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/agor-sh/agor/pkg/agent"
)

// ErrNotFound is returned when the opencode executable cannot be located.
var ErrNotFound = errors.New("opencode: opencode executable not found")

// Config describes one headless OpenCode invocation.
type Config struct {
	// Prompt is the user prompt for this turn. Required.
	Prompt string
	// WorkDir is the working directory for the subprocess.
	WorkDir string
	// Model selects the model as provider/model.
	Model string
	// SessionID resumes an existing session when set.
	SessionID string
	// MCPConfigJSON is an inline OpenCode config document carrying MCP
	// server entries.
	MCPConfigJSON string
	// Timeout bounds the subprocess lifetime. Zero means unbounded.
	Timeout time.Duration
	// Path overrides executable lookup, mainly for tests.
	Path string
}

// Process is a running headless OpenCode subprocess.
type Process struct {
	*agent.Process
}

// Spawn starts a new OpenCode turn, resuming the configured session when
// SessionID is set.
func Spawn(ctx context.Context, cfg Config) (*Process, error) {
	path := cfg.Path
	if path == "" {
		var err error
		path, err = findExecutable()
		if err != nil {
			return nil, err
		}
	}

	var env []string
	if cfg.MCPConfigJSON != "" {
		env = []string{"OPENCODE_CONFIG_CONTENT=" + cfg.MCPConfigJSON}
	}

	proc, err := agent.Spawn(ctx, agent.Options{
		Path:       path,
		Args:       buildArgs(cfg),
		Dir:        cfg.WorkDir,
		Env:        env,
		Parser:     NewParser(),
		SessionRef: cfg.SessionID,
		Timeout:    cfg.Timeout,
		Name:       "opencode",
	})
	if err != nil {
		return nil, err
	}
	return &Process{Process: proc}, nil
}

// findExecutable checks the common install locations before falling back to
// PATH, since opencode installs to ~/.local/bin by default.
func findExecutable() (string, error) {
	if home, err := os.UserHomeDir(); err == nil {
		local := filepath.Join(home, ".local", "bin", "opencode")
		if _, err := os.Stat(local); err == nil {
			return local, nil
		}
	}
	if _, err := os.Stat("/usr/local/bin/opencode"); err == nil {
		return "/usr/local/bin/opencode", nil
	}
	if path, err := exec.LookPath("opencode"); err == nil {
		return path, nil
	}
	return "", ErrNotFound
}

func buildArgs(cfg Config) []string {
	args := []string{"run", "--format", "json"}

	if cfg.Model != "" {
		args = append(args, "--model", cfg.Model)
	}
	if cfg.SessionID != "" {
		args = append(args, "--session", cfg.SessionID)
	}

	return append(args, cfg.Prompt)
}
