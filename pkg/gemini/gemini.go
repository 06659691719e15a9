// Package gemini drives the Gemini CLI in headless stream-json mode. The
// session id from the init event is the resume token; resumed turns pass the
// prompt through -p because the CLI rejects a positional prompt with --resume.
package gemini

import (
	"context"
	"errors"
	"os/exec"
	"time"

	"github.com/agor-sh/agor/pkg/agent"
)

// ErrNotFound is returned when the gemini executable cannot be located.
var ErrNotFound = errors.New("gemini: gemini executable not found in PATH")

// Config describes one headless Gemini invocation.
type Config struct {
	// Prompt is the user prompt for this turn. Required.
	Prompt string
	// WorkDir is the working directory for the subprocess.
	WorkDir string
	// Model selects the model (-m flag).
	Model string
	// SessionID resumes an existing session when set.
	SessionID string
	// ApprovalMode sets the CLI approval mode; when empty the process runs
	// with --yolo since unattended runs cannot answer prompts.
	ApprovalMode string
	// Timeout bounds the subprocess lifetime. Zero means unbounded.
	Timeout time.Duration
	// Path overrides executable lookup, mainly for tests.
	Path string
}

// Process is a running headless Gemini subprocess.
type Process struct {
	*agent.Process
}

// Spawn starts a new Gemini turn, resuming the configured session when
// SessionID is set.
func Spawn(ctx context.Context, cfg Config) (*Process, error) {
	path := cfg.Path
	if path == "" {
		var err error
		path, err = exec.LookPath("gemini")
		if err != nil {
			return nil, ErrNotFound
		}
	}

	proc, err := agent.Spawn(ctx, agent.Options{
		Path:       path,
		Args:       buildArgs(cfg),
		Dir:        cfg.WorkDir,
		Parser:     NewParser(),
		SessionRef: cfg.SessionID,
		Timeout:    cfg.Timeout,
		Name:       "gemini",
	})
	if err != nil {
		return nil, err
	}
	return &Process{Process: proc}, nil
}

func buildArgs(cfg Config) []string {
	var args []string

	if cfg.Model != "" {
		args = append(args, "-m", cfg.Model)
	}
	if cfg.SessionID != "" {
		args = append(args, "--resume", cfg.SessionID)
	}
	if cfg.ApprovalMode != "" {
		args = append(args, "--approval-mode", cfg.ApprovalMode)
	} else {
		args = append(args, "--yolo")
	}
	args = append(args, "--output-format", "stream-json")

	if cfg.SessionID != "" {
		args = append(args, "-p", cfg.Prompt)
	} else {
		args = append(args, cfg.Prompt)
	}

	return args
}
