// Package executor implements the per-task executor subprocess: it loads the
// target session from the daemon, drives one vendor adapter run, and streams
// progress back through the daemon's REST surface.
package executor

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/agor-sh/agor/internal/store/models"
)

// Exit codes of the executor binary.
const (
	ExitOK         = 0
	ExitSDKFailure = 1
	ExitUsage      = 2
	ExitAuth       = 3
)

// ErrUsage marks a missing or malformed command-line argument.
var ErrUsage = errors.New("executor: usage error")

// Config is the parsed executor invocation.
type Config struct {
	SessionToken   string
	SessionID      string
	TaskID         string
	Prompt         string
	Tool           models.ToolFamily
	PermissionMode string
	DaemonURL      string
	Timeout        time.Duration
}

// ParseFlags parses the executor command line. args excludes the program
// name. Errors wrap ErrUsage so main can map them to exit code 2.
func ParseFlags(args []string, stderr io.Writer) (*Config, error) {
	fs := flag.NewFlagSet("agor-executor", flag.ContinueOnError)
	fs.SetOutput(stderr)

	cfg := &Config{}
	var tool string
	fs.StringVar(&cfg.SessionToken, "session-token", "", "session-scoped bearer token")
	fs.StringVar(&cfg.SessionID, "session-id", "", "target session id")
	fs.StringVar(&cfg.TaskID, "task-id", "", "task id to execute")
	fs.StringVar(&cfg.Prompt, "prompt", "", "prompt text")
	fs.StringVar(&tool, "tool", "", "vendor tool family")
	fs.StringVar(&cfg.PermissionMode, "permission-mode", "", "permission mode override")
	fs.StringVar(&cfg.DaemonURL, "daemon-url", "http://127.0.0.1:7365", "daemon base URL")
	fs.DurationVar(&cfg.Timeout, "timeout", 0, "vendor run timeout (0 = unbounded)")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUsage, err)
	}

	required := []struct{ name, value string }{
		{"--session-token", cfg.SessionToken},
		{"--session-id", cfg.SessionID},
		{"--task-id", cfg.TaskID},
		{"--prompt", cfg.Prompt},
		{"--tool", tool},
	}
	for _, r := range required {
		if r.value == "" {
			return nil, fmt.Errorf("%w: %s is required", ErrUsage, r.name)
		}
	}

	cfg.Tool = models.ToolFamily(tool)
	if !cfg.Tool.Valid() {
		return nil, fmt.Errorf("%w: unknown tool family %q", ErrUsage, tool)
	}

	return cfg, nil
}
