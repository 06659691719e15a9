package executor

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agor-sh/agor/internal/store/models"
)

func validArgs() []string {
	return []string{
		"--session-token", "tok",
		"--session-id", "sess-1",
		"--task-id", "task-1",
		"--prompt", "do the thing",
		"--tool", "claude-code",
	}
}

func TestParseFlags(t *testing.T) {
	cfg, err := ParseFlags(validArgs(), io.Discard)

	require.NoError(t, err)
	assert.Equal(t, "tok", cfg.SessionToken)
	assert.Equal(t, "sess-1", cfg.SessionID)
	assert.Equal(t, "task-1", cfg.TaskID)
	assert.Equal(t, models.ToolClaudeCode, cfg.Tool)
	assert.Equal(t, "http://127.0.0.1:7365", cfg.DaemonURL)
}

func TestParseFlagsMissingRequired(t *testing.T) {
	required := []string{"--session-token", "--session-id", "--task-id", "--prompt", "--tool"}

	for _, missing := range required {
		t.Run(missing, func(t *testing.T) {
			var args []string
			full := validArgs()
			for i := 0; i < len(full); i += 2 {
				if full[i] == missing {
					continue
				}
				args = append(args, full[i], full[i+1])
			}

			_, err := ParseFlags(args, io.Discard)
			require.ErrorIs(t, err, ErrUsage)
		})
	}
}

func TestParseFlagsUnknownTool(t *testing.T) {
	args := append(validArgs()[:8], "--tool", "amp")

	_, err := ParseFlags(args, io.Discard)
	require.ErrorIs(t, err, ErrUsage)
}

func TestParseFlagsUnknownFlag(t *testing.T) {
	_, err := ParseFlags(append(validArgs(), "--bogus"), io.Discard)
	require.ErrorIs(t, err, ErrUsage)
}
