package gemini

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agor-sh/agor/pkg/agent"
)

func TestParseEventInit(t *testing.T) {
	p := NewParser()

	line := `{"type":"init","session_id":"gem-1","model":"gemini-2.5-pro"}`
	event, err := p.ParseEvent([]byte(line))

	require.NoError(t, err)
	assert.Equal(t, agent.EventSystem, event.Type)
	assert.True(t, event.IsInit())
	assert.Equal(t, "gem-1", p.ExtractSessionRef(event, []byte(line)))
}

func TestParseEventAssistantDelta(t *testing.T) {
	p := NewParser()

	line := `{"type":"message","role":"assistant","content":"partial ","delta":true}`
	event, err := p.ParseEvent([]byte(line))

	require.NoError(t, err)
	assert.Equal(t, agent.EventAssistant, event.Type)
	assert.True(t, event.Delta)
	assert.Equal(t, "partial ", event.Message.Text())
}

func TestParseEventToolLifecycle(t *testing.T) {
	p := NewParser()

	use := `{"type":"tool_use","tool_id":"t1","tool_name":"run_shell_command","parameters":{"command":"ls"}}`
	event, err := p.ParseEvent([]byte(use))
	require.NoError(t, err)
	assert.Equal(t, agent.EventToolUse, event.Type)
	assert.Equal(t, "run_shell_command", event.Tool.Name)

	result := `{"type":"tool_result","tool_id":"t1","status":"error","output":"permission denied"}`
	event, err = p.ParseEvent([]byte(result))
	require.NoError(t, err)
	assert.Equal(t, agent.EventToolResult, event.Type)
	assert.Equal(t, "permission denied", event.Tool.Output)
	assert.True(t, event.IsErrorResult)
}

func TestParseEventResultStats(t *testing.T) {
	p := NewParser()

	line := `{"type":"result","stats":{"tokens_prompt":500,"tokens_candidates":120,"tokens_cached":90,"duration_ms":2300}}`
	event, err := p.ParseEvent([]byte(line))

	require.NoError(t, err)
	assert.Equal(t, agent.EventResult, event.Type)
	require.NotNil(t, event.Usage)
	assert.Equal(t, 500, event.Usage.InputTokens)
	assert.Equal(t, 120, event.Usage.OutputTokens)
	assert.Equal(t, 90, event.Usage.CachedInputTokens)
	assert.Equal(t, int64(2300), event.DurationMs)
}

func TestBuildArgs(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want []string
	}{
		{
			name: "new session yolo",
			cfg:  Config{Prompt: "hello", Model: "gemini-2.5-pro"},
			want: []string{"-m", "gemini-2.5-pro", "--yolo", "--output-format", "stream-json", "hello"},
		},
		{
			name: "resume uses -p prompt",
			cfg:  Config{Prompt: "more", SessionID: "gem-1"},
			want: []string{"--resume", "gem-1", "--yolo", "--output-format", "stream-json", "-p", "more"},
		},
		{
			name: "explicit approval mode",
			cfg:  Config{Prompt: "x", ApprovalMode: "auto_edit"},
			want: []string{"--approval-mode", "auto_edit", "--output-format", "stream-json", "x"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, buildArgs(tt.cfg))
		})
	}
}
