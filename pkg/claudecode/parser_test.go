package claudecode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agor-sh/agor/pkg/agent"
)

func TestParseEventInit(t *testing.T) {
	p := NewParser()

	line := `{"type":"system","subtype":"init","session_id":"sess-abc","cwd":"/tmp/work","model":"claude-sonnet-4-5"}`
	event, err := p.ParseEvent([]byte(line))

	require.NoError(t, err)
	assert.Equal(t, agent.EventSystem, event.Type)
	assert.Equal(t, "init", event.SubType)
	assert.True(t, event.IsInit())
	assert.Equal(t, "sess-abc", p.ExtractSessionRef(event, []byte(line)))
}

func TestParseEventAssistantText(t *testing.T) {
	p := NewParser()

	line := `{"type":"assistant","session_id":"sess-abc","message":{"id":"msg_1","role":"assistant","model":"claude-sonnet-4-5","content":[{"type":"text","text":"Sure, on it."}]}}`
	event, err := p.ParseEvent([]byte(line))

	require.NoError(t, err)
	assert.Equal(t, agent.EventAssistant, event.Type)
	require.NotNil(t, event.Message)
	assert.Equal(t, "Sure, on it.", event.Message.Text())
	// Non-init events never redefine the session reference.
	assert.Empty(t, p.ExtractSessionRef(event, []byte(line)))
}

func TestParseEventToolUseBlocks(t *testing.T) {
	p := NewParser()

	line := `{"type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","id":"toolu_1","name":"Bash","input":{"command":"ls"}}]}}`
	event, err := p.ParseEvent([]byte(line))

	require.NoError(t, err)
	uses := event.Message.ToolUses()
	require.Len(t, uses, 1)
	assert.Equal(t, "toolu_1", uses[0].ID)
	assert.Equal(t, "Bash", uses[0].Name)
	assert.JSONEq(t, `{"command":"ls"}`, string(uses[0].Input))
}

func TestParseEventToolResult(t *testing.T) {
	p := NewParser()

	tests := []struct {
		name       string
		line       string
		wantOutput string
	}{
		{
			name:       "string content",
			line:       `{"type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_1","content":"file1\nfile2"}]}}`,
			wantOutput: "file1\nfile2",
		},
		{
			name:       "block array content",
			line:       `{"type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_1","content":[{"type":"text","text":"done"}]}]}}`,
			wantOutput: "done",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := p.ParseEvent([]byte(tt.line))
			require.NoError(t, err)
			assert.Equal(t, agent.EventToolResult, event.Type)
			require.NotNil(t, event.Tool)
			assert.Equal(t, "toolu_1", event.Tool.ID)
			assert.Equal(t, tt.wantOutput, event.Tool.Output)
		})
	}
}

func TestParseEventResultUsage(t *testing.T) {
	p := NewParser()

	line := `{"type":"result","subtype":"success","is_error":false,"duration_ms":4120,"total_cost_usd":0.031,"result":"done","usage":{"input_tokens":1200,"cache_read_input_tokens":800,"output_tokens":340}}`
	event, err := p.ParseEvent([]byte(line))

	require.NoError(t, err)
	assert.Equal(t, agent.EventResult, event.Type)
	require.NotNil(t, event.Usage)
	assert.Equal(t, 1200, event.Usage.InputTokens)
	assert.Equal(t, 800, event.Usage.CachedInputTokens)
	assert.Equal(t, 340, event.Usage.OutputTokens)
	assert.Equal(t, int64(4120), event.DurationMs)
	assert.False(t, event.IsError())
}

func TestParseEventPolymorphicError(t *testing.T) {
	p := NewParser()

	tests := []struct {
		name    string
		line    string
		wantMsg string
	}{
		{
			name:    "string error",
			line:    `{"type":"error","error":"Connection refused"}`,
			wantMsg: "Connection refused",
		},
		{
			name:    "object error",
			line:    `{"type":"error","error":{"code":"rate_limited","message":"Too many requests"}}`,
			wantMsg: "Too many requests",
		},
		{
			name:    "embedded json error",
			line:    `{"type":"error","error":"413 {\"type\":\"error\",\"error\":{\"type\":\"invalid_request_error\",\"message\":\"Prompt is too long\"}}"}`,
			wantMsg: "Prompt is too long",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := p.ParseEvent([]byte(tt.line))
			require.NoError(t, err)
			assert.True(t, event.IsError())
			assert.Equal(t, tt.wantMsg, event.ErrorMessage())
		})
	}
}

func TestParseEventInvalidJSON(t *testing.T) {
	p := NewParser()

	_, err := p.ParseEvent([]byte("Reading config from ~/.claude.json"))
	require.Error(t, err)
}

func TestBuildArgs(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want []string
	}{
		{
			name: "minimal prompt",
			cfg:  Config{Prompt: "hello"},
			want: []string{"--print", "--output-format", "stream-json", "--verbose", "--", "hello"},
		},
		{
			name: "resume with model",
			cfg:  Config{Prompt: "continue", ResumeToken: "sess-1", Model: "opus"},
			want: []string{"--print", "--output-format", "stream-json", "--verbose", "--resume", "sess-1", "--model", "opus", "--", "continue"},
		},
		{
			name: "skip permissions wins over mode",
			cfg:  Config{Prompt: "x", SkipPermissions: true, PermissionMode: "acceptEdits"},
			want: []string{"--print", "--output-format", "stream-json", "--verbose", "--dangerously-skip-permissions", "--", "x"},
		},
		{
			name: "allowed tools repeat",
			cfg:  Config{Prompt: "x", AllowedTools: []string{"Read", "Bash"}},
			want: []string{"--print", "--output-format", "stream-json", "--verbose", "--allowed-tools", "Read", "--allowed-tools", "Bash", "--", "x"},
		},
		{
			name: "dash prompt survives",
			cfg:  Config{Prompt: "--help me"},
			want: []string{"--print", "--output-format", "stream-json", "--verbose", "--", "--help me"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, buildArgs(tt.cfg))
		})
	}
}
