package codex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agor-sh/agor/pkg/agent"
)

func TestParseEventThreadStarted(t *testing.T) {
	p := NewParser()

	line := `{"type":"thread.started","thread_id":"thr_123"}`
	event, err := p.ParseEvent([]byte(line))

	require.NoError(t, err)
	assert.Equal(t, agent.EventSystem, event.Type)
	assert.Equal(t, "thr_123", p.ExtractSessionRef(event, []byte(line)))
}

func TestParseEventAgentMessage(t *testing.T) {
	p := NewParser()

	line := `{"type":"item.completed","item":{"id":"item_1","type":"agent_message","text":"Finished the refactor."}}`
	event, err := p.ParseEvent([]byte(line))

	require.NoError(t, err)
	assert.Equal(t, agent.EventAssistant, event.Type)
	require.NotNil(t, event.Message)
	assert.Equal(t, "Finished the refactor.", event.Message.Text())
}

func TestParseEventCommandExecution(t *testing.T) {
	p := NewParser()

	started := `{"type":"item.started","item":{"id":"item_2","type":"command_execution","command":"go test ./..."}}`
	event, err := p.ParseEvent([]byte(started))
	require.NoError(t, err)
	assert.Equal(t, agent.EventToolUse, event.Type)
	require.NotNil(t, event.Tool)
	assert.Equal(t, "Bash", event.Tool.Name)
	assert.JSONEq(t, `{"command":"go test ./..."}`, string(event.Tool.Input))

	completed := `{"type":"item.completed","item":{"id":"item_2","type":"command_execution","aggregated_output":"ok","exit_code":1}}`
	event, err = p.ParseEvent([]byte(completed))
	require.NoError(t, err)
	assert.Equal(t, agent.EventToolResult, event.Type)
	assert.Equal(t, "ok", event.Tool.Output)
	assert.True(t, event.IsErrorResult)
}

func TestParseEventMCPToolCall(t *testing.T) {
	p := NewParser()

	line := `{"type":"item.completed","item":{"id":"item_3","type":"mcp_tool_call","server":"agor","tool":"list_sessions","result":{"content":[{"type":"text","text":"[]"}]}}}`
	event, err := p.ParseEvent([]byte(line))

	require.NoError(t, err)
	assert.Equal(t, agent.EventToolResult, event.Type)
	assert.Equal(t, "list_sessions", event.Tool.Name)
	assert.Equal(t, "[]", event.Tool.Output)
}

func TestParseEventTurnCompletedUsage(t *testing.T) {
	p := NewParser()

	line := `{"type":"turn.completed","usage":{"input_tokens":9000,"cached_input_tokens":4000,"output_tokens":1200}}`
	event, err := p.ParseEvent([]byte(line))

	require.NoError(t, err)
	assert.Equal(t, agent.EventResult, event.Type)
	require.NotNil(t, event.Usage)
	assert.Equal(t, 9000, event.Usage.InputTokens)
	assert.Equal(t, 4000, event.Usage.CachedInputTokens)
	assert.Equal(t, 1200, event.Usage.OutputTokens)
}

func TestParseEventErrorForms(t *testing.T) {
	p := NewParser()

	tests := []struct {
		name    string
		line    string
		wantMsg string
	}{
		{
			name:    "turn failed with string error",
			line:    `{"type":"turn.failed","error":"model overloaded"}`,
			wantMsg: "model overloaded",
		},
		{
			name:    "turn failed with object error",
			line:    `{"type":"turn.failed","error":{"message":"sandbox denied"}}`,
			wantMsg: "sandbox denied",
		},
		{
			name:    "bare error event",
			line:    `{"type":"error","message":"stream closed"}`,
			wantMsg: "stream closed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := p.ParseEvent([]byte(tt.line))
			require.NoError(t, err)
			assert.Equal(t, agent.EventError, event.Type)
			assert.Equal(t, tt.wantMsg, event.ErrorMessage())
		})
	}
}

func TestBuildArgs(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want []string
	}{
		{
			name: "new thread full options",
			cfg:  Config{Prompt: "fix it", Model: "gpt-5-codex", SandboxMode: "workspace-write", WorkDir: "/w"},
			want: []string{"exec", "--json", "-m", "gpt-5-codex", "-s", "workspace-write", "-C", "/w", "fix it"},
		},
		{
			name: "skip permissions fallback",
			cfg:  Config{Prompt: "x", SkipPermissions: true},
			want: []string{"exec", "--json", "--dangerously-bypass-approvals-and-sandbox", "x"},
		},
		{
			name: "resume drops model and workdir flags",
			cfg:  Config{Prompt: "more", ThreadID: "thr_1", Model: "gpt-5-codex", WorkDir: "/w", MCPConfig: `mcp_servers.agor={url="http://localhost:7370"}`},
			want: []string{"exec", "--json", "resume", "thr_1", "-c", `mcp_servers.agor={url="http://localhost:7370"}`, "more"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, buildArgs(tt.cfg))
		})
	}
}
