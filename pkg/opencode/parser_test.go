package opencode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agor-sh/agor/pkg/agent"
)

func TestParseEventText(t *testing.T) {
	p := NewParser()

	line := `{"type":"text","sessionID":"ses_abc","part":{"type":"text","text":"Hello there.","messageID":"msg_1"}}`
	event, err := p.ParseEvent([]byte(line))

	require.NoError(t, err)
	assert.Equal(t, agent.EventAssistant, event.Type)
	assert.Equal(t, "ses_abc", event.SessionID)
	assert.Equal(t, "Hello there.", event.Message.Text())
}

func TestParseEventToolUseWithState(t *testing.T) {
	p := NewParser()

	running := `{"type":"tool_use","sessionID":"ses_abc","part":{"type":"tool","tool":"bash","callID":"call_1","state":{"status":"running","input":{"command":"ls"}}}}`
	event, err := p.ParseEvent([]byte(running))
	require.NoError(t, err)
	assert.Equal(t, agent.EventToolUse, event.Type)
	assert.Equal(t, "call_1", event.Tool.ID)
	assert.Equal(t, "bash", event.Tool.Name)
	assert.JSONEq(t, `{"command":"ls"}`, string(event.Tool.Input))

	completed := `{"type":"tool_use","sessionID":"ses_abc","part":{"type":"tool","tool":"bash","callID":"call_1","state":{"status":"completed","input":{"command":"ls"},"output":"a.txt\nb.txt"}}}`
	event, err = p.ParseEvent([]byte(completed))
	require.NoError(t, err)
	assert.Equal(t, agent.EventToolResult, event.Type)
	assert.Equal(t, "a.txt\nb.txt", event.Tool.Output)

	failed := `{"type":"tool_use","sessionID":"ses_abc","part":{"type":"tool","tool":"bash","callID":"call_1","state":{"status":"error","input":{"command":"ls"},"error":"exit 127"}}}`
	event, err = p.ParseEvent([]byte(failed))
	require.NoError(t, err)
	assert.Equal(t, agent.EventToolResult, event.Type)
	assert.True(t, event.IsErrorResult)
	assert.Equal(t, "exit 127", event.Tool.Output)
}

func TestParseEventStepFinishTokens(t *testing.T) {
	p := NewParser()

	line := `{"type":"step_finish","sessionID":"ses_abc","part":{"type":"step-finish","reason":"tool-calls","tokens":{"input":5000,"output":1000,"cache":{"read":2000,"write":500}}}}`
	event, err := p.ParseEvent([]byte(line))

	require.NoError(t, err)
	assert.Equal(t, agent.EventType("step_finish"), event.Type)
	assert.Equal(t, "tool-calls", event.SubType)
	require.NotNil(t, event.Usage)
	assert.Equal(t, 5000, event.Usage.InputTokens)
	assert.Equal(t, 2000, event.Usage.CachedInputTokens)
	assert.Equal(t, 1000, event.Usage.OutputTokens)
}

func TestParseEventErrorForms(t *testing.T) {
	p := NewParser()

	tests := []struct {
		name     string
		line     string
		wantMsg  string
		wantCode string
	}{
		{
			name:     "flat error object",
			line:     `{"type":"error","sessionID":"ses_e","error":{"code":"invalid_request","message":"bad input"}}`,
			wantMsg:  "bad input",
			wantCode: "invalid_request",
		},
		{
			name:    "top level message",
			line:    `{"type":"error","message":"Connection refused"}`,
			wantMsg: "Connection refused",
		},
		{
			name:     "nested api error",
			line:     `{"type":"error","sessionID":"ses_e","error":{"name":"APIError","data":{"message":"prompt is too long: 200561 tokens > 200000 maximum","statusCode":400}}}`,
			wantMsg:  "prompt is too long: 200561 tokens > 200000 maximum",
			wantCode: "APIError",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := p.ParseEvent([]byte(tt.line))
			require.NoError(t, err)
			assert.Equal(t, agent.EventError, event.Type)
			require.NotNil(t, event.Error)
			assert.Equal(t, tt.wantMsg, event.Error.Message)
			assert.Equal(t, tt.wantCode, event.Error.Code)
		})
	}
}

func TestExtractSessionRefFromAnyEvent(t *testing.T) {
	p := NewParser()

	tests := []struct {
		name    string
		event   agent.Event
		rawLine []byte
		want    string
	}{
		{
			name:  "from parsed event",
			event: agent.Event{Type: agent.EventAssistant, SessionID: "ses_1"},
			want:  "ses_1",
		},
		{
			name:    "fallback to raw line camelCase",
			event:   agent.Event{},
			rawLine: []byte(`{"sessionID":"ses_raw"}`),
			want:    "ses_raw",
		},
		{
			name:    "snake_case is not opencode",
			event:   agent.Event{},
			rawLine: []byte(`{"session_id":"ses_snake"}`),
			want:    "",
		},
		{
			name:  "nothing to extract",
			event: agent.Event{},
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.ExtractSessionRef(tt.event, tt.rawLine))
		})
	}
}

func TestBuildArgs(t *testing.T) {
	assert.Equal(t,
		[]string{"run", "--format", "json", "hello"},
		buildArgs(Config{Prompt: "hello"}))

	assert.Equal(t,
		[]string{"run", "--format", "json", "--model", "anthropic/claude-sonnet-4-5", "--session", "ses_1", "more"},
		buildArgs(Config{Prompt: "more", Model: "anthropic/claude-sonnet-4-5", SessionID: "ses_1"}))
}
