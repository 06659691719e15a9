package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agor-sh/agor/internal/store/models"
	"github.com/agor-sh/agor/pkg/agent"
)

type fakeProcess struct {
	events     chan agent.Event
	errs       chan error
	sessionRef string
	cancelled  bool
}

func newFakeProcess(sessionRef string, events ...agent.Event) *fakeProcess {
	p := &fakeProcess{
		events:     make(chan agent.Event, len(events)),
		errs:       make(chan error, 1),
		sessionRef: sessionRef,
	}
	for _, e := range events {
		p.events <- e
	}
	close(p.events)
	close(p.errs)
	return p
}

func (p *fakeProcess) Events() <-chan agent.Event { return p.events }
func (p *fakeProcess) Errors() <-chan error       { return p.errs }
func (p *fakeProcess) SessionRef() string         { return p.sessionRef }
func (p *fakeProcess) Cancel()                    { p.cancelled = true }

func TestConsumeStreamsCallbacks(t *testing.T) {
	proc := newFakeProcess("vendor-sess-1",
		agent.Event{Type: agent.EventSystem, SubType: "init", SessionID: "vendor-sess-1"},
		agent.Event{Type: agent.EventAssistant, Message: &agent.MessageContent{
			Model: "claude-sonnet-4-5",
			Content: []agent.ContentBlock{
				{Type: "text", Text: "Running the tests."},
				{Type: "tool_use", ID: "toolu_1", Name: "Bash", Input: json.RawMessage(`{"command":"go test"}`)},
			},
		}},
		agent.Event{Type: agent.EventToolResult, Tool: &agent.ToolContent{ID: "toolu_1", Output: "ok"}},
		agent.Event{Type: agent.EventResult, Result: "All tests pass.", Usage: &agent.Usage{InputTokens: 100, OutputTokens: 20}},
	)

	var texts []string
	var toolUses, toolResults []string
	var sessionID string

	req := Request{AllowedTools: []string{"Bash"}}
	cb := Callbacks{
		OnText: func(_ context.Context, text string, _ bool) error {
			texts = append(texts, text)
			return nil
		},
		OnToolUse: func(_ context.Context, id, name string, input map[string]any) error {
			toolUses = append(toolUses, name)
			assert.Equal(t, "go test", input["command"])
			assert.Equal(t, "toolu_1", id)
			return nil
		},
		OnToolResult: func(_ context.Context, toolUseID, output string, isError bool) error {
			toolResults = append(toolResults, output)
			assert.Equal(t, "toolu_1", toolUseID)
			assert.False(t, isError)
			return nil
		},
		OnVendorSessionID: func(_ context.Context, id string) error {
			sessionID = id
			return nil
		},
	}

	result, err := consume(context.Background(), proc, &req, cb)

	require.NoError(t, err)
	assert.Equal(t, "vendor-sess-1", sessionID)
	assert.Equal(t, "vendor-sess-1", result.VendorSessionID)
	assert.Equal(t, "claude-sonnet-4-5", result.ResolvedModel)
	assert.Equal(t, []string{"Running the tests."}, texts)
	assert.Equal(t, []string{"Bash"}, toolUses)
	assert.Equal(t, []string{"ok"}, toolResults)
	assert.Equal(t, 100, result.Usage.InputTokens)
	assert.Equal(t, 20, result.Usage.OutputTokens)
	assert.Equal(t, "Running the tests.", result.FinalText)
}

func TestConsumeGatesDisallowedTool(t *testing.T) {
	tests := []struct {
		name    string
		allow   bool
		wantErr error
	}{
		{name: "allowed proceeds", allow: true},
		{name: "denied aborts", allow: false, wantErr: ErrPermissionDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := newFakeProcess("",
				agent.Event{Type: agent.EventToolUse, Tool: &agent.ToolContent{
					ID: "t1", Name: "WebFetch", Input: json.RawMessage(`{"url":"http://example.com"}`),
				}},
			)

			var asked string
			cb := Callbacks{
				OnPermissionRequest: func(_ context.Context, toolName, preview string) (bool, models.PermissionScope, error) {
					asked = toolName
					assert.Contains(t, preview, "example.com")
					return tt.allow, models.PermissionScopeOnce, nil
				},
			}

			req := Request{AllowedTools: []string{"Bash"}}
			_, err := consume(context.Background(), proc, &req, cb)

			assert.Equal(t, "WebFetch", asked)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.True(t, proc.cancelled)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConsumeTaskScopeStopsReprompting(t *testing.T) {
	proc := newFakeProcess("",
		agent.Event{Type: agent.EventToolUse, Tool: &agent.ToolContent{ID: "t1", Name: "WebFetch"}},
		agent.Event{Type: agent.EventToolUse, Tool: &agent.ToolContent{ID: "t2", Name: "WebFetch"}},
	)

	var prompts int
	cb := Callbacks{
		OnPermissionRequest: func(context.Context, string, string) (bool, models.PermissionScope, error) {
			prompts++
			return true, models.PermissionScopeTask, nil
		},
	}

	req := Request{}
	_, err := consume(context.Background(), proc, &req, cb)

	require.NoError(t, err)
	assert.Equal(t, 1, prompts)
	assert.Contains(t, req.AllowedTools, "WebFetch")
}

func TestConsumeOnceScopeRepromptsEachUse(t *testing.T) {
	proc := newFakeProcess("",
		agent.Event{Type: agent.EventToolUse, Tool: &agent.ToolContent{ID: "t1", Name: "WebFetch"}},
		agent.Event{Type: agent.EventToolUse, Tool: &agent.ToolContent{ID: "t2", Name: "WebFetch"}},
	)

	var prompts int
	cb := Callbacks{
		OnPermissionRequest: func(context.Context, string, string) (bool, models.PermissionScope, error) {
			prompts++
			return true, models.PermissionScopeOnce, nil
		},
	}

	req := Request{}
	_, err := consume(context.Background(), proc, &req, cb)

	require.NoError(t, err)
	assert.Equal(t, 2, prompts)
	assert.Empty(t, req.AllowedTools)
}

func TestConsumeSkipPermissionsBypassesGate(t *testing.T) {
	proc := newFakeProcess("",
		agent.Event{Type: agent.EventToolUse, Tool: &agent.ToolContent{ID: "t1", Name: "WebFetch"}},
	)

	cb := Callbacks{
		OnPermissionRequest: func(context.Context, string, string) (bool, models.PermissionScope, error) {
			t.Fatal("permission gate must not fire in bypass mode")
			return false, models.PermissionScopeOnce, nil
		},
	}

	_, err := consume(context.Background(), proc, &Request{PermissionMode: "bypassPermissions"}, cb)
	require.NoError(t, err)
}

func TestConsumeVendorError(t *testing.T) {
	proc := newFakeProcess("",
		agent.Event{Type: agent.EventError, Error: &agent.ErrorInfo{Message: "model overloaded"}},
	)

	_, err := consume(context.Background(), proc, &Request{}, Callbacks{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "model overloaded")
	assert.True(t, proc.cancelled)
}

func TestConsumeProcessFailure(t *testing.T) {
	p := &fakeProcess{
		events: make(chan agent.Event),
		errs:   make(chan error, 1),
	}
	close(p.events)
	p.errs <- errors.New("claude process exited: exit status 1")
	close(p.errs)

	_, err := consume(context.Background(), p, &Request{}, Callbacks{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit status 1")
}

func TestForFamily(t *testing.T) {
	for _, family := range []string{"claude-code", "codex", "gemini", "opencode"} {
		a, err := ForFamily(models.ToolFamily(family))
		require.NoError(t, err)
		assert.Equal(t, family, string(a.Family()))
		assert.True(t, a.Capabilities().SupportsStreaming)
	}

	_, err := ForFamily("amp")
	require.Error(t, err)
}
