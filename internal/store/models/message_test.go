package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContent_UnmarshalBareString(t *testing.T) {
	var c Content
	require.NoError(t, json.Unmarshal([]byte(`"hello world"`), &c))
	require.Len(t, c, 1)
	assert.Equal(t, BlockTypeText, c[0].Type)
	assert.Equal(t, "hello world", c[0].Text)
}

func TestContent_UnmarshalBlockArray(t *testing.T) {
	raw := `[
		{"type":"text","text":"running a tool"},
		{"type":"tool_use","id":"tu-1","name":"read_file","input":{"path":"main.go"}},
		{"type":"tool_result","tool_use_id":"tu-1","content":"package main","is_error":false}
	]`
	var c Content
	require.NoError(t, json.Unmarshal([]byte(raw), &c))
	require.Len(t, c, 3)
	assert.Equal(t, "running a tool", c[0].Text)
	assert.Equal(t, "read_file", c[1].Name)
	assert.Equal(t, "main.go", c[1].Input["path"])
	assert.Equal(t, "tu-1", c[2].ToolUseID)
	assert.False(t, c[2].IsError)
}

func TestContent_UnknownBlockRoundTrip(t *testing.T) {
	raw := `[{"type":"thinking","thinking":"hmm","signature":"abc"}]`
	var c Content
	require.NoError(t, json.Unmarshal([]byte(raw), &c))
	require.Len(t, c, 1)
	assert.Equal(t, "thinking", c[0].Type)
	require.NotEmpty(t, c[0].Raw)

	// Unknown blocks serialize back byte-for-byte from their raw form.
	out, err := json.Marshal(c)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))
}

func TestContent_UnmarshalInvalid(t *testing.T) {
	var c Content
	assert.Error(t, json.Unmarshal([]byte(`42`), &c))
}

func TestContent_PlainText(t *testing.T) {
	c := Content{
		TextBlock("a"),
		ToolUseBlock("tu-1", "bash", nil),
		TextBlock("b"),
	}
	assert.Equal(t, "ab", c.PlainText())
}

func TestMessage_ToolUseIDs(t *testing.T) {
	m := &Message{Content: Content{
		TextBlock("x"),
		ToolUseBlock("tu-1", "bash", nil),
		ToolUseBlock("tu-2", "read_file", nil),
		ToolResultBlock("tu-1", "ok", false),
	}}
	assert.Equal(t, []string{"tu-1", "tu-2"}, m.ToolUseIDs())
}

func TestToolFamily_Valid(t *testing.T) {
	assert.True(t, ToolClaudeCode.Valid())
	assert.True(t, ToolCodex.Valid())
	assert.True(t, ToolGemini.Valid())
	assert.True(t, ToolOpenCode.Valid())
	assert.False(t, ToolFamily("cursor").Valid())
}

func TestSession_ToolAllowed(t *testing.T) {
	s := &Session{AllowedTools: []string{"read_file", "bash"}}
	assert.True(t, s.ToolAllowed("bash"))
	assert.False(t, s.ToolAllowed("write_file"))
}
