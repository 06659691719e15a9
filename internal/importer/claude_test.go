package importer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agor-sh/agor/internal/store/models"
)

const claudeTranscript = `{"type":"summary","summary":"Fix the flaky test","leafUuid":"u-9"}
{"type":"user","sessionId":"cc-123","cwd":"/home/dev/proj","uuid":"u-1","message":{"role":"user","content":"fix the flaky test"}}
{"type":"user","isMeta":true,"sessionId":"cc-123","cwd":"/home/dev/proj","uuid":"u-2","message":{"role":"user","content":"<meta>"}}
{"type":"assistant","sessionId":"cc-123","cwd":"/home/dev/proj","uuid":"u-3","message":{"role":"assistant","model":"claude-sonnet-4-5","content":[{"type":"thinking","thinking":"hm"},{"type":"text","text":"Looking at the test."},{"type":"tool_use","id":"tu-1","name":"Read","input":{"file_path":"main_test.go"}}],"usage":{"input_tokens":10,"cache_read_input_tokens":90,"output_tokens":25}}}
{"type":"user","sessionId":"cc-123","cwd":"/home/dev/proj","uuid":"u-4","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"tu-1","content":[{"type":"text","text":"package main"}]}]}}
{"type":"assistant","sessionId":"cc-123","cwd":"/home/dev/proj","uuid":"u-5","message":{"role":"assistant","model":"claude-sonnet-4-5","content":[{"type":"text","text":"Fixed."}]}}`

func TestParseClaude(t *testing.T) {
	tr, err := ParseClaude(strings.NewReader(claudeTranscript))
	require.NoError(t, err)

	assert.Equal(t, models.ToolClaudeCode, tr.Tool)
	assert.Equal(t, "cc-123", tr.VendorSessionID)
	assert.Equal(t, "/home/dev/proj", tr.WorkDir)
	assert.Equal(t, "claude-sonnet-4-5", tr.Model)
	require.Len(t, tr.Messages, 4)

	assert.Equal(t, models.RoleUser, tr.Messages[0].Role)
	assert.Equal(t, "fix the flaky test", tr.Messages[0].Content.PlainText())

	second := tr.Messages[1]
	assert.Equal(t, models.RoleAssistant, second.Role)
	require.Len(t, second.Content, 2, "thinking block must be dropped")
	assert.Equal(t, "Looking at the test.", second.Content[0].Text)
	assert.Equal(t, "tu-1", second.Content[1].ID)
	assert.Equal(t, "Read", second.Content[1].Name)
	assert.Equal(t, 100, second.Meta.InputTokens)
	assert.Equal(t, 25, second.Meta.OutputTokens)

	result := tr.Messages[2].Content[0]
	assert.Equal(t, models.BlockTypeToolResult, result.Type)
	assert.Equal(t, "tu-1", result.ToolUseID)
	assert.Equal(t, "package main", result.Content)

	assert.Equal(t, "fix the flaky test", tr.FirstPrompt())
	assert.Equal(t, 1, tr.ToolUseCount())
}

func TestParseClaudeStringToolResult(t *testing.T) {
	input := `{"type":"user","sessionId":"cc-9","cwd":"/w","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"tu-2","content":"exit 1","is_error":true}]}}`
	tr, err := ParseClaude(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, tr.Messages, 1)

	block := tr.Messages[0].Content[0]
	assert.Equal(t, "exit 1", block.Content)
	assert.True(t, block.IsError)
}

func TestParseClaudeNoSessionID(t *testing.T) {
	input := `{"type":"user","message":{"role":"user","content":"hello"}}`
	_, err := ParseClaude(strings.NewReader(input))
	assert.ErrorContains(t, err, "no session id")
}

func TestParseClaudeMalformedLine(t *testing.T) {
	_, err := ParseClaude(strings.NewReader("{not json}\n"))
	assert.ErrorContains(t, err, "line 1")
}
