package importer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agor-sh/agor/internal/store/models"
)

const codexRollout = `{"timestamp":"2026-08-20T10:00:00Z","type":"session_meta","payload":{"id":"0198f demo","cwd":"/home/dev/proj"}}
{"timestamp":"2026-08-20T10:00:00Z","type":"turn_context","payload":{"model":"gpt-5-codex"}}
{"timestamp":"2026-08-20T10:00:01Z","type":"response_item","payload":{"type":"message","role":"user","content":[{"type":"input_text","text":"run the tests"}]}}
{"timestamp":"2026-08-20T10:00:02Z","type":"response_item","payload":{"type":"reasoning","summary":[{"type":"summary_text","text":"thinking"}]}}
{"timestamp":"2026-08-20T10:00:03Z","type":"response_item","payload":{"type":"function_call","name":"shell","call_id":"call-1","arguments":"{\"command\":[\"go\",\"test\"]}"}}
{"timestamp":"2026-08-20T10:00:09Z","type":"response_item","payload":{"type":"function_call_output","call_id":"call-1","output":{"content":"ok","success":true}}}
{"timestamp":"2026-08-20T10:00:10Z","type":"event_msg","payload":{"type":"agent_message","message":"done"}}
{"timestamp":"2026-08-20T10:00:10Z","type":"response_item","payload":{"type":"message","role":"assistant","content":[{"type":"output_text","text":"All tests pass."}]}}`

func TestParseCodex(t *testing.T) {
	tr, err := ParseCodex(strings.NewReader(codexRollout))
	require.NoError(t, err)

	assert.Equal(t, models.ToolCodex, tr.Tool)
	assert.Equal(t, "0198f demo", tr.VendorSessionID)
	assert.Equal(t, "/home/dev/proj", tr.WorkDir)
	assert.Equal(t, "gpt-5-codex", tr.Model)
	require.Len(t, tr.Messages, 4, "reasoning and event_msg lines are skipped")

	assert.Equal(t, models.RoleUser, tr.Messages[0].Role)
	assert.Equal(t, "run the tests", tr.Messages[0].Content.PlainText())

	call := tr.Messages[1].Content[0]
	assert.Equal(t, models.BlockTypeToolUse, call.Type)
	assert.Equal(t, "call-1", call.ID)
	assert.Equal(t, "shell", call.Name)
	assert.Equal(t, []any{"go", "test"}, call.Input["command"])

	result := tr.Messages[2].Content[0]
	assert.Equal(t, models.BlockTypeToolResult, result.Type)
	assert.Equal(t, "call-1", result.ToolUseID)
	assert.Equal(t, "ok", result.Content)
	assert.False(t, result.IsError)

	assert.Equal(t, "All tests pass.", tr.Messages[3].Content.PlainText())
}

func TestParseCodexStringOutput(t *testing.T) {
	input := `{"type":"session_meta","payload":{"id":"th-1","cwd":"/w"}}
{"type":"response_item","payload":{"type":"function_call_output","call_id":"call-2","output":"raw text"}}`
	tr, err := ParseCodex(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, tr.Messages, 1)
	assert.Equal(t, "raw text", tr.Messages[0].Content[0].Content)
}

func TestParseCodexFailedCall(t *testing.T) {
	input := `{"type":"session_meta","payload":{"id":"th-2","cwd":"/w"}}
{"type":"response_item","payload":{"type":"function_call_output","call_id":"call-3","output":{"content":"exit 2","success":false}}}`
	tr, err := ParseCodex(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, tr.Messages, 1)
	assert.True(t, tr.Messages[0].Content[0].IsError)
}

func TestParseCodexNoMeta(t *testing.T) {
	input := `{"type":"response_item","payload":{"type":"message","role":"user","content":[{"type":"input_text","text":"hi"}]}}`
	_, err := ParseCodex(strings.NewReader(input))
	assert.ErrorContains(t, err, "session_meta")
}

func TestParseCodexUnparseableArguments(t *testing.T) {
	input := `{"type":"session_meta","payload":{"id":"th-3","cwd":"/w"}}
{"type":"response_item","payload":{"type":"function_call","name":"shell","call_id":"call-4","arguments":"not json"}}`
	tr, err := ParseCodex(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, tr.Messages, 1)
	assert.Equal(t, "not json", tr.Messages[0].Content[0].Input["raw"])
}
