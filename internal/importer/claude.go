package importer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/agor-sh/agor/internal/store/models"
)

// Claude Code writes one JSONL file per conversation under
// ~/.claude/projects/<escaped-cwd>/<session-id>.jsonl. Each line is an
// envelope; user and assistant envelopes wrap an API-shaped message,
// the rest (summaries, file history snapshots, meta entries) are
// bookkeeping the import skips.

type claudeEnvelope struct {
	Type      string         `json:"type"`
	SessionID string         `json:"sessionId"`
	CWD       string         `json:"cwd"`
	IsMeta    bool           `json:"isMeta"`
	Message   *claudeMessage `json:"message"`
}

type claudeMessage struct {
	Role    string          `json:"role"`
	Model   string          `json:"model"`
	Content json.RawMessage `json:"content"`
	Usage   *claudeUsage    `json:"usage"`
}

type claudeUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
}

type claudeBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     map[string]any  `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
	IsError   bool            `json:"is_error"`
}

// ParseClaude reads a Claude Code conversation file.
func ParseClaude(r io.Reader) (*Transcript, error) {
	t := &Transcript{Tool: models.ToolClaudeCode}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), transcriptLineLimit)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var env claudeEnvelope
		if err := json.Unmarshal(line, &env); err != nil {
			return nil, fmt.Errorf("claude transcript line %d: %w", lineNo, err)
		}
		if env.SessionID != "" && t.VendorSessionID == "" {
			t.VendorSessionID = env.SessionID
		}
		if env.CWD != "" && t.WorkDir == "" {
			t.WorkDir = env.CWD
		}
		if env.IsMeta || env.Message == nil {
			continue
		}
		switch env.Type {
		case "user", "assistant":
		default:
			continue
		}

		content, err := parseClaudeContent(env.Message.Content)
		if err != nil {
			return nil, fmt.Errorf("claude transcript line %d: %w", lineNo, err)
		}
		if len(content) == 0 {
			continue
		}
		if env.Message.Model != "" && t.Model == "" {
			t.Model = env.Message.Model
		}

		msg := ImportedMessage{
			Role:    models.MessageRole(env.Message.Role),
			Content: content,
			Meta:    models.MessageMetadata{Model: env.Message.Model},
		}
		if u := env.Message.Usage; u != nil {
			msg.Meta.InputTokens = u.InputTokens + u.CacheReadInputTokens + u.CacheCreationInputTokens
			msg.Meta.OutputTokens = u.OutputTokens
		}
		t.Messages = append(t.Messages, msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read claude transcript: %w", err)
	}
	if t.VendorSessionID == "" {
		return nil, fmt.Errorf("claude transcript has no session id")
	}
	return t, nil
}

// parseClaudeContent accepts the API content shape: a bare string or an
// array of blocks. Thinking blocks are dropped; unknown block types are
// kept verbatim through the model's raw round-trip.
func parseClaudeContent(raw json.RawMessage) (models.Content, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		if s == "" {
			return nil, nil
		}
		return models.Content{models.TextBlock(s)}, nil
	}

	var blocks []claudeBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil, fmt.Errorf("unexpected message content shape: %w", err)
	}

	var content models.Content
	for _, b := range blocks {
		switch b.Type {
		case "text":
			content = append(content, models.TextBlock(b.Text))
		case "tool_use":
			content = append(content, models.ToolUseBlock(b.ID, b.Name, b.Input))
		case "tool_result":
			content = append(content, models.ToolResultBlock(b.ToolUseID, flattenResultContent(b.Content), b.IsError))
		case "thinking":
			// Extended thinking is vendor-internal; not imported.
		}
	}
	return content, nil
}

// flattenResultContent joins a tool_result's content, which is either a
// string or an array of text blocks.
func flattenResultContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			return s
		}
		return ""
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if json.Unmarshal(raw, &parts) != nil {
		return ""
	}
	var out string
	for _, p := range parts {
		if p.Type == "text" {
			out += p.Text
		}
	}
	return out
}
