package claudecode

import (
	"encoding/json"

	"github.com/agor-sh/agor/pkg/agent"
)

// rawEvent is the native stream-json line shape Claude Code emits. Types seen
// on the wire: system (subtype init carries session_id), assistant, user
// (tool results come back as user messages), result, error.
type rawEvent struct {
	Type      string          `json:"type"`
	SubType   string          `json:"subtype,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	CWD       string          `json:"cwd,omitempty"`
	Message   *rawMessage     `json:"message,omitempty"`
	Usage     *rawUsage       `json:"usage,omitempty"`
	Error     json.RawMessage `json:"error,omitempty"`

	// Result event fields.
	Result       string  `json:"result,omitempty"`
	IsError      bool    `json:"is_error,omitempty"`
	DurationMs   int64   `json:"duration_ms,omitempty"`
	TotalCostUSD float64 `json:"total_cost_usd,omitempty"`
}

type rawMessage struct {
	ID      string            `json:"id,omitempty"`
	Role    string            `json:"role,omitempty"`
	Model   string            `json:"model,omitempty"`
	Content []json.RawMessage `json:"content,omitempty"`
	Usage   *rawUsage         `json:"usage,omitempty"`
}

type rawUsage struct {
	InputTokens              int `json:"input_tokens,omitempty"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
	OutputTokens             int `json:"output_tokens,omitempty"`
}

// contentBlock is one block inside an assistant or user message. Only the
// fields for text, tool_use, and tool_result blocks are decoded; anything
// else passes through as its raw type.
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`

	// tool_use fields.
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result fields.
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// Parser decodes Claude Code stream-json lines.
type Parser struct{}

// NewParser returns a Parser for Claude Code output.
func NewParser() *Parser { return &Parser{} }

// ParseEvent converts one stream-json line into an agent.Event.
func (p *Parser) ParseEvent(line []byte) (agent.Event, error) {
	var raw rawEvent
	if err := json.Unmarshal(line, &raw); err != nil {
		return agent.Event{}, err
	}

	event := agent.Event{
		Type:          mapEventType(raw),
		SubType:       raw.SubType,
		SessionID:     raw.SessionID,
		Result:        raw.Result,
		IsErrorResult: raw.IsError,
		DurationMs:    raw.DurationMs,
		TotalCostUSD:  raw.TotalCostUSD,
		Error:         agent.ParseErrorField(raw.Error),
	}

	if raw.Message != nil {
		event.Message = &agent.MessageContent{
			ID:      raw.Message.ID,
			Role:    raw.Message.Role,
			Model:   raw.Message.Model,
			Content: decodeBlocks(raw.Message.Content),
		}
		if tool := firstToolResult(raw.Message.Content); tool != nil {
			event.Type = agent.EventToolResult
			event.Tool = tool
		}
	}

	if usage := pickUsage(raw); usage != nil {
		event.Usage = &agent.Usage{
			InputTokens:       usage.InputTokens,
			CachedInputTokens: usage.CacheReadInputTokens + usage.CacheCreationInputTokens,
			OutputTokens:      usage.OutputTokens,
		}
	}

	return event, nil
}

// ExtractSessionRef returns the session id from init events. Claude Code
// stamps session_id on every line, but only the init event is authoritative
// for a fresh session.
func (p *Parser) ExtractSessionRef(event agent.Event, _ []byte) string {
	if event.IsInit() {
		return event.SessionID
	}
	return ""
}

func mapEventType(raw rawEvent) agent.EventType {
	switch raw.Type {
	case "system":
		return agent.EventSystem
	case "assistant":
		return agent.EventAssistant
	case "user":
		// User messages in the stream are tool results echoed back.
		return agent.EventToolResult
	case "result":
		return agent.EventResult
	case "error":
		return agent.EventError
	default:
		return agent.EventType(raw.Type)
	}
}

func decodeBlocks(blocks []json.RawMessage) []agent.ContentBlock {
	out := make([]agent.ContentBlock, 0, len(blocks))
	for _, raw := range blocks {
		var block contentBlock
		if err := json.Unmarshal(raw, &block); err != nil {
			continue
		}
		out = append(out, agent.ContentBlock{
			Type:  block.Type,
			Text:  block.Text,
			ID:    block.ID,
			Name:  block.Name,
			Input: block.Input,
		})
	}
	return out
}

// firstToolResult scans message content for a tool_result block. The output
// may be a bare string or an array of text blocks.
func firstToolResult(blocks []json.RawMessage) *agent.ToolContent {
	for _, raw := range blocks {
		var block contentBlock
		if err := json.Unmarshal(raw, &block); err != nil || block.Type != "tool_result" {
			continue
		}
		return &agent.ToolContent{
			ID:     block.ToolUseID,
			Output: decodeToolOutput(block.Content),
		}
	}
	return nil
}

func decodeToolOutput(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err == nil {
		for _, part := range parts {
			if part.Type == "text" && part.Text != "" {
				return part.Text
			}
		}
	}
	return string(raw)
}

func pickUsage(raw rawEvent) *rawUsage {
	if raw.Usage != nil {
		return raw.Usage
	}
	if raw.Message != nil {
		return raw.Message.Usage
	}
	return nil
}
