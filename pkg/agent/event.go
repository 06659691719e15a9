// Package agent provides shared plumbing for headless vendor agent
// subprocesses: the unified event model every vendor parser maps into, and a
// line-oriented process harness that streams those events over a channel.
package agent

import (
	"encoding/json"
	"strings"
	"time"
)

// EventType identifies the kind of output event a vendor process emitted.
type EventType string

const (
	// EventSystem is a system-level event; the "init" subtype carries the
	// vendor session identifier.
	EventSystem EventType = "system"
	// EventAssistant is an assistant message event.
	EventAssistant EventType = "assistant"
	// EventToolUse is a tool invocation event.
	EventToolUse EventType = "tool_use"
	// EventToolResult is a tool result event.
	EventToolResult EventType = "tool_result"
	// EventResult is the terminal completion event with usage totals.
	EventResult EventType = "result"
	// EventError is an error event.
	EventError EventType = "error"
)

// Event is the unified representation of one line of vendor process output.
// Vendor parsers map their native formats into this structure; fields not
// applicable to a given vendor stay zero. Raw always holds the original line
// so unknown shapes survive round-trips.
type Event struct {
	Type      EventType `json:"type"`
	SubType   string    `json:"subtype,omitempty"`
	Timestamp time.Time `json:"-"`

	// Delta marks a streaming chunk to be accumulated onto the previous
	// assistant message rather than shown as a new one.
	Delta bool `json:"delta,omitempty"`

	// SessionID is the vendor session identifier when the event carries one.
	SessionID string `json:"session_id,omitempty"`

	Message *MessageContent `json:"message,omitempty"`
	Tool    *ToolContent    `json:"tool,omitempty"`
	Usage   *Usage          `json:"usage,omitempty"`
	Error   *ErrorInfo      `json:"error,omitempty"`

	// Result fields, populated on EventResult.
	Result        string  `json:"result,omitempty"`
	IsErrorResult bool    `json:"is_error,omitempty"`
	DurationMs    int64   `json:"duration_ms,omitempty"`
	TotalCostUSD  float64 `json:"total_cost_usd,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// IsInit reports whether this is the vendor's session initialization event.
func (e *Event) IsInit() bool {
	return e.Type == EventSystem && e.SubType == "init"
}

// IsError reports whether the event carries an error, either as an explicit
// error event or a result event flagged is_error.
func (e *Event) IsError() bool {
	return e.Type == EventError || e.Error != nil || e.IsErrorResult
}

// ErrorMessage returns the best available error message for this event.
func (e *Event) ErrorMessage() string {
	if e.Error != nil && e.Error.Message != "" {
		return e.Error.Message
	}
	if e.IsErrorResult && e.Result != "" {
		return e.Result
	}
	return "unknown error"
}

// MessageContent holds assistant message content.
type MessageContent struct {
	ID      string         `json:"id,omitempty"`
	Role    string         `json:"role,omitempty"`
	Model   string         `json:"model,omitempty"`
	Content []ContentBlock `json:"content,omitempty"`
}

// Text returns the concatenated text of all text blocks.
func (m *MessageContent) Text() string {
	if m == nil {
		return ""
	}
	var sb strings.Builder
	for _, block := range m.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}

// ToolUses returns all tool_use blocks in the message.
func (m *MessageContent) ToolUses() []ContentBlock {
	if m == nil {
		return nil
	}
	var uses []ContentBlock
	for _, block := range m.Content {
		if block.Type == "tool_use" {
			uses = append(uses, block)
		}
	}
	return uses
}

// ContentBlock is one block of message content. Blocks of unknown type keep
// their Type verbatim so callers can pass them through untouched.
type ContentBlock struct {
	Type string `json:"type,omitempty"`
	Text string `json:"text,omitempty"`

	// Tool use fields, set when Type == "tool_use".
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

// ToolContent holds tool use and tool result payloads.
type ToolContent struct {
	ID     string          `json:"id,omitempty"`
	Name   string          `json:"name,omitempty"`
	Input  json.RawMessage `json:"input,omitempty"`
	Output string          `json:"output,omitempty"`
}

// Usage holds token counts for a turn. Vendors report what they have; absent
// counts stay zero rather than being estimated.
type Usage struct {
	InputTokens       int `json:"input_tokens,omitempty"`
	CachedInputTokens int `json:"cached_input_tokens,omitempty"`
	OutputTokens      int `json:"output_tokens,omitempty"`
}

// ErrorInfo holds error details extracted from a vendor event.
type ErrorInfo struct {
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

// ParseErrorField decodes the polymorphic error field vendor CLIs emit. The
// field may be a plain string, an object with message/code, or a string with
// an embedded JSON error body ("413 {\"type\":\"error\",...}"). Returns nil
// for null or empty input.
func ParseErrorField(raw json.RawMessage) *ErrorInfo {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	var info ErrorInfo
	if err := json.Unmarshal(raw, &info); err == nil && (info.Message != "" || info.Code != "") {
		return &info
	}

	var msg string
	if err := json.Unmarshal(raw, &msg); err == nil && msg != "" {
		return parseErrorString(msg)
	}

	return nil
}

func parseErrorString(msg string) *ErrorInfo {
	if idx := strings.Index(msg, "{"); idx >= 0 {
		var nested struct {
			Error struct {
				Type    string `json:"type"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal([]byte(msg[idx:]), &nested); err == nil && nested.Error.Message != "" {
			return &ErrorInfo{Message: nested.Error.Message, Code: nested.Error.Type}
		}
	}
	return &ErrorInfo{Message: msg}
}
