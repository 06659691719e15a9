package codex

import (
	"encoding/json"

	"github.com/agor-sh/agor/pkg/agent"
)

// rawEvent is the native Codex JSONL event shape. Event types on the wire:
// thread.started (carries thread_id), turn.started, turn.completed (usage),
// turn.failed, item.started/item.updated/item.completed, error.
type rawEvent struct {
	Type     string    `json:"type"`
	ThreadID string    `json:"thread_id,omitempty"`
	Item     *rawItem  `json:"item,omitempty"`
	Usage    *rawUsage `json:"usage,omitempty"`
	Error    *rawError `json:"error,omitempty"`

	// Message is the top-level message field of bare error events.
	Message string `json:"message,omitempty"`
}

// rawItem is a thread item. Item types: agent_message, reasoning,
// command_execution, file_change, mcp_tool_call, web_search, todo_list.
type rawItem struct {
	ID               string          `json:"id,omitempty"`
	Type             string          `json:"type,omitempty"`
	Text             string          `json:"text,omitempty"`
	Command          string          `json:"command,omitempty"`
	AggregatedOutput string          `json:"aggregated_output,omitempty"`
	ExitCode         *int            `json:"exit_code,omitempty"`
	Status           string          `json:"status,omitempty"`
	Server           string          `json:"server,omitempty"`
	Tool             string          `json:"tool,omitempty"`
	Arguments        json.RawMessage `json:"arguments,omitempty"`
	Result           *rawToolResult  `json:"result,omitempty"`
}

type rawToolResult struct {
	Content []struct {
		Type string `json:"type,omitempty"`
		Text string `json:"text,omitempty"`
	} `json:"content,omitempty"`
}

type rawUsage struct {
	InputTokens       int `json:"input_tokens,omitempty"`
	CachedInputTokens int `json:"cached_input_tokens,omitempty"`
	OutputTokens      int `json:"output_tokens,omitempty"`
}

// rawError accepts both the string and the object form of the error field.
type rawError struct {
	Message string `json:"message,omitempty"`
}

func (e *rawError) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		e.Message = s
		return nil
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	e.Message = obj.Message
	return nil
}

// Parser decodes Codex JSONL lines.
type Parser struct{}

// NewParser returns a Parser for Codex output.
func NewParser() *Parser { return &Parser{} }

// ParseEvent converts one JSONL line into an agent.Event.
func (p *Parser) ParseEvent(line []byte) (agent.Event, error) {
	var raw rawEvent
	if err := json.Unmarshal(line, &raw); err != nil {
		return agent.Event{}, err
	}

	event := agent.Event{
		Type:      mapEventType(raw),
		SubType:   raw.Type,
		SessionID: raw.ThreadID,
	}

	if raw.Usage != nil {
		event.Usage = &agent.Usage{
			InputTokens:       raw.Usage.InputTokens,
			CachedInputTokens: raw.Usage.CachedInputTokens,
			OutputTokens:      raw.Usage.OutputTokens,
		}
	}

	switch {
	case raw.Error != nil:
		event.Error = &agent.ErrorInfo{Message: raw.Error.Message}
	case raw.Type == "error" && raw.Message != "":
		event.Error = &agent.ErrorInfo{Message: raw.Message}
	}

	if raw.Item != nil {
		event = mapItemEvent(raw, event)
	}

	return event, nil
}

// ExtractSessionRef returns the thread id from thread.started events.
func (p *Parser) ExtractSessionRef(event agent.Event, _ []byte) string {
	if event.SubType == "thread.started" {
		return event.SessionID
	}
	return ""
}

func mapEventType(raw rawEvent) agent.EventType {
	switch raw.Type {
	case "thread.started", "turn.started":
		return agent.EventSystem
	case "turn.completed":
		return agent.EventResult
	case "turn.failed", "error":
		return agent.EventError
	case "item.started":
		if raw.Item != nil && (raw.Item.Type == "command_execution" || raw.Item.Type == "mcp_tool_call") {
			return agent.EventToolUse
		}
		return agent.EventAssistant
	case "item.updated":
		return agent.EventAssistant
	case "item.completed":
		if raw.Item != nil && (raw.Item.Type == "command_execution" || raw.Item.Type == "mcp_tool_call") {
			return agent.EventToolResult
		}
		return agent.EventAssistant
	default:
		return agent.EventType(raw.Type)
	}
}

// mapItemEvent fills in message and tool content from the item payload.
// Reasoning, file_change, web_search, and todo_list items stay informational;
// their detail survives only in the raw line.
func mapItemEvent(raw rawEvent, event agent.Event) agent.Event {
	item := raw.Item

	switch item.Type {
	case "agent_message":
		event.Message = &agent.MessageContent{
			ID:   item.ID,
			Role: "assistant",
			Content: []agent.ContentBlock{
				{Type: "text", Text: item.Text},
			},
		}

	case "command_execution":
		switch raw.Type {
		case "item.started":
			input, _ := json.Marshal(map[string]string{"command": item.Command})
			event.Tool = &agent.ToolContent{ID: item.ID, Name: "Bash", Input: input}
		case "item.completed":
			event.Tool = &agent.ToolContent{ID: item.ID, Name: "Bash", Output: item.AggregatedOutput}
			if item.ExitCode != nil && *item.ExitCode != 0 {
				event.IsErrorResult = true
			}
		}

	case "mcp_tool_call":
		switch raw.Type {
		case "item.started":
			event.Tool = &agent.ToolContent{ID: item.ID, Name: item.Tool, Input: item.Arguments}
		case "item.completed":
			var output string
			if item.Result != nil {
				for _, c := range item.Result.Content {
					if c.Type == "text" && c.Text != "" {
						output = c.Text
						break
					}
				}
			}
			event.Tool = &agent.ToolContent{ID: item.ID, Name: item.Tool, Output: output}
		}
	}

	return event
}
