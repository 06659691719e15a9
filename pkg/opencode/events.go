package opencode

import (
	"encoding/json"

	"github.com/agor-sh/agor/pkg/agent"
)

// rawEvent is the native OpenCode JSON event shape. Field names are camelCase
// (sessionID, callID, messageID) unlike every other vendor. Event types on
// the wire: text, tool_use, step_start, step_finish, error.
type rawEvent struct {
	Type      string    `json:"type"`
	SessionID string    `json:"sessionID,omitempty"`
	Part      *rawPart  `json:"part,omitempty"`
	Error     *rawError `json:"error,omitempty"`

	// Message is set on errors that skip the nested error object.
	Message string `json:"message,omitempty"`
}

type rawPart struct {
	Type      string    `json:"type,omitempty"`
	Text      string    `json:"text,omitempty"`
	MessageID string    `json:"messageID,omitempty"`
	Tool      string    `json:"tool,omitempty"`
	CallID    string    `json:"callID,omitempty"`
	State     *rawState `json:"state,omitempty"`

	// step-finish fields.
	Reason string     `json:"reason,omitempty"`
	Tokens *rawTokens `json:"tokens,omitempty"`
}

type rawState struct {
	Status string          `json:"status,omitempty"`
	Input  json.RawMessage `json:"input,omitempty"`
	Output string          `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type rawTokens struct {
	Input     int `json:"input,omitempty"`
	Output    int `json:"output,omitempty"`
	Reasoning int `json:"reasoning,omitempty"`
	Cache     struct {
		Read  int `json:"read,omitempty"`
		Write int `json:"write,omitempty"`
	} `json:"cache,omitempty"`
}

// rawError accepts both flat {code,message} errors and the nested APIError
// form {"name":"APIError","data":{"message":...}}.
type rawError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Name    string `json:"name,omitempty"`
	Data    *struct {
		Message string `json:"message,omitempty"`
	} `json:"data,omitempty"`
}

// Parser decodes OpenCode JSON lines.
type Parser struct{}

// NewParser returns a Parser for OpenCode output.
func NewParser() *Parser { return &Parser{} }

// ParseEvent converts one JSON line into an agent.Event.
func (p *Parser) ParseEvent(line []byte) (agent.Event, error) {
	var raw rawEvent
	if err := json.Unmarshal(line, &raw); err != nil {
		return agent.Event{}, err
	}

	event := agent.Event{
		Type:      mapEventType(raw.Type),
		SessionID: raw.SessionID,
	}

	switch raw.Type {
	case "text":
		if raw.Part != nil {
			event.Message = &agent.MessageContent{
				ID:      raw.Part.MessageID,
				Role:    "assistant",
				Content: []agent.ContentBlock{{Type: "text", Text: raw.Part.Text}},
			}
		}

	case "tool_use":
		if raw.Part != nil {
			tool := &agent.ToolContent{ID: raw.Part.CallID, Name: raw.Part.Tool}
			if raw.Part.State != nil {
				tool.Input = raw.Part.State.Input
				tool.Output = raw.Part.State.Output
				// A terminal state means the tool already ran; expose it as a
				// result rather than a fresh invocation.
				switch raw.Part.State.Status {
				case "completed":
					event.Type = agent.EventToolResult
				case "error":
					event.Type = agent.EventToolResult
					event.IsErrorResult = true
					if tool.Output == "" {
						tool.Output = raw.Part.State.Error
					}
				}
			}
			event.Tool = tool
		}

	case "step_finish":
		if raw.Part != nil {
			event.SubType = raw.Part.Reason
			if raw.Part.Tokens != nil {
				event.Usage = &agent.Usage{
					InputTokens:       raw.Part.Tokens.Input,
					CachedInputTokens: raw.Part.Tokens.Cache.Read,
					OutputTokens:      raw.Part.Tokens.Output,
				}
			}
		}

	case "error":
		event.Error = decodeError(raw)
	}

	return event, nil
}

// ExtractSessionRef returns the session id from any event, falling back to a
// raw-line scan for lines the parser could not map.
func (p *Parser) ExtractSessionRef(event agent.Event, rawLine []byte) string {
	if event.SessionID != "" {
		return event.SessionID
	}
	if len(rawLine) == 0 {
		return ""
	}
	var probe struct {
		SessionID string `json:"sessionID"`
	}
	if err := json.Unmarshal(rawLine, &probe); err != nil {
		return ""
	}
	return probe.SessionID
}

func mapEventType(rawType string) agent.EventType {
	switch rawType {
	case "text":
		return agent.EventAssistant
	case "tool_use":
		return agent.EventToolUse
	case "step_start":
		return agent.EventSystem
	case "error":
		return agent.EventError
	default:
		return agent.EventType(rawType)
	}
}

func decodeError(raw rawEvent) *agent.ErrorInfo {
	if raw.Error != nil {
		info := &agent.ErrorInfo{Message: raw.Error.Message, Code: raw.Error.Code}
		if raw.Error.Data != nil && raw.Error.Data.Message != "" {
			info.Message = raw.Error.Data.Message
			if info.Code == "" {
				info.Code = raw.Error.Name
			}
		}
		if info.Message != "" || info.Code != "" {
			return info
		}
	}
	if raw.Message != "" {
		return &agent.ErrorInfo{Message: raw.Message}
	}
	return nil
}
