package gemini

import (
	"encoding/json"

	"github.com/agor-sh/agor/pkg/agent"
)

// rawEvent is the native Gemini NDJSON event shape. Event types on the wire:
// init (session_id, model), message (role-discriminated, delta chunks),
// tool_use, tool_result, result (stats), error.
type rawEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Model     string `json:"model,omitempty"`

	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
	Delta   bool   `json:"delta,omitempty"`

	ToolName   string          `json:"tool_name,omitempty"`
	ToolID     string          `json:"tool_id,omitempty"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
	Status     string          `json:"status,omitempty"`
	Output     string          `json:"output,omitempty"`

	Stats *rawStats `json:"stats,omitempty"`
	Error *rawError `json:"error,omitempty"`
}

type rawStats struct {
	TokensPrompt     int   `json:"tokens_prompt,omitempty"`
	TokensCandidates int   `json:"tokens_candidates,omitempty"`
	TokensCached     int   `json:"tokens_cached,omitempty"`
	DurationMs       int64 `json:"duration_ms,omitempty"`
}

type rawError struct {
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

// Parser decodes Gemini NDJSON lines.
type Parser struct{}

// NewParser returns a Parser for Gemini output.
func NewParser() *Parser { return &Parser{} }

// ParseEvent converts one NDJSON line into an agent.Event.
func (p *Parser) ParseEvent(line []byte) (agent.Event, error) {
	var raw rawEvent
	if err := json.Unmarshal(line, &raw); err != nil {
		return agent.Event{}, err
	}

	event := agent.Event{
		Type:      mapEventType(raw),
		SessionID: raw.SessionID,
		Delta:     raw.Delta,
	}
	if raw.Type == "init" {
		event.SubType = "init"
	}

	switch event.Type {
	case agent.EventAssistant:
		event.Message = &agent.MessageContent{
			Role:    "assistant",
			Model:   raw.Model,
			Content: []agent.ContentBlock{{Type: "text", Text: raw.Content}},
		}

	case agent.EventToolUse:
		event.Tool = &agent.ToolContent{
			ID:    raw.ToolID,
			Name:  raw.ToolName,
			Input: raw.Parameters,
		}

	case agent.EventToolResult:
		event.Tool = &agent.ToolContent{
			ID:     raw.ToolID,
			Name:   raw.ToolName,
			Output: raw.Output,
		}
		if raw.Status == "error" {
			event.IsErrorResult = true
		}

	case agent.EventResult:
		if raw.Stats != nil {
			event.Usage = &agent.Usage{
				InputTokens:       raw.Stats.TokensPrompt,
				CachedInputTokens: raw.Stats.TokensCached,
				OutputTokens:      raw.Stats.TokensCandidates,
			}
			event.DurationMs = raw.Stats.DurationMs
		}

	case agent.EventError:
		if raw.Error != nil {
			event.Error = &agent.ErrorInfo{Message: raw.Error.Message, Code: raw.Error.Code}
		}
	}

	return event, nil
}

// ExtractSessionRef returns the session id from init events.
func (p *Parser) ExtractSessionRef(event agent.Event, _ []byte) string {
	if event.IsInit() {
		return event.SessionID
	}
	return ""
}

func mapEventType(raw rawEvent) agent.EventType {
	switch raw.Type {
	case "init":
		return agent.EventSystem
	case "message":
		if raw.Role == "assistant" {
			return agent.EventAssistant
		}
		// User-role messages carry injected tool output.
		return agent.EventToolResult
	case "tool_use":
		return agent.EventToolUse
	case "tool_result":
		return agent.EventToolResult
	case "result":
		return agent.EventResult
	case "error":
		return agent.EventError
	default:
		return agent.EventType(raw.Type)
	}
}
