package importer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/agor-sh/agor/internal/store/models"
)

// Transcript lines can carry whole file dumps in tool outputs.
const transcriptLineLimit = 10 * 1024 * 1024

// Codex records rollout files under ~/.codex/sessions/YYYY/MM/DD/
// rollout-<timestamp>-<thread-id>.jsonl. Each line wraps a typed
// payload; session_meta carries the thread id and cwd, response_item
// lines carry the conversation.

type codexLine struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type codexSessionMeta struct {
	ID  string `json:"id"`
	CWD string `json:"cwd"`
}

type codexTurnContext struct {
	Model string `json:"model"`
}

type codexResponseItem struct {
	Type      string      `json:"type"`
	Role      string      `json:"role"`
	Content   []codexText `json:"content"`
	Name      string      `json:"name"`
	Arguments string      `json:"arguments"`
	CallID    string      `json:"call_id"`
	Output    codexOutput `json:"output"`
}

type codexText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// codexOutput tolerates both the plain-string and structured forms of
// function_call_output payloads.
type codexOutput struct {
	Content string
	Success *bool
}

func (o *codexOutput) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if data[0] == '"' {
		return json.Unmarshal(data, &o.Content)
	}
	var obj struct {
		Content string `json:"content"`
		Success *bool  `json:"success"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	o.Content = obj.Content
	o.Success = obj.Success
	return nil
}

// ParseCodex reads a codex rollout file.
func ParseCodex(r io.Reader) (*Transcript, error) {
	t := &Transcript{Tool: models.ToolCodex}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), transcriptLineLimit)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var l codexLine
		if err := json.Unmarshal(line, &l); err != nil {
			return nil, fmt.Errorf("codex rollout line %d: %w", lineNo, err)
		}

		switch l.Type {
		case "session_meta":
			var meta codexSessionMeta
			if err := json.Unmarshal(l.Payload, &meta); err != nil {
				return nil, fmt.Errorf("codex rollout line %d: %w", lineNo, err)
			}
			if t.VendorSessionID == "" {
				t.VendorSessionID = meta.ID
			}
			if t.WorkDir == "" {
				t.WorkDir = meta.CWD
			}
		case "turn_context":
			var tc codexTurnContext
			if err := json.Unmarshal(l.Payload, &tc); err == nil && tc.Model != "" {
				t.Model = tc.Model
			}
		case "response_item":
			var item codexResponseItem
			if err := json.Unmarshal(l.Payload, &item); err != nil {
				return nil, fmt.Errorf("codex rollout line %d: %w", lineNo, err)
			}
			if msg, ok := codexItemMessage(item); ok {
				t.Messages = append(t.Messages, msg)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read codex rollout: %w", err)
	}
	if t.VendorSessionID == "" {
		return nil, fmt.Errorf("codex rollout has no session_meta")
	}
	return t, nil
}

// codexItemMessage maps one response_item to a message. Function calls
// become assistant tool_use blocks keyed by call_id so their outputs
// link back the same way live runs do.
func codexItemMessage(item codexResponseItem) (ImportedMessage, bool) {
	switch item.Type {
	case "message":
		var text string
		for _, c := range item.Content {
			text += c.Text
		}
		if text == "" {
			return ImportedMessage{}, false
		}
		role := models.MessageRole(item.Role)
		if role != models.RoleUser && role != models.RoleAssistant {
			return ImportedMessage{}, false
		}
		return ImportedMessage{
			Role:    role,
			Content: models.Content{models.TextBlock(text)},
		}, true

	case "function_call":
		input := map[string]any{}
		if item.Arguments != "" {
			if json.Unmarshal([]byte(item.Arguments), &input) != nil {
				input = map[string]any{"raw": item.Arguments}
			}
		}
		return ImportedMessage{
			Role:    models.RoleAssistant,
			Content: models.Content{models.ToolUseBlock(item.CallID, item.Name, input)},
		}, true

	case "function_call_output":
		isError := item.Output.Success != nil && !*item.Output.Success
		return ImportedMessage{
			Role:    models.RoleUser,
			Content: models.Content{models.ToolResultBlock(item.CallID, item.Output.Content, isError)},
		}, true
	}
	return ImportedMessage{}, false
}
