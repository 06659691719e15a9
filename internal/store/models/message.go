package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageRole identifies who authored a message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Block types understood by the daemon. Unknown types are preserved
// verbatim so newer vendor payloads survive a round-trip.
const (
	BlockTypeText       = "text"
	BlockTypeToolUse    = "tool_use"
	BlockTypeToolResult = "tool_result"
	BlockTypeImage      = "image"
)

// Block is one element of a message's content. Exactly the fields for
// its Type are populated; Raw holds the original JSON for unknown types.
type Block struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`

	// image
	Source map[string]any `json:"source,omitempty"`

	// Unknown block types round-trip through Raw.
	Raw json.RawMessage `json:"-"`
}

// MarshalJSON emits the original payload for unknown block types.
func (b Block) MarshalJSON() ([]byte, error) {
	if len(b.Raw) > 0 {
		return b.Raw, nil
	}
	type alias Block
	return json.Marshal(alias(b))
}

// UnmarshalJSON keeps an unknown block's payload verbatim.
func (b *Block) UnmarshalJSON(data []byte) error {
	type alias Block
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*b = Block(a)
	switch b.Type {
	case BlockTypeText, BlockTypeToolUse, BlockTypeToolResult, BlockTypeImage:
	default:
		raw := make(json.RawMessage, len(data))
		copy(raw, data)
		b.Raw = raw
	}
	return nil
}

// TextBlock builds a text block.
func TextBlock(text string) Block {
	return Block{Type: BlockTypeText, Text: text}
}

// ToolUseBlock builds a tool_use block.
func ToolUseBlock(id, name string, input map[string]any) Block {
	return Block{Type: BlockTypeToolUse, ID: id, Name: name, Input: input}
}

// ToolResultBlock builds a tool_result block tied to a prior tool_use id.
func ToolResultBlock(toolUseID, content string, isError bool) Block {
	return Block{Type: BlockTypeToolResult, ToolUseID: toolUseID, Content: content, IsError: isError}
}

// Content is a message body: always an ordered list of blocks in memory.
// Vendors sometimes hand us a bare string; it is canonicalized to a
// single text block on read.
type Content []Block

// UnmarshalJSON accepts either a JSON string or an array of blocks.
func (c *Content) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Content{TextBlock(s)}
		return nil
	}
	var blocks []Block
	if err := json.Unmarshal(data, &blocks); err != nil {
		return fmt.Errorf("message content must be a string or block array: %w", err)
	}
	*c = Content(blocks)
	return nil
}

// PlainText concatenates the text blocks of the content.
func (c Content) PlainText() string {
	var out string
	for _, b := range c {
		if b.Type == BlockTypeText {
			out += b.Text
		}
	}
	return out
}

// MessageMetadata carries execution details attached to a message.
type MessageMetadata struct {
	Model        string `json:"model,omitempty"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
}

// Message is one entry in a session's append-only transcript. Index is
// dense and monotonic per session; the store allocates it on append.
type Message struct {
	ID             string          `json:"id" db:"id"`
	SessionID      string          `json:"session_id" db:"session_id"`
	TaskID         string          `json:"task_id,omitempty" db:"task_id"`
	Index          int             `json:"index" db:"idx"`
	Role           MessageRole     `json:"role" db:"role"`
	Content        Content         `json:"content"`
	ContentPreview string          `json:"content_preview,omitempty" db:"content_preview"`
	ToolUses       []string        `json:"tool_uses,omitempty"`
	Metadata       MessageMetadata `json:"metadata"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// ToolUseIDs returns the ids of tool_use blocks in the message, in order.
func (m *Message) ToolUseIDs() []string {
	var ids []string
	for _, b := range m.Content {
		if b.Type == BlockTypeToolUse && b.ID != "" {
			ids = append(ids, b.ID)
		}
	}
	return ids
}
