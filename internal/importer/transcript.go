// Package importer parses vendor agent transcripts into agor sessions.
// Each vendor family keeps its conversation history in its own on-disk
// format; importers read those files and produce one normalized
// Transcript that the import service persists. Importing is idempotent:
// a transcript whose vendor session id is already known is a no-op.
package importer

import (
	"github.com/agor-sh/agor/internal/store/models"
)

// Transcript is a vendor conversation normalized to agor's message model.
type Transcript struct {
	// Tool is the vendor family the transcript came from.
	Tool models.ToolFamily
	// VendorSessionID is the vendor's resume token. Required; it is the
	// idempotency key for import.
	VendorSessionID string
	// WorkDir is the working directory recorded in the transcript.
	WorkDir string
	// Model is the vendor model name, when the transcript records one.
	Model string
	// Messages in transcript order. Indexes are assigned on import.
	Messages []ImportedMessage
}

// ImportedMessage is one transcript entry ready for persistence.
type ImportedMessage struct {
	Role    models.MessageRole
	Content models.Content
	Meta    models.MessageMetadata
}

// FirstPrompt returns the text of the first user message, used as the
// imported task's prompt and the session title.
func (t *Transcript) FirstPrompt() string {
	for _, m := range t.Messages {
		if m.Role == models.RoleUser {
			if text := m.Content.PlainText(); text != "" {
				return text
			}
		}
	}
	return ""
}

// ToolUseCount counts tool_use blocks across the transcript.
func (t *Transcript) ToolUseCount() int {
	n := 0
	for _, m := range t.Messages {
		for _, b := range m.Content {
			if b.Type == models.BlockTypeToolUse {
				n++
			}
		}
	}
	return n
}
