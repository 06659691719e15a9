package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/agor-sh/agor/internal/store/models"
	"github.com/agor-sh/agor/pkg/agent"
)

// ErrPermissionDenied is returned when the arbiter denies a gated tool call.
var ErrPermissionDenied = errors.New("adapter: tool permission denied")

// previewLimit bounds the tool input preview sent with permission requests.
const previewLimit = 500

// vendorProcess is the slice of agent.Process the consume loop needs.
// Narrowed so tests can drive the loop with plain channels.
type vendorProcess interface {
	Events() <-chan agent.Event
	Errors() <-chan error
	SessionRef() string
	Cancel()
}

// consume drains a vendor process event stream into the callbacks and
// accumulates the run result. It returns once the event channel closes or a
// callback aborts the run.
func consume(ctx context.Context, proc vendorProcess, req *Request, cb Callbacks) (*Result, error) {
	result := &Result{}

	notifySession := func() error {
		if result.VendorSessionID != "" || cb.OnVendorSessionID == nil {
			return nil
		}
		if ref := proc.SessionRef(); ref != "" {
			result.VendorSessionID = ref
			return cb.OnVendorSessionID(ctx, ref)
		}
		return nil
	}

	for event := range proc.Events() {
		if err := ctx.Err(); err != nil {
			proc.Cancel()
			return nil, err
		}
		if err := notifySession(); err != nil {
			proc.Cancel()
			return nil, err
		}

		if err := handleEvent(ctx, event, req, cb, result); err != nil {
			proc.Cancel()
			return nil, err
		}
	}

	// The session ref may only land with the final events.
	if err := notifySession(); err != nil {
		return nil, err
	}

	for err := range proc.Errors() {
		if err != nil {
			return nil, err
		}
	}

	return result, nil
}

func handleEvent(ctx context.Context, event agent.Event, req *Request, cb Callbacks, result *Result) error {
	switch event.Type {
	case agent.EventAssistant:
		return handleAssistant(ctx, event, req, cb, result)

	case agent.EventToolUse:
		if event.Tool == nil {
			return nil
		}
		if err := gateTool(ctx, event.Tool.Name, event.Tool.Input, req, cb); err != nil {
			return err
		}
		if cb.OnToolUse != nil {
			return cb.OnToolUse(ctx, event.Tool.ID, event.Tool.Name, decodeInput(event.Tool.Input))
		}

	case agent.EventToolResult:
		if event.Tool == nil || cb.OnToolResult == nil {
			return nil
		}
		return cb.OnToolResult(ctx, event.Tool.ID, event.Tool.Output, event.IsErrorResult)

	case agent.EventResult:
		if event.Usage != nil {
			result.Usage.InputTokens += event.Usage.InputTokens
			result.Usage.CachedTokens += event.Usage.CachedInputTokens
			result.Usage.OutputTokens += event.Usage.OutputTokens
			if cb.OnUsage != nil {
				if err := cb.OnUsage(ctx, result.Usage); err != nil {
					return err
				}
			}
		}
		if event.IsErrorResult {
			return fmt.Errorf("vendor run failed: %s", event.ErrorMessage())
		}
		if event.Result != "" && result.FinalText == "" {
			result.FinalText = event.Result
		}

	case agent.EventError:
		return fmt.Errorf("vendor error: %s", event.ErrorMessage())
	}

	return nil
}

func handleAssistant(ctx context.Context, event agent.Event, req *Request, cb Callbacks, result *Result) error {
	if event.Message == nil {
		return nil
	}
	if event.Message.Model != "" {
		result.ResolvedModel = event.Message.Model
	}

	if text := event.Message.Text(); text != "" {
		if !event.Delta {
			result.FinalText = text
		}
		if cb.OnText != nil {
			if err := cb.OnText(ctx, text, event.Delta); err != nil {
				return err
			}
		}
	}

	// Tool uses embedded in assistant message content get the same gating as
	// standalone tool_use events.
	for _, use := range event.Message.ToolUses() {
		if err := gateTool(ctx, use.Name, use.Input, req, cb); err != nil {
			return err
		}
		if cb.OnToolUse != nil {
			if err := cb.OnToolUse(ctx, use.ID, use.Name, decodeInput(use.Input)); err != nil {
				return err
			}
		}
	}

	return nil
}

// gateTool enforces the session allow-list. Tools off the list block on a
// synchronous permission request; a deny aborts the run. An allow scoped
// beyond once widens the run's allow-list so the same tool does not block
// again.
func gateTool(ctx context.Context, name string, input json.RawMessage, req *Request, cb Callbacks) error {
	if name == "" || req.skipPermissions() || req.toolAllowed(name) {
		return nil
	}
	if cb.OnPermissionRequest == nil {
		return nil
	}

	allowed, scope, err := cb.OnPermissionRequest(ctx, name, inputPreview(input))
	if err != nil {
		return fmt.Errorf("permission request for %s: %w", name, err)
	}
	if !allowed {
		return fmt.Errorf("%w: %s", ErrPermissionDenied, name)
	}
	if scope == models.PermissionScopeTask || scope == models.PermissionScopeSession {
		req.allowTool(name)
	}
	return nil
}

func decodeInput(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var input map[string]any
	if err := json.Unmarshal(raw, &input); err != nil {
		return map[string]any{"raw": string(raw)}
	}
	return input
}

func inputPreview(raw json.RawMessage) string {
	s := string(raw)
	if len(s) > previewLimit {
		return s[:previewLimit]
	}
	return s
}
