package executor

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/agor-sh/agor/internal/common/logger"
	"github.com/agor-sh/agor/internal/executor/adapter"
	"github.com/agor-sh/agor/internal/service"
	"github.com/agor-sh/agor/internal/store/models"
	"github.com/agor-sh/agor/internal/tracing"
)

const finishTimeout = 10 * time.Second

// Runner executes one task end to end: load session, run the vendor adapter,
// stream messages back, terminalize the task.
type Runner struct {
	cfg    *Config
	client *Client
	logger *logger.Logger
}

// NewRunner creates a runner.
func NewRunner(cfg *Config, client *Client, log *logger.Logger) *Runner {
	return &Runner{
		cfg:    cfg,
		client: client,
		logger: log.WithFields(zap.String("component", "executor"), zap.String("task_id", cfg.TaskID)),
	}
}

// Run drives the task to a terminal state. The returned error is nil only
// when the task completed; the task row is terminalized in every path that
// reaches the daemon.
func (r *Runner) Run(ctx context.Context) error {
	ctx, span := tracing.Tracer("agor-executor").Start(ctx, "executor.run",
		trace.WithAttributes(
			attribute.String("session.id", r.cfg.SessionID),
			attribute.String("task.id", r.cfg.TaskID),
			attribute.String("tool.family", string(r.cfg.Tool)),
		))
	defer span.End()

	err := r.run(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (r *Runner) run(ctx context.Context) error {
	session, err := r.client.GetSession(ctx, r.cfg.SessionID)
	if err != nil {
		return err
	}

	if _, err := r.client.StartTask(ctx, r.cfg.TaskID); err != nil {
		return err
	}

	servers, err := r.client.MCPConfig(ctx, session.ID)
	if err != nil {
		// A broken MCP resolution degrades the run, it does not fail it.
		r.logger.Warn("mcp config unavailable", zap.Error(err))
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	var cancelled atomic.Bool
	cancelCh, err := r.client.WatchCancel(runCtx, r.cfg.TaskID)
	if err != nil {
		// No cancel channel means no abort signal either; per the contract a
		// daemon we cannot stream from is a daemon we must not run for.
		return err
	}
	go func() {
		<-cancelCh
		if runCtx.Err() == nil {
			cancelled.Store(true)
			r.logger.Info("cancel signal received")
		}
		cancelRun()
	}()

	a, err := adapter.ForFamily(session.Tool)
	if err != nil {
		r.finish(service.TaskResult{Status: models.TaskStatusFailed, FailureReason: err.Error()})
		return err
	}

	req := adapter.Request{
		Prompt:         r.cfg.Prompt,
		WorkDir:        session.WorkingDir,
		Model:          session.Model,
		ResumeToken:    session.AgentSessionID,
		AllowedTools:   session.AllowedTools,
		PermissionMode: r.permissionMode(session),
		MCPServers:     servers,
		Timeout:        r.cfg.Timeout,
	}

	result, runErr := a.ExecuteTask(runCtx, req, r.callbacks(session))

	if runErr != nil {
		reason := runErr.Error()
		if cancelled.Load() || errors.Is(runErr, context.Canceled) {
			reason = models.FailureReasonCancelled
		}
		r.finish(service.TaskResult{Status: models.TaskStatusFailed, FailureReason: reason})
		return runErr
	}

	r.finish(service.TaskResult{
		Status:        models.TaskStatusCompleted,
		ResolvedModel: result.ResolvedModel,
		InputTokens:   result.Usage.InputTokens + result.Usage.CachedTokens,
		OutputTokens:  result.Usage.OutputTokens,
	})
	return nil
}

// callbacks wires the adapter stream into the daemon transcript. Text deltas
// accumulate locally and flush as one message; tool uses and results persist
// as they arrive so linkage survives a mid-run crash.
func (r *Runner) callbacks(session *models.Session) adapter.Callbacks {
	var delta strings.Builder

	flushDelta := func(ctx context.Context) error {
		if delta.Len() == 0 {
			return nil
		}
		text := delta.String()
		delta.Reset()
		return r.appendMessage(ctx, session.ID, models.RoleAssistant, models.TextBlock(text), "")
	}

	return adapter.Callbacks{
		OnText: func(ctx context.Context, text string, isDelta bool) error {
			if isDelta {
				delta.WriteString(text)
				return nil
			}
			if err := flushDelta(ctx); err != nil {
				return err
			}
			return r.appendMessage(ctx, session.ID, models.RoleAssistant, models.TextBlock(text), "")
		},
		OnToolUse: func(ctx context.Context, id, name string, input map[string]any) error {
			if err := flushDelta(ctx); err != nil {
				return err
			}
			return r.appendMessage(ctx, session.ID, models.RoleAssistant, models.ToolUseBlock(id, name, input), "")
		},
		OnToolResult: func(ctx context.Context, toolUseID, output string, isError bool) error {
			return r.appendMessage(ctx, session.ID, models.RoleUser, models.ToolResultBlock(toolUseID, output, isError), "")
		},
		OnPermissionRequest: func(ctx context.Context, toolName, preview string) (bool, models.PermissionScope, error) {
			return r.client.RequestPermission(ctx, session.ID, r.cfg.TaskID, toolName, preview)
		},
		OnVendorSessionID: func(ctx context.Context, id string) error {
			return r.client.SetResumeToken(ctx, session.ID, id)
		},
	}
}

func (r *Runner) appendMessage(ctx context.Context, sessionID string, role models.MessageRole, block models.Block, model string) error {
	msg := &models.Message{
		SessionID: sessionID,
		TaskID:    r.cfg.TaskID,
		Role:      role,
		Content:   models.Content{block},
		Metadata:  models.MessageMetadata{Model: model},
	}
	if _, err := r.client.AppendMessage(ctx, msg); err != nil {
		return err
	}
	return nil
}

// permissionMode picks the per-invocation override, falling back to the
// session's configured mode.
func (r *Runner) permissionMode(session *models.Session) string {
	if r.cfg.PermissionMode != "" {
		return r.cfg.PermissionMode
	}
	return session.PermissionMode
}

// finish terminalizes the task on a fresh context: the run context is often
// already cancelled when we get here.
func (r *Runner) finish(result service.TaskResult) {
	ctx, cancel := context.WithTimeout(context.Background(), finishTimeout)
	defer cancel()
	if err := r.client.FinishTask(ctx, r.cfg.TaskID, result); err != nil {
		r.logger.Error("failed to terminalize task", zap.Error(err))
	}
}
