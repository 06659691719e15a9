// Package permission arbitrates tool calls that fall outside a
// session's allow-list. The executor blocks on Request while a client
// decides; the first decision wins and scope may extend the allow-list.
package permission

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agor-sh/agor/internal/common/logger"
	"github.com/agor-sh/agor/internal/events"
	"github.com/agor-sh/agor/internal/events/bus"
	"github.com/agor-sh/agor/internal/service"
	"github.com/agor-sh/agor/internal/store/models"
	"github.com/agor-sh/agor/internal/store/repository"
)

// minTimeout is the floor for the decision window.
const minTimeout = 30 * time.Second

type decision struct {
	behavior models.PermissionBehavior
	scope    models.PermissionScope
}

// Arbiter mediates permission requests between executors and clients.
type Arbiter struct {
	repo    repository.Repository
	bus     bus.EventBus
	timeout time.Duration
	logger  *logger.Logger

	mu      sync.Mutex
	waiters map[string]chan decision
}

// NewArbiter creates an arbiter. Timeouts below 30s are raised to 30s.
func NewArbiter(repo repository.Repository, eventBus bus.EventBus, timeout time.Duration, log *logger.Logger) *Arbiter {
	if timeout < minTimeout {
		timeout = minTimeout
	}
	return &Arbiter{
		repo:    repo,
		bus:     eventBus,
		timeout: timeout,
		logger:  log.WithFields(zap.String("component", "permission-arbiter")),
		waiters: make(map[string]chan decision),
	}
}

// Request records a pending permission request, fans it out on the
// event bus, and blocks until a decision arrives or the window expires.
// The decided scope is returned so the executor can widen its own
// allow-list for the rest of the run. Expiry and context cancellation
// both resolve to a once-scoped deny.
func (a *Arbiter) Request(ctx context.Context, sessionID, taskID, toolName, inputPreview string) (models.PermissionBehavior, models.PermissionScope, error) {
	req := &models.PermissionRequest{
		ID:           uuid.New().String(),
		SessionID:    sessionID,
		TaskID:       taskID,
		ToolName:     toolName,
		InputPreview: inputPreview,
		Status:       models.PermissionStatusPending,
	}
	if err := a.repo.CreatePermissionRequest(ctx, req); err != nil {
		return models.PermissionDeny, models.PermissionScopeOnce, service.FromRepository(err)
	}

	ch := make(chan decision, 1)
	a.mu.Lock()
	a.waiters[req.ID] = ch
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.waiters, req.ID)
		a.mu.Unlock()
	}()

	a.publish(ctx, events.SubjectPermissionRequested, events.TypePermissionCreated, req)
	a.logger.Info("permission requested",
		zap.String("request_id", req.ID),
		zap.String("tool", toolName),
		zap.String("session_id", sessionID))

	timer := time.NewTimer(a.timeout)
	defer timer.Stop()

	select {
	case d := <-ch:
		return d.behavior, d.scope, nil
	case <-timer.C:
		if err := a.repo.ExpirePermissionRequest(ctx, req.ID); err != nil {
			a.logger.Error("failed to expire permission request",
				zap.String("request_id", req.ID), zap.Error(err))
		}
		expired, err := a.repo.GetPermissionRequest(ctx, req.ID)
		if err == nil {
			a.publish(ctx, events.SubjectPermissionResolved, events.TypePermissionResolved, expired)
		}
		a.logger.Warn("permission request timed out, denying",
			zap.String("request_id", req.ID))
		return models.PermissionDeny, models.PermissionScopeOnce, nil
	case <-ctx.Done():
		return models.PermissionDeny, models.PermissionScopeOnce, ctx.Err()
	}
}

// Decide records the first decision for a request. Scope task or
// session extends the session's allow-list before the executor resumes.
func (a *Arbiter) Decide(ctx context.Context, p service.Principal, requestID string, behavior models.PermissionBehavior, scope models.PermissionScope) error {
	if behavior != models.PermissionAllow && behavior != models.PermissionDeny {
		return service.NewError(service.KindValidation, "behavior must be allow or deny")
	}
	if scope == "" {
		scope = models.PermissionScopeOnce
	}

	req, err := a.repo.GetPermissionRequest(ctx, requestID)
	if err != nil {
		return service.FromRepository(err)
	}
	session, err := a.repo.GetSession(ctx, req.SessionID)
	if err != nil {
		return service.FromRepository(err)
	}
	if err := p.CanAccessSession(session); err != nil {
		return err
	}

	if err := a.repo.ResolvePermissionRequest(ctx, requestID, behavior, scope, p.UserID); err != nil {
		return service.FromRepository(err)
	}

	// Extend the allow-list before unblocking the adapter, so the
	// in-flight tool call and later ones in scope proceed cleanly.
	if behavior == models.PermissionAllow && scope != models.PermissionScopeOnce && !session.ToolAllowed(req.ToolName) {
		tools := append(append([]string(nil), session.AllowedTools...), req.ToolName)
		if err := a.repo.SetSessionAllowedTools(ctx, session.ID, tools); err != nil {
			return service.FromRepository(err)
		}
	}

	a.mu.Lock()
	ch, ok := a.waiters[requestID]
	a.mu.Unlock()
	if ok {
		select {
		case ch <- decision{behavior: behavior, scope: scope}:
		default:
		}
	}

	resolved, err := a.repo.GetPermissionRequest(ctx, requestID)
	if err == nil {
		a.publish(ctx, events.SubjectPermissionResolved, events.TypePermissionResolved, resolved)
	}
	return nil
}

// List returns a session's permission requests after an ownership check.
func (a *Arbiter) List(ctx context.Context, p service.Principal, sessionID string, pendingOnly bool) ([]*models.PermissionRequest, error) {
	session, err := a.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, service.FromRepository(err)
	}
	if err := p.CanAccessSession(session); err != nil {
		return nil, err
	}
	requests, err := a.repo.ListPermissionRequests(ctx, sessionID, pendingOnly)
	if err != nil {
		return nil, service.FromRepository(err)
	}
	return requests, nil
}

func (a *Arbiter) publish(ctx context.Context, subject, eventType string, payload any) {
	event := bus.NewEvent(eventType, "daemon", payload)
	if err := a.bus.Publish(ctx, subject, event); err != nil {
		a.logger.Error("failed to publish permission event",
			zap.String("subject", subject), zap.Error(err))
	}
}
