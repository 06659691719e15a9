package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agor-sh/agor/internal/common/logger"
	"github.com/agor-sh/agor/internal/events"
	"github.com/agor-sh/agor/internal/events/bus"
	"github.com/agor-sh/agor/internal/store/models"
	"github.com/agor-sh/agor/internal/store/repository"
)

// TaskLauncher starts and cancels executor subprocesses. Implemented by
// the scheduler; split out so the service layer stays process-agnostic.
type TaskLauncher interface {
	// Launch spawns an executor for a claimed task.
	Launch(ctx context.Context, session *models.Session, task *models.Task) error
	// Cancel aborts the running execution of a task. Cancelling a task
	// that is not running is a no-op.
	Cancel(ctx context.Context, taskID string) error
}

// PromptOptions tune a single prompt invocation.
type PromptOptions struct {
	PermissionMode string
	AllowedTools   []string
	Model          *models.ModelConfig
}

// SessionService owns session lifecycle and the prompt/fork/spawn/cancel
// verbs.
type SessionService struct {
	repo     repository.Repository
	launcher TaskLauncher
	pub      *publisher
	logger   *logger.Logger
}

// NewSessionService creates a session service.
func NewSessionService(repo repository.Repository, eventBus bus.EventBus, launcher TaskLauncher, log *logger.Logger) *SessionService {
	return &SessionService{
		repo:     repo,
		launcher: launcher,
		pub:      &publisher{bus: eventBus, logger: log},
		logger:   log.WithFields(zap.String("component", "session-service")),
	}
}

// CreateSessionRequest is the input for Create.
type CreateSessionRequest struct {
	Title          string             `json:"title"`
	Tool           models.ToolFamily  `json:"tool"`
	WorktreeID     string             `json:"worktree_id"`
	PermissionMode string             `json:"permission_mode,omitempty"`
	AllowedTools   []string           `json:"allowed_tools,omitempty"`
	Model          models.ModelConfig `json:"model"`
}

// Create makes a new idle session bound to a worktree.
func (s *SessionService) Create(ctx context.Context, p Principal, req CreateSessionRequest) (*models.Session, error) {
	if !req.Tool.Valid() {
		return nil, NewError(KindValidation, "unknown tool family %q", req.Tool)
	}
	wt, err := s.repo.GetWorktree(ctx, req.WorktreeID)
	if err != nil {
		return nil, FromRepository(err)
	}

	session := &models.Session{
		ID:             models.NewSessionID(),
		Title:          req.Title,
		CreatedBy:      p.UserID,
		Tool:           req.Tool,
		Status:         models.SessionStatusIdle,
		WorktreeID:     wt.ID,
		WorkingDir:     wt.Path,
		Git:            models.GitState{Ref: wt.Ref},
		PermissionMode: req.PermissionMode,
		AllowedTools:   req.AllowedTools,
		Model:          req.Model,
	}
	if session.Model.Mode == "" {
		session.Model.Mode = models.ModelModeAlias
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, FromRepository(err)
	}

	s.pub.publish(ctx, events.SubjectSessionCreated, events.TypeSessionCreated, "sessions", "created", session)
	s.logger.Info("session created",
		zap.String("session_id", session.ID),
		zap.String("tool", string(session.Tool)))
	return session, nil
}

// Get loads a session after an ownership check.
func (s *SessionService) Get(ctx context.Context, p Principal, id string) (*models.Session, error) {
	session, err := s.repo.GetSession(ctx, id)
	if err != nil {
		return nil, FromRepository(err)
	}
	if err := p.CanAccessSession(session); err != nil {
		return nil, err
	}
	return session, nil
}

// List returns the principal's sessions.
func (s *SessionService) List(ctx context.Context, p Principal, filter repository.SessionFilter) ([]*models.Session, error) {
	if !p.IsAdmin() {
		filter.CreatedBy = p.UserID
	}
	sessions, err := s.repo.ListSessions(ctx, filter)
	if err != nil {
		return nil, FromRepository(err)
	}
	return sessions, nil
}

// PatchSessionRequest holds the fields a client may change directly.
type PatchSessionRequest struct {
	Title          *string             `json:"title,omitempty"`
	AgentSessionID *string             `json:"agent_session_id,omitempty"`
	AllowedTools   []string            `json:"allowed_tools,omitempty"`
	PermissionMode *string             `json:"permission_mode,omitempty"`
	Model          *models.ModelConfig `json:"model,omitempty"`
	Git            *models.GitState    `json:"git,omitempty"`
}

// Patch applies a partial update and publishes the patched session.
func (s *SessionService) Patch(ctx context.Context, p Principal, id string, req PatchSessionRequest) (*models.Session, error) {
	session, err := s.Get(ctx, p, id)
	if err != nil {
		return nil, err
	}

	if req.Title != nil {
		session.Title = *req.Title
	}
	if req.AgentSessionID != nil {
		// Resume token write path: only the owning executor does this.
		if err := s.repo.SetAgentSessionID(ctx, id, *req.AgentSessionID); err != nil {
			return nil, FromRepository(err)
		}
		session.AgentSessionID = *req.AgentSessionID
	}
	if req.AllowedTools != nil {
		session.AllowedTools = req.AllowedTools
	}
	if req.PermissionMode != nil {
		session.PermissionMode = *req.PermissionMode
	}
	if req.Model != nil {
		session.Model = *req.Model
	}
	if req.Git != nil {
		session.Git = *req.Git
	}

	if err := s.repo.UpdateSession(ctx, session); err != nil {
		return nil, FromRepository(err)
	}

	s.pub.publish(ctx, events.SubjectSessionPatched, events.TypeSessionPatched, "sessions", "patched", session)
	return session, nil
}

// Remove deletes a session on explicit user command; tasks and messages
// cascade.
func (s *SessionService) Remove(ctx context.Context, p Principal, id string) error {
	session, err := s.Get(ctx, p, id)
	if err != nil {
		return err
	}
	if session.IsBusy() {
		return NewError(KindConflict, "session %s has a running task", id)
	}
	if err := s.repo.DeleteSession(ctx, id); err != nil {
		return FromRepository(err)
	}
	s.pub.publish(ctx, events.SubjectSessionRemoved, events.TypeSessionRemoved, "sessions", "removed", session)
	return nil
}

// Prompt enqueues one unit of work and returns the new task id
// synchronously; progress is observed through events. A busy session is
// rejected before any subprocess is spawned.
func (s *SessionService) Prompt(ctx context.Context, p Principal, sessionID, prompt string, opts PromptOptions) (*models.Task, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, NewError(KindValidation, "prompt must not be empty")
	}
	session, err := s.Get(ctx, p, sessionID)
	if err != nil {
		return nil, err
	}

	if opts.PermissionMode != "" || opts.AllowedTools != nil || opts.Model != nil {
		patch := PatchSessionRequest{AllowedTools: opts.AllowedTools, Model: opts.Model}
		if opts.PermissionMode != "" {
			patch.PermissionMode = &opts.PermissionMode
		}
		if session, err = s.Patch(ctx, p, sessionID, patch); err != nil {
			return nil, err
		}
	}

	task := &models.Task{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		Status:      models.TaskStatusPending,
		Description: taskDescription(prompt),
		Prompt:      prompt,
		StartCommit: session.Git.CurrentCommit,
	}
	if err := s.repo.ClaimSessionTask(ctx, task); err != nil {
		return nil, FromRepository(err)
	}

	s.pub.publish(ctx, events.SubjectTaskCreated, events.TypeTaskCreated, "tasks", "created", task)

	// The prompt opens the task's transcript range: it is persisted before
	// the executor starts so the first message of every task is the user's.
	userMsg := &models.Message{
		ID:             uuid.New().String(),
		SessionID:      sessionID,
		TaskID:         task.ID,
		Role:           models.RoleUser,
		Content:        models.Content{models.TextBlock(prompt)},
		ContentPreview: taskDescription(prompt),
	}
	if err := s.repo.AppendMessage(ctx, userMsg); err != nil {
		if finishErr := s.repo.FinishTask(ctx, task.ID, models.TaskStatusFailed, "prompt write failed"); finishErr != nil {
			s.logger.Error("failed to release task after prompt write failure",
				zap.String("task_id", task.ID), zap.Error(finishErr))
		}
		return nil, FromRepository(err)
	}
	s.pub.publish(ctx, events.SubjectMessageAppended, events.TypeMessageAppended, "messages", "created", userMsg)

	if err := s.launcher.Launch(ctx, session, task); err != nil {
		// Roll the claim back so the session is promptable again.
		if finishErr := s.repo.FinishTask(ctx, task.ID, models.TaskStatusFailed, "spawn failed"); finishErr != nil {
			s.logger.Error("failed to release task after spawn failure",
				zap.String("task_id", task.ID), zap.Error(finishErr))
		}
		return nil, WrapError(KindTransient, err, "failed to start executor")
	}

	s.logger.Info("task enqueued",
		zap.String("session_id", sessionID),
		zap.String("task_id", task.ID))
	return task, nil
}

// Fork creates a sibling session branching at a task. Messages are not
// cloned and the vendor resume token is deliberately dropped: the fork
// starts a fresh vendor conversation from the same repo state.
func (s *SessionService) Fork(ctx context.Context, p Principal, sessionID, taskID, prompt string) (*models.Session, *models.Task, error) {
	origin, err := s.Get(ctx, p, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if _, err := s.taskInSession(ctx, taskID, sessionID); err != nil {
		return nil, nil, err
	}

	fork := &models.Session{
		ID:         models.NewSessionID(),
		Title:      origin.Title + " (fork)",
		CreatedBy:  p.UserID,
		Tool:       origin.Tool,
		Status:     models.SessionStatusIdle,
		WorktreeID: origin.WorktreeID,
		WorkingDir: origin.WorkingDir,
		Git:        origin.Git,
		Genealogy: models.Genealogy{
			ForkedFrom:    origin.ID,
			ForkPointTask: taskID,
			// A fork is a sibling: it inherits the origin's parent, not
			// the origin itself.
			ParentSession:  origin.Genealogy.ParentSession,
			SpawnPointTask: origin.Genealogy.SpawnPointTask,
		},
		PermissionMode: origin.PermissionMode,
		AllowedTools:   append([]string(nil), origin.AllowedTools...),
		Model:          origin.Model,
	}
	if err := s.repo.CreateSession(ctx, fork); err != nil {
		return nil, nil, FromRepository(err)
	}
	s.pub.publish(ctx, events.SubjectSessionCreated, events.TypeSessionCreated, "sessions", "created", fork)

	task, err := s.Prompt(ctx, p, fork.ID, prompt, PromptOptions{})
	if err != nil {
		return fork, nil, err
	}
	return fork, task, nil
}

// Spawn creates a child session inheriting the parent's model and
// permission config.
func (s *SessionService) Spawn(ctx context.Context, p Principal, sessionID, taskID, prompt string) (*models.Session, *models.Task, error) {
	parent, err := s.Get(ctx, p, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if _, err := s.taskInSession(ctx, taskID, sessionID); err != nil {
		return nil, nil, err
	}

	child := &models.Session{
		ID:         models.NewSessionID(),
		Title:      taskDescription(prompt),
		CreatedBy:  p.UserID,
		Tool:       parent.Tool,
		Status:     models.SessionStatusIdle,
		WorktreeID: parent.WorktreeID,
		WorkingDir: parent.WorkingDir,
		Git:        parent.Git,
		Genealogy: models.Genealogy{
			ParentSession:  parent.ID,
			SpawnPointTask: taskID,
		},
		PermissionMode: parent.PermissionMode,
		AllowedTools:   append([]string(nil), parent.AllowedTools...),
		Model:          parent.Model,
	}
	if err := s.repo.CreateSession(ctx, child); err != nil {
		return nil, nil, FromRepository(err)
	}
	s.pub.publish(ctx, events.SubjectSessionCreated, events.TypeSessionCreated, "sessions", "created", child)

	task, err := s.Prompt(ctx, p, child.ID, prompt, PromptOptions{})
	if err != nil {
		return child, nil, err
	}
	return child, task, nil
}

// Cancel aborts a running task. Cancelling an already-terminal task is
// idempotent and returns success.
func (s *SessionService) Cancel(ctx context.Context, p Principal, sessionID, taskID string) error {
	if _, err := s.Get(ctx, p, sessionID); err != nil {
		return err
	}
	task, err := s.taskInSession(ctx, taskID, sessionID)
	if err != nil {
		return err
	}
	if task.Status.IsTerminal() {
		return nil
	}

	if err := s.launcher.Cancel(ctx, taskID); err != nil {
		return WrapError(KindInternal, err, "failed to signal cancellation")
	}
	return nil
}

// taskInSession loads a task and verifies it belongs to the session.
func (s *SessionService) taskInSession(ctx context.Context, taskID, sessionID string) (*models.Task, error) {
	task, err := s.repo.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, NewError(KindNotFound, "task %s not found", taskID)
		}
		return nil, FromRepository(err)
	}
	if task.SessionID != sessionID {
		return nil, NewError(KindValidation, "task %s does not belong to session %s", taskID, sessionID)
	}
	return task, nil
}

// taskDescription derives a short description from the prompt.
func taskDescription(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if line, _, found := strings.Cut(prompt, "\n"); found {
		prompt = line
	}
	const max = 80
	if len(prompt) > max {
		return prompt[:max-1] + "…"
	}
	return prompt
}
