package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/agor-sh/agor/internal/common/logger"
	"github.com/agor-sh/agor/internal/events"
	"github.com/agor-sh/agor/internal/events/bus"
	"github.com/agor-sh/agor/internal/store/models"
	"github.com/agor-sh/agor/internal/store/repository"
)

// TaskService exposes task reads plus the progress writes an executor
// makes while running.
type TaskService struct {
	repo   repository.Repository
	pub    *publisher
	logger *logger.Logger
}

// NewTaskService creates a task service.
func NewTaskService(repo repository.Repository, eventBus bus.EventBus, log *logger.Logger) *TaskService {
	return &TaskService{
		repo:   repo,
		pub:    &publisher{bus: eventBus, logger: log},
		logger: log.WithFields(zap.String("component", "task-service")),
	}
}

// Get loads a task after verifying access to its session.
func (s *TaskService) Get(ctx context.Context, p Principal, id string) (*models.Task, error) {
	task, err := s.repo.GetTask(ctx, id)
	if err != nil {
		return nil, FromRepository(err)
	}
	if err := s.checkSessionAccess(ctx, p, task.SessionID); err != nil {
		return nil, err
	}
	return task, nil
}

// List returns a session's tasks in creation order.
func (s *TaskService) List(ctx context.Context, p Principal, sessionID string) ([]*models.Task, error) {
	if err := s.checkSessionAccess(ctx, p, sessionID); err != nil {
		return nil, err
	}
	tasks, err := s.repo.ListTasks(ctx, sessionID)
	if err != nil {
		return nil, FromRepository(err)
	}
	return tasks, nil
}

// Start marks a pending task running on the executor's first progress.
func (s *TaskService) Start(ctx context.Context, p Principal, id string) (*models.Task, error) {
	task, err := s.Get(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if task.Status != models.TaskStatusPending {
		return nil, NewError(KindConflict, "task %s is %s, not pending", id, task.Status)
	}

	now := time.Now().UTC()
	task.Status = models.TaskStatusRunning
	task.StartedAt = &now
	if err := s.repo.UpdateTask(ctx, task); err != nil {
		return nil, FromRepository(err)
	}

	s.pub.publish(ctx, events.SubjectTaskStarted, events.TypeTaskStarted, "tasks", "patched", task)
	return task, nil
}

// TaskResult carries the executor's final report for a task.
type TaskResult struct {
	Status        models.TaskStatus `json:"status"`
	FailureReason string            `json:"failure_reason,omitempty"`
	ResolvedModel string            `json:"resolved_model,omitempty"`
	InputTokens   int               `json:"input_tokens"`
	OutputTokens  int               `json:"output_tokens"`
	EndCommit     string            `json:"end_commit,omitempty"`
}

// Finish records the terminal status exactly once, stamping usage and
// the resolved model id captured at execution time.
func (s *TaskService) Finish(ctx context.Context, p Principal, id string, result TaskResult) (*models.Task, error) {
	task, err := s.Get(ctx, p, id)
	if err != nil {
		return nil, err
	}

	if result.ResolvedModel != "" || result.InputTokens > 0 || result.OutputTokens > 0 || result.EndCommit != "" {
		task.ResolvedModel = result.ResolvedModel
		task.InputTokens = result.InputTokens
		task.OutputTokens = result.OutputTokens
		task.EndCommit = result.EndCommit
		if err := s.repo.UpdateTask(ctx, task); err != nil {
			return nil, FromRepository(err)
		}
	}

	if err := s.repo.FinishTask(ctx, id, result.Status, result.FailureReason); err != nil {
		return nil, FromRepository(err)
	}

	task, err = s.repo.GetTask(ctx, id)
	if err != nil {
		return nil, FromRepository(err)
	}

	subject, eventType := events.SubjectTaskCompleted, events.TypeTaskCompleted
	switch {
	case result.FailureReason == models.FailureReasonCancelled:
		subject, eventType = events.SubjectTaskCancelled, events.TypeTaskCancelled
	case result.Status == models.TaskStatusFailed:
		subject, eventType = events.SubjectTaskFailed, events.TypeTaskFailed
	}
	s.pub.publish(ctx, subject, eventType, "tasks", "patched", task)

	s.logger.Info("task finished",
		zap.String("task_id", id),
		zap.String("status", string(task.Status)),
		zap.String("failure_reason", task.FailureReason))
	return task, nil
}

func (s *TaskService) checkSessionAccess(ctx context.Context, p Principal, sessionID string) error {
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return FromRepository(err)
	}
	return p.CanAccessSession(session)
}
