package importer

import (
	"context"
	"strings"
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

// Service persists parsed transcripts.
type Service struct {
	repo   repository.Repository
	bus    bus.EventBus
	logger *logger.Logger
}

// NewService creates the import service.
func NewService(repo repository.Repository, eventBus bus.EventBus, log *logger.Logger) *Service {
	return &Service{
		repo:   repo,
		bus:    eventBus,
		logger: log.WithFields(zap.String("component", "importer")),
	}
}

// Import persists a transcript as a session with one completed task.
// The vendor session id is the idempotency key: if a session of the
// same tool family already carries it, that session is returned
// unchanged and created is false.
func (s *Service) Import(ctx context.Context, p service.Principal, t *Transcript) (session *models.Session, created bool, err error) {
	if t.VendorSessionID == "" {
		return nil, false, service.NewError(service.KindValidation, "transcript has no vendor session id")
	}
	if len(t.Messages) == 0 {
		return nil, false, service.NewError(service.KindValidation, "transcript has no messages")
	}

	if existing, err := s.findExisting(ctx, t); err != nil {
		return nil, false, err
	} else if existing != nil {
		s.logger.Info("transcript already imported",
			zap.String("session_id", existing.ID),
			zap.String("vendor_session_id", t.VendorSessionID))
		return existing, false, nil
	}

	wt, err := s.ensureWorktree(ctx, p, t.WorkDir)
	if err != nil {
		return nil, false, err
	}

	prompt := t.FirstPrompt()
	session = &models.Session{
		ID:         models.NewSessionID(),
		Title:      preview(prompt),
		CreatedBy:  p.UserID,
		Tool:       t.Tool,
		Status:     models.SessionStatusIdle,
		WorktreeID: wt.ID,
		WorkingDir: t.WorkDir,
		Model:      models.ModelConfig{Mode: models.ModelModeAlias, Model: t.Model},
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, false, service.FromRepository(err)
	}
	if err := s.repo.SetAgentSessionID(ctx, session.ID, t.VendorSessionID); err != nil {
		return nil, false, service.FromRepository(err)
	}
	session.AgentSessionID = t.VendorSessionID

	now := time.Now().UTC()
	task := &models.Task{
		ID:            uuid.New().String(),
		SessionID:     session.ID,
		Status:        models.TaskStatusCompleted,
		Description:   preview(prompt),
		Prompt:        prompt,
		StartIndex:    0,
		EndIndex:      len(t.Messages) - 1,
		ToolUseCount:  t.ToolUseCount(),
		ResolvedModel: t.Model,
		CompletedAt:   &now,
	}
	if err := s.repo.CreateTask(ctx, task); err != nil {
		return nil, false, service.FromRepository(err)
	}

	for _, m := range t.Messages {
		msg := &models.Message{
			ID:             uuid.New().String(),
			SessionID:      session.ID,
			TaskID:         task.ID,
			Role:           m.Role,
			Content:        m.Content,
			ContentPreview: preview(m.Content.PlainText()),
			Metadata:       m.Meta,
		}
		if err := s.repo.AppendMessage(ctx, msg); err != nil {
			return nil, false, service.FromRepository(err)
		}
	}

	s.publish(ctx, events.SubjectSessionCreated, events.TypeSessionCreated, "sessions", "created", session)
	s.logger.Info("transcript imported",
		zap.String("session_id", session.ID),
		zap.String("tool", string(t.Tool)),
		zap.String("vendor_session_id", t.VendorSessionID),
		zap.Int("messages", len(t.Messages)))
	return session, true, nil
}

// findExisting scans for a prior import of the same vendor conversation.
// Session counts are small on a single host, so a list-and-match keeps
// the repository surface free of an import-only query.
func (s *Service) findExisting(ctx context.Context, t *Transcript) (*models.Session, error) {
	sessions, err := s.repo.ListSessions(ctx, repository.SessionFilter{})
	if err != nil {
		return nil, service.FromRepository(err)
	}
	for _, sess := range sessions {
		if sess.Tool == t.Tool && sess.AgentSessionID == t.VendorSessionID {
			return sess, nil
		}
	}
	return nil, nil
}

// ensureWorktree finds or records the worktree for the transcript's
// working directory. Imported directories were checked out by the
// vendor tool, so no git worktree is created on disk.
func (s *Service) ensureWorktree(ctx context.Context, p service.Principal, workDir string) (*models.Worktree, error) {
	if workDir == "" {
		return nil, service.NewError(service.KindValidation, "transcript has no working directory")
	}
	worktrees, err := s.repo.ListWorktrees(ctx)
	if err != nil {
		return nil, service.FromRepository(err)
	}
	for _, wt := range worktrees {
		if wt.Path == workDir {
			return wt, nil
		}
	}

	wt := &models.Worktree{
		ID:        uuid.New().String(),
		RepoID:    workDir,
		Path:      workDir,
		CreatedBy: p.UserID,
	}
	if err := s.repo.CreateWorktree(ctx, wt); err != nil {
		return nil, service.FromRepository(err)
	}
	s.publish(ctx, events.SubjectWorktreeCreated, events.TypeWorktreeCreated, "worktrees", "created", wt)
	return wt, nil
}

func (s *Service) publish(ctx context.Context, subject, eventType, serviceName, verb string, entity any) {
	event := bus.NewEvent(eventType, "daemon", service.Payload{
		Service: serviceName,
		Verb:    verb,
		Payload: entity,
	})
	if err := s.bus.Publish(ctx, subject, event); err != nil {
		s.logger.Error("failed to publish event",
			zap.String("subject", subject), zap.Error(err))
	}
}

func preview(text string) string {
	text = strings.TrimSpace(text)
	if line, _, found := strings.Cut(text, "\n"); found {
		text = line
	}
	const max = 80
	if len(text) > max {
		return text[:max-1] + "…"
	}
	return text
}
