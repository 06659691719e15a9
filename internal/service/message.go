package service

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agor-sh/agor/internal/common/logger"
	"github.com/agor-sh/agor/internal/events"
	"github.com/agor-sh/agor/internal/events/bus"
	"github.com/agor-sh/agor/internal/store/models"
	"github.com/agor-sh/agor/internal/store/repository"
)

// MessageService appends to and reads the per-session transcript.
type MessageService struct {
	repo   repository.Repository
	pub    *publisher
	logger *logger.Logger
}

// NewMessageService creates a message service.
func NewMessageService(repo repository.Repository, eventBus bus.EventBus, log *logger.Logger) *MessageService {
	return &MessageService{
		repo:   repo,
		pub:    &publisher{bus: eventBus, logger: log},
		logger: log.WithFields(zap.String("component", "message-service")),
	}
}

// Append writes one message, allocating the next dense index. A
// tool_result without a matching earlier tool_use is a protocol
// irregularity worth a warning, not a rejection.
func (s *MessageService) Append(ctx context.Context, p Principal, msg *models.Message) (*models.Message, error) {
	session, err := s.repo.GetSession(ctx, msg.SessionID)
	if err != nil {
		return nil, FromRepository(err)
	}
	if err := p.CanAccessSession(session); err != nil {
		return nil, err
	}

	s.warnDanglingToolResults(ctx, msg)

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.ContentPreview == "" {
		msg.ContentPreview = taskDescription(msg.Content.PlainText())
	}
	if err := s.repo.AppendMessage(ctx, msg); err != nil {
		return nil, FromRepository(err)
	}

	s.pub.publish(ctx, events.SubjectMessageAppended, events.TypeMessageAppended, "messages", "created", msg)
	return msg, nil
}

// List returns messages in index order.
func (s *MessageService) List(ctx context.Context, p Principal, sessionID string, opts repository.ListMessagesOptions) ([]*models.Message, error) {
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, FromRepository(err)
	}
	if err := p.CanAccessSession(session); err != nil {
		return nil, err
	}
	msgs, err := s.repo.ListMessages(ctx, sessionID, opts)
	if err != nil {
		return nil, FromRepository(err)
	}
	return msgs, nil
}

// Patch replaces the preview or finalizes token counts; text blocks are
// immutable once appended.
func (s *MessageService) Patch(ctx context.Context, p Principal, id string, preview *string, meta *models.MessageMetadata) (*models.Message, error) {
	msg, err := s.repo.GetMessage(ctx, id)
	if err != nil {
		return nil, FromRepository(err)
	}
	session, err := s.repo.GetSession(ctx, msg.SessionID)
	if err != nil {
		return nil, FromRepository(err)
	}
	if err := p.CanAccessSession(session); err != nil {
		return nil, err
	}

	if err := s.repo.PatchMessage(ctx, id, preview, meta); err != nil {
		return nil, FromRepository(err)
	}
	msg, err = s.repo.GetMessage(ctx, id)
	if err != nil {
		return nil, FromRepository(err)
	}
	s.pub.publish(ctx, events.SubjectMessageAppended, events.TypeMessageAppended, "messages", "patched", msg)
	return msg, nil
}

// warnDanglingToolResults logs tool_result blocks whose tool_use id was
// never seen in the session.
func (s *MessageService) warnDanglingToolResults(ctx context.Context, msg *models.Message) {
	var results []string
	for _, b := range msg.Content {
		if b.Type == models.BlockTypeToolResult && b.ToolUseID != "" {
			results = append(results, b.ToolUseID)
		}
	}
	if len(results) == 0 {
		return
	}

	known := make(map[string]bool)
	for _, b := range msg.Content {
		if b.Type == models.BlockTypeToolUse {
			known[b.ID] = true
		}
	}
	prior, err := s.repo.ListMessages(ctx, msg.SessionID, repository.ListMessagesOptions{AfterIndex: -1})
	if err != nil {
		return
	}
	for _, pm := range prior {
		for _, id := range pm.ToolUseIDs() {
			known[id] = true
		}
	}
	for _, id := range results {
		if !known[id] {
			s.logger.Warn("tool_result references unknown tool_use",
				zap.String("session_id", msg.SessionID),
				zap.String("tool_use_id", id))
		}
	}
}
