package service

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agor-sh/agor/internal/common/logger"
	"github.com/agor-sh/agor/internal/events/bus"
	"github.com/agor-sh/agor/internal/store/models"
	"github.com/agor-sh/agor/internal/store/repository"
)

// MCPService manages MCP server definitions and session assignments.
type MCPService struct {
	repo   repository.Repository
	pub    *publisher
	logger *logger.Logger
}

// NewMCPService creates an MCP service.
func NewMCPService(repo repository.Repository, eventBus bus.EventBus, log *logger.Logger) *MCPService {
	return &MCPService{
		repo:   repo,
		pub:    &publisher{bus: eventBus, logger: log},
		logger: log.WithFields(zap.String("component", "mcp-service")),
	}
}

// Create registers a server definition.
func (s *MCPService) Create(ctx context.Context, p Principal, server *models.MCPServer) (*models.MCPServer, error) {
	if server.ID == "" {
		server.ID = uuid.New().String()
	}
	if server.Scope == "" {
		server.Scope = models.MCPScopeGlobal
	}
	if server.Scope == models.MCPScopeGlobal {
		server.OwnerID = p.UserID
	}
	if server.Source == "" {
		server.Source = models.MCPSourceUser
	}
	if err := s.repo.CreateMCPServer(ctx, server); err != nil {
		return nil, FromRepository(err)
	}
	return server, nil
}

// Get loads a server definition.
func (s *MCPService) Get(ctx context.Context, p Principal, id string) (*models.MCPServer, error) {
	server, err := s.repo.GetMCPServer(ctx, id)
	if err != nil {
		return nil, FromRepository(err)
	}
	return server, nil
}

// Update persists changes to a definition the principal owns.
func (s *MCPService) Update(ctx context.Context, p Principal, server *models.MCPServer) error {
	existing, err := s.repo.GetMCPServer(ctx, server.ID)
	if err != nil {
		return FromRepository(err)
	}
	if existing.OwnerID != "" && existing.OwnerID != p.UserID && !p.IsAdmin() {
		return NewError(KindForbidden, "mcp server belongs to another user")
	}
	return FromRepository(s.repo.UpdateMCPServer(ctx, server))
}

// Remove deletes a definition; session assignments cascade.
func (s *MCPService) Remove(ctx context.Context, p Principal, id string) error {
	existing, err := s.repo.GetMCPServer(ctx, id)
	if err != nil {
		return FromRepository(err)
	}
	if existing.OwnerID != "" && existing.OwnerID != p.UserID && !p.IsAdmin() {
		return NewError(KindForbidden, "mcp server belongs to another user")
	}
	return FromRepository(s.repo.DeleteMCPServer(ctx, id))
}

// Assign attaches a server to a session, switching it to isolated mode.
func (s *MCPService) Assign(ctx context.Context, p Principal, sessionID, serverID string) error {
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return FromRepository(err)
	}
	if err := p.CanAccessSession(session); err != nil {
		return err
	}
	if _, err := s.repo.GetMCPServer(ctx, serverID); err != nil {
		return FromRepository(err)
	}
	return FromRepository(s.repo.AssignMCPServer(ctx, &models.SessionMCPAssignment{
		SessionID:   sessionID,
		MCPServerID: serverID,
		Enabled:     true,
	}))
}

// Unassign detaches a server from a session.
func (s *MCPService) Unassign(ctx context.Context, p Principal, sessionID, serverID string) error {
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return FromRepository(err)
	}
	if err := p.CanAccessSession(session); err != nil {
		return err
	}
	return FromRepository(s.repo.UnassignMCPServer(ctx, sessionID, serverID))
}
