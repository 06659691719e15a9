// Package mcpserver embeds a Model Context Protocol server in the daemon so
// agents can coordinate through agor itself. It exposes session and board
// tools over SSE (/sse) and Streamable HTTP (/mcp) transports.
package mcpserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/agor-sh/agor/internal/common/config"
	"github.com/agor-sh/agor/internal/common/logger"
	"github.com/agor-sh/agor/internal/service"
)

// agentUsername is the daemon-local user MCP tool calls act as.
const agentUsername = "mcp-agent"

// Server hosts the MCP transports on their own port, separate from the
// HTTP gateway. Tools call the service layer in-process.
type Server struct {
	cfg      config.MCPConfig
	sessions *service.SessionService
	boards   *service.BoardService
	users    *service.UserService

	sseServer  *server.SSEServer
	httpServer *http.Server
	mu         sync.Mutex
	running    bool
	logger     *logger.Logger
}

// New creates the embedded MCP server. Call Start to begin listening.
func New(cfg config.MCPConfig, sessions *service.SessionService, boards *service.BoardService, users *service.UserService, log *logger.Logger) *Server {
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		boards:   boards,
		users:    users,
		logger:   log.WithFields(zap.String("component", "mcp-server")),
	}
}

// Start begins serving both transports and blocks until the listener
// closes. The agent principal is resolved once at startup.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("mcp server already running")
	}
	s.running = true
	s.mu.Unlock()

	agent, err := s.users.EnsureUser(ctx, agentUsername)
	if err != nil {
		return fmt.Errorf("failed to resolve mcp agent user: %w", err)
	}
	principal := service.Principal{UserID: agent.ID, Role: agent.Role}

	mcpServer := server.NewMCPServer(
		"agor-mcp",
		"1.0.0",
		server.WithToolCapabilities(true),
	)
	s.registerTools(mcpServer, principal)

	s.sseServer = server.NewSSEServer(mcpServer)
	streamable := server.NewStreamableHTTPServer(mcpServer,
		server.WithEndpointPath("/mcp"),
	)

	mux := http.NewServeMux()
	mux.Handle("/sse", s.sseServer.SSEHandler())
	mux.Handle("/message", s.sseServer.MessageHandler())
	mux.Handle("/mcp", streamable)

	addr := fmt.Sprintf("127.0.0.1:%d", s.cfg.ServerPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.mu.Lock()
	s.httpServer = &http.Server{Handler: mux}
	s.mu.Unlock()

	s.logger.Info("MCP server listening",
		zap.String("addr", addr),
		zap.String("sse_endpoint", "/sse"),
		zap.String("streamable_http_endpoint", "/mcp"))

	if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("mcp server error: %w", err)
	}
	return nil
}

// Shutdown drains both transports.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	httpSrv := s.httpServer
	sseSrv := s.sseServer
	s.running = false
	s.mu.Unlock()

	if httpSrv != nil {
		if err := httpSrv.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown mcp http server: %w", err)
		}
	}
	if sseSrv != nil {
		if err := sseSrv.Shutdown(ctx); err != nil {
			s.logger.Warn("failed to shutdown SSE transport", zap.Error(err))
		}
	}
	return nil
}
