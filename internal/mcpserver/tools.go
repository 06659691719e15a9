package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/agor-sh/agor/internal/service"
	"github.com/agor-sh/agor/internal/store/repository"
)

func (s *Server) registerTools(srv *server.MCPServer, principal service.Principal) {
	srv.AddTool(
		mcp.NewTool("list_sessions",
			mcp.WithDescription("List all agent sessions with their status, tool family, and working directory. Use this first to get session IDs for other operations."),
		),
		s.listSessionsHandler(principal),
	)

	srv.AddTool(
		mcp.NewTool("prompt_session",
			mcp.WithDescription("Send a prompt to an idle session. Returns the created task. Fails with a conflict if the session is already running a task."),
			mcp.WithString("session_id",
				mcp.Required(),
				mcp.Description("The session ID to prompt"),
			),
			mcp.WithString("prompt",
				mcp.Required(),
				mcp.Description("The prompt text to send to the agent"),
			),
		),
		s.promptSessionHandler(principal),
	)

	srv.AddTool(
		mcp.NewTool("list_boards",
			mcp.WithDescription("List all boards. Boards are spatial canvases that organize worktrees and their sessions."),
		),
		s.listBoardsHandler(principal),
	)

	s.logger.Info("registered MCP tools", zap.Int("count", 3))
}

func (s *Server) listSessionsHandler(principal service.Principal) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessions, err := s.sessions.List(ctx, principal, repository.SessionFilter{})
		if err != nil {
			s.logger.Error("failed to list sessions", zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("Failed to list sessions: %v", err)), nil
		}

		formatted, err := json.MarshalIndent(sessions, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to encode sessions: %v", err)), nil
		}
		return mcp.NewToolResultText(string(formatted)), nil
	}
}

func (s *Server) promptSessionHandler(principal service.Principal) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		prompt, err := req.RequireString("prompt")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		task, err := s.sessions.Prompt(ctx, principal, sessionID, prompt, service.PromptOptions{})
		if err != nil {
			s.logger.Error("failed to prompt session",
				zap.Error(err), zap.String("session_id", sessionID))
			return mcp.NewToolResultError(fmt.Sprintf("Failed to prompt session: %v", err)), nil
		}

		formatted, err := json.MarshalIndent(task, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to encode task: %v", err)), nil
		}
		return mcp.NewToolResultText(string(formatted)), nil
	}
}

func (s *Server) listBoardsHandler(principal service.Principal) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		boards, err := s.boards.List(ctx, principal)
		if err != nil {
			s.logger.Error("failed to list boards", zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("Failed to list boards: %v", err)), nil
		}

		formatted, err := json.MarshalIndent(boards, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to encode boards: %v", err)), nil
		}
		return mcp.NewToolResultText(string(formatted)), nil
	}
}
