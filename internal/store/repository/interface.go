// Package repository defines the storage contract for the entity store.
package repository

import (
	"context"

	"github.com/agor-sh/agor/internal/store/models"
)

// ListMessagesOptions narrows a message listing.
type ListMessagesOptions struct {
	TaskID     string
	AfterIndex int // exclusive; -1 for all
	Limit      int
}

// SessionFilter narrows a session listing.
type SessionFilter struct {
	CreatedBy  string
	WorktreeID string
	Status     models.SessionStatus
}

// Repository defines storage operations for all durable entities.
// Implementations are safe for concurrent use.
type Repository interface {
	// Session operations.
	CreateSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	UpdateSession(ctx context.Context, session *models.Session) error
	DeleteSession(ctx context.Context, id string) error
	ListSessions(ctx context.Context, filter SessionFilter) ([]*models.Session, error)
	ListSessionChildren(ctx context.Context, id string) ([]string, error)
	// SetAgentSessionID persists the vendor resume token. Idempotent.
	SetAgentSessionID(ctx context.Context, sessionID, token string) error
	// SetSessionStatus transitions the session status.
	SetSessionStatus(ctx context.Context, sessionID string, status models.SessionStatus) error
	// SetSessionAllowedTools replaces the tool allow-list atomically.
	SetSessionAllowedTools(ctx context.Context, sessionID string, tools []string) error

	// Task operations.
	CreateTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	UpdateTask(ctx context.Context, task *models.Task) error
	ListTasks(ctx context.Context, sessionID string) ([]*models.Task, error)
	// ListRunningTasks returns tasks in status running across sessions,
	// used by restart reconciliation.
	ListRunningTasks(ctx context.Context) ([]*models.Task, error)
	// ClaimSessionTask creates the task and marks the session running in
	// one transaction; returns ErrSessionBusy if a task is already running.
	ClaimSessionTask(ctx context.Context, task *models.Task) error
	// FinishTask records the terminal status and releases the session.
	FinishTask(ctx context.Context, taskID string, status models.TaskStatus, failureReason string) error

	// Message operations.
	// AppendMessage allocates the next dense index for the session and
	// inserts in one transaction; the allocated index is written back to
	// msg.Index. Concurrent appenders for one session serialize.
	AppendMessage(ctx context.Context, msg *models.Message) error
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	ListMessages(ctx context.Context, sessionID string, opts ListMessagesOptions) ([]*models.Message, error)
	// PatchMessage may only replace the preview or finalize token counts.
	PatchMessage(ctx context.Context, id string, preview *string, meta *models.MessageMetadata) error

	// Worktree operations.
	CreateWorktree(ctx context.Context, wt *models.Worktree) error
	GetWorktree(ctx context.Context, id string) (*models.Worktree, error)
	UpdateWorktree(ctx context.Context, wt *models.Worktree) error
	// DeleteWorktree cascades to the worktree's sessions and their
	// tasks and messages.
	DeleteWorktree(ctx context.Context, id string) error
	ListWorktrees(ctx context.Context) ([]*models.Worktree, error)

	// Board operations.
	CreateBoard(ctx context.Context, board *models.Board) error
	GetBoard(ctx context.Context, id string) (*models.Board, error)
	UpdateBoard(ctx context.Context, board *models.Board) error
	DeleteBoard(ctx context.Context, id string) error
	ListBoards(ctx context.Context) ([]*models.Board, error)
	// UpsertBoardCanvasObject edits one key of the board's objects map in
	// a single transaction, avoiding client read-modify-write races.
	UpsertBoardCanvasObject(ctx context.Context, boardID, objectID string, obj models.CanvasObject) error
	RemoveBoardCanvasObject(ctx context.Context, boardID, objectID string) error
	BatchUpsertBoardCanvasObjects(ctx context.Context, boardID string, objs map[string]models.CanvasObject) error

	// BoardObject (worktree placement) operations.
	CreateBoardObject(ctx context.Context, obj *models.BoardObject) error
	DeleteBoardObject(ctx context.Context, id string) error
	ListBoardObjects(ctx context.Context, boardID string) ([]*models.BoardObject, error)
	// UpdateBoardObjectPosition is last-write-wins on (x, y).
	UpdateBoardObjectPosition(ctx context.Context, id string, x, y float64) error

	// MCP server operations.
	CreateMCPServer(ctx context.Context, server *models.MCPServer) error
	GetMCPServer(ctx context.Context, id string) (*models.MCPServer, error)
	UpdateMCPServer(ctx context.Context, server *models.MCPServer) error
	DeleteMCPServer(ctx context.Context, id string) error
	ListGlobalMCPServers(ctx context.Context, ownerID string) ([]*models.MCPServer, error)
	ListSessionMCPServers(ctx context.Context, sessionID string) ([]*models.MCPServer, error)
	AssignMCPServer(ctx context.Context, assignment *models.SessionMCPAssignment) error
	UnassignMCPServer(ctx context.Context, sessionID, serverID string) error

	// User operations.
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	ListUsers(ctx context.Context) ([]*models.User, error)

	// Permission request operations.
	CreatePermissionRequest(ctx context.Context, req *models.PermissionRequest) error
	GetPermissionRequest(ctx context.Context, id string) (*models.PermissionRequest, error)
	ListPermissionRequests(ctx context.Context, sessionID string, pendingOnly bool) ([]*models.PermissionRequest, error)
	// ResolvePermissionRequest records the first decision; a second call
	// returns ErrConflict.
	ResolvePermissionRequest(ctx context.Context, id string, behavior models.PermissionBehavior, scope models.PermissionScope, decidedBy string) error
	ExpirePermissionRequest(ctx context.Context, id string) error

	Close() error
}
