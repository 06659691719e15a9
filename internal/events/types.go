// Package events defines the event subjects published by the daemon and
// provides the event bus selection logic.
package events

import "fmt"

// Subject patterns for daemon state change notifications. Subjects are
// hierarchical; subscribers may use NATS-style wildcards (* for one token,
// > for the remainder).
const (
	// Session lifecycle.
	SubjectSessionCreated = "sessions.created"
	SubjectSessionPatched = "sessions.patched"
	SubjectSessionRemoved = "sessions.removed"

	// Task lifecycle.
	SubjectTaskCreated   = "tasks.created"
	SubjectTaskStarted   = "tasks.started"
	SubjectTaskCompleted = "tasks.completed"
	SubjectTaskFailed    = "tasks.failed"
	SubjectTaskCancelled = "tasks.cancelled"

	// Message stream.
	SubjectMessageAppended = "messages.appended"

	// Worktree lifecycle.
	SubjectWorktreeCreated = "worktrees.created"
	SubjectWorktreeRemoved = "worktrees.removed"

	// Permission arbitration.
	SubjectPermissionRequested = "permission_requests.created"
	SubjectPermissionResolved  = "permission_requests.resolved"

	// Terminal lifecycle.
	SubjectTerminalCreated = "terminals.created"
	SubjectTerminalRemoved = "terminals.removed"

	// All session events, for gateway fan-out.
	SubjectAllSessions    = "sessions.>"
	SubjectAllTasks       = "tasks.>"
	SubjectAllMessages    = "messages.>"
	SubjectAllBoards      = "boards.>"
	SubjectAllWorktrees   = "worktrees.>"
	SubjectAllPermissions = "permission_requests.>"
	SubjectAllTerminals   = "terminals.>"
)

// Event type names carried in Event.Type.
const (
	TypeSessionCreated     = "session.created"
	TypeSessionPatched     = "session.patched"
	TypeSessionRemoved     = "session.removed"
	TypeTaskCreated        = "task.created"
	TypeTaskStarted        = "task.started"
	TypeTaskCompleted      = "task.completed"
	TypeTaskFailed         = "task.failed"
	TypeTaskCancelled      = "task.cancelled"
	TypeMessageAppended    = "message.appended"
	TypeWorktreeCreated    = "worktree.created"
	TypeWorktreeRemoved    = "worktree.removed"
	TypeBoardUpdated       = "board.updated"
	TypeBoardObjectAdded   = "board.object_added"
	TypeBoardObjectRemoved = "board.object_removed"
	TypePermissionCreated  = "permission_request.created"
	TypePermissionResolved = "permission_request.resolved"
	TypeTaskCancelRequest  = "task.cancel_requested"
	TypeTerminalCreated    = "terminal.created"
	TypeTerminalRemoved    = "terminal.removed"
	TypeTerminalData       = "terminal.data"
	TypeTerminalExit       = "terminal.exit"
)

// SubjectTaskCancel returns the per-task cancel subject. Executors
// subscribe to it over the gateway for cooperative cancellation; it
// lives under the tasks family so the gateway's tasks.> subscription
// forwards it.
func SubjectTaskCancel(taskID string) string {
	return fmt.Sprintf("tasks.cancel.%s", taskID)
}

// SubjectBoardUpdated returns the board-scoped update subject so clients
// can subscribe per board rather than to the whole board stream.
func SubjectBoardUpdated(boardID string) string {
	return fmt.Sprintf("boards.updated.%s", boardID)
}

// SubjectBoardObjectAdded returns the board-scoped object-added subject.
func SubjectBoardObjectAdded(boardID string) string {
	return fmt.Sprintf("boards.object_added.%s", boardID)
}

// SubjectBoardObjectRemoved returns the board-scoped object-removed subject.
func SubjectBoardObjectRemoved(boardID string) string {
	return fmt.Sprintf("boards.object_removed.%s", boardID)
}

// SubjectTerminalData returns the per-terminal output stream subject.
func SubjectTerminalData(terminalID string) string {
	return fmt.Sprintf("terminals.data.%s", terminalID)
}

// SubjectTerminalExit returns the per-terminal exit subject.
func SubjectTerminalExit(terminalID string) string {
	return fmt.Sprintf("terminals.exit.%s", terminalID)
}
