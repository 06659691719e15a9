package models

import "time"

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// IsTerminal reports whether the status is a terminal state.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// Task is one user prompt and its induced message sequence within a
// session. Tasks are created by the scheduler and mutated only by the
// owning executor; they reach a terminal status exactly once.
type Task struct {
	ID            string     `json:"id" db:"id"`
	SessionID     string     `json:"session_id" db:"session_id"`
	Status        TaskStatus `json:"status" db:"status"`
	Description   string     `json:"description" db:"description"`
	Prompt        string     `json:"prompt" db:"prompt"`
	StartIndex    int        `json:"start_index" db:"start_index"`
	EndIndex      int        `json:"end_index" db:"end_index"`
	ToolUseCount  int        `json:"tool_use_count" db:"tool_use_count"`
	ResolvedModel string     `json:"resolved_model,omitempty" db:"resolved_model"`
	InputTokens   int        `json:"input_tokens" db:"input_tokens"`
	OutputTokens  int        `json:"output_tokens" db:"output_tokens"`
	FailureReason string     `json:"failure_reason,omitempty" db:"failure_reason"`
	StartCommit   string     `json:"start_commit,omitempty" db:"start_commit"`
	EndCommit     string     `json:"end_commit,omitempty" db:"end_commit"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
	StartedAt     *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// Failure reasons recorded on failed tasks.
const (
	FailureReasonCancelled = "cancelled"
	FailureReasonOrphaned  = "orphaned"
)
