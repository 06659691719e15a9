// Package models defines the durable entities owned by the store.
package models

import (
	"time"

	"github.com/google/uuid"
)

// ToolFamily identifies the vendor agent SDK driving a session.
type ToolFamily string

const (
	ToolClaudeCode ToolFamily = "claude-code"
	ToolCodex      ToolFamily = "codex"
	ToolGemini     ToolFamily = "gemini"
	ToolOpenCode   ToolFamily = "opencode"
)

// Valid returns whether the family is one of the supported vendors.
func (f ToolFamily) Valid() bool {
	switch f {
	case ToolClaudeCode, ToolCodex, ToolGemini, ToolOpenCode:
		return true
	}
	return false
}

// SessionStatus represents the lifecycle state of a session.
type SessionStatus string

const (
	SessionStatusIdle      SessionStatus = "idle"
	SessionStatusRunning   SessionStatus = "running"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusFailed    SessionStatus = "failed"
)

// ModelMode says whether the configured model is a vendor alias or an
// exact model identifier.
type ModelMode string

const (
	ModelModeAlias ModelMode = "alias"
	ModelModeExact ModelMode = "exact"
)

// ModelConfig is the per-session model selection.
type ModelConfig struct {
	Mode  ModelMode `json:"mode" db:"model_mode"`
	Model string    `json:"model" db:"model_id"`
}

// GitState is a snapshot of the session's repo position.
type GitState struct {
	Ref           string `json:"ref,omitempty"`
	BaseCommit    string `json:"base_commit,omitempty"`
	CurrentCommit string `json:"current_commit,omitempty"`
}

// Genealogy captures how a session relates to other sessions.
// Forks are sibling edges; spawns are parent/child edges.
type Genealogy struct {
	ForkedFrom     string   `json:"forked_from,omitempty"`
	ForkPointTask  string   `json:"fork_point_task,omitempty"`
	ParentSession  string   `json:"parent_session,omitempty"`
	SpawnPointTask string   `json:"spawn_point_task,omitempty"`
	Children       []string `json:"children,omitempty"`
}

// Session is one logical conversation with a vendor agent, bound to a
// worktree. AgentSessionID is the vendor resume token: opaque, never
// parsed, only handed back to the same vendor family.
type Session struct {
	ID             string        `json:"id" db:"id"`
	Title          string        `json:"title" db:"title"`
	CreatedBy      string        `json:"created_by" db:"created_by"`
	Tool           ToolFamily    `json:"tool" db:"tool"`
	Status         SessionStatus `json:"status" db:"status"`
	AgentSessionID string        `json:"agent_session_id,omitempty" db:"agent_session_id"`
	WorktreeID     string        `json:"worktree_id" db:"worktree_id"`
	WorkingDir     string        `json:"working_dir" db:"working_dir"`
	Git            GitState      `json:"git"`
	Genealogy      Genealogy     `json:"genealogy"`
	TaskIDs        []string      `json:"task_ids"`
	MessageCount   int           `json:"message_count" db:"message_count"`
	ToolUseCount   int           `json:"tool_use_count" db:"tool_use_count"`
	AllowedTools   []string      `json:"allowed_tools"`
	PermissionMode string        `json:"permission_mode,omitempty" db:"permission_mode"`
	Model          ModelConfig   `json:"model"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at" db:"updated_at"`
}

// NewSessionID returns a time-ordered session id.
func NewSessionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// IsBusy reports whether the session currently has a running task.
func (s *Session) IsBusy() bool {
	return s.Status == SessionStatusRunning
}

// ToolAllowed reports whether the tool name is on the session allow-list.
func (s *Session) ToolAllowed(name string) bool {
	for _, t := range s.AllowedTools {
		if t == name {
			return true
		}
	}
	return false
}
