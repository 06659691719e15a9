package models

import "time"

// PermissionBehavior is the decision returned for a permission request.
type PermissionBehavior string

const (
	PermissionAllow PermissionBehavior = "allow"
	PermissionDeny  PermissionBehavior = "deny"
)

// PermissionScope bounds how long an allow decision holds.
type PermissionScope string

const (
	PermissionScopeOnce    PermissionScope = "once"
	PermissionScopeTask    PermissionScope = "task"
	PermissionScopeSession PermissionScope = "session"
)

// PermissionStatus is the lifecycle of a permission request.
type PermissionStatus string

const (
	PermissionStatusPending  PermissionStatus = "pending"
	PermissionStatusResolved PermissionStatus = "resolved"
	PermissionStatusExpired  PermissionStatus = "expired"
)

// PermissionRequest records a vendor tool call that was not on the
// session allow-list and is awaiting a user decision.
type PermissionRequest struct {
	ID           string             `json:"id" db:"id"`
	SessionID    string             `json:"session_id" db:"session_id"`
	TaskID       string             `json:"task_id" db:"task_id"`
	ToolName     string             `json:"tool_name" db:"tool_name"`
	InputPreview string             `json:"input_preview,omitempty" db:"input_preview"`
	Status       PermissionStatus   `json:"status" db:"status"`
	Behavior     PermissionBehavior `json:"behavior,omitempty" db:"behavior"`
	Scope        PermissionScope    `json:"scope,omitempty" db:"scope"`
	DecidedBy    string             `json:"decided_by,omitempty" db:"decided_by"`
	CreatedAt    time.Time          `json:"created_at" db:"created_at"`
	ResolvedAt   *time.Time         `json:"resolved_at,omitempty" db:"resolved_at"`
}
