package models

import "time"

// User roles.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// User is an identity used for ownership, token scoping, and per-user
// MCP env secrets.
type User struct {
	ID        string    `json:"id" db:"id"`
	Username  string    `json:"username" db:"username"`
	Role      string    `json:"role" db:"role"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
