package models

import "time"

// Worktree is a git working directory managed by the daemon. A worktree
// belongs to at most one board; deleting it cascades to its sessions.
type Worktree struct {
	ID        string    `json:"id" db:"id"`
	RepoID    string    `json:"repo_id" db:"repo_id"`
	Path      string    `json:"path" db:"path"`
	Ref       string    `json:"ref" db:"ref"`
	BoardID   string    `json:"board_id,omitempty" db:"board_id"`
	CreatedBy string    `json:"created_by" db:"created_by"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
