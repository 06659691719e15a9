package models

import (
	"encoding/json"
	"time"
)

// Board object types.
const (
	BoardObjectText = "text"
	BoardObjectZone = "zone"
)

// ZoneTrigger is an optional action attached to a zone: dropping a
// worktree into the zone runs the prompt against it.
type ZoneTrigger struct {
	Prompt string `json:"prompt,omitempty"`
	Tool   string `json:"tool,omitempty"`
}

// CanvasObject is one free-form object on a board canvas, a tagged
// union keyed by Type.
type CanvasObject struct {
	Type    string       `json:"type"`
	X       float64      `json:"x"`
	Y       float64      `json:"y"`
	Width   float64      `json:"width,omitempty"`
	Height  float64      `json:"height,omitempty"`
	Text    string       `json:"text,omitempty"`
	Label   string       `json:"label,omitempty"`
	Color   string       `json:"color,omitempty"`
	Trigger *ZoneTrigger `json:"trigger,omitempty"`
}

// Board is a spatial canvas grouping worktrees and annotations.
type Board struct {
	ID        string                  `json:"id" db:"id"`
	Name      string                  `json:"name" db:"name"`
	Slug      string                  `json:"slug,omitempty" db:"slug"`
	Icon      string                  `json:"icon,omitempty" db:"icon"`
	Color     string                  `json:"color,omitempty" db:"color"`
	CreatedBy string                  `json:"created_by" db:"created_by"`
	Objects   map[string]CanvasObject `json:"objects"`
	CreatedAt time.Time               `json:"created_at" db:"created_at"`
	UpdatedAt time.Time               `json:"updated_at" db:"updated_at"`
}

// ObjectsJSON serializes the objects map for storage.
func (b *Board) ObjectsJSON() (string, error) {
	if b.Objects == nil {
		return "{}", nil
	}
	data, err := json.Marshal(b.Objects)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// BoardObject is a positioned reference from a board to one worktree.
type BoardObject struct {
	ID         string    `json:"id" db:"id"`
	BoardID    string    `json:"board_id" db:"board_id"`
	WorktreeID string    `json:"worktree_id" db:"worktree_id"`
	X          float64   `json:"x" db:"x"`
	Y          float64   `json:"y" db:"y"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}
