// Package sql implements the store repository over SQLite or PostgreSQL.
package sql

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"github.com/agor-sh/agor/internal/db"
	"github.com/agor-sh/agor/internal/store/repository"
)

// Repository provides relational storage for all daemon entities.
type Repository struct {
	pool *db.Pool
}

// New creates a repository over the pool and initializes the schema.
func New(pool *db.Pool) (*Repository, error) {
	r := &Repository{pool: pool}
	if err := r.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return r, nil
}

// Close closes the underlying pool.
func (r *Repository) Close() error {
	return r.pool.Close()
}

// rebind converts ?-placeholders to the pool's bindvar style.
func (r *Repository) rebind(query string) string {
	return r.pool.Writer().Rebind(query)
}

// mapError translates driver errors to repository sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return repository.ErrNotFound
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%w: %v", repository.ErrConflict, err)
		case sqlite3.ErrConstraintForeignKey:
			return fmt.Errorf("%w: %v", repository.ErrNotFound, err)
		}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %v", repository.ErrConflict, err)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%w: %v", repository.ErrNotFound, err)
		}
	}

	return err
}

// marshalJSON serializes v for a TEXT column, mapping nil to a JSON null.
func marshalJSON(v any) (string, error) {
	if v == nil {
		return "null", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%w: %v", repository.ErrValidation, err)
	}
	return string(data), nil
}

// unmarshalJSON deserializes a TEXT column into out, tolerating empty.
func unmarshalJSON(data string, out any) error {
	if data == "" || data == "null" {
		return nil
	}
	return json.Unmarshal([]byte(data), out)
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		role TEXT NOT NULL DEFAULT 'member',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS boards (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		slug TEXT,
		icon TEXT,
		color TEXT,
		created_by TEXT NOT NULL,
		objects TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS worktrees (
		id TEXT PRIMARY KEY,
		repo_id TEXT NOT NULL,
		path TEXT NOT NULL,
		ref TEXT NOT NULL,
		board_id TEXT REFERENCES boards(id) ON DELETE SET NULL,
		created_by TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL,
		tool TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'idle',
		agent_session_id TEXT NOT NULL DEFAULT '',
		worktree_id TEXT NOT NULL REFERENCES worktrees(id) ON DELETE CASCADE,
		working_dir TEXT NOT NULL,
		git_ref TEXT NOT NULL DEFAULT '',
		base_commit TEXT NOT NULL DEFAULT '',
		current_commit TEXT NOT NULL DEFAULT '',
		forked_from TEXT NOT NULL DEFAULT '',
		fork_point_task TEXT NOT NULL DEFAULT '',
		parent_session TEXT NOT NULL DEFAULT '',
		spawn_point_task TEXT NOT NULL DEFAULT '',
		message_count INTEGER NOT NULL DEFAULT 0,
		tool_use_count INTEGER NOT NULL DEFAULT 0,
		allowed_tools TEXT NOT NULL DEFAULT '[]',
		permission_mode TEXT NOT NULL DEFAULT '',
		model_mode TEXT NOT NULL DEFAULT 'alias',
		model_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		status TEXT NOT NULL DEFAULT 'pending',
		description TEXT NOT NULL DEFAULT '',
		prompt TEXT NOT NULL DEFAULT '',
		start_index INTEGER NOT NULL DEFAULT -1,
		end_index INTEGER NOT NULL DEFAULT -1,
		tool_use_count INTEGER NOT NULL DEFAULT 0,
		resolved_model TEXT NOT NULL DEFAULT '',
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		failure_reason TEXT NOT NULL DEFAULT '',
		start_commit TEXT NOT NULL DEFAULT '',
		end_commit TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		started_at TIMESTAMP,
		completed_at TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		task_id TEXT NOT NULL DEFAULT '',
		idx INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '[]',
		content_preview TEXT NOT NULL DEFAULT '',
		tool_uses TEXT NOT NULL DEFAULT '[]',
		meta_model TEXT NOT NULL DEFAULT '',
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		UNIQUE (session_id, idx)
	)`,
	`CREATE TABLE IF NOT EXISTS board_objects (
		id TEXT PRIMARY KEY,
		board_id TEXT NOT NULL REFERENCES boards(id) ON DELETE CASCADE,
		worktree_id TEXT NOT NULL UNIQUE REFERENCES worktrees(id) ON DELETE CASCADE,
		x REAL NOT NULL DEFAULT 0,
		y REAL NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS mcp_servers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		transport TEXT NOT NULL,
		scope TEXT NOT NULL DEFAULT 'global',
		owner_id TEXT NOT NULL DEFAULT '',
		enabled INTEGER NOT NULL DEFAULT 1,
		source TEXT NOT NULL DEFAULT 'user',
		command TEXT NOT NULL DEFAULT '',
		args TEXT NOT NULL DEFAULT '[]',
		env TEXT NOT NULL DEFAULT '{}',
		url TEXT NOT NULL DEFAULT '',
		auth TEXT NOT NULL DEFAULT 'null',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS session_mcp_servers (
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		mcp_server_id TEXT NOT NULL REFERENCES mcp_servers(id) ON DELETE CASCADE,
		enabled INTEGER NOT NULL DEFAULT 1,
		added_at TIMESTAMP NOT NULL,
		PRIMARY KEY (session_id, mcp_server_id)
	)`,
	`CREATE TABLE IF NOT EXISTS permission_requests (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		task_id TEXT NOT NULL,
		tool_name TEXT NOT NULL,
		input_preview TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		behavior TEXT NOT NULL DEFAULT '',
		scope TEXT NOT NULL DEFAULT '',
		decided_by TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		resolved_at TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_worktree ON sessions(worktree_id)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_parent ON sessions(parent_session)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_session ON tasks(session_id)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, idx)`,
	`CREATE INDEX IF NOT EXISTS idx_board_objects_board ON board_objects(board_id)`,
	`CREATE INDEX IF NOT EXISTS idx_permission_requests_task ON permission_requests(task_id)`,
}

func (r *Repository) initSchema() error {
	for _, stmt := range schemaStatements {
		if _, err := r.pool.Writer().Exec(stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}
