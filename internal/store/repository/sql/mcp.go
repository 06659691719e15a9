package sql

import (
	"context"
	"fmt"
	"time"

	"github.com/agor-sh/agor/internal/store/models"
	"github.com/agor-sh/agor/internal/store/repository"
)

const mcpColumns = `id, name, transport, scope, owner_id, enabled, source, command,
	args, env, url, auth, created_at, updated_at`

type mcpServerRow struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	Transport string    `db:"transport"`
	Scope     string    `db:"scope"`
	OwnerID   string    `db:"owner_id"`
	Enabled   int       `db:"enabled"`
	Source    string    `db:"source"`
	Command   string    `db:"command"`
	Args      string    `db:"args"`
	Env       string    `db:"env"`
	URL       string    `db:"url"`
	Auth      string    `db:"auth"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (row *mcpServerRow) toModel() (*models.MCPServer, error) {
	s := &models.MCPServer{
		ID:        row.ID,
		Name:      row.Name,
		Transport: models.MCPTransport(row.Transport),
		Scope:     models.MCPScope(row.Scope),
		OwnerID:   row.OwnerID,
		Enabled:   row.Enabled != 0,
		Source:    models.MCPSource(row.Source),
		Command:   row.Command,
		URL:       row.URL,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	if err := unmarshalJSON(row.Args, &s.Args); err != nil {
		return nil, fmt.Errorf("corrupt args for mcp server %s: %w", row.ID, err)
	}
	if err := unmarshalJSON(row.Env, &s.Env); err != nil {
		return nil, fmt.Errorf("corrupt env for mcp server %s: %w", row.ID, err)
	}
	if err := unmarshalJSON(row.Auth, &s.Auth); err != nil {
		return nil, fmt.Errorf("corrupt auth for mcp server %s: %w", row.ID, err)
	}
	return s, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func mcpInsertArgs(s *models.MCPServer) ([]any, error) {
	args, err := marshalJSON(s.Args)
	if err != nil {
		return nil, err
	}
	env, err := marshalJSON(s.Env)
	if err != nil {
		return nil, err
	}
	auth, err := marshalJSON(s.Auth)
	if err != nil {
		return nil, err
	}
	return []any{
		s.ID, s.Name, string(s.Transport), string(s.Scope), s.OwnerID,
		boolToInt(s.Enabled), string(s.Source), s.Command, args, env, s.URL, auth,
		s.CreatedAt, s.UpdatedAt,
	}, nil
}

// CreateMCPServer inserts an MCP server definition.
func (r *Repository) CreateMCPServer(ctx context.Context, s *models.MCPServer) error {
	switch s.Transport {
	case models.MCPTransportStdio:
		if s.Command == "" {
			return fmt.Errorf("%w: command required for stdio transport", repository.ErrValidation)
		}
	case models.MCPTransportHTTP, models.MCPTransportSSE:
		if s.URL == "" {
			return fmt.Errorf("%w: url required for %s transport", repository.ErrValidation, s.Transport)
		}
	default:
		return fmt.Errorf("%w: unknown transport %q", repository.ErrValidation, s.Transport)
	}

	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now

	args, err := mcpInsertArgs(s)
	if err != nil {
		return err
	}
	query := r.rebind(`INSERT INTO mcp_servers (` + mcpColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = r.pool.Writer().ExecContext(ctx, query, args...)
	return mapError(err)
}

// GetMCPServer loads a server definition by id.
func (r *Repository) GetMCPServer(ctx context.Context, id string) (*models.MCPServer, error) {
	var row mcpServerRow
	query := r.rebind(`SELECT ` + mcpColumns + ` FROM mcp_servers WHERE id = ?`)
	if err := r.pool.Reader().GetContext(ctx, &row, query, id); err != nil {
		return nil, mapError(err)
	}
	return row.toModel()
}

// UpdateMCPServer persists changes to a server definition.
func (r *Repository) UpdateMCPServer(ctx context.Context, s *models.MCPServer) error {
	s.UpdatedAt = time.Now().UTC()
	args, err := marshalJSON(s.Args)
	if err != nil {
		return err
	}
	env, err := marshalJSON(s.Env)
	if err != nil {
		return err
	}
	auth, err := marshalJSON(s.Auth)
	if err != nil {
		return err
	}
	query := r.rebind(`UPDATE mcp_servers SET name = ?, transport = ?, scope = ?, enabled = ?,
		command = ?, args = ?, env = ?, url = ?, auth = ?, updated_at = ? WHERE id = ?`)
	res, err := r.pool.Writer().ExecContext(ctx, query,
		s.Name, string(s.Transport), string(s.Scope), boolToInt(s.Enabled),
		s.Command, args, env, s.URL, auth, s.UpdatedAt, s.ID)
	if err != nil {
		return mapError(err)
	}
	return requireRowAffected(res)
}

// DeleteMCPServer removes a server definition; assignments cascade.
func (r *Repository) DeleteMCPServer(ctx context.Context, id string) error {
	res, err := r.pool.Writer().ExecContext(ctx, r.rebind(`DELETE FROM mcp_servers WHERE id = ?`), id)
	if err != nil {
		return mapError(err)
	}
	return requireRowAffected(res)
}

// ListGlobalMCPServers returns enabled global servers owned by the user.
func (r *Repository) ListGlobalMCPServers(ctx context.Context, ownerID string) ([]*models.MCPServer, error) {
	var rows []mcpServerRow
	query := r.rebind(`SELECT ` + mcpColumns + ` FROM mcp_servers
		WHERE scope = ? AND enabled = 1 AND owner_id = ? ORDER BY created_at, id`)
	if err := r.pool.Reader().SelectContext(ctx, &rows, query, string(models.MCPScopeGlobal), ownerID); err != nil {
		return nil, mapError(err)
	}
	return mcpRowsToModels(rows)
}

// ListSessionMCPServers returns servers assigned to the session with the
// assignment enabled, in assignment order.
func (r *Repository) ListSessionMCPServers(ctx context.Context, sessionID string) ([]*models.MCPServer, error) {
	var rows []mcpServerRow
	query := r.rebind(`SELECT s.id, s.name, s.transport, s.scope, s.owner_id, s.enabled, s.source,
		s.command, s.args, s.env, s.url, s.auth, s.created_at, s.updated_at
		FROM mcp_servers s
		JOIN session_mcp_servers a ON a.mcp_server_id = s.id
		WHERE a.session_id = ? AND a.enabled = 1
		ORDER BY a.added_at, s.id`)
	if err := r.pool.Reader().SelectContext(ctx, &rows, query, sessionID); err != nil {
		return nil, mapError(err)
	}
	return mcpRowsToModels(rows)
}

func mcpRowsToModels(rows []mcpServerRow) ([]*models.MCPServer, error) {
	servers := make([]*models.MCPServer, 0, len(rows))
	for i := range rows {
		s, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		servers = append(servers, s)
	}
	return servers, nil
}

// AssignMCPServer attaches a server to a session for isolated mode.
func (r *Repository) AssignMCPServer(ctx context.Context, a *models.SessionMCPAssignment) error {
	if a.AddedAt.IsZero() {
		a.AddedAt = time.Now().UTC()
	}
	query := r.rebind(`INSERT INTO session_mcp_servers (session_id, mcp_server_id, enabled, added_at)
		VALUES (?, ?, ?, ?)`)
	_, err := r.pool.Writer().ExecContext(ctx, query,
		a.SessionID, a.MCPServerID, boolToInt(a.Enabled), a.AddedAt)
	return mapError(err)
}

// UnassignMCPServer detaches a server from a session.
func (r *Repository) UnassignMCPServer(ctx context.Context, sessionID, serverID string) error {
	res, err := r.pool.Writer().ExecContext(ctx,
		r.rebind(`DELETE FROM session_mcp_servers WHERE session_id = ? AND mcp_server_id = ?`),
		sessionID, serverID)
	if err != nil {
		return mapError(err)
	}
	return requireRowAffected(res)
}
