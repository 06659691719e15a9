package models

import "time"

// MCPTransport identifies how an MCP server is reached.
type MCPTransport string

const (
	MCPTransportStdio MCPTransport = "stdio"
	MCPTransportHTTP  MCPTransport = "http"
	MCPTransportSSE   MCPTransport = "sse"
)

// MCPScope says whether a server is inherited globally or attached to
// specific sessions.
type MCPScope string

const (
	MCPScopeGlobal  MCPScope = "global"
	MCPScopeSession MCPScope = "session"
)

// MCPSource records where a server definition came from.
type MCPSource string

const (
	MCPSourceUser    MCPSource = "user"
	MCPSourceProject MCPSource = "project"
	MCPSourceSystem  MCPSource = "system"
)

// MCPAuth holds credentials for http/sse transports. Token may contain
// a {{ user.env.X }} placeholder resolved at executor spawn time.
type MCPAuth struct {
	Type  string `json:"type,omitempty"`
	Token string `json:"token,omitempty"`
}

// MCPServer is a Model Context Protocol server definition. String
// fields may contain {{ user.env.X }} placeholders; they are rendered
// per executor invocation and never persisted resolved.
type MCPServer struct {
	ID        string            `json:"id" db:"id"`
	Name      string            `json:"name" db:"name"`
	Transport MCPTransport      `json:"transport" db:"transport"`
	Scope     MCPScope          `json:"scope" db:"scope"`
	OwnerID   string            `json:"owner_id,omitempty" db:"owner_id"`
	Enabled   bool              `json:"enabled" db:"enabled"`
	Source    MCPSource         `json:"source" db:"source"`
	Command   string            `json:"command,omitempty" db:"command"`
	Args      []string          `json:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	URL       string            `json:"url,omitempty" db:"url"`
	Auth      *MCPAuth          `json:"auth,omitempty"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt time.Time         `json:"updated_at" db:"updated_at"`
}

// SessionMCPAssignment attaches a server to a session for isolated mode.
type SessionMCPAssignment struct {
	SessionID   string    `json:"session_id" db:"session_id"`
	MCPServerID string    `json:"mcp_server_id" db:"mcp_server_id"`
	Enabled     bool      `json:"enabled" db:"enabled"`
	AddedAt     time.Time `json:"added_at" db:"added_at"`
}
