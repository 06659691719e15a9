// Package mcpresolve selects and renders the MCP servers an executor
// hands to its vendor SDK.
package mcpresolve

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/agor-sh/agor/internal/common/logger"
	"github.com/agor-sh/agor/internal/store/models"
	"github.com/agor-sh/agor/internal/store/repository"
)

// Mode says which rule selected the servers.
type Mode string

const (
	// ModeIsolated uses only the session's own enabled assignments.
	ModeIsolated Mode = "isolated"
	// ModeHierarchical inherits the owner's enabled global servers.
	ModeHierarchical Mode = "hierarchical"
)

// Resolved is one server ready for the vendor SDK: templates rendered,
// secrets in memory only.
type Resolved struct {
	Server *models.MCPServer
	Mode   Mode
}

// Resolver selects servers for a session and renders their templates.
type Resolver struct {
	repo   repository.Repository
	logger *logger.Logger
}

// NewResolver creates a resolver.
func NewResolver(repo repository.Repository, log *logger.Logger) *Resolver {
	return &Resolver{
		repo:   repo,
		logger: log.WithFields(zap.String("component", "mcp-resolver")),
	}
}

// Resolve returns the session's servers in order. A session with at
// least one enabled assignment is isolated; otherwise it inherits the
// owner's global servers. Servers whose required templates fail to
// render are omitted with a warning, never failing the task.
func (r *Resolver) Resolve(ctx context.Context, session *models.Session, userEnv map[string]string) ([]Resolved, error) {
	assigned, err := r.repo.ListSessionMCPServers(ctx, session.ID)
	if err != nil {
		return nil, err
	}

	mode := ModeIsolated
	servers := assigned
	if len(assigned) == 0 {
		mode = ModeHierarchical
		servers, err = r.repo.ListGlobalMCPServers(ctx, session.CreatedBy)
		if err != nil {
			return nil, err
		}
	}

	resolved := make([]Resolved, 0, len(servers))
	for _, server := range servers {
		rendered, err := RenderServer(server, userEnv)
		if err != nil {
			r.logger.Warn("mcp server omitted, template failed to resolve",
				zap.String("server", server.Name),
				zap.String("session_id", session.ID),
				zap.Error(err))
			continue
		}
		resolved = append(resolved, Resolved{Server: rendered, Mode: mode})
	}
	return resolved, nil
}

var templateRe = regexp.MustCompile(`\{\{\s*user\.env\.([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// RenderServer renders {{ user.env.X }} placeholders against the
// allow-listed env map, returning a copy. A required field (url,
// auth.token, command) that cannot resolve is an error; a missing env
// entry just drops that one env var.
func RenderServer(server *models.MCPServer, userEnv map[string]string) (*models.MCPServer, error) {
	out := *server
	var err error

	if out.URL, err = renderRequired(server.URL, userEnv); err != nil {
		return nil, fmt.Errorf("url: %w", err)
	}
	if out.Command, err = renderRequired(server.Command, userEnv); err != nil {
		return nil, fmt.Errorf("command: %w", err)
	}
	if server.Auth != nil {
		auth := *server.Auth
		if auth.Token, err = renderRequired(server.Auth.Token, userEnv); err != nil {
			return nil, fmt.Errorf("auth.token: %w", err)
		}
		out.Auth = &auth
	}

	if len(server.Args) > 0 {
		out.Args = make([]string, len(server.Args))
		for i, arg := range server.Args {
			if out.Args[i], err = renderRequired(arg, userEnv); err != nil {
				return nil, fmt.Errorf("args[%d]: %w", i, err)
			}
		}
	}

	if len(server.Env) > 0 {
		out.Env = make(map[string]string, len(server.Env))
		for k, v := range server.Env {
			rendered, renderErr := renderRequired(v, userEnv)
			if renderErr != nil {
				// Optional env entry: drop just this one.
				continue
			}
			out.Env[k] = rendered
		}
	}

	return &out, nil
}

// renderRequired substitutes every placeholder or fails.
func renderRequired(value string, userEnv map[string]string) (string, error) {
	if !strings.Contains(value, "{{") {
		return value, nil
	}
	var missing []string
	result := templateRe.ReplaceAllStringFunc(value, func(match string) string {
		key := templateRe.FindStringSubmatch(match)[1]
		if v, ok := userEnv[key]; ok {
			return v
		}
		missing = append(missing, key)
		return match
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("unresolved user env keys: %s", strings.Join(missing, ", "))
	}
	return result, nil
}

// AllowedUserEnv builds the template context from the process env,
// restricted to the comma-separated allow-list in keys.
func AllowedUserEnv(keys string, lookup func(string) (string, bool)) map[string]string {
	env := make(map[string]string)
	for _, key := range strings.Split(keys, ",") {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if v, ok := lookup(key); ok {
			env[key] = v
		}
	}
	return env
}
