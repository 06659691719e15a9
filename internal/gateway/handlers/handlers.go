// Package handlers exposes the daemon's services over HTTP. Routes are
// grouped under /api/v1 and guarded by bearer token auth; the websocket
// endpoint streams bus events to subscribed clients.
package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agor-sh/agor/internal/auth"
	"github.com/agor-sh/agor/internal/common/logger"
	gws "github.com/agor-sh/agor/internal/gateway/websocket"
	"github.com/agor-sh/agor/internal/importer"
	"github.com/agor-sh/agor/internal/mcpresolve"
	"github.com/agor-sh/agor/internal/permission"
	"github.com/agor-sh/agor/internal/service"
	"github.com/agor-sh/agor/internal/terminal"
)

const principalKey = "agor.principal"

// Deps bundles everything the HTTP layer needs.
type Deps struct {
	Sessions  *service.SessionService
	Tasks     *service.TaskService
	Messages  *service.MessageService
	Worktrees *service.WorktreeService
	Boards    *service.BoardService
	MCP       *service.MCPService
	Users     *service.UserService
	Terminals *terminal.Service
	Importer  *importer.Service
	Arbiter   *permission.Arbiter
	Resolver  *mcpresolve.Resolver
	Signer    *auth.Signer
	TokenTTL  time.Duration
	// UserEnvKeys is the allow-list for MCP template rendering.
	UserEnvKeys string
	Hub         *gws.Hub
	Logger      *logger.Logger
}

// Handlers carries the service dependencies for every route.
type Handlers struct {
	deps   Deps
	logger *logger.Logger
}

// New creates the handler set.
func New(deps Deps) *Handlers {
	return &Handlers{
		deps:   deps,
		logger: deps.Logger.WithFields(zap.String("component", "gateway")),
	}
}

// RegisterRoutes wires every endpoint onto the engine.
func (h *Handlers) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", h.health)

	api := router.Group("/api/v1")
	api.POST("/auth/login", h.login)

	authed := api.Group("")
	authed.Use(h.requireAuth())

	authed.GET("/auth/whoami", h.whoami)
	authed.GET("/users", h.listUsers)

	authed.POST("/sessions", h.createSession)
	authed.POST("/sessions/import", h.importSession)
	authed.GET("/sessions", h.listSessions)
	authed.GET("/sessions/:id", h.getSession)
	authed.PATCH("/sessions/:id", h.patchSession)
	authed.DELETE("/sessions/:id", h.deleteSession)
	authed.POST("/sessions/:id/prompt", h.promptSession)
	authed.POST("/sessions/:id/fork", h.forkSession)
	authed.POST("/sessions/:id/spawn", h.spawnSession)
	authed.POST("/sessions/:id/cancel", h.cancelTask)
	authed.GET("/sessions/:id/tasks", h.listSessionTasks)
	authed.GET("/sessions/:id/messages", h.listMessages)
	authed.POST("/sessions/:id/messages", h.appendMessage)
	authed.PATCH("/messages/:id", h.patchMessage)

	authed.GET("/tasks/:id", h.getTask)
	authed.POST("/tasks/:id/start", h.startTask)
	authed.POST("/tasks/:id/finish", h.finishTask)

	authed.GET("/sessions/:id/mcp-config", h.sessionMCPConfig)
	authed.POST("/sessions/:id/permission-requests", h.requestPermission)
	authed.GET("/sessions/:id/permission-requests", h.listPermissionRequests)
	authed.POST("/permission-requests/:id/decide", h.decidePermission)
	authed.POST("/sessions/:id/mcp-servers/:serverID", h.assignMCPServer)
	authed.DELETE("/sessions/:id/mcp-servers/:serverID", h.unassignMCPServer)

	authed.POST("/worktrees", h.createWorktree)
	authed.GET("/worktrees", h.listWorktrees)
	authed.GET("/worktrees/:id", h.getWorktree)
	authed.DELETE("/worktrees/:id", h.deleteWorktree)

	authed.POST("/boards", h.createBoard)
	authed.GET("/boards", h.listBoards)
	authed.GET("/boards/:id", h.getBoard)
	authed.DELETE("/boards/:id", h.deleteBoard)
	authed.GET("/boards/:id/export", h.exportBoard)
	authed.POST("/boards/import", h.importBoard)
	authed.POST("/boards/:id/clone", h.cloneBoard)
	authed.PUT("/boards/:id/objects/:objectID", h.upsertBoardObject)
	authed.DELETE("/boards/:id/objects/:objectID", h.removeBoardObject)
	authed.POST("/boards/:id/objects/:objectID/move", h.moveBoardObject)
	authed.POST("/boards/:id/worktrees", h.placeWorktree)

	authed.POST("/terminals", h.createTerminal)
	authed.GET("/terminals", h.listTerminals)
	authed.GET("/terminals/:id", h.getTerminal)
	authed.POST("/terminals/:id/input", h.terminalInput)
	authed.POST("/terminals/:id/resize", h.resizeTerminal)
	authed.DELETE("/terminals/:id", h.deleteTerminal)

	authed.POST("/mcp-servers", h.createMCPServer)
	authed.GET("/mcp-servers/:id", h.getMCPServer)
	authed.PUT("/mcp-servers/:id", h.updateMCPServer)
	authed.DELETE("/mcp-servers/:id", h.deleteMCPServer)

	router.GET("/api/v1/ws", h.serveWebsocket)
}

func (h *Handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// requireAuth verifies the bearer token and stashes the principal.
func (h *Handlers) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		claims, err := h.deps.Signer.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(principalKey, service.Principal{
			UserID:    claims.UserID,
			Role:      claims.Role,
			SessionID: claims.SessionID,
		})
		c.Next()
	}
}

// bearerToken extracts the token from the Authorization header or, for
// websocket clients that cannot set headers, the token query parameter.
func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if after, found := strings.CutPrefix(header, "Bearer "); found {
		return after
	}
	return c.Query("token")
}

// principal returns the authenticated principal set by requireAuth.
func (h *Handlers) principal(c *gin.Context) service.Principal {
	p, _ := c.Get(principalKey)
	principal, _ := p.(service.Principal)
	return principal
}

// respondError maps a domain error onto its HTTP status.
func (h *Handlers) respondError(c *gin.Context, err error) {
	kind := service.KindOf(err)
	status := service.HTTPStatus(kind)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}

	var domain *service.Error
	body := gin.H{"error": err.Error(), "kind": string(kind)}
	if errors.As(err, &domain) {
		body = gin.H{"error": domain.Message, "kind": string(domain.Kind)}
		if len(domain.Details) > 0 {
			body["details"] = domain.Details
		}
	}
	c.JSON(status, body)
}
