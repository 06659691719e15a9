package handlers

import (
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/agor-sh/agor/internal/mcpresolve"
	"github.com/agor-sh/agor/internal/service"
	"github.com/agor-sh/agor/internal/store/models"
)

// Task endpoints are used primarily by executors: start marks the task
// running, finish records the terminal result exactly once.

func (h *Handlers) getTask(c *gin.Context) {
	task, err := h.deps.Tasks.Get(c.Request.Context(), h.principal(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *Handlers) startTask(c *gin.Context) {
	task, err := h.deps.Tasks.Start(c.Request.Context(), h.principal(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *Handlers) finishTask(c *gin.Context) {
	var result service.TaskResult
	if err := c.ShouldBindJSON(&result); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	task, err := h.deps.Tasks.Finish(c.Request.Context(), h.principal(c), c.Param("id"), result)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// sessionMCPConfig returns the rendered MCP servers for a session.
// Secrets are resolved in memory for this response only.
func (h *Handlers) sessionMCPConfig(c *gin.Context) {
	session, err := h.deps.Sessions.Get(c.Request.Context(), h.principal(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	userEnv := mcpresolve.AllowedUserEnv(h.deps.UserEnvKeys, os.LookupEnv)
	resolved, err := h.deps.Resolver.Resolve(c.Request.Context(), session, userEnv)
	if err != nil {
		h.respondError(c, service.FromRepository(err))
		return
	}

	servers := make([]*models.MCPServer, 0, len(resolved))
	mode := string(mcpresolve.ModeHierarchical)
	for _, r := range resolved {
		servers = append(servers, r.Server)
		mode = string(r.Mode)
	}
	c.JSON(http.StatusOK, gin.H{"servers": servers, "mode": mode})
}

// requestPermission blocks until a human decides or the arbiter times
// out; the executor holds this request open for the duration.
func (h *Handlers) requestPermission(c *gin.Context) {
	var req struct {
		TaskID       string `json:"task_id"`
		ToolName     string `json:"tool_name"`
		InputPreview string `json:"input_preview,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.ToolName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tool_name is required"})
		return
	}

	behavior, scope, err := h.deps.Arbiter.Request(c.Request.Context(), c.Param("id"), req.TaskID, req.ToolName, req.InputPreview)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"behavior": behavior, "scope": scope})
}

func (h *Handlers) listPermissionRequests(c *gin.Context) {
	pendingOnly := c.Query("pending") == "true"
	requests, err := h.deps.Arbiter.List(c.Request.Context(), h.principal(c), c.Param("id"), pendingOnly)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": requests, "total": len(requests)})
}

func (h *Handlers) decidePermission(c *gin.Context) {
	var req struct {
		Behavior models.PermissionBehavior `json:"behavior"`
		Scope    models.PermissionScope    `json:"scope,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.deps.Arbiter.Decide(c.Request.Context(), h.principal(c), c.Param("id"), req.Behavior, req.Scope); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "resolved"})
}
