package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/agor-sh/agor/internal/service"
	"github.com/agor-sh/agor/internal/store/models"
	"github.com/agor-sh/agor/internal/store/repository"
)

func (h *Handlers) createSession(c *gin.Context) {
	var req service.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	session, err := h.deps.Sessions.Create(c.Request.Context(), h.principal(c), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

func (h *Handlers) listSessions(c *gin.Context) {
	filter := repository.SessionFilter{
		WorktreeID: c.Query("worktree_id"),
		Status:     models.SessionStatus(c.Query("status")),
	}
	sessions, err := h.deps.Sessions.List(c.Request.Context(), h.principal(c), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions, "total": len(sessions)})
}

func (h *Handlers) getSession(c *gin.Context) {
	session, err := h.deps.Sessions.Get(c.Request.Context(), h.principal(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *Handlers) patchSession(c *gin.Context) {
	var req service.PatchSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	session, err := h.deps.Sessions.Patch(c.Request.Context(), h.principal(c), c.Param("id"), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *Handlers) deleteSession(c *gin.Context) {
	if err := h.deps.Sessions.Remove(c.Request.Context(), h.principal(c), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type promptRequest struct {
	Prompt         string              `json:"prompt"`
	PermissionMode string              `json:"permission_mode,omitempty"`
	AllowedTools   []string            `json:"allowed_tools,omitempty"`
	Model          *models.ModelConfig `json:"model,omitempty"`
}

func (h *Handlers) promptSession(c *gin.Context) {
	var req promptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	task, err := h.deps.Sessions.Prompt(c.Request.Context(), h.principal(c), c.Param("id"), req.Prompt, service.PromptOptions{
		PermissionMode: req.PermissionMode,
		AllowedTools:   req.AllowedTools,
		Model:          req.Model,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, task)
}

type branchRequest struct {
	TaskID string `json:"task_id"`
	Prompt string `json:"prompt"`
}

func (h *Handlers) forkSession(c *gin.Context) {
	var req branchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	session, task, err := h.deps.Sessions.Fork(c.Request.Context(), h.principal(c), c.Param("id"), req.TaskID, req.Prompt)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session": session, "task": task})
}

func (h *Handlers) spawnSession(c *gin.Context) {
	var req branchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	session, task, err := h.deps.Sessions.Spawn(c.Request.Context(), h.principal(c), c.Param("id"), req.TaskID, req.Prompt)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session": session, "task": task})
}

func (h *Handlers) cancelTask(c *gin.Context) {
	var req struct {
		TaskID string `json:"task_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.deps.Sessions.Cancel(c.Request.Context(), h.principal(c), c.Param("id"), req.TaskID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "cancelling"})
}

func (h *Handlers) listSessionTasks(c *gin.Context) {
	tasks, err := h.deps.Tasks.List(c.Request.Context(), h.principal(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks, "total": len(tasks)})
}

func (h *Handlers) listMessages(c *gin.Context) {
	opts := repository.ListMessagesOptions{
		TaskID:     c.Query("task_id"),
		AfterIndex: -1,
	}
	if after := c.Query("after"); after != "" {
		parsed, err := strconv.Atoi(after)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "after must be an integer"})
			return
		}
		opts.AfterIndex = parsed
	}
	if limit := c.Query("limit"); limit != "" {
		parsed, err := strconv.Atoi(limit)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		opts.Limit = parsed
	}

	messages, err := h.deps.Messages.List(c.Request.Context(), h.principal(c), c.Param("id"), opts)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages, "total": len(messages)})
}

func (h *Handlers) appendMessage(c *gin.Context) {
	var msg models.Message
	if err := c.ShouldBindJSON(&msg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	msg.SessionID = c.Param("id")
	appended, err := h.deps.Messages.Append(c.Request.Context(), h.principal(c), &msg)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, appended)
}

func (h *Handlers) patchMessage(c *gin.Context) {
	var req struct {
		Preview  *string                 `json:"preview,omitempty"`
		Metadata *models.MessageMetadata `json:"metadata,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	msg, err := h.deps.Messages.Patch(c.Request.Context(), h.principal(c), c.Param("id"), req.Preview, req.Metadata)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}
