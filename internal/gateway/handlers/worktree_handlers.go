package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *Handlers) createWorktree(c *gin.Context) {
	var req struct {
		RepoID string `json:"repo_id"`
		Ref    string `json:"ref"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	wt, err := h.deps.Worktrees.Create(c.Request.Context(), h.principal(c), req.RepoID, req.Ref)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, wt)
}

func (h *Handlers) listWorktrees(c *gin.Context) {
	worktrees, err := h.deps.Worktrees.List(c.Request.Context(), h.principal(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"worktrees": worktrees, "total": len(worktrees)})
}

func (h *Handlers) getWorktree(c *gin.Context) {
	wt, err := h.deps.Worktrees.Get(c.Request.Context(), h.principal(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, wt)
}

func (h *Handlers) deleteWorktree(c *gin.Context) {
	if err := h.deps.Worktrees.Remove(c.Request.Context(), h.principal(c), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
