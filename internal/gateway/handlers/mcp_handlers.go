package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agor-sh/agor/internal/store/models"
)

func (h *Handlers) createMCPServer(c *gin.Context) {
	var server models.MCPServer
	if err := c.ShouldBindJSON(&server); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	created, err := h.deps.MCP.Create(c.Request.Context(), h.principal(c), &server)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *Handlers) getMCPServer(c *gin.Context) {
	server, err := h.deps.MCP.Get(c.Request.Context(), h.principal(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, server)
}

func (h *Handlers) updateMCPServer(c *gin.Context) {
	var server models.MCPServer
	if err := c.ShouldBindJSON(&server); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	server.ID = c.Param("id")
	if err := h.deps.MCP.Update(c.Request.Context(), h.principal(c), &server); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, server)
}

func (h *Handlers) deleteMCPServer(c *gin.Context) {
	if err := h.deps.MCP.Remove(c.Request.Context(), h.principal(c), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) assignMCPServer(c *gin.Context) {
	if err := h.deps.MCP.Assign(c.Request.Context(), h.principal(c), c.Param("id"), c.Param("serverID")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "assigned"})
}

func (h *Handlers) unassignMCPServer(c *gin.Context) {
	if err := h.deps.MCP.Unassign(c.Request.Context(), h.principal(c), c.Param("id"), c.Param("serverID")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
