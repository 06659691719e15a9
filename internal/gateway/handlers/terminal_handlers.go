package handlers

import (
	"encoding/base64"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agor-sh/agor/internal/terminal"
)

func (h *Handlers) createTerminal(c *gin.Context) {
	var req terminal.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	term, err := h.deps.Terminals.Create(c.Request.Context(), h.principal(c), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, term)
}

func (h *Handlers) listTerminals(c *gin.Context) {
	terms := h.deps.Terminals.List(c.Request.Context(), h.principal(c))
	c.JSON(http.StatusOK, gin.H{"terminals": terms, "total": len(terms)})
}

// getTerminal returns the terminal plus a screen snapshot so the client
// can paint immediately and then follow the data stream.
func (h *Handlers) getTerminal(c *gin.Context) {
	term, err := h.deps.Terminals.Get(c.Request.Context(), h.principal(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"terminal": term, "screen": term.Snapshot()})
}

func (h *Handlers) terminalInput(c *gin.Context) {
	var req struct {
		// Data is base64; keystrokes include control bytes.
		Data string `json:"data"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "data must be base64"})
		return
	}
	if err := h.deps.Terminals.Input(c.Request.Context(), h.principal(c), c.Param("id"), data); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handlers) resizeTerminal(c *gin.Context) {
	var req struct {
		Cols int `json:"cols"`
		Rows int `json:"rows"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.deps.Terminals.Resize(c.Request.Context(), h.principal(c), c.Param("id"), req.Cols, req.Rows); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handlers) deleteTerminal(c *gin.Context) {
	if err := h.deps.Terminals.Remove(c.Request.Context(), h.principal(c), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
