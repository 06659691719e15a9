package handlers

import (
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/agor-sh/agor/internal/importer"
	"github.com/agor-sh/agor/internal/store/models"
)

// importSession loads a vendor transcript file into a new session.
// The daemon shares the host filesystem with its clients, so the
// request carries a path rather than the transcript body.
func (h *Handlers) importSession(c *gin.Context) {
	var req struct {
		Tool models.ToolFamily `json:"tool"`
		Path string            `json:"path"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tool and path are required"})
		return
	}

	f, err := os.Open(req.Path)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot open transcript: " + err.Error()})
		return
	}
	defer f.Close()

	var transcript *importer.Transcript
	switch req.Tool {
	case models.ToolClaudeCode:
		transcript, err = importer.ParseClaude(f)
	case models.ToolCodex:
		transcript, err = importer.ParseCodex(f)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "transcript import supports claude-code and codex only"})
		return
	}
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	session, created, err := h.deps.Importer.Import(c.Request.Context(), h.principal(c), transcript)
	if err != nil {
		h.respondError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"session": session, "created": created})
}
