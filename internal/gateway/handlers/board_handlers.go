package handlers

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/agor-sh/agor/internal/store/models"
)

func (h *Handlers) createBoard(c *gin.Context) {
	var board models.Board
	if err := c.ShouldBindJSON(&board); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	created, err := h.deps.Boards.Create(c.Request.Context(), h.principal(c), &board)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *Handlers) listBoards(c *gin.Context) {
	boards, err := h.deps.Boards.List(c.Request.Context(), h.principal(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"boards": boards, "total": len(boards)})
}

func (h *Handlers) getBoard(c *gin.Context) {
	board, err := h.deps.Boards.Get(c.Request.Context(), h.principal(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, board)
}

func (h *Handlers) deleteBoard(c *gin.Context) {
	if err := h.deps.Boards.Remove(c.Request.Context(), h.principal(c), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// exportBoard serves the portable form: YAML for editing, blob for
// lossless backup.
func (h *Handlers) exportBoard(c *gin.Context) {
	switch c.DefaultQuery("format", "yaml") {
	case "yaml":
		data, err := h.deps.Boards.ToYAML(c.Request.Context(), h.principal(c), c.Param("id"))
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.Data(http.StatusOK, "application/yaml", data)
	case "blob":
		data, err := h.deps.Boards.ToBlob(c.Request.Context(), h.principal(c), c.Param("id"))
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.Data(http.StatusOK, "application/json", data)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "format must be yaml or blob"})
	}
}

func (h *Handlers) importBoard(c *gin.Context) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, 4<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	var board *models.Board
	if strings.Contains(c.ContentType(), "yaml") {
		board, err = h.deps.Boards.FromYAML(c.Request.Context(), h.principal(c), data)
	} else {
		board, err = h.deps.Boards.FromBlob(c.Request.Context(), h.principal(c), data)
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, board)
}

func (h *Handlers) cloneBoard(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	board, err := h.deps.Boards.Clone(c.Request.Context(), h.principal(c), c.Param("id"), req.Name)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, board)
}

func (h *Handlers) upsertBoardObject(c *gin.Context) {
	var obj models.CanvasObject
	if err := c.ShouldBindJSON(&obj); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.deps.Boards.UpsertObject(c.Request.Context(), h.principal(c), c.Param("id"), c.Param("objectID"), obj); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handlers) removeBoardObject(c *gin.Context) {
	if err := h.deps.Boards.RemoveObject(c.Request.Context(), h.principal(c), c.Param("id"), c.Param("objectID")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) moveBoardObject(c *gin.Context) {
	var req struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.deps.Boards.MoveObject(c.Request.Context(), h.principal(c), c.Param("id"), c.Param("objectID"), req.X, req.Y); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handlers) placeWorktree(c *gin.Context) {
	var req struct {
		WorktreeID string  `json:"worktree_id"`
		X          float64 `json:"x"`
		Y          float64 `json:"y"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	obj, err := h.deps.Boards.PlaceWorktree(c.Request.Context(), h.principal(c), c.Param("id"), req.WorktreeID, req.X, req.Y)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, obj)
}
