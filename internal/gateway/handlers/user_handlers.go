package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// login resolves a username to a user, creating it on first use, and
// mints a client token. Local single-host trust model: possession of
// the daemon socket is the credential.
func (h *Handlers) login(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Username == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username is required"})
		return
	}

	user, err := h.deps.Users.EnsureUser(c.Request.Context(), req.Username)
	if err != nil {
		h.respondError(c, err)
		return
	}

	token, err := h.deps.Signer.Mint(user.ID, user.Role, h.deps.TokenTTL)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
}

func (h *Handlers) whoami(c *gin.Context) {
	p := h.principal(c)
	user, err := h.deps.Users.Get(c.Request.Context(), p.UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handlers) listUsers(c *gin.Context) {
	users, err := h.deps.Users.List(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users, "total": len(users)})
}
