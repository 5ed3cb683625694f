package threeds

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/riskgate/internal/challenge"
)

// Handler accepts completion messages relayed by the challenge front-end.
type Handler struct {
	auth *Authenticator
}

// NewHandler creates a new 3-D Secure handler.
func NewHandler(auth *Authenticator) *Handler {
	return &Handler{auth: auth}
}

// RegisterRoutes sets up 3-D Secure routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/threeds/callback", h.Callback)
}

// Callback handles POST /v1/threeds/callback
func (h *Handler) Callback(c *gin.Context) {
	var msg CompletionMessage
	if err := c.ShouldBindJSON(&msg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid completion message",
		})
		return
	}
	if msg.Origin == "" {
		msg.Origin = c.GetHeader("Origin")
	}

	s, err := h.auth.HandleCompletion(msg)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"challenge": s})
	case errors.Is(err, ErrUntrustedOrigin):
		c.JSON(http.StatusForbidden, gin.H{"error": "untrusted_origin", "message": "Message origin not trusted"})
	case errors.Is(err, ErrInvalidMessage):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_message", "message": "Completion message rejected"})
	case errors.Is(err, challenge.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Challenge not found"})
	case errors.Is(err, challenge.ErrNotPending):
		c.JSON(http.StatusConflict, gin.H{"error": "not_pending", "message": "Challenge already resolved", "challenge": s})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to process completion"})
	}
}
