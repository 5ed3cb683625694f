package challenge

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints the challenge front-end calls back into.
type Handler struct {
	orch *Orchestrator
	hub  *Hub
}

// NewHandler creates a new challenge handler. hub may be nil.
func NewHandler(orch *Orchestrator, hub *Hub) *Handler {
	return &Handler{orch: orch, hub: hub}
}

// RegisterRoutes sets up challenge routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/challenges/:id", h.GetChallenge)
	r.POST("/challenges/:id/complete", h.CompleteChallenge)
	r.POST("/challenges/:id/cancel", h.CancelChallenge)
	r.POST("/challenges/:id/verify", h.VerifyChallenge)
	r.POST("/challenges/:id/resend", h.ResendChallenge)
	if h.hub != nil {
		r.GET("/ws", h.Stream)
	}
}

// CompleteRequest is the front-end's captcha completion event.
type CompleteRequest struct {
	Success *bool `json:"success" binding:"required"`
}

// VerifyRequest carries a one-time code.
type VerifyRequest struct {
	Code string `json:"code" binding:"required"`
}

// GetChallenge handles GET /v1/challenges/:id
func (h *Handler) GetChallenge(c *gin.Context) {
	s, err := h.orch.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"challenge": s})
}

// CompleteChallenge handles POST /v1/challenges/:id/complete. 3-D Secure
// sessions complete through /v1/threeds/callback and OTP sessions through
// /verify.
func (h *Handler) CompleteChallenge(c *gin.Context) {
	var req CompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "success flag is required",
		})
		return
	}
	s, err := h.orch.CompleteCaptcha(c.Param("id"), *req.Success)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"challenge": s})
}

// CancelChallenge handles POST /v1/challenges/:id/cancel
func (h *Handler) CancelChallenge(c *gin.Context) {
	s, err := h.orch.Cancel(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"challenge": s, "message": "not authorized"})
}

// VerifyChallenge handles POST /v1/challenges/:id/verify
func (h *Handler) VerifyChallenge(c *gin.Context) {
	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "code is required",
		})
		return
	}
	s, err := h.orch.VerifyCode(c.Param("id"), req.Code)
	if errors.Is(err, ErrInvalidCode) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":     "invalid_code",
			"message":   "Verification code is incorrect",
			"challenge": s,
		})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"challenge": s})
}

// ResendChallenge handles POST /v1/challenges/:id/resend
func (h *Handler) ResendChallenge(c *gin.Context) {
	if err := h.orch.Resend(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "sent"})
}

// Stream handles GET /v1/ws
func (h *Handler) Stream(c *gin.Context) {
	h.hub.HandleWebSocket(c.Writer, c.Request)
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Challenge not found"})
	case errors.Is(err, ErrNotPending):
		c.JSON(http.StatusConflict, gin.H{"error": "not_pending", "message": "Challenge already resolved"})
	case errors.Is(err, ErrResendCooldown):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "cooldown", "message": err.Error()})
	case errors.Is(err, ErrVerificationRequired):
		c.JSON(http.StatusConflict, gin.H{"error": "verification_required", "message": "Challenge must be completed through its verification flow"})
	case errors.Is(err, ErrCodeUnsupported):
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported", "message": "Challenge method does not use codes"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Challenge operation failed"})
	}
}
