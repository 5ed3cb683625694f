package profile

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/riskgate/internal/geo"
)

// Handler provides HTTP endpoints for payer profiles. Every route is an
// operator route; callers gate the group.
type Handler struct {
	service *Service
}

// NewHandler creates a new profile handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterReviewRoutes sets up the operator routes.
func (h *Handler) RegisterReviewRoutes(r *gin.RouterGroup) {
	r.GET("/users/:id/profile", h.GetProfile)
	r.PUT("/users/:id/profile", h.PutProfile)
}

// PutRequest is the PUT /v1/users/:id/profile body.
type PutRequest struct {
	RegisteredLocation *geo.Location `json:"registeredLocation"`
	Phone              string        `json:"phone"`
	PhoneVerified      bool          `json:"phoneVerified"`
	Email              string        `json:"email"`
	EmailVerified      bool          `json:"emailVerified"`
}

// GetProfile handles GET /v1/users/:id/profile
func (h *Handler) GetProfile(c *gin.Context) {
	p, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Profile not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load profile",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": p})
}

// PutProfile handles PUT /v1/users/:id/profile
func (h *Handler) PutProfile(c *gin.Context) {
	var req PutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid profile",
		})
		return
	}

	p := &Profile{
		UserID:             c.Param("id"),
		RegisteredLocation: req.RegisteredLocation,
		Phone:              req.Phone,
		PhoneVerified:      req.PhoneVerified,
		Email:              req.Email,
		EmailVerified:      req.EmailVerified,
	}
	if err := h.service.Put(c.Request.Context(), p); err != nil {
		if errors.Is(err, ErrInvalidProfile) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to store profile",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": p})
}
