package authz

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/riskgate/internal/challenge"
	"github.com/mbd888/riskgate/internal/device"
	"github.com/mbd888/riskgate/internal/payment"
	"github.com/mbd888/riskgate/internal/threeds"
)

// Handler exposes the pipeline over HTTP.
type Handler struct {
	pipeline *Pipeline
	defaults Options
}

// NewHandler creates a new authorization handler. defaults are applied to
// every request; operator requests may override them.
func NewHandler(pipeline *Pipeline, defaults Options) *Handler {
	return &Handler{pipeline: pipeline, defaults: defaults}
}

// RegisterRoutes sets up the payer-facing authorization route.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/authorize", h.Authorize)
}

// RegisterReviewRoutes sets up the operator routes. Callers gate the group.
func (h *Handler) RegisterReviewRoutes(r *gin.RouterGroup) {
	r.GET("/users/:id/assessments", h.ListAssessments)
	r.POST("/operator/authorize", h.OperatorAuthorize)
}

// PaymentRequest is the POST /v1/authorize body. Payers describe the
// payment only: stage options, locations and contact channels are not
// accepted here, and the IP is the connection's.
type PaymentRequest struct {
	AttemptID      string            `json:"attemptId,omitempty"`
	IdempotencyKey string            `json:"idempotencyKey,omitempty"`
	UserID         string            `json:"userId"`
	Amount         int64             `json:"amount"`
	Currency       string            `json:"currency,omitempty"`
	Method         payment.Method    `json:"method"`
	PaymentDetails map[string]string `json:"paymentDetails,omitempty"`
	Card           *threeds.Card     `json:"card,omitempty"`
	DeviceSignals  device.Signals    `json:"deviceSignals,omitempty"`
}

func (b PaymentRequest) request(ip string) Request {
	return Request{
		AttemptID:      b.AttemptID,
		IdempotencyKey: b.IdempotencyKey,
		UserID:         b.UserID,
		Amount:         b.Amount,
		Currency:       b.Currency,
		Method:         b.Method,
		PaymentDetails: b.PaymentDetails,
		Card:           b.Card,
		IP:             ip,
		DeviceSignals:  b.DeviceSignals,
	}
}

// OptionOverrides switch stages off (or on) for one operator request.
type OptionOverrides struct {
	CollectDevice  *bool `json:"collectDevice,omitempty"`
	AssessRisk     *bool `json:"assessRisk,omitempty"`
	AllowChallenge *bool `json:"allowChallenge,omitempty"`
	ThreeDSEnabled *bool `json:"threeDSEnabled,omitempty"`
}

func (o *OptionOverrides) apply(opts Options) Options {
	if o == nil {
		return opts
	}
	set := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
		}
	}
	set(&opts.CollectDevice, o.CollectDevice)
	set(&opts.AssessRisk, o.AssessRisk)
	set(&opts.AllowChallenge, o.AllowChallenge)
	set(&opts.ThreeDSEnabled, o.ThreeDSEnabled)
	return opts
}

// AuthorizeRequest is the POST /v1/operator/authorize body.
type AuthorizeRequest struct {
	Request
	Options *OptionOverrides `json:"options,omitempty"`
}

// Authorize handles POST /v1/authorize. The call blocks while a challenge
// is pending; the front-end learns about it over /v1/ws.
func (h *Handler) Authorize(c *gin.Context) {
	var body PaymentRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		invalidRequest(c, "Invalid authorization request")
		return
	}
	// Attempt ids double as websocket subscription keys.
	if body.AttemptID != "" && len(body.AttemptID) < challenge.MinSubscriptionIDLength {
		invalidRequest(c, "attemptId is too short")
		return
	}
	h.respond(c, body.request(c.ClientIP()), h.defaults)
}

// OperatorAuthorize handles POST /v1/operator/authorize: the full request,
// including locations, contacts and per-request stage overrides.
func (h *Handler) OperatorAuthorize(c *gin.Context) {
	var body AuthorizeRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		invalidRequest(c, "Invalid authorization request")
		return
	}
	req := body.Request
	if req.IP == "" {
		req.IP = c.ClientIP()
	}
	h.respond(c, req, body.Options.apply(h.defaults))
}

func (h *Handler) respond(c *gin.Context, req Request, opts Options) {
	res := h.pipeline.Authorize(c.Request.Context(), req, opts)
	switch res.Decision {
	case DecisionInvalid:
		invalidRequest(c, res.Error)
	case DecisionError:
		c.JSON(http.StatusInternalServerError, res)
	default:
		c.JSON(http.StatusOK, res)
	}
}

func invalidRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": msg})
}

// ListAssessments handles GET /v1/users/:id/assessments
func (h *Handler) ListAssessments(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	list, err := h.pipeline.Assessments(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list assessments",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"assessments": list, "count": len(list)})
}
