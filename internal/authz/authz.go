// Package authz is the authorization pipeline: it scores a payment attempt,
// blocks, routes to review or challenges it as the score demands, executes
// the payment and records the outcome for future velocity checks.
package authz

import (
	"errors"
	"fmt"

	"github.com/mbd888/riskgate/internal/device"
	"github.com/mbd888/riskgate/internal/geo"
	"github.com/mbd888/riskgate/internal/payment"
	"github.com/mbd888/riskgate/internal/risk"
	"github.com/mbd888/riskgate/internal/threeds"
)

var (
	ErrInvalidRequest = errors.New("authz: invalid request")
	// ErrInternal marks unexpected failures. It is logged, never shown.
	ErrInternal = errors.New("authz: internal pipeline error")
)

// Action types returned with RequiresAction.
const (
	ActionManualReview = "manual_review"
	ActionWaitCooldown = "wait_cooldown"
)

// Decisions, used for metrics and span attributes.
const (
	DecisionApproved          = "approved"
	DecisionBlocked           = "blocked"
	DecisionManualReview      = "manual_review"
	DecisionCooldown          = "cooldown"
	DecisionChallengeFailed   = "challenge_failed"
	DecisionChallengeTimeout  = "challenge_timeout"
	DecisionChallengeCanceled = "challenge_canceled"
	DecisionPaymentFailed     = "payment_failed"
	DecisionCanceled          = "canceled"
	DecisionInvalid           = "invalid"
	DecisionError             = "error"
)

// Messages shown to the payer.
const (
	msgBlocked       = "This payment was declined for security reasons. Please contact support."
	msgManualReview  = "This payment needs a manual review before it can be completed."
	msgCooldown      = "Please wait before making another payment."
	msgNotVerified   = "Additional verification was not completed."
	msgTimedOut      = "Verification timed out."
	msgNotAuthorized = "not authorized"
	msgDeclined      = "The payment was declined."
	msgUnavailable   = "The payment service is temporarily unavailable. Please try again later."
	msgInternal      = "The payment could not be processed."
)

// Contact describes the payer's verified channels for OTP challenges.
type Contact struct {
	Phone         string `json:"phone,omitempty"`
	PhoneVerified bool   `json:"phoneVerified,omitempty"`
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"emailVerified,omitempty"`
}

// Request is one payment attempt submitted for authorization.
type Request struct {
	// AttemptID names this attempt. Assigned when empty.
	AttemptID string `json:"attemptId,omitempty"`
	// IdempotencyKey is reused across client retries of the same payment.
	// Assigned when empty.
	IdempotencyKey string            `json:"idempotencyKey,omitempty"`
	UserID         string            `json:"userId"`
	Amount         int64             `json:"amount"`
	Currency       string            `json:"currency,omitempty"`
	Method         payment.Method    `json:"method"`
	PaymentDetails map[string]string `json:"paymentDetails,omitempty"`
	Card           *threeds.Card     `json:"card,omitempty"`
	IP             string            `json:"ip,omitempty"`
	DeviceSignals  device.Signals    `json:"deviceSignals,omitempty"`
	// CurrentLocation skips IP resolution when set.
	CurrentLocation    *geo.Location `json:"currentLocation,omitempty"`
	RegisteredLocation *geo.Location `json:"registeredLocation,omitempty"`
	Contact            Contact       `json:"contact,omitempty"`
}

func (r Request) validate() error {
	switch {
	case r.UserID == "":
		return fmt.Errorf("%w: userId is required", ErrInvalidRequest)
	case r.Amount <= 0:
		return fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	case r.Method == "":
		return fmt.Errorf("%w: method is required", ErrInvalidRequest)
	}
	return nil
}

// Options toggle pipeline stages per call.
type Options struct {
	CollectDevice  bool
	AssessRisk     bool
	AllowChallenge bool
	ThreeDSEnabled bool
	Retry          payment.RetryPolicy
}

// DefaultOptions enables every stage.
func DefaultOptions() Options {
	return Options{
		CollectDevice:  true,
		AssessRisk:     true,
		AllowChallenge: true,
		ThreeDSEnabled: true,
		Retry:          payment.DefaultRetryPolicy(),
	}
}

// Result is the single answer to an Authorize call.
type Result struct {
	Approved       bool   `json:"approved"`
	AttemptID      string `json:"attemptId"`
	TransactionID  string `json:"transactionId,omitempty"`
	ReceiptRef     string `json:"receiptRef,omitempty"`
	ReceiptID      string `json:"receiptId,omitempty"`
	Error          string `json:"error,omitempty"`
	RequiresAction bool   `json:"requiresAction"`
	ActionType     string `json:"actionType,omitempty"`
	ChallengeID    string `json:"challengeId,omitempty"`
	// RetryAfterSeconds is set for cooldown denials.
	RetryAfterSeconds int              `json:"retryAfterSeconds,omitempty"`
	Reasons           []string         `json:"reasons,omitempty"`
	SuggestedActions  []string         `json:"suggestedActions,omitempty"`
	Assessment        *risk.Assessment `json:"assessment,omitempty"`
	Decision          string           `json:"decision"`
}
