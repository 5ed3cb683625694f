// Package challenge runs step-up verification for risky payments.
//
// Lifecycle:
//  1. Start creates a pending session for one payment attempt and arms its
//     timeout.
//  2. The front-end reports completion (success or failure), or the user
//     verifies an OTP code.
//  3. Cancel ends a pending session on user request.
//  4. Timeout forces a pending session to failed once the budget elapses.
//
// Terminal states are final. Each session has a single-shot done channel
// closed on its terminal transition, which is what Await blocks on.
package challenge

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/mbd888/riskgate/internal/risk"
)

var (
	ErrSessionNotFound = errors.New("challenge: session not found")
	ErrSessionActive   = errors.New("challenge: attempt already has an active session")
	ErrNotPending      = errors.New("challenge: session is no longer pending")
	ErrTimeout         = errors.New("challenge: timed out")
	ErrCanceled        = errors.New("challenge: canceled, not authorized")
	ErrInvalidCode     = errors.New("challenge: invalid verification code")
	ErrCodeUnsupported = errors.New("challenge: method does not use codes")
	ErrResendCooldown  = errors.New("challenge: resend cooldown active")
	ErrInvalidRequest  = errors.New("challenge: invalid request")

	// ErrVerificationRequired is returned when a self-reported completion is
	// offered for a method that must be proven (3-D Secure message, OTP code).
	ErrVerificationRequired = errors.New("challenge: method requires verified completion")
)

// Method is how the user is challenged.
type Method string

const (
	MethodSMS     Method = "sms"
	MethodEmail   Method = "email"
	MethodCaptcha Method = "captcha"
	Method3DS     Method = "3ds"
)

// Valid reports whether m is a known method.
func (m Method) Valid() bool {
	switch m {
	case MethodSMS, MethodEmail, MethodCaptcha, Method3DS:
		return true
	}
	return false
}

// UsesCode reports whether the method delivers a one-time code.
func (m Method) UsesCode() bool {
	return m == MethodSMS || m == MethodEmail
}

// Status is the state of a session.
type Status string

const (
	StatusPending  Status = "pending"
	StatusSuccess  Status = "success"
	StatusFailed   Status = "failed"
	StatusCanceled Status = "canceled"
)

// Failure reasons recorded on failed sessions.
const (
	ReasonRejected       = "rejected"
	ReasonTimeout        = "timeout"
	ReasonTooManyCodes   = "too_many_attempts"
	ReasonDeliveryFailed = "delivery_failed"
	ReasonShutdown       = "shutdown"
)

// Defaults.
const (
	DefaultTimeout         = 5 * time.Minute
	DefaultResendCooldown  = 60 * time.Second
	DefaultMaxCodeAttempts = 3
	DefaultRetention       = 10 * time.Minute
)

// Session is one in-flight or finished challenge.
type Session struct {
	ID                string     `json:"id"`
	AttemptID         string     `json:"attemptId"`
	UserID            string     `json:"userId"`
	Method            Method     `json:"method"`
	RiskLevel         risk.Level `json:"riskLevel"`
	Reasons           []string   `json:"reasons,omitempty"`
	Status            Status     `json:"status"`
	FailureReason     string     `json:"failureReason,omitempty"`
	AuthenticationURL string     `json:"authenticationUrl,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	ExpiresAt         time.Time  `json:"expiresAt"`
	ResolvedAt        *time.Time `json:"resolvedAt,omitempty"`
}

// IsTerminal returns true if the session is in a final state.
func (s *Session) IsTerminal() bool {
	return s.Status != StatusPending
}

func (s *Session) clone() *Session {
	c := *s
	c.Reasons = slices.Clone(s.Reasons)
	if s.ResolvedAt != nil {
		t := *s.ResolvedAt
		c.ResolvedAt = &t
	}
	return &c
}

// Request starts a session.
type Request struct {
	AttemptID string
	UserID    string
	Method    Method
	RiskLevel risk.Level
	Reasons   []string
	// Destination is the phone number or email address for OTP methods.
	Destination string
	// AuthenticationURL is the issuer page for 3-D Secure sessions.
	AuthenticationURL string
}

func (r Request) validate() error {
	if r.AttemptID == "" {
		return errors.Join(ErrInvalidRequest, errors.New("attempt id is required"))
	}
	if !r.Method.Valid() {
		return errors.Join(ErrInvalidRequest, errors.New("unknown method "+string(r.Method)))
	}
	if r.Method.UsesCode() && r.Destination == "" {
		return errors.Join(ErrInvalidRequest, errors.New("destination is required for "+string(r.Method)))
	}
	return nil
}

// Profile carries what is known about the payer when picking a method.
type Profile struct {
	CardPayment    bool
	ThreeDSEnabled bool
	PhoneVerified  bool
	EmailVerified  bool
}

// SelectMethod prefers 3-D Secure for cards, then SMS, then email, then
// captcha.
func SelectMethod(p Profile) Method {
	switch {
	case p.CardPayment && p.ThreeDSEnabled:
		return Method3DS
	case p.PhoneVerified:
		return MethodSMS
	case p.EmailVerified:
		return MethodEmail
	default:
		return MethodCaptcha
	}
}

// Sender delivers one-time codes.
type Sender interface {
	SendCode(ctx context.Context, method Method, destination, code string) error
}

// EventType for session notifications.
type EventType string

const (
	EventStarted  EventType = "challenge.started"
	EventResolved EventType = "challenge.resolved"
)

// Event is published on session start and on its terminal transition.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Session   *Session  `json:"session"`
}

// Notifier pushes session events to the challenge front-end.
type Notifier interface {
	Notify(ev *Event)
}
