package threeds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mbd888/riskgate/internal/challenge"
	"github.com/mbd888/riskgate/internal/risk"
)

// AuthRequest asks for 3-D Secure authentication of one attempt.
type AuthRequest struct {
	AttemptID       string
	UserID          string
	Card            Card
	Amount          int64
	Currency        string
	OrderID         string
	DeviceRiskScore float64
	RiskLevel       risk.Level
	Reasons         []string
}

// Result of an authentication.
type Result struct {
	Status       Status
	Frictionless bool
	// Session is set when the issuer demanded a challenge.
	Session *challenge.Session
}

// Authenticator runs issuer authentication on top of the challenge
// orchestrator, so timeout and cancel behave as for every other method.
type Authenticator struct {
	issuer   Issuer
	orch     *challenge.Orchestrator
	policy   Policy
	verifier *MessageVerifier
	logger   *slog.Logger
}

// NewAuthenticator wires an authenticator. A nil policy uses
// DefaultThresholdPolicy.
func NewAuthenticator(issuer Issuer, orch *challenge.Orchestrator, policy Policy, verifier *MessageVerifier, logger *slog.Logger) *Authenticator {
	if policy == nil {
		policy = DefaultThresholdPolicy()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		issuer:   issuer,
		orch:     orch,
		policy:   policy,
		verifier: verifier,
		logger:   logger,
	}
}

// ShouldRequire3DSecure consults the configured policy.
func (a *Authenticator) ShouldRequire3DSecure(ctx context.Context, d Decision) (bool, error) {
	return a.policy.ShouldRequire(ctx, d)
}

// Authenticate initiates with the issuer and, if the issuer wants a
// challenge, blocks until the challenge session is terminal. Timeouts and
// cancellations surface as challenge.ErrTimeout and challenge.ErrCanceled.
func (a *Authenticator) Authenticate(ctx context.Context, req AuthRequest) (Result, error) {
	resp, err := a.issuer.Initiate(ctx, InitiateRequest{
		Card:            req.Card,
		Amount:          req.Amount,
		Currency:        req.Currency,
		OrderID:         req.OrderID,
		DeviceRiskScore: req.DeviceRiskScore,
	})
	if err != nil {
		if !errors.Is(err, ErrIssuer) {
			err = fmt.Errorf("%w: %v", ErrIssuer, err)
		}
		return Result{Status: StatusFailed}, err
	}

	switch resp.Status {
	case StatusSuccess:
		a.logger.Debug("3-D Secure frictionless", "attemptId", req.AttemptID, "card", req.Card.Masked())
		return Result{Status: StatusSuccess, Frictionless: true}, nil
	case StatusFailed:
		return Result{Status: StatusFailed}, nil
	case StatusPending:
	default:
		return Result{Status: StatusFailed}, fmt.Errorf("%w: unexpected status %q", ErrIssuer, resp.Status)
	}
	if resp.AuthenticationURL == "" {
		return Result{Status: StatusFailed}, fmt.Errorf("%w: pending without authentication url", ErrIssuer)
	}

	ok, session, err := a.orch.Challenge(ctx, challenge.Request{
		AttemptID:         req.AttemptID,
		UserID:            req.UserID,
		Method:            challenge.Method3DS,
		RiskLevel:         req.RiskLevel,
		Reasons:           req.Reasons,
		AuthenticationURL: resp.AuthenticationURL,
	})
	res := Result{Session: session, Status: StatusFailed}
	switch {
	case ok:
		res.Status = StatusSuccess
	case errors.Is(err, challenge.ErrCanceled):
		res.Status = StatusCanceled
	}
	return res, err
}

// HandleCompletion verifies a completion message and resolves its session.
func (a *Authenticator) HandleCompletion(msg CompletionMessage) (*challenge.Session, error) {
	if a.verifier == nil {
		return nil, fmt.Errorf("%w: no verifier configured", ErrUntrustedOrigin)
	}
	sessionID, success, err := a.verifier.Verify(msg)
	if err != nil {
		a.logger.Warn("rejected 3-D Secure completion", "origin", msg.Origin, "error", err)
		return nil, err
	}

	s, err := a.orch.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if s.Method != challenge.Method3DS {
		return nil, fmt.Errorf("%w: session is not a 3-D Secure challenge", ErrInvalidMessage)
	}
	return a.orch.Complete(sessionID, success)
}
