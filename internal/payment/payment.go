// Package payment executes approved payments against a gateway with bounded
// retry. Every attempt of one logical request shares an idempotency key so
// the gateway can collapse duplicates.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mbd888/riskgate/internal/retry"
)

var (
	ErrInvalidRequest = errors.New("payment: invalid request")
	ErrCanceled       = errors.New("payment: caller canceled")
)

// Method is a payment method tag.
type Method string

const (
	MethodCard         Method = "card"
	MethodBankTransfer Method = "bank_transfer"
	MethodKonbini      Method = "konbini"
	MethodWallet       Method = "wallet"
)

// IsCard reports whether m is card based.
func (m Method) IsCard() bool {
	return m == MethodCard
}

// Outcome of one attempt.
type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeTransientFailure Outcome = "transient_failure"
	OutcomePermanentFailure Outcome = "permanent_failure"
)

// Request is one logical payment.
type Request struct {
	// IdempotencyKey is stable across retries. Execute assigns one when empty.
	IdempotencyKey string            `json:"idempotencyKey"`
	UserID         string            `json:"userId"`
	Amount         int64             `json:"amount"`
	Currency       string            `json:"currency"`
	Method         Method            `json:"method"`
	Details        map[string]string `json:"details,omitempty"`
}

func (r Request) validate() error {
	if r.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	if r.Method == "" {
		return fmt.Errorf("%w: method is required", ErrInvalidRequest)
	}
	return nil
}

// Attempt is the record of one gateway call.
type Attempt struct {
	ID             string    `json:"id"`
	IdempotencyKey string    `json:"idempotencyKey"`
	Number         int       `json:"number"`
	UserID         string    `json:"userId"`
	Amount         int64     `json:"amount"`
	Currency       string    `json:"currency"`
	Method         Method    `json:"method"`
	Outcome        Outcome   `json:"outcome"`
	TransactionID  string    `json:"transactionId,omitempty"`
	ReceiptRef     string    `json:"receiptRef,omitempty"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Result of Execute.
type Result struct {
	IdempotencyKey string     `json:"idempotencyKey"`
	TransactionID  string     `json:"transactionId,omitempty"`
	ReceiptRef     string     `json:"receiptRef,omitempty"`
	Attempts       []*Attempt `json:"attempts"`
	// Replayed is set when an earlier success was returned without a new
	// gateway call.
	Replayed bool `json:"replayed,omitempty"`
}

// Charge is what a gateway returns on success.
type Charge struct {
	TransactionID string
	ReceiptRef    string
}

// Gateway moves funds. Errors should be *TransientError or *PermanentError
// where the gateway knows; anything else goes through the Classifier.
type Gateway interface {
	Charge(ctx context.Context, idempotencyKey string, req Request) (Charge, error)
}

// AttemptLog records every attempt, including those whose caller has gone.
type AttemptLog interface {
	Record(ctx context.Context, a *Attempt) error
	ListByKey(ctx context.Context, idempotencyKey string) ([]*Attempt, error)
}

// TransientError is a gateway failure worth retrying.
type TransientError struct {
	Code string
	Err  error
}

func (e *TransientError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("transient gateway error (%s): %v", e.Code, e.Err)
	}
	return "transient gateway error: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError is a gateway failure that must not be retried.
type PermanentError struct {
	Code string
	Err  error
}

func (e *PermanentError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("permanent gateway error (%s): %v", e.Code, e.Err)
	}
	return "permanent gateway error: " + e.Err.Error()
}

func (e *PermanentError) Unwrap() error { return e.Err }

// RetryPolicy bounds gateway retries.
type RetryPolicy = retry.Policy

// DefaultRetryPolicy retries three times with a linear 1s, 2s, 3s backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseDelay: time.Second, Backoff: retry.Linear}
}

// Classifier sorts untyped gateway errors into transient and permanent.
type Classifier struct {
	// TransientMarkers are matched case-insensitively against the error text.
	TransientMarkers []string
}

// DefaultClassifier returns the stock transient markers.
func DefaultClassifier() *Classifier {
	return &Classifier{TransientMarkers: []string{
		"timeout",
		"timed out",
		"network",
		"connection reset",
		"connection refused",
		"temporarily unavailable",
		"service unavailable",
		"try again",
		"rate limit",
	}}
}

// Classify returns the outcome for a failed attempt.
func (c *Classifier) Classify(err error) Outcome {
	var te *TransientError
	if errors.As(err, &te) {
		return OutcomeTransientFailure
	}
	var pe *PermanentError
	if errors.As(err, &pe) {
		return OutcomePermanentFailure
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return OutcomeTransientFailure
	}
	msg := strings.ToLower(err.Error())
	for _, m := range c.TransientMarkers {
		if strings.Contains(msg, strings.ToLower(m)) {
			return OutcomeTransientFailure
		}
	}
	return OutcomePermanentFailure
}
