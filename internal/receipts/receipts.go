// Package receipts issues signed proofs of approved authorizations.
//
// Every approved payment produces one receipt per idempotency key that the
// merchant can later verify against the service's HMAC secret.
package receipts

import (
	"context"
	"errors"
	"time"
)

var (
	ErrReceiptNotFound = errors.New("receipts: not found")
	ErrSigningDisabled = errors.New("receipts: signing disabled (no HMAC secret configured)")
)

// Receipt is a signed proof that an authorization was approved and charged.
type Receipt struct {
	ID             string    `json:"id"`
	AttemptID      string    `json:"attemptId"`
	IdempotencyKey string    `json:"idempotencyKey"`
	UserID         string    `json:"userId"`
	Amount         int64     `json:"amount"`
	Currency       string    `json:"currency"`
	Method         string    `json:"method"`
	TransactionID  string    `json:"transactionId"`
	GatewayRef     string    `json:"gatewayRef,omitempty"` // the gateway's own receipt reference
	RiskScore      *float64  `json:"riskScore,omitempty"`
	PayloadHash    string    `json:"payloadHash"` // SHA-256 of canonical payload
	Signature      string    `json:"signature"`   // HMAC-SHA256 signature
	IssuedAt       time.Time `json:"issuedAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
	CreatedAt      time.Time `json:"createdAt"`
}

// IssueRequest is the input for creating a receipt.
type IssueRequest struct {
	AttemptID      string
	IdempotencyKey string
	UserID         string
	Amount         int64
	Currency       string
	Method         string
	TransactionID  string
	GatewayRef     string
	RiskScore      *float64
}

// VerifyRequest is the input for verifying a receipt signature.
type VerifyRequest struct {
	ReceiptID string `json:"receiptId" binding:"required"`
}

// VerifyResponse is the result of receipt verification.
type VerifyResponse struct {
	Valid     bool   `json:"valid"`
	ReceiptID string `json:"receiptId"`
	Expired   bool   `json:"expired,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Store persists receipts.
type Store interface {
	Create(ctx context.Context, receipt *Receipt) error
	Get(ctx context.Context, id string) (*Receipt, error)
	// GetByKey returns the receipt issued for an idempotency key.
	GetByKey(ctx context.Context, idempotencyKey string) (*Receipt, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*Receipt, error)
}

// receiptPayload is the canonical struct signed by HMAC.
// Field order must be deterministic (JSON marshalling of struct is by field order).
type receiptPayload struct {
	Amount         int64  `json:"amount"`
	AttemptID      string `json:"attemptId"`
	Currency       string `json:"currency"`
	IdempotencyKey string `json:"idempotencyKey"`
	Method         string `json:"method"`
	TransactionID  string `json:"transactionId"`
	UserID         string `json:"userId"`
}

func payloadOf(r *Receipt) receiptPayload {
	return receiptPayload{
		Amount:         r.Amount,
		AttemptID:      r.AttemptID,
		Currency:       r.Currency,
		IdempotencyKey: r.IdempotencyKey,
		Method:         r.Method,
		TransactionID:  r.TransactionID,
		UserID:         r.UserID,
	}
}
