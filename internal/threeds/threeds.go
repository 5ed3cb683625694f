// Package threeds authenticates card payments with 3-D Secure: it asks the
// issuer whether a challenge is needed, runs the challenge through the
// challenge orchestrator and trusts only completion messages from the
// expected origin.
package threeds

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrIssuer          = errors.New("threeds: issuer request failed")
	ErrInvalidMessage  = errors.New("threeds: invalid completion message")
	ErrUntrustedOrigin = errors.New("threeds: untrusted message origin")
)

// Card is the data sent to the issuer. The security code is never collected.
type Card struct {
	Number   string `json:"number"`
	ExpMonth int    `json:"expMonth"`
	ExpYear  int    `json:"expYear"`
	Holder   string `json:"holder,omitempty"`
	Brand    string `json:"brand,omitempty"`
}

func (c Card) digits() string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, c.Number)
}

// BIN returns the first six digits of the card number.
func (c Card) BIN() string {
	d := c.digits()
	if len(d) < 6 {
		return d
	}
	return d[:6]
}

// Last4 returns the last four digits of the card number.
func (c Card) Last4() string {
	d := c.digits()
	if len(d) < 4 {
		return d
	}
	return d[len(d)-4:]
}

// Masked returns the card number with all but BIN and last four hidden.
func (c Card) Masked() string {
	d := c.digits()
	if len(d) < 10 {
		return strings.Repeat("*", len(d))
	}
	return d[:6] + strings.Repeat("*", len(d)-10) + d[len(d)-4:]
}

// Status of an issuer authentication.
type Status string

const (
	StatusPending  Status = "pending"
	StatusSuccess  Status = "success"
	StatusFailed   Status = "failed"
	StatusCanceled Status = "canceled"
)

// InitiateRequest is sent to the issuer. Amount is in minor units.
type InitiateRequest struct {
	Card            Card    `json:"card"`
	Amount          int64   `json:"amount"`
	Currency        string  `json:"currency"`
	OrderID         string  `json:"orderId"`
	DeviceRiskScore float64 `json:"deviceRiskScore"`
}

// InitiateResponse is the issuer's answer. A success status means the
// issuer authenticated without a challenge.
type InitiateResponse struct {
	Status            Status `json:"status"`
	AuthenticationURL string `json:"authenticationUrl,omitempty"`
	TransactionID     string `json:"transactionId,omitempty"`
}

// Issuer starts 3-D Secure authentications.
type Issuer interface {
	Initiate(ctx context.Context, req InitiateRequest) (InitiateResponse, error)
}
