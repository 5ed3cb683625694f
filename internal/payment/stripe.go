package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
)

// MetadataPaymentMethod is the Request.Details key holding the Stripe
// payment method id.
const MetadataPaymentMethod = "payment_method"

type paymentIntents interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeGateway charges through Stripe PaymentIntents, confirming
// immediately and without redirects.
type StripeGateway struct {
	intents  paymentIntents
	currency string
}

// NewStripeGateway creates a gateway for secretKey. currency is used when a
// request does not carry one.
func NewStripeGateway(secretKey, currency string) *StripeGateway {
	sc := client.New(secretKey, nil)
	return &StripeGateway{intents: sc.PaymentIntents, currency: strings.ToLower(currency)}
}

func (g *StripeGateway) Charge(ctx context.Context, idempotencyKey string, req Request) (Charge, error) {
	pm := req.Details[MetadataPaymentMethod]
	if pm == "" {
		return Charge{}, &PermanentError{Code: "missing_payment_method", Err: errors.New("no stripe payment method on request")}
	}
	currency := strings.ToLower(req.Currency)
	if currency == "" {
		currency = g.currency
	}

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.Amount),
		Currency:      stripe.String(currency),
		PaymentMethod: stripe.String(pm),
		Confirm:       stripe.Bool(true),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)
	if req.UserID != "" {
		params.AddMetadata("user_id", req.UserID)
	}

	pi, err := g.intents.New(params)
	if err != nil {
		return Charge{}, classifyStripeError(err)
	}

	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded, stripe.PaymentIntentStatusProcessing:
		c := Charge{TransactionID: pi.ID}
		if pi.LatestCharge != nil {
			c.ReceiptRef = pi.LatestCharge.ID
		}
		return c, nil
	default:
		return Charge{}, &PermanentError{
			Code: string(pi.Status),
			Err:  fmt.Errorf("payment intent %s ended in status %s", pi.ID, pi.Status),
		}
	}
}

// classifyStripeError maps Stripe errors onto the retry taxonomy. Network
// failures never reach Stripe's error type and are transient.
func classifyStripeError(err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return &TransientError{Code: "network", Err: err}
	}
	code := string(se.Code)
	if code == "" {
		code = string(se.Type)
	}
	if se.HTTPStatusCode == http.StatusTooManyRequests ||
		se.HTTPStatusCode >= http.StatusInternalServerError ||
		se.Type == stripe.ErrorTypeAPI {
		return &TransientError{Code: code, Err: err}
	}
	// Card declines, invalid requests and idempotency conflicts.
	return &PermanentError{Code: code, Err: err}
}
