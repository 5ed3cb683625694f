package threeds

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPIssuer talks to an issuer access control server over JSON.
type HTTPIssuer struct {
	baseURL string
	client  *http.Client
}

// NewHTTPIssuer creates an issuer client for baseURL.
func NewHTTPIssuer(baseURL string, client *http.Client) *HTTPIssuer {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPIssuer{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

type issuerRequest struct {
	PAN             string  `json:"pan"`
	ExpMonth        int     `json:"expMonth"`
	ExpYear         int     `json:"expYear"`
	Holder          string  `json:"holder,omitempty"`
	Amount          int64   `json:"amount"`
	Currency        string  `json:"currency"`
	OrderID         string  `json:"orderId"`
	DeviceRiskScore float64 `json:"deviceRiskScore"`
}

func (i *HTTPIssuer) Initiate(ctx context.Context, req InitiateRequest) (InitiateResponse, error) {
	body, err := json.Marshal(issuerRequest{
		PAN:             req.Card.digits(),
		ExpMonth:        req.Card.ExpMonth,
		ExpYear:         req.Card.ExpYear,
		Holder:          req.Card.Holder,
		Amount:          req.Amount,
		Currency:        req.Currency,
		OrderID:         req.OrderID,
		DeviceRiskScore: req.DeviceRiskScore,
	})
	if err != nil {
		return InitiateResponse{}, fmt.Errorf("%w: %v", ErrIssuer, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, i.baseURL+"/authentications", bytes.NewReader(body))
	if err != nil {
		return InitiateResponse{}, fmt.Errorf("%w: %v", ErrIssuer, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := i.client.Do(httpReq)
	if err != nil {
		return InitiateResponse{}, fmt.Errorf("%w: %v", ErrIssuer, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return InitiateResponse{}, fmt.Errorf("%w: status %d", ErrIssuer, resp.StatusCode)
	}

	var out InitiateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&out); err != nil {
		return InitiateResponse{}, fmt.Errorf("%w: decode: %v", ErrIssuer, err)
	}
	switch out.Status {
	case StatusSuccess, StatusFailed:
	case StatusPending:
		if out.AuthenticationURL == "" {
			return InitiateResponse{}, fmt.Errorf("%w: pending without authentication url", ErrIssuer)
		}
	default:
		return InitiateResponse{}, fmt.Errorf("%w: unexpected status %q", ErrIssuer, out.Status)
	}
	return out, nil
}
