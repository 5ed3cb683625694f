package receipts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mbd888/riskgate/internal/idgen"
)

// Service implements receipt business logic.
type Service struct {
	store  Store
	signer *Signer
	now    func() time.Time
}

// NewService creates a new receipt service.
// If signer is nil, Issue is a no-op (signing disabled).
func NewService(store Store, signer *Signer) *Service {
	return &Service{
		store:  store,
		signer: signer,
		now:    time.Now,
	}
}

// Enabled reports whether receipts are being issued.
func (s *Service) Enabled() bool {
	return s != nil && s.signer != nil
}

// Issue signs and persists a receipt. A second call for the same idempotency
// key returns the first receipt. Nil-safe: returns nil, nil when signing is
// disabled.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (*Receipt, error) {
	if !s.Enabled() {
		return nil, nil
	}

	existing, err := s.store.GetByKey(ctx, req.IdempotencyKey)
	switch {
	case err == nil:
		return existing, nil
	case !errors.Is(err, ErrReceiptNotFound):
		return nil, fmt.Errorf("receipts: lookup by key: %w", err)
	}

	now := s.now().UTC().Truncate(time.Second)
	receipt := &Receipt{
		ID:             idgen.WithPrefix(idgen.PrefixReceipt),
		AttemptID:      req.AttemptID,
		IdempotencyKey: req.IdempotencyKey,
		UserID:         req.UserID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Method:         req.Method,
		TransactionID:  req.TransactionID,
		GatewayRef:     req.GatewayRef,
		RiskScore:      req.RiskScore,
		IssuedAt:       now,
		ExpiresAt:      now.Add(signatureValidity),
		CreatedAt:      now,
	}

	payload := payloadOf(receipt)
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("receipts: failed to marshal payload: %w", err)
	}
	hash := sha256.Sum256(data)
	receipt.PayloadHash = hex.EncodeToString(hash[:])

	receipt.Signature, err = s.signer.Sign(payload)
	if err != nil {
		return nil, fmt.Errorf("receipts: failed to sign: %w", err)
	}

	if err := s.store.Create(ctx, receipt); err != nil {
		return nil, fmt.Errorf("receipts: failed to store: %w", err)
	}
	return receipt, nil
}

// Get returns a receipt by ID.
func (s *Service) Get(ctx context.Context, id string) (*Receipt, error) {
	return s.store.Get(ctx, id)
}

// ListByUser returns a user's receipts, newest first.
func (s *Service) ListByUser(ctx context.Context, userID string, limit int) ([]*Receipt, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByUser(ctx, userID, limit)
}

// Verify checks whether a receipt's signature is valid.
func (s *Service) Verify(ctx context.Context, receiptID string) (*VerifyResponse, error) {
	resp := &VerifyResponse{ReceiptID: receiptID}
	if !s.Enabled() {
		resp.Error = ErrSigningDisabled.Error()
		return resp, nil
	}

	receipt, err := s.store.Get(ctx, receiptID)
	if errors.Is(err, ErrReceiptNotFound) {
		resp.Error = ErrReceiptNotFound.Error()
		return resp, nil
	}
	if err != nil {
		return nil, err
	}

	resp.Valid = s.signer.Verify(payloadOf(receipt), receipt.Signature)
	if !resp.Valid {
		resp.Error = "signature verification failed"
		return resp, nil
	}
	if s.now().After(receipt.ExpiresAt) {
		resp.Expired = true
	}
	return resp, nil
}
