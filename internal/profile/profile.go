// Package profile keeps the server-side facts about a payer that the
// authorization pipeline must not take from the payment request: the
// registered location and the verified contact channels.
package profile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mbd888/riskgate/internal/geo"
)

var (
	ErrNotFound       = errors.New("profile: not found")
	ErrInvalidProfile = errors.New("profile: invalid profile")
)

// Profile is what the service knows about a payer.
type Profile struct {
	UserID             string        `json:"userId"`
	RegisteredLocation *geo.Location `json:"registeredLocation,omitempty"`
	Phone              string        `json:"phone,omitempty"`
	PhoneVerified      bool          `json:"phoneVerified"`
	Email              string        `json:"email,omitempty"`
	EmailVerified      bool          `json:"emailVerified"`
	UpdatedAt          time.Time     `json:"updatedAt"`
}

// VerifiedPhone returns the phone number when it has been verified.
func (p *Profile) VerifiedPhone() string {
	if p == nil || !p.PhoneVerified {
		return ""
	}
	return p.Phone
}

// VerifiedEmail returns the email address when it has been verified.
func (p *Profile) VerifiedEmail() string {
	if p == nil || !p.EmailVerified {
		return ""
	}
	return p.Email
}

func (p *Profile) validate() error {
	switch {
	case p.UserID == "":
		return fmt.Errorf("%w: userId is required", ErrInvalidProfile)
	case p.PhoneVerified && p.Phone == "":
		return fmt.Errorf("%w: a verified phone needs a number", ErrInvalidProfile)
	case p.EmailVerified && !strings.Contains(p.Email, "@"):
		return fmt.Errorf("%w: a verified email needs an address", ErrInvalidProfile)
	}
	if loc := p.RegisteredLocation; loc != nil {
		if !loc.Known() {
			return fmt.Errorf("%w: registered location needs a country", ErrInvalidProfile)
		}
		if (loc.Latitude == nil) != (loc.Longitude == nil) {
			return fmt.Errorf("%w: latitude and longitude go together", ErrInvalidProfile)
		}
	}
	return nil
}

// Store persists profiles.
type Store interface {
	Get(ctx context.Context, userID string) (*Profile, error)
	Put(ctx context.Context, p *Profile) error
}

// Service validates profiles before they reach the store.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService creates a profile service.
func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// Get returns the profile for userID or ErrNotFound.
func (s *Service) Get(ctx context.Context, userID string) (*Profile, error) {
	return s.store.Get(ctx, userID)
}

// Put validates p, stamps it and replaces the stored profile.
func (s *Service) Put(ctx context.Context, p *Profile) error {
	if err := p.validate(); err != nil {
		return err
	}
	p.UpdatedAt = s.now().UTC()
	if err := s.store.Put(ctx, p); err != nil {
		return fmt.Errorf("store profile: %w", err)
	}
	return nil
}
