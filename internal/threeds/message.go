package threeds

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CompletionMessage is relayed from the issuer's challenge frame. Origin is
// the frame origin as observed by the browser.
type CompletionMessage struct {
	Origin    string `json:"origin"`
	SessionID string `json:"sessionId"`
	Success   *bool  `json:"success"`
	// Token is an HS256 JWT signed by the issuer, required when the verifier
	// has a secret.
	Token string `json:"token,omitempty"`
}

// CompletionClaims are carried in a signed completion token.
type CompletionClaims struct {
	SessionID string `json:"sid"`
	Success   bool   `json:"success"`
	jwt.RegisteredClaims
}

// MessageVerifier decides whether a completion message can be trusted.
type MessageVerifier struct {
	expectedOrigin string
	secret         []byte
}

// NewMessageVerifier creates a verifier. An empty secret disables token
// checks; the origin check always applies.
func NewMessageVerifier(expectedOrigin string, secret []byte) *MessageVerifier {
	return &MessageVerifier{
		expectedOrigin: normalizeOrigin(expectedOrigin),
		secret:         secret,
	}
}

func normalizeOrigin(o string) string {
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(o), "/"))
}

// Verify returns the session id and outcome carried by msg.
func (v *MessageVerifier) Verify(msg CompletionMessage) (string, bool, error) {
	if v.expectedOrigin == "" || normalizeOrigin(msg.Origin) != v.expectedOrigin {
		return "", false, fmt.Errorf("%w: %q", ErrUntrustedOrigin, msg.Origin)
	}

	if len(v.secret) == 0 {
		if msg.SessionID == "" || msg.Success == nil {
			return "", false, fmt.Errorf("%w: sessionId and success are required", ErrInvalidMessage)
		}
		return msg.SessionID, *msg.Success, nil
	}

	if msg.Token == "" {
		return "", false, fmt.Errorf("%w: missing token", ErrInvalidMessage)
	}
	var claims CompletionClaims
	_, err := jwt.ParseWithClaims(msg.Token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if claims.SessionID == "" {
		return "", false, fmt.Errorf("%w: token has no session id", ErrInvalidMessage)
	}
	if msg.SessionID != "" && msg.SessionID != claims.SessionID {
		return "", false, fmt.Errorf("%w: session mismatch", ErrInvalidMessage)
	}
	if msg.Success != nil && *msg.Success != claims.Success {
		return "", false, fmt.Errorf("%w: outcome mismatch", ErrInvalidMessage)
	}
	return claims.SessionID, claims.Success, nil
}

// SignCompletion issues a completion token. Issuer simulators and tests use it.
func SignCompletion(secret []byte, sessionID string, success bool, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := CompletionClaims{
		SessionID: sessionID,
		Success:   success,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
