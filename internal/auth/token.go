// Package auth implements signed bearer tokens for clients and executors.
//
// Tokens are HMAC-SHA256 signed JSON claims, base64url encoded as
// "<claims>.<signature>". Client tokens carry the user identity; executor
// session tokens are additionally scoped to a single session and expire fast.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Common errors returned by token verification.
var (
	ErrTokenMalformed = errors.New("token malformed")
	ErrTokenSignature = errors.New("token signature mismatch")
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenScope     = errors.New("token not valid for this scope")
)

// Claims are the signed contents of a token.
type Claims struct {
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	SessionID string    `json:"session_id,omitempty"` // set only on executor session tokens
	ExpiresAt time.Time `json:"expires_at"`
}

// Signer mints and verifies tokens with a shared secret.
type Signer struct {
	secret []byte
}

// NewSigner creates a Signer from the configured secret.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Mint signs a client token for the given user.
func (s *Signer) Mint(userID, role string, ttl time.Duration) (string, error) {
	return s.sign(Claims{
		UserID:    userID,
		Role:      role,
		ExpiresAt: time.Now().UTC().Add(ttl),
	})
}

// MintSessionToken signs a short-lived executor token scoped to one session.
func (s *Signer) MintSessionToken(userID, sessionID string, ttl time.Duration) (string, error) {
	return s.sign(Claims{
		UserID:    userID,
		Role:      "executor",
		SessionID: sessionID,
		ExpiresAt: time.Now().UTC().Add(ttl),
	})
}

func (s *Signer) sign(claims Claims) (string, error) {
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("failed to marshal claims: %w", err)
	}
	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return encoded + "." + s.signature(encoded), nil
}

// Verify checks the signature and expiry and returns the claims.
func (s *Signer) Verify(token string) (*Claims, error) {
	encoded, sig, ok := strings.Cut(token, ".")
	if !ok {
		return nil, ErrTokenMalformed
	}
	if !hmac.Equal([]byte(sig), []byte(s.signature(encoded))) {
		return nil, ErrTokenSignature
	}

	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrTokenMalformed
	}
	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, ErrTokenMalformed
	}
	if time.Now().UTC().After(claims.ExpiresAt) {
		return nil, ErrTokenExpired
	}
	return &claims, nil
}

// VerifyForSession verifies a token and checks its session scope.
// Client tokens (no session scope) are valid for any session owned by the user;
// executor tokens must match the session exactly.
func (s *Signer) VerifyForSession(token, sessionID string) (*Claims, error) {
	claims, err := s.Verify(token)
	if err != nil {
		return nil, err
	}
	if claims.SessionID != "" && claims.SessionID != sessionID {
		return nil, ErrTokenScope
	}
	return claims, nil
}

func (s *Signer) signature(encoded string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(encoded))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
