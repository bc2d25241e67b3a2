// Package auth issues and validates the bearer tokens protecting the HTTP
// surface. Tokens identify API clients, not end users; the engine has no
// user accounts.
package auth

import (
	"context"
	"time"
)

// JWTService defines operations for managing JWT authentication tokens.
type JWTService interface {
	// GenerateToken creates a signed JWT for the named client.
	// Returns the token string or an error if signing fails.
	GenerateToken(ctx context.Context, clientID string) (string, error)

	// ValidateToken validates the provided token string and extracts the
	// claims. Returns an error if validation fails (expired, invalid
	// signature, wrong signing method).
	ValidateToken(ctx context.Context, tokenString string) (*Claims, error)
}

// Claims is the validated content of a token.
type Claims struct {
	// ClientID identifies the API client the token was issued for.
	ClientID string `json:"sub,omitempty"`

	IssuedAt  time.Time `json:"iat,omitempty"`
	ExpiresAt time.Time `json:"exp,omitempty"`
	ID        string    `json:"jti,omitempty"`
}
