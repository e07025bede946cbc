// Package auth verifies who is calling. Two providers exist, WorkOS AuthKit and
// local email/password accounts; the active one is a runtime setting and is
// resolved once per request.
package auth

import (
	"context"
	"errors"

	"github.com/blagoySimandov/arqrender/internal/settings"
)

var (
	ErrInvalidToken        = errors.New("invalid token")
	ErrMissingClaims       = errors.New("missing required claims")
	ErrInvalidCredentials  = errors.New("invalid email or password")
	ErrAccountExists       = errors.New("account already exists")
	ErrAccountNotFound     = errors.New("account not found")
	ErrWeakPassword        = errors.New("password too short")
	ErrInvalidEmail        = errors.New("invalid email")
	ErrNotConfigured       = errors.New("auth provider not configured")
	ErrProviderUnavailable = errors.New("auth provider unavailable")
)

// Identity is the authenticated caller as seen by a provider.
type Identity struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
	Provider string `json:"provider"`
}

// Session is what a successful sign-in hands back to the client.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	User         *Identity `json:"user"`
}

// Provider verifies bearer tokens issued by one authentication backend.
type Provider interface {
	Name() settings.AuthProvider
	Verify(ctx context.Context, token string) (*Identity, error)
}

type contextKey string

const identityContextKey contextKey = "identity"

func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*Identity)
	return identity, ok
}
