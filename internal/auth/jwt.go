package auth

import (
	"fmt"
	"sync"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/blagoySimandov/arqrender/internal/settings"
	"github.com/golang-jwt/jwt/v5"
)

const (
	workosJWKSURLTemplate = "https://api.workos.com/sso/jwks/%s"
)

// JWTVerifier checks WorkOS access tokens against the client's JWKS.
type JWTVerifier struct {
	keyFunc jwt.Keyfunc
	jwks    *keyfunc.JWKS
	mu      sync.RWMutex
}

func NewJWTVerifier(clientID string) (*JWTVerifier, error) {
	jwksURL := fmt.Sprintf(workosJWKSURLTemplate, clientID)

	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to get JWKS: %w", err)
	}

	return &JWTVerifier{
		keyFunc: jwks.Keyfunc,
		jwks:    jwks,
	}, nil
}

// NewJWTVerifierWithKeyfunc builds a verifier around a fixed key lookup.
func NewJWTVerifierWithKeyfunc(kf jwt.Keyfunc) *JWTVerifier {
	return &JWTVerifier{keyFunc: kf}
}

func (v *JWTVerifier) VerifyToken(tokenString string) (*Identity, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	token, err := jwt.Parse(tokenString, v.keyFunc, jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrMissingClaims
	}

	userID, ok := claims["sub"].(string)
	if !ok || userID == "" {
		return nil, fmt.Errorf("%w: missing sub claim", ErrMissingClaims)
	}

	email, ok := claims["email"].(string)
	if !ok || email == "" {
		return nil, fmt.Errorf("%w: missing email claim", ErrMissingClaims)
	}

	name, _ := claims["name"].(string)

	return &Identity{
		ID:       userID,
		Email:    email,
		Name:     name,
		Provider: string(settings.ProviderWorkOS),
	}, nil
}

func (v *JWTVerifier) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.jwks != nil {
		v.jwks.EndBackground()
	}
}
