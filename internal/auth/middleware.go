package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/blagoySimandov/arqrender/internal/logging"
	"github.com/blagoySimandov/arqrender/internal/settings"
	"github.com/rs/zerolog/log"
)

const (
	authorizationHeader = "Authorization"
	bearerPrefix        = "Bearer "
)

// ProviderSelector reports which provider is active right now.
type ProviderSelector interface {
	AuthProvider(ctx context.Context) settings.AuthProvider
}

// Resolver picks the active Provider for each request.
type Resolver struct {
	selector  ProviderSelector
	providers map[settings.AuthProvider]Provider
}

func NewResolver(selector ProviderSelector, providers ...Provider) *Resolver {
	r := &Resolver{
		selector:  selector,
		providers: make(map[settings.AuthProvider]Provider, len(providers)),
	}
	for _, p := range providers {
		if p != nil {
			r.providers[p.Name()] = p
		}
	}
	return r
}

func (r *Resolver) Active(ctx context.Context) (Provider, error) {
	name := r.selector.AuthProvider(ctx)
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderUnavailable, name)
	}
	return p, nil
}

func (r *Resolver) ActiveName(ctx context.Context) settings.AuthProvider {
	return r.selector.AuthProvider(ctx)
}

// RequireAuth verifies the bearer token with the provider active for this
// request and stores the Identity in the context.
func (r *Resolver) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		authHeader := req.Header.Get(authorizationHeader)
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			writeJSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized")
			return
		}
		tokenString := strings.TrimPrefix(authHeader, bearerPrefix)

		provider, err := r.Active(req.Context())
		if err != nil {
			log.Error().Err(err).Msg("no provider for active auth setting")
			writeJSONError(w, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication is temporarily unavailable")
			return
		}

		identity, err := provider.Verify(req.Context(), tokenString)
		if err != nil {
			if errors.Is(err, ErrNotConfigured) {
				writeJSONError(w, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication is temporarily unavailable")
				return
			}
			logging.EnrichMetadata(req.Context(), "auth_error", err.Error())
			writeJSONError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid token")
			return
		}

		next.ServeHTTP(w, req.WithContext(WithIdentity(req.Context(), identity)))
	})
}
