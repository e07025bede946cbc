package auth

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/blagoySimandov/arqrender/internal/config"
	"github.com/blagoySimandov/arqrender/internal/settings"
	"github.com/workos/workos-go/v6/pkg/usermanagement"
)

type workosClient interface {
	GetAuthorizationURL(opts usermanagement.GetAuthorizationURLOpts) (*url.URL, error)
	AuthenticateWithCode(ctx context.Context, opts usermanagement.AuthenticateWithCodeOpts) (usermanagement.AuthenticateResponse, error)
}

type WorkOSProvider struct {
	client      workosClient
	verifier    *JWTVerifier
	clientID    string
	redirectURI string
}

func NewWorkOSProvider(cfg *config.Config, verifier *JWTVerifier) *WorkOSProvider {
	return newWorkOSProvider(usermanagement.NewClient(cfg.WorkOSApiKey), verifier, cfg.WorkOSClientID, cfg.WorkOSRedirectURL)
}

func newWorkOSProvider(client workosClient, verifier *JWTVerifier, clientID, redirectURI string) *WorkOSProvider {
	return &WorkOSProvider{
		client:      client,
		verifier:    verifier,
		clientID:    clientID,
		redirectURI: redirectURI,
	}
}

func (p *WorkOSProvider) Name() settings.AuthProvider {
	return settings.ProviderWorkOS
}

func (p *WorkOSProvider) Verify(ctx context.Context, token string) (*Identity, error) {
	if p.verifier == nil {
		return nil, ErrNotConfigured
	}
	return p.verifier.VerifyToken(token)
}

// LoginURL returns the AuthKit page the browser is sent to.
func (p *WorkOSProvider) LoginURL(state string) (string, error) {
	u, err := p.client.GetAuthorizationURL(usermanagement.GetAuthorizationURLOpts{
		ClientID:    p.clientID,
		Provider:    "authkit",
		RedirectURI: p.redirectURI,
		State:       state,
	})
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// Exchange trades an authorization code for WorkOS tokens.
func (p *WorkOSProvider) Exchange(ctx context.Context, code string) (*Session, error) {
	resp, err := p.client.AuthenticateWithCode(ctx, usermanagement.AuthenticateWithCodeOpts{
		ClientID: p.clientID,
		Code:     code,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}

	name := strings.TrimSpace(resp.User.FirstName + " " + resp.User.LastName)
	return &Session{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		User: &Identity{
			ID:       resp.User.ID,
			Email:    resp.User.Email,
			Name:     name,
			Provider: string(settings.ProviderWorkOS),
		},
	}, nil
}
