package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/blagoySimandov/arqrender/internal/config"
	"github.com/blagoySimandov/arqrender/internal/models"
	"github.com/blagoySimandov/arqrender/internal/settings"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	MinPasswordLength = 8
	sessionIssuer     = "arqrender"
)

// Accounts stores local credentials. Implementations report a missing email
// with ErrAccountNotFound and a taken one with ErrAccountExists.
type Accounts interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	Register(ctx context.Context, email, name, passwordHash string) (*models.User, error)
}

type sessionClaims struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// LocalProvider signs users in with email and password and issues HS256
// session tokens.
type LocalProvider struct {
	accounts Accounts
	secret   []byte
	ttl      time.Duration
	cost     int
	now      func() time.Time
}

func NewLocalProvider(cfg *config.Config, accounts Accounts) *LocalProvider {
	return &LocalProvider{
		accounts: accounts,
		secret:   []byte(cfg.SessionSecret),
		ttl:      cfg.SessionTTL,
		cost:     bcrypt.DefaultCost,
		now:      time.Now,
	}
}

func (p *LocalProvider) Name() settings.AuthProvider {
	return settings.ProviderLocal
}

func (p *LocalProvider) Signup(ctx context.Context, email, password, name string) (*Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if len(password) < MinPasswordLength {
		return nil, fmt.Errorf("%w: must be at least %d characters", ErrWeakPassword, MinPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	account, err := p.accounts.Register(ctx, email, strings.TrimSpace(name), string(hash))
	if err != nil {
		return nil, err
	}
	return p.issue(account)
}

func (p *LocalProvider) Login(ctx context.Context, email, password string) (*Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	account, err := p.accounts.FindByEmail(ctx, email)
	if errors.Is(err, ErrAccountNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if account.PasswordHash == "" {
		// account was created through WorkOS
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return p.issue(account)
}

func (p *LocalProvider) Verify(ctx context.Context, token string) (*Identity, error) {
	if len(p.secret) == 0 {
		return nil, ErrNotConfigured
	}

	claims := &sessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return p.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" || claims.Email == "" {
		return nil, ErrMissingClaims
	}

	return &Identity{
		ID:       claims.Subject,
		Email:    claims.Email,
		Name:     claims.Name,
		Provider: string(settings.ProviderLocal),
	}, nil
}

func (p *LocalProvider) issue(account *models.User) (*Session, error) {
	if len(p.secret) == 0 {
		return nil, ErrNotConfigured
	}

	now := p.now()
	claims := sessionClaims{
		Email: account.Email,
		Name:  account.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    sessionIssuer,
			Subject:   account.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign session: %w", err)
	}

	return &Session{
		AccessToken: token,
		User: &Identity{
			ID:       account.ID,
			Email:    account.Email,
			Name:     account.Name,
			Provider: string(settings.ProviderLocal),
		},
	}, nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}
