package user

import (
	"context"
	"errors"
	"fmt"

	"github.com/blagoySimandov/arqrender/internal/auth"
	"github.com/blagoySimandov/arqrender/internal/models"
	"github.com/blagoySimandov/arqrender/internal/settings"
)

// CustomerCreator creates the payment-provider customer for a user.
type CustomerCreator interface {
	CreateCustomer(ctx context.Context, userID, email string) (string, error)
}

type Service interface {
	GetOrCreate(ctx context.Context, identity *auth.Identity) (*models.User, error)
	EnsureStripeCustomer(ctx context.Context, user *models.User) (string, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	Register(ctx context.Context, email, name, passwordHash string) (*models.User, error)
}

type UserService struct {
	repo      Repository
	customers CustomerCreator
	isAdmin   func(email string) bool
}

func NewUserService(repo Repository, customers CustomerCreator, isAdmin func(email string) bool) *UserService {
	if isAdmin == nil {
		isAdmin = func(string) bool { return false }
	}
	return &UserService{
		repo:      repo,
		customers: customers,
		isAdmin:   isAdmin,
	}
}

// GetOrCreate loads the account behind identity, creating it with a starter
// ledger on first sight.
func (s *UserService) GetOrCreate(ctx context.Context, identity *auth.Identity) (*models.User, error) {
	account := NewAccount(identity.ID, identity.Email, identity.Name, identity.Provider)
	user, err := s.repo.GetOrCreate(ctx, account)
	if err != nil {
		return nil, err
	}
	if s.isAdmin(user.Email) {
		user.Role = models.RoleAdmin
	}
	return user, nil
}

// EnsureStripeCustomer returns the user's Stripe customer id, creating the
// customer the first time it is needed.
func (s *UserService) EnsureStripeCustomer(ctx context.Context, user *models.User) (string, error) {
	if user.Ledger.StripeCustomerID != "" {
		return user.Ledger.StripeCustomerID, nil
	}

	customerID, err := s.customers.CreateCustomer(ctx, user.ID, user.Email)
	if err != nil {
		return "", fmt.Errorf("failed to create stripe customer: %w", err)
	}
	if err := s.repo.UpdateStripeCustomerID(ctx, user.ID, customerID); err != nil {
		return "", err
	}
	user.Ledger.StripeCustomerID = customerID
	return customerID, nil
}

// FindByEmail looks up a local account for sign-in.
func (s *UserService) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	user, err := s.repo.GetByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil, auth.ErrAccountNotFound
	}
	return user, err
}

// Register creates a local account with the starter ledger.
func (s *UserService) Register(ctx context.Context, email, name, passwordHash string) (*models.User, error) {
	account := NewAccount("", email, name, string(settings.ProviderLocal))
	account.PasswordHash = passwordHash
	if err := s.repo.Create(ctx, account); err != nil {
		if errors.Is(err, ErrExists) {
			return nil, auth.ErrAccountExists
		}
		return nil, err
	}
	if s.isAdmin(account.Email) {
		account.Role = models.RoleAdmin
	}
	return account, nil
}
