package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/blagoySimandov/arqrender/internal/entitlement"
	"github.com/blagoySimandov/arqrender/internal/models"
	"github.com/google/uuid"
)

var (
	ErrNotFound       = errors.New("user not found")
	ErrConflict       = errors.New("ledger version conflict")
	ErrDuplicateEvent = errors.New("billing event already processed")
	ErrUnavailable    = errors.New("user store unavailable")
	ErrExists         = errors.New("user already exists")
)

// NewAccount returns a user with a fresh starter ledger. An empty id is
// replaced with a random UUID.
func NewAccount(id, email, name, provider string) *models.User {
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()
	return &models.User{
		ID:           id,
		Email:        strings.ToLower(strings.TrimSpace(email)),
		Name:         name,
		AuthProvider: provider,
		Role:         models.RoleUser,
		Ledger:       entitlement.NewLedger(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// LedgerCommit is one atomic ledger write. The update only succeeds when the
// stored ledger_version still equals ExpectedVersion. When EventID is set the
// event is recorded as processed in the same transaction.
type LedgerCommit struct {
	UserID          string
	ExpectedVersion int64
	Ledger          entitlement.Ledger
	EventID         string
	EventKind       string
	Transactions    []*models.LedgerTransaction
}

// classify maps driver errors onto the package sentinels.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrConflict),
		errors.Is(err, ErrDuplicateEvent), errors.Is(err, ErrExists):
		return fmt.Errorf("%s: %w", op, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%s: %w", op, err)
	default:
		return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
	}
}
