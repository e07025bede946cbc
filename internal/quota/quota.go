// Package quota binds the pure entitlement rules to the user store. It owns
// every ledger write: render consumption through Gate, and billing events,
// admin grants and the rollover sweep through Reconciler.
package quota

import (
	"context"
	"errors"
	"time"

	"github.com/blagoySimandov/arqrender/internal/entitlement"
	"github.com/blagoySimandov/arqrender/internal/logging"
	"github.com/blagoySimandov/arqrender/internal/models"
	"github.com/blagoySimandov/arqrender/internal/user"
)

// MaxAttempts bounds the read-decide-write loop on version conflicts.
const MaxAttempts = 3

var (
	ErrConflict  = errors.New("PERSISTENCE_CONFLICT")
	ErrDuplicate = errors.New("billing event already applied")
)

type Store interface {
	GetByID(ctx context.Context, userID string) (*models.User, error)
	CommitLedger(ctx context.Context, c user.LedgerCommit) error
	ListStaleLedgers(ctx context.Context, now time.Time, limit int) ([]*models.User, error)
}

func usageTransaction(before, after entitlement.Ledger, bucket entitlement.Bucket) *models.LedgerTransaction {
	return &models.LedgerTransaction{
		Type:             models.TransactionUsage,
		Bucket:           string(bucket),
		Amount:           -1,
		ExtraBefore:      before.ExtraRenders,
		ExtraAfter:       after.ExtraRenders,
		MonthlyUsedAfter: after.MonthlyUsed,
	}
}

func resetTransaction(l entitlement.Ledger, reference string) *models.LedgerTransaction {
	return &models.LedgerTransaction{
		Type:             models.TransactionReset,
		Bucket:           string(entitlement.BucketMonthly),
		Amount:           l.MonthlyQuota,
		ExtraBefore:      l.ExtraRenders,
		ExtraAfter:       l.ExtraRenders,
		MonthlyUsedAfter: l.MonthlyUsed,
		Reference:        reference,
	}
}

func snapshot(l entitlement.Ledger) logging.LedgerSnapshot {
	return logging.LedgerSnapshot{
		Plan:               string(l.Plan),
		SubscriptionStatus: string(l.SubscriptionStatus),
		MonthlyQuota:       l.MonthlyQuota,
		MonthlyUsed:        l.MonthlyUsed,
		ExtraRenders:       l.ExtraRenders,
	}
}
