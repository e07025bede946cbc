package user

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/blagoySimandov/arqrender/internal/models"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"
)

type Repository interface {
	InitializeDatabase(ctx context.Context) error
	GetByID(ctx context.Context, userID string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByStripeCustomerID(ctx context.Context, stripeCustomerID string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	GetOrCreate(ctx context.Context, account *models.User) (*models.User, error)
	UpdateStripeCustomerID(ctx context.Context, userID, stripeCustomerID string) error
	CommitLedger(ctx context.Context, c LedgerCommit) error
	ListTransactions(ctx context.Context, userID string, limit int) ([]*models.LedgerTransaction, error)
	ListStaleLedgers(ctx context.Context, now time.Time, limit int) ([]*models.User, error)
	AdminStats(ctx context.Context) (*AdminStats, error)
	ListUsers(ctx context.Context, limit, offset int) ([]*models.User, int, error)
}

type UserRepository struct {
	db *bun.DB
}

func NewUserRepository(db *bun.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) InitializeDatabase(ctx context.Context) error {
	for _, model := range []any{
		(*models.UserDB)(nil),
		(*models.ProcessedEventDB)(nil),
		(*models.LedgerTransactionDB)(nil),
	} {
		if _, err := r.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}

	_, err := r.db.NewCreateIndex().
		Model((*models.UserDB)(nil)).
		Index("idx_users_billing_period_end").
		Column("billing_period_end").
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return err
	}

	_, err = r.db.NewCreateIndex().
		Model((*models.LedgerTransactionDB)(nil)).
		Index("idx_ledger_transactions_user_created").
		Column("user_id", "created_at").
		IfNotExists().
		Exec(ctx)
	return err
}

func (r *UserRepository) GetByID(ctx context.Context, userID string) (*models.User, error) {
	return r.getBy(ctx, "get user by id", "id = ?", userID)
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getBy(ctx, "get user by email", "email = ?", strings.ToLower(strings.TrimSpace(email)))
}

func (r *UserRepository) GetByStripeCustomerID(ctx context.Context, stripeCustomerID string) (*models.User, error) {
	return r.getBy(ctx, "get user by stripe customer", "stripe_customer_id = ?", stripeCustomerID)
}

func (r *UserRepository) getBy(ctx context.Context, op, where string, arg any) (*models.User, error) {
	userDB := new(models.UserDB)
	err := r.db.NewSelect().
		Model(userDB).
		Where(where, arg).
		Scan(ctx)
	if err != nil {
		return nil, classify(op, err)
	}
	return userDB.ToUser(), nil
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	userDB := models.UserFromDomain(user)
	now := time.Now().UTC()
	userDB.CreatedAt = now
	userDB.UpdatedAt = now
	_, err := r.db.NewInsert().Model(userDB).Exec(ctx)
	if err != nil && isUniqueViolation(err) {
		return classify("create user", ErrExists)
	}
	return classify("create user", err)
}

func (r *UserRepository) GetOrCreate(ctx context.Context, account *models.User) (*models.User, error) {
	existing, err := r.GetByID(ctx, account.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if err := r.Create(ctx, account); err != nil {
		if errors.Is(err, ErrExists) {
			// lost a race with a concurrent first request, or the email
			// belongs to an account created under the other auth provider
			existing, getErr := r.GetByID(ctx, account.ID)
			if errors.Is(getErr, ErrNotFound) {
				return r.GetByEmail(ctx, account.Email)
			}
			return existing, getErr
		}
		return nil, err
	}
	return account, nil
}

func (r *UserRepository) UpdateStripeCustomerID(ctx context.Context, userID, stripeCustomerID string) error {
	res, err := r.db.NewUpdate().
		Model((*models.UserDB)(nil)).
		Set("stripe_customer_id = ?", stripeCustomerID).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", userID).
		Exec(ctx)
	if err != nil {
		return classify("update stripe customer", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return classify("update stripe customer", ErrNotFound)
	}
	return nil
}

// CommitLedger writes c in a single transaction: the processed-event marker,
// the version-checked ledger update and the audit rows. Nothing is written
// when any step fails. The Stripe customer id is not part of the commit; it
// is owned by UpdateStripeCustomerID.
func (r *UserRepository) CommitLedger(ctx context.Context, c LedgerCommit) error {
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if c.EventID != "" {
			res, err := tx.NewInsert().
				Model(&models.ProcessedEventDB{
					EventID:     c.EventID,
					Kind:        c.EventKind,
					UserID:      c.UserID,
					ProcessedAt: time.Now().UTC(),
				}).
				On("CONFLICT (event_id) DO NOTHING").
				Exec(ctx)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return ErrDuplicateEvent
			}
		}

		row := new(models.UserDB)
		row.SetLedger(c.Ledger)
		res, err := tx.NewUpdate().
			Model((*models.UserDB)(nil)).
			Set("plan = ?", row.Plan).
			Set("subscription_status = ?", row.SubscriptionStatus).
			Set("monthly_quota = ?", row.MonthlyQuota).
			Set("monthly_used = ?", row.MonthlyUsed).
			Set("extra_renders = ?", row.ExtraRenders).
			Set("billing_period_start = ?", row.BillingPeriodStart).
			Set("billing_period_end = ?", row.BillingPeriodEnd).
			Set("subscription_id = ?", row.SubscriptionID).
			Set("ledger_version = ledger_version + 1").
			Set("updated_at = ?", time.Now().UTC()).
			Where("id = ?", c.UserID).
			Where("ledger_version = ?", c.ExpectedVersion).
			Exec(ctx)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrConflict
		}

		if len(c.Transactions) == 0 {
			return nil
		}
		rows := make([]*models.LedgerTransactionDB, 0, len(c.Transactions))
		for _, t := range c.Transactions {
			if t.UserID == "" {
				t.UserID = c.UserID
			}
			rows = append(rows, models.LedgerTransactionFromDomain(t))
		}
		_, err = tx.NewInsert().Model(&rows).Exec(ctx)
		return err
	})
	return classify("commit ledger", err)
}

func (r *UserRepository) ListTransactions(ctx context.Context, userID string, limit int) ([]*models.LedgerTransaction, error) {
	var rows []*models.LedgerTransactionDB
	err := r.db.NewSelect().
		Model(&rows).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, classify("list transactions", err)
	}

	out := make([]*models.LedgerTransaction, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.ToLedgerTransaction())
	}
	return out, nil
}

// ListStaleLedgers returns users whose billing period ended at or before now,
// oldest first.
func (r *UserRepository) ListStaleLedgers(ctx context.Context, now time.Time, limit int) ([]*models.User, error) {
	var rows []*models.UserDB
	err := r.db.NewSelect().
		Model(&rows).
		Where("billing_period_end IS NOT NULL").
		Where("billing_period_end <= ?", now.UTC()).
		Order("billing_period_end ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, classify("list stale ledgers", err)
	}

	out := make([]*models.User, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.ToUser())
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return pgErr.IntegrityViolation()
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
