package quota

import (
	"context"
	"errors"
	"testing"

	"github.com/blagoySimandov/arqrender/internal/entitlement"
	"github.com/blagoySimandov/arqrender/internal/models"
	"github.com/blagoySimandov/arqrender/internal/user"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestApplyEventActivatesPlan(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	seed(t, store, "u1", entitlement.NewLedger())
	rec := NewReconciler(store, entitlement.DefaultRules())

	l, err := rec.ApplyEvent(ctx, "u1", entitlement.BillingEvent{
		ID:             "evt_1",
		Kind:           entitlement.EventSubscriptionActivated,
		Plan:           entitlement.PlanPro,
		SubscriptionID: "sub_1",
		OccurredAt:     now,
	})
	require.NoError(t, err)
	assert.Equal(t, entitlement.PlanPro, l.Plan)
	assert.Equal(t, 170, l.MonthlyQuota)
	assert.Equal(t, entitlement.StarterExtraRenders, l.ExtraRenders)

	got, err := store.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, entitlement.StatusActive, got.Ledger.SubscriptionStatus)
	assert.Equal(t, "sub_1", got.Ledger.SubscriptionID)
	assert.True(t, got.Ledger.BillingPeriodEnd.Equal(now.AddDate(0, 1, 0)))

	txs, err := store.ListTransactions(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, models.TransactionReset, txs[0].Type)
	assert.Equal(t, "evt_1", txs[0].Reference)
}

func TestApplyEventIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	l := basicLedger(0, 5)
	seed(t, store, "u1", l)
	rec := NewReconciler(store, entitlement.DefaultRules())

	ev := entitlement.BillingEvent{ID: "evt_pkg", Kind: entitlement.EventExtraPurchaseCompleted, Quantity: 1, OccurredAt: now}

	after, err := rec.ApplyEvent(ctx, "u1", ev)
	require.NoError(t, err)
	assert.Equal(t, 25, after.ExtraRenders)

	_, err = rec.ApplyEvent(ctx, "u1", ev)
	require.ErrorIs(t, err, ErrDuplicate)

	got, err := store.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 25, got.Ledger.ExtraRenders)

	txs, err := store.ListTransactions(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, models.TransactionPurchase, txs[0].Type)
	assert.Equal(t, 20, txs[0].Amount)
}

func TestApplyEventRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	seed(t, store, "u1", entitlement.NewLedger())
	rec := NewReconciler(store, entitlement.DefaultRules())

	_, err := rec.ApplyEvent(ctx, "u1", entitlement.BillingEvent{
		ID:         "evt_bad",
		Kind:       entitlement.EventSubscriptionActivated,
		Plan:       entitlement.PlanFree,
		OccurredAt: now,
	})
	require.ErrorIs(t, err, entitlement.ErrInvalidEvent)

	got, err := store.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, got.LedgerVersion)
}

func TestApplyEventDeletedKeepsExtra(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	seed(t, store, "u1", basicLedger(40, 7))
	rec := NewReconciler(store, entitlement.DefaultRules())

	l, err := rec.ApplyEvent(ctx, "u1", entitlement.BillingEvent{ID: "evt_del", Kind: entitlement.EventSubscriptionDeleted, OccurredAt: now})
	require.NoError(t, err)
	assert.Equal(t, entitlement.PlanFree, l.Plan)
	assert.Equal(t, entitlement.StatusInactive, l.SubscriptionStatus)
	assert.Equal(t, 7, l.ExtraRenders)

	res, err := NewGate(store, nil).TryConsume(ctx, "u1", now)
	require.NoError(t, err)
	assert.Equal(t, entitlement.BucketExtra, res.Bucket)
}

func TestGrantRecordsBonusAndRefund(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	seed(t, store, "u1", entitlement.NewLedger())
	rec := NewReconciler(store, entitlement.DefaultRules())

	l, err := rec.Grant(ctx, "u1", 2, false, "welcome back")
	require.NoError(t, err)
	assert.Equal(t, 5, l.ExtraRenders)

	l, err = rec.Grant(ctx, "u1", 1, true, "render job 42 failed")
	require.NoError(t, err)
	assert.Equal(t, 6, l.ExtraRenders)

	txs, err := store.ListTransactions(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	types := []models.TransactionType{txs[0].Type, txs[1].Type}
	assert.ElementsMatch(t, []models.TransactionType{models.TransactionBonus, models.TransactionRefund}, types)

	_, err = rec.Grant(ctx, "u1", 0, false, "nothing")
	assert.ErrorIs(t, err, entitlement.ErrInvalidEvent)
}

func TestApplyEventUnknownUser(t *testing.T) {
	rec := NewReconciler(newStore(t), entitlement.DefaultRules())
	_, err := rec.ApplyEvent(context.Background(), "ghost", entitlement.BillingEvent{ID: "evt", Kind: entitlement.EventPaymentFailed})
	assert.ErrorIs(t, err, user.ErrNotFound)
}

func TestSweepRollsOverStaleLedgers(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	stale := basicLedger(100, 1)
	stale.BillingPeriodStart = now.AddDate(0, -1, 0)
	stale.BillingPeriodEnd = now
	seed(t, store, "stale", stale)
	seed(t, store, "fresh", basicLedger(50, 0))
	seed(t, store, "free", entitlement.NewLedger())

	rolled, err := NewReconciler(store, entitlement.DefaultRules()).Sweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, rolled)

	got, err := store.GetByID(ctx, "stale")
	require.NoError(t, err)
	assert.Zero(t, got.Ledger.MonthlyUsed)
	assert.Equal(t, 1, got.Ledger.ExtraRenders)
	assert.True(t, got.Ledger.BillingPeriodEnd.Equal(now.AddDate(0, 1, 0)))

	fresh, err := store.GetByID(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, 50, fresh.Ledger.MonthlyUsed)

	rolled, err = NewReconciler(store, entitlement.DefaultRules()).Sweep(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, rolled)
}

func TestSweepContinuesPastFailures(t *testing.T) {
	stale := basicLedger(100, 0)
	stale.BillingPeriodEnd = now.AddDate(0, 0, -1)

	store := new(mockStore)
	store.On("ListStaleLedgers", mock.Anything, now, DefaultSweepBatch).Return([]*models.User{
		{ID: "broken", Ledger: stale},
		{ID: "ok", Ledger: stale},
	}, nil)
	store.On("CommitLedger", mock.Anything, mock.MatchedBy(func(c user.LedgerCommit) bool { return c.UserID == "broken" })).
		Return(user.ErrUnavailable)
	store.On("CommitLedger", mock.Anything, mock.MatchedBy(func(c user.LedgerCommit) bool { return c.UserID == "ok" })).
		Return(nil)

	rolled, err := NewReconciler(store, entitlement.DefaultRules()).Sweep(context.Background(), now)
	assert.Equal(t, 1, rolled)
	require.Error(t, err)
	assert.True(t, errors.Is(err, user.ErrUnavailable))
}
