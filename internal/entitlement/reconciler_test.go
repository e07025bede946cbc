package entitlement

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRollover(t *testing.T) {
	yesterday := now.AddDate(0, 0, -1)
	l := Ledger{
		Plan:               PlanBasic,
		MonthlyQuota:       100,
		MonthlyUsed:        80,
		ExtraRenders:       7,
		BillingPeriodStart: yesterday.AddDate(0, -1, 0),
		BillingPeriodEnd:   yesterday,
	}

	got, changed := Rollover(l, now)
	require.True(t, changed)
	assert.Equal(t, 0, got.MonthlyUsed)
	assert.Equal(t, now, got.BillingPeriodStart)
	assert.Equal(t, now.AddDate(0, 1, 0), got.BillingPeriodEnd)
	assert.Equal(t, 7, got.ExtraRenders)

	again, changed := Rollover(got, now)
	assert.False(t, changed)
	assert.Equal(t, got, again)
}

func TestRolloverNoop(t *testing.T) {
	unset := Ledger{Plan: PlanFree, MonthlyUsed: 0, ExtraRenders: 3}
	got, changed := Rollover(unset, now)
	assert.False(t, changed)
	assert.Equal(t, unset, got)

	current := Ledger{Plan: PlanBasic, MonthlyUsed: 5, BillingPeriodEnd: now.Add(time.Second)}
	got, changed = Rollover(current, now)
	assert.False(t, changed)
	assert.Equal(t, current, got)
}

func TestRolloverSequenceKeepsExtra(t *testing.T) {
	l := Ledger{Plan: PlanPro, MonthlyQuota: 170, MonthlyUsed: 50, ExtraRenders: 12, BillingPeriodEnd: now}
	at := now
	for i := 0; i < 40; i++ {
		before := l
		var changed bool
		l, changed = Rollover(l, at)
		if changed {
			assert.Equal(t, 0, l.MonthlyUsed)
		} else {
			assert.Equal(t, before, l)
		}
		assert.Equal(t, 12, l.ExtraRenders)
		l.MonthlyUsed += 3
		at = at.Add(9 * 24 * time.Hour)
	}
}

func TestApplyActivation(t *testing.T) {
	rules := DefaultRules()
	l := NewLedger()
	l.MonthlyUsed = 4

	got, err := rules.Apply(l, BillingEvent{
		Kind:           EventSubscriptionActivated,
		Plan:           PlanBasic,
		SubscriptionID: "sub_123",
		OccurredAt:     now,
	})
	require.NoError(t, err)
	assert.Equal(t, PlanBasic, got.Plan)
	assert.Equal(t, StatusActive, got.SubscriptionStatus)
	assert.Equal(t, 100, got.MonthlyQuota)
	assert.Equal(t, 0, got.MonthlyUsed)
	assert.Equal(t, now, got.BillingPeriodStart)
	assert.Equal(t, now.AddDate(0, 1, 0), got.BillingPeriodEnd)
	assert.Equal(t, "sub_123", got.SubscriptionID)
	assert.Equal(t, StarterExtraRenders, got.ExtraRenders)
}

func TestApplyActivationUsesProviderPeriodAndQuota(t *testing.T) {
	end := now.AddDate(0, 0, 30)
	got, err := DefaultRules().Apply(NewLedger(), BillingEvent{
		Kind:       EventSubscriptionActivated,
		Plan:       PlanPro,
		Quota:      200,
		PeriodEnd:  end,
		OccurredAt: now,
	})
	require.NoError(t, err)
	assert.Equal(t, 200, got.MonthlyQuota)
	assert.Equal(t, end, got.BillingPeriodEnd)
}

func TestApplyActivationKeepsPendingCancellation(t *testing.T) {
	l := NewLedger()
	l.SubscriptionStatus = StatusCanceled
	got, err := DefaultRules().Apply(l, BillingEvent{
		Kind:              EventSubscriptionActivated,
		Plan:              PlanPro,
		OccurredAt:        now,
		CancelAtPeriodEnd: true,
	})
	require.NoError(t, err)
	assert.Equal(t, PlanPro, got.Plan)
	assert.Equal(t, StatusCanceled, got.SubscriptionStatus)
	assert.Equal(t, DefaultRules().PlanQuota(PlanPro), got.MonthlyQuota)
}

func TestApplyActivationRejectsFreePlan(t *testing.T) {
	l := NewLedger()
	got, err := DefaultRules().Apply(l, BillingEvent{Kind: EventSubscriptionActivated, Plan: PlanFree, OccurredAt: now})
	assert.ErrorIs(t, err, ErrInvalidEvent)
	assert.Equal(t, l, got)
}

func TestApplyRenewalIsIdempotent(t *testing.T) {
	rules := DefaultRules()
	l := Ledger{
		Plan:               PlanBasic,
		SubscriptionStatus: StatusActive,
		MonthlyQuota:       100,
		MonthlyUsed:        63,
		ExtraRenders:       2,
		BillingPeriodStart: now.AddDate(0, -1, 0),
		BillingPeriodEnd:   now,
	}
	ev := BillingEvent{ID: "evt_1", Kind: EventSubscriptionRenewed, OccurredAt: now}

	once, err := rules.Apply(l, ev)
	require.NoError(t, err)
	twice, err := rules.Apply(once, ev)
	require.NoError(t, err)

	assert.Equal(t, once, twice)
	assert.Equal(t, PlanBasic, once.Plan, "renewal without plan keeps current plan")
	assert.Equal(t, 0, once.MonthlyUsed)
	assert.Equal(t, 2, once.ExtraRenders)
}

func TestCancellationGrace(t *testing.T) {
	rules := DefaultRules()
	l := Ledger{
		Plan:               PlanBasic,
		SubscriptionStatus: StatusActive,
		MonthlyQuota:       100,
		MonthlyUsed:        40,
		ExtraRenders:       1,
		BillingPeriodStart: now.AddDate(0, 0, -10),
		BillingPeriodEnd:   now.AddDate(0, 0, 20),
		SubscriptionID:     "sub_1",
	}

	canceled, err := rules.Apply(l, BillingEvent{Kind: EventSubscriptionCanceled})
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, canceled.SubscriptionStatus)
	assert.Equal(t, PlanBasic, canceled.Plan)
	assert.Equal(t, 100, canceled.MonthlyQuota)

	d := CanConsume(canceled, now.AddDate(0, 0, 19))
	assert.True(t, d.Allowed)
	assert.Equal(t, BucketMonthly, d.Bucket)

	deleted, err := rules.Apply(canceled, BillingEvent{Kind: EventSubscriptionDeleted})
	require.NoError(t, err)
	assert.Equal(t, PlanFree, deleted.Plan)
	assert.Equal(t, 0, deleted.MonthlyQuota)
	assert.Equal(t, StatusInactive, deleted.SubscriptionStatus)
	assert.Empty(t, deleted.SubscriptionID)
	assert.Equal(t, 1, deleted.ExtraRenders)
}

func TestApplyStatusOnlyEvents(t *testing.T) {
	rules := DefaultRules()
	l := Ledger{Plan: PlanPro, SubscriptionStatus: StatusCanceled, MonthlyQuota: 170, MonthlyUsed: 3, ExtraRenders: 9}

	failed, err := rules.Apply(l, BillingEvent{Kind: EventPaymentFailed})
	require.NoError(t, err)
	assert.Equal(t, StatusPastDue, failed.SubscriptionStatus)
	assert.Equal(t, PlanPro, failed.Plan)
	assert.Equal(t, 170, failed.MonthlyQuota)

	reactivated, err := rules.Apply(l, BillingEvent{Kind: EventSubscriptionReactivated})
	require.NoError(t, err)
	assert.Equal(t, StatusActive, reactivated.SubscriptionStatus)
	assert.Equal(t, l.MonthlyUsed, reactivated.MonthlyUsed)
}

func TestApplyExtraPurchase(t *testing.T) {
	rules := DefaultRules()
	l := Ledger{Plan: PlanBasic, MonthlyQuota: 100, MonthlyUsed: 100, ExtraRenders: 5}

	got, err := rules.Apply(l, BillingEvent{Kind: EventExtraPurchaseCompleted, Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, 25, got.ExtraRenders)
	assert.Equal(t, 100, got.MonthlyUsed)

	got, err = rules.Apply(l, BillingEvent{Kind: EventExtraPurchaseCompleted, Quantity: 3})
	require.NoError(t, err)
	assert.Equal(t, 65, got.ExtraRenders)

	got, err = rules.Apply(l, BillingEvent{Kind: EventExtraPurchaseCompleted})
	require.NoError(t, err)
	assert.Equal(t, 25, got.ExtraRenders, "missing quantity counts as one package")
}

func TestApplyGrant(t *testing.T) {
	rules := DefaultRules()
	got, err := rules.Apply(Ledger{ExtraRenders: 1}, BillingEvent{Kind: EventExtraGranted, Quantity: 4})
	require.NoError(t, err)
	assert.Equal(t, 5, got.ExtraRenders)

	_, err = rules.Apply(Ledger{}, BillingEvent{Kind: EventExtraGranted})
	assert.ErrorIs(t, err, ErrInvalidEvent)
}

func TestApplyUnknownKind(t *testing.T) {
	_, err := DefaultRules().Apply(Ledger{}, BillingEvent{Kind: "mystery"})
	assert.ErrorIs(t, err, ErrUnknownEventKind)
}

func TestDebit(t *testing.T) {
	l := Ledger{Plan: PlanBasic, MonthlyQuota: 100, MonthlyUsed: 10, ExtraRenders: 5}

	got, err := Debit(l, BucketMonthly)
	require.NoError(t, err)
	assert.Equal(t, 11, got.MonthlyUsed)
	assert.Equal(t, 5, got.ExtraRenders)

	got, err = Debit(l, BucketExtra)
	require.NoError(t, err)
	assert.Equal(t, 10, got.MonthlyUsed)
	assert.Equal(t, 4, got.ExtraRenders)

	_, err = Debit(Ledger{}, BucketMonthly)
	assert.ErrorIs(t, err, ErrBucketEmpty)
	_, err = Debit(Ledger{}, BucketExtra)
	assert.ErrorIs(t, err, ErrBucketEmpty)
}

func TestFreePlanQuotaAlwaysZero(t *testing.T) {
	rules := Rules{Quotas: map[Plan]int{PlanFree: 50, PlanBasic: 10}}
	assert.Equal(t, 0, rules.PlanQuota(PlanFree))
	assert.Equal(t, 10, rules.PlanQuota(PlanBasic))
	assert.Equal(t, DefaultUnitsPerPackage, rules.unitsPerPackage())
}
