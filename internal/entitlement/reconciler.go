package entitlement

import (
	"fmt"
	"time"
)

// DefaultUnitsPerPackage is the number of renders in one extra package.
const DefaultUnitsPerPackage = 20

// Rules carries the plan quotas and package size used by Apply.
type Rules struct {
	Quotas          map[Plan]int
	UnitsPerPackage int
}

func DefaultRules() Rules {
	return Rules{
		Quotas: map[Plan]int{
			PlanFree:  0,
			PlanBasic: 100,
			PlanPro:   170,
		},
		UnitsPerPackage: DefaultUnitsPerPackage,
	}
}

// PlanQuota returns the monthly quota of plan. Free is always zero.
func (r Rules) PlanQuota(plan Plan) int {
	if !plan.Paid() {
		return 0
	}
	return r.Quotas[plan]
}

// Rollover starts a new one-month period at now when the current one has
// ended. It reports whether anything changed. Extra renders are untouched.
func Rollover(l Ledger, now time.Time) (Ledger, bool) {
	if !l.IsStale(now) {
		return l, false
	}
	l.MonthlyUsed = 0
	l.BillingPeriodStart = now
	l.BillingPeriodEnd = NextPeriodEnd(now)
	return l, true
}

// Debit takes one render from bucket.
func Debit(l Ledger, b Bucket) (Ledger, error) {
	switch b {
	case BucketMonthly:
		if l.MonthlyRemaining() == 0 {
			return l, fmt.Errorf("%w: %s", ErrBucketEmpty, b)
		}
		l.MonthlyUsed++
	case BucketExtra:
		if l.ExtraRenders <= 0 {
			return l, fmt.Errorf("%w: %s", ErrBucketEmpty, b)
		}
		l.ExtraRenders--
	default:
		return l, fmt.Errorf("%w: %q", ErrBucketEmpty, b)
	}
	return l, nil
}

// Apply returns the ledger that results from ev. Event-id deduplication is
// the caller's job; Apply itself is deterministic in (l, ev).
func (r Rules) Apply(l Ledger, ev BillingEvent) (Ledger, error) {
	switch ev.Kind {
	case EventSubscriptionActivated, EventSubscriptionRenewed:
		return r.startPeriod(l, ev)

	case EventSubscriptionCanceled:
		l.SubscriptionStatus = StatusCanceled
		return l, nil

	case EventSubscriptionReactivated:
		l.SubscriptionStatus = StatusActive
		return l, nil

	case EventSubscriptionDeleted:
		l.SubscriptionStatus = StatusInactive
		l.Plan = PlanFree
		l.MonthlyQuota = 0
		l.SubscriptionID = ""
		return l, nil

	case EventPaymentFailed:
		l.SubscriptionStatus = StatusPastDue
		return l, nil

	case EventExtraPurchaseCompleted:
		qty := max(ev.Quantity, 1)
		l.ExtraRenders += qty * r.unitsPerPackage()
		return l, nil

	case EventExtraGranted:
		if ev.Quantity <= 0 {
			return l, fmt.Errorf("%w: grant quantity must be positive", ErrInvalidEvent)
		}
		l.ExtraRenders += ev.Quantity
		return l, nil

	default:
		return l, fmt.Errorf("%w: %q", ErrUnknownEventKind, ev.Kind)
	}
}

func (r Rules) startPeriod(l Ledger, ev BillingEvent) (Ledger, error) {
	plan := ev.Plan
	if plan == "" && ev.Kind == EventSubscriptionRenewed {
		plan = l.Plan
	}
	if !plan.Paid() {
		return l, fmt.Errorf("%w: %s requires a paid plan, got %q", ErrInvalidEvent, ev.Kind, plan)
	}
	if ev.OccurredAt.IsZero() {
		return l, fmt.Errorf("%w: %s without occurrence time", ErrInvalidEvent, ev.Kind)
	}

	quota := ev.Quota
	if quota <= 0 {
		quota = r.PlanQuota(plan)
	}

	end := NextPeriodEnd(ev.OccurredAt)
	if ev.PeriodEnd.After(ev.OccurredAt) {
		end = ev.PeriodEnd
	}

	l.Plan = plan
	l.SubscriptionStatus = StatusActive
	if ev.CancelAtPeriodEnd {
		l.SubscriptionStatus = StatusCanceled
	}
	l.MonthlyQuota = quota
	l.MonthlyUsed = 0
	l.BillingPeriodStart = ev.OccurredAt
	l.BillingPeriodEnd = end
	if ev.SubscriptionID != "" {
		l.SubscriptionID = ev.SubscriptionID
	}
	return l, nil
}

func (r Rules) unitsPerPackage() int {
	if r.UnitsPerPackage > 0 {
		return r.UnitsPerPackage
	}
	return DefaultUnitsPerPackage
}
