// Package entitlement holds the render-quota ledger and the pure rules that
// evaluate and transition it. Nothing in this package performs I/O: callers
// load a Ledger, run it through CanConsume, Rollover, Apply or Debit, and
// persist the returned value atomically.
package entitlement

import "time"

type Plan string

const (
	PlanFree  Plan = "free"
	PlanBasic Plan = "basic"
	PlanPro   Plan = "pro"
)

func (p Plan) Valid() bool {
	switch p {
	case PlanFree, PlanBasic, PlanPro:
		return true
	}
	return false
}

func (p Plan) Paid() bool {
	return p == PlanBasic || p == PlanPro
}

type SubscriptionStatus string

const (
	StatusActive   SubscriptionStatus = "active"
	StatusCanceled SubscriptionStatus = "canceled"
	StatusPastDue  SubscriptionStatus = "past_due"
	StatusInactive SubscriptionStatus = "inactive"
)

// Bucket is the quota source a render is debited from.
type Bucket string

const (
	BucketMonthly Bucket = "monthly"
	BucketExtra   Bucket = "extra"
)

// StarterExtraRenders is granted to every new account.
const StarterExtraRenders = 3

// Ledger is the per-account quota record. A zero BillingPeriodEnd means no
// billing period has been set yet.
type Ledger struct {
	Plan               Plan               `json:"plan"`
	SubscriptionStatus SubscriptionStatus `json:"subscription_status"`
	MonthlyQuota       int                `json:"monthly_quota"`
	MonthlyUsed        int                `json:"monthly_used"`
	ExtraRenders       int                `json:"extra_renders"`
	BillingPeriodStart time.Time          `json:"billing_period_start,omitempty"`
	BillingPeriodEnd   time.Time          `json:"billing_period_end,omitempty"`
	StripeCustomerID   string             `json:"stripe_customer_id,omitempty"`
	SubscriptionID     string             `json:"subscription_id,omitempty"`
}

// NewLedger returns the ledger every account starts with.
func NewLedger() Ledger {
	return Ledger{
		Plan:               PlanFree,
		SubscriptionStatus: StatusInactive,
		ExtraRenders:       StarterExtraRenders,
	}
}

func (l Ledger) HasPeriod() bool {
	return !l.BillingPeriodEnd.IsZero()
}

// IsStale reports whether the billing period ended at or before now.
func (l Ledger) IsStale(now time.Time) bool {
	return l.HasPeriod() && !now.Before(l.BillingPeriodEnd)
}

func (l Ledger) MonthlyRemaining() int {
	return max(0, l.MonthlyQuota-l.MonthlyUsed)
}

// Remaining is the total number of renders currently available.
func (l Ledger) Remaining() int {
	return l.MonthlyRemaining() + l.ExtraRenders
}

// NextPeriodEnd returns the exclusive end of a one-month cycle starting at start.
func NextPeriodEnd(start time.Time) time.Time {
	return start.AddDate(0, 1, 0)
}
