package entitlement

import "time"

// Decision is the outcome of CanConsume. Bucket is set only when Allowed.
type Decision struct {
	Allowed bool
	Bucket  Bucket
	Reason  error
	Message string
}

// Err returns a *DenialError for a refused decision and nil otherwise.
func (d Decision) Err(plan Plan) error {
	if d.Allowed {
		return nil
	}
	return &DenialError{Reason: d.Reason, Plan: plan, Message: d.Message}
}

// CanConsume decides whether one render may be taken from l at now and from
// which bucket. The monthly allotment is always spent before extra renders.
// A ledger whose period has ended is refused with ErrStalePeriod so the
// caller rolls it over first.
func CanConsume(l Ledger, now time.Time) Decision {
	if l.IsStale(now) {
		return Decision{Reason: ErrStalePeriod, Message: "billing period ended, rollover required"}
	}
	if l.MonthlyRemaining() > 0 {
		return Decision{Allowed: true, Bucket: BucketMonthly}
	}
	if l.ExtraRenders > 0 {
		return Decision{Allowed: true, Bucket: BucketExtra}
	}
	return Decision{Reason: ErrNoQuota, Message: noQuotaMessage(l.Plan)}
}

type Quality string

const (
	QualityHD  Quality = "hd"
	QualityMax Quality = "max"
)

// QualityFor returns the render quality tier of a plan and whether
// high-resolution downloads are included.
func QualityFor(plan Plan) (Quality, bool) {
	if plan == PlanPro {
		return QualityMax, true
	}
	return QualityHD, false
}

// AlertThresholdPercent is the monthly usage level that triggers a quota alert.
const AlertThresholdPercent = 90

// CrossedAlertThreshold reports whether moving from before to after pushed
// monthly usage of a paid plan to or past AlertThresholdPercent.
func CrossedAlertThreshold(before, after Ledger) bool {
	if !after.Plan.Paid() || after.MonthlyQuota == 0 {
		return false
	}
	limit := after.MonthlyQuota * AlertThresholdPercent
	return before.MonthlyUsed*100 < limit && after.MonthlyUsed*100 >= limit
}
