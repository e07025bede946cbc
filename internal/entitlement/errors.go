package entitlement

import (
	"errors"
	"fmt"
)

var (
	ErrNoQuota          = errors.New("NO_QUOTA")
	ErrStalePeriod      = errors.New("STALE_PERIOD")
	ErrBucketEmpty      = errors.New("entitlement: bucket is empty")
	ErrInvalidEvent     = errors.New("entitlement: invalid billing event")
	ErrUnknownEventKind = errors.New("entitlement: unknown billing event kind")
)

const (
	msgSubscribe     = "No active subscription. Please subscribe to a plan."
	msgQuotaExceeded = "Monthly quota exceeded. Purchase extra renders or upgrade your plan."
)

// DenialError is returned when a render is refused. It unwraps to the
// underlying reason (ErrNoQuota or ErrStalePeriod).
type DenialError struct {
	Reason  error
	Plan    Plan
	Message string
}

func (e *DenialError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func (e *DenialError) Unwrap() error {
	return e.Reason
}

func noQuotaMessage(plan Plan) string {
	if plan.Paid() {
		return msgQuotaExceeded
	}
	return msgSubscribe
}
