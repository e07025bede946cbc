package entitlement

import "time"

type EventKind string

const (
	EventSubscriptionActivated   EventKind = "subscription_activated"
	EventSubscriptionRenewed     EventKind = "subscription_renewed"
	EventSubscriptionCanceled    EventKind = "subscription_canceled"
	EventSubscriptionReactivated EventKind = "subscription_reactivated"
	EventSubscriptionDeleted     EventKind = "subscription_deleted"
	EventPaymentFailed           EventKind = "payment_failed"
	EventExtraPurchaseCompleted  EventKind = "extra_purchase_completed"
	EventExtraGranted            EventKind = "extra_granted"
)

// BillingEvent is a provider-neutral billing fact applied to a ledger.
// Optional fields are left at their zero value when the source did not carry
// them.
type BillingEvent struct {
	ID             string
	Kind           EventKind
	CustomerRef    string
	Plan           Plan
	Quota          int
	SubscriptionID string
	PeriodEnd      time.Time
	Quantity       int
	OccurredAt     time.Time

	// CancelAtPeriodEnd marks an activation of a subscription that is
	// already scheduled to end.
	CancelAtPeriodEnd bool
}
