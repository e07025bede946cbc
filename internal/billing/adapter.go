package billing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/blagoySimandov/arqrender/internal/config"
	"github.com/blagoySimandov/arqrender/internal/entitlement"
	"github.com/blagoySimandov/arqrender/internal/logging"
	"github.com/blagoySimandov/arqrender/internal/metrics"
	"github.com/blagoySimandov/arqrender/internal/models"
	"github.com/blagoySimandov/arqrender/internal/quota"
	"github.com/blagoySimandov/arqrender/internal/user"
	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v84"
)

type Outcome string

const (
	OutcomeApplied         Outcome = "applied"
	OutcomeIgnored         Outcome = "ignored"
	OutcomeDuplicate       Outcome = "duplicate"
	OutcomeUnknownCustomer Outcome = "unknown_customer"
)

var ErrUnknownCustomer = errors.New("no account for stripe customer")

// renewalIDPrefix keys renewals by invoice so that invoice.paid and
// invoice.payment_succeeded for the same invoice reset the period once.
const renewalIDPrefix = "invoice:"

type Accounts interface {
	GetByID(ctx context.Context, userID string) (*models.User, error)
	GetByStripeCustomerID(ctx context.Context, stripeCustomerID string) (*models.User, error)
	UpdateStripeCustomerID(ctx context.Context, userID, stripeCustomerID string) error
}

type Applier interface {
	ApplyEvent(ctx context.Context, userID string, ev entitlement.BillingEvent) (entitlement.Ledger, error)
}

// Adapter turns verified Stripe events into ledger changes.
type Adapter struct {
	accounts Accounts
	applier  Applier
	catalog  *Catalog
}

func NewAdapter(accounts Accounts, applier Applier, catalog *Catalog) *Adapter {
	return &Adapter{accounts: accounts, applier: applier, catalog: catalog}
}

type customerRef struct {
	CustomerID string
	UserID     string
}

// Ingest maps event and applies it. Events that do not translate, or whose
// customer is unknown, are logged and acknowledged with a nil error. Only
// persistence failures are returned, so Stripe redelivers.
func (a *Adapter) Ingest(ctx context.Context, event *stripe.Event) (Outcome, error) {
	logging.EnrichStripeEvent(ctx, event.ID, string(event.Type))

	ev, ref, err := a.translate(event)
	if err != nil {
		log.Warn().Err(err).
			Str("event_id", event.ID).
			Str("type", string(event.Type)).
			Msg("stripe event could not be mapped")
		return a.finish(ctx, "", OutcomeIgnored), nil
	}
	if ev == nil {
		log.Debug().Str("event_id", event.ID).Str("type", string(event.Type)).Msg("stripe event ignored")
		return a.finish(ctx, "", OutcomeIgnored), nil
	}
	ev.CustomerRef = ref.CustomerID

	account, err := a.resolve(ctx, ref)
	if errors.Is(err, ErrUnknownCustomer) {
		log.Warn().
			Str("event_id", event.ID).
			Str("customer", ref.CustomerID).
			Str("user_id", ref.UserID).
			Msg("stripe event for unknown customer")
		return a.finish(ctx, ev.Kind, OutcomeUnknownCustomer), nil
	}
	if err != nil {
		a.finish(ctx, ev.Kind, "error")
		return "", err
	}
	logging.EnrichUser(ctx, account.ID, account.Email, account.AuthProvider)

	_, err = a.applier.ApplyEvent(ctx, account.ID, *ev)
	switch {
	case err == nil:
		return a.finish(ctx, ev.Kind, OutcomeApplied), nil
	case errors.Is(err, quota.ErrDuplicate):
		log.Info().Str("event_id", ev.ID).Str("user_id", account.ID).Msg("stripe event already applied")
		return a.finish(ctx, ev.Kind, OutcomeDuplicate), nil
	case errors.Is(err, entitlement.ErrInvalidEvent), errors.Is(err, entitlement.ErrUnknownEventKind):
		log.Warn().Err(err).Str("event_id", ev.ID).Str("user_id", account.ID).Msg("stripe event rejected by ledger rules")
		return a.finish(ctx, ev.Kind, OutcomeIgnored), nil
	default:
		a.finish(ctx, ev.Kind, "error")
		return "", fmt.Errorf("failed to apply %s: %w", ev.Kind, err)
	}
}

func (a *Adapter) finish(ctx context.Context, kind entitlement.EventKind, outcome Outcome) Outcome {
	label := string(kind)
	if label == "" {
		label = "none"
	}
	metrics.BillingEventsTotal.WithLabelValues(label, string(outcome)).Inc()
	logging.EnrichBilling(ctx, string(kind), string(outcome))
	return outcome
}

// resolve finds the account by Stripe customer id and falls back to the
// user id carried in metadata. A fallback hit links the customer id.
func (a *Adapter) resolve(ctx context.Context, ref customerRef) (*models.User, error) {
	if ref.CustomerID != "" {
		u, err := a.accounts.GetByStripeCustomerID(ctx, ref.CustomerID)
		if err == nil {
			return u, nil
		}
		if !errors.Is(err, user.ErrNotFound) {
			return nil, err
		}
	}

	if ref.UserID == "" {
		return nil, ErrUnknownCustomer
	}
	u, err := a.accounts.GetByID(ctx, ref.UserID)
	if errors.Is(err, user.ErrNotFound) {
		return nil, ErrUnknownCustomer
	}
	if err != nil {
		return nil, err
	}

	if ref.CustomerID != "" && u.Ledger.StripeCustomerID == "" {
		if err := a.accounts.UpdateStripeCustomerID(ctx, u.ID, ref.CustomerID); err != nil {
			log.Warn().Err(err).Str("user_id", u.ID).Str("customer", ref.CustomerID).Msg("failed to link stripe customer")
		} else {
			u.Ledger.StripeCustomerID = ref.CustomerID
		}
	}
	return u, nil
}

// translate returns a nil event for types and states that carry no ledger
// change.
func (a *Adapter) translate(event *stripe.Event) (*entitlement.BillingEvent, customerRef, error) {
	created := time.Unix(event.Created, 0).UTC()

	switch event.Type {
	case "checkout.session.completed":
		session, err := parseEventData[checkoutSession](event)
		if err != nil {
			return nil, customerRef{}, fmt.Errorf("decode checkout session: %w", err)
		}
		ref := customerRef{CustomerID: session.Customer, UserID: session.Metadata[config.StripeMetadataUserID]}
		if session.Metadata[config.StripeMetadataType] != config.StripePurchaseTypeExtraRenders {
			// subscription checkouts are handled by customer.subscription.created
			return nil, ref, nil
		}
		return &entitlement.BillingEvent{
			ID:         event.ID,
			Kind:       entitlement.EventExtraPurchaseCompleted,
			Quantity:   parseQuantity(session.Metadata[config.StripeMetadataQuantity]),
			OccurredAt: created,
		}, ref, nil

	case "customer.subscription.created":
		sub, err := parseEventData[subscriptionEvent](event)
		if err != nil {
			return nil, customerRef{}, fmt.Errorf("decode subscription: %w", err)
		}
		ref := subscriptionRef(sub)
		if sub.Status != "active" && sub.Status != "trialing" {
			return nil, ref, nil
		}
		ev, err := a.activation(event, sub, created)
		return ev, ref, err

	case "customer.subscription.updated":
		sub, err := parseEventData[subscriptionEvent](event)
		if err != nil {
			return nil, customerRef{}, fmt.Errorf("decode subscription: %w", err)
		}
		ref := subscriptionRef(sub)
		prev := event.Data.PreviousAttributes

		// a plan change wins over the cancel flag; the activation carries
		// the flag so a pending cancellation survives it
		switch {
		case sub.Status == "active" && (hasKey(prev, "items") || previousString(prev, "status") == "incomplete"):
			ev, err := a.activation(event, sub, created)
			return ev, ref, err
		case sub.CancelAtPeriodEnd:
			return simpleEvent(event, entitlement.EventSubscriptionCanceled, created), ref, nil
		case previousBool(prev, "cancel_at_period_end"):
			return simpleEvent(event, entitlement.EventSubscriptionReactivated, created), ref, nil
		case sub.Status == "past_due":
			return simpleEvent(event, entitlement.EventPaymentFailed, created), ref, nil
		default:
			return nil, ref, nil
		}

	case "customer.subscription.deleted":
		sub, err := parseEventData[subscriptionEvent](event)
		if err != nil {
			return nil, customerRef{}, fmt.Errorf("decode subscription: %w", err)
		}
		return simpleEvent(event, entitlement.EventSubscriptionDeleted, created), subscriptionRef(sub), nil

	case "invoice.paid", "invoice.payment_succeeded":
		inv, err := parseEventData[invoiceEvent](event)
		if err != nil {
			return nil, customerRef{}, fmt.Errorf("decode invoice: %w", err)
		}
		ref := customerRef{CustomerID: inv.Customer, UserID: inv.metadata()[config.StripeMetadataUserID]}
		if inv.BillingReason != "subscription_cycle" {
			return nil, ref, nil
		}
		start, end := inv.period()
		if start.IsZero() {
			start = created
		}
		ev := &entitlement.BillingEvent{
			ID:         renewalIDPrefix + inv.ID,
			Kind:       entitlement.EventSubscriptionRenewed,
			PeriodEnd:  end,
			OccurredAt: start,
		}
		if plan := a.catalog.PlanForPriceID(inv.priceID()); plan.Paid() {
			ev.Plan = plan
		}
		return ev, ref, nil

	case "invoice.payment_failed":
		inv, err := parseEventData[invoiceEvent](event)
		if err != nil {
			return nil, customerRef{}, fmt.Errorf("decode invoice: %w", err)
		}
		ref := customerRef{CustomerID: inv.Customer, UserID: inv.metadata()[config.StripeMetadataUserID]}
		return simpleEvent(event, entitlement.EventPaymentFailed, created), ref, nil

	default:
		return nil, customerRef{}, nil
	}
}

func (a *Adapter) activation(event *stripe.Event, sub *subscriptionEvent, created time.Time) (*entitlement.BillingEvent, error) {
	plan := a.catalog.PlanForPriceID(sub.priceID())
	if !plan.Paid() {
		plan = entitlement.Plan(sub.Metadata[config.StripeMetadataPlan])
	}
	if !plan.Paid() {
		return nil, fmt.Errorf("subscription %s has unknown price %q", sub.ID, sub.priceID())
	}

	start, end := sub.period()
	if start.IsZero() {
		start = created
	}
	monthly := 0
	if offer, ok := a.catalog.Plan(plan); ok {
		monthly = offer.MonthlyQuota
	}
	return &entitlement.BillingEvent{
		ID:                event.ID,
		Kind:              entitlement.EventSubscriptionActivated,
		Plan:              plan,
		Quota:             monthly,
		SubscriptionID:    sub.ID,
		PeriodEnd:         end,
		OccurredAt:        start,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}, nil
}

func simpleEvent(event *stripe.Event, kind entitlement.EventKind, at time.Time) *entitlement.BillingEvent {
	return &entitlement.BillingEvent{ID: event.ID, Kind: kind, OccurredAt: at}
}

func subscriptionRef(sub *subscriptionEvent) customerRef {
	return customerRef{CustomerID: sub.Customer, UserID: sub.Metadata[config.StripeMetadataUserID]}
}

func parseQuantity(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 1
	}
	return n
}

func hasKey(m map[string]interface{}, key string) bool {
	_, ok := m[key]
	return ok
}

func previousBool(m map[string]interface{}, key string) bool {
	v, _ := m[key].(bool)
	return v
}

func previousString(m map[string]interface{}, key string) string {
	v, _ := m[key].(string)
	return v
}
