package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/blagoySimandov/arqrender/internal/billing"
	"github.com/blagoySimandov/arqrender/internal/entitlement"
	"github.com/blagoySimandov/arqrender/internal/logging"
	"github.com/blagoySimandov/arqrender/internal/models"
	"github.com/blagoySimandov/arqrender/internal/user"
	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v84"
)

type BillingClient interface {
	CreateSubscriptionCheckout(ctx context.Context, customerID, userID string, plan entitlement.Plan) (*stripe.CheckoutSession, error)
	CreateExtraCheckout(ctx context.Context, customerID, userID string, quantity int) (*stripe.CheckoutSession, error)
	SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (*stripe.Subscription, error)
	CreatePortalSession(ctx context.Context, customerID string) (*stripe.BillingPortalSession, error)
}

type SubscriptionHandler struct {
	billing BillingClient
	users   user.Service
	catalog *billing.Catalog
	now     func() time.Time
}

func NewSubscriptionHandler(client BillingClient, users user.Service, catalog *billing.Catalog) *SubscriptionHandler {
	return &SubscriptionHandler{billing: client, users: users, catalog: catalog, now: time.Now}
}

type CreateCheckoutRequest struct {
	Plan entitlement.Plan `json:"plan"`
}

type BuyExtraRequest struct {
	Quantity int `json:"quantity"`
}

type CheckoutResponse struct {
	CheckoutURL string `json:"checkout_url"`
	SessionID   string `json:"session_id"`
}

type PortalResponse struct {
	URL string `json:"url"`
}

type PlansResponse struct {
	Plans []billing.PlanOffer `json:"plans"`
	Extra billing.ExtraPack   `json:"extra"`
}

type SubscriptionStatusResponse struct {
	Plan               entitlement.Plan               `json:"plan"`
	SubscriptionStatus entitlement.SubscriptionStatus `json:"subscription_status"`
	MonthlyQuota       int                            `json:"monthly_quota"`
	MonthlyUsed        int                            `json:"monthly_used"`
	MonthlyRemaining   int                            `json:"monthly_remaining"`
	ExtraRenders       int                            `json:"extra_renders"`
	TotalAvailable     int                            `json:"total_available"`
	BillingPeriodStart *time.Time                     `json:"billing_period_start,omitempty"`
	BillingPeriodEnd   *time.Time                     `json:"billing_period_end,omitempty"`
	Quality            entitlement.Quality            `json:"quality"`
	HighResDownload    bool                           `json:"high_res_download"`
	HasSubscription    bool                           `json:"has_subscription"`
}

func (h *SubscriptionHandler) ListPlans(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, PlansResponse{Plans: h.catalog.Plans, Extra: h.catalog.Extra})
}

// GetSubscription reports the ledger as the gate would see it now: a period
// that has ended is shown rolled over even before the next write persists it.
func (h *SubscriptionHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	dbUser, ok := user.GetDBUserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "User not found")
		return
	}

	l, _ := entitlement.Rollover(dbUser.Ledger, h.now().UTC())
	quality, highRes := entitlement.QualityFor(l.Plan)
	resp := SubscriptionStatusResponse{
		Plan:               l.Plan,
		SubscriptionStatus: l.SubscriptionStatus,
		MonthlyQuota:       l.MonthlyQuota,
		MonthlyUsed:        l.MonthlyUsed,
		MonthlyRemaining:   l.MonthlyRemaining(),
		ExtraRenders:       l.ExtraRenders,
		TotalAvailable:     l.Remaining(),
		Quality:            quality,
		HighResDownload:    highRes,
		HasSubscription:    l.SubscriptionID != "",
	}
	if l.HasPeriod() {
		resp.BillingPeriodStart = &l.BillingPeriodStart
		resp.BillingPeriodEnd = &l.BillingPeriodEnd
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *SubscriptionHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	dbUser, ok := user.GetDBUserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "User not found")
		return
	}

	var req CreateCheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if !req.Plan.Paid() {
		writeError(w, http.StatusBadRequest, "INVALID_PLAN", "plan must be basic or pro")
		return
	}
	if dbUser.Ledger.SubscriptionID != "" && dbUser.Ledger.SubscriptionStatus != entitlement.StatusInactive {
		writeError(w, http.StatusConflict, "ALREADY_SUBSCRIBED", "Manage your current plan from the billing portal")
		return
	}

	customerID, ok := h.ensureCustomer(w, r, dbUser)
	if !ok {
		return
	}

	session, err := h.billing.CreateSubscriptionCheckout(r.Context(), customerID, dbUser.ID, req.Plan)
	if err != nil {
		h.writeBillingError(w, r, err, "create_subscription_checkout")
		return
	}
	writeJSON(w, http.StatusOK, CheckoutResponse{CheckoutURL: session.URL, SessionID: session.ID})
}

func (h *SubscriptionHandler) BuyExtra(w http.ResponseWriter, r *http.Request) {
	dbUser, ok := user.GetDBUserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "User not found")
		return
	}

	req := BuyExtraRequest{Quantity: 1}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
			return
		}
	}

	customerID, ok := h.ensureCustomer(w, r, dbUser)
	if !ok {
		return
	}

	session, err := h.billing.CreateExtraCheckout(r.Context(), customerID, dbUser.ID, req.Quantity)
	if err != nil {
		h.writeBillingError(w, r, err, "create_extra_checkout")
		return
	}
	writeJSON(w, http.StatusOK, CheckoutResponse{CheckoutURL: session.URL, SessionID: session.ID})
}

func (h *SubscriptionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.setCancelAtPeriodEnd(w, r, true)
}

func (h *SubscriptionHandler) Reactivate(w http.ResponseWriter, r *http.Request) {
	h.setCancelAtPeriodEnd(w, r, false)
}

// setCancelAtPeriodEnd only asks Stripe for the change. The ledger follows
// when the resulting customer.subscription.updated webhook arrives.
func (h *SubscriptionHandler) setCancelAtPeriodEnd(w http.ResponseWriter, r *http.Request, cancel bool) {
	dbUser, ok := user.GetDBUserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "User not found")
		return
	}

	l := dbUser.Ledger
	if l.SubscriptionID == "" || l.SubscriptionStatus == entitlement.StatusInactive {
		writeError(w, http.StatusBadRequest, "NO_SUBSCRIPTION", "No active subscription found")
		return
	}
	if cancel && l.SubscriptionStatus == entitlement.StatusCanceled {
		writeError(w, http.StatusConflict, "ALREADY_CANCELED", "Subscription is already set to cancel")
		return
	}
	if !cancel && l.SubscriptionStatus != entitlement.StatusCanceled {
		writeError(w, http.StatusConflict, "NOT_CANCELED", "Subscription is not scheduled for cancellation")
		return
	}

	sub, err := h.billing.SetCancelAtPeriodEnd(r.Context(), l.SubscriptionID, cancel)
	if err != nil {
		h.writeBillingError(w, r, err, "set_cancel_at_period_end")
		return
	}

	message := "Subscription reactivated"
	if cancel {
		message = "Subscription will be canceled at the end of the billing period"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":              message,
		"cancel_at_period_end": sub.CancelAtPeriodEnd,
	})
}

func (h *SubscriptionHandler) Portal(w http.ResponseWriter, r *http.Request) {
	dbUser, ok := user.GetDBUserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "User not found")
		return
	}
	if dbUser.Ledger.StripeCustomerID == "" {
		writeError(w, http.StatusBadRequest, "NO_CUSTOMER", "No billing account yet")
		return
	}

	session, err := h.billing.CreatePortalSession(r.Context(), dbUser.Ledger.StripeCustomerID)
	if err != nil {
		h.writeBillingError(w, r, err, "create_portal_session")
		return
	}
	writeJSON(w, http.StatusOK, PortalResponse{URL: session.URL})
}

func (h *SubscriptionHandler) ensureCustomer(w http.ResponseWriter, r *http.Request, dbUser *models.User) (string, bool) {
	customerID, err := h.users.EnsureStripeCustomer(r.Context(), dbUser)
	if err != nil {
		h.writeBillingError(w, r, err, "ensure_stripe_customer")
		return "", false
	}
	return customerID, true
}

func (h *SubscriptionHandler) writeBillingError(w http.ResponseWriter, r *http.Request, err error, stage string) {
	logging.EnrichError(r.Context(), err, stage)
	switch {
	case errors.Is(err, billing.ErrPlanNotSold):
		writeError(w, http.StatusBadRequest, "PLAN_UNAVAILABLE", "This plan cannot be purchased right now")
	case errors.Is(err, billing.ErrInvalidQuantity):
		writeError(w, http.StatusBadRequest, "INVALID_QUANTITY", err.Error())
	case errors.Is(err, user.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Please try again shortly")
	default:
		log.Error().Err(err).Str("stage", stage).Msg("billing request failed")
		writeError(w, http.StatusBadGateway, "BILLING_ERROR", "Payment provider request failed")
	}
}
