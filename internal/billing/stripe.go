package billing

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/blagoySimandov/arqrender/internal/config"
	"github.com/blagoySimandov/arqrender/internal/entitlement"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"
)

var (
	ErrPlanNotSold          = errors.New("plan is not available for purchase")
	ErrInvalidQuantity      = errors.New("invalid extra pack quantity")
	ErrWebhookNotConfigured = errors.New("stripe webhook secret not configured")
)

// MaxExtraPacks caps the quantity of a single extra-pack checkout.
const MaxExtraPacks = 10

type Client struct {
	sc            *stripe.Client
	catalog       *Catalog
	webhookSecret string
	feBaseURL     string
}

func NewClient(cfg *config.Config, catalog *Catalog) *Client {
	return &Client{
		sc:            stripe.NewClient(cfg.StripeSecretKey),
		catalog:       catalog,
		webhookSecret: cfg.StripeWebhookSecret,
		feBaseURL:     cfg.FE_BASE_URL,
	}
}

func (c *Client) Catalog() *Catalog {
	return c.catalog
}

func (c *Client) CreateCustomer(ctx context.Context, userID, email string) (string, error) {
	params := &stripe.CustomerCreateParams{
		Email:    stripe.String(email),
		Metadata: map[string]string{config.StripeMetadataUserID: userID},
	}
	customer, err := c.sc.V1Customers.Create(ctx, params)
	if err != nil {
		return "", err
	}
	return customer.ID, nil
}

func (c *Client) CreateSubscriptionCheckout(ctx context.Context, customerID, userID string, plan entitlement.Plan) (*stripe.CheckoutSession, error) {
	offer, ok := c.catalog.Plan(plan)
	if !ok || offer.PriceID == "" {
		return nil, fmt.Errorf("%w: %q", ErrPlanNotSold, plan)
	}

	metadata := map[string]string{
		config.StripeMetadataUserID: userID,
		config.StripeMetadataPlan:   string(plan),
	}
	params := &stripe.CheckoutSessionCreateParams{
		Customer:          stripe.String(customerID),
		ClientReferenceID: stripe.String(userID),
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				Price:    stripe.String(offer.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionCreateSubscriptionDataParams{
			Metadata: metadata,
		},
		SuccessURL: stripe.String(c.feBaseURL + "/subscription?success=true"),
		CancelURL:  stripe.String(c.feBaseURL + "/pricing?canceled=true"),
		Metadata:   metadata,
	}
	return c.sc.V1CheckoutSessions.Create(ctx, params)
}

func (c *Client) CreateExtraCheckout(ctx context.Context, customerID, userID string, quantity int) (*stripe.CheckoutSession, error) {
	if quantity < 1 || quantity > MaxExtraPacks {
		return nil, fmt.Errorf("%w: got %d, max %d", ErrInvalidQuantity, quantity, MaxExtraPacks)
	}
	if c.catalog.Extra.PriceID == "" {
		return nil, fmt.Errorf("%w: extra pack", ErrPlanNotSold)
	}

	params := &stripe.CheckoutSessionCreateParams{
		Customer:          stripe.String(customerID),
		ClientReferenceID: stripe.String(userID),
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				Price:    stripe.String(c.catalog.Extra.PriceID),
				Quantity: stripe.Int64(int64(quantity)),
			},
		},
		SuccessURL: stripe.String(c.feBaseURL + "/subscription?extra=success"),
		CancelURL:  stripe.String(c.feBaseURL + "/subscription?extra=canceled"),
		Metadata: map[string]string{
			config.StripeMetadataUserID:   userID,
			config.StripeMetadataType:     config.StripePurchaseTypeExtraRenders,
			config.StripeMetadataQuantity: strconv.Itoa(quantity),
		},
	}
	return c.sc.V1CheckoutSessions.Create(ctx, params)
}

// SetCancelAtPeriodEnd schedules or withdraws the cancellation of a
// subscription. The ledger follows through the resulting webhook.
func (c *Client) SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionUpdateParams{
		CancelAtPeriodEnd: stripe.Bool(cancel),
	}
	return c.sc.V1Subscriptions.Update(ctx, subscriptionID, params)
}

func (c *Client) CreatePortalSession(ctx context.Context, customerID string) (*stripe.BillingPortalSession, error) {
	params := &stripe.BillingPortalSessionCreateParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(c.feBaseURL + "/subscription"),
	}
	return c.sc.V1BillingPortalSessions.Create(ctx, params)
}

func (c *Client) VerifyWebhookSignature(payload []byte, signature string) (*stripe.Event, error) {
	if c.webhookSecret == "" {
		return nil, ErrWebhookNotConfigured
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, c.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("webhook signature verification failed: %w", err)
	}
	return &event, nil
}
