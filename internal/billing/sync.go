package billing

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v84"
)

// VerifyCatalog checks that every configured price exists and is active in
// Stripe, and that each recurring price is billed monthly.
func (c *Client) VerifyCatalog(ctx context.Context) error {
	prices, err := c.listActivePrices(ctx)
	if err != nil {
		return fmt.Errorf("failed to list prices: %w", err)
	}

	var problems []string
	for _, offer := range c.catalog.Plans {
		if offer.PriceID == "" {
			continue
		}
		p := prices[offer.PriceID]
		switch {
		case p == nil:
			problems = append(problems, fmt.Sprintf("%s: price %s not found or inactive", offer.ID, offer.PriceID))
		case p.Recurring == nil || p.Recurring.Interval != stripe.PriceRecurringIntervalMonth:
			problems = append(problems, fmt.Sprintf("%s: price %s is not a monthly recurring price", offer.ID, offer.PriceID))
		default:
			log.Info().
				Str("plan", string(offer.ID)).
				Str("price_id", p.ID).
				Int64("unit_amount", p.UnitAmount).
				Str("currency", string(p.Currency)).
				Msg("stripe plan price verified")
		}
	}

	if id := c.catalog.Extra.PriceID; id != "" {
		p := prices[id]
		switch {
		case p == nil:
			problems = append(problems, fmt.Sprintf("extra: price %s not found or inactive", id))
		case p.Type != stripe.PriceTypeOneTime:
			problems = append(problems, fmt.Sprintf("extra: price %s is not a one-time price", id))
		}
	}

	for _, missing := range c.catalog.MissingPriceIDs() {
		log.Warn().Str("offer", missing).Msg("no stripe price configured, offer cannot be purchased")
	}

	if len(problems) > 0 {
		return fmt.Errorf("stripe catalog mismatch: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c *Client) listActivePrices(ctx context.Context) (map[string]*stripe.Price, error) {
	prices := make(map[string]*stripe.Price)
	for p, err := range c.sc.V1Prices.List(ctx, &stripe.PriceListParams{Active: stripe.Bool(true)}) {
		if err != nil {
			return nil, err
		}
		prices[p.ID] = p
	}
	return prices, nil
}
