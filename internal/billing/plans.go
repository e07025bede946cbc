package billing

import (
	"fmt"
	"os"

	"github.com/blagoySimandov/arqrender/internal/config"
	"github.com/blagoySimandov/arqrender/internal/entitlement"
	"gopkg.in/yaml.v3"
)

// PlanOffer is a purchasable subscription plan.
type PlanOffer struct {
	ID              entitlement.Plan    `yaml:"id" json:"id"`
	Name            string              `yaml:"name" json:"name"`
	PriceCents      int64               `yaml:"price_cents" json:"price_cents"`
	Currency        string              `yaml:"currency" json:"currency"`
	Interval        string              `yaml:"interval" json:"interval"`
	MonthlyQuota    int                 `yaml:"monthly_quota" json:"monthly_quota"`
	Quality         entitlement.Quality `yaml:"quality" json:"quality"`
	HighResDownload bool                `yaml:"high_res_download" json:"high_res_download"`
	PriceID         string              `yaml:"price_id" json:"-"`
}

// ExtraPack is the one-time package of extra renders.
type ExtraPack struct {
	Name       string `yaml:"name" json:"name"`
	PriceCents int64  `yaml:"price_cents" json:"price_cents"`
	Currency   string `yaml:"currency" json:"currency"`
	Renders    int    `yaml:"renders" json:"renders"`
	PriceID    string `yaml:"price_id" json:"-"`
}

type Catalog struct {
	Plans []PlanOffer `yaml:"plans" json:"plans"`
	Extra ExtraPack   `yaml:"extra" json:"extra"`
}

func DefaultCatalog() *Catalog {
	return &Catalog{
		Plans: []PlanOffer{
			{
				ID:           entitlement.PlanBasic,
				Name:         "Arqrender Basic",
				PriceCents:   9990,
				Currency:     "brl",
				Interval:     "month",
				MonthlyQuota: 100,
				Quality:      entitlement.QualityHD,
			},
			{
				ID:              entitlement.PlanPro,
				Name:            "Arqrender Pro",
				PriceCents:      14990,
				Currency:        "brl",
				Interval:        "month",
				MonthlyQuota:    170,
				Quality:         entitlement.QualityMax,
				HighResDownload: true,
			},
		},
		Extra: ExtraPack{
			Name:       "Arqrender Extra Pack",
			PriceCents: 4990,
			Currency:   "brl",
			Renders:    entitlement.DefaultUnitsPerPackage,
		},
	}
}

// LoadCatalog returns the default catalog, replaced by cfg.PlansFile when set.
// Price ids from the environment win over the ones in the file.
func LoadCatalog(cfg *config.Config) (*Catalog, error) {
	catalog := DefaultCatalog()
	if cfg.PlansFile != "" {
		data, err := os.ReadFile(cfg.PlansFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read plans file: %w", err)
		}
		catalog = &Catalog{}
		if err := yaml.Unmarshal(data, catalog); err != nil {
			return nil, fmt.Errorf("failed to parse plans file: %w", err)
		}
		if err := catalog.validate(); err != nil {
			return nil, err
		}
	}

	for i := range catalog.Plans {
		switch catalog.Plans[i].ID {
		case entitlement.PlanBasic:
			catalog.Plans[i].PriceID = firstNonEmpty(cfg.StripePriceBasic, catalog.Plans[i].PriceID)
		case entitlement.PlanPro:
			catalog.Plans[i].PriceID = firstNonEmpty(cfg.StripePricePro, catalog.Plans[i].PriceID)
		}
	}
	catalog.Extra.PriceID = firstNonEmpty(cfg.StripePriceExtra, catalog.Extra.PriceID)
	return catalog, nil
}

func (c *Catalog) validate() error {
	seen := make(map[entitlement.Plan]bool, len(c.Plans))
	for _, p := range c.Plans {
		if !p.ID.Paid() {
			return fmt.Errorf("plans file: %q is not a paid plan", p.ID)
		}
		if seen[p.ID] {
			return fmt.Errorf("plans file: duplicate plan %q", p.ID)
		}
		if p.MonthlyQuota < 0 {
			return fmt.Errorf("plans file: negative quota for %q", p.ID)
		}
		seen[p.ID] = true
	}
	if c.Extra.Renders <= 0 {
		return fmt.Errorf("plans file: extra pack must grant at least one render")
	}
	return nil
}

func (c *Catalog) Plan(id entitlement.Plan) (*PlanOffer, bool) {
	for i := range c.Plans {
		if c.Plans[i].ID == id {
			return &c.Plans[i], true
		}
	}
	return nil, false
}

// PlanForPriceID maps a Stripe price id to its plan. Unknown prices map to free.
func (c *Catalog) PlanForPriceID(priceID string) entitlement.Plan {
	if priceID == "" {
		return entitlement.PlanFree
	}
	for _, p := range c.Plans {
		if p.PriceID == priceID {
			return p.ID
		}
	}
	return entitlement.PlanFree
}

// Rules returns the reconciler rules implied by the catalog.
func (c *Catalog) Rules() entitlement.Rules {
	rules := entitlement.DefaultRules()
	for _, p := range c.Plans {
		rules.Quotas[p.ID] = p.MonthlyQuota
	}
	if c.Extra.Renders > 0 {
		rules.UnitsPerPackage = c.Extra.Renders
	}
	return rules
}

// MissingPriceIDs lists the catalog entries that cannot be sold yet.
func (c *Catalog) MissingPriceIDs() []string {
	var missing []string
	for _, p := range c.Plans {
		if p.PriceID == "" {
			missing = append(missing, string(p.ID))
		}
	}
	if c.Extra.PriceID == "" {
		missing = append(missing, "extra")
	}
	return missing
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
