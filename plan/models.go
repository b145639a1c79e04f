package plan

import (
	"cmp"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/atelier/id"
	"github.com/xraph/atelier/types"
)

// BillingPeriod is the renewal cadence of a plan.
type BillingPeriod string

const (
	Monthly   BillingPeriod = "monthly"
	Quarterly BillingPeriod = "quarterly"
	Annual    BillingPeriod = "annual"
)

// DefaultPeriodDays is used for any billing period outside the known set.
const DefaultPeriodDays = 30

var periodDays = map[BillingPeriod]int{
	Monthly:   30,
	Quarterly: 90,
	Annual:    365,
}

// PeriodDays returns the flat day count of a billing period. Periods are
// fixed day counts, not calendar months.
func PeriodDays(p BillingPeriod) int {
	if d, ok := periodDays[p]; ok {
		return d
	}
	return DefaultPeriodDays
}

// Valid reports whether p is one of the known billing periods.
func (p BillingPeriod) Valid() bool {
	_, ok := periodDays[p]
	return ok
}

// Days is shorthand for PeriodDays(p).
func (p BillingPeriod) Days() int { return PeriodDays(p) }

// Duration returns the period length as a time.Duration.
func (p BillingPeriod) Duration() time.Duration {
	return time.Duration(PeriodDays(p)) * 24 * time.Hour
}

// Tier is the marketing tier of a plan.
type Tier string

const (
	TierBasic        Tier = "basic"
	TierProfessional Tier = "professional"
	TierPremium      Tier = "premium"
	TierEnterprise   Tier = "enterprise"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierBasic, TierProfessional, TierPremium, TierEnterprise:
		return true
	default:
		return false
	}
}

type Plan struct {
	types.Entity
	ID               id.PlanID        `json:"id"`
	Slug             string           `json:"slug" validate:"required,max=100"`
	Name             string           `json:"name" validate:"required,max=100"`
	Tier             Tier             `json:"tier" validate:"required,oneof=basic professional premium enterprise"`
	Description      string           `json:"description"`
	Price            types.Money      `json:"price"`
	BillingPeriod    BillingPeriod    `json:"billing_period" validate:"required,oneof=monthly quarterly annual"`
	MaxArtworks      int              `json:"max_artworks" validate:"gte=0"`
	CommissionRate   decimal.Decimal  `json:"commission_rate"`
	FeaturedArtworks int              `json:"featured_artworks" validate:"gte=0"`
	TrialDays        int              `json:"trial_days" validate:"gte=0"`
	Features         types.Attributes `json:"features,omitempty"`
	Active           bool             `json:"active"`
	Featured         bool             `json:"featured"`
	DisplayOrder     int              `json:"display_order"`
}

// PeriodDays returns the plan's billing period in days.
func (p *Plan) PeriodDays() int { return PeriodDays(p.BillingPeriod) }

// HasTrial reports whether new subscriptions start in a trial.
func (p *Plan) HasTrial() bool { return p.TrialDays > 0 }

// Commission returns the platform commission owed on a sale amount.
func (p *Plan) Commission(sale types.Money) types.Money {
	return sale.Percent(p.CommissionRate)
}

// Clone returns a deep copy of the plan.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	c := *p
	c.Features = p.Features.Clone()
	return &c
}

// CompareCatalog orders plans for display: display order, then price ascending.
func CompareCatalog(a, b *Plan) int {
	if c := cmp.Compare(a.DisplayOrder, b.DisplayOrder); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Price.Amount, b.Price.Amount); c != 0 {
		return c
	}
	return cmp.Compare(a.Slug, b.Slug)
}

// CompareValue ranks plans by what they offer: price first, then the
// artwork limit. A positive result means a is the richer plan.
func CompareValue(a, b *Plan) int {
	if c := cmp.Compare(a.Price.Amount, b.Price.Amount); c != 0 {
		return c
	}
	return cmp.Compare(a.MaxArtworks, b.MaxArtworks)
}

// LookupOptions controls plan lookups by slug.
type LookupOptions struct {
	IncludeInactive bool
}

// LookupOption configures a lookup.
type LookupOption func(*LookupOptions)

// IncludeInactive makes a lookup return deactivated plans, for historical
// reads of plans existing subscriptions are still bound to.
func IncludeInactive() LookupOption {
	return func(o *LookupOptions) { o.IncludeInactive = true }
}

// ApplyLookup folds opts into a LookupOptions value.
func ApplyLookup(opts ...LookupOption) LookupOptions {
	var o LookupOptions
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

type ListOpts struct {
	IncludeInactive bool
	Limit           int
	Offset          int
}
