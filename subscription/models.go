package subscription

import (
	"math"
	"time"

	"github.com/xraph/atelier/id"
	"github.com/xraph/atelier/plan"
	"github.com/xraph/atelier/types"
)

type Status string

const (
	StatusTrialing  Status = "trialing"
	StatusActive    Status = "active"
	StatusPastDue   Status = "past_due"
	StatusPaused    Status = "paused"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// transitions lists every allowed status change. Anything absent, including
// a status "changing" to itself, is invalid.
var transitions = map[Status][]Status{
	StatusTrialing:  {StatusActive, StatusPastDue, StatusCancelled, StatusExpired},
	StatusActive:    {StatusPastDue, StatusCancelled, StatusPaused, StatusExpired},
	StatusPastDue:   {StatusActive, StatusCancelled, StatusExpired},
	StatusPaused:    {StatusActive},
	StatusCancelled: nil,
	StatusExpired:   nil,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	return s == StatusCancelled || s == StatusExpired
}

// CanTransition reports whether moving from s to next is allowed.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// OpenStatuses are the non-terminal statuses. An artist holds at most one
// subscription in any of them.
var OpenStatuses = []Status{StatusTrialing, StatusActive, StatusPastDue, StatusPaused}

type Subscription struct {
	types.Entity
	ID                  id.SubscriptionID `json:"id"`
	ArtistID            string            `json:"artist_id"`
	PlanID              id.PlanID         `json:"plan_id"`
	Status              Status            `json:"status"`
	CurrentPeriodStart  time.Time         `json:"current_period_start"`
	CurrentPeriodEnd    time.Time         `json:"current_period_end"`
	TrialStart          *time.Time        `json:"trial_start,omitempty"`
	TrialEnd            *time.Time        `json:"trial_end,omitempty"`
	NextBillingDate     *time.Time        `json:"next_billing_date,omitempty"`
	PriceOverride       *types.Money      `json:"price_override,omitempty"`
	CancelAtPeriodEnd   bool              `json:"cancel_at_period_end"`
	CancelledAt         *time.Time        `json:"cancelled_at,omitempty"`
	CancellationReason  string            `json:"cancellation_reason,omitempty"`
	AutoRenew           bool              `json:"auto_renew"`
	PaymentFailedCount  int               `json:"payment_failed_count"`
	LastPaymentDate     *time.Time        `json:"last_payment_date,omitempty"`
	LastPaymentAmount   *types.Money      `json:"last_payment_amount,omitempty"`
	ArtworksCount       int               `json:"artworks_count"`
	TotalSales          types.Money       `json:"total_sales"`
	TotalCommissionPaid types.Money       `json:"total_commission_paid"`
	Notes               string            `json:"notes,omitempty"`
	Metadata            types.Attributes  `json:"metadata,omitempty"`
	Version             int64             `json:"version"`
}

// IsActive reports whether the subscription currently grants plan benefits.
func (s *Subscription) IsActive() bool {
	return s.Status == StatusActive || s.Status == StatusTrialing
}

// IsInTrial reports whether the subscription is trialing and the trial has
// not yet ended at now.
func (s *Subscription) IsInTrial(now time.Time) bool {
	return s.Status == StatusTrialing && s.TrialEnd != nil && now.Before(*s.TrialEnd)
}

// DaysUntilRenewal returns whole days from now until the period ends,
// rounded down. Overdue subscriptions yield a negative count.
func (s *Subscription) DaysUntilRenewal(now time.Time) int {
	d := s.CurrentPeriodEnd.Sub(now)
	return int(math.Floor(d.Hours() / 24))
}

// CanAddArtwork reports whether another artwork fits within the plan limit.
func (s *Subscription) CanAddArtwork(p *plan.Plan) bool {
	return s.ArtworksCount < p.MaxArtworks
}

// EffectivePrice returns the price override when set, else the plan price.
func (s *Subscription) EffectivePrice(p *plan.Plan) types.Money {
	if s.PriceOverride != nil {
		return *s.PriceOverride
	}
	return p.Price
}

// PeriodEnded reports whether the current period has ended at now.
func (s *Subscription) PeriodEnded(now time.Time) bool {
	return !now.Before(s.CurrentPeriodEnd)
}

// Clone returns a deep copy of the subscription.
func (s *Subscription) Clone() *Subscription {
	if s == nil {
		return nil
	}
	c := *s
	c.TrialStart = cloneTime(s.TrialStart)
	c.TrialEnd = cloneTime(s.TrialEnd)
	c.NextBillingDate = cloneTime(s.NextBillingDate)
	c.CancelledAt = cloneTime(s.CancelledAt)
	c.LastPaymentDate = cloneTime(s.LastPaymentDate)
	c.PriceOverride = cloneMoney(s.PriceOverride)
	c.LastPaymentAmount = cloneMoney(s.LastPaymentAmount)
	c.Metadata = s.Metadata.Clone()
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneMoney(m *types.Money) *types.Money {
	if m == nil {
		return nil
	}
	v := *m
	return &v
}
