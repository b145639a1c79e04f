package subscription

import (
	"context"
	"time"

	"github.com/xraph/atelier/id"
)

// Store reads subscriptions. Mutations of existing subscriptions go through
// store.Store.Commit so they land together with their change record.
type Store interface {
	GetSubscription(ctx context.Context, subID id.SubscriptionID) (*Subscription, error)
	GetOpenSubscription(ctx context.Context, artistID string) (*Subscription, error)
	ListSubscriptions(ctx context.Context, opts ListOpts) ([]*Subscription, error)
	CountSubscriptionsForPlan(ctx context.Context, planID id.PlanID) (int64, error)
}

type ListOpts struct {
	ArtistID string
	PlanID   id.PlanID
	Statuses []Status
	// PeriodEndBefore selects subscriptions whose current period ends at or
	// before the given instant. Results are then ordered by period end.
	PeriodEndBefore *time.Time
	Limit           int
	Offset          int
}

// Matches reports whether s satisfies the filter. Backends without a query
// language use it directly.
func (o ListOpts) Matches(s *Subscription) bool {
	if o.ArtistID != "" && s.ArtistID != o.ArtistID {
		return false
	}
	if !o.PlanID.IsNil() && !s.PlanID.Equal(o.PlanID) {
		return false
	}
	if len(o.Statuses) > 0 {
		found := false
		for _, st := range o.Statuses {
			if s.Status == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if o.PeriodEndBefore != nil && s.CurrentPeriodEnd.After(*o.PeriodEndBefore) {
		return false
	}
	return true
}
