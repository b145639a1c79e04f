package atelier

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/atelier/entitlement"
	"github.com/xraph/atelier/id"
	"github.com/xraph/atelier/store"
	"github.com/xraph/atelier/subscription"
	"github.com/xraph/atelier/types"
	"github.com/xraph/atelier/usage"
)

// ──────────────────────────────────────────────────
// Usage Tracker
// ──────────────────────────────────────────────────

// RecordUsage adds delta to the subscription's record for the current
// month, creating it on first use. Events are not deduplicated.
func (e *Engine) RecordUsage(ctx context.Context, subID id.SubscriptionID, delta usage.Delta) (*usage.Record, error) {
	if err := delta.Validate(); err != nil {
		return nil, Invalid("Delta", "%v", err)
	}
	sub, err := e.store.GetSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}

	now := e.Now()
	rec, err := e.store.IncrementUsage(ctx, &usage.Increment{
		SubscriptionID: subID,
		Month:          now,
		Currency:       sub.TotalSales.Currency,
		Delta:          delta,
		At:             now,
	})
	if err != nil {
		return nil, err
	}

	e.logger.Debug("usage recorded", "subscription_id", subID.String(), "month", rec.Month.Format("2006-01"))
	e.plugins.EmitUsageRecorded(ctx, rec, delta)
	return rec, nil
}

// AddArtwork takes one artwork slot. It fails with ErrArtworkLimitReached
// once the plan limit is used up and with ErrSubscriptionInactive unless
// the subscription is active or trialing.
func (e *Engine) AddArtwork(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	var limitHit *subscription.Subscription
	var limit int64

	delta := usage.Delta{ArtworksAdded: 1}
	sub, _, err := e.mutate(ctx, subID, func(prev, sub *subscription.Subscription, now time.Time) (*store.Commit, error) {
		if !prev.IsActive() {
			return nil, fmt.Errorf("%w: subscription %s is %s", ErrSubscriptionInactive, prev.ID, prev.Status)
		}
		p, err := e.store.GetPlan(ctx, prev.PlanID)
		if err != nil {
			return nil, err
		}
		if !prev.CanAddArtwork(p) {
			limitHit, limit = prev, int64(p.MaxArtworks)
			return nil, fmt.Errorf("%w: %d of %d used", ErrArtworkLimitReached, prev.ArtworksCount, p.MaxArtworks)
		}

		sub.ArtworksCount++
		return &store.Commit{Subscription: sub, Usage: e.increment(sub, delta, now)}, nil
	})
	if limitHit != nil {
		e.plugins.EmitArtworkLimitReached(ctx, limitHit, int64(limitHit.ArtworksCount), limit)
	}
	if err != nil {
		return nil, err
	}

	e.emitMonthUsage(ctx, sub, delta)
	return sub, nil
}

// RemoveArtwork frees one artwork slot. The count never drops below zero.
func (e *Engine) RemoveArtwork(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	sub, _, err := e.mutate(ctx, subID, func(prev, sub *subscription.Subscription, _ time.Time) (*store.Commit, error) {
		if prev.ArtworksCount == 0 {
			return nil, nil
		}
		sub.ArtworksCount--
		return &store.Commit{Subscription: sub}, nil
	})
	return sub, err
}

// RecordSale books an artwork sale: the plan's commission is taken from
// amount and both are added to the subscription totals and the month's
// usage. It returns the commission.
func (e *Engine) RecordSale(ctx context.Context, subID id.SubscriptionID, amount types.Money) (types.Money, error) {
	amount = types.New(amount.Amount, amount.Currency)
	if !amount.IsPositive() {
		return types.Money{}, Invalid("Amount", "sale must be positive, got %s", amount)
	}

	var commission types.Money
	var delta usage.Delta
	sub, _, err := e.mutate(ctx, subID, func(prev, sub *subscription.Subscription, now time.Time) (*store.Commit, error) {
		if !amount.SameCurrency(prev.TotalSales) {
			return nil, Invalid("Amount", "currency %q differs from subscription currency %q", amount.Currency, prev.TotalSales.Currency)
		}
		p, err := e.store.GetPlan(ctx, prev.PlanID)
		if err != nil {
			return nil, err
		}

		commission = p.Commission(amount)
		sub.TotalSales = sub.TotalSales.Add(amount)
		sub.TotalCommissionPaid = sub.TotalCommissionPaid.Add(commission)

		delta = usage.Delta{ArtworksSold: 1, SalesAmount: amount.Amount, CommissionEarned: commission.Amount}
		return &store.Commit{Subscription: sub, Usage: e.increment(sub, delta, now)}, nil
	})
	if err != nil {
		return types.Money{}, err
	}

	e.logger.Info("sale recorded",
		"subscription_id", subID.String(),
		"amount", amount.String(),
		"commission", commission.String(),
	)
	e.emitMonthUsage(ctx, sub, delta)
	return commission, nil
}

// CheckArtworkLimit reports the artwork slots used and left.
func (e *Engine) CheckArtworkLimit(ctx context.Context, subID id.SubscriptionID) (*entitlement.Result, error) {
	sub, err := e.store.GetSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}
	if !sub.IsActive() {
		return entitlement.Deny(entitlement.FeatureArtworks, "subscription is "+string(sub.Status)), nil
	}
	p, err := e.store.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return nil, err
	}
	return entitlement.Check(entitlement.FeatureArtworks, int64(sub.ArtworksCount), int64(p.MaxArtworks)), nil
}

// CheckFeaturedSlots reports whether another artwork can be featured when
// used slots are already taken.
func (e *Engine) CheckFeaturedSlots(ctx context.Context, subID id.SubscriptionID, used int64) (*entitlement.Result, error) {
	sub, err := e.store.GetSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}
	if !sub.IsActive() {
		return entitlement.Deny(entitlement.FeatureFeaturedArtworks, "subscription is "+string(sub.Status)), nil
	}
	p, err := e.store.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return nil, err
	}
	return entitlement.Check(entitlement.FeatureFeaturedArtworks, used, int64(p.FeaturedArtworks)), nil
}

// HasFeature reports whether the subscription's plan switches on a boolean
// feature flag. Inactive subscriptions have no features.
func (e *Engine) HasFeature(ctx context.Context, subID id.SubscriptionID, key string) (bool, error) {
	sub, err := e.store.GetSubscription(ctx, subID)
	if err != nil {
		return false, err
	}
	if !sub.IsActive() {
		return false, nil
	}
	p, err := e.store.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return false, err
	}
	return p.Features.Bool(key), nil
}

// GetUsage returns the usage record for the month containing month.
func (e *Engine) GetUsage(ctx context.Context, subID id.SubscriptionID, month time.Time) (*usage.Record, error) {
	return e.store.GetUsage(ctx, subID, usage.Month(month))
}

// ListUsage lists a subscription's monthly records, newest first.
func (e *Engine) ListUsage(ctx context.Context, subID id.SubscriptionID, opts usage.ListOpts) ([]*usage.Record, error) {
	return e.store.ListUsage(ctx, subID, opts)
}

func (e *Engine) increment(sub *subscription.Subscription, d usage.Delta, now time.Time) *usage.Increment {
	return &usage.Increment{
		SubscriptionID: sub.ID,
		Month:          now,
		Currency:       sub.TotalSales.Currency,
		Delta:          d,
		At:             now,
	}
}

func (e *Engine) emitMonthUsage(ctx context.Context, sub *subscription.Subscription, d usage.Delta) {
	rec, err := e.store.GetUsage(ctx, sub.ID, usage.Month(e.Now()))
	if err != nil {
		e.logger.Warn("usage readback failed", "subscription_id", sub.ID.String(), "error", err)
		return
	}
	e.plugins.EmitUsageRecorded(ctx, rec, d)
}
