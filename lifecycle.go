package atelier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/atelier/change"
	"github.com/xraph/atelier/id"
	"github.com/xraph/atelier/invoice"
	"github.com/xraph/atelier/lock"
	"github.com/xraph/atelier/plan"
	"github.com/xraph/atelier/store"
	"github.com/xraph/atelier/subscription"
	"github.com/xraph/atelier/types"
)

// SubscribeParams describes a new subscription.
type SubscribeParams struct {
	ArtistID      string
	PlanSlug      string
	PriceOverride *types.Money
	Notes         string
	Metadata      types.Attributes
	// Actor is recorded on plugin events; empty means the system.
	Actor string
}

// CancelParams controls a cancellation.
type CancelParams struct {
	Reason string
	// Immediate ends the subscription now. Otherwise it runs to the end of
	// the current period.
	Immediate bool
	Actor     string
}

// ChangePlanParams moves a subscription to another plan.
type ChangePlanParams struct {
	PlanSlug string
	Reason   string
	Actor    string
}

// PaymentSucceeded is reported by the payment gateway adapter.
type PaymentSucceeded struct {
	// Amount defaults to the invoice amount when unset. A non-zero amount
	// must carry its currency.
	Amount           types.Money
	PaidAt           time.Time
	Method           string
	TransactionID    string
	GatewayPaymentID string
	Response         json.RawMessage
}

// PaymentFailed is reported by the payment gateway adapter.
type PaymentFailed struct {
	At       time.Time
	Reason   string
	Response json.RawMessage
}

// ──────────────────────────────────────────────────
// Creation
// ──────────────────────────────────────────────────

// Subscribe binds an artist to a plan. Plans with trial days start in
// trialing for the length of the trial; others start active for one billing
// period with that period's invoice issued alongside.
func (e *Engine) Subscribe(ctx context.Context, params SubscribeParams) (*subscription.Subscription, error) {
	if params.ArtistID == "" {
		return nil, Invalid("ArtistID", "is required")
	}
	if err := params.Metadata.Validate(); err != nil {
		return nil, Invalid("Metadata", "%v", err)
	}

	p, err := e.GetPlan(ctx, params.PlanSlug)
	if err != nil {
		return nil, err
	}
	if o := params.PriceOverride; o != nil {
		if o.IsNegative() {
			return nil, Invalid("PriceOverride", "must not be negative, got %s", o)
		}
		if !o.SameCurrency(p.Price) {
			return nil, Invalid("PriceOverride", "currency %q differs from plan currency %q", o.Currency, p.Price.Currency)
		}
	}

	release, err := e.acquire(ctx, lock.ArtistKey(params.ArtistID))
	if err != nil {
		return nil, err
	}
	defer release()

	if existing, err := e.store.GetOpenSubscription(ctx, params.ArtistID); err == nil {
		return nil, fmt.Errorf("%w: %s is %s", ErrSubscriptionExists, existing.ID, existing.Status)
	} else if !IsNotFound(err) {
		return nil, err
	}

	now := e.Now()
	sub := &subscription.Subscription{
		Entity:              types.NewEntity(now),
		ID:                  id.NewSubscriptionID(),
		ArtistID:            params.ArtistID,
		PlanID:              p.ID,
		CurrentPeriodStart:  now,
		PriceOverride:       params.PriceOverride,
		AutoRenew:           true,
		TotalSales:          types.Zero(p.Price.Currency),
		TotalCommissionPaid: types.Zero(p.Price.Currency),
		Notes:               params.Notes,
		Metadata:            params.Metadata.Clone(),
		Version:             1,
	}

	var inv *invoice.Invoice
	if p.HasTrial() {
		trialEnd := now.AddDate(0, 0, p.TrialDays)
		sub.Status = subscription.StatusTrialing
		sub.TrialStart = &now
		sub.TrialEnd = &trialEnd
		sub.CurrentPeriodEnd = trialEnd
	} else {
		end := now.Add(p.BillingPeriod.Duration())
		sub.Status = subscription.StatusActive
		sub.CurrentPeriodEnd = end
		sub.NextBillingDate = &end
		inv = e.periodInvoice(sub, p, now)
	}

	err = e.withNumberRetry(inv, now, func() error {
		return e.store.CreateSubscription(ctx, sub, inv)
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("subscription created",
		"subscription_id", sub.ID.String(),
		"artist_id", sub.ArtistID,
		"plan", p.Slug,
		"status", string(sub.Status),
		"actor", params.Actor,
	)
	e.plugins.EmitSubscriptionCreated(ctx, sub)
	if inv != nil {
		e.plugins.EmitInvoiceGenerated(ctx, inv)
	}
	return sub, nil
}

// ──────────────────────────────────────────────────
// Renewal and expiry
// ──────────────────────────────────────────────────

// Renew starts the next billing period once the current one, or the
// trial, has ended. A trialing subscription's first paid period starts at
// the trial end; otherwise the new period starts where the current one
// ended. The period invoice is issued in the same commit. Paused and
// terminal subscriptions cannot be renewed.
func (e *Engine) Renew(ctx context.Context, subID id.SubscriptionID, actor string) (*subscription.Subscription, error) {
	sub, _, err := e.mutate(ctx, subID, func(prev, sub *subscription.Subscription, now time.Time) (*store.Commit, error) {
		switch prev.Status {
		case subscription.StatusTrialing, subscription.StatusActive, subscription.StatusPastDue:
		default:
			return nil, fmt.Errorf("%w: cannot renew %s subscription %s", ErrInvalidTransition, prev.Status, prev.ID)
		}
		if prev.CancelAtPeriodEnd {
			return nil, fmt.Errorf("%w: subscription %s ends with its current period", ErrCancellationScheduled, prev.ID)
		}

		start := prev.CurrentPeriodEnd
		if prev.Status == subscription.StatusTrialing && prev.TrialEnd != nil {
			start = *prev.TrialEnd
		}
		if now.Before(start) {
			return nil, fmt.Errorf("%w: period of subscription %s ends at %s",
				ErrInvalidTransition, prev.ID, start.Format(time.RFC3339))
		}

		p, err := e.store.GetPlan(ctx, prev.PlanID)
		if err != nil {
			return nil, err
		}
		end := start.Add(p.BillingPeriod.Duration())

		sub.Status = subscription.StatusActive
		sub.CurrentPeriodStart = start
		sub.CurrentPeriodEnd = end
		sub.NextBillingDate = &end

		inv := e.periodInvoice(sub, p, now)
		rec := newChange(prev, sub, change.TypeRenewal, actor, "", now)
		rec.FromPrice = moneyPtr(prev.EffectivePrice(p))
		rec.ToPrice = moneyPtr(inv.Amount)

		return &store.Commit{Subscription: sub, Change: rec, NewInvoice: inv}, nil
	})
	return sub, err
}

// Expire ends a subscription that will not renew, typically one with auto
// renew switched off whose period has passed.
func (e *Engine) Expire(ctx context.Context, subID id.SubscriptionID, actor, reason string) (*subscription.Subscription, error) {
	sub, _, err := e.mutate(ctx, subID, func(prev, sub *subscription.Subscription, now time.Time) (*store.Commit, error) {
		if err := transitionTo(sub, subscription.StatusExpired); err != nil {
			return nil, err
		}
		sub.NextBillingDate = nil
		return &store.Commit{
			Subscription: sub,
			Change:       newChange(prev, sub, change.TypeExpiration, actor, reason, now),
		}, nil
	})
	return sub, err
}

// ──────────────────────────────────────────────────
// Cancellation
// ──────────────────────────────────────────────────

// Cancel ends a subscription now, or flags it to end with its current
// period. A scheduled cancellation keeps the status unchanged until
// CompletePeriodEndCancellation runs.
func (e *Engine) Cancel(ctx context.Context, subID id.SubscriptionID, params CancelParams) (*subscription.Subscription, error) {
	sub, _, err := e.mutate(ctx, subID, func(prev, sub *subscription.Subscription, now time.Time) (*store.Commit, error) {
		if params.Immediate {
			if err := transitionTo(sub, subscription.StatusCancelled); err != nil {
				return nil, err
			}
			// the period never ends before it starts
			sub.CurrentPeriodEnd = now
			if now.Before(prev.CurrentPeriodStart) {
				sub.CurrentPeriodEnd = prev.CurrentPeriodStart
			}
			sub.NextBillingDate = nil
		} else {
			switch {
			case prev.Status.IsTerminal() || prev.Status == subscription.StatusPaused:
				return nil, fmt.Errorf("%w: cannot schedule cancellation of %s subscription %s",
					ErrInvalidTransition, prev.Status, prev.ID)
			case prev.CancelAtPeriodEnd:
				return nil, fmt.Errorf("%w: subscription %s", ErrCancellationScheduled, prev.ID)
			}
			sub.CancelAtPeriodEnd = true
		}
		sub.CancelledAt = &now
		sub.CancellationReason = params.Reason

		return &store.Commit{
			Subscription: sub,
			Change:       newChange(prev, sub, change.TypeCancellation, params.Actor, params.Reason, now),
		}, nil
	})
	return sub, err
}

// CompletePeriodEndCancellation cancels a subscription flagged to end with
// its period once that period is over.
func (e *Engine) CompletePeriodEndCancellation(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	sub, _, err := e.mutate(ctx, subID, func(prev, sub *subscription.Subscription, now time.Time) (*store.Commit, error) {
		if !prev.CancelAtPeriodEnd {
			return nil, fmt.Errorf("%w: subscription %s has no scheduled cancellation", ErrInvalidTransition, prev.ID)
		}
		if !prev.PeriodEnded(now) {
			return nil, fmt.Errorf("%w: period of subscription %s ends at %s",
				ErrInvalidTransition, prev.ID, prev.CurrentPeriodEnd.Format(time.RFC3339))
		}
		if err := transitionTo(sub, subscription.StatusCancelled); err != nil {
			return nil, err
		}
		sub.NextBillingDate = nil
		return &store.Commit{
			Subscription: sub,
			Change:       newChange(prev, sub, change.TypeCancellation, "", prev.CancellationReason, now),
		}, nil
	})
	return sub, err
}

// Reactivate withdraws a scheduled period-end cancellation.
func (e *Engine) Reactivate(ctx context.Context, subID id.SubscriptionID, actor string) (*subscription.Subscription, error) {
	sub, _, err := e.mutate(ctx, subID, func(prev, sub *subscription.Subscription, now time.Time) (*store.Commit, error) {
		if !prev.CancelAtPeriodEnd || prev.Status.IsTerminal() {
			return nil, fmt.Errorf("%w: subscription %s has no scheduled cancellation", ErrInvalidTransition, prev.ID)
		}
		sub.CancelAtPeriodEnd = false
		sub.CancelledAt = nil
		sub.CancellationReason = ""
		return &store.Commit{
			Subscription: sub,
			Change:       newChange(prev, sub, change.TypeReactivation, actor, "cancellation withdrawn", now),
		}, nil
	})
	return sub, err
}

// SetAutoRenew switches renewal on or off. A subscription with auto renew
// off is expired by the sweep once its period ends. The flag is not a
// status change, so no history record is written.
func (e *Engine) SetAutoRenew(ctx context.Context, subID id.SubscriptionID, enabled bool) (*subscription.Subscription, error) {
	sub, _, err := e.mutate(ctx, subID, func(prev, sub *subscription.Subscription, _ time.Time) (*store.Commit, error) {
		if prev.Status.IsTerminal() {
			return nil, fmt.Errorf("%w: subscription %s is %s", ErrSubscriptionInactive, prev.ID, prev.Status)
		}
		if prev.AutoRenew == enabled {
			return nil, nil
		}
		sub.AutoRenew = enabled
		return &store.Commit{Subscription: sub}, nil
	})
	return sub, err
}

// ──────────────────────────────────────────────────
// Pause / resume
// ──────────────────────────────────────────────────

// Pause suspends renewal billing. The current period is kept.
func (e *Engine) Pause(ctx context.Context, subID id.SubscriptionID, actor, reason string) (*subscription.Subscription, error) {
	sub, _, err := e.mutate(ctx, subID, func(prev, sub *subscription.Subscription, now time.Time) (*store.Commit, error) {
		if err := transitionTo(sub, subscription.StatusPaused); err != nil {
			return nil, err
		}
		sub.NextBillingDate = nil
		return &store.Commit{
			Subscription: sub,
			Change:       newChange(prev, sub, change.TypePause, actor, reason, now),
		}, nil
	})
	return sub, err
}

// Resume reactivates a paused subscription without recomputing its period.
func (e *Engine) Resume(ctx context.Context, subID id.SubscriptionID, actor, reason string) (*subscription.Subscription, error) {
	sub, _, err := e.mutate(ctx, subID, func(prev, sub *subscription.Subscription, now time.Time) (*store.Commit, error) {
		if prev.Status != subscription.StatusPaused {
			return nil, fmt.Errorf("%w: subscription %s is %s, not paused", ErrInvalidTransition, prev.ID, prev.Status)
		}
		if err := transitionTo(sub, subscription.StatusActive); err != nil {
			return nil, err
		}
		end := sub.CurrentPeriodEnd
		sub.NextBillingDate = &end
		return &store.Commit{
			Subscription: sub,
			Change:       newChange(prev, sub, change.TypeResume, actor, reason, now),
		}, nil
	})
	return sub, err
}

// ──────────────────────────────────────────────────
// Plan changes
// ──────────────────────────────────────────────────

// ChangePlan rebinds a subscription to another active plan, keeping the
// current period. The move is an upgrade when the new plan is worth more,
// otherwise a downgrade. Any price override is dropped.
func (e *Engine) ChangePlan(ctx context.Context, subID id.SubscriptionID, params ChangePlanParams) (*subscription.Subscription, error) {
	target, err := e.GetPlan(ctx, params.PlanSlug)
	if err != nil {
		return nil, err
	}

	sub, _, err := e.mutate(ctx, subID, func(prev, sub *subscription.Subscription, now time.Time) (*store.Commit, error) {
		switch prev.Status {
		case subscription.StatusTrialing, subscription.StatusActive, subscription.StatusPastDue:
		default:
			return nil, fmt.Errorf("%w: cannot change plan of %s subscription %s", ErrInvalidTransition, prev.Status, prev.ID)
		}
		if prev.PlanID.Equal(target.ID) {
			return nil, fmt.Errorf("%w: subscription %s is already on %q", ErrInvalidTransition, prev.ID, target.Slug)
		}
		if prev.ArtworksCount > target.MaxArtworks {
			return nil, fmt.Errorf("%w: %d artworks exceed the %d allowed by %q",
				ErrArtworkLimitReached, prev.ArtworksCount, target.MaxArtworks, target.Slug)
		}

		current, err := e.store.GetPlan(ctx, prev.PlanID)
		if err != nil {
			return nil, err
		}
		if !target.Price.SameCurrency(current.Price) {
			return nil, Invalid("PlanSlug", "plan %q is billed in %q, subscription in %q",
				target.Slug, target.Price.Currency, current.Price.Currency)
		}

		typ := change.TypeDowngrade
		if plan.CompareValue(target, current) > 0 {
			typ = change.TypeUpgrade
		}

		sub.PlanID = target.ID
		sub.PriceOverride = nil

		rec := newChange(prev, sub, typ, params.Actor, params.Reason, now)
		rec.FromPrice = moneyPtr(prev.EffectivePrice(current))
		rec.ToPrice = moneyPtr(target.Price)
		return &store.Commit{Subscription: sub, Change: rec}, nil
	})
	return sub, err
}

// ──────────────────────────────────────────────────
// Payments
// ──────────────────────────────────────────────────

// RecordPaymentSucceeded settles an invoice. The subscription's payment
// record is updated and a past_due subscription returns to active.
func (e *Engine) RecordPaymentSucceeded(ctx context.Context, number string, evt PaymentSucceeded) (*invoice.Invoice, error) {
	var paid *invoice.Invoice
	_, c, err := e.mutateInvoice(ctx, number, func(prev, sub *subscription.Subscription, inv *invoice.Invoice, now time.Time) (*store.Commit, error) {
		amount := types.New(evt.Amount.Amount, evt.Amount.Currency)
		if amount.Currency == "" {
			if !amount.IsZero() {
				return nil, Invalid("Amount", "payment of %d for invoice %s has no currency", amount.Amount, inv.Number)
			}
			amount = inv.Amount
		}
		if !amount.Equal(inv.Amount) {
			return nil, Invalid("Amount", "payment of %s does not settle invoice %s of %s", amount, inv.Number, inv.Amount)
		}
		if !inv.Status.CanTransition(invoice.StatusPaid) {
			return nil, fmt.Errorf("%w: invoice %s is %s", ErrInvalidTransition, inv.Number, inv.Status)
		}

		paidAt := evt.PaidAt
		if paidAt.IsZero() {
			paidAt = now
		}
		paidAt = paidAt.UTC()

		inv.Status = invoice.StatusPaid
		inv.PaidAt = &paidAt
		inv.PaymentMethod = evt.Method
		inv.TransactionID = evt.TransactionID
		inv.GatewayPaymentID = evt.GatewayPaymentID
		if evt.Response != nil {
			inv.GatewayResponse = evt.Response
		}
		paid = inv

		sub.LastPaymentDate = &paidAt
		sub.LastPaymentAmount = moneyPtr(amount)
		sub.PaymentFailedCount = 0

		c := &store.Commit{Subscription: sub, Invoice: inv}
		if prev.Status == subscription.StatusPastDue {
			if err := transitionTo(sub, subscription.StatusActive); err != nil {
				return nil, err
			}
			c.Change = newChange(prev, sub, change.TypeReactivation, "", "payment received for "+inv.Number, now)
		}
		return c, nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("invoice paid", "invoice_number", number, "subscription_id", c.Subscription.ID.String())
	e.plugins.EmitInvoicePaid(ctx, paid)
	return paid, nil
}

// RecordPaymentFailed marks an invoice failed, counts the failure on the
// subscription and applies the dunning policy.
func (e *Engine) RecordPaymentFailed(ctx context.Context, number string, evt PaymentFailed) (*invoice.Invoice, error) {
	var failed *invoice.Invoice
	_, _, err := e.mutateInvoice(ctx, number, func(prev, sub *subscription.Subscription, inv *invoice.Invoice, now time.Time) (*store.Commit, error) {
		if inv.Status != invoice.StatusFailed && !inv.Status.CanTransition(invoice.StatusFailed) {
			return nil, fmt.Errorf("%w: invoice %s is %s", ErrInvalidTransition, inv.Number, inv.Status)
		}
		inv.Status = invoice.StatusFailed
		if evt.Response != nil {
			inv.GatewayResponse = evt.Response
		}
		if evt.Reason != "" {
			inv.Notes = appendNote(inv.Notes, evt.Reason)
		}
		failed = inv

		sub.PaymentFailedCount++
		c := &store.Commit{Subscription: sub, Invoice: inv}

		switch {
		case e.dunning.PastDueAfter > 0 && sub.PaymentFailedCount >= e.dunning.PastDueAfter &&
			(prev.Status == subscription.StatusActive || prev.Status == subscription.StatusTrialing):
			if err := transitionTo(sub, subscription.StatusPastDue); err != nil {
				return nil, err
			}
			c.Change = newChange(prev, sub, change.TypePastDue, "", evt.Reason, now)
		case e.dunning.ExpireAfter > 0 && sub.PaymentFailedCount >= e.dunning.ExpireAfter &&
			prev.Status == subscription.StatusPastDue:
			if err := transitionTo(sub, subscription.StatusExpired); err != nil {
				return nil, err
			}
			sub.NextBillingDate = nil
			c.Change = newChange(prev, sub, change.TypeExpiration, "", evt.Reason, now)
		}
		return c, nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Warn("payment failed", "invoice_number", number, "reason", evt.Reason)
	e.plugins.EmitInvoiceFailed(ctx, failed, evt.Reason)
	return failed, nil
}

// ──────────────────────────────────────────────────
// Reads
// ──────────────────────────────────────────────────

// GetSubscription fetches a subscription by ID.
func (e *Engine) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	return e.store.GetSubscription(ctx, subID)
}

// GetSubscriptionForArtist returns the artist's open subscription.
func (e *Engine) GetSubscriptionForArtist(ctx context.Context, artistID string) (*subscription.Subscription, error) {
	return e.store.GetOpenSubscription(ctx, artistID)
}

// ListSubscriptions lists subscriptions matching opts.
func (e *Engine) ListSubscriptions(ctx context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	return e.store.ListSubscriptions(ctx, opts)
}

// ListDueSubscriptions returns billable subscriptions whose period ended at
// or before the given instant, oldest period end first.
func (e *Engine) ListDueSubscriptions(ctx context.Context, before time.Time, limit, offset int) ([]*subscription.Subscription, error) {
	return e.store.ListSubscriptions(ctx, subscription.ListOpts{
		Statuses: []subscription.Status{
			subscription.StatusTrialing,
			subscription.StatusActive,
			subscription.StatusPastDue,
		},
		PeriodEndBefore: &before,
		Limit:           limit,
		Offset:          offset,
	})
}

func moneyPtr(m types.Money) *types.Money { return &m }

func appendNote(notes, line string) string {
	if notes == "" {
		return line
	}
	return notes + "\n" + line
}
