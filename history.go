package atelier

import (
	"context"
	"time"

	"github.com/xraph/atelier/change"
	"github.com/xraph/atelier/id"
	"github.com/xraph/atelier/plan"
)

// ──────────────────────────────────────────────────
// Change History Ledger
// ──────────────────────────────────────────────────

// History returns every change record of a subscription, newest first.
func (e *Engine) History(ctx context.Context, subID id.SubscriptionID) ([]*change.Record, error) {
	if _, err := e.store.GetSubscription(ctx, subID); err != nil {
		return nil, err
	}
	return e.store.ListChanges(ctx, subID, change.ListOpts{})
}

// PlanAt reconstructs the plan a subscription was bound to at instant t.
// Instants before the subscription existed report its first plan.
func (e *Engine) PlanAt(ctx context.Context, subID id.SubscriptionID, t time.Time) (*plan.Plan, error) {
	sub, err := e.store.GetSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}
	history, err := e.store.ListChanges(ctx, subID, change.ListOpts{})
	if err != nil {
		return nil, err
	}
	return e.store.GetPlan(ctx, change.PlanAt(history, sub.PlanID, t))
}
