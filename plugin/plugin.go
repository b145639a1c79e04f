// Package plugin provides an extensible plugin system for atelier.
// Plugins hook into lifecycle events after the corresponding write has
// been committed; a failing hook never rolls anything back.
package plugin

import (
	"context"
	"time"

	"github.com/xraph/atelier/change"
	"github.com/xraph/atelier/invoice"
	"github.com/xraph/atelier/plan"
	"github.com/xraph/atelier/subscription"
	"github.com/xraph/atelier/types"
	"github.com/xraph/atelier/usage"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the engine starts.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine any) error
}

// OnShutdown is called when the engine stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Plan catalog hooks
// ──────────────────────────────────────────────────

// OnPlanCreated is called when a new plan is created.
type OnPlanCreated interface {
	Plugin
	OnPlanCreated(ctx context.Context, p *plan.Plan) error
}

// OnPlanUpdated is called when a plan is replaced or deactivated.
type OnPlanUpdated interface {
	Plugin
	OnPlanUpdated(ctx context.Context, oldPlan, newPlan *plan.Plan) error
}

// OnPlanDeleted is called when an unused plan is deleted.
type OnPlanDeleted interface {
	Plugin
	OnPlanDeleted(ctx context.Context, p *plan.Plan) error
}

// ──────────────────────────────────────────────────
// Subscription lifecycle hooks
// ──────────────────────────────────────────────────

// OnSubscriptionCreated is called when an artist subscribes.
type OnSubscriptionCreated interface {
	Plugin
	OnSubscriptionCreated(ctx context.Context, sub *subscription.Subscription) error
}

// OnSubscriptionChanged is called for every committed transition together
// with the change record written alongside it.
type OnSubscriptionChanged interface {
	Plugin
	OnSubscriptionChanged(ctx context.Context, sub *subscription.Subscription, rec *change.Record) error
}

// ──────────────────────────────────────────────────
// Invoice hooks
// ──────────────────────────────────────────────────

// OnInvoiceGenerated is called when a period invoice is issued.
type OnInvoiceGenerated interface {
	Plugin
	OnInvoiceGenerated(ctx context.Context, inv *invoice.Invoice) error
}

// OnInvoicePaid is called when a payment succeeds.
type OnInvoicePaid interface {
	Plugin
	OnInvoicePaid(ctx context.Context, inv *invoice.Invoice) error
}

// OnInvoiceFailed is called when a payment attempt fails.
type OnInvoiceFailed interface {
	Plugin
	OnInvoiceFailed(ctx context.Context, inv *invoice.Invoice, reason string) error
}

// OnInvoiceRefunded is called after a (partial) refund.
type OnInvoiceRefunded interface {
	Plugin
	OnInvoiceRefunded(ctx context.Context, inv *invoice.Invoice, amount types.Money) error
}

// OnInvoiceCancelled is called when an unpaid invoice is cancelled.
type OnInvoiceCancelled interface {
	Plugin
	OnInvoiceCancelled(ctx context.Context, inv *invoice.Invoice, reason string) error
}

// ──────────────────────────────────────────────────
// Usage hooks
// ──────────────────────────────────────────────────

// OnUsageRecorded is called after usage counters are incremented.
type OnUsageRecorded interface {
	Plugin
	OnUsageRecorded(ctx context.Context, rec *usage.Record, delta usage.Delta) error
}

// OnArtworkLimitReached is called when adding an artwork is refused.
type OnArtworkLimitReached interface {
	Plugin
	OnArtworkLimitReached(ctx context.Context, sub *subscription.Subscription, used, limit int64) error
}

// ──────────────────────────────────────────────────
// Sweep hooks
// ──────────────────────────────────────────────────

// SweepSummary describes one completed billing sweep.
type SweepSummary struct {
	Renewed   int
	Cancelled int
	Expired   int
	Failed    int
	Elapsed   time.Duration
}

// OnSweepCompleted is called when a billing sweep finishes.
type OnSweepCompleted interface {
	Plugin
	OnSweepCompleted(ctx context.Context, summary SweepSummary) error
}
