package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/atelier/change"
	"github.com/xraph/atelier/invoice"
	"github.com/xraph/atelier/plan"
	"github.com/xraph/atelier/subscription"
	"github.com/xraph/atelier/types"
	"github.com/xraph/atelier/usage"
)

// DefaultHookTimeout bounds each hook call.
const DefaultHookTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// Hook implementations are discovered once at registration.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	onInit                []OnInit
	onShutdown            []OnShutdown
	onPlanCreated         []OnPlanCreated
	onPlanUpdated         []OnPlanUpdated
	onPlanDeleted         []OnPlanDeleted
	onSubscriptionCreated []OnSubscriptionCreated
	onSubscriptionChanged []OnSubscriptionChanged
	onInvoiceGenerated    []OnInvoiceGenerated
	onInvoicePaid         []OnInvoicePaid
	onInvoiceFailed       []OnInvoiceFailed
	onInvoiceRefunded     []OnInvoiceRefunded
	onInvoiceCancelled    []OnInvoiceCancelled
	onUsageRecorded       []OnUsageRecorded
	onArtworkLimitReached []OnArtworkLimitReached
	onSweepCompleted      []OnSweepCompleted
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultHookTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	var hooks []string

	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
		hooks = append(hooks, "OnInit")
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
		hooks = append(hooks, "OnShutdown")
	}
	if v, ok := p.(OnPlanCreated); ok {
		r.onPlanCreated = append(r.onPlanCreated, v)
		hooks = append(hooks, "OnPlanCreated")
	}
	if v, ok := p.(OnPlanUpdated); ok {
		r.onPlanUpdated = append(r.onPlanUpdated, v)
		hooks = append(hooks, "OnPlanUpdated")
	}
	if v, ok := p.(OnPlanDeleted); ok {
		r.onPlanDeleted = append(r.onPlanDeleted, v)
		hooks = append(hooks, "OnPlanDeleted")
	}
	if v, ok := p.(OnSubscriptionCreated); ok {
		r.onSubscriptionCreated = append(r.onSubscriptionCreated, v)
		hooks = append(hooks, "OnSubscriptionCreated")
	}
	if v, ok := p.(OnSubscriptionChanged); ok {
		r.onSubscriptionChanged = append(r.onSubscriptionChanged, v)
		hooks = append(hooks, "OnSubscriptionChanged")
	}
	if v, ok := p.(OnInvoiceGenerated); ok {
		r.onInvoiceGenerated = append(r.onInvoiceGenerated, v)
		hooks = append(hooks, "OnInvoiceGenerated")
	}
	if v, ok := p.(OnInvoicePaid); ok {
		r.onInvoicePaid = append(r.onInvoicePaid, v)
		hooks = append(hooks, "OnInvoicePaid")
	}
	if v, ok := p.(OnInvoiceFailed); ok {
		r.onInvoiceFailed = append(r.onInvoiceFailed, v)
		hooks = append(hooks, "OnInvoiceFailed")
	}
	if v, ok := p.(OnInvoiceRefunded); ok {
		r.onInvoiceRefunded = append(r.onInvoiceRefunded, v)
		hooks = append(hooks, "OnInvoiceRefunded")
	}
	if v, ok := p.(OnInvoiceCancelled); ok {
		r.onInvoiceCancelled = append(r.onInvoiceCancelled, v)
		hooks = append(hooks, "OnInvoiceCancelled")
	}
	if v, ok := p.(OnUsageRecorded); ok {
		r.onUsageRecorded = append(r.onUsageRecorded, v)
		hooks = append(hooks, "OnUsageRecorded")
	}
	if v, ok := p.(OnArtworkLimitReached); ok {
		r.onArtworkLimitReached = append(r.onArtworkLimitReached, v)
		hooks = append(hooks, "OnArtworkLimitReached")
	}
	if v, ok := p.(OnSweepCompleted); ok {
		r.onSweepCompleted = append(r.onSweepCompleted, v)
		hooks = append(hooks, "OnSweepCompleted")
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", hooks,
	)

	return nil
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// emit runs fn for every hook in list, logging failures.
func emit[T Plugin](ctx context.Context, r *Registry, list func(*Registry) []T, hook string, fn func(T) error) {
	r.mu.RLock()
	plugins := list(r)
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error { return fn(p) }); err != nil {
			r.logger.Warn("plugin "+hook+" failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine any) {
	emit(ctx, r, func(r *Registry) []OnInit { return r.onInit }, "OnInit",
		func(p OnInit) error { return p.OnInit(ctx, engine) })
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(ctx, r, func(r *Registry) []OnShutdown { return r.onShutdown }, "OnShutdown",
		func(p OnShutdown) error { return p.OnShutdown(ctx) })
}

// EmitPlanCreated emits a plan created event.
func (r *Registry) EmitPlanCreated(ctx context.Context, p *plan.Plan) {
	emit(ctx, r, func(r *Registry) []OnPlanCreated { return r.onPlanCreated }, "OnPlanCreated",
		func(h OnPlanCreated) error { return h.OnPlanCreated(ctx, p) })
}

// EmitPlanUpdated emits a plan updated event.
func (r *Registry) EmitPlanUpdated(ctx context.Context, oldPlan, newPlan *plan.Plan) {
	emit(ctx, r, func(r *Registry) []OnPlanUpdated { return r.onPlanUpdated }, "OnPlanUpdated",
		func(h OnPlanUpdated) error { return h.OnPlanUpdated(ctx, oldPlan, newPlan) })
}

// EmitPlanDeleted emits a plan deleted event.
func (r *Registry) EmitPlanDeleted(ctx context.Context, p *plan.Plan) {
	emit(ctx, r, func(r *Registry) []OnPlanDeleted { return r.onPlanDeleted }, "OnPlanDeleted",
		func(h OnPlanDeleted) error { return h.OnPlanDeleted(ctx, p) })
}

// EmitSubscriptionCreated emits a subscription created event.
func (r *Registry) EmitSubscriptionCreated(ctx context.Context, sub *subscription.Subscription) {
	emit(ctx, r, func(r *Registry) []OnSubscriptionCreated { return r.onSubscriptionCreated }, "OnSubscriptionCreated",
		func(h OnSubscriptionCreated) error { return h.OnSubscriptionCreated(ctx, sub) })
}

// EmitSubscriptionChanged emits a committed transition.
func (r *Registry) EmitSubscriptionChanged(ctx context.Context, sub *subscription.Subscription, rec *change.Record) {
	emit(ctx, r, func(r *Registry) []OnSubscriptionChanged { return r.onSubscriptionChanged }, "OnSubscriptionChanged",
		func(h OnSubscriptionChanged) error { return h.OnSubscriptionChanged(ctx, sub, rec) })
}

// EmitInvoiceGenerated emits an invoice generated event.
func (r *Registry) EmitInvoiceGenerated(ctx context.Context, inv *invoice.Invoice) {
	emit(ctx, r, func(r *Registry) []OnInvoiceGenerated { return r.onInvoiceGenerated }, "OnInvoiceGenerated",
		func(h OnInvoiceGenerated) error { return h.OnInvoiceGenerated(ctx, inv) })
}

// EmitInvoicePaid emits an invoice paid event.
func (r *Registry) EmitInvoicePaid(ctx context.Context, inv *invoice.Invoice) {
	emit(ctx, r, func(r *Registry) []OnInvoicePaid { return r.onInvoicePaid }, "OnInvoicePaid",
		func(h OnInvoicePaid) error { return h.OnInvoicePaid(ctx, inv) })
}

// EmitInvoiceFailed emits an invoice payment failure.
func (r *Registry) EmitInvoiceFailed(ctx context.Context, inv *invoice.Invoice, reason string) {
	emit(ctx, r, func(r *Registry) []OnInvoiceFailed { return r.onInvoiceFailed }, "OnInvoiceFailed",
		func(h OnInvoiceFailed) error { return h.OnInvoiceFailed(ctx, inv, reason) })
}

// EmitInvoiceRefunded emits a refund.
func (r *Registry) EmitInvoiceRefunded(ctx context.Context, inv *invoice.Invoice, amount types.Money) {
	emit(ctx, r, func(r *Registry) []OnInvoiceRefunded { return r.onInvoiceRefunded }, "OnInvoiceRefunded",
		func(h OnInvoiceRefunded) error { return h.OnInvoiceRefunded(ctx, inv, amount) })
}

// EmitInvoiceCancelled emits an invoice cancellation.
func (r *Registry) EmitInvoiceCancelled(ctx context.Context, inv *invoice.Invoice, reason string) {
	emit(ctx, r, func(r *Registry) []OnInvoiceCancelled { return r.onInvoiceCancelled }, "OnInvoiceCancelled",
		func(h OnInvoiceCancelled) error { return h.OnInvoiceCancelled(ctx, inv, reason) })
}

// EmitUsageRecorded emits a usage increment.
func (r *Registry) EmitUsageRecorded(ctx context.Context, rec *usage.Record, delta usage.Delta) {
	emit(ctx, r, func(r *Registry) []OnUsageRecorded { return r.onUsageRecorded }, "OnUsageRecorded",
		func(h OnUsageRecorded) error { return h.OnUsageRecorded(ctx, rec, delta) })
}

// EmitArtworkLimitReached emits a refused artwork addition.
func (r *Registry) EmitArtworkLimitReached(ctx context.Context, sub *subscription.Subscription, used, limit int64) {
	emit(ctx, r, func(r *Registry) []OnArtworkLimitReached { return r.onArtworkLimitReached }, "OnArtworkLimitReached",
		func(h OnArtworkLimitReached) error { return h.OnArtworkLimitReached(ctx, sub, used, limit) })
}

// EmitSweepCompleted emits a finished sweep.
func (r *Registry) EmitSweepCompleted(ctx context.Context, summary SweepSummary) {
	emit(ctx, r, func(r *Registry) []OnSweepCompleted { return r.onSweepCompleted }, "OnSweepCompleted",
		func(h OnSweepCompleted) error { return h.OnSweepCompleted(ctx, summary) })
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the billing pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
