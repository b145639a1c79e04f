// Package observability provides a metrics extension for atelier that
// records lifecycle event counts via a MetricFactory.
package observability

import (
	"context"
	"time"

	"github.com/xraph/atelier/change"
	"github.com/xraph/atelier/invoice"
	"github.com/xraph/atelier/plan"
	"github.com/xraph/atelier/plugin"
	"github.com/xraph/atelier/subscription"
	"github.com/xraph/atelier/types"
	"github.com/xraph/atelier/usage"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                = (*MetricsExtension)(nil)
	_ plugin.OnPlanCreated         = (*MetricsExtension)(nil)
	_ plugin.OnPlanUpdated         = (*MetricsExtension)(nil)
	_ plugin.OnPlanDeleted         = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionCreated = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionChanged = (*MetricsExtension)(nil)
	_ plugin.OnInvoiceGenerated    = (*MetricsExtension)(nil)
	_ plugin.OnInvoicePaid         = (*MetricsExtension)(nil)
	_ plugin.OnInvoiceFailed       = (*MetricsExtension)(nil)
	_ plugin.OnInvoiceRefunded     = (*MetricsExtension)(nil)
	_ plugin.OnInvoiceCancelled    = (*MetricsExtension)(nil)
	_ plugin.OnUsageRecorded       = (*MetricsExtension)(nil)
	_ plugin.OnArtworkLimitReached = (*MetricsExtension)(nil)
	_ plugin.OnSweepCompleted      = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as an engine plugin to track billing metrics.
type MetricsExtension struct {
	// Plan metrics
	PlanCreated Counter
	PlanUpdated Counter
	PlanDeleted Counter

	// Subscription metrics
	SubscriptionCreated Counter
	Transitions         map[change.Type]Counter

	// Invoice metrics
	InvoiceGenerated Counter
	InvoicePaid      Counter
	InvoiceFailed    Counter
	InvoiceRefunded  Counter
	InvoiceCancelled Counter
	InvoiceAmount    Histogram
	RefundAmount     Histogram

	// Usage metrics
	UsageRecorded        Counter
	ArtworkLimitRejected Counter

	// Sweep metrics
	SweepRuns     Counter
	SweepFailures Counter
	SweepLatency  Histogram
}

var transitionTypes = []change.Type{
	change.TypeUpgrade,
	change.TypeDowngrade,
	change.TypeRenewal,
	change.TypeCancellation,
	change.TypeReactivation,
	change.TypePause,
	change.TypeResume,
	change.TypePastDue,
	change.TypeExpiration,
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	m := &MetricsExtension{
		PlanCreated: factory.Counter("atelier.plan.created"),
		PlanUpdated: factory.Counter("atelier.plan.updated"),
		PlanDeleted: factory.Counter("atelier.plan.deleted"),

		SubscriptionCreated: factory.Counter("atelier.subscription.created"),
		Transitions:         make(map[change.Type]Counter, len(transitionTypes)),

		InvoiceGenerated: factory.Counter("atelier.invoice.generated"),
		InvoicePaid:      factory.Counter("atelier.invoice.paid"),
		InvoiceFailed:    factory.Counter("atelier.invoice.failed"),
		InvoiceRefunded:  factory.Counter("atelier.invoice.refunded"),
		InvoiceCancelled: factory.Counter("atelier.invoice.cancelled"),
		InvoiceAmount:    factory.Histogram("atelier.invoice.amount_minor"),
		RefundAmount:     factory.Histogram("atelier.invoice.refund_minor"),

		UsageRecorded:        factory.Counter("atelier.usage.recorded"),
		ArtworkLimitRejected: factory.Counter("atelier.usage.artwork_limit_rejected"),

		SweepRuns:     factory.Counter("atelier.sweep.runs"),
		SweepFailures: factory.Counter("atelier.sweep.failures"),
		SweepLatency:  factory.Histogram("atelier.sweep.latency_ms"),
	}
	for _, t := range transitionTypes {
		m.Transitions[t] = factory.Counter("atelier.subscription." + string(t))
	}
	return m
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ──────────────────────────────────────────────────
// Plan catalog hooks
// ──────────────────────────────────────────────────

// OnPlanCreated implements plugin.OnPlanCreated.
func (m *MetricsExtension) OnPlanCreated(_ context.Context, _ *plan.Plan) error {
	m.PlanCreated.Inc()
	return nil
}

// OnPlanUpdated implements plugin.OnPlanUpdated.
func (m *MetricsExtension) OnPlanUpdated(_ context.Context, _, _ *plan.Plan) error {
	m.PlanUpdated.Inc()
	return nil
}

// OnPlanDeleted implements plugin.OnPlanDeleted.
func (m *MetricsExtension) OnPlanDeleted(_ context.Context, _ *plan.Plan) error {
	m.PlanDeleted.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Subscription lifecycle hooks
// ──────────────────────────────────────────────────

// OnSubscriptionCreated implements plugin.OnSubscriptionCreated.
func (m *MetricsExtension) OnSubscriptionCreated(_ context.Context, _ *subscription.Subscription) error {
	m.SubscriptionCreated.Inc()
	return nil
}

// OnSubscriptionChanged implements plugin.OnSubscriptionChanged.
func (m *MetricsExtension) OnSubscriptionChanged(_ context.Context, _ *subscription.Subscription, rec *change.Record) error {
	if c, ok := m.Transitions[rec.Type]; ok {
		c.Inc()
	}
	return nil
}

// ──────────────────────────────────────────────────
// Invoice hooks
// ──────────────────────────────────────────────────

// OnInvoiceGenerated implements plugin.OnInvoiceGenerated.
func (m *MetricsExtension) OnInvoiceGenerated(_ context.Context, inv *invoice.Invoice) error {
	m.InvoiceGenerated.Inc()
	m.InvoiceAmount.Observe(float64(inv.Amount.Amount))
	return nil
}

// OnInvoicePaid implements plugin.OnInvoicePaid.
func (m *MetricsExtension) OnInvoicePaid(_ context.Context, _ *invoice.Invoice) error {
	m.InvoicePaid.Inc()
	return nil
}

// OnInvoiceFailed implements plugin.OnInvoiceFailed.
func (m *MetricsExtension) OnInvoiceFailed(_ context.Context, _ *invoice.Invoice, _ string) error {
	m.InvoiceFailed.Inc()
	return nil
}

// OnInvoiceRefunded implements plugin.OnInvoiceRefunded.
func (m *MetricsExtension) OnInvoiceRefunded(_ context.Context, _ *invoice.Invoice, amount types.Money) error {
	m.InvoiceRefunded.Inc()
	m.RefundAmount.Observe(float64(amount.Amount))
	return nil
}

// OnInvoiceCancelled implements plugin.OnInvoiceCancelled.
func (m *MetricsExtension) OnInvoiceCancelled(_ context.Context, _ *invoice.Invoice, _ string) error {
	m.InvoiceCancelled.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Usage hooks
// ──────────────────────────────────────────────────

// OnUsageRecorded implements plugin.OnUsageRecorded.
func (m *MetricsExtension) OnUsageRecorded(_ context.Context, _ *usage.Record, _ usage.Delta) error {
	m.UsageRecorded.Inc()
	return nil
}

// OnArtworkLimitReached implements plugin.OnArtworkLimitReached.
func (m *MetricsExtension) OnArtworkLimitReached(_ context.Context, _ *subscription.Subscription, _, _ int64) error {
	m.ArtworkLimitRejected.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Sweep hooks
// ──────────────────────────────────────────────────

// OnSweepCompleted implements plugin.OnSweepCompleted.
func (m *MetricsExtension) OnSweepCompleted(_ context.Context, s plugin.SweepSummary) error {
	m.SweepRuns.Inc()
	m.SweepFailures.Add(float64(s.Failed))
	m.SweepLatency.Observe(float64(s.Elapsed / time.Millisecond))
	return nil
}
