// Package audithook bridges atelier lifecycle events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not depend on
// any particular audit store. Callers inject a RecorderFunc adapter at
// wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/atelier/change"
	"github.com/xraph/atelier/invoice"
	"github.com/xraph/atelier/plan"
	"github.com/xraph/atelier/plugin"
	"github.com/xraph/atelier/subscription"
	"github.com/xraph/atelier/types"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                = (*Extension)(nil)
	_ plugin.OnPlanCreated         = (*Extension)(nil)
	_ plugin.OnPlanUpdated         = (*Extension)(nil)
	_ plugin.OnPlanDeleted         = (*Extension)(nil)
	_ plugin.OnSubscriptionCreated = (*Extension)(nil)
	_ plugin.OnSubscriptionChanged = (*Extension)(nil)
	_ plugin.OnInvoiceGenerated    = (*Extension)(nil)
	_ plugin.OnInvoicePaid         = (*Extension)(nil)
	_ plugin.OnInvoiceFailed       = (*Extension)(nil)
	_ plugin.OnInvoiceRefunded     = (*Extension)(nil)
	_ plugin.OnInvoiceCancelled    = (*Extension)(nil)
	_ plugin.OnArtworkLimitReached = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a backend-neutral audit event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Actor      string         `json:"actor,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges atelier lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// changeActions maps change record types to audit actions.
var changeActions = map[change.Type]string{
	change.TypeUpgrade:      ActionSubscriptionUpgraded,
	change.TypeDowngrade:    ActionSubscriptionDowngraded,
	change.TypeRenewal:      ActionSubscriptionRenewed,
	change.TypeCancellation: ActionSubscriptionCancelled,
	change.TypeReactivation: ActionSubscriptionReactivated,
	change.TypePause:        ActionSubscriptionPaused,
	change.TypeResume:       ActionSubscriptionResumed,
	change.TypePastDue:      ActionSubscriptionPastDue,
	change.TypeExpiration:   ActionSubscriptionExpired,
}

// ──────────────────────────────────────────────────
// Plan catalog hooks
// ──────────────────────────────────────────────────

// OnPlanCreated implements plugin.OnPlanCreated.
func (e *Extension) OnPlanCreated(ctx context.Context, p *plan.Plan) error {
	return e.record(ctx, entry{
		action: ActionPlanCreated, resource: ResourcePlan, resourceID: p.ID.String(),
		category: CategoryCatalog,
	}, "slug", p.Slug, "price", p.Price.String())
}

// OnPlanUpdated implements plugin.OnPlanUpdated.
func (e *Extension) OnPlanUpdated(ctx context.Context, oldPlan, newPlan *plan.Plan) error {
	return e.record(ctx, entry{
		action: ActionPlanUpdated, resource: ResourcePlan, resourceID: newPlan.ID.String(),
		category: CategoryCatalog,
	},
		"slug", newPlan.Slug,
		"old_price", oldPlan.Price.String(),
		"new_price", newPlan.Price.String(),
		"active", newPlan.Active,
	)
}

// OnPlanDeleted implements plugin.OnPlanDeleted.
func (e *Extension) OnPlanDeleted(ctx context.Context, p *plan.Plan) error {
	return e.record(ctx, entry{
		action: ActionPlanDeleted, resource: ResourcePlan, resourceID: p.ID.String(),
		category: CategoryCatalog, severity: SeverityWarning,
	}, "slug", p.Slug)
}

// ──────────────────────────────────────────────────
// Subscription lifecycle hooks
// ──────────────────────────────────────────────────

// OnSubscriptionCreated implements plugin.OnSubscriptionCreated.
func (e *Extension) OnSubscriptionCreated(ctx context.Context, sub *subscription.Subscription) error {
	return e.record(ctx, entry{
		action: ActionSubscriptionCreated, resource: ResourceSubscription, resourceID: sub.ID.String(),
		category: CategorySubscription,
	},
		"artist_id", sub.ArtistID,
		"plan_id", sub.PlanID.String(),
		"status", string(sub.Status),
	)
}

// OnSubscriptionChanged implements plugin.OnSubscriptionChanged.
func (e *Extension) OnSubscriptionChanged(ctx context.Context, sub *subscription.Subscription, rec *change.Record) error {
	action, ok := changeActions[rec.Type]
	if !ok {
		action = "subscription." + string(rec.Type)
	}

	severity := SeverityInfo
	if rec.Type == change.TypePastDue || rec.Type == change.TypeExpiration {
		severity = SeverityWarning
	}

	return e.record(ctx, entry{
		action: action, resource: ResourceSubscription, resourceID: sub.ID.String(),
		category: CategorySubscription, severity: severity,
		actor: rec.Actor, reason: rec.Reason,
	},
		"change_id", rec.ID.String(),
		"from_status", string(rec.FromStatus),
		"to_status", string(rec.ToStatus),
		"from_plan_id", rec.FromPlanID.String(),
		"to_plan_id", rec.ToPlanID.String(),
		"effective_date", rec.EffectiveDate,
	)
}

// OnArtworkLimitReached implements plugin.OnArtworkLimitReached.
func (e *Extension) OnArtworkLimitReached(ctx context.Context, sub *subscription.Subscription, used, limit int64) error {
	return e.record(ctx, entry{
		action: ActionArtworkLimitReached, resource: ResourceSubscription, resourceID: sub.ID.String(),
		category: CategoryUsage, severity: SeverityWarning, outcome: OutcomeFailure,
	}, "used", used, "limit", limit)
}

// ──────────────────────────────────────────────────
// Invoice hooks
// ──────────────────────────────────────────────────

// OnInvoiceGenerated implements plugin.OnInvoiceGenerated.
func (e *Extension) OnInvoiceGenerated(ctx context.Context, inv *invoice.Invoice) error {
	return e.record(ctx, invoiceEntry(ActionInvoiceGenerated, inv),
		"subscription_id", inv.SubscriptionID.String(),
		"amount", inv.Amount.String(),
		"period_start", inv.PeriodStart,
		"period_end", inv.PeriodEnd,
	)
}

// OnInvoicePaid implements plugin.OnInvoicePaid.
func (e *Extension) OnInvoicePaid(ctx context.Context, inv *invoice.Invoice) error {
	return e.record(ctx, invoiceEntry(ActionInvoicePaid, inv),
		"amount", inv.Amount.String(),
		"transaction_id", inv.TransactionID,
		"payment_method", inv.PaymentMethod,
	)
}

// OnInvoiceFailed implements plugin.OnInvoiceFailed.
func (e *Extension) OnInvoiceFailed(ctx context.Context, inv *invoice.Invoice, reason string) error {
	en := invoiceEntry(ActionInvoiceFailed, inv)
	en.severity, en.outcome, en.reason = SeverityCritical, OutcomeFailure, reason
	return e.record(ctx, en, "amount", inv.Amount.String())
}

// OnInvoiceRefunded implements plugin.OnInvoiceRefunded.
func (e *Extension) OnInvoiceRefunded(ctx context.Context, inv *invoice.Invoice, amount types.Money) error {
	en := invoiceEntry(ActionInvoiceRefunded, inv)
	en.severity = SeverityWarning
	return e.record(ctx, en,
		"refund", amount.String(),
		"refunded_total", inv.RefundedAmount.String(),
	)
}

// OnInvoiceCancelled implements plugin.OnInvoiceCancelled.
func (e *Extension) OnInvoiceCancelled(ctx context.Context, inv *invoice.Invoice, reason string) error {
	en := invoiceEntry(ActionInvoiceCancelled, inv)
	en.reason = reason
	return e.record(ctx, en)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

type entry struct {
	action, resource, resourceID, category string
	severity, outcome, actor, reason       string
}

func invoiceEntry(action string, inv *invoice.Invoice) entry {
	return entry{action: action, resource: ResourceInvoice, resourceID: inv.Number, category: CategoryPayment}
}

// record builds and sends an audit event if the action is enabled.
// Recorder failures are logged, never returned.
func (e *Extension) record(ctx context.Context, en entry, kvPairs ...any) error {
	if e.enabled != nil && !e.enabled[en.action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	if en.severity == "" {
		en.severity = SeverityInfo
	}
	if en.outcome == "" {
		en.outcome = OutcomeSuccess
	}

	evt := &AuditEvent{
		Action:     en.action,
		Resource:   en.resource,
		Category:   en.category,
		ResourceID: en.resourceID,
		Actor:      en.actor,
		Metadata:   meta,
		Outcome:    en.outcome,
		Severity:   en.severity,
		Reason:     en.reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", en.action,
			"resource_id", en.resourceID,
			"error", recErr,
		)
	}
	return nil
}
