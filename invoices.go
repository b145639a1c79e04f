package atelier

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/atelier/id"
	"github.com/xraph/atelier/invoice"
	"github.com/xraph/atelier/plan"
	"github.com/xraph/atelier/store"
	"github.com/xraph/atelier/subscription"
	"github.com/xraph/atelier/types"
)

const dateLayout = "2006-01-02"

// periodInvoice issues the pending invoice for sub's current period.
func (e *Engine) periodInvoice(sub *subscription.Subscription, p *plan.Plan, now time.Time) *invoice.Invoice {
	price := sub.EffectivePrice(p)
	desc := fmt.Sprintf("%s subscription %s to %s",
		p.Name, sub.CurrentPeriodStart.Format(dateLayout), sub.CurrentPeriodEnd.Format(dateLayout))
	items := []invoice.LineItem{invoice.NewLineItem(invoice.LineItemBase, desc, 1, price)}
	amount := invoice.Total(price.Currency, items)

	return &invoice.Invoice{
		Entity:         types.NewEntity(now),
		ID:             id.NewInvoiceID(),
		Number:         e.newNumber(now),
		SubscriptionID: sub.ID,
		Status:         invoice.StatusPending,
		Amount:         amount,
		PeriodStart:    sub.CurrentPeriodStart,
		PeriodEnd:      sub.CurrentPeriodEnd,
		DueDate:        sub.CurrentPeriodStart.AddDate(0, 0, e.paymentTermsDays),
		Description:    desc,
		LineItems:      items,
		RefundedAmount: types.Zero(amount.Currency),
		Version:        1,
	}
}

// invoiceMutation is a mutation that also owns a private copy of an
// invoice of the subscription.
type invoiceMutation func(prev, sub *subscription.Subscription, inv *invoice.Invoice, now time.Time) (*store.Commit, error)

// mutateInvoice runs fn under the lock of the invoice's subscription. The
// invoice in the commit gets its version bumped here.
func (e *Engine) mutateInvoice(ctx context.Context, number string, fn invoiceMutation) (*subscription.Subscription, *store.Commit, error) {
	head, err := e.store.GetInvoice(ctx, number)
	if err != nil {
		return nil, nil, err
	}

	return e.mutate(ctx, head.SubscriptionID, func(prev, sub *subscription.Subscription, now time.Time) (*store.Commit, error) {
		// re-read under the lock
		inv, err := e.store.GetInvoice(ctx, number)
		if err != nil {
			return nil, err
		}
		c, err := fn(prev, sub, inv, now)
		if err != nil || c == nil {
			return c, err
		}
		if c.Invoice != nil {
			c.Invoice.Version++
			c.Invoice.Touch(now)
		}
		return c, nil
	})
}

// RefundInvoice refunds part or all of a settled invoice. Refunds
// accumulate; their total can never exceed the invoice amount.
func (e *Engine) RefundInvoice(ctx context.Context, number string, amount types.Money, reason string) (*invoice.Invoice, error) {
	amount = types.New(amount.Amount, amount.Currency)
	if !amount.IsPositive() {
		return nil, Invalid("Amount", "refund must be positive, got %s", amount)
	}

	var refunded *invoice.Invoice
	_, _, err := e.mutateInvoice(ctx, number, func(_, _ *subscription.Subscription, inv *invoice.Invoice, _ time.Time) (*store.Commit, error) {
		if !inv.Status.CanTransition(invoice.StatusRefunded) {
			return nil, fmt.Errorf("%w: invoice %s is %s", ErrInvalidTransition, inv.Number, inv.Status)
		}
		if !amount.SameCurrency(inv.Amount) {
			return nil, Invalid("Amount", "currency %q differs from invoice currency %q", amount.Currency, inv.Amount.Currency)
		}
		if amount.GreaterThan(inv.Refundable()) {
			return nil, fmt.Errorf("%w: %s requested, %s of %s refundable",
				ErrRefundExceedsAmount, amount, inv.Refundable(), inv.Amount)
		}

		inv.Status = invoice.StatusRefunded
		inv.IsRefunded = true
		inv.RefundedAmount = inv.RefundedAmount.Add(amount)
		if reason != "" {
			inv.Notes = appendNote(inv.Notes, "refund: "+reason)
		}
		refunded = inv
		return &store.Commit{Invoice: inv}, nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("invoice refunded",
		"invoice_number", number,
		"amount", amount.String(),
		"refunded_total", refunded.RefundedAmount.String(),
	)
	e.plugins.EmitInvoiceRefunded(ctx, refunded, amount)
	return refunded, nil
}

// CancelInvoice voids an unpaid invoice.
func (e *Engine) CancelInvoice(ctx context.Context, number, reason string) (*invoice.Invoice, error) {
	var cancelled *invoice.Invoice
	_, _, err := e.mutateInvoice(ctx, number, func(_, _ *subscription.Subscription, inv *invoice.Invoice, _ time.Time) (*store.Commit, error) {
		if !inv.Status.CanTransition(invoice.StatusCancelled) {
			return nil, fmt.Errorf("%w: invoice %s is %s", ErrInvalidTransition, inv.Number, inv.Status)
		}
		inv.Status = invoice.StatusCancelled
		if reason != "" {
			inv.Notes = appendNote(inv.Notes, "cancelled: "+reason)
		}
		cancelled = inv
		return &store.Commit{Invoice: inv}, nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("invoice cancelled", "invoice_number", number, "reason", reason)
	e.plugins.EmitInvoiceCancelled(ctx, cancelled, reason)
	return cancelled, nil
}

// GetInvoice fetches an invoice by number.
func (e *Engine) GetInvoice(ctx context.Context, number string) (*invoice.Invoice, error) {
	return e.store.GetInvoice(ctx, number)
}

// ListInvoices lists a subscription's invoices, newest period first.
func (e *Engine) ListInvoices(ctx context.Context, subID id.SubscriptionID, opts invoice.ListOpts) ([]*invoice.Invoice, error) {
	return e.store.ListInvoices(ctx, subID, opts)
}
