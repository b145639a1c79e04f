package atelier_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/atelier"
	"github.com/xraph/atelier/change"
	"github.com/xraph/atelier/invoice"
	"github.com/xraph/atelier/subscription"
	"github.com/xraph/atelier/types"
)

func firstInvoice(t *testing.T, h *harness, sub *subscription.Subscription) *invoice.Invoice {
	t.Helper()
	invoices, err := h.engine.ListInvoices(context.Background(), sub.ID, invoice.ListOpts{})
	require.NoError(t, err)
	require.NotEmpty(t, invoices)
	return invoices[0]
}

func TestPaymentSucceeded(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.plan(t, "pro", 2000, 0, 5)
	sub := h.subscribe(t, "artist-1", "pro")
	inv := firstInvoice(t, h, sub)

	paidAt := start.Add(time.Hour)
	paid, err := h.engine.RecordPaymentSucceeded(ctx, inv.Number, atelier.PaymentSucceeded{
		PaidAt:        paidAt,
		Method:        "card",
		TransactionID: "txn_123",
		Response:      json.RawMessage(`{"status":"PAID"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusPaid, paid.Status)
	require.NotNil(t, paid.PaidAt)
	assert.Equal(t, paidAt, *paid.PaidAt)
	assert.Equal(t, "txn_123", paid.TransactionID)

	got, err := h.engine.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastPaymentDate)
	assert.Equal(t, paidAt, *got.LastPaymentDate)
	assert.Equal(t, types.GBP(2000), *got.LastPaymentAmount)

	_, err = h.engine.RecordPaymentSucceeded(ctx, inv.Number, atelier.PaymentSucceeded{})
	assert.ErrorIs(t, err, atelier.ErrInvalidTransition, "already paid")

	_, err = h.engine.RecordPaymentSucceeded(ctx, "INV-202501-AAAAAAAAAA", atelier.PaymentSucceeded{})
	assert.ErrorIs(t, err, atelier.ErrInvoiceNotFound)
}

func TestPaymentAmountMismatch(t *testing.T) {
	h := newHarness(t)
	h.plan(t, "pro", 2000, 0, 5)
	sub := h.subscribe(t, "artist-1", "pro")
	inv := firstInvoice(t, h, sub)

	_, err := h.engine.RecordPaymentSucceeded(context.Background(), inv.Number, atelier.PaymentSucceeded{Amount: types.GBP(1500)})
	assert.True(t, atelier.IsValidation(err))
}

func TestPaymentAmountWithoutCurrency(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.plan(t, "pro", 2000, 0, 5)
	sub := h.subscribe(t, "artist-1", "pro")
	inv := firstInvoice(t, h, sub)

	_, err := h.engine.RecordPaymentSucceeded(ctx, inv.Number, atelier.PaymentSucceeded{Amount: types.Money{Amount: 2000}})
	assert.True(t, atelier.IsValidation(err))

	got, err := h.engine.GetInvoice(ctx, inv.Number)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusPending, got.Status)
}

func TestDunning(t *testing.T) {
	h := newHarness(t, atelier.WithDunningPolicy(atelier.DunningPolicy{PastDueAfter: 2, ExpireAfter: 3}))
	ctx := context.Background()
	h.plan(t, "pro", 2000, 0, 5)
	sub := h.subscribe(t, "artist-1", "pro")
	inv := firstInvoice(t, h, sub)

	fail := func() *subscription.Subscription {
		t.Helper()
		_, err := h.engine.RecordPaymentFailed(ctx, inv.Number, atelier.PaymentFailed{Reason: "card declined"})
		require.NoError(t, err)
		got, err := h.engine.GetSubscription(ctx, sub.ID)
		require.NoError(t, err)
		return got
	}

	got := fail()
	assert.Equal(t, subscription.StatusActive, got.Status)
	assert.Equal(t, 1, got.PaymentFailedCount)

	got = fail()
	assert.Equal(t, subscription.StatusPastDue, got.Status)

	got = fail()
	assert.Equal(t, subscription.StatusExpired, got.Status)
	assert.Equal(t, 3, got.PaymentFailedCount)

	history, err := h.engine.History(ctx, sub.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, change.TypeExpiration, history[0].Type)
	assert.Equal(t, change.TypePastDue, history[1].Type)

	failed, err := h.engine.GetInvoice(ctx, inv.Number)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusFailed, failed.Status)
	assert.Contains(t, failed.Notes, "card declined")
}

func TestDunningDisabled(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.plan(t, "pro", 2000, 0, 5)
	sub := h.subscribe(t, "artist-1", "pro")
	inv := firstInvoice(t, h, sub)

	for range 5 {
		_, err := h.engine.RecordPaymentFailed(ctx, inv.Number, atelier.PaymentFailed{})
		require.NoError(t, err)
	}
	got, err := h.engine.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, got.Status)
	assert.Equal(t, 5, got.PaymentFailedCount)
}

func TestPaymentRecoversPastDue(t *testing.T) {
	h := newHarness(t, atelier.WithDunningPolicy(atelier.DunningPolicy{PastDueAfter: 1}))
	ctx := context.Background()
	h.plan(t, "pro", 2000, 0, 5)
	sub := h.subscribe(t, "artist-1", "pro")
	inv := firstInvoice(t, h, sub)

	_, err := h.engine.RecordPaymentFailed(ctx, inv.Number, atelier.PaymentFailed{Reason: "insufficient funds"})
	require.NoError(t, err)

	_, err = h.engine.RecordPaymentSucceeded(ctx, inv.Number, atelier.PaymentSucceeded{Amount: types.New(2000, "GBP")})
	require.NoError(t, err)

	got, err := h.engine.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, got.Status)
	assert.Zero(t, got.PaymentFailedCount)

	history, err := h.engine.History(ctx, sub.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, change.TypeReactivation, history[0].Type)
	assert.Equal(t, subscription.StatusPastDue, history[0].FromStatus)
}

func TestRefunds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.plan(t, "pro", 2000, 0, 5)
	sub := h.subscribe(t, "artist-1", "pro")
	inv := firstInvoice(t, h, sub)

	_, err := h.engine.RefundInvoice(ctx, inv.Number, types.GBP(500), "")
	assert.ErrorIs(t, err, atelier.ErrInvalidTransition, "pending invoices cannot be refunded")

	_, err = h.engine.RecordPaymentSucceeded(ctx, inv.Number, atelier.PaymentSucceeded{})
	require.NoError(t, err)

	first, err := h.engine.RefundInvoice(ctx, inv.Number, types.GBP(500), "damaged print")
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusRefunded, first.Status)
	assert.True(t, first.IsRefunded)
	assert.Equal(t, types.GBP(500), first.RefundedAmount)
	assert.NotNil(t, first.PaidAt, "paid_at survives a refund")

	second, err := h.engine.RefundInvoice(ctx, inv.Number, types.GBP(1500), "")
	require.NoError(t, err)
	assert.Equal(t, types.GBP(2000), second.RefundedAmount)

	_, err = h.engine.RefundInvoice(ctx, inv.Number, types.GBP(1), "")
	assert.ErrorIs(t, err, atelier.ErrRefundExceedsAmount)
	assert.True(t, atelier.IsValidation(err))
	assert.True(t, atelier.IsInvalidTransition(err))

	_, err = h.engine.RefundInvoice(ctx, inv.Number, types.GBP(0), "")
	assert.True(t, atelier.IsValidation(err))
}

func TestRefundMoreThanAmount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.plan(t, "pro", 2000, 0, 5)
	sub := h.subscribe(t, "artist-1", "pro")
	inv := firstInvoice(t, h, sub)
	_, err := h.engine.RecordPaymentSucceeded(ctx, inv.Number, atelier.PaymentSucceeded{})
	require.NoError(t, err)

	_, err = h.engine.RefundInvoice(ctx, inv.Number, types.GBP(2001), "")
	assert.ErrorIs(t, err, atelier.ErrRefundExceedsAmount)

	_, err = h.engine.RefundInvoice(ctx, inv.Number, types.EUR(100), "")
	assert.True(t, atelier.IsValidation(err))

	got, err := h.engine.GetInvoice(ctx, inv.Number)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusPaid, got.Status)
	assert.True(t, got.RefundedAmount.IsZero())
}

func TestCancelInvoice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.plan(t, "pro", 2000, 0, 5)
	sub := h.subscribe(t, "artist-1", "pro")
	inv := firstInvoice(t, h, sub)

	got, err := h.engine.CancelInvoice(ctx, inv.Number, "waived")
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusCancelled, got.Status)

	_, err = h.engine.CancelInvoice(ctx, inv.Number, "")
	assert.ErrorIs(t, err, atelier.ErrInvalidTransition)
	_, err = h.engine.RecordPaymentSucceeded(ctx, inv.Number, atelier.PaymentSucceeded{})
	assert.ErrorIs(t, err, atelier.ErrInvalidTransition)
}

func TestInvoiceNumberRetry(t *testing.T) {
	calls := 0
	gen := func(now time.Time) string {
		calls++
		if calls <= 3 {
			return "INV-202503-AAAAAAAAAA"
		}
		return invoice.NewNumber(now)
	}
	h := newHarness(t, atelier.WithInvoiceNumberGenerator(gen))
	h.plan(t, "pro", 2000, 0, 5)

	h.subscribe(t, "artist-1", "pro")
	second := h.subscribe(t, "artist-2", "pro")

	inv := firstInvoice(t, h, second)
	assert.NotEqual(t, "INV-202503-AAAAAAAAAA", inv.Number)
	assert.Equal(t, 4, calls)
}

func TestInvoiceNumberExhaustion(t *testing.T) {
	gen := func(time.Time) string { return "INV-202503-BBBBBBBBBB" }
	h := newHarness(t, atelier.WithInvoiceNumberGenerator(gen))
	h.plan(t, "pro", 2000, 0, 5)
	h.subscribe(t, "artist-1", "pro")

	_, err := h.engine.Subscribe(context.Background(), atelier.SubscribeParams{ArtistID: "artist-2", PlanSlug: "pro"})
	assert.ErrorIs(t, err, atelier.ErrInvoiceNumberConflict)
	assert.True(t, atelier.IsConflict(err))
	assert.True(t, atelier.IsRetryable(err))

	_, err = h.engine.GetSubscriptionForArtist(context.Background(), "artist-2")
	assert.ErrorIs(t, err, atelier.ErrSubscriptionNotFound, "nothing written")
}

func TestPaymentTerms(t *testing.T) {
	h := newHarness(t, atelier.WithPaymentTermsDays(14))
	h.plan(t, "pro", 2000, 0, 5)
	sub := h.subscribe(t, "artist-1", "pro")

	inv := firstInvoice(t, h, sub)
	assert.Equal(t, start.Add(days(14)), inv.DueDate)
}
