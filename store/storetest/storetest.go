// Package storetest is a conformance suite every store.Store backend runs
// from its own tests.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/atelier"
	"github.com/xraph/atelier/change"
	"github.com/xraph/atelier/id"
	"github.com/xraph/atelier/invoice"
	"github.com/xraph/atelier/plan"
	"github.com/xraph/atelier/store"
	"github.com/xraph/atelier/subscription"
	"github.com/xraph/atelier/types"
	"github.com/xraph/atelier/usage"
)

// Factory returns a fresh, migrated, empty store.
type Factory func(t *testing.T) store.Store

var epoch = time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"PlanCRUD", testPlanCRUD},
		{"PlanSlugUnique", testPlanSlugUnique},
		{"PlanListOrder", testPlanListOrder},
		{"PlanDeleteInUse", testPlanDeleteInUse},
		{"PlanDeleteReferencedByHistory", testPlanDeleteReferencedByHistory},
		{"CreateSubscriptionWithInvoice", testCreateSubscriptionWithInvoice},
		{"OneOpenSubscriptionPerArtist", testOneOpenSubscriptionPerArtist},
		{"CommitVersionCheck", testCommitVersionCheck},
		{"CommitIsAtomic", testCommitIsAtomic},
		{"InvoiceUniqueness", testInvoiceUniqueness},
		{"InvoiceUpdate", testInvoiceUpdate},
		{"UsageUpsert", testUsageUpsert},
		{"ChangesNewestFirst", testChangesNewestFirst},
		{"ListDueSubscriptions", testListDueSubscriptions},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

// ──────────────────────────────────────────────────
// Fixtures
// ──────────────────────────────────────────────────

func newPlan(slug string, price int64, order int) *plan.Plan {
	return &plan.Plan{
		Entity:           types.NewEntity(epoch),
		ID:               id.NewPlanID(),
		Slug:             slug,
		Name:             slug,
		Tier:             plan.TierProfessional,
		Price:            types.GBP(price),
		BillingPeriod:    plan.Monthly,
		MaxArtworks:      25,
		CommissionRate:   decimal.NewFromInt(10),
		FeaturedArtworks: 2,
		Features:         types.Attributes{"analytics": types.Bool(true)},
		Active:           true,
		DisplayOrder:     order,
	}
}

func newSubscription(artistID string, p *plan.Plan, status subscription.Status) *subscription.Subscription {
	end := epoch.Add(p.BillingPeriod.Duration())
	return &subscription.Subscription{
		Entity:              types.NewEntity(epoch),
		ID:                  id.NewSubscriptionID(),
		ArtistID:            artistID,
		PlanID:              p.ID,
		Status:              status,
		CurrentPeriodStart:  epoch,
		CurrentPeriodEnd:    end,
		NextBillingDate:     &end,
		AutoRenew:           true,
		TotalSales:          types.GBP(0),
		TotalCommissionPaid: types.GBP(0),
		Metadata:            types.Attributes{"source": types.String("web")},
		Version:             1,
	}
}

func newInvoice(sub *subscription.Subscription, amount int64) *invoice.Invoice {
	return &invoice.Invoice{
		Entity:         types.NewEntity(epoch),
		ID:             id.NewInvoiceID(),
		Number:         invoice.NewNumber(epoch),
		SubscriptionID: sub.ID,
		Status:         invoice.StatusPending,
		Amount:         types.GBP(amount),
		PeriodStart:    sub.CurrentPeriodStart,
		PeriodEnd:      sub.CurrentPeriodEnd,
		DueDate:        sub.CurrentPeriodStart.AddDate(0, 0, 7),
		Description:    "Pro subscription",
		LineItems: []invoice.LineItem{{
			ID:          id.NewLineItemID(),
			Description: "Pro subscription",
			Quantity:    1,
			UnitAmount:  types.GBP(amount),
			Amount:      types.GBP(amount),
			Type:        invoice.LineItemBase,
		}},
		RefundedAmount: types.GBP(0),
		Version:        1,
	}
}

func newChange(sub *subscription.Subscription, typ change.Type, at time.Time) *change.Record {
	return &change.Record{
		ID:             id.NewChangeID(),
		SubscriptionID: sub.ID,
		Type:           typ,
		FromPlanID:     sub.PlanID,
		ToPlanID:       sub.PlanID,
		FromStatus:     sub.Status,
		ToStatus:       sub.Status,
		EffectiveDate:  at,
		CreatedAt:      at,
	}
}

func seedPlan(t *testing.T, s store.Store, slug string) *plan.Plan {
	t.Helper()
	p := newPlan(slug, 1999, 1)
	require.NoError(t, s.CreatePlan(context.Background(), p))
	return p
}

func bump(sub *subscription.Subscription) *subscription.Subscription {
	next := sub.Clone()
	next.Version++
	return next
}

// ──────────────────────────────────────────────────
// Plans
// ──────────────────────────────────────────────────

func testPlanCRUD(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := seedPlan(t, s, "pro")

	got, err := s.GetPlan(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "pro", got.Slug)
	assert.Equal(t, types.GBP(1999), got.Price)
	assert.True(t, got.CommissionRate.Equal(decimal.NewFromInt(10)))
	assert.True(t, got.Features.Bool("analytics"))

	got.Name = "Professional"
	got.Active = false
	require.NoError(t, s.UpdatePlan(ctx, got))

	bySlug, err := s.GetPlanBySlug(ctx, "pro")
	require.NoError(t, err)
	assert.Equal(t, "Professional", bySlug.Name)
	assert.False(t, bySlug.Active)

	require.NoError(t, s.DeletePlan(ctx, p.ID))
	_, err = s.GetPlan(ctx, p.ID)
	assert.ErrorIs(t, err, atelier.ErrPlanNotFound)

	_, err = s.GetPlanBySlug(ctx, "missing")
	assert.ErrorIs(t, err, atelier.ErrPlanNotFound)
	assert.ErrorIs(t, s.UpdatePlan(ctx, newPlan("ghost", 1, 1)), atelier.ErrPlanNotFound)
}

func testPlanSlugUnique(t *testing.T, s store.Store) {
	ctx := context.Background()
	seedPlan(t, s, "pro")
	err := s.CreatePlan(ctx, newPlan("pro", 2999, 2))
	assert.ErrorIs(t, err, atelier.ErrPlanExists)
}

func testPlanListOrder(t *testing.T, s store.Store) {
	ctx := context.Background()
	premium := newPlan("premium", 4999, 2)
	basic := newPlan("basic", 999, 1)
	pro := newPlan("pro", 1999, 1)
	retired := newPlan("legacy", 500, 0)
	retired.Active = false
	for _, p := range []*plan.Plan{premium, basic, pro, retired} {
		require.NoError(t, s.CreatePlan(ctx, p))
	}

	plans, err := s.ListPlans(ctx, plan.ListOpts{})
	require.NoError(t, err)
	require.Len(t, plans, 3)
	assert.Equal(t, []string{"basic", "pro", "premium"}, slugs(plans))

	all, err := s.ListPlans(ctx, plan.ListOpts{IncludeInactive: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"legacy", "basic", "pro", "premium"}, slugs(all))

	paged, err := s.ListPlans(ctx, plan.ListOpts{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"pro"}, slugs(paged))
}

func slugs(plans []*plan.Plan) []string {
	out := make([]string, len(plans))
	for i, p := range plans {
		out[i] = p.Slug
	}
	return out
}

func testPlanDeleteInUse(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := seedPlan(t, s, "pro")
	sub := newSubscription("artist-1", p, subscription.StatusActive)
	require.NoError(t, s.CreateSubscription(ctx, sub, nil))

	n, err := s.CountSubscriptionsForPlan(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.ErrorIs(t, s.DeletePlan(ctx, p.ID), atelier.ErrPlanInUse)
}

func testPlanDeleteReferencedByHistory(t *testing.T, s store.Store) {
	ctx := context.Background()
	basic := seedPlan(t, s, "basic")
	pro := newPlan("pro", 2999, 2)
	require.NoError(t, s.CreatePlan(ctx, pro))
	sub := newSubscription("artist-1", basic, subscription.StatusActive)
	require.NoError(t, s.CreateSubscription(ctx, sub, nil))

	next := bump(sub)
	next.PlanID = pro.ID
	rec := newChange(next, change.TypeUpgrade, epoch.Add(time.Hour))
	rec.FromPlanID = basic.ID
	require.NoError(t, s.Commit(ctx, &store.Commit{Subscription: next, Change: rec}))

	n, err := s.CountSubscriptionsForPlan(ctx, basic.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = s.CountChangesForPlan(ctx, basic.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	assert.ErrorIs(t, s.DeletePlan(ctx, basic.ID), atelier.ErrPlanInUse)
	_, err = s.GetPlan(ctx, basic.ID)
	assert.NoError(t, err)
}

// ──────────────────────────────────────────────────
// Subscriptions
// ──────────────────────────────────────────────────

func testCreateSubscriptionWithInvoice(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := seedPlan(t, s, "pro")
	sub := newSubscription("artist-1", p, subscription.StatusActive)
	inv := newInvoice(sub, 1999)
	require.NoError(t, s.CreateSubscription(ctx, sub, inv))

	got, err := s.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, got.Status)
	assert.Equal(t, "artist-1", got.ArtistID)
	assert.True(t, got.CurrentPeriodEnd.Equal(sub.CurrentPeriodEnd))
	require.NotNil(t, got.NextBillingDate)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, "web", got.Metadata["source"].String())

	open, err := s.GetOpenSubscription(ctx, "artist-1")
	require.NoError(t, err)
	assert.Equal(t, sub.ID.String(), open.ID.String())

	gotInv, err := s.GetInvoice(ctx, inv.Number)
	require.NoError(t, err)
	assert.Equal(t, types.GBP(1999), gotInv.Amount)
	require.Len(t, gotInv.LineItems, 1)
	assert.Equal(t, invoice.LineItemBase, gotInv.LineItems[0].Type)

	_, err = s.GetSubscription(ctx, id.NewSubscriptionID())
	assert.ErrorIs(t, err, atelier.ErrSubscriptionNotFound)
	_, err = s.GetOpenSubscription(ctx, "nobody")
	assert.ErrorIs(t, err, atelier.ErrSubscriptionNotFound)
	_, err = s.GetInvoice(ctx, "INV-202501-0000000000")
	assert.ErrorIs(t, err, atelier.ErrInvoiceNotFound)
}

func testOneOpenSubscriptionPerArtist(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := seedPlan(t, s, "pro")
	first := newSubscription("artist-1", p, subscription.StatusTrialing)
	require.NoError(t, s.CreateSubscription(ctx, first, nil))

	second := newSubscription("artist-1", p, subscription.StatusActive)
	assert.ErrorIs(t, s.CreateSubscription(ctx, second, nil), atelier.ErrSubscriptionExists)

	cancelled := bump(first)
	cancelled.Status = subscription.StatusCancelled
	require.NoError(t, s.Commit(ctx, &store.Commit{
		Subscription: cancelled,
		Change:       newChange(cancelled, change.TypeCancellation, epoch),
	}))

	_, err := s.GetOpenSubscription(ctx, "artist-1")
	assert.ErrorIs(t, err, atelier.ErrSubscriptionNotFound)
	require.NoError(t, s.CreateSubscription(ctx, second, nil))
}

func testCommitVersionCheck(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := seedPlan(t, s, "pro")
	sub := newSubscription("artist-1", p, subscription.StatusActive)
	require.NoError(t, s.CreateSubscription(ctx, sub, nil))

	a := bump(sub)
	a.Status = subscription.StatusPaused
	b := bump(sub)
	b.Status = subscription.StatusCancelled

	require.NoError(t, s.Commit(ctx, &store.Commit{Subscription: a, Change: newChange(a, change.TypePause, epoch)}))
	err := s.Commit(ctx, &store.Commit{Subscription: b, Change: newChange(b, change.TypeCancellation, epoch)})
	assert.ErrorIs(t, err, atelier.ErrConcurrentUpdate)

	got, err := s.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusPaused, got.Status)
	assert.Equal(t, int64(2), got.Version)

	history, err := s.ListChanges(ctx, sub.ID, change.ListOpts{})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, change.TypePause, history[0].Type)

	assert.ErrorIs(t, s.Commit(ctx, &store.Commit{}), store.ErrEmptyCommit)
}

func testCommitIsAtomic(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := seedPlan(t, s, "pro")
	sub := newSubscription("artist-1", p, subscription.StatusActive)
	first := newInvoice(sub, 1999)
	require.NoError(t, s.CreateSubscription(ctx, sub, first))

	renewed := bump(sub)
	renewed.CurrentPeriodStart = sub.CurrentPeriodEnd
	renewed.CurrentPeriodEnd = sub.CurrentPeriodEnd.Add(p.BillingPeriod.Duration())
	dup := newInvoice(renewed, 1999)
	dup.Number = first.Number

	err := s.Commit(ctx, &store.Commit{
		Subscription: renewed,
		Change:       newChange(renewed, change.TypeRenewal, epoch),
		NewInvoice:   dup,
		Usage: &usage.Increment{
			SubscriptionID: sub.ID, Month: epoch, Currency: "gbp",
			Delta: usage.Delta{ArtworksAdded: 1}, At: epoch,
		},
	})
	assert.ErrorIs(t, err, atelier.ErrDuplicateInvoiceNumber)

	got, err := s.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.True(t, got.CurrentPeriodStart.Equal(sub.CurrentPeriodStart))

	history, err := s.ListChanges(ctx, sub.ID, change.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, history)

	_, err = s.GetUsage(ctx, sub.ID, epoch)
	assert.ErrorIs(t, err, atelier.ErrUsageNotFound)
}

// ──────────────────────────────────────────────────
// Invoices
// ──────────────────────────────────────────────────

func testInvoiceUniqueness(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := seedPlan(t, s, "pro")
	sub := newSubscription("artist-1", p, subscription.StatusActive)
	require.NoError(t, s.CreateSubscription(ctx, sub, newInvoice(sub, 1999)))

	// same period, fresh number
	err := s.Commit(ctx, &store.Commit{NewInvoice: newInvoice(sub, 1999)})
	assert.ErrorIs(t, err, atelier.ErrInvoiceExists)

	next := sub.Clone()
	next.CurrentPeriodStart = sub.CurrentPeriodEnd
	next.CurrentPeriodEnd = sub.CurrentPeriodEnd.Add(p.BillingPeriod.Duration())
	require.NoError(t, s.Commit(ctx, &store.Commit{NewInvoice: newInvoice(next, 1999)}))

	invoices, err := s.ListInvoices(ctx, sub.ID, invoice.ListOpts{})
	require.NoError(t, err)
	require.Len(t, invoices, 2)
	assert.True(t, invoices[0].PeriodStart.After(invoices[1].PeriodStart), "newest first")

	pending, err := s.ListInvoices(ctx, sub.ID, invoice.ListOpts{Status: invoice.StatusPaid})
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func testInvoiceUpdate(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := seedPlan(t, s, "pro")
	sub := newSubscription("artist-1", p, subscription.StatusActive)
	inv := newInvoice(sub, 1999)
	require.NoError(t, s.CreateSubscription(ctx, sub, inv))

	paidAt := epoch.Add(time.Hour)
	paid := inv.Clone()
	paid.Version++
	paid.Status = invoice.StatusPaid
	paid.PaidAt = &paidAt
	paid.PaymentMethod = "card"
	paid.TransactionID = "txn_1"
	paid.GatewayResponse = []byte(`{"ok":true}`)
	require.NoError(t, s.Commit(ctx, &store.Commit{Invoice: paid}))

	got, err := s.GetInvoice(ctx, inv.Number)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusPaid, got.Status)
	require.NotNil(t, got.PaidAt)
	assert.True(t, got.PaidAt.Equal(paidAt))
	assert.JSONEq(t, `{"ok":true}`, string(got.GatewayResponse))

	stale := inv.Clone()
	stale.Version++
	stale.Status = invoice.StatusCancelled
	assert.ErrorIs(t, s.Commit(ctx, &store.Commit{Invoice: stale}), atelier.ErrConcurrentUpdate)
}

// ──────────────────────────────────────────────────
// Usage
// ──────────────────────────────────────────────────

func testUsageUpsert(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := seedPlan(t, s, "pro")
	sub := newSubscription("artist-1", p, subscription.StatusActive)
	require.NoError(t, s.CreateSubscription(ctx, sub, nil))

	inc := func(at time.Time, d usage.Delta) *usage.Record {
		rec, err := s.IncrementUsage(ctx, &usage.Increment{
			SubscriptionID: sub.ID, Month: at, Currency: "gbp", Delta: d, At: at,
		})
		require.NoError(t, err)
		return rec
	}

	inc(epoch, usage.Delta{Views: 10, ArtworksAdded: 1})
	rec := inc(epoch.Add(48*time.Hour), usage.Delta{Views: 5, SalesAmount: 10000, CommissionEarned: 1000})
	assert.Equal(t, int64(15), rec.TotalViews)
	assert.Equal(t, int64(1), rec.ArtworksAdded)
	assert.Equal(t, types.GBP(10000), rec.SalesAmount)
	assert.True(t, rec.Month.Equal(usage.Month(epoch)))

	inc(epoch.AddDate(0, 1, 0), usage.Delta{APICalls: 3})

	got, err := s.GetUsage(ctx, sub.ID, epoch)
	require.NoError(t, err)
	assert.Equal(t, int64(15), got.TotalViews)
	assert.Equal(t, types.GBP(1000), got.CommissionEarned)

	all, err := s.ListUsage(ctx, sub.ID, usage.ListOpts{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, int64(3), all[0].APICalls, "newest month first")

	_, err = s.IncrementUsage(ctx, &usage.Increment{SubscriptionID: id.NewSubscriptionID(), Month: epoch, Currency: "gbp", At: epoch})
	assert.ErrorIs(t, err, atelier.ErrSubscriptionNotFound)
}

// ──────────────────────────────────────────────────
// Change history
// ──────────────────────────────────────────────────

func testChangesNewestFirst(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := seedPlan(t, s, "pro")
	sub := newSubscription("artist-1", p, subscription.StatusActive)
	require.NoError(t, s.CreateSubscription(ctx, sub, nil))

	cur := sub
	kinds := []change.Type{change.TypePause, change.TypeResume, change.TypeRenewal}
	for i, typ := range kinds {
		next := bump(cur)
		rec := newChange(next, typ, epoch.Add(time.Duration(i)*time.Hour))
		price := types.GBP(1999)
		rec.ToPrice = &price
		require.NoError(t, s.Commit(ctx, &store.Commit{Subscription: next, Change: rec}))
		cur = next
	}

	history, err := s.ListChanges(ctx, sub.ID, change.ListOpts{})
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, change.TypeRenewal, history[0].Type)
	assert.Equal(t, change.TypePause, history[2].Type)
	require.NotNil(t, history[0].ToPrice)
	assert.Equal(t, types.GBP(1999), *history[0].ToPrice)
	assert.Nil(t, history[0].FromPrice)

	filtered, err := s.ListChanges(ctx, sub.ID, change.ListOpts{Type: change.TypeResume})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
}

func testListDueSubscriptions(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := seedPlan(t, s, "pro")

	late := newSubscription("artist-late", p, subscription.StatusActive)
	late.CurrentPeriodEnd = epoch.Add(-48 * time.Hour)
	early := newSubscription("artist-early", p, subscription.StatusPastDue)
	early.CurrentPeriodEnd = epoch.Add(-72 * time.Hour)
	future := newSubscription("artist-future", p, subscription.StatusActive)
	paused := newSubscription("artist-paused", p, subscription.StatusPaused)
	paused.CurrentPeriodEnd = epoch.Add(-time.Hour)
	for _, sub := range []*subscription.Subscription{late, early, future, paused} {
		require.NoError(t, s.CreateSubscription(ctx, sub, nil))
	}

	due, err := s.ListSubscriptions(ctx, subscription.ListOpts{
		Statuses:        []subscription.Status{subscription.StatusTrialing, subscription.StatusActive, subscription.StatusPastDue},
		PeriodEndBefore: &epoch,
	})
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "artist-early", due[0].ArtistID)
	assert.Equal(t, "artist-late", due[1].ArtistID)

	byArtist, err := s.ListSubscriptions(ctx, subscription.ListOpts{ArtistID: "artist-future"})
	require.NoError(t, err)
	require.Len(t, byArtist, 1)
}
