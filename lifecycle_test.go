package atelier_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/atelier"
	"github.com/xraph/atelier/change"
	"github.com/xraph/atelier/id"
	"github.com/xraph/atelier/invoice"
	"github.com/xraph/atelier/store"
	"github.com/xraph/atelier/subscription"
	"github.com/xraph/atelier/types"
)

func TestSubscribeWithTrial(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.plan(t, "pro", 2000, 14, 5)

	sub := h.subscribe(t, "artist-1", "pro")
	assert.Equal(t, subscription.StatusTrialing, sub.Status)
	require.NotNil(t, sub.TrialStart)
	require.NotNil(t, sub.TrialEnd)
	assert.Equal(t, start, *sub.TrialStart)
	assert.Equal(t, start.Add(days(14)), *sub.TrialEnd)
	assert.Equal(t, *sub.TrialEnd, sub.CurrentPeriodEnd)
	assert.Nil(t, sub.NextBillingDate)
	assert.True(t, sub.IsInTrial(h.engine.Now()))
	assert.True(t, sub.AutoRenew)

	invoices, err := h.engine.ListInvoices(ctx, sub.ID, invoice.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, invoices, "no invoice during a trial")
}

func TestSubscribeWithoutTrial(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.plan(t, "pro", 2000, 0, 5)

	sub := h.subscribe(t, "artist-1", "pro")
	assert.Equal(t, subscription.StatusActive, sub.Status)
	assert.Equal(t, start, sub.CurrentPeriodStart)
	assert.Equal(t, start.Add(days(30)), sub.CurrentPeriodEnd)
	require.NotNil(t, sub.NextBillingDate)
	assert.Equal(t, sub.CurrentPeriodEnd, *sub.NextBillingDate)
	assert.Equal(t, 30, sub.DaysUntilRenewal(h.engine.Now()))

	invoices, err := h.engine.ListInvoices(ctx, sub.ID, invoice.ListOpts{})
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	inv := invoices[0]
	assert.Equal(t, invoice.StatusPending, inv.Status)
	assert.Equal(t, types.GBP(2000), inv.Amount)
	assert.Equal(t, start.Add(days(7)), inv.DueDate)
	assert.True(t, invoice.ValidNumber(inv.Number), inv.Number)
	require.Len(t, inv.LineItems, 1)
}

func TestSubscribeValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.plan(t, "pro", 2000, 0, 5)

	_, err := h.engine.Subscribe(ctx, atelier.SubscribeParams{PlanSlug: "pro"})
	assert.True(t, atelier.IsValidation(err))

	neg := types.GBP(-1)
	_, err = h.engine.Subscribe(ctx, atelier.SubscribeParams{ArtistID: "a", PlanSlug: "pro", PriceOverride: &neg})
	assert.True(t, atelier.IsValidation(err))

	usd := types.USD(500)
	_, err = h.engine.Subscribe(ctx, atelier.SubscribeParams{ArtistID: "a", PlanSlug: "pro", PriceOverride: &usd})
	assert.True(t, atelier.IsValidation(err))

	_, err = h.engine.Subscribe(ctx, atelier.SubscribeParams{ArtistID: "a", PlanSlug: "nope"})
	assert.ErrorIs(t, err, atelier.ErrPlanNotFound)
}

func TestSubscribeOneOpenPerArtist(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.plan(t, "pro", 2000, 0, 5)

	first := h.subscribe(t, "artist-1", "pro")
	_, err := h.engine.Subscribe(ctx, atelier.SubscribeParams{ArtistID: "artist-1", PlanSlug: "pro"})
	assert.ErrorIs(t, err, atelier.ErrSubscriptionExists)
	assert.True(t, atelier.IsConflict(err))

	_, err = h.engine.Cancel(ctx, first.ID, atelier.CancelParams{Immediate: true})
	require.NoError(t, err)
	h.subscribe(t, "artist-1", "pro")
}

func TestPriceOverride(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.plan(t, "pro", 1000, 0, 5)

	override := types.GBP(500)
	sub, err := h.engine.Subscribe(ctx, atelier.SubscribeParams{ArtistID: "a", PlanSlug: "pro", PriceOverride: &override})
	require.NoError(t, err)
	assert.Equal(t, types.GBP(500), sub.EffectivePrice(p))

	invoices, err := h.engine.ListInvoices(ctx, sub.ID, invoice.ListOpts{})
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	assert.Equal(t, types.GBP(500), invoices[0].Amount)
}

func TestRenewFromTrial(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.plan(t, "pro", 2000, 14, 5)
	sub := h.subscribe(t, "artist-1", "pro")

	h.clock.Advance(days(14))
	renewed, err := h.engine.Renew(ctx, sub.ID, "")
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, renewed.Status)
	assert.Equal(t, *sub.TrialEnd, renewed.CurrentPeriodStart)
	assert.Equal(t, sub.TrialEnd.Add(days(30)), renewed.CurrentPeriodEnd)
	assert.Equal(t, int64(2), renewed.Version)
}

func TestRenewFromActive(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.plan(t, "pro", 2000, 0, 5)
	sub := h.subscribe(t, "artist-1", "pro")

	h.clock.Advance(days(31))
	renewed, err := h.engine.Renew(ctx, sub.ID, "")
	require.NoError(t, err)
	assert.Equal(t, sub.CurrentPeriodEnd, renewed.CurrentPeriodStart)
	assert.Equal(t, sub.CurrentPeriodEnd.Add(days(30)), renewed.CurrentPeriodEnd)

	invoices, err := h.engine.ListInvoices(ctx, sub.ID, invoice.ListOpts{})
	require.NoError(t, err)
	require.Len(t, invoices, 2)
	assert.Equal(t, renewed.CurrentPeriodStart, invoices[0].PeriodStart)
}

func TestRenewRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.plan(t, "pro", 2000, 0, 5)

	paused := h.subscribe(t, "artist-1", "pro")
	_, err := h.engine.Pause(ctx, paused.ID, "", "")
	require.NoError(t, err)
	_, err = h.engine.Renew(ctx, paused.ID, "")
	assert.ErrorIs(t, err, atelier.ErrInvalidTransition)

	cancelled := h.subscribe(t, "artist-2", "pro")
	_, err = h.engine.Cancel(ctx, cancelled.ID, atelier.CancelParams{Immediate: true})
	require.NoError(t, err)
	_, err = h.engine.Renew(ctx, cancelled.ID, "")
	assert.ErrorIs(t, err, atelier.ErrInvalidTransition)

	scheduled := h.subscribe(t, "artist-3", "pro")
	_, err = h.engine.Cancel(ctx, scheduled.ID, atelier.CancelParams{})
	require.NoError(t, err)
	_, err = h.engine.Renew(ctx, scheduled.ID, "")
	assert.ErrorIs(t, err, atelier.ErrCancellationScheduled)

	_, err = h.engine.Renew(ctx, id.NewSubscriptionID(), "")
	assert.ErrorIs(t, err, atelier.ErrSubscriptionNotFound)
}

func TestRenewBeforePeriodEnds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.plan(t, "pro", 2000, 0, 5)
	h.plan(t, "trial", 2000, 14, 5)
	active := h.subscribe(t, "artist-1", "pro")
	trialing := h.subscribe(t, "artist-2", "trial")

	h.clock.Advance(days(13))
	_, err := h.engine.Renew(ctx, active.ID, "")
	assert.ErrorIs(t, err, atelier.ErrInvalidTransition)
	_, err = h.engine.Renew(ctx, trialing.ID, "")
	assert.ErrorIs(t, err, atelier.ErrInvalidTransition)

	for sub, issued := range map[*subscription.Subscription]int{active: 1, trialing: 0} {
		got, err := h.engine.GetSubscription(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, sub.Version, got.Version)
		assert.Equal(t, sub.CurrentPeriodEnd, got.CurrentPeriodEnd)

		invoices, err := h.engine.ListInvoices(ctx, sub.ID, invoice.ListOpts{})
		require.NoError(t, err)
		assert.Len(t, invoices, issued)
	}

	h.clock.Advance(days(1))
	renewed, err := h.engine.Renew(ctx, trialing.ID, "")
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, renewed.Status)
	_, err = h.engine.Renew(ctx, active.ID, "")
	assert.ErrorIs(t, err, atelier.ErrInvalidTransition)
}

func TestCancelImmediate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.plan(t, "pro", 2000, 0, 5)
	sub := h.subscribe(t, "artist-1", "pro")

	h.clock.Advance(days(3))
	got, err := h.engine.Cancel(ctx, sub.ID, atelier.CancelParams{Immediate: true, Reason: "moving on"})
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusCancelled, got.Status)
	assert.Equal(t, h.engine.Now(), got.CurrentPeriodEnd)
	require.NotNil(t, got.CancelledAt)
	assert.Equal(t, "moving on", got.CancellationReason)
	assert.Nil(t, got.NextBillingDate)

	_, err = h.engine.Cancel(ctx, sub.ID, atelier.CancelParams{Immediate: true})
	assert.ErrorIs(t, err, atelier.ErrInvalidTransition)
}

// A period renewed ahead of time ends at its start, never before it.
func TestCancelImmediateBeforePeriodStart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.plan(t, "pro", 2000, 0, 5)
	sub := h.subscribe(t, "artist-1", "pro")

	ahead, err := h.store.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	ahead.CurrentPeriodStart = start.Add(days(30))
	ahead.CurrentPeriodEnd = start.Add(days(60))
	ahead.Version++
	require.NoError(t, h.store.Commit(ctx, &store.Commit{Subscription: ahead}))

	h.clock.Advance(days(2))
	got, err := h.engine.Cancel(ctx, sub.ID, atelier.CancelParams{Immediate: true})
	require.NoError(t, err)
	assert.Equal(t, ahead.CurrentPeriodStart, got.CurrentPeriodEnd)
	assert.False(t, got.CurrentPeriodEnd.Before(got.CurrentPeriodStart))
}

func TestCancelAtPeriodEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.plan(t, "pro", 2000, 0, 5)
	sub := h.subscribe(t, "artist-1", "pro")

	got, err := h.engine.Cancel(ctx, sub.ID, atelier.CancelParams{Reason: "too pricey"})
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, got.Status)
	assert.True(t, got.CancelAtPeriodEnd)
	assert.Equal(t, sub.CurrentPeriodEnd, got.CurrentPeriodEnd)

	_, err = h.engine.Cancel(ctx, sub.ID, atelier.CancelParams{})
	assert.ErrorIs(t, err, atelier.ErrCancellationScheduled)

	_, err = h.engine.CompletePeriodEndCancellation(ctx, sub.ID)
	assert.ErrorIs(t, err, atelier.ErrInvalidTransition, "period has not ended")

	h.clock.Advance(days(30))
	done, err := h.engine.CompletePeriodEndCancellation(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusCancelled, done.Status)

	history, err := h.engine.History(ctx, sub.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, change.TypeCancellation, history[0].Type)
	assert.Equal(t, "too pricey", history[0].Reason)
	assert.Equal(t, subscription.StatusCancelled, history[0].ToStatus)
}

func TestReactivate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.plan(t, "pro", 2000, 0, 5)
	sub := h.subscribe(t, "artist-1", "pro")

	_, err := h.engine.Reactivate(ctx, sub.ID, "support")
	assert.ErrorIs(t, err, atelier.ErrInvalidTransition)

	_, err = h.engine.Cancel(ctx, sub.ID, atelier.CancelParams{})
	require.NoError(t, err)
	got, err := h.engine.Reactivate(ctx, sub.ID, "support")
	require.NoError(t, err)
	assert.False(t, got.CancelAtPeriodEnd)
	assert.Nil(t, got.CancelledAt)

	history, err := h.engine.History(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, change.TypeReactivation, history[0].Type)
	assert.Equal(t, "support", history[0].Actor)
}

func TestPauseResume(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.plan(t, "pro", 2000, 0, 5)
	sub := h.subscribe(t, "artist-1", "pro")

	paused, err := h.engine.Pause(ctx, sub.ID, "artist-1", "holiday")
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusPaused, paused.Status)
	assert.Nil(t, paused.NextBillingDate)
	assert.False(t, paused.IsActive())

	_, err = h.engine.Pause(ctx, sub.ID, "", "")
	assert.ErrorIs(t, err, atelier.ErrInvalidTransition, "same-state transition")

	h.clock.Advance(days(5))
	resumed, err := h.engine.Resume(ctx, sub.ID, "artist-1", "back")
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, resumed.Status)
	assert.Equal(t, sub.CurrentPeriodStart, resumed.CurrentPeriodStart)
	assert.Equal(t, sub.CurrentPeriodEnd, resumed.CurrentPeriodEnd)

	_, err = h.engine.Resume(ctx, sub.ID, "", "")
	assert.ErrorIs(t, err, atelier.ErrInvalidTransition)
}

func TestPauseFromTrialRejected(t *testing.T) {
	h := newHarness(t)
	h.plan(t, "pro", 2000, 7, 5)
	sub := h.subscribe(t, "artist-1", "pro")

	_, err := h.engine.Pause(context.Background(), sub.ID, "", "")
	assert.ErrorIs(t, err, atelier.ErrInvalidTransition)
}

// Every cancel, renew, pause and resume appends exactly one record with the
// matching type and plan and price snapshots.
func TestTransitionsAppendOneRecord(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.plan(t, "pro", 2000, 0, 5)
	sub := h.subscribe(t, "artist-1", "pro")

	steps := []struct {
		typ     change.Type
		advance time.Duration
		run     func() error
	}{
		{change.TypePause, 1, func() error { _, err := h.engine.Pause(ctx, sub.ID, "", ""); return err }},
		{change.TypeResume, 1, func() error { _, err := h.engine.Resume(ctx, sub.ID, "", ""); return err }},
		{change.TypeRenewal, days(30), func() error { _, err := h.engine.Renew(ctx, sub.ID, ""); return err }},
		{change.TypeCancellation, 1, func() error {
			_, err := h.engine.Cancel(ctx, sub.ID, atelier.CancelParams{Immediate: true})
			return err
		}},
	}

	for i, step := range steps {
		h.clock.Advance(step.advance)
		require.NoError(t, step.run(), step.typ)

		history, err := h.engine.History(ctx, sub.ID)
		require.NoError(t, err)
		require.Len(t, history, i+1)
		rec := history[0]
		assert.Equal(t, step.typ, rec.Type)
		assert.Equal(t, p.ID.String(), rec.FromPlanID.String())
		assert.Equal(t, p.ID.String(), rec.ToPlanID.String())
		assert.Equal(t, h.engine.Now(), rec.EffectiveDate)
		require.NotNil(t, rec.FromPrice, step.typ)
		require.NotNil(t, rec.ToPrice, step.typ)
		assert.Equal(t, types.GBP(2000), *rec.FromPrice, step.typ)
		assert.Equal(t, types.GBP(2000), *rec.ToPrice, step.typ)
	}
}

// Status-only transitions snapshot the override, not the list price.
func TestChangeRecordsKeepPriceOverride(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.plan(t, "pro", 2000, 0, 5)

	override := types.GBP(1500)
	sub, err := h.engine.Subscribe(ctx, atelier.SubscribeParams{ArtistID: "a", PlanSlug: "pro", PriceOverride: &override})
	require.NoError(t, err)
	_, err = h.engine.Pause(ctx, sub.ID, "", "holiday")
	require.NoError(t, err)

	history, err := h.engine.History(ctx, sub.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.NotNil(t, history[0].FromPrice)
	require.NotNil(t, history[0].ToPrice)
	assert.Equal(t, override, *history[0].FromPrice)
	assert.Equal(t, override, *history[0].ToPrice)
}

func TestChangePlan(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	basic := h.plan(t, "basic", 1000, 0, 3)
	pro := h.plan(t, "pro", 2000, 0, 10)

	override := types.GBP(800)
	sub, err := h.engine.Subscribe(ctx, atelier.SubscribeParams{ArtistID: "a", PlanSlug: "basic", PriceOverride: &override})
	require.NoError(t, err)

	up, err := h.engine.ChangePlan(ctx, sub.ID, atelier.ChangePlanParams{PlanSlug: "pro", Actor: "a"})
	require.NoError(t, err)
	assert.Equal(t, pro.ID.String(), up.PlanID.String())
	assert.Nil(t, up.PriceOverride)
	assert.Equal(t, sub.CurrentPeriodEnd, up.CurrentPeriodEnd)

	history, err := h.engine.History(ctx, sub.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, change.TypeUpgrade, history[0].Type)
	assert.Equal(t, basic.ID.String(), history[0].FromPlanID.String())
	assert.Equal(t, types.GBP(800), *history[0].FromPrice)
	assert.Equal(t, types.GBP(2000), *history[0].ToPrice)

	_, err = h.engine.ChangePlan(ctx, sub.ID, atelier.ChangePlanParams{PlanSlug: "pro"})
	assert.ErrorIs(t, err, atelier.ErrInvalidTransition)

	for range 5 {
		_, err = h.engine.AddArtwork(ctx, sub.ID)
		require.NoError(t, err)
	}
	_, err = h.engine.ChangePlan(ctx, sub.ID, atelier.ChangePlanParams{PlanSlug: "basic"})
	assert.ErrorIs(t, err, atelier.ErrArtworkLimitReached)

	for range 2 {
		_, err = h.engine.RemoveArtwork(ctx, sub.ID)
		require.NoError(t, err)
	}
	down, err := h.engine.ChangePlan(ctx, sub.ID, atelier.ChangePlanParams{PlanSlug: "basic"})
	require.NoError(t, err)
	assert.Equal(t, basic.ID.String(), down.PlanID.String())

	history, err = h.engine.History(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, change.TypeDowngrade, history[0].Type)
}

// Renewals racing on one ended period: the first wins, the rest see the
// new period still running.
func TestConcurrentRenewalsSerialise(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.plan(t, "pro", 2000, 0, 5)
	sub := h.subscribe(t, "artist-1", "pro")
	h.clock.Advance(days(30))

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.engine.Renew(ctx, sub.ID, "")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var renewed int
	for err := range errs {
		if err == nil {
			renewed++
			continue
		}
		assert.ErrorIs(t, err, atelier.ErrInvalidTransition)
	}
	assert.Equal(t, 1, renewed)

	got, err := h.engine.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, sub.CurrentPeriodEnd, got.CurrentPeriodStart)
	assert.Equal(t, sub.CurrentPeriodEnd.Add(days(30)), got.CurrentPeriodEnd)
	assert.Equal(t, int64(2), got.Version)

	history, err := h.engine.History(ctx, sub.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	invoices, err := h.engine.ListInvoices(ctx, sub.ID, invoice.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, invoices, 2)
}

func TestEndToEndTrialThenRenew(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.plan(t, "monthly", 2000, 7, 5)

	sub := h.subscribe(t, "artist-1", "monthly")
	assert.Equal(t, subscription.StatusTrialing, sub.Status)
	assert.Equal(t, start, sub.CurrentPeriodStart)
	assert.Equal(t, start.Add(days(7)), sub.CurrentPeriodEnd)

	h.clock.Advance(days(7))
	due, err := h.engine.ListDueSubscriptions(ctx, h.engine.Now(), 10, 0)
	require.NoError(t, err)
	require.Len(t, due, 1)

	renewed, err := h.engine.Renew(ctx, sub.ID, "")
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, renewed.Status)
	assert.Equal(t, start.Add(days(7)), renewed.CurrentPeriodStart)
	assert.Equal(t, start.Add(days(37)), renewed.CurrentPeriodEnd)

	history, err := h.engine.History(ctx, sub.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, change.TypeRenewal, history[0].Type)

	invoices, err := h.engine.ListInvoices(ctx, sub.ID, invoice.ListOpts{})
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	assert.Equal(t, types.GBP(2000), invoices[0].Amount)
	assert.Equal(t, renewed.CurrentPeriodStart, invoices[0].PeriodStart)
	assert.Equal(t, renewed.CurrentPeriodEnd, invoices[0].PeriodEnd)
}

func TestExpire(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.plan(t, "pro", 2000, 0, 5)
	sub := h.subscribe(t, "artist-1", "pro")

	got, err := h.engine.Expire(ctx, sub.ID, "", "auto renew off")
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusExpired, got.Status)

	_, err = h.engine.Expire(ctx, sub.ID, "", "")
	assert.ErrorIs(t, err, atelier.ErrInvalidTransition)

	_, err = h.engine.GetSubscriptionForArtist(ctx, "artist-1")
	assert.ErrorIs(t, err, atelier.ErrSubscriptionNotFound)
}

func TestSetAutoRenew(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.plan(t, "pro", 2000, 0, 5)
	sub := h.subscribe(t, "artist-1", "pro")

	got, err := h.engine.SetAutoRenew(ctx, sub.ID, false)
	require.NoError(t, err)
	assert.False(t, got.AutoRenew)
	assert.Equal(t, sub.Version+1, got.Version)

	same, err := h.engine.SetAutoRenew(ctx, sub.ID, false)
	require.NoError(t, err)
	assert.Equal(t, got.Version, same.Version, "no-op leaves the version alone")

	history, err := h.engine.History(ctx, sub.ID)
	require.NoError(t, err)
	assert.Empty(t, history)

	_, err = h.engine.Cancel(ctx, sub.ID, atelier.CancelParams{Immediate: true})
	require.NoError(t, err)
	_, err = h.engine.SetAutoRenew(ctx, sub.ID, true)
	assert.ErrorIs(t, err, atelier.ErrSubscriptionInactive)
}
