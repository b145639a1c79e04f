package sweep_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/atelier"
	"github.com/xraph/atelier/invoice"
	"github.com/xraph/atelier/lock"
	"github.com/xraph/atelier/plan"
	"github.com/xraph/atelier/plugin"
	"github.com/xraph/atelier/store/memory"
	"github.com/xraph/atelier/subscription"
	"github.com/xraph/atelier/sweep"
	"github.com/xraph/atelier/types"
)

var start = time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

func days(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }

type summaries struct {
	mu  sync.Mutex
	got []plugin.SweepSummary
}

func (s *summaries) Name() string { return "summaries" }

func (s *summaries) OnSweepCompleted(_ context.Context, summary plugin.SweepSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, summary)
	return nil
}

func setup(t *testing.T, opts ...atelier.Option) (*atelier.Engine, *clockwork.FakeClock) {
	t.Helper()
	ctx := context.Background()

	clock := clockwork.NewFakeClockAt(start)
	opts = append([]atelier.Option{atelier.WithClock(clock)}, opts...)
	e := atelier.New(memory.New(), opts...)
	require.NoError(t, e.Start(ctx))
	t.Cleanup(func() { _ = e.Stop() })

	for _, p := range []*plan.Plan{
		{Slug: "pro", TrialDays: 0},
		{Slug: "trial", TrialDays: 14},
	} {
		p.Name = p.Slug
		p.Tier = plan.TierProfessional
		p.Price = types.GBP(2000)
		p.BillingPeriod = plan.Monthly
		p.MaxArtworks = 10
		p.CommissionRate = decimal.NewFromInt(10)
		p.Active = true
		require.NoError(t, e.CreatePlan(ctx, p))
	}
	return e, clock
}

func subscribe(t *testing.T, e *atelier.Engine, artistID, slug string) *subscription.Subscription {
	t.Helper()
	sub, err := e.Subscribe(context.Background(), atelier.SubscribeParams{ArtistID: artistID, PlanSlug: slug})
	require.NoError(t, err)
	return sub
}

func status(t *testing.T, e *atelier.Engine, sub *subscription.Subscription) subscription.Status {
	t.Helper()
	got, err := e.GetSubscription(context.Background(), sub.ID)
	require.NoError(t, err)
	return got.Status
}

func TestActionFor(t *testing.T) {
	tests := []struct {
		name string
		sub  subscription.Subscription
		want sweep.Action
	}{
		{"renews", subscription.Subscription{AutoRenew: true}, sweep.ActionRenew},
		{"expires without auto renew", subscription.Subscription{}, sweep.ActionExpire},
		{"cancels when scheduled", subscription.Subscription{AutoRenew: true, CancelAtPeriodEnd: true}, sweep.ActionCancel},
		{"cancel wins over expire", subscription.Subscription{CancelAtPeriodEnd: true}, sweep.ActionCancel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sweep.ActionFor(&tt.sub))
		})
	}
}

func TestRunRoutesDueSubscriptions(t *testing.T) {
	rec := &summaries{}
	e, clock := setup(t, atelier.WithPlugin(rec))
	ctx := context.Background()

	renews := subscribe(t, e, "artist-renew", "pro")
	trial := subscribe(t, e, "artist-trial", "trial")
	cancels := subscribe(t, e, "artist-cancel", "pro")
	_, err := e.Cancel(ctx, cancels.ID, atelier.CancelParams{Reason: "moving on"})
	require.NoError(t, err)
	expires := subscribe(t, e, "artist-expire", "pro")
	_, err = e.SetAutoRenew(ctx, expires.ID, false)
	require.NoError(t, err)
	paused := subscribe(t, e, "artist-paused", "pro")
	_, err = e.Pause(ctx, paused.ID, "", "")
	require.NoError(t, err)

	// Nothing is due before the periods end.
	report, err := sweep.New(e).Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Due)

	clock.Advance(days(31))

	report, err = sweep.New(e).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Due)
	assert.Equal(t, 2, report.Renewed)
	assert.Equal(t, 1, report.Cancelled)
	assert.Equal(t, 1, report.Expired)
	assert.Zero(t, report.Failed)
	assert.Zero(t, report.Skipped)

	assert.Equal(t, subscription.StatusActive, status(t, e, renews))
	assert.Equal(t, subscription.StatusActive, status(t, e, trial))
	assert.Equal(t, subscription.StatusCancelled, status(t, e, cancels))
	assert.Equal(t, subscription.StatusExpired, status(t, e, expires))
	assert.Equal(t, subscription.StatusPaused, status(t, e, paused))

	got, err := e.GetSubscription(ctx, trial.ID)
	require.NoError(t, err)
	assert.Equal(t, start.Add(days(14)), got.CurrentPeriodStart, "first paid period starts at trial end")

	invoices, err := e.ListInvoices(ctx, renews.ID, invoice.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, invoices, 2)

	// A second run finds nothing left to do.
	report, err = sweep.New(e).Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Due)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.got, 3)
	assert.Equal(t, 2, rec.got[1].Renewed)
	assert.Equal(t, 1, rec.got[1].Expired)
}

func TestRunRenewsOncePerRun(t *testing.T) {
	e, clock := setup(t)
	ctx := context.Background()
	sub := subscribe(t, e, "artist-1", "pro")

	// Two periods behind: each run advances one period.
	clock.Advance(days(61))

	s := sweep.New(e, sweep.WithBatchSize(1))
	report, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Renewed)

	report, err = s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Renewed)

	report, err = s.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Due)

	invoices, err := e.ListInvoices(ctx, sub.ID, invoice.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, invoices, 3)
}

func TestRunPagesAndBoundsConcurrency(t *testing.T) {
	e, clock := setup(t)
	ctx := context.Background()

	const n = 23
	subs := make([]*subscription.Subscription, n)
	for i := range subs {
		subs[i] = subscribe(t, e, fmt.Sprintf("artist-%02d", i), "pro")
	}
	clock.Advance(days(30))

	report, err := sweep.New(e, sweep.WithBatchSize(5), sweep.WithConcurrency(6)).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, n, report.Due)
	assert.Equal(t, n, report.Renewed)

	for _, sub := range subs {
		invoices, err := e.ListInvoices(ctx, sub.ID, invoice.ListOpts{})
		require.NoError(t, err)
		assert.Len(t, invoices, 2, sub.ArtistID)
	}
}

func TestRunHoldsSweepLock(t *testing.T) {
	e, _ := setup(t)
	locker := lock.NewKeyed()

	release, err := locker.Lock(context.Background(), lock.SweepKey)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = sweep.New(e, sweep.WithLocker(locker)).Run(ctx)
	assert.ErrorIs(t, err, atelier.ErrLockUnavailable)
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	e, clock := setup(t)
	subscribe(t, e, "artist-1", "pro")
	clock.Advance(days(30))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := sweep.New(e).Run(ctx)
	assert.Error(t, err)
}
