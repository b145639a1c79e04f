package atelier_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/atelier"
	"github.com/xraph/atelier/entitlement"
	"github.com/xraph/atelier/plan"
	"github.com/xraph/atelier/types"
	"github.com/xraph/atelier/usage"
)

func TestAddArtworkLimit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.plan(t, "basic", 1000, 0, 2)
	sub := h.subscribe(t, "artist-1", "basic")

	for range 2 {
		_, err := h.engine.AddArtwork(ctx, sub.ID)
		require.NoError(t, err)
	}

	res, err := h.engine.CheckArtworkLimit(ctx, sub.ID)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(2), res.Used)
	assert.Equal(t, int64(0), res.Remaining)

	_, err = h.engine.AddArtwork(ctx, sub.ID)
	assert.ErrorIs(t, err, atelier.ErrArtworkLimitReached)

	rec, err := h.engine.GetUsage(ctx, sub.ID, h.engine.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.ArtworksAdded)

	_, err = h.engine.RemoveArtwork(ctx, sub.ID)
	require.NoError(t, err)
	res, err = h.engine.CheckArtworkLimit(ctx, sub.ID)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(1), res.Remaining)
}

func TestAddArtworkConcurrentNeverExceedsLimit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.plan(t, "basic", 1000, 0, 5)
	sub := h.subscribe(t, "artist-1", "basic")

	var ok atomic.Int64
	var wg sync.WaitGroup
	for range 12 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.engine.AddArtwork(ctx, sub.ID); err == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(5), ok.Load())
	got, err := h.engine.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.ArtworksCount)
}

func TestAddArtworkRequiresActive(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.plan(t, "basic", 1000, 0, 5)
	sub := h.subscribe(t, "artist-1", "basic")
	_, err := h.engine.Pause(ctx, sub.ID, "", "")
	require.NoError(t, err)

	_, err = h.engine.AddArtwork(ctx, sub.ID)
	assert.ErrorIs(t, err, atelier.ErrSubscriptionInactive)

	res, err := h.engine.CheckArtworkLimit(ctx, sub.ID)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, entitlement.FeatureArtworks, res.Feature)
}

func TestRemoveArtworkFloor(t *testing.T) {
	h := newHarness(t)
	h.plan(t, "basic", 1000, 0, 5)
	sub := h.subscribe(t, "artist-1", "basic")

	got, err := h.engine.RemoveArtwork(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.ArtworksCount)
	assert.Equal(t, int64(1), got.Version, "no write when already empty")
}

func TestRecordSale(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := &plan.Plan{
		Slug: "pro", Name: "Pro", Tier: plan.TierProfessional,
		Price: types.GBP(2000), BillingPeriod: plan.Monthly, MaxArtworks: 10,
		CommissionRate: decimal.RequireFromString("12.5"), Active: true,
	}
	require.NoError(t, h.engine.CreatePlan(ctx, p))
	sub := h.subscribe(t, "artist-1", "pro")

	commission, err := h.engine.RecordSale(ctx, sub.ID, types.GBP(1999))
	require.NoError(t, err)
	assert.Equal(t, types.GBP(250), commission)

	_, err = h.engine.RecordSale(ctx, sub.ID, types.GBP(10000))
	require.NoError(t, err)

	got, err := h.engine.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, types.GBP(11999), got.TotalSales)
	assert.Equal(t, types.GBP(1500), got.TotalCommissionPaid)

	rec, err := h.engine.GetUsage(ctx, sub.ID, h.engine.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.ArtworksSold)
	assert.Equal(t, types.GBP(11999), rec.SalesAmount)
	assert.Equal(t, types.GBP(1500), rec.CommissionEarned)

	_, err = h.engine.RecordSale(ctx, sub.ID, types.USD(100))
	assert.True(t, atelier.IsValidation(err))
	_, err = h.engine.RecordSale(ctx, sub.ID, types.GBP(0))
	assert.True(t, atelier.IsValidation(err))
}

func TestRecordUsage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.plan(t, "basic", 1000, 0, 5)
	sub := h.subscribe(t, "artist-1", "basic")

	_, err := h.engine.RecordUsage(ctx, sub.ID, usage.Delta{Views: 10, APICalls: 2})
	require.NoError(t, err)
	rec, err := h.engine.RecordUsage(ctx, sub.ID, usage.Delta{Views: 5, StorageMB: 30})
	require.NoError(t, err)
	assert.Equal(t, int64(15), rec.TotalViews)
	assert.Equal(t, int64(2), rec.APICalls)
	assert.Equal(t, usage.Month(start), rec.Month)

	h.clock.Advance(days(31))
	_, err = h.engine.RecordUsage(ctx, sub.ID, usage.Delta{FeaturedDays: 1})
	require.NoError(t, err)

	records, err := h.engine.ListUsage(ctx, sub.ID, usage.ListOpts{})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, int64(1), records[0].FeaturedDays)

	_, err = h.engine.RecordUsage(ctx, sub.ID, usage.Delta{Views: -1})
	assert.True(t, atelier.IsValidation(err))
}

func TestFeatureChecks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.plan(t, "pro", 2000, 0, 5)
	sub := h.subscribe(t, "artist-1", "pro")

	on, err := h.engine.HasFeature(ctx, sub.ID, "analytics")
	require.NoError(t, err)
	assert.True(t, on)
	off, err := h.engine.HasFeature(ctx, sub.ID, "api_access")
	require.NoError(t, err)
	assert.False(t, off)

	res, err := h.engine.CheckFeaturedSlots(ctx, sub.ID, 2)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	res, err = h.engine.CheckFeaturedSlots(ctx, sub.ID, 1)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}
