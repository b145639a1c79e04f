package mongo

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/atelier/id"
	"github.com/xraph/atelier/invoice"
	"github.com/xraph/atelier/plan"
	"github.com/xraph/atelier/store"
	"github.com/xraph/atelier/store/storetest"
	"github.com/xraph/atelier/subscription"
	"github.com/xraph/atelier/types"
)

var epoch = time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

func TestPlanModelKeepsRateAndFeatures(t *testing.T) {
	p := &plan.Plan{
		Entity:         types.NewEntity(epoch),
		ID:             id.NewPlanID(),
		Slug:           "pro",
		Tier:           plan.TierProfessional,
		Price:          types.GBP(1999),
		BillingPeriod:  plan.Monthly,
		CommissionRate: decimal.RequireFromString("12.5"),
		Features: types.Attributes{
			"analytics":  types.Bool(true),
			"max_photos": types.Int(40),
			"support":    types.String("priority"),
		},
	}

	m := toPlanModel(p)
	assert.Equal(t, "12.5", m.CommissionRate)

	// BSON hands small integers back as int32.
	m.Features["max_photos"] = int32(40)
	got, err := fromPlanModel(m)
	require.NoError(t, err)
	assert.True(t, got.CommissionRate.Equal(p.CommissionRate))
	assert.Equal(t, p.Features, got.Features)
}

func TestAttributesRejectUnknownTypes(t *testing.T) {
	_, err := fromAttributesModel(map[string]any{"ratio": 0.5})
	assert.Error(t, err)
}

func TestSubscriptionModelOpenFlag(t *testing.T) {
	sub := &subscription.Subscription{
		ID:         id.NewSubscriptionID(),
		PlanID:     id.NewPlanID(),
		Status:     subscription.StatusPaused,
		TotalSales: types.GBP(0),
	}
	assert.True(t, toSubscriptionModel(sub).Open)

	sub.Status = subscription.StatusExpired
	assert.False(t, toSubscriptionModel(sub).Open)
}

func TestInvoiceLineItemsShareCurrency(t *testing.T) {
	inv := &invoice.Invoice{
		ID:             id.NewInvoiceID(),
		Number:         invoice.NewNumber(epoch),
		SubscriptionID: id.NewSubscriptionID(),
		Amount:         types.EUR(4900),
		LineItems: []invoice.LineItem{{
			ID: id.NewLineItemID(), Quantity: 1,
			UnitAmount: types.EUR(4900), Amount: types.EUR(4900), Type: invoice.LineItemBase,
		}},
		RefundedAmount: types.EUR(0),
	}
	got, err := fromInvoiceModel(toInvoiceModel(inv))
	require.NoError(t, err)
	require.Len(t, got.LineItems, 1)
	assert.Equal(t, types.EUR(4900), got.LineItems[0].Amount)
	assert.Nil(t, got.GatewayResponse)
}

// TestConformance runs the shared suite against a replica set when
// ATELIER_TEST_MONGO_URI is set.
func TestConformance(t *testing.T) {
	uri := os.Getenv("ATELIER_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("ATELIER_TEST_MONGO_URI not set")
	}

	storetest.Run(t, func(t *testing.T) store.Store {
		ctx := context.Background()
		s, err := Open(ctx, uri, "atelier_test_"+id.NewSubscriptionID().String())
		require.NoError(t, err)
		t.Cleanup(func() {
			s.Database().Drop(context.Background()) //nolint:errcheck // best-effort
			s.Close()
		})
		require.NoError(t, s.Migrate(ctx))
		return s
	})
}
