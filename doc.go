// Package atelier is the subscription billing engine of an artist
// marketplace.
//
// Atelier is a library, not a service. Request handlers and scheduled jobs
// call the Engine directly. It provides:
//
//   - A plan catalog with trial terms, artwork limits and commission rates
//   - A subscription state machine (trialing, active, past_due, paused,
//     cancelled, expired) with an exhaustive transition table
//   - Period invoices with collision-checked invoice numbers
//   - Monthly usage counters and plan-limit checks
//   - An append-only change history written atomically with every transition
//
// # Quick Start
//
//	import (
//	    "github.com/xraph/atelier"
//	    "github.com/xraph/atelier/store/postgres"
//	)
//
//	s, err := postgres.Open(ctx, databaseURL)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	engine := atelier.New(s,
//	    atelier.WithDunningPolicy(atelier.DunningPolicy{PastDueAfter: 1, ExpireAfter: 3}),
//	)
//	if err := engine.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Stop()
//
// # Core Concepts
//
// Plans define price, billing period and limits:
//
//	err := engine.CreatePlan(ctx, &plan.Plan{
//	    Slug:           "pro",
//	    Name:           "Pro",
//	    Tier:           plan.TierProfessional,
//	    Price:          atelier.GBP(2000),
//	    BillingPeriod:  plan.Monthly,
//	    MaxArtworks:    50,
//	    CommissionRate: decimal.NewFromInt(10),
//	    TrialDays:      7,
//	    Active:         true,
//	})
//
// Subscriptions bind an artist to a plan:
//
//	sub, err := engine.Subscribe(ctx, atelier.SubscribeParams{
//	    ArtistID: artistID,
//	    PlanSlug: "pro",
//	})
//
// A periodic job (see package sweep) renews, expires or finishes the
// cancellation of subscriptions whose period has ended. Payment outcomes
// come back through RecordPaymentSucceeded and RecordPaymentFailed.
//
// # Periods
//
// Billing periods are flat day counts (monthly 30, quarterly 90, annual
// 365), not calendar months.
//
// # Money
//
// All monetary values are integer minor units. Commission is computed with
// decimal arithmetic and rounded half away from zero.
//
// # TypeID
//
// All entities use TypeID identifiers:
//
//	plan_01h2xcejqtf2nbrexx3vqjhp41  // Plan ID
//	sub_01h2xcejqtf2nbrexx3vqjhp41   // Subscription ID
//	chg_01h455vb4pex5vsknk084sn02q   // Change record ID
package atelier
