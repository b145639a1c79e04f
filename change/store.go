package change

import (
	"context"

	"github.com/xraph/atelier/id"
)

// Store reads the change history. Records are appended only through
// store.Store.Commit and never updated or deleted.
type Store interface {
	// ListChanges returns a subscription's history newest first.
	ListChanges(ctx context.Context, subID id.SubscriptionID, opts ListOpts) ([]*Record, error)

	// CountChangesForPlan counts records naming planID on either side.
	CountChangesForPlan(ctx context.Context, planID id.PlanID) (int64, error)
}
