package usage

import (
	"context"
	"time"

	"github.com/xraph/atelier/id"
)

// Store persists usage records. (subscription, month) is unique.
type Store interface {
	// IncrementUsage atomically creates-or-updates the month's record.
	IncrementUsage(ctx context.Context, inc *Increment) (*Record, error)
	GetUsage(ctx context.Context, subID id.SubscriptionID, month time.Time) (*Record, error)
	// ListUsage returns records newest month first.
	ListUsage(ctx context.Context, subID id.SubscriptionID, opts ListOpts) ([]*Record, error)
}

type ListOpts struct {
	Limit  int
	Offset int
}
