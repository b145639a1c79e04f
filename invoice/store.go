package invoice

import (
	"context"

	"github.com/xraph/atelier/id"
)

// Store reads invoices. Invoices are inserted and updated only through
// store.Store.Commit, never deleted.
type Store interface {
	GetInvoice(ctx context.Context, number string) (*Invoice, error)
	ListInvoices(ctx context.Context, subID id.SubscriptionID, opts ListOpts) ([]*Invoice, error)
}

type ListOpts struct {
	Status Status
	Limit  int
	Offset int
}
