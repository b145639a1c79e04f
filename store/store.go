// Package store defines the aggregate persistence contract used by the
// engine. Backends live in the sub-packages.
package store

import (
	"context"
	"errors"

	"github.com/xraph/atelier/change"
	"github.com/xraph/atelier/invoice"
	"github.com/xraph/atelier/plan"
	"github.com/xraph/atelier/subscription"
	"github.com/xraph/atelier/usage"
)

// Store is the unified storage interface for all atelier entities. The
// domain read interfaces use entity-qualified method names so they can be
// embedded without conflicts.
type Store interface {
	plan.Store
	subscription.Store
	invoice.Store
	usage.Store
	change.Store

	// CreateSubscription inserts a new subscription, and its first invoice
	// when inv is non-nil, in one transaction. A second open subscription
	// for the same artist is rejected with atelier.ErrSubscriptionExists.
	CreateSubscription(ctx context.Context, sub *subscription.Subscription, inv *invoice.Invoice) error

	// Commit applies every part of c atomically or none of it.
	Commit(ctx context.Context, c *Commit) error

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Commit is a combined write: a subscription state change together with its
// audit record and the invoice and usage effects of the same operation.
//
// Optimistic concurrency: an entity passed for update must carry
// Version = stored version + 1. A mismatch aborts the whole commit with
// atelier.ErrConcurrentUpdate.
type Commit struct {
	// Subscription, when set, replaces the stored subscription.
	Subscription *subscription.Subscription
	// Change is appended to the history.
	Change *change.Record
	// NewInvoice is inserted. A duplicate number yields
	// atelier.ErrDuplicateInvoiceNumber; a second invoice for the same
	// (subscription, period start) yields atelier.ErrInvoiceExists.
	NewInvoice *invoice.Invoice
	// Invoice, when set, replaces the stored invoice with the same number.
	Invoice *invoice.Invoice
	// Usage is applied as an upsert on (subscription, month).
	Usage *usage.Increment
}

// ErrEmptyCommit is returned for a Commit with nothing to write.
var ErrEmptyCommit = errors.New("store: empty commit")

// ErrChangeWithoutSubscription is returned when a change record is
// committed without the subscription transition it describes.
var ErrChangeWithoutSubscription = errors.New("store: change record requires a subscription update")

// Validate checks the structural rules every backend enforces before
// opening a transaction.
func (c *Commit) Validate() error {
	if c.Subscription == nil && c.Change == nil && c.NewInvoice == nil && c.Invoice == nil && c.Usage == nil {
		return ErrEmptyCommit
	}
	if c.Change != nil && c.Subscription == nil {
		return ErrChangeWithoutSubscription
	}
	return nil
}

// PreviousVersion returns the version an updated entity must replace.
func PreviousVersion(v int64) int64 { return v - 1 }
