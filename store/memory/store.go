// Package memory provides an in-process store. Every read returns a copy,
// so callers can never mutate stored state without a Commit.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/xraph/atelier"
	"github.com/xraph/atelier/change"
	"github.com/xraph/atelier/id"
	"github.com/xraph/atelier/invoice"
	"github.com/xraph/atelier/plan"
	"github.com/xraph/atelier/store"
	"github.com/xraph/atelier/subscription"
	"github.com/xraph/atelier/usage"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	mu     sync.RWMutex
	closed bool

	plans         map[string]*plan.Plan
	subscriptions map[string]*subscription.Subscription
	// open subscription ID per artist
	openByArtist map[string]string

	invoices map[string]*invoice.Invoice // by number
	// invoice number per subscription period start
	invoicePeriods map[string]string

	usage   map[string]*usage.Record // by subscription|month
	changes map[string][]*change.Record
}

func New() *Store {
	return &Store{
		plans:          make(map[string]*plan.Plan),
		subscriptions:  make(map[string]*subscription.Subscription),
		openByArtist:   make(map[string]string),
		invoices:       make(map[string]*invoice.Invoice),
		invoicePeriods: make(map[string]string),
		usage:          make(map[string]*usage.Record),
		changes:        make(map[string][]*change.Record),
	}
}

func periodKey(subID id.SubscriptionID, start time.Time) string {
	return fmt.Sprintf("%s|%d", subID, start.UnixNano())
}

func usageKey(subID id.SubscriptionID, month time.Time) string {
	return fmt.Sprintf("%s|%s", subID, usage.Month(month).Format("2006-01"))
}

func page[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// ──────────────────────────────────────────────────
// Plans
// ──────────────────────────────────────────────────

func (s *Store) CreatePlan(_ context.Context, p *plan.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.plans[p.ID.String()]; exists {
		return atelier.ErrPlanExists
	}
	for _, existing := range s.plans {
		if existing.Slug == p.Slug {
			return atelier.ErrPlanExists
		}
	}
	s.plans[p.ID.String()] = p.Clone()
	return nil
}

func (s *Store) GetPlan(_ context.Context, planID id.PlanID) (*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.plans[planID.String()]; ok {
		return p.Clone(), nil
	}
	return nil, atelier.ErrPlanNotFound
}

func (s *Store) GetPlanBySlug(_ context.Context, slug string) (*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.plans {
		if p.Slug == slug {
			return p.Clone(), nil
		}
	}
	return nil, atelier.ErrPlanNotFound
}

func (s *Store) ListPlans(_ context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*plan.Plan, 0, len(s.plans))
	for _, p := range s.plans {
		if !opts.IncludeInactive && !p.Active {
			continue
		}
		result = append(result, p.Clone())
	}
	slices.SortFunc(result, plan.CompareCatalog)
	return page(result, opts.Limit, opts.Offset), nil
}

func (s *Store) UpdatePlan(_ context.Context, p *plan.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.plans[p.ID.String()]; !ok {
		return atelier.ErrPlanNotFound
	}
	for key, existing := range s.plans {
		if key != p.ID.String() && existing.Slug == p.Slug {
			return atelier.ErrPlanExists
		}
	}
	s.plans[p.ID.String()] = p.Clone()
	return nil
}

func (s *Store) DeletePlan(_ context.Context, planID id.PlanID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.plans[planID.String()]; !ok {
		return atelier.ErrPlanNotFound
	}
	for _, sub := range s.subscriptions {
		if sub.PlanID.Equal(planID) {
			return atelier.ErrPlanInUse
		}
	}
	if s.countChanges(planID) > 0 {
		return atelier.ErrPlanInUse
	}
	delete(s.plans, planID.String())
	return nil
}

// ──────────────────────────────────────────────────
// Subscriptions
// ──────────────────────────────────────────────────

func (s *Store) CreateSubscription(_ context.Context, sub *subscription.Subscription, inv *invoice.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return atelier.ErrStoreClosed
	}
	if _, exists := s.subscriptions[sub.ID.String()]; exists {
		return fmt.Errorf("%w: id %s", atelier.ErrSubscriptionExists, sub.ID)
	}
	if !sub.Status.IsTerminal() {
		if _, open := s.openByArtist[sub.ArtistID]; open {
			return atelier.ErrSubscriptionExists
		}
	}
	if inv != nil {
		if err := s.checkNewInvoice(inv); err != nil {
			return err
		}
	}

	s.subscriptions[sub.ID.String()] = sub.Clone()
	if !sub.Status.IsTerminal() {
		s.openByArtist[sub.ArtistID] = sub.ID.String()
	}
	if inv != nil {
		s.insertInvoice(inv)
	}
	return nil
}

func (s *Store) GetSubscription(_ context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sub, ok := s.subscriptions[subID.String()]; ok {
		return sub.Clone(), nil
	}
	return nil, atelier.ErrSubscriptionNotFound
}

func (s *Store) GetOpenSubscription(_ context.Context, artistID string) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if subID, ok := s.openByArtist[artistID]; ok {
		return s.subscriptions[subID].Clone(), nil
	}
	return nil, atelier.ErrSubscriptionNotFound
}

func (s *Store) ListSubscriptions(_ context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*subscription.Subscription
	for _, sub := range s.subscriptions {
		if opts.Matches(sub) {
			result = append(result, sub.Clone())
		}
	}
	if opts.PeriodEndBefore != nil {
		slices.SortFunc(result, func(a, b *subscription.Subscription) int {
			if c := a.CurrentPeriodEnd.Compare(b.CurrentPeriodEnd); c != 0 {
				return c
			}
			return cmp.Compare(a.ID.String(), b.ID.String())
		})
	} else {
		slices.SortFunc(result, func(a, b *subscription.Subscription) int {
			return cmp.Compare(b.ID.String(), a.ID.String())
		})
	}
	return page(result, opts.Limit, opts.Offset), nil
}

func (s *Store) CountChangesForPlan(_ context.Context, planID id.PlanID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countChanges(planID), nil
}

func (s *Store) countChanges(planID id.PlanID) int64 {
	var n int64
	for _, history := range s.changes {
		for _, rec := range history {
			if rec.FromPlanID.Equal(planID) || rec.ToPlanID.Equal(planID) {
				n++
			}
		}
	}
	return n
}

func (s *Store) CountSubscriptionsForPlan(_ context.Context, planID id.PlanID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, sub := range s.subscriptions {
		if sub.PlanID.Equal(planID) {
			n++
		}
	}
	return n, nil
}

// ──────────────────────────────────────────────────
// Commit
// ──────────────────────────────────────────────────

func (s *Store) Commit(_ context.Context, c *store.Commit) error {
	if err := c.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return atelier.ErrStoreClosed
	}

	// Check everything before touching anything.
	var prevSub *subscription.Subscription
	if c.Subscription != nil {
		stored, ok := s.subscriptions[c.Subscription.ID.String()]
		if !ok {
			return atelier.ErrSubscriptionNotFound
		}
		if stored.Version != store.PreviousVersion(c.Subscription.Version) {
			return fmt.Errorf("%w: subscription %s", atelier.ErrConcurrentUpdate, c.Subscription.ID)
		}
		if !c.Subscription.Status.IsTerminal() && stored.ArtistID != c.Subscription.ArtistID {
			if _, open := s.openByArtist[c.Subscription.ArtistID]; open {
				return atelier.ErrSubscriptionExists
			}
		}
		prevSub = stored
	}
	if c.NewInvoice != nil {
		if err := s.checkNewInvoice(c.NewInvoice); err != nil {
			return err
		}
	}
	if c.Invoice != nil {
		stored, ok := s.invoices[c.Invoice.Number]
		if !ok {
			return atelier.ErrInvoiceNotFound
		}
		if stored.Version != store.PreviousVersion(c.Invoice.Version) {
			return fmt.Errorf("%w: invoice %s", atelier.ErrConcurrentUpdate, c.Invoice.Number)
		}
	}

	if c.Subscription != nil {
		if !prevSub.Status.IsTerminal() {
			delete(s.openByArtist, prevSub.ArtistID)
		}
		s.subscriptions[c.Subscription.ID.String()] = c.Subscription.Clone()
		if !c.Subscription.Status.IsTerminal() {
			s.openByArtist[c.Subscription.ArtistID] = c.Subscription.ID.String()
		}
	}
	if c.Change != nil {
		key := c.Change.SubscriptionID.String()
		s.changes[key] = append(s.changes[key], c.Change.Clone())
	}
	if c.NewInvoice != nil {
		s.insertInvoice(c.NewInvoice)
	}
	if c.Invoice != nil {
		s.invoices[c.Invoice.Number] = c.Invoice.Clone()
	}
	if c.Usage != nil {
		s.applyUsage(c.Usage)
	}
	return nil
}

func (s *Store) checkNewInvoice(inv *invoice.Invoice) error {
	if _, dup := s.invoices[inv.Number]; dup {
		return fmt.Errorf("%w: %s", atelier.ErrDuplicateInvoiceNumber, inv.Number)
	}
	if _, dup := s.invoicePeriods[periodKey(inv.SubscriptionID, inv.PeriodStart)]; dup {
		return atelier.ErrInvoiceExists
	}
	return nil
}

func (s *Store) insertInvoice(inv *invoice.Invoice) {
	s.invoices[inv.Number] = inv.Clone()
	s.invoicePeriods[periodKey(inv.SubscriptionID, inv.PeriodStart)] = inv.Number
}

// ──────────────────────────────────────────────────
// Invoices
// ──────────────────────────────────────────────────

func (s *Store) GetInvoice(_ context.Context, number string) (*invoice.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if inv, ok := s.invoices[number]; ok {
		return inv.Clone(), nil
	}
	return nil, atelier.ErrInvoiceNotFound
}

func (s *Store) ListInvoices(_ context.Context, subID id.SubscriptionID, opts invoice.ListOpts) ([]*invoice.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*invoice.Invoice
	for _, inv := range s.invoices {
		if !inv.SubscriptionID.Equal(subID) {
			continue
		}
		if opts.Status != "" && inv.Status != opts.Status {
			continue
		}
		result = append(result, inv.Clone())
	}
	slices.SortFunc(result, func(a, b *invoice.Invoice) int {
		if c := b.PeriodStart.Compare(a.PeriodStart); c != 0 {
			return c
		}
		return cmp.Compare(b.Number, a.Number)
	})
	return page(result, opts.Limit, opts.Offset), nil
}

// ──────────────────────────────────────────────────
// Usage
// ──────────────────────────────────────────────────

func (s *Store) IncrementUsage(_ context.Context, inc *usage.Increment) (*usage.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, atelier.ErrStoreClosed
	}
	if _, ok := s.subscriptions[inc.SubscriptionID.String()]; !ok {
		return nil, atelier.ErrSubscriptionNotFound
	}
	return s.applyUsage(inc).Clone(), nil
}

func (s *Store) applyUsage(inc *usage.Increment) *usage.Record {
	key := usageKey(inc.SubscriptionID, inc.Month)
	rec, ok := s.usage[key]
	if !ok {
		rec = usage.NewRecord(inc.SubscriptionID, inc.Month, inc.Currency, inc.At)
		s.usage[key] = rec
	}
	rec.Apply(inc.Delta, inc.At)
	return rec
}

func (s *Store) GetUsage(_ context.Context, subID id.SubscriptionID, month time.Time) (*usage.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if rec, ok := s.usage[usageKey(subID, month)]; ok {
		return rec.Clone(), nil
	}
	return nil, atelier.ErrUsageNotFound
}

func (s *Store) ListUsage(_ context.Context, subID id.SubscriptionID, opts usage.ListOpts) ([]*usage.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*usage.Record
	for _, rec := range s.usage {
		if rec.SubscriptionID.Equal(subID) {
			result = append(result, rec.Clone())
		}
	}
	slices.SortFunc(result, func(a, b *usage.Record) int {
		return b.Month.Compare(a.Month)
	})
	return page(result, opts.Limit, opts.Offset), nil
}

// ──────────────────────────────────────────────────
// Change history
// ──────────────────────────────────────────────────

func (s *Store) ListChanges(_ context.Context, subID id.SubscriptionID, opts change.ListOpts) ([]*change.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*change.Record
	for _, rec := range s.changes[subID.String()] {
		if opts.Type != "" && rec.Type != opts.Type {
			continue
		}
		result = append(result, rec.Clone())
	}
	change.SortNewestFirst(result)
	return page(result, opts.Limit, opts.Offset), nil
}

// ──────────────────────────────────────────────────
// Core
// ──────────────────────────────────────────────────

func (s *Store) Migrate(_ context.Context) error { return nil }

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return atelier.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
