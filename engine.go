package atelier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/jonboulle/clockwork"

	"github.com/xraph/atelier/change"
	"github.com/xraph/atelier/id"
	"github.com/xraph/atelier/invoice"
	"github.com/xraph/atelier/lock"
	"github.com/xraph/atelier/plan"
	"github.com/xraph/atelier/plugin"
	"github.com/xraph/atelier/store"
	"github.com/xraph/atelier/subscription"
)

const (
	// DefaultPaymentTermsDays is the gap between period start and the
	// invoice due date.
	DefaultPaymentTermsDays = 7

	DefaultPlanCacheSize = 256
	DefaultPlanCacheTTL  = 5 * time.Minute

	// maxNumberAttempts bounds invoice-number regeneration on collision.
	maxNumberAttempts = 5
)

// DunningPolicy decides when failed payments move a subscription along.
// A zero threshold disables that step.
type DunningPolicy struct {
	// PastDueAfter moves trialing or active subscriptions to past_due once
	// payment_failed_count reaches it.
	PastDueAfter int `json:"past_due_after" yaml:"past_due_after"`
	// ExpireAfter moves past_due subscriptions to expired once
	// payment_failed_count reaches it.
	ExpireAfter int `json:"expire_after" yaml:"expire_after"`
}

// Engine is the subscription billing engine.
type Engine struct {
	store    store.Store
	plugins  *plugin.Registry
	logger   *slog.Logger
	clock    clockwork.Clock
	locker   lock.Locker
	validate *validator.Validate

	planCache     *expirable.LRU[string, *plan.Plan]
	planCacheSize int
	planCacheTTL  time.Duration

	dunning          DunningPolicy
	paymentTermsDays int
	newNumber        invoice.NumberGenerator
}

// New creates an Engine on top of s.
func New(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:            s,
		plugins:          plugin.NewRegistry(),
		logger:           slog.Default(),
		clock:            clockwork.NewRealClock(),
		locker:           lock.NewKeyed(),
		validate:         validator.New(validator.WithRequiredStructEnabled()),
		planCacheSize:    DefaultPlanCacheSize,
		planCacheTTL:     DefaultPlanCacheTTL,
		paymentTermsDays: DefaultPaymentTermsDays,
		newNumber:        invoice.NewNumber,
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.planCacheSize > 0 {
		e.planCache = expirable.NewLRU[string, *plan.Plan](e.planCacheSize, nil, e.planCacheTTL)
	}

	return e
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.plugins.WithLogger(logger)
	}
}

// WithClock sets the time source. Tests pass a clockwork.FakeClock.
func WithClock(c clockwork.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLocker replaces the in-process locker, e.g. with a Redis lease lock
// when several processes share one store.
func WithLocker(l lock.Locker) Option {
	return func(e *Engine) { e.locker = l }
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) {
		_ = e.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithDunningPolicy sets the failed-payment thresholds.
func WithDunningPolicy(p DunningPolicy) Option {
	return func(e *Engine) { e.dunning = p }
}

// WithPaymentTermsDays sets the invoice due-date offset.
func WithPaymentTermsDays(days int) Option {
	return func(e *Engine) {
		if days >= 0 {
			e.paymentTermsDays = days
		}
	}
}

// WithInvoiceNumberGenerator overrides invoice numbering.
func WithInvoiceNumberGenerator(gen invoice.NumberGenerator) Option {
	return func(e *Engine) { e.newNumber = gen }
}

// WithPlanCacheSize sets the slug cache capacity. Zero disables caching.
func WithPlanCacheSize(n int) Option {
	return func(e *Engine) { e.planCacheSize = n }
}

// WithPlanCacheTTL sets how long a cached plan is served.
func WithPlanCacheTTL(d time.Duration) Option {
	return func(e *Engine) { e.planCacheTTL = d }
}

// Start migrates the store and initialises plugins.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.store.Migrate(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrMigrationFailed, err)
	}

	e.plugins.EmitInit(ctx, e)

	e.logger.Info("atelier started",
		"plugins", e.plugins.Count(),
		"payment_terms_days", e.paymentTermsDays,
		"past_due_after", e.dunning.PastDueAfter,
		"expire_after", e.dunning.ExpireAfter,
	)
	return nil
}

// Stop shuts plugins down and closes the store.
func (e *Engine) Stop() error {
	e.plugins.EmitShutdown(context.Background())
	return e.store.Close()
}

// Store returns the underlying store.
func (e *Engine) Store() store.Store { return e.store }

// Plugins returns the plugin registry.
func (e *Engine) Plugins() *plugin.Registry { return e.plugins }

// Now returns the engine clock's current time in UTC.
func (e *Engine) Now() time.Time { return e.clock.Now().UTC() }

// ──────────────────────────────────────────────────
// Transaction helpers
// ──────────────────────────────────────────────────

func (e *Engine) acquire(ctx context.Context, key string) (func(), error) {
	release, err := e.locker.Lock(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLockUnavailable, key, err)
	}
	return release, nil
}

// mutation builds the commit for one operation. sub is a private copy to
// modify; prev is the stored state and must not be modified. Returning a
// nil commit means nothing changed.
type mutation func(prev, sub *subscription.Subscription, now time.Time) (*store.Commit, error)

// mutate runs fn under the subscription lock, then commits the result. The
// subscription in the commit gets its version bumped and its timestamp
// touched here, so fn only has to express the domain change.
func (e *Engine) mutate(ctx context.Context, subID id.SubscriptionID, fn mutation) (*subscription.Subscription, *store.Commit, error) {
	release, err := e.acquire(ctx, lock.SubscriptionKey(subID.String()))
	if err != nil {
		return nil, nil, err
	}
	defer release()

	sub, err := e.store.GetSubscription(ctx, subID)
	if err != nil {
		return nil, nil, err
	}

	now := e.Now()
	prev := sub.Clone()
	c, err := fn(prev, sub, now)
	if err != nil {
		return nil, nil, err
	}
	if c == nil {
		return prev, nil, nil
	}
	if c.Change != nil && c.Subscription != nil {
		if err := e.priceChange(ctx, c.Change, prev, c.Subscription); err != nil {
			return nil, nil, err
		}
	}
	if c.Subscription != nil {
		c.Subscription.Version++
		c.Subscription.Touch(now)
	}

	if err := e.commit(ctx, c, now); err != nil {
		return nil, nil, err
	}
	e.emitCommit(ctx, c)

	if c.Subscription != nil {
		return c.Subscription, c, nil
	}
	return prev, c, nil
}

// commit writes c, regenerating the number of a new invoice when it
// collides.
func (e *Engine) commit(ctx context.Context, c *store.Commit, now time.Time) error {
	return e.withNumberRetry(c.NewInvoice, now, func() error {
		return e.store.Commit(ctx, c)
	})
}

func (e *Engine) withNumberRetry(inv *invoice.Invoice, now time.Time, write func() error) error {
	for attempt := 1; ; attempt++ {
		err := write()
		if err == nil || inv == nil || !errors.Is(err, ErrDuplicateInvoiceNumber) {
			return err
		}
		if attempt >= maxNumberAttempts {
			return fmt.Errorf("%w after %d attempts", ErrInvoiceNumberConflict, attempt)
		}
		e.logger.Warn("invoice number collision, regenerating",
			"invoice_number", inv.Number,
			"attempt", attempt,
		)
		inv.Number = e.newNumber(now)
	}
}

func (e *Engine) emitCommit(ctx context.Context, c *store.Commit) {
	if c.Change != nil {
		e.logger.Info("subscription transition",
			"subscription_id", c.Subscription.ID.String(),
			"change_type", string(c.Change.Type),
			"from_status", string(c.Change.FromStatus),
			"status", string(c.Change.ToStatus),
		)
		e.plugins.EmitSubscriptionChanged(ctx, c.Subscription, c.Change)
	}
	if c.NewInvoice != nil {
		e.logger.Info("invoice generated",
			"subscription_id", c.NewInvoice.SubscriptionID.String(),
			"invoice_number", c.NewInvoice.Number,
			"amount", c.NewInvoice.Amount.String(),
		)
		e.plugins.EmitInvoiceGenerated(ctx, c.NewInvoice)
	}
}

// newChange records the move from prev to next.
func newChange(prev, next *subscription.Subscription, typ change.Type, actor, reason string, now time.Time) *change.Record {
	return &change.Record{
		ID:             id.NewChangeID(),
		SubscriptionID: next.ID,
		Type:           typ,
		FromPlanID:     prev.PlanID,
		ToPlanID:       next.PlanID,
		FromStatus:     prev.Status,
		ToStatus:       next.Status,
		Reason:         reason,
		EffectiveDate:  now,
		Actor:          actor,
		CreatedAt:      now,
	}
}

// priceChange snapshots the effective price before and after the change
// where the mutation did not set it.
func (e *Engine) priceChange(ctx context.Context, rec *change.Record, prev, next *subscription.Subscription) error {
	if rec.FromPrice != nil && rec.ToPrice != nil {
		return nil
	}
	from, err := e.store.GetPlan(ctx, prev.PlanID)
	if err != nil {
		return err
	}
	to := from
	if !next.PlanID.Equal(prev.PlanID) {
		if to, err = e.store.GetPlan(ctx, next.PlanID); err != nil {
			return err
		}
	}
	if rec.FromPrice == nil {
		rec.FromPrice = moneyPtr(prev.EffectivePrice(from))
	}
	if rec.ToPrice == nil {
		rec.ToPrice = moneyPtr(next.EffectivePrice(to))
	}
	return nil
}

// transitionTo validates and applies a status change on sub.
func transitionTo(sub *subscription.Subscription, next subscription.Status) error {
	if !sub.Status.CanTransition(next) {
		return fmt.Errorf("%w: subscription %s cannot move from %s to %s",
			ErrInvalidTransition, sub.ID, sub.Status, next)
	}
	sub.Status = next
	return nil
}
