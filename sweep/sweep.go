// Package sweep runs the periodic billing pass. It finds subscriptions
// whose current period has ended and renews, expires or cancels each one.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/atelier"
	"github.com/xraph/atelier/lock"
	"github.com/xraph/atelier/plugin"
	"github.com/xraph/atelier/subscription"
)

const (
	DefaultBatchSize   = 100
	DefaultConcurrency = 4

	// Actor is recorded on the history entries a sweep writes.
	Actor = "system:sweep"
)

// Action is what the sweep does with one due subscription.
type Action string

const (
	ActionRenew  Action = "renew"
	ActionExpire Action = "expire"
	ActionCancel Action = "cancel"
)

// ActionFor routes a due subscription. A scheduled cancellation wins over
// auto renew being off.
func ActionFor(sub *subscription.Subscription) Action {
	switch {
	case sub.CancelAtPeriodEnd:
		return ActionCancel
	case !sub.AutoRenew:
		return ActionExpire
	default:
		return ActionRenew
	}
}

// Report counts the outcome of one run.
type Report struct {
	Due       int
	Renewed   int
	Cancelled int
	Expired   int
	// Skipped subscriptions changed between listing and processing, so the
	// routed action no longer applied.
	Skipped int
	Failed  int
	Elapsed time.Duration
}

func (r Report) summary() plugin.SweepSummary {
	return plugin.SweepSummary{
		Renewed:   r.Renewed,
		Cancelled: r.Cancelled,
		Expired:   r.Expired,
		Failed:    r.Failed,
		Elapsed:   r.Elapsed,
	}
}

// Sweeper processes due subscriptions with bounded concurrency. Each
// subscription is handled by exactly one goroutine per run.
type Sweeper struct {
	engine      *atelier.Engine
	logger      *slog.Logger
	locker      lock.Locker
	batchSize   int
	concurrency int
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) { s.logger = logger }
}

// WithBatchSize sets the page size used when listing due subscriptions.
func WithBatchSize(n int) Option {
	return func(s *Sweeper) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithConcurrency sets the number of subscriptions processed at once.
func WithConcurrency(n int) Option {
	return func(s *Sweeper) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithLocker makes each run hold lock.SweepKey, so only one process sweeps
// at a time when several share a store.
func WithLocker(l lock.Locker) Option {
	return func(s *Sweeper) { s.locker = l }
}

// New creates a Sweeper over e.
func New(e *atelier.Engine, opts ...Option) *Sweeper {
	s := &Sweeper{
		engine:      e,
		logger:      slog.Default(),
		batchSize:   DefaultBatchSize,
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run performs one sweep. Failures on individual subscriptions are logged
// and counted; the returned error reports only listing failures,
// cancellation or an unavailable run lock.
func (s *Sweeper) Run(ctx context.Context) (Report, error) {
	if s.locker != nil {
		release, err := s.locker.Lock(ctx, lock.SweepKey)
		if err != nil {
			return Report{}, fmt.Errorf("%w: %s: %w", atelier.ErrLockUnavailable, lock.SweepKey, err)
		}
		defer release()
	}

	began := time.Now()
	now := s.engine.Now()

	due, err := s.collect(ctx, now)
	if err != nil {
		return Report{}, err
	}

	var (
		mu     sync.Mutex
		report = Report{Due: len(due)}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, sub := range due {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			action, err := s.process(gctx, sub)

			mu.Lock()
			defer mu.Unlock()
			report.record(action, err)
			if err != nil && !skipped(err) {
				s.logger.Warn("sweep: subscription failed",
					"subscription_id", sub.ID.String(),
					"action", string(action),
					"error", err,
				)
			}
			return nil
		})
	}
	err = g.Wait()
	report.Elapsed = time.Since(began)

	s.logger.Info("sweep completed",
		"due", report.Due,
		"renewed", report.Renewed,
		"cancelled", report.Cancelled,
		"expired", report.Expired,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"elapsed", report.Elapsed,
	)
	s.engine.Plugins().EmitSweepCompleted(ctx, report.summary())

	return report, err
}

// collect snapshots every due subscription before any is modified, so
// offset paging stays stable and a renewal that is still behind is not
// picked up twice in one run.
func (s *Sweeper) collect(ctx context.Context, now time.Time) ([]*subscription.Subscription, error) {
	var due []*subscription.Subscription
	for offset := 0; ; offset += s.batchSize {
		page, err := s.engine.ListDueSubscriptions(ctx, now, s.batchSize, offset)
		if err != nil {
			return nil, fmt.Errorf("sweep: list due subscriptions: %w", err)
		}
		due = append(due, page...)
		if len(page) < s.batchSize {
			return due, nil
		}
	}
}

func (s *Sweeper) process(ctx context.Context, sub *subscription.Subscription) (Action, error) {
	action := ActionFor(sub)
	var err error
	switch action {
	case ActionCancel:
		_, err = s.engine.CompletePeriodEndCancellation(ctx, sub.ID)
	case ActionExpire:
		_, err = s.engine.Expire(ctx, sub.ID, Actor, "auto renew disabled")
	default:
		_, err = s.engine.Renew(ctx, sub.ID, Actor)
	}
	return action, err
}

func (r *Report) record(action Action, err error) {
	switch {
	case err != nil && skipped(err):
		r.Skipped++
	case err != nil:
		r.Failed++
	case action == ActionCancel:
		r.Cancelled++
	case action == ActionExpire:
		r.Expired++
	default:
		r.Renewed++
	}
}

// skipped reports errors caused by the subscription moving on since it was
// listed.
func skipped(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return atelier.IsInvalidTransition(err) || errors.Is(err, atelier.ErrSubscriptionNotFound)
}
