package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
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

// compile-time interface check
var _ store.Store = (*Store)(nil)

// MigrateFunc brings the schema up to date.
type MigrateFunc func(ctx context.Context) error

// Store implements store.Store over a *sql.DB.
type Store struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
	migrate MigrateFunc
	closed  atomic.Bool
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for migration and rollback messages.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithMigrations sets the function run by Migrate.
func WithMigrations(fn MigrateFunc) Option {
	return func(s *Store) { s.migrate = fn }
}

// New wraps db. The schema is expected to match the dialect's migrations.
func New(db *sql.DB, dialect Dialect, opts ...Option) *Store {
	s := &Store{
		db:      db,
		dialect: dialect,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect returns the SQL dialect in use.
func (s *Store) Dialect() Dialect { return s.dialect }

// Migrate applies pending schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	if s.migrate == nil {
		return nil
	}
	if err := s.migrate(ctx); err != nil {
		return fmt.Errorf("atelier/%s: %w", s.dialect.Name(), err)
	}
	s.logger.Info("schema migrated", "dialect", s.dialect.Name())
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return atelier.ErrStoreClosed
	}
	return s.db.PingContext(ctx)
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) q(query string) string { return s.dialect.Rebind(query) }

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if s.closed.Load() {
		return atelier.ErrStoreClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("atelier/%s: begin: %w", s.dialect.Name(), err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Warn("rollback failed", "dialect", s.dialect.Name(), "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return s.wrap("commit", err)
	}
	return nil
}

// wrap maps uniqueness violations to domain errors and prefixes the rest.
func (s *Store) wrap(op string, err error) error {
	switch s.dialect.Classify(err) {
	case ConstraintPlanSlug:
		return atelier.ErrPlanExists
	case ConstraintOpenSubscription:
		return atelier.ErrSubscriptionExists
	case ConstraintInvoiceNumber:
		return fmt.Errorf("%w: %v", atelier.ErrDuplicateInvoiceNumber, err)
	case ConstraintInvoicePeriod:
		return atelier.ErrInvoiceExists
	case ConstraintUsageMonth:
		return fmt.Errorf("%w: usage month", atelier.ErrConcurrentUpdate)
	}
	return fmt.Errorf("atelier/%s: %s: %w", s.dialect.Name(), op, err)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func limitOffset(limit, offset int) string {
	switch {
	case limit > 0 && offset > 0:
		return " LIMIT " + strconv.Itoa(limit) + " OFFSET " + strconv.Itoa(offset)
	case limit > 0:
		return " LIMIT " + strconv.Itoa(limit)
	case offset > 0:
		// SQLite only accepts OFFSET after a LIMIT.
		return " LIMIT " + strconv.FormatInt(1<<62, 10) + " OFFSET " + strconv.Itoa(offset)
	default:
		return ""
	}
}

func exists(ctx context.Context, q querier, query string, args ...any) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// ──────────────────────────────────────────────────
// Plans
// ──────────────────────────────────────────────────

func (s *Store) CreatePlan(ctx context.Context, p *plan.Plan) error {
	m, err := toPlanModel(p)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		s.q(`INSERT INTO plans (`+planColumns+`) VALUES (`+placeholders(18)+`)`),
		m.args()...)
	if err != nil {
		if s.dialect.Classify(err) == ConstraintPrimaryKey {
			return atelier.ErrPlanExists
		}
		return s.wrap("create plan", err)
	}
	return nil
}

func (s *Store) GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error) {
	return s.getPlan(ctx, `id = ?`, planID.String())
}

func (s *Store) GetPlanBySlug(ctx context.Context, slug string) (*plan.Plan, error) {
	return s.getPlan(ctx, `slug = ?`, slug)
}

func (s *Store) getPlan(ctx context.Context, where string, arg any) (*plan.Plan, error) {
	m := new(planModel)
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT `+planColumns+` FROM plans WHERE `+where), arg).Scan(m.dest()...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, atelier.ErrPlanNotFound
		}
		return nil, s.wrap("get plan", err)
	}
	return fromPlanModel(m)
}

func (s *Store) ListPlans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans`
	var args []any
	if !opts.IncludeInactive {
		query += ` WHERE active = ?`
		args = append(args, true)
	}
	query += ` ORDER BY display_order ASC, price_amount ASC, slug ASC` + limitOffset(opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, s.wrap("list plans", err)
	}
	defer rows.Close()

	var result []*plan.Plan
	for rows.Next() {
		m := new(planModel)
		if err := rows.Scan(m.dest()...); err != nil {
			return nil, s.wrap("scan plan", err)
		}
		p, err := fromPlanModel(m)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (s *Store) UpdatePlan(ctx context.Context, p *plan.Plan) error {
	m, err := toPlanModel(p)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE plans SET
		slug = ?, name = ?, tier = ?, description = ?, price_amount = ?, currency = ?,
		billing_period = ?, max_artworks = ?, commission_rate = ?, featured_artworks = ?,
		trial_days = ?, features = ?, active = ?, featured = ?, display_order = ?, updated_at = ?
		WHERE id = ?`),
		m.Slug, m.Name, m.Tier, m.Description, m.PriceAmount, m.Currency,
		m.BillingPeriod, m.MaxArtworks, m.CommissionRate, m.FeaturedArtworks,
		m.TrialDays, string(m.Features), m.Active, m.Featured, m.DisplayOrder, m.UpdatedAt,
		m.ID)
	if err != nil {
		return s.wrap("update plan", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return s.wrap("update plan", err)
	} else if n == 0 {
		return atelier.ErrPlanNotFound
	}
	return nil
}

func (s *Store) DeletePlan(ctx context.Context, planID id.PlanID) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var n int64
		if err := tx.QueryRowContext(ctx,
			s.q(`SELECT COUNT(*) FROM subscriptions WHERE plan_id = ?`), planID.String()).Scan(&n); err != nil {
			return s.wrap("count plan subscriptions", err)
		}
		if n > 0 {
			return atelier.ErrPlanInUse
		}
		if err := tx.QueryRowContext(ctx,
			s.q(`SELECT COUNT(*) FROM subscription_changes WHERE from_plan_id = ? OR to_plan_id = ?`),
			planID.String(), planID.String()).Scan(&n); err != nil {
			return s.wrap("count plan changes", err)
		}
		if n > 0 {
			return atelier.ErrPlanInUse
		}
		res, err := tx.ExecContext(ctx, s.q(`DELETE FROM plans WHERE id = ?`), planID.String())
		if err != nil {
			return s.wrap("delete plan", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return s.wrap("delete plan", err)
		} else if n == 0 {
			return atelier.ErrPlanNotFound
		}
		return nil
	})
}

// ──────────────────────────────────────────────────
// Subscriptions
// ──────────────────────────────────────────────────

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription, inv *invoice.Invoice) error {
	m, err := toSubscriptionModel(sub)
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			s.q(`INSERT INTO subscriptions (`+subscriptionColumns+`) VALUES (`+placeholders(26)+`)`),
			m.args()...); err != nil {
			if s.dialect.Classify(err) == ConstraintPrimaryKey {
				return fmt.Errorf("%w: id %s", atelier.ErrSubscriptionExists, sub.ID)
			}
			return s.wrap("create subscription", err)
		}
		if inv != nil {
			return s.insertInvoice(ctx, tx, inv)
		}
		return nil
	})
}

func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	return s.getSubscription(ctx, s.db, `id = ?`, subID.String())
}

func (s *Store) GetOpenSubscription(ctx context.Context, artistID string) (*subscription.Subscription, error) {
	args := []any{artistID}
	for _, st := range subscription.OpenStatuses {
		args = append(args, string(st))
	}
	return s.getSubscription(ctx, s.db,
		`artist_id = ? AND status IN (`+placeholders(len(subscription.OpenStatuses))+`)`, args...)
}

func (s *Store) getSubscription(ctx context.Context, q querier, where string, args ...any) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := q.QueryRowContext(ctx,
		s.q(`SELECT `+subscriptionColumns+` FROM subscriptions WHERE `+where), args...).Scan(m.dest()...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, atelier.ErrSubscriptionNotFound
		}
		return nil, s.wrap("get subscription", err)
	}
	return fromSubscriptionModel(m)
}

func (s *Store) ListSubscriptions(ctx context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	var (
		where []string
		args  []any
	)
	if opts.ArtistID != "" {
		where = append(where, `artist_id = ?`)
		args = append(args, opts.ArtistID)
	}
	if !opts.PlanID.IsNil() {
		where = append(where, `plan_id = ?`)
		args = append(args, opts.PlanID.String())
	}
	if len(opts.Statuses) > 0 {
		where = append(where, `status IN (`+placeholders(len(opts.Statuses))+`)`)
		for _, st := range opts.Statuses {
			args = append(args, string(st))
		}
	}
	if opts.PeriodEndBefore != nil {
		where = append(where, `current_period_end <= ?`)
		args = append(args, opts.PeriodEndBefore.UTC())
	}

	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	if opts.PeriodEndBefore != nil {
		query += ` ORDER BY current_period_end ASC, id ASC`
	} else {
		query += ` ORDER BY id DESC`
	}
	query += limitOffset(opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, s.wrap("list subscriptions", err)
	}
	defer rows.Close()

	var result []*subscription.Subscription
	for rows.Next() {
		m := new(subscriptionModel)
		if err := rows.Scan(m.dest()...); err != nil {
			return nil, s.wrap("scan subscription", err)
		}
		sub, err := fromSubscriptionModel(m)
		if err != nil {
			return nil, err
		}
		result = append(result, sub)
	}
	return result, rows.Err()
}

func (s *Store) CountChangesForPlan(ctx context.Context, planID id.PlanID) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT COUNT(*) FROM subscription_changes WHERE from_plan_id = ? OR to_plan_id = ?`),
		planID.String(), planID.String()).Scan(&n)
	if err != nil {
		return 0, s.wrap("count changes", err)
	}
	return n, nil
}

func (s *Store) CountSubscriptionsForPlan(ctx context.Context, planID id.PlanID) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT COUNT(*) FROM subscriptions WHERE plan_id = ?`), planID.String()).Scan(&n)
	if err != nil {
		return 0, s.wrap("count subscriptions", err)
	}
	return n, nil
}

// ──────────────────────────────────────────────────
// Commit
// ──────────────────────────────────────────────────

func (s *Store) Commit(ctx context.Context, c *store.Commit) error {
	if err := c.Validate(); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if c.Subscription != nil {
			if err := s.updateSubscription(ctx, tx, c.Subscription); err != nil {
				return err
			}
		}
		if c.Change != nil {
			m := toChangeModel(c.Change)
			if _, err := tx.ExecContext(ctx,
				s.q(`INSERT INTO subscription_changes (`+changeColumns+`) VALUES (`+placeholders(14)+`)`),
				m.args()...); err != nil {
				return s.wrap("insert change", err)
			}
		}
		if c.NewInvoice != nil {
			if err := s.insertInvoice(ctx, tx, c.NewInvoice); err != nil {
				return err
			}
		}
		if c.Invoice != nil {
			if err := s.updateInvoice(ctx, tx, c.Invoice); err != nil {
				return err
			}
		}
		if c.Usage != nil {
			m := toUsageModel(c.Usage)
			if _, err := tx.ExecContext(ctx, s.q(usageUpsert), m.args()...); err != nil {
				return s.wrap("upsert usage", err)
			}
		}
		return nil
	})
}

func (s *Store) updateSubscription(ctx context.Context, tx *sql.Tx, sub *subscription.Subscription) error {
	m, err := toSubscriptionModel(sub)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, s.q(`UPDATE subscriptions SET
		artist_id = ?, plan_id = ?, status = ?, current_period_start = ?, current_period_end = ?,
		trial_start = ?, trial_end = ?, next_billing_date = ?, price_override = ?, currency = ?,
		cancel_at_period_end = ?, cancelled_at = ?, cancellation_reason = ?, auto_renew = ?,
		payment_failed_count = ?, last_payment_date = ?, last_payment_amount = ?, artworks_count = ?,
		total_sales = ?, total_commission_paid = ?, notes = ?, metadata = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?`),
		m.ArtistID, m.PlanID, m.Status, m.CurrentPeriodStart, m.CurrentPeriodEnd,
		m.TrialStart, m.TrialEnd, m.NextBillingDate, m.PriceOverride, m.Currency,
		m.CancelAtPeriodEnd, m.CancelledAt, m.CancellationReason, m.AutoRenew,
		m.PaymentFailedCount, m.LastPaymentDate, m.LastPaymentAmount, m.ArtworksCount,
		m.TotalSales, m.TotalCommissionPaid, m.Notes, string(m.Metadata), m.Version, m.UpdatedAt,
		m.ID, store.PreviousVersion(m.Version))
	if err != nil {
		return s.wrap("update subscription", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return s.wrap("rows affected", err)
	} else if n > 0 {
		return nil
	}
	found, err := exists(ctx, tx, s.q(`SELECT 1 FROM subscriptions WHERE id = ?`), m.ID)
	if err != nil {
		return s.wrap("check subscription", err)
	}
	if !found {
		return atelier.ErrSubscriptionNotFound
	}
	return fmt.Errorf("%w: subscription %s", atelier.ErrConcurrentUpdate, sub.ID)
}

// ──────────────────────────────────────────────────
// Invoices
// ──────────────────────────────────────────────────

func (s *Store) insertInvoice(ctx context.Context, tx *sql.Tx, inv *invoice.Invoice) error {
	m, err := toInvoiceModel(inv)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		s.q(`INSERT INTO invoices (`+invoiceColumns+`) VALUES (`+placeholders(22)+`)`),
		m.args()...); err != nil {
		return s.wrap("insert invoice", err)
	}
	return nil
}

func (s *Store) updateInvoice(ctx context.Context, tx *sql.Tx, inv *invoice.Invoice) error {
	m, err := toInvoiceModel(inv)
	if err != nil {
		return err
	}
	args := m.args()
	// id and number are the first two columns and never change.
	res, err := tx.ExecContext(ctx, s.q(`UPDATE invoices SET
		subscription_id = ?, status = ?, amount = ?, currency = ?, period_start = ?, period_end = ?,
		due_date = ?, paid_at = ?, payment_method = ?, transaction_id = ?, gateway_payment_id = ?,
		gateway_response = ?, description = ?, line_items = ?, is_refunded = ?, refunded_amount = ?,
		notes = ?, version = ?, created_at = ?, updated_at = ?
		WHERE number = ? AND version = ?`),
		append(args[2:], m.Number, store.PreviousVersion(m.Version))...)
	if err != nil {
		return s.wrap("update invoice", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return s.wrap("rows affected", err)
	} else if n > 0 {
		return nil
	}
	found, err := exists(ctx, tx, s.q(`SELECT 1 FROM invoices WHERE number = ?`), m.Number)
	if err != nil {
		return s.wrap("check invoice", err)
	}
	if !found {
		return atelier.ErrInvoiceNotFound
	}
	return fmt.Errorf("%w: invoice %s", atelier.ErrConcurrentUpdate, inv.Number)
}

func (s *Store) GetInvoice(ctx context.Context, number string) (*invoice.Invoice, error) {
	m := new(invoiceModel)
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT `+invoiceColumns+` FROM invoices WHERE number = ?`), number).Scan(m.dest()...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, atelier.ErrInvoiceNotFound
		}
		return nil, s.wrap("get invoice", err)
	}
	return fromInvoiceModel(m)
}

func (s *Store) ListInvoices(ctx context.Context, subID id.SubscriptionID, opts invoice.ListOpts) ([]*invoice.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE subscription_id = ?`
	args := []any{subID.String()}
	if opts.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(opts.Status))
	}
	query += ` ORDER BY period_start DESC, number DESC` + limitOffset(opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, s.wrap("list invoices", err)
	}
	defer rows.Close()

	var result []*invoice.Invoice
	for rows.Next() {
		m := new(invoiceModel)
		if err := rows.Scan(m.dest()...); err != nil {
			return nil, s.wrap("scan invoice", err)
		}
		inv, err := fromInvoiceModel(m)
		if err != nil {
			return nil, err
		}
		result = append(result, inv)
	}
	return result, rows.Err()
}

// ──────────────────────────────────────────────────
// Usage
// ──────────────────────────────────────────────────

const usageUpsert = `INSERT INTO usage_records (` + usageColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (subscription_id, month) DO UPDATE SET
		artworks_added = usage_records.artworks_added + excluded.artworks_added,
		artworks_sold = usage_records.artworks_sold + excluded.artworks_sold,
		total_views = usage_records.total_views + excluded.total_views,
		sales_amount = usage_records.sales_amount + excluded.sales_amount,
		commission_earned = usage_records.commission_earned + excluded.commission_earned,
		featured_days = usage_records.featured_days + excluded.featured_days,
		api_calls = usage_records.api_calls + excluded.api_calls,
		storage_mb = usage_records.storage_mb + excluded.storage_mb,
		updated_at = excluded.updated_at`

func (s *Store) IncrementUsage(ctx context.Context, inc *usage.Increment) (*usage.Record, error) {
	var rec *usage.Record
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		found, err := exists(ctx, tx, s.q(`SELECT 1 FROM subscriptions WHERE id = ?`), inc.SubscriptionID.String())
		if err != nil {
			return s.wrap("check subscription", err)
		}
		if !found {
			return atelier.ErrSubscriptionNotFound
		}

		m := toUsageModel(inc)
		if _, err := tx.ExecContext(ctx, s.q(usageUpsert), m.args()...); err != nil {
			return s.wrap("upsert usage", err)
		}
		// Read back in the same transaction; RETURNING loses column types on SQLite.
		out := new(usageModel)
		if err := tx.QueryRowContext(ctx,
			s.q(`SELECT `+usageColumns+` FROM usage_records WHERE subscription_id = ? AND month = ?`),
			m.SubscriptionID, m.Month).Scan(out.dest()...); err != nil {
			return s.wrap("read usage", err)
		}
		rec, err = fromUsageModel(out)
		return err
	})
	return rec, err
}

func (s *Store) GetUsage(ctx context.Context, subID id.SubscriptionID, month time.Time) (*usage.Record, error) {
	m := new(usageModel)
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT `+usageColumns+` FROM usage_records WHERE subscription_id = ? AND month = ?`),
		subID.String(), usage.Month(month)).Scan(m.dest()...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, atelier.ErrUsageNotFound
		}
		return nil, s.wrap("get usage", err)
	}
	return fromUsageModel(m)
}

func (s *Store) ListUsage(ctx context.Context, subID id.SubscriptionID, opts usage.ListOpts) ([]*usage.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT `+usageColumns+` FROM usage_records WHERE subscription_id = ? ORDER BY month DESC`+
			limitOffset(opts.Limit, opts.Offset)),
		subID.String())
	if err != nil {
		return nil, s.wrap("list usage", err)
	}
	defer rows.Close()

	var result []*usage.Record
	for rows.Next() {
		m := new(usageModel)
		if err := rows.Scan(m.dest()...); err != nil {
			return nil, s.wrap("scan usage", err)
		}
		rec, err := fromUsageModel(m)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// ──────────────────────────────────────────────────
// Change history
// ──────────────────────────────────────────────────

func (s *Store) ListChanges(ctx context.Context, subID id.SubscriptionID, opts change.ListOpts) ([]*change.Record, error) {
	query := `SELECT ` + changeColumns + ` FROM subscription_changes WHERE subscription_id = ?`
	args := []any{subID.String()}
	if opts.Type != "" {
		query += ` AND type = ?`
		args = append(args, string(opts.Type))
	}
	query += ` ORDER BY effective_date DESC, id DESC` + limitOffset(opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, s.wrap("list changes", err)
	}
	defer rows.Close()

	var result []*change.Record
	for rows.Next() {
		m := new(changeModel)
		if err := rows.Scan(m.dest()...); err != nil {
			return nil, s.wrap("scan change", err)
		}
		rec, err := fromChangeModel(m)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}
