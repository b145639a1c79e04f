// Package mongo implements store.Store on MongoDB. Commit and
// CreateSubscription run in multi-document transactions, so the server
// must be a replica set or sharded cluster.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/atelier"
	"github.com/xraph/atelier/change"
	"github.com/xraph/atelier/id"
	"github.com/xraph/atelier/invoice"
	"github.com/xraph/atelier/plan"
	atelierstore "github.com/xraph/atelier/store"
	"github.com/xraph/atelier/subscription"
	"github.com/xraph/atelier/usage"
)

// Collection name constants.
const (
	colPlans         = "plans"
	colSubscriptions = "subscriptions"
	colInvoices      = "invoices"
	colUsage         = "usage_records"
	colChanges       = "subscription_changes"
)

// Unique index names, matched against duplicate key errors.
const (
	idxPlanSlug       = "plans_slug"
	idxOpenArtist     = "subscriptions_open_artist"
	idxInvoiceNumber  = "invoices_number"
	idxInvoicePeriod  = "invoices_period"
	idxUsageMonth     = "usage_month"
	maxUpsertAttempts = 2
)

// compile-time interface check
var _ atelierstore.Store = (*Store)(nil)

// Store implements store.Store using the official MongoDB driver.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	closed atomic.Bool
}

// New wraps a connected client, using the named database.
func New(client *mongo.Client, database string) *Store {
	return &Store{
		client: client,
		db:     client.Database(database),
	}
}

// Open connects to uri and returns a store on the named database.
func Open(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("atelier/mongo: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx) //nolint:errcheck // best-effort
		return nil, fmt.Errorf("atelier/mongo: ping: %w", err)
	}
	return New(client, database), nil
}

// Database returns the underlying database handle.
func (s *Store) Database() *mongo.Database { return s.db }

// Migrate creates indexes for all collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("atelier/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return atelier.ErrStoreClosed
	}
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.client.Disconnect(context.Background())
}

// ==================== Plan Store ====================

func (s *Store) CreatePlan(ctx context.Context, p *plan.Plan) error {
	if _, err := s.db.Collection(colPlans).InsertOne(ctx, toPlanModel(p)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return atelier.ErrPlanExists
		}
		return fmt.Errorf("atelier/mongo: create plan: %w", err)
	}
	return nil
}

func (s *Store) GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error) {
	return s.findPlan(ctx, bson.M{"_id": planID.String()})
}

func (s *Store) GetPlanBySlug(ctx context.Context, slug string) (*plan.Plan, error) {
	return s.findPlan(ctx, bson.M{"slug": slug})
}

func (s *Store) findPlan(ctx context.Context, filter bson.M) (*plan.Plan, error) {
	var m planModel
	if err := s.db.Collection(colPlans).FindOne(ctx, filter).Decode(&m); err != nil {
		if isNoDocuments(err) {
			return nil, atelier.ErrPlanNotFound
		}
		return nil, fmt.Errorf("atelier/mongo: get plan: %w", err)
	}
	return fromPlanModel(&m)
}

func (s *Store) ListPlans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	filter := bson.M{}
	if !opts.IncludeInactive {
		filter["active"] = true
	}
	findOpts := options.Find().SetSort(bson.D{
		{Key: "display_order", Value: 1},
		{Key: "price_amount", Value: 1},
		{Key: "slug", Value: 1},
	})
	paginate(findOpts, opts.Limit, opts.Offset)

	var models []planModel
	if err := s.findAll(ctx, colPlans, filter, findOpts, &models); err != nil {
		return nil, fmt.Errorf("atelier/mongo: list plans: %w", err)
	}
	result := make([]*plan.Plan, 0, len(models))
	for i := range models {
		p, err := fromPlanModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, nil
}

func (s *Store) UpdatePlan(ctx context.Context, p *plan.Plan) error {
	res, err := s.db.Collection(colPlans).ReplaceOne(ctx, bson.M{"_id": p.ID.String()}, toPlanModel(p))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return atelier.ErrPlanExists
		}
		return fmt.Errorf("atelier/mongo: update plan: %w", err)
	}
	if res.MatchedCount == 0 {
		return atelier.ErrPlanNotFound
	}
	return nil
}

func (s *Store) DeletePlan(ctx context.Context, planID id.PlanID) error {
	n, err := s.CountSubscriptionsForPlan(ctx, planID)
	if err != nil {
		return err
	}
	if n > 0 {
		return atelier.ErrPlanInUse
	}
	if n, err = s.CountChangesForPlan(ctx, planID); err != nil {
		return err
	}
	if n > 0 {
		return atelier.ErrPlanInUse
	}
	res, err := s.db.Collection(colPlans).DeleteOne(ctx, bson.M{"_id": planID.String()})
	if err != nil {
		return fmt.Errorf("atelier/mongo: delete plan: %w", err)
	}
	if res.DeletedCount == 0 {
		return atelier.ErrPlanNotFound
	}
	return nil
}

// ==================== Subscription Store ====================

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription, inv *invoice.Invoice) error {
	return s.inTx(ctx, func(ctx context.Context) error {
		if _, err := s.db.Collection(colSubscriptions).InsertOne(ctx, toSubscriptionModel(sub)); err != nil {
			return s.mapWriteErr("create subscription", err)
		}
		if inv != nil {
			if _, err := s.db.Collection(colInvoices).InsertOne(ctx, toInvoiceModel(inv)); err != nil {
				return s.mapWriteErr("create invoice", err)
			}
		}
		return nil
	})
}

func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	return s.findSubscription(ctx, bson.M{"_id": subID.String()})
}

func (s *Store) GetOpenSubscription(ctx context.Context, artistID string) (*subscription.Subscription, error) {
	return s.findSubscription(ctx, bson.M{"artist_id": artistID, "open": true})
}

func (s *Store) findSubscription(ctx context.Context, filter bson.M) (*subscription.Subscription, error) {
	var m subscriptionModel
	if err := s.db.Collection(colSubscriptions).FindOne(ctx, filter).Decode(&m); err != nil {
		if isNoDocuments(err) {
			return nil, atelier.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("atelier/mongo: get subscription: %w", err)
	}
	return fromSubscriptionModel(&m)
}

func (s *Store) ListSubscriptions(ctx context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	filter := bson.M{}
	if opts.ArtistID != "" {
		filter["artist_id"] = opts.ArtistID
	}
	if !opts.PlanID.IsNil() {
		filter["plan_id"] = opts.PlanID.String()
	}
	if len(opts.Statuses) > 0 {
		statuses := make([]string, len(opts.Statuses))
		for i, st := range opts.Statuses {
			statuses[i] = string(st)
		}
		filter["status"] = bson.M{"$in": statuses}
	}

	findOpts := options.Find()
	if opts.PeriodEndBefore != nil {
		filter["current_period_end"] = bson.M{"$lte": opts.PeriodEndBefore.UTC()}
		findOpts.SetSort(bson.D{{Key: "current_period_end", Value: 1}, {Key: "_id", Value: 1}})
	} else {
		findOpts.SetSort(bson.D{{Key: "_id", Value: -1}})
	}
	paginate(findOpts, opts.Limit, opts.Offset)

	var models []subscriptionModel
	if err := s.findAll(ctx, colSubscriptions, filter, findOpts, &models); err != nil {
		return nil, fmt.Errorf("atelier/mongo: list subscriptions: %w", err)
	}
	result := make([]*subscription.Subscription, 0, len(models))
	for i := range models {
		sub, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, sub)
	}
	return result, nil
}

func (s *Store) CountChangesForPlan(ctx context.Context, planID id.PlanID) (int64, error) {
	n, err := s.db.Collection(colChanges).CountDocuments(ctx, bson.M{"$or": bson.A{
		bson.M{"from_plan_id": planID.String()},
		bson.M{"to_plan_id": planID.String()},
	}})
	if err != nil {
		return 0, fmt.Errorf("atelier/mongo: count changes: %w", err)
	}
	return n, nil
}

func (s *Store) CountSubscriptionsForPlan(ctx context.Context, planID id.PlanID) (int64, error) {
	n, err := s.db.Collection(colSubscriptions).CountDocuments(ctx, bson.M{"plan_id": planID.String()})
	if err != nil {
		return 0, fmt.Errorf("atelier/mongo: count subscriptions: %w", err)
	}
	return n, nil
}

// ==================== Commit ====================

func (s *Store) Commit(ctx context.Context, c *atelierstore.Commit) error {
	if err := c.Validate(); err != nil {
		return err
	}
	return s.inTx(ctx, func(ctx context.Context) error {
		if c.Subscription != nil {
			if err := s.replaceVersioned(ctx, colSubscriptions,
				bson.M{"_id": c.Subscription.ID.String()}, c.Subscription.Version,
				toSubscriptionModel(c.Subscription), atelier.ErrSubscriptionNotFound); err != nil {
				return err
			}
		}
		if c.Change != nil {
			if _, err := s.db.Collection(colChanges).InsertOne(ctx, toChangeModel(c.Change)); err != nil {
				return s.mapWriteErr("insert change", err)
			}
		}
		if c.NewInvoice != nil {
			if _, err := s.db.Collection(colInvoices).InsertOne(ctx, toInvoiceModel(c.NewInvoice)); err != nil {
				return s.mapWriteErr("insert invoice", err)
			}
		}
		if c.Invoice != nil {
			if err := s.replaceVersioned(ctx, colInvoices,
				bson.M{"number": c.Invoice.Number}, c.Invoice.Version,
				toInvoiceModel(c.Invoice), atelier.ErrInvoiceNotFound); err != nil {
				return err
			}
		}
		if c.Usage != nil {
			if _, err := s.upsertUsage(ctx, c.Usage); err != nil {
				return err
			}
		}
		return nil
	})
}

// replaceVersioned swaps the document matching filter at the previous
// version for doc.
func (s *Store) replaceVersioned(ctx context.Context, col string, filter bson.M, version int64, doc any, notFound error) error {
	cas := bson.M{"version": atelierstore.PreviousVersion(version)}
	for k, v := range filter {
		cas[k] = v
	}
	res, err := s.db.Collection(col).ReplaceOne(ctx, cas, doc)
	if err != nil {
		return s.mapWriteErr("replace "+col, err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	n, err := s.db.Collection(col).CountDocuments(ctx, filter)
	if err != nil {
		return fmt.Errorf("atelier/mongo: check %s: %w", col, err)
	}
	if n == 0 {
		return notFound
	}
	return fmt.Errorf("%w: %s %v", atelier.ErrConcurrentUpdate, col, filter)
}

// ==================== Invoice Store ====================

func (s *Store) GetInvoice(ctx context.Context, number string) (*invoice.Invoice, error) {
	var m invoiceModel
	if err := s.db.Collection(colInvoices).FindOne(ctx, bson.M{"number": number}).Decode(&m); err != nil {
		if isNoDocuments(err) {
			return nil, atelier.ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("atelier/mongo: get invoice: %w", err)
	}
	return fromInvoiceModel(&m)
}

func (s *Store) ListInvoices(ctx context.Context, subID id.SubscriptionID, opts invoice.ListOpts) ([]*invoice.Invoice, error) {
	filter := bson.M{"subscription_id": subID.String()}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}
	findOpts := options.Find().SetSort(bson.D{{Key: "period_start", Value: -1}, {Key: "number", Value: -1}})
	paginate(findOpts, opts.Limit, opts.Offset)

	var models []invoiceModel
	if err := s.findAll(ctx, colInvoices, filter, findOpts, &models); err != nil {
		return nil, fmt.Errorf("atelier/mongo: list invoices: %w", err)
	}
	result := make([]*invoice.Invoice, 0, len(models))
	for i := range models {
		inv, err := fromInvoiceModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, inv)
	}
	return result, nil
}

// ==================== Usage Store ====================

func (s *Store) IncrementUsage(ctx context.Context, inc *usage.Increment) (*usage.Record, error) {
	if s.closed.Load() {
		return nil, atelier.ErrStoreClosed
	}
	n, err := s.db.Collection(colSubscriptions).CountDocuments(ctx, bson.M{"_id": inc.SubscriptionID.String()})
	if err != nil {
		return nil, fmt.Errorf("atelier/mongo: check subscription: %w", err)
	}
	if n == 0 {
		return nil, atelier.ErrSubscriptionNotFound
	}

	// Two first-of-month upserts can race on the unique index; the loser
	// retries as an update.
	for attempt := 1; ; attempt++ {
		rec, err := s.upsertUsage(ctx, inc)
		if err == nil || attempt == maxUpsertAttempts || !mongo.IsDuplicateKeyError(err) {
			return rec, err
		}
	}
}

func (s *Store) upsertUsage(ctx context.Context, inc *usage.Increment) (*usage.Record, error) {
	month := usage.Month(inc.Month)
	at := inc.At.UTC()
	d := inc.Delta
	update := bson.M{
		"$inc": bson.M{
			"artworks_added":    d.ArtworksAdded,
			"artworks_sold":     d.ArtworksSold,
			"total_views":       d.Views,
			"sales_amount":      d.SalesAmount,
			"commission_earned": d.CommissionEarned,
			"featured_days":     d.FeaturedDays,
			"api_calls":         d.APICalls,
			"storage_mb":        d.StorageMB,
		},
		"$set": bson.M{"updated_at": at},
		"$setOnInsert": bson.M{
			"_id":        id.NewUsageID().String(),
			"currency":   strings.ToLower(inc.Currency),
			"created_at": at,
		},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var m usageModel
	err := s.db.Collection(colUsage).FindOneAndUpdate(ctx,
		bson.M{"subscription_id": inc.SubscriptionID.String(), "month": month}, update, opts).Decode(&m)
	if err != nil {
		return nil, fmt.Errorf("atelier/mongo: upsert usage: %w", err)
	}
	return fromUsageModel(&m)
}

func (s *Store) GetUsage(ctx context.Context, subID id.SubscriptionID, month time.Time) (*usage.Record, error) {
	var m usageModel
	err := s.db.Collection(colUsage).FindOne(ctx,
		bson.M{"subscription_id": subID.String(), "month": usage.Month(month)}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, atelier.ErrUsageNotFound
		}
		return nil, fmt.Errorf("atelier/mongo: get usage: %w", err)
	}
	return fromUsageModel(&m)
}

func (s *Store) ListUsage(ctx context.Context, subID id.SubscriptionID, opts usage.ListOpts) ([]*usage.Record, error) {
	findOpts := options.Find().SetSort(bson.D{{Key: "month", Value: -1}})
	paginate(findOpts, opts.Limit, opts.Offset)

	var models []usageModel
	if err := s.findAll(ctx, colUsage, bson.M{"subscription_id": subID.String()}, findOpts, &models); err != nil {
		return nil, fmt.Errorf("atelier/mongo: list usage: %w", err)
	}
	result := make([]*usage.Record, 0, len(models))
	for i := range models {
		rec, err := fromUsageModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, nil
}

// ==================== Change Store ====================

func (s *Store) ListChanges(ctx context.Context, subID id.SubscriptionID, opts change.ListOpts) ([]*change.Record, error) {
	filter := bson.M{"subscription_id": subID.String()}
	if opts.Type != "" {
		filter["type"] = string(opts.Type)
	}
	findOpts := options.Find().SetSort(bson.D{{Key: "effective_date", Value: -1}, {Key: "_id", Value: -1}})
	paginate(findOpts, opts.Limit, opts.Offset)

	var models []changeModel
	if err := s.findAll(ctx, colChanges, filter, findOpts, &models); err != nil {
		return nil, fmt.Errorf("atelier/mongo: list changes: %w", err)
	}
	result := make([]*change.Record, 0, len(models))
	for i := range models {
		rec, err := fromChangeModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, nil
}

// ==================== Helpers ====================

func (s *Store) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.closed.Load() {
		return atelier.ErrStoreClosed
	}
	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("atelier/mongo: start session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
	return err
}

func (s *Store) findAll(ctx context.Context, col string, filter bson.M, opts *options.FindOptionsBuilder, out any) error {
	cur, err := s.db.Collection(col).Find(ctx, filter, opts)
	if err != nil {
		return err
	}
	return cur.All(ctx, out)
}

// mapWriteErr turns duplicate key errors on the named unique indexes into
// domain errors.
func (s *Store) mapWriteErr(op string, err error) error {
	if !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("atelier/mongo: %s: %w", op, err)
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, idxOpenArtist):
		return atelier.ErrSubscriptionExists
	case strings.Contains(msg, idxInvoiceNumber):
		return fmt.Errorf("%w: %v", atelier.ErrDuplicateInvoiceNumber, err)
	case strings.Contains(msg, idxInvoicePeriod):
		return atelier.ErrInvoiceExists
	case strings.Contains(msg, idxPlanSlug):
		return atelier.ErrPlanExists
	case strings.Contains(msg, "index: _id_"):
		if strings.Contains(msg, "."+colSubscriptions+" ") {
			return atelier.ErrSubscriptionExists
		}
	}
	return fmt.Errorf("atelier/mongo: %s: %w", op, err)
}

func paginate(opts *options.FindOptionsBuilder, limit, offset int) {
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	if offset > 0 {
		opts.SetSkip(int64(offset))
	}
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colPlans: {
			{
				Keys:    bson.D{{Key: "slug", Value: 1}},
				Options: options.Index().SetName(idxPlanSlug).SetUnique(true),
			},
			{Keys: bson.D{{Key: "active", Value: 1}, {Key: "display_order", Value: 1}}},
		},
		colSubscriptions: {
			{
				Keys: bson.D{{Key: "artist_id", Value: 1}},
				Options: options.Index().SetName(idxOpenArtist).SetUnique(true).
					SetPartialFilterExpression(bson.M{"open": true}),
			},
			{Keys: bson.D{{Key: "plan_id", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "current_period_end", Value: 1}}},
		},
		colInvoices: {
			{
				Keys:    bson.D{{Key: "number", Value: 1}},
				Options: options.Index().SetName(idxInvoiceNumber).SetUnique(true),
			},
			{
				Keys:    bson.D{{Key: "subscription_id", Value: 1}, {Key: "period_start", Value: 1}},
				Options: options.Index().SetName(idxInvoicePeriod).SetUnique(true),
			},
		},
		colUsage: {
			{
				Keys:    bson.D{{Key: "subscription_id", Value: 1}, {Key: "month", Value: 1}},
				Options: options.Index().SetName(idxUsageMonth).SetUnique(true),
			},
		},
		colChanges: {
			{Keys: bson.D{{Key: "subscription_id", Value: 1}, {Key: "effective_date", Value: -1}}},
		},
	}
}
