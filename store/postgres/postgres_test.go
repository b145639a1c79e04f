package postgres_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/atelier"
	"github.com/xraph/atelier/id"
	"github.com/xraph/atelier/invoice"
	"github.com/xraph/atelier/plan"
	"github.com/xraph/atelier/store"
	"github.com/xraph/atelier/store/postgres"
	"github.com/xraph/atelier/store/sqlstore"
	"github.com/xraph/atelier/store/storetest"
	"github.com/xraph/atelier/subscription"
	"github.com/xraph/atelier/types"
)

func newMock(t *testing.T) (*sqlstore.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return postgres.New(db), mock
}

func TestRebind(t *testing.T) {
	d := postgres.Dialect()
	assert.Equal(t, "SELECT 1 FROM t WHERE a = $1 AND b IN ($2, $3)", d.Rebind("SELECT 1 FROM t WHERE a = ? AND b IN (?, ?)"))
	assert.Equal(t, "SELECT 1", d.Rebind("SELECT 1"))
}

func TestClassify(t *testing.T) {
	d := postgres.Dialect()
	tests := []struct {
		name string
		err  error
		want sqlstore.Constraint
	}{
		{"slug", &pq.Error{Code: "23505", Constraint: "plans_slug_key"}, sqlstore.ConstraintPlanSlug},
		{"open subscription", &pq.Error{Code: "23505", Constraint: "subscriptions_open_artist_idx"}, sqlstore.ConstraintOpenSubscription},
		{"invoice number", &pq.Error{Code: "23505", Constraint: "invoices_number_key"}, sqlstore.ConstraintInvoiceNumber},
		{"invoice period", &pq.Error{Code: "23505", Constraint: "invoices_period_key"}, sqlstore.ConstraintInvoicePeriod},
		{"primary key", &pq.Error{Code: "23505", Constraint: "plans_pkey"}, sqlstore.ConstraintPrimaryKey},
		{"foreign key", &pq.Error{Code: "23503", Constraint: "subscriptions_plan_id_fkey"}, sqlstore.ConstraintUnknown},
		{"plain error", errors.New("boom"), sqlstore.ConstraintUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, d.Classify(tt.err))
		})
	}
}

func TestGetPlanNotFound(t *testing.T) {
	s, mock := newMock(t)
	planID := id.NewPlanID()

	mock.ExpectQuery(regexp.QuoteMeta("FROM plans WHERE id = $1")).
		WithArgs(planID.String()).
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetPlan(context.Background(), planID)
	assert.ErrorIs(t, err, atelier.ErrPlanNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreatePlanDuplicateSlug(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO plans")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "plans_slug_key"})

	err := s.CreatePlan(context.Background(), newPlan())
	assert.ErrorIs(t, err, atelier.ErrPlanExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitDuplicateInvoiceNumberRollsBack(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO invoices")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "invoices_number_key"})
	mock.ExpectRollback()

	err := s.Commit(context.Background(), &store.Commit{NewInvoice: newInvoice()})
	assert.ErrorIs(t, err, atelier.ErrDuplicateInvoiceNumber)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitStaleVersion(t *testing.T) {
	s, mock := newMock(t)
	sub := newSubscription()
	sub.Version = 3

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE subscriptions SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM subscriptions WHERE id = $1")).
		WithArgs(sub.ID.String()).
		WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))
	mock.ExpectRollback()

	err := s.Commit(context.Background(), &store.Commit{Subscription: sub})
	assert.ErrorIs(t, err, atelier.ErrConcurrentUpdate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitMissingSubscription(t *testing.T) {
	s, mock := newMock(t)
	sub := newSubscription()
	sub.Version = 2

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE subscriptions SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM subscriptions")).
		WillReturnRows(sqlmock.NewRows([]string{"one"}))
	mock.ExpectRollback()

	err := s.Commit(context.Background(), &store.Commit{Subscription: sub})
	assert.ErrorIs(t, err, atelier.ErrSubscriptionNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeletePlanInUse(t *testing.T) {
	s, mock := newMock(t)
	planID := id.NewPlanID()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM subscriptions WHERE plan_id = $1")).
		WithArgs(planID.String()).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectRollback()

	assert.ErrorIs(t, s.DeletePlan(context.Background(), planID), atelier.ErrPlanInUse)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeletePlanReferencedByHistory(t *testing.T) {
	s, mock := newMock(t)
	planID := id.NewPlanID()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM subscriptions WHERE plan_id = $1")).
		WithArgs(planID.String()).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT COUNT(*) FROM subscription_changes WHERE from_plan_id = $1 OR to_plan_id = $2")).
		WithArgs(planID.String(), planID.String()).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	assert.ErrorIs(t, s.DeletePlan(context.Background(), planID), atelier.ErrPlanInUse)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClosedStore(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectClose()
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Ping(context.Background()), atelier.ErrStoreClosed)
	assert.ErrorIs(t, s.Commit(context.Background(), &store.Commit{NewInvoice: newInvoice()}), atelier.ErrStoreClosed)
}

// TestConformance runs the shared suite against a real server when
// ATELIER_TEST_POSTGRES_URL is set.
func TestConformance(t *testing.T) {
	url := os.Getenv("ATELIER_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("ATELIER_TEST_POSTGRES_URL not set")
	}

	storetest.Run(t, func(t *testing.T) store.Store {
		ctx := context.Background()
		s, err := postgres.Open(ctx, url)
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		require.NoError(t, s.Migrate(ctx))
		_, err = s.DB().ExecContext(ctx,
			`TRUNCATE subscription_changes, usage_records, invoices, subscriptions, plans`)
		require.NoError(t, err)
		return s
	})
}

// ──────────────────────────────────────────────────
// Fixtures
// ──────────────────────────────────────────────────

var epoch = time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

func newPlan() *plan.Plan {
	return &plan.Plan{
		Entity:        types.NewEntity(epoch),
		ID:            id.NewPlanID(),
		Slug:          "pro",
		Name:          "Pro",
		Tier:          plan.TierProfessional,
		Price:         types.GBP(1999),
		BillingPeriod: plan.Monthly,
		MaxArtworks:   25,
		Active:        true,
	}
}

func newSubscription() *subscription.Subscription {
	return &subscription.Subscription{
		Entity:              types.NewEntity(epoch),
		ID:                  id.NewSubscriptionID(),
		ArtistID:            "artist-1",
		PlanID:              id.NewPlanID(),
		Status:              subscription.StatusActive,
		CurrentPeriodStart:  epoch,
		CurrentPeriodEnd:    epoch.AddDate(0, 0, 30),
		AutoRenew:           true,
		TotalSales:          types.GBP(0),
		TotalCommissionPaid: types.GBP(0),
		Version:             1,
	}
}

func newInvoice() *invoice.Invoice {
	return &invoice.Invoice{
		Entity:         types.NewEntity(epoch),
		ID:             id.NewInvoiceID(),
		Number:         invoice.NewNumber(epoch),
		SubscriptionID: id.NewSubscriptionID(),
		Status:         invoice.StatusPending,
		Amount:         types.GBP(1999),
		PeriodStart:    epoch,
		PeriodEnd:      epoch.AddDate(0, 0, 30),
		DueDate:        epoch.AddDate(0, 0, 7),
		RefundedAmount: types.GBP(0),
		Version:        1,
	}
}
