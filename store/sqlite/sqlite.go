// Package sqlite provides the SQLite backend: a mattn/go-sqlite3 dialect
// for sqlstore plus the embedded golang-migrate schema. It suits single
// node deployments and tests.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"

	// golang-migrate driver for sqlite3:// URLs.
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/mattn/go-sqlite3"

	"github.com/xraph/atelier/store/sqlstore"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLite reports the violated columns, not the constraint name.
var constraints = map[string]sqlstore.Constraint{
	"plans.slug":              sqlstore.ConstraintPlanSlug,
	"subscriptions.artist_id": sqlstore.ConstraintOpenSubscription,
	"invoices.number":         sqlstore.ConstraintInvoiceNumber,
	"invoices.subscription_id, invoices.period_start":    sqlstore.ConstraintInvoicePeriod,
	"usage_records.subscription_id, usage_records.month": sqlstore.ConstraintUsageMonth,
}

const uniqueFailed = "UNIQUE constraint failed: "

type dialect struct{}

// Dialect returns the SQLite dialect.
func Dialect() sqlstore.Dialect { return dialect{} }

func (dialect) Name() string { return "sqlite" }

func (dialect) Rebind(query string) string { return sqlstore.Question(query) }

func (dialect) Classify(err error) sqlstore.Constraint {
	var sqErr sqlite3.Error
	if !errors.As(err, &sqErr) || sqErr.Code != sqlite3.ErrConstraint {
		return sqlstore.ConstraintUnknown
	}
	if sqErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
		return sqlstore.ConstraintPrimaryKey
	}
	if sqErr.ExtendedCode != sqlite3.ErrConstraintUnique {
		return sqlstore.ConstraintUnknown
	}
	msg := sqErr.Error()
	if i := strings.Index(msg, uniqueFailed); i >= 0 {
		if c, ok := constraints[msg[i+len(uniqueFailed):]]; ok {
			return c
		}
	}
	return sqlstore.ConstraintUnknown
}

// Migrate applies the embedded schema to the database file at path.
func Migrate(path string) error {
	return sqlstore.RunMigrations(migrations, "migrations", "sqlite3://"+path)
}

// Open opens (creating if needed) the database file at path and returns a
// store whose Migrate applies the embedded schema. Writers are serialised
// through a single connection.
func Open(ctx context.Context, path string, opts ...sqlstore.Option) (*sqlstore.Store, error) {
	dsn := "file:" + path + "?_txlock=immediate&_foreign_keys=on&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("atelier/sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck // best-effort
		return nil, fmt.Errorf("atelier/sqlite: ping: %w", err)
	}

	opts = append([]sqlstore.Option{
		sqlstore.WithMigrations(func(context.Context) error { return Migrate(path) }),
	}, opts...)
	return sqlstore.New(db, Dialect(), opts...), nil
}
