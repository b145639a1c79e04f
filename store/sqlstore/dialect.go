// Package sqlstore implements store.Store on database/sql. The postgres and
// sqlite packages supply a Dialect and their embedded migrations.
package sqlstore

import (
	"strconv"
	"strings"
)

// Constraint names a uniqueness rule the schema enforces.
type Constraint int

const (
	ConstraintUnknown Constraint = iota
	ConstraintPlanSlug
	ConstraintOpenSubscription
	ConstraintInvoiceNumber
	ConstraintInvoicePeriod
	ConstraintUsageMonth
	ConstraintPrimaryKey
)

// Dialect isolates what differs between SQL engines.
type Dialect interface {
	// Name is used in logs.
	Name() string
	// Rebind rewrites ? placeholders into the engine's bind syntax.
	Rebind(query string) string
	// Classify reports which uniqueness rule err violated, if any.
	Classify(err error) Constraint
}

// Question leaves ? placeholders as they are.
func Question(query string) string { return query }

// Dollar rewrites ? placeholders into $1, $2, ... Queries in this package
// never contain a literal question mark.
func Dollar(query string) string {
	n := strings.Count(query, "?")
	if n == 0 {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + n*2)
	arg := 0
	for i := 0; i < len(query); i++ {
		if query[i] != '?' {
			b.WriteByte(query[i])
			continue
		}
		arg++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(arg))
	}
	return b.String()
}
