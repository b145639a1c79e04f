// Package usage tracks per-subscription, per-month usage counters.
package usage

import (
	"errors"
	"fmt"
	"time"

	"github.com/xraph/atelier/id"
	"github.com/xraph/atelier/types"
)

// Record aggregates one subscription's usage for one calendar month.
type Record struct {
	types.Entity
	ID               id.UsageID        `json:"id"`
	SubscriptionID   id.SubscriptionID `json:"subscription_id"`
	Month            time.Time         `json:"month"`
	ArtworksAdded    int64             `json:"artworks_added"`
	ArtworksSold     int64             `json:"artworks_sold"`
	TotalViews       int64             `json:"total_views"`
	SalesAmount      types.Money       `json:"sales_amount"`
	CommissionEarned types.Money       `json:"commission_earned"`
	FeaturedDays     int64             `json:"featured_days"`
	APICalls         int64             `json:"api_calls"`
	StorageMB        int64             `json:"storage_mb"`
}

// Delta is a set of additive increments. Money fields are in the minor
// unit of the record's currency.
type Delta struct {
	ArtworksAdded    int64 `json:"artworks_added,omitempty"`
	ArtworksSold     int64 `json:"artworks_sold,omitempty"`
	Views            int64 `json:"views,omitempty"`
	SalesAmount      int64 `json:"sales_amount,omitempty"`
	CommissionEarned int64 `json:"commission_earned,omitempty"`
	FeaturedDays     int64 `json:"featured_days,omitempty"`
	APICalls         int64 `json:"api_calls,omitempty"`
	StorageMB        int64 `json:"storage_mb,omitempty"`
}

// ErrNegativeDelta is returned by Validate for any negative counter.
var ErrNegativeDelta = errors.New("usage: increments must not be negative")

// Validate rejects negative increments; counters only grow.
func (d Delta) Validate() error {
	fields := []struct {
		name string
		v    int64
	}{
		{"artworks_added", d.ArtworksAdded},
		{"artworks_sold", d.ArtworksSold},
		{"views", d.Views},
		{"sales_amount", d.SalesAmount},
		{"commission_earned", d.CommissionEarned},
		{"featured_days", d.FeaturedDays},
		{"api_calls", d.APICalls},
		{"storage_mb", d.StorageMB},
	}
	for _, f := range fields {
		if f.v < 0 {
			return fmt.Errorf("%w: %s=%d", ErrNegativeDelta, f.name, f.v)
		}
	}
	return nil
}

// IsZero reports whether applying d would change nothing.
func (d Delta) IsZero() bool {
	return d == Delta{}
}

// Month normalises t to the first instant of its UTC calendar month.
func Month(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// NewRecord creates an empty record for the month containing month.
func NewRecord(subID id.SubscriptionID, month time.Time, currency string, now time.Time) *Record {
	return &Record{
		Entity:           types.NewEntity(now),
		ID:               id.NewUsageID(),
		SubscriptionID:   subID,
		Month:            Month(month),
		SalesAmount:      types.Zero(currency),
		CommissionEarned: types.Zero(currency),
	}
}

// Apply adds d to the record's counters.
func (r *Record) Apply(d Delta, now time.Time) {
	r.ArtworksAdded += d.ArtworksAdded
	r.ArtworksSold += d.ArtworksSold
	r.TotalViews += d.Views
	r.SalesAmount.Amount += d.SalesAmount
	r.CommissionEarned.Amount += d.CommissionEarned
	r.FeaturedDays += d.FeaturedDays
	r.APICalls += d.APICalls
	r.StorageMB += d.StorageMB
	r.Touch(now)
}

// Clone returns a copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// Increment is an upsert request: create the month's record if missing,
// then apply Delta.
type Increment struct {
	SubscriptionID id.SubscriptionID
	Month          time.Time
	Currency       string
	Delta          Delta
	At             time.Time
}
