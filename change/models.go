// Package change holds the append-only history of subscription transitions.
package change

import (
	"cmp"
	"slices"
	"time"

	"github.com/xraph/atelier/id"
	"github.com/xraph/atelier/subscription"
	"github.com/xraph/atelier/types"
)

type Type string

const (
	TypeUpgrade      Type = "upgrade"
	TypeDowngrade    Type = "downgrade"
	TypeRenewal      Type = "renewal"
	TypeCancellation Type = "cancellation"
	TypeReactivation Type = "reactivation"
	TypePause        Type = "pause"
	TypeResume       Type = "resume"
	TypePastDue      Type = "past_due"
	TypeExpiration   Type = "expiration"
)

// Valid reports whether t is a known change type.
func (t Type) Valid() bool {
	switch t {
	case TypeUpgrade, TypeDowngrade, TypeRenewal, TypeCancellation, TypeReactivation,
		TypePause, TypeResume, TypePastDue, TypeExpiration:
		return true
	default:
		return false
	}
}

// Record is an immutable audit entry. A nil plan ID or price means the value
// was not set at the time of the change. An empty Actor means the system.
type Record struct {
	ID             id.ChangeID         `json:"id"`
	SubscriptionID id.SubscriptionID   `json:"subscription_id"`
	Type           Type                `json:"type"`
	FromPlanID     id.PlanID           `json:"from_plan_id"`
	ToPlanID       id.PlanID           `json:"to_plan_id"`
	FromPrice      *types.Money        `json:"from_price,omitempty"`
	ToPrice        *types.Money        `json:"to_price,omitempty"`
	FromStatus     subscription.Status `json:"from_status"`
	ToStatus       subscription.Status `json:"to_status"`
	Reason         string              `json:"reason,omitempty"`
	EffectiveDate  time.Time           `json:"effective_date"`
	Actor          string              `json:"actor,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
}

// ChangesPlan reports whether the record rebinds the subscription to a
// different plan.
func (r *Record) ChangesPlan() bool {
	return !r.FromPlanID.IsNil() && !r.ToPlanID.IsNil() && !r.FromPlanID.Equal(r.ToPlanID)
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.FromPrice != nil {
		v := *r.FromPrice
		c.FromPrice = &v
	}
	if r.ToPrice != nil {
		v := *r.ToPrice
		c.ToPrice = &v
	}
	return &c
}

// CompareNewestFirst orders records by effective date descending, then by
// ID descending. IDs are time-sortable so ties keep insertion order.
func CompareNewestFirst(a, b *Record) int {
	if c := b.EffectiveDate.Compare(a.EffectiveDate); c != 0 {
		return c
	}
	return cmp.Compare(b.ID.String(), a.ID.String())
}

// SortNewestFirst sorts records in place, newest first.
func SortNewestFirst(records []*Record) {
	slices.SortFunc(records, CompareNewestFirst)
}

// PlanAt reconstructs the plan bound at instant t from a subscription's
// history and its current plan. The plan at t is the FromPlanID of the
// earliest plan change taking effect after t; with no such change the
// current plan was already bound.
func PlanAt(history []*Record, current id.PlanID, t time.Time) id.PlanID {
	var earliest *Record
	for _, r := range history {
		if !r.ChangesPlan() || !r.EffectiveDate.After(t) {
			continue
		}
		if earliest == nil || CompareNewestFirst(r, earliest) > 0 {
			earliest = r
		}
	}
	if earliest == nil {
		return current
	}
	return earliest.FromPlanID
}

type ListOpts struct {
	Type   Type
	Limit  int
	Offset int
}
