package invoice

import (
	"encoding/json"
	"time"

	"github.com/xraph/atelier/id"
	"github.com/xraph/atelier/types"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusRefunded  Status = "refunded"
)

// refunded -> refunded records a further partial refund.
var transitions = map[Status][]Status{
	StatusDraft:     {StatusPending, StatusCancelled},
	StatusPending:   {StatusPaid, StatusFailed, StatusCancelled},
	StatusFailed:    {StatusPaid, StatusCancelled},
	StatusPaid:      {StatusRefunded},
	StatusRefunded:  {StatusRefunded},
	StatusCancelled: nil,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether moving from s to next is allowed.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Settled reports whether money has been collected for an invoice in s.
func (s Status) Settled() bool {
	return s == StatusPaid || s == StatusRefunded
}

type Invoice struct {
	types.Entity
	ID               id.InvoiceID      `json:"id"`
	Number           string            `json:"number"`
	SubscriptionID   id.SubscriptionID `json:"subscription_id"`
	Status           Status            `json:"status"`
	Amount           types.Money       `json:"amount"`
	PeriodStart      time.Time         `json:"period_start"`
	PeriodEnd        time.Time         `json:"period_end"`
	DueDate          time.Time         `json:"due_date"`
	PaidAt           *time.Time        `json:"paid_at,omitempty"`
	PaymentMethod    string            `json:"payment_method,omitempty"`
	TransactionID    string            `json:"transaction_id,omitempty"`
	GatewayPaymentID string            `json:"gateway_payment_id,omitempty"`
	GatewayResponse  json.RawMessage   `json:"gateway_response,omitempty"`
	Description      string            `json:"description"`
	LineItems        []LineItem        `json:"line_items"`
	IsRefunded       bool              `json:"is_refunded"`
	RefundedAmount   types.Money       `json:"refunded_amount"`
	Notes            string            `json:"notes,omitempty"`
	Version          int64             `json:"version"`
}

type LineItem struct {
	ID          id.LineItemID `json:"id"`
	Description string        `json:"description"`
	Quantity    int64         `json:"quantity"`
	UnitAmount  types.Money   `json:"unit_amount"`
	Amount      types.Money   `json:"amount"`
	Type        LineItemType  `json:"type"`
}

type LineItemType string

const (
	LineItemBase       LineItemType = "base"
	LineItemAdjustment LineItemType = "adjustment"
)

// NewLineItem prices qty units of unit.
func NewLineItem(typ LineItemType, description string, qty int64, unit types.Money) LineItem {
	return LineItem{
		ID:          id.NewLineItemID(),
		Description: description,
		Quantity:    qty,
		UnitAmount:  unit,
		Amount:      unit.Multiply(qty),
		Type:        typ,
	}
}

// Total sums the line item amounts in currency.
func Total(currency string, items []LineItem) types.Money {
	amounts := make([]types.Money, len(items))
	for i, li := range items {
		amounts[i] = li.Amount
	}
	return types.Sum(currency, amounts...)
}

// Refundable returns the amount that can still be refunded.
func (inv *Invoice) Refundable() types.Money {
	return inv.Amount.Subtract(inv.RefundedAmount)
}

// Clone returns a deep copy of the invoice.
func (inv *Invoice) Clone() *Invoice {
	if inv == nil {
		return nil
	}
	c := *inv
	if inv.PaidAt != nil {
		t := *inv.PaidAt
		c.PaidAt = &t
	}
	if inv.GatewayResponse != nil {
		c.GatewayResponse = append(json.RawMessage(nil), inv.GatewayResponse...)
	}
	if inv.LineItems != nil {
		c.LineItems = append([]LineItem(nil), inv.LineItems...)
	}
	return &c
}
