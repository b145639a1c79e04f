package mongo

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/atelier/change"
	"github.com/xraph/atelier/id"
	"github.com/xraph/atelier/invoice"
	"github.com/xraph/atelier/plan"
	"github.com/xraph/atelier/subscription"
	"github.com/xraph/atelier/types"
	"github.com/xraph/atelier/usage"
)

// BSON dates hold milliseconds; finer precision is truncated on write.

// ==================== Plan models ====================

type planModel struct {
	ID               string         `bson:"_id"`
	Slug             string         `bson:"slug"`
	Name             string         `bson:"name"`
	Tier             string         `bson:"tier"`
	Description      string         `bson:"description"`
	PriceAmount      int64          `bson:"price_amount"`
	Currency         string         `bson:"currency"`
	BillingPeriod    string         `bson:"billing_period"`
	MaxArtworks      int            `bson:"max_artworks"`
	CommissionRate   string         `bson:"commission_rate"`
	FeaturedArtworks int            `bson:"featured_artworks"`
	TrialDays        int            `bson:"trial_days"`
	Features         map[string]any `bson:"features,omitempty"`
	Active           bool           `bson:"active"`
	Featured         bool           `bson:"featured"`
	DisplayOrder     int            `bson:"display_order"`
	CreatedAt        time.Time      `bson:"created_at"`
	UpdatedAt        time.Time      `bson:"updated_at"`
}

func toPlanModel(p *plan.Plan) *planModel {
	return &planModel{
		ID:               p.ID.String(),
		Slug:             p.Slug,
		Name:             p.Name,
		Tier:             string(p.Tier),
		Description:      p.Description,
		PriceAmount:      p.Price.Amount,
		Currency:         p.Price.Currency,
		BillingPeriod:    string(p.BillingPeriod),
		MaxArtworks:      p.MaxArtworks,
		CommissionRate:   p.CommissionRate.String(),
		FeaturedArtworks: p.FeaturedArtworks,
		TrialDays:        p.TrialDays,
		Features:         toAttributesModel(p.Features),
		Active:           p.Active,
		Featured:         p.Featured,
		DisplayOrder:     p.DisplayOrder,
		CreatedAt:        p.CreatedAt.UTC(),
		UpdatedAt:        p.UpdatedAt.UTC(),
	}
}

func fromPlanModel(m *planModel) (*plan.Plan, error) {
	planID, err := id.ParsePlanID(m.ID)
	if err != nil {
		return nil, err
	}
	rate, err := decimal.NewFromString(m.CommissionRate)
	if err != nil {
		return nil, fmt.Errorf("plan %s commission rate: %w", m.ID, err)
	}
	features, err := fromAttributesModel(m.Features)
	if err != nil {
		return nil, fmt.Errorf("plan %s features: %w", m.ID, err)
	}
	return &plan.Plan{
		Entity:           types.Entity{CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC()},
		ID:               planID,
		Slug:             m.Slug,
		Name:             m.Name,
		Tier:             plan.Tier(m.Tier),
		Description:      m.Description,
		Price:            types.New(m.PriceAmount, m.Currency),
		BillingPeriod:    plan.BillingPeriod(m.BillingPeriod),
		MaxArtworks:      m.MaxArtworks,
		CommissionRate:   rate,
		FeaturedArtworks: m.FeaturedArtworks,
		TrialDays:        m.TrialDays,
		Features:         features,
		Active:           m.Active,
		Featured:         m.Featured,
		DisplayOrder:     m.DisplayOrder,
	}, nil
}

// ==================== Subscription models ====================

type subscriptionModel struct {
	ID                 string         `bson:"_id"`
	ArtistID           string         `bson:"artist_id"`
	PlanID             string         `bson:"plan_id"`
	Status             string         `bson:"status"`
	CurrentPeriodStart time.Time      `bson:"current_period_start"`
	CurrentPeriodEnd   time.Time      `bson:"current_period_end"`
	TrialStart         *time.Time     `bson:"trial_start,omitempty"`
	TrialEnd           *time.Time     `bson:"trial_end,omitempty"`
	NextBillingDate    *time.Time     `bson:"next_billing_date,omitempty"`
	PriceOverride      *int64         `bson:"price_override,omitempty"`
	Currency           string         `bson:"currency"`
	CancelAtPeriodEnd  bool           `bson:"cancel_at_period_end"`
	CancelledAt        *time.Time     `bson:"cancelled_at,omitempty"`
	CancellationReason string         `bson:"cancellation_reason,omitempty"`
	AutoRenew          bool           `bson:"auto_renew"`
	PaymentFailedCount int            `bson:"payment_failed_count"`
	LastPaymentDate    *time.Time     `bson:"last_payment_date,omitempty"`
	LastPaymentAmount  *int64         `bson:"last_payment_amount,omitempty"`
	ArtworksCount      int            `bson:"artworks_count"`
	TotalSales         int64          `bson:"total_sales"`
	TotalCommission    int64          `bson:"total_commission_paid"`
	Notes              string         `bson:"notes,omitempty"`
	Metadata           map[string]any `bson:"metadata,omitempty"`
	// Open is set only on non-terminal subscriptions; a partial unique
	// index on (artist_id) over open documents keeps one per artist.
	Open      bool      `bson:"open,omitempty"`
	Version   int64     `bson:"version"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func toSubscriptionModel(s *subscription.Subscription) *subscriptionModel {
	return &subscriptionModel{
		ID:                 s.ID.String(),
		ArtistID:           s.ArtistID,
		PlanID:             s.PlanID.String(),
		Status:             string(s.Status),
		CurrentPeriodStart: s.CurrentPeriodStart.UTC(),
		CurrentPeriodEnd:   s.CurrentPeriodEnd.UTC(),
		TrialStart:         utcPtr(s.TrialStart),
		TrialEnd:           utcPtr(s.TrialEnd),
		NextBillingDate:    utcPtr(s.NextBillingDate),
		PriceOverride:      amountPtr(s.PriceOverride),
		Currency:           s.TotalSales.Currency,
		CancelAtPeriodEnd:  s.CancelAtPeriodEnd,
		CancelledAt:        utcPtr(s.CancelledAt),
		CancellationReason: s.CancellationReason,
		AutoRenew:          s.AutoRenew,
		PaymentFailedCount: s.PaymentFailedCount,
		LastPaymentDate:    utcPtr(s.LastPaymentDate),
		LastPaymentAmount:  amountPtr(s.LastPaymentAmount),
		ArtworksCount:      s.ArtworksCount,
		TotalSales:         s.TotalSales.Amount,
		TotalCommission:    s.TotalCommissionPaid.Amount,
		Notes:              s.Notes,
		Metadata:           toAttributesModel(s.Metadata),
		Open:               !s.Status.IsTerminal(),
		Version:            s.Version,
		CreatedAt:          s.CreatedAt.UTC(),
		UpdatedAt:          s.UpdatedAt.UTC(),
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, err
	}
	planID, err := id.ParsePlanID(m.PlanID)
	if err != nil {
		return nil, err
	}
	metadata, err := fromAttributesModel(m.Metadata)
	if err != nil {
		return nil, fmt.Errorf("subscription %s metadata: %w", m.ID, err)
	}
	return &subscription.Subscription{
		Entity:              types.Entity{CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC()},
		ID:                  subID,
		ArtistID:            m.ArtistID,
		PlanID:              planID,
		Status:              subscription.Status(m.Status),
		CurrentPeriodStart:  m.CurrentPeriodStart.UTC(),
		CurrentPeriodEnd:    m.CurrentPeriodEnd.UTC(),
		TrialStart:          utcPtr(m.TrialStart),
		TrialEnd:            utcPtr(m.TrialEnd),
		NextBillingDate:     utcPtr(m.NextBillingDate),
		PriceOverride:       moneyPtr(m.PriceOverride, m.Currency),
		CancelAtPeriodEnd:   m.CancelAtPeriodEnd,
		CancelledAt:         utcPtr(m.CancelledAt),
		CancellationReason:  m.CancellationReason,
		AutoRenew:           m.AutoRenew,
		PaymentFailedCount:  m.PaymentFailedCount,
		LastPaymentDate:     utcPtr(m.LastPaymentDate),
		LastPaymentAmount:   moneyPtr(m.LastPaymentAmount, m.Currency),
		ArtworksCount:       m.ArtworksCount,
		TotalSales:          types.New(m.TotalSales, m.Currency),
		TotalCommissionPaid: types.New(m.TotalCommission, m.Currency),
		Notes:               m.Notes,
		Metadata:            metadata,
		Version:             m.Version,
	}, nil
}

// ==================== Invoice models ====================

type lineItemModel struct {
	ID          string `bson:"id"`
	Description string `bson:"description"`
	Quantity    int64  `bson:"quantity"`
	UnitAmount  int64  `bson:"unit_amount"`
	Amount      int64  `bson:"amount"`
	Type        string `bson:"type"`
}

type invoiceModel struct {
	ID               string          `bson:"_id"`
	Number           string          `bson:"number"`
	SubscriptionID   string          `bson:"subscription_id"`
	Status           string          `bson:"status"`
	Amount           int64           `bson:"amount"`
	Currency         string          `bson:"currency"`
	PeriodStart      time.Time       `bson:"period_start"`
	PeriodEnd        time.Time       `bson:"period_end"`
	DueDate          time.Time       `bson:"due_date"`
	PaidAt           *time.Time      `bson:"paid_at,omitempty"`
	PaymentMethod    string          `bson:"payment_method,omitempty"`
	TransactionID    string          `bson:"transaction_id,omitempty"`
	GatewayPaymentID string          `bson:"gateway_payment_id,omitempty"`
	GatewayResponse  string          `bson:"gateway_response,omitempty"`
	Description      string          `bson:"description"`
	LineItems        []lineItemModel `bson:"line_items"`
	IsRefunded       bool            `bson:"is_refunded"`
	RefundedAmount   int64           `bson:"refunded_amount"`
	Notes            string          `bson:"notes,omitempty"`
	Version          int64           `bson:"version"`
	CreatedAt        time.Time       `bson:"created_at"`
	UpdatedAt        time.Time       `bson:"updated_at"`
}

// Line items share the invoice currency.
func toInvoiceModel(inv *invoice.Invoice) *invoiceModel {
	items := make([]lineItemModel, len(inv.LineItems))
	for i, li := range inv.LineItems {
		items[i] = lineItemModel{
			ID:          li.ID.String(),
			Description: li.Description,
			Quantity:    li.Quantity,
			UnitAmount:  li.UnitAmount.Amount,
			Amount:      li.Amount.Amount,
			Type:        string(li.Type),
		}
	}
	return &invoiceModel{
		ID:               inv.ID.String(),
		Number:           inv.Number,
		SubscriptionID:   inv.SubscriptionID.String(),
		Status:           string(inv.Status),
		Amount:           inv.Amount.Amount,
		Currency:         inv.Amount.Currency,
		PeriodStart:      inv.PeriodStart.UTC(),
		PeriodEnd:        inv.PeriodEnd.UTC(),
		DueDate:          inv.DueDate.UTC(),
		PaidAt:           utcPtr(inv.PaidAt),
		PaymentMethod:    inv.PaymentMethod,
		TransactionID:    inv.TransactionID,
		GatewayPaymentID: inv.GatewayPaymentID,
		GatewayResponse:  string(inv.GatewayResponse),
		Description:      inv.Description,
		LineItems:        items,
		IsRefunded:       inv.IsRefunded,
		RefundedAmount:   inv.RefundedAmount.Amount,
		Notes:            inv.Notes,
		Version:          inv.Version,
		CreatedAt:        inv.CreatedAt.UTC(),
		UpdatedAt:        inv.UpdatedAt.UTC(),
	}
}

func fromInvoiceModel(m *invoiceModel) (*invoice.Invoice, error) {
	invID, err := id.ParseInvoiceID(m.ID)
	if err != nil {
		return nil, err
	}
	subID, err := id.ParseSubscriptionID(m.SubscriptionID)
	if err != nil {
		return nil, err
	}
	var items []invoice.LineItem
	for _, li := range m.LineItems {
		liID, err := id.ParseLineItemID(li.ID)
		if err != nil {
			return nil, err
		}
		items = append(items, invoice.LineItem{
			ID:          liID,
			Description: li.Description,
			Quantity:    li.Quantity,
			UnitAmount:  types.New(li.UnitAmount, m.Currency),
			Amount:      types.New(li.Amount, m.Currency),
			Type:        invoice.LineItemType(li.Type),
		})
	}
	var response json.RawMessage
	if m.GatewayResponse != "" {
		response = json.RawMessage(m.GatewayResponse)
	}
	return &invoice.Invoice{
		Entity:           types.Entity{CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC()},
		ID:               invID,
		Number:           m.Number,
		SubscriptionID:   subID,
		Status:           invoice.Status(m.Status),
		Amount:           types.New(m.Amount, m.Currency),
		PeriodStart:      m.PeriodStart.UTC(),
		PeriodEnd:        m.PeriodEnd.UTC(),
		DueDate:          m.DueDate.UTC(),
		PaidAt:           utcPtr(m.PaidAt),
		PaymentMethod:    m.PaymentMethod,
		TransactionID:    m.TransactionID,
		GatewayPaymentID: m.GatewayPaymentID,
		GatewayResponse:  response,
		Description:      m.Description,
		LineItems:        items,
		IsRefunded:       m.IsRefunded,
		RefundedAmount:   types.New(m.RefundedAmount, m.Currency),
		Notes:            m.Notes,
		Version:          m.Version,
	}, nil
}

// ==================== Usage models ====================

type usageModel struct {
	ID               string    `bson:"_id"`
	SubscriptionID   string    `bson:"subscription_id"`
	Month            time.Time `bson:"month"`
	ArtworksAdded    int64     `bson:"artworks_added"`
	ArtworksSold     int64     `bson:"artworks_sold"`
	TotalViews       int64     `bson:"total_views"`
	SalesAmount      int64     `bson:"sales_amount"`
	CommissionEarned int64     `bson:"commission_earned"`
	Currency         string    `bson:"currency"`
	FeaturedDays     int64     `bson:"featured_days"`
	APICalls         int64     `bson:"api_calls"`
	StorageMB        int64     `bson:"storage_mb"`
	CreatedAt        time.Time `bson:"created_at"`
	UpdatedAt        time.Time `bson:"updated_at"`
}

func fromUsageModel(m *usageModel) (*usage.Record, error) {
	useID, err := id.ParseUsageID(m.ID)
	if err != nil {
		return nil, err
	}
	subID, err := id.ParseSubscriptionID(m.SubscriptionID)
	if err != nil {
		return nil, err
	}
	return &usage.Record{
		Entity:           types.Entity{CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC()},
		ID:               useID,
		SubscriptionID:   subID,
		Month:            usage.Month(m.Month),
		ArtworksAdded:    m.ArtworksAdded,
		ArtworksSold:     m.ArtworksSold,
		TotalViews:       m.TotalViews,
		SalesAmount:      types.New(m.SalesAmount, m.Currency),
		CommissionEarned: types.New(m.CommissionEarned, m.Currency),
		FeaturedDays:     m.FeaturedDays,
		APICalls:         m.APICalls,
		StorageMB:        m.StorageMB,
	}, nil
}

// ==================== Change models ====================

type changeModel struct {
	ID             string    `bson:"_id"`
	SubscriptionID string    `bson:"subscription_id"`
	Type           string    `bson:"type"`
	FromPlanID     string    `bson:"from_plan_id,omitempty"`
	ToPlanID       string    `bson:"to_plan_id,omitempty"`
	FromPrice      *int64    `bson:"from_price,omitempty"`
	ToPrice        *int64    `bson:"to_price,omitempty"`
	PriceCurrency  string    `bson:"price_currency,omitempty"`
	FromStatus     string    `bson:"from_status"`
	ToStatus       string    `bson:"to_status"`
	Reason         string    `bson:"reason,omitempty"`
	EffectiveDate  time.Time `bson:"effective_date"`
	Actor          string    `bson:"actor,omitempty"`
	CreatedAt      time.Time `bson:"created_at"`
}

func toChangeModel(r *change.Record) *changeModel {
	var currency string
	switch {
	case r.ToPrice != nil:
		currency = r.ToPrice.Currency
	case r.FromPrice != nil:
		currency = r.FromPrice.Currency
	}
	return &changeModel{
		ID:             r.ID.String(),
		SubscriptionID: r.SubscriptionID.String(),
		Type:           string(r.Type),
		FromPlanID:     r.FromPlanID.String(),
		ToPlanID:       r.ToPlanID.String(),
		FromPrice:      amountPtr(r.FromPrice),
		ToPrice:        amountPtr(r.ToPrice),
		PriceCurrency:  currency,
		FromStatus:     string(r.FromStatus),
		ToStatus:       string(r.ToStatus),
		Reason:         r.Reason,
		EffectiveDate:  r.EffectiveDate.UTC(),
		Actor:          r.Actor,
		CreatedAt:      r.CreatedAt.UTC(),
	}
}

func fromChangeModel(m *changeModel) (*change.Record, error) {
	chgID, err := id.ParseChangeID(m.ID)
	if err != nil {
		return nil, err
	}
	subID, err := id.ParseSubscriptionID(m.SubscriptionID)
	if err != nil {
		return nil, err
	}
	fromPlan, err := id.ParseOptional(m.FromPlanID, id.PrefixPlan)
	if err != nil {
		return nil, err
	}
	toPlan, err := id.ParseOptional(m.ToPlanID, id.PrefixPlan)
	if err != nil {
		return nil, err
	}
	return &change.Record{
		ID:             chgID,
		SubscriptionID: subID,
		Type:           change.Type(m.Type),
		FromPlanID:     fromPlan,
		ToPlanID:       toPlan,
		FromPrice:      moneyPtr(m.FromPrice, m.PriceCurrency),
		ToPrice:        moneyPtr(m.ToPrice, m.PriceCurrency),
		FromStatus:     subscription.Status(m.FromStatus),
		ToStatus:       subscription.Status(m.ToStatus),
		Reason:         m.Reason,
		EffectiveDate:  m.EffectiveDate.UTC(),
		Actor:          m.Actor,
		CreatedAt:      m.CreatedAt.UTC(),
	}, nil
}

// ==================== Helpers ====================

func toAttributesModel(a types.Attributes) map[string]any {
	if len(a) == 0 {
		return nil
	}
	out := make(map[string]any, len(a))
	for k, v := range a {
		out[k] = v.Interface()
	}
	return out
}

func fromAttributesModel(m map[string]any) (types.Attributes, error) {
	if len(m) == 0 {
		return nil, nil
	}
	out := make(types.Attributes, len(m))
	for k, raw := range m {
		switch v := raw.(type) {
		case bool:
			out[k] = types.Bool(v)
		case int32:
			out[k] = types.Int(int64(v))
		case int64:
			out[k] = types.Int(v)
		case string:
			out[k] = types.String(v)
		default:
			return nil, fmt.Errorf("attribute %q has unsupported type %T", k, raw)
		}
	}
	return out, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func amountPtr(m *types.Money) *int64 {
	if m == nil {
		return nil
	}
	v := m.Amount
	return &v
}

func moneyPtr(amount *int64, currency string) *types.Money {
	if amount == nil {
		return nil
	}
	m := types.New(*amount, currency)
	return &m
}
