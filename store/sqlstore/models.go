package sqlstore

import (
	"database/sql"
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

// JSON columns are written as strings: lib/pq encodes []byte parameters as
// bytea, which jsonb rejects.

// ==================== Plan models ====================

const planColumns = `id, slug, name, tier, description, price_amount, currency, billing_period,
	max_artworks, commission_rate, featured_artworks, trial_days, features, active, featured,
	display_order, created_at, updated_at`

type planModel struct {
	ID               string
	Slug             string
	Name             string
	Tier             string
	Description      string
	PriceAmount      int64
	Currency         string
	BillingPeriod    string
	MaxArtworks      int
	CommissionRate   decimal.Decimal
	FeaturedArtworks int
	TrialDays        int
	Features         []byte
	Active           bool
	Featured         bool
	DisplayOrder     int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (m *planModel) dest() []any {
	return []any{
		&m.ID, &m.Slug, &m.Name, &m.Tier, &m.Description, &m.PriceAmount, &m.Currency,
		&m.BillingPeriod, &m.MaxArtworks, &m.CommissionRate, &m.FeaturedArtworks, &m.TrialDays,
		&m.Features, &m.Active, &m.Featured, &m.DisplayOrder, &m.CreatedAt, &m.UpdatedAt,
	}
}

func (m *planModel) args() []any {
	return []any{
		m.ID, m.Slug, m.Name, m.Tier, m.Description, m.PriceAmount, m.Currency,
		m.BillingPeriod, m.MaxArtworks, m.CommissionRate, m.FeaturedArtworks, m.TrialDays,
		string(m.Features), m.Active, m.Featured, m.DisplayOrder, m.CreatedAt, m.UpdatedAt,
	}
}

func toPlanModel(p *plan.Plan) (*planModel, error) {
	features, err := json.Marshal(p.Features)
	if err != nil {
		return nil, fmt.Errorf("encode plan features: %w", err)
	}
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
		CommissionRate:   p.CommissionRate,
		FeaturedArtworks: p.FeaturedArtworks,
		TrialDays:        p.TrialDays,
		Features:         features,
		Active:           p.Active,
		Featured:         p.Featured,
		DisplayOrder:     p.DisplayOrder,
		CreatedAt:        p.CreatedAt.UTC(),
		UpdatedAt:        p.UpdatedAt.UTC(),
	}, nil
}

func fromPlanModel(m *planModel) (*plan.Plan, error) {
	planID, err := id.ParsePlanID(m.ID)
	if err != nil {
		return nil, err
	}
	var features types.Attributes
	if err := unmarshalJSON(m.Features, &features); err != nil {
		return nil, fmt.Errorf("decode plan %s features: %w", m.ID, err)
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
		CommissionRate:   m.CommissionRate,
		FeaturedArtworks: m.FeaturedArtworks,
		TrialDays:        m.TrialDays,
		Features:         features,
		Active:           m.Active,
		Featured:         m.Featured,
		DisplayOrder:     m.DisplayOrder,
	}, nil
}

// ==================== Subscription models ====================

const subscriptionColumns = `id, artist_id, plan_id, status, current_period_start, current_period_end,
	trial_start, trial_end, next_billing_date, price_override, currency, cancel_at_period_end,
	cancelled_at, cancellation_reason, auto_renew, payment_failed_count, last_payment_date,
	last_payment_amount, artworks_count, total_sales, total_commission_paid, notes, metadata,
	version, created_at, updated_at`

// All money on a subscription shares one currency column.
type subscriptionModel struct {
	ID                  string
	ArtistID            string
	PlanID              string
	Status              string
	CurrentPeriodStart  time.Time
	CurrentPeriodEnd    time.Time
	TrialStart          sql.NullTime
	TrialEnd            sql.NullTime
	NextBillingDate     sql.NullTime
	PriceOverride       sql.NullInt64
	Currency            string
	CancelAtPeriodEnd   bool
	CancelledAt         sql.NullTime
	CancellationReason  string
	AutoRenew           bool
	PaymentFailedCount  int
	LastPaymentDate     sql.NullTime
	LastPaymentAmount   sql.NullInt64
	ArtworksCount       int
	TotalSales          int64
	TotalCommissionPaid int64
	Notes               string
	Metadata            []byte
	Version             int64
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (m *subscriptionModel) dest() []any {
	return []any{
		&m.ID, &m.ArtistID, &m.PlanID, &m.Status, &m.CurrentPeriodStart, &m.CurrentPeriodEnd,
		&m.TrialStart, &m.TrialEnd, &m.NextBillingDate, &m.PriceOverride, &m.Currency, &m.CancelAtPeriodEnd,
		&m.CancelledAt, &m.CancellationReason, &m.AutoRenew, &m.PaymentFailedCount, &m.LastPaymentDate,
		&m.LastPaymentAmount, &m.ArtworksCount, &m.TotalSales, &m.TotalCommissionPaid, &m.Notes, &m.Metadata,
		&m.Version, &m.CreatedAt, &m.UpdatedAt,
	}
}

func (m *subscriptionModel) args() []any {
	return []any{
		m.ID, m.ArtistID, m.PlanID, m.Status, m.CurrentPeriodStart, m.CurrentPeriodEnd,
		m.TrialStart, m.TrialEnd, m.NextBillingDate, m.PriceOverride, m.Currency, m.CancelAtPeriodEnd,
		m.CancelledAt, m.CancellationReason, m.AutoRenew, m.PaymentFailedCount, m.LastPaymentDate,
		m.LastPaymentAmount, m.ArtworksCount, m.TotalSales, m.TotalCommissionPaid, m.Notes, string(m.Metadata),
		m.Version, m.CreatedAt, m.UpdatedAt,
	}
}

func toSubscriptionModel(s *subscription.Subscription) (*subscriptionModel, error) {
	metadata, err := json.Marshal(s.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode subscription metadata: %w", err)
	}
	return &subscriptionModel{
		ID:                  s.ID.String(),
		ArtistID:            s.ArtistID,
		PlanID:              s.PlanID.String(),
		Status:              string(s.Status),
		CurrentPeriodStart:  s.CurrentPeriodStart.UTC(),
		CurrentPeriodEnd:    s.CurrentPeriodEnd.UTC(),
		TrialStart:          nullTime(s.TrialStart),
		TrialEnd:            nullTime(s.TrialEnd),
		NextBillingDate:     nullTime(s.NextBillingDate),
		PriceOverride:       nullAmount(s.PriceOverride),
		Currency:            s.TotalSales.Currency,
		CancelAtPeriodEnd:   s.CancelAtPeriodEnd,
		CancelledAt:         nullTime(s.CancelledAt),
		CancellationReason:  s.CancellationReason,
		AutoRenew:           s.AutoRenew,
		PaymentFailedCount:  s.PaymentFailedCount,
		LastPaymentDate:     nullTime(s.LastPaymentDate),
		LastPaymentAmount:   nullAmount(s.LastPaymentAmount),
		ArtworksCount:       s.ArtworksCount,
		TotalSales:          s.TotalSales.Amount,
		TotalCommissionPaid: s.TotalCommissionPaid.Amount,
		Notes:               s.Notes,
		Metadata:            metadata,
		Version:             s.Version,
		CreatedAt:           s.CreatedAt.UTC(),
		UpdatedAt:           s.UpdatedAt.UTC(),
	}, nil
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
	var metadata types.Attributes
	if err := unmarshalJSON(m.Metadata, &metadata); err != nil {
		return nil, fmt.Errorf("decode subscription %s metadata: %w", m.ID, err)
	}
	return &subscription.Subscription{
		Entity:              types.Entity{CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC()},
		ID:                  subID,
		ArtistID:            m.ArtistID,
		PlanID:              planID,
		Status:              subscription.Status(m.Status),
		CurrentPeriodStart:  m.CurrentPeriodStart.UTC(),
		CurrentPeriodEnd:    m.CurrentPeriodEnd.UTC(),
		TrialStart:          timePtr(m.TrialStart),
		TrialEnd:            timePtr(m.TrialEnd),
		NextBillingDate:     timePtr(m.NextBillingDate),
		PriceOverride:       moneyPtr(m.PriceOverride, m.Currency),
		CancelAtPeriodEnd:   m.CancelAtPeriodEnd,
		CancelledAt:         timePtr(m.CancelledAt),
		CancellationReason:  m.CancellationReason,
		AutoRenew:           m.AutoRenew,
		PaymentFailedCount:  m.PaymentFailedCount,
		LastPaymentDate:     timePtr(m.LastPaymentDate),
		LastPaymentAmount:   moneyPtr(m.LastPaymentAmount, m.Currency),
		ArtworksCount:       m.ArtworksCount,
		TotalSales:          types.New(m.TotalSales, m.Currency),
		TotalCommissionPaid: types.New(m.TotalCommissionPaid, m.Currency),
		Notes:               m.Notes,
		Metadata:            metadata,
		Version:             m.Version,
	}, nil
}

// ==================== Invoice models ====================

const invoiceColumns = `id, number, subscription_id, status, amount, currency, period_start, period_end,
	due_date, paid_at, payment_method, transaction_id, gateway_payment_id, gateway_response,
	description, line_items, is_refunded, refunded_amount, notes, version, created_at, updated_at`

type invoiceModel struct {
	ID               string
	Number           string
	SubscriptionID   string
	Status           string
	Amount           int64
	Currency         string
	PeriodStart      time.Time
	PeriodEnd        time.Time
	DueDate          time.Time
	PaidAt           sql.NullTime
	PaymentMethod    string
	TransactionID    string
	GatewayPaymentID string
	GatewayResponse  []byte
	Description      string
	LineItems        []byte
	IsRefunded       bool
	RefundedAmount   int64
	Notes            string
	Version          int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (m *invoiceModel) dest() []any {
	return []any{
		&m.ID, &m.Number, &m.SubscriptionID, &m.Status, &m.Amount, &m.Currency, &m.PeriodStart, &m.PeriodEnd,
		&m.DueDate, &m.PaidAt, &m.PaymentMethod, &m.TransactionID, &m.GatewayPaymentID, &m.GatewayResponse,
		&m.Description, &m.LineItems, &m.IsRefunded, &m.RefundedAmount, &m.Notes, &m.Version, &m.CreatedAt, &m.UpdatedAt,
	}
}

func (m *invoiceModel) args() []any {
	var response sql.NullString
	if len(m.GatewayResponse) > 0 {
		response = sql.NullString{String: string(m.GatewayResponse), Valid: true}
	}
	return []any{
		m.ID, m.Number, m.SubscriptionID, m.Status, m.Amount, m.Currency, m.PeriodStart, m.PeriodEnd,
		m.DueDate, m.PaidAt, m.PaymentMethod, m.TransactionID, m.GatewayPaymentID, response,
		m.Description, string(m.LineItems), m.IsRefunded, m.RefundedAmount, m.Notes, m.Version, m.CreatedAt, m.UpdatedAt,
	}
}

func toInvoiceModel(inv *invoice.Invoice) (*invoiceModel, error) {
	items := inv.LineItems
	if items == nil {
		items = []invoice.LineItem{}
	}
	lineItems, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("encode invoice line items: %w", err)
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
		PaidAt:           nullTime(inv.PaidAt),
		PaymentMethod:    inv.PaymentMethod,
		TransactionID:    inv.TransactionID,
		GatewayPaymentID: inv.GatewayPaymentID,
		GatewayResponse:  inv.GatewayResponse,
		Description:      inv.Description,
		LineItems:        lineItems,
		IsRefunded:       inv.IsRefunded,
		RefundedAmount:   inv.RefundedAmount.Amount,
		Notes:            inv.Notes,
		Version:          inv.Version,
		CreatedAt:        inv.CreatedAt.UTC(),
		UpdatedAt:        inv.UpdatedAt.UTC(),
	}, nil
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
	if err := unmarshalJSON(m.LineItems, &items); err != nil {
		return nil, fmt.Errorf("decode invoice %s line items: %w", m.Number, err)
	}
	var response json.RawMessage
	if len(m.GatewayResponse) > 0 {
		response = append(json.RawMessage(nil), m.GatewayResponse...)
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
		PaidAt:           timePtr(m.PaidAt),
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

const usageColumns = `id, subscription_id, month, artworks_added, artworks_sold, total_views,
	sales_amount, commission_earned, currency, featured_days, api_calls, storage_mb,
	created_at, updated_at`

type usageModel struct {
	ID               string
	SubscriptionID   string
	Month            time.Time
	ArtworksAdded    int64
	ArtworksSold     int64
	TotalViews       int64
	SalesAmount      int64
	CommissionEarned int64
	Currency         string
	FeaturedDays     int64
	APICalls         int64
	StorageMB        int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (m *usageModel) dest() []any {
	return []any{
		&m.ID, &m.SubscriptionID, &m.Month, &m.ArtworksAdded, &m.ArtworksSold, &m.TotalViews,
		&m.SalesAmount, &m.CommissionEarned, &m.Currency, &m.FeaturedDays, &m.APICalls, &m.StorageMB,
		&m.CreatedAt, &m.UpdatedAt,
	}
}

func (m *usageModel) args() []any {
	return []any{
		m.ID, m.SubscriptionID, m.Month, m.ArtworksAdded, m.ArtworksSold, m.TotalViews,
		m.SalesAmount, m.CommissionEarned, m.Currency, m.FeaturedDays, m.APICalls, m.StorageMB,
		m.CreatedAt, m.UpdatedAt,
	}
}

// toUsageModel builds the row inserted when inc opens a new month.
func toUsageModel(inc *usage.Increment) *usageModel {
	rec := usage.NewRecord(inc.SubscriptionID, inc.Month, inc.Currency, inc.At)
	rec.Apply(inc.Delta, inc.At)
	return &usageModel{
		ID:               rec.ID.String(),
		SubscriptionID:   rec.SubscriptionID.String(),
		Month:            rec.Month,
		ArtworksAdded:    rec.ArtworksAdded,
		ArtworksSold:     rec.ArtworksSold,
		TotalViews:       rec.TotalViews,
		SalesAmount:      rec.SalesAmount.Amount,
		CommissionEarned: rec.CommissionEarned.Amount,
		Currency:         rec.SalesAmount.Currency,
		FeaturedDays:     rec.FeaturedDays,
		APICalls:         rec.APICalls,
		StorageMB:        rec.StorageMB,
		CreatedAt:        rec.CreatedAt,
		UpdatedAt:        rec.UpdatedAt,
	}
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

const changeColumns = `id, subscription_id, type, from_plan_id, to_plan_id, from_price, to_price,
	price_currency, from_status, to_status, reason, effective_date, actor, created_at`

type changeModel struct {
	ID             string
	SubscriptionID string
	Type           string
	FromPlanID     string
	ToPlanID       string
	FromPrice      sql.NullInt64
	ToPrice        sql.NullInt64
	PriceCurrency  string
	FromStatus     string
	ToStatus       string
	Reason         string
	EffectiveDate  time.Time
	Actor          string
	CreatedAt      time.Time
}

func (m *changeModel) dest() []any {
	return []any{
		&m.ID, &m.SubscriptionID, &m.Type, &m.FromPlanID, &m.ToPlanID, &m.FromPrice, &m.ToPrice,
		&m.PriceCurrency, &m.FromStatus, &m.ToStatus, &m.Reason, &m.EffectiveDate, &m.Actor, &m.CreatedAt,
	}
}

func (m *changeModel) args() []any {
	return []any{
		m.ID, m.SubscriptionID, m.Type, m.FromPlanID, m.ToPlanID, m.FromPrice, m.ToPrice,
		m.PriceCurrency, m.FromStatus, m.ToStatus, m.Reason, m.EffectiveDate, m.Actor, m.CreatedAt,
	}
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
		FromPrice:      nullAmount(r.FromPrice),
		ToPrice:        nullAmount(r.ToPrice),
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

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func nullAmount(m *types.Money) sql.NullInt64 {
	if m == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: m.Amount, Valid: true}
}

func moneyPtr(n sql.NullInt64, currency string) *types.Money {
	if !n.Valid {
		return nil
	}
	m := types.New(n.Int64, currency)
	return &m
}

func unmarshalJSON(data []byte, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	return json.Unmarshal(data, v)
}
