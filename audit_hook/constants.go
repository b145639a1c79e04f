package audithook

// Action constants for audit events.
const (
	// Plan actions
	ActionPlanCreated = "plan.created"
	ActionPlanUpdated = "plan.updated"
	ActionPlanDeleted = "plan.deleted"

	// Subscription actions
	ActionSubscriptionCreated     = "subscription.created"
	ActionSubscriptionUpgraded    = "subscription.upgraded"
	ActionSubscriptionDowngraded  = "subscription.downgraded"
	ActionSubscriptionRenewed     = "subscription.renewed"
	ActionSubscriptionCancelled   = "subscription.cancelled"
	ActionSubscriptionReactivated = "subscription.reactivated"
	ActionSubscriptionPaused      = "subscription.paused"
	ActionSubscriptionResumed     = "subscription.resumed"
	ActionSubscriptionPastDue     = "subscription.past_due"
	ActionSubscriptionExpired     = "subscription.expired"
	ActionArtworkLimitReached     = "artwork_limit.reached"

	// Invoice actions
	ActionInvoiceGenerated = "invoice.generated"
	ActionInvoicePaid      = "invoice.paid"
	ActionInvoiceFailed    = "invoice.failed"
	ActionInvoiceRefunded  = "invoice.refunded"
	ActionInvoiceCancelled = "invoice.cancelled"
)

// Resource constants for audit events.
const (
	ResourcePlan         = "plan"
	ResourceSubscription = "subscription"
	ResourceInvoice      = "invoice"
)

// Category constants for audit events.
const (
	CategoryCatalog      = "catalog"
	CategorySubscription = "subscription"
	CategoryUsage        = "usage"
	CategoryPayment      = "payment"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
