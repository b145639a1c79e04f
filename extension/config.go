package extension

import (
	"time"

	"github.com/xraph/atelier"
)

// Config holds the Atelier extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.atelier" or "atelier" keys).
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// PaymentTermsDays is the gap between a period start and the invoice
	// due date (default: 7).
	PaymentTermsDays int `json:"payment_terms_days" mapstructure:"payment_terms_days" yaml:"payment_terms_days"`

	// PastDueAfter is the failed-payment count that moves a subscription to
	// past_due. Zero leaves dunning to the caller.
	PastDueAfter int `json:"past_due_after" mapstructure:"past_due_after" yaml:"past_due_after"`

	// ExpireAfter is the failed-payment count that expires a past_due
	// subscription. Zero disables automatic expiry.
	ExpireAfter int `json:"expire_after" mapstructure:"expire_after" yaml:"expire_after"`

	// PlanCacheSize is the number of plans cached by slug (default: 256).
	// A negative value disables the cache.
	PlanCacheSize int `json:"plan_cache_size" mapstructure:"plan_cache_size" yaml:"plan_cache_size"`

	// PlanCacheTTL controls how long a cached plan is served (default: 5m).
	PlanCacheTTL time.Duration `json:"plan_cache_ttl" mapstructure:"plan_cache_ttl" yaml:"plan_cache_ttl"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		PaymentTermsDays: atelier.DefaultPaymentTermsDays,
		PlanCacheSize:    atelier.DefaultPlanCacheSize,
		PlanCacheTTL:     atelier.DefaultPlanCacheTTL,
	}
}

// DunningPolicy returns the thresholds as an engine policy.
func (c Config) DunningPolicy() atelier.DunningPolicy {
	return atelier.DunningPolicy{
		PastDueAfter: c.PastDueAfter,
		ExpireAfter:  c.ExpireAfter,
	}
}
