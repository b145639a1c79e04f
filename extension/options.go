package extension

import (
	"time"

	"github.com/xraph/atelier"
	"github.com/xraph/atelier/plugin"
	"github.com/xraph/atelier/store"
)

// Option configures the Atelier Forge extension.
type Option func(*Extension)

// WithStore sets the store for the billing engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithEngineOption passes an atelier.Option through to the underlying engine.
func WithEngineOption(opt atelier.Option) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, opt)
	}
}

// WithPlugin registers an engine plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, atelier.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithPaymentTermsDays sets the invoice due-date offset.
func WithPaymentTermsDays(days int) Option {
	return func(e *Extension) { e.config.PaymentTermsDays = days }
}

// WithDunningThresholds sets the failed-payment counts for past_due and
// expiry.
func WithDunningThresholds(pastDueAfter, expireAfter int) Option {
	return func(e *Extension) {
		e.config.PastDueAfter = pastDueAfter
		e.config.ExpireAfter = expireAfter
	}
}

// WithPlanCache sets the plan cache capacity and lifetime.
func WithPlanCache(size int, ttl time.Duration) Option {
	return func(e *Extension) {
		e.config.PlanCacheSize = size
		e.config.PlanCacheTTL = ttl
	}
}
