// Package extension provides the Forge extension adapter for Atelier.
//
// It implements the forge.Extension interface to integrate the billing
// engine into a Forge application with DI registration and lifecycle
// management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.atelier" or "atelier" keys.
package extension

import (
	"context"
	"errors"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	"github.com/xraph/atelier"
	"github.com/xraph/atelier/store"
	"github.com/xraph/atelier/store/memory"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "atelier"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Artist subscription billing lifecycle engine"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts the billing engine as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *atelier.Engine
	store      store.Store
	engineOpts []atelier.Option
}

// New creates a new Atelier Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying engine.
// This is nil until Register is called.
func (e *Extension) Engine() *atelier.Engine { return e.engine }

// Register implements [forge.Extension]. It loads configuration,
// initializes the engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	// Use memory store if no store was provided programmatically.
	if e.store == nil {
		e.store = memory.New()
	}

	e.engine = atelier.New(e.store, e.buildEngineOpts()...)

	return vessel.Provide(fapp.Container(), func() (*atelier.Engine, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("atelier: extension not initialized")
	}

	if !e.config.DisableMigrate {
		if err := e.engine.Start(ctx); err != nil {
			return err
		}
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("atelier: store not initialized")
	}
	return e.store.Ping(ctx)
}

// buildEngineOpts constructs atelier.Option values from the resolved config.
// Pass-through options come last so they win.
func (e *Extension) buildEngineOpts() []atelier.Option {
	opts := make([]atelier.Option, 0, len(e.engineOpts)+4)

	opts = append(opts,
		atelier.WithPaymentTermsDays(e.config.PaymentTermsDays),
		atelier.WithDunningPolicy(e.config.DunningPolicy()),
		atelier.WithPlanCacheTTL(e.config.PlanCacheTTL),
	)
	if e.config.PlanCacheSize < 0 {
		opts = append(opts, atelier.WithPlanCacheSize(0))
	} else {
		opts = append(opts, atelier.WithPlanCacheSize(e.config.PlanCacheSize))
	}

	return append(opts, e.engineOpts...)
}

// --- Config Loading ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	// Try loading from config file.
	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("atelier: configuration is required but not found in config files; " +
				"ensure 'extensions.atelier' or 'atelier' key exists in your config")
		}

		// Use programmatic config merged with defaults.
		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		// Config loaded from YAML -- merge with programmatic options.
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("atelier: configuration loaded",
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("payment_terms_days", e.config.PaymentTermsDays),
		forge.F("past_due_after", e.config.PastDueAfter),
		forge.F("expire_after", e.config.ExpireAfter),
		forge.F("plan_cache_size", e.config.PlanCacheSize),
		forge.F("plan_cache_ttl", e.config.PlanCacheTTL),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()

	for _, key := range []string{"extensions.atelier", "atelier"} {
		if !cm.IsSet(key) {
			continue
		}
		var cfg Config
		if err := cm.Bind(key, &cfg); err != nil {
			e.Logger().Warn("atelier: failed to bind config",
				forge.F("key", key),
				forge.F("error", err.Error()),
			)
			continue
		}
		e.Logger().Debug("atelier: loaded config from file", forge.F("key", key))
		return cfg, true
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.PaymentTermsDays == 0 {
		cfg.PaymentTermsDays = defaults.PaymentTermsDays
	}
	if cfg.PlanCacheSize == 0 {
		cfg.PlanCacheSize = defaults.PlanCacheSize
	}
	if cfg.PlanCacheTTL == 0 {
		cfg.PlanCacheTTL = defaults.PlanCacheTTL
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence; programmatic values fill gaps.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}

	if yamlConfig.PaymentTermsDays == 0 {
		yamlConfig.PaymentTermsDays = programmaticConfig.PaymentTermsDays
	}
	if yamlConfig.PastDueAfter == 0 {
		yamlConfig.PastDueAfter = programmaticConfig.PastDueAfter
	}
	if yamlConfig.ExpireAfter == 0 {
		yamlConfig.ExpireAfter = programmaticConfig.ExpireAfter
	}
	if yamlConfig.PlanCacheSize == 0 {
		yamlConfig.PlanCacheSize = programmaticConfig.PlanCacheSize
	}
	if yamlConfig.PlanCacheTTL == 0 {
		yamlConfig.PlanCacheTTL = programmaticConfig.PlanCacheTTL
	}

	// Fill remaining zeros with defaults.
	return mergeWithDefaults(yamlConfig)
}
