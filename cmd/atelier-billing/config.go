package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMongo    = "mongo"
)

// Config is the billing worker configuration. Values come from the YAML
// file, then a .env file, then the process environment, each overriding
// the last.
type Config struct {
	Store       StoreConfig   `yaml:"store"`
	RedisURL    string        `yaml:"redis_url"`
	Sweep       SweepConfig   `yaml:"sweep"`
	Billing     BillingConfig `yaml:"billing"`
	MetricsAddr string        `yaml:"metrics_addr"`
	LogLevel    string        `yaml:"log_level"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	// DSN is a postgres URL, a SQLite file path or a mongodb URI.
	DSN string `yaml:"dsn"`
	// Database names the mongo database.
	Database string `yaml:"database"`
}

// SweepConfig controls the scheduled billing pass.
type SweepConfig struct {
	// Schedule is a standard five-field cron expression, evaluated in UTC.
	Schedule    string `yaml:"schedule"`
	BatchSize   int    `yaml:"batch_size"`
	Concurrency int    `yaml:"concurrency"`
}

// BillingConfig holds engine policy.
type BillingConfig struct {
	PaymentTermsDays int `yaml:"payment_terms_days"`
	PastDueAfter     int `yaml:"past_due_after"`
	ExpireAfter      int `yaml:"expire_after"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		Store: StoreConfig{Driver: DriverMemory, Database: "atelier"},
		Sweep: SweepConfig{
			Schedule:    "*/15 * * * *",
			BatchSize:   100,
			Concurrency: 4,
		},
		Billing: BillingConfig{
			PaymentTermsDays: 7,
			PastDueAfter:     1,
			ExpireAfter:      3,
		},
		MetricsAddr: ":9090",
		LogLevel:    "info",
	}
}

// LoadConfig reads path (skipped when empty), then envFile (skipped when
// empty or missing), then the environment.
func LoadConfig(path, envFile string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	dotenv := map[string]string{}
	if envFile != "" {
		vals, err := godotenv.Read(envFile)
		switch {
		case err == nil:
			dotenv = vals
		case !errors.Is(err, os.ErrNotExist):
			return Config{}, fmt.Errorf("read env file %s: %w", envFile, err)
		}
	}

	// The process environment wins over the .env file.
	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"ATELIER_STORE_DRIVER":   &c.Store.Driver,
		"ATELIER_STORE_DSN":      &c.Store.DSN,
		"ATELIER_STORE_DATABASE": &c.Store.Database,
		"ATELIER_REDIS_URL":      &c.RedisURL,
		"ATELIER_SWEEP_SCHEDULE": &c.Sweep.Schedule,
		"ATELIER_METRICS_ADDR":   &c.MetricsAddr,
		"ATELIER_LOG_LEVEL":      &c.LogLevel,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"ATELIER_SWEEP_BATCH_SIZE":   &c.Sweep.BatchSize,
		"ATELIER_SWEEP_CONCURRENCY":  &c.Sweep.Concurrency,
		"ATELIER_PAYMENT_TERMS_DAYS": &c.Billing.PaymentTermsDays,
		"ATELIER_PAST_DUE_AFTER":     &c.Billing.PastDueAfter,
		"ATELIER_EXPIRE_AFTER":       &c.Billing.ExpireAfter,
	}
	for key, dst := range ints {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
	}
	return nil
}

// Validate checks the configuration is usable.
func (c Config) Validate() error {
	var errs []error

	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres, DriverSQLite, DriverMongo:
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store.dsn is required for driver %q", c.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}
	if c.Store.Driver == DriverMongo && c.Store.Database == "" {
		errs = append(errs, errors.New("store.database is required for mongo"))
	}

	if _, err := cron.ParseStandard(c.Sweep.Schedule); err != nil {
		errs = append(errs, fmt.Errorf("sweep.schedule: %w", err))
	}
	if c.Sweep.BatchSize <= 0 {
		errs = append(errs, errors.New("sweep.batch_size must be positive"))
	}
	if c.Sweep.Concurrency <= 0 {
		errs = append(errs, errors.New("sweep.concurrency must be positive"))
	}
	if c.Billing.PaymentTermsDays < 0 || c.Billing.PastDueAfter < 0 || c.Billing.ExpireAfter < 0 {
		errs = append(errs, errors.New("billing thresholds must not be negative"))
	}
	if _, err := c.level(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (c Config) level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}
