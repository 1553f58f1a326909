package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Log        LogConfig        `yaml:"log"`
	Machines   []MachineConfig  `yaml:"machines"`
	Pricing    PricingConfig    `yaml:"pricing"`
	Allocation AllocationConfig `yaml:"allocation"`
	Estimation ServiceConfig    `yaml:"estimation"`
	Drafting   DraftingConfig   `yaml:"drafting"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RequestIPHeader string  `yaml:"request_ip_header"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DatabaseConfig holds the database connection configuration. DSNs starting
// with postgres:// or containing host= select postgres; anything else is a
// sqlite path.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	Debug                  bool   `yaml:"debug"`
}

// LogConfig selects level and output format.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// MachineConfig describes one printer and its build platform.
type MachineConfig struct {
	Name            string          `yaml:"name"`
	PlatformAreaCM2 decimal.Decimal `yaml:"platform_area_cm2"`
	MaterialGroups  []string        `yaml:"material_groups"`
}

// RateConfig is the run-level overhead of one machine/material group.
type RateConfig struct {
	PlatformSetupEUR decimal.Decimal `yaml:"platform_setup_eur"`
	SharedTimeH      decimal.Decimal `yaml:"shared_time_h"`
}

// PricingConfig holds the rate table and the notification thresholds.
type PricingConfig struct {
	Rates                 map[string]RateConfig `yaml:"rates"`
	DefaultRate           RateConfig            `yaml:"default_rate"`
	NotifyMinReductionEUR *decimal.Decimal      `yaml:"notify_min_reduction_eur"`
	NotifyMinReductionPct decimal.Decimal       `yaml:"notify_min_reduction_percent"`
}

// AllocationConfig tunes the allocation engine.
type AllocationConfig struct {
	MaxAttempts             int           `yaml:"max_attempts"`
	MatchMachine            *bool         `yaml:"match_machine"`
	ReasoningTimeoutSeconds int           `yaml:"reasoning_timeout_seconds"`
	ReasoningTimeout        time.Duration `yaml:"-"`
}

// ServiceConfig points at an external HTTP collaborator.
type ServiceConfig struct {
	BaseURL         string        `yaml:"base_url"`
	APIKey          string        `yaml:"api_key"`
	TimeoutSeconds  int           `yaml:"timeout_seconds"`
	Timeout         time.Duration `yaml:"-"`
	CacheTTLSeconds int           `yaml:"cache_ttl_seconds"`
	CacheTTL        time.Duration `yaml:"-"`
}

// DraftingConfig configures the drafting service client.
type DraftingConfig struct {
	ServiceConfig `yaml:",inline"`

	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	Signature         string  `yaml:"signature"`
}

// PushConfig holds the VAPID keys for operator web push alerts.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// Enabled reports whether both VAPID keys are set.
func (p PushConfig) Enabled() bool {
	return p.PublicKey != "" && p.PrivateKey != ""
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size                 int           `yaml:"size"`
	RetryIntervalSeconds int           `yaml:"retry_interval_seconds"`
	RetryInterval        time.Duration `yaml:"-"`
	MaxAttempts          int           `yaml:"max_attempts"`
}

// Load reads the configuration from the given path. A .env file in the
// working directory is loaded first; LPBF_DATABASE_DSN overrides the DSN.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.WithError(err).Warn("could not read .env file")
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	if dsn := os.Getenv("LPBF_DATABASE_DSN"); dsn != "" {
		cfg.Database.DSN = dsn
	}
	applyDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 300
	}

	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "lpbf.db"
	}
	if cfg.Database.MaxOpenConns <= 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns <= 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetimeMinutes <= 0 {
		cfg.Database.ConnMaxLifetimeMinutes = 30
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	if cfg.Pricing.NotifyMinReductionEUR == nil {
		minEUR := decimal.RequireFromString("0.01")
		cfg.Pricing.NotifyMinReductionEUR = &minEUR
	}

	if cfg.Allocation.MaxAttempts <= 0 {
		cfg.Allocation.MaxAttempts = 5
	}
	if cfg.Allocation.MatchMachine == nil {
		match := true
		cfg.Allocation.MatchMachine = &match
	}
	if cfg.Allocation.ReasoningTimeoutSeconds <= 0 {
		cfg.Allocation.ReasoningTimeoutSeconds = 10
	}
	cfg.Allocation.ReasoningTimeout = time.Duration(cfg.Allocation.ReasoningTimeoutSeconds) * time.Second

	serviceDefaults(&cfg.Estimation, 30, 3600)
	serviceDefaults(&cfg.Drafting.ServiceConfig, 60, 0)
	if cfg.Drafting.RequestsPerSecond <= 0 {
		cfg.Drafting.RequestsPerSecond = 1
	}
	if cfg.Drafting.Burst <= 0 {
		cfg.Drafting.Burst = 2
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Info("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}
	if cfg.WorkerPool.RetryIntervalSeconds <= 0 {
		cfg.WorkerPool.RetryIntervalSeconds = 300
	}
	cfg.WorkerPool.RetryInterval = time.Duration(cfg.WorkerPool.RetryIntervalSeconds) * time.Second
	if cfg.WorkerPool.MaxAttempts <= 0 {
		cfg.WorkerPool.MaxAttempts = 5
	}
}

func serviceDefaults(s *ServiceConfig, timeoutSeconds, cacheTTLSeconds int) {
	if s.TimeoutSeconds <= 0 {
		s.TimeoutSeconds = timeoutSeconds
	}
	s.Timeout = time.Duration(s.TimeoutSeconds) * time.Second
	if s.CacheTTLSeconds <= 0 {
		s.CacheTTLSeconds = cacheTTLSeconds
	}
	s.CacheTTL = time.Duration(s.CacheTTLSeconds) * time.Second
}

func (cfg *Config) validate() error {
	seen := make(map[string]bool, len(cfg.Machines))
	for _, m := range cfg.Machines {
		if m.Name == "" {
			return fmt.Errorf("machines: entry without name")
		}
		if seen[m.Name] {
			return fmt.Errorf("machines: duplicate machine %q", m.Name)
		}
		seen[m.Name] = true
		if !m.PlatformAreaCM2.IsPositive() {
			return fmt.Errorf("machines: %s needs a positive platform_area_cm2", m.Name)
		}
	}
	if cfg.Pricing.NotifyMinReductionEUR != nil && cfg.Pricing.NotifyMinReductionEUR.IsNegative() {
		return fmt.Errorf("pricing.notify_min_reduction_eur must not be negative")
	}
	if cfg.Pricing.NotifyMinReductionPct.IsNegative() {
		return fmt.Errorf("pricing.notify_min_reduction_percent must not be negative")
	}
	for key, r := range cfg.Pricing.Rates {
		if r.PlatformSetupEUR.IsNegative() || r.SharedTimeH.IsNegative() {
			return fmt.Errorf("pricing.rates.%s: negative rate", key)
		}
	}
	return nil
}

// Machine returns the configuration of the named machine.
func (cfg *Config) Machine(name string) (MachineConfig, bool) {
	for _, m := range cfg.Machines {
		if m.Name == name {
			return m, true
		}
	}
	return MachineConfig{}, false
}

// ConfigureLogging applies the log section to the standard logrus logger.
func ConfigureLogging(c LogConfig) {
	level, err := log.ParseLevel(c.Level)
	if err != nil {
		log.WithField("level", c.Level).Warn("unknown log level; using info")
		level = log.InfoLevel
	}
	log.SetLevel(level)
	if c.JSON {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}
