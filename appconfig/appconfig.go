// Package appconfig loads the orchestrator's single configuration bag
// (spec.md §6 "Configuration") from a YAML file via the teacher's codec
// package, then layers environment-variable overrides for anything that
// looks like a credential so secrets never have to live in the YAML file
// (SPEC_FULL.md §A.3).
package appconfig

import (
	"fmt"
	"os"
	"time"

	"github.com/trailcast/orchestrator/codec"
	"github.com/trailcast/orchestrator/config"
	"github.com/trailcast/orchestrator/orcherr"
)

// ProviderConfig is one outbound provider's credential pool and daily
// quota (spec.md §6 "Per-provider {keys, daily_quota}").
type ProviderConfig struct {
	Keys       []string `yaml:"keys"`
	DailyQuota int      `yaml:"daily_quota"`
	// Timezone is the IANA zone used to resolve the provider-local
	// midnight quota-reset boundary (SPEC_FULL.md §C.4). Defaults to UTC.
	Timezone string `yaml:"timezone"`
}

// PolicyRuleConfig is one per-(provider, endpoint) storage policy rule
// (spec.md §6).
type PolicyRuleConfig struct {
	Provider           string `yaml:"provider"`
	Endpoint           string `yaml:"endpoint"`
	Enabled            bool   `yaml:"enabled"`
	MinSize            int64  `yaml:"min_size"`
	MaxSize            int64  `yaml:"max_size"`
	AllowedStatusCodes []int  `yaml:"allowed_status_codes"`
	Priority           int    `yaml:"priority"`
	TTLDays            int    `yaml:"ttl_days"`
}

// StorageQueueConfig configures the Async Storage Queue (spec.md §6).
type StorageQueueConfig struct {
	QueueSize     int           `yaml:"queue_size"`
	WorkerCount   int           `yaml:"worker_count"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// AlertRuleConfig is one monitor rule definition (spec.md §6).
type AlertRuleConfig struct {
	Metric         string        `yaml:"metric"`
	Threshold      float64       `yaml:"threshold"`
	Severity       string        `yaml:"severity"`
	CheckInterval  time.Duration `yaml:"check_interval"`
	EscalationTime time.Duration `yaml:"escalation_time"`
}

// CacheConfig configures the refresh-ahead cache (spec.md §6).
type CacheConfig struct {
	DefaultTTL       time.Duration `yaml:"default_ttl"`
	RefreshThreshold float64       `yaml:"refresh_threshold"`
	LockTTL          time.Duration `yaml:"lock_ttl"`
}

// NotifyConfig configures the Retry & Notification Bridge's outbound
// channels and rate limiting.
type NotifyConfig struct {
	SlackToken  string  `yaml:"slack_token"`
	SlackChannel string `yaml:"slack_channel"`
	RateRPS     float64 `yaml:"rate_rps"`
	RateBurst   int     `yaml:"rate_burst"`
}

// Config is the single configuration bag every component is constructed
// from at startup (spec.md §6).
type Config struct {
	MaxConcurrentJobs int    `yaml:"max_concurrent_jobs"`
	QueueDepth        int    `yaml:"queue_depth"`
	APIKey            string `yaml:"api_key"`
	DatabaseURL       string `yaml:"database_url"`
	RedisURL          string `yaml:"redis_url"`
	ListenAddr        string `yaml:"listen_addr"`
	ArchiveBaseDir    string `yaml:"archive_base_dir"`
	SecretPassphrase  string `yaml:"secret_passphrase"`

	Providers map[string]ProviderConfig `yaml:"providers"`
	Policies  []PolicyRuleConfig        `yaml:"policies"`
	Queue     StorageQueueConfig        `yaml:"queue"`
	Alerts    []AlertRuleConfig         `yaml:"alerts"`
	Cache     CacheConfig               `yaml:"cache"`
	Notify    NotifyConfig              `yaml:"notify"`
}

var yamlCodec = codec.YamlCodec()

// Load reads path via the teacher's YAML codec, then applies the
// environment overrides ApplyEnvOverrides defines (spec.md §6
// "Configuration"). A missing or unparsable file is a ConfigError,
// surfaced by the cli entrypoint as a non-zero exit (spec.md §7).
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, orcherr.New(orcherr.KindConfigError, "appconfig.Load", fmt.Errorf("open %s: %w", path, err))
	}
	defer f.Close()

	cfg := &Config{}
	if err := yamlCodec.Read(f, cfg); err != nil {
		return nil, orcherr.New(orcherr.KindConfigError, "appconfig.Load", fmt.Errorf("parse %s: %w", path, err))
	}
	ApplyEnvOverrides(cfg)
	if err := cfg.validate(); err != nil {
		return nil, orcherr.New(orcherr.KindConfigError, "appconfig.Load", err)
	}
	return cfg, nil
}

// ApplyEnvOverrides layers credential overrides from the process
// environment on top of values read from YAML, using the teacher's
// config.GetEnvAsString/GetEnvAsInt (SPEC_FULL.md §A.3): API_KEY,
// DATABASE_URL, REDIS_URL never need to live in the config file.
func ApplyEnvOverrides(cfg *Config) {
	cfg.APIKey = config.GetEnvAsString("API_KEY", cfg.APIKey)
	cfg.DatabaseURL = config.GetEnvAsString("DATABASE_URL", cfg.DatabaseURL)
	cfg.RedisURL = config.GetEnvAsString("REDIS_URL", cfg.RedisURL)
	cfg.SecretPassphrase = config.GetEnvAsString("SECRET_PASSPHRASE", cfg.SecretPassphrase)
	if n, err := config.GetEnvAsInt("MAX_CONCURRENT_JOBS", cfg.MaxConcurrentJobs); err == nil {
		cfg.MaxConcurrentJobs = n
	}
}

func (c *Config) validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("appconfig: api_key is required")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("appconfig: database_url is required")
	}
	if c.MaxConcurrentJobs <= 0 {
		c.MaxConcurrentJobs = 10
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 100
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.Cache.RefreshThreshold <= 0 {
		c.Cache.RefreshThreshold = 0.2
	}
	if c.Cache.LockTTL <= 0 {
		c.Cache.LockTTL = 30 * time.Second
	}
	return nil
}
