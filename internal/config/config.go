// Package config defines all configuration for the alert pipeline.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via ALERT_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun     bool             `mapstructure:"dry_run"`
	Sources    []SourceConfig   `mapstructure:"sources"`
	Correlator CorrelatorConfig `mapstructure:"correlator"`
	EventLog   EventLogConfig   `mapstructure:"event_log"`
	Mirror     MirrorConfig     `mapstructure:"mirror"`
	Enrich     EnrichConfig     `mapstructure:"enrich"`
	API        APIConfig        `mapstructure:"api"`
	Fanout     FanoutConfig     `mapstructure:"fanout"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// SourceConfig describes one upstream chat source to ingest from.
type SourceConfig struct {
	ID         string `mapstructure:"id"`
	Kind       string `mapstructure:"kind"` // buy_feed | social_feed | momentum_feed | trending_feed | hotlist_feed
	Transport  string `mapstructure:"transport"` // "ws" or "poll"
	URL        string `mapstructure:"url"`
	Token      string `mapstructure:"token"` // auth token, overridable per-source via env
	PollPeriod time.Duration `mapstructure:"poll_period"` // only used when Transport == "poll"
}

// CorrelatorConfig surfaces every numeric threshold the tier rules,
// eligibility gates, and dynamic-thresholding mechanism reference.
type CorrelatorConfig struct {
	DedupeWindow time.Duration `mapstructure:"dedupe_window"` // W_dedupe, default 5m
	StateWindow  time.Duration `mapstructure:"state_window"`  // W_state, default 30m
	HotlistSkew  time.Duration `mapstructure:"hotlist_skew"`  // ±20min cohort/hotlist alignment

	MinLiquidityUSD float64 `mapstructure:"min_liquidity_usd"` // eligibility floor, default 10_000
	MaxMarketCapUSD float64 `mapstructure:"max_market_cap_usd"` // eligibility ceiling, default 1_000_000

	Tier1MinMC float64 `mapstructure:"tier1_min_mc"` // default 40_000
	Tier1MaxMC float64 `mapstructure:"tier1_max_mc"` // default 100_000
	Tier2MinMC float64 `mapstructure:"tier2_min_mc"` // default 30_000
	Tier2MaxMC float64 `mapstructure:"tier2_max_mc"` // default 120_000

	Tier1MinCallers int `mapstructure:"tier1_min_callers"` // default 20
	Tier1MinSubs    int `mapstructure:"tier1_min_subs"`    // default 100_000

	LowLiquidityPenaltyUSD float64 `mapstructure:"low_liquidity_penalty_usd"` // default 5_000
	ChurnWindow            time.Duration `mapstructure:"churn_window"`        // default 48h
	ChurnPeakMultiple      float64       `mapstructure:"churn_peak_multiple"` // default 4.0

	BuySizeBoostTopSOL  float64 `mapstructure:"buy_size_boost_top_sol"`  // default 20
	BuySizeBoostLastSOL float64 `mapstructure:"buy_size_boost_last_sol"` // default 5

	DynamicThresholdTriggerCount int           `mapstructure:"dynamic_threshold_trigger_count"` // default 10
	DynamicThresholdRestoreCount int           `mapstructure:"dynamic_threshold_restore_count"` // default 8
	DynamicThresholdWindow       time.Duration `mapstructure:"dynamic_threshold_window"`         // default 24h
	DynamicThresholdMCDeltaUSD   float64       `mapstructure:"dynamic_threshold_mc_delta_usd"`    // default 10_000
	DynamicThresholdSocialDelta  float64       `mapstructure:"dynamic_threshold_social_delta"`    // default 0.25

	IngestLatencyBudget time.Duration `mapstructure:"ingest_latency_budget"` // default 5s
	MaxTrackedContracts int           `mapstructure:"max_tracked_contracts"` // default 10_000
}

// EventLogConfig controls the durable append-only log's file layout and
// write retry cascade.
type EventLogConfig struct {
	Path             string        `mapstructure:"path"`
	BackupDir        string        `mapstructure:"backup_dir"`
	BackupCount      int           `mapstructure:"backup_count"`       // default 5
	EmergencyPath    string        `mapstructure:"emergency_path"`
	LockPath         string        `mapstructure:"lock_path"`
	WriteRetries     int           `mapstructure:"write_retries"`      // default 5
	WriteRetryBase   time.Duration `mapstructure:"write_retry_base"`   // default 50ms
	WriteRetryMax    time.Duration `mapstructure:"write_retry_max"`    // default 800ms
}

// MirrorConfig controls the best-effort remote mirror.
type MirrorConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	URL           string        `mapstructure:"url"`
	Token         string        `mapstructure:"token"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RetryCount    int           `mapstructure:"retry_count"`
	CoalesceCount int           `mapstructure:"coalesce_count"` // default 3
	CoalesceDelay time.Duration `mapstructure:"coalesce_delay"` // default 2s
}

// EnrichConfig controls the live market-snapshot quote client used to
// backfill missing market-cap data during emission.
type EnrichConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	Timeout           time.Duration `mapstructure:"timeout"`              // default 2s
	Retries           int           `mapstructure:"retries"`              // default 1
	RateLimitBurst    float64       `mapstructure:"rate_limit_burst"`     // default 10
	RateLimitPerSec   float64       `mapstructure:"rate_limit_per_sec"`   // default 5
}

// APIConfig controls the read-only HTTP API server.
type APIConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Port     int           `mapstructure:"port"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"` // default 5s
}

// FanoutConfig controls subscriber delivery.
type FanoutConfig struct {
	RegistryURL      string        `mapstructure:"registry_url"`
	BroadcastURL     string        `mapstructure:"broadcast_url"` // Tier-1 broadcast channel
	RetryCount       int           `mapstructure:"retry_count"`   // default 2
	RetryDelay       time.Duration `mapstructure:"retry_delay"`   // default 1s
	DeliveryTimeout  time.Duration `mapstructure:"delivery_timeout"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: ALERT_MIRROR_TOKEN, ALERT_DRY_RUN, and
// ALERT_SOURCE_<ID>_TOKEN for per-source credentials.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("ALERT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if token := os.Getenv("ALERT_MIRROR_TOKEN"); token != "" {
		cfg.Mirror.Token = token
	}
	if os.Getenv("ALERT_DRY_RUN") == "true" || os.Getenv("ALERT_DRY_RUN") == "1" {
		cfg.DryRun = true
	}
	for i := range cfg.Sources {
		envKey := "ALERT_SOURCE_" + strings.ToUpper(cfg.Sources[i].ID) + "_TOKEN"
		if token := os.Getenv(envKey); token != "" {
			cfg.Sources[i].Token = token
		}
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

// applyDefaults fills zero-valued fields with the spec's stated defaults,
// so a minimal config file only needs to name sources.
func applyDefaults(c *Config) {
	cor := &c.Correlator
	if cor.DedupeWindow == 0 {
		cor.DedupeWindow = 5 * time.Minute
	}
	if cor.StateWindow == 0 {
		cor.StateWindow = 30 * time.Minute
	}
	if cor.HotlistSkew == 0 {
		cor.HotlistSkew = 20 * time.Minute
	}
	if cor.MinLiquidityUSD == 0 {
		cor.MinLiquidityUSD = 10_000
	}
	if cor.MaxMarketCapUSD == 0 {
		cor.MaxMarketCapUSD = 1_000_000
	}
	if cor.Tier1MinMC == 0 {
		cor.Tier1MinMC = 40_000
	}
	if cor.Tier1MaxMC == 0 {
		cor.Tier1MaxMC = 100_000
	}
	if cor.Tier2MinMC == 0 {
		cor.Tier2MinMC = 30_000
	}
	if cor.Tier2MaxMC == 0 {
		cor.Tier2MaxMC = 120_000
	}
	if cor.Tier1MinCallers == 0 {
		cor.Tier1MinCallers = 20
	}
	if cor.Tier1MinSubs == 0 {
		cor.Tier1MinSubs = 100_000
	}
	if cor.LowLiquidityPenaltyUSD == 0 {
		cor.LowLiquidityPenaltyUSD = 5_000
	}
	if cor.ChurnWindow == 0 {
		cor.ChurnWindow = 48 * time.Hour
	}
	if cor.ChurnPeakMultiple == 0 {
		cor.ChurnPeakMultiple = 4.0
	}
	if cor.BuySizeBoostTopSOL == 0 {
		cor.BuySizeBoostTopSOL = 20
	}
	if cor.BuySizeBoostLastSOL == 0 {
		cor.BuySizeBoostLastSOL = 5
	}
	if cor.DynamicThresholdTriggerCount == 0 {
		cor.DynamicThresholdTriggerCount = 10
	}
	if cor.DynamicThresholdRestoreCount == 0 {
		cor.DynamicThresholdRestoreCount = 8
	}
	if cor.DynamicThresholdWindow == 0 {
		cor.DynamicThresholdWindow = 24 * time.Hour
	}
	if cor.DynamicThresholdMCDeltaUSD == 0 {
		cor.DynamicThresholdMCDeltaUSD = 10_000
	}
	if cor.DynamicThresholdSocialDelta == 0 {
		cor.DynamicThresholdSocialDelta = 0.25
	}
	if cor.IngestLatencyBudget == 0 {
		cor.IngestLatencyBudget = 5 * time.Second
	}
	if cor.MaxTrackedContracts == 0 {
		cor.MaxTrackedContracts = 10_000
	}

	el := &c.EventLog
	if el.Path == "" {
		el.Path = "data/alerts.json"
	}
	if el.BackupDir == "" {
		el.BackupDir = "data/backups"
	}
	if el.BackupCount == 0 {
		el.BackupCount = 5
	}
	if el.EmergencyPath == "" {
		el.EmergencyPath = "data/alerts.jsonl.emergency"
	}
	if el.LockPath == "" {
		el.LockPath = "data/alerts.json.lock"
	}
	if el.WriteRetries == 0 {
		el.WriteRetries = 5
	}
	if el.WriteRetryBase == 0 {
		el.WriteRetryBase = 50 * time.Millisecond
	}
	if el.WriteRetryMax == 0 {
		el.WriteRetryMax = 800 * time.Millisecond
	}

	mr := &c.Mirror
	if mr.Timeout == 0 {
		mr.Timeout = 5 * time.Second
	}
	if mr.RetryCount == 0 {
		mr.RetryCount = 3
	}
	if mr.CoalesceCount == 0 {
		mr.CoalesceCount = 3
	}
	if mr.CoalesceDelay == 0 {
		mr.CoalesceDelay = 2 * time.Second
	}

	en := &c.Enrich
	if en.Timeout == 0 {
		en.Timeout = 2 * time.Second
	}
	if en.Retries == 0 {
		en.Retries = 1
	}
	if en.RateLimitBurst == 0 {
		en.RateLimitBurst = 10
	}
	if en.RateLimitPerSec == 0 {
		en.RateLimitPerSec = 5
	}

	api := &c.API
	if api.Port == 0 {
		api.Port = 8090
	}
	if api.CacheTTL == 0 {
		api.CacheTTL = 5 * time.Second
	}

	fo := &c.Fanout
	if fo.RetryCount == 0 {
		fo.RetryCount = 2
	}
	if fo.RetryDelay == 0 {
		fo.RetryDelay = time.Second
	}
	if fo.DeliveryTimeout == 0 {
		fo.DeliveryTimeout = 5 * time.Second
	}

	if c.Metrics.Port == 0 {
		c.Metrics.Port = 9090
	}
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if len(c.Sources) == 0 {
		return fmt.Errorf("sources: at least one source must be configured")
	}
	seen := make(map[string]bool, len(c.Sources))
	for _, s := range c.Sources {
		if s.ID == "" {
			return fmt.Errorf("sources: id is required")
		}
		if seen[s.ID] {
			return fmt.Errorf("sources: duplicate id %q", s.ID)
		}
		seen[s.ID] = true
		switch s.Kind {
		case "buy_feed", "social_feed", "momentum_feed", "trending_feed", "hotlist_feed":
		default:
			return fmt.Errorf("sources[%s]: kind %q is not a recognized source kind", s.ID, s.Kind)
		}
		switch s.Transport {
		case "ws", "poll":
		default:
			return fmt.Errorf("sources[%s]: transport must be \"ws\" or \"poll\"", s.ID)
		}
		if s.URL == "" {
			return fmt.Errorf("sources[%s]: url is required", s.ID)
		}
	}

	cor := c.Correlator
	if cor.Tier1MinMC >= cor.Tier1MaxMC {
		return fmt.Errorf("correlator.tier1_min_mc must be less than tier1_max_mc")
	}
	if cor.Tier2MinMC >= cor.Tier2MaxMC {
		return fmt.Errorf("correlator.tier2_min_mc must be less than tier2_max_mc")
	}
	if cor.MinLiquidityUSD < 0 {
		return fmt.Errorf("correlator.min_liquidity_usd must be >= 0")
	}
	if cor.MaxMarketCapUSD <= 0 {
		return fmt.Errorf("correlator.max_market_cap_usd must be > 0")
	}
	if cor.DedupeWindow <= 0 {
		return fmt.Errorf("correlator.dedupe_window must be > 0")
	}
	if cor.StateWindow <= 0 {
		return fmt.Errorf("correlator.state_window must be > 0")
	}
	if cor.MaxTrackedContracts <= 0 {
		return fmt.Errorf("correlator.max_tracked_contracts must be > 0")
	}

	if c.EventLog.Path == "" {
		return fmt.Errorf("event_log.path is required")
	}
	if c.EventLog.BackupCount < 0 {
		return fmt.Errorf("event_log.backup_count must be >= 0")
	}

	if c.Mirror.Enabled && c.Mirror.URL == "" {
		return fmt.Errorf("mirror.url is required when mirror.enabled is true")
	}

	if c.API.Enabled && c.API.Port <= 0 {
		return fmt.Errorf("api.port must be > 0 when api.enabled is true")
	}

	return nil
}
