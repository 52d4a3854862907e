// Package config defines all configuration for the odds-replication bot.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via XMM_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"exchange-mm/pkg/types"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun    bool            `mapstructure:"dry_run"`
	Reference ReferenceConfig `mapstructure:"reference"`
	Exchange  ExchangeConfig  `mapstructure:"exchange"`
	Replicate ReplicateConfig `mapstructure:"replicate"`
	Sizing    SizingConfig    `mapstructure:"sizing"`
	Resolver  ResolverConfig  `mapstructure:"resolver"`
	Limits    LimitsConfig    `mapstructure:"limits"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Admin     AdminConfig     `mapstructure:"admin"`
}

// ReferenceConfig points at the odds aggregator and names the single sharp
// bookmaker whose prices are replicated.
type ReferenceConfig struct {
	APIKey    string   `mapstructure:"api_key"`
	BaseURL   string   `mapstructure:"base_url"`
	Sport     string   `mapstructure:"sport"`
	Bookmaker string   `mapstructure:"bookmaker"`
	Markets   []string `mapstructure:"markets"` // subset of moneyline, spread, total
}

// ExchangeConfig holds the exchange API credentials. Sandbox selects the
// sandbox base URL instead of production.
type ExchangeConfig struct {
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Sandbox   bool   `mapstructure:"sandbox"`
	BaseURL   string `mapstructure:"base_url"` // optional explicit override
}

// ReplicateConfig tunes the replication cycle and the line state machine.
//
//   - PollIntervalSeconds: cycle period, minimum 60.
//   - SignificantMoveThreshold: American points of reference movement that
//     invalidates posted wagers.
//   - CoolDownSeconds: no placements on a line for this long after a fill.
//   - StopMarginMinutes: stop making markets this long before start.
//   - CancelOnStop: cancel open wagers when an event leaves the active set.
type ReplicateConfig struct {
	PollIntervalSeconds      int  `mapstructure:"poll_interval_seconds"`
	SignificantMoveThreshold int  `mapstructure:"significant_move_threshold"`
	CoolDownSeconds          int  `mapstructure:"cool_down_seconds"`
	StopMarginMinutes        int  `mapstructure:"stop_margin_minutes"`
	CancelOnStop             bool `mapstructure:"cancel_on_stop"`
}

// SizingConfig drives the arbitrage stake math.
type SizingConfig struct {
	BasePlusStake      float64 `mapstructure:"base_plus_stake"`
	HardMaxPlus        float64 `mapstructure:"hard_max_plus"`
	PositionMultiplier float64 `mapstructure:"position_multiplier"`
	CommissionRate     float64 `mapstructure:"commission_rate"`
}

// ResolverConfig tunes event pairing.
type ResolverConfig struct {
	ConfidenceThreshold  float64 `mapstructure:"confidence_threshold"`
	TimeToleranceMinutes int     `mapstructure:"time_tolerance_minutes"`
}

// LimitsConfig sets portfolio-level caps, zero means unlimited.
type LimitsConfig struct {
	MaxEventsTracked    int     `mapstructure:"max_events_tracked"`
	MaxExposurePerEvent float64 `mapstructure:"max_exposure_per_event"`
	MaxExposureTotal    float64 `mapstructure:"max_exposure_total"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AdminConfig controls the read-mostly admin HTTP server.
type AdminConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// PollInterval returns the cycle period as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Replicate.PollIntervalSeconds) * time.Second
}

// CoolDown returns the per-line post-fill cool-down.
func (c *Config) CoolDown() time.Duration {
	return time.Duration(c.Replicate.CoolDownSeconds) * time.Second
}

// StopMargin returns how long before commence time market making stops.
func (c *Config) StopMargin() time.Duration {
	return time.Duration(c.Replicate.StopMarginMinutes) * time.Minute
}

// TimeTolerance returns the maximum start-time delta for event pairing.
func (c *Config) TimeTolerance() time.Duration {
	return time.Duration(c.Resolver.TimeToleranceMinutes) * time.Minute
}

// ReferenceKinds converts the configured market names into MarketKinds.
func (c *Config) ReferenceKinds() []types.MarketKind {
	kinds := make([]types.MarketKind, 0, len(c.Reference.Markets))
	for _, m := range c.Reference.Markets {
		kinds = append(kinds, types.MarketKind(strings.ToLower(strings.TrimSpace(m))))
	}
	return kinds
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: XMM_REFERENCE_API_KEY, XMM_EXCHANGE_ACCESS_KEY,
// XMM_EXCHANGE_SECRET_KEY.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("XMM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env
	if key := os.Getenv("XMM_REFERENCE_API_KEY"); key != "" {
		cfg.Reference.APIKey = key
	}
	if key := os.Getenv("XMM_EXCHANGE_ACCESS_KEY"); key != "" {
		cfg.Exchange.AccessKey = key
	}
	if key := os.Getenv("XMM_EXCHANGE_SECRET_KEY"); key != "" {
		cfg.Exchange.SecretKey = key
	}
	if os.Getenv("XMM_DRY_RUN") == "true" || os.Getenv("XMM_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("reference.sport", "baseball_mlb")
	v.SetDefault("reference.bookmaker", "pinnacle")
	v.SetDefault("reference.markets", []string{"moneyline", "spread", "total"})
	v.SetDefault("replicate.poll_interval_seconds", 60)
	v.SetDefault("replicate.significant_move_threshold", 5)
	v.SetDefault("replicate.cool_down_seconds", 300)
	v.SetDefault("replicate.stop_margin_minutes", 15)
	v.SetDefault("sizing.base_plus_stake", 100.0)
	v.SetDefault("sizing.hard_max_plus", 500.0)
	v.SetDefault("sizing.position_multiplier", 5.0)
	v.SetDefault("sizing.commission_rate", 0.03)
	v.SetDefault("resolver.confidence_threshold", 0.7)
	v.SetDefault("resolver.time_tolerance_minutes", 15)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("admin.port", 8080)
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Reference.APIKey == "" {
		return fmt.Errorf("reference.api_key is required (set XMM_REFERENCE_API_KEY)")
	}
	if c.Reference.BaseURL == "" {
		return fmt.Errorf("reference.base_url is required")
	}
	if c.Reference.Bookmaker == "" {
		return fmt.Errorf("reference.bookmaker is required")
	}
	if c.Exchange.AccessKey == "" {
		return fmt.Errorf("exchange.access_key is required (set XMM_EXCHANGE_ACCESS_KEY)")
	}
	if c.Exchange.SecretKey == "" {
		return fmt.Errorf("exchange.secret_key is required (set XMM_EXCHANGE_SECRET_KEY)")
	}
	if c.Replicate.PollIntervalSeconds < 60 {
		return fmt.Errorf("replicate.poll_interval_seconds must be >= 60")
	}
	if c.Replicate.SignificantMoveThreshold <= 0 {
		return fmt.Errorf("replicate.significant_move_threshold must be > 0")
	}
	if c.Sizing.BasePlusStake <= 0 {
		return fmt.Errorf("sizing.base_plus_stake must be > 0")
	}
	if c.Sizing.PositionMultiplier <= 0 {
		return fmt.Errorf("sizing.position_multiplier must be > 0")
	}
	if c.Sizing.CommissionRate < 0 || c.Sizing.CommissionRate >= 1 {
		return fmt.Errorf("sizing.commission_rate must be in [0, 1)")
	}
	if c.Resolver.ConfidenceThreshold <= 0 || c.Resolver.ConfidenceThreshold > 1 {
		return fmt.Errorf("resolver.confidence_threshold must be in (0, 1]")
	}
	for _, m := range c.Reference.Markets {
		switch types.MarketKind(strings.ToLower(strings.TrimSpace(m))) {
		case types.Moneyline, types.Spread, types.Total:
		default:
			return fmt.Errorf("reference.markets: unknown market kind %q", m)
		}
	}
	return nil
}
