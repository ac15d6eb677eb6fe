// Package config defines all configuration for the trading core. Config is
// loaded from a YAML file (default: configs/config.yaml) with sensitive
// fields overridable via GOLDCORE_* environment variables, and an optional
// local .env file consulted before the process environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun    bool            `mapstructure:"dry_run"`
	LightMode bool            `mapstructure:"light_mode"` // disables the nightly optimizer
	Owner     OwnerConfig     `mapstructure:"owner"`
	Exchange  ExchangeConfig  `mapstructure:"exchange"`
	Store     StoreConfig     `mapstructure:"store"`
	API       APIConfig       `mapstructure:"api"`
	Objectives ObjectivesConfig `mapstructure:"objectives"`
	Risk      RiskConfig      `mapstructure:"risk"`
	MFA       MFAConfig       `mapstructure:"mfa"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Optimizer OptimizerConfig `mapstructure:"optimizer"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	CORS      CORSConfig      `mapstructure:"cors"`
}

// OwnerConfig identifies the single principal who may authorize mutating
// requests and owns the protected-baseline policy.
type OwnerConfig struct {
	ID string `mapstructure:"id"`
}

// ExchangeConfig holds the credentials and endpoint for the exchange REST
// adapter. No Polymarket/CLOB-specific signing semantics live here — those
// are out of scope; this targets a generic balances/prices/orders API.
type ExchangeConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Secret  string `mapstructure:"secret"`
}

// StoreConfig sets where durable state is persisted.
type StoreConfig struct {
	// MongoURI is accepted for configuration-surface parity with the
	// original service but unused; the durable store is SQLite (DBPath).
	MongoURI string `mapstructure:"mongo_uri"`
	DBName   string `mapstructure:"db_name"`
	DBPath   string `mapstructure:"db_path"`
}

// APIConfig controls the HTTP server.
type APIConfig struct {
	Port int `mapstructure:"port"`
}

// ObjectivesConfig seeds the default owner policy on first boot (the
// Objectives singleton is mutable afterward via the owner-authenticated API).
type ObjectivesConfig struct {
	LargeTradeUSD              float64 `mapstructure:"large_trade_usd"`
	AutoExecuteProfitTaking    bool    `mapstructure:"auto_execute_profit_taking"`
}

// RiskConfig sets the fixed thresholds consulted by the guardrail pipeline.
type RiskConfig struct {
	MinTradeUSD     float64       `mapstructure:"min_trade_usd"`
	DailyLossLimit  float64       `mapstructure:"daily_loss_limit"`
	MaxPositionPct  float64       `mapstructure:"max_position_pct"`
	CollateralLTVWarn float64     `mapstructure:"collateral_ltv_warn"`
}

// MFAConfig controls the OTP challenge synthesized for large auto-executable
// approvals.
type MFAConfig struct {
	ThresholdUSD float64       `mapstructure:"threshold_usd"`
	Expiry       time.Duration `mapstructure:"expiry"`
}

// SchedulerConfig holds the three ingestion cadences and their adaptive
// bounds.
type SchedulerConfig struct {
	PortfolioInterval time.Duration `mapstructure:"portfolio_interval"`
	PriceInterval     time.Duration `mapstructure:"price_interval"`
	RulesTickInterval time.Duration `mapstructure:"rules_tick_interval"`
	PortfolioMinFloor time.Duration `mapstructure:"portfolio_min_floor"`
	PortfolioMaxCeil  time.Duration `mapstructure:"portfolio_max_ceil"`
	VolatilityThreshold float64     `mapstructure:"volatility_threshold"`
}

// OptimizerConfig controls the nightly backtest/optimization job.
type OptimizerConfig struct {
	WindowDays          int     `mapstructure:"window_days"`
	ImprovementThreshold float64 `mapstructure:"improvement_threshold"`
	FeeRate             float64 `mapstructure:"fee_rate"`
	Seed                int64   `mapstructure:"seed"`
	Schedule            string  `mapstructure:"schedule"` // cron expression, default "0 2 * * *"
}

// LoggingConfig controls the zerolog logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// CORSConfig lists allowed origins for the HTTP API, in exact or
// wildcard-subdomain ("*.example.com") form.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load reads config from a YAML file with env var overrides. A .env file in
// the working directory (if present) is loaded first so local secrets reach
// Viper's AutomaticEnv binding without exporting them in the shell.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("GOLDCORE")
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

	if key := os.Getenv("GOLDCORE_EXCHANGE_API_KEY"); key != "" {
		cfg.Exchange.APIKey = key
	}
	if secret := os.Getenv("GOLDCORE_EXCHANGE_SECRET"); secret != "" {
		cfg.Exchange.Secret = secret
	}
	if os.Getenv("GOLDCORE_OWNER_ID") != "" {
		cfg.Owner.ID = os.Getenv("GOLDCORE_OWNER_ID")
	}
	if v := os.Getenv("GOLDCORE_DRY_RUN"); v == "true" || v == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("scheduler.portfolio_interval", 5*time.Minute)
	v.SetDefault("scheduler.price_interval", 60*time.Second)
	v.SetDefault("scheduler.rules_tick_interval", 10*time.Minute)
	v.SetDefault("scheduler.portfolio_min_floor", 60*time.Second)
	v.SetDefault("scheduler.portfolio_max_ceil", 15*time.Minute)
	v.SetDefault("scheduler.volatility_threshold", 0.05)
	v.SetDefault("risk.min_trade_usd", 10.0)
	v.SetDefault("risk.collateral_ltv_warn", 0.7)
	v.SetDefault("mfa.expiry", 5*time.Minute)
	v.SetDefault("optimizer.window_days", 90)
	v.SetDefault("optimizer.improvement_threshold", 0.10)
	v.SetDefault("optimizer.fee_rate", 0.006)
	v.SetDefault("optimizer.schedule", "0 2 * * *")
	v.SetDefault("logging.level", "info")
	v.SetDefault("store.db_path", "./data/goldcore.db")
}

// Validate checks all required fields and value ranges. Missing required
// values abort startup; missing optional integrations should instead degrade
// gracefully at the call site (see §7's "Startup fatal" vs. "degraded mode").
func (c *Config) Validate() error {
	// owner.id is deliberately not required: an unconfigured owner is a
	// supported degraded mode (§3 invariant — every trade is forced into
	// dry-run until an owner identity is set), not a startup failure.
	if c.Store.DBPath == "" {
		return fmt.Errorf("store.db_path is required")
	}
	if c.API.Port <= 0 {
		return fmt.Errorf("api.port must be > 0")
	}
	if c.Risk.MinTradeUSD <= 0 {
		return fmt.Errorf("risk.min_trade_usd must be > 0")
	}
	if c.Risk.DailyLossLimit <= 0 {
		return fmt.Errorf("risk.daily_loss_limit must be > 0")
	}
	if c.Risk.MaxPositionPct <= 0 || c.Risk.MaxPositionPct > 1 {
		return fmt.Errorf("risk.max_position_pct must be in (0, 1]")
	}
	if c.MFA.ThresholdUSD <= 0 {
		return fmt.Errorf("mfa.threshold_usd must be > 0")
	}
	if c.Optimizer.WindowDays <= 0 {
		return fmt.Errorf("optimizer.window_days must be > 0")
	}
	return nil
}
