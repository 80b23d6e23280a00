package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for a simulation run.
type Config struct {
	ReferenceCurrency       string  `env:"REFERENCE_CURRENCY" envDefault:"USDT"`
	FeePercentage           float64 `env:"FEE_PERCENTAGE" envDefault:"0.1"`
	MarginReservePercentage int     `env:"MARGIN_RESERVE_PERCENTAGE" envDefault:"150"`

	Fill       FillConfig       `envPrefix:"FILL_"`
	Log        LogConfig        `envPrefix:"LOG_"`
	RandomWalk RandomWalkConfig `envPrefix:"RANDOM_WALK_"`
	Limits     Limits           `envPrefix:"LIMIT_"`

	// JournalPath is the sqlite journal file; empty disables journaling.
	JournalPath  string `env:"JOURNAL_PATH"`
	ScenarioPath string `env:"SCENARIO_PATH" envDefault:"./scenario.yaml"`
	// CandlesPath is a CSV of candles; empty replays a random walk.
	CandlesPath string `env:"CANDLES_PATH"`
}

// FillConfig selects the fill emulator.
type FillConfig struct {
	Mode         string  `env:"MODE" envDefault:"immediate"` // immediate | partial
	MaxVolumePct float64 `env:"MAX_VOLUME_PCT" envDefault:"100"`
	SlippageBps  float64 `env:"SLIPPAGE_BPS" envDefault:"0"`
	Seed         int64   `env:"SEED" envDefault:"0"`

	// MarketAtClose fills market orders at the candle close rather than
	// their own price.
	MarketAtClose bool `env:"MARKET_AT_CLOSE" envDefault:"false"`
}

// LogConfig configures pkg/logger.
type LogConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"console"` // console | json
}

// RandomWalkConfig shapes the synthetic candles used without a CSV.
type RandomWalkConfig struct {
	Symbol     string  `env:"SYMBOL" envDefault:"ADAUSDT"`
	StartPrice float64 `env:"START_PRICE" envDefault:"1"`
	Step       float64 `env:"STEP" envDefault:"0.01"`
	Candles    int     `env:"CANDLES" envDefault:"500"`
	Seed       int64   `env:"SEED" envDefault:"1"`
}

// Limits are the default fund-allocation caps of every account. Unset caps
// stay nil and are not applied.
type Limits struct {
	MaxAmountPerAsset     *float64 `env:"MAX_AMOUNT_PER_ASSET"`
	MaxPercentagePerAsset *float64 `env:"MAX_PERCENTAGE_PER_ASSET"`
	MaxAmountPerTrade     *float64 `env:"MAX_AMOUNT_PER_TRADE"`
	MaxPercentagePerTrade *float64 `env:"MAX_PERCENTAGE_PER_TRADE"`
	MinAmountPerTrade     *float64 `env:"MIN_AMOUNT_PER_TRADE"`
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the simulation cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ReferenceCurrency) == "" {
		return fmt.Errorf("REFERENCE_CURRENCY must not be empty")
	}
	if c.FeePercentage < 0 {
		return fmt.Errorf("FEE_PERCENTAGE must not be negative, got %v", c.FeePercentage)
	}
	if c.MarginReservePercentage < 100 {
		return fmt.Errorf("MARGIN_RESERVE_PERCENTAGE must be at least 100, got %d", c.MarginReservePercentage)
	}
	switch c.Fill.Mode {
	case "immediate", "partial":
	default:
		return fmt.Errorf("FILL_MODE must be immediate or partial, got %q", c.Fill.Mode)
	}
	return nil
}
