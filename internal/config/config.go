package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Trading    Trading    `mapstructure:"trading"`
	Guards     Guards     `mapstructure:"guards"`
	Ledger     Ledger     `mapstructure:"ledger"`
	MarketData MarketData `mapstructure:"marketdata"`
	Logger     Logger     `mapstructure:"logger"`
	Server     Server     `mapstructure:"server"`
}

// Trading holds the configuration for the decision loop.
type Trading struct {
	Watchlist    []string `mapstructure:"watchlist"`
	TickInterval int      `mapstructure:"tick_interval"` // seconds
	FeeRate      float64  `mapstructure:"fee_rate"`
	// PositionSize is the notional spent per buy, in the symbol's
	// settlement currency. Quantity is derived from the entry price.
	PositionSize  float64 `mapstructure:"position_size"`
	MinConfidence float64 `mapstructure:"min_confidence"`
	MinRank       float64 `mapstructure:"min_rank"`
	// Optional protective thresholds attached to new positions, as
	// percentages of the entry price. Zero disables.
	StopLossPct   float64 `mapstructure:"stop_loss_pct"`
	TakeProfitPct float64 `mapstructure:"take_profit_pct"`
}

// Guards holds the time windows for the guard layer.
type Guards struct {
	CooldownHours             int `mapstructure:"cooldown_hours"`
	MinHoldHours              int `mapstructure:"min_hold_hours"`
	MinTimeBetweenTradesHours int `mapstructure:"min_time_between_trades_hours"`
}

// Cooldown returns the sell-to-rebuy window.
func (g Guards) Cooldown() time.Duration {
	return time.Duration(g.CooldownHours) * time.Hour
}

// MinHold returns the minimum holding period.
func (g Guards) MinHold() time.Duration {
	return time.Duration(g.MinHoldHours) * time.Hour
}

// MinTimeBetweenTrades returns the repeat-buy window.
func (g Guards) MinTimeBetweenTrades() time.Duration {
	return time.Duration(g.MinTimeBetweenTradesHours) * time.Hour
}

// Ledger holds the persistence configuration.
type Ledger struct {
	DataDir string `mapstructure:"data_dir"`
	// LegacyDSN points at the pre-V6 sqlite store; empty skips the
	// migration attempt.
	LegacyDSN string `mapstructure:"legacy_dsn"`
}

// MarketData holds the gateway configuration.
type MarketData struct {
	BaseURL        string  `mapstructure:"base_url"`
	StreamURL      string  `mapstructure:"stream_url"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Server holds the configuration for the status API.
type Server struct {
	Port int `mapstructure:"port"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yml")    // or yaml, json

	// Allow environment variables to override config file
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("trading.tick_interval", 60)
	viper.SetDefault("trading.fee_rate", 0.01)
	viper.SetDefault("trading.position_size", 1000)
	viper.SetDefault("trading.min_confidence", 0.6)
	viper.SetDefault("trading.min_rank", 60)
	viper.SetDefault("guards.cooldown_hours", 168)
	viper.SetDefault("guards.min_hold_hours", 24)
	viper.SetDefault("guards.min_time_between_trades_hours", 24)
	viper.SetDefault("ledger.data_dir", "./data")
	viper.SetDefault("marketdata.rate_limit", 20)      // requests per second
	viper.SetDefault("marketdata.rate_limit_burst", 5) // burst size
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.format", "console")
	viper.SetDefault("server.port", 8080)

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}
