// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	App        AppConfig        `yaml:"app"`
	MarketData MarketDataConfig `yaml:"market_data"`
	Pairs      []PairConfig     `yaml:"pairs"`
	Execution  ExecutionConfig  `yaml:"execution"`
	Matching   MatchingConfig   `yaml:"matching"`
	Risk       RiskConfig       `yaml:"risk"`
	Storage    StorageConfig    `yaml:"storage"`
	Alerts     AlertsConfig     `yaml:"alerts"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level" validate:"required,oneof=DEBUG INFO WARN ERROR FATAL"`
	Mode        string `yaml:"mode" validate:"required,oneof=paper live"`
}

// MarketDataConfig contains market data feed settings
type MarketDataConfig struct {
	WSURL                     string                 `yaml:"ws_url"`
	RestURL                   string                 `yaml:"rest_url"`
	APIKey                    Secret                 `yaml:"api_key"`
	SecretKey                 Secret                 `yaml:"secret_key"`
	StalenessThresholdSeconds int                    `yaml:"staleness_threshold_seconds" validate:"min=1,max=3600"`
	ReconnectDelaySeconds     int                    `yaml:"reconnect_delay_seconds" validate:"min=1,max=300"`
	PingIntervalSeconds       int                    `yaml:"ping_interval_seconds" validate:"min=1,max=300"`
	SnapshotDepth             int                    `yaml:"snapshot_depth" validate:"min=1,max=500"`
	Venues                    map[string]VenueConfig `yaml:"venues"`
}

// VenueConfig contains per-venue session settings. An empty session
// means the venue trades around the clock.
type VenueConfig struct {
	SessionStart string `yaml:"session_start"` // HH:MM, venue local time
	SessionEnd   string `yaml:"session_end"`   // HH:MM, venue local time
	Timezone     string `yaml:"timezone"`      // IANA name, e.g. America/New_York
}

// InstrumentConfig identifies one tradable instrument on a venue
type InstrumentConfig struct {
	Venue  string `yaml:"venue" validate:"required"`
	Symbol string `yaml:"symbol" validate:"required"`
}

// PairConfig describes one cross-market pair to trade
type PairConfig struct {
	First            InstrumentConfig `yaml:"first"`
	Second           InstrumentConfig `yaml:"second"`
	Direction        string           `yaml:"direction" validate:"required,oneof=long short"`
	TargetNotional   float64          `yaml:"target_notional" validate:"required,min=0"`
	MinSpreadPercent float64          `yaml:"min_spread_percent" validate:"min=0,max=100"`
	TimeoutSeconds   int              `yaml:"timeout_seconds" validate:"required,min=1,max=86400"`
}

// ExecutionConfig contains execution loop parameters
type ExecutionConfig struct {
	EvaluationIntervalMs int     `yaml:"evaluation_interval_ms" validate:"required,min=10,max=60000"`
	OrderRateLimit       float64 `yaml:"order_rate_limit" validate:"required,min=1,max=1000"`
	OrderRateBurst       int     `yaml:"order_rate_burst" validate:"required,min=1,max=1000"`
	BatchNotifications   bool    `yaml:"batch_notifications"`
}

// MatchingConfig contains spread matching parameters
type MatchingConfig struct {
	MaxDepthLevels int     `yaml:"max_depth_levels" validate:"required,min=1,max=500"`
	BuyFeeRate     float64 `yaml:"buy_fee_rate" validate:"min=0,max=1"`
	SellFeeRate    float64 `yaml:"sell_fee_rate" validate:"min=0,max=1"`
}

// RiskConfig contains execution halt settings
type RiskConfig struct {
	Enabled                bool `yaml:"enabled"`
	MaxConsecutiveFailures int  `yaml:"max_consecutive_failures" validate:"min=1,max=100"`
	CooldownSeconds        int  `yaml:"cooldown_seconds" validate:"min=1,max=86400"`
}

// StorageConfig contains history store settings
type StorageConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// AlertsConfig contains alert channel settings
type AlertsConfig struct {
	Enabled          bool   `yaml:"enabled"`
	SlackWebhookURL  Secret `yaml:"slack_webhook_url"`
	TelegramBotToken Secret `yaml:"telegram_bot_token"`
	TelegramChatID   string `yaml:"telegram_chat_id"`
	MinLevel         string `yaml:"min_level" validate:"oneof=INFO WARNING ERROR CRITICAL"`
}

// TelemetryConfig contains telemetry settings. A zero live_feed_port
// disables the websocket feed.
type TelemetryConfig struct {
	MetricsPort     int      `yaml:"metrics_port"`
	HealthPort      int      `yaml:"health_port"`
	EnableMetrics   bool     `yaml:"enable_metrics"`
	LiveFeedPort    int      `yaml:"live_feed_port"`
	LiveFeedOrigins []string `yaml:"live_feed_origins"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content
	expandedData := expandEnvVars(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errors []string

	// Validate app config
	if err := c.validateAppConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	// Validate market data config
	if err := c.validateMarketDataConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	// Validate pairs
	if err := c.validatePairs(); err != nil {
		errors = append(errors, err.Error())
	}

	// Validate execution config
	if err := c.validateExecutionConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	// Validate matching config
	if err := c.validateMatchingConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	// Validate risk config
	if err := c.validateRiskConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	// Validate storage config
	if err := c.validateStorageConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	// Validate alerts config
	if err := c.validateAlertsConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errors, "\n"))
	}

	return nil
}

func (c *Config) validateAppConfig() error {
	validModes := []string{"paper", "live"}
	if !contains(validModes, c.App.Mode) {
		return ValidationError{
			Field:   "app.mode",
			Value:   c.App.Mode,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validModes, ", ")),
		}
	}

	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.App.LogLevel)) {
		return ValidationError{
			Field:   "app.log_level",
			Value:   c.App.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}

	return nil
}

func (c *Config) validateMarketDataConfig() error {
	// Paper mode can run entirely off the simulated book, so the feed
	// endpoints are only mandatory for live trading.
	if c.App.Mode == "live" {
		if c.MarketData.WSURL == "" {
			return ValidationError{
				Field:   "market_data.ws_url",
				Message: "websocket URL is required in live mode",
			}
		}
		if c.MarketData.RestURL == "" {
			return ValidationError{
				Field:   "market_data.rest_url",
				Message: "REST URL is required in live mode",
			}
		}
	}

	if c.MarketData.StalenessThresholdSeconds <= 0 {
		return ValidationError{
			Field:   "market_data.staleness_threshold_seconds",
			Value:   c.MarketData.StalenessThresholdSeconds,
			Message: "staleness threshold must be positive",
		}
	}

	for venue, vc := range c.MarketData.Venues {
		if (vc.SessionStart == "") != (vc.SessionEnd == "") {
			return ValidationError{
				Field:   fmt.Sprintf("market_data.venues.%s", venue),
				Message: "session_start and session_end must be set together",
			}
		}
	}

	return nil
}

func (c *Config) validatePairs() error {
	if len(c.Pairs) == 0 {
		return ValidationError{
			Field:   "pairs",
			Message: "at least one pair must be configured",
		}
	}

	validDirections := []string{"long", "short"}
	seen := make(map[string]bool)

	for i, pair := range c.Pairs {
		if pair.First.Venue == "" || pair.First.Symbol == "" {
			return ValidationError{
				Field:   fmt.Sprintf("pairs[%d].first", i),
				Message: "venue and symbol are required",
			}
		}
		if pair.Second.Venue == "" || pair.Second.Symbol == "" {
			return ValidationError{
				Field:   fmt.Sprintf("pairs[%d].second", i),
				Message: "venue and symbol are required",
			}
		}
		if pair.First == pair.Second {
			return ValidationError{
				Field:   fmt.Sprintf("pairs[%d]", i),
				Message: "first and second instruments must differ",
			}
		}
		if !contains(validDirections, pair.Direction) {
			return ValidationError{
				Field:   fmt.Sprintf("pairs[%d].direction", i),
				Value:   pair.Direction,
				Message: fmt.Sprintf("must be one of: %s", strings.Join(validDirections, ", ")),
			}
		}
		if pair.TargetNotional <= 0 {
			return ValidationError{
				Field:   fmt.Sprintf("pairs[%d].target_notional", i),
				Value:   pair.TargetNotional,
				Message: "target notional must be positive",
			}
		}
		if pair.MinSpreadPercent < 0 {
			return ValidationError{
				Field:   fmt.Sprintf("pairs[%d].min_spread_percent", i),
				Value:   pair.MinSpreadPercent,
				Message: "minimum spread cannot be negative",
			}
		}
		if pair.TimeoutSeconds <= 0 {
			return ValidationError{
				Field:   fmt.Sprintf("pairs[%d].timeout_seconds", i),
				Value:   pair.TimeoutSeconds,
				Message: "timeout must be positive",
			}
		}

		key := pair.First.Venue + ":" + pair.First.Symbol + "|" + pair.Second.Venue + ":" + pair.Second.Symbol
		if seen[key] {
			return ValidationError{
				Field:   fmt.Sprintf("pairs[%d]", i),
				Value:   key,
				Message: "duplicate pair",
			}
		}
		seen[key] = true
	}

	return nil
}

func (c *Config) validateExecutionConfig() error {
	if c.Execution.EvaluationIntervalMs <= 0 {
		return ValidationError{
			Field:   "execution.evaluation_interval_ms",
			Value:   c.Execution.EvaluationIntervalMs,
			Message: "evaluation interval must be positive",
		}
	}
	if c.Execution.OrderRateLimit <= 0 {
		return ValidationError{
			Field:   "execution.order_rate_limit",
			Value:   c.Execution.OrderRateLimit,
			Message: "order rate limit must be positive",
		}
	}
	if c.Execution.OrderRateBurst <= 0 {
		return ValidationError{
			Field:   "execution.order_rate_burst",
			Value:   c.Execution.OrderRateBurst,
			Message: "order rate burst must be positive",
		}
	}
	return nil
}

func (c *Config) validateMatchingConfig() error {
	if c.Matching.MaxDepthLevels <= 0 {
		return ValidationError{
			Field:   "matching.max_depth_levels",
			Value:   c.Matching.MaxDepthLevels,
			Message: "max depth levels must be positive",
		}
	}
	if c.Matching.BuyFeeRate < 0 || c.Matching.BuyFeeRate >= 1 {
		return ValidationError{
			Field:   "matching.buy_fee_rate",
			Value:   c.Matching.BuyFeeRate,
			Message: "fee rate must be in [0, 1)",
		}
	}
	if c.Matching.SellFeeRate < 0 || c.Matching.SellFeeRate >= 1 {
		return ValidationError{
			Field:   "matching.sell_fee_rate",
			Value:   c.Matching.SellFeeRate,
			Message: "fee rate must be in [0, 1)",
		}
	}
	return nil
}

func (c *Config) validateRiskConfig() error {
	if !c.Risk.Enabled {
		return nil // Skip validation if disabled
	}

	if c.Risk.MaxConsecutiveFailures <= 0 {
		return ValidationError{
			Field:   "risk.max_consecutive_failures",
			Value:   c.Risk.MaxConsecutiveFailures,
			Message: "must be positive when risk control is enabled",
		}
	}
	if c.Risk.CooldownSeconds <= 0 {
		return ValidationError{
			Field:   "risk.cooldown_seconds",
			Value:   c.Risk.CooldownSeconds,
			Message: "must be positive when risk control is enabled",
		}
	}

	return nil
}

func (c *Config) validateStorageConfig() error {
	if !c.Storage.Enabled {
		return nil
	}

	if c.Storage.Path == "" {
		return ValidationError{
			Field:   "storage.path",
			Message: "database path is required when storage is enabled",
		}
	}

	return nil
}

func (c *Config) validateAlertsConfig() error {
	if !c.Alerts.Enabled {
		return nil
	}

	if c.Alerts.SlackWebhookURL == "" && c.Alerts.TelegramBotToken == "" {
		return ValidationError{
			Field:   "alerts",
			Message: "at least one alert channel must be configured when alerts are enabled",
		}
	}
	if c.Alerts.TelegramBotToken != "" && c.Alerts.TelegramChatID == "" {
		return ValidationError{
			Field:   "alerts.telegram_chat_id",
			Message: "chat ID is required when a Telegram bot token is set",
		}
	}

	return nil
}

// String returns a string representation of the configuration. Secret
// fields redact themselves during marshaling.
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

// Helper functions

func expandEnvVars(s string) string {
	return os.Expand(s, func(key string) string {
		value := os.Getenv(key)
		if value == "" && isCriticalEnvVar(key) {
			return ""
		}
		return value
	})
}

// isCriticalEnvVar checks if an environment variable is critical for operation
func isCriticalEnvVar(key string) bool {
	criticalVars := []string{
		"MARKETDATA_API_KEY", "MARKETDATA_SECRET_KEY",
		"SLACK_WEBHOOK_URL", "TELEGRAM_BOT_TOKEN",
	}
	return contains(criticalVars, key)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// DefaultConfig returns a default configuration for testing
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "pairs_trader",
			Environment: "test",
			LogLevel:    "INFO",
			Mode:        "paper",
		},
		MarketData: MarketDataConfig{
			WSURL:                     "wss://example.test/stream",
			RestURL:                   "https://example.test/api",
			APIKey:                    "test_api_key",
			SecretKey:                 "test_secret_key",
			StalenessThresholdSeconds: 10,
			ReconnectDelaySeconds:     5,
			PingIntervalSeconds:       20,
			SnapshotDepth:             20,
		},
		Pairs: []PairConfig{
			{
				First:            InstrumentConfig{Venue: "alpha", Symbol: "AAA"},
				Second:           InstrumentConfig{Venue: "beta", Symbol: "BBB"},
				Direction:        "long",
				TargetNotional:   1000.0,
				MinSpreadPercent: 0.5,
				TimeoutSeconds:   30,
			},
		},
		Execution: ExecutionConfig{
			EvaluationIntervalMs: 200,
			OrderRateLimit:       25,
			OrderRateBurst:       30,
			BatchNotifications:   false,
		},
		Matching: MatchingConfig{
			MaxDepthLevels: 20,
			BuyFeeRate:     0.0002,
			SellFeeRate:    0.0002,
		},
		Risk: RiskConfig{
			Enabled:                true,
			MaxConsecutiveFailures: 3,
			CooldownSeconds:        60,
		},
		Storage: StorageConfig{
			Enabled: false,
			Path:    "",
		},
		Alerts: AlertsConfig{
			Enabled:  false,
			MinLevel: "WARNING",
		},
		Telemetry: TelemetryConfig{
			MetricsPort:     9090,
			HealthPort:      8081,
			EnableMetrics:   false,
			LiveFeedPort:    0,
			LiveFeedOrigins: []string{"*"},
		},
	}
}
