package bootstrap

import (
	"fmt"
	"os"
	"pairs_trader/internal/config"
	"path/filepath"
	"time"
)

// Config is an alias for the project's main configuration struct
type Config = config.Config

// LoadConfig delegates to the project's config loader
func LoadConfig(path string) (*Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	// Pre-flight Checks
	if err := checkPreFlight(cfg); err != nil {
		return nil, fmt.Errorf("pre-flight checks failed: %w", err)
	}

	return cfg, nil
}

// checkPreFlight performs environment checks beyond schema validation
func checkPreFlight(cfg *Config) error {
	// Live trading needs real feed credentials, not just a reachable URL.
	if cfg.App.Mode == "live" && cfg.MarketData.APIKey == "" {
		return fmt.Errorf("market_data.api_key is required in live mode (set MARKETDATA_API_KEY)")
	}

	// Venue session timezones must resolve against the host tz database.
	for venue, vc := range cfg.MarketData.Venues {
		if vc.Timezone == "" {
			continue
		}
		if _, err := time.LoadLocation(vc.Timezone); err != nil {
			return fmt.Errorf("venue %s: unknown timezone %q: %w", venue, vc.Timezone, err)
		}
	}

	// The history store needs a writable parent directory before the
	// first transaction opens the database file.
	if cfg.Storage.Enabled {
		dir := filepath.Dir(cfg.Storage.Path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("storage path %s: %w", cfg.Storage.Path, err)
		}
	}

	return nil
}
