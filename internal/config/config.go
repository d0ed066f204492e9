// Package config loads librarian configuration from command-line flags,
// environment variables and .env files.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
)

// Config holds the application configuration.
type Config struct {
	App      AppConfig
	Logger   LoggerConfig
	Database DatabaseConfig
	Policy   PolicyConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level  string
	Format string // json or pretty; empty picks by environment
}

// DatabaseConfig selects and tunes the store.
type DatabaseConfig struct {
	Driver      string // sqlite3 or postgres
	DSN         string // file path for sqlite3, connection string for postgres
	MaxAttempts int
	Timeout     time.Duration
}

// PolicyConfig holds the circulation rules.
type PolicyConfig struct {
	LoanPeriod        time.Duration
	ReservationWindow time.Duration
	FineRate          decimal.Decimal
	Location          *time.Location // calendar for fines and daily stats
}

// RegisterFlags defines the configuration flags on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("env", "", "Environment (development, staging, production)")
	fs.String("log-level", "", "Log level (debug, info, warn, error)")
	fs.String("log-format", "", "Log format (json, pretty)")
	fs.String("db-driver", "", "Database driver (sqlite3, postgres)")
	fs.String("db", "", "SQLite file path or Postgres connection string")
	fs.String("loan-period", "", "Loan period (default: 336h)")
	fs.String("reservation-window", "", "Reservation and pickup window (default: 168h)")
	fs.String("fine-rate", "", "Fine charged per overdue day (default: 1.00)")
	fs.String("timezone", "", "IANA time zone fines are counted in (default: Local)")
	fs.String("store-max-attempts", "", "Attempts per unit of work on store conflicts (default: 5)")
	fs.String("store-timeout", "", "Timeout per unit of work (default: 5s)")
	fs.String("env-file", ".env", "Path to .env file")
}

// LoadConfig loads configuration from multiple sources with precedence:
// 1. Command-line flags (highest priority).
// 2. Environment variables.
// 3. .env file.
// 4. Default values (lowest priority).
//
// fs may be nil, in which case only the environment and defaults are read.
func LoadConfig(fs *pflag.FlagSet) (*Config, error) {
	flag := func(name string) string {
		if fs == nil {
			return ""
		}
		f := fs.Lookup(name)
		if f == nil || !f.Changed {
			return ""
		}
		return f.Value.String()
	}

	envFile := ".env"
	if fs != nil {
		if f := fs.Lookup("env-file"); f != nil {
			envFile = f.Value.String()
		}
	}
	// Load .env file if it exists (silently ignore if not found).
	if err := loadEnvFile(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := &Config{
		App: AppConfig{
			Environment: getConfigValue(flag("env"), "ENV", "development"),
		},
		Logger: LoggerConfig{
			Level:  getConfigValue(flag("log-level"), "LOG_LEVEL", "info"),
			Format: getConfigValue(flag("log-format"), "LOG_FORMAT", ""),
		},
		Database: DatabaseConfig{
			Driver: getConfigValue(flag("db-driver"), "LIBRARY_DB_DRIVER", "sqlite3"),
			DSN:    getConfigValue(flag("db"), "LIBRARY_DB_DSN", "library.db"),
		},
	}

	var err error
	if cfg.Database.MaxAttempts, err = getIntConfigValue(flag("store-max-attempts"), "STORE_MAX_ATTEMPTS", 5); err != nil {
		return nil, err
	}
	if cfg.Database.Timeout, err = getDurationConfigValue(flag("store-timeout"), "STORE_TIMEOUT", "5s"); err != nil {
		return nil, err
	}
	if cfg.Policy.LoanPeriod, err = getDurationConfigValue(flag("loan-period"), "LOAN_PERIOD", "336h"); err != nil {
		return nil, err
	}
	if cfg.Policy.ReservationWindow, err = getDurationConfigValue(flag("reservation-window"), "RESERVATION_WINDOW", "168h"); err != nil {
		return nil, err
	}

	rateStr := getConfigValue(flag("fine-rate"), "FINE_RATE", "1.00")
	rate, err := decimal.NewFromString(rateStr)
	if err != nil {
		return nil, fmt.Errorf("invalid fine rate %q: %w", rateStr, err)
	}
	cfg.Policy.FineRate = rate

	tz := getConfigValue(flag("timezone"), "LIBRARY_TIMEZONE", "Local")
	if cfg.Policy.Location, err = time.LoadLocation(tz); err != nil {
		return nil, fmt.Errorf("invalid LIBRARY_TIMEZONE %q: %w", tz, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks that all config values are present and valid.
func (c *Config) Validate() error {
	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
	}
	if !validEnvs[c.App.Environment] {
		return fmt.Errorf("invalid environment: %s (must be development, staging, or production)", c.App.Environment)
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[strings.ToLower(c.Logger.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logger.Level)
	}

	switch c.Logger.Format {
	case "", "json", "pretty":
	default:
		return fmt.Errorf("invalid log format: %s (must be json or pretty)", c.Logger.Format)
	}

	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("invalid database driver: %s (must be sqlite3 or postgres)", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("LIBRARY_DB_DSN cannot be empty")
	}
	if c.Database.MaxAttempts <= 0 {
		return errors.New("STORE_MAX_ATTEMPTS must be positive")
	}

	if c.Policy.LoanPeriod <= 0 {
		return errors.New("LOAN_PERIOD must be positive")
	}
	if c.Policy.ReservationWindow <= 0 {
		return errors.New("RESERVATION_WINDOW must be positive")
	}
	if c.Policy.FineRate.IsNegative() {
		return errors.New("FINE_RATE must not be negative")
	}
	return nil
}

// getConfigValue returns the first non-empty value from flag, env var, or default.
func getConfigValue(flagValue, envKey, defaultValue string) string {
	// Priority 1: Command-line flag.
	if flagValue != "" {
		return flagValue
	}

	// Priority 2: Environment variable.
	if envValue := os.Getenv(envKey); envValue != "" {
		return envValue
	}

	// Priority 3: Default value.
	return defaultValue
}

// getIntConfigValue returns an int from flag, env var, or default.
func getIntConfigValue(flagValue, envKey string, defaultValue int) (int, error) {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(strValue)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", envKey, strValue, err)
	}
	return n, nil
}

// getDurationConfigValue returns a duration from flag, env var, or default.
func getDurationConfigValue(flagValue, envKey, defaultValue string) (time.Duration, error) {
	strValue := getConfigValue(flagValue, envKey, defaultValue)
	d, err := time.ParseDuration(strValue)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", envKey, strValue, err)
	}
	return d, nil
}

// loadEnvFile loads environment variables from a .env file.
// Format: KEY=value (one per line, # for comments).
func loadEnvFile(path string) error {
	file, err := os.Open(path) //#nosec G304 -- config file path from user input is expected
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments.
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return fmt.Errorf("invalid format at line %d: %s", lineNum, line)
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)

		// Environment variables take precedence over the file.
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("failed to set env var %s: %w", key, err)
			}
		}
	}

	return scanner.Err()
}
