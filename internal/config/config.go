package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP Server
	Port string

	// Banking-data provider
	ProviderEnv      string
	ProviderClientID string
	ProviderSecret   string
	StartDate        string
	EndDate          string
	BalanceField     string

	// Refresh behavior
	FetchMaxAttempts int
	FetchRetryDelay  time.Duration
	RefreshTimeout   time.Duration

	// Local state
	DataDir      string
	SQLiteDBPath string

	// AMQP
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google Sheets export
	GoogleSpreadsheetID string
	GoogleSheetName     string
}

func Load() *Config {
	return &Config{
		Port: getEnv("PORT", "8080"),

		ProviderEnv:      getEnv("PROVIDER_ENV", "sandbox"),
		ProviderClientID: getEnv("PROVIDER_CLIENT_ID", ""),
		ProviderSecret:   getEnv("PROVIDER_SECRET", ""),
		StartDate:        getEnv("LEDGER_START_DATE", "2020-01-01"),
		EndDate:          getEnv("LEDGER_END_DATE", "2021-01-01"),
		BalanceField:     getEnv("BALANCE_FIELD", "available"),

		FetchMaxAttempts: getEnvInt("FETCH_MAX_ATTEMPTS", 3),
		FetchRetryDelay:  getEnvDuration("FETCH_RETRY_DELAY", 5*time.Second),
		RefreshTimeout:   getEnvDuration("REFRESH_TIMEOUT", 2*time.Minute),

		DataDir:      getEnv("DATA_DIR", "./data"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/bankfeed.db"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "bankfeed"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "ledger_export"),

		GoogleSpreadsheetID: getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSheetName:     getEnv("GOOGLE_SHEET_NAME", "Ledger"),
	}
}

// RulesPath is the categorization-rule CSV file.
func (c *Config) RulesPath() string { return filepath.Join(c.DataDir, "rules.csv") }

// BudgetPath is the budget CSV file.
func (c *Config) BudgetPath() string { return filepath.Join(c.DataDir, "budget.csv") }

// TokensPath is the credential CSV file.
func (c *Config) TokensPath() string { return filepath.Join(c.DataDir, "access_tokens.csv") }

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errs []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errs = append(errs, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	switch c.ProviderEnv {
	case "sandbox", "development", "production":
	default:
		if !strings.HasPrefix(c.ProviderEnv, "http") {
			errs = append(errs, fmt.Sprintf("invalid provider environment '%s'", c.ProviderEnv))
		}
	}

	if c.BalanceField != "available" && c.BalanceField != "current" {
		errs = append(errs, fmt.Sprintf("invalid balance field '%s': must be 'available' or 'current'", c.BalanceField))
	}

	for _, d := range []struct{ name, value string }{
		{"LEDGER_START_DATE", c.StartDate},
		{"LEDGER_END_DATE", c.EndDate},
	} {
		if _, err := time.Parse("2006-01-02", d.value); err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s '%s': must be YYYY-MM-DD", d.name, d.value))
		}
	}
	start, errStart := time.Parse("2006-01-02", c.StartDate)
	end, errEnd := time.Parse("2006-01-02", c.EndDate)
	if errStart == nil && errEnd == nil && !start.Before(end) {
		errs = append(errs, fmt.Sprintf("ledger date range is empty: %s >= %s", c.StartDate, c.EndDate))
	}

	if c.FetchMaxAttempts < 1 {
		errs = append(errs, fmt.Sprintf("invalid fetch max attempts %d: must be at least 1", c.FetchMaxAttempts))
	}
	if c.FetchRetryDelay < 0 {
		errs = append(errs, fmt.Sprintf("invalid fetch retry delay %v: must not be negative", c.FetchRetryDelay))
	}
	if c.RefreshTimeout < time.Second {
		errs = append(errs, fmt.Sprintf("invalid refresh timeout %v: must be at least 1 second", c.RefreshTimeout))
	}

	if c.DataDir == "" {
		errs = append(errs, "data directory cannot be empty")
	} else if _, err := os.Stat(c.DataDir); os.IsNotExist(err) {
		if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
			errs = append(errs, fmt.Sprintf("cannot create data directory '%s': %v", c.DataDir, err))
		}
	}

	if c.SQLiteDBPath == "" {
		errs = append(errs, "SQLite database path cannot be empty")
	} else if dir := filepath.Dir(c.SQLiteDBPath); dir != "." && dir != "" {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				errs = append(errs, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
			}
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errs = append(errs, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errs = append(errs, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errs = append(errs, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errs = append(errs, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
