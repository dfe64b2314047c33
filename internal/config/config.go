package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Config holds the repayment service configuration.
type Config struct {
	Environment string
	DatabaseURL string
	ListenAddr  string

	// GracePeriodDays is the window after a due date within which a full
	// payoff still classifies as "within grace".
	GracePeriodDays int

	// OverpaymentNotifyThreshold triggers a notification command when the
	// overpayment remainder exceeds it. Zero disables notification.
	OverpaymentNotifyThreshold decimal.Decimal

	// CashbackRate is the percentage applied by the active cashback scheme.
	CashbackRate decimal.Decimal
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:     os.Getenv("APP_ENV"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		ListenAddr:      os.Getenv("LISTEN_ADDR"),
		GracePeriodDays: 3,
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}

	if v := os.Getenv("GRACE_PERIOD_DAYS"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil || days < 0 {
			return nil, fmt.Errorf("GRACE_PERIOD_DAYS must be a non-negative integer, got %q", v)
		}
		cfg.GracePeriodDays = days
	}

	if v := os.Getenv("OVERPAYMENT_NOTIFY_THRESHOLD"); v != "" {
		threshold, err := decimal.NewFromString(v)
		if err != nil || threshold.IsNegative() {
			return nil, fmt.Errorf("OVERPAYMENT_NOTIFY_THRESHOLD must be a non-negative amount, got %q", v)
		}
		cfg.OverpaymentNotifyThreshold = threshold
	}

	if v := os.Getenv("CASHBACK_RATE"); v != "" {
		rate, err := decimal.NewFromString(v)
		if err != nil || rate.IsNegative() {
			return nil, fmt.Errorf("CASHBACK_RATE must be a non-negative rate, got %q", v)
		}
		cfg.CashbackRate = rate
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is complete.
func (c *Config) Validate() error {
	var missing []string

	if c.Environment == "" {
		missing = append(missing, "APP_ENV")
	}
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return errors.New("missing required environment variables: " + strings.Join(missing, ", "))
	}

	return nil
}

// UsesPostgres reports whether DatabaseURL points at a postgres server;
// anything else is treated as a SQLite path.
func (c *Config) UsesPostgres() bool {
	return strings.HasPrefix(c.DatabaseURL, "postgres://") || strings.HasPrefix(c.DatabaseURL, "postgresql://")
}
