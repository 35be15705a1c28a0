package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the bot needs at startup. All values come from the
// environment, optionally seeded from a .env file.
type Config struct {
	DiscordToken    string
	SlipChannelID   string
	LedgerChannelID string
	DatabaseURL     string

	SlipAPIKey string
	SlipAPIID  string

	// UnitPrice is the payment amount that buys one credit period.
	UnitPrice float64

	// APIToken guards the read-only ledger HTTP API. Empty disables it.
	APIToken string
	Port     string

	ChoiceWindow  time.Duration
	ConfirmWindow time.Duration
}

const (
	defaultSlipAPIID     = "55097"
	defaultUnitPrice     = 60
	defaultPort          = "10000"
	defaultChoiceWindow  = 60 * time.Second
	defaultConfirmWindow = 30 * time.Second
)

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first if present. All missing required keys are
// reported in one error so an operator can fix them in a single pass.
func Load() (*Config, error) {
	// Ignore the error: a missing .env just means plain environment config.
	_ = godotenv.Load()

	cfg := &Config{
		DiscordToken:    os.Getenv("DISCORD_TOKEN"),
		SlipChannelID:   os.Getenv("SLIP_CHANNEL_ID"),
		LedgerChannelID: os.Getenv("LEDGER_CHANNEL_ID"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		SlipAPIKey:      os.Getenv("SLIP_API_KEY"),
		SlipAPIID:       os.Getenv("SLIP_API_ID"),
		APIToken:        os.Getenv("API_TOKEN"),
		Port:            os.Getenv("PORT"),
		UnitPrice:       defaultUnitPrice,
		ChoiceWindow:    defaultChoiceWindow,
		ConfirmWindow:   defaultConfirmWindow,
	}

	var missing []string
	for _, req := range []struct {
		key, val string
	}{
		{"DISCORD_TOKEN", cfg.DiscordToken},
		{"SLIP_CHANNEL_ID", cfg.SlipChannelID},
		{"LEDGER_CHANNEL_ID", cfg.LedgerChannelID},
		{"SLIP_API_KEY", cfg.SlipAPIKey},
		{"DATABASE_URL", cfg.DatabaseURL},
	} {
		if req.val == "" {
			missing = append(missing, req.key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if cfg.SlipAPIID == "" {
		cfg.SlipAPIID = defaultSlipAPIID
	}
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	if raw := os.Getenv("UNIT_PRICE"); raw != "" {
		price, err := strconv.ParseFloat(raw, 64)
		if err != nil || price <= 0 {
			return nil, fmt.Errorf("invalid UNIT_PRICE %q", raw)
		}
		cfg.UnitPrice = price
	}
	if d, err := windowFromEnv("CHOICE_WINDOW"); err != nil {
		return nil, err
	} else if d > 0 {
		cfg.ChoiceWindow = d
	}
	if d, err := windowFromEnv("CONFIRM_WINDOW"); err != nil {
		return nil, err
	} else if d > 0 {
		cfg.ConfirmWindow = d
	}

	return cfg, nil
}

// windowFromEnv parses a duration env var ("90s", "2m"). Returns 0 when the
// variable is unset.
func windowFromEnv(key string) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q", key, raw)
	}
	return d, nil
}
