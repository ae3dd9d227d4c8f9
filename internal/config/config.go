// Package config loads runtime settings from the environment.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/efreitasn/brokerx/internal/domain"
)

const defaultInstruments = "AAPL:150.00,GOOGL:2800.00,MSFT:420.00,TSLA:245.00"

var symbolRegex = regexp.MustCompile(`^[A-Z]{1,10}$`)

// Config holds all runtime configuration for the broker.
type Config struct {
	Port            int
	LogLevel        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	Workers            int
	QueueDepth         int
	PersistTimeout     time.Duration
	PersistRetries     int
	PersistBackoff     time.Duration
	IdempotencyTTL     time.Duration
	DayOrderTTL        time.Duration
	ExpirationInterval time.Duration

	MaxOrderQuantity  int64
	MaxOrderNotional  int64 // cents
	PriceBandBPS      int64
	CrossedBookPolicy string

	// DatabasePath selects the SQLite repository. Empty keeps everything
	// in memory.
	DatabasePath   string
	Instruments    []domain.Instrument
	WebhookTimeout time.Duration
}

// RejectOnCrossedBook reports whether a crossed book rejects the
// triggering order rather than parking it.
func (c *Config) RejectOnCrossedBook() bool {
	return c.CrossedBookPolicy == "reject"
}

// Load reads configuration from environment variables, applies defaults,
// and validates values. It returns an error for any invalid value.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	if cfg.Port, err = getInt("PORT", 8080); err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}

	cfg.LogLevel = getStr("LOG_LEVEL", "info")
	if !isValidLogLevel(cfg.LogLevel) {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %q, must be one of: debug, info, warn, error", cfg.LogLevel)
	}

	durations := []struct {
		key       string
		dst       *time.Duration
		def       time.Duration
		allowZero bool
	}{
		{"READ_TIMEOUT", &cfg.ReadTimeout, 5 * time.Second, false},
		{"WRITE_TIMEOUT", &cfg.WriteTimeout, 10 * time.Second, false},
		{"IDLE_TIMEOUT", &cfg.IdleTimeout, 60 * time.Second, false},
		{"SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout, 10 * time.Second, false},
		{"PERSIST_TIMEOUT", &cfg.PersistTimeout, 2 * time.Second, false},
		{"PERSIST_BACKOFF", &cfg.PersistBackoff, 50 * time.Millisecond, true},
		{"IDEMPOTENCY_TTL", &cfg.IdempotencyTTL, 24 * time.Hour, false},
		{"DAY_ORDER_TTL", &cfg.DayOrderTTL, 0, true},
		{"EXPIRATION_INTERVAL", &cfg.ExpirationInterval, 1 * time.Second, false},
		{"WEBHOOK_TIMEOUT", &cfg.WebhookTimeout, 5 * time.Second, false},
	}
	for _, d := range durations {
		if *d.dst, err = getDuration(d.key, d.def); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		if *d.dst < 0 || (*d.dst == 0 && !d.allowZero) {
			return nil, fmt.Errorf("invalid %s: must be positive, got %s", d.key, *d.dst)
		}
	}

	ints := []struct {
		key string
		dst *int
		def int
	}{
		{"WORKERS", &cfg.Workers, 4},
		{"QUEUE_DEPTH", &cfg.QueueDepth, 1024},
		{"PERSIST_RETRIES", &cfg.PersistRetries, 3},
	}
	for _, i := range ints {
		if *i.dst, err = getInt(i.key, i.def); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", i.key, err)
		}
		if *i.dst < 1 {
			return nil, fmt.Errorf("invalid %s: must be >= 1, got %d", i.key, *i.dst)
		}
	}

	maxQty, err := getInt("MAX_ORDER_QUANTITY", 10000)
	if err != nil || maxQty < 1 {
		return nil, fmt.Errorf("invalid MAX_ORDER_QUANTITY: must be a positive integer")
	}
	cfg.MaxOrderQuantity = int64(maxQty)

	if cfg.MaxOrderNotional, err = domain.ParseCents(getStr("MAX_ORDER_NOTIONAL", "100000.00")); err != nil {
		return nil, fmt.Errorf("invalid MAX_ORDER_NOTIONAL: %w", err)
	}
	if cfg.MaxOrderNotional <= 0 {
		return nil, fmt.Errorf("invalid MAX_ORDER_NOTIONAL: must be positive")
	}

	bps, err := getInt("PRICE_BAND_BPS", 1000)
	if err != nil || bps < 1 || bps >= 10000 {
		return nil, fmt.Errorf("invalid PRICE_BAND_BPS: must be an integer in [1, 9999]")
	}
	cfg.PriceBandBPS = int64(bps)

	cfg.CrossedBookPolicy = getStr("CROSSED_BOOK_POLICY", "reject")
	if cfg.CrossedBookPolicy != "reject" && cfg.CrossedBookPolicy != "working" {
		return nil, fmt.Errorf("invalid CROSSED_BOOK_POLICY: %q, must be one of: reject, working", cfg.CrossedBookPolicy)
	}

	cfg.DatabasePath = os.Getenv("DATABASE_PATH")

	if cfg.Instruments, err = ParseInstruments(getStr("INSTRUMENTS", defaultInstruments)); err != nil {
		return nil, fmt.Errorf("invalid INSTRUMENTS: %w", err)
	}

	return cfg, nil
}

// ParseInstruments parses a comma separated list of SYMBOL:refprice[:tick]
// entries, with prices in dollars. Every parsed instrument starts active.
func ParseInstruments(s string) ([]domain.Instrument, error) {
	var out []domain.Instrument
	seen := make(map[string]bool)
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) < 2 || len(parts) > 3 {
			return nil, fmt.Errorf("entry %q must be SYMBOL:price[:tick]", entry)
		}
		symbol := parts[0]
		if !symbolRegex.MatchString(symbol) {
			return nil, fmt.Errorf("symbol %q must match ^[A-Z]{1,10}$", symbol)
		}
		if seen[symbol] {
			return nil, fmt.Errorf("duplicate symbol %s", symbol)
		}
		seen[symbol] = true

		ref, err := domain.ParseCents(parts[1])
		if err != nil {
			return nil, err
		}
		if ref <= 0 {
			return nil, fmt.Errorf("reference price for %s must be positive", symbol)
		}
		tick := int64(1)
		if len(parts) == 3 {
			if tick, err = domain.ParseCents(parts[2]); err != nil {
				return nil, err
			}
			if tick <= 0 {
				return nil, fmt.Errorf("tick size for %s must be positive", symbol)
			}
		}
		out = append(out, domain.Instrument{
			Symbol:         symbol,
			TickSize:       tick,
			ReferencePrice: ref,
			Active:         true,
		})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("at least one instrument is required")
	}
	return out, nil
}

func getStr(key, defaultVal string) string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	return v
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.Atoi(v)
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return time.ParseDuration(v)
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}
