package config

import (
	"os"
	"testing"
	"time"

	"github.com/efreitasn/brokerx/internal/domain"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range allEnvKeys {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.Workers != 4 {
		t.Errorf("Workers = %d, want 4", cfg.Workers)
	}
	if cfg.QueueDepth != 1024 {
		t.Errorf("QueueDepth = %d, want 1024", cfg.QueueDepth)
	}
	if cfg.PersistTimeout != 2*time.Second {
		t.Errorf("PersistTimeout = %v, want 2s", cfg.PersistTimeout)
	}
	if cfg.PersistRetries != 3 {
		t.Errorf("PersistRetries = %d, want 3", cfg.PersistRetries)
	}
	if cfg.PersistBackoff != 50*time.Millisecond {
		t.Errorf("PersistBackoff = %v, want 50ms", cfg.PersistBackoff)
	}
	if cfg.IdempotencyTTL != 24*time.Hour {
		t.Errorf("IdempotencyTTL = %v, want 24h", cfg.IdempotencyTTL)
	}
	if cfg.DayOrderTTL != 0 {
		t.Errorf("DayOrderTTL = %v, want 0", cfg.DayOrderTTL)
	}
	if cfg.ExpirationInterval != 1*time.Second {
		t.Errorf("ExpirationInterval = %v, want 1s", cfg.ExpirationInterval)
	}
	if cfg.MaxOrderQuantity != 10000 {
		t.Errorf("MaxOrderQuantity = %d, want 10000", cfg.MaxOrderQuantity)
	}
	if cfg.MaxOrderNotional != 10_000_000 {
		t.Errorf("MaxOrderNotional = %d, want 10000000", cfg.MaxOrderNotional)
	}
	if cfg.PriceBandBPS != 1000 {
		t.Errorf("PriceBandBPS = %d, want 1000", cfg.PriceBandBPS)
	}
	if !cfg.RejectOnCrossedBook() {
		t.Error("expected reject crossed book policy by default")
	}
	if cfg.DatabasePath != "" {
		t.Errorf("DatabasePath = %q, want empty", cfg.DatabasePath)
	}
	if len(cfg.Instruments) != 4 {
		t.Fatalf("got %d instruments, want 4", len(cfg.Instruments))
	}
	if cfg.Instruments[0] != (domain.Instrument{Symbol: "AAPL", TickSize: 1, ReferencePrice: 15000, Active: true}) {
		t.Errorf("Instruments[0] = %+v", cfg.Instruments[0])
	}
	if cfg.WebhookTimeout != 5*time.Second {
		t.Errorf("WebhookTimeout = %v, want 5s", cfg.WebhookTimeout)
	}
	if cfg.ReadTimeout != 5*time.Second {
		t.Errorf("ReadTimeout = %v, want 5s", cfg.ReadTimeout)
	}
	if cfg.WriteTimeout != 10*time.Second {
		t.Errorf("WriteTimeout = %v, want 10s", cfg.WriteTimeout)
	}
	if cfg.IdleTimeout != 60*time.Second {
		t.Errorf("IdleTimeout = %v, want 60s", cfg.IdleTimeout)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 10s", cfg.ShutdownTimeout)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("WORKERS", "8")
	t.Setenv("QUEUE_DEPTH", "16")
	t.Setenv("DAY_ORDER_TTL", "8h")
	t.Setenv("MAX_ORDER_NOTIONAL", "2500.50")
	t.Setenv("CROSSED_BOOK_POLICY", "working")
	t.Setenv("DATABASE_PATH", "/tmp/brokerx.db")
	t.Setenv("INSTRUMENTS", "PETR:38.50:0.05, VALE:61.00")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if cfg.Workers != 8 || cfg.QueueDepth != 16 {
		t.Errorf("Workers/QueueDepth = %d/%d, want 8/16", cfg.Workers, cfg.QueueDepth)
	}
	if cfg.DayOrderTTL != 8*time.Hour {
		t.Errorf("DayOrderTTL = %v, want 8h", cfg.DayOrderTTL)
	}
	if cfg.MaxOrderNotional != 250050 {
		t.Errorf("MaxOrderNotional = %d, want 250050", cfg.MaxOrderNotional)
	}
	if cfg.RejectOnCrossedBook() {
		t.Error("expected working crossed book policy")
	}
	if cfg.DatabasePath != "/tmp/brokerx.db" {
		t.Errorf("DatabasePath = %q", cfg.DatabasePath)
	}
	want := []domain.Instrument{
		{Symbol: "PETR", TickSize: 5, ReferencePrice: 3850, Active: true},
		{Symbol: "VALE", TickSize: 1, ReferencePrice: 6100, Active: true},
	}
	if len(cfg.Instruments) != len(want) {
		t.Fatalf("got %d instruments, want %d", len(cfg.Instruments), len(want))
	}
	for i := range want {
		if cfg.Instruments[i] != want[i] {
			t.Errorf("Instruments[%d] = %+v, want %+v", i, cfg.Instruments[i], want[i])
		}
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"PORT", "not-a-number"},
		{"LOG_LEVEL", "verbose"},
		{"WORKERS", "0"},
		{"QUEUE_DEPTH", "-1"},
		{"PERSIST_RETRIES", "0"},
		{"PERSIST_TIMEOUT", "0s"},
		{"IDEMPOTENCY_TTL", "-1h"},
		{"DAY_ORDER_TTL", "-1s"},
		{"MAX_ORDER_QUANTITY", "0"},
		{"MAX_ORDER_NOTIONAL", "12.345"},
		{"MAX_ORDER_NOTIONAL", "0"},
		{"PRICE_BAND_BPS", "10000"},
		{"CROSSED_BOOK_POLICY", "ignore"},
		{"INSTRUMENTS", "aapl:150"},
		{"INSTRUMENTS", "AAPL"},
		{"INSTRUMENTS", "AAPL:abc"},
		{"INSTRUMENTS", "AAPL:150:0"},
		{"INSTRUMENTS", "AAPL:150,AAPL:151"},
		{"INSTRUMENTS", " , "},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%q", tt.key, tt.value)
			}
		})
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	for _, key := range durationEnvKeys {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, "not-a-duration")

			_, err := Load()
			if err == nil {
				t.Fatalf("expected error for invalid %s", key)
			}
		})
	}
}
