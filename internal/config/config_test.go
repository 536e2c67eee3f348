package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(envServerAddress, "")
	t.Setenv(envPort, "")
	t.Setenv(envDatabaseURL, "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.ServerAddress != defaultServerAddress {
		t.Fatalf("expected server address %q, got %q", defaultServerAddress, cfg.ServerAddress)
	}
	if cfg.Currency != "GBP" {
		t.Fatalf("expected GBP, got %q", cfg.Currency)
	}
	if cfg.MaxPaymentRetries != 3 {
		t.Fatalf("expected 3 retries, got %d", cfg.MaxPaymentRetries)
	}
	if cfg.ProviderTimeout != 10*time.Second {
		t.Fatalf("expected 10s provider timeout, got %s", cfg.ProviderTimeout)
	}
	if !cfg.SchedulerEnabled {
		t.Fatal("expected scheduler enabled by default")
	}
	if cfg.Production() {
		t.Fatal("expected development environment by default")
	}
}

func TestLoadPortFallback(t *testing.T) {
	t.Setenv(envServerAddress, "")
	t.Setenv(envPort, "8080")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.ServerAddress != ":8080" {
		t.Fatalf("expected :8080, got %q", cfg.ServerAddress)
	}
}

func TestLoadCustomServerAddress(t *testing.T) {
	t.Setenv(envServerAddress, ":9999")
	t.Setenv(envPort, "8080")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.ServerAddress != ":9999" {
		t.Fatalf("expected custom server address :9999, got %q", cfg.ServerAddress)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv(envEnvironment, "Production")
	t.Setenv(envMaxPaymentRetries, "5")
	t.Setenv(envProviderTimeout, "2s")
	t.Setenv(envCurrency, "eur")
	t.Setenv(envSchedulerEnabled, "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !cfg.Production() {
		t.Fatal("expected production environment")
	}
	if cfg.MaxPaymentRetries != 5 || cfg.ProviderTimeout != 2*time.Second {
		t.Fatalf("unexpected overrides: %+v", cfg)
	}
	if cfg.Currency != "EUR" {
		t.Fatalf("expected EUR, got %q", cfg.Currency)
	}
	if cfg.SchedulerEnabled {
		t.Fatal("expected scheduler disabled")
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv(envMaxPaymentRetries, "lots")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for non-numeric MAX_PAYMENT_RETRIES")
	}

	t.Setenv(envMaxPaymentRetries, "0")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for zero MAX_PAYMENT_RETRIES")
	}

	t.Setenv(envMaxPaymentRetries, "")
	t.Setenv(envProviderTimeout, "-1s")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for negative PROVIDER_TIMEOUT")
	}
}
