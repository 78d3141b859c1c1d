package config

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func envMap(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := LoadWith("", envMap(nil))
	if err != nil {
		t.Fatalf("LoadWith returned error: %v", err)
	}

	if cfg.Server.HTTPAddr != ":8080" {
		t.Errorf("expected default http addr :8080, got %s", cfg.Server.HTTPAddr)
	}
	if cfg.Orders.PendingWindow != 30*24*time.Hour {
		t.Errorf("unexpected pending window: %s", cfg.Orders.PendingWindow)
	}
	if cfg.Orders.Currency != "MXN" {
		t.Errorf("expected MXN, got %s", cfg.Orders.Currency)
	}
	if cfg.Orders.ConflictRetries != 3 {
		t.Errorf("unexpected conflict retries: %d", cfg.Orders.ConflictRetries)
	}
	if cfg.Payments.Provider != ProviderNone {
		t.Errorf("expected provider none, got %s", cfg.Payments.Provider)
	}
	if cfg.Payments.StripeEnabled() {
		t.Error("stripe should be disabled by default")
	}
	if cfg.Log.Level != "info" || cfg.Log.Locale != "es-MX" {
		t.Errorf("unexpected log defaults: %+v", cfg.Log)
	}

	policy, err := cfg.Orders.Policy()
	if err != nil {
		t.Fatalf("Policy returned error: %v", err)
	}
	if !policy.MinimumPurchase.IsZero() || !policy.TaxRate.IsZero() {
		t.Errorf("expected zero amounts, got %+v", policy)
	}
}

func TestLoadFileWithEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  http_addr: ":9000"
  read_timeout: 20s
mysql:
  dsn: "file-dsn"
orders:
  minimum_purchase: "150.00"
  tax_rate: "0.16"
  shipping_fee: "99"
  free_shipping_threshold: "999.99"
  pending_window: 48h
  currency: usd
guard:
  sweep_interval: 1m
payments:
  provider: stripe
  stripe_api_key: sk_test_file
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadWith(path, envMap(map[string]string{
		"MYSQL_DSN":             "env-dsn",
		"STRIPE_WEBHOOK_SECRET": "whsec_env",
		"CONFLICT_RETRIES":      "5",
	}))
	if err != nil {
		t.Fatalf("LoadWith returned error: %v", err)
	}

	if cfg.Server.HTTPAddr != ":9000" || cfg.Server.ReadTimeout != 20*time.Second {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.MySQL.DSN != "env-dsn" {
		t.Errorf("expected env dsn to win, got %s", cfg.MySQL.DSN)
	}
	if cfg.Orders.Currency != "USD" {
		t.Errorf("expected upper-cased currency, got %s", cfg.Orders.Currency)
	}
	if cfg.Orders.PendingWindow != 48*time.Hour {
		t.Errorf("unexpected pending window: %s", cfg.Orders.PendingWindow)
	}
	if cfg.Orders.ConflictRetries != 5 {
		t.Errorf("expected 5 retries, got %d", cfg.Orders.ConflictRetries)
	}
	if !cfg.Payments.StripeEnabled() || cfg.Payments.StripeWebhookSecret != "whsec_env" {
		t.Errorf("unexpected payments config: %+v", cfg.Payments)
	}

	policy, err := cfg.Orders.Policy()
	if err != nil {
		t.Fatalf("Policy returned error: %v", err)
	}
	if policy.MinimumPurchase.String() != "150" || policy.TaxRate.String() != "0.16" {
		t.Errorf("unexpected policy: %+v", policy)
	}
}

func TestLoadValidationError(t *testing.T) {
	_, err := LoadWith("", envMap(map[string]string{
		"TAX_RATE":         "sixteen",
		"CURRENCY":         "PESO",
		"PAYMENT_PROVIDER": "stripe",
	}))

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	want := []string{
		"orders.currency",
		"orders.tax_rate",
		"payments.stripe_api_key",
		"payments.stripe_webhook_secret",
	}
	if !slices.Equal(verr.Fields(), want) {
		t.Errorf("unexpected fields: %v", verr.Fields())
	}
}

func TestLoadInvalidDurationEnv(t *testing.T) {
	_, err := LoadWith("", envMap(map[string]string{"PENDING_WINDOW": "a month"}))

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if !slices.Equal(verr.Fields(), []string{"PENDING_WINDOW"}) {
		t.Errorf("unexpected fields: %v", verr.Fields())
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := LoadWith(filepath.Join(t.TempDir(), "nope.yaml"), envMap(nil)); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadLogOverrides(t *testing.T) {
	cfg, err := LoadWith("", envMap(map[string]string{"LOG_LEVEL": " debug ", "LOCALE": "en-US"}))
	if err != nil {
		t.Fatalf("LoadWith returned error: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected debug, got %q", cfg.Log.Level)
	}
	if cfg.Log.Locale != "en-US" {
		t.Errorf("expected en-US, got %q", cfg.Log.Locale)
	}
}
