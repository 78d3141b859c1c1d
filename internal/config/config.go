// Package config loads the service configuration from an optional YAML file
// and environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/rl1809/storefront-orders/internal/core/pricing"
)

const (
	defaultHTTPAddr        = ":8080"
	defaultGRPCAddr        = ":50051"
	defaultReadTimeout     = 15 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultMySQLDSN        = "root:root@tcp(localhost:3306)/storefront?parseTime=true"
	defaultMaxOpenConns    = 100
	defaultMaxIdleConns    = 20
	defaultConnMaxLifetime = 5 * time.Minute
	defaultPendingWindow   = 30 * 24 * time.Hour
	defaultCurrency        = "MXN"
	defaultConflictRetries = 3
	defaultCheckoutLockTTL = 15 * time.Second
	defaultSweepInterval   = 10 * time.Minute
	defaultCatalogTTL      = time.Minute
	defaultTaskQueue       = "storefront-payments"
	defaultPaymentTimeout  = 30 * time.Minute
	defaultLogLevel        = "info"
	defaultLocale          = "es-MX"
)

// Payment providers accepted in payments.provider.
const (
	ProviderNone   = "none"
	ProviderStripe = "stripe"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	MySQL    MySQLConfig    `yaml:"mysql"`
	Redis    RedisConfig    `yaml:"redis"`
	Orders   OrdersConfig   `yaml:"orders"`
	Guard    GuardConfig    `yaml:"guard"`
	Cache    CacheConfig    `yaml:"cache"`
	Payments PaymentsConfig `yaml:"payments"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr"`
	GRPCAddr        string        `yaml:"grpc_addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type MySQLConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig is optional: an empty Addr disables the catalog cache and the
// checkout lock.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// OrdersConfig holds the money amounts as strings so they never pass through
// a float.
type OrdersConfig struct {
	MinimumPurchase       string        `yaml:"minimum_purchase"`
	TaxRate               string        `yaml:"tax_rate"`
	ShippingFee           string        `yaml:"shipping_fee"`
	FreeShippingThreshold string        `yaml:"free_shipping_threshold"`
	PendingWindow         time.Duration `yaml:"pending_window"`
	Currency              string        `yaml:"currency"`
	ConflictRetries       int           `yaml:"conflict_retries"`
	CheckoutLockTTL       time.Duration `yaml:"checkout_lock_ttl"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	// Locale drives number formatting in rendered order documents.
	Locale string `yaml:"locale"`
}

type GuardConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type CacheConfig struct {
	CatalogTTL time.Duration `yaml:"catalog_ttl"`
}

type PaymentsConfig struct {
	Provider            string        `yaml:"provider"`
	StripeAPIKey        string        `yaml:"stripe_api_key"`
	StripeWebhookSecret string        `yaml:"stripe_webhook_secret"`
	TemporalAddress     string        `yaml:"temporal_address"`
	TemporalNamespace   string        `yaml:"temporal_namespace"`
	TaskQueue           string        `yaml:"task_queue"`
	PaymentTimeout      time.Duration `yaml:"payment_timeout"`
}

// ValidationError is returned when configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// LookupFunc resolves an environment variable.
type LookupFunc func(key string) (string, bool)

// Load reads path (skipped when empty), applies environment overrides from
// the process environment, fills defaults and validates the result.
func Load(path string) (Config, error) {
	return LoadWith(path, os.LookupEnv)
}

// LoadWith is Load with an explicit environment lookup.
func LoadWith(path string, lookup LookupFunc) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if lookup == nil {
		lookup = func(string) (string, bool) { return "", false }
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup LookupFunc) error {
	strs := map[string]*string{
		"HTTP_ADDR":             &cfg.Server.HTTPAddr,
		"GRPC_ADDR":             &cfg.Server.GRPCAddr,
		"MYSQL_DSN":             &cfg.MySQL.DSN,
		"REDIS_ADDR":            &cfg.Redis.Addr,
		"REDIS_PASSWORD":        &cfg.Redis.Password,
		"MINIMUM_PURCHASE":      &cfg.Orders.MinimumPurchase,
		"TAX_RATE":              &cfg.Orders.TaxRate,
		"SHIPPING_FEE":          &cfg.Orders.ShippingFee,
		"CURRENCY":              &cfg.Orders.Currency,
		"PAYMENT_PROVIDER":      &cfg.Payments.Provider,
		"STRIPE_API_KEY":        &cfg.Payments.StripeAPIKey,
		"STRIPE_WEBHOOK_SECRET": &cfg.Payments.StripeWebhookSecret,
		"TEMPORAL_ADDRESS":      &cfg.Payments.TemporalAddress,
		"LOG_LEVEL":             &cfg.Log.Level,
		"LOCALE":                &cfg.Log.Locale,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}

	durations := map[string]*time.Duration{
		"PENDING_WINDOW":       &cfg.Orders.PendingWindow,
		"GUARD_SWEEP_INTERVAL": &cfg.Guard.SweepInterval,
		"CATALOG_CACHE_TTL":    &cfg.Cache.CatalogTTL,
	}
	var invalid []string
	for key, dst := range durations {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			invalid = append(invalid, key)
			continue
		}
		*dst = d
	}

	if v, ok := lookup("CONFLICT_RETRIES"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			invalid = append(invalid, "CONFLICT_RETRIES")
		} else {
			cfg.Orders.ConflictRetries = n
		}
	}

	if len(invalid) > 0 {
		return &ValidationError{fields: sortedCopy(invalid)}
	}
	return nil
}

func applyDefaults(cfg *Config) {
	setString(&cfg.Server.HTTPAddr, defaultHTTPAddr)
	setString(&cfg.Server.GRPCAddr, defaultGRPCAddr)
	setDuration(&cfg.Server.ReadTimeout, defaultReadTimeout)
	setDuration(&cfg.Server.WriteTimeout, defaultWriteTimeout)
	setDuration(&cfg.Server.ShutdownTimeout, defaultShutdownTimeout)

	setString(&cfg.MySQL.DSN, defaultMySQLDSN)
	if cfg.MySQL.MaxOpenConns == 0 {
		cfg.MySQL.MaxOpenConns = defaultMaxOpenConns
	}
	if cfg.MySQL.MaxIdleConns == 0 {
		cfg.MySQL.MaxIdleConns = defaultMaxIdleConns
	}
	setDuration(&cfg.MySQL.ConnMaxLifetime, defaultConnMaxLifetime)

	setString(&cfg.Orders.MinimumPurchase, "0")
	setString(&cfg.Orders.TaxRate, "0")
	setString(&cfg.Orders.ShippingFee, "0")
	setString(&cfg.Orders.FreeShippingThreshold, "0")
	setDuration(&cfg.Orders.PendingWindow, defaultPendingWindow)
	setString(&cfg.Orders.Currency, defaultCurrency)
	cfg.Orders.Currency = strings.ToUpper(cfg.Orders.Currency)
	if cfg.Orders.ConflictRetries == 0 {
		cfg.Orders.ConflictRetries = defaultConflictRetries
	}
	setDuration(&cfg.Orders.CheckoutLockTTL, defaultCheckoutLockTTL)

	setDuration(&cfg.Guard.SweepInterval, defaultSweepInterval)
	setDuration(&cfg.Cache.CatalogTTL, defaultCatalogTTL)

	setString(&cfg.Payments.Provider, ProviderNone)
	cfg.Payments.Provider = strings.ToLower(cfg.Payments.Provider)
	setString(&cfg.Payments.TemporalNamespace, "default")
	setString(&cfg.Payments.TaskQueue, defaultTaskQueue)
	setDuration(&cfg.Payments.PaymentTimeout, defaultPaymentTimeout)

	setString(&cfg.Log.Level, defaultLogLevel)
	setString(&cfg.Log.Locale, defaultLocale)
}

// Validate reports every missing or malformed field at once.
func (c Config) Validate() error {
	var fields []string

	if _, err := c.Orders.Policy(); err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			fields = append(fields, verr.fields...)
		}
	}
	if len(c.Orders.Currency) != 3 {
		fields = append(fields, "orders.currency")
	}
	if c.Orders.ConflictRetries < 0 {
		fields = append(fields, "orders.conflict_retries")
	}
	if c.Orders.PendingWindow <= 0 {
		fields = append(fields, "orders.pending_window")
	}
	if c.MySQL.DSN == "" {
		fields = append(fields, "mysql.dsn")
	}

	switch c.Payments.Provider {
	case ProviderNone:
	case ProviderStripe:
		if c.Payments.StripeAPIKey == "" {
			fields = append(fields, "payments.stripe_api_key")
		}
		if c.Payments.StripeWebhookSecret == "" {
			fields = append(fields, "payments.stripe_webhook_secret")
		}
	default:
		fields = append(fields, "payments.provider")
	}

	if len(fields) > 0 {
		return &ValidationError{fields: sortedCopy(fields)}
	}
	return nil
}

// Policy parses the configured amounts into a pricing policy.
func (o OrdersConfig) Policy() (pricing.Policy, error) {
	var (
		policy pricing.Policy
		fields []string
	)
	parse := func(name, raw string, dst *decimal.Decimal) {
		d, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil || d.IsNegative() {
			fields = append(fields, name)
			return
		}
		*dst = d
	}
	parse("orders.minimum_purchase", o.MinimumPurchase, &policy.MinimumPurchase)
	parse("orders.tax_rate", o.TaxRate, &policy.TaxRate)
	parse("orders.shipping_fee", o.ShippingFee, &policy.ShippingFee)
	parse("orders.free_shipping_threshold", o.FreeShippingThreshold, &policy.FreeShippingThreshold)

	if len(fields) > 0 {
		return pricing.Policy{}, &ValidationError{fields: fields}
	}
	return policy, nil
}

// StripeEnabled reports whether the Stripe payment bridge should be wired.
func (p PaymentsConfig) StripeEnabled() bool {
	return p.Provider == ProviderStripe
}

func setString(dst *string, fallback string) {
	if strings.TrimSpace(*dst) == "" {
		*dst = fallback
	}
}

func setDuration(dst *time.Duration, fallback time.Duration) {
	if *dst == 0 {
		*dst = fallback
	}
}

func sortedCopy(in []string) []string {
	out := slices.Clone(in)
	slices.Sort(out)
	return out
}
