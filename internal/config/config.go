package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures runtime configuration values used by the billing service.
type Config struct {
	// ServerAddress is the host:port pair the HTTP server listens on. Defaults to ":3001".
	ServerAddress string

	// Environment is the deployment name. "production" hides error detail from API responses.
	Environment string

	// DatabaseURL is the Postgres DSN. When empty the fixture file store is used.
	DatabaseURL string

	// FixturesDir holds users.json, subscriptions.json and payments.json for the file store.
	FixturesDir string

	// Currency is the ISO code every charge is made in.
	Currency string

	// MaxPaymentRetries is the number of failed retries after which a past-due
	// subscription is canceled.
	MaxPaymentRetries int

	// ProviderTimeout bounds a single provider charge call.
	ProviderTimeout time.Duration

	StripeSecretKey     string
	StripePaymentMethod string

	StripeWebhookSecret string
	PayPalWebhookSecret string
	AppleWebhookSecret  string

	// AMQPURL enables the RabbitMQ notifier when set.
	AMQPURL string

	// RedisURL enables renewal reminder de-duplication when set.
	RedisURL string

	RenewalReminderSchedule string
	ExpirySweepSchedule     string
	PaymentRetrySchedule    string

	// SchedulerEnabled controls whether cmd/server runs the lifecycle jobs in-process.
	SchedulerEnabled bool
}

const (
	defaultServerAddress           = ":3001"
	defaultEnvironment             = "development"
	defaultFixturesDir             = "fixtures"
	defaultCurrency                = "GBP"
	defaultMaxPaymentRetries       = 3
	defaultProviderTimeout         = 10 * time.Second
	defaultStripePaymentMethod     = "pm_card_visa"
	defaultRenewalReminderSchedule = "0 9 * * *"
	defaultExpirySweepSchedule     = "0 0 * * *"
	defaultPaymentRetrySchedule    = "0 */6 * * *"

	envServerAddress           = "BACKEND_ADDR"
	envPort                    = "PORT"
	envEnvironment             = "APP_ENV"
	envDatabaseURL             = "DATABASE_URL"
	envFixturesDir             = "FIXTURES_DIR"
	envCurrency                = "CURRENCY"
	envMaxPaymentRetries       = "MAX_PAYMENT_RETRIES"
	envProviderTimeout         = "PROVIDER_TIMEOUT"
	envStripeSecretKey         = "STRIPE_SECRET_KEY"
	envStripePaymentMethod     = "STRIPE_PAYMENT_METHOD"
	envStripeWebhookSecret     = "STRIPE_WEBHOOK_SECRET"
	envPayPalWebhookSecret     = "PAYPAL_WEBHOOK_SECRET"
	envAppleWebhookSecret      = "APPLE_WEBHOOK_SECRET"
	envAMQPURL                 = "AMQP_URL"
	envRedisURL                = "REDIS_URL"
	envRenewalReminderSchedule = "RENEWAL_REMINDER_SCHEDULE"
	envExpirySweepSchedule     = "EXPIRY_SWEEP_SCHEDULE"
	envPaymentRetrySchedule    = "PAYMENT_RETRY_SCHEDULE"
	envSchedulerEnabled        = "SCHEDULER_ENABLED"
)

// Load reads configuration from environment variables, applies defaults, and
// returns a Config. Malformed values return an error.
func Load() (Config, error) {
	cfg := Config{
		ServerAddress:           serverAddress(),
		Environment:             firstNonEmpty(os.Getenv(envEnvironment), defaultEnvironment),
		DatabaseURL:             os.Getenv(envDatabaseURL),
		FixturesDir:             firstNonEmpty(os.Getenv(envFixturesDir), defaultFixturesDir),
		Currency:                strings.ToUpper(firstNonEmpty(os.Getenv(envCurrency), defaultCurrency)),
		MaxPaymentRetries:       defaultMaxPaymentRetries,
		ProviderTimeout:         defaultProviderTimeout,
		StripeSecretKey:         os.Getenv(envStripeSecretKey),
		StripePaymentMethod:     firstNonEmpty(os.Getenv(envStripePaymentMethod), defaultStripePaymentMethod),
		StripeWebhookSecret:     os.Getenv(envStripeWebhookSecret),
		PayPalWebhookSecret:     os.Getenv(envPayPalWebhookSecret),
		AppleWebhookSecret:      os.Getenv(envAppleWebhookSecret),
		AMQPURL:                 os.Getenv(envAMQPURL),
		RedisURL:                os.Getenv(envRedisURL),
		RenewalReminderSchedule: firstNonEmpty(os.Getenv(envRenewalReminderSchedule), defaultRenewalReminderSchedule),
		ExpirySweepSchedule:     firstNonEmpty(os.Getenv(envExpirySweepSchedule), defaultExpirySweepSchedule),
		PaymentRetrySchedule:    firstNonEmpty(os.Getenv(envPaymentRetrySchedule), defaultPaymentRetrySchedule),
		SchedulerEnabled:        true,
	}

	if cfg.DatabaseURL != "" {
		if _, err := url.Parse(cfg.DatabaseURL); err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envDatabaseURL, err)
		}
	}

	if value := os.Getenv(envMaxPaymentRetries); value != "" {
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			return Config{}, fmt.Errorf("invalid %s: %q", envMaxPaymentRetries, value)
		}
		cfg.MaxPaymentRetries = n
	}

	if value := os.Getenv(envProviderTimeout); value != "" {
		d, err := time.ParseDuration(value)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("invalid %s: %q", envProviderTimeout, value)
		}
		cfg.ProviderTimeout = d
	}

	if value := os.Getenv(envSchedulerEnabled); value != "" {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %q", envSchedulerEnabled, value)
		}
		cfg.SchedulerEnabled = enabled
	}

	return cfg, nil
}

// Production reports whether the service runs in the production environment.
func (c Config) Production() bool {
	return strings.EqualFold(c.Environment, "production")
}

func serverAddress() string {
	if addr := os.Getenv(envServerAddress); addr != "" {
		return addr
	}
	if port := os.Getenv(envPort); port != "" {
		return ":" + strings.TrimPrefix(port, ":")
	}
	return defaultServerAddress
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
