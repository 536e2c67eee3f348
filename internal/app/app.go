// Package app wires configuration into the stores, providers and services
// shared by cmd/server and cmd/billingctl.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/PortNumber53/subscription-lifecycle/backend/internal/billing"
	"github.com/PortNumber53/subscription-lifecycle/backend/internal/config"
	"github.com/PortNumber53/subscription-lifecycle/backend/internal/migrations"
	"github.com/PortNumber53/subscription-lifecycle/backend/internal/models"
	"github.com/PortNumber53/subscription-lifecycle/backend/internal/notify"
	"github.com/PortNumber53/subscription-lifecycle/backend/internal/payments"
	"github.com/PortNumber53/subscription-lifecycle/backend/internal/store"
	"github.com/PortNumber53/subscription-lifecycle/backend/internal/stripe"
	"github.com/PortNumber53/subscription-lifecycle/backend/internal/worker"
)

// App holds every long-lived dependency of the billing service.
type App struct {
	Config config.Config

	Store    billing.Store
	Registry *payments.Registry
	Notifier billing.Notifier
	Ledger   notify.ReminderLedger

	Subscriptions *billing.SubscriptionService
	Payments      *billing.PaymentService
	Retries       *billing.RetryService
	Runner        *worker.Runner

	closers []func() error
}

// New builds the application from cfg. Postgres is used when DatabaseURL is
// set, the fixture file store otherwise. RabbitMQ and Redis are optional.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	a := &App{Config: cfg}

	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}
	a.Registry = newRegistry(cfg)

	if err := a.openNotifier(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openLedger(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.Subscriptions = billing.NewSubscriptionService(a.Store, a.Registry)
	a.Payments = billing.NewPaymentService(a.Store, a.Registry, cfg.Currency)
	a.Retries = billing.NewRetryService(a.Store, a.Payments, a.Notifier, cfg.MaxPaymentRetries)

	a.Runner = worker.NewRunner(worker.DefaultConfig())
	worker.RegisterLifecycleJobs(a.Runner, worker.NewJobs(a.Store, a.Subscriptions, a.Retries, a.Notifier, a.Ledger))

	return a, nil
}

// Schedules returns the configured cron specs for the lifecycle jobs.
func (a *App) Schedules() worker.Schedules {
	return worker.Schedules{
		models.JobRenewalReminders: a.Config.RenewalReminderSchedule,
		models.JobExpirySweep:      a.Config.ExpirySweepSchedule,
		models.JobPaymentRetry:     a.Config.PaymentRetrySchedule,
	}
}

// Close releases connections in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) openStore(ctx context.Context) error {
	if a.Config.DatabaseURL == "" {
		fs, err := store.NewFileStore(a.Config.FixturesDir)
		if err != nil {
			return err
		}
		a.Store = fs
		// Persist the final state on shutdown.
		a.closers = append(a.closers, fs.Flush)
		return nil
	}

	db, err := sql.Open("postgres", a.Config.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	a.closers = append(a.closers, db.Close)

	logDBTarget("primary", a.Config.DatabaseURL)
	configureDB(db)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	if err := runMigrationsWithDirtyFix(db, "primary"); err != nil {
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	pg, err := store.New(db)
	if err != nil {
		return err
	}
	a.Store = pg
	return nil
}

func newRegistry(cfg config.Config) *payments.Registry {
	rc := payments.DefaultRegistryConfig()
	rc.Timeout = cfg.ProviderTimeout
	registry := payments.NewRegistry(rc)

	registry.Register(payments.NewSandboxProvider(payments.ProviderStripe))
	registry.Register(payments.NewSandboxProvider(payments.ProviderPayPal))
	registry.Register(payments.NewSandboxProvider(payments.ProviderApple))

	if cfg.StripeSecretKey != "" {
		registry.Register(payments.NewStripeProvider(stripe.NewClient(cfg.StripeSecretKey), cfg.StripePaymentMethod))
		log.Printf("[app] stripe payments go through the Stripe API")
	}
	log.Printf("[app] payment providers: %s", strings.Join(registry.Names(), ", "))
	return registry
}

func (a *App) openNotifier() error {
	if a.Config.AMQPURL == "" {
		a.Notifier = notify.LogNotifier{}
		return nil
	}
	n, err := notify.DialAMQP(a.Config.AMQPURL)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() error { n.Close(); return nil })
	a.Notifier = n
	return nil
}

func (a *App) openLedger(ctx context.Context) error {
	if a.Config.RedisURL == "" {
		log.Printf("[app] REDIS_URL not set, renewal reminders are not de-duplicated")
		return nil
	}
	opts, err := redis.ParseURL(a.Config.RedisURL)
	if err != nil {
		return fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	a.closers = append(a.closers, client.Close)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	a.Ledger = notify.NewRedisLedger(client)
	return nil
}

func configureDB(db *sql.DB) {
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
}

func runMigrationsWithDirtyFix(db *sql.DB, name string) error {
	if err := migrations.Up(db); err != nil {
		log.Printf("migrations(%s): error detected: %v (type: %T)", name, err, err)
		if strings.Contains(err.Error(), "Dirty database version") {
			log.Printf("migrations(%s): dirty database detected, attempting to fix...", name)
			if fixErr := migrations.FixDirtyDatabase(db); fixErr != nil {
				log.Printf("migrations(%s): failed to fix dirty database: %v", name, fixErr)
				return err
			}
			return migrations.Up(db)
		}
		return err
	}
	return nil
}

func logDBTarget(name, dsn string) {
	// Avoid logging secrets: only log hostname + database path.
	u, err := url.Parse(dsn)
	if err != nil {
		log.Printf("db(%s): configured (dsn parse error: %v)", name, err)
		return
	}
	log.Printf("db(%s): host=%s db=%s", name, u.Hostname(), strings.TrimPrefix(u.Path, "/"))
}
