package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/PortNumber53/subscription-lifecycle/backend/internal/app"
	"github.com/PortNumber53/subscription-lifecycle/backend/internal/config"
	"github.com/PortNumber53/subscription-lifecycle/backend/internal/httpserver"
	"github.com/PortNumber53/subscription-lifecycle/backend/internal/worker"
)

func main() {
	// Best-effort: load environment variables from .env-style files in local
	// development. These calls are safe to ignore in production environments.
	_ = godotenv.Load(
		"../.env",
		".env",
	)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	application, err := app.New(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to initialise application: %v", err)
	}
	defer application.Close()

	var scheduler *worker.Scheduler
	if cfg.SchedulerEnabled {
		scheduler = worker.NewScheduler(application.Runner)
		if err := scheduler.Register(application.Schedules()); err != nil {
			log.Fatalf("failed to schedule lifecycle jobs: %v", err)
		}
	} else {
		log.Printf("scheduler disabled, lifecycle jobs only run on demand")
	}

	srv := httpserver.New(cfg, application.Subscriptions, application.Payments, application.Runner, scheduler)

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-shutdownCtx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("graceful shutdown failed: %v", err)
		}
	}()

	log.Printf("billing backend starting on %s (env=%s)", cfg.ServerAddress, cfg.Environment)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("server exited with error: %v", err)
		application.Close()
		os.Exit(1)
	}
}
