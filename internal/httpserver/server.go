package httpserver

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/PortNumber53/subscription-lifecycle/backend/internal/config"
	"github.com/PortNumber53/subscription-lifecycle/backend/internal/handlers"
	apimw "github.com/PortNumber53/subscription-lifecycle/backend/internal/middleware"
	"github.com/PortNumber53/subscription-lifecycle/backend/internal/worker"
)

// SubscriptionAPI is everything the subscription, webhook and user routes need.
type SubscriptionAPI interface {
	handlers.SubscriptionService
	handlers.WebhookService
	handlers.UserService
}

// Server wraps an http.Server with convenience helpers for startup/shutdown.
type Server struct {
	httpServer *http.Server
	scheduler  *worker.Scheduler
}

// New constructs an HTTP server. scheduler may be nil when the lifecycle jobs
// run elsewhere.
func New(cfg config.Config, subs SubscriptionAPI, payments handlers.PaymentService, jobs handlers.JobRunner, scheduler *worker.Scheduler) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(apimw.RequestLogger)
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://*", "http://*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", apimw.APIKeyHeader, handlers.SignatureHeader, "Stripe-Signature"},
		MaxAge:         300,
	}))

	errs := handlers.ErrorWriter{ShowDetail: !cfg.Production()}
	secrets := handlers.WebhookSecrets{
		Stripe: cfg.StripeWebhookSecret,
		PayPal: cfg.PayPalWebhookSecret,
		Apple:  cfg.AppleWebhookSecret,
	}

	router.Get("/healthz", handlers.Health)
	router.Get("/health", handlers.Health)

	router.Route("/api", func(r chi.Router) {
		r.Route("/subscriptions", func(r chi.Router) {
			r.Get("/", handlers.ListSubscriptions(subs, errs))
			r.Post("/", handlers.CreateSubscription(subs, errs))
			r.Get("/{id}", handlers.GetSubscription(subs, errs))
			r.Get("/{id}/entitlements/{feature}", handlers.CheckEntitlement(subs, errs))
			r.Post("/{id}/cancel", handlers.CancelSubscription(subs, errs))
			r.Get("/{id}/payments", handlers.PaymentHistory(payments, errs))
			r.Post("/{id}/payments", handlers.ProcessPayment(subs, payments, errs))
		})

		r.Post("/webhooks/stripe", handlers.StripeWebhook(subs, secrets.Stripe, errs))
		r.Post("/webhooks/paypal", handlers.PayPalWebhook(subs, secrets.PayPal, errs))
		r.Post("/webhooks/apple", handlers.AppleWebhook(subs, secrets.Apple, errs))

		r.Get("/users", handlers.Users(subs, errs))
		r.Get("/users/{id}", handlers.User(subs, errs))

		r.Group(func(r chi.Router) {
			r.Use(apimw.APIKey, apimw.RequireAdmin)
			r.Get("/jobs", handlers.JobStats(jobs))
			r.Post("/jobs/{name}/run", handlers.RunJob(jobs, errs))
		})
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{httpServer: srv, scheduler: scheduler}
}

// Start begins serving HTTP traffic and starts the scheduler.
func (s *Server) Start() error {
	if s.scheduler != nil {
		log.Println("[server] Starting lifecycle scheduler...")
		s.scheduler.Start()
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server and scheduler.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.scheduler != nil {
		log.Println("[server] Shutting down lifecycle scheduler...")
		if err := s.scheduler.Stop(ctx); err != nil {
			log.Printf("[server] Scheduler shutdown error: %v", err)
		}
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
