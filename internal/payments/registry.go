package payments

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/PortNumber53/subscription-lifecycle/backend/internal/models"
)

// RegistryConfig bounds provider calls.
type RegistryConfig struct {
	// Timeout is the maximum duration of a single Charge call.
	Timeout time.Duration
	// FailureThreshold is the number of consecutive errors that opens a breaker.
	FailureThreshold uint32
	// OpenTimeout is how long a tripped breaker rejects calls before probing.
	OpenTimeout time.Duration
}

// DefaultRegistryConfig returns the production defaults.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		Timeout:          10 * time.Second,
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
	}
}

type registered struct {
	provider Provider
	breaker  *gobreaker.CircuitBreaker[Outcome]
}

// Registry resolves providers by name and guards every charge.
type Registry struct {
	config RegistryConfig

	mu        sync.RWMutex
	providers map[string]*registered
}

// NewRegistry creates an empty registry. Zero config fields take defaults.
func NewRegistry(config RegistryConfig) *Registry {
	defaults := DefaultRegistryConfig()
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.FailureThreshold == 0 {
		config.FailureThreshold = defaults.FailureThreshold
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = defaults.OpenTimeout
	}
	return &Registry{config: config, providers: make(map[string]*registered)}
}

// Register adds or replaces the provider under p.Name().
func (r *Registry) Register(p Provider) {
	threshold := r.config.FailureThreshold
	settings := gobreaker.Settings{
		Name:        p.Name(),
		MaxRequests: 1,
		Timeout:     r.config.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("[payments] circuit breaker %s: %s -> %s", name, from, to)
		},
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = &registered{
		provider: p,
		breaker:  gobreaker.NewCircuitBreaker[Outcome](settings),
	}
}

// Has reports whether a provider is registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.providers[name]
	return ok
}

// Names lists the registered provider names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Charge runs req against the named provider. An unknown name returns
// ErrProviderUnavailable. Provider errors, timeouts and an open breaker are
// reported as a failed outcome with a nil error.
func (r *Registry) Charge(ctx context.Context, name string, req ChargeRequest) (Outcome, error) {
	r.mu.RLock()
	entry, ok := r.providers[name]
	r.mu.RUnlock()
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %s", ErrProviderUnavailable, name)
	}

	callCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	outcome, err := entry.breaker.Execute(func() (Outcome, error) {
		return chargeWithDeadline(callCtx, entry.provider, req)
	})
	if err != nil {
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			log.Printf("[payments] %s circuit open, failing charge for subscription %s", name, req.SubscriptionID)
		case errors.Is(err, context.DeadlineExceeded):
			log.Printf("[payments] %s timed out after %s for subscription %s", name, r.config.Timeout, req.SubscriptionID)
		default:
			log.Printf("[payments] %s charge error for subscription %s: %v", name, req.SubscriptionID, err)
		}
		return Outcome{Status: models.PaymentFailed}, nil
	}

	if outcome.Status != models.PaymentSucceeded && outcome.Status != models.PaymentPending {
		outcome.Status = models.PaymentFailed
	}
	return outcome, nil
}

// chargeWithDeadline returns as soon as ctx is done even if the provider
// ignores cancellation.
func chargeWithDeadline(ctx context.Context, p Provider, req ChargeRequest) (Outcome, error) {
	type result struct {
		outcome Outcome
		err     error
	}
	done := make(chan result, 1)
	go func() {
		outcome, err := p.Charge(ctx, req)
		done <- result{outcome, err}
	}()

	select {
	case res := <-done:
		return res.outcome, res.err
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}
