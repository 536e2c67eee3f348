// Package payments holds the payment provider adapters and the registry that
// bounds every charge with a timeout and a per-provider circuit breaker.
package payments

import (
	"context"
	"errors"

	"github.com/PortNumber53/subscription-lifecycle/backend/internal/models"
)

// Provider names known to the service.
const (
	ProviderStripe = "stripe"
	ProviderPayPal = "paypal"
	ProviderApple  = "apple"
)

// ErrProviderUnavailable is returned when no provider is registered under a name.
var ErrProviderUnavailable = errors.New("payment provider unavailable")

// ChargeRequest is a single charge attempt against a provider.
type ChargeRequest struct {
	SubscriptionID string
	// PaymentID is the id the resulting payment record will carry. Providers
	// that support it use it as an idempotency key.
	PaymentID string
	Amount    int64
	Currency  string
}

// Outcome is what a provider reports back for a charge.
type Outcome struct {
	Status        models.PaymentStatus
	TransactionID string
}

// Provider charges a payment method on behalf of a subscription.
type Provider interface {
	Name() string
	Charge(ctx context.Context, req ChargeRequest) (Outcome, error)
}
