// Package billing implements the subscription state machine: payments,
// retries with backoff, cancellation and provider callbacks.
package billing

import (
	"context"

	"github.com/PortNumber53/subscription-lifecycle/backend/internal/models"
	"github.com/PortNumber53/subscription-lifecycle/backend/internal/notify"
	"github.com/PortNumber53/subscription-lifecycle/backend/internal/payments"
)

// Store is the persistence the billing services need. Reads return copies;
// mutations are written back with SaveSubscription.
type Store interface {
	GetSubscription(ctx context.Context, id string) (*models.Subscription, error)
	ListSubscriptions(ctx context.Context, filter models.SubscriptionFilter) ([]models.Subscription, error)
	InsertSubscription(ctx context.Context, sub *models.Subscription) error
	SaveSubscription(ctx context.Context, sub *models.Subscription) error
	AppendPayment(ctx context.Context, payment *models.Payment) error
	ListPayments(ctx context.Context, subscriptionID string) ([]models.Payment, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
}

// Charger runs a charge against a named provider.
type Charger interface {
	Has(name string) bool
	Charge(ctx context.Context, name string, req payments.ChargeRequest) (payments.Outcome, error)
}

// Notifier delivers customer notifications.
type Notifier interface {
	Send(ctx context.Context, n notify.Notification) error
}
