package payments

import (
	"context"
	"errors"
	"log"

	"github.com/PortNumber53/subscription-lifecycle/backend/internal/models"
	"github.com/PortNumber53/subscription-lifecycle/backend/internal/stripe"
)

type paymentIntentCreator interface {
	CreatePaymentIntent(ctx context.Context, params stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeProvider charges through the Stripe PaymentIntent API.
type StripeProvider struct {
	client        paymentIntentCreator
	paymentMethod string
}

// NewStripeProvider wraps client; paymentMethod is attached to every intent.
func NewStripeProvider(client paymentIntentCreator, paymentMethod string) *StripeProvider {
	return &StripeProvider{client: client, paymentMethod: paymentMethod}
}

func (p *StripeProvider) Name() string { return ProviderStripe }

func (p *StripeProvider) Charge(ctx context.Context, req ChargeRequest) (Outcome, error) {
	intent, err := p.client.CreatePaymentIntent(ctx, stripe.PaymentIntentParams{
		Amount:         req.Amount,
		Currency:       req.Currency,
		PaymentMethod:  p.paymentMethod,
		IdempotencyKey: req.PaymentID,
		Metadata:       map[string]string{"subscription_id": req.SubscriptionID},
	})
	if err != nil {
		// A decline is a settled answer from a healthy provider and must not
		// count towards the circuit breaker.
		var apiErr *stripe.APIError
		if errors.As(err, &apiErr) && apiErr.Declined() {
			log.Printf("[payments] stripe declined charge for subscription %s: %s", req.SubscriptionID, apiErr.Code)
			return Outcome{Status: models.PaymentFailed}, nil
		}
		return Outcome{}, err
	}
	return Outcome{Status: intentStatus(intent.Status), TransactionID: intent.ID}, nil
}

// intentStatus maps a PaymentIntent status onto a settlement outcome.
func intentStatus(status string) models.PaymentStatus {
	switch status {
	case "succeeded":
		return models.PaymentSucceeded
	case "processing", "requires_action", "requires_capture":
		return models.PaymentPending
	default:
		return models.PaymentFailed
	}
}
