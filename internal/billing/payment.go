package billing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/PortNumber53/subscription-lifecycle/backend/internal/models"
	"github.com/PortNumber53/subscription-lifecycle/backend/internal/payments"
	"github.com/PortNumber53/subscription-lifecycle/backend/internal/store"
)

// PaymentService charges subscriptions and records every attempt.
type PaymentService struct {
	store    Store
	charger  Charger
	currency string
	now      func() time.Time
}

// NewPaymentService returns a service that charges in currency.
func NewPaymentService(st Store, charger Charger, currency string) *PaymentService {
	return &PaymentService{
		store:    st,
		charger:  charger,
		currency: currency,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ProcessPayment charges amount against the subscription's provider. Every
// call that reaches the provider appends exactly one payment, whatever the
// outcome; sub.LastPaymentStatus is updated and saved.
func (s *PaymentService) ProcessPayment(ctx context.Context, sub *models.Subscription, amount int64) (*models.Payment, error) {
	return s.charge(ctx, sub, amount, s.now())
}

func (s *PaymentService) charge(ctx context.Context, sub *models.Subscription, amount int64, now time.Time) (*models.Payment, error) {
	if amount <= 0 {
		return nil, invalid("amount")
	}

	paymentID := uuid.NewString()
	outcome, err := s.charger.Charge(ctx, sub.PaymentProvider, payments.ChargeRequest{
		SubscriptionID: sub.ID,
		PaymentID:      paymentID,
		Amount:         amount,
		Currency:       s.currency,
	})
	if err != nil {
		return nil, err
	}

	payment := &models.Payment{
		ID:             paymentID,
		SubscriptionID: sub.ID,
		Provider:       sub.PaymentProvider,
		Amount:         amount,
		Currency:       s.currency,
		Status:         outcome.Status,
		ProcessedAt:    now,
		TransactionID:  outcome.TransactionID,
	}
	if err := s.store.AppendPayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("billing: record payment: %w", err)
	}

	sub.LastPaymentStatus = outcome.Status
	sub.UpdatedAt = now
	if err := s.store.SaveSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("billing: save subscription %s: %w", sub.ID, err)
	}

	log.Printf("[payments] payment %s for subscription %s via %s: %s",
		payment.ID, sub.ID, sub.PaymentProvider, payment.Status)
	return payment, nil
}

// PaymentHistory returns the payments of a subscription in call order.
func (s *PaymentService) PaymentHistory(ctx context.Context, subscriptionID string) ([]models.Payment, error) {
	if _, err := lookupSubscription(ctx, s.store, subscriptionID); err != nil {
		return nil, err
	}
	return s.store.ListPayments(ctx, subscriptionID)
}

func lookupSubscription(ctx context.Context, st Store, id string) (*models.Subscription, error) {
	sub, err := st.GetSubscription(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return sub, nil
}
