package billing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/PortNumber53/subscription-lifecycle/backend/internal/models"
	"github.com/PortNumber53/subscription-lifecycle/backend/internal/notify"
	"github.com/PortNumber53/subscription-lifecycle/backend/internal/store"
)

// DefaultMaxRetries is the number of failed retries before cancellation.
const DefaultMaxRetries = 3

// DefaultRetryDelays is the backoff after the first, second and third failed
// attempt. Later attempts reuse the last delay.
var DefaultRetryDelays = []time.Duration{24 * time.Hour, 72 * time.Hour, 168 * time.Hour}

// RetryOutcome classifies a single Retry call.
type RetryOutcome string

const (
	RetrySucceeded RetryOutcome = "succeeded"
	RetryFailed    RetryOutcome = "failed"
	RetryPending   RetryOutcome = "pending"
	RetryCanceled  RetryOutcome = "canceled"
	RetrySkipped   RetryOutcome = "skipped"
)

// Reasons reported with non-success outcomes.
const (
	ReasonMaxRetriesExceeded = "max_retries_exceeded"
	ReasonPaymentFailed      = "payment_failed"
	ReasonAwaitingSettlement = "awaiting_settlement"
	ReasonNotPastDue         = "not_past_due"
)

// RetryResult reports what a retry did to a subscription.
type RetryResult struct {
	SubscriptionID string          `json:"subscriptionId"`
	Outcome        RetryOutcome    `json:"outcome"`
	Reason         string          `json:"reason,omitempty"`
	RetryAttempts  int             `json:"retryAttempts"`
	NextRetryAt    *time.Time      `json:"nextRetryDate,omitempty"`
	Payment        *models.Payment `json:"payment,omitempty"`
}

// RetryService re-charges past-due subscriptions on a backoff schedule and
// cancels them once retries are exhausted.
type RetryService struct {
	store      Store
	payments   *PaymentService
	notifier   Notifier
	maxRetries int
	delays     []time.Duration
}

// NewRetryService returns a retry service. maxRetries <= 0 uses DefaultMaxRetries.
func NewRetryService(st Store, payments *PaymentService, notifier Notifier, maxRetries int) *RetryService {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &RetryService{
		store:      st,
		payments:   payments,
		notifier:   notifier,
		maxRetries: maxRetries,
		delays:     DefaultRetryDelays,
	}
}

// MaxRetries returns the exhaustion threshold.
func (s *RetryService) MaxRetries() int { return s.maxRetries }

// NextRetryDelay returns the wait after the given 1-based attempt.
func (s *RetryService) NextRetryDelay(attempt int) time.Duration {
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(s.delays) {
		idx = len(s.delays) - 1
	}
	return s.delays[idx]
}

// NextRetryAt returns when the retry after attempt is due.
func (s *RetryService) NextRetryAt(now time.Time, attempt int) time.Time {
	return now.Add(s.NextRetryDelay(attempt))
}

// DueForRetry lists past-due subscriptions whose next retry is at or before now.
func (s *RetryService) DueForRetry(ctx context.Context, now time.Time) ([]models.Subscription, error) {
	pastDue, err := s.store.ListSubscriptions(ctx, models.SubscriptionFilter{Status: models.SubscriptionPastDue})
	if err != nil {
		return nil, fmt.Errorf("billing: list past due subscriptions: %w", err)
	}

	due := make([]models.Subscription, 0, len(pastDue))
	for _, sub := range pastDue {
		if sub.DueForRetry(now) {
			due = append(due, sub)
		}
	}
	return due, nil
}

// Retry makes one retry attempt for the subscription. Exhausting retries is a
// state transition reported through the result, not an error.
func (s *RetryService) Retry(ctx context.Context, id string, now time.Time) (RetryResult, error) {
	sub, err := lookupSubscription(ctx, s.store, id)
	if err != nil {
		return RetryResult{}, err
	}

	if sub.Status != models.SubscriptionPastDue {
		return RetryResult{
			SubscriptionID: id,
			Outcome:        RetrySkipped,
			Reason:         ReasonNotPastDue,
			RetryAttempts:  sub.RetryAttempts,
		}, nil
	}

	if sub.RetryAttempts >= s.maxRetries {
		return s.cancelForPaymentFailure(ctx, sub, now)
	}

	payment, err := s.payments.charge(ctx, sub, models.PlanPrice(sub.Plan), now)
	if err != nil {
		return RetryResult{}, err
	}

	result := RetryResult{SubscriptionID: id, Payment: payment}
	switch payment.Status {
	case models.PaymentSucceeded:
		paidAt := now
		sub.Status = models.SubscriptionActive
		sub.RetryAttempts = 0
		sub.LastPaymentAt = &paidAt
		sub.NextRetryAt = nil
		result.Outcome = RetrySucceeded
		log.Printf("[retry] subscription %s recovered on retry", id)

	case models.PaymentPending:
		// A pending charge still spends an attempt so a provider that never
		// settles ends in cancellation like repeated failures do.
		sub.RetryAttempts++
		next := s.NextRetryAt(now, sub.RetryAttempts)
		sub.NextRetryAt = &next
		result.Outcome = RetryPending
		result.Reason = ReasonAwaitingSettlement
		log.Printf("[retry] subscription %s retry %d pending settlement; next check %s", id, sub.RetryAttempts, next.Format(time.RFC3339))

	default:
		sub.RetryAttempts++
		next := s.NextRetryAt(now, sub.RetryAttempts)
		sub.NextRetryAt = &next
		result.Outcome = RetryFailed
		result.Reason = ReasonPaymentFailed
		log.Printf("[retry] subscription %s retry %d failed; next retry %s", id, sub.RetryAttempts, next.Format(time.RFC3339))
	}

	sub.UpdatedAt = now
	if err := s.store.SaveSubscription(ctx, sub); err != nil {
		return RetryResult{}, fmt.Errorf("billing: save subscription %s: %w", id, err)
	}

	result.RetryAttempts = sub.RetryAttempts
	result.NextRetryAt = sub.NextRetryAt
	return result, nil
}

func (s *RetryService) cancelForPaymentFailure(ctx context.Context, sub *models.Subscription, now time.Time) (RetryResult, error) {
	reason := models.CancellationReasonPaymentFailure
	sub.Status = models.SubscriptionCanceled
	sub.CancellationReason = &reason
	if sub.ExpiresAt.After(now) {
		sub.ExpiresAt = now
	}
	sub.NextRetryAt = nil
	sub.UpdatedAt = now

	if err := s.store.SaveSubscription(ctx, sub); err != nil {
		return RetryResult{}, fmt.Errorf("billing: cancel subscription %s: %w", sub.ID, err)
	}
	log.Printf("[retry] subscription %s canceled after %d failed retries", sub.ID, sub.RetryAttempts)

	s.notifyCanceled(ctx, sub)

	return RetryResult{
		SubscriptionID: sub.ID,
		Outcome:        RetryCanceled,
		Reason:         ReasonMaxRetriesExceeded,
		RetryAttempts:  sub.RetryAttempts,
	}, nil
}

func (s *RetryService) notifyCanceled(ctx context.Context, sub *models.Subscription) {
	if s.notifier == nil {
		return
	}

	user, err := s.store.GetUser(ctx, sub.UserID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("[retry] lookup owner of %s: %v", sub.ID, err)
		}
		return
	}

	err = s.notifier.Send(ctx, notify.Notification{
		To:       user.Email,
		Template: notify.TemplateSubscriptionCanceled,
		Data: map[string]any{
			"subscriptionId": sub.ID,
			"plan":           string(sub.Plan),
			"reason":         "Payment failed after multiple attempts",
		},
	})
	if err != nil {
		log.Printf("[retry] cancellation notice for %s not delivered: %v", sub.ID, err)
	}
}
