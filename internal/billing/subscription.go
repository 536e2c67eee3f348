package billing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/PortNumber53/subscription-lifecycle/backend/internal/models"
	"github.com/PortNumber53/subscription-lifecycle/backend/internal/store"
)

// DefaultTerm is the initial subscription length when no expiry is given.
const DefaultTerm = 30 * 24 * time.Hour

// CreateSubscriptionInput is the payload accepted by Create.
type CreateSubscriptionInput struct {
	UserID          string     `json:"userId"`
	Plan            string     `json:"plan"`
	PaymentProvider string     `json:"paymentProvider"`
	ExpiresAt       *time.Time `json:"expiresAt,omitempty"`
}

// SubscriptionService owns subscription creation and status transitions
// outside the retry loop.
type SubscriptionService struct {
	store     Store
	providers Charger
}

func NewSubscriptionService(st Store, providers Charger) *SubscriptionService {
	return &SubscriptionService{store: st, providers: providers}
}

func (s *SubscriptionService) List(ctx context.Context, filter models.SubscriptionFilter) ([]models.Subscription, error) {
	return s.store.ListSubscriptions(ctx, filter)
}

// Get returns the subscription with the entitlements of its plan.
func (s *SubscriptionService) Get(ctx context.Context, id string) (*models.SubscriptionDetail, error) {
	sub, err := lookupSubscription(ctx, s.store, id)
	if err != nil {
		return nil, err
	}
	return &models.SubscriptionDetail{Subscription: *sub, Entitlements: models.Entitlements(sub.Plan)}, nil
}

// CheckEntitlement reports whether the subscription's plan unlocks feature.
// Like Get, it reflects the plan and not the subscription status.
func (s *SubscriptionService) CheckEntitlement(ctx context.Context, id, feature string) (*models.EntitlementCheck, error) {
	feature = strings.TrimSpace(feature)
	if feature == "" {
		return nil, invalid("entitlement")
	}
	sub, err := lookupSubscription(ctx, s.store, id)
	if err != nil {
		return nil, err
	}
	return &models.EntitlementCheck{
		SubscriptionID: sub.ID,
		Plan:           sub.Plan,
		Entitlement:    feature,
		Granted:        models.HasEntitlement(sub.Plan, feature),
	}, nil
}

// Create validates input and stores a new active subscription. Every missing
// or invalid field is reported in a single ValidationError.
func (s *SubscriptionService) Create(ctx context.Context, in CreateSubscriptionInput, now time.Time) (*models.Subscription, error) {
	var fields []string

	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		fields = append(fields, "userId")
	}
	plan, err := models.ParsePlan(in.Plan)
	if err != nil {
		fields = append(fields, "plan")
	}
	provider := strings.TrimSpace(in.PaymentProvider)
	if provider == "" || !s.providers.Has(provider) {
		fields = append(fields, "paymentProvider")
	}
	if len(fields) > 0 {
		return nil, invalid(fields...)
	}

	expiresAt := now.Add(DefaultTerm)
	if in.ExpiresAt != nil {
		expiresAt = in.ExpiresAt.UTC()
	}

	sub := &models.Subscription{
		ID:                uuid.NewString(),
		UserID:            userID,
		Plan:              plan,
		Status:            models.SubscriptionActive,
		StartedAt:         now,
		ExpiresAt:         expiresAt,
		PaymentProvider:   provider,
		LastPaymentStatus: models.PaymentPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.store.InsertSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("billing: create subscription: %w", err)
	}

	log.Printf("[billing] subscription %s created for user %s on %s", sub.ID, userID, plan)
	return sub, nil
}

// Cancel ends a subscription at the user's request. The cancellation reason
// stays empty. Canceling twice is a no-op.
func (s *SubscriptionService) Cancel(ctx context.Context, id string, now time.Time) (*models.Subscription, error) {
	sub, err := lookupSubscription(ctx, s.store, id)
	if err != nil {
		return nil, err
	}
	if sub.Status == models.SubscriptionCanceled {
		return sub, nil
	}

	sub.Status = models.SubscriptionCanceled
	sub.ExpiresAt = now
	sub.NextRetryAt = nil
	sub.UpdatedAt = now
	if err := s.store.SaveSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("billing: cancel subscription %s: %w", id, err)
	}

	log.Printf("[billing] subscription %s canceled by user", id)
	return sub, nil
}

// MarkPastDue moves an active subscription to past_due with its first retry
// due immediately. Other statuses are returned unchanged.
func (s *SubscriptionService) MarkPastDue(ctx context.Context, id string, now time.Time) (*models.Subscription, error) {
	sub, err := lookupSubscription(ctx, s.store, id)
	if err != nil {
		return nil, err
	}
	if !markPastDue(sub, now) {
		return sub, nil
	}

	if err := s.store.SaveSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("billing: mark past due %s: %w", id, err)
	}
	log.Printf("[billing] subscription %s marked past due", id)
	return sub, nil
}

func markPastDue(sub *models.Subscription, now time.Time) bool {
	if sub.Status != models.SubscriptionActive {
		return false
	}
	due := now
	sub.Status = models.SubscriptionPastDue
	sub.NextRetryAt = &due
	sub.UpdatedAt = now
	return true
}

// RecordProviderStatus applies a payment status reported by a provider
// callback. A failure moves an active subscription to past_due; a success
// settles a past_due one. Canceled subscriptions only record the status.
func (s *SubscriptionService) RecordProviderStatus(ctx context.Context, id string, status models.PaymentStatus, now time.Time) (*models.Subscription, error) {
	switch status {
	case models.PaymentSucceeded, models.PaymentFailed, models.PaymentPending:
	default:
		return nil, invalid("status")
	}

	sub, err := lookupSubscription(ctx, s.store, id)
	if err != nil {
		return nil, err
	}

	sub.LastPaymentStatus = status
	sub.UpdatedAt = now
	switch status {
	case models.PaymentFailed:
		markPastDue(sub, now)
	case models.PaymentSucceeded:
		if sub.Status == models.SubscriptionPastDue {
			paidAt := now
			sub.Status = models.SubscriptionActive
			sub.RetryAttempts = 0
			sub.NextRetryAt = nil
			sub.LastPaymentAt = &paidAt
		}
	}

	if err := s.store.SaveSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("billing: record provider status %s: %w", id, err)
	}
	log.Printf("[billing] subscription %s provider status %s -> %s", id, status, sub.Status)
	return sub, nil
}

func (s *SubscriptionService) ListUsers(ctx context.Context) ([]models.User, error) {
	return s.store.ListUsers(ctx)
}

// GetUser returns the user with every subscription it owns.
func (s *SubscriptionService) GetUser(ctx context.Context, id string) (*models.UserDetail, error) {
	user, err := s.store.GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	subs, err := s.store.ListSubscriptions(ctx, models.SubscriptionFilter{UserID: id})
	if err != nil {
		return nil, err
	}
	return &models.UserDetail{User: *user, Subscriptions: subs}, nil
}
