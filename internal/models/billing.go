package models

import "time"

// SubscriptionStatus is the lifecycle state of a subscription.
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionCanceled SubscriptionStatus = "canceled"
)

// Valid reports whether s is one of the known statuses.
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubscriptionActive, SubscriptionPastDue, SubscriptionCanceled:
		return true
	}
	return false
}

// PaymentStatus is the settlement outcome of a single charge attempt.
type PaymentStatus string

const (
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
	PaymentPending   PaymentStatus = "pending"
)

// CancellationReasonPaymentFailure is recorded when retries are exhausted.
const CancellationReasonPaymentFailure = "payment_failure"

type Subscription struct {
	ID                 string             `json:"id"`
	UserID             string             `json:"userId"`
	Plan               Plan               `json:"plan"`
	Status             SubscriptionStatus `json:"status"`
	StartedAt          time.Time          `json:"startedAt"`
	ExpiresAt          time.Time          `json:"expiresAt"`
	PaymentProvider    string             `json:"paymentProvider"`
	LastPaymentStatus  PaymentStatus      `json:"lastPaymentStatus,omitempty"`
	LastPaymentAt      *time.Time         `json:"lastPaymentDate,omitempty"`
	RetryAttempts      int                `json:"retryAttempts"`
	NextRetryAt        *time.Time         `json:"nextRetryDate,omitempty"`
	CancellationReason *string            `json:"cancellationReason,omitempty"`
	CreatedAt          time.Time          `json:"createdAt"`
	UpdatedAt          time.Time          `json:"updatedAt"`
}

// Clone returns a deep copy so callers can mutate it without touching the
// stored record until it is saved.
func (s Subscription) Clone() Subscription {
	out := s
	if s.LastPaymentAt != nil {
		t := *s.LastPaymentAt
		out.LastPaymentAt = &t
	}
	if s.NextRetryAt != nil {
		t := *s.NextRetryAt
		out.NextRetryAt = &t
	}
	if s.CancellationReason != nil {
		r := *s.CancellationReason
		out.CancellationReason = &r
	}
	return out
}

// DueForRetry reports whether the subscription should get a retry attempt at now.
func (s Subscription) DueForRetry(now time.Time) bool {
	if s.Status != SubscriptionPastDue || s.NextRetryAt == nil {
		return false
	}
	return !s.NextRetryAt.After(now)
}

// SubscriptionFilter narrows a subscription listing. Empty fields match everything.
type SubscriptionFilter struct {
	Status SubscriptionStatus
	Plan   Plan
	UserID string
}

// Matches reports whether sub satisfies every non-empty field of the filter.
func (f SubscriptionFilter) Matches(sub Subscription) bool {
	if f.Status != "" && sub.Status != f.Status {
		return false
	}
	if f.Plan != "" && sub.Plan != f.Plan {
		return false
	}
	if f.UserID != "" && sub.UserID != f.UserID {
		return false
	}
	return true
}

// SubscriptionDetail is a subscription plus the entitlements its plan unlocks.
type SubscriptionDetail struct {
	Subscription
	Entitlements []string `json:"entitlements"`
}

// Payment is one charge attempt. Payments are never updated once stored.
type Payment struct {
	ID             string        `json:"id"`
	SubscriptionID string        `json:"subscriptionId"`
	Provider       string        `json:"provider"`
	Amount         int64         `json:"amount"`
	Currency       string        `json:"currency"`
	Status         PaymentStatus `json:"status"`
	ProcessedAt    time.Time     `json:"processedAt"`
	TransactionID  string        `json:"transactionId,omitempty"`
}
