package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/PortNumber53/subscription-lifecycle/backend/internal/billing"
	"github.com/PortNumber53/subscription-lifecycle/backend/internal/models"
)

// SubscriptionService is what the subscription endpoints need from billing.
type SubscriptionService interface {
	List(ctx context.Context, filter models.SubscriptionFilter) ([]models.Subscription, error)
	Get(ctx context.Context, id string) (*models.SubscriptionDetail, error)
	CheckEntitlement(ctx context.Context, id, feature string) (*models.EntitlementCheck, error)
	Create(ctx context.Context, in billing.CreateSubscriptionInput, now time.Time) (*models.Subscription, error)
	Cancel(ctx context.Context, id string, now time.Time) (*models.Subscription, error)
}

// PaymentService charges subscriptions and reads their history.
type PaymentService interface {
	ProcessPayment(ctx context.Context, sub *models.Subscription, amount int64) (*models.Payment, error)
	PaymentHistory(ctx context.Context, subscriptionID string) ([]models.Payment, error)
}

// ListSubscriptions returns subscriptions filtered by the status, plan and
// userId query parameters.
func ListSubscriptions(svc SubscriptionService, errs ErrorWriter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		status := models.SubscriptionStatus(q.Get("status"))
		if status != "" && !status.Valid() {
			errs.Write(w, r, &billing.ValidationError{Fields: []string{"status"}})
			return
		}
		subs, err := svc.List(r.Context(), models.SubscriptionFilter{
			Status: status,
			Plan:   models.Plan(q.Get("plan")),
			UserID: q.Get("userId"),
		})
		if err != nil {
			errs.Write(w, r, err)
			return
		}
		writeData(w, http.StatusOK, subs)
	}
}

// GetSubscription returns one subscription with its entitlements.
func GetSubscription(svc SubscriptionService, errs ErrorWriter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		detail, err := svc.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			errs.Write(w, r, err)
			return
		}
		writeData(w, http.StatusOK, detail)
	}
}

// CheckEntitlement reports whether the subscription's plan grants the
// feature named in the path.
func CheckEntitlement(svc SubscriptionService, errs ErrorWriter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		check, err := svc.CheckEntitlement(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "feature"))
		if err != nil {
			errs.Write(w, r, err)
			return
		}
		writeData(w, http.StatusOK, check)
	}
}

// CreateSubscription validates and stores a new subscription.
func CreateSubscription(svc SubscriptionService, errs ErrorWriter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in billing.CreateSubscriptionInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			log.Printf("CreateSubscription: invalid JSON payload: %v", err)
			badRequest(w, "invalid JSON payload")
			return
		}

		sub, err := svc.Create(r.Context(), in, time.Now().UTC())
		if err != nil {
			errs.Write(w, r, err)
			return
		}
		writeData(w, http.StatusCreated, sub)
	}
}

// CancelSubscription is a user-initiated cancellation.
func CancelSubscription(svc SubscriptionService, errs ErrorWriter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, err := svc.Cancel(r.Context(), chi.URLParam(r, "id"), time.Now().UTC())
		if err != nil {
			errs.Write(w, r, err)
			return
		}
		writeData(w, http.StatusOK, sub)
	}
}

// PaymentHistory lists the payments of a subscription in the order they were made.
func PaymentHistory(payments PaymentService, errs ErrorWriter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		history, err := payments.PaymentHistory(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			errs.Write(w, r, err)
			return
		}
		writeData(w, http.StatusOK, history)
	}
}

type processPaymentPayload struct {
	Amount *int64 `json:"amount"`
}

// ProcessPayment charges a subscription once. A missing amount charges
// models.FallbackPlanPrice.
func ProcessPayment(subs SubscriptionService, payments PaymentService, errs ErrorWriter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		detail, err := subs.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			errs.Write(w, r, err)
			return
		}

		var payload processPaymentPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
			badRequest(w, "invalid JSON payload")
			return
		}

		amount := models.FallbackPlanPrice
		if payload.Amount != nil {
			amount = *payload.Amount
		} else {
			log.Printf("ProcessPayment: no amount for subscription %s (plan %s), charging fallback %d",
				detail.ID, detail.Plan, amount)
		}

		payment, err := payments.ProcessPayment(r.Context(), &detail.Subscription, amount)
		if err != nil {
			errs.Write(w, r, err)
			return
		}
		writeData(w, http.StatusCreated, payment)
	}
}
