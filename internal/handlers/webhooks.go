package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/PortNumber53/subscription-lifecycle/backend/internal/billing"
	"github.com/PortNumber53/subscription-lifecycle/backend/internal/models"
	"github.com/PortNumber53/subscription-lifecycle/backend/internal/stripe"
)

const (
	maxWebhookBody = 1 << 20

	// SignatureHeader carries the hex HMAC-SHA256 of the body for PayPal and Apple callbacks.
	SignatureHeader = "X-Webhook-Signature"
)

// WebhookService applies provider callbacks to subscriptions.
type WebhookService interface {
	Get(ctx context.Context, id string) (*models.SubscriptionDetail, error)
	MarkPastDue(ctx context.Context, id string, now time.Time) (*models.Subscription, error)
	RecordProviderStatus(ctx context.Context, id string, status models.PaymentStatus, now time.Time) (*models.Subscription, error)
}

// WebhookSecrets holds the per-provider signing secrets. An empty secret
// accepts unsigned payloads.
type WebhookSecrets struct {
	Stripe string
	PayPal string
	Apple  string
}

type stripeWebhookPayload struct {
	SubscriptionID string               `json:"subscriptionId"`
	Status         models.PaymentStatus `json:"status"`
}

type paypalWebhookPayload struct {
	SubscriptionID string `json:"subscriptionId"`
	Dispute        bool   `json:"dispute"`
}

type appleWebhookPayload struct {
	SubscriptionID string               `json:"subscriptionId"`
	Status         models.PaymentStatus `json:"status"`
}

func received(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// StripeWebhook records the payment status Stripe reports for a subscription.
func StripeWebhook(svc WebhookService, secret string, errs ErrorWriter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readWebhook(w, r)
		if err != nil {
			badRequest(w, "unable to read body")
			return
		}
		if secret != "" {
			if err := stripe.VerifyWebhookSignature(body, r.Header.Get("Stripe-Signature"), secret); err != nil {
				log.Printf("StripeWebhook: %v", err)
				errs.Write(w, r, errInvalidSignature)
				return
			}
		} else {
			log.Printf("StripeWebhook: STRIPE_WEBHOOK_SECRET not set, accepting unsigned payload")
		}

		var payload stripeWebhookPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			badRequest(w, "invalid JSON payload")
			return
		}
		if strings.TrimSpace(payload.SubscriptionID) == "" {
			errs.Write(w, r, &billing.ValidationError{Fields: []string{"subscriptionId"}})
			return
		}

		if _, err := svc.RecordProviderStatus(r.Context(), payload.SubscriptionID, payload.Status, time.Now().UTC()); err != nil {
			errs.Write(w, r, err)
			return
		}
		log.Printf("StripeWebhook: subscription %s status %s", payload.SubscriptionID, payload.Status)
		received(w)
	}
}

// PayPalWebhook moves a subscription to past_due when PayPal flags a dispute.
func PayPalWebhook(svc WebhookService, secret string, errs ErrorWriter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readWebhook(w, r)
		if err != nil {
			badRequest(w, "unable to read body")
			return
		}
		if err := verifyHMAC(body, r.Header.Get(SignatureHeader), secret, "PayPalWebhook"); err != nil {
			errs.Write(w, r, err)
			return
		}

		var payload paypalWebhookPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			badRequest(w, "invalid JSON payload")
			return
		}

		if _, err := svc.Get(r.Context(), payload.SubscriptionID); err != nil {
			errs.Write(w, r, err)
			return
		}
		if payload.Dispute {
			if _, err := svc.MarkPastDue(r.Context(), payload.SubscriptionID, time.Now().UTC()); err != nil {
				errs.Write(w, r, err)
				return
			}
		}
		log.Printf("PayPalWebhook: subscription %s flagged, dispute=%v", payload.SubscriptionID, payload.Dispute)
		received(w)
	}
}

// AppleWebhook acknowledges App Store notifications. When the payload names a
// subscription and a settlement status the status is applied.
func AppleWebhook(svc WebhookService, secret string, errs ErrorWriter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readWebhook(w, r)
		if err != nil {
			badRequest(w, "unable to read body")
			return
		}
		if err := verifyHMAC(body, r.Header.Get(SignatureHeader), secret, "AppleWebhook"); err != nil {
			errs.Write(w, r, err)
			return
		}

		var payload appleWebhookPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			log.Printf("AppleWebhook: unparsed notification (%d bytes)", len(body))
			received(w)
			return
		}

		if payload.SubscriptionID != "" && payload.Status != "" {
			_, err := svc.RecordProviderStatus(r.Context(), payload.SubscriptionID, payload.Status, time.Now().UTC())
			if err != nil {
				log.Printf("AppleWebhook: subscription %s status %s not applied: %v", payload.SubscriptionID, payload.Status, err)
			}
		}
		log.Printf("AppleWebhook: received notification for %q", payload.SubscriptionID)
		received(w)
	}
}

func readWebhook(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
}

// verifyHMAC checks a hex HMAC-SHA256 of body. An empty secret disables the check.
func verifyHMAC(body []byte, signature, secret, source string) error {
	if secret == "" {
		log.Printf("%s: no signing secret configured, accepting unsigned payload", source)
		return nil
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(got) == 0 {
		return errInvalidSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return errInvalidSignature
	}
	return nil
}

// SignBody returns the X-Webhook-Signature value for body.
func SignBody(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

