package stripe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78/webhook"
)

const defaultBaseURL = "https://api.stripe.com/v1"

// ErrInvalidSignature is returned when a webhook payload does not carry a
// valid Stripe-Signature for the configured secret.
var ErrInvalidSignature = errors.New("stripe: invalid webhook signature")

// Client wraps the PaymentIntent endpoints of the Stripe REST API.
type Client struct {
	secretKey  string
	httpClient *http.Client
	baseURL    string
}

// PaymentIntentParams describes a confirmed, off-session charge.
type PaymentIntentParams struct {
	Amount         int64
	Currency       string
	PaymentMethod  string
	IdempotencyKey string
	Metadata       map[string]string
}

// PaymentIntent is the subset of the Stripe object the billing service reads.
type PaymentIntent struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount int64  `json:"amount"`
}

// NewClient creates a new Stripe API client.
func NewClient(secretKey string) *Client {
	return &Client{
		secretKey:  secretKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    defaultBaseURL,
	}
}

// WithBaseURL points the client at another API root, e.g. a test server.
func (c *Client) WithBaseURL(base string) *Client {
	c.baseURL = strings.TrimRight(base, "/")
	return c
}

// CreatePaymentIntent creates and confirms a PaymentIntent in one call.
func (c *Client) CreatePaymentIntent(ctx context.Context, params PaymentIntentParams) (*PaymentIntent, error) {
	data := url.Values{}
	data.Set("amount", fmt.Sprintf("%d", params.Amount))
	data.Set("currency", strings.ToLower(params.Currency))
	data.Set("confirm", "true")
	data.Set("off_session", "true")
	if params.PaymentMethod != "" {
		data.Set("payment_method", params.PaymentMethod)
	}
	for k, v := range params.Metadata {
		data.Set("metadata["+k+"]", v)
	}

	var intent PaymentIntent
	if err := c.post(ctx, "/payment_intents", data, params.IdempotencyKey, &intent); err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	if intent.ID == "" {
		return nil, fmt.Errorf("create payment intent: missing id in response")
	}
	return &intent, nil
}

// VerifyWebhookSignature checks the Stripe-Signature header of payload
// against secret, including the timestamp tolerance.
func VerifyWebhookSignature(payload []byte, header, secret string) error {
	if err := webhook.ValidatePayload(payload, header, secret); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

// HTTP helpers

func (c *Client) post(ctx context.Context, path string, data url.Values, idempotencyKey string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(data.Encode()))
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.secretKey, "")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	return c.doRequest(req, out)
}

// APIError is a non-2xx response from Stripe.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("stripe API error (%d, %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("stripe API error (%d): %s", e.StatusCode, e.Message)
}

// Declined reports whether Stripe refused this particular charge, as opposed
// to being unavailable or misconfigured.
func (e *APIError) Declined() bool {
	return e.StatusCode == http.StatusPaymentRequired ||
		(e.StatusCode == http.StatusBadRequest && e.Code != "")
}

func (c *Client) doRequest(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("stripe request failed: %w", err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, resp.Body); err != nil {
		return fmt.Errorf("read stripe response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.Unmarshal(buf.Bytes(), &envelope)
		msg := envelope.Error.Message
		if msg == "" {
			msg = "unknown error"
		}
		return &APIError{StatusCode: resp.StatusCode, Code: envelope.Error.Code, Message: msg}
	}

	if err := json.Unmarshal(buf.Bytes(), out); err != nil {
		return fmt.Errorf("parse stripe response: %w", err)
	}
	return nil
}
