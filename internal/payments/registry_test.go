package payments

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PortNumber53/subscription-lifecycle/backend/internal/models"
	"github.com/PortNumber53/subscription-lifecycle/backend/internal/stripe"
)

// fakeProvider reports a configured outcome after an optional delay.
type fakeProvider struct {
	name    string
	latency time.Duration
	outcome Outcome
	err     error
	calls   atomic.Int32
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Charge(ctx context.Context, req ChargeRequest) (Outcome, error) {
	f.calls.Add(1)
	if f.latency > 0 {
		time.Sleep(f.latency)
	}
	return f.outcome, f.err
}

func TestChargeUnknownProvider(t *testing.T) {
	r := NewRegistry(RegistryConfig{})
	_, err := r.Charge(context.Background(), "bitcoin", ChargeRequest{Amount: 100})
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestChargePassesOutcomeThrough(t *testing.T) {
	r := NewRegistry(RegistryConfig{})
	r.Register(&fakeProvider{name: "paypal", outcome: Outcome{Status: models.PaymentPending, TransactionID: "tx_1"}})

	outcome, err := r.Charge(context.Background(), "paypal", ChargeRequest{Amount: 100})
	if err != nil {
		t.Fatalf("Charge returned error: %v", err)
	}
	if outcome.Status != models.PaymentPending || outcome.TransactionID != "tx_1" {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
}

func TestChargeTimeoutBecomesFailed(t *testing.T) {
	r := NewRegistry(RegistryConfig{Timeout: 20 * time.Millisecond})
	r.Register(&fakeProvider{name: "slow", latency: 500 * time.Millisecond, outcome: Outcome{Status: models.PaymentSucceeded}})

	start := time.Now()
	outcome, err := r.Charge(context.Background(), "slow", ChargeRequest{Amount: 100})
	if err != nil {
		t.Fatalf("Charge returned error: %v", err)
	}
	if outcome.Status != models.PaymentFailed {
		t.Fatalf("expected failed outcome on timeout, got %s", outcome.Status)
	}
	if elapsed := time.Since(start); elapsed > 250*time.Millisecond {
		t.Fatalf("charge was not bounded by the timeout: %s", elapsed)
	}
}

func TestBreakerOpensAfterConsecutiveErrors(t *testing.T) {
	r := NewRegistry(RegistryConfig{FailureThreshold: 2, OpenTimeout: time.Minute})
	fake := &fakeProvider{name: "flaky", err: errors.New("connection refused")}
	r.Register(fake)

	for i := 0; i < 4; i++ {
		outcome, err := r.Charge(context.Background(), "flaky", ChargeRequest{Amount: 100})
		if err != nil {
			t.Fatalf("Charge returned error: %v", err)
		}
		if outcome.Status != models.PaymentFailed {
			t.Fatalf("expected failed outcome, got %s", outcome.Status)
		}
	}
	if got := fake.calls.Load(); got != 2 {
		t.Fatalf("expected breaker to stop calls after 2 failures, provider saw %d", got)
	}
}

func TestSandboxOutcomes(t *testing.T) {
	for name, want := range map[string]models.PaymentStatus{
		ProviderStripe: models.PaymentSucceeded,
		ProviderPayPal: models.PaymentSucceeded,
		ProviderApple:  models.PaymentPending,
	} {
		outcome, err := NewSandboxProvider(name).Charge(context.Background(), ChargeRequest{Amount: 1500})
		if err != nil {
			t.Fatalf("%s: Charge returned error: %v", name, err)
		}
		if outcome.Status != want {
			t.Fatalf("%s: expected %s, got %s", name, want, outcome.Status)
		}
		if len(outcome.TransactionID) <= len(name)+1 || outcome.TransactionID[:len(name)+1] != name+"_" {
			t.Fatalf("%s: unexpected transaction id %q", name, outcome.TransactionID)
		}
	}
}

type stubIntents struct {
	status string
	params stripe.PaymentIntentParams
	// errs are returned in order before falling back to status.
	errs  []error
	calls int
}

func (s *stubIntents) CreatePaymentIntent(ctx context.Context, params stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	s.params = params
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return nil, err
	}
	return &stripe.PaymentIntent{ID: "pi_1", Status: s.status}, nil
}

func TestStripeProviderMapsIntentStatus(t *testing.T) {
	cases := map[string]models.PaymentStatus{
		"succeeded":               models.PaymentSucceeded,
		"processing":              models.PaymentPending,
		"requires_action":         models.PaymentPending,
		"requires_payment_method": models.PaymentFailed,
		"canceled":                models.PaymentFailed,
	}
	for status, want := range cases {
		stub := &stubIntents{status: status}
		p := NewStripeProvider(stub, "pm_card_visa")
		outcome, err := p.Charge(context.Background(), ChargeRequest{SubscriptionID: "sub_1", PaymentID: "pay_1", Amount: 2500, Currency: "GBP"})
		if err != nil {
			t.Fatalf("%s: Charge returned error: %v", status, err)
		}
		if outcome.Status != want {
			t.Fatalf("%s: expected %s, got %s", status, want, outcome.Status)
		}
		if stub.params.IdempotencyKey != "pay_1" || stub.params.PaymentMethod != "pm_card_visa" {
			t.Fatalf("unexpected params: %+v", stub.params)
		}
	}
}

func TestStripeDeclinesDoNotOpenBreaker(t *testing.T) {
	decline := &stripe.APIError{StatusCode: 402, Code: "card_declined", Message: "Your card was declined."}
	stub := &stubIntents{status: "succeeded"}
	for i := 0; i < 5; i++ {
		stub.errs = append(stub.errs, decline)
	}

	r := NewRegistry(RegistryConfig{FailureThreshold: 5, OpenTimeout: time.Minute})
	r.Register(NewStripeProvider(stub, "pm_card_visa"))

	for i := 0; i < 5; i++ {
		outcome, err := r.Charge(context.Background(), ProviderStripe, ChargeRequest{SubscriptionID: "sub_1", Amount: 100})
		if err != nil {
			t.Fatalf("Charge %d returned error: %v", i, err)
		}
		if outcome.Status != models.PaymentFailed {
			t.Fatalf("Charge %d: expected failed outcome for decline, got %s", i, outcome.Status)
		}
	}

	outcome, err := r.Charge(context.Background(), ProviderStripe, ChargeRequest{SubscriptionID: "sub_2", Amount: 100})
	if err != nil {
		t.Fatalf("Charge returned error: %v", err)
	}
	if outcome.Status != models.PaymentSucceeded || stub.calls != 6 {
		t.Fatalf("expected the sixth charge to reach Stripe and succeed, got %s after %d calls", outcome.Status, stub.calls)
	}
}

func TestStripeOutagesStillOpenBreaker(t *testing.T) {
	outage := &stripe.APIError{StatusCode: 503, Message: "service unavailable"}
	stub := &stubIntents{status: "succeeded", errs: []error{outage, outage, outage}}

	r := NewRegistry(RegistryConfig{FailureThreshold: 2, OpenTimeout: time.Minute})
	r.Register(NewStripeProvider(stub, "pm_card_visa"))

	for i := 0; i < 3; i++ {
		if _, err := r.Charge(context.Background(), ProviderStripe, ChargeRequest{SubscriptionID: "sub_1", Amount: 100}); err != nil {
			t.Fatalf("Charge returned error: %v", err)
		}
	}
	if stub.calls != 2 {
		t.Fatalf("expected breaker to open after 2 outages, Stripe saw %d calls", stub.calls)
	}
}
