package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/PortNumber53/subscription-lifecycle/backend/internal/billing"
	"github.com/PortNumber53/subscription-lifecycle/backend/internal/models"
	"github.com/PortNumber53/subscription-lifecycle/backend/internal/notify"
	"github.com/PortNumber53/subscription-lifecycle/backend/internal/payments"
	"github.com/PortNumber53/subscription-lifecycle/backend/internal/store"
)

var sweepNow = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

type capturingNotifier struct {
	sent []notify.Notification
	err  error
}

func (n *capturingNotifier) Send(ctx context.Context, msg notify.Notification) error {
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, msg)
	return nil
}

func activeSub(id string, expiresAt time.Time) models.Subscription {
	return models.Subscription{
		ID:              id,
		UserID:          "user_1",
		Plan:            models.PlanBasic,
		Status:          models.SubscriptionActive,
		StartedAt:       expiresAt.AddDate(0, -1, 0),
		ExpiresAt:       expiresAt,
		PaymentProvider: payments.ProviderStripe,
	}
}

func newLifecycle(t *testing.T, subs ...models.Subscription) (*Jobs, *store.MemoryStore, *capturingNotifier) {
	t.Helper()
	st := store.NewMemoryStore(models.User{ID: "user_1", Email: "ada@example.com"})
	st.Seed(subs, nil)

	registry := payments.NewRegistry(payments.RegistryConfig{})
	for _, name := range []string{payments.ProviderStripe, payments.ProviderPayPal, payments.ProviderApple} {
		registry.Register(payments.NewSandboxProvider(name))
	}

	n := &capturingNotifier{}
	paymentSvc := billing.NewPaymentService(st, registry, "GBP")
	jobs := NewJobs(
		st,
		billing.NewSubscriptionService(st, registry),
		billing.NewRetryService(st, paymentSvc, n, 3),
		n,
		nil,
	)
	return jobs, st, n
}

func TestExpirySweepMarksPastDueAndIsIdempotent(t *testing.T) {
	jobs, st, _ := newLifecycle(t,
		activeSub("expired", sweepNow.Add(-time.Hour)),
		activeSub("current", sweepNow.Add(time.Hour)),
	)

	summary, err := jobs.ExpirySweep(context.Background(), sweepNow)
	if err != nil {
		t.Fatalf("ExpirySweep returned error: %v", err)
	}
	if summary.Candidates != 1 || summary.Succeeded != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	expired, _ := st.GetSubscription(context.Background(), "expired")
	if expired.Status != models.SubscriptionPastDue {
		t.Fatalf("expected past_due, got %s", expired.Status)
	}
	if !expired.DueForRetry(sweepNow) {
		t.Fatal("expected newly past-due subscription to be due for retry")
	}
	current, _ := st.GetSubscription(context.Background(), "current")
	if current.Status != models.SubscriptionActive {
		t.Fatalf("expected unexpired subscription untouched, got %s", current.Status)
	}

	again, err := jobs.ExpirySweep(context.Background(), sweepNow)
	if err != nil {
		t.Fatalf("second ExpirySweep returned error: %v", err)
	}
	if again.Candidates != 0 {
		t.Fatalf("expected second run to change nothing, got %+v", again)
	}
}

type flakyMarker struct {
	failID string
	marked []string
}

func (m *flakyMarker) MarkPastDue(ctx context.Context, id string, now time.Time) (*models.Subscription, error) {
	if id == m.failID {
		return nil, errors.New("disk full")
	}
	m.marked = append(m.marked, id)
	return &models.Subscription{ID: id}, nil
}

func TestExpirySweepIsolatesFailures(t *testing.T) {
	st := store.NewMemoryStore()
	st.Seed([]models.Subscription{
		activeSub("a", sweepNow.Add(-time.Hour)),
		activeSub("b", sweepNow.Add(-time.Hour)),
		activeSub("c", sweepNow.Add(-time.Hour)),
	}, nil)
	marker := &flakyMarker{failID: "b"}
	jobs := NewJobs(st, marker, nil, &capturingNotifier{}, nil)

	summary, err := jobs.ExpirySweep(context.Background(), sweepNow)
	if err != nil {
		t.Fatalf("ExpirySweep returned error: %v", err)
	}
	if summary.Candidates != 3 || summary.Succeeded != 2 || summary.Failed != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(marker.marked) != 2 || marker.marked[0] != "a" || marker.marked[1] != "c" {
		t.Fatalf("expected a and c processed, got %v", marker.marked)
	}
	if len(summary.Errors) != 1 {
		t.Fatalf("expected one error entry, got %v", summary.Errors)
	}
}

func TestRenewalRemindersWindow(t *testing.T) {
	orphan := activeSub("orphan", sweepNow.Add(24*time.Hour))
	orphan.UserID = "ghost"

	jobs, _, n := newLifecycle(t,
		activeSub("soon", sweepNow.Add(3*24*time.Hour)),
		activeSub("edge", sweepNow.Add(7*24*time.Hour)),
		activeSub("past", sweepNow.Add(-time.Minute)),
		orphan,
	)

	summary, err := jobs.RenewalReminders(context.Background(), sweepNow)
	if err != nil {
		t.Fatalf("RenewalReminders returned error: %v", err)
	}
	if summary.Candidates != 2 {
		t.Fatalf("expected 2 candidates in window, got %+v", summary)
	}
	if summary.Outcomes["sent"] != 1 || summary.Outcomes["no_user"] != 1 {
		t.Fatalf("unexpected outcomes: %v", summary.Outcomes)
	}
	if len(n.sent) != 1 || n.sent[0].Template != notify.TemplateRenewalReminder || n.sent[0].To != "ada@example.com" {
		t.Fatalf("unexpected notifications: %+v", n.sent)
	}
}

func TestRenewalRemindersDeduplicateWithLedger(t *testing.T) {
	jobs, _, n := newLifecycle(t, activeSub("soon", sweepNow.Add(48*time.Hour)))
	jobs.ledger = notify.NewMemoryLedger()

	for i := 0; i < 2; i++ {
		if _, err := jobs.RenewalReminders(context.Background(), sweepNow.Add(time.Duration(i)*time.Hour)); err != nil {
			t.Fatalf("run %d returned error: %v", i, err)
		}
	}
	if len(n.sent) != 1 {
		t.Fatalf("expected a single reminder with a ledger, got %d", len(n.sent))
	}
}

func TestRenewalRemindersCountDeliveryFailures(t *testing.T) {
	jobs, _, n := newLifecycle(t, activeSub("soon", sweepNow.Add(48*time.Hour)))
	n.err = errors.New("broker unavailable")

	summary, err := jobs.RenewalReminders(context.Background(), sweepNow)
	if err != nil {
		t.Fatalf("RenewalReminders returned error: %v", err)
	}
	if summary.Failed != 1 || summary.Succeeded != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestRenewalRemindersRetryAfterDeliveryFailure(t *testing.T) {
	jobs, _, n := newLifecycle(t, activeSub("soon", sweepNow.Add(48*time.Hour)))
	jobs.ledger = notify.NewMemoryLedger()
	n.err = errors.New("broker unavailable")

	first, err := jobs.RenewalReminders(context.Background(), sweepNow)
	if err != nil {
		t.Fatalf("first run returned error: %v", err)
	}
	if first.Failed != 1 {
		t.Fatalf("expected the failed delivery to be counted, got %+v", first)
	}

	n.err = nil
	second, err := jobs.RenewalReminders(context.Background(), sweepNow.Add(time.Hour))
	if err != nil {
		t.Fatalf("second run returned error: %v", err)
	}
	if second.Outcomes["sent"] != 1 || len(n.sent) != 1 {
		t.Fatalf("expected the reminder to be delivered on the next run, got %v (%d sent)", second.Outcomes, len(n.sent))
	}
}

// flakyUsers fails owner lookups with a non-lookup error.
type flakyUsers struct {
	*store.MemoryStore
	err error
}

func (f flakyUsers) GetUser(ctx context.Context, id string) (*models.User, error) {
	return nil, f.err
}

func TestRenewalRemindersCountOwnerLookupErrors(t *testing.T) {
	jobs, st, n := newLifecycle(t, activeSub("soon", sweepNow.Add(48*time.Hour)))
	jobs.store = flakyUsers{MemoryStore: st, err: errors.New("connection reset")}

	summary, err := jobs.RenewalReminders(context.Background(), sweepNow)
	if err != nil {
		t.Fatalf("RenewalReminders returned error: %v", err)
	}
	if summary.Failed != 1 || summary.Outcomes["no_user"] != 0 {
		t.Fatalf("expected a failure rather than no_user, got %+v", summary)
	}
	if len(n.sent) != 0 {
		t.Fatalf("expected no notifications, got %d", len(n.sent))
	}
}

func TestRetrySweepRecoversDueSubscriptions(t *testing.T) {
	due := sweepNow.Add(-time.Minute)
	later := sweepNow.Add(time.Hour)

	recover := activeSub("recover", sweepNow.Add(-24*time.Hour))
	recover.Status = models.SubscriptionPastDue
	recover.NextRetryAt = &due

	waiting := activeSub("waiting", sweepNow.Add(-24*time.Hour))
	waiting.Status = models.SubscriptionPastDue
	waiting.NextRetryAt = &later

	exhausted := activeSub("exhausted", sweepNow.Add(24*time.Hour))
	exhausted.Status = models.SubscriptionPastDue
	exhausted.RetryAttempts = 3
	exhausted.NextRetryAt = &due

	jobs, st, n := newLifecycle(t, recover, waiting, exhausted)

	summary, err := jobs.RetrySweep(context.Background(), sweepNow)
	if err != nil {
		t.Fatalf("RetrySweep returned error: %v", err)
	}
	if summary.Candidates != 2 {
		t.Fatalf("expected 2 due subscriptions, got %+v", summary)
	}
	if summary.Outcomes[string(billing.RetrySucceeded)] != 1 || summary.Outcomes[string(billing.RetryCanceled)] != 1 {
		t.Fatalf("unexpected outcomes: %v", summary.Outcomes)
	}

	got, _ := st.GetSubscription(context.Background(), "recover")
	if got.Status != models.SubscriptionActive || got.RetryAttempts != 0 {
		t.Fatalf("expected recovered subscription active with 0 attempts, got %s/%d", got.Status, got.RetryAttempts)
	}
	got, _ = st.GetSubscription(context.Background(), "exhausted")
	if got.Status != models.SubscriptionCanceled {
		t.Fatalf("expected exhausted subscription canceled, got %s", got.Status)
	}
	got, _ = st.GetSubscription(context.Background(), "waiting")
	if got.Status != models.SubscriptionPastDue {
		t.Fatalf("expected waiting subscription untouched, got %s", got.Status)
	}
	if len(n.sent) != 1 || n.sent[0].Template != notify.TemplateSubscriptionCanceled {
		t.Fatalf("expected one cancellation notice, got %+v", n.sent)
	}
}

type erroringRetrier struct {
	due []models.Subscription
}

func (r erroringRetrier) DueForRetry(ctx context.Context, now time.Time) ([]models.Subscription, error) {
	return r.due, nil
}

func (r erroringRetrier) Retry(ctx context.Context, id string, now time.Time) (billing.RetryResult, error) {
	if id == "broken" {
		return billing.RetryResult{}, payments.ErrProviderUnavailable
	}
	return billing.RetryResult{SubscriptionID: id, Outcome: billing.RetryFailed}, nil
}

func TestRetrySweepIsolatesFailures(t *testing.T) {
	jobs := NewJobs(store.NewMemoryStore(), nil, erroringRetrier{due: []models.Subscription{{ID: "broken"}, {ID: "ok"}}}, &capturingNotifier{}, nil)

	summary, err := jobs.RetrySweep(context.Background(), sweepNow)
	if err != nil {
		t.Fatalf("RetrySweep returned error: %v", err)
	}
	if summary.Failed != 1 || summary.Outcomes[string(billing.RetryFailed)] != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}
