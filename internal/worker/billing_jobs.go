package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/PortNumber53/subscription-lifecycle/backend/internal/billing"
	"github.com/PortNumber53/subscription-lifecycle/backend/internal/models"
	"github.com/PortNumber53/subscription-lifecycle/backend/internal/notify"
	"github.com/PortNumber53/subscription-lifecycle/backend/internal/store"
)

// ReminderWindow is how far ahead of expiry a renewal reminder is sent.
const ReminderWindow = 7 * 24 * time.Hour

type subscriptionReader interface {
	ListSubscriptions(ctx context.Context, filter models.SubscriptionFilter) ([]models.Subscription, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
}

type pastDueMarker interface {
	MarkPastDue(ctx context.Context, id string, now time.Time) (*models.Subscription, error)
}

type retrier interface {
	DueForRetry(ctx context.Context, now time.Time) ([]models.Subscription, error)
	Retry(ctx context.Context, id string, now time.Time) (billing.RetryResult, error)
}

type notifier interface {
	Send(ctx context.Context, n notify.Notification) error
}

// Jobs holds the lifecycle sweeps. Each sweep isolates per-subscription
// failures: they are logged, counted and the sweep moves on.
type Jobs struct {
	store         subscriptionReader
	subscriptions pastDueMarker
	retries       retrier
	notifier      notifier
	// ledger is optional; without it reminders are at-least-once.
	ledger notify.ReminderLedger
}

func NewJobs(st subscriptionReader, subscriptions pastDueMarker, retries retrier, n notifier, ledger notify.ReminderLedger) *Jobs {
	return &Jobs{store: st, subscriptions: subscriptions, retries: retries, notifier: n, ledger: ledger}
}

// RegisterLifecycleJobs registers the three sweeps on the runner.
func RegisterLifecycleJobs(r *Runner, jobs *Jobs) {
	r.RegisterHandler(models.JobExpirySweep, jobs.ExpirySweep)
	r.RegisterHandler(models.JobRenewalReminders, jobs.RenewalReminders)
	r.RegisterHandler(models.JobPaymentRetry, jobs.RetrySweep)

	log.Printf("[worker] Registered lifecycle jobs: %s, %s, %s",
		models.JobExpirySweep, models.JobRenewalReminders, models.JobPaymentRetry)
}

// ExpirySweep moves active subscriptions whose expiry has passed to past_due.
// It never cancels, and a second run with the same now changes nothing.
func (j *Jobs) ExpirySweep(ctx context.Context, now time.Time) (models.JobSummary, error) {
	summary := models.NewJobSummary(models.JobExpirySweep, now)

	active, err := j.store.ListSubscriptions(ctx, models.SubscriptionFilter{Status: models.SubscriptionActive})
	if err != nil {
		return summary, fmt.Errorf("list active subscriptions: %w", err)
	}

	for _, sub := range active {
		if !sub.ExpiresAt.Before(now) {
			continue
		}
		summary.Candidates++

		if _, err := j.subscriptions.MarkPastDue(ctx, sub.ID, now); err != nil {
			log.Printf("[expiry] Failed to mark subscription %s past due: %v", sub.ID, err)
			summary.Fail(sub.ID, err)
			continue
		}
		summary.Record("past_due")
	}

	return summary, nil
}

// RenewalReminders notifies owners of active subscriptions expiring within
// the reminder window.
func (j *Jobs) RenewalReminders(ctx context.Context, now time.Time) (models.JobSummary, error) {
	summary := models.NewJobSummary(models.JobRenewalReminders, now)

	active, err := j.store.ListSubscriptions(ctx, models.SubscriptionFilter{Status: models.SubscriptionActive})
	if err != nil {
		return summary, fmt.Errorf("list active subscriptions: %w", err)
	}

	for _, sub := range active {
		remaining := sub.ExpiresAt.Sub(now)
		if remaining <= 0 || remaining >= ReminderWindow {
			continue
		}
		summary.Candidates++

		outcome, err := j.remind(ctx, sub)
		if err != nil {
			log.Printf("[reminders] Failed to remind subscription %s: %v", sub.ID, err)
			summary.Fail(sub.ID, err)
			continue
		}
		summary.Record(outcome)
	}

	return summary, nil
}

func (j *Jobs) remind(ctx context.Context, sub models.Subscription) (string, error) {
	user, err := j.store.GetUser(ctx, sub.UserID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && user == nil) {
		log.Printf("[reminders] No owner for subscription %s, skipping", sub.ID)
		return "no_user", nil
	}
	if err != nil {
		return "", fmt.Errorf("load owner %s: %w", sub.UserID, err)
	}

	if j.ledger != nil {
		first, err := j.ledger.MarkReminded(ctx, sub.ID, sub.ExpiresAt)
		if err != nil {
			return "", err
		}
		if !first {
			return "already_sent", nil
		}
	}

	err = j.notifier.Send(ctx, notify.Notification{
		To:       user.Email,
		Template: notify.TemplateRenewalReminder,
		Data: map[string]any{
			"subscriptionId": sub.ID,
			"plan":           string(sub.Plan),
			"expiresAt":      sub.ExpiresAt.Format(time.RFC3339),
		},
	})
	if err != nil {
		// Release the ledger entry so the next sweep tries again.
		if j.ledger != nil {
			if ferr := j.ledger.Forget(ctx, sub.ID, sub.ExpiresAt); ferr != nil {
				log.Printf("[reminders] Failed to release reminder for subscription %s: %v", sub.ID, ferr)
			}
		}
		return "", err
	}
	return "sent", nil
}

// RetrySweep makes one retry attempt for every subscription due at now.
func (j *Jobs) RetrySweep(ctx context.Context, now time.Time) (models.JobSummary, error) {
	summary := models.NewJobSummary(models.JobPaymentRetry, now)

	due, err := j.retries.DueForRetry(ctx, now)
	if err != nil {
		return summary, err
	}
	summary.Candidates = len(due)
	log.Printf("[retry] Found %d subscriptions due for retry", len(due))

	for _, sub := range due {
		result, err := j.retries.Retry(ctx, sub.ID, now)
		if err != nil {
			log.Printf("[retry] Failed to retry payment for subscription %s: %v", sub.ID, err)
			summary.Fail(sub.ID, err)
			continue
		}
		summary.Record(string(result.Outcome))
	}

	return summary, nil
}
