// Package notify dispatches customer notifications and tracks which renewal
// reminders have already been sent.
package notify

import (
	"context"
	"log"
)

// Templates sent by the lifecycle jobs.
const (
	TemplateRenewalReminder      = "renewalReminder"
	TemplateSubscriptionCanceled = "subscriptionCanceled"
)

// Notification is one templated message to a single recipient.
type Notification struct {
	To       string         `json:"to"`
	Template string         `json:"template"`
	Data     map[string]any `json:"data,omitempty"`
}

// Notifier delivers notifications. Delivery is best effort: callers log an
// error and carry on.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// LogNotifier writes every notification to the process log.
type LogNotifier struct{}

func (LogNotifier) Send(ctx context.Context, n Notification) error {
	log.Printf("[notify] dispatched %s to %s data=%v", n.Template, n.To, n.Data)
	return nil
}
