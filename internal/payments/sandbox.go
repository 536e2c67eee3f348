package payments

import (
	"context"
	"log"

	"github.com/google/uuid"

	"github.com/PortNumber53/subscription-lifecycle/backend/internal/models"
)

// SandboxProvider returns a fixed outcome for every charge. It stands in for
// providers that have no live integration configured.
type SandboxProvider struct {
	name   string
	status models.PaymentStatus
}

// NewSandboxProvider returns a sandbox for name. Apple receipts are validated
// asynchronously, so the apple sandbox always reports pending.
func NewSandboxProvider(name string) *SandboxProvider {
	status := models.PaymentSucceeded
	if name == ProviderApple {
		status = models.PaymentPending
	}
	return &SandboxProvider{name: name, status: status}
}

func (p *SandboxProvider) Name() string { return p.name }

func (p *SandboxProvider) Charge(ctx context.Context, req ChargeRequest) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	log.Printf("[payments] %s sandbox charged %d %s for subscription %s", p.name, req.Amount, req.Currency, req.SubscriptionID)
	return Outcome{
		Status:        p.status,
		TransactionID: p.name + "_" + uuid.NewString(),
	}, nil
}
