package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PortNumber53/subscription-lifecycle/backend/internal/config"
	"github.com/PortNumber53/subscription-lifecycle/backend/internal/models"
	"github.com/PortNumber53/subscription-lifecycle/backend/internal/payments"
)

func writeFixtures(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	users := `[{"id":"user_1","name":"Ada","email":"ada@example.com","createdAt":"2024-01-01T00:00:00Z"}]`
	subs := `[{"id":"sub_1","userId":"user_1","plan":"premium","status":"active",
		"startedAt":"2024-01-01T00:00:00Z","expiresAt":"2024-02-01T00:00:00Z",
		"paymentProvider":"stripe","retryAttempts":0}]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "users.json"), []byte(users), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "subscriptions.json"), []byte(subs), 0o644))
	return dir
}

func testConfig(dir string) config.Config {
	return config.Config{
		FixturesDir:             dir,
		Currency:                "GBP",
		MaxPaymentRetries:       3,
		ProviderTimeout:         time.Second,
		RenewalReminderSchedule: "0 9 * * *",
		ExpirySweepSchedule:     "0 0 * * *",
		PaymentRetrySchedule:    "0 */6 * * *",
	}
}

func TestNewWiresFileStore(t *testing.T) {
	a, err := New(context.Background(), testConfig(writeFixtures(t)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	for _, name := range []string{payments.ProviderStripe, payments.ProviderPayPal, payments.ProviderApple} {
		assert.True(t, a.Registry.Has(name), name)
	}
	for name := range a.Schedules() {
		assert.True(t, a.Runner.Has(name), name)
	}
	assert.Nil(t, a.Ledger)
}

func TestCloseFlushesFileStore(t *testing.T) {
	dir := writeFixtures(t)
	a, err := New(context.Background(), testConfig(dir))
	require.NoError(t, err)

	paymentsPath := filepath.Join(dir, "payments.json")
	_, err = os.Stat(paymentsPath)
	require.True(t, os.IsNotExist(err), "fixtures start without a payments file")

	require.NoError(t, a.Close())
	assert.FileExists(t, paymentsPath)

	reloaded, err := New(context.Background(), testConfig(dir))
	require.NoError(t, err)
	t.Cleanup(func() { _ = reloaded.Close() })
	_, err = reloaded.Store.GetSubscription(context.Background(), "sub_1")
	require.NoError(t, err)
}

func TestNewMissingFixtures(t *testing.T) {
	_, err := New(context.Background(), testConfig(t.TempDir()))
	require.Error(t, err)
}

func TestExpirySweepFlushesToFixtures(t *testing.T) {
	dir := writeFixtures(t)
	a, err := New(context.Background(), testConfig(dir))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	now := time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)
	summary, err := a.Runner.Run(context.Background(), models.JobExpirySweep, now)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)

	reloaded, err := New(context.Background(), testConfig(dir))
	require.NoError(t, err)
	sub, err := reloaded.Store.GetSubscription(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionPastDue, sub.Status)
}
