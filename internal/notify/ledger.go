package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReminderTTL covers the whole seven-day reminder window plus a day of slack.
const ReminderTTL = 8 * 24 * time.Hour

// ReminderLedger remembers which subscription expiries have been reminded.
type ReminderLedger interface {
	// MarkReminded records a reminder for the subscription's current expiry.
	// It returns false when one was already recorded.
	MarkReminded(ctx context.Context, subscriptionID string, expiresAt time.Time) (bool, error)
	// Forget drops a recorded reminder so a failed delivery can be retried.
	Forget(ctx context.Context, subscriptionID string, expiresAt time.Time) error
}

func reminderKey(subscriptionID string, expiresAt time.Time) string {
	return fmt.Sprintf("renewal-reminder:%s:%s", subscriptionID, expiresAt.UTC().Format("2006-01-02"))
}

// MemoryLedger is a process-local ledger. Entries never expire.
type MemoryLedger struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{seen: make(map[string]struct{})}
}

func (l *MemoryLedger) MarkReminded(ctx context.Context, subscriptionID string, expiresAt time.Time) (bool, error) {
	key := reminderKey(subscriptionID, expiresAt)

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[key]; ok {
		return false, nil
	}
	l.seen[key] = struct{}{}
	return true, nil
}

func (l *MemoryLedger) Forget(ctx context.Context, subscriptionID string, expiresAt time.Time) error {
	l.mu.Lock()
	delete(l.seen, reminderKey(subscriptionID, expiresAt))
	l.mu.Unlock()
	return nil
}

// RedisLedger shares reminder state between processes with SETNX.
type RedisLedger struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedisLedger(client redis.Cmdable) *RedisLedger {
	return &RedisLedger{client: client, ttl: ReminderTTL}
}

func (l *RedisLedger) MarkReminded(ctx context.Context, subscriptionID string, expiresAt time.Time) (bool, error) {
	ok, err := l.client.SetNX(ctx, reminderKey(subscriptionID, expiresAt), time.Now().UTC().Format(time.RFC3339), l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("notify: record reminder: %w", err)
	}
	return ok, nil
}

func (l *RedisLedger) Forget(ctx context.Context, subscriptionID string, expiresAt time.Time) error {
	if err := l.client.Del(ctx, reminderKey(subscriptionID, expiresAt)).Err(); err != nil {
		return fmt.Errorf("notify: forget reminder: %w", err)
	}
	return nil
}
