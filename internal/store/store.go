package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PortNumber53/subscription-lifecycle/backend/internal/models"
)

const subscriptionColumns = `id, user_id, plan, status, started_at, expires_at, payment_provider,
  last_payment_status, last_payment_at, retry_attempts, next_retry_at, cancellation_reason,
  created_at, updated_at`

// Store provides Postgres-backed accessors for users, subscriptions and payments.
type Store struct {
	db *sql.DB
}

// New creates a Store using the provided sql.DB connection.
func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	return &Store{db: db}, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (*models.Subscription, error) {
	var (
		sub               models.Subscription
		plan, status      string
		lastPaymentStatus sql.NullString
		lastPaymentAt     sql.NullTime
		nextRetryAt       sql.NullTime
		reason            sql.NullString
	)

	if err := row.Scan(
		&sub.ID,
		&sub.UserID,
		&plan,
		&status,
		&sub.StartedAt,
		&sub.ExpiresAt,
		&sub.PaymentProvider,
		&lastPaymentStatus,
		&lastPaymentAt,
		&sub.RetryAttempts,
		&nextRetryAt,
		&reason,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	); err != nil {
		return nil, err
	}

	sub.Plan = models.Plan(plan)
	sub.Status = models.SubscriptionStatus(status)
	sub.LastPaymentStatus = models.PaymentStatus(lastPaymentStatus.String)
	sub.LastPaymentAt = nullTimePtr(lastPaymentAt)
	sub.NextRetryAt = nullTimePtr(nextRetryAt)
	sub.CancellationReason = nullStringPtr(reason)
	return &sub, nil
}

// GetSubscription returns the subscription with the given id or ErrNotFound.
func (s *Store) GetSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`

	sub, err := scanSubscription(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get subscription: %w", err)
	}
	return sub, nil
}

// ListSubscriptions returns subscriptions matching every non-empty filter field.
func (s *Store) ListSubscriptions(ctx context.Context, filter models.SubscriptionFilter) ([]models.Subscription, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Plan != "" {
		args = append(args, string(filter.Plan))
		clauses = append(clauses, fmt.Sprintf("plan = $%d", len(args)))
	}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		clauses = append(clauses, fmt.Sprintf("user_id = $%d", len(args)))
	}

	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list subscriptions: %w", err)
	}
	defer rows.Close()

	subs := []models.Subscription{}
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate subscriptions: %w", err)
	}
	return subs, nil
}

// InsertSubscription stores a new subscription record.
func (s *Store) InsertSubscription(ctx context.Context, sub *models.Subscription) error {
	if sub == nil {
		return errors.New("store: subscription cannot be nil")
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO subscriptions (`+subscriptionColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		sub.ID,
		sub.UserID,
		string(sub.Plan),
		string(sub.Status),
		sub.StartedAt,
		sub.ExpiresAt,
		sub.PaymentProvider,
		nullableString(string(sub.LastPaymentStatus)),
		sub.LastPaymentAt,
		sub.RetryAttempts,
		sub.NextRetryAt,
		sub.CancellationReason,
		sub.CreatedAt,
		sub.UpdatedAt,
	)
	return persistErr("insert subscription", err)
}

// SaveSubscription writes every mutable field of sub back to its row.
func (s *Store) SaveSubscription(ctx context.Context, sub *models.Subscription) error {
	if sub == nil {
		return errors.New("store: subscription cannot be nil")
	}

	res, err := s.db.ExecContext(ctx, `
UPDATE subscriptions
SET status = $1,
    expires_at = $2,
    last_payment_status = $3,
    last_payment_at = $4,
    retry_attempts = $5,
    next_retry_at = $6,
    cancellation_reason = $7,
    updated_at = $8
WHERE id = $9`,
		string(sub.Status),
		sub.ExpiresAt,
		nullableString(string(sub.LastPaymentStatus)),
		sub.LastPaymentAt,
		sub.RetryAttempts,
		sub.NextRetryAt,
		sub.CancellationReason,
		sub.UpdatedAt,
		sub.ID,
	)
	if err != nil {
		return persistErr("save subscription", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return persistErr("save subscription", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendPayment inserts an immutable payment record.
func (s *Store) AppendPayment(ctx context.Context, payment *models.Payment) error {
	if payment == nil {
		return errors.New("store: payment cannot be nil")
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO payments (id, subscription_id, provider, amount, currency, status, processed_at, transaction_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		payment.ID,
		payment.SubscriptionID,
		payment.Provider,
		payment.Amount,
		payment.Currency,
		string(payment.Status),
		payment.ProcessedAt,
		nullableString(payment.TransactionID),
	)
	return persistErr("append payment", err)
}

// ListPayments returns payments for a subscription in insertion order.
func (s *Store) ListPayments(ctx context.Context, subscriptionID string) ([]models.Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, subscription_id, provider, amount, currency, status, processed_at, transaction_id
FROM payments
WHERE subscription_id = $1
ORDER BY seq ASC`, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("store: list payments: %w", err)
	}
	defer rows.Close()

	payments := []models.Payment{}
	for rows.Next() {
		var (
			p      models.Payment
			status string
			txID   sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.SubscriptionID, &p.Provider, &p.Amount, &p.Currency, &status, &p.ProcessedAt, &txID); err != nil {
			return nil, fmt.Errorf("store: scan payment: %w", err)
		}
		p.Status = models.PaymentStatus(status)
		p.TransactionID = txID.String
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate payments: %w", err)
	}
	return payments, nil
}

// GetUser returns the user with the given id or ErrNotFound.
func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	var (
		user   models.User
		tier   sql.NullString
		region sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
SELECT id, name, email, subscription_tier, region, created_at
FROM users
WHERE id = $1`, id).Scan(&user.ID, &user.Name, &user.Email, &tier, &region, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get user: %w", err)
	}
	user.SubscriptionTier = tier.String
	user.Region = region.String
	return &user, nil
}

// ListUsers returns every user ordered by creation time descending.
func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, name, email, subscription_tier, region, created_at
FROM users
ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list users: %w", err)
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		var (
			user   models.User
			tier   sql.NullString
			region sql.NullString
		)
		if err := rows.Scan(&user.ID, &user.Name, &user.Email, &tier, &region, &user.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan user: %w", err)
		}
		user.SubscriptionTier = tier.String
		user.Region = region.String
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate users: %w", err)
	}
	return users, nil
}

// ImportUser upserts a user. Users are read-only for the service; this is
// only used by the fixture import in cmd/dbtool.
func (s *Store) ImportUser(ctx context.Context, user models.User) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO users (id, name, email, subscription_tier, region, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE
SET name = EXCLUDED.name,
    email = EXCLUDED.email,
    subscription_tier = EXCLUDED.subscription_tier,
    region = EXCLUDED.region`,
		user.ID, user.Name, user.Email, nullableString(user.SubscriptionTier), nullableString(user.Region), user.CreatedAt,
	)
	return persistErr("import user", err)
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := value.String
	return &v
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time
	return &t
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
