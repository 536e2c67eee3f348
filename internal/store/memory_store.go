package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/PortNumber53/subscription-lifecycle/backend/internal/models"
)

const (
	usersFile         = "users.json"
	subscriptionsFile = "subscriptions.json"
	paymentsFile      = "payments.json"
)

// MemoryStore keeps users, subscriptions and payments in memory. When it is
// backed by a directory every mutation is followed by a flush of the full
// subscription and payment collections; users are never written back.
//
// Reads return copies: a caller mutates its copy and hands it back through
// SaveSubscription.
type MemoryStore struct {
	mu            sync.RWMutex
	dir           string
	users         []models.User
	subscriptions []models.Subscription
	payments      []models.Payment

	// writeFile is swapped in tests to simulate a failing disk.
	writeFile func(name string, data []byte) error
}

// NewMemoryStore returns an empty store that never touches disk.
func NewMemoryStore(users ...models.User) *MemoryStore {
	return &MemoryStore{users: append([]models.User(nil), users...)}
}

// NewFileStore loads the fixture files in dir and flushes back into it.
// Missing subscription or payment files start empty; a missing users file
// is an error.
func NewFileStore(dir string) (*MemoryStore, error) {
	s := &MemoryStore{dir: dir, writeFile: atomicWrite}

	if err := readJSON(filepath.Join(dir, usersFile), &s.users); err != nil {
		return nil, fmt.Errorf("store: load %s: %w", usersFile, err)
	}
	if err := readJSON(filepath.Join(dir, subscriptionsFile), &s.subscriptions); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("store: load %s: %w", subscriptionsFile, err)
	}
	if err := readJSON(filepath.Join(dir, paymentsFile), &s.payments); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("store: load %s: %w", paymentsFile, err)
	}

	log.Printf("[store] loaded fixtures from %s: %d users, %d subscriptions, %d payments",
		dir, len(s.users), len(s.subscriptions), len(s.payments))
	return s, nil
}

// Seed adds records without flushing. It is meant for tests and imports.
func (s *MemoryStore) Seed(subs []models.Subscription, payments []models.Payment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range subs {
		s.subscriptions = append(s.subscriptions, sub.Clone())
	}
	s.payments = append(s.payments, payments...)
}

func (s *MemoryStore) GetSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return nil, ErrNotFound
	}
	sub := s.subscriptions[idx].Clone()
	return &sub, nil
}

func (s *MemoryStore) ListSubscriptions(ctx context.Context, filter models.SubscriptionFilter) ([]models.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Subscription, 0, len(s.subscriptions))
	for _, sub := range s.subscriptions {
		if filter.Matches(sub) {
			out = append(out, sub.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) InsertSubscription(ctx context.Context, sub *models.Subscription) error {
	if sub == nil || sub.ID == "" {
		return errors.New("store: subscription id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexOf(sub.ID) >= 0 {
		return fmt.Errorf("store: subscription %s already exists", sub.ID)
	}
	s.subscriptions = append(s.subscriptions, sub.Clone())
	return s.flushLocked("insert subscription")
}

// SaveSubscription replaces the stored record with sub and flushes.
func (s *MemoryStore) SaveSubscription(ctx context.Context, sub *models.Subscription) error {
	if sub == nil {
		return errors.New("store: subscription cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(sub.ID)
	if idx < 0 {
		return ErrNotFound
	}
	s.subscriptions[idx] = sub.Clone()
	return s.flushLocked("save subscription")
}

func (s *MemoryStore) AppendPayment(ctx context.Context, payment *models.Payment) error {
	if payment == nil || payment.ID == "" {
		return errors.New("store: payment id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.payments = append(s.payments, *payment)
	return s.flushLocked("append payment")
}

// ListPayments returns the payments of a subscription in the order they were appended.
func (s *MemoryStore) ListPayments(ctx context.Context, subscriptionID string) ([]models.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.Payment{}
	for _, p := range s.payments {
		if p.SubscriptionID == subscriptionID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.ID == id {
			user := u
			return &user, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListUsers(ctx context.Context) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := append([]models.User(nil), s.users...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Flush writes the subscription and payment collections to disk.
func (s *MemoryStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked("flush")
}

func (s *MemoryStore) indexOf(id string) int {
	for i := range s.subscriptions {
		if s.subscriptions[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *MemoryStore) flushLocked(op string) error {
	if s.dir == "" {
		return nil
	}

	subs, err := json.MarshalIndent(s.subscriptions, "", "  ")
	if err != nil {
		return persistErr(op, err)
	}
	if err := s.writeFile(filepath.Join(s.dir, subscriptionsFile), subs); err != nil {
		return persistErr(op, err)
	}

	payments, err := json.MarshalIndent(s.payments, "", "  ")
	if err != nil {
		return persistErr(op, err)
	}
	if err := s.writeFile(filepath.Join(s.dir, paymentsFile), payments); err != nil {
		return persistErr(op, err)
	}
	return nil
}

func readJSON(path string, out any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// atomicWrite writes data next to name and renames it into place so readers
// never observe a half-written collection.
func atomicWrite(name string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(name), filepath.Base(name)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), name)
}
