// Package memory is an in-process repository.Store. It applies the same uniqueness and
// conditional-update rules as the Postgres schema and is used by tests and by
// STORAGE_DRIVER=memory.
package memory

import (
	"context"
	"maps"
	"sync"

	"tariff-service/internal/domain/notification"
	"tariff-service/internal/domain/reminder"
	"tariff-service/internal/domain/subscription"
	"tariff-service/internal/domain/tariff"
	"tariff-service/internal/domain/user"
	"tariff-service/internal/repository"
)

type state struct {
	seq int64

	tariffs       map[int64]tariff.Tariff
	overrides     map[int64]tariff.PriceOverride
	categories    map[int64]tariff.Category
	locations     map[int64]tariff.Location
	subscriptions map[int64]subscription.Subscription
	history       map[int64]subscription.HistoryEntry
	reminders     map[int64]reminder.Reminder
	notifications map[int64]notification.Notification
	users         map[int64]user.User
}

func newState() *state {
	return &state{
		tariffs:       map[int64]tariff.Tariff{},
		overrides:     map[int64]tariff.PriceOverride{},
		categories:    map[int64]tariff.Category{},
		locations:     map[int64]tariff.Location{},
		subscriptions: map[int64]subscription.Subscription{},
		history:       map[int64]subscription.HistoryEntry{},
		reminders:     map[int64]reminder.Reminder{},
		notifications: map[int64]notification.Notification{},
		users:         map[int64]user.User{},
	}
}

func (st *state) clone() *state {
	return &state{
		seq:           st.seq,
		tariffs:       maps.Clone(st.tariffs),
		overrides:     maps.Clone(st.overrides),
		categories:    maps.Clone(st.categories),
		locations:     maps.Clone(st.locations),
		subscriptions: maps.Clone(st.subscriptions),
		history:       maps.Clone(st.history),
		reminders:     maps.Clone(st.reminders),
		notifications: maps.Clone(st.notifications),
		users:         maps.Clone(st.users),
	}
}

func (st *state) nextID() int64 {
	st.seq++
	return st.seq
}

// Store keeps all rows in maps guarded by one mutex. Atomic holds the mutex for the whole
// unit of work and works on a copy that replaces the live state only on success.
type Store struct {
	mu     *sync.Mutex
	root   **state
	st     *state
	inTx   bool
	faults *faults
}

func NewStore() *Store {
	st := newState()
	root := &st
	return &Store{mu: &sync.Mutex{}, root: root, faults: newFaults()}
}

// run executes fn against the current state, taking the lock unless already inside Atomic.
func (s *Store) run(op string, fn func(st *state) error) error {
	if err := s.faults.take(op); err != nil {
		return err
	}
	if s.inTx {
		return fn(s.st)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(*s.root)
}

func (s *Store) Atomic(ctx context.Context, fn func(tx repository.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := (*s.root).clone()
	tx := &Store{mu: s.mu, root: s.root, st: work, inTx: true, faults: s.faults}
	if err := fn(tx); err != nil {
		return err
	}
	if err := s.faults.take(OpCommit); err != nil {
		return err
	}
	*s.root = work
	return nil
}

func (s *Store) Tariffs() repository.TariffRepository             { return &tariffRepo{s: s} }
func (s *Store) Subscriptions() repository.SubscriptionRepository { return &subscriptionRepo{s: s} }
func (s *Store) History() repository.HistoryRepository             { return &historyRepo{s: s} }
func (s *Store) Reminders() repository.ReminderRepository          { return &reminderRepo{s: s} }
func (s *Store) Notifications() repository.NotificationRepository  { return &notificationRepo{s: s} }
func (s *Store) Users() repository.UserRepository                  { return &userRepo{s: s} }

var _ repository.Store = (*Store)(nil)

// PutUser registers or replaces a user.
func (s *Store) PutUser(u user.User) {
	_ = s.run("", func(st *state) error {
		st.users[u.ID] = u
		return nil
	})
}

func (s *Store) PutCategory(c tariff.Category) {
	_ = s.run("", func(st *state) error {
		st.categories[c.ID] = c
		return nil
	})
}

func (s *Store) PutLocation(l tariff.Location) {
	_ = s.run("", func(st *state) error {
		st.locations[l.ID] = l
		return nil
	})
}

// Mutate gives tests direct access to a stored subscription, bypassing every rule.
func (s *Store) Mutate(id int64, fn func(sub *subscription.Subscription)) {
	_ = s.run("", func(st *state) error {
		if sub, ok := st.subscriptions[id]; ok {
			fn(&sub)
			st.subscriptions[id] = sub
		}
		return nil
	})
}
