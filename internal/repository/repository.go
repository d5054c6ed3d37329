// internal/repository/repository.go
package repository

import (
	"context"
	"time"

	"tariff-service/internal/domain/notification"
	"tariff-service/internal/domain/reminder"
	"tariff-service/internal/domain/subscription"
	"tariff-service/internal/domain/tariff"
	"tariff-service/internal/domain/user"
)

// Store groups the repositories of the service. Atomic runs fn against a Store bound to a
// single transaction; fn's error rolls everything back. Calling Atomic on a Store that is
// already transactional runs fn in the same transaction.
type Store interface {
	Tariffs() TariffRepository
	Subscriptions() SubscriptionRepository
	History() HistoryRepository
	Reminders() ReminderRepository
	Notifications() NotificationRepository
	Users() UserRepository

	Atomic(ctx context.Context, fn func(tx Store) error) error
}

type TariffRepository interface {
	Create(ctx context.Context, t *tariff.Tariff) error
	FindByID(ctx context.Context, id int64) (*tariff.Tariff, error)
	FindByCode(ctx context.Context, code string) (*tariff.Tariff, error)
	List(ctx context.Context, activeOnly bool) ([]tariff.Tariff, error)
	Update(ctx context.Context, t *tariff.Tariff) error
	SetActive(ctx context.Context, id int64, active bool) error
	IsReferenced(ctx context.Context, id int64) (bool, error)

	FindCategory(ctx context.Context, id int64) (*tariff.Category, error)
	FindLocation(ctx context.Context, id int64) (*tariff.Location, error)

	// FindPriceOverride returns the exact (tariff, location, category) row; a nil category
	// matches the location-wide row.
	FindPriceOverride(ctx context.Context, tariffID, locationID int64, categoryID *int64) (*tariff.PriceOverride, error)
	UpsertPriceOverride(ctx context.Context, o *tariff.PriceOverride) error
	DeletePriceOverride(ctx context.Context, tariffID, id int64) error
	ListPriceOverrides(ctx context.Context, tariffID int64) ([]tariff.PriceOverride, error)
}

// ActivationUpdate carries the fields written when a subscription becomes active.
type ActivationUpdate struct {
	From       subscription.Status
	PricePaid  float64
	StartAt    time.Time
	EndAt      time.Time
	ApproverID int64
	ApprovedAt time.Time
	AdminNotes string
}

// ExtensionUpdate moves end_at forward. ExpectEnd is the end_at the caller read; the write
// is skipped when another extension got there first. Clear lists the watermarks to reset.
type ExtensionUpdate struct {
	From       []subscription.Status
	ExpectEnd  time.Time
	AddedPrice float64
	EndAt      time.Time
	Clear      []subscription.Watermark
	ApproverID int64
	ApprovedAt time.Time
	AdminNotes string
}

type SubscriptionRepository interface {
	// Create inserts a row stamped with its CreatedAt; ErrConflict when a unique index
	// rejects it.
	Create(ctx context.Context, s *subscription.Subscription) error
	FindByID(ctx context.Context, id int64) (*subscription.Subscription, error)
	FindOpenByKey(ctx context.Context, key subscription.Key) ([]subscription.Subscription, error)

	// The following are conditional writes: they return false when the row is not in the
	// expected state, and ErrNotFound only when the row does not exist.
	Activate(ctx context.Context, id int64, upd ActivationUpdate) (bool, error)
	Extend(ctx context.Context, id int64, upd ExtensionUpdate) (bool, error)
	TransitionStatus(ctx context.Context, id int64, from []subscription.Status, to subscription.Status, at time.Time) (bool, error)
	Cancel(ctx context.Context, id int64, reason string, at time.Time) (bool, error)
	Expire(ctx context.Context, id int64, at time.Time) (bool, error)
	SetEnabled(ctx context.Context, id int64, enabled bool, at time.Time) (bool, error)
	SetWatermark(ctx context.Context, id int64, w subscription.Watermark, at time.Time) (bool, error)

	// ListForSweep returns rows in {active, extend_pending} and expired rows whose expiry
	// notice has not been claimed yet.
	ListForSweep(ctx context.Context, limit int) ([]subscription.Subscription, error)
	List(ctx context.Context, filters *subscription.ListFilters, now time.Time) ([]subscription.View, int64, error)
	Stats(ctx context.Context, userID *int64) (*subscription.Stats, error)
}

type HistoryRepository interface {
	Create(ctx context.Context, e *subscription.HistoryEntry) error
	List(ctx context.Context, filters *subscription.HistoryFilters) ([]subscription.HistoryEntry, int64, error)
}

type ReminderRepository interface {
	Create(ctx context.Context, r *reminder.Reminder) error
	FindByID(ctx context.Context, id int64) (*reminder.Reminder, error)
	ListByOwner(ctx context.Context, ownerID int64, filters *reminder.ListFilters) ([]reminder.Reminder, int64, error)
	DeleteUnsent(ctx context.Context, ownerID, id int64) (bool, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]reminder.Reminder, error)
	// MarkSent claims the reminder: true only for the caller whose update flipped is_sent.
	MarkSent(ctx context.Context, id int64, at time.Time) (bool, error)
}

type NotificationRepository interface {
	Create(ctx context.Context, n *notification.Notification) error
	ListByIdentity(ctx context.Context, identityID int64, limit int) ([]notification.Notification, error)
}

type UserRepository interface {
	// EnsureUser inserts the account row when it does not exist yet.
	EnsureUser(ctx context.Context, id int64) error
	FindByID(ctx context.Context, id int64) (*user.User, error)
	// MarkTrialUsed flips trial_used from false to true; false means it was already set.
	MarkTrialUsed(ctx context.Context, id int64) (bool, error)
}
