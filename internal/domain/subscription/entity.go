// internal/domain/subscription/entity.go
package subscription

import (
	"database/sql"
	"time"
)

type Status string

const (
	StatusPending       Status = "pending"
	StatusActive        Status = "active"
	StatusExtendPending Status = "extend_pending"
	StatusCancelled     Status = "cancelled"
	StatusExpired       Status = "expired"
)

// OpenStatuses are the non-terminal states covered by the per-key uniqueness rule.
var OpenStatuses = []Status{StatusPending, StatusActive, StatusExtendPending}

func (s Status) IsTerminal() bool {
	return s == StatusCancelled || s == StatusExpired
}

func (s Status) IsOpen() bool {
	return !s.IsTerminal()
}

// IsLive reports whether the subscription has started and not yet ended.
func (s Status) IsLive() bool {
	return s == StatusActive || s == StatusExtendPending
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusExtendPending, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

type Subscription struct {
	ID         int64  `json:"id" db:"id"`
	Reference  string `json:"reference" db:"reference"`
	UserID     int64  `json:"user_id" db:"user_id"`
	TariffID   int64  `json:"tariff_id" db:"tariff_id"`
	CategoryID int64  `json:"category_id" db:"category_id"`
	LocationID int64  `json:"location_id" db:"location_id"`
	IsDemo     bool   `json:"is_demo" db:"is_demo"`

	PricePaid float64 `json:"price_paid" db:"price_paid"`
	Status    Status  `json:"status" db:"status"`
	Enabled   bool    `json:"enabled" db:"enabled"`

	// Both null while pending, set together at activation.
	StartAt sql.NullTime `json:"start_at" db:"start_at"`
	EndAt   sql.NullTime `json:"end_at" db:"end_at"`

	ApproverID sql.NullInt64 `json:"approver_id,omitempty" db:"approver_id"`
	ApprovedAt sql.NullTime  `json:"approved_at,omitempty" db:"approved_at"`

	Watermarks Watermarks `json:"watermarks"`

	AdminNotes   sql.NullString `json:"admin_notes,omitempty" db:"admin_notes"`
	CancelReason sql.NullString `json:"cancel_reason,omitempty" db:"cancel_reason"`
	CancelledAt  sql.NullTime   `json:"cancelled_at,omitempty" db:"cancelled_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Key identifies the (user, category, location) slot a subscription occupies.
type Key struct {
	UserID     int64
	CategoryID int64
	LocationID int64
}

func (s *Subscription) Key() Key {
	return Key{UserID: s.UserID, CategoryID: s.CategoryID, LocationID: s.LocationID}
}

// HoldsSlot reports whether the subscription occupies its key's open slot. A started
// demo steps aside for one paid request, which cancels it on activation.
func (s *Subscription) HoldsSlot() bool {
	return s.Status.IsOpen() && !(s.IsDemo && s.Status.IsLive())
}

// RemainingSeconds is max(0, end_at - now) for active subscriptions and 0 otherwise.
func (s *Subscription) RemainingSeconds(now time.Time) int64 {
	if s.Status != StatusActive || !s.EndAt.Valid {
		return 0
	}
	left := s.EndAt.Time.Sub(now)
	if left <= 0 {
		return 0
	}
	return int64(left / time.Second)
}

// HasAccess is the rule the listing access check applies.
func (s *Subscription) HasAccess(now time.Time) bool {
	return s.Status == StatusActive && s.Enabled && s.EndAt.Valid && s.EndAt.Time.After(now)
}

// DaysLeft is the whole number of days until end_at, never negative.
func (s *Subscription) DaysLeft(now time.Time) int {
	if !s.EndAt.Valid {
		return 0
	}
	left := s.EndAt.Time.Sub(now)
	if left <= 0 {
		return 0
	}
	return int(left / (24 * time.Hour))
}

type Action string

const (
	ActionCreated         Action = "created"
	ActionRequested       Action = "requested"
	ActionActivated       Action = "activated"
	ActionExtended        Action = "extended"
	ActionExtendRequested Action = "extend_requested"
	ActionCancelled       Action = "cancelled"
	ActionExpired         Action = "expired"
)

// HistoryEntry is an immutable audit row. Names are copied at write time so the trail
// stays readable after tariffs, categories or locations change.
type HistoryEntry struct {
	ID             int64          `json:"id" db:"id"`
	SubscriptionID int64          `json:"subscription_id" db:"subscription_id"`
	UserID         int64          `json:"user_id" db:"user_id"`
	TariffName     string         `json:"tariff_name" db:"tariff_name"`
	CategoryName   string         `json:"category_name" db:"category_name"`
	LocationName   string         `json:"location_name" db:"location_name"`
	PricePaid      float64        `json:"price_paid" db:"price_paid"`
	PaymentMethod  sql.NullString `json:"payment_method,omitempty" db:"payment_method"`
	Action         Action         `json:"action" db:"action"`
	ActionAt       time.Time      `json:"action_at" db:"action_at"`
	ActorID        sql.NullInt64  `json:"actor_id,omitempty" db:"actor_id"`
	Notes          sql.NullString `json:"notes,omitempty" db:"notes"`
}

type Stats struct {
	Total         int64   `json:"total"`
	Pending       int64   `json:"pending"`
	Active        int64   `json:"active"`
	ExtendPending int64   `json:"extend_pending"`
	Expired       int64   `json:"expired"`
	Cancelled     int64   `json:"cancelled"`
	Revenue       float64 `json:"revenue"`
}
