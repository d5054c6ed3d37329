// internal/domain/subscription/dto.go
package subscription

import "time"

type RequestSubscriptionRequest struct {
	TariffID    int64   `json:"tariff_id" binding:"required"`
	LocationID  int64   `json:"location_id" binding:"required"`
	CategoryID  int64   `json:"category_id"`
	CategoryIDs []int64 `json:"category_ids"`
}

// Categories returns the requested categories, single or batch.
func (r *RequestSubscriptionRequest) Categories() []int64 {
	if len(r.CategoryIDs) > 0 {
		return r.CategoryIDs
	}
	if r.CategoryID != 0 {
		return []int64{r.CategoryID}
	}
	return nil
}

type ActivateParams struct {
	PaymentMethod         string `json:"payment_method"`
	Notes                 string `json:"notes"`
	DurationOverrideHours *int   `json:"duration_override_hours" binding:"omitempty,min=1"`
}

type ActivateManyRequest struct {
	IDs []int64 `json:"ids" binding:"required,min=1"`
	ActivateParams
}

type ExtendParams struct {
	NewPrice              *float64 `json:"new_price" binding:"omitempty,min=0"`
	PaymentMethod         string   `json:"payment_method"`
	Notes                 string   `json:"notes"`
	DurationOverrideHours *int     `json:"duration_override_hours" binding:"omitempty,min=1"`
}

type GrantRequest struct {
	UserID     int64 `json:"user_id" binding:"required"`
	TariffID   int64 `json:"tariff_id" binding:"required"`
	CategoryID int64 `json:"category_id" binding:"required"`
	LocationID int64 `json:"location_id" binding:"required"`
	ActivateParams
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

type ToggleRequest struct {
	Enabled bool `json:"enabled"`
}

type ListFilters struct {
	UserID      *int64     `form:"user_id"`
	Status      []Status   `form:"status"`
	TariffID    *int64     `form:"tariff_id"`
	CategoryID  *int64     `form:"category_id"`
	LocationID  *int64     `form:"location_id"`
	From        *time.Time `form:"from" time_format:"2006-01-02"`
	To          *time.Time `form:"to" time_format:"2006-01-02"`
	DaysLeftMin *int       `form:"days_left_min"`
	DaysLeftMax *int       `form:"days_left_max"`
	Page        int        `form:"page"`
	PageSize    int        `form:"page_size"`
	SortBy      string     `form:"sort_by"`
	SortOrder   string     `form:"sort_order" binding:"omitempty,oneof=asc desc"`
}

// Sortable columns; days_left is derived from end_at.
const (
	SortCreatedAt = "created_at"
	SortEndAt     = "end_at"
	SortDaysLeft  = "days_left"
	SortPricePaid = "price_paid"
)

func (f *ListFilters) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = 20
	}
	if f.PageSize > 100 {
		f.PageSize = 100
	}
	switch f.SortBy {
	case SortCreatedAt, SortEndAt, SortDaysLeft, SortPricePaid:
	default:
		f.SortBy = SortCreatedAt
	}
	if f.SortOrder != "asc" {
		f.SortOrder = "desc"
	}
}

type HistoryFilters struct {
	UserID         *int64     `form:"user_id"`
	SubscriptionID *int64     `form:"subscription_id"`
	Action         *Action    `form:"action"`
	From           *time.Time `form:"from" time_format:"2006-01-02"`
	To             *time.Time `form:"to" time_format:"2006-01-02"`
	Page           int        `form:"page"`
	PageSize       int        `form:"page_size"`
}

func (f *HistoryFilters) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = 50
	}
	if f.PageSize > 200 {
		f.PageSize = 200
	}
}

// View is a subscription with its derived days_left field.
type View struct {
	Subscription
	DaysLeft int `json:"days_left"`
}

type ListResponse struct {
	Subscriptions []View `json:"subscriptions"`
	Total         int64  `json:"total"`
	Page          int    `json:"page"`
	PageSize      int    `json:"page_size"`
	TotalPages    int    `json:"total_pages"`
}

type HistoryResponse struct {
	Entries    []HistoryEntry `json:"entries"`
	Total      int64          `json:"total"`
	Page       int            `json:"page"`
	PageSize   int            `json:"page_size"`
	TotalPages int            `json:"total_pages"`
}

type RemainingTime struct {
	SubscriptionID   int64  `json:"subscription_id"`
	Status           Status `json:"status"`
	RemainingSeconds int64  `json:"remaining_seconds"`
	Days             int64  `json:"days"`
	Hours            int64  `json:"hours"`
	Minutes          int64  `json:"minutes"`
}

func NewRemainingTime(s *Subscription, now time.Time) RemainingTime {
	secs := s.RemainingSeconds(now)
	return RemainingTime{
		SubscriptionID:   s.ID,
		Status:           s.Status,
		RemainingSeconds: secs,
		Days:             secs / 86400,
		Hours:            secs % 86400 / 3600,
		Minutes:          secs % 3600 / 60,
	}
}

// BatchFailure is one id (or category) that could not be processed.
type BatchFailure struct {
	ID    int64  `json:"id"`
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

// BatchResult partitions a bulk operation; it never fails as a whole.
type BatchResult struct {
	Succeeded []Subscription `json:"succeeded"`
	Failed    []BatchFailure `json:"failed"`
}
