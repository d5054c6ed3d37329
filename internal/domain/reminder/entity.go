// internal/domain/reminder/entity.go
package reminder

import (
	"database/sql"
	"time"
)

const MaxMessageLength = 2000

// Reminder is consumed once by the dispatcher; is_sent/sent_at double as its lock.
type Reminder struct {
	ID             int64        `json:"id" db:"id"`
	ObjectClientID int64        `json:"object_client_id" db:"object_client_id"`
	OwnerID        int64        `json:"owner_id" db:"owner_id"`
	RemindAt       time.Time    `json:"remind_at" db:"remind_at"`
	Message        string       `json:"message" db:"message"`
	IsSent         bool         `json:"is_sent" db:"is_sent"`
	SentAt         sql.NullTime `json:"sent_at,omitempty" db:"sent_at"`
	CreatedAt      time.Time    `json:"created_at" db:"created_at"`
}

type CreateReminderRequest struct {
	ObjectClientID int64     `json:"object_client_id" binding:"required"`
	RemindAt       time.Time `json:"remind_at" binding:"required"`
	Message        string    `json:"message" binding:"required"`
}

type ListFilters struct {
	IncludeSent bool `form:"include_sent"`
	Page        int  `form:"page"`
	PageSize    int  `form:"page_size"`
}

func (f *ListFilters) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 || f.PageSize > 100 {
		f.PageSize = 20
	}
}

type ListResponse struct {
	Reminders []Reminder `json:"reminders"`
	Total     int64      `json:"total"`
	Page      int        `json:"page"`
	PageSize  int        `json:"page_size"`
}
