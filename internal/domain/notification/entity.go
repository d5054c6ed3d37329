// internal/domain/notification/entity.go
package notification

import (
	"time"
)

type NotificationType string

const (
	TypeExpiryWarning NotificationType = "expiry_warning"
	TypeExpired       NotificationType = "expired"
	TypeReminder      NotificationType = "reminder"
	TypeSystem        NotificationType = "system"
)

type Notification struct {
	ID         int64                  `json:"id" db:"id"`
	IdentityID int64                  `json:"identity_id" db:"identity_id"`
	Title      string                 `json:"title" db:"title"`
	Message    string                 `json:"message" db:"message"`
	Type       NotificationType       `json:"type" db:"type"`
	Metadata   map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	IsRead     bool                   `json:"is_read" db:"is_read"`
	CreatedAt  time.Time              `json:"created_at" db:"created_at"`
}

// Message is what dispatchers hand to a delivery channel.
type Message struct {
	IdentityID int64
	Title      string
	Body       string
	Type       NotificationType
	Metadata   map[string]interface{}
}
