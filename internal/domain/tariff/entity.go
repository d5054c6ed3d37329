// internal/domain/tariff/entity.go
package tariff

import (
	"database/sql"
	"time"
)

// CodeDemo is the trial tariff: once per user, one category at a time.
const CodeDemo = "demo"

type Class string

const (
	ClassLong  Class = "long"
	ClassShort Class = "short"
)

type Tariff struct {
	ID            int64     `json:"id" db:"id"`
	Name          string    `json:"name" db:"name"`
	Code          string    `json:"code" db:"code"`
	DurationHours int       `json:"duration_hours" db:"duration_hours"`
	BasePrice     float64   `json:"base_price" db:"base_price"`
	Currency      string    `json:"currency" db:"currency"`
	IsActive      bool      `json:"is_active" db:"is_active"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

func (t *Tariff) IsDemo() bool {
	return t.Code == CodeDemo
}

func (t *Tariff) Duration() time.Duration {
	return time.Duration(t.DurationHours) * time.Hour
}

// ClassFor buckets the tariff for notification thresholds. Demo tariffs are always short.
func (t *Tariff) ClassFor(longMin time.Duration) Class {
	if t.IsDemo() || t.Duration() < longMin {
		return ClassShort
	}
	return ClassLong
}

// PriceOverride replaces the base price for a location, optionally narrowed to a category.
type PriceOverride struct {
	ID         int64         `json:"id" db:"id"`
	TariffID   int64         `json:"tariff_id" db:"tariff_id"`
	LocationID int64         `json:"location_id" db:"location_id"`
	CategoryID sql.NullInt64 `json:"category_id,omitempty" db:"category_id"`
	Price      float64       `json:"price" db:"price"`
	CreatedAt  time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at" db:"updated_at"`
}

type Category struct {
	ID   int64  `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
}

type Location struct {
	ID   int64  `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
}
