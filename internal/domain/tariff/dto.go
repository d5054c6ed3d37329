// internal/domain/tariff/dto.go
package tariff

type CreateTariffRequest struct {
	Name          string  `json:"name" binding:"required,max=255"`
	Code          string  `json:"code" binding:"required,max=50"`
	DurationHours int     `json:"duration_hours" binding:"required,min=1"`
	BasePrice     float64 `json:"base_price" binding:"min=0"`
	Currency      string  `json:"currency" binding:"omitempty,len=3"`
	IsActive      bool    `json:"is_active"`
}

type UpdateTariffRequest struct {
	Name          *string  `json:"name" binding:"omitempty,max=255"`
	DurationHours *int     `json:"duration_hours" binding:"omitempty,min=1"`
	BasePrice     *float64 `json:"base_price" binding:"omitempty,min=0"`
}

type SetPriceOverrideRequest struct {
	LocationID int64   `json:"location_id" binding:"required"`
	CategoryID *int64  `json:"category_id"`
	Price      float64 `json:"price" binding:"min=0"`
}

type PriceQuote struct {
	TariffID   int64   `json:"tariff_id"`
	LocationID int64   `json:"location_id"`
	CategoryID *int64  `json:"category_id,omitempty"`
	Price      float64 `json:"price"`
	Currency   string  `json:"currency"`
	Overridden bool    `json:"overridden"`
}
