// internal/repository/postgres/tariff_repo.go
package postgres

import (
	"context"
	"fmt"
	"time"

	"tariff-service/internal/domain/tariff"
	xerrors "tariff-service/internal/pkg/errors"
)

type TariffRepository struct {
	db Querier
}

func NewTariffRepository(db Querier) *TariffRepository {
	return &TariffRepository{db: db}
}

const tariffColumns = `id, name, code, duration_hours, base_price, currency, is_active, created_at, updated_at`

// Create inserts a tariff; a duplicate code is reported as ErrConflict.
func (r *TariffRepository) Create(ctx context.Context, t *tariff.Tariff) error {
	query := `
		INSERT INTO tariffs (name, code, duration_hours, base_price, currency, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(
		ctx, query,
		t.Name, t.Code, t.DurationHours, t.BasePrice, t.Currency, t.IsActive,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return xerrors.Fail(mapError(err), "failed to create tariff")
	}

	return nil
}

func (r *TariffRepository) FindByID(ctx context.Context, id int64) (*tariff.Tariff, error) {
	query := `SELECT ` + tariffColumns + ` FROM tariffs WHERE id = $1`
	return r.findOne(ctx, query, id)
}

func (r *TariffRepository) FindByCode(ctx context.Context, code string) (*tariff.Tariff, error) {
	query := `SELECT ` + tariffColumns + ` FROM tariffs WHERE code = $1`
	return r.findOne(ctx, query, code)
}

func (r *TariffRepository) findOne(ctx context.Context, query string, arg any) (*tariff.Tariff, error) {
	var t tariff.Tariff
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&t.ID, &t.Name, &t.Code, &t.DurationHours, &t.BasePrice, &t.Currency,
		&t.IsActive, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, xerrors.Fail(mapError(err), fmt.Sprintf("failed to find tariff %v", arg))
	}
	return &t, nil
}

func (r *TariffRepository) List(ctx context.Context, activeOnly bool) ([]tariff.Tariff, error) {
	query := `SELECT ` + tariffColumns + ` FROM tariffs`
	if activeOnly {
		query += ` WHERE is_active = TRUE`
	}
	query += ` ORDER BY duration_hours ASC, id ASC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, xerrors.Fail(err, "failed to list tariffs")
	}
	defer rows.Close()

	tariffs := []tariff.Tariff{}
	for rows.Next() {
		var t tariff.Tariff
		if err := rows.Scan(
			&t.ID, &t.Name, &t.Code, &t.DurationHours, &t.BasePrice, &t.Currency,
			&t.IsActive, &t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, xerrors.Fail(err, "failed to scan tariff")
		}
		tariffs = append(tariffs, t)
	}

	return tariffs, rows.Err()
}

func (r *TariffRepository) Update(ctx context.Context, t *tariff.Tariff) error {
	query := `
		UPDATE tariffs
		SET name = $1, duration_hours = $2, base_price = $3, updated_at = $4
		WHERE id = $5
	`

	result, err := r.db.Exec(ctx, query, t.Name, t.DurationHours, t.BasePrice, time.Now().UTC(), t.ID)
	if err != nil {
		return xerrors.Fail(mapError(err), "failed to update tariff")
	}
	if result.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}

	return nil
}

func (r *TariffRepository) SetActive(ctx context.Context, id int64, active bool) error {
	query := `UPDATE tariffs SET is_active = $1, updated_at = $2 WHERE id = $3`

	result, err := r.db.Exec(ctx, query, active, time.Now().UTC(), id)
	if err != nil {
		return xerrors.Fail(err, "failed to update tariff status")
	}
	if result.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}

	return nil
}

func (r *TariffRepository) IsReferenced(ctx context.Context, id int64) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM subscriptions WHERE tariff_id = $1)`

	var exists bool
	if err := r.db.QueryRow(ctx, query, id).Scan(&exists); err != nil {
		return false, xerrors.Fail(err, "failed to check tariff references")
	}
	return exists, nil
}

func (r *TariffRepository) FindCategory(ctx context.Context, id int64) (*tariff.Category, error) {
	var c tariff.Category
	err := r.db.QueryRow(ctx, `SELECT id, name FROM categories WHERE id = $1`, id).Scan(&c.ID, &c.Name)
	if err != nil {
		return nil, xerrors.Fail(mapError(err), fmt.Sprintf("failed to find category %d", id))
	}
	return &c, nil
}

func (r *TariffRepository) FindLocation(ctx context.Context, id int64) (*tariff.Location, error) {
	var l tariff.Location
	err := r.db.QueryRow(ctx, `SELECT id, name FROM locations WHERE id = $1`, id).Scan(&l.ID, &l.Name)
	if err != nil {
		return nil, xerrors.Fail(mapError(err), fmt.Sprintf("failed to find location %d", id))
	}
	return &l, nil
}

const overrideColumns = `id, tariff_id, location_id, category_id, price, created_at, updated_at`

func (r *TariffRepository) FindPriceOverride(ctx context.Context, tariffID, locationID int64, categoryID *int64) (*tariff.PriceOverride, error) {
	query := `SELECT ` + overrideColumns + ` FROM tariff_price_overrides
		WHERE tariff_id = $1 AND location_id = $2 AND category_id IS NOT DISTINCT FROM $3`

	var o tariff.PriceOverride
	err := r.db.QueryRow(ctx, query, tariffID, locationID, categoryID).Scan(
		&o.ID, &o.TariffID, &o.LocationID, &o.CategoryID, &o.Price, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, xerrors.Fail(mapError(err), "failed to find price override")
	}
	return &o, nil
}

// UpsertPriceOverride relies on the unique index over
// (tariff_id, location_id, COALESCE(category_id, 0)).
func (r *TariffRepository) UpsertPriceOverride(ctx context.Context, o *tariff.PriceOverride) error {
	query := `
		INSERT INTO tariff_price_overrides (tariff_id, location_id, category_id, price)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tariff_id, location_id, COALESCE(category_id, 0))
		DO UPDATE SET price = EXCLUDED.price, updated_at = NOW()
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query, o.TariffID, o.LocationID, o.CategoryID, o.Price).
		Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return xerrors.Fail(mapError(err), "failed to save price override")
	}
	return nil
}

func (r *TariffRepository) DeletePriceOverride(ctx context.Context, tariffID, id int64) error {
	result, err := r.db.Exec(ctx, `DELETE FROM tariff_price_overrides WHERE id = $1 AND tariff_id = $2`, id, tariffID)
	if err != nil {
		return xerrors.Fail(err, "failed to delete price override")
	}
	if result.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

func (r *TariffRepository) ListPriceOverrides(ctx context.Context, tariffID int64) ([]tariff.PriceOverride, error) {
	query := `SELECT ` + overrideColumns + ` FROM tariff_price_overrides
		WHERE tariff_id = $1 ORDER BY location_id, category_id NULLS FIRST`

	rows, err := r.db.Query(ctx, query, tariffID)
	if err != nil {
		return nil, xerrors.Fail(err, "failed to list price overrides")
	}
	defer rows.Close()

	overrides := []tariff.PriceOverride{}
	for rows.Next() {
		var o tariff.PriceOverride
		if err := rows.Scan(&o.ID, &o.TariffID, &o.LocationID, &o.CategoryID, &o.Price, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, xerrors.Fail(err, "failed to scan price override")
		}
		overrides = append(overrides, o)
	}

	return overrides, rows.Err()
}
