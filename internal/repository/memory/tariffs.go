package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"tariff-service/internal/domain/tariff"
	xerrors "tariff-service/internal/pkg/errors"
)

type tariffRepo struct {
	s *Store
}

func (r *tariffRepo) Create(ctx context.Context, t *tariff.Tariff) error {
	return r.s.run("Tariffs.Create", func(st *state) error {
		for _, existing := range st.tariffs {
			if existing.Code == t.Code {
				return fmt.Errorf("%w: tariff code %q", xerrors.ErrConflict, t.Code)
			}
		}
		now := time.Now().UTC()
		t.ID = st.nextID()
		t.CreatedAt, t.UpdatedAt = now, now
		st.tariffs[t.ID] = *t
		return nil
	})
}

func (r *tariffRepo) FindByID(ctx context.Context, id int64) (*tariff.Tariff, error) {
	var out tariff.Tariff
	err := r.s.run("Tariffs.FindByID", func(st *state) error {
		t, ok := st.tariffs[id]
		if !ok {
			return xerrors.Wrapf(xerrors.ErrNotFound, "tariff %d", id)
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *tariffRepo) FindByCode(ctx context.Context, code string) (*tariff.Tariff, error) {
	var out *tariff.Tariff
	err := r.s.run("Tariffs.FindByCode", func(st *state) error {
		for _, t := range st.tariffs {
			if t.Code == code {
				found := t
				out = &found
				return nil
			}
		}
		return xerrors.Wrapf(xerrors.ErrNotFound, "tariff %q", code)
	})
	return out, err
}

func (r *tariffRepo) List(ctx context.Context, activeOnly bool) ([]tariff.Tariff, error) {
	out := []tariff.Tariff{}
	err := r.s.run("Tariffs.List", func(st *state) error {
		for _, t := range st.tariffs {
			if activeOnly && !t.IsActive {
				continue
			}
			out = append(out, t)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].DurationHours != out[j].DurationHours {
			return out[i].DurationHours < out[j].DurationHours
		}
		return out[i].ID < out[j].ID
	})
	return out, err
}

func (r *tariffRepo) Update(ctx context.Context, t *tariff.Tariff) error {
	return r.s.run("Tariffs.Update", func(st *state) error {
		existing, ok := st.tariffs[t.ID]
		if !ok {
			return xerrors.ErrNotFound
		}
		existing.Name = t.Name
		existing.DurationHours = t.DurationHours
		existing.BasePrice = t.BasePrice
		existing.UpdatedAt = time.Now().UTC()
		st.tariffs[t.ID] = existing
		*t = existing
		return nil
	})
}

func (r *tariffRepo) SetActive(ctx context.Context, id int64, active bool) error {
	return r.s.run("Tariffs.SetActive", func(st *state) error {
		t, ok := st.tariffs[id]
		if !ok {
			return xerrors.ErrNotFound
		}
		t.IsActive = active
		t.UpdatedAt = time.Now().UTC()
		st.tariffs[id] = t
		return nil
	})
}

func (r *tariffRepo) IsReferenced(ctx context.Context, id int64) (bool, error) {
	var referenced bool
	err := r.s.run("Tariffs.IsReferenced", func(st *state) error {
		for _, sub := range st.subscriptions {
			if sub.TariffID == id {
				referenced = true
				break
			}
		}
		return nil
	})
	return referenced, err
}

func (r *tariffRepo) FindCategory(ctx context.Context, id int64) (*tariff.Category, error) {
	var out tariff.Category
	err := r.s.run("Tariffs.FindCategory", func(st *state) error {
		c, ok := st.categories[id]
		if !ok {
			return xerrors.Wrapf(xerrors.ErrNotFound, "category %d", id)
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *tariffRepo) FindLocation(ctx context.Context, id int64) (*tariff.Location, error) {
	var out tariff.Location
	err := r.s.run("Tariffs.FindLocation", func(st *state) error {
		l, ok := st.locations[id]
		if !ok {
			return xerrors.Wrapf(xerrors.ErrNotFound, "location %d", id)
		}
		out = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func sameCategory(o tariff.PriceOverride, categoryID *int64) bool {
	if categoryID == nil {
		return !o.CategoryID.Valid
	}
	return o.CategoryID.Valid && o.CategoryID.Int64 == *categoryID
}

func (r *tariffRepo) FindPriceOverride(ctx context.Context, tariffID, locationID int64, categoryID *int64) (*tariff.PriceOverride, error) {
	var out *tariff.PriceOverride
	err := r.s.run("Tariffs.FindPriceOverride", func(st *state) error {
		for _, o := range st.overrides {
			if o.TariffID == tariffID && o.LocationID == locationID && sameCategory(o, categoryID) {
				found := o
				out = &found
				return nil
			}
		}
		return xerrors.ErrNotFound
	})
	return out, err
}

func (r *tariffRepo) UpsertPriceOverride(ctx context.Context, o *tariff.PriceOverride) error {
	return r.s.run("Tariffs.UpsertPriceOverride", func(st *state) error {
		now := time.Now().UTC()
		var category *int64
		if o.CategoryID.Valid {
			category = &o.CategoryID.Int64
		}
		for id, existing := range st.overrides {
			if existing.TariffID == o.TariffID && existing.LocationID == o.LocationID && sameCategory(existing, category) {
				existing.Price = o.Price
				existing.UpdatedAt = now
				st.overrides[id] = existing
				*o = existing
				return nil
			}
		}
		o.ID = st.nextID()
		o.CreatedAt, o.UpdatedAt = now, now
		st.overrides[o.ID] = *o
		return nil
	})
}

func (r *tariffRepo) DeletePriceOverride(ctx context.Context, tariffID, id int64) error {
	return r.s.run("Tariffs.DeletePriceOverride", func(st *state) error {
		o, ok := st.overrides[id]
		if !ok || o.TariffID != tariffID {
			return xerrors.ErrNotFound
		}
		delete(st.overrides, id)
		return nil
	})
}

func (r *tariffRepo) ListPriceOverrides(ctx context.Context, tariffID int64) ([]tariff.PriceOverride, error) {
	out := []tariff.PriceOverride{}
	err := r.s.run("Tariffs.ListPriceOverrides", func(st *state) error {
		for _, o := range st.overrides {
			if o.TariffID == tariffID {
				out = append(out, o)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].LocationID != out[j].LocationID {
			return out[i].LocationID < out[j].LocationID
		}
		return out[i].CategoryID.Int64 < out[j].CategoryID.Int64
	})
	return out, err
}
