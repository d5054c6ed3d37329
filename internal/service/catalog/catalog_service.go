// internal/service/catalog/catalog_service.go
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"tariff-service/internal/cache"
	"tariff-service/internal/domain/tariff"
	xerrors "tariff-service/internal/pkg/errors"
	"tariff-service/internal/repository"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

const defaultCurrency = "USD"

type Config struct {
	CacheSize int
	CacheTTL  time.Duration
}

// CatalogService owns tariffs, price overrides and the category/location reference data.
// Callers resolve catalog data before opening a transaction.
type CatalogService struct {
	store   repository.Store
	tariffs *expirable.LRU[int64, tariff.Tariff]
	prices  cache.PriceCache
	logger  *zap.Logger
}

func NewCatalogService(store repository.Store, prices cache.PriceCache, cfg Config, logger *zap.Logger) *CatalogService {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 256
	}
	if prices == nil {
		prices = cache.NopPriceCache{}
	}
	return &CatalogService{
		store:   store,
		tariffs: expirable.NewLRU[int64, tariff.Tariff](cfg.CacheSize, nil, cfg.CacheTTL),
		prices:  prices,
		logger:  logger,
	}
}

func (s *CatalogService) GetTariff(ctx context.Context, id int64) (*tariff.Tariff, error) {
	if t, ok := s.tariffs.Get(id); ok {
		return &t, nil
	}

	t, err := s.store.Tariffs().FindByID(ctx, id)
	if err != nil {
		return nil, xerrors.Wrapf(err, "tariff %d", id)
	}

	s.tariffs.Add(id, *t)
	return t, nil
}

func (s *CatalogService) GetTariffByCode(ctx context.Context, code string) (*tariff.Tariff, error) {
	t, err := s.store.Tariffs().FindByCode(ctx, strings.ToLower(code))
	if err != nil {
		return nil, err
	}
	s.tariffs.Add(t.ID, *t)
	return t, nil
}

func (s *CatalogService) ListTariffs(ctx context.Context, activeOnly bool) ([]tariff.Tariff, error) {
	return s.store.Tariffs().List(ctx, activeOnly)
}

func (s *CatalogService) CreateTariff(ctx context.Context, req *tariff.CreateTariffRequest) (*tariff.Tariff, error) {
	code := strings.ToLower(strings.TrimSpace(req.Code))
	name := strings.TrimSpace(req.Name)
	if code == "" || name == "" {
		return nil, fmt.Errorf("%w: name and code are required", xerrors.ErrValidation)
	}
	if req.DurationHours <= 0 {
		return nil, fmt.Errorf("%w: duration_hours must be positive", xerrors.ErrValidation)
	}
	if req.BasePrice < 0 {
		return nil, fmt.Errorf("%w: base_price must not be negative", xerrors.ErrValidation)
	}

	currency := strings.ToUpper(req.Currency)
	if currency == "" {
		currency = defaultCurrency
	}

	t := &tariff.Tariff{
		Name:          name,
		Code:          code,
		DurationHours: req.DurationHours,
		BasePrice:     req.BasePrice,
		Currency:      currency,
		IsActive:      req.IsActive,
	}
	if err := s.store.Tariffs().Create(ctx, t); err != nil {
		return nil, err
	}

	s.logger.Info("tariff created",
		zap.Int64("tariff_id", t.ID),
		zap.String("code", t.Code),
		zap.Int("duration_hours", t.DurationHours),
	)
	return t, nil
}

// UpdateTariff renames freely; duration and price are frozen once a subscription points at
// the tariff.
func (s *CatalogService) UpdateTariff(ctx context.Context, id int64, req *tariff.UpdateTariffRequest) (*tariff.Tariff, error) {
	t, err := s.store.Tariffs().FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	termsChanged := (req.DurationHours != nil && *req.DurationHours != t.DurationHours) ||
		(req.BasePrice != nil && *req.BasePrice != t.BasePrice)
	if termsChanged {
		referenced, err := s.store.Tariffs().IsReferenced(ctx, id)
		if err != nil {
			return nil, err
		}
		if referenced {
			return nil, fmt.Errorf("%w: tariff %d is referenced by subscriptions", xerrors.ErrConflict, id)
		}
	}

	if req.Name != nil {
		if strings.TrimSpace(*req.Name) == "" {
			return nil, fmt.Errorf("%w: name must not be empty", xerrors.ErrValidation)
		}
		t.Name = strings.TrimSpace(*req.Name)
	}
	if req.DurationHours != nil {
		if *req.DurationHours <= 0 {
			return nil, fmt.Errorf("%w: duration_hours must be positive", xerrors.ErrValidation)
		}
		t.DurationHours = *req.DurationHours
	}
	if req.BasePrice != nil {
		if *req.BasePrice < 0 {
			return nil, fmt.Errorf("%w: base_price must not be negative", xerrors.ErrValidation)
		}
		t.BasePrice = *req.BasePrice
	}

	if err := s.store.Tariffs().Update(ctx, t); err != nil {
		return nil, err
	}
	s.invalidate(ctx, id)

	return t, nil
}

func (s *CatalogService) SetTariffActive(ctx context.Context, id int64, active bool) error {
	if err := s.store.Tariffs().SetActive(ctx, id, active); err != nil {
		return xerrors.Wrapf(err, "tariff %d", id)
	}
	s.invalidate(ctx, id)
	s.logger.Info("tariff status changed", zap.Int64("tariff_id", id), zap.Bool("active", active))
	return nil
}

func (s *CatalogService) GetCategory(ctx context.Context, id int64) (*tariff.Category, error) {
	return s.store.Tariffs().FindCategory(ctx, id)
}

func (s *CatalogService) GetLocation(ctx context.Context, id int64) (*tariff.Location, error) {
	return s.store.Tariffs().FindLocation(ctx, id)
}

func (s *CatalogService) SetPriceOverride(ctx context.Context, tariffID int64, req *tariff.SetPriceOverrideRequest) (*tariff.PriceOverride, error) {
	if req.Price < 0 {
		return nil, fmt.Errorf("%w: price must not be negative", xerrors.ErrValidation)
	}
	if _, err := s.GetTariff(ctx, tariffID); err != nil {
		return nil, err
	}
	if _, err := s.GetLocation(ctx, req.LocationID); err != nil {
		return nil, err
	}

	o := &tariff.PriceOverride{
		TariffID:   tariffID,
		LocationID: req.LocationID,
		Price:      req.Price,
	}
	if req.CategoryID != nil {
		if _, err := s.GetCategory(ctx, *req.CategoryID); err != nil {
			return nil, err
		}
		o.CategoryID = sql.NullInt64{Int64: *req.CategoryID, Valid: true}
	}

	if err := s.store.Tariffs().UpsertPriceOverride(ctx, o); err != nil {
		return nil, err
	}
	s.invalidate(ctx, tariffID)

	return o, nil
}

func (s *CatalogService) DeletePriceOverride(ctx context.Context, tariffID, overrideID int64) error {
	if err := s.store.Tariffs().DeletePriceOverride(ctx, tariffID, overrideID); err != nil {
		return xerrors.Wrapf(err, "price override %d", overrideID)
	}
	s.invalidate(ctx, tariffID)
	return nil
}

func (s *CatalogService) ListPriceOverrides(ctx context.Context, tariffID int64) ([]tariff.PriceOverride, error) {
	return s.store.Tariffs().ListPriceOverrides(ctx, tariffID)
}

// GetTariffPrice resolves (tariff, location, category), then (tariff, location), then the
// tariff's base price.
func (s *CatalogService) GetTariffPrice(ctx context.Context, tariffID, locationID int64, categoryID *int64) (*tariff.PriceQuote, error) {
	if q, ok, err := s.prices.Get(ctx, tariffID, locationID, categoryID); err != nil {
		s.logger.Warn("price cache unavailable", zap.Int64("tariff_id", tariffID), zap.Error(err))
	} else if ok {
		return q, nil
	}

	t, err := s.GetTariff(ctx, tariffID)
	if err != nil {
		return nil, err
	}
	if _, err := s.GetLocation(ctx, locationID); err != nil {
		return nil, err
	}

	quote := &tariff.PriceQuote{
		TariffID:   tariffID,
		LocationID: locationID,
		CategoryID: categoryID,
		Price:      t.BasePrice,
		Currency:   t.Currency,
	}

	lookups := []*int64{nil}
	if categoryID != nil {
		lookups = []*int64{categoryID, nil}
	}
	for _, c := range lookups {
		o, err := s.store.Tariffs().FindPriceOverride(ctx, tariffID, locationID, c)
		if xerrors.Is(err, xerrors.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		quote.Price = o.Price
		quote.Overridden = true
		break
	}

	if err := s.prices.Set(ctx, quote); err != nil {
		s.logger.Warn("failed to cache price", zap.Int64("tariff_id", tariffID), zap.Error(err))
	}
	return quote, nil
}

func (s *CatalogService) invalidate(ctx context.Context, tariffID int64) {
	s.tariffs.Remove(tariffID)
	if err := s.prices.Invalidate(ctx, tariffID); err != nil {
		s.logger.Warn("failed to invalidate price cache", zap.Int64("tariff_id", tariffID), zap.Error(err))
	}
}
