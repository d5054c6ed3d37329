// internal/service/subscription/subscription_service.go
package subscription

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"slices"
	"time"

	"tariff-service/internal/config"
	"tariff-service/internal/domain/subscription"
	"tariff-service/internal/domain/tariff"
	"tariff-service/internal/events"
	"tariff-service/internal/metrics"
	"tariff-service/internal/pkg/clock"
	xerrors "tariff-service/internal/pkg/errors"
	"tariff-service/internal/repository"
	"tariff-service/internal/service/history"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const autoCancelReason = "auto-cancel on upgrade"

// Catalog is the part of the tariff catalog the ledger reads. Every lookup happens before
// a transaction opens.
type Catalog interface {
	GetTariff(ctx context.Context, id int64) (*tariff.Tariff, error)
	GetCategory(ctx context.Context, id int64) (*tariff.Category, error)
	GetLocation(ctx context.Context, id int64) (*tariff.Location, error)
	GetTariffPrice(ctx context.Context, tariffID, locationID int64, categoryID *int64) (*tariff.PriceQuote, error)
}

// Actor is the authenticated caller of an owner-scoped operation.
type Actor struct {
	ID    int64
	Admin bool
}

func (a Actor) owns(sub *subscription.Subscription) bool {
	return a.Admin || sub.UserID == a.ID
}

type Config struct {
	RenewalMode         string
	ActivateConcurrency int
}

type SubscriptionService struct {
	store      repository.Store
	catalog    Catalog
	history    *history.Recorder
	publisher  events.Publisher
	metrics    *metrics.Metrics
	thresholds *subscription.ThresholdTable
	clock      clock.Clock
	cfg        Config
	logger     *zap.Logger
}

func NewSubscriptionService(
	store repository.Store,
	catalog Catalog,
	recorder *history.Recorder,
	publisher events.Publisher,
	m *metrics.Metrics,
	thresholds *subscription.ThresholdTable,
	clk clock.Clock,
	cfg Config,
	logger *zap.Logger,
) *SubscriptionService {
	if cfg.ActivateConcurrency < 1 {
		cfg.ActivateConcurrency = 1
	}
	if cfg.RenewalMode == "" {
		cfg.RenewalMode = config.RenewalModeApproval
	}
	return &SubscriptionService{
		store:      store,
		catalog:    catalog,
		history:    recorder,
		publisher:  publisher,
		metrics:    m,
		thresholds: thresholds,
		clock:      clk,
		cfg:        cfg,
		logger:     logger,
	}
}

// committed collects the transitions of one transaction; they are announced only after
// the commit succeeded.
type committed struct {
	actions []subscription.Action
	events  []events.Event
}

func (c *committed) add(action subscription.Action, sub *subscription.Subscription, at time.Time) {
	c.actions = append(c.actions, action)
	c.events = append(c.events, events.NewEvent(action, sub, at))
}

func (s *SubscriptionService) announce(ctx context.Context, c *committed) {
	for i, e := range c.events {
		s.metrics.IncTransition(string(c.actions[i]))
		if err := s.publisher.Publish(ctx, e); err != nil {
			s.metrics.IncEventPublishFailure()
			s.logger.Warn("failed to publish subscription event",
				zap.String("type", e.Type),
				zap.Int64("subscription_id", e.SubscriptionID),
				zap.Error(err),
			)
		}
	}
}

func newReference() string {
	return "SUB-" + ulid.Make().String()
}

func validTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: true}
}

func duration(t *tariff.Tariff, overrideHours *int) (time.Duration, error) {
	if overrideHours == nil {
		return t.Duration(), nil
	}
	if *overrideHours < 1 {
		return 0, fmt.Errorf("%w: duration override must be at least one hour", xerrors.ErrValidation)
	}
	return time.Duration(*overrideHours) * time.Hour, nil
}

// resolve loads the tariff and the names copied into history.
func (s *SubscriptionService) resolve(ctx context.Context, tariffID, categoryID, locationID int64) (*tariff.Tariff, history.Names, error) {
	t, err := s.catalog.GetTariff(ctx, tariffID)
	if err != nil {
		return nil, history.Names{}, err
	}
	cat, err := s.catalog.GetCategory(ctx, categoryID)
	if err != nil {
		return nil, history.Names{}, err
	}
	loc, err := s.catalog.GetLocation(ctx, locationID)
	if err != nil {
		return nil, history.Names{}, err
	}
	return t, history.Names{Tariff: t.Name, Category: cat.Name, Location: loc.Name}, nil
}

// checkSlot rejects a second open row for the key. A paid row may queue behind a started
// demo; its activation cancels the demo.
func checkSlot(ctx context.Context, tx repository.Store, key subscription.Key, demo bool) error {
	open, err := tx.Subscriptions().FindOpenByKey(ctx, key)
	if err != nil {
		return err
	}
	for _, o := range open {
		if !demo && !o.HoldsSlot() {
			continue
		}
		return fmt.Errorf("%w: subscription %s is already %s for this category and location",
			xerrors.ErrConflict, o.Reference, o.Status)
	}
	return nil
}

// The trial is used once; its window is never extended.
func demoRenewalError(id int64) error {
	return fmt.Errorf("%w: demo subscription %d cannot be renewed", xerrors.ErrInvalidState, id)
}

func claimTrial(ctx context.Context, tx repository.Store, userID int64) error {
	u, err := tx.Users().FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if u.TrialUsed {
		return xerrors.Wrapf(xerrors.ErrTrialAlreadyUsed, "user %d", userID)
	}
	won, err := tx.Users().MarkTrialUsed(ctx, userID)
	if err != nil {
		return err
	}
	if !won {
		return xerrors.Wrapf(xerrors.ErrTrialAlreadyUsed, "user %d", userID)
	}
	return nil
}

// cancelDemo closes the open demo that a paid subscription for the same key replaces.
func (s *SubscriptionService) cancelDemo(ctx context.Context, tx repository.Store, key subscription.Key, names history.Names, actorID int64, now time.Time, c *committed) error {
	open, err := tx.Subscriptions().FindOpenByKey(ctx, key)
	if err != nil {
		return err
	}
	for i := range open {
		demo := &open[i]
		if !demo.IsDemo || !demo.Status.IsLive() {
			continue
		}

		ok, err := tx.Subscriptions().Cancel(ctx, demo.ID, autoCancelReason, now)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		t, err := tx.Tariffs().FindByID(ctx, demo.TariffID)
		if err != nil {
			return err
		}
		demo.Status = subscription.StatusCancelled
		demo.CancelReason = sql.NullString{String: autoCancelReason, Valid: true}
		demo.CancelledAt = validTime(now)

		demoNames := names
		demoNames.Tariff = t.Name
		if err := s.history.Record(ctx, tx, demo, demoNames, history.Entry{
			Action:  subscription.ActionCancelled,
			At:      now,
			ActorID: actorID,
			Notes:   autoCancelReason,
		}); err != nil {
			return err
		}
		c.add(subscription.ActionCancelled, demo, now)
	}
	return nil
}

// Request creates a pending subscription for one category.
func (s *SubscriptionService) Request(ctx context.Context, userID, tariffID, categoryID, locationID int64) (*subscription.Subscription, error) {
	if userID <= 0 || tariffID <= 0 || categoryID <= 0 || locationID <= 0 {
		return nil, fmt.Errorf("%w: user, tariff, category and location are required", xerrors.ErrValidation)
	}

	t, names, err := s.resolve(ctx, tariffID, categoryID, locationID)
	if err != nil {
		return nil, err
	}
	if !t.IsActive {
		return nil, fmt.Errorf("%w: tariff %s is not available", xerrors.ErrValidation, t.Code)
	}

	now := s.clock.Now()
	sub := &subscription.Subscription{
		Reference:  newReference(),
		UserID:     userID,
		TariffID:   t.ID,
		CategoryID: categoryID,
		LocationID: locationID,
		IsDemo:     t.IsDemo(),
		Status:     subscription.StatusPending,
		Enabled:    true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	var c committed
	err = s.store.Atomic(ctx, func(tx repository.Store) error {
		if err := tx.Users().EnsureUser(ctx, sub.UserID); err != nil {
			return err
		}
		if err := checkSlot(ctx, tx, sub.Key(), sub.IsDemo); err != nil {
			return err
		}
		if sub.IsDemo {
			if err := claimTrial(ctx, tx, userID); err != nil {
				return err
			}
		}
		if err := tx.Subscriptions().Create(ctx, sub); err != nil {
			return err
		}
		c.add(subscription.ActionRequested, sub, now)
		return s.history.Record(ctx, tx, sub, names, history.Entry{
			Action:  subscription.ActionRequested,
			At:      now,
			ActorID: userID,
		})
	})
	if err != nil {
		return nil, err
	}

	s.announce(ctx, &c)
	s.logger.Info("subscription requested",
		zap.Int64("subscription_id", sub.ID),
		zap.Int64("user_id", userID),
		zap.String("tariff", t.Code),
	)
	return sub, nil
}

// RequestBatch requests the tariff for several categories; each category succeeds or fails
// on its own.
func (s *SubscriptionService) RequestBatch(ctx context.Context, userID int64, req *subscription.RequestSubscriptionRequest) (*subscription.BatchResult, error) {
	var categories []int64
	for _, id := range req.Categories() {
		if !slices.Contains(categories, id) {
			categories = append(categories, id)
		}
	}
	if len(categories) == 0 {
		return nil, fmt.Errorf("%w: at least one category is required", xerrors.ErrValidation)
	}

	t, err := s.catalog.GetTariff(ctx, req.TariffID)
	if err != nil {
		return nil, err
	}
	if t.IsDemo() && len(categories) > 1 {
		return nil, xerrors.ErrMultiCategoryDemo
	}

	result := &subscription.BatchResult{
		Succeeded: []subscription.Subscription{},
		Failed:    []subscription.BatchFailure{},
	}
	for _, categoryID := range categories {
		sub, err := s.Request(ctx, userID, req.TariffID, categoryID, req.LocationID)
		if err != nil {
			result.Failed = append(result.Failed, subscription.BatchFailure{
				ID:    categoryID,
				Kind:  xerrors.Code(err),
				Error: err.Error(),
			})
			continue
		}
		result.Succeeded = append(result.Succeeded, *sub)
	}
	return result, nil
}

// Grant creates an already active subscription on behalf of a user.
func (s *SubscriptionService) Grant(ctx context.Context, adminID int64, req *subscription.GrantRequest) (*subscription.Subscription, error) {
	if req.UserID <= 0 || req.TariffID <= 0 || req.CategoryID <= 0 || req.LocationID <= 0 {
		return nil, fmt.Errorf("%w: user, tariff, category and location are required", xerrors.ErrValidation)
	}

	t, names, err := s.resolve(ctx, req.TariffID, req.CategoryID, req.LocationID)
	if err != nil {
		return nil, err
	}
	if !t.IsActive {
		return nil, fmt.Errorf("%w: tariff %s is not available", xerrors.ErrValidation, t.Code)
	}
	dur, err := duration(t, req.DurationOverrideHours)
	if err != nil {
		return nil, err
	}
	quote, err := s.catalog.GetTariffPrice(ctx, t.ID, req.LocationID, &req.CategoryID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	sub := &subscription.Subscription{
		Reference:  newReference(),
		UserID:     req.UserID,
		TariffID:   t.ID,
		CategoryID: req.CategoryID,
		LocationID: req.LocationID,
		IsDemo:     t.IsDemo(),
		PricePaid:  quote.Price,
		Status:     subscription.StatusActive,
		Enabled:    true,
		StartAt:    validTime(now),
		EndAt:      validTime(now.Add(dur)),
		ApproverID: sql.NullInt64{Int64: adminID, Valid: adminID != 0},
		ApprovedAt: validTime(now),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if req.Notes != "" {
		sub.AdminNotes = sql.NullString{String: req.Notes, Valid: true}
	}

	var c committed
	err = s.store.Atomic(ctx, func(tx repository.Store) error {
		if err := tx.Users().EnsureUser(ctx, sub.UserID); err != nil {
			return err
		}
		if err := checkSlot(ctx, tx, sub.Key(), sub.IsDemo); err != nil {
			return err
		}
		if sub.IsDemo {
			if err := claimTrial(ctx, tx, req.UserID); err != nil {
				return err
			}
		} else if err := s.cancelDemo(ctx, tx, sub.Key(), names, adminID, now, &c); err != nil {
			return err
		}
		if err := tx.Subscriptions().Create(ctx, sub); err != nil {
			return err
		}
		c.add(subscription.ActionCreated, sub, now)
		return s.history.Record(ctx, tx, sub, names, history.Entry{
			Action:        subscription.ActionCreated,
			At:            now,
			PricePaid:     quote.Price,
			PaymentMethod: req.PaymentMethod,
			ActorID:       adminID,
			Notes:         req.Notes,
		})
	})
	if err != nil {
		return nil, err
	}

	s.announce(ctx, &c)
	s.logger.Info("subscription granted",
		zap.Int64("subscription_id", sub.ID),
		zap.Int64("user_id", req.UserID),
		zap.Int64("admin_id", adminID),
	)
	return sub, nil
}

// Activate approves a pending subscription, or a renewal of an extend_pending one.
func (s *SubscriptionService) Activate(ctx context.Context, id, approverID int64, params subscription.ActivateParams) (*subscription.Subscription, error) {
	sub, err := s.store.Subscriptions().FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status != subscription.StatusPending && sub.Status != subscription.StatusExtendPending {
		return nil, fmt.Errorf("%w: subscription %d is %s", xerrors.ErrInvalidState, id, sub.Status)
	}
	if sub.IsDemo && sub.Status == subscription.StatusExtendPending {
		return nil, demoRenewalError(id)
	}

	t, names, err := s.resolve(ctx, sub.TariffID, sub.CategoryID, sub.LocationID)
	if err != nil {
		return nil, err
	}
	dur, err := duration(t, params.DurationOverrideHours)
	if err != nil {
		return nil, err
	}
	quote, err := s.catalog.GetTariffPrice(ctx, t.ID, sub.LocationID, &sub.CategoryID)
	if err != nil {
		return nil, err
	}

	if sub.Status == subscription.StatusExtendPending {
		return s.extend(ctx, sub, names, renewal{
			from:          []subscription.Status{subscription.StatusExtendPending},
			duration:      dur,
			price:         quote.Price,
			paymentMethod: params.PaymentMethod,
			notes:         params.Notes,
			actorID:       approverID,
			approverID:    approverID,
		})
	}

	now := s.clock.Now()
	var (
		c       committed
		updated *subscription.Subscription
	)
	err = s.store.Atomic(ctx, func(tx repository.Store) error {
		if !sub.IsDemo {
			if err := s.cancelDemo(ctx, tx, sub.Key(), names, approverID, now, &c); err != nil {
				return err
			}
		}

		ok, err := tx.Subscriptions().Activate(ctx, id, repository.ActivationUpdate{
			From:       subscription.StatusPending,
			PricePaid:  quote.Price,
			StartAt:    now,
			EndAt:      now.Add(dur),
			ApproverID: approverID,
			ApprovedAt: now,
			AdminNotes: params.Notes,
		})
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: subscription %d is no longer pending", xerrors.ErrInvalidState, id)
		}

		updated, err = tx.Subscriptions().FindByID(ctx, id)
		if err != nil {
			return err
		}
		c.add(subscription.ActionActivated, updated, now)
		return s.history.Record(ctx, tx, updated, names, history.Entry{
			Action:        subscription.ActionActivated,
			At:            now,
			PricePaid:     quote.Price,
			PaymentMethod: params.PaymentMethod,
			ActorID:       approverID,
			Notes:         params.Notes,
		})
	})
	if err != nil {
		return nil, err
	}

	s.announce(ctx, &c)
	s.logger.Info("subscription activated",
		zap.Int64("subscription_id", id),
		zap.Int64("approver_id", approverID),
		zap.Float64("price_paid", quote.Price),
		zap.Time("end_at", updated.EndAt.Time),
	)
	return updated, nil
}

// ActivateMany activates each id independently with bounded concurrency.
func (s *SubscriptionService) ActivateMany(ctx context.Context, approverID int64, req *subscription.ActivateManyRequest) *subscription.BatchResult {
	type outcome struct {
		sub *subscription.Subscription
		err error
	}
	outcomes := make([]outcome, len(req.IDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.ActivateConcurrency)
	for i, id := range req.IDs {
		g.Go(func() error {
			sub, err := s.Activate(gctx, id, approverID, req.ActivateParams)
			outcomes[i] = outcome{sub: sub, err: err}
			return nil
		})
	}
	_ = g.Wait()

	result := &subscription.BatchResult{
		Succeeded: []subscription.Subscription{},
		Failed:    []subscription.BatchFailure{},
	}
	for i, o := range outcomes {
		if o.err != nil {
			result.Failed = append(result.Failed, subscription.BatchFailure{
				ID:    req.IDs[i],
				Kind:  xerrors.Code(o.err),
				Error: o.err.Error(),
			})
			continue
		}
		result.Succeeded = append(result.Succeeded, *o.sub)
	}

	s.logger.Info("bulk activation finished",
		zap.Int("succeeded", len(result.Succeeded)),
		zap.Int("failed", len(result.Failed)),
	)
	return result
}

type renewal struct {
	from          []subscription.Status
	duration      time.Duration
	price         float64
	paymentMethod string
	notes         string
	actorID       int64
	approverID    int64
}

// extend moves end_at forward from its current value and resets the warnings that have
// to fire again. A concurrent extension of the same row makes the write miss.
func (s *SubscriptionService) extend(ctx context.Context, sub *subscription.Subscription, names history.Names, r renewal) (*subscription.Subscription, error) {
	if !sub.EndAt.Valid {
		return nil, fmt.Errorf("%w: subscription %d has no end date", xerrors.ErrInvalidState, sub.ID)
	}

	now := s.clock.Now()
	newEnd := sub.EndAt.Time.Add(r.duration)
	marks := sub.Watermarks
	cleared := subscription.ResetAfterExtension(&marks, s.thresholds.All(), newEnd, now)

	var (
		c       committed
		updated *subscription.Subscription
	)
	err := s.store.Atomic(ctx, func(tx repository.Store) error {
		ok, err := tx.Subscriptions().Extend(ctx, sub.ID, repository.ExtensionUpdate{
			From:       r.from,
			ExpectEnd:  sub.EndAt.Time,
			AddedPrice: r.price,
			EndAt:      newEnd,
			Clear:      cleared,
			ApproverID: r.approverID,
			ApprovedAt: now,
			AdminNotes: r.notes,
		})
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: subscription %d changed while being extended", xerrors.ErrConflict, sub.ID)
		}

		updated, err = tx.Subscriptions().FindByID(ctx, sub.ID)
		if err != nil {
			return err
		}
		c.add(subscription.ActionExtended, updated, now)
		return s.history.Record(ctx, tx, updated, names, history.Entry{
			Action:        subscription.ActionExtended,
			At:            now,
			PricePaid:     r.price,
			PaymentMethod: r.paymentMethod,
			ActorID:       r.actorID,
			Notes:         r.notes,
		})
	})
	if err != nil {
		return nil, err
	}

	s.announce(ctx, &c)
	s.logger.Info("subscription extended",
		zap.Int64("subscription_id", sub.ID),
		zap.Time("end_at", newEnd),
		zap.Int("watermarks_reset", len(cleared)),
	)
	return updated, nil
}

// Extend renews an active subscription directly. NewPrice replaces the catalog price.
func (s *SubscriptionService) Extend(ctx context.Context, id, adminID int64, params subscription.ExtendParams) (*subscription.Subscription, error) {
	sub, err := s.store.Subscriptions().FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.extendActive(ctx, sub, adminID, adminID, params)
}

func (s *SubscriptionService) extendActive(ctx context.Context, sub *subscription.Subscription, actorID, approverID int64, params subscription.ExtendParams) (*subscription.Subscription, error) {
	if sub.IsDemo {
		return nil, demoRenewalError(sub.ID)
	}
	if sub.Status != subscription.StatusActive {
		return nil, fmt.Errorf("%w: only active subscriptions can be extended, subscription %d is %s",
			xerrors.ErrInvalidState, sub.ID, sub.Status)
	}

	t, names, err := s.resolve(ctx, sub.TariffID, sub.CategoryID, sub.LocationID)
	if err != nil {
		return nil, err
	}
	dur, err := duration(t, params.DurationOverrideHours)
	if err != nil {
		return nil, err
	}

	var price float64
	if params.NewPrice != nil {
		if *params.NewPrice < 0 {
			return nil, fmt.Errorf("%w: price cannot be negative", xerrors.ErrValidation)
		}
		price = *params.NewPrice
	} else {
		quote, err := s.catalog.GetTariffPrice(ctx, t.ID, sub.LocationID, &sub.CategoryID)
		if err != nil {
			return nil, err
		}
		price = quote.Price
	}

	return s.extend(ctx, sub, names, renewal{
		from:          []subscription.Status{subscription.StatusActive},
		duration:      dur,
		price:         price,
		paymentMethod: params.PaymentMethod,
		notes:         params.Notes,
		actorID:       actorID,
		approverID:    approverID,
	})
}

// RequestExtend is the owner's renewal. In approval mode it queues the renewal for an
// administrator; in direct mode it extends at the catalog price.
func (s *SubscriptionService) RequestExtend(ctx context.Context, actor Actor, id int64) (*subscription.Subscription, error) {
	sub, err := s.store.Subscriptions().FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.owns(sub) {
		return nil, xerrors.Wrapf(xerrors.ErrForbidden, "subscription %d", id)
	}
	if sub.IsDemo {
		return nil, demoRenewalError(id)
	}
	if sub.Status != subscription.StatusActive {
		return nil, fmt.Errorf("%w: only active subscriptions can be renewed, subscription %d is %s",
			xerrors.ErrInvalidState, id, sub.Status)
	}

	if s.cfg.RenewalMode == config.RenewalModeDirect {
		return s.extendActive(ctx, sub, actor.ID, 0, subscription.ExtendParams{})
	}

	_, names, err := s.resolve(ctx, sub.TariffID, sub.CategoryID, sub.LocationID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	var (
		c       committed
		updated *subscription.Subscription
	)
	err = s.store.Atomic(ctx, func(tx repository.Store) error {
		ok, err := tx.Subscriptions().TransitionStatus(ctx, id,
			[]subscription.Status{subscription.StatusActive}, subscription.StatusExtendPending, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: subscription %d is no longer active", xerrors.ErrInvalidState, id)
		}

		updated, err = tx.Subscriptions().FindByID(ctx, id)
		if err != nil {
			return err
		}
		c.add(subscription.ActionExtendRequested, updated, now)
		return s.history.Record(ctx, tx, updated, names, history.Entry{
			Action:  subscription.ActionExtendRequested,
			At:      now,
			ActorID: actor.ID,
		})
	})
	if err != nil {
		return nil, err
	}

	s.announce(ctx, &c)
	s.logger.Info("renewal requested", zap.Int64("subscription_id", id), zap.Int64("user_id", actor.ID))
	return updated, nil
}

// Cancel closes any open subscription. It reports false when there was nothing to cancel.
func (s *SubscriptionService) Cancel(ctx context.Context, actor Actor, id int64, reason string) (bool, error) {
	sub, err := s.store.Subscriptions().FindByID(ctx, id)
	if err != nil {
		return false, err
	}
	if !actor.owns(sub) {
		return false, xerrors.Wrapf(xerrors.ErrForbidden, "subscription %d", id)
	}
	if sub.Status.IsTerminal() {
		return false, nil
	}

	_, names, err := s.resolve(ctx, sub.TariffID, sub.CategoryID, sub.LocationID)
	if err != nil {
		return false, err
	}

	now := s.clock.Now()
	var (
		c         committed
		cancelled bool
	)
	err = s.store.Atomic(ctx, func(tx repository.Store) error {
		ok, err := tx.Subscriptions().Cancel(ctx, id, reason, now)
		if err != nil || !ok {
			return err
		}
		cancelled = true

		updated, err := tx.Subscriptions().FindByID(ctx, id)
		if err != nil {
			return err
		}
		c.add(subscription.ActionCancelled, updated, now)
		return s.history.Record(ctx, tx, updated, names, history.Entry{
			Action:  subscription.ActionCancelled,
			At:      now,
			ActorID: actor.ID,
			Notes:   reason,
		})
	})
	if err != nil {
		return false, err
	}
	if !cancelled {
		return false, nil
	}

	s.announce(ctx, &c)
	s.logger.Info("subscription cancelled",
		zap.Int64("subscription_id", id),
		zap.Int64("actor_id", actor.ID),
		zap.String("reason", reason),
	)
	return true, nil
}

// ToggleEnabled pauses or resumes an active subscription. The result is true when the
// stored flag changed.
func (s *SubscriptionService) ToggleEnabled(ctx context.Context, actor Actor, id int64, enabled bool) (bool, error) {
	sub, err := s.store.Subscriptions().FindByID(ctx, id)
	if err != nil {
		return false, err
	}
	if !actor.owns(sub) {
		return false, xerrors.Wrapf(xerrors.ErrForbidden, "subscription %d", id)
	}
	if sub.Status != subscription.StatusActive {
		return false, fmt.Errorf("%w: only active subscriptions can be paused, subscription %d is %s",
			xerrors.ErrInvalidState, id, sub.Status)
	}

	changed, err := s.store.Subscriptions().SetEnabled(ctx, id, enabled, s.clock.Now())
	if err != nil {
		return false, err
	}
	if changed {
		s.logger.Info("subscription toggled", zap.Int64("subscription_id", id), zap.Bool("enabled", enabled))
	}
	return changed, nil
}

// Expire closes a subscription whose end_at has passed. False means another worker or a
// cancellation got there first.
func (s *SubscriptionService) Expire(ctx context.Context, id int64) (bool, error) {
	sub, err := s.store.Subscriptions().FindByID(ctx, id)
	if err != nil {
		return false, err
	}
	if sub.Status != subscription.StatusActive && sub.Status != subscription.StatusExtendPending {
		return false, nil
	}

	_, names, err := s.resolve(ctx, sub.TariffID, sub.CategoryID, sub.LocationID)
	if err != nil {
		return false, err
	}

	now := s.clock.Now()
	var (
		c       committed
		expired bool
	)
	err = s.store.Atomic(ctx, func(tx repository.Store) error {
		ok, err := tx.Subscriptions().Expire(ctx, id, now)
		if err != nil || !ok {
			return err
		}
		expired = true

		updated, err := tx.Subscriptions().FindByID(ctx, id)
		if err != nil {
			return err
		}
		c.add(subscription.ActionExpired, updated, now)
		return s.history.Record(ctx, tx, updated, names, history.Entry{
			Action: subscription.ActionExpired,
			At:     now,
		})
	})
	if err != nil || !expired {
		return false, err
	}

	s.announce(ctx, &c)
	s.logger.Info("subscription expired", zap.Int64("subscription_id", id))
	return true, nil
}

func (s *SubscriptionService) Get(ctx context.Context, actor Actor, id int64) (*subscription.Subscription, error) {
	sub, err := s.store.Subscriptions().FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.owns(sub) {
		return nil, xerrors.Wrapf(xerrors.ErrNotFound, "subscription %d", id)
	}
	return sub, nil
}

func (s *SubscriptionService) GetRemainingTime(ctx context.Context, actor Actor, id int64) (*subscription.RemainingTime, error) {
	sub, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	rt := subscription.NewRemainingTime(sub, s.clock.Now())
	return &rt, nil
}

func (s *SubscriptionService) List(ctx context.Context, filters *subscription.ListFilters) (*subscription.ListResponse, error) {
	filters.Normalize()
	for _, st := range filters.Status {
		if !st.Valid() {
			return nil, fmt.Errorf("%w: unknown status %q", xerrors.ErrValidation, st)
		}
	}

	subs, total, err := s.store.Subscriptions().List(ctx, filters, s.clock.Now())
	if err != nil {
		return nil, err
	}

	return &subscription.ListResponse{
		Subscriptions: subs,
		Total:         total,
		Page:          filters.Page,
		PageSize:      filters.PageSize,
		TotalPages:    int(math.Ceil(float64(total) / float64(filters.PageSize))),
	}, nil
}

func (s *SubscriptionService) History(ctx context.Context, filters *subscription.HistoryFilters) (*subscription.HistoryResponse, error) {
	filters.Normalize()
	return s.history.List(ctx, filters)
}

func (s *SubscriptionService) Stats(ctx context.Context, userID *int64) (*subscription.Stats, error) {
	return s.store.Subscriptions().Stats(ctx, userID)
}

// HasAccess reports whether the user currently holds a usable subscription for the
// category and location.
func (s *SubscriptionService) HasAccess(ctx context.Context, userID, categoryID, locationID int64) (bool, error) {
	open, err := s.store.Subscriptions().FindOpenByKey(ctx, subscription.Key{
		UserID:     userID,
		CategoryID: categoryID,
		LocationID: locationID,
	})
	if err != nil {
		return false, err
	}

	now := s.clock.Now()
	for i := range open {
		if open[i].HasAccess(now) {
			return true, nil
		}
	}
	return false, nil
}
