package subscription

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tariff-service/internal/cache"
	"tariff-service/internal/config"
	"tariff-service/internal/domain/subscription"
	"tariff-service/internal/domain/tariff"
	"tariff-service/internal/domain/user"
	"tariff-service/internal/events"
	"tariff-service/internal/metrics"
	"tariff-service/internal/pkg/clock"
	xerrors "tariff-service/internal/pkg/errors"
	"tariff-service/internal/repository/memory"
	"tariff-service/internal/service/catalog"
	"tariff-service/internal/service/history"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	adminID    int64 = 1
	userID     int64 = 10
	otherUser  int64 = 11
	locationID int64 = 100
	flats      int64 = 200
	houses     int64 = 201
)

var (
	start = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	admin = Actor{ID: adminID, Admin: true}
	owner = Actor{ID: userID}
)

type fixture struct {
	svc     *SubscriptionService
	store   *memory.Store
	clock   *clock.Manual
	events  *events.Recorder
	metrics *metrics.Metrics
	demo    *tariff.Tariff
	week    *tariff.Tariff
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	ctx := context.Background()

	store := memory.NewStore()
	store.PutUser(user.User{ID: adminID, Role: user.RoleAdmin})
	store.PutUser(user.User{ID: userID, Role: user.RoleUser})
	store.PutUser(user.User{ID: otherUser, Role: user.RoleUser})
	store.PutLocation(tariff.Location{ID: locationID, Name: "Downtown"})
	store.PutCategory(tariff.Category{ID: flats, Name: "Apartments"})
	store.PutCategory(tariff.Category{ID: houses, Name: "Houses"})

	cat := catalog.NewCatalogService(store, cache.NopPriceCache{},
		catalog.Config{CacheSize: 16, CacheTTL: time.Minute}, zap.NewNop())
	demo, err := cat.CreateTariff(ctx, &tariff.CreateTariffRequest{
		Name: "Demo", Code: tariff.CodeDemo, DurationHours: 24, IsActive: true,
	})
	require.NoError(t, err)
	week, err := cat.CreateTariff(ctx, &tariff.CreateTariffRequest{
		Name: "Week", Code: "week1", DurationHours: 168, BasePrice: 50, IsActive: true,
	})
	require.NoError(t, err)

	f := &fixture{
		store:   store,
		clock:   clock.NewManual(start),
		events:  &events.Recorder{},
		metrics: metrics.New(prometheus.NewRegistry()),
		demo:    demo,
		week:    week,
	}
	f.svc = NewSubscriptionService(
		store, cat, history.NewRecorder(store, zap.NewNop()), f.events, f.metrics,
		subscription.NewThresholdTable(72*time.Hour), f.clock, cfg, zap.NewNop(),
	)
	return f
}

func defaultConfig() Config {
	return Config{RenewalMode: config.RenewalModeApproval, ActivateConcurrency: 4}
}

func hours(h int) *int { return &h }

func (f *fixture) find(t *testing.T, id int64) *subscription.Subscription {
	t.Helper()
	sub, err := f.store.Subscriptions().FindByID(context.Background(), id)
	require.NoError(t, err)
	return sub
}

func (f *fixture) actions(t *testing.T, id int64) []subscription.Action {
	t.Helper()
	resp, err := f.svc.History(context.Background(), &subscription.HistoryFilters{SubscriptionID: &id})
	require.NoError(t, err)
	out := make([]subscription.Action, 0, len(resp.Entries))
	for _, e := range resp.Entries {
		out = append(out, e.Action)
	}
	return out
}

func (f *fixture) grant(t *testing.T, tariffID, categoryID int64, overrideHours *int) *subscription.Subscription {
	t.Helper()
	sub, err := f.svc.Grant(context.Background(), adminID, &subscription.GrantRequest{
		UserID: userID, TariffID: tariffID, CategoryID: categoryID, LocationID: locationID,
		ActivateParams: subscription.ActivateParams{DurationOverrideHours: overrideHours},
	})
	require.NoError(t, err)
	return sub
}

func TestRequestConcurrentSingleWinner(t *testing.T) {
	f := newFixture(t, defaultConfig())

	const callers = 12
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Request(context.Background(), userID, f.week.ID, flats, locationID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, xerrors.ErrConflict):
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, callers-1, conflicts)
}

func TestRequestCreatesPendingWithHistory(t *testing.T) {
	f := newFixture(t, defaultConfig())

	sub, err := f.svc.Request(context.Background(), userID, f.week.ID, flats, locationID)
	require.NoError(t, err)

	assert.Equal(t, subscription.StatusPending, sub.Status)
	assert.Regexp(t, `^SUB-[0-9A-Z]{26}$`, sub.Reference)
	assert.False(t, sub.StartAt.Valid)
	assert.True(t, sub.Enabled)
	assert.Equal(t, []subscription.Action{subscription.ActionRequested}, f.actions(t, sub.ID))
	assert.Equal(t, []string{"subscription.requested"}, f.events.Types())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Transitions().WithLabelValues("requested")))
}

func TestRequestRegistersFirstTimeUser(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()
	const newcomer, other int64 = 501, 502

	demo, err := f.svc.Request(ctx, newcomer, f.demo.ID, flats, locationID)
	require.NoError(t, err)
	u, err := f.store.Users().FindByID(ctx, newcomer)
	require.NoError(t, err)
	assert.True(t, u.TrialUsed)
	assert.Equal(t, start, demo.CreatedAt)

	_, err = f.svc.Request(ctx, other, f.week.ID, flats, locationID)
	require.NoError(t, err)

	granted, err := f.svc.Grant(ctx, adminID, &subscription.GrantRequest{
		UserID: 503, TariffID: f.week.ID, CategoryID: flats, LocationID: locationID,
	})
	require.NoError(t, err)
	_, err = f.store.Users().FindByID(ctx, 503)
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	changed, err := f.svc.ToggleEnabled(ctx, Actor{ID: 503}, granted.ID, false)
	require.NoError(t, err)
	require.True(t, changed)
	got := f.find(t, granted.ID)
	assert.Equal(t, start, got.CreatedAt)
	assert.Equal(t, start.Add(time.Hour), got.UpdatedAt)
}

func TestRequestRejectsUnknownCatalogRows(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	_, err := f.svc.Request(ctx, userID, 9999, flats, locationID)
	assert.ErrorIs(t, err, xerrors.ErrNotFound)

	_, err = f.svc.Request(ctx, userID, f.week.ID, 9999, locationID)
	assert.ErrorIs(t, err, xerrors.ErrNotFound)

	_, err = f.svc.Request(ctx, userID, f.week.ID, flats, 0)
	assert.ErrorIs(t, err, xerrors.ErrValidation)
}

func TestActivateSetsWindowAndPrice(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	sub, err := f.svc.Request(ctx, userID, f.week.ID, flats, locationID)
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	activated, err := f.svc.Activate(ctx, sub.ID, adminID, subscription.ActivateParams{
		PaymentMethod: "cash", Notes: "paid at desk",
	})
	require.NoError(t, err)

	now := start.Add(time.Hour)
	assert.Equal(t, subscription.StatusActive, activated.Status)
	assert.True(t, activated.StartAt.Time.Equal(now))
	assert.True(t, activated.EndAt.Time.Equal(now.Add(168*time.Hour)))
	assert.Equal(t, 50.0, activated.PricePaid)
	assert.Equal(t, adminID, activated.ApproverID.Int64)
	assert.Equal(t, "paid at desk", activated.AdminNotes.String)

	resp, err := f.svc.History(ctx, &subscription.HistoryFilters{SubscriptionID: &sub.ID})
	require.NoError(t, err)
	require.Len(t, resp.Entries, 2)
	var entry subscription.HistoryEntry
	for _, e := range resp.Entries {
		if e.Action == subscription.ActionActivated {
			entry = e
		}
	}
	assert.Equal(t, "Week", entry.TariffName)
	assert.Equal(t, "Apartments", entry.CategoryName)
	assert.Equal(t, "Downtown", entry.LocationName)
	assert.Equal(t, 50.0, entry.PricePaid)
	assert.Equal(t, "cash", entry.PaymentMethod.String)
}

func TestActivateDurationOverride(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	sub, err := f.svc.Request(ctx, userID, f.week.ID, flats, locationID)
	require.NoError(t, err)

	activated, err := f.svc.Activate(ctx, sub.ID, adminID, subscription.ActivateParams{DurationOverrideHours: hours(48)})
	require.NoError(t, err)
	assert.True(t, activated.EndAt.Time.Equal(start.Add(48*time.Hour)))

	other, err := f.svc.Request(ctx, userID, f.week.ID, houses, locationID)
	require.NoError(t, err)
	_, err = f.svc.Activate(ctx, other.ID, adminID, subscription.ActivateParams{DurationOverrideHours: hours(0)})
	assert.ErrorIs(t, err, xerrors.ErrValidation)
}

func TestActivateRejectsWrongState(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	sub, err := f.svc.Request(ctx, userID, f.week.ID, flats, locationID)
	require.NoError(t, err)
	_, err = f.svc.Activate(ctx, sub.ID, adminID, subscription.ActivateParams{})
	require.NoError(t, err)

	_, err = f.svc.Activate(ctx, sub.ID, adminID, subscription.ActivateParams{})
	assert.ErrorIs(t, err, xerrors.ErrInvalidState)

	_, err = f.svc.Activate(ctx, 999, adminID, subscription.ActivateParams{})
	assert.ErrorIs(t, err, xerrors.ErrNotFound)
}

func TestActivateMany(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	a, err := f.svc.Request(ctx, userID, f.week.ID, flats, locationID)
	require.NoError(t, err)
	b, err := f.svc.Request(ctx, userID, f.week.ID, houses, locationID)
	require.NoError(t, err)

	result := f.svc.ActivateMany(ctx, adminID, &subscription.ActivateManyRequest{IDs: []int64{a.ID, b.ID, 999}})

	require.Len(t, result.Succeeded, 2)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, int64(999), result.Failed[0].ID)
	assert.Equal(t, "not_found", result.Failed[0].Kind)
	for _, s := range result.Succeeded {
		assert.Equal(t, subscription.StatusActive, s.Status)
	}
}

func TestExtendKeepsUnusedTime(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	sub := f.grant(t, f.week.ID, flats, hours(240))
	require.True(t, sub.EndAt.Time.Equal(start.Add(10*24*time.Hour)))

	extended, err := f.svc.Extend(ctx, sub.ID, adminID, subscription.ExtendParams{})
	require.NoError(t, err)

	assert.True(t, extended.EndAt.Time.Equal(start.Add(10*24*time.Hour+168*time.Hour)))
	assert.False(t, extended.EndAt.Time.Equal(start.Add(168*time.Hour)))
	assert.Equal(t, 100.0, extended.PricePaid)
	assert.Contains(t, f.actions(t, sub.ID), subscription.ActionExtended)
}

func TestExtendNewPriceAndState(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	sub := f.grant(t, f.week.ID, flats, nil)
	price := 20.0
	extended, err := f.svc.Extend(ctx, sub.ID, adminID, subscription.ExtendParams{NewPrice: &price})
	require.NoError(t, err)
	assert.Equal(t, 70.0, extended.PricePaid)

	pending, err := f.svc.Request(ctx, userID, f.week.ID, houses, locationID)
	require.NoError(t, err)
	_, err = f.svc.Extend(ctx, pending.ID, adminID, subscription.ExtendParams{})
	assert.ErrorIs(t, err, xerrors.ErrInvalidState)
}

func TestExtendResetsOnlyUncrossedWatermarks(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	sub := f.grant(t, f.week.ID, flats, hours(48))
	f.store.Mutate(sub.ID, func(s *subscription.Subscription) {
		s.Watermarks.Set(subscription.Watermark3d, start)
	})

	short, err := f.svc.Extend(ctx, sub.ID, adminID, subscription.ExtendParams{DurationOverrideHours: hours(1)})
	require.NoError(t, err)
	assert.True(t, short.Watermarks.IsSet(subscription.Watermark3d), "3d window is still crossed")

	long, err := f.svc.Extend(ctx, sub.ID, adminID, subscription.ExtendParams{})
	require.NoError(t, err)
	assert.False(t, long.Watermarks.IsSet(subscription.Watermark3d))
}

func TestConcurrentExtendsDoNotLoseTime(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()
	sub := f.grant(t, f.week.ID, flats, nil)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.svc.Extend(ctx, sub.ID, adminID, subscription.ExtendParams{})
		}()
	}
	wg.Wait()

	applied := 0
	for _, err := range errs {
		if err == nil {
			applied++
			continue
		}
		assert.ErrorIs(t, err, xerrors.ErrConflict)
	}
	got := f.find(t, sub.ID)
	assert.True(t, got.EndAt.Time.Equal(start.Add(time.Duration(1+applied)*168*time.Hour)))
}

func TestDemoTrialOnce(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	first, err := f.svc.Request(ctx, userID, f.demo.ID, flats, locationID)
	require.NoError(t, err)
	assert.True(t, first.IsDemo)

	ok, err := f.svc.Cancel(ctx, owner, first.ID, "changed my mind")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.svc.Request(ctx, userID, f.demo.ID, flats, locationID)
	assert.ErrorIs(t, err, xerrors.ErrTrialAlreadyUsed)

	_, err = f.svc.Request(ctx, otherUser, f.demo.ID, flats, locationID)
	assert.NoError(t, err)
}

func TestRequestBatch(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	_, err := f.svc.RequestBatch(ctx, userID, &subscription.RequestSubscriptionRequest{
		TariffID: f.demo.ID, LocationID: locationID, CategoryIDs: []int64{flats, houses},
	})
	assert.ErrorIs(t, err, xerrors.ErrMultiCategoryDemo)

	u, err := f.store.Users().FindByID(ctx, userID)
	require.NoError(t, err)
	assert.False(t, u.TrialUsed)

	_, err = f.svc.Request(ctx, userID, f.week.ID, flats, locationID)
	require.NoError(t, err)

	result, err := f.svc.RequestBatch(ctx, userID, &subscription.RequestSubscriptionRequest{
		TariffID: f.week.ID, LocationID: locationID, CategoryIDs: []int64{flats, houses, houses},
	})
	require.NoError(t, err)
	require.Len(t, result.Succeeded, 1)
	assert.Equal(t, houses, result.Succeeded[0].CategoryID)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, flats, result.Failed[0].ID)
	assert.Equal(t, "conflict", result.Failed[0].Kind)
}

func TestUpgradeCancelsDemo(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	demo, err := f.svc.Request(ctx, userID, f.demo.ID, flats, locationID)
	require.NoError(t, err)
	_, err = f.svc.Activate(ctx, demo.ID, adminID, subscription.ActivateParams{})
	require.NoError(t, err)

	paid, err := f.svc.Request(ctx, userID, f.week.ID, flats, locationID)
	require.NoError(t, err)

	activated, err := f.svc.Activate(ctx, paid.ID, adminID, subscription.ActivateParams{})
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, activated.Status)

	cancelled := f.find(t, demo.ID)
	assert.Equal(t, subscription.StatusCancelled, cancelled.Status)
	assert.Equal(t, autoCancelReason, cancelled.CancelReason.String)
	assert.Contains(t, f.actions(t, demo.ID), subscription.ActionCancelled)
	assert.Contains(t, f.events.Types(), "subscription.cancelled")
}

func TestDemoCannotBeRenewed(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	demo, err := f.svc.Request(ctx, userID, f.demo.ID, flats, locationID)
	require.NoError(t, err)
	_, err = f.svc.Activate(ctx, demo.ID, adminID, subscription.ActivateParams{})
	require.NoError(t, err)
	paid, err := f.svc.Request(ctx, userID, f.week.ID, flats, locationID)
	require.NoError(t, err)

	_, err = f.svc.RequestExtend(ctx, owner, demo.ID)
	assert.ErrorIs(t, err, xerrors.ErrInvalidState)
	_, err = f.svc.Extend(ctx, demo.ID, adminID, subscription.ExtendParams{})
	assert.ErrorIs(t, err, xerrors.ErrInvalidState)
	assert.Equal(t, subscription.StatusActive, f.find(t, demo.ID).Status)

	_, err = f.svc.Activate(ctx, paid.ID, adminID, subscription.ActivateParams{})
	require.NoError(t, err)

	open, err := f.store.Subscriptions().FindOpenByKey(ctx, paid.Key())
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, paid.ID, open[0].ID)
}

func TestUpgradeCancelsRenewingDemo(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	demo, err := f.svc.Request(ctx, userID, f.demo.ID, flats, locationID)
	require.NoError(t, err)
	_, err = f.svc.Activate(ctx, demo.ID, adminID, subscription.ActivateParams{})
	require.NoError(t, err)
	// a renewal left over from before renewals of demos were refused
	ok, err := f.store.Subscriptions().TransitionStatus(ctx, demo.ID,
		[]subscription.Status{subscription.StatusActive}, subscription.StatusExtendPending, start)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.svc.Activate(ctx, demo.ID, adminID, subscription.ActivateParams{})
	assert.ErrorIs(t, err, xerrors.ErrInvalidState)

	paid, err := f.svc.Request(ctx, userID, f.week.ID, flats, locationID)
	require.NoError(t, err)
	_, err = f.svc.Activate(ctx, paid.ID, adminID, subscription.ActivateParams{})
	require.NoError(t, err)

	assert.Equal(t, subscription.StatusCancelled, f.find(t, demo.ID).Status)
	_, err = f.svc.Activate(ctx, demo.ID, adminID, subscription.ActivateParams{})
	assert.ErrorIs(t, err, xerrors.ErrInvalidState)

	open, err := f.store.Subscriptions().FindOpenByKey(ctx, paid.Key())
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, paid.ID, open[0].ID)
}

func TestUpgradeIsAtomic(t *testing.T) {
	for _, op := range []string{memory.OpHistoryCreate, memory.OpSubscriptionsActive, memory.OpCommit} {
		t.Run(op, func(t *testing.T) {
			f := newFixture(t, defaultConfig())
			ctx := context.Background()

			demo, err := f.svc.Request(ctx, userID, f.demo.ID, flats, locationID)
			require.NoError(t, err)
			_, err = f.svc.Activate(ctx, demo.ID, adminID, subscription.ActivateParams{})
			require.NoError(t, err)
			paid, err := f.svc.Request(ctx, userID, f.week.ID, flats, locationID)
			require.NoError(t, err)
			published := len(f.events.Events())

			f.store.FailNext(op, errors.New("injected failure"))
			_, err = f.svc.Activate(ctx, paid.ID, adminID, subscription.ActivateParams{})
			require.Error(t, err)

			assert.Equal(t, subscription.StatusActive, f.find(t, demo.ID).Status)
			assert.Equal(t, subscription.StatusPending, f.find(t, paid.ID).Status)
			assert.NotContains(t, f.actions(t, demo.ID), subscription.ActionCancelled)
			assert.Len(t, f.events.Events(), published)

			_, err = f.svc.Activate(ctx, paid.ID, adminID, subscription.ActivateParams{})
			require.NoError(t, err)
			assert.Equal(t, subscription.StatusCancelled, f.find(t, demo.ID).Status)
		})
	}
}

func TestGrantReplacesDemo(t *testing.T) {
	f := newFixture(t, defaultConfig())

	demo := f.grant(t, f.demo.ID, flats, nil)
	paid := f.grant(t, f.week.ID, flats, nil)

	assert.Equal(t, subscription.StatusActive, paid.Status)
	assert.Equal(t, 50.0, paid.PricePaid)
	assert.Equal(t, subscription.StatusCancelled, f.find(t, demo.ID).Status)
	assert.Equal(t, []subscription.Action{subscription.ActionCreated}, f.actions(t, paid.ID))

	_, err := f.svc.Grant(context.Background(), adminID, &subscription.GrantRequest{
		UserID: userID, TariffID: f.week.ID, CategoryID: flats, LocationID: locationID,
	})
	assert.ErrorIs(t, err, xerrors.ErrConflict)
}

func TestRequestExtendApproval(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()
	sub := f.grant(t, f.week.ID, flats, nil)

	pending, err := f.svc.RequestExtend(ctx, owner, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusExtendPending, pending.Status)
	assert.True(t, pending.EndAt.Time.Equal(sub.EndAt.Time))

	_, err = f.svc.RequestExtend(ctx, owner, sub.ID)
	assert.ErrorIs(t, err, xerrors.ErrInvalidState)

	renewed, err := f.svc.Activate(ctx, sub.ID, adminID, subscription.ActivateParams{PaymentMethod: "card"})
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, renewed.Status)
	assert.True(t, renewed.EndAt.Time.Equal(start.Add(2*168*time.Hour)))
	assert.Equal(t, 100.0, renewed.PricePaid)
	assert.Equal(t, []subscription.Action{
		subscription.ActionCreated, subscription.ActionExtendRequested, subscription.ActionExtended,
	}, reversed(f.actions(t, sub.ID)))
}

func TestRequestExtendDirect(t *testing.T) {
	cfg := defaultConfig()
	cfg.RenewalMode = config.RenewalModeDirect
	f := newFixture(t, cfg)
	sub := f.grant(t, f.week.ID, flats, nil)

	renewed, err := f.svc.RequestExtend(context.Background(), owner, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, renewed.Status)
	assert.True(t, renewed.EndAt.Time.Equal(start.Add(2*168*time.Hour)))
	assert.Equal(t, adminID, renewed.ApproverID.Int64)
}

func TestRequestExtendOwnerOnly(t *testing.T) {
	f := newFixture(t, defaultConfig())
	sub := f.grant(t, f.week.ID, flats, nil)

	_, err := f.svc.RequestExtend(context.Background(), Actor{ID: otherUser}, sub.ID)
	assert.ErrorIs(t, err, xerrors.ErrForbidden)
}

func TestCancel(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	sub, err := f.svc.Request(ctx, userID, f.week.ID, flats, locationID)
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, Actor{ID: otherUser}, sub.ID, "")
	assert.ErrorIs(t, err, xerrors.ErrForbidden)

	ok, err := f.svc.Cancel(ctx, owner, sub.ID, "too expensive")
	require.NoError(t, err)
	assert.True(t, ok)
	got := f.find(t, sub.ID)
	assert.Equal(t, subscription.StatusCancelled, got.Status)
	assert.Equal(t, "too expensive", got.CancelReason.String)

	ok, err = f.svc.Cancel(ctx, owner, sub.ID, "again")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCancelExpiredIsNoop(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()
	sub := f.grant(t, f.week.ID, flats, nil)

	f.clock.Advance(169 * time.Hour)
	expired, err := f.svc.Expire(ctx, sub.ID)
	require.NoError(t, err)
	require.True(t, expired)

	ok, err := f.svc.Cancel(ctx, admin, sub.ID, "late")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, subscription.StatusExpired, f.find(t, sub.ID).Status)
}

func TestExpireOnce(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()
	sub := f.grant(t, f.week.ID, flats, nil)

	ok, err := f.svc.Expire(ctx, sub.ID)
	require.NoError(t, err)
	assert.False(t, ok, "end_at still in the future")

	f.clock.Advance(168 * time.Hour)
	ok, err = f.svc.Expire(ctx, sub.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.svc.Expire(ctx, sub.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, []subscription.Action{subscription.ActionCreated, subscription.ActionExpired},
		reversed(f.actions(t, sub.ID)))
}

func TestToggleEnabled(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()
	sub := f.grant(t, f.week.ID, flats, nil)

	ok, err := f.svc.HasAccess(ctx, userID, flats, locationID)
	require.NoError(t, err)
	assert.True(t, ok)

	changed, err := f.svc.ToggleEnabled(ctx, owner, sub.ID, false)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = f.svc.ToggleEnabled(ctx, owner, sub.ID, false)
	require.NoError(t, err)
	assert.False(t, changed)

	ok, err = f.svc.HasAccess(ctx, userID, flats, locationID)
	require.NoError(t, err)
	assert.False(t, ok)

	pending, err := f.svc.Request(ctx, userID, f.week.ID, houses, locationID)
	require.NoError(t, err)
	_, err = f.svc.ToggleEnabled(ctx, owner, pending.ID, false)
	assert.ErrorIs(t, err, xerrors.ErrInvalidState)
}

func TestGetRemainingTime(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()
	sub := f.grant(t, f.week.ID, flats, hours(26))

	f.clock.Advance(90 * time.Minute)
	rt, err := f.svc.GetRemainingTime(ctx, owner, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(24*3600+30*60), rt.RemainingSeconds)
	assert.Equal(t, int64(1), rt.Days)
	assert.Equal(t, int64(0), rt.Hours)
	assert.Equal(t, int64(30), rt.Minutes)

	_, err = f.svc.GetRemainingTime(ctx, Actor{ID: otherUser}, sub.ID)
	assert.ErrorIs(t, err, xerrors.ErrNotFound)

	f.clock.Advance(48 * time.Hour)
	rt, err = f.svc.GetRemainingTime(ctx, owner, sub.ID)
	require.NoError(t, err)
	assert.Zero(t, rt.RemainingSeconds)
}

func TestListAndStats(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	f.grant(t, f.week.ID, flats, nil)
	_, err := f.svc.Request(ctx, userID, f.week.ID, houses, locationID)
	require.NoError(t, err)

	active := []subscription.Status{subscription.StatusActive}
	resp, err := f.svc.List(ctx, &subscription.ListFilters{Status: active})
	require.NoError(t, err)
	assert.Equal(t, int64(1), resp.Total)
	assert.Equal(t, 1, resp.TotalPages)
	assert.Equal(t, 7, resp.Subscriptions[0].DaysLeft)

	_, err = f.svc.List(ctx, &subscription.ListFilters{Status: []subscription.Status{"paused"}})
	assert.ErrorIs(t, err, xerrors.ErrValidation)

	uid := userID
	stats, err := f.svc.Stats(ctx, &uid)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Total)
	assert.Equal(t, int64(1), stats.Active)
	assert.Equal(t, int64(1), stats.Pending)
	assert.Equal(t, 50.0, stats.Revenue)
}

func TestPublishFailureDoesNotFailTransition(t *testing.T) {
	f := newFixture(t, defaultConfig())
	f.events.Err = errors.New("broker unavailable")

	sub, err := f.svc.Request(context.Background(), userID, f.week.ID, flats, locationID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusPending, f.find(t, sub.ID).Status)
	assert.Empty(t, f.events.Events())
}

// reversed turns the newest-first history listing into chronological order.
func reversed(in []subscription.Action) []subscription.Action {
	out := make([]subscription.Action, len(in))
	for i, a := range in {
		out[len(in)-1-i] = a
	}
	return out
}
