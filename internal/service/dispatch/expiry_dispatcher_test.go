package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tariff-service/internal/cache"
	"tariff-service/internal/config"
	"tariff-service/internal/domain/notification"
	"tariff-service/internal/domain/subscription"
	"tariff-service/internal/domain/tariff"
	"tariff-service/internal/domain/user"
	"tariff-service/internal/events"
	"tariff-service/internal/metrics"
	"tariff-service/internal/pkg/clock"
	"tariff-service/internal/repository/memory"
	"tariff-service/internal/service/catalog"
	"tariff-service/internal/service/history"
	notifsvc "tariff-service/internal/service/notification"
	subsvc "tariff-service/internal/service/subscription"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	adminID    int64 = 1
	userID     int64 = 10
	locationID int64 = 100
	flats      int64 = 200
	houses     int64 = 201
)

var start = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type sink struct {
	mu   sync.Mutex
	msgs []notification.Message
	err  error
}

func (s *sink) Send(_ context.Context, msg notification.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *sink) sent() []notification.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notification.Message(nil), s.msgs...)
}

type fixture struct {
	store      *memory.Store
	ledger     *subsvc.SubscriptionService
	dispatcher *ExpiryDispatcher
	clock      *clock.Manual
	metrics    *metrics.Metrics
	sink       *sink
	week       *tariff.Tariff
	demo       *tariff.Tariff
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	store := memory.NewStore()
	store.PutUser(user.User{ID: adminID, Role: user.RoleAdmin})
	store.PutUser(user.User{ID: userID, Role: user.RoleUser})
	store.PutLocation(tariff.Location{ID: locationID, Name: "Downtown"})
	store.PutCategory(tariff.Category{ID: flats, Name: "Apartments"})
	store.PutCategory(tariff.Category{ID: houses, Name: "Houses"})

	cat := catalog.NewCatalogService(store, cache.NopPriceCache{},
		catalog.Config{CacheSize: 16, CacheTTL: time.Minute}, zap.NewNop())
	week, err := cat.CreateTariff(ctx, &tariff.CreateTariffRequest{
		Name: "Week", Code: "week1", DurationHours: 168, BasePrice: 50, IsActive: true,
	})
	require.NoError(t, err)
	demo, err := cat.CreateTariff(ctx, &tariff.CreateTariffRequest{
		Name: "Demo", Code: tariff.CodeDemo, DurationHours: 24, IsActive: true,
	})
	require.NoError(t, err)

	clk := clock.NewManual(start)
	m := metrics.New(prometheus.NewRegistry())
	thresholds := subscription.NewThresholdTable(72 * time.Hour)
	ledger := subsvc.NewSubscriptionService(
		store, cat, history.NewRecorder(store, zap.NewNop()), events.Nop{}, m,
		thresholds, clk,
		subsvc.Config{RenewalMode: config.RenewalModeApproval, ActivateConcurrency: 2},
		zap.NewNop(),
	)

	s := &sink{}
	return &fixture{
		store:      store,
		ledger:     ledger,
		dispatcher: NewExpiryDispatcher(store, ledger, cat, thresholds, s, m, clk, Config{BatchSize: 50}, zap.NewNop()),
		clock:      clk,
		metrics:    m,
		sink:       s,
		week:       week,
		demo:       demo,
	}
}

func (f *fixture) grant(t *testing.T, tariffID, categoryID int64) *subscription.Subscription {
	t.Helper()
	sub, err := f.ledger.Grant(context.Background(), adminID, &subscription.GrantRequest{
		UserID: userID, TariffID: tariffID, CategoryID: categoryID, LocationID: locationID,
	})
	require.NoError(t, err)
	return sub
}

func watermarks(msgs []notification.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Metadata["watermark"].(string))
	}
	return out
}

func TestWarningSentOncePerThreshold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.grant(t, f.week.ID, flats)

	f.clock.Advance(97 * time.Hour) // 71h left
	res, err := f.dispatcher.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)

	msgs := f.sink.sent()
	require.Len(t, msgs, 1)
	assert.Equal(t, notification.TypeExpiryWarning, msgs[0].Type)
	assert.Equal(t, userID, msgs[0].IdentityID)
	assert.Equal(t, "Subscription expires in 3 days", msgs[0].Title)

	got, err := f.store.Subscriptions().FindByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.True(t, got.Watermarks.IsSet(subscription.Watermark3d))
	assert.False(t, got.Watermarks.IsSet(subscription.Watermark1d))

	res, err = f.dispatcher.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Sent)
	assert.Len(t, f.sink.sent(), 1)

	f.clock.Advance(48 * time.Hour) // 23h left
	_, err = f.dispatcher.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"notified_3d", "notified_1d"}, watermarks(f.sink.sent()))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Claims().WithLabelValues("notified_1d", "won")))
}

func TestConcurrentSweepsSendOnce(t *testing.T) {
	f := newFixture(t)
	f.grant(t, f.week.ID, flats)
	f.clock.Advance(100 * time.Hour)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.dispatcher.Run(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, []string{"notified_3d"}, watermarks(f.sink.sent()))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Claims().WithLabelValues("notified_3d", "won")))
}

func TestShortTariffSendsEveryCrossedThreshold(t *testing.T) {
	f := newFixture(t)
	f.grant(t, f.demo.ID, flats)

	f.clock.Advance(23*time.Hour + 50*time.Minute)
	_, err := f.dispatcher.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"notified_1h", "notified_15m"}, watermarks(f.sink.sent()))
}

func TestChannelFailureDoesNotStopSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.grant(t, f.week.ID, flats)
	b := f.grant(t, f.week.ID, houses)

	f.sink.err = errors.New("smtp down")
	f.clock.Advance(100 * time.Hour)

	res, err := f.dispatcher.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Claimed)
	assert.Zero(t, res.Sent)
	assert.Zero(t, res.Failures)
	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.SendFailures().WithLabelValues("expiry_warning")))

	for _, id := range []int64{a.ID, b.ID} {
		got, err := f.store.Subscriptions().FindByID(ctx, id)
		require.NoError(t, err)
		assert.True(t, got.Watermarks.IsSet(subscription.Watermark3d))
	}

	// A lost send is not redelivered.
	f.sink.err = nil
	_, err = f.dispatcher.Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, f.sink.sent())
}

func TestRetryBudgetBoundsFailingSweep(t *testing.T) {
	f := newFixture(t)
	f.grant(t, f.week.ID, flats)
	f.grant(t, f.week.ID, houses)
	f.sink.err = errors.New("smtp down")

	endless := func() backoff.BackOff { return backoff.NewConstantBackOff(10 * time.Millisecond) }
	channel := notifsvc.NewRetryingChannel(f.sink, endless, zap.NewNop())
	thresholds := subscription.NewThresholdTable(72 * time.Hour)
	cat := catalog.NewCatalogService(f.store, cache.NopPriceCache{},
		catalog.Config{CacheSize: 16, CacheTTL: time.Minute}, zap.NewNop())
	d := NewExpiryDispatcher(f.store, f.ledger, cat, thresholds, channel, f.metrics, f.clock,
		Config{BatchSize: 50, RetryBudget: 100 * time.Millisecond}, zap.NewNop())

	f.clock.Advance(100 * time.Hour)
	began := time.Now()
	res, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Less(t, time.Since(began), 2*time.Second)
	assert.Equal(t, 2, res.Claimed)
	assert.Zero(t, res.Sent)
}

func TestExpiredNoticeSentOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.grant(t, f.week.ID, flats)

	f.clock.Advance(169 * time.Hour)
	res, err := f.dispatcher.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Expired)

	got, err := f.store.Subscriptions().FindByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusExpired, got.Status)
	assert.True(t, got.Watermarks.IsSet(subscription.WatermarkExpired))

	msgs := f.sink.sent()
	require.Len(t, msgs, 1)
	assert.Equal(t, notification.TypeExpired, msgs[0].Type)

	res, err = f.dispatcher.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Scanned)
	assert.Len(t, f.sink.sent(), 1)
}

func TestExpiredRowWithoutNoticeIsPickedUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.grant(t, f.week.ID, flats)

	f.clock.Advance(169 * time.Hour)
	ok, err := f.ledger.Expire(ctx, sub.ID)
	require.NoError(t, err)
	require.True(t, ok)

	res, err := f.dispatcher.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Expired)
	assert.Equal(t, []string{"notified_expired"}, watermarks(f.sink.sent()))
}
