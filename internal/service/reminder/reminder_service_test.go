package reminder

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"tariff-service/internal/domain/notification"
	"tariff-service/internal/domain/reminder"
	"tariff-service/internal/metrics"
	"tariff-service/internal/pkg/clock"
	xerrors "tariff-service/internal/pkg/errors"
	"tariff-service/internal/repository/memory"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const ownerID int64 = 10

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

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

func (s *sink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

func newService() (*ReminderService, *memory.Store, *clock.Manual) {
	store := memory.NewStore()
	clk := clock.NewManual(now)
	return NewReminderService(store, clk, zap.NewNop()), store, clk
}

func create(t *testing.T, svc *ReminderService, at time.Time, message string) *reminder.Reminder {
	t.Helper()
	rm, err := svc.Create(context.Background(), ownerID, &reminder.CreateReminderRequest{
		ObjectClientID: 5, RemindAt: at, Message: message,
	})
	require.NoError(t, err)
	return rm
}

func TestCreateValidates(t *testing.T) {
	svc, _, _ := newService()
	ctx := context.Background()

	cases := map[string]*reminder.CreateReminderRequest{
		"empty message": {ObjectClientID: 5, RemindAt: now, Message: "   "},
		"too long":      {ObjectClientID: 5, RemindAt: now, Message: strings.Repeat("x", reminder.MaxMessageLength+1)},
		"no time":       {ObjectClientID: 5, Message: "call back"},
		"no client":     {RemindAt: now, Message: "call back"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Create(ctx, ownerID, req)
			assert.ErrorIs(t, err, xerrors.ErrValidation)
		})
	}

	rm, err := svc.Create(ctx, ownerID, &reminder.CreateReminderRequest{
		ObjectClientID: 5, RemindAt: now, Message: strings.Repeat("x", reminder.MaxMessageLength),
	})
	require.NoError(t, err)
	assert.False(t, rm.IsSent)
}

func TestListHidesSentByDefault(t *testing.T) {
	svc, store, _ := newService()
	ctx := context.Background()

	first := create(t, svc, now.Add(-time.Minute), "call back")
	create(t, svc, now.Add(time.Hour), "send contract")
	_, err := store.Reminders().MarkSent(ctx, first.ID, now)
	require.NoError(t, err)

	resp, err := svc.List(ctx, ownerID, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), resp.Total)
	assert.Equal(t, "send contract", resp.Reminders[0].Message)

	resp, err = svc.List(ctx, ownerID, &reminder.ListFilters{IncludeSent: true})
	require.NoError(t, err)
	assert.Equal(t, int64(2), resp.Total)
	assert.Equal(t, 20, resp.PageSize)
}

func TestDeleteOnlyUnsent(t *testing.T) {
	svc, store, _ := newService()
	ctx := context.Background()

	pending := create(t, svc, now.Add(time.Hour), "later")
	sent := create(t, svc, now.Add(-time.Hour), "earlier")
	_, err := store.Reminders().MarkSent(ctx, sent.ID, now)
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Delete(ctx, ownerID, sent.ID), xerrors.ErrInvalidState)
	assert.ErrorIs(t, svc.Delete(ctx, ownerID+1, pending.ID), xerrors.ErrNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, ownerID, 999), xerrors.ErrNotFound)

	require.NoError(t, svc.Delete(ctx, ownerID, pending.ID))
	_, err = store.Reminders().FindByID(ctx, pending.ID)
	assert.ErrorIs(t, err, xerrors.ErrNotFound)
}

func TestDispatchDeliversDueOnly(t *testing.T) {
	svc, store, clk := newService()
	ctx := context.Background()
	out := &sink{}
	d := NewDispatcher(store, out, metrics.New(prometheus.NewRegistry()), clk, DispatcherConfig{}, zap.NewNop())

	due := create(t, svc, now.Add(-time.Minute), "call back")
	create(t, svc, now.Add(time.Hour), "send contract")

	res, err := d.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	require.Equal(t, 1, out.count())
	assert.Equal(t, ownerID, out.msgs[0].IdentityID)
	assert.Equal(t, notification.TypeReminder, out.msgs[0].Type)
	assert.Equal(t, due.ID, out.msgs[0].Metadata["reminder_id"])

	got, err := store.Reminders().FindByID(ctx, due.ID)
	require.NoError(t, err)
	assert.True(t, got.IsSent)
	assert.True(t, got.SentAt.Valid)

	res, err = d.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Due)
}

func TestConcurrentDispatchersDeliverOnce(t *testing.T) {
	svc, store, clk := newService()
	out := &sink{}
	m := metrics.New(prometheus.NewRegistry())

	rm := create(t, svc, now.Add(-time.Minute), "call back")

	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d := NewDispatcher(store, out, m, clk, DispatcherConfig{BatchSize: 10}, zap.NewNop())
			_, err := d.Run(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, out.count())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Reminders().WithLabelValues("sent")))

	got, err := store.Reminders().FindByID(context.Background(), rm.ID)
	require.NoError(t, err)
	assert.True(t, got.IsSent)
}

func TestDispatchSendFailureIsNotRetried(t *testing.T) {
	svc, store, clk := newService()
	out := &sink{err: errors.New("push failed")}
	m := metrics.New(prometheus.NewRegistry())
	d := NewDispatcher(store, out, m, clk, DispatcherConfig{}, zap.NewNop())

	create(t, svc, now.Add(-time.Minute), "call back")

	res, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Reminders().WithLabelValues("failed")))

	out.err = nil
	res, err = d.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Due)
	assert.Zero(t, out.count())
}

func TestDispatchSurvivesClaimError(t *testing.T) {
	svc, store, clk := newService()
	out := &sink{}
	d := NewDispatcher(store, out, metrics.New(prometheus.NewRegistry()), clk, DispatcherConfig{}, zap.NewNop())

	create(t, svc, now.Add(-2*time.Minute), "first")
	create(t, svc, now.Add(-time.Minute), "second")
	store.FailNext(memory.OpRemindersMarkSent, errors.New("connection reset"))

	res, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Sent)

	// The row whose claim failed is still due.
	res, err = d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, 2, out.count())
}
