package history

import (
	"context"
	"testing"
	"time"

	"tariff-service/internal/domain/subscription"
	"tariff-service/internal/repository"
	"tariff-service/internal/repository/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRecordKeepsNamesAndFilters(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	rec := NewRecorder(store, zap.NewNop())
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	sub := &subscription.Subscription{ID: 5, UserID: 9}
	names := Names{Tariff: "Premium 31", Category: "Apartments", Location: "Downtown"}

	err := store.Atomic(ctx, func(tx repository.Store) error {
		if err := rec.Record(ctx, tx, sub, names, Entry{Action: subscription.ActionRequested, At: at}); err != nil {
			return err
		}
		return rec.Record(ctx, tx, sub, names, Entry{
			Action: subscription.ActionActivated, At: at.Add(time.Hour),
			PricePaid: 25, PaymentMethod: "cash", ActorID: 1,
		})
	})
	require.NoError(t, err)

	subID := sub.ID
	resp, err := rec.List(ctx, &subscription.HistoryFilters{SubscriptionID: &subID})
	require.NoError(t, err)
	require.EqualValues(t, 2, resp.Total)
	assert.Equal(t, 1, resp.TotalPages)

	newest := resp.Entries[0]
	assert.Equal(t, subscription.ActionActivated, newest.Action)
	assert.Equal(t, "Premium 31", newest.TariffName)
	assert.Equal(t, "Downtown", newest.LocationName)
	assert.Equal(t, "cash", newest.PaymentMethod.String)
	assert.Equal(t, int64(1), newest.ActorID.Int64)

	action := subscription.ActionRequested
	resp, err = rec.List(ctx, &subscription.HistoryFilters{Action: &action})
	require.NoError(t, err)
	require.Len(t, resp.Entries, 1)
	assert.False(t, resp.Entries[0].PaymentMethod.Valid)
}
