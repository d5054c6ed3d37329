// internal/service/history/recorder.go
package history

import (
	"context"
	"database/sql"
	"math"
	"time"

	"tariff-service/internal/domain/subscription"
	xerrors "tariff-service/internal/pkg/errors"
	"tariff-service/internal/repository"

	"go.uber.org/zap"
)

// Names are copied into every entry so the trail survives renames.
type Names struct {
	Tariff   string
	Category string
	Location string
}

// Entry describes one transition. PricePaid is the amount of this payment, not the
// subscription total.
type Entry struct {
	Action        subscription.Action
	At            time.Time
	PricePaid     float64
	PaymentMethod string
	ActorID       int64
	Notes         string
}

type Recorder struct {
	store  repository.Store
	logger *zap.Logger
}

func NewRecorder(store repository.Store, logger *zap.Logger) *Recorder {
	return &Recorder{store: store, logger: logger}
}

// Record appends an entry through tx, so it commits or rolls back with the transition.
func (r *Recorder) Record(ctx context.Context, tx repository.Store, sub *subscription.Subscription, names Names, e Entry) error {
	row := &subscription.HistoryEntry{
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		TariffName:     names.Tariff,
		CategoryName:   names.Category,
		LocationName:   names.Location,
		PricePaid:      e.PricePaid,
		Action:         e.Action,
		ActionAt:       e.At,
	}
	if e.PaymentMethod != "" {
		row.PaymentMethod = sql.NullString{String: e.PaymentMethod, Valid: true}
	}
	if e.ActorID != 0 {
		row.ActorID = sql.NullInt64{Int64: e.ActorID, Valid: true}
	}
	if e.Notes != "" {
		row.Notes = sql.NullString{String: e.Notes, Valid: true}
	}

	if err := tx.History().Create(ctx, row); err != nil {
		return xerrors.Fail(err, "failed to record history")
	}

	r.logger.Debug("history recorded",
		zap.Int64("subscription_id", sub.ID),
		zap.String("action", string(e.Action)),
	)
	return nil
}

func (r *Recorder) List(ctx context.Context, filters *subscription.HistoryFilters) (*subscription.HistoryResponse, error) {
	entries, total, err := r.store.History().List(ctx, filters)
	if err != nil {
		return nil, err
	}

	return &subscription.HistoryResponse{
		Entries:    entries,
		Total:      total,
		Page:       filters.Page,
		PageSize:   filters.PageSize,
		TotalPages: int(math.Ceil(float64(total) / float64(filters.PageSize))),
	}, nil
}
