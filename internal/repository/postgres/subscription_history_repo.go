// internal/repository/postgres/subscription_history_repo.go
package postgres

import (
	"context"
	"fmt"
	"strings"

	"tariff-service/internal/domain/subscription"
	xerrors "tariff-service/internal/pkg/errors"
)

type HistoryRepository struct {
	db Querier
}

func NewHistoryRepository(db Querier) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Create appends an audit row. Rows are never updated.
func (r *HistoryRepository) Create(ctx context.Context, e *subscription.HistoryEntry) error {
	query := `
		INSERT INTO subscription_history (
			subscription_id, user_id, tariff_name, category_name, location_name,
			price_paid, payment_method, action, action_at, actor_id, notes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`

	err := r.db.QueryRow(
		ctx, query,
		e.SubscriptionID, e.UserID, e.TariffName, e.CategoryName, e.LocationName,
		e.PricePaid, e.PaymentMethod, string(e.Action), e.ActionAt, e.ActorID, e.Notes,
	).Scan(&e.ID)
	if err != nil {
		return xerrors.Fail(err, "failed to record subscription history")
	}

	return nil
}

func (r *HistoryRepository) List(ctx context.Context, filters *subscription.HistoryFilters) ([]subscription.HistoryEntry, int64, error) {
	filters.Normalize()

	conditions := []string{"1=1"}
	args := []interface{}{}
	argPos := 1

	if filters.UserID != nil {
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", argPos))
		args = append(args, *filters.UserID)
		argPos++
	}

	if filters.SubscriptionID != nil {
		conditions = append(conditions, fmt.Sprintf("subscription_id = $%d", argPos))
		args = append(args, *filters.SubscriptionID)
		argPos++
	}

	if filters.Action != nil {
		conditions = append(conditions, fmt.Sprintf("action = $%d", argPos))
		args = append(args, string(*filters.Action))
		argPos++
	}

	if filters.From != nil {
		conditions = append(conditions, fmt.Sprintf("action_at >= $%d", argPos))
		args = append(args, *filters.From)
		argPos++
	}

	if filters.To != nil {
		conditions = append(conditions, fmt.Sprintf("action_at <= $%d", argPos))
		args = append(args, *filters.To)
		argPos++
	}

	whereClause := strings.Join(conditions, " AND ")

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM subscription_history WHERE %s", whereClause)
	var total int64
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, xerrors.Fail(err, "failed to count history")
	}

	offset := (filters.Page - 1) * filters.PageSize

	query := fmt.Sprintf(`
		SELECT id, subscription_id, user_id, tariff_name, category_name, location_name,
		       price_paid, payment_method, action, action_at, actor_id, notes
		FROM subscription_history
		WHERE %s
		ORDER BY action_at DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, whereClause, argPos, argPos+1)

	args = append(args, filters.PageSize, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, xerrors.Fail(err, "failed to list history")
	}
	defer rows.Close()

	entries := []subscription.HistoryEntry{}
	for rows.Next() {
		var e subscription.HistoryEntry
		if err := rows.Scan(
			&e.ID, &e.SubscriptionID, &e.UserID, &e.TariffName, &e.CategoryName, &e.LocationName,
			&e.PricePaid, &e.PaymentMethod, &e.Action, &e.ActionAt, &e.ActorID, &e.Notes,
		); err != nil {
			return nil, 0, xerrors.Fail(err, "failed to scan history entry")
		}
		entries = append(entries, e)
	}

	return entries, total, rows.Err()
}
