// internal/repository/postgres/subscription_repo.go
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tariff-service/internal/domain/subscription"
	xerrors "tariff-service/internal/pkg/errors"
	"tariff-service/internal/repository"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

type SubscriptionRepository struct {
	db Querier
}

func NewSubscriptionRepository(db Querier) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

const subscriptionColumns = `
	id, reference, user_id, tariff_id, category_id, location_id, is_demo,
	price_paid, status, enabled, start_at, end_at, approver_id, approved_at,
	notified_3d, notified_1d, notified_1h, notified_15m, notified_expired,
	admin_notes, cancel_reason, cancelled_at, created_at, updated_at`

// daysLeftExpr is the derived days_left column; $1 of every list query is "now".
const daysLeftExpr = `COALESCE(GREATEST(0, FLOOR(EXTRACT(EPOCH FROM (end_at - $1)) / 86400)), 0)::int`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner, s *subscription.Subscription, extra ...any) error {
	dest := []any{
		&s.ID, &s.Reference, &s.UserID, &s.TariffID, &s.CategoryID, &s.LocationID, &s.IsDemo,
		&s.PricePaid, &s.Status, &s.Enabled, &s.StartAt, &s.EndAt, &s.ApproverID, &s.ApprovedAt,
		&s.Watermarks.Notified3d, &s.Watermarks.Notified1d, &s.Watermarks.Notified1h,
		&s.Watermarks.Notified15m, &s.Watermarks.NotifiedExpired,
		&s.AdminNotes, &s.CancelReason, &s.CancelledAt, &s.CreatedAt, &s.UpdatedAt,
	}
	return row.Scan(append(dest, extra...)...)
}

func statusStrings(statuses []subscription.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullIfZero(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

// Create inserts the row; the slot indexes reject a second open row per key.
func (r *SubscriptionRepository) Create(ctx context.Context, s *subscription.Subscription) error {
	query := `
		INSERT INTO subscriptions (
			reference, user_id, tariff_id, category_id, location_id, is_demo,
			price_paid, status, enabled, start_at, end_at, approver_id, approved_at, admin_notes,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(
		ctx, query,
		s.Reference, s.UserID, s.TariffID, s.CategoryID, s.LocationID, s.IsDemo,
		s.PricePaid, string(s.Status), s.Enabled, s.StartAt, s.EndAt, s.ApproverID, s.ApprovedAt, s.AdminNotes,
		s.CreatedAt,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return xerrors.Fail(mapError(err), "failed to create subscription")
	}

	return nil
}

func (r *SubscriptionRepository) FindByID(ctx context.Context, id int64) (*subscription.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`

	var s subscription.Subscription
	if err := scanSubscription(r.db.QueryRow(ctx, query, id), &s); err != nil {
		return nil, xerrors.Fail(mapError(err), fmt.Sprintf("failed to find subscription %d", id))
	}
	return &s, nil
}

func (r *SubscriptionRepository) FindOpenByKey(ctx context.Context, key subscription.Key) ([]subscription.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions
		WHERE user_id = $1 AND category_id = $2 AND location_id = $3 AND status = ANY($4)
		ORDER BY id`

	rows, err := r.db.Query(ctx, query, key.UserID, key.CategoryID, key.LocationID,
		pq.Array(statusStrings(subscription.OpenStatuses)))
	if err != nil {
		return nil, xerrors.Fail(err, "failed to find open subscriptions")
	}
	defer rows.Close()

	subs := []subscription.Subscription{}
	for rows.Next() {
		var s subscription.Subscription
		if err := scanSubscription(rows, &s); err != nil {
			return nil, xerrors.Fail(err, "failed to scan subscription")
		}
		subs = append(subs, s)
	}

	return subs, rows.Err()
}

// applied turns the affected-row count of a conditional update into the (bool, error) pair:
// zero rows is a lost compare-and-set unless the row does not exist at all.
func (r *SubscriptionRepository) applied(ctx context.Context, tag pgconn.CommandTag, id int64) (bool, error) {
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM subscriptions WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, xerrors.Fail(err, "failed to check subscription")
	}
	if !exists {
		return false, xerrors.ErrNotFound
	}
	return false, nil
}

func (r *SubscriptionRepository) Activate(ctx context.Context, id int64, upd repository.ActivationUpdate) (bool, error) {
	query := `
		UPDATE subscriptions
		SET status = 'active',
		    price_paid = price_paid + $3,
		    start_at = $4,
		    end_at = $5,
		    approver_id = $6,
		    approved_at = $7,
		    admin_notes = COALESCE($8, admin_notes),
		    updated_at = $7
		WHERE id = $1 AND status = $2
	`

	tag, err := r.db.Exec(ctx, query,
		id, string(upd.From), upd.PricePaid, upd.StartAt, upd.EndAt,
		nullIfZero(upd.ApproverID), upd.ApprovedAt, nullIfEmpty(upd.AdminNotes),
	)
	if err != nil {
		return false, xerrors.Fail(mapError(err), "failed to activate subscription")
	}
	return r.applied(ctx, tag, id)
}

func (r *SubscriptionRepository) Extend(ctx context.Context, id int64, upd repository.ExtensionUpdate) (bool, error) {
	sets := []string{
		"status = 'active'",
		"price_paid = price_paid + $4",
		"end_at = $5",
		"approver_id = COALESCE($6, approver_id)",
		"approved_at = $7",
		"admin_notes = COALESCE($8, admin_notes)",
		"updated_at = $7",
	}
	for _, w := range upd.Clear {
		if !w.Valid() {
			return false, fmt.Errorf("%w: unknown watermark %q", xerrors.ErrValidation, w)
		}
		sets = append(sets, w.Column()+" = NULL")
	}

	query := fmt.Sprintf(
		`UPDATE subscriptions SET %s WHERE id = $1 AND status = ANY($2) AND end_at = $3`,
		strings.Join(sets, ", "),
	)

	tag, err := r.db.Exec(ctx, query,
		id, pq.Array(statusStrings(upd.From)), upd.ExpectEnd, upd.AddedPrice, upd.EndAt,
		nullIfZero(upd.ApproverID), upd.ApprovedAt, nullIfEmpty(upd.AdminNotes),
	)
	if err != nil {
		return false, xerrors.Fail(mapError(err), "failed to extend subscription")
	}
	return r.applied(ctx, tag, id)
}

func (r *SubscriptionRepository) TransitionStatus(ctx context.Context, id int64, from []subscription.Status, to subscription.Status, at time.Time) (bool, error) {
	query := `UPDATE subscriptions SET status = $3, updated_at = $4 WHERE id = $1 AND status = ANY($2)`

	tag, err := r.db.Exec(ctx, query, id, pq.Array(statusStrings(from)), string(to), at)
	if err != nil {
		return false, xerrors.Fail(mapError(err), "failed to update subscription status")
	}
	return r.applied(ctx, tag, id)
}

func (r *SubscriptionRepository) Cancel(ctx context.Context, id int64, reason string, at time.Time) (bool, error) {
	query := `
		UPDATE subscriptions
		SET status = 'cancelled', cancel_reason = $2, cancelled_at = $3, updated_at = $3
		WHERE id = $1 AND status = ANY($4)
	`

	tag, err := r.db.Exec(ctx, query, id, nullIfEmpty(reason), at, pq.Array(statusStrings(subscription.OpenStatuses)))
	if err != nil {
		return false, xerrors.Fail(err, "failed to cancel subscription")
	}
	return r.applied(ctx, tag, id)
}

func (r *SubscriptionRepository) Expire(ctx context.Context, id int64, at time.Time) (bool, error) {
	query := `
		UPDATE subscriptions
		SET status = 'expired', updated_at = $2
		WHERE id = $1 AND status IN ('active', 'extend_pending') AND end_at <= $2
	`

	tag, err := r.db.Exec(ctx, query, id, at)
	if err != nil {
		return false, xerrors.Fail(err, "failed to expire subscription")
	}
	return r.applied(ctx, tag, id)
}

func (r *SubscriptionRepository) SetEnabled(ctx context.Context, id int64, enabled bool, at time.Time) (bool, error) {
	query := `
		UPDATE subscriptions
		SET enabled = $2, updated_at = $3
		WHERE id = $1 AND status = 'active' AND enabled <> $2
	`

	tag, err := r.db.Exec(ctx, query, id, enabled, at)
	if err != nil {
		return false, xerrors.Fail(err, "failed to toggle subscription")
	}
	return r.applied(ctx, tag, id)
}

// SetWatermark claims one warning: only the caller that sees the column null wins.
func (r *SubscriptionRepository) SetWatermark(ctx context.Context, id int64, w subscription.Watermark, at time.Time) (bool, error) {
	if !w.Valid() {
		return false, fmt.Errorf("%w: unknown watermark %q", xerrors.ErrValidation, w)
	}

	col := w.Column()
	query := fmt.Sprintf(`UPDATE subscriptions SET %s = $2 WHERE id = $1 AND %s IS NULL`, col, col)

	tag, err := r.db.Exec(ctx, query, id, at)
	if err != nil {
		return false, xerrors.Fail(err, "failed to set watermark")
	}
	return r.applied(ctx, tag, id)
}

func (r *SubscriptionRepository) ListForSweep(ctx context.Context, limit int) ([]subscription.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions
		WHERE status IN ('active', 'extend_pending')
		   OR (status = 'expired' AND notified_expired IS NULL)
		ORDER BY end_at ASC NULLS LAST, id ASC
		LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, xerrors.Fail(err, "failed to list subscriptions for sweep")
	}
	defer rows.Close()

	subs := []subscription.Subscription{}
	for rows.Next() {
		var s subscription.Subscription
		if err := scanSubscription(rows, &s); err != nil {
			return nil, xerrors.Fail(err, "failed to scan subscription")
		}
		subs = append(subs, s)
	}

	return subs, rows.Err()
}

func (r *SubscriptionRepository) List(ctx context.Context, filters *subscription.ListFilters, now time.Time) ([]subscription.View, int64, error) {
	filters.Normalize()

	conditions := []string{"1=1"}
	args := []interface{}{now}
	argPos := 2

	if filters.UserID != nil {
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", argPos))
		args = append(args, *filters.UserID)
		argPos++
	}

	if len(filters.Status) > 0 {
		conditions = append(conditions, fmt.Sprintf("status = ANY($%d)", argPos))
		args = append(args, pq.Array(statusStrings(filters.Status)))
		argPos++
	}

	if filters.TariffID != nil {
		conditions = append(conditions, fmt.Sprintf("tariff_id = $%d", argPos))
		args = append(args, *filters.TariffID)
		argPos++
	}

	if filters.CategoryID != nil {
		conditions = append(conditions, fmt.Sprintf("category_id = $%d", argPos))
		args = append(args, *filters.CategoryID)
		argPos++
	}

	if filters.LocationID != nil {
		conditions = append(conditions, fmt.Sprintf("location_id = $%d", argPos))
		args = append(args, *filters.LocationID)
		argPos++
	}

	if filters.From != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argPos))
		args = append(args, *filters.From)
		argPos++
	}

	if filters.To != nil {
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", argPos))
		args = append(args, *filters.To)
		argPos++
	}

	if filters.DaysLeftMin != nil {
		conditions = append(conditions, fmt.Sprintf("%s >= $%d", daysLeftExpr, argPos))
		args = append(args, *filters.DaysLeftMin)
		argPos++
	}

	if filters.DaysLeftMax != nil {
		conditions = append(conditions, fmt.Sprintf("%s <= $%d", daysLeftExpr, argPos))
		args = append(args, *filters.DaysLeftMax)
		argPos++
	}

	whereClause := strings.Join(conditions, " AND ")

	countQuery := fmt.Sprintf(
		"SELECT COUNT(*) FROM (SELECT %s AS days_left FROM subscriptions WHERE %s) counted",
		daysLeftExpr, whereClause,
	)
	var total int64
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, xerrors.Fail(err, "failed to count subscriptions")
	}

	orderBy := filters.SortBy
	if orderBy == subscription.SortDaysLeft {
		orderBy = "days_left"
	}
	sortOrder := strings.ToUpper(filters.SortOrder)

	offset := (filters.Page - 1) * filters.PageSize

	query := fmt.Sprintf(`
		SELECT %s, %s AS days_left
		FROM subscriptions
		WHERE %s
		ORDER BY %s %s NULLS LAST, id %s
		LIMIT $%d OFFSET $%d
	`, subscriptionColumns, daysLeftExpr, whereClause, orderBy, sortOrder, sortOrder, argPos, argPos+1)

	args = append(args, filters.PageSize, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, xerrors.Fail(err, "failed to list subscriptions")
	}
	defer rows.Close()

	views := []subscription.View{}
	for rows.Next() {
		var v subscription.View
		if err := scanSubscription(rows, &v.Subscription, &v.DaysLeft); err != nil {
			return nil, 0, xerrors.Fail(err, "failed to scan subscription")
		}
		views = append(views, v)
	}

	return views, total, rows.Err()
}

func (r *SubscriptionRepository) Stats(ctx context.Context, userID *int64) (*subscription.Stats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'active'),
			COUNT(*) FILTER (WHERE status = 'extend_pending'),
			COUNT(*) FILTER (WHERE status = 'expired'),
			COUNT(*) FILTER (WHERE status = 'cancelled'),
			COALESCE(SUM(price_paid), 0)
		FROM subscriptions
		WHERE ($1::bigint IS NULL OR user_id = $1)
	`

	var st subscription.Stats
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&st.Total, &st.Pending, &st.Active, &st.ExtendPending, &st.Expired, &st.Cancelled, &st.Revenue,
	)
	if err != nil {
		return nil, xerrors.Fail(err, "failed to get subscription stats")
	}

	return &st, nil
}
