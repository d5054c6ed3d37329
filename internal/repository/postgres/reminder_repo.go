// internal/repository/postgres/reminder_repo.go
package postgres

import (
	"context"
	"fmt"
	"time"

	"tariff-service/internal/domain/reminder"
	xerrors "tariff-service/internal/pkg/errors"
)

type ReminderRepository struct {
	db Querier
}

func NewReminderRepository(db Querier) *ReminderRepository {
	return &ReminderRepository{db: db}
}

const reminderColumns = `id, object_client_id, owner_id, remind_at, message, is_sent, sent_at, created_at`

func scanReminder(row rowScanner, rm *reminder.Reminder) error {
	return row.Scan(
		&rm.ID, &rm.ObjectClientID, &rm.OwnerID, &rm.RemindAt, &rm.Message,
		&rm.IsSent, &rm.SentAt, &rm.CreatedAt,
	)
}

func (r *ReminderRepository) Create(ctx context.Context, rm *reminder.Reminder) error {
	query := `
		INSERT INTO reminders (object_client_id, owner_id, remind_at, message)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`

	err := r.db.QueryRow(ctx, query, rm.ObjectClientID, rm.OwnerID, rm.RemindAt, rm.Message).
		Scan(&rm.ID, &rm.CreatedAt)
	if err != nil {
		return xerrors.Fail(err, "failed to create reminder")
	}

	return nil
}

func (r *ReminderRepository) FindByID(ctx context.Context, id int64) (*reminder.Reminder, error) {
	query := `SELECT ` + reminderColumns + ` FROM reminders WHERE id = $1`

	var rm reminder.Reminder
	if err := scanReminder(r.db.QueryRow(ctx, query, id), &rm); err != nil {
		return nil, xerrors.Fail(mapError(err), fmt.Sprintf("failed to find reminder %d", id))
	}
	return &rm, nil
}

func (r *ReminderRepository) ListByOwner(ctx context.Context, ownerID int64, filters *reminder.ListFilters) ([]reminder.Reminder, int64, error) {
	filters.Normalize()

	where := "owner_id = $1"
	if !filters.IncludeSent {
		where += " AND is_sent = FALSE"
	}

	var total int64
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM reminders WHERE "+where, ownerID).Scan(&total); err != nil {
		return nil, 0, xerrors.Fail(err, "failed to count reminders")
	}

	query := `SELECT ` + reminderColumns + ` FROM reminders WHERE ` + where + `
		ORDER BY remind_at ASC, id ASC
		LIMIT $2 OFFSET $3`

	offset := (filters.Page - 1) * filters.PageSize
	rows, err := r.db.Query(ctx, query, ownerID, filters.PageSize, offset)
	if err != nil {
		return nil, 0, xerrors.Fail(err, "failed to list reminders")
	}
	defer rows.Close()

	reminders := []reminder.Reminder{}
	for rows.Next() {
		var rm reminder.Reminder
		if err := scanReminder(rows, &rm); err != nil {
			return nil, 0, xerrors.Fail(err, "failed to scan reminder")
		}
		reminders = append(reminders, rm)
	}

	return reminders, total, rows.Err()
}

// DeleteUnsent removes an owner's reminder that has not been dispatched yet.
func (r *ReminderRepository) DeleteUnsent(ctx context.Context, ownerID, id int64) (bool, error) {
	result, err := r.db.Exec(ctx, `DELETE FROM reminders WHERE id = $1 AND owner_id = $2 AND is_sent = FALSE`, id, ownerID)
	if err != nil {
		return false, xerrors.Fail(err, "failed to delete reminder")
	}
	return result.RowsAffected() > 0, nil
}

// ListDue is served by the (is_sent, remind_at) index.
func (r *ReminderRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]reminder.Reminder, error) {
	query := `SELECT ` + reminderColumns + ` FROM reminders
		WHERE is_sent = FALSE AND remind_at <= $1
		ORDER BY remind_at ASC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, xerrors.Fail(err, "failed to list due reminders")
	}
	defer rows.Close()

	reminders := []reminder.Reminder{}
	for rows.Next() {
		var rm reminder.Reminder
		if err := scanReminder(rows, &rm); err != nil {
			return nil, xerrors.Fail(err, "failed to scan reminder")
		}
		reminders = append(reminders, rm)
	}

	return reminders, rows.Err()
}

func (r *ReminderRepository) MarkSent(ctx context.Context, id int64, at time.Time) (bool, error) {
	result, err := r.db.Exec(ctx, `UPDATE reminders SET is_sent = TRUE, sent_at = $2 WHERE id = $1 AND is_sent = FALSE`, id, at)
	if err != nil {
		return false, xerrors.Fail(err, "failed to mark reminder sent")
	}
	return result.RowsAffected() == 1, nil
}
