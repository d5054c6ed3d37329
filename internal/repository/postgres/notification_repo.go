// internal/repository/postgres/notification_repo.go
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"tariff-service/internal/domain/notification"
	xerrors "tariff-service/internal/pkg/errors"
)

type NotificationRepository struct {
	db Querier
}

func NewNotificationRepository(db Querier) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create creates a new notification
func (r *NotificationRepository) Create(ctx context.Context, n *notification.Notification) error {
	query := `
		INSERT INTO notifications (identity_id, title, message, type, metadata)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	var metadataJSON []byte
	var err error
	if n.Metadata != nil {
		metadataJSON, err = json.Marshal(n.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	err = r.db.QueryRow(
		ctx, query,
		n.IdentityID, n.Title, n.Message, string(n.Type), metadataJSON,
	).Scan(&n.ID, &n.CreatedAt)
	if err != nil {
		return xerrors.Fail(err, "failed to create notification")
	}

	return nil
}

// ListByIdentity returns the latest notifications of a user, newest first.
func (r *NotificationRepository) ListByIdentity(ctx context.Context, identityID int64, limit int) ([]notification.Notification, error) {
	query := `
		SELECT id, identity_id, title, message, type, metadata, is_read, created_at
		FROM notifications
		WHERE identity_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, identityID, limit)
	if err != nil {
		return nil, xerrors.Fail(err, "failed to list notifications")
	}
	defer rows.Close()

	notifications := []notification.Notification{}
	for rows.Next() {
		var n notification.Notification
		var metadataJSON []byte

		if err := rows.Scan(
			&n.ID, &n.IdentityID, &n.Title, &n.Message, &n.Type,
			&metadataJSON, &n.IsRead, &n.CreatedAt,
		); err != nil {
			return nil, xerrors.Fail(err, "failed to scan notification")
		}

		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &n.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}

		notifications = append(notifications, n)
	}

	return notifications, rows.Err()
}
