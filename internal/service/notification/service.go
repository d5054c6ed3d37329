// internal/service/notification/service.go
package notification

import (
	"context"
	"fmt"
	"strings"

	"tariff-service/internal/domain/notification"
	"tariff-service/internal/domain/websocket"
	xerrors "tariff-service/internal/pkg/errors"
	"tariff-service/internal/repository"

	"go.uber.org/zap"
)

// Channel delivers one message to its recipient. Dispatchers call it only after they
// have claimed the right to send.
type Channel interface {
	Send(ctx context.Context, msg notification.Message) error
}

// Pusher is the live path to connected clients; the WebSocket hub implements it.
type Pusher interface {
	PushNotification(identityID int64, data *websocket.NotificationData) bool
}

// NotificationService stores every notification and pushes it to open connections. The
// stored row is the delivery; clients that were offline read it back through List.
type NotificationService struct {
	store  repository.Store
	pusher Pusher
	logger *zap.Logger
}

func NewNotificationService(store repository.Store, pusher Pusher, logger *zap.Logger) *NotificationService {
	return &NotificationService{
		store:  store,
		pusher: pusher,
		logger: logger,
	}
}

// Send persists the notification and pushes it via WebSocket
func (s *NotificationService) Send(ctx context.Context, msg notification.Message) error {
	if msg.IdentityID <= 0 {
		return fmt.Errorf("%w: notification recipient is required", xerrors.ErrValidation)
	}
	if strings.TrimSpace(msg.Title) == "" {
		return fmt.Errorf("%w: notification title is required", xerrors.ErrValidation)
	}

	n := &notification.Notification{
		IdentityID: msg.IdentityID,
		Title:      msg.Title,
		Message:    msg.Body,
		Type:       msg.Type,
		Metadata:   msg.Metadata,
	}
	if err := s.store.Notifications().Create(ctx, n); err != nil {
		return err
	}

	s.push(n)

	s.logger.Debug("notification delivered",
		zap.Int64("notification_id", n.ID),
		zap.Int64("identity_id", n.IdentityID),
		zap.String("type", string(n.Type)),
	)
	return nil
}

// List returns the latest notifications of a user, newest first.
func (s *NotificationService) List(ctx context.Context, identityID int64, limit int) ([]notification.Notification, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return s.store.Notifications().ListByIdentity(ctx, identityID, limit)
}

// ListByIdentity serves the WebSocket notification:list handler.
func (s *NotificationService) ListByIdentity(ctx context.Context, identityID int64, limit int) ([]notification.Notification, error) {
	return s.List(ctx, identityID, limit)
}

func (s *NotificationService) push(n *notification.Notification) {
	if s.pusher == nil {
		return
	}

	data := &websocket.NotificationData{
		ID:        n.ID,
		Title:     n.Title,
		Message:   n.Message,
		Type:      string(n.Type),
		IsRead:    n.IsRead,
		Metadata:  n.Metadata,
		CreatedAt: n.CreatedAt,
	}
	if !s.pusher.PushNotification(n.IdentityID, data) {
		s.logger.Warn("notification stored but not pushed", zap.Int64("notification_id", n.ID))
	}
}
