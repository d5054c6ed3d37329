// internal/websocket/handler/notification.go
package handlers

import (
	"context"

	"tariff-service/internal/domain/notification"
	wstypes "tariff-service/internal/domain/websocket"
	ws "tariff-service/internal/websocket"
)

// NotificationLister reads the delivery records of an identity.
type NotificationLister interface {
	ListByIdentity(ctx context.Context, identityID int64, limit int) ([]notification.Notification, error)
}

type NotificationHandler struct {
	notifications NotificationLister
}

func NewNotificationHandler(notifications NotificationLister) *NotificationHandler {
	return &NotificationHandler{notifications: notifications}
}

// Routes binds the notification events on the hub.
func (h *NotificationHandler) Routes(hub *ws.Hub) error {
	return hub.Handle(wstypes.EventTypeNotificationList, h.handleListNotifications)
}

// handleListNotifications returns the latest notifications of the connected identity
func (h *NotificationHandler) handleListNotifications(ctx context.Context, client *ws.Client, msg *wstypes.WSMessage) error {
	var req struct {
		Limit int `json:"limit"`
	}
	if err := ws.DecodeData(msg.Data, &req); err != nil {
		client.SendError("invalid_request", "Invalid list request", err.Error())
		return nil
	}
	if req.Limit <= 0 || req.Limit > 50 {
		req.Limit = 10
	}

	items, err := h.notifications.ListByIdentity(ctx, client.GetIdentityID(), req.Limit)
	if err != nil {
		client.SendError("list_failed", "Failed to get notifications", err.Error())
		return nil
	}

	client.SendMessage(wstypes.NewMessage(wstypes.EventTypeNotificationList, map[string]interface{}{
		"notifications": items,
		"count":         len(items),
	}))
	return nil
}
