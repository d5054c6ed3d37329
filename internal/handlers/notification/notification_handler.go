// internal/handlers/notification/notification_handler.go
package notification

import (
	"net/http"
	"strconv"

	"tariff-service/internal/middleware"
	"tariff-service/internal/pkg/response"
	service "tariff-service/internal/service/notification"

	"github.com/gin-gonic/gin"
)

type NotificationHandler struct {
	notificationService *service.NotificationService
}

func NewNotificationHandler(notificationService *service.NotificationService) *NotificationHandler {
	return &NotificationHandler{
		notificationService: notificationService,
	}
}

// GetLatestNotifications retrieves the latest N notifications
func (h *NotificationHandler) GetLatestNotifications(c *gin.Context) {
	identityID := middleware.MustGetIdentityID(c)

	limitStr := c.DefaultQuery("limit", "20")
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit < 1 {
		limit = 20
	}

	notifications, err := h.notificationService.List(c.Request.Context(), identityID, limit)
	if err != nil {
		response.FromError(c, "failed to get notifications", err)
		return
	}

	response.Success(c, http.StatusOK, "notifications retrieved", gin.H{
		"notifications": notifications,
		"count":         len(notifications),
	})
}
