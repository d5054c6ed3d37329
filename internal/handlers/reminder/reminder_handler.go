// internal/handlers/reminder/reminder_handler.go
package reminder

import (
	"net/http"
	"strconv"

	"tariff-service/internal/domain/reminder"
	"tariff-service/internal/middleware"
	"tariff-service/internal/pkg/response"
	service "tariff-service/internal/service/reminder"

	"github.com/gin-gonic/gin"
)

type ReminderHandler struct {
	reminderService *service.ReminderService
}

func NewReminderHandler(reminderService *service.ReminderService) *ReminderHandler {
	return &ReminderHandler{
		reminderService: reminderService,
	}
}

func (h *ReminderHandler) CreateReminder(c *gin.Context) {
	ownerID := middleware.MustGetIdentityID(c)

	var req reminder.CreateReminderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request", err)
		return
	}

	rm, err := h.reminderService.Create(c.Request.Context(), ownerID, &req)
	if err != nil {
		response.FromError(c, "failed to create reminder", err)
		return
	}

	response.Success(c, http.StatusCreated, "reminder created", rm)
}

func (h *ReminderHandler) ListReminders(c *gin.Context) {
	ownerID := middleware.MustGetIdentityID(c)

	var filters reminder.ListFilters
	if err := c.ShouldBindQuery(&filters); err != nil {
		response.ValidationError(c, "invalid query parameters", err)
		return
	}

	result, err := h.reminderService.List(c.Request.Context(), ownerID, &filters)
	if err != nil {
		response.FromError(c, "failed to list reminders", err)
		return
	}

	response.Success(c, http.StatusOK, "reminders retrieved", result)
}

// DeleteReminder removes a reminder that has not been sent yet
func (h *ReminderHandler) DeleteReminder(c *gin.Context) {
	ownerID := middleware.MustGetIdentityID(c)

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ValidationError(c, "invalid reminder ID", err)
		return
	}

	if err := h.reminderService.Delete(c.Request.Context(), ownerID, id); err != nil {
		response.FromError(c, "failed to delete reminder", err)
		return
	}

	response.Success(c, http.StatusOK, "reminder deleted", nil)
}
