// internal/handlers/subscription/subscription_handler.go
package subscription

import (
	"net/http"
	"strconv"

	"tariff-service/internal/domain/subscription"
	"tariff-service/internal/middleware"
	"tariff-service/internal/pkg/response"
	service "tariff-service/internal/service/subscription"

	"github.com/gin-gonic/gin"
)

type SubscriptionHandler struct {
	subscriptionService *service.SubscriptionService
}

func NewSubscriptionHandler(subscriptionService *service.SubscriptionService) *SubscriptionHandler {
	return &SubscriptionHandler{
		subscriptionService: subscriptionService,
	}
}

func actor(c *gin.Context) service.Actor {
	return service.Actor{ID: middleware.MustGetIdentityID(c), Admin: middleware.IsAdmin(c)}
}

func subscriptionID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.ValidationError(c, "invalid subscription ID", err)
		return 0, false
	}
	return id, true
}

// ========== User Endpoints ==========

// RequestSubscription creates pending subscriptions. A single category_id returns the
// subscription; category_ids returns a per-category result.
func (h *SubscriptionHandler) RequestSubscription(c *gin.Context) {
	userID := middleware.MustGetIdentityID(c)

	var req subscription.RequestSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request", err)
		return
	}

	if len(req.CategoryIDs) == 0 {
		sub, err := h.subscriptionService.Request(c.Request.Context(), userID, req.TariffID, req.CategoryID, req.LocationID)
		if err != nil {
			response.FromError(c, "failed to request subscription", err)
			return
		}
		response.Success(c, http.StatusCreated, "subscription requested", sub)
		return
	}

	result, err := h.subscriptionService.RequestBatch(c.Request.Context(), userID, &req)
	if err != nil {
		response.FromError(c, "failed to request subscriptions", err)
		return
	}

	status := http.StatusOK
	if len(result.Failed) == 0 {
		status = http.StatusCreated
	}
	response.Success(c, status, "subscriptions requested", result)
}

// ListSubscriptions lists the caller's own subscriptions
func (h *SubscriptionHandler) ListSubscriptions(c *gin.Context) {
	userID := middleware.MustGetIdentityID(c)

	var filters subscription.ListFilters
	if err := c.ShouldBindQuery(&filters); err != nil {
		response.ValidationError(c, "invalid query parameters", err)
		return
	}
	filters.UserID = &userID

	result, err := h.subscriptionService.List(c.Request.Context(), &filters)
	if err != nil {
		response.FromError(c, "failed to list subscriptions", err)
		return
	}

	response.Success(c, http.StatusOK, "subscriptions retrieved", result)
}

// GetSubscription retrieves a subscription by ID
func (h *SubscriptionHandler) GetSubscription(c *gin.Context) {
	id, ok := subscriptionID(c)
	if !ok {
		return
	}

	sub, err := h.subscriptionService.Get(c.Request.Context(), actor(c), id)
	if err != nil {
		response.FromError(c, "subscription not found", err)
		return
	}

	response.Success(c, http.StatusOK, "subscription retrieved", sub)
}

func (h *SubscriptionHandler) GetRemainingTime(c *gin.Context) {
	id, ok := subscriptionID(c)
	if !ok {
		return
	}

	remaining, err := h.subscriptionService.GetRemainingTime(c.Request.Context(), actor(c), id)
	if err != nil {
		response.FromError(c, "failed to get remaining time", err)
		return
	}

	response.Success(c, http.StatusOK, "remaining time retrieved", remaining)
}

// RenewSubscription asks for an extension; depending on the renewal mode it is applied
// directly or waits for approval.
func (h *SubscriptionHandler) RenewSubscription(c *gin.Context) {
	id, ok := subscriptionID(c)
	if !ok {
		return
	}

	sub, err := h.subscriptionService.RequestExtend(c.Request.Context(), actor(c), id)
	if err != nil {
		response.FromError(c, "failed to renew subscription", err)
		return
	}

	message := "renewal requested"
	if sub.Status == subscription.StatusActive {
		message = "subscription renewed"
	}
	response.Success(c, http.StatusOK, message, sub)
}

func (h *SubscriptionHandler) CancelSubscription(c *gin.Context) {
	id, ok := subscriptionID(c)
	if !ok {
		return
	}

	var req subscription.CancelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.ValidationError(c, "invalid request", err)
			return
		}
	}

	cancelled, err := h.subscriptionService.Cancel(c.Request.Context(), actor(c), id, req.Reason)
	if err != nil {
		response.FromError(c, "failed to cancel subscription", err)
		return
	}

	message := "subscription cancelled"
	if !cancelled {
		message = "subscription already closed"
	}
	response.Success(c, http.StatusOK, message, gin.H{"cancelled": cancelled})
}

func (h *SubscriptionHandler) ToggleSubscription(c *gin.Context) {
	id, ok := subscriptionID(c)
	if !ok {
		return
	}

	var req subscription.ToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request", err)
		return
	}

	changed, err := h.subscriptionService.ToggleEnabled(c.Request.Context(), actor(c), id, req.Enabled)
	if err != nil {
		response.FromError(c, "failed to toggle subscription", err)
		return
	}

	response.Success(c, http.StatusOK, "subscription updated", gin.H{
		"enabled": req.Enabled,
		"changed": changed,
	})
}

// GetHistory returns the caller's own audit trail
func (h *SubscriptionHandler) GetHistory(c *gin.Context) {
	userID := middleware.MustGetIdentityID(c)

	var filters subscription.HistoryFilters
	if err := c.ShouldBindQuery(&filters); err != nil {
		response.ValidationError(c, "invalid query parameters", err)
		return
	}
	filters.UserID = &userID

	result, err := h.subscriptionService.History(c.Request.Context(), &filters)
	if err != nil {
		response.FromError(c, "failed to get history", err)
		return
	}

	response.Success(c, http.StatusOK, "history retrieved", result)
}

type accessQuery struct {
	CategoryID int64 `form:"category_id" binding:"required"`
	LocationID int64 `form:"location_id" binding:"required"`
}

func (h *SubscriptionHandler) CheckAccess(c *gin.Context) {
	userID := middleware.MustGetIdentityID(c)

	var q accessQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.ValidationError(c, "category_id and location_id are required", err)
		return
	}

	allowed, err := h.subscriptionService.HasAccess(c.Request.Context(), userID, q.CategoryID, q.LocationID)
	if err != nil {
		response.FromError(c, "failed to check access", err)
		return
	}

	response.Success(c, http.StatusOK, "access checked", gin.H{"has_access": allowed})
}

// ========== Admin Endpoints ==========

func (h *SubscriptionHandler) AdminListSubscriptions(c *gin.Context) {
	var filters subscription.ListFilters
	if err := c.ShouldBindQuery(&filters); err != nil {
		response.ValidationError(c, "invalid query parameters", err)
		return
	}

	result, err := h.subscriptionService.List(c.Request.Context(), &filters)
	if err != nil {
		response.FromError(c, "failed to list subscriptions", err)
		return
	}

	response.Success(c, http.StatusOK, "subscriptions retrieved", result)
}

func (h *SubscriptionHandler) AdminGetHistory(c *gin.Context) {
	var filters subscription.HistoryFilters
	if err := c.ShouldBindQuery(&filters); err != nil {
		response.ValidationError(c, "invalid query parameters", err)
		return
	}

	result, err := h.subscriptionService.History(c.Request.Context(), &filters)
	if err != nil {
		response.FromError(c, "failed to get history", err)
		return
	}

	response.Success(c, http.StatusOK, "history retrieved", result)
}

func (h *SubscriptionHandler) AdminGetStats(c *gin.Context) {
	var userID *int64
	if raw := c.Query("user_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			response.ValidationError(c, "invalid user_id", err)
			return
		}
		userID = &id
	}

	stats, err := h.subscriptionService.Stats(c.Request.Context(), userID)
	if err != nil {
		response.FromError(c, "failed to get stats", err)
		return
	}

	response.Success(c, http.StatusOK, "stats retrieved", stats)
}

// GrantSubscription creates an already-active subscription for a user
func (h *SubscriptionHandler) GrantSubscription(c *gin.Context) {
	adminID := middleware.MustGetIdentityID(c)

	var req subscription.GrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request", err)
		return
	}

	sub, err := h.subscriptionService.Grant(c.Request.Context(), adminID, &req)
	if err != nil {
		response.FromError(c, "failed to grant subscription", err)
		return
	}

	response.Success(c, http.StatusCreated, "subscription granted", sub)
}

func (h *SubscriptionHandler) ActivateSubscription(c *gin.Context) {
	adminID := middleware.MustGetIdentityID(c)
	id, ok := subscriptionID(c)
	if !ok {
		return
	}

	var params subscription.ActivateParams
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&params); err != nil {
			response.ValidationError(c, "invalid request", err)
			return
		}
	}

	sub, err := h.subscriptionService.Activate(c.Request.Context(), id, adminID, params)
	if err != nil {
		response.FromError(c, "failed to activate subscription", err)
		return
	}

	response.Success(c, http.StatusOK, "subscription activated", sub)
}

// ActivateSubscriptions activates each id independently and reports partial success.
func (h *SubscriptionHandler) ActivateSubscriptions(c *gin.Context) {
	adminID := middleware.MustGetIdentityID(c)

	var req subscription.ActivateManyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request", err)
		return
	}

	result := h.subscriptionService.ActivateMany(c.Request.Context(), adminID, &req)
	response.Success(c, http.StatusOK, "activation processed", result)
}

func (h *SubscriptionHandler) ExtendSubscription(c *gin.Context) {
	adminID := middleware.MustGetIdentityID(c)
	id, ok := subscriptionID(c)
	if !ok {
		return
	}

	var params subscription.ExtendParams
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&params); err != nil {
			response.ValidationError(c, "invalid request", err)
			return
		}
	}

	sub, err := h.subscriptionService.Extend(c.Request.Context(), id, adminID, params)
	if err != nil {
		response.FromError(c, "failed to extend subscription", err)
		return
	}

	response.Success(c, http.StatusOK, "subscription extended", sub)
}
