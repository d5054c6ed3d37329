// internal/handlers/tariff/tariff_handler.go
package tariff

import (
	"net/http"
	"strconv"

	"tariff-service/internal/domain/tariff"
	"tariff-service/internal/pkg/response"
	"tariff-service/internal/service/catalog"

	"github.com/gin-gonic/gin"
)

type TariffHandler struct {
	catalogService *catalog.CatalogService
}

func NewTariffHandler(catalogService *catalog.CatalogService) *TariffHandler {
	return &TariffHandler{
		catalogService: catalogService,
	}
}

func parseID(c *gin.Context, param, label string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(param), 10, 64)
	if err != nil || id <= 0 {
		response.ValidationError(c, "invalid "+label, err)
		return 0, false
	}
	return id, true
}

// ListTariffs returns active tariffs; admins may pass all=true.
func (h *TariffHandler) ListTariffs(c *gin.Context) {
	activeOnly := c.Query("all") != "true"

	tariffs, err := h.catalogService.ListTariffs(c.Request.Context(), activeOnly)
	if err != nil {
		response.FromError(c, "failed to list tariffs", err)
		return
	}

	response.Success(c, http.StatusOK, "tariffs retrieved", gin.H{
		"tariffs": tariffs,
		"count":   len(tariffs),
	})
}

func (h *TariffHandler) GetTariff(c *gin.Context) {
	id, ok := parseID(c, "id", "tariff ID")
	if !ok {
		return
	}

	t, err := h.catalogService.GetTariff(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, "tariff not found", err)
		return
	}

	response.Success(c, http.StatusOK, "tariff retrieved", t)
}

type priceQuery struct {
	LocationID int64  `form:"location_id" binding:"required"`
	CategoryID *int64 `form:"category_id"`
}

// GetTariffPrice resolves the price for a location and optional category
func (h *TariffHandler) GetTariffPrice(c *gin.Context) {
	id, ok := parseID(c, "id", "tariff ID")
	if !ok {
		return
	}

	var q priceQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.ValidationError(c, "location_id is required", err)
		return
	}

	quote, err := h.catalogService.GetTariffPrice(c.Request.Context(), id, q.LocationID, q.CategoryID)
	if err != nil {
		response.FromError(c, "failed to resolve price", err)
		return
	}

	response.Success(c, http.StatusOK, "price resolved", quote)
}

// ========== Admin Endpoints ==========

func (h *TariffHandler) CreateTariff(c *gin.Context) {
	var req tariff.CreateTariffRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request", err)
		return
	}

	t, err := h.catalogService.CreateTariff(c.Request.Context(), &req)
	if err != nil {
		response.FromError(c, "failed to create tariff", err)
		return
	}

	response.Success(c, http.StatusCreated, "tariff created", t)
}

func (h *TariffHandler) UpdateTariff(c *gin.Context) {
	id, ok := parseID(c, "id", "tariff ID")
	if !ok {
		return
	}

	var req tariff.UpdateTariffRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request", err)
		return
	}

	t, err := h.catalogService.UpdateTariff(c.Request.Context(), id, &req)
	if err != nil {
		response.FromError(c, "failed to update tariff", err)
		return
	}

	response.Success(c, http.StatusOK, "tariff updated", t)
}

type statusRequest struct {
	Active *bool `json:"active" binding:"required"`
}

func (h *TariffHandler) SetTariffStatus(c *gin.Context) {
	id, ok := parseID(c, "id", "tariff ID")
	if !ok {
		return
	}

	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "active is required", err)
		return
	}

	if err := h.catalogService.SetTariffActive(c.Request.Context(), id, *req.Active); err != nil {
		response.FromError(c, "failed to update tariff status", err)
		return
	}

	response.Success(c, http.StatusOK, "tariff status updated", gin.H{"id": id, "active": *req.Active})
}

func (h *TariffHandler) ListPriceOverrides(c *gin.Context) {
	id, ok := parseID(c, "id", "tariff ID")
	if !ok {
		return
	}

	overrides, err := h.catalogService.ListPriceOverrides(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, "failed to list price overrides", err)
		return
	}

	response.Success(c, http.StatusOK, "price overrides retrieved", overrides)
}

func (h *TariffHandler) SetPriceOverride(c *gin.Context) {
	id, ok := parseID(c, "id", "tariff ID")
	if !ok {
		return
	}

	var req tariff.SetPriceOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request", err)
		return
	}

	o, err := h.catalogService.SetPriceOverride(c.Request.Context(), id, &req)
	if err != nil {
		response.FromError(c, "failed to set price override", err)
		return
	}

	response.Success(c, http.StatusOK, "price override saved", o)
}

func (h *TariffHandler) DeletePriceOverride(c *gin.Context) {
	id, ok := parseID(c, "id", "tariff ID")
	if !ok {
		return
	}
	overrideID, ok := parseID(c, "overrideId", "override ID")
	if !ok {
		return
	}

	if err := h.catalogService.DeletePriceOverride(c.Request.Context(), id, overrideID); err != nil {
		response.FromError(c, "failed to delete price override", err)
		return
	}

	response.Success(c, http.StatusOK, "price override deleted", nil)
}
