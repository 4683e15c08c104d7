package handler

import (
	"net/http"

	"medsales/internal/middleware"
	"medsales/internal/model"
	"medsales/internal/service"
	"medsales/pkg/pagination"
	"medsales/pkg/response"

	"github.com/gin-gonic/gin"
)

type UsageHandler struct {
	usageService service.UsageService
	guard        *Guard
}

func NewUsageHandler(usageService service.UsageService, guard *Guard) *UsageHandler {
	return &UsageHandler{usageService: usageService, guard: guard}
}

func (h *UsageHandler) RegisterRoutes(router *gin.RouterGroup) {
	usage := router.Group("/product-usage", h.guard.Authenticate())
	{
		usage.GET("", h.guard.Require(service.UsageResource, model.ActionRead), h.ListUsage)
		usage.GET("/statistics", h.guard.Require(service.UsageResource, model.ActionRead), h.Statistics)
		usage.PUT("/:id", h.guard.Require(service.UsageResource, model.ActionUpdate, middleware.WithResourceParam("id")), h.UpdateUsage)
		usage.DELETE("/:id", h.guard.Require(service.UsageResource, model.ActionDelete, middleware.WithResourceParam("id")), h.DeleteUsage)
	}
}

func (h *UsageHandler) ListUsage(c *gin.Context) {
	var req service.UsageListRequest
	if !bindQuery(c, &req) {
		return
	}
	p := pagination.Parse(c, pagination.LedgerLimit)
	req.Page, req.Limit = p.Page, p.Limit

	rows, total, err := h.usageService.ListUsage(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, page(rows, total, p.Page, p.Limit)))
}

// DeleteUsage reverses a usage record and returns the stock to its batch
// @Summary      Reverse product usage
// @Description  Only allowed within the reversal window unless the caller holds product_usage:manage
// @Tags         cases
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Usage ID"
// @Success      200  {object}  response.Response{data=service.UsageReversal}
// @Failure      403  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Router       /api/product-usage/{id} [delete]
func (h *UsageHandler) DeleteUsage(c *gin.Context) {
	reversal, err := h.usageService.DeleteUsage(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.SuccessWithMessage(http.StatusOK, "Product usage deleted and stock returned to inventory", reversal))
}

// UpdateUsage edits the notes and selling price of a usage record
// @Summary      Update product usage
// @Tags         cases
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                      true  "Usage ID"
// @Param        payload  body      service.UpdateUsageRequest  true  "Changes"
// @Success      200      {object}  response.Response{data=model.ProductUsage}
// @Failure      404      {object}  response.Response
// @Router       /api/product-usage/{id} [put]
func (h *UsageHandler) UpdateUsage(c *gin.Context) {
	var req service.UpdateUsageRequest
	if !bindJSON(c, &req) {
		return
	}
	usage, err := h.usageService.UpdateUsage(c.Request.Context(), middleware.UserID(c), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, usage))
}

// Statistics reports usage, revenue and profit per product
// @Summary      Product usage statistics
// @Tags         cases
// @Security     BearerAuth
// @Produce      json
// @Param        start_date  query     string  false  "From (YYYY-MM-DD), defaults to one month ago"
// @Param        end_date    query     string  false  "To (YYYY-MM-DD), inclusive, defaults to today"
// @Success      200         {object}  response.Response{data=service.UsageStatistics}
// @Failure      400         {object}  response.Response
// @Router       /api/product-usage/statistics [get]
func (h *UsageHandler) Statistics(c *gin.Context) {
	var req service.UsageStatisticsRequest
	if !bindQuery(c, &req) {
		return
	}
	stats, err := h.usageService.Statistics(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, stats))
}
