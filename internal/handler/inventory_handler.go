package handler

import (
	"fmt"
	"net/http"
	"time"

	"medsales/internal/middleware"
	"medsales/internal/model"
	"medsales/internal/service"
	"medsales/pkg/pagination"
	"medsales/pkg/response"

	"github.com/gin-gonic/gin"
)

const (
	productsResource  = "products"
	inventoryResource = "inventory"
	reportsResource   = "reports"

	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

type InventoryHandler struct {
	inventoryService service.InventoryService
	guard            *Guard
}

func NewInventoryHandler(inventoryService service.InventoryService, guard *Guard) *InventoryHandler {
	return &InventoryHandler{inventoryService: inventoryService, guard: guard}
}

func (h *InventoryHandler) RegisterRoutes(router *gin.RouterGroup) {
	products := router.Group("/products", h.guard.Authenticate())
	{
		products.GET("", h.guard.Require(productsResource, model.ActionRead), h.ListProducts)
		products.GET("/:id", h.guard.Require(productsResource, model.ActionRead), h.GetProduct)
		products.POST("", h.guard.Require(productsResource, model.ActionCreate), h.CreateProduct)
	}

	inventory := router.Group("/inventory", h.guard.Authenticate())
	{
		inventory.GET("", h.guard.Require(inventoryResource, model.ActionRead), h.ListBatches)
		inventory.GET("/summary", h.guard.Require(inventoryResource, model.ActionRead), h.Summary)
		inventory.GET("/transactions", h.guard.Require(inventoryResource, model.ActionRead), h.ListTransactions)
		inventory.GET("/transactions/export", h.guard.Require(reportsResource, model.ActionRead), h.ExportTransactions)
		inventory.GET("/:id", h.guard.Require(inventoryResource, model.ActionRead, middleware.WithResourceParam("id")), h.GetBatch)

		inventory.POST("", h.guard.Require(inventoryResource, model.ActionCreate), h.AddInventory)
		inventory.POST("/consume", h.guard.Require(inventoryResource, model.ActionUpdate), h.Consume)
		inventory.POST("/:id/increase", h.guard.Require(inventoryResource, model.ActionUpdate, middleware.WithResourceParam("id")), h.IncreaseStock)
		inventory.POST("/:id/decrease", h.guard.Require(inventoryResource, model.ActionUpdate, middleware.WithResourceParam("id")), h.DecreaseStock)
		inventory.POST("/:id/adjust", h.guard.Require(inventoryResource, model.ActionUpdate, middleware.WithResourceParam("id")), h.AdjustQuantity)
		inventory.POST("/:id/transfer", h.guard.Require(inventoryResource, model.ActionUpdate, middleware.WithResourceParam("id")), h.Transfer)
		inventory.POST("/:id/status", h.guard.Require(inventoryResource, model.ActionUpdate, middleware.WithResourceParam("id")), h.ChangeStatus)
	}
}

// --- Products ---

// ListProducts handles GET /products
// @Summary      List products
// @Tags         products
// @Security     BearerAuth
// @Produce      json
// @Param        page    query     int     false  "Page number (default 1)"
// @Param        limit   query     int     false  "Number of items per page (default 20)"
// @Param        search  query     string  false  "Search by name or code"
// @Success      200     {object}  response.Response{data=response.Page}
// @Router       /api/products [get]
func (h *InventoryHandler) ListProducts(c *gin.Context) {
	p := pagination.Parse(c, pagination.DefaultLimit)
	products, total, err := h.inventoryService.ListProducts(c.Request.Context(), p.Page, p.Limit, c.Query("search"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, page(products, total, p.Page, p.Limit)))
}

func (h *InventoryHandler) GetProduct(c *gin.Context) {
	product, err := h.inventoryService.GetProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, product))
}

// CreateProduct creates a catalogue entry
// @Summary      Create product
// @Tags         products
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.CreateProductRequest  true  "Create Product Payload"
// @Success      201      {object}  response.Response{data=service.ProductResponse}
// @Failure      400      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /api/products [post]
func (h *InventoryHandler) CreateProduct(c *gin.Context) {
	var req service.CreateProductRequest
	if !bindJSON(c, &req) {
		return
	}
	product, err := h.inventoryService.CreateProduct(c.Request.Context(), middleware.UserID(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, product))
}

// --- Batches ---

// ListBatches handles GET /inventory
// @Summary      List inventory batches
// @Tags         inventory
// @Security     BearerAuth
// @Produce      json
// @Param        product_id            query     string  false  "Product ID"
// @Param        status                query     string  false  "Batch status"
// @Param        location              query     string  false  "Location"
// @Param        batch_number          query     string  false  "Batch number"
// @Param        expiring_within_days  query     int     false  "Only batches expiring within N days"
// @Param        page                  query     int     false  "Page number (default 1)"
// @Param        limit                 query     int     false  "Number of items per page (default 20)"
// @Success      200                   {object}  response.Response{data=response.Page}
// @Router       /api/inventory [get]
func (h *InventoryHandler) ListBatches(c *gin.Context) {
	var req service.BatchListRequest
	if !bindQuery(c, &req) {
		return
	}
	p := pagination.Parse(c, pagination.LedgerLimit)
	req.Page, req.Limit = p.Page, p.Limit

	batches, total, err := h.inventoryService.ListBatches(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, page(batches, total, p.Page, p.Limit)))
}

func (h *InventoryHandler) GetBatch(c *gin.Context) {
	batch, err := h.inventoryService.GetBatch(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, batch))
}

// AddInventory receives stock into a batch, creating the batch when needed
// @Summary      Receive stock
// @Tags         inventory
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.AddInventoryRequest  true  "Receipt"
// @Success      201      {object}  response.Response{data=service.MovementResponse}
// @Failure      400      {object}  response.Response
// @Failure      404      {object}  response.Response
// @Router       /api/inventory [post]
func (h *InventoryHandler) AddInventory(c *gin.Context) {
	var req service.AddInventoryRequest
	if !bindJSON(c, &req) {
		return
	}
	movement, err := h.inventoryService.AddInventory(c.Request.Context(), middleware.UserID(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, movement))
}

func (h *InventoryHandler) IncreaseStock(c *gin.Context) {
	var req service.StockChangeRequest
	if !bindJSON(c, &req) {
		return
	}
	h.movement(c)(h.inventoryService.IncreaseStock(c.Request.Context(), middleware.UserID(c), c.Param("id"), req))
}

// DecreaseStock removes stock from one batch
// @Summary      Decrease stock
// @Tags         inventory
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                      true  "Batch ID"
// @Param        payload  body      service.StockChangeRequest  true  "Quantity"
// @Success      200      {object}  response.Response{data=service.MovementResponse}
// @Failure      400      {object}  response.Response  "Insufficient inventory"
// @Router       /api/inventory/{id}/decrease [post]
func (h *InventoryHandler) DecreaseStock(c *gin.Context) {
	var req service.StockChangeRequest
	if !bindJSON(c, &req) {
		return
	}
	h.movement(c)(h.inventoryService.DecreaseStock(c.Request.Context(), middleware.UserID(c), c.Param("id"), req))
}

func (h *InventoryHandler) AdjustQuantity(c *gin.Context) {
	var req service.SetQuantityRequest
	if !bindJSON(c, &req) {
		return
	}
	h.movement(c)(h.inventoryService.AdjustQuantity(c.Request.Context(), middleware.UserID(c), c.Param("id"), req))
}

// Transfer moves a batch, or part of it, to another location
// @Summary      Transfer stock
// @Tags         inventory
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                   true  "Batch ID"
// @Param        payload  body      service.TransferRequest  true  "Transfer"
// @Success      200      {object}  response.Response{data=service.MovementResponse}
// @Failure      400      {object}  response.Response
// @Router       /api/inventory/{id}/transfer [post]
func (h *InventoryHandler) Transfer(c *gin.Context) {
	var req service.TransferRequest
	if !bindJSON(c, &req) {
		return
	}
	h.movement(c)(h.inventoryService.Transfer(c.Request.Context(), middleware.UserID(c), c.Param("id"), req))
}

func (h *InventoryHandler) ChangeStatus(c *gin.Context) {
	var req service.ChangeStatusRequest
	if !bindJSON(c, &req) {
		return
	}
	h.movement(c)(h.inventoryService.ChangeStatus(c.Request.Context(), middleware.UserID(c), c.Param("id"), req))
}

// Consume takes stock first-expiry-first-out across the product's available batches
// @Summary      Consume stock
// @Tags         inventory
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.ConsumeRequest  true  "Consumption"
// @Success      200      {object}  response.Response{data=service.MovementResponse}
// @Failure      400      {object}  response.Response
// @Router       /api/inventory/consume [post]
func (h *InventoryHandler) Consume(c *gin.Context) {
	var req service.ConsumeRequest
	if !bindJSON(c, &req) {
		return
	}
	h.movement(c)(h.inventoryService.Consume(c.Request.Context(), middleware.UserID(c), req))
}

func (h *InventoryHandler) movement(c *gin.Context) func(*service.MovementResponse, error) {
	return func(m *service.MovementResponse, err error) {
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, response.Success(http.StatusOK, m))
	}
}

// --- Reporting ---

// Summary returns per-product totals with the expiry classification
// @Summary      Inventory summary
// @Tags         inventory
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response{data=[]service.InventorySummary}
// @Router       /api/inventory/summary [get]
func (h *InventoryHandler) Summary(c *gin.Context) {
	summary, err := h.inventoryService.Summary(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, summary))
}

// ListTransactions handles GET /inventory/transactions
// @Summary      List inventory transactions
// @Tags         inventory
// @Security     BearerAuth
// @Produce      json
// @Param        product_id        query     string  false  "Product ID"
// @Param        inventory_id      query     string  false  "Batch ID"
// @Param        transaction_type  query     string  false  "Transaction type"
// @Param        reference_type    query     string  false  "Reference type"
// @Param        reference_id      query     string  false  "Reference ID"
// @Param        from              query     string  false  "From date (YYYY-MM-DD)"
// @Param        to                query     string  false  "To date (YYYY-MM-DD)"
// @Success      200               {object}  response.Response{data=response.Page}
// @Router       /api/inventory/transactions [get]
func (h *InventoryHandler) ListTransactions(c *gin.Context) {
	var req service.TransactionListRequest
	if !bindQuery(c, &req) {
		return
	}
	p := pagination.Parse(c, pagination.LedgerLimit)
	req.Page, req.Limit = p.Page, p.Limit

	rows, total, err := h.inventoryService.ListTransactions(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, page(rows, total, p.Page, p.Limit)))
}

// ExportTransactions streams the filtered ledger as an xlsx workbook
// @Summary      Export inventory transactions
// @Tags         reports
// @Security     BearerAuth
// @Produce      application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param        product_id        query     string  false  "Product ID"
// @Param        transaction_type  query     string  false  "Transaction type"
// @Param        from              query     string  false  "From date (YYYY-MM-DD)"
// @Param        to                query     string  false  "To date (YYYY-MM-DD)"
// @Success      200  {file}    file
// @Router       /api/inventory/transactions/export [get]
func (h *InventoryHandler) ExportTransactions(c *gin.Context) {
	var req service.TransactionListRequest
	if !bindQuery(c, &req) {
		return
	}
	data, err := h.inventoryService.ExportTransactions(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	filename := fmt.Sprintf("inventory-transactions-%s.xlsx", time.Now().Format("20060102"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, xlsxContentType, data)
}
