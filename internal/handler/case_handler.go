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

const casesResource = "cases"

type CaseHandler struct {
	caseService service.CaseService
	guard       *Guard
}

func NewCaseHandler(caseService service.CaseService, guard *Guard) *CaseHandler {
	return &CaseHandler{caseService: caseService, guard: guard}
}

func (h *CaseHandler) RegisterRoutes(router *gin.RouterGroup) {
	scoped := middleware.WithResourceParam("id")
	read := h.guard.Require(casesResource, model.ActionRead, scoped)
	update := h.guard.Require(casesResource, model.ActionUpdate, scoped)

	cases := router.Group("/cases", h.guard.Authenticate())
	{
		cases.GET("", h.guard.Require(casesResource, model.ActionRead), h.ListCases)
		cases.POST("", h.guard.Require(casesResource, model.ActionCreate), h.CreateCase)
		cases.GET("/:id", read, h.GetCase)
		cases.PUT("/:id", update, h.UpdateCase)
		cases.DELETE("/:id", h.guard.Require(casesResource, model.ActionDelete, scoped), h.DeleteCase)

		cases.PUT("/:id/status", update, h.UpdateStatus)
		cases.GET("/:id/history", read, h.History)
		cases.POST("/:id/products", update, h.AddProduct)
		cases.DELETE("/:id/products/:productId", update, h.RemoveProduct)

		cases.GET("/:id/notes", read, h.ListNotes)
		cases.POST("/:id/notes", update, h.AddNote)
		cases.GET("/:id/documents", read, h.ListDocuments)
		cases.POST("/:id/documents", update, h.AddDocument)
		cases.GET("/:id/followups", read, h.ListFollowups)
		cases.POST("/:id/followups", update, h.AddFollowup)
	}
}

// ListCases handles GET /cases
// @Summary      List cases
// @Tags         cases
// @Security     BearerAuth
// @Produce      json
// @Param        status    query     string  false  "Case status"
// @Param        hospital  query     string  false  "Hospital ID"
// @Param        doctor    query     string  false  "Doctor ID"
// @Param        from      query     string  false  "Surgery date from (YYYY-MM-DD)"
// @Param        to        query     string  false  "Surgery date to (YYYY-MM-DD)"
// @Param        search    query     string  false  "Case number or patient name"
// @Param        page      query     int     false  "Page number (default 1)"
// @Param        limit     query     int     false  "Number of items per page (default 20)"
// @Success      200       {object}  response.Response{data=response.Page}
// @Router       /api/cases [get]
func (h *CaseHandler) ListCases(c *gin.Context) {
	var req service.CaseListRequest
	if !bindQuery(c, &req) {
		return
	}
	p := pagination.Parse(c, pagination.LedgerLimit)
	req.Page, req.Limit = p.Page, p.Limit

	cases, total, err := h.caseService.ListCases(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, page(cases, total, p.Page, p.Limit)))
}

// CreateCase books a surgical case and consumes stock for every inventory-backed line
// @Summary      Create case
// @Tags         cases
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.CreateCaseRequest  true  "Case"
// @Success      201      {object}  response.Response{data=model.Case}
// @Failure      400      {object}  response.Response  "Invalid payload or insufficient inventory"
// @Router       /api/cases [post]
func (h *CaseHandler) CreateCase(c *gin.Context) {
	var req service.CreateCaseRequest
	if !bindJSON(c, &req) {
		return
	}
	created, err := h.caseService.CreateCase(c.Request.Context(), middleware.UserID(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, created))
}

func (h *CaseHandler) GetCase(c *gin.Context) {
	found, err := h.caseService.GetCase(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, found))
}

// UpdateCase edits case fields and optionally changes status or adds a note
// @Summary      Update case
// @Tags         cases
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                     true  "Case ID"
// @Param        payload  body      service.UpdateCaseRequest  true  "Changes"
// @Success      200      {object}  response.Response{data=model.Case}
// @Failure      400      {object}  response.Response
// @Failure      404      {object}  response.Response
// @Router       /api/cases/{id} [put]
func (h *CaseHandler) UpdateCase(c *gin.Context) {
	var req service.UpdateCaseRequest
	if !bindJSON(c, &req) {
		return
	}
	updated, err := h.caseService.UpdateCase(c.Request.Context(), middleware.UserID(c), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, updated))
}

// DeleteCase removes a case without usage, otherwise cancels it in place
// @Summary      Delete or cancel case
// @Tags         cases
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                     true   "Case ID"
// @Param        payload  body      service.DeleteCaseRequest  false  "Reason"
// @Success      200      {object}  response.Response{data=service.DeleteCaseResult}
// @Failure      404      {object}  response.Response
// @Router       /api/cases/{id} [delete]
func (h *CaseHandler) DeleteCase(c *gin.Context) {
	var req service.DeleteCaseRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}
	result, err := h.caseService.DeleteCase(c.Request.Context(), middleware.UserID(c), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	if result.Cancelled {
		c.JSON(http.StatusOK, response.SuccessWithMessage(http.StatusOK, "Case has product usage and was cancelled instead of deleted", result))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// UpdateStatus moves a case along Pending, Active, Completed or Cancelled
// @Summary      Update case status
// @Tags         cases
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                           true  "Case ID"
// @Param        payload  body      service.UpdateCaseStatusRequest  true  "Status"
// @Success      200      {object}  response.Response{data=model.Case}
// @Failure      400      {object}  response.Response
// @Router       /api/cases/{id}/status [put]
func (h *CaseHandler) UpdateStatus(c *gin.Context) {
	var req service.UpdateCaseStatusRequest
	if !bindJSON(c, &req) {
		return
	}
	updated, err := h.caseService.UpdateStatus(c.Request.Context(), middleware.UserID(c), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, updated))
}

func (h *CaseHandler) History(c *gin.Context) {
	history, err := h.caseService.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, history))
}

// AddProduct appends a line to an open case
// @Summary      Add product to case
// @Tags         cases
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                      true  "Case ID"
// @Param        payload  body      service.CaseProductRequest  true  "Line"
// @Success      200      {object}  response.Response{data=model.Case}
// @Failure      400      {object}  response.Response
// @Router       /api/cases/{id}/products [post]
func (h *CaseHandler) AddProduct(c *gin.Context) {
	var req service.CaseProductRequest
	if !bindJSON(c, &req) {
		return
	}
	updated, err := h.caseService.AddCaseProduct(c.Request.Context(), middleware.UserID(c), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, updated))
}

// RemoveProduct drops a line from a case and returns any consumed stock to inventory
// @Summary      Remove product from case
// @Tags         cases
// @Security     BearerAuth
// @Produce      json
// @Param        id         path      string  true  "Case ID"
// @Param        productId  path      string  true  "Case product ID"
// @Success      200        {object}  response.Response{data=model.Case}
// @Failure      403        {object}  response.Response
// @Failure      404        {object}  response.Response
// @Router       /api/cases/{id}/products/{productId} [delete]
func (h *CaseHandler) RemoveProduct(c *gin.Context) {
	updated, err := h.caseService.RemoveCaseProduct(c.Request.Context(), middleware.UserID(c), c.Param("id"), c.Param("productId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.SuccessWithMessage(http.StatusOK, "Product removed from case", updated))
}

func (h *CaseHandler) ListNotes(c *gin.Context) {
	notes, err := h.caseService.ListNotes(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, notes))
}

func (h *CaseHandler) AddNote(c *gin.Context) {
	var req service.AddNoteRequest
	if !bindJSON(c, &req) {
		return
	}
	note, err := h.caseService.AddNote(c.Request.Context(), middleware.UserID(c), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, note))
}

func (h *CaseHandler) ListDocuments(c *gin.Context) {
	docs, err := h.caseService.ListDocuments(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, docs))
}

func (h *CaseHandler) AddDocument(c *gin.Context) {
	var req service.AddDocumentRequest
	if !bindJSON(c, &req) {
		return
	}
	doc, err := h.caseService.AddDocument(c.Request.Context(), middleware.UserID(c), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, doc))
}

func (h *CaseHandler) ListFollowups(c *gin.Context) {
	followups, err := h.caseService.ListFollowups(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, followups))
}

func (h *CaseHandler) AddFollowup(c *gin.Context) {
	var req service.AddFollowupRequest
	if !bindJSON(c, &req) {
		return
	}
	followup, err := h.caseService.AddFollowup(c.Request.Context(), middleware.UserID(c), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, followup))
}
