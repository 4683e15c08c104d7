package handler

import (
	"net/http"

	"medsales/internal/model"
	"medsales/internal/service"
	"medsales/pkg/pagination"
	"medsales/pkg/response"

	"github.com/gin-gonic/gin"
)

type AuditHandler struct {
	auditService service.AuditService
	guard        *Guard
}

func NewAuditHandler(auditService service.AuditService, guard *Guard) *AuditHandler {
	return &AuditHandler{auditService: auditService, guard: guard}
}

func (h *AuditHandler) RegisterRoutes(router *gin.RouterGroup) {
	group := router.Group("/audit-logs", h.guard.Authenticate())
	{
		group.GET("", h.guard.Require("audit_logs", model.ActionRead), h.GetAuditLogs)
	}
}

// GetAuditLogs retrieves paginated audit entries, newest first
// @Summary      Get audit logs
// @Tags         audit
// @Security     BearerAuth
// @Produce      json
// @Param        action     query     string  false  "Action"
// @Param        entity_id  query     string  false  "Entity ID"
// @Param        user_id    query     string  false  "User ID"
// @Param        from       query     string  false  "From date (YYYY-MM-DD)"
// @Param        to         query     string  false  "To date (YYYY-MM-DD)"
// @Param        page       query     int     false  "Page number (default 1)"
// @Param        limit      query     int     false  "Number of items per page (default 20)"
// @Success      200        {object}  response.Response{data=response.Page}
// @Router       /api/audit-logs [get]
func (h *AuditHandler) GetAuditLogs(c *gin.Context) {
	var req service.AuditListRequest
	if !bindQuery(c, &req) {
		return
	}
	p := pagination.Parse(c, pagination.DefaultLimit)
	req.Page, req.Limit = p.Page, p.Limit

	logs, total, err := h.auditService.GetAuditLogs(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, page(logs, total, p.Page, p.Limit)))
}
