package handler

import (
	"net/http"

	"pharmstock/internal/middleware"
	"pharmstock/internal/service"
	"pharmstock/pkg/pagination"
	"pharmstock/pkg/response"

	"github.com/gin-gonic/gin"
)

type AuditHandler struct {
	auditService service.AuditService
}

func NewAuditHandler(auditService service.AuditService) *AuditHandler {
	return &AuditHandler{auditService: auditService}
}

func (h *AuditHandler) RegisterRoutes(router *gin.RouterGroup) {
	audit := router.Group("/api")
	{
		audit.GET("/audit-logs", middleware.RequireRole("admin", "manager"), h.GetAuditLogs)
	}
}

// GetAuditLogs returns paginated audit entries, newest first
// @Summary      Get audit logs
// @Description  Retrieves a paginated list of audit log entries, optionally filtered by action
// @Tags         audit
// @Security     BearerAuth
// @Produce      json
// @Param        action  query     string  false  "Action filter (e.g. RESERVE_BUDGET)"
// @Param        page    query     int     false  "Page number (default 1)"
// @Param        limit   query     int     false  "Number of items per page (default 20)"
// @Success      200     {object}  response.Response{data=response.Paginated}
// @Failure      500     {object}  response.Response
// @Router       /api/audit-logs [get]
func (h *AuditHandler) GetAuditLogs(c *gin.Context) {
	params := pagination.Parse(c)
	action := c.Query("action")

	logs, total, err := h.auditService.GetAuditLogs(c.Request.Context(), action, params.Page, params.Limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, response.Paginated{
		Items: logs,
		Total: total,
		Page:  params.Page,
		Limit: params.Limit,
	}))
}
