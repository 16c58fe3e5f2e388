package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ATikh415/gestion-operations-waouh-sub000/internal/middleware"
	"github.com/ATikh415/gestion-operations-waouh-sub000/internal/service"
	"github.com/ATikh415/gestion-operations-waouh-sub000/pkg/pagination"
	"github.com/ATikh415/gestion-operations-waouh-sub000/pkg/response"
)

type AuditHandler struct {
	auditService service.AuditService
}

func NewAuditHandler(auditService service.AuditService) *AuditHandler {
	return &AuditHandler{auditService: auditService}
}

func (h *AuditHandler) RegisterRoutes(router *gin.RouterGroup) {
	audit := router.Group("/api/audit-logs", middleware.RequireAuth())
	{
		audit.GET("", h.ListLogs)
	}
}

// ListLogs returns the audit trail, newest first
// @Summary      List audit logs
// @Tags         audit
// @Produce      json
// @Security     BearerAuth
// @Param        page   query     int  false  "Page number"
// @Param        limit  query     int  false  "Page size"
// @Success      200    {object}  response.Response
// @Failure      403    {object}  response.Response
// @Router       /api/audit-logs [get]
func (h *AuditHandler) ListLogs(c *gin.Context) {
	params := pagination.Parse(c)

	items, total, err := h.auditService.List(c.Request.Context(), middleware.CurrentPrincipal(c), params.Page, params.Limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, listEnvelope{
		Items: items,
		Total: total,
		Page:  params.Page,
		Limit: params.Limit,
	}))
}
