package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ATikh415/gestion-operations-waouh-sub000/internal/middleware"
	"github.com/ATikh415/gestion-operations-waouh-sub000/internal/service"
	"github.com/ATikh415/gestion-operations-waouh-sub000/pkg/pagination"
	"github.com/ATikh415/gestion-operations-waouh-sub000/pkg/response"
)

type InternalHandler struct {
	internalService service.InternalService
}

func NewInternalHandler(internalService service.InternalService) *InternalHandler {
	return &InternalHandler{internalService: internalService}
}

func (h *InternalHandler) RegisterRoutes(router *gin.RouterGroup) {
	internals := router.Group("/api/internal-requests", middleware.RequireAuth())
	{
		internals.POST("", h.CreateRequest)
		internals.GET("", h.ListRequests)
		internals.GET("/:id", h.GetRequest)
		internals.PUT("/:id/approve", h.ApproveRequest)
		internals.PUT("/:id/reject", h.RejectRequest)
		internals.PUT("/:id/finalize", h.FinalizeRequest)
		internals.POST("/:id/documents", h.AddDocument)
	}

	documents := router.Group("/api/internal-documents", middleware.RequireAuth())
	{
		documents.DELETE("/:id", h.DeleteDocument)
	}
}

// CreateRequest creates an internal operating request, born in PENDING
// @Summary      Create internal request
// @Tags         internal-requests
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        payload  body      service.CreateInternalDTO  true  "New Internal Request Payload"
// @Success      201      {object}  response.Response{data=service.InternalDetailResponse}
// @Failure      400      {object}  response.Response
// @Failure      403      {object}  response.Response
// @Router       /api/internal-requests [post]
func (h *InternalHandler) CreateRequest(c *gin.Context) {
	var req service.CreateInternalDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	result, err := h.internalService.Create(c.Request.Context(), middleware.CurrentPrincipal(c), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, result))
}

// ListRequests returns internal requests visible to the caller
// @Summary      List internal requests
// @Tags         internal-requests
// @Produce      json
// @Security     BearerAuth
// @Param        status  query     string  false  "Filter by status"
// @Param        page    query     int     false  "Page number"
// @Param        limit   query     int     false  "Page size"
// @Success      200     {object}  response.Response
// @Router       /api/internal-requests [get]
func (h *InternalHandler) ListRequests(c *gin.Context) {
	params := pagination.Parse(c)
	status := c.Query("status")

	items, total, err := h.internalService.List(c.Request.Context(), middleware.CurrentPrincipal(c), status, params.Page, params.Limit)
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

// GetRequest returns the full detail of one internal request
// @Summary      Get internal request detail
// @Tags         internal-requests
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Internal Request ID"
// @Success      200  {object}  response.Response{data=service.InternalDetailResponse}
// @Failure      404  {object}  response.Response
// @Router       /api/internal-requests/{id} [get]
func (h *InternalHandler) GetRequest(c *gin.Context) {
	result, err := h.internalService.Get(c.Request.Context(), middleware.CurrentPrincipal(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// ApproveRequest moves a PENDING internal request to APPROVED
// @Summary      Approve internal request
// @Tags         internal-requests
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string              true   "Internal Request ID"
// @Param        payload  body      service.CommentDTO  false  "Optional Comment"
// @Success      200      {object}  response.Response{data=service.InternalResponse}
// @Failure      409      {object}  response.Response
// @Router       /api/internal-requests/{id}/approve [put]
func (h *InternalHandler) ApproveRequest(c *gin.Context) {
	var req service.CommentDTO
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	result, err := h.internalService.Approve(c.Request.Context(), middleware.CurrentPrincipal(c), c.Param("id"), req.Comment)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// RejectRequest rejects a PENDING internal request with a mandatory comment
// @Summary      Reject internal request
// @Tags         internal-requests
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string              true  "Internal Request ID"
// @Param        payload  body      service.CommentDTO  true  "Rejection Comment"
// @Success      200      {object}  response.Response{data=service.InternalResponse}
// @Failure      400      {object}  response.Response
// @Router       /api/internal-requests/{id}/reject [put]
func (h *InternalHandler) RejectRequest(c *gin.Context) {
	var req service.CommentDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	result, err := h.internalService.Reject(c.Request.Context(), middleware.CurrentPrincipal(c), c.Param("id"), req.Comment)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// FinalizeRequest moves an APPROVED internal request to COMPLETED
// @Summary      Finalize internal request
// @Tags         internal-requests
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Internal Request ID"
// @Success      200  {object}  response.Response{data=service.InternalResponse}
// @Failure      409  {object}  response.Response
// @Router       /api/internal-requests/{id}/finalize [put]
func (h *InternalHandler) FinalizeRequest(c *gin.Context) {
	result, err := h.internalService.Finalize(c.Request.Context(), middleware.CurrentPrincipal(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// AddDocument attaches an uploaded document to an APPROVED internal request
// @Summary      Attach internal document
// @Tags         internal-requests
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string                  true  "Internal Request ID"
// @Param        payload  body      service.AddDocumentDTO  true  "Document Payload"
// @Success      201      {object}  response.Response{data=service.DocumentResponse}
// @Failure      409      {object}  response.Response
// @Router       /api/internal-requests/{id}/documents [post]
func (h *InternalHandler) AddDocument(c *gin.Context) {
	var req service.AddDocumentDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	result, err := h.internalService.AddDocument(c.Request.Context(), middleware.CurrentPrincipal(c), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, result))
}

// DeleteDocument removes a document from an APPROVED internal request
// @Summary      Delete internal document
// @Tags         internal-requests
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Internal Document ID"
// @Success      200  {object}  response.Response
// @Failure      409  {object}  response.Response
// @Router       /api/internal-documents/{id} [delete]
func (h *InternalHandler) DeleteDocument(c *gin.Context) {
	if err := h.internalService.DeleteDocument(c.Request.Context(), middleware.CurrentPrincipal(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"deleted": true}))
}
