package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ATikh415/gestion-operations-waouh-sub000/internal/middleware"
	"github.com/ATikh415/gestion-operations-waouh-sub000/internal/service"
	"github.com/ATikh415/gestion-operations-waouh-sub000/pkg/pagination"
	"github.com/ATikh415/gestion-operations-waouh-sub000/pkg/response"
)

type PurchaseHandler struct {
	purchaseService service.PurchaseService
}

func NewPurchaseHandler(purchaseService service.PurchaseService) *PurchaseHandler {
	return &PurchaseHandler{purchaseService: purchaseService}
}

func (h *PurchaseHandler) RegisterRoutes(router *gin.RouterGroup) {
	requests := router.Group("/api/requests", middleware.RequireAuth())
	{
		requests.POST("", h.CreateRequest)
		requests.GET("", h.ListRequests)
		requests.GET("/:id", h.GetRequest)
		requests.PUT("/:id", h.UpdateRequest)
		requests.DELETE("/:id", h.DeleteRequest)
		requests.POST("/:id/submit", h.SubmitRequest)

		requests.POST("/:id/quotes", h.AddQuote)
		requests.PUT("/:id/quotes/:quoteId/select", h.SelectQuote)

		requests.PUT("/:id/approve", h.ApproveRequest)
		requests.PUT("/:id/reject", h.RejectRequest)
		requests.PUT("/:id/validate", h.ValidateRequest)
		requests.PUT("/:id/reject-director", h.RejectAsDirector)
		requests.PUT("/:id/finalize", h.FinalizeRequest)

		requests.POST("/:id/documents", h.AddDocument)
	}

	quotes := router.Group("/api/quotes", middleware.RequireAuth())
	{
		quotes.DELETE("/:id", h.DeleteQuote)
	}

	documents := router.Group("/api/documents", middleware.RequireAuth())
	{
		documents.DELETE("/:id", h.DeleteDocument)
	}
}

// CreateRequest creates a new purchase request in DRAFT
// @Summary      Create purchase request
// @Tags         requests
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        payload  body      service.CreatePurchaseDTO  true  "New Request Payload"
// @Success      201      {object}  response.Response{data=service.PurchaseDetailResponse}
// @Failure      400      {object}  response.Response
// @Failure      403      {object}  response.Response
// @Router       /api/requests [post]
func (h *PurchaseHandler) CreateRequest(c *gin.Context) {
	var req service.CreatePurchaseDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	result, err := h.purchaseService.Create(c.Request.Context(), middleware.CurrentPrincipal(c), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, result))
}

// ListRequests returns purchase requests visible to the caller, optionally filtered by status
// @Summary      List purchase requests
// @Tags         requests
// @Produce      json
// @Security     BearerAuth
// @Param        status  query     string  false  "Filter by status"
// @Param        page    query     int     false  "Page number"
// @Param        limit   query     int     false  "Page size"
// @Success      200     {object}  response.Response
// @Router       /api/requests [get]
func (h *PurchaseHandler) ListRequests(c *gin.Context) {
	params := pagination.Parse(c)
	status := c.Query("status")

	items, total, err := h.purchaseService.List(c.Request.Context(), middleware.CurrentPrincipal(c), status, params.Page, params.Limit)
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

// GetRequest returns the full detail of one purchase request
// @Summary      Get purchase request detail
// @Tags         requests
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Request ID"
// @Success      200  {object}  response.Response{data=service.PurchaseDetailResponse}
// @Failure      404  {object}  response.Response
// @Router       /api/requests/{id} [get]
func (h *PurchaseHandler) GetRequest(c *gin.Context) {
	result, err := h.purchaseService.Get(c.Request.Context(), middleware.CurrentPrincipal(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// UpdateRequest replaces title, description and items of a DRAFT request
// @Summary      Update draft request
// @Tags         requests
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string                     true  "Request ID"
// @Param        payload  body      service.UpdatePurchaseDTO  true  "Updated Request Payload"
// @Success      200      {object}  response.Response{data=service.PurchaseDetailResponse}
// @Failure      409      {object}  response.Response
// @Router       /api/requests/{id} [put]
func (h *PurchaseHandler) UpdateRequest(c *gin.Context) {
	var req service.UpdatePurchaseDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	result, err := h.purchaseService.Update(c.Request.Context(), middleware.CurrentPrincipal(c), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// DeleteRequest removes a DRAFT request and its children
// @Summary      Delete draft request
// @Tags         requests
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Request ID"
// @Success      200  {object}  response.Response
// @Failure      409  {object}  response.Response
// @Router       /api/requests/{id} [delete]
func (h *PurchaseHandler) DeleteRequest(c *gin.Context) {
	if err := h.purchaseService.Delete(c.Request.Context(), middleware.CurrentPrincipal(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"deleted": true}))
}

// SubmitRequest moves a DRAFT request to PENDING
// @Summary      Submit request
// @Tags         requests
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Request ID"
// @Success      200  {object}  response.Response{data=service.PurchaseResponse}
// @Failure      409  {object}  response.Response
// @Router       /api/requests/{id}/submit [post]
func (h *PurchaseHandler) SubmitRequest(c *gin.Context) {
	result, err := h.purchaseService.Submit(c.Request.Context(), middleware.CurrentPrincipal(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// AddQuote attaches a supplier quote to a PENDING request
// @Summary      Add supplier quote
// @Tags         quotes
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string               true  "Request ID"
// @Param        payload  body      service.AddQuoteDTO  true  "Quote Payload"
// @Success      201      {object}  response.Response{data=service.QuoteResponse}
// @Failure      409      {object}  response.Response
// @Router       /api/requests/{id}/quotes [post]
func (h *PurchaseHandler) AddQuote(c *gin.Context) {
	var req service.AddQuoteDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	result, err := h.purchaseService.AddQuote(c.Request.Context(), middleware.CurrentPrincipal(c), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, result))
}

// SelectQuote marks one quote as the retained offer
// @Summary      Select quote
// @Tags         quotes
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string  true  "Request ID"
// @Param        quoteId  path      string  true  "Quote ID"
// @Success      200      {object}  response.Response{data=service.PurchaseResponse}
// @Failure      404      {object}  response.Response
// @Router       /api/requests/{id}/quotes/{quoteId}/select [put]
func (h *PurchaseHandler) SelectQuote(c *gin.Context) {
	result, err := h.purchaseService.SelectQuote(c.Request.Context(), middleware.CurrentPrincipal(c), c.Param("id"), c.Param("quoteId"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// DeleteQuote removes a quote unless it is the selected one
// @Summary      Delete quote
// @Tags         quotes
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Quote ID"
// @Success      200  {object}  response.Response
// @Failure      422  {object}  response.Response
// @Router       /api/quotes/{id} [delete]
func (h *PurchaseHandler) DeleteQuote(c *gin.Context) {
	if err := h.purchaseService.DeleteQuote(c.Request.Context(), middleware.CurrentPrincipal(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"deleted": true}))
}

// ApproveRequest moves a PENDING request to APPROVED
// @Summary      Approve request
// @Tags         workflow
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string              true   "Request ID"
// @Param        payload  body      service.CommentDTO  false  "Optional Comment"
// @Success      200      {object}  response.Response{data=service.PurchaseResponse}
// @Failure      422      {object}  response.Response
// @Router       /api/requests/{id}/approve [put]
func (h *PurchaseHandler) ApproveRequest(c *gin.Context) {
	var req service.CommentDTO
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	result, err := h.purchaseService.Approve(c.Request.Context(), middleware.CurrentPrincipal(c), c.Param("id"), req.Comment)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// RejectRequest rejects a PENDING request with a mandatory comment
// @Summary      Reject request
// @Tags         workflow
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string              true  "Request ID"
// @Param        payload  body      service.CommentDTO  true  "Rejection Comment"
// @Success      200      {object}  response.Response{data=service.PurchaseResponse}
// @Failure      400      {object}  response.Response
// @Router       /api/requests/{id}/reject [put]
func (h *PurchaseHandler) RejectRequest(c *gin.Context) {
	var req service.CommentDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	result, err := h.purchaseService.Reject(c.Request.Context(), middleware.CurrentPrincipal(c), c.Param("id"), req.Comment)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// ValidateRequest moves an APPROVED request to VALIDATED and fixes the final total
// @Summary      Validate request
// @Tags         workflow
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string              true   "Request ID"
// @Param        payload  body      service.CommentDTO  false  "Optional Comment"
// @Success      200      {object}  response.Response{data=service.PurchaseResponse}
// @Failure      409      {object}  response.Response
// @Router       /api/requests/{id}/validate [put]
func (h *PurchaseHandler) ValidateRequest(c *gin.Context) {
	var req service.CommentDTO
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	result, err := h.purchaseService.Validate(c.Request.Context(), middleware.CurrentPrincipal(c), c.Param("id"), req.Comment)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// RejectAsDirector rejects an APPROVED request with a mandatory comment
// @Summary      Reject request as director
// @Tags         workflow
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string              true  "Request ID"
// @Param        payload  body      service.CommentDTO  true  "Rejection Comment"
// @Success      200      {object}  response.Response{data=service.PurchaseResponse}
// @Failure      400      {object}  response.Response
// @Router       /api/requests/{id}/reject-director [put]
func (h *PurchaseHandler) RejectAsDirector(c *gin.Context) {
	var req service.CommentDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	result, err := h.purchaseService.RejectAsDirector(c.Request.Context(), middleware.CurrentPrincipal(c), c.Param("id"), req.Comment)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// FinalizeRequest moves a VALIDATED request to COMPLETED
// @Summary      Finalize request
// @Tags         workflow
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Request ID"
// @Success      200  {object}  response.Response{data=service.PurchaseResponse}
// @Failure      422  {object}  response.Response
// @Router       /api/requests/{id}/finalize [put]
func (h *PurchaseHandler) FinalizeRequest(c *gin.Context) {
	result, err := h.purchaseService.Finalize(c.Request.Context(), middleware.CurrentPrincipal(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// AddDocument attaches an uploaded document to a VALIDATED request
// @Summary      Attach document
// @Tags         documents
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string                  true  "Request ID"
// @Param        payload  body      service.AddDocumentDTO  true  "Document Payload"
// @Success      201      {object}  response.Response{data=service.DocumentResponse}
// @Failure      409      {object}  response.Response
// @Router       /api/requests/{id}/documents [post]
func (h *PurchaseHandler) AddDocument(c *gin.Context) {
	var req service.AddDocumentDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	result, err := h.purchaseService.AddDocument(c.Request.Context(), middleware.CurrentPrincipal(c), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, result))
}

// DeleteDocument removes a document from a VALIDATED request
// @Summary      Delete document
// @Tags         documents
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Document ID"
// @Success      200  {object}  response.Response
// @Failure      409  {object}  response.Response
// @Router       /api/documents/{id} [delete]
func (h *PurchaseHandler) DeleteDocument(c *gin.Context) {
	if err := h.purchaseService.DeleteDocument(c.Request.Context(), middleware.CurrentPrincipal(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"deleted": true}))
}
