package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ATikh415/gestion-operations-waouh-sub000/internal/apperr"
	"github.com/ATikh415/gestion-operations-waouh-sub000/internal/auth"
	"github.com/ATikh415/gestion-operations-waouh-sub000/internal/model"
	"github.com/ATikh415/gestion-operations-waouh-sub000/internal/repository"
)

const minCommentLength = 10

// Notifier delivers best-effort messages; implemented by the notification package.
type Notifier interface {
	Send(to []string, subject, body string) error
}

// Broadcaster pushes lifecycle events to connected dashboards; implemented by
// the websocket hub. May be nil.
type Broadcaster interface {
	BroadcastEvent(event string, payload interface{})
}

// --- DTOs ---

type PurchaseItemInput struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	Quantity    int    `json:"quantity" binding:"required"`
	UnitPrice   string `json:"unit_price" binding:"required"` // decimal string
}

type CreatePurchaseDTO struct {
	Title       string              `json:"title" binding:"required"`
	Description string              `json:"description"`
	Items       []PurchaseItemInput `json:"items" binding:"required"`
}

type UpdatePurchaseDTO struct {
	Title       string              `json:"title" binding:"required"`
	Description string              `json:"description"`
	Items       []PurchaseItemInput `json:"items" binding:"required"`
}

type AddQuoteDTO struct {
	SupplierName    string `json:"supplier_name" binding:"required"`
	SupplierContact string `json:"supplier_contact"`
	Amount          string `json:"amount" binding:"required"`      // decimal string
	ValidUntil      string `json:"valid_until" binding:"required"` // YYYY-MM-DD
	Notes           string `json:"notes"`
}

type AddDocumentDTO struct {
	Type    string `json:"type" binding:"required"`
	Name    string `json:"name" binding:"required"`
	FileURL string `json:"file_url" binding:"required"`
}

type CommentDTO struct {
	Comment string `json:"comment"`
}

type PurchaseResponse struct {
	ID              string  `json:"id"`
	Reference       string  `json:"reference"`
	Title           string  `json:"title"`
	Description     string  `json:"description"`
	Status          string  `json:"status"`
	TotalEstimated  string  `json:"total_estimated"`
	TotalFinal      *string `json:"total_final"`
	RequesterID     string  `json:"requester_id"`
	RequesterName   string  `json:"requester_name,omitempty"`
	DepartmentID    string  `json:"department_id"`
	DepartmentName  string  `json:"department_name,omitempty"`
	SelectedQuoteID *string `json:"selected_quote_id"`
	ItemCount       int     `json:"item_count"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
}

type PurchaseItemResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	LineTotal   string `json:"line_total"`
}

type QuoteResponse struct {
	ID              string `json:"id"`
	SupplierName    string `json:"supplier_name"`
	SupplierContact string `json:"supplier_contact"`
	Amount          string `json:"amount"`
	ValidUntil      string `json:"valid_until"`
	Notes           string `json:"notes"`
	CreatedAt       string `json:"created_at"`
}

type ApprovalResponse struct {
	ID        string `json:"id"`
	Action    string `json:"action"`
	Comment   string `json:"comment"`
	Role      string `json:"role"`
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name,omitempty"`
	CreatedAt string `json:"created_at"`
}

type DocumentResponse struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Name      string `json:"name"`
	FileURL   string `json:"file_url"`
	CreatedAt string `json:"created_at"`
}

type PurchaseDetailResponse struct {
	PurchaseResponse
	Items           []PurchaseItemResponse `json:"items"`
	Quotes          []QuoteResponse        `json:"quotes"`
	Approvals       []ApprovalResponse     `json:"approvals"`
	Documents       []DocumentResponse     `json:"documents"`
	CheapestQuoteID *string                `json:"cheapest_quote_id"` // hint only, never enforced
}

// --- Interface ---

// PurchaseService is the purchase request engine: it owns the aggregate's
// lifecycle and is the only mutation path for it.
type PurchaseService interface {
	Create(ctx context.Context, p auth.Principal, req CreatePurchaseDTO) (*PurchaseDetailResponse, error)
	Update(ctx context.Context, p auth.Principal, id string, req UpdatePurchaseDTO) (*PurchaseDetailResponse, error)
	Submit(ctx context.Context, p auth.Principal, id string) (*PurchaseResponse, error)
	Delete(ctx context.Context, p auth.Principal, id string) error
	Get(ctx context.Context, p auth.Principal, id string) (*PurchaseDetailResponse, error)
	List(ctx context.Context, p auth.Principal, status string, page, limit int) ([]PurchaseResponse, int64, error)

	AddQuote(ctx context.Context, p auth.Principal, id string, req AddQuoteDTO) (*QuoteResponse, error)
	SelectQuote(ctx context.Context, p auth.Principal, id, quoteID string) (*PurchaseResponse, error)
	DeleteQuote(ctx context.Context, p auth.Principal, quoteID string) error

	Approve(ctx context.Context, p auth.Principal, id, comment string) (*PurchaseResponse, error)
	Reject(ctx context.Context, p auth.Principal, id, comment string) (*PurchaseResponse, error)
	Validate(ctx context.Context, p auth.Principal, id, comment string) (*PurchaseResponse, error)
	RejectAsDirector(ctx context.Context, p auth.Principal, id, comment string) (*PurchaseResponse, error)

	AddDocument(ctx context.Context, p auth.Principal, id string, req AddDocumentDTO) (*DocumentResponse, error)
	DeleteDocument(ctx context.Context, p auth.Principal, documentID string) error
	Finalize(ctx context.Context, p auth.Principal, id string) (*PurchaseResponse, error)
}

type purchaseService struct {
	requests  repository.PurchaseRepository
	users     repository.UserRepository
	audits    repository.AuditRepository
	txManager repository.TransactionManager
	refs      ReferenceService
	notifier  Notifier
	hub       Broadcaster
	logger    *zap.Logger
}

func NewPurchaseService(
	requests repository.PurchaseRepository,
	users repository.UserRepository,
	audits repository.AuditRepository,
	txManager repository.TransactionManager,
	refs ReferenceService,
	notifier Notifier,
	hub Broadcaster,
	logger *zap.Logger,
) PurchaseService {
	return &purchaseService{
		requests:  requests,
		users:     users,
		audits:    audits,
		txManager: txManager,
		refs:      refs,
		notifier:  notifier,
		hub:       hub,
		logger:    logger,
	}
}

// --- Implementation ---

func (s *purchaseService) Create(ctx context.Context, p auth.Principal, req CreatePurchaseDTO) (*PurchaseDetailResponse, error) {
	if err := requireCapability(p, auth.CapCreateRequest); err != nil {
		return nil, err
	}
	if p.DepartmentID == nil {
		return nil, apperr.New(apperr.KindForbidden, "requester has no assigned department")
	}
	if err := validateTitle(req.Title); err != nil {
		return nil, err
	}
	items, total, err := buildItems(req.Items)
	if err != nil {
		return nil, err
	}

	reference, err := s.refs.PurchaseReference(ctx, time.Now())
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to generate reference", err)
	}

	request := &model.PurchaseRequest{
		Reference:      reference,
		Title:          strings.TrimSpace(req.Title),
		Description:    req.Description,
		Status:         model.PurchaseStatusDraft,
		TotalEstimated: total,
		RequesterID:    p.ID,
		DepartmentID:   *p.DepartmentID,
		Items:          items,
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if createErr := s.requests.Create(txCtx, request); createErr != nil {
			return fmt.Errorf("failed to create purchase request: %w", createErr)
		}
		return s.audit(txCtx, p, model.ActionCreateRequest, request, map[string]interface{}{
			"title":           request.Title,
			"item_count":      len(items),
			"total_estimated": total.String(),
		})
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "create failed", err)
	}

	return s.reload(ctx, request.ID)
}

func (s *purchaseService) Update(ctx context.Context, p auth.Principal, id string, req UpdatePurchaseDTO) (*PurchaseDetailResponse, error) {
	request, err := s.loadOwnedDraft(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if err := validateTitle(req.Title); err != nil {
		return nil, err
	}
	items, total, err := buildItems(req.Items)
	if err != nil {
		return nil, err
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if replaceErr := s.requests.ReplaceItems(txCtx, request.ID, items); replaceErr != nil {
			return fmt.Errorf("failed to replace items: %w", replaceErr)
		}
		fields := map[string]interface{}{
			"title":           strings.TrimSpace(req.Title),
			"description":     req.Description,
			"total_estimated": total,
		}
		if updateErr := s.requests.UpdateFields(txCtx, request.ID, fields); updateErr != nil {
			return fmt.Errorf("failed to update request: %w", updateErr)
		}
		return s.audit(txCtx, p, model.ActionUpdateRequest, request, map[string]interface{}{
			"item_count":      len(items),
			"total_estimated": total.String(),
		})
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "update failed", err)
	}

	return s.reload(ctx, request.ID)
}

func (s *purchaseService) Submit(ctx context.Context, p auth.Principal, id string) (*PurchaseResponse, error) {
	request, err := s.loadOwnedDraft(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if len(request.Items) == 0 {
		return nil, apperr.New(apperr.KindInvalidState, "cannot submit a request without items")
	}

	err = s.transition(ctx, p, request, model.PurchaseStatusDraft, model.PurchaseStatusPending,
		model.ActionSubmitRequest, nil, nil)
	if err != nil {
		return nil, err
	}

	s.notifyRoles(request, "Nouvelle demande d'achat à traiter",
		fmt.Sprintf("La demande %s (%s) a été soumise et attend vos devis.", request.Reference, request.Title),
		model.RoleAchat)
	s.broadcast("purchase_request.submitted", request)

	return s.reloadSummary(ctx, request.ID)
}

func (s *purchaseService) Delete(ctx context.Context, p auth.Principal, id string) error {
	request, err := s.loadOwnedDraft(ctx, p, id)
	if err != nil {
		return err
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if delErr := s.requests.Delete(txCtx, request.ID); delErr != nil {
			return fmt.Errorf("failed to delete request: %w", delErr)
		}
		return s.audit(txCtx, p, model.ActionDeleteRequest, request, nil)
	})
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "delete failed", err)
	}
	return nil
}

func (s *purchaseService) Get(ctx context.Context, p auth.Principal, id string) (*PurchaseDetailResponse, error) {
	if !p.Authenticated() {
		return nil, apperr.New(apperr.KindUnauthenticated, "authentication required")
	}
	requestID, err := parseID(id, "request id")
	if err != nil {
		return nil, err
	}
	request, err := s.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	// Requesters only see their own requests
	if p.Role == model.RoleUser && request.RequesterID != p.ID {
		return nil, apperr.New(apperr.KindForbidden, "not your request")
	}
	detail := toPurchaseDetail(request)
	return &detail, nil
}

func (s *purchaseService) List(ctx context.Context, p auth.Principal, status string, page, limit int) ([]PurchaseResponse, int64, error) {
	if !p.Authenticated() {
		return nil, 0, apperr.New(apperr.KindUnauthenticated, "authentication required")
	}

	filter := repository.PurchaseFilter{Status: status, Page: page, Limit: limit}
	if p.Role == model.RoleUser {
		requesterID := p.ID
		filter.RequesterID = &requesterID
	}

	requests, total, err := s.requests.List(ctx, filter)
	if err != nil {
		return nil, 0, apperr.Wrap(apperr.KindInternal, "failed to list requests", err)
	}

	result := make([]PurchaseResponse, 0, len(requests))
	for i := range requests {
		result = append(result, toPurchaseResponse(&requests[i]))
	}
	return result, total, nil
}

func (s *purchaseService) AddQuote(ctx context.Context, p auth.Principal, id string, req AddQuoteDTO) (*QuoteResponse, error) {
	if err := requireCapability(p, auth.CapAddQuote); err != nil {
		return nil, err
	}
	requestID, err := parseID(id, "request id")
	if err != nil {
		return nil, err
	}
	request, err := s.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.Status != model.PurchaseStatusPending {
		return nil, apperr.Newf(apperr.KindInvalidState, "quotes can only be added while PENDING, request is %s", request.Status)
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return nil, apperr.New(apperr.KindValidation, "invalid quote amount")
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, apperr.New(apperr.KindValidation, "quote amount must be positive")
	}
	validUntil, err := time.Parse("2006-01-02", req.ValidUntil)
	if err != nil {
		return nil, apperr.New(apperr.KindValidation, "invalid valid_until date, expected YYYY-MM-DD")
	}

	quote := &model.Quote{
		RequestID:       request.ID,
		SupplierName:    strings.TrimSpace(req.SupplierName),
		SupplierContact: req.SupplierContact,
		Amount:          amount,
		ValidUntil:      validUntil,
		Notes:           req.Notes,
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if addErr := s.requests.AddQuote(txCtx, quote); addErr != nil {
			return fmt.Errorf("failed to add quote: %w", addErr)
		}
		return s.audit(txCtx, p, model.ActionAddQuote, request, map[string]interface{}{
			"supplier": quote.SupplierName,
			"amount":   amount.String(),
		})
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "add quote failed", err)
	}

	resp := toQuoteResponse(quote)
	return &resp, nil
}

func (s *purchaseService) SelectQuote(ctx context.Context, p auth.Principal, id, quoteID string) (*PurchaseResponse, error) {
	if err := requireCapability(p, auth.CapSelectQuote); err != nil {
		return nil, err
	}
	requestID, err := parseID(id, "request id")
	if err != nil {
		return nil, err
	}
	qID, err := parseID(quoteID, "quote id")
	if err != nil {
		return nil, err
	}
	request, err := s.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.Status != model.PurchaseStatusPending {
		return nil, apperr.Newf(apperr.KindInvalidState, "quotes can only be selected while PENDING, request is %s", request.Status)
	}

	quote, err := s.requests.FindQuoteByID(ctx, qID)
	if err != nil {
		return nil, notFoundOr(err, "quote")
	}
	if quote.RequestID != request.ID {
		return nil, apperr.New(apperr.KindValidation, "quote does not belong to this request")
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if updErr := s.requests.UpdateFields(txCtx, request.ID, map[string]interface{}{"selected_quote_id": qID}); updErr != nil {
			return fmt.Errorf("failed to select quote: %w", updErr)
		}
		return s.audit(txCtx, p, model.ActionSelectQuote, request, map[string]interface{}{
			"quote_id": qID.String(),
			"supplier": quote.SupplierName,
			"amount":   quote.Amount.String(),
		})
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "select quote failed", err)
	}

	return s.reloadSummary(ctx, request.ID)
}

func (s *purchaseService) DeleteQuote(ctx context.Context, p auth.Principal, quoteID string) error {
	if err := requireCapability(p, auth.CapDeleteQuote); err != nil {
		return err
	}
	qID, err := parseID(quoteID, "quote id")
	if err != nil {
		return err
	}
	quote, err := s.requests.FindQuoteByID(ctx, qID)
	if err != nil {
		return notFoundOr(err, "quote")
	}
	request, err := s.load(ctx, quote.RequestID)
	if err != nil {
		return err
	}
	// The selected quote is never deletable, whatever the parent's status
	if request.SelectedQuoteID != nil && *request.SelectedQuoteID == qID {
		return apperr.New(apperr.KindPreconditionFailed, "cannot delete the currently selected quote")
	}
	if request.Status != model.PurchaseStatusPending {
		return apperr.Newf(apperr.KindInvalidState, "quotes can only be deleted while PENDING, request is %s", request.Status)
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if delErr := s.requests.DeleteQuote(txCtx, qID); delErr != nil {
			return fmt.Errorf("failed to delete quote: %w", delErr)
		}
		return s.audit(txCtx, p, model.ActionDeleteQuote, request, map[string]interface{}{
			"quote_id": qID.String(),
			"supplier": quote.SupplierName,
		})
	})
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "delete quote failed", err)
	}
	return nil
}

func (s *purchaseService) Approve(ctx context.Context, p auth.Principal, id, comment string) (*PurchaseResponse, error) {
	if err := requireCapability(p, auth.CapReviewRequest); err != nil {
		return nil, err
	}
	requestID, err := parseID(id, "request id")
	if err != nil {
		return nil, err
	}
	request, err := s.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.Status != model.PurchaseStatusPending {
		return nil, apperr.Newf(apperr.KindInvalidState, "only PENDING requests can be approved, request is %s", request.Status)
	}
	if len(request.Quotes) < 2 || request.SelectedQuoteID == nil {
		return nil, apperr.Newf(apperr.KindPreconditionFailed,
			"approval requires at least 2 quotes and a selected quote (%d collected, selected: %t)",
			len(request.Quotes), request.SelectedQuoteID != nil).
			WithDetail("quote_count", len(request.Quotes)).
			WithDetail("quotes_required", 2).
			WithDetail("has_selected_quote", request.SelectedQuoteID != nil)
	}

	approval := &model.Approval{
		RequestID: request.ID,
		Action:    model.ApprovalActionApprove,
		Comment:   comment,
		Role:      p.Role,
		UserID:    p.ID,
	}
	err = s.transition(ctx, p, request, model.PurchaseStatusPending, model.PurchaseStatusApproved,
		model.ActionApproveRequest, nil, approval)
	if err != nil {
		return nil, err
	}

	s.notifyRoles(request, "Demande d'achat approuvée",
		fmt.Sprintf("La demande %s (%s) a été approuvée par le service achat et attend votre validation.", request.Reference, request.Title),
		model.RoleDirecteur)
	s.broadcast("purchase_request.approved", request)

	return s.reloadSummary(ctx, request.ID)
}

func (s *purchaseService) Reject(ctx context.Context, p auth.Principal, id, comment string) (*PurchaseResponse, error) {
	if err := requireCapability(p, auth.CapReviewRequest); err != nil {
		return nil, err
	}
	return s.reject(ctx, p, id, comment, model.PurchaseStatusPending)
}

func (s *purchaseService) RejectAsDirector(ctx context.Context, p auth.Principal, id, comment string) (*PurchaseResponse, error) {
	if err := requireCapability(p, auth.CapValidateRequest); err != nil {
		return nil, err
	}
	return s.reject(ctx, p, id, comment, model.PurchaseStatusApproved)
}

// reject handles both rejection stages; fromStatus is the stage the caller's
// role rejects from (ACHAT: PENDING, DIRECTEUR: APPROVED).
func (s *purchaseService) reject(ctx context.Context, p auth.Principal, id, comment, fromStatus string) (*PurchaseResponse, error) {
	if err := validateComment(comment); err != nil {
		return nil, err
	}
	requestID, err := parseID(id, "request id")
	if err != nil {
		return nil, err
	}
	request, err := s.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.Status != fromStatus {
		return nil, apperr.Newf(apperr.KindInvalidState, "request is %s, expected %s", request.Status, fromStatus)
	}

	approval := &model.Approval{
		RequestID: request.ID,
		Action:    model.ApprovalActionReject,
		Comment:   comment,
		Role:      p.Role,
		UserID:    p.ID,
	}
	err = s.transition(ctx, p, request, fromStatus, model.PurchaseStatusRejected,
		model.ActionRejectRequest, map[string]interface{}{"reason": comment}, approval)
	if err != nil {
		return nil, err
	}

	s.notifyUsers(request, "Demande d'achat rejetée",
		fmt.Sprintf("La demande %s (%s) a été rejetée. Motif : %s", request.Reference, request.Title, comment),
		request.RequesterID)
	if fromStatus == model.PurchaseStatusApproved {
		// Director rejection also informs the buying department
		s.notifyRoles(request, "Demande d'achat rejetée par la direction",
			fmt.Sprintf("La demande %s (%s) a été rejetée par la direction. Motif : %s", request.Reference, request.Title, comment),
			model.RoleAchat)
	}
	s.broadcast("purchase_request.rejected", request)

	return s.reloadSummary(ctx, request.ID)
}

func (s *purchaseService) Validate(ctx context.Context, p auth.Principal, id, comment string) (*PurchaseResponse, error) {
	if err := requireCapability(p, auth.CapValidateRequest); err != nil {
		return nil, err
	}
	requestID, err := parseID(id, "request id")
	if err != nil {
		return nil, err
	}
	request, err := s.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.Status != model.PurchaseStatusApproved {
		return nil, apperr.Newf(apperr.KindInvalidState, "only APPROVED requests can be validated, request is %s", request.Status)
	}
	if request.SelectedQuoteID == nil {
		return nil, apperr.New(apperr.KindPreconditionFailed, "validation requires a selected quote").
			WithDetail("has_selected_quote", false)
	}

	// totalFinal comes from the selected quote, falling back to the
	// estimate if the quote row went missing.
	totalFinal := request.TotalEstimated
	if quote := request.SelectedQuote(); quote != nil {
		totalFinal = quote.Amount
	}

	approval := &model.Approval{
		RequestID: request.ID,
		Action:    model.ApprovalActionApprove,
		Comment:   comment,
		Role:      p.Role,
		UserID:    p.ID,
	}
	err = s.transition(ctx, p, request, model.PurchaseStatusApproved, model.PurchaseStatusValidated,
		model.ActionValidateRequest, map[string]interface{}{"total_final": totalFinal}, approval)
	if err != nil {
		return nil, err
	}

	s.notifyRoles(request, "Demande d'achat validée",
		fmt.Sprintf("La demande %s (%s) a été validée pour un montant de %s. Merci de joindre les pièces justificatives.",
			request.Reference, request.Title, totalFinal.String()),
		model.RoleComptable)
	s.notifyUsers(request, "Demande d'achat validée",
		fmt.Sprintf("Votre demande %s (%s) a été validée par la direction.", request.Reference, request.Title),
		request.RequesterID)
	s.broadcast("purchase_request.validated", request)

	return s.reloadSummary(ctx, request.ID)
}

func (s *purchaseService) AddDocument(ctx context.Context, p auth.Principal, id string, req AddDocumentDTO) (*DocumentResponse, error) {
	if err := requireCapability(p, auth.CapManageDocuments); err != nil {
		return nil, err
	}
	requestID, err := parseID(id, "request id")
	if err != nil {
		return nil, err
	}
	request, err := s.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.Status != model.PurchaseStatusValidated {
		return nil, apperr.Newf(apperr.KindInvalidState, "documents can only be added while VALIDATED, request is %s", request.Status)
	}
	if !model.ValidDocumentType(req.Type) {
		return nil, apperr.Newf(apperr.KindValidation, "invalid document type %q", req.Type)
	}

	doc := &model.Document{
		RequestID:  request.ID,
		Type:       req.Type,
		Name:       strings.TrimSpace(req.Name),
		FileURL:    req.FileURL,
		UploadedBy: p.ID,
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if addErr := s.requests.AddDocument(txCtx, doc); addErr != nil {
			return fmt.Errorf("failed to add document: %w", addErr)
		}
		return s.audit(txCtx, p, model.ActionAddDocument, request, map[string]interface{}{
			"type": doc.Type,
			"name": doc.Name,
		})
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "add document failed", err)
	}

	resp := toDocumentResponse(doc)
	return &resp, nil
}

func (s *purchaseService) DeleteDocument(ctx context.Context, p auth.Principal, documentID string) error {
	if err := requireCapability(p, auth.CapManageDocuments); err != nil {
		return err
	}
	docID, err := parseID(documentID, "document id")
	if err != nil {
		return err
	}
	doc, err := s.requests.FindDocumentByID(ctx, docID)
	if err != nil {
		return notFoundOr(err, "document")
	}
	request, err := s.load(ctx, doc.RequestID)
	if err != nil {
		return err
	}
	// Documents freeze once the request is COMPLETED
	if request.Status != model.PurchaseStatusValidated {
		return apperr.Newf(apperr.KindInvalidState, "documents can only be removed while VALIDATED, request is %s", request.Status)
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if delErr := s.requests.DeleteDocument(txCtx, docID); delErr != nil {
			return fmt.Errorf("failed to delete document: %w", delErr)
		}
		return s.audit(txCtx, p, model.ActionDeleteDocument, request, map[string]interface{}{
			"document_id": docID.String(),
			"name":        doc.Name,
		})
	})
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "delete document failed", err)
	}
	return nil
}

func (s *purchaseService) Finalize(ctx context.Context, p auth.Principal, id string) (*PurchaseResponse, error) {
	if err := requireCapability(p, auth.CapFinalizeRequest); err != nil {
		return nil, err
	}
	requestID, err := parseID(id, "request id")
	if err != nil {
		return nil, err
	}
	request, err := s.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.Status != model.PurchaseStatusValidated {
		return nil, apperr.Newf(apperr.KindInvalidState, "only VALIDATED requests can be finalized, request is %s", request.Status)
	}
	if len(request.Documents) == 0 {
		return nil, apperr.New(apperr.KindPreconditionFailed, "finalization requires at least 1 supporting document").
			WithDetail("document_count", 0).
			WithDetail("documents_required", 1)
	}
	if request.SelectedQuoteID == nil {
		return nil, apperr.New(apperr.KindPreconditionFailed, "finalization requires a selected quote").
			WithDetail("has_selected_quote", false)
	}

	approval := &model.Approval{
		RequestID: request.ID,
		Action:    model.ApprovalActionApprove,
		Comment:   "finalized",
		Role:      p.Role,
		UserID:    p.ID,
	}
	err = s.transition(ctx, p, request, model.PurchaseStatusValidated, model.PurchaseStatusCompleted,
		model.ActionFinalizeRequest, nil, approval)
	if err != nil {
		return nil, err
	}

	s.notifyUsers(request, "Demande d'achat clôturée",
		fmt.Sprintf("Votre demande %s (%s) est clôturée.", request.Reference, request.Title),
		request.RequesterID)
	s.notifyRoles(request, "Demande d'achat clôturée",
		fmt.Sprintf("La demande %s (%s) a été clôturée par la comptabilité.", request.Reference, request.Title),
		model.RoleAchat, model.RoleDirecteur)
	s.broadcast("purchase_request.completed", request)

	return s.reloadSummary(ctx, request.ID)
}

// --- Internals ---

// transition performs the guarded status update plus its approval and audit
// rows in one transaction. A zero-row update means another actor already
// moved the request and the transition fails with InvalidState.
func (s *purchaseService) transition(
	ctx context.Context,
	p auth.Principal,
	request *model.PurchaseRequest,
	from, to, action string,
	extra map[string]interface{},
	approval *model.Approval,
) error {
	var detailExtra map[string]interface{}
	if reason, ok := extra["reason"]; ok {
		detailExtra = map[string]interface{}{"reason": reason}
		delete(extra, "reason")
	}

	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		ok, trErr := s.requests.TransitionStatus(txCtx, request.ID, from, to, extra)
		if trErr != nil {
			return fmt.Errorf("failed to update status: %w", trErr)
		}
		if !ok {
			return apperr.Newf(apperr.KindInvalidState, "request is no longer %s", from)
		}
		if approval != nil {
			if appErr := s.requests.AddApproval(txCtx, approval); appErr != nil {
				return fmt.Errorf("failed to append approval: %w", appErr)
			}
		}
		details := map[string]interface{}{"from": from, "to": to}
		for k, v := range detailExtra {
			details[k] = v
		}
		return s.audit(txCtx, p, action, request, details)
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInvalidState {
			return err
		}
		return apperr.Wrap(apperr.KindInternal, "transition failed", err)
	}
	return nil
}

func (s *purchaseService) audit(ctx context.Context, p auth.Principal, action string, request *model.PurchaseRequest, details map[string]interface{}) error {
	payload, _ := json.Marshal(details)
	userID := p.ID
	entry := &model.AuditLog{
		UserID:     &userID,
		Action:     action,
		EntityType: model.EntityPurchaseRequest,
		EntityID:   request.ID.String(),
		EntityName: request.Reference,
		Details:    string(payload),
	}
	if err := s.audits.Log(ctx, entry); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

// loadOwnedDraft resolves a request and enforces the owner-only DRAFT edit
// window shared by Update, Submit and Delete.
func (s *purchaseService) loadOwnedDraft(ctx context.Context, p auth.Principal, id string) (*model.PurchaseRequest, error) {
	if err := requireCapability(p, auth.CapEditOwnDraft); err != nil {
		return nil, err
	}
	requestID, err := parseID(id, "request id")
	if err != nil {
		return nil, err
	}
	request, err := s.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.RequesterID != p.ID {
		return nil, apperr.New(apperr.KindForbidden, "not your request")
	}
	if request.Status != model.PurchaseStatusDraft {
		return nil, apperr.Newf(apperr.KindInvalidState, "request is %s, only DRAFT requests can be modified", request.Status)
	}
	return request, nil
}

func (s *purchaseService) load(ctx context.Context, id uuid.UUID) (*model.PurchaseRequest, error) {
	request, err := s.requests.FindByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "purchase request")
	}
	return request, nil
}

func (s *purchaseService) reload(ctx context.Context, id uuid.UUID) (*PurchaseDetailResponse, error) {
	request, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	detail := toPurchaseDetail(request)
	return &detail, nil
}

func (s *purchaseService) reloadSummary(ctx context.Context, id uuid.UUID) (*PurchaseResponse, error) {
	request, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := toPurchaseResponse(request)
	return &resp, nil
}

// notifyRoles emails every user holding one of the roles. Strictly
// best-effort: errors and panics are logged and swallowed.
func (s *purchaseService) notifyRoles(request *model.PurchaseRequest, subject, body string, roles ...string) {
	defer s.recoverNotify(request.Reference)
	var recipients []string
	for _, role := range roles {
		users, err := s.users.ListByRole(context.Background(), role)
		if err != nil {
			s.logger.Warn("failed to resolve notification recipients",
				zap.String("role", role), zap.Error(err))
			continue
		}
		for _, u := range users {
			if u.Email != "" {
				recipients = append(recipients, u.Email)
			}
		}
	}
	if err := s.notifier.Send(recipients, subject, body); err != nil {
		s.logger.Warn("notification dispatch failed",
			zap.String("reference", request.Reference), zap.Error(err))
	}
}

func (s *purchaseService) notifyUsers(request *model.PurchaseRequest, subject, body string, userIDs ...uuid.UUID) {
	defer s.recoverNotify(request.Reference)
	var recipients []string
	for _, id := range userIDs {
		u, err := s.users.GetByID(context.Background(), id.String())
		if err != nil {
			s.logger.Warn("failed to resolve notification recipient",
				zap.String("user_id", id.String()), zap.Error(err))
			continue
		}
		if u.Email != "" {
			recipients = append(recipients, u.Email)
		}
	}
	if err := s.notifier.Send(recipients, subject, body); err != nil {
		s.logger.Warn("notification dispatch failed",
			zap.String("reference", request.Reference), zap.Error(err))
	}
}

func (s *purchaseService) recoverNotify(reference string) {
	if r := recover(); r != nil {
		s.logger.Warn("notification dispatch panicked",
			zap.String("reference", reference), zap.Any("panic", r))
	}
}

func (s *purchaseService) broadcast(event string, request *model.PurchaseRequest) {
	if s.hub == nil {
		return
	}
	s.hub.BroadcastEvent(event, map[string]interface{}{
		"id":        request.ID.String(),
		"reference": request.Reference,
	})
}

// --- Shared helpers ---

func requireCapability(p auth.Principal, c auth.Capability) error {
	if !p.Authenticated() {
		return apperr.New(apperr.KindUnauthenticated, "authentication required")
	}
	if !p.Can(c) {
		return apperr.Newf(apperr.KindForbidden, "role %s is not allowed to perform %s", p.Role, c)
	}
	return nil
}

func parseID(id, what string) (uuid.UUID, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, apperr.Newf(apperr.KindValidation, "invalid %s", what)
	}
	return parsed, nil
}

func notFoundOr(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.Newf(apperr.KindNotFound, "%s not found", what)
	}
	return apperr.Wrap(apperr.KindInternal, "storage failure", err)
}

func validateTitle(title string) error {
	trimmed := strings.TrimSpace(title)
	if utf8.RuneCountInString(trimmed) < 3 {
		return apperr.New(apperr.KindValidation, "title must be at least 3 characters")
	}
	if utf8.RuneCountInString(trimmed) > 255 {
		return apperr.New(apperr.KindValidation, "title must be at most 255 characters")
	}
	return nil
}

func validateComment(comment string) error {
	if utf8.RuneCountInString(strings.TrimSpace(comment)) < minCommentLength {
		return apperr.Newf(apperr.KindValidation, "a comment of at least %d characters is required", minCommentLength).
			WithDetail("min_length", minCommentLength)
	}
	return nil
}

func buildItems(inputs []PurchaseItemInput) ([]model.PurchaseItem, decimal.Decimal, error) {
	if len(inputs) == 0 {
		return nil, decimal.Zero, apperr.New(apperr.KindValidation, "at least one item is required")
	}

	items := make([]model.PurchaseItem, 0, len(inputs))
	total := decimal.Zero
	for i, in := range inputs {
		name := strings.TrimSpace(in.Name)
		if name == "" {
			return nil, decimal.Zero, apperr.Newf(apperr.KindValidation, "item %d: name is required", i+1)
		}
		if in.Quantity <= 0 {
			return nil, decimal.Zero, apperr.Newf(apperr.KindValidation, "item %d: quantity must be positive", i+1)
		}
		price, err := decimal.NewFromString(in.UnitPrice)
		if err != nil {
			return nil, decimal.Zero, apperr.Newf(apperr.KindValidation, "item %d: invalid unit price", i+1)
		}
		if price.IsNegative() {
			return nil, decimal.Zero, apperr.Newf(apperr.KindValidation, "item %d: unit price cannot be negative", i+1)
		}
		items = append(items, model.PurchaseItem{
			Name:        name,
			Description: in.Description,
			Quantity:    in.Quantity,
			UnitPrice:   price,
		})
		total = total.Add(price.Mul(decimal.NewFromInt(int64(in.Quantity))))
	}
	return items, total, nil
}

// --- Response mapping ---

func toPurchaseResponse(r *model.PurchaseRequest) PurchaseResponse {
	resp := PurchaseResponse{
		ID:             r.ID.String(),
		Reference:      r.Reference,
		Title:          r.Title,
		Description:    r.Description,
		Status:         r.Status,
		TotalEstimated: r.TotalEstimated.String(),
		RequesterID:    r.RequesterID.String(),
		DepartmentID:   r.DepartmentID.String(),
		ItemCount:      len(r.Items),
		CreatedAt:      r.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      r.UpdatedAt.Format(time.RFC3339),
	}
	if r.TotalFinal != nil {
		v := r.TotalFinal.String()
		resp.TotalFinal = &v
	}
	if r.SelectedQuoteID != nil {
		v := r.SelectedQuoteID.String()
		resp.SelectedQuoteID = &v
	}
	if r.Requester != nil {
		resp.RequesterName = r.Requester.Username
	}
	if r.Department != nil {
		resp.DepartmentName = r.Department.Name
	}
	return resp
}

func toPurchaseDetail(r *model.PurchaseRequest) PurchaseDetailResponse {
	detail := PurchaseDetailResponse{
		PurchaseResponse: toPurchaseResponse(r),
		Items:            make([]PurchaseItemResponse, 0, len(r.Items)),
		Quotes:           make([]QuoteResponse, 0, len(r.Quotes)),
		Approvals:        make([]ApprovalResponse, 0, len(r.Approvals)),
		Documents:        make([]DocumentResponse, 0, len(r.Documents)),
	}
	for i := range r.Items {
		item := &r.Items[i]
		detail.Items = append(detail.Items, PurchaseItemResponse{
			ID:          item.ID.String(),
			Name:        item.Name,
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice.String(),
			LineTotal:   item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))).String(),
		})
	}
	for i := range r.Quotes {
		detail.Quotes = append(detail.Quotes, toQuoteResponse(&r.Quotes[i]))
	}
	for i := range r.Approvals {
		a := &r.Approvals[i]
		ar := ApprovalResponse{
			ID:        a.ID.String(),
			Action:    a.Action,
			Comment:   a.Comment,
			Role:      a.Role,
			UserID:    a.UserID.String(),
			CreatedAt: a.CreatedAt.Format(time.RFC3339),
		}
		if a.User != nil {
			ar.UserName = a.User.Username
		}
		detail.Approvals = append(detail.Approvals, ar)
	}
	for i := range r.Documents {
		detail.Documents = append(detail.Documents, toDocumentResponse(&r.Documents[i]))
	}
	if cheapest := r.CheapestQuote(); cheapest != nil {
		v := cheapest.ID.String()
		detail.CheapestQuoteID = &v
	}
	return detail
}

func toQuoteResponse(q *model.Quote) QuoteResponse {
	return QuoteResponse{
		ID:              q.ID.String(),
		SupplierName:    q.SupplierName,
		SupplierContact: q.SupplierContact,
		Amount:          q.Amount.String(),
		ValidUntil:      q.ValidUntil.Format("2006-01-02"),
		Notes:           q.Notes,
		CreatedAt:       q.CreatedAt.Format(time.RFC3339),
	}
}

func toDocumentResponse(d *model.Document) DocumentResponse {
	return DocumentResponse{
		ID:        d.ID.String(),
		Type:      d.Type,
		Name:      d.Name,
		FileURL:   d.FileURL,
		CreatedAt: d.CreatedAt.Format(time.RFC3339),
	}
}
