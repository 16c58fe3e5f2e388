package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ATikh415/gestion-operations-waouh-sub000/internal/apperr"
	"github.com/ATikh415/gestion-operations-waouh-sub000/internal/auth"
	"github.com/ATikh415/gestion-operations-waouh-sub000/internal/model"
	"github.com/ATikh415/gestion-operations-waouh-sub000/internal/repository"
)

// --- DTOs ---

type CreateInternalDTO struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	Category    string `json:"category" binding:"required"`
	Amount      string `json:"amount" binding:"required"` // decimal string
}

type InternalResponse struct {
	ID            string `json:"id"`
	Reference     string `json:"reference"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	Category      string `json:"category"`
	Amount        string `json:"amount"`
	Status        string `json:"status"`
	RequesterID   string `json:"requester_id"`
	RequesterName string `json:"requester_name,omitempty"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

type InternalDetailResponse struct {
	InternalResponse
	Approvals []ApprovalResponse `json:"approvals"`
	Documents []DocumentResponse `json:"documents"`
}

// --- Interface ---

// InternalService is the internal request engine: recurring operational
// expenses with the simpler PENDING -> APPROVED -> COMPLETED lifecycle.
type InternalService interface {
	Create(ctx context.Context, p auth.Principal, req CreateInternalDTO) (*InternalDetailResponse, error)
	Get(ctx context.Context, p auth.Principal, id string) (*InternalDetailResponse, error)
	List(ctx context.Context, p auth.Principal, status string, page, limit int) ([]InternalResponse, int64, error)
	Approve(ctx context.Context, p auth.Principal, id, comment string) (*InternalResponse, error)
	Reject(ctx context.Context, p auth.Principal, id, comment string) (*InternalResponse, error)
	Finalize(ctx context.Context, p auth.Principal, id string) (*InternalResponse, error)
	AddDocument(ctx context.Context, p auth.Principal, id string, req AddDocumentDTO) (*DocumentResponse, error)
	DeleteDocument(ctx context.Context, p auth.Principal, documentID string) error
}

type internalService struct {
	requests  repository.InternalRepository
	users     repository.UserRepository
	audits    repository.AuditRepository
	txManager repository.TransactionManager
	refs      ReferenceService
	notifier  Notifier
	hub       Broadcaster
	logger    *zap.Logger
}

func NewInternalService(
	requests repository.InternalRepository,
	users repository.UserRepository,
	audits repository.AuditRepository,
	txManager repository.TransactionManager,
	refs ReferenceService,
	notifier Notifier,
	hub Broadcaster,
	logger *zap.Logger,
) InternalService {
	return &internalService{
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

func (s *internalService) Create(ctx context.Context, p auth.Principal, req CreateInternalDTO) (*InternalDetailResponse, error) {
	if err := requireCapability(p, auth.CapCreateInternal); err != nil {
		return nil, err
	}
	if err := validateTitle(req.Title); err != nil {
		return nil, err
	}
	if !model.ValidCategory(req.Category) {
		return nil, apperr.Newf(apperr.KindValidation, "invalid category %q", req.Category)
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return nil, apperr.New(apperr.KindValidation, "invalid amount")
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, apperr.New(apperr.KindValidation, "amount must be positive")
	}

	request := &model.InternalRequest{
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		Category:    req.Category,
		Amount:      amount,
		Status:      model.InternalStatusPending,
		RequesterID: p.ID,
	}

	// Reference generation and insert share the transaction so the yearly
	// sequence cannot be drawn twice.
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		reference, refErr := s.refs.InternalReference(txCtx, time.Now())
		if refErr != nil {
			return refErr
		}
		request.Reference = reference

		if createErr := s.requests.Create(txCtx, request); createErr != nil {
			return fmt.Errorf("failed to create internal request: %w", createErr)
		}
		return s.audit(txCtx, p, model.ActionCreateInternal, request, map[string]interface{}{
			"category": req.Category,
			"amount":   amount.String(),
		})
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "create failed", err)
	}

	s.notifyRole(request, "Nouvelle dépense interne à valider",
		fmt.Sprintf("La dépense interne %s (%s, %s) attend votre décision.", request.Reference, request.Title, amount.String()),
		model.RoleDirecteur)
	s.broadcast("internal_request.created", request)

	return s.reload(ctx, request.ID)
}

func (s *internalService) Get(ctx context.Context, p auth.Principal, id string) (*InternalDetailResponse, error) {
	if !p.Authenticated() {
		return nil, apperr.New(apperr.KindUnauthenticated, "authentication required")
	}
	requestID, err := parseID(id, "request id")
	if err != nil {
		return nil, err
	}
	return s.reload(ctx, requestID)
}

func (s *internalService) List(ctx context.Context, p auth.Principal, status string, page, limit int) ([]InternalResponse, int64, error) {
	if !p.Authenticated() {
		return nil, 0, apperr.New(apperr.KindUnauthenticated, "authentication required")
	}
	requests, total, err := s.requests.List(ctx, status, page, limit)
	if err != nil {
		return nil, 0, apperr.Wrap(apperr.KindInternal, "failed to list internal requests", err)
	}

	result := make([]InternalResponse, 0, len(requests))
	for i := range requests {
		result = append(result, toInternalResponse(&requests[i]))
	}
	return result, total, nil
}

func (s *internalService) Approve(ctx context.Context, p auth.Principal, id, comment string) (*InternalResponse, error) {
	if err := requireCapability(p, auth.CapDecideInternal); err != nil {
		return nil, err
	}
	request, err := s.loadByStringID(ctx, id)
	if err != nil {
		return nil, err
	}
	if request.Status != model.InternalStatusPending {
		return nil, apperr.Newf(apperr.KindInvalidState, "only PENDING requests can be approved, request is %s", request.Status)
	}

	approval := &model.InternalApproval{
		RequestID: request.ID,
		Action:    model.ApprovalActionApprove,
		Comment:   comment,
		Role:      p.Role,
		UserID:    p.ID,
	}
	err = s.transition(ctx, p, request, model.InternalStatusPending, model.InternalStatusApproved,
		model.ActionApproveInternal, approval, nil)
	if err != nil {
		return nil, err
	}

	s.notifyRequester(request, "Dépense interne approuvée",
		fmt.Sprintf("La dépense interne %s (%s) a été approuvée par la direction.", request.Reference, request.Title))
	s.broadcast("internal_request.approved", request)

	return s.reloadSummary(ctx, request.ID)
}

func (s *internalService) Reject(ctx context.Context, p auth.Principal, id, comment string) (*InternalResponse, error) {
	if err := requireCapability(p, auth.CapDecideInternal); err != nil {
		return nil, err
	}
	if err := validateComment(comment); err != nil {
		return nil, err
	}
	request, err := s.loadByStringID(ctx, id)
	if err != nil {
		return nil, err
	}
	if request.Status != model.InternalStatusPending {
		return nil, apperr.Newf(apperr.KindInvalidState, "only PENDING requests can be rejected, request is %s", request.Status)
	}

	approval := &model.InternalApproval{
		RequestID: request.ID,
		Action:    model.ApprovalActionReject,
		Comment:   comment,
		Role:      p.Role,
		UserID:    p.ID,
	}
	err = s.transition(ctx, p, request, model.InternalStatusPending, model.InternalStatusRejected,
		model.ActionRejectInternal, approval, map[string]interface{}{"reason": comment})
	if err != nil {
		return nil, err
	}

	s.notifyRequester(request, "Dépense interne rejetée",
		fmt.Sprintf("La dépense interne %s (%s) a été rejetée. Motif : %s", request.Reference, request.Title, comment))
	s.broadcast("internal_request.rejected", request)

	return s.reloadSummary(ctx, request.ID)
}

// Finalize completes an APPROVED internal request. Unlike the purchase flow
// there is no minimum document count.
func (s *internalService) Finalize(ctx context.Context, p auth.Principal, id string) (*InternalResponse, error) {
	if err := requireCapability(p, auth.CapFinalizeInternal); err != nil {
		return nil, err
	}
	request, err := s.loadByStringID(ctx, id)
	if err != nil {
		return nil, err
	}
	if request.Status != model.InternalStatusApproved {
		return nil, apperr.Newf(apperr.KindInvalidState, "only APPROVED requests can be finalized, request is %s", request.Status)
	}

	err = s.transition(ctx, p, request, model.InternalStatusApproved, model.InternalStatusCompleted,
		model.ActionFinalizeInternal, nil, nil)
	if err != nil {
		return nil, err
	}

	s.broadcast("internal_request.completed", request)
	return s.reloadSummary(ctx, request.ID)
}

func (s *internalService) AddDocument(ctx context.Context, p auth.Principal, id string, req AddDocumentDTO) (*DocumentResponse, error) {
	if err := requireCapability(p, auth.CapManageInternalDocs); err != nil {
		return nil, err
	}
	request, err := s.loadByStringID(ctx, id)
	if err != nil {
		return nil, err
	}
	if request.Status != model.InternalStatusApproved {
		return nil, apperr.Newf(apperr.KindInvalidState, "documents can only be added while APPROVED, request is %s", request.Status)
	}
	if !model.ValidDocumentType(req.Type) {
		return nil, apperr.Newf(apperr.KindValidation, "invalid document type %q", req.Type)
	}

	doc := &model.InternalDocument{
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

	resp := DocumentResponse{
		ID:        doc.ID.String(),
		Type:      doc.Type,
		Name:      doc.Name,
		FileURL:   doc.FileURL,
		CreatedAt: doc.CreatedAt.Format(time.RFC3339),
	}
	return &resp, nil
}

func (s *internalService) DeleteDocument(ctx context.Context, p auth.Principal, documentID string) error {
	if err := requireCapability(p, auth.CapManageInternalDocs); err != nil {
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
	if request.Status != model.InternalStatusApproved {
		return apperr.Newf(apperr.KindInvalidState, "documents can only be removed while APPROVED, request is %s", request.Status)
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

// --- Internals ---

func (s *internalService) transition(
	ctx context.Context,
	p auth.Principal,
	request *model.InternalRequest,
	from, to, action string,
	approval *model.InternalApproval,
	detailExtra map[string]interface{},
) error {
	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		ok, trErr := s.requests.TransitionStatus(txCtx, request.ID, from, to)
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

func (s *internalService) audit(ctx context.Context, p auth.Principal, action string, request *model.InternalRequest, details map[string]interface{}) error {
	payload, _ := json.Marshal(details)
	userID := p.ID
	entry := &model.AuditLog{
		UserID:     &userID,
		Action:     action,
		EntityType: model.EntityInternalRequest,
		EntityID:   request.ID.String(),
		EntityName: request.Reference,
		Details:    string(payload),
	}
	if err := s.audits.Log(ctx, entry); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

func (s *internalService) load(ctx context.Context, id uuid.UUID) (*model.InternalRequest, error) {
	request, err := s.requests.FindByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "internal request")
	}
	return request, nil
}

func (s *internalService) loadByStringID(ctx context.Context, id string) (*model.InternalRequest, error) {
	requestID, err := parseID(id, "request id")
	if err != nil {
		return nil, err
	}
	return s.load(ctx, requestID)
}

func (s *internalService) reload(ctx context.Context, id uuid.UUID) (*InternalDetailResponse, error) {
	request, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	detail := toInternalDetail(request)
	return &detail, nil
}

func (s *internalService) reloadSummary(ctx context.Context, id uuid.UUID) (*InternalResponse, error) {
	request, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := toInternalResponse(request)
	return &resp, nil
}

func (s *internalService) notifyRole(request *model.InternalRequest, subject, body, role string) {
	defer s.recoverNotify(request.Reference)
	users, err := s.users.ListByRole(context.Background(), role)
	if err != nil {
		s.logger.Warn("failed to resolve notification recipients",
			zap.String("role", role), zap.Error(err))
		return
	}
	var recipients []string
	for _, u := range users {
		if u.Email != "" {
			recipients = append(recipients, u.Email)
		}
	}
	if err := s.notifier.Send(recipients, subject, body); err != nil {
		s.logger.Warn("notification dispatch failed",
			zap.String("reference", request.Reference), zap.Error(err))
	}
}

func (s *internalService) notifyRequester(request *model.InternalRequest, subject, body string) {
	defer s.recoverNotify(request.Reference)
	u, err := s.users.GetByID(context.Background(), request.RequesterID.String())
	if err != nil || u.Email == "" {
		return
	}
	if err := s.notifier.Send([]string{u.Email}, subject, body); err != nil {
		s.logger.Warn("notification dispatch failed",
			zap.String("reference", request.Reference), zap.Error(err))
	}
}

func (s *internalService) recoverNotify(reference string) {
	if r := recover(); r != nil {
		s.logger.Warn("notification dispatch panicked",
			zap.String("reference", reference), zap.Any("panic", r))
	}
}

func (s *internalService) broadcast(event string, request *model.InternalRequest) {
	if s.hub == nil {
		return
	}
	s.hub.BroadcastEvent(event, map[string]interface{}{
		"id":        request.ID.String(),
		"reference": request.Reference,
	})
}

// --- Response mapping ---

func toInternalResponse(r *model.InternalRequest) InternalResponse {
	resp := InternalResponse{
		ID:          r.ID.String(),
		Reference:   r.Reference,
		Title:       r.Title,
		Description: r.Description,
		Category:    r.Category,
		Amount:      r.Amount.String(),
		Status:      r.Status,
		RequesterID: r.RequesterID.String(),
		CreatedAt:   r.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   r.UpdatedAt.Format(time.RFC3339),
	}
	if r.Requester != nil {
		resp.RequesterName = r.Requester.Username
	}
	return resp
}

func toInternalDetail(r *model.InternalRequest) InternalDetailResponse {
	detail := InternalDetailResponse{
		InternalResponse: toInternalResponse(r),
		Approvals:        make([]ApprovalResponse, 0, len(r.Approvals)),
		Documents:        make([]DocumentResponse, 0, len(r.Documents)),
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
		d := &r.Documents[i]
		detail.Documents = append(detail.Documents, DocumentResponse{
			ID:        d.ID.String(),
			Type:      d.Type,
			Name:      d.Name,
			FileURL:   d.FileURL,
			CreatedAt: d.CreatedAt.Format(time.RFC3339),
		})
	}
	return detail
}
