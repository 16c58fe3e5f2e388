package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ATikh415/gestion-operations-waouh-sub000/internal/model"
)

// PurchaseFilter narrows request listings.
type PurchaseFilter struct {
	Status      string
	RequesterID *uuid.UUID
	Page        int
	Limit       int
}

type PurchaseRepository interface {
	Create(ctx context.Context, req *model.PurchaseRequest) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.PurchaseRequest, error)
	List(ctx context.Context, filter PurchaseFilter) ([]model.PurchaseRequest, int64, error)
	UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error
	// TransitionStatus performs the status-guarded conditional update
	// (UPDATE ... WHERE id = ? AND status = ?). It returns false when zero
	// rows matched, i.e. the request was concurrently transitioned away from
	// the expected status. Extra fields are written in the same statement.
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to string, extra map[string]interface{}) (bool, error)
	ReplaceItems(ctx context.Context, requestID uuid.UUID, items []model.PurchaseItem) error
	Delete(ctx context.Context, id uuid.UUID) error
	ExistsByReference(ctx context.Context, reference string) (bool, error)

	AddQuote(ctx context.Context, quote *model.Quote) error
	FindQuoteByID(ctx context.Context, id uuid.UUID) (*model.Quote, error)
	DeleteQuote(ctx context.Context, id uuid.UUID) error

	AddApproval(ctx context.Context, approval *model.Approval) error

	AddDocument(ctx context.Context, doc *model.Document) error
	FindDocumentByID(ctx context.Context, id uuid.UUID) (*model.Document, error)
	DeleteDocument(ctx context.Context, id uuid.UUID) error
}

type purchaseRepository struct {
	db *gorm.DB
}

func NewPurchaseRepository(db *gorm.DB) PurchaseRepository {
	return &purchaseRepository{db: db}
}

func (r *purchaseRepository) Create(ctx context.Context, req *model.PurchaseRequest) error {
	return GetDB(ctx, r.db).Create(req).Error
}

func (r *purchaseRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.PurchaseRequest, error) {
	var req model.PurchaseRequest
	err := GetDB(ctx, r.db).
		Preload("Items").
		Preload("Quotes").
		Preload("Approvals").
		Preload("Approvals.User").
		Preload("Documents").
		Preload("Requester").
		Preload("Department").
		First(&req, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *purchaseRepository) List(ctx context.Context, filter PurchaseFilter) ([]model.PurchaseRequest, int64, error) {
	var requests []model.PurchaseRequest
	var total int64

	db := GetDB(ctx, r.db)
	query := db.Model(&model.PurchaseRequest{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.RequesterID != nil {
		query = query.Where("requester_id = ?", *filter.RequesterID)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (filter.Page - 1) * filter.Limit
	fetchQuery := db.Preload("Items").Preload("Requester").Preload("Department")
	if filter.Status != "" {
		fetchQuery = fetchQuery.Where("status = ?", filter.Status)
	}
	if filter.RequesterID != nil {
		fetchQuery = fetchQuery.Where("requester_id = ?", *filter.RequesterID)
	}
	if err := fetchQuery.Order("created_at DESC").Offset(offset).Limit(filter.Limit).Find(&requests).Error; err != nil {
		return nil, 0, err
	}

	return requests, total, nil
}

func (r *purchaseRepository) UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error {
	return GetDB(ctx, r.db).Model(&model.PurchaseRequest{}).Where("id = ?", id).Updates(fields).Error
}

func (r *purchaseRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to string, extra map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{"status": to}
	for k, v := range extra {
		updates[k] = v
	}
	res := GetDB(ctx, r.db).Model(&model.PurchaseRequest{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *purchaseRepository) ReplaceItems(ctx context.Context, requestID uuid.UUID, items []model.PurchaseItem) error {
	db := GetDB(ctx, r.db)
	if err := db.Where("request_id = ?", requestID).Delete(&model.PurchaseItem{}).Error; err != nil {
		return err
	}
	for i := range items {
		items[i].RequestID = requestID
	}
	return db.Create(&items).Error
}

// Delete removes a request and its children. Only DRAFT requests reach this
// path, so the child set is items only, but quotes and approvals are cleared
// for safety against stale rows.
func (r *purchaseRepository) Delete(ctx context.Context, id uuid.UUID) error {
	db := GetDB(ctx, r.db)
	if err := db.Where("request_id = ?", id).Delete(&model.PurchaseItem{}).Error; err != nil {
		return err
	}
	if err := db.Where("request_id = ?", id).Delete(&model.Quote{}).Error; err != nil {
		return err
	}
	if err := db.Where("request_id = ?", id).Delete(&model.Approval{}).Error; err != nil {
		return err
	}
	return db.Delete(&model.PurchaseRequest{}, "id = ?", id).Error
}

func (r *purchaseRepository) ExistsByReference(ctx context.Context, reference string) (bool, error) {
	var count int64
	err := GetDB(ctx, r.db).Model(&model.PurchaseRequest{}).
		Where("reference = ?", reference).
		Count(&count).Error
	return count > 0, err
}

func (r *purchaseRepository) AddQuote(ctx context.Context, quote *model.Quote) error {
	return GetDB(ctx, r.db).Create(quote).Error
}

func (r *purchaseRepository) FindQuoteByID(ctx context.Context, id uuid.UUID) (*model.Quote, error) {
	var quote model.Quote
	if err := GetDB(ctx, r.db).First(&quote, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &quote, nil
}

func (r *purchaseRepository) DeleteQuote(ctx context.Context, id uuid.UUID) error {
	return GetDB(ctx, r.db).Delete(&model.Quote{}, "id = ?", id).Error
}

func (r *purchaseRepository) AddApproval(ctx context.Context, approval *model.Approval) error {
	return GetDB(ctx, r.db).Create(approval).Error
}

func (r *purchaseRepository) AddDocument(ctx context.Context, doc *model.Document) error {
	return GetDB(ctx, r.db).Create(doc).Error
}

func (r *purchaseRepository) FindDocumentByID(ctx context.Context, id uuid.UUID) (*model.Document, error) {
	var doc model.Document
	if err := GetDB(ctx, r.db).First(&doc, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *purchaseRepository) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	return GetDB(ctx, r.db).Delete(&model.Document{}, "id = ?", id).Error
}
