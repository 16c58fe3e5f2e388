package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ATikh415/gestion-operations-waouh-sub000/internal/model"
)

type InternalRepository interface {
	Create(ctx context.Context, req *model.InternalRequest) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.InternalRequest, error)
	List(ctx context.Context, status string, page, limit int) ([]model.InternalRequest, int64, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to string) (bool, error)
	// NextSequence returns the next reference sequence number for the given
	// calendar year. Callers must run it inside the same transaction as the
	// insert: the advisory lock is held to commit, so concurrent creations
	// cannot draw the same number.
	NextSequence(ctx context.Context, year int) (int64, error)

	AddApproval(ctx context.Context, approval *model.InternalApproval) error

	AddDocument(ctx context.Context, doc *model.InternalDocument) error
	FindDocumentByID(ctx context.Context, id uuid.UUID) (*model.InternalDocument, error)
	DeleteDocument(ctx context.Context, id uuid.UUID) error
}

type internalRepository struct {
	db *gorm.DB
}

func NewInternalRepository(db *gorm.DB) InternalRepository {
	return &internalRepository{db: db}
}

func (r *internalRepository) Create(ctx context.Context, req *model.InternalRequest) error {
	return GetDB(ctx, r.db).Create(req).Error
}

func (r *internalRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.InternalRequest, error) {
	var req model.InternalRequest
	err := GetDB(ctx, r.db).
		Preload("Approvals").
		Preload("Approvals.User").
		Preload("Documents").
		Preload("Requester").
		First(&req, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *internalRepository) List(ctx context.Context, status string, page, limit int) ([]model.InternalRequest, int64, error) {
	var requests []model.InternalRequest
	var total int64

	db := GetDB(ctx, r.db)
	query := db.Model(&model.InternalRequest{})
	if status != "" {
		query = query.Where("status = ?", status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	fetchQuery := db.Preload("Requester")
	if status != "" {
		fetchQuery = fetchQuery.Where("status = ?", status)
	}
	if err := fetchQuery.Order("created_at DESC").Offset(offset).Limit(limit).Find(&requests).Error; err != nil {
		return nil, 0, err
	}

	return requests, total, nil
}

func (r *internalRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to string) (bool, error) {
	res := GetDB(ctx, r.db).Model(&model.InternalRequest{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *internalRepository) NextSequence(ctx context.Context, year int) (int64, error) {
	db := GetDB(ctx, r.db)
	prefix := fmt.Sprintf("INT-%d-", year)

	// Advisory lock prevents concurrent duplicate sequence numbers
	db.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", prefix)

	var count int64
	if err := db.Model(&model.InternalRequest{}).
		Where("reference LIKE ?", prefix+"%").
		Count(&count).Error; err != nil {
		return 0, err
	}

	return count + 1, nil
}

func (r *internalRepository) AddApproval(ctx context.Context, approval *model.InternalApproval) error {
	return GetDB(ctx, r.db).Create(approval).Error
}

func (r *internalRepository) AddDocument(ctx context.Context, doc *model.InternalDocument) error {
	return GetDB(ctx, r.db).Create(doc).Error
}

func (r *internalRepository) FindDocumentByID(ctx context.Context, id uuid.UUID) (*model.InternalDocument, error) {
	var doc model.InternalDocument
	if err := GetDB(ctx, r.db).First(&doc, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *internalRepository) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	return GetDB(ctx, r.db).Delete(&model.InternalDocument{}, "id = ?", id).Error
}
