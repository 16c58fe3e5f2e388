package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ATikh415/gestion-operations-waouh-sub000/internal/model"
)

type DepartmentRepository interface {
	Create(ctx context.Context, dep *model.Department) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Department, error)
	List(ctx context.Context) ([]model.Department, error)
}

type departmentRepository struct {
	db *gorm.DB
}

func NewDepartmentRepository(db *gorm.DB) DepartmentRepository {
	return &departmentRepository{db: db}
}

func (r *departmentRepository) Create(ctx context.Context, dep *model.Department) error {
	return GetDB(ctx, r.db).Create(dep).Error
}

func (r *departmentRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Department, error) {
	var dep model.Department
	if err := GetDB(ctx, r.db).First(&dep, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &dep, nil
}

func (r *departmentRepository) List(ctx context.Context) ([]model.Department, error) {
	var deps []model.Department
	if err := GetDB(ctx, r.db).Order("name").Find(&deps).Error; err != nil {
		return nil, err
	}
	return deps, nil
}
