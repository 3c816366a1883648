package repository

import (
	"context"

	"pharmstock/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AllocationRepository interface {
	Create(ctx context.Context, allocation *model.BudgetAllocation) error
	Save(ctx context.Context, allocation *model.BudgetAllocation) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.BudgetAllocation, error)
	FindByKey(ctx context.Context, fiscalYear, budgetID, departmentID int) (*model.BudgetAllocation, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.BudgetAllocation, error)
	FindByKeyForUpdate(ctx context.Context, fiscalYear, budgetID, departmentID int) (*model.BudgetAllocation, error)
	List(ctx context.Context, fiscalYear int, page, limit int) ([]model.BudgetAllocation, int64, error)
}

type allocationRepository struct {
	db *gorm.DB
}

func NewAllocationRepository(db *gorm.DB) AllocationRepository {
	return &allocationRepository{db: db}
}

func (r *allocationRepository) Create(ctx context.Context, allocation *model.BudgetAllocation) error {
	return GetDB(ctx, r.db).Create(allocation).Error
}

func (r *allocationRepository) Save(ctx context.Context, allocation *model.BudgetAllocation) error {
	return GetDB(ctx, r.db).Save(allocation).Error
}

func (r *allocationRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.BudgetAllocation, error) {
	var allocation model.BudgetAllocation
	if err := GetDB(ctx, r.db).First(&allocation, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &allocation, nil
}

func (r *allocationRepository) FindByKey(ctx context.Context, fiscalYear, budgetID, departmentID int) (*model.BudgetAllocation, error) {
	var allocation model.BudgetAllocation
	if err := GetDB(ctx, r.db).
		Where("fiscal_year = ? AND budget_id = ? AND department_id = ?", fiscalYear, budgetID, departmentID).
		First(&allocation).Error; err != nil {
		return nil, err
	}
	return &allocation, nil
}

func (r *allocationRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.BudgetAllocation, error) {
	var allocation model.BudgetAllocation
	if err := withRowLock(GetDB(ctx, r.db)).
		Where("id = ?", id).First(&allocation).Error; err != nil {
		return nil, err
	}
	return &allocation, nil
}

func (r *allocationRepository) FindByKeyForUpdate(ctx context.Context, fiscalYear, budgetID, departmentID int) (*model.BudgetAllocation, error) {
	var allocation model.BudgetAllocation
	if err := withRowLock(GetDB(ctx, r.db)).
		Where("fiscal_year = ? AND budget_id = ? AND department_id = ?", fiscalYear, budgetID, departmentID).
		First(&allocation).Error; err != nil {
		return nil, err
	}
	return &allocation, nil
}

func (r *allocationRepository) List(ctx context.Context, fiscalYear int, page, limit int) ([]model.BudgetAllocation, int64, error) {
	var allocations []model.BudgetAllocation
	var total int64

	db := GetDB(ctx, r.db).Model(&model.BudgetAllocation{})
	if fiscalYear > 0 {
		db = db.Where("fiscal_year = ?", fiscalYear)
	}

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := db.Order("fiscal_year desc, department_id asc").Offset(offset).Limit(limit).Find(&allocations).Error; err != nil {
		return nil, 0, err
	}

	return allocations, total, nil
}
