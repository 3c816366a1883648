package repository

import (
	"context"

	"pharmstock/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type InventoryTxRepository interface {
	Create(ctx context.Context, tx *model.InventoryTransaction) error
	ListByLot(ctx context.Context, lotID uuid.UUID, page, limit int) ([]model.InventoryTransaction, int64, error)
	ListByReference(ctx context.Context, referenceType, referenceID string) ([]model.InventoryTransaction, error)
}

type inventoryTxRepository struct {
	db *gorm.DB
}

func NewInventoryTxRepository(db *gorm.DB) InventoryTxRepository {
	return &inventoryTxRepository{db: db}
}

func (r *inventoryTxRepository) Create(ctx context.Context, tx *model.InventoryTransaction) error {
	return GetDB(ctx, r.db).Create(tx).Error
}

func (r *inventoryTxRepository) ListByLot(ctx context.Context, lotID uuid.UUID, page, limit int) ([]model.InventoryTransaction, int64, error) {
	var txs []model.InventoryTransaction
	var total int64

	db := GetDB(ctx, r.db).Model(&model.InventoryTransaction{}).Where("lot_id = ?", lotID)
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := db.Order("created_at desc").Offset(offset).Limit(limit).Find(&txs).Error; err != nil {
		return nil, 0, err
	}

	return txs, total, nil
}

func (r *inventoryTxRepository) ListByReference(ctx context.Context, referenceType, referenceID string) ([]model.InventoryTransaction, error) {
	var txs []model.InventoryTransaction
	if err := GetDB(ctx, r.db).
		Where("reference_type = ? AND reference_id = ?", referenceType, referenceID).
		Order("created_at asc").
		Find(&txs).Error; err != nil {
		return nil, err
	}
	return txs, nil
}
