package repository

import (
	"context"
	"time"

	"pharmstock/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type LotRepository interface {
	Create(ctx context.Context, lot *model.DrugLot) error
	Save(ctx context.Context, lot *model.DrugLot) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.DrugLot, error)
	FindByKeyForUpdate(ctx context.Context, drugID, locationID int, lotNumber string) (*model.DrugLot, error)
	// FindAllocatableForUpdate locks and returns the candidate lots for a
	// draw: positive quantity, active, unexpired, ordered by policy with
	// lot_number as the deterministic tie-break.
	FindAllocatableForUpdate(ctx context.Context, drugID, locationID int, policy model.AllocationPolicy, today time.Time) ([]model.DrugLot, error)
	// FindExpiredForWriteOff claims lots past expiry that still hold
	// quantity and have not been written off, skipping rows locked by
	// concurrent sweepers.
	FindExpiredForWriteOff(ctx context.Context, today time.Time, limit int) ([]model.DrugLot, error)
	List(ctx context.Context, drugID, locationID int, page, limit int) ([]model.DrugLot, int64, error)
	// FindUsable returns active, unexpired lots with stock for summary
	// rollups (no locking).
	FindUsable(ctx context.Context, drugID, locationID int, today time.Time) ([]model.DrugLot, error)
}

type lotRepository struct {
	db *gorm.DB
}

func NewLotRepository(db *gorm.DB) LotRepository {
	return &lotRepository{db: db}
}

func (r *lotRepository) Create(ctx context.Context, lot *model.DrugLot) error {
	return GetDB(ctx, r.db).Create(lot).Error
}

func (r *lotRepository) Save(ctx context.Context, lot *model.DrugLot) error {
	return GetDB(ctx, r.db).Save(lot).Error
}

func (r *lotRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.DrugLot, error) {
	var lot model.DrugLot
	if err := GetDB(ctx, r.db).First(&lot, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &lot, nil
}

func (r *lotRepository) FindByKeyForUpdate(ctx context.Context, drugID, locationID int, lotNumber string) (*model.DrugLot, error) {
	var lot model.DrugLot
	if err := withRowLock(GetDB(ctx, r.db)).
		Where("drug_id = ? AND location_id = ? AND lot_number = ?", drugID, locationID, lotNumber).
		First(&lot).Error; err != nil {
		return nil, err
	}
	return &lot, nil
}

func policyOrder(policy model.AllocationPolicy) string {
	switch policy {
	case model.PolicyFEFO:
		return "expiry_date asc, lot_number asc"
	case model.PolicyLIFO:
		return "received_date desc, lot_number asc"
	default: // FIFO
		return "received_date asc, lot_number asc"
	}
}

func (r *lotRepository) FindAllocatableForUpdate(ctx context.Context, drugID, locationID int, policy model.AllocationPolicy, today time.Time) ([]model.DrugLot, error) {
	var lots []model.DrugLot
	if err := withRowLock(GetDB(ctx, r.db)).
		Where("drug_id = ? AND location_id = ? AND quantity_available > 0 AND is_active = ? AND expiry_date > ?",
			drugID, locationID, true, today).
		Order(policyOrder(policy)).
		Find(&lots).Error; err != nil {
		return nil, err
	}
	return lots, nil
}

func (r *lotRepository) FindExpiredForWriteOff(ctx context.Context, today time.Time, limit int) ([]model.DrugLot, error) {
	var lots []model.DrugLot
	if err := withRowLockSkipLocked(GetDB(ctx, r.db)).
		Where("is_active = ? AND expiry_date <= ? AND quantity_available > 0 AND write_off_at IS NULL", true, today).
		Order("expiry_date asc").
		Limit(limit).
		Find(&lots).Error; err != nil {
		return nil, err
	}
	return lots, nil
}

func (r *lotRepository) List(ctx context.Context, drugID, locationID int, page, limit int) ([]model.DrugLot, int64, error) {
	var lots []model.DrugLot
	var total int64

	db := GetDB(ctx, r.db).Model(&model.DrugLot{})
	if drugID > 0 {
		db = db.Where("drug_id = ?", drugID)
	}
	if locationID > 0 {
		db = db.Where("location_id = ?", locationID)
	}

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := db.Order("expiry_date asc, lot_number asc").Offset(offset).Limit(limit).Find(&lots).Error; err != nil {
		return nil, 0, err
	}

	return lots, total, nil
}

func (r *lotRepository) FindUsable(ctx context.Context, drugID, locationID int, today time.Time) ([]model.DrugLot, error) {
	var lots []model.DrugLot
	db := GetDB(ctx, r.db).
		Where("quantity_available > 0 AND is_active = ? AND expiry_date > ?", true, today)
	if drugID > 0 {
		db = db.Where("drug_id = ?", drugID)
	}
	if locationID > 0 {
		db = db.Where("location_id = ?", locationID)
	}
	if err := db.Order("drug_id asc, location_id asc, expiry_date asc").Find(&lots).Error; err != nil {
		return nil, err
	}
	return lots, nil
}
