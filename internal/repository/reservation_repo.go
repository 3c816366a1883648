package repository

import (
	"context"
	"time"

	"pharmstock/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type ReservationRepository interface {
	Create(ctx context.Context, reservation *model.BudgetReservation) error
	Save(ctx context.Context, reservation *model.BudgetReservation) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.BudgetReservation, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.BudgetReservation, error)
	// SumActive totals reserved_amount over ACTIVE reservations whose
	// expiry is still in the future. Expired-but-unswept rows never count
	// toward capacity. excludeID may be uuid.Nil; quarter 0 means all
	// quarters.
	SumActive(ctx context.Context, allocationID uuid.UUID, quarter int, excludeID uuid.UUID, now time.Time) (decimal.Decimal, error)
	// FindExpiredForUpdate claims up to limit ACTIVE reservations whose
	// expiry has passed, skipping rows locked by concurrent sweepers.
	FindExpiredForUpdate(ctx context.Context, now time.Time, limit int) ([]model.BudgetReservation, error)
	ListByAllocation(ctx context.Context, allocationID uuid.UUID, page, limit int) ([]model.BudgetReservation, int64, error)
}

type reservationRepository struct {
	db *gorm.DB
}

func NewReservationRepository(db *gorm.DB) ReservationRepository {
	return &reservationRepository{db: db}
}

func (r *reservationRepository) Create(ctx context.Context, reservation *model.BudgetReservation) error {
	return GetDB(ctx, r.db).Create(reservation).Error
}

func (r *reservationRepository) Save(ctx context.Context, reservation *model.BudgetReservation) error {
	return GetDB(ctx, r.db).Save(reservation).Error
}

func (r *reservationRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.BudgetReservation, error) {
	var reservation model.BudgetReservation
	if err := GetDB(ctx, r.db).First(&reservation, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &reservation, nil
}

func (r *reservationRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.BudgetReservation, error) {
	var reservation model.BudgetReservation
	if err := withRowLock(GetDB(ctx, r.db)).
		Where("id = ?", id).First(&reservation).Error; err != nil {
		return nil, err
	}
	return &reservation, nil
}

func (r *reservationRepository) SumActive(ctx context.Context, allocationID uuid.UUID, quarter int, excludeID uuid.UUID, now time.Time) (decimal.Decimal, error) {
	db := GetDB(ctx, r.db).Model(&model.BudgetReservation{}).
		Where("allocation_id = ? AND status = ? AND expires_at > ?", allocationID, model.ReservationActive, now)
	if quarter > 0 {
		db = db.Where("quarter = ?", quarter)
	}
	if excludeID != uuid.Nil {
		db = db.Where("id <> ?", excludeID)
	}

	var row struct {
		Total decimal.Decimal `gorm:"column:total"`
	}
	if err := db.Select("COALESCE(SUM(reserved_amount), 0) AS total").Scan(&row).Error; err != nil {
		return decimal.Zero, err
	}
	return row.Total, nil
}

func (r *reservationRepository) FindExpiredForUpdate(ctx context.Context, now time.Time, limit int) ([]model.BudgetReservation, error) {
	var reservations []model.BudgetReservation
	if err := withRowLockSkipLocked(GetDB(ctx, r.db)).
		Where("status = ? AND expires_at <= ?", model.ReservationActive, now).
		Order("expires_at asc").
		Limit(limit).
		Find(&reservations).Error; err != nil {
		return nil, err
	}
	return reservations, nil
}

func (r *reservationRepository) ListByAllocation(ctx context.Context, allocationID uuid.UUID, page, limit int) ([]model.BudgetReservation, int64, error) {
	var reservations []model.BudgetReservation
	var total int64

	db := GetDB(ctx, r.db).Model(&model.BudgetReservation{}).Where("allocation_id = ?", allocationID)
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := db.Order("reserved_at desc").Offset(offset).Limit(limit).Find(&reservations).Error; err != nil {
		return nil, 0, err
	}

	return reservations, total, nil
}
