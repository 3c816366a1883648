package database

import (
	"log"

	"pharmstock/internal/model"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// NewConnection initializes a new connection pool using GORM
func NewConnection(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		log.Println("WARNING: Failed to auto-migrate models:", err)
	}

	return db, nil
}

// Migrate runs the schema migration for all engine models
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.BudgetAllocation{},
		&model.BudgetReservation{},
		&model.DrugLot{},
		&model.InventoryTransaction{},
		&model.AuditLog{},
	)
}
