package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"pharmstock/internal/database"
	"pharmstock/internal/model"
	"pharmstock/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// testEnv wires the full engine against an in-memory sqlite database. Row
// locking clauses are skipped on sqlite; the single-connection pool
// serializes writers instead.
type testEnv struct {
	db *gorm.DB

	allocationRepo  repository.AllocationRepository
	reservationRepo repository.ReservationRepository
	lotRepo         repository.LotRepository
	invTxRepo       repository.InventoryTxRepository
	auditRepo       repository.AuditRepository
	txManager       repository.TransactionManager

	budget       BudgetService
	reservations ReservationService
	lots         LotService
	sweeper      SweeperService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))

	env := &testEnv{
		db:              db,
		allocationRepo:  repository.NewAllocationRepository(db),
		reservationRepo: repository.NewReservationRepository(db),
		lotRepo:         repository.NewLotRepository(db),
		invTxRepo:       repository.NewInventoryTxRepository(db),
		auditRepo:       repository.NewAuditRepository(db),
		txManager:       repository.NewTransactionManager(db, 0),
	}
	env.budget = NewBudgetService(env.allocationRepo, env.reservationRepo, env.auditRepo, env.txManager, nil)
	env.reservations = NewReservationService(env.allocationRepo, env.reservationRepo, env.auditRepo, env.txManager, env.budget, nil)
	env.lots = NewLotService(env.lotRepo, env.invTxRepo, env.auditRepo, env.txManager, nil)
	env.sweeper = NewSweeperService(env.reservationRepo, env.lotRepo, env.invTxRepo, env.auditRepo, env.txManager, nil)
	return env
}

func d(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

// createAllocation seeds a FY2026 allocation through the service so derived
// totals start consistent.
func (e *testEnv) createAllocation(t *testing.T, total, q1, q2, q3, q4 int64) AllocationResponse {
	t.Helper()
	res, err := e.budget.CreateAllocation(context.Background(), "", CreateAllocationRequest{
		FiscalYear:   2026,
		BudgetID:     1,
		DepartmentID: 10,
		TotalBudget:  d(total),
		Q1Budget:     d(q1),
		Q2Budget:     d(q2),
		Q3Budget:     d(q3),
		Q4Budget:     d(q4),
	})
	require.NoError(t, err)
	return res
}

// seedLot inserts a lot directly, bypassing the receipt path.
func (e *testEnv) seedLot(t *testing.T, drugID, locationID int, lotNumber string, qty decimal.Decimal, unitCost decimal.Decimal, received, expiry time.Time) model.DrugLot {
	t.Helper()
	lot := model.DrugLot{
		DrugID:            drugID,
		LocationID:        locationID,
		LotNumber:         lotNumber,
		QuantityAvailable: qty,
		UnitCost:          unitCost,
		ReceivedDate:      received,
		ExpiryDate:        expiry,
		IsActive:          true,
	}
	require.NoError(t, e.db.Create(&lot).Error)
	return lot
}

func day(offset int) time.Time {
	now := time.Now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, offset)
}
