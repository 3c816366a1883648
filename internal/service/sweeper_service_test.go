package service

import (
	"context"
	"testing"
	"time"

	"pharmstock/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepExpiresReservationsAndWritesOffLots(t *testing.T) {
	env := newTestEnv(t)
	allocation := env.createAllocation(t, 100000, 25000, 25000, 25000, 25000)
	ctx := context.Background()

	stale := model.BudgetReservation{
		AllocationID:   uuid.MustParse(allocation.ID),
		ReservedAmount: d(5000),
		Quarter:        1,
		ReferenceType:  "PURCHASE_REQUEST",
		ReferenceID:    "PR-100",
		Status:         model.ReservationActive,
		ReservedAt:     time.Now().Add(-2 * time.Hour),
		ExpiresAt:      time.Now().Add(-time.Hour),
	}
	require.NoError(t, env.db.Create(&stale).Error)

	live, err := env.reservations.Reserve(ctx, "", ReserveRequest{
		FiscalYear:    2026,
		BudgetID:      1,
		DepartmentID:  10,
		Quarter:       2,
		Amount:        d(1000),
		TTLSeconds:    3600,
		ReferenceType: "PURCHASE_REQUEST",
		ReferenceID:   "PR-101",
	})
	require.NoError(t, err)

	expiredLot := env.seedLot(t, 1, 1, "LOT-EXP", d(40), d(3), day(-90), day(-1))
	freshLot := env.seedLot(t, 1, 1, "LOT-OK", d(10), d(3), day(-5), day(60))

	result, err := env.sweeper.RunSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ReservationsExpired)
	assert.Equal(t, 1, result.LotsWrittenOff)

	// Stale reservation closed with the expiry reason.
	gotStale, err := env.reservations.GetReservation(ctx, stale.ID.String())
	require.NoError(t, err)
	assert.Equal(t, model.ReservationExpired, gotStale.Status)
	assert.Equal(t, model.ReleaseReasonExpired, gotStale.ReleaseReason)
	assert.NotEmpty(t, gotStale.ReleasedAt)

	// Unexpired rows untouched.
	gotLive, err := env.reservations.GetReservation(ctx, live.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationActive, gotLive.Status)

	// The write-off leaves the balance visible for stocktake and records the
	// remaining quantity as a negative movement.
	gotLot, err := env.lotRepo.FindByID(ctx, expiredLot.ID)
	require.NoError(t, err)
	assert.Equal(t, "40.000", gotLot.QuantityAvailable.StringFixed(3))
	require.NotNil(t, gotLot.WriteOffAt)

	txs, _, err := env.lots.GetLotTransactions(ctx, expiredLot.ID.String(), 1, 10)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, model.TxTypeWriteOff, txs[0].TransactionType)
	assert.Equal(t, "-40.000", txs[0].Quantity)
	assert.Equal(t, txs[0].QuantityBefore, txs[0].QuantityAfter)

	gotFresh, err := env.lotRepo.FindByID(ctx, freshLot.ID)
	require.NoError(t, err)
	assert.Nil(t, gotFresh.WriteOffAt)
}

func TestSweepIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	allocation := env.createAllocation(t, 100000, 25000, 25000, 25000, 25000)
	ctx := context.Background()

	stale := model.BudgetReservation{
		AllocationID:   uuid.MustParse(allocation.ID),
		ReservedAmount: d(5000),
		Quarter:        1,
		ReferenceType:  "PURCHASE_REQUEST",
		ReferenceID:    "PR-110",
		Status:         model.ReservationActive,
		ReservedAt:     time.Now().Add(-2 * time.Hour),
		ExpiresAt:      time.Now().Add(-time.Hour),
	}
	require.NoError(t, env.db.Create(&stale).Error)
	expiredLot := env.seedLot(t, 1, 1, "LOT-EXP", d(40), d(3), day(-90), day(-1))

	first, err := env.sweeper.RunSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.ReservationsExpired)
	assert.Equal(t, 1, first.LotsWrittenOff)

	second, err := env.sweeper.RunSweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, second.ReservationsExpired)
	assert.Zero(t, second.LotsWrittenOff)

	// Still exactly one WRITE_OFF record.
	txs, _, err := env.lots.GetLotTransactions(ctx, expiredLot.ID.String(), 1, 10)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestSweepOnEmptyDatabase(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.sweeper.RunSweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.ReservationsExpired)
	assert.Zero(t, result.LotsWrittenOff)
}
