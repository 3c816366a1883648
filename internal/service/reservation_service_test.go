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

func reserveReq(amount int64, quarter int, refID string) ReserveRequest {
	return ReserveRequest{
		FiscalYear:    2026,
		BudgetID:      1,
		DepartmentID:  10,
		Quarter:       quarter,
		Amount:        d(amount),
		TTLSeconds:    3600,
		ReferenceType: "PURCHASE_REQUEST",
		ReferenceID:   refID,
	}
}

func TestReserveThenConsumeCommitsActualAmount(t *testing.T) {
	env := newTestEnv(t)
	env.createAllocation(t, 100000, 25000, 25000, 25000, 25000)
	ctx := context.Background()

	reservation, err := env.reservations.Reserve(ctx, "", reserveReq(20000, 1, "PR-001"))
	require.NoError(t, err)
	assert.Equal(t, model.ReservationActive, reservation.Status)

	// A second reservation exceeding the quarter's headroom is rejected even
	// though the yearly total still has room.
	_, err = env.reservations.Reserve(ctx, "", reserveReq(10000, 1, "PR-002"))
	require.ErrorIs(t, err, model.ErrInsufficientCapacity)

	// Consuming with a smaller actual amount commits only what was spent.
	consumed, err := env.reservations.Consume(ctx, "", reservation.ID, d(18000))
	require.NoError(t, err)
	assert.Equal(t, model.ReservationConsumed, consumed.Status)

	allocation, err := env.budget.GetAllocation(ctx, reservation.AllocationID)
	require.NoError(t, err)
	assert.Equal(t, "18000.00", allocation.Q1Spent)
	assert.Equal(t, "18000.00", allocation.TotalSpent)
	assert.Equal(t, "82000.00", allocation.Remaining)
	assert.Equal(t, "0.00", allocation.Reserved)
}

func TestReserveReleaseRoundTripLeavesLedgerUntouched(t *testing.T) {
	env := newTestEnv(t)
	env.createAllocation(t, 100000, 25000, 25000, 25000, 25000)
	ctx := context.Background()

	reservation, err := env.reservations.Reserve(ctx, "", reserveReq(25000, 3, "PR-010"))
	require.NoError(t, err)

	released, err := env.reservations.Release(ctx, "", reservation.ID, "")
	require.NoError(t, err)
	assert.Equal(t, model.ReservationReleased, released.Status)
	assert.Equal(t, model.ReleaseReasonCancelled, released.ReleaseReason)
	assert.NotEmpty(t, released.ReleasedAt)

	allocation, err := env.budget.GetAllocation(ctx, reservation.AllocationID)
	require.NoError(t, err)
	assert.Equal(t, "0.00", allocation.TotalSpent)
	assert.Equal(t, "100000.00", allocation.Remaining)

	// The released capacity is immediately reusable.
	_, err = env.reservations.Reserve(ctx, "", reserveReq(25000, 3, "PR-011"))
	require.NoError(t, err)
}

func TestConsumeTwiceReturnsAlreadyTerminal(t *testing.T) {
	env := newTestEnv(t)
	env.createAllocation(t, 100000, 25000, 25000, 25000, 25000)
	ctx := context.Background()

	reservation, err := env.reservations.Reserve(ctx, "", reserveReq(5000, 1, "PR-020"))
	require.NoError(t, err)

	_, err = env.reservations.Consume(ctx, "", reservation.ID, d(5000))
	require.NoError(t, err)

	_, err = env.reservations.Consume(ctx, "", reservation.ID, d(5000))
	require.ErrorIs(t, err, model.ErrAlreadyTerminal)

	_, err = env.reservations.Release(ctx, "", reservation.ID, "")
	require.ErrorIs(t, err, model.ErrAlreadyTerminal)
}

func TestReserveDuplicateReferenceRejected(t *testing.T) {
	env := newTestEnv(t)
	env.createAllocation(t, 100000, 25000, 25000, 25000, 25000)
	ctx := context.Background()

	_, err := env.reservations.Reserve(ctx, "", reserveReq(1000, 1, "PR-030"))
	require.NoError(t, err)

	_, err = env.reservations.Reserve(ctx, "", reserveReq(2000, 2, "PR-030"))
	require.ErrorIs(t, err, model.ErrDuplicateReference)
}

func TestConsumeDateExpiredReservationRejected(t *testing.T) {
	env := newTestEnv(t)
	allocation := env.createAllocation(t, 100000, 25000, 25000, 25000, 25000)
	ctx := context.Background()

	// An ACTIVE row whose expiry has passed but that the sweeper has not yet
	// processed behaves as terminal.
	stale := model.BudgetReservation{
		AllocationID:   uuid.MustParse(allocation.ID),
		ReservedAmount: d(1000),
		Quarter:        1,
		ReferenceType:  "PURCHASE_REQUEST",
		ReferenceID:    "PR-040",
		Status:         model.ReservationActive,
		ReservedAt:     time.Now().Add(-2 * time.Hour),
		ExpiresAt:      time.Now().Add(-time.Hour),
	}
	require.NoError(t, env.db.Create(&stale).Error)

	_, err := env.reservations.Consume(ctx, "", stale.ID.String(), d(1000))
	require.ErrorIs(t, err, model.ErrAlreadyTerminal)
}

func TestExpiredReservationDoesNotCountAgainstCapacity(t *testing.T) {
	env := newTestEnv(t)
	allocation := env.createAllocation(t, 100000, 25000, 25000, 25000, 25000)
	ctx := context.Background()

	stale := model.BudgetReservation{
		AllocationID:   uuid.MustParse(allocation.ID),
		ReservedAmount: d(25000),
		Quarter:        1,
		ReferenceType:  "PURCHASE_REQUEST",
		ReferenceID:    "PR-050",
		Status:         model.ReservationActive,
		ReservedAt:     time.Now().Add(-2 * time.Hour),
		ExpiresAt:      time.Now().Add(-time.Hour),
	}
	require.NoError(t, env.db.Create(&stale).Error)

	// The full quarter is reservable again despite the unswept stale row.
	_, err := env.reservations.Reserve(ctx, "", reserveReq(25000, 1, "PR-051"))
	require.NoError(t, err)
}

func TestConsumeActualAmountMayExceedReservedWithinCapacity(t *testing.T) {
	env := newTestEnv(t)
	env.createAllocation(t, 100000, 25000, 25000, 25000, 25000)
	ctx := context.Background()

	reservation, err := env.reservations.Reserve(ctx, "", reserveReq(10000, 4, "PR-060"))
	require.NoError(t, err)

	// Final invoice came in higher than the estimate but still fits.
	_, err = env.reservations.Consume(ctx, "", reservation.ID, d(12000))
	require.NoError(t, err)

	allocation, err := env.budget.GetAllocation(ctx, reservation.AllocationID)
	require.NoError(t, err)
	assert.Equal(t, "12000.00", allocation.Q4Spent)
}

func TestConsumeBeyondQuarterCapacityRejected(t *testing.T) {
	env := newTestEnv(t)
	env.createAllocation(t, 100000, 25000, 25000, 25000, 25000)
	ctx := context.Background()

	reservation, err := env.reservations.Reserve(ctx, "", reserveReq(10000, 4, "PR-070"))
	require.NoError(t, err)

	_, err = env.reservations.Consume(ctx, "", reservation.ID, d(26000))
	require.ErrorIs(t, err, model.ErrInsufficientCapacity)

	// The failed consume leaves the reservation consumable.
	got, err := env.reservations.GetReservation(ctx, reservation.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationActive, got.Status)
}
