package service

import (
	"context"
	"testing"

	"pharmstock/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAllocationRejectsQuarterMismatch(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.budget.CreateAllocation(context.Background(), "", CreateAllocationRequest{
		FiscalYear:   2026,
		BudgetID:     1,
		DepartmentID: 10,
		TotalBudget:  d(100000),
		Q1Budget:     d(25000),
		Q2Budget:     d(25000),
		Q3Budget:     d(25000),
		Q4Budget:     d(20000), // sums to 95000
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sum to total_budget")
}

func TestCommitSpendUpdatesDerivedTotals(t *testing.T) {
	env := newTestEnv(t)
	allocation := env.createAllocation(t, 100000, 25000, 25000, 25000, 25000)
	id := uuid.MustParse(allocation.ID)

	require.NoError(t, env.budget.CommitSpend(context.Background(), id, 2, d(7000), nil))

	got, err := env.budget.GetAllocation(context.Background(), allocation.ID)
	require.NoError(t, err)
	assert.Equal(t, "7000.00", got.Q2Spent)
	assert.Equal(t, "7000.00", got.TotalSpent)
	assert.Equal(t, "93000.00", got.Remaining)
}

func TestCommitSpendRejectsOverrun(t *testing.T) {
	env := newTestEnv(t)
	allocation := env.createAllocation(t, 1000, 1000, 0, 0, 0)
	id := uuid.MustParse(allocation.ID)

	require.NoError(t, env.budget.CommitSpend(context.Background(), id, 1, d(900), nil))

	err := env.budget.CommitSpend(context.Background(), id, 1, d(200), nil)
	require.ErrorIs(t, err, model.ErrInsufficientCapacity)

	// The rejected commit must leave the ledger untouched.
	got, err := env.budget.GetAllocation(context.Background(), allocation.ID)
	require.NoError(t, err)
	assert.Equal(t, "900.00", got.TotalSpent)
	assert.Equal(t, "100.00", got.Remaining)
}

func TestConsistencyCheckHaltsOnTamperedTotals(t *testing.T) {
	env := newTestEnv(t)
	allocation := env.createAllocation(t, 100000, 25000, 25000, 25000, 25000)

	// Corrupt the stored derived column behind the engine's back.
	require.NoError(t, env.db.Model(&model.BudgetAllocation{}).
		Where("id = ?", allocation.ID).
		Update("total_spent", 999).Error)

	_, err := env.budget.GetAllocation(context.Background(), allocation.ID)
	require.ErrorIs(t, err, model.ErrInconsistent)

	err = env.budget.CommitSpend(context.Background(), uuid.MustParse(allocation.ID), 1, d(10), nil)
	require.ErrorIs(t, err, model.ErrInconsistent)
}

func TestCheckAvailabilityCountsActiveReservations(t *testing.T) {
	env := newTestEnv(t)
	env.createAllocation(t, 100000, 25000, 25000, 25000, 25000)

	_, err := env.reservations.Reserve(context.Background(), "", ReserveRequest{
		FiscalYear:    2026,
		BudgetID:      1,
		DepartmentID:  10,
		Quarter:       1,
		Amount:        d(20000),
		TTLSeconds:    3600,
		ReferenceType: "PURCHASE_REQUEST",
		ReferenceID:   "PR-001",
	})
	require.NoError(t, err)

	availability, err := env.budget.CheckAvailability(context.Background(), 2026, 1, 10, d(90000))
	require.NoError(t, err)
	assert.False(t, availability.IsAvailable)
	assert.Equal(t, "100000.00", availability.Remaining)
	assert.Equal(t, "80000.00", availability.Available)

	availability, err = env.budget.CheckAvailability(context.Background(), 2026, 1, 10, d(80000))
	require.NoError(t, err)
	assert.True(t, availability.IsAvailable)
}

func TestCheckAvailabilityUnknownAllocation(t *testing.T) {
	env := newTestEnv(t)

	availability, err := env.budget.CheckAvailability(context.Background(), 2030, 9, 99, d(100))
	require.NoError(t, err)
	assert.False(t, availability.IsAvailable)
}
