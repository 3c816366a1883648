package service

import (
	"context"
	"testing"

	"pharmstock/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allocateReq(qty int64, policy string) AllocateRequest {
	return AllocateRequest{
		DrugID:        1,
		LocationID:    1,
		Quantity:      d(qty),
		Policy:        policy,
		ReferenceType: "REQUISITION",
		ReferenceID:   "RQ-001",
	}
}

func TestAllocateFEFODrawsNearestExpiryFirst(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Received newest-first so FEFO and FIFO would disagree.
	lotC := env.seedLot(t, 1, 1, "LOT-C", d(10), d(5), day(-1), day(30))
	lotA := env.seedLot(t, 1, 1, "LOT-A", d(10), d(5), day(-3), day(90))
	lotB := env.seedLot(t, 1, 1, "LOT-B", d(10), d(5), day(-2), day(60))

	result, err := env.lots.Allocate(ctx, "", allocateReq(15, "FEFO"))
	require.NoError(t, err)
	require.Len(t, result.Draws, 2)
	assert.Equal(t, "LOT-C", result.Draws[0].LotNumber)
	assert.Equal(t, "10.000", result.Draws[0].Quantity)
	assert.Equal(t, "LOT-B", result.Draws[1].LotNumber)
	assert.Equal(t, "5.000", result.Draws[1].Quantity)

	// Balances reflect the spill.
	gotC, err := env.lotRepo.FindByID(ctx, lotC.ID)
	require.NoError(t, err)
	assert.True(t, gotC.QuantityAvailable.IsZero())
	gotB, err := env.lotRepo.FindByID(ctx, lotB.ID)
	require.NoError(t, err)
	assert.Equal(t, "5.000", gotB.QuantityAvailable.StringFixed(3))
	gotA, err := env.lotRepo.FindByID(ctx, lotA.ID)
	require.NoError(t, err)
	assert.Equal(t, "10.000", gotA.QuantityAvailable.StringFixed(3))

	// Each draw left a signed ISSUE record with balance snapshots.
	txs, err := env.invTxRepo.ListByReference(ctx, "REQUISITION", "RQ-001")
	require.NoError(t, err)
	require.Len(t, txs, 2)
	for _, tx := range txs {
		assert.Equal(t, model.TxTypeIssue, tx.TransactionType)
		assert.True(t, tx.Quantity.IsNegative())
		assert.True(t, tx.QuantityBefore.Add(tx.Quantity).Equal(tx.QuantityAfter))
	}
}

func TestAllocateFIFODrawsOldestReceiptFirst(t *testing.T) {
	env := newTestEnv(t)

	env.seedLot(t, 1, 1, "LOT-NEW", d(10), d(5), day(-1), day(30))
	env.seedLot(t, 1, 1, "LOT-OLD", d(10), d(5), day(-10), day(90))

	result, err := env.lots.Allocate(context.Background(), "", allocateReq(12, "FIFO"))
	require.NoError(t, err)
	require.Len(t, result.Draws, 2)
	assert.Equal(t, "LOT-OLD", result.Draws[0].LotNumber)
	assert.Equal(t, "LOT-NEW", result.Draws[1].LotNumber)
}

func TestAllocateLIFODrawsNewestReceiptFirst(t *testing.T) {
	env := newTestEnv(t)

	env.seedLot(t, 1, 1, "LOT-NEW", d(10), d(5), day(-1), day(30))
	env.seedLot(t, 1, 1, "LOT-OLD", d(10), d(5), day(-10), day(90))

	result, err := env.lots.Allocate(context.Background(), "", allocateReq(12, "LIFO"))
	require.NoError(t, err)
	require.Len(t, result.Draws, 2)
	assert.Equal(t, "LOT-NEW", result.Draws[0].LotNumber)
	assert.Equal(t, "LOT-OLD", result.Draws[1].LotNumber)
}

func TestAllocateFEFOTieBreaksOnLotNumber(t *testing.T) {
	env := newTestEnv(t)

	// Same expiry; seeded in reverse lexical order so insertion order
	// cannot mask the tie-break.
	env.seedLot(t, 1, 1, "LOT-B", d(10), d(5), day(-2), day(30))
	env.seedLot(t, 1, 1, "LOT-A", d(10), d(5), day(-1), day(30))

	result, err := env.lots.Allocate(context.Background(), "", allocateReq(5, "FEFO"))
	require.NoError(t, err)
	require.Len(t, result.Draws, 1)
	assert.Equal(t, "LOT-A", result.Draws[0].LotNumber)
}

func TestAllocateFIFOAndLIFOTieBreakOnLotNumber(t *testing.T) {
	env := newTestEnv(t)

	// Same received date under both orderings.
	env.seedLot(t, 1, 1, "LOT-B", d(10), d(5), day(-3), day(60))
	env.seedLot(t, 1, 1, "LOT-A", d(10), d(5), day(-3), day(30))

	result, err := env.lots.Allocate(context.Background(), "", allocateReq(5, "FIFO"))
	require.NoError(t, err)
	require.Len(t, result.Draws, 1)
	assert.Equal(t, "LOT-A", result.Draws[0].LotNumber)

	result, err = env.lots.Allocate(context.Background(), "", allocateReq(5, "LIFO"))
	require.NoError(t, err)
	require.Len(t, result.Draws, 1)
	assert.Equal(t, "LOT-A", result.Draws[0].LotNumber)
}

func TestAllocateShortfallMutatesNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	fresh := env.seedLot(t, 1, 1, "LOT-FRESH", d(8), d(5), day(-1), day(30))
	// Expired stock is invisible to allocation even while quantity remains.
	env.seedLot(t, 1, 1, "LOT-STALE", d(100), d(5), day(-60), day(-1))

	_, err := env.lots.Allocate(ctx, "", allocateReq(10, "FEFO"))
	require.ErrorIs(t, err, model.ErrInsufficientStock)

	var stockErr *model.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, "8.000", stockErr.Available.StringFixed(3))
	assert.Equal(t, "2.000", stockErr.Shortfall.StringFixed(3))

	// All-or-nothing: no partial draw happened.
	got, err := env.lotRepo.FindByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, "8.000", got.QuantityAvailable.StringFixed(3))

	txs, err := env.invTxRepo.ListByReference(ctx, "REQUISITION", "RQ-001")
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestReceiveStockCreatesThenTopsUpLot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	req := ReceiveStockRequest{
		DrugID:        2,
		LocationID:    1,
		LotNumber:     "B2026-001",
		ExpiryDate:    day(365).Format("2006-01-02"),
		Quantity:      d(100),
		UnitCost:      decimal.RequireFromString("12.5000"),
		ReferenceType: "GOODS_RECEIPT",
		ReferenceID:   "GR-001",
	}
	lot, err := env.lots.ReceiveStock(ctx, "", req)
	require.NoError(t, err)
	assert.Equal(t, "100.000", lot.QuantityAvailable)

	req.Quantity = d(50)
	req.ReferenceID = "GR-002"
	lot, err = env.lots.ReceiveStock(ctx, "", req)
	require.NoError(t, err)
	assert.Equal(t, "150.000", lot.QuantityAvailable)

	txs, _, err := env.lots.GetLotTransactions(ctx, lot.ID, 1, 10)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	for _, tx := range txs {
		assert.Equal(t, model.TxTypeReceipt, tx.TransactionType)
	}
}

func TestReceiveStockRejectsExpiryMismatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	req := ReceiveStockRequest{
		DrugID:        2,
		LocationID:    1,
		LotNumber:     "B2026-002",
		ExpiryDate:    day(365).Format("2006-01-02"),
		Quantity:      d(100),
		UnitCost:      decimal.RequireFromString("12.5000"),
		ReferenceType: "GOODS_RECEIPT",
		ReferenceID:   "GR-010",
	}
	lot, err := env.lots.ReceiveStock(ctx, "", req)
	require.NoError(t, err)

	req.ExpiryDate = day(400).Format("2006-01-02")
	req.ReferenceID = "GR-011"
	_, err = env.lots.ReceiveStock(ctx, "", req)
	require.ErrorIs(t, err, model.ErrExpiryMismatch)

	// The rejected receipt left the lot untouched.
	got, _, err := env.lots.GetLotTransactions(ctx, lot.ID, 1, 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestStockSummaryWeightedAverageCost(t *testing.T) {
	env := newTestEnv(t)

	env.seedLot(t, 3, 1, "LOT-1", d(10), decimal.RequireFromString("2.0000"), day(-5), day(30))
	env.seedLot(t, 3, 1, "LOT-2", d(30), decimal.RequireFromString("4.0000"), day(-2), day(60))
	// Expired lots stay out of the rollup.
	env.seedLot(t, 3, 1, "LOT-3", d(99), decimal.RequireFromString("9.0000"), day(-90), day(-1))

	rows, err := env.lots.StockSummary(context.Background(), 3, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "40.000", rows[0].OnHand)
	// (10*2 + 30*4) / 40 = 3.5
	assert.Equal(t, "3.5000", rows[0].AverageCost)
	assert.Equal(t, 2, rows[0].LotCount)
}
