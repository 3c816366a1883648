package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pharmstock/internal/model"
	"pharmstock/internal/repository"
	ws "pharmstock/internal/websocket"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DTOs
type AllocateRequest struct {
	DrugID        int             `json:"drug_id" binding:"required"`
	LocationID    int             `json:"location_id" binding:"required"`
	Quantity      decimal.Decimal `json:"quantity" binding:"required"`
	Policy        string          `json:"policy" binding:"required,oneof=FIFO FEFO LIFO"`
	ReferenceType string          `json:"reference_type" binding:"required"`
	ReferenceID   string          `json:"reference_id" binding:"required"`
}

type LotDraw struct {
	LotID      string `json:"lot_id"`
	LotNumber  string `json:"lot_number"`
	Quantity   string `json:"quantity"`
	UnitCost   string `json:"unit_cost"`
	ExpiryDate string `json:"expiry_date"`
}

type AllocateResponse struct {
	Draws []LotDraw `json:"draws"`
}

type ReceiveStockRequest struct {
	DrugID        int             `json:"drug_id" binding:"required"`
	LocationID    int             `json:"location_id" binding:"required"`
	LotNumber     string          `json:"lot_number" binding:"required"`
	ExpiryDate    string          `json:"expiry_date" binding:"required"` // YYYY-MM-DD
	Quantity      decimal.Decimal `json:"quantity" binding:"required"`
	UnitCost      decimal.Decimal `json:"unit_cost" binding:"required"`
	ReferenceType string          `json:"reference_type" binding:"required"`
	ReferenceID   string          `json:"reference_id" binding:"required"`
}

type LotResponse struct {
	ID                string `json:"id"`
	DrugID            int    `json:"drug_id"`
	LocationID        int    `json:"location_id"`
	LotNumber         string `json:"lot_number"`
	QuantityAvailable string `json:"quantity_available"`
	UnitCost          string `json:"unit_cost"`
	ReceivedDate      string `json:"received_date"`
	ExpiryDate        string `json:"expiry_date"`
	IsActive          bool   `json:"is_active"`
	WrittenOff        bool   `json:"written_off"`
}

type LotTransactionResponse struct {
	ID              string `json:"id"`
	TransactionType string `json:"transaction_type"`
	Quantity        string `json:"quantity"`
	UnitCost        string `json:"unit_cost"`
	QuantityBefore  string `json:"quantity_before"`
	QuantityAfter   string `json:"quantity_after"`
	ReferenceType   string `json:"reference_type"`
	ReferenceID     string `json:"reference_id"`
	CreatedAt       string `json:"created_at"`
}

type StockSummaryRow struct {
	DrugID      int    `json:"drug_id"`
	LocationID  int    `json:"location_id"`
	OnHand      string `json:"on_hand"`
	AverageCost string `json:"average_cost"`
	LotCount    int    `json:"lot_count"`
}

// LotService is the lot allocation engine: it selects which expiring lots
// satisfy a requested quantity under a FIFO/FEFO/LIFO policy, drawing across
// lots all-or-nothing, and records receipts into new lots.
type LotService interface {
	Allocate(ctx context.Context, userID string, req AllocateRequest) (AllocateResponse, error)
	ReceiveStock(ctx context.Context, userID string, req ReceiveStockRequest) (LotResponse, error)
	ListLots(ctx context.Context, drugID, locationID, page, limit int) ([]LotResponse, int64, error)
	GetLotTransactions(ctx context.Context, lotID string, page, limit int) ([]LotTransactionResponse, int64, error)
	StockSummary(ctx context.Context, drugID, locationID int) ([]StockSummaryRow, error)
}

type lotService struct {
	lotRepo   repository.LotRepository
	invTxRepo repository.InventoryTxRepository
	auditRepo repository.AuditRepository
	txManager repository.TransactionManager
	hub       *ws.Hub
}

func NewLotService(
	lotRepo repository.LotRepository,
	invTxRepo repository.InventoryTxRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
	hub *ws.Hub,
) LotService {
	return &lotService{
		lotRepo:   lotRepo,
		invTxRepo: invTxRepo,
		auditRepo: auditRepo,
		txManager: txManager,
		hub:       hub,
	}
}

func (s *lotService) Allocate(ctx context.Context, userID string, req AllocateRequest) (AllocateResponse, error) {
	policy := model.AllocationPolicy(req.Policy)
	if !policy.Valid() {
		return AllocateResponse{}, fmt.Errorf("unknown allocation policy: %s", req.Policy)
	}
	if !req.Quantity.IsPositive() {
		return AllocateResponse{}, fmt.Errorf("quantity must be positive")
	}

	var draws []LotDraw
	err := s.txManager.RunInTxWithRetry(ctx, func(txCtx context.Context) error {
		draws = draws[:0]
		today := startOfDay(time.Now())

		lots, err := s.lotRepo.FindAllocatableForUpdate(txCtx, req.DrugID, req.LocationID, policy, today)
		if err != nil {
			return fmt.Errorf("failed to fetch candidate lots: %w", err)
		}

		remaining := req.Quantity
		available := decimal.Zero
		for i := range lots {
			available = available.Add(lots[i].QuantityAvailable)
		}
		if available.LessThan(req.Quantity) {
			// No partial draws: failing before any write keeps the
			// operation atomic.
			return &model.InsufficientStockError{
				DrugID:     req.DrugID,
				LocationID: req.LocationID,
				Requested:  req.Quantity,
				Available:  available,
				Shortfall:  req.Quantity.Sub(available),
			}
		}

		actorID := parseActor(userID)
		for i := range lots {
			if !remaining.IsPositive() {
				break
			}
			lot := &lots[i]

			draw := remaining
			if lot.QuantityAvailable.LessThan(draw) {
				draw = lot.QuantityAvailable
			}

			before := lot.QuantityAvailable
			lot.QuantityAvailable = lot.QuantityAvailable.Sub(draw)
			if err := s.lotRepo.Save(txCtx, lot); err != nil {
				return fmt.Errorf("failed to update lot %s: %w", lot.LotNumber, err)
			}

			invTx := &model.InventoryTransaction{
				LotID:           lot.ID,
				TransactionType: model.TxTypeIssue,
				Quantity:        draw.Neg(),
				UnitCost:        lot.UnitCost,
				QuantityBefore:  before,
				QuantityAfter:   lot.QuantityAvailable,
				ReferenceType:   req.ReferenceType,
				ReferenceID:     req.ReferenceID,
				ActorID:         actorID,
			}
			if err := s.invTxRepo.Create(txCtx, invTx); err != nil {
				return fmt.Errorf("failed to record inventory transaction: %w", err)
			}

			draws = append(draws, LotDraw{
				LotID:      lot.ID.String(),
				LotNumber:  lot.LotNumber,
				Quantity:   draw.StringFixed(3),
				UnitCost:   lot.UnitCost.StringFixed(4),
				ExpiryDate: lot.ExpiryDate.Format("2006-01-02"),
			})
			remaining = remaining.Sub(draw)
		}

		details, _ := json.Marshal(map[string]interface{}{
			"drug_id":     req.DrugID,
			"location_id": req.LocationID,
			"quantity":    req.Quantity.StringFixed(3),
			"policy":      req.Policy,
			"draws":       draws,
		})
		audit := &model.AuditLog{
			ActorID:    actorID,
			Action:     model.ActionAllocateStock,
			EntityID:   req.ReferenceID,
			EntityName: req.ReferenceType,
			Details:    string(details),
		}
		if err := s.auditRepo.Log(txCtx, audit); err != nil {
			return fmt.Errorf("failed to write audit log: %w", err)
		}
		return nil
	})
	if err != nil {
		return AllocateResponse{}, err
	}

	publish(s.hub, EventStockAllocated, map[string]interface{}{
		"drug_id":     req.DrugID,
		"location_id": req.LocationID,
		"quantity":    req.Quantity.StringFixed(3),
		"lots":        len(draws),
	})

	return AllocateResponse{Draws: draws}, nil
}

func (s *lotService) ReceiveStock(ctx context.Context, userID string, req ReceiveStockRequest) (LotResponse, error) {
	if !req.Quantity.IsPositive() {
		return LotResponse{}, fmt.Errorf("quantity must be positive")
	}
	expiry, err := time.Parse("2006-01-02", req.ExpiryDate)
	if err != nil {
		return LotResponse{}, fmt.Errorf("invalid expiry_date: %w", err)
	}

	var lot *model.DrugLot
	err = s.txManager.RunInTxWithRetry(ctx, func(txCtx context.Context) error {
		today := startOfDay(time.Now())
		actorID := parseActor(userID)

		existing, findErr := s.lotRepo.FindByKeyForUpdate(txCtx, req.DrugID, req.LocationID, req.LotNumber)
		switch {
		case findErr == nil:
			// Additional receipt into a known lot tops it up. One physical
			// batch has one expiry date, so a conflicting date means the
			// wrong lot number was submitted.
			if existing.ExpiryDate.Format("2006-01-02") != req.ExpiryDate {
				return fmt.Errorf("%w: lot %s expires %s, received %s",
					model.ErrExpiryMismatch, existing.LotNumber,
					existing.ExpiryDate.Format("2006-01-02"), req.ExpiryDate)
			}
			lot = existing
		case errors.Is(findErr, gorm.ErrRecordNotFound):
			lot = &model.DrugLot{
				DrugID:            req.DrugID,
				LocationID:        req.LocationID,
				LotNumber:         req.LotNumber,
				QuantityAvailable: decimal.Zero,
				UnitCost:          req.UnitCost,
				ReceivedDate:      today,
				ExpiryDate:        expiry,
				IsActive:          true,
			}
			if createErr := s.lotRepo.Create(txCtx, lot); createErr != nil {
				return fmt.Errorf("failed to create lot: %w", createErr)
			}
		default:
			return fmt.Errorf("database error: %w", findErr)
		}

		before := lot.QuantityAvailable
		lot.QuantityAvailable = lot.QuantityAvailable.Add(req.Quantity)
		lot.UnitCost = req.UnitCost
		if saveErr := s.lotRepo.Save(txCtx, lot); saveErr != nil {
			return fmt.Errorf("failed to update lot: %w", saveErr)
		}

		invTx := &model.InventoryTransaction{
			LotID:           lot.ID,
			TransactionType: model.TxTypeReceipt,
			Quantity:        req.Quantity,
			UnitCost:        req.UnitCost,
			QuantityBefore:  before,
			QuantityAfter:   lot.QuantityAvailable,
			ReferenceType:   req.ReferenceType,
			ReferenceID:     req.ReferenceID,
			ActorID:         actorID,
		}
		if txErr := s.invTxRepo.Create(txCtx, invTx); txErr != nil {
			return fmt.Errorf("failed to record inventory transaction: %w", txErr)
		}

		details, _ := json.Marshal(map[string]interface{}{
			"lot_number":  req.LotNumber,
			"quantity":    req.Quantity.StringFixed(3),
			"unit_cost":   req.UnitCost.StringFixed(4),
			"expiry_date": req.ExpiryDate,
		})
		audit := &model.AuditLog{
			ActorID:    actorID,
			Action:     model.ActionReceiveStock,
			EntityID:   lot.ID.String(),
			EntityName: req.LotNumber,
			Details:    string(details),
		}
		if auditErr := s.auditRepo.Log(txCtx, audit); auditErr != nil {
			return fmt.Errorf("failed to write audit log: %w", auditErr)
		}
		return nil
	})
	if err != nil {
		return LotResponse{}, err
	}

	publish(s.hub, EventStockReceived, map[string]interface{}{
		"drug_id":     req.DrugID,
		"location_id": req.LocationID,
		"lot_number":  req.LotNumber,
		"quantity":    req.Quantity.StringFixed(3),
	})

	return toLotResponse(lot), nil
}

func (s *lotService) ListLots(ctx context.Context, drugID, locationID, page, limit int) ([]LotResponse, int64, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}

	lots, total, err := s.lotRepo.List(ctx, drugID, locationID, page, limit)
	if err != nil {
		return nil, 0, err
	}

	res := make([]LotResponse, 0, len(lots))
	for i := range lots {
		res = append(res, toLotResponse(&lots[i]))
	}
	return res, total, nil
}

func (s *lotService) GetLotTransactions(ctx context.Context, lotID string, page, limit int) ([]LotTransactionResponse, int64, error) {
	id, err := uuid.Parse(lotID)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid lot id: %w", err)
	}
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}

	txs, total, err := s.invTxRepo.ListByLot(ctx, id, page, limit)
	if err != nil {
		return nil, 0, err
	}

	res := make([]LotTransactionResponse, 0, len(txs))
	for _, t := range txs {
		res = append(res, LotTransactionResponse{
			ID:              t.ID.String(),
			TransactionType: t.TransactionType,
			Quantity:        t.Quantity.StringFixed(3),
			UnitCost:        t.UnitCost.StringFixed(4),
			QuantityBefore:  t.QuantityBefore.StringFixed(3),
			QuantityAfter:   t.QuantityAfter.StringFixed(3),
			ReferenceType:   t.ReferenceType,
			ReferenceID:     t.ReferenceID,
			CreatedAt:       t.CreatedAt.Format(time.RFC3339),
		})
	}
	return res, total, nil
}

// StockSummary rolls up usable stock per (drug, location) with a
// weighted-average cost over unexpired lots.
func (s *lotService) StockSummary(ctx context.Context, drugID, locationID int) ([]StockSummaryRow, error) {
	lots, err := s.lotRepo.FindUsable(ctx, drugID, locationID, startOfDay(time.Now()))
	if err != nil {
		return nil, err
	}

	type key struct{ drug, location int }
	type acc struct {
		onHand decimal.Decimal
		cost   decimal.Decimal // Σ qty*unit_cost
		count  int
	}
	order := make([]key, 0)
	groups := make(map[key]*acc)
	for i := range lots {
		k := key{lots[i].DrugID, lots[i].LocationID}
		g, ok := groups[k]
		if !ok {
			g = &acc{onHand: decimal.Zero, cost: decimal.Zero}
			groups[k] = g
			order = append(order, k)
		}
		g.onHand = g.onHand.Add(lots[i].QuantityAvailable)
		g.cost = g.cost.Add(lots[i].QuantityAvailable.Mul(lots[i].UnitCost))
		g.count++
	}

	rows := make([]StockSummaryRow, 0, len(order))
	for _, k := range order {
		g := groups[k]
		avg := decimal.Zero
		if g.onHand.IsPositive() {
			avg = g.cost.DivRound(g.onHand, 4)
		}
		rows = append(rows, StockSummaryRow{
			DrugID:      k.drug,
			LocationID:  k.location,
			OnHand:      g.onHand.StringFixed(3),
			AverageCost: avg.StringFixed(4),
			LotCount:    g.count,
		})
	}
	return rows, nil
}

// startOfDay truncates to the local calendar day; expiry comparisons are
// date-granular.
func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func toLotResponse(l *model.DrugLot) LotResponse {
	return LotResponse{
		ID:                l.ID.String(),
		DrugID:            l.DrugID,
		LocationID:        l.LocationID,
		LotNumber:         l.LotNumber,
		QuantityAvailable: l.QuantityAvailable.StringFixed(3),
		UnitCost:          l.UnitCost.StringFixed(4),
		ReceivedDate:      l.ReceivedDate.Format("2006-01-02"),
		ExpiryDate:        l.ExpiryDate.Format("2006-01-02"),
		IsActive:          l.IsActive,
		WrittenOff:        l.WriteOffAt != nil,
	}
}
