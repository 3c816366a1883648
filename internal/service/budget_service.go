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
type CreateAllocationRequest struct {
	FiscalYear   int             `json:"fiscal_year" binding:"required"`
	BudgetID     int             `json:"budget_id" binding:"required"`
	DepartmentID int             `json:"department_id" binding:"required"`
	TotalBudget  decimal.Decimal `json:"total_budget" binding:"required"`
	Q1Budget     decimal.Decimal `json:"q1_budget"`
	Q2Budget     decimal.Decimal `json:"q2_budget"`
	Q3Budget     decimal.Decimal `json:"q3_budget"`
	Q4Budget     decimal.Decimal `json:"q4_budget"`
}

type AllocationResponse struct {
	ID           string `json:"id"`
	FiscalYear   int    `json:"fiscal_year"`
	BudgetID     int    `json:"budget_id"`
	DepartmentID int    `json:"department_id"`
	TotalBudget  string `json:"total_budget"`
	Q1Budget     string `json:"q1_budget"`
	Q2Budget     string `json:"q2_budget"`
	Q3Budget     string `json:"q3_budget"`
	Q4Budget     string `json:"q4_budget"`
	Q1Spent      string `json:"q1_spent"`
	Q2Spent      string `json:"q2_spent"`
	Q3Spent      string `json:"q3_spent"`
	Q4Spent      string `json:"q4_spent"`
	TotalSpent   string `json:"total_spent"`
	Remaining    string `json:"remaining_budget"`
	Reserved     string `json:"reserved"`
	Available    string `json:"available"`
	IsActive     bool   `json:"is_active"`
}

type AvailabilityResponse struct {
	IsAvailable bool   `json:"is_available"`
	Remaining   string `json:"remaining_budget"`
	Available   string `json:"available"` // remaining minus active reservations
	Message     string `json:"message"`
}

type BudgetService interface {
	CreateAllocation(ctx context.Context, userID string, req CreateAllocationRequest) (AllocationResponse, error)
	GetAllocation(ctx context.Context, id string) (AllocationResponse, error)
	ListAllocations(ctx context.Context, fiscalYear, page, limit int) ([]AllocationResponse, int64, error)
	CheckAvailability(ctx context.Context, fiscalYear, budgetID, departmentID int, amount decimal.Decimal) (AvailabilityResponse, error)
	// CommitSpend atomically increases the quarter's spent amount and the
	// derived totals. Must run inside a transaction context that already
	// holds (or can take) the allocation row lock. No mutation on failure.
	CommitSpend(ctx context.Context, allocationID uuid.UUID, quarter int, amount decimal.Decimal, actorID *uuid.UUID) error
}

type budgetService struct {
	allocationRepo  repository.AllocationRepository
	reservationRepo repository.ReservationRepository
	auditRepo       repository.AuditRepository
	txManager       repository.TransactionManager
	hub             *ws.Hub
}

func NewBudgetService(
	allocationRepo repository.AllocationRepository,
	reservationRepo repository.ReservationRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
	hub *ws.Hub,
) BudgetService {
	return &budgetService{
		allocationRepo:  allocationRepo,
		reservationRepo: reservationRepo,
		auditRepo:       auditRepo,
		txManager:       txManager,
		hub:             hub,
	}
}

func (s *budgetService) CreateAllocation(ctx context.Context, userID string, req CreateAllocationRequest) (AllocationResponse, error) {
	if req.Quarter(1).Add(req.Quarter(2)).Add(req.Quarter(3)).Add(req.Quarter(4)).Cmp(req.TotalBudget) != 0 {
		return AllocationResponse{}, fmt.Errorf("quarterly budgets must sum to total_budget")
	}
	if req.TotalBudget.IsNegative() {
		return AllocationResponse{}, fmt.Errorf("total_budget must not be negative")
	}

	allocation := model.BudgetAllocation{
		FiscalYear:      req.FiscalYear,
		BudgetID:        req.BudgetID,
		DepartmentID:    req.DepartmentID,
		TotalBudget:     req.TotalBudget,
		Q1Budget:        req.Q1Budget,
		Q2Budget:        req.Q2Budget,
		Q3Budget:        req.Q3Budget,
		Q4Budget:        req.Q4Budget,
		Q1Spent:         decimal.Zero,
		Q2Spent:         decimal.Zero,
		Q3Spent:         decimal.Zero,
		Q4Spent:         decimal.Zero,
		TotalSpent:      decimal.Zero,
		RemainingBudget: req.TotalBudget,
		IsActive:        true,
	}

	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.allocationRepo.Create(txCtx, &allocation); err != nil {
			return fmt.Errorf("failed to create allocation: %w", err)
		}

		details, _ := json.Marshal(req)
		audit := &model.AuditLog{
			ActorID:    parseActor(userID),
			Action:     model.ActionCreateAllocation,
			EntityID:   allocation.ID.String(),
			EntityName: fmt.Sprintf("FY%d budget %d dept %d", req.FiscalYear, req.BudgetID, req.DepartmentID),
			Details:    string(details),
		}
		if err := s.auditRepo.Log(txCtx, audit); err != nil {
			return fmt.Errorf("failed to write audit log: %w", err)
		}
		return nil
	})
	if err != nil {
		return AllocationResponse{}, err
	}

	return toAllocationResponse(&allocation, decimal.Zero), nil
}

func (s *budgetService) GetAllocation(ctx context.Context, id string) (AllocationResponse, error) {
	allocationID, err := uuid.Parse(id)
	if err != nil {
		return AllocationResponse{}, fmt.Errorf("invalid allocation id: %w", err)
	}

	allocation, err := s.allocationRepo.FindByID(ctx, allocationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return AllocationResponse{}, model.ErrNotFound
		}
		return AllocationResponse{}, fmt.Errorf("database error: %w", err)
	}

	if err := verifyConsistency(allocation); err != nil {
		return AllocationResponse{}, err
	}

	reserved, err := s.reservationRepo.SumActive(ctx, allocation.ID, 0, uuid.Nil, time.Now())
	if err != nil {
		return AllocationResponse{}, fmt.Errorf("failed to sum reservations: %w", err)
	}

	return toAllocationResponse(allocation, reserved), nil
}

func (s *budgetService) ListAllocations(ctx context.Context, fiscalYear, page, limit int) ([]AllocationResponse, int64, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}

	allocations, total, err := s.allocationRepo.List(ctx, fiscalYear, page, limit)
	if err != nil {
		return nil, 0, err
	}

	now := time.Now()
	res := make([]AllocationResponse, 0, len(allocations))
	for i := range allocations {
		reserved, sumErr := s.reservationRepo.SumActive(ctx, allocations[i].ID, 0, uuid.Nil, now)
		if sumErr != nil {
			return nil, 0, fmt.Errorf("failed to sum reservations: %w", sumErr)
		}
		res = append(res, toAllocationResponse(&allocations[i], reserved))
	}

	return res, total, nil
}

func (s *budgetService) CheckAvailability(ctx context.Context, fiscalYear, budgetID, departmentID int, amount decimal.Decimal) (AvailabilityResponse, error) {
	allocation, err := s.allocationRepo.FindByKey(ctx, fiscalYear, budgetID, departmentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return AvailabilityResponse{
				IsAvailable: false,
				Remaining:   decimal.Zero.StringFixed(2),
				Available:   decimal.Zero.StringFixed(2),
				Message:     "Budget allocation not found for fiscal year",
			}, nil
		}
		return AvailabilityResponse{}, fmt.Errorf("database error: %w", err)
	}

	if err := verifyConsistency(allocation); err != nil {
		return AvailabilityResponse{}, err
	}

	reserved, err := s.reservationRepo.SumActive(ctx, allocation.ID, 0, uuid.Nil, time.Now())
	if err != nil {
		return AvailabilityResponse{}, fmt.Errorf("failed to sum reservations: %w", err)
	}

	available := allocation.RemainingBudget.Sub(reserved)
	if available.GreaterThanOrEqual(amount) {
		return AvailabilityResponse{
			IsAvailable: true,
			Remaining:   allocation.RemainingBudget.StringFixed(2),
			Available:   available.StringFixed(2),
			Message:     "Budget available",
		}, nil
	}

	return AvailabilityResponse{
		IsAvailable: false,
		Remaining:   allocation.RemainingBudget.StringFixed(2),
		Available:   available.StringFixed(2),
		Message:     fmt.Sprintf("Insufficient budget. Required: %s, Available: %s", amount.StringFixed(2), available.StringFixed(2)),
	}, nil
}

func (s *budgetService) CommitSpend(ctx context.Context, allocationID uuid.UUID, quarter int, amount decimal.Decimal, actorID *uuid.UUID) error {
	if quarter < 1 || quarter > 4 {
		return fmt.Errorf("invalid quarter: %d", quarter)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("amount must be positive")
	}

	allocation, err := s.allocationRepo.FindByIDForUpdate(ctx, allocationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.ErrNotFound
		}
		return fmt.Errorf("database error: %w", err)
	}

	if err := verifyConsistency(allocation); err != nil {
		return err
	}

	before := allocation.QuarterSpent(quarter)
	allocation.AddQuarterSpent(quarter, amount)
	if allocation.TotalSpent.GreaterThan(allocation.TotalBudget) {
		return &model.InsufficientCapacityError{
			AllocationID: allocation.ID,
			Quarter:      quarter,
			Requested:    amount,
			Available:    allocation.TotalBudget.Sub(allocation.TotalSpent.Sub(amount)),
		}
	}

	if err := s.allocationRepo.Save(ctx, allocation); err != nil {
		return fmt.Errorf("failed to update allocation: %w", err)
	}

	details, _ := json.Marshal(map[string]interface{}{
		"quarter":       quarter,
		"amount":        amount.StringFixed(2),
		"quarter_spent": map[string]string{"before": before.StringFixed(2), "after": allocation.QuarterSpent(quarter).StringFixed(2)},
		"total_spent":   allocation.TotalSpent.StringFixed(2),
		"remaining":     allocation.RemainingBudget.StringFixed(2),
	})
	audit := &model.AuditLog{
		ActorID:  actorID,
		Action:   model.ActionCommitSpend,
		EntityID: allocation.ID.String(),
		Details:  string(details),
	}
	if err := s.auditRepo.Log(ctx, audit); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}

	return nil
}

// verifyConsistency halts the operation when a stored derived column
// disagrees with its recomputation. Never auto-repairs.
func verifyConsistency(a *model.BudgetAllocation) error {
	derivedSpent := a.Q1Spent.Add(a.Q2Spent).Add(a.Q3Spent).Add(a.Q4Spent)
	if a.TotalSpent.Cmp(derivedSpent) != 0 {
		return &model.InconsistencyError{AllocationID: a.ID, Field: "total_spent", Stored: a.TotalSpent, Derived: derivedSpent}
	}
	derivedRemaining := a.TotalBudget.Sub(a.TotalSpent)
	if a.RemainingBudget.Cmp(derivedRemaining) != 0 {
		return &model.InconsistencyError{AllocationID: a.ID, Field: "remaining_budget", Stored: a.RemainingBudget, Derived: derivedRemaining}
	}
	derivedBudget := a.Q1Budget.Add(a.Q2Budget).Add(a.Q3Budget).Add(a.Q4Budget)
	if a.TotalBudget.Cmp(derivedBudget) != 0 {
		return &model.InconsistencyError{AllocationID: a.ID, Field: "total_budget", Stored: a.TotalBudget, Derived: derivedBudget}
	}
	return nil
}

// Quarter lets validation iterate the request's quarterly caps.
func (r CreateAllocationRequest) Quarter(q int) decimal.Decimal {
	switch q {
	case 1:
		return r.Q1Budget
	case 2:
		return r.Q2Budget
	case 3:
		return r.Q3Budget
	default:
		return r.Q4Budget
	}
}

func toAllocationResponse(a *model.BudgetAllocation, reserved decimal.Decimal) AllocationResponse {
	return AllocationResponse{
		ID:           a.ID.String(),
		FiscalYear:   a.FiscalYear,
		BudgetID:     a.BudgetID,
		DepartmentID: a.DepartmentID,
		TotalBudget:  a.TotalBudget.StringFixed(2),
		Q1Budget:     a.Q1Budget.StringFixed(2),
		Q2Budget:     a.Q2Budget.StringFixed(2),
		Q3Budget:     a.Q3Budget.StringFixed(2),
		Q4Budget:     a.Q4Budget.StringFixed(2),
		Q1Spent:      a.Q1Spent.StringFixed(2),
		Q2Spent:      a.Q2Spent.StringFixed(2),
		Q3Spent:      a.Q3Spent.StringFixed(2),
		Q4Spent:      a.Q4Spent.StringFixed(2),
		TotalSpent:   a.TotalSpent.StringFixed(2),
		Remaining:    a.RemainingBudget.StringFixed(2),
		Reserved:     reserved.StringFixed(2),
		Available:    a.RemainingBudget.Sub(reserved).StringFixed(2),
		IsActive:     a.IsActive,
	}
}

// parseActor converts the gin-context user id into an audit actor reference.
func parseActor(userID string) *uuid.UUID {
	if parsed, err := uuid.Parse(userID); err == nil {
		return &parsed
	}
	return nil
}
