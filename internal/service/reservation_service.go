package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"pharmstock/internal/model"
	"pharmstock/internal/repository"
	ws "pharmstock/internal/websocket"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DTOs
type ReserveRequest struct {
	FiscalYear    int             `json:"fiscal_year" binding:"required"`
	BudgetID      int             `json:"budget_id" binding:"required"`
	DepartmentID  int             `json:"department_id" binding:"required"`
	Quarter       int             `json:"quarter" binding:"required,min=1,max=4"`
	Amount        decimal.Decimal `json:"amount" binding:"required"`
	TTLSeconds    int             `json:"ttl_seconds" binding:"required,gt=0"`
	ReferenceType string          `json:"reference_type" binding:"required"`
	ReferenceID   string          `json:"reference_id" binding:"required"`
}

type ConsumeRequest struct {
	ActualAmount decimal.Decimal `json:"actual_amount" binding:"required"`
}

type ReleaseRequest struct {
	Reason string `json:"reason"`
}

type ReservationResponse struct {
	ID             string `json:"id"`
	AllocationID   string `json:"allocation_id"`
	ReservedAmount string `json:"reserved_amount"`
	Quarter        int    `json:"quarter"`
	ReferenceType  string `json:"reference_type"`
	ReferenceID    string `json:"reference_id"`
	Status         string `json:"status"`
	ReservedAt     string `json:"reserved_at"`
	ExpiresAt      string `json:"expires_at"`
	ReleasedAt     string `json:"released_at,omitempty"`
	ReleaseReason  string `json:"release_reason,omitempty"`
}

// ReservationService is the reservation manager: it earmarks budget capacity
// ahead of a purchase order, converts reservations into committed spend, and
// releases them. Every mutating path runs under the allocation row lock so
// two concurrent reservations cannot both observe stale availability.
type ReservationService interface {
	Reserve(ctx context.Context, userID string, req ReserveRequest) (ReservationResponse, error)
	Consume(ctx context.Context, userID string, id string, actualAmount decimal.Decimal) (ReservationResponse, error)
	Release(ctx context.Context, userID string, id string, reason string) (ReservationResponse, error)
	GetReservation(ctx context.Context, id string) (ReservationResponse, error)
	ListByAllocation(ctx context.Context, allocationID string, page, limit int) ([]ReservationResponse, int64, error)
}

type reservationService struct {
	allocationRepo  repository.AllocationRepository
	reservationRepo repository.ReservationRepository
	auditRepo       repository.AuditRepository
	txManager       repository.TransactionManager
	budgetService   BudgetService
	hub             *ws.Hub
}

func NewReservationService(
	allocationRepo repository.AllocationRepository,
	reservationRepo repository.ReservationRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
	budgetService BudgetService,
	hub *ws.Hub,
) ReservationService {
	return &reservationService{
		allocationRepo:  allocationRepo,
		reservationRepo: reservationRepo,
		auditRepo:       auditRepo,
		txManager:       txManager,
		budgetService:   budgetService,
		hub:             hub,
	}
}

func (s *reservationService) Reserve(ctx context.Context, userID string, req ReserveRequest) (ReservationResponse, error) {
	if !req.Amount.IsPositive() {
		return ReservationResponse{}, fmt.Errorf("amount must be positive")
	}

	var reservation model.BudgetReservation
	err := s.txManager.RunInTxWithRetry(ctx, func(txCtx context.Context) error {
		allocation, err := s.allocationRepo.FindByKeyForUpdate(txCtx, req.FiscalYear, req.BudgetID, req.DepartmentID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return model.ErrNotFound
			}
			return fmt.Errorf("database error: %w", err)
		}
		if !allocation.IsActive {
			return model.ErrNotFound
		}

		if err := verifyConsistency(allocation); err != nil {
			return err
		}

		now := time.Now()
		available, err := s.availableCapacity(txCtx, allocation, req.Quarter, uuid.Nil, now)
		if err != nil {
			return err
		}
		if req.Amount.GreaterThan(available) {
			return &model.InsufficientCapacityError{
				AllocationID: allocation.ID,
				Quarter:      req.Quarter,
				Requested:    req.Amount,
				Available:    available,
			}
		}

		reservation = model.BudgetReservation{
			AllocationID:   allocation.ID,
			ReservedAmount: req.Amount,
			Quarter:        req.Quarter,
			ReferenceType:  req.ReferenceType,
			ReferenceID:    req.ReferenceID,
			Status:         model.ReservationActive,
			ReservedAt:     now,
			ExpiresAt:      now.Add(time.Duration(req.TTLSeconds) * time.Second),
		}
		if err := s.reservationRepo.Create(txCtx, &reservation); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s/%s", model.ErrDuplicateReference, req.ReferenceType, req.ReferenceID)
			}
			return fmt.Errorf("failed to create reservation: %w", err)
		}

		details, _ := json.Marshal(map[string]interface{}{
			"amount":     req.Amount.StringFixed(2),
			"quarter":    req.Quarter,
			"expires_at": reservation.ExpiresAt.Format(time.RFC3339),
			"reference":  req.ReferenceType + "/" + req.ReferenceID,
			"available":  available.StringFixed(2),
		})
		audit := &model.AuditLog{
			ActorID:    parseActor(userID),
			Action:     model.ActionReserveBudget,
			EntityID:   reservation.ID.String(),
			EntityName: req.ReferenceType + "/" + req.ReferenceID,
			Details:    string(details),
		}
		if err := s.auditRepo.Log(txCtx, audit); err != nil {
			return fmt.Errorf("failed to write audit log: %w", err)
		}
		return nil
	})
	if err != nil {
		return ReservationResponse{}, err
	}

	publish(s.hub, EventReservationCreated, map[string]interface{}{
		"reservation_id": reservation.ID.String(),
		"amount":         reservation.ReservedAmount.StringFixed(2),
		"quarter":        reservation.Quarter,
	})

	return toReservationResponse(&reservation), nil
}

func (s *reservationService) Consume(ctx context.Context, userID string, id string, actualAmount decimal.Decimal) (ReservationResponse, error) {
	reservationID, err := uuid.Parse(id)
	if err != nil {
		return ReservationResponse{}, fmt.Errorf("invalid reservation id: %w", err)
	}
	if !actualAmount.IsPositive() {
		return ReservationResponse{}, fmt.Errorf("actual_amount must be positive")
	}

	var reservation *model.BudgetReservation
	err = s.txManager.RunInTxWithRetry(ctx, func(txCtx context.Context) error {
		var txErr error
		reservation, txErr = s.reservationRepo.FindByIDForUpdate(txCtx, reservationID)
		if txErr != nil {
			if errors.Is(txErr, gorm.ErrRecordNotFound) {
				return model.ErrNotFound
			}
			return fmt.Errorf("database error: %w", txErr)
		}

		now := time.Now()
		if reservation.IsTerminal() {
			return model.ErrAlreadyTerminal
		}
		// Lazy expiry: a date-expired reservation the sweeper has not yet
		// processed can no longer be consumed.
		if !reservation.ExpiresAt.After(now) {
			return model.ErrAlreadyTerminal
		}

		allocation, txErr := s.allocationRepo.FindByIDForUpdate(txCtx, reservation.AllocationID)
		if txErr != nil {
			return fmt.Errorf("allocation not found: %w", txErr)
		}
		if txErr = verifyConsistency(allocation); txErr != nil {
			return txErr
		}

		// Capacity excluding this reservation: the actual amount may
		// exceed what was reserved, but never what is available.
		available, txErr := s.availableCapacity(txCtx, allocation, reservation.Quarter, reservation.ID, now)
		if txErr != nil {
			return txErr
		}
		if actualAmount.GreaterThan(available) {
			return &model.InsufficientCapacityError{
				AllocationID: allocation.ID,
				Quarter:      reservation.Quarter,
				Requested:    actualAmount,
				Available:    available,
			}
		}

		if txErr = s.budgetService.CommitSpend(txCtx, allocation.ID, reservation.Quarter, actualAmount, parseActor(userID)); txErr != nil {
			return txErr
		}

		reservation.Status = model.ReservationConsumed
		reservation.ConsumedAt = &now
		if txErr = s.reservationRepo.Save(txCtx, reservation); txErr != nil {
			return fmt.Errorf("failed to update reservation: %w", txErr)
		}

		details, _ := json.Marshal(map[string]interface{}{
			"reserved_amount": reservation.ReservedAmount.StringFixed(2),
			"actual_amount":   actualAmount.StringFixed(2),
			"quarter":         reservation.Quarter,
		})
		audit := &model.AuditLog{
			ActorID:    parseActor(userID),
			Action:     model.ActionConsumeReservation,
			EntityID:   reservation.ID.String(),
			EntityName: reservation.ReferenceType + "/" + reservation.ReferenceID,
			Details:    string(details),
		}
		if txErr = s.auditRepo.Log(txCtx, audit); txErr != nil {
			return fmt.Errorf("failed to write audit log: %w", txErr)
		}
		return nil
	})
	if err != nil {
		return ReservationResponse{}, err
	}

	publish(s.hub, EventReservationClosed, map[string]interface{}{
		"reservation_id": reservation.ID.String(),
		"status":         reservation.Status,
		"actual_amount":  actualAmount.StringFixed(2),
	})

	return toReservationResponse(reservation), nil
}

func (s *reservationService) Release(ctx context.Context, userID string, id string, reason string) (ReservationResponse, error) {
	reservationID, err := uuid.Parse(id)
	if err != nil {
		return ReservationResponse{}, fmt.Errorf("invalid reservation id: %w", err)
	}
	if reason == "" {
		reason = model.ReleaseReasonCancelled
	}

	var reservation *model.BudgetReservation
	err = s.txManager.RunInTxWithRetry(ctx, func(txCtx context.Context) error {
		var txErr error
		reservation, txErr = s.reservationRepo.FindByIDForUpdate(txCtx, reservationID)
		if txErr != nil {
			if errors.Is(txErr, gorm.ErrRecordNotFound) {
				return model.ErrNotFound
			}
			return fmt.Errorf("database error: %w", txErr)
		}

		if reservation.IsTerminal() {
			return model.ErrAlreadyTerminal
		}

		// No ledger mutation: an unconsumed reservation never altered
		// total_spent, so releasing only closes the row.
		now := time.Now()
		reservation.Status = model.ReservationReleased
		reservation.ReleasedAt = &now
		reservation.ReleaseReason = reason
		if txErr = s.reservationRepo.Save(txCtx, reservation); txErr != nil {
			return fmt.Errorf("failed to update reservation: %w", txErr)
		}

		details, _ := json.Marshal(map[string]interface{}{
			"reserved_amount": reservation.ReservedAmount.StringFixed(2),
			"reason":          reason,
		})
		audit := &model.AuditLog{
			ActorID:    parseActor(userID),
			Action:     model.ActionReleaseReservation,
			EntityID:   reservation.ID.String(),
			EntityName: reservation.ReferenceType + "/" + reservation.ReferenceID,
			Details:    string(details),
		}
		if txErr = s.auditRepo.Log(txCtx, audit); txErr != nil {
			return fmt.Errorf("failed to write audit log: %w", txErr)
		}
		return nil
	})
	if err != nil {
		return ReservationResponse{}, err
	}

	publish(s.hub, EventReservationClosed, map[string]interface{}{
		"reservation_id": reservation.ID.String(),
		"status":         reservation.Status,
		"reason":         reason,
	})

	return toReservationResponse(reservation), nil
}

func (s *reservationService) GetReservation(ctx context.Context, id string) (ReservationResponse, error) {
	reservationID, err := uuid.Parse(id)
	if err != nil {
		return ReservationResponse{}, fmt.Errorf("invalid reservation id: %w", err)
	}

	reservation, err := s.reservationRepo.FindByID(ctx, reservationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ReservationResponse{}, model.ErrNotFound
		}
		return ReservationResponse{}, fmt.Errorf("database error: %w", err)
	}
	return toReservationResponse(reservation), nil
}

func (s *reservationService) ListByAllocation(ctx context.Context, allocationID string, page, limit int) ([]ReservationResponse, int64, error) {
	id, err := uuid.Parse(allocationID)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid allocation id: %w", err)
	}
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}

	reservations, total, err := s.reservationRepo.ListByAllocation(ctx, id, page, limit)
	if err != nil {
		return nil, 0, err
	}

	res := make([]ReservationResponse, 0, len(reservations))
	for i := range reservations {
		res = append(res, toReservationResponse(&reservations[i]))
	}
	return res, total, nil
}

// availableCapacity is the headroom for new commitments in one quarter:
// the lesser of the quarter headroom and the whole-allocation headroom, each
// net of active unexpired reservations. excludeID removes the reservation
// being consumed from its own capacity check.
func (s *reservationService) availableCapacity(ctx context.Context, allocation *model.BudgetAllocation, quarter int, excludeID uuid.UUID, now time.Time) (decimal.Decimal, error) {
	totalReserved, err := s.reservationRepo.SumActive(ctx, allocation.ID, 0, excludeID, now)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum reservations: %w", err)
	}
	quarterReserved, err := s.reservationRepo.SumActive(ctx, allocation.ID, quarter, excludeID, now)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum quarter reservations: %w", err)
	}

	totalAvailable := allocation.RemainingBudget.Sub(totalReserved)
	quarterAvailable := allocation.QuarterBudget(quarter).Sub(allocation.QuarterSpent(quarter)).Sub(quarterReserved)
	if quarterAvailable.LessThan(totalAvailable) {
		return quarterAvailable, nil
	}
	return totalAvailable, nil
}

// isUniqueViolation detects the unique-constraint failure on the reservation
// reference across postgres and the sqlite test harness.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "UNIQUE constraint failed")
}

func toReservationResponse(r *model.BudgetReservation) ReservationResponse {
	res := ReservationResponse{
		ID:             r.ID.String(),
		AllocationID:   r.AllocationID.String(),
		ReservedAmount: r.ReservedAmount.StringFixed(2),
		Quarter:        r.Quarter,
		ReferenceType:  r.ReferenceType,
		ReferenceID:    r.ReferenceID,
		Status:         r.Status,
		ReservedAt:     r.ReservedAt.Format(time.RFC3339),
		ExpiresAt:      r.ExpiresAt.Format(time.RFC3339),
		ReleaseReason:  r.ReleaseReason,
	}
	if r.ReleasedAt != nil {
		res.ReleasedAt = r.ReleasedAt.Format(time.RFC3339)
	}
	return res
}
