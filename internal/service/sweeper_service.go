package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"pharmstock/internal/model"
	"pharmstock/internal/repository"
	ws "pharmstock/internal/websocket"
)

const sweepBatchSize = 100

// SweepResult counts what one sweep pass touched.
type SweepResult struct {
	ReservationsExpired int `json:"reservations_expired"`
	LotsWrittenOff      int `json:"lots_written_off"`
}

// SweeperService reclaims expired state in the background: ACTIVE
// reservations past their expiry become EXPIRED, and lots past their expiry
// date get a WRITE_OFF transaction. Both passes claim rows with SKIP LOCKED
// so concurrent sweep instances never double-process, and each pass is
// idempotent: a second run over the same data touches nothing.
type SweeperService interface {
	RunSweep(ctx context.Context) (SweepResult, error)
}

type sweeperService struct {
	reservationRepo repository.ReservationRepository
	lotRepo         repository.LotRepository
	invTxRepo       repository.InventoryTxRepository
	auditRepo       repository.AuditRepository
	txManager       repository.TransactionManager
	hub             *ws.Hub
}

func NewSweeperService(
	reservationRepo repository.ReservationRepository,
	lotRepo repository.LotRepository,
	invTxRepo repository.InventoryTxRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
	hub *ws.Hub,
) SweeperService {
	return &sweeperService{
		reservationRepo: reservationRepo,
		lotRepo:         lotRepo,
		invTxRepo:       invTxRepo,
		auditRepo:       auditRepo,
		txManager:       txManager,
		hub:             hub,
	}
}

func (s *sweeperService) RunSweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	expired, err := s.sweepReservations(ctx)
	if err != nil {
		return result, fmt.Errorf("reservation sweep failed: %w", err)
	}
	result.ReservationsExpired = expired

	written, err := s.sweepLots(ctx)
	if err != nil {
		return result, fmt.Errorf("lot sweep failed: %w", err)
	}
	result.LotsWrittenOff = written

	return result, nil
}

// sweepReservations processes batches until a pass claims no rows.
func (s *sweeperService) sweepReservations(ctx context.Context) (int, error) {
	total := 0
	for {
		claimed := 0
		err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
			now := time.Now()
			reservations, err := s.reservationRepo.FindExpiredForUpdate(txCtx, now, sweepBatchSize)
			if err != nil {
				return err
			}
			claimed = len(reservations)

			for i := range reservations {
				r := &reservations[i]
				releasedAt := now
				r.Status = model.ReservationExpired
				r.ReleasedAt = &releasedAt
				r.ReleaseReason = model.ReleaseReasonExpired
				if err := s.reservationRepo.Save(txCtx, r); err != nil {
					return fmt.Errorf("failed to expire reservation %s: %w", r.ID, err)
				}

				details, _ := json.Marshal(map[string]interface{}{
					"allocation_id":   r.AllocationID.String(),
					"reserved_amount": r.ReservedAmount.StringFixed(2),
					"quarter":         r.Quarter,
					"expires_at":      r.ExpiresAt.Format(time.RFC3339),
				})
				audit := &model.AuditLog{
					ActorID:    nil, // automated actor
					Action:     model.ActionExpireReservation,
					EntityID:   r.ID.String(),
					EntityName: r.ReferenceType + "/" + r.ReferenceID,
					Details:    string(details),
				}
				if err := s.auditRepo.Log(txCtx, audit); err != nil {
					return fmt.Errorf("failed to write audit log: %w", err)
				}
			}
			return nil
		})
		if err != nil {
			return total, err
		}
		total += claimed
		if claimed < sweepBatchSize {
			break
		}
	}

	if total > 0 {
		publish(s.hub, EventReservationClosed, map[string]interface{}{
			"reason": model.ReleaseReasonExpired,
			"count":  total,
		})
	}
	return total, nil
}

// sweepLots writes off expired lots. The write-off transaction records the
// remaining quantity as a negative movement but quantity_available is left
// untouched: the balance stays visible for stocktake reconciliation, and the
// lot is already invisible to allocation through its expiry date. WriteOffAt
// marks the lot done so reruns skip it.
func (s *sweeperService) sweepLots(ctx context.Context) (int, error) {
	total := 0
	for {
		claimed := 0
		err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
			now := time.Now()
			today := startOfDay(now)
			lots, err := s.lotRepo.FindExpiredForWriteOff(txCtx, today, sweepBatchSize)
			if err != nil {
				return err
			}
			claimed = len(lots)

			for i := range lots {
				lot := &lots[i]
				writeOffAt := now
				lot.WriteOffAt = &writeOffAt
				if err := s.lotRepo.Save(txCtx, lot); err != nil {
					return fmt.Errorf("failed to mark lot %s written off: %w", lot.LotNumber, err)
				}

				invTx := &model.InventoryTransaction{
					LotID:           lot.ID,
					TransactionType: model.TxTypeWriteOff,
					Quantity:        lot.QuantityAvailable.Neg(),
					UnitCost:        lot.UnitCost,
					QuantityBefore:  lot.QuantityAvailable,
					QuantityAfter:   lot.QuantityAvailable,
					ReferenceType:   "EXPIRY_SWEEP",
					ReferenceID:     lot.ID.String(),
					ActorID:         nil,
				}
				if err := s.invTxRepo.Create(txCtx, invTx); err != nil {
					return fmt.Errorf("failed to record write-off transaction: %w", err)
				}

				details, _ := json.Marshal(map[string]interface{}{
					"drug_id":            lot.DrugID,
					"location_id":        lot.LocationID,
					"lot_number":         lot.LotNumber,
					"quantity_available": lot.QuantityAvailable.StringFixed(3),
					"unit_cost":          lot.UnitCost.StringFixed(4),
					"expiry_date":        lot.ExpiryDate.Format("2006-01-02"),
				})
				audit := &model.AuditLog{
					ActorID:    nil,
					Action:     model.ActionWriteOffLot,
					EntityID:   lot.ID.String(),
					EntityName: lot.LotNumber,
					Details:    string(details),
				}
				if err := s.auditRepo.Log(txCtx, audit); err != nil {
					return fmt.Errorf("failed to write audit log: %w", err)
				}
			}
			return nil
		})
		if err != nil {
			return total, err
		}
		total += claimed
		if claimed < sweepBatchSize {
			break
		}
	}

	if total > 0 {
		publish(s.hub, EventLotWrittenOff, map[string]interface{}{
			"count": total,
		})
	}
	return total, nil
}
