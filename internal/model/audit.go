package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	ActionCreateAllocation   = "CREATE_ALLOCATION"
	ActionCommitSpend        = "COMMIT_SPEND"
	ActionReserveBudget      = "RESERVE_BUDGET"
	ActionConsumeReservation = "CONSUME_RESERVATION"
	ActionReleaseReservation = "RELEASE_RESERVATION"
	ActionExpireReservation  = "EXPIRE_RESERVATION"
	ActionAllocateStock      = "ALLOCATE_STOCK"
	ActionReceiveStock       = "RECEIVE_STOCK"
	ActionWriteOffLot        = "WRITE_OFF_LOT"
)

// AuditLog tracks Who, What, and When for every ledger and stock mutation
type AuditLog struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	ActorID    *uuid.UUID `gorm:"type:uuid;index" json:"actor_id"` // Nullable for the sweeper and other automated actors
	Action     string     `gorm:"type:varchar(50);not null;index" json:"action"`
	EntityID   string     `gorm:"type:varchar(50);index" json:"entity_id"`        // Reference string (uuid/code)
	EntityName string     `gorm:"type:varchar(255)" json:"entity_name,omitempty"` // Human readable name
	Details    string     `gorm:"type:jsonb" json:"details"`                      // Serialized JSON payload of the action
	CreatedAt  time.Time  `gorm:"index" json:"created_at"`
}

func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
