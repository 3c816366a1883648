package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// AllocationPolicy selects the lot ordering for stock draws.
type AllocationPolicy string

const (
	PolicyFIFO AllocationPolicy = "FIFO" // received_date ascending
	PolicyFEFO AllocationPolicy = "FEFO" // expiry_date ascending
	PolicyLIFO AllocationPolicy = "LIFO" // received_date descending
)

// Valid reports whether p is a known allocation policy.
func (p AllocationPolicy) Valid() bool {
	switch p {
	case PolicyFIFO, PolicyFEFO, PolicyLIFO:
		return true
	}
	return false
}

// TransactionType enum constants
const (
	TxTypeReceipt  = "RECEIPT"
	TxTypeIssue    = "ISSUE"
	TxTypeWriteOff = "WRITE_OFF"
)

// DrugLot is a discrete, dated batch of stock for one drug at one location.
// A lot past its expiry date is excluded from new allocation even while
// quantity_available is positive; the row is kept for audit.
type DrugLot struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	DrugID     int       `gorm:"type:int;not null;uniqueIndex:idx_lot_key" json:"drug_id"`
	LocationID int       `gorm:"type:int;not null;uniqueIndex:idx_lot_key" json:"location_id"`
	LotNumber  string    `gorm:"type:varchar(50);not null;uniqueIndex:idx_lot_key" json:"lot_number"`

	QuantityAvailable decimal.Decimal `gorm:"type:decimal(15,3);not null;default:0" json:"quantity_available"`
	UnitCost          decimal.Decimal `gorm:"type:decimal(15,4);not null" json:"unit_cost"`

	ReceivedDate time.Time `gorm:"type:date;not null" json:"received_date"`
	ExpiryDate   time.Time `gorm:"type:date;not null;index" json:"expiry_date"`

	IsActive   bool       `gorm:"not null;default:true" json:"is_active"`
	WriteOffAt *time.Time `json:"write_off_at"` // set once by the sweeper, guards double write-off

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (l *DrugLot) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}

// Expired reports whether the lot's expiry date is on or before the given day.
func (l *DrugLot) Expired(today time.Time) bool {
	return !l.ExpiryDate.After(today)
}

// InventoryTransaction is the append-only record of every lot mutation.
// Quantity is signed; QuantityBefore/QuantityAfter snapshot the lot balance
// around the mutation. Rows are never updated or deleted.
type InventoryTransaction struct {
	ID    uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	LotID uuid.UUID `gorm:"type:uuid;not null;index:idx_inv_tx_lot_time,priority:1" json:"lot_id"`
	Lot   *DrugLot  `gorm:"foreignKey:LotID" json:"-"`

	TransactionType string          `gorm:"type:varchar(20);not null" json:"transaction_type"` // RECEIPT, ISSUE, WRITE_OFF
	Quantity        decimal.Decimal `gorm:"type:decimal(15,3);not null" json:"quantity"`
	UnitCost        decimal.Decimal `gorm:"type:decimal(15,4);not null" json:"unit_cost"`
	QuantityBefore  decimal.Decimal `gorm:"type:decimal(15,3);not null" json:"quantity_before"`
	QuantityAfter   decimal.Decimal `gorm:"type:decimal(15,3);not null" json:"quantity_after"`

	ReferenceType string     `gorm:"type:varchar(50);not null;index:idx_inv_tx_ref,priority:1" json:"reference_type"`
	ReferenceID   string     `gorm:"type:varchar(50);not null;index:idx_inv_tx_ref,priority:2" json:"reference_id"`
	ActorID       *uuid.UUID `gorm:"type:uuid" json:"actor_id"`

	CreatedAt time.Time `gorm:"index:idx_inv_tx_lot_time,priority:2" json:"created_at"`
}

func (t *InventoryTransaction) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
