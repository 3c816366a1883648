package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ReservationStatus enum constants
const (
	ReservationActive   = "ACTIVE"
	ReservationConsumed = "CONSUMED"
	ReservationReleased = "RELEASED"
	ReservationExpired  = "EXPIRED"
)

// ReleaseReason enum constants
const (
	ReleaseReasonCancelled = "CANCELLED"
	ReleaseReasonExpired   = "EXPIRED"
)

// BudgetAllocation is the per-department spending cap for one fiscal year,
// split into quarters. TotalSpent and RemainingBudget are stored but derived:
// they are recomputed inside the same transaction as every spend mutation and
// never written independently.
type BudgetAllocation struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	FiscalYear   int       `gorm:"type:int;not null;uniqueIndex:idx_allocation_key" json:"fiscal_year"`
	BudgetID     int       `gorm:"type:int;not null;uniqueIndex:idx_allocation_key" json:"budget_id"`
	DepartmentID int       `gorm:"type:int;not null;uniqueIndex:idx_allocation_key" json:"department_id"`

	TotalBudget decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"total_budget"`
	Q1Budget    decimal.Decimal `gorm:"type:decimal(15,2);not null;default:0" json:"q1_budget"`
	Q2Budget    decimal.Decimal `gorm:"type:decimal(15,2);not null;default:0" json:"q2_budget"`
	Q3Budget    decimal.Decimal `gorm:"type:decimal(15,2);not null;default:0" json:"q3_budget"`
	Q4Budget    decimal.Decimal `gorm:"type:decimal(15,2);not null;default:0" json:"q4_budget"`

	Q1Spent decimal.Decimal `gorm:"type:decimal(15,2);not null;default:0" json:"q1_spent"`
	Q2Spent decimal.Decimal `gorm:"type:decimal(15,2);not null;default:0" json:"q2_spent"`
	Q3Spent decimal.Decimal `gorm:"type:decimal(15,2);not null;default:0" json:"q3_spent"`
	Q4Spent decimal.Decimal `gorm:"type:decimal(15,2);not null;default:0" json:"q4_spent"`

	TotalSpent      decimal.Decimal `gorm:"type:decimal(15,2);not null;default:0" json:"total_spent"`
	RemainingBudget decimal.Decimal `gorm:"type:decimal(15,2);not null;default:0" json:"remaining_budget"`

	IsActive  bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (a *BudgetAllocation) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// QuarterBudget returns the cap for quarter q (1-4).
func (a *BudgetAllocation) QuarterBudget(q int) decimal.Decimal {
	switch q {
	case 1:
		return a.Q1Budget
	case 2:
		return a.Q2Budget
	case 3:
		return a.Q3Budget
	default:
		return a.Q4Budget
	}
}

// QuarterSpent returns the committed spend for quarter q (1-4).
func (a *BudgetAllocation) QuarterSpent(q int) decimal.Decimal {
	switch q {
	case 1:
		return a.Q1Spent
	case 2:
		return a.Q2Spent
	case 3:
		return a.Q3Spent
	default:
		return a.Q4Spent
	}
}

// AddQuarterSpent increases the committed spend for quarter q and recomputes
// the derived totals.
func (a *BudgetAllocation) AddQuarterSpent(q int, amount decimal.Decimal) {
	switch q {
	case 1:
		a.Q1Spent = a.Q1Spent.Add(amount)
	case 2:
		a.Q2Spent = a.Q2Spent.Add(amount)
	case 3:
		a.Q3Spent = a.Q3Spent.Add(amount)
	default:
		a.Q4Spent = a.Q4Spent.Add(amount)
	}
	a.TotalSpent = a.Q1Spent.Add(a.Q2Spent).Add(a.Q3Spent).Add(a.Q4Spent)
	a.RemainingBudget = a.TotalBudget.Sub(a.TotalSpent)
}

// BudgetReservation is a temporary, expiring earmark of funds against an
// allocation. One reservation per demanding document, enforced by the unique
// (reference_type, reference_id) pair. Status transitions out of ACTIVE are
// terminal.
type BudgetReservation struct {
	ID           uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	AllocationID uuid.UUID         `gorm:"type:uuid;not null;index" json:"allocation_id"`
	Allocation   *BudgetAllocation `gorm:"foreignKey:AllocationID" json:"allocation,omitempty"`

	ReservedAmount decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"reserved_amount"`
	Quarter        int             `gorm:"type:int;not null" json:"quarter"` // 1-4

	ReferenceType string `gorm:"type:varchar(50);not null;uniqueIndex:idx_reservation_ref" json:"reference_type"`
	ReferenceID   string `gorm:"type:varchar(50);not null;uniqueIndex:idx_reservation_ref" json:"reference_id"`

	Status        string     `gorm:"type:varchar(20);not null;default:'ACTIVE';index" json:"status"`
	ReservedAt    time.Time  `gorm:"not null" json:"reserved_at"`
	ExpiresAt     time.Time  `gorm:"not null;index" json:"expires_at"`
	ConsumedAt    *time.Time `json:"consumed_at"`
	ReleasedAt    *time.Time `json:"released_at"`
	ReleaseReason string     `gorm:"type:varchar(30)" json:"release_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (r *BudgetReservation) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// IsTerminal reports whether the reservation has left the ACTIVE state.
func (r *BudgetReservation) IsTerminal() bool {
	return r.Status != ReservationActive
}
