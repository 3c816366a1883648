package model

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Sentinel errors for the reservation and allocation engines. Use with
// errors.Is; the structured types below carry the numbers and unwrap to
// these sentinels.
var (
	// ErrNotFound is returned when a referenced allocation, reservation or
	// lot does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyTerminal is returned when consuming or releasing a
	// reservation that has already been consumed, released or expired.
	ErrAlreadyTerminal = errors.New("reservation already terminal")

	// ErrInsufficientCapacity is the business-rule rejection for a reserve
	// or consume that would overcommit an allocation. Not retried.
	ErrInsufficientCapacity = errors.New("insufficient budget capacity")

	// ErrInsufficientStock is the business-rule rejection for an allocation
	// request exceeding unexpired stock. Not retried.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrBusy is returned when a row lock could not be acquired within the
	// configured wait timeout. Safe to retry with backoff.
	ErrBusy = errors.New("resource busy, retry later")

	// ErrInconsistent signals that stored derived values disagree with
	// their derivation. Never retried and never auto-repaired.
	ErrInconsistent = errors.New("ledger inconsistency detected")

	// ErrDuplicateReference is returned when a reservation already exists
	// for the demanding document.
	ErrDuplicateReference = errors.New("reservation already exists for reference")

	// ErrExpiryMismatch is returned when a receipt into an existing lot
	// carries an expiry date that disagrees with the stored one.
	ErrExpiryMismatch = errors.New("expiry date disagrees with existing lot")
)

// InsufficientCapacityError reports how far a reserve/consume overshot the
// available budget capacity.
type InsufficientCapacityError struct {
	AllocationID uuid.UUID
	Quarter      int
	Requested    decimal.Decimal
	Available    decimal.Decimal
}

func (e *InsufficientCapacityError) Error() string {
	return fmt.Sprintf("insufficient budget capacity in Q%d: requested %s, available %s",
		e.Quarter, e.Requested.StringFixed(2), e.Available.StringFixed(2))
}

func (e *InsufficientCapacityError) Unwrap() error { return ErrInsufficientCapacity }

// InsufficientStockError reports the shortfall of an all-or-nothing lot
// allocation that could not be satisfied.
type InsufficientStockError struct {
	DrugID     int
	LocationID int
	Requested  decimal.Decimal
	Available  decimal.Decimal
	Shortfall  decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for drug %d at location %d: requested %s, available %s (short by %s)",
		e.DrugID, e.LocationID, e.Requested.StringFixed(3), e.Available.StringFixed(3), e.Shortfall.StringFixed(3))
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// InconsistencyError pinpoints a stored derived column that disagrees with
// its recomputation. The operation that detected it must halt.
type InconsistencyError struct {
	AllocationID uuid.UUID
	Field        string
	Stored       decimal.Decimal
	Derived      decimal.Decimal
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("allocation %s: stored %s=%s disagrees with derived value %s",
		e.AllocationID, e.Field, e.Stored.StringFixed(2), e.Derived.StringFixed(2))
}

func (e *InconsistencyError) Unwrap() error { return ErrInconsistent }
