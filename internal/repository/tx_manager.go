package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pharmstock/internal/model"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type contextKey string

const txKey contextKey = "gorm_tx"

// pgLockNotAvailable is raised when SET LOCAL lock_timeout expires while
// waiting for a row lock.
const pgLockNotAvailable = "55P03"

const (
	busyRetries      = 3
	busyRetryBackoff = 50 * time.Millisecond
)

// TransactionManager manages database transactions via context injection.
// Every mutating engine operation runs inside RunInTx so the balance read and
// the subsequent write are atomic with respect to concurrent transactions on
// the same rows.
type TransactionManager interface {
	RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error
	// RunInTxWithRetry retries the whole transaction a bounded number of
	// times when it fails with model.ErrBusy (lock-wait timeout).
	RunInTxWithRetry(ctx context.Context, fn func(txCtx context.Context) error) error
}

type transactionManager struct {
	db          *gorm.DB
	lockTimeout time.Duration
}

func NewTransactionManager(db *gorm.DB, lockTimeout time.Duration) TransactionManager {
	return &transactionManager{db: db, lockTimeout: lockTimeout}
}

func (t *transactionManager) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if t.lockTimeout > 0 && tx.Dialector.Name() == "postgres" {
			stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", t.lockTimeout.Milliseconds())
			if err := tx.Exec(stmt).Error; err != nil {
				return err
			}
		}
		txCtx := context.WithValue(ctx, txKey, tx)
		return fn(txCtx)
	})
	return mapLockError(err)
}

func (t *transactionManager) RunInTxWithRetry(ctx context.Context, fn func(txCtx context.Context) error) error {
	var err error
	for attempt := 0; attempt <= busyRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(busyRetryBackoff * time.Duration(attempt)):
			}
		}
		err = t.RunInTx(ctx, fn)
		if !errors.Is(err, model.ErrBusy) {
			return err
		}
	}
	return err
}

// mapLockError converts a postgres lock-wait timeout into the retryable
// model.ErrBusy; all other errors pass through unchanged.
func mapLockError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable {
		return fmt.Errorf("%w: %s", model.ErrBusy, pgErr.Message)
	}
	return err
}

// GetDB extracts the transaction DB from context if present, otherwise returns root DB.
func GetDB(ctx context.Context, rootDB *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return rootDB.WithContext(ctx)
}

// withRowLock appends FOR UPDATE where the dialect supports it. The sqlite
// test harness serializes writers at the database level, so the clause is
// skipped there.
func withRowLock(db *gorm.DB) *gorm.DB {
	if db.Dialector.Name() == "sqlite" {
		return db
	}
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}

// withRowLockSkipLocked is withRowLock plus SKIP LOCKED, used by the sweeper
// so concurrent sweep instances claim disjoint rows.
func withRowLockSkipLocked(db *gorm.DB) *gorm.DB {
	if db.Dialector.Name() == "sqlite" {
		return db
	}
	return db.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
}
