package database

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/finbyte/tradesim/pkg/errs"
	"github.com/finbyte/tradesim/pkg/metrics"
)

// maxTxRetries bounds automatic retries of a logical operation after a
// concurrency conflict before ErrConflict is surfaced to the caller.
const maxTxRetries = 3

// RunInTx executes fn inside a database transaction, retrying the whole
// operation on serialization conflicts. Typed ledger errors pass through
// unchanged; any other storage failure is reported as ErrPersistence after
// the transaction has been rolled back.
func RunInTx(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	var err error
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err = db.WithContext(ctx).Transaction(fn)
		if err == nil {
			return nil
		}
		if isConflict(err) {
			metrics.ConflictRetries.Inc()
			continue
		}
		return classify(err)
	}
	return errs.ErrConflict
}

// isConflict recognizes serialization and lock conflicts from Postgres
// (40001 serialization_failure, 40P01 deadlock_detected) and SQLite
// (SQLITE_BUSY under concurrent test writers).
func isConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLSTATE 40001") ||
		strings.Contains(msg, "SQLSTATE 40P01") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

func classify(err error) error {
	if errors.Is(err, errs.ErrInsufficientFunds) ||
		errors.Is(err, errs.ErrNotFound) ||
		errors.Is(err, errs.ErrConflict) ||
		errs.IsValidation(err) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errs.ErrNotFound
	}
	return errors.Join(errs.ErrPersistence, err)
}
