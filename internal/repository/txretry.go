package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"spacechat/internal/models"
	"spacechat/internal/observability"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// DefaultTxAttempts bounds how many times a conflicting transaction is tried.
const DefaultTxAttempts = 5

// errTxConflict is returned from inside a transaction when a version-checked
// write matched no row because another writer got there first.
var errTxConflict = errors.New("concurrent update conflict")

var txBackoff = 10 * time.Millisecond

// withRetry runs fn in a transaction and retries it while the failure is a
// write conflict. Exhaustion surfaces as a TransientStoreError.
func withRetry(ctx context.Context, db *gorm.DB, attempts int, operation string, fn func(tx *gorm.DB) error) error {
	if attempts <= 0 {
		attempts = DefaultTxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := db.WithContext(ctx).Transaction(fn)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		lastErr = err
		if attempt == attempts {
			break
		}

		observability.StoreTxRetries.WithLabelValues(operation).Inc()
		select {
		case <-ctx.Done():
			return models.NewTransientStoreError(ctx.Err())
		case <-time.After(time.Duration(attempt) * txBackoff):
		}
	}

	observability.StoreTxExhausted.WithLabelValues(operation).Inc()
	return models.NewTransientStoreError(lastErr)
}

func isRetryable(err error) bool {
	if errors.Is(err, errTxConflict) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// serialization_failure, deadlock_detected
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "sqlite_busy")
}

// isUniqueConstraintError checks if a DB error is a unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "23505")
}

// finishWrite wraps err for callers and logs the failures that are not
// domain refusals.
func finishWrite(ctx context.Context, log *observability.RepoLogger, operation string, err error) error {
	err = wrapStoreError(err)
	if models.HasCode(err, models.CodeInternal) || models.HasCode(err, models.CodeTransientStore) {
		log.LogError(ctx, err, operation)
	}
	return err
}

// wrapStoreError passes AppErrors through and wraps anything else as internal.
func wrapStoreError(err error) error {
	if err == nil {
		return nil
	}
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return models.NewInternalError(err)
}
