package db

import (
	"errors"
	"strings"

	pkgerrors "github.com/angelmondragon/shopstock-backend/pkg/errors"
)

const (
	sqlStateUniqueViolation      = "23505"
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateLockNotAvailable     = "55P03"
)

// IsUniqueViolation reports whether err is a unique constraint violation. When
// constraintName is provided the constraint must also be referenced by the error.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	if constraintName != "" && !chainContains(err, constraintName) {
		return false
	}
	if pkgerrors.SQLState(err) == sqlStateUniqueViolation {
		return true
	}
	return chainContains(err, "duplicate key value") ||
		chainContains(err, "UNIQUE constraint failed")
}

// IsSerializationFailure reports whether err is a lost race that is safe to retry:
// serialization failures, deadlocks, lock timeouts, SQLite lock errors and
// conflicts already classified by the stock ledger.
func IsSerializationFailure(err error) bool {
	if err == nil {
		return false
	}
	if pkgerrors.IsCode(err, pkgerrors.CodeConcurrencyConflict) {
		return true
	}
	switch pkgerrors.SQLState(err) {
	case sqlStateSerializationFailure, sqlStateDeadlockDetected, sqlStateLockNotAvailable:
		return true
	}
	return chainContains(err, "database is locked") ||
		chainContains(err, "database table is locked")
}

// chainContains checks every error in the chain, since typed errors do not
// repeat their cause in Error().
func chainContains(err error, substr string) bool {
	for ; err != nil; err = errors.Unwrap(err) {
		if strings.Contains(err.Error(), substr) {
			return true
		}
	}
	return false
}
