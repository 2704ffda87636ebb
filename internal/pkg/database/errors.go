package database

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/lib/pq"
)

var (
	// ErrStorageUnavailable marks transient infrastructure failures. Callers may retry.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrConflict marks a lost optimistic-concurrency race. Callers may retry.
	ErrConflict = errors.New("concurrent update conflict")

	// ErrUniqueViolation is returned by MapError for duplicate keys.
	ErrUniqueViolation = errors.New("unique violation")
)

const (
	pqUniqueViolation      = "23505"
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
)

// Unavailable wraps err as a retryable storage failure.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorageUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, op, err)
}

// MapError converts driver errors into package sentinels. Unknown errors are returned unchanged.
func MapError(err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqUniqueViolation:
			return fmt.Errorf("%w: %s", ErrUniqueViolation, pqErr.Constraint)
		case pqSerializationFailure, pqDeadlockDetected:
			return fmt.Errorf("%w: %s", ErrConflict, pqErr.Message)
		}
		if pqErr.Code.Class() == "08" {
			return fmt.Errorf("%w: %s", ErrStorageUnavailable, pqErr.Message)
		}
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	return err
}

// UniqueConstraint names the constraint behind a unique violation, or returns ""
// when err is not one.
func UniqueConstraint(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
		return pqErr.Constraint
	}
	return ""
}

// Wrap maps err and treats anything unrecognised as a storage failure for op.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	mapped := MapError(err)
	if errors.Is(mapped, ErrUniqueViolation) || errors.Is(mapped, ErrConflict) || errors.Is(mapped, ErrStorageUnavailable) {
		return fmt.Errorf("%s: %w", op, mapped)
	}
	return Unavailable(op, mapped)
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable) || errors.Is(err, ErrConflict)
}
