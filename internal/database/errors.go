package database

import (
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"modernc.org/sqlite"
)

// LoadError is returned by write operations. Conflict marks failures that a
// retry can clear (serialization failures, deadlocks, busy database, lost
// connection); anything else is fatal for the batch.
type LoadError struct {
	Op       string
	Conflict bool
	Err      error
}

func (e *LoadError) Error() string {
	kind := "fatal"
	if e.Conflict {
		kind = "conflict"
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, kind, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failed operation may succeed if repeated
func (e *LoadError) Retryable() bool {
	return e.Conflict
}

// SQLite primary result codes
const (
	sqliteBusy   = 5
	sqliteLocked = 6
)

// wrapLoad classifies err into a *LoadError
func wrapLoad(op string, err error) error {
	if err == nil {
		return nil
	}
	var le *LoadError
	if errors.As(err, &le) {
		return err
	}
	return &LoadError{Op: op, Conflict: isConflict(err), Err: err}
}

func isConflict(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", // serialization_failure
			"40P01", // deadlock_detected
			"55P03", // lock_not_available
			"23505": // unique_violation, raced with a concurrent insert
			return true
		}
		return pqErr.Code.Class() == "08"
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() & 0xff {
		case sqliteBusy, sqliteLocked:
			return true
		}
	}

	return false
}
