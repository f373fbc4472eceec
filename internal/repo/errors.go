package repo

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	// It aliases gorm.ErrRecordNotFound so callers can match either.
	ErrNotFound = gorm.ErrRecordNotFound

	// ErrDuplicate indicates a unique constraint rejected an insert.
	ErrDuplicate = errors.New("duplicate")

	// ErrLockBusy indicates the database could not grant a lock or had to
	// abort a transaction because of a concurrent writer. It is transient.
	ErrLockBusy = errors.New("lock busy")
)

// classify maps driver errors to the package sentinels. Drivers differ in how
// they surface these conditions, so matching falls back to message text.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, ErrDuplicate) || errors.Is(err, ErrLockBusy) {
		return err
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || isDuplicate(err) {
		return ErrDuplicate
	}
	if isLockBusy(err) {
		return ErrLockBusy
	}
	return err
}

// isDuplicate detects unique-constraint violations across drivers.
func isDuplicate(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "constraint failed: unique") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "duplicate entry")
}

// isLockBusy detects lock contention:
//   - SQLite: SQLITE_BUSY / SQLITE_LOCKED (incl. shared-cache table locks)
//   - Postgres: 40001 serialization_failure, 40P01 deadlock, 55P03 lock_not_available
//   - MySQL: 1205 lock wait timeout, 1213 deadlock
func isLockBusy(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"database is locked",
		"database table is locked",
		"sqlite_busy",
		"sqlite_locked",
		"could not serialize",
		"deadlock",
		"40001",
		"40p01",
		"55p03",
		"lock_not_available",
		"lock wait timeout",
		"canceling statement due to lock timeout",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// findOne loads the first row matched by q into dest. A miss returns
// ErrNotFound without gorm logging it as an error, since several lookups
// expect to miss on the hot path (fresh idempotency keys, new rotation links).
func findOne(q *gorm.DB, dest any) error {
	res := q.Limit(1).Find(dest)
	if res.Error != nil {
		return classify(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// IsLockBusy reports whether err is (or wraps) a transient lock failure.
func IsLockBusy(err error) bool {
	return err != nil && (errors.Is(err, ErrLockBusy) || isLockBusy(err))
}
