package repo

import (
	"context"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/slotbook/internal/domain"
)

// LinkLockKey scopes a critical section to a booking link.
func LinkLockKey(linkID string) string { return "link:" + linkID }

// UserLockKey scopes a critical section to a user's calendar.
func UserLockKey(userID string) string { return "user:" + userID }

// AcquireLocks takes a database-held lock for every key inside tx. Keys are
// de-duplicated and taken in sorted order so two transactions never wait on
// each other in opposite orders.
//
// Every dialect gets an upsert on booking_locks, which takes the row write
// lock (or, on SQLite, the database write lock) until tx ends. Postgres also
// takes a transaction-scoped advisory lock per key. The wait for any of these
// is bounded by lockTimeout and by the deadline of ctx, whichever is sooner.
// On SQLite that bound is the connection's busy timeout; run tx through
// InLockTx so the connection gets its default back afterwards.
func AcquireLocks(ctx context.Context, tx *gorm.DB, holder string, lockTimeout time.Duration, keys ...string) error {
	keys = sortedUnique(keys)
	if len(keys) == 0 {
		return nil
	}
	db := tx.WithContext(ctx)

	wait, err := lockWait(ctx, lockTimeout)
	if err != nil {
		return err
	}
	switch db.Dialector.Name() {
	case "sqlite":
		if wait > 0 {
			if err := setBusyTimeout(db, wait); err != nil {
				return err
			}
		}
	case "postgres":
		if wait > 0 {
			stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", wait.Milliseconds())
			if err := db.Exec(stmt).Error; err != nil {
				return classify(err)
			}
		}
		for _, k := range keys {
			if err := db.Exec("SELECT pg_advisory_xact_lock(hashtextextended(?, 0))", k).Error; err != nil {
				return classify(err)
			}
		}
	}

	now := time.Now().UTC()
	for _, k := range keys {
		row := domain.BookingLock{Key: k, Holder: holder, AcquiredAt: now}
		err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"holder", "acquired_at"}),
		}).Create(&row).Error
		if err != nil {
			return classify(err)
		}
	}
	return nil
}

// InLockTx runs fn in a transaction that is expected to call AcquireLocks.
// On SQLite the transaction is pinned to one connection whose busy timeout is
// reset to the pool default when fn returns.
func InLockTx(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	db = db.WithContext(ctx)
	if db.Dialector.Name() != "sqlite" {
		return db.Transaction(fn)
	}
	return db.Connection(func(conn *gorm.DB) error {
		defer func() {
			_ = setBusyTimeout(conn.WithContext(context.WithoutCancel(ctx)), sqliteBusyTimeout)
		}()
		return conn.Transaction(fn)
	})
}

// lockWait is the time a lock acquisition may block: lockTimeout, cut short
// by the deadline of ctx. Zero means no explicit bound.
func lockWait(ctx context.Context, lockTimeout time.Duration) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	wait := lockTimeout
	if dl, ok := ctx.Deadline(); ok {
		left := time.Until(dl)
		if left <= 0 {
			return 0, context.DeadlineExceeded
		}
		if wait <= 0 || left < wait {
			wait = left
		}
	}
	if wait > 0 && wait < time.Millisecond {
		wait = time.Millisecond
	}
	return wait, nil
}

func setBusyTimeout(db *gorm.DB, d time.Duration) error {
	return classify(db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", d.Milliseconds())).Error)
}

func sortedUnique(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
