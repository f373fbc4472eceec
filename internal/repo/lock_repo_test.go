package repo

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/slotbook/internal/domain"
)

func TestSortedUnique(t *testing.T) {
	got := sortedUnique([]string{"user:b", "", "link:1", "user:a", "user:b"})
	want := []string{"link:1", "user:a", "user:b"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("sortedUnique = %v, want %v", got, want)
	}
}

func TestAcquireLocks_UpsertsRowsWithinTx(t *testing.T) {
	db := newTestDB(t, &domain.BookingLock{})
	ctx := context.Background()

	keys := []string{UserLockKey("u2"), LinkLockKey("l1"), UserLockKey("u1"), UserLockKey("u1")}
	err := db.Transaction(func(tx *gorm.DB) error {
		return AcquireLocks(ctx, tx, "holder-1", time.Second, keys...)
	})
	if err != nil {
		t.Fatalf("AcquireLocks: %v", err)
	}

	// Re-acquiring the same keys updates the holder instead of failing.
	err = db.Transaction(func(tx *gorm.DB) error {
		return AcquireLocks(ctx, tx, "holder-2", time.Second, keys...)
	})
	if err != nil {
		t.Fatalf("AcquireLocks again: %v", err)
	}

	var rows []domain.BookingLock
	if err := db.Order("key asc").Find(&rows).Error; err != nil {
		t.Fatalf("load locks: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 lock rows, got %d", len(rows))
	}
	for _, r := range rows {
		if r.Holder != "holder-2" {
			t.Fatalf("expected holder-2 on %s, got %s", r.Key, r.Holder)
		}
	}
}

func TestAcquireLocks_NoKeys(t *testing.T) {
	db := newTestDB(t)
	if err := AcquireLocks(context.Background(), db, "h", time.Second); err != nil {
		t.Fatalf("expected nil for empty keys, got %v", err)
	}
}

func TestLockWait(t *testing.T) {
	bg := context.Background()
	if w, err := lockWait(bg, 3*time.Second); err != nil || w != 3*time.Second {
		t.Fatalf("no deadline: w=%v err=%v", w, err)
	}
	if w, err := lockWait(bg, 0); err != nil || w != 0 {
		t.Fatalf("unbounded: w=%v err=%v", w, err)
	}

	short, cancel := context.WithTimeout(bg, 100*time.Millisecond)
	defer cancel()
	if w, err := lockWait(short, 3*time.Second); err != nil || w <= 0 || w > 100*time.Millisecond {
		t.Fatalf("deadline must cut the wait: w=%v err=%v", w, err)
	}
	if w, err := lockWait(short, 0); err != nil || w <= 0 || w > 100*time.Millisecond {
		t.Fatalf("deadline must bound an unset lock timeout: w=%v err=%v", w, err)
	}

	done, stop := context.WithCancel(bg)
	stop()
	if _, err := lockWait(done, time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestAcquireLocks_SQLiteWaitHonoursLockTimeout(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "locks.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	sqlDB, _ := db.DB()
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&domain.BookingLock{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	ctx := context.Background()

	held := db.Begin()
	if err := AcquireLocks(ctx, held, "other-instance", 0, LinkLockKey("l1")); err != nil {
		t.Fatalf("hold lock: %v", err)
	}

	start := time.Now()
	err = InLockTx(ctx, db, func(tx *gorm.DB) error {
		return AcquireLocks(ctx, tx, "me", 200*time.Millisecond, LinkLockKey("l1"))
	})
	elapsed := time.Since(start)
	held.Rollback()

	if !IsLockBusy(err) {
		t.Fatalf("expected a lock-busy error, got %v", err)
	}
	if elapsed > 2*time.Second {
		t.Fatalf("lock wait ignored the 200ms lock timeout: waited %v", elapsed)
	}

	// Every pooled connection is back on the default busy timeout.
	conns := make([]*sql.Conn, 0, 4)
	defer func() {
		for _, c := range conns {
			_ = c.Close()
		}
	}()
	for i := 0; i < 4; i++ {
		c, err := sqlDB.Conn(ctx)
		if err != nil {
			t.Fatalf("conn %d: %v", i, err)
		}
		conns = append(conns, c)
		var ms int64
		if err := c.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&ms); err != nil {
			t.Fatalf("busy_timeout on conn %d: %v", i, err)
		}
		if ms != sqliteBusyTimeout.Milliseconds() {
			t.Fatalf("conn %d busy_timeout = %d, want %d", i, ms, sqliteBusyTimeout.Milliseconds())
		}
	}
}
