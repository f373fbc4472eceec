package repo

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/slotbook/internal/domain"
)

func newTestDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()
	// Unique DB per test to avoid schema leaking across tests.
	dsn := fmt.Sprintf("file:repo_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func seedBooking(t *testing.T, db *gorm.DB, id, linkID, userID string, start time.Time, d time.Duration, st domain.BookingStatus) domain.Booking {
	t.Helper()
	b := domain.Booking{
		ID:             id,
		BookingLinkID:  linkID,
		AssignedUserID: userID,
		StartAt:        start,
		EndAt:          start.Add(d),
		Status:         st,
		RequesterName:  "Ada",
		RequesterEmail: "ada@example.com",
	}
	if err := CreateBooking(context.Background(), db, &b); err != nil {
		t.Fatalf("seed booking %s: %v", id, err)
	}
	return b
}

func TestLinkBookingsStats_CountError_NoTable(t *testing.T) {
	db := newTestDB(t)
	if _, _, err := LinkBookingsStats(context.Background(), db, "l1"); err == nil {
		t.Fatalf("expected error due to missing bookings table")
	}
}

func TestLinkBookingsStats_ZeroRows(t *testing.T) {
	db := newTestDB(t, &domain.Booking{})
	count, maxAt, err := LinkBookingsStats(context.Background(), db, "l1")
	if err != nil {
		t.Fatalf("LinkBookingsStats error: %v", err)
	}
	if count != 0 || maxAt != nil {
		t.Fatalf("expected (0, nil), got (%d, %v)", count, maxAt)
	}
}

func TestLinkBookingsStats_CountAndLatest(t *testing.T) {
	db := newTestDB(t, &domain.Booking{})
	start := time.Date(2030, 3, 4, 15, 0, 0, 0, time.UTC)
	seedBooking(t, db, "b1", "l1", "u1", start, time.Hour, domain.BookingConfirmed)
	seedBooking(t, db, "b2", "l1", "u1", start.Add(2*time.Hour), time.Hour, domain.BookingConfirmed)
	seedBooking(t, db, "b3", "l2", "u1", start.Add(4*time.Hour), time.Hour, domain.BookingConfirmed)

	later := time.Date(2031, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := db.Model(&domain.Booking{}).Where("id = ?", "b1").UpdateColumn("updated_at", later).Error; err != nil {
		t.Fatalf("touch: %v", err)
	}

	count, maxAt, err := LinkBookingsStats(context.Background(), db, "l1")
	if err != nil {
		t.Fatalf("LinkBookingsStats error: %v", err)
	}
	if count != 2 || maxAt == nil || !maxAt.Equal(later) {
		t.Fatalf("expected (2, %v), got (%d, %v)", later, count, maxAt)
	}
}
