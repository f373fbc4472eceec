package services

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/slotbook/internal/calendar"
	"github.com/tbourn/slotbook/internal/config"
	"github.com/tbourn/slotbook/internal/domain"
	"github.com/tbourn/slotbook/internal/notify"
	"github.com/tbourn/slotbook/internal/repo"
)

// monday is 2030-01-14, a Monday.
var monday = time.Date(2030, 1, 14, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time { return monday.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute) }

func win(start time.Time, d time.Duration) domain.TimeWindow {
	return domain.TimeWindow{Start: start, End: start.Add(d)}
}

// newServiceDB opens a private in-memory database with the full schema. A
// single connection serializes transactions the way one SQLite writer does.
func newServiceDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:services_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// newFileDB opens a file-backed database through repo.OpenSQLite, with its
// full connection pool, so concurrent transactions really contend on the
// booking_locks rows.
func newFileDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "slotbook.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, msg notify.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

func (n *recordingNotifier) templates() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.sent))
	for _, s := range n.sent {
		out = append(out, s.Template)
	}
	return out
}

type fixture struct {
	t        *testing.T
	db       *gorm.DB
	svc      *BookingService
	cal      *calendar.Memory
	notifier *recordingNotifier

	mu  sync.Mutex
	now time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureOn(t, newServiceDB(t))
}

func newFixtureOn(t *testing.T, db *gorm.DB) *fixture {
	t.Helper()
	f := &fixture{
		t:        t,
		db:       db,
		cal:      calendar.NewMemory(),
		notifier: &recordingNotifier{},
		now:      at(8, 0),
	}
	f.svc = &BookingService{
		DB:        f.db,
		Calendars: calendar.StaticResolver{"u1": f.cal, "u2": f.cal, "u3": f.cal},
		Reminders: &notify.DBScheduler{DB: f.db},
		Notifier:  f.notifier,
		Tokens:    NewTokenSigner("test-secret"),
		Config: config.BookingConfig{
			LockTimeout:           5 * time.Second,
			TxTimeout:             5 * time.Second,
			DurationTolerance:     time.Minute,
			ReminderLead:          time.Hour,
			SideEffectTimeout:     time.Second,
			MaxSideEffectAttempts: 3,
		},
		Logger:   zerolog.Nop(),
		Now:      f.clock,
		Dispatch: func(fn func()) { fn() },
	}
	return f
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// rule gives userID Monday-Friday 09:00-17:00 UTC with no buffers.
func (f *fixture) rule(userID string, tweak ...func(*domain.AvailabilityRule)) {
	f.t.Helper()
	r := &domain.AvailabilityRule{
		UserID:          userID,
		WorkingDays:     domain.Weekdays,
		WorkStartMinute: 9 * 60,
		WorkEndMinute:   17 * 60,
		Timezone:        "UTC",
	}
	for _, fn := range tweak {
		fn(r)
	}
	if err := repo.UpsertRule(context.Background(), f.db, r); err != nil {
		f.t.Fatalf("UpsertRule: %v", err)
	}
}

func (f *fixture) link(method domain.AssignmentMethod, owner string, candidates ...string) *domain.BookingLink {
	f.t.Helper()
	l := &domain.BookingLink{
		OwnerID:                owner,
		Title:                  "Intro call",
		DurationMinutes:        30,
		AssignmentMethod:       method,
		CandidateIDs:           candidates,
		AvailabilityWindowDays: 30,
		IsActive:               true,
	}
	if err := repo.CreateLink(context.Background(), f.db, l); err != nil {
		f.t.Fatalf("CreateLink: %v", err)
	}
	return l
}

func (f *fixture) book(linkID string, start time.Time) (*CreateBookingResult, error) {
	return f.svc.CreateBooking(context.Background(), CreateBookingInput{
		LinkID:    linkID,
		Window:    win(start, 30*time.Minute),
		Requester: Requester{Name: "Ada  Lovelace", Email: "Ada@Example.com"},
	})
}

func (f *fixture) countBookings() int64 {
	f.t.Helper()
	var n int64
	if err := f.db.Model(&domain.Booking{}).Count(&n).Error; err != nil {
		f.t.Fatalf("count bookings: %v", err)
	}
	return n
}
