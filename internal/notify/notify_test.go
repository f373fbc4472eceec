package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/slotbook/internal/domain"
	"github.com/tbourn/slotbook/internal/repo"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:notify_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.Reminder{}, &domain.Booking{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

type fakePublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
	err      error
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, data)
	return nil
}

// recordingSender fails for recipients listed in failFor.
type recordingSender struct {
	mu      sync.Mutex
	sent    []Notification
	failFor map[string]bool
}

func (s *recordingSender) Notify(_ context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFor[n.Recipient] {
		return errors.New("smtp unavailable")
	}
	s.sent = append(s.sent, n)
	return nil
}

func TestNATSSender_PublishesToTemplateSubject(t *testing.T) {
	pub := &fakePublisher{}
	s := NewNATSSender(pub, "slotbook.notify.")
	s.now = func() time.Time { return time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC) }

	err := s.Notify(context.Background(), Notification{
		Recipient: "ada@example.com",
		Template:  TemplateBookingConfirmed,
		Data:      map[string]any{"booking_id": "b1"},
	})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(pub.subjects) != 1 || pub.subjects[0] != "slotbook.notify.booking_confirmed" {
		t.Fatalf("unexpected subjects %v", pub.subjects)
	}
	var msg message
	if err := json.Unmarshal(pub.payloads[0], &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Recipient != "ada@example.com" || msg.Data["booking_id"] != "b1" || msg.MessageID == "" {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestNATSSender_Errors(t *testing.T) {
	pub := &fakePublisher{err: errors.New("nats: connection closed")}
	s := NewNATSSender(pub, "")
	if got := s.Subject("x"); got != "x" {
		t.Fatalf("unexpected subject %q", got)
	}
	if err := s.Notify(context.Background(), Notification{Template: "x"}); !errors.Is(err, ErrNoRecipient) {
		t.Fatalf("expected ErrNoRecipient, got %v", err)
	}
	if err := s.Notify(context.Background(), Notification{Recipient: "a", Template: "x"}); err == nil {
		t.Fatalf("expected publish error")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Notify(ctx, Notification{Recipient: "a", Template: "x"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestLogSender(t *testing.T) {
	s := LogSender{Logger: zerolog.Nop()}
	if err := s.Notify(context.Background(), Notification{Recipient: "a", Template: "t"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Notify(context.Background(), Notification{}); !errors.Is(err, ErrNoRecipient) {
		t.Fatalf("expected ErrNoRecipient, got %v", err)
	}
}

func TestDBScheduler_DuplicateRoleIsSuccess(t *testing.T) {
	db := newTestDB(t)
	s := &DBScheduler{DB: db}
	ctx := context.Background()
	r := Reminder{BookingID: "b1", Role: RoleRequester, Recipient: "ada@example.com", SendAt: time.Now().Add(time.Hour)}

	for i := 0; i < 2; i++ {
		if err := s.ScheduleReminder(ctx, r); err != nil {
			t.Fatalf("ScheduleReminder #%d: %v", i, err)
		}
	}
	got, err := repo.ListReminders(ctx, db, "b1")
	if err != nil {
		t.Fatalf("ListReminders: %v", err)
	}
	if len(got) != 1 || got[0].Template != TemplateReminder || got[0].Status != domain.ReminderPending {
		t.Fatalf("unexpected reminders %+v", got)
	}
	if err := s.ScheduleReminder(ctx, Reminder{BookingID: "b1", Role: RoleAssignee}); !errors.Is(err, ErrNoRecipient) {
		t.Fatalf("expected ErrNoRecipient, got %v", err)
	}
}

func TestDispatcher_RunOnce(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Date(2030, 1, 15, 12, 0, 0, 0, time.UTC)
	sched := &DBScheduler{DB: db}

	mustSchedule := func(booking, role, to string, at time.Time) {
		if err := sched.ScheduleReminder(ctx, Reminder{BookingID: booking, Role: role, Recipient: to, SendAt: at}); err != nil {
			t.Fatalf("schedule: %v", err)
		}
	}
	mustSchedule("b1", RoleRequester, "ok@example.com", now.Add(-time.Minute))
	mustSchedule("b1", RoleAssignee, "bad@example.com", now.Add(-time.Minute))
	mustSchedule("b2", RoleRequester, "later@example.com", now.Add(time.Hour))

	sender := &recordingSender{failFor: map[string]bool{"bad@example.com": true}}
	d := &Dispatcher{DB: db, Sender: sender, Logger: zerolog.Nop(), MaxAttempts: 2, RetryBackoff: time.Minute, Now: func() time.Time { return now }}

	n, err := d.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n != 1 || len(sender.sent) != 1 || sender.sent[0].Recipient != "ok@example.com" {
		t.Fatalf("expected one delivery, got n=%d sent=%+v", n, sender.sent)
	}

	rs, _ := repo.ListReminders(ctx, db, "b1")
	byRole := map[string]domain.Reminder{}
	for _, r := range rs {
		byRole[r.Role] = r
	}
	if byRole[RoleRequester].Status != domain.ReminderSent || byRole[RoleRequester].SentAt == nil {
		t.Fatalf("requester reminder not sent: %+v", byRole[RoleRequester])
	}
	failed := byRole[RoleAssignee]
	if failed.Status != domain.ReminderPending || failed.Attempts != 1 || !failed.SendAt.After(now) {
		t.Fatalf("assignee reminder should be rescheduled: %+v", failed)
	}

	// Second failure exhausts MaxAttempts.
	now = failed.SendAt
	if _, err := d.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	rs, _ = repo.ListReminders(ctx, db, "b1")
	for _, r := range rs {
		if r.Role == RoleAssignee && r.Status != domain.ReminderFailed {
			t.Fatalf("expected failed after max attempts, got %+v", r)
		}
	}
	later, _ := repo.ListReminders(ctx, db, "b2")
	if len(later) != 1 || later[0].Status != domain.ReminderPending {
		t.Fatalf("future reminder must stay pending: %+v", later)
	}
}
