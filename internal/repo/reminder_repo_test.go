package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/slotbook/internal/domain"
)

func newReminder(bookingID, role string, sendAt time.Time) *domain.Reminder {
	return &domain.Reminder{
		BookingID: bookingID,
		Role:      role,
		Recipient: role + "@example.com",
		Template:  "booking_reminder",
		Payload:   map[string]any{"booking_id": bookingID},
		SendAt:    sendAt,
	}
}

func TestCreateReminder_DuplicateRole(t *testing.T) {
	db := newTestDB(t, &domain.Reminder{}, &domain.Booking{})
	ctx := context.Background()
	at := time.Now().UTC().Add(time.Hour)

	if err := CreateReminder(ctx, db, newReminder("b1", "requester", at)); err != nil {
		t.Fatalf("CreateReminder: %v", err)
	}
	if err := CreateReminder(ctx, db, newReminder("b1", "requester", at)); err != ErrDuplicate {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if err := CreateReminder(ctx, db, newReminder("b1", "assignee", at)); err != nil {
		t.Fatalf("assignee reminder: %v", err)
	}
	list, err := ListReminders(ctx, db, "b1")
	if err != nil || len(list) != 2 {
		t.Fatalf("ListReminders: %v err=%v", list, err)
	}
}

func TestClaimDueReminders_ClaimsOnce(t *testing.T) {
	db := newTestDB(t, &domain.Reminder{}, &domain.Booking{})
	ctx := context.Background()
	now := time.Date(2030, 3, 1, 12, 0, 0, 0, time.UTC)

	_ = CreateReminder(ctx, db, newReminder("b1", "requester", now.Add(-time.Minute)))
	_ = CreateReminder(ctx, db, newReminder("b2", "requester", now.Add(time.Hour)))

	claimed, err := ClaimDueReminders(ctx, db, now, 10)
	if err != nil {
		t.Fatalf("ClaimDueReminders: %v", err)
	}
	if len(claimed) != 1 || claimed[0].BookingID != "b1" || claimed[0].Status != domain.ReminderSending || claimed[0].Attempts != 1 {
		t.Fatalf("unexpected claim: %+v", claimed)
	}

	again, err := ClaimDueReminders(ctx, db, now, 10)
	if err != nil || len(again) != 0 {
		t.Fatalf("expected nothing left to claim, got %+v err=%v", again, err)
	}

	if err := MarkReminderSent(ctx, db, claimed[0].ID, now); err != nil {
		t.Fatalf("MarkReminderSent: %v", err)
	}
	list, _ := ListReminders(ctx, db, "b1")
	if list[0].Status != domain.ReminderSent || list[0].SentAt == nil {
		t.Fatalf("unexpected sent reminder: %+v", list[0])
	}
}

func TestMarkReminderFailed_RetriesThenGivesUp(t *testing.T) {
	db := newTestDB(t, &domain.Reminder{}, &domain.Booking{})
	ctx := context.Background()
	now := time.Date(2030, 3, 1, 12, 0, 0, 0, time.UTC)
	_ = CreateReminder(ctx, db, newReminder("b1", "requester", now))

	claimed, _ := ClaimDueReminders(ctx, db, now, 1)
	if len(claimed) != 1 {
		t.Fatalf("expected a claim")
	}
	retryAt := now.Add(time.Minute)
	if err := MarkReminderFailed(ctx, db, claimed[0], errors.New("smtp down"), 2, retryAt, now); err != nil {
		t.Fatalf("MarkReminderFailed: %v", err)
	}
	list, _ := ListReminders(ctx, db, "b1")
	if list[0].Status != domain.ReminderPending || !list[0].SendAt.Equal(retryAt) {
		t.Fatalf("expected pending retry, got %+v", list[0])
	}

	claimed, _ = ClaimDueReminders(ctx, db, retryAt, 1)
	if len(claimed) != 1 || claimed[0].Attempts != 2 {
		t.Fatalf("expected second claim, got %+v", claimed)
	}
	_ = MarkReminderFailed(ctx, db, claimed[0], errors.New("smtp down"), 2, retryAt, now)
	list, _ = ListReminders(ctx, db, "b1")
	if list[0].Status != domain.ReminderFailed {
		t.Fatalf("expected failed, got %+v", list[0])
	}
}

func TestCancelReminders(t *testing.T) {
	db := newTestDB(t, &domain.Reminder{}, &domain.Booking{})
	ctx := context.Background()
	at := time.Now().UTC().Add(time.Hour)
	_ = CreateReminder(ctx, db, newReminder("b1", "requester", at))
	_ = CreateReminder(ctx, db, newReminder("b1", "assignee", at))

	n, err := CancelReminders(ctx, db, "b1", time.Now().UTC())
	if err != nil || n != 2 {
		t.Fatalf("CancelReminders: n=%d err=%v", n, err)
	}
	claimed, _ := ClaimDueReminders(ctx, db, at.Add(time.Minute), 10)
	if len(claimed) != 0 {
		t.Fatalf("cancelled reminders must not be claimed: %+v", claimed)
	}
}

func TestClaimDueReminders_SkipsCancelledBookings(t *testing.T) {
	db := newTestDB(t, &domain.Reminder{}, &domain.Booking{})
	ctx := context.Background()
	now := time.Date(2030, 3, 1, 12, 0, 0, 0, time.UTC)

	seedBooking(t, db, "live", "l1", "u1", now.Add(time.Hour), time.Hour, domain.BookingConfirmed)
	seedBooking(t, db, "gone", "l1", "u2", now.Add(time.Hour), time.Hour, domain.BookingCancelled)
	// Scheduled after the cancel had already swept reminders for "gone".
	_ = CreateReminder(ctx, db, newReminder("live", "requester", now.Add(-time.Minute)))
	_ = CreateReminder(ctx, db, newReminder("gone", "requester", now.Add(-time.Minute)))

	claimed, err := ClaimDueReminders(ctx, db, now, 10)
	if err != nil {
		t.Fatalf("ClaimDueReminders: %v", err)
	}
	if len(claimed) != 1 || claimed[0].BookingID != "live" {
		t.Fatalf("expected only the live booking's reminder, got %+v", claimed)
	}
	gone, _ := ListReminders(ctx, db, "gone")
	if len(gone) != 1 || gone[0].Status != domain.ReminderCancelled {
		t.Fatalf("reminder of a cancelled booking must be cancelled, got %+v", gone)
	}
}
