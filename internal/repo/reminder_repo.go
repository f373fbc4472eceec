// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the reminder queue consumed by the
// notify dispatcher.
//
// A booking has at most one reminder per role; scheduling the same reminder
// twice returns ErrDuplicate, which callers treat as success.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/slotbook/internal/domain"
)

// CreateReminder inserts r as pending. It returns ErrDuplicate when the
// booking already has a reminder for r.Role.
func CreateReminder(ctx context.Context, db *gorm.DB, r *domain.Reminder) error {
	now := time.Now().UTC()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.Status = domain.ReminderPending
	r.CreatedAt = now
	r.UpdatedAt = now
	return classify(db.WithContext(ctx).Create(r).Error)
}

// ListReminders returns the reminders for bookingID.
func ListReminders(ctx context.Context, db *gorm.DB, bookingID string) ([]domain.Reminder, error) {
	var out []domain.Reminder
	err := db.WithContext(ctx).
		Where("booking_id = ?", bookingID).
		Order("role asc").
		Find(&out).Error
	return out, err
}

// cancelledBookingIDs is a subquery over the ids of cancelled bookings.
func cancelledBookingIDs(ctx context.Context, db *gorm.DB) *gorm.DB {
	return db.WithContext(ctx).
		Model(&domain.Booking{}).
		Select("id").
		Where("status = ?", domain.BookingCancelled)
}

// ClaimDueReminders moves up to limit due pending reminders to sending and
// returns them. A reminder claimed by another dispatcher between the read and
// the conditional update is skipped.
//
// A reminder can be scheduled after its booking was cancelled, when the
// cancel commits while the confirmation saga is still running. Such
// reminders are cancelled here and the claim itself excludes them, so a
// cancel racing the claim cannot slip through either.
func ClaimDueReminders(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.Reminder, error) {
	err := db.WithContext(ctx).
		Model(&domain.Reminder{}).
		Where("status = ? AND booking_id IN (?)", domain.ReminderPending, cancelledBookingIDs(ctx, db)).
		Updates(map[string]any{
			"status":     domain.ReminderCancelled,
			"updated_at": now,
		}).Error
	if err != nil {
		return nil, classify(err)
	}

	var due []domain.Reminder
	err = db.WithContext(ctx).
		Where("status = ? AND send_at <= ?", domain.ReminderPending, now).
		Order("send_at asc").
		Limit(limit).
		Find(&due).Error
	if err != nil {
		return nil, err
	}

	claimed := make([]domain.Reminder, 0, len(due))
	for _, r := range due {
		res := db.WithContext(ctx).
			Model(&domain.Reminder{}).
			Where("id = ? AND status = ?", r.ID, domain.ReminderPending).
			Where("booking_id NOT IN (?)", cancelledBookingIDs(ctx, db)).
			Updates(map[string]any{
				"status":     domain.ReminderSending,
				"attempts":   gorm.Expr("attempts + 1"),
				"updated_at": now,
			})
		if res.Error != nil {
			return claimed, classify(res.Error)
		}
		if res.RowsAffected == 1 {
			r.Status = domain.ReminderSending
			r.Attempts++
			claimed = append(claimed, r)
		}
	}
	return claimed, nil
}

// MarkReminderSent records a successful delivery.
func MarkReminderSent(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.Reminder{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     domain.ReminderSent,
			"sent_at":    at,
			"last_error": "",
			"updated_at": at,
		}).Error
}

// MarkReminderFailed records a failed delivery. Reminders below maxAttempts
// return to pending with SendAt pushed to retryAt.
func MarkReminderFailed(ctx context.Context, db *gorm.DB, r domain.Reminder, sendErr error, maxAttempts int, retryAt, now time.Time) error {
	updates := map[string]any{
		"last_error": sendErr.Error(),
		"updated_at": now,
	}
	if r.Attempts < maxAttempts {
		updates["status"] = domain.ReminderPending
		updates["send_at"] = retryAt
	} else {
		updates["status"] = domain.ReminderFailed
	}
	return db.WithContext(ctx).
		Model(&domain.Reminder{}).
		Where("id = ?", r.ID).
		Updates(updates).Error
}

// CancelReminders cancels every unsent reminder for bookingID.
func CancelReminders(ctx context.Context, db *gorm.DB, bookingID string, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Reminder{}).
		Where("booking_id = ? AND status IN ?", bookingID, []domain.ReminderStatus{domain.ReminderPending, domain.ReminderFailed}).
		Updates(map[string]any{
			"status":     domain.ReminderCancelled,
			"updated_at": now,
		})
	return res.RowsAffected, res.Error
}
