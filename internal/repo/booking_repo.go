// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Booking
// model.
//
// Bookings are only ever inserted inside the booking transaction (see
// services.BookingService), after the scope locks are held. Functions that
// read bookings for conflict detection consider only active statuses
// (pending and confirmed); failed and cancelled rows never block a slot.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/slotbook/internal/domain"
)

// activeStatuses are the statuses that occupy a user's calendar.
var activeStatuses = []domain.BookingStatus{domain.BookingPending, domain.BookingConfirmed}

// CreateBooking inserts b. Callers assign the ID.
func CreateBooking(ctx context.Context, db *gorm.DB, b *domain.Booking) error {
	now := time.Now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	return classify(db.WithContext(ctx).Create(b).Error)
}

// GetBooking fetches a booking by ID or returns ErrNotFound.
func GetBooking(ctx context.Context, db *gorm.DB, id string) (*domain.Booking, error) {
	var b domain.Booking
	if err := findOne(db.WithContext(ctx).Where("id = ?", id), &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// ConfirmBooking moves a pending booking to confirmed. It returns ErrNotFound
// when id is not pending.
func ConfirmBooking(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).
		Model(&domain.Booking{}).
		Where("id = ? AND status = ?", id, domain.BookingPending).
		Updates(map[string]any{
			"status":     domain.BookingConfirmed,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return classify(res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListActiveBookings returns the active bookings assigned to any of userIDs
// that overlap w, ordered by start time.
func ListActiveBookings(ctx context.Context, db *gorm.DB, userIDs []string, w domain.TimeWindow) ([]domain.Booking, error) {
	var out []domain.Booking
	if len(userIDs) == 0 {
		return out, nil
	}
	err := db.WithContext(ctx).
		Where("assigned_user_id IN ?", userIDs).
		Where("status IN ?", activeStatuses).
		Where("start_at < ? AND end_at > ?", w.End, w.Start).
		Order("start_at asc").
		Find(&out).Error
	return out, err
}

// CountLinkBookings returns the total number of bookings on linkID.
func CountLinkBookings(ctx context.Context, db *gorm.DB, linkID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Booking{}).
		Where("booking_link_id = ?", linkID).
		Count(&total).Error
	return total, err
}

// ListLinkBookingsPage returns a page of bookings on linkID ordered by start
// time ascending. Use CountLinkBookings for pagination metadata.
func ListLinkBookingsPage(ctx context.Context, db *gorm.DB, linkID string, offset, limit int) ([]domain.Booking, error) {
	var out []domain.Booking
	err := db.WithContext(ctx).
		Where("booking_link_id = ?", linkID).
		Order("start_at asc").
		Order("id asc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// SetCalendarResult records the outcome of the calendar sync step. A non-nil
// ref clears CalendarSyncFailed; a nil ref marks the sync as failed.
func SetCalendarResult(ctx context.Context, db *gorm.DB, id string, ref, provider *string) error {
	updates := map[string]any{
		"calendar_sync_failed": true,
		"updated_at":           time.Now().UTC(),
	}
	if ref != nil {
		updates["external_event_ref"] = *ref
		if provider != nil {
			updates["external_provider"] = *provider
		}
		updates["calendar_sync_failed"] = false
	}
	res := db.WithContext(ctx).
		Model(&domain.Booking{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CancelBooking transitions an active booking to cancelled. It returns
// ErrNotFound when no active booking with id exists.
func CancelBooking(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.Booking{}).
		Where("id = ? AND status IN ?", id, activeStatuses).
		Updates(map[string]any{
			"status":       domain.BookingCancelled,
			"cancelled_at": at,
			"updated_at":   at,
		})
	if res.Error != nil {
		return classify(res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
