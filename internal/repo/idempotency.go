// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the Idempotency
// model used to implement safe-retry semantics for booking creation.
package repo

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/slotbook/internal/domain"
)

// GetIdempotency returns a non-expired record or ErrNotFound.
//
// Conditions are built from a struct so the driver quotes the "key" column,
// which is reserved in MySQL.
func GetIdempotency(ctx context.Context, db *gorm.DB, requester, linkID, key string, now time.Time) (*domain.Idempotency, error) {
	if strings.TrimSpace(linkID) == "" || strings.TrimSpace(key) == "" {
		return nil, ErrNotFound
	}
	var rec domain.Idempotency
	err := findOne(db.WithContext(ctx).
		Where(&domain.Idempotency{Requester: requester, LinkID: linkID, Key: key}).
		Where("expires_at > ?", now), &rec)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateIdempotency inserts a record and returns ErrDuplicate on unique violation.
func CreateIdempotency(ctx context.Context, db *gorm.DB, requester, linkID, key, bookingID string, status int, ttl time.Duration) (*domain.Idempotency, error) {
	now := time.Now().UTC()
	rec := &domain.Idempotency{
		ID:        uuid.NewString(),
		Requester: requester,
		LinkID:    linkID,
		Key:       key,
		BookingID: bookingID,
		Status:    status,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, classify(err)
	}
	return rec, nil
}

// PurgeExpiredIdempotency deletes records whose ExpiresAt is at or before now.
func PurgeExpiredIdempotency(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&domain.Idempotency{})
	return res.RowsAffected, res.Error
}

// IdempotencyKeyExists reports whether any requester holds a live record for
// (linkID, key).
func IdempotencyKeyExists(ctx context.Context, db *gorm.DB, linkID, key string, now time.Time) (bool, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Idempotency{}).
		Where(&domain.Idempotency{LinkID: linkID, Key: key}).
		Where("expires_at > ?", now).
		Limit(1).
		Count(&n).Error
	return n > 0, err
}
