// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the side-effect outbox used by the
// booking saga.
//
// Steps are inserted in the same transaction as the booking they belong to,
// so a committed booking always has its follow-up work recorded. Dispatch
// happens after commit and records each attempt here.
//
// The post-commit dispatcher and any number of reconcilers may see the same
// row. Whoever runs a step first claims it (pending/failed to running) with a
// conditional update; a claim expires after its lease so a crashed worker's
// rows become due again.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/slotbook/internal/domain"
)

// EnqueueSideEffects inserts one pending row per step for bookingID.
func EnqueueSideEffects(ctx context.Context, db *gorm.DB, bookingID string, steps []domain.SideEffectStep, now time.Time) ([]domain.SideEffect, error) {
	rows := make([]domain.SideEffect, 0, len(steps))
	for _, st := range steps {
		rows = append(rows, domain.SideEffect{
			ID:            uuid.NewString(),
			BookingID:     bookingID,
			Step:          st,
			Status:        domain.SideEffectPending,
			NextAttemptAt: now,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	}
	if len(rows) == 0 {
		return rows, nil
	}
	if err := db.WithContext(ctx).Create(&rows).Error; err != nil {
		return nil, classify(err)
	}
	return rows, nil
}

// ListSideEffects returns every step recorded for bookingID.
func ListSideEffects(ctx context.Context, db *gorm.DB, bookingID string) ([]domain.SideEffect, error) {
	var out []domain.SideEffect
	err := db.WithContext(ctx).
		Where("booking_id = ?", bookingID).
		Order("created_at asc").
		Order("step asc").
		Find(&out).Error
	return out, err
}

// claimableStatuses are the states a due row may be claimed from. A due
// running row is a claim whose lease ran out.
var claimableStatuses = []domain.SideEffectStatus{
	domain.SideEffectPending,
	domain.SideEffectFailed,
	domain.SideEffectRunning,
}

// ListRetryableSideEffects returns unfinished steps whose next attempt is due
// and that have been attempted fewer than maxAttempts times. Callers must
// ClaimSideEffect each row before running it.
func ListRetryableSideEffects(ctx context.Context, db *gorm.DB, now time.Time, maxAttempts, limit int) ([]domain.SideEffect, error) {
	var out []domain.SideEffect
	err := db.WithContext(ctx).
		Where("status IN ?", claimableStatuses).
		Where("attempts < ?", maxAttempts).
		Where("next_attempt_at <= ?", now).
		Order("next_attempt_at asc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ClaimSideEffect moves a due, unfinished step to running until now+lease.
// It reports false when another worker claimed or finished the step first,
// or when its next attempt is not due yet.
func ClaimSideEffect(ctx context.Context, db *gorm.DB, id string, now time.Time, lease time.Duration) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.SideEffect{}).
		Where("id = ? AND status IN ? AND next_attempt_at <= ?", id, claimableStatuses, now).
		Updates(map[string]any{
			"status":          domain.SideEffectRunning,
			"next_attempt_at": now.Add(lease),
			"updated_at":      now,
		})
	if res.Error != nil {
		return false, classify(res.Error)
	}
	return res.RowsAffected == 1, nil
}

// RecordSideEffectAttempt stores the outcome of one attempt. A nil stepErr
// marks the step done; otherwise it is failed and becomes due again at next.
func RecordSideEffectAttempt(ctx context.Context, db *gorm.DB, id string, stepErr error, next, now time.Time) error {
	updates := map[string]any{
		"attempts":   gorm.Expr("attempts + 1"),
		"updated_at": now,
	}
	if stepErr == nil {
		updates["status"] = domain.SideEffectDone
		updates["last_error"] = ""
	} else {
		updates["status"] = domain.SideEffectFailed
		updates["last_error"] = stepErr.Error()
		updates["next_attempt_at"] = next
	}
	res := db.WithContext(ctx).
		Model(&domain.SideEffect{}).
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
