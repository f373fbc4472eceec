// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides access to the per-link rotation ledger.
//
// The ledger is read and written inside the booking transaction while the
// link lock is held, so a plain read followed by a full save is safe. Version
// is compared on save to catch writers that skipped the lock.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/slotbook/internal/domain"
)

// ErrStaleRotation indicates the ledger changed since it was loaded.
var ErrStaleRotation = errors.New("rotation state changed concurrently")

// LoadRotation returns the ledger for linkID. A link that has never assigned
// gets a fresh, unsaved state with LastAssignedIndex -1 and Version 0.
func LoadRotation(ctx context.Context, db *gorm.DB, linkID string) (*domain.RotationState, error) {
	var s domain.RotationState
	err := findOne(db.WithContext(ctx).Where("link_id = ?", linkID), &s)
	if errors.Is(err, ErrNotFound) {
		return &domain.RotationState{
			LinkID:            linkID,
			LastAssignedIndex: -1,
			MemberLoad:        map[string]int{},
		}, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	if s.MemberLoad == nil {
		s.MemberLoad = map[string]int{}
	}
	return &s, nil
}

// SaveRotation persists s and increments its Version. Version 0 inserts;
// anything else updates only if the stored version still matches.
func SaveRotation(ctx context.Context, db *gorm.DB, s *domain.RotationState) error {
	now := time.Now().UTC()
	if s.Version == 0 {
		s.Version = 1
		s.UpdatedAt = now
		return classify(db.WithContext(ctx).Create(s).Error)
	}
	res := db.WithContext(ctx).
		Model(&domain.RotationState{}).
		Where("link_id = ? AND version = ?", s.LinkID, s.Version).
		Select("last_assigned_index", "member_load", "version", "updated_at").
		Updates(&domain.RotationState{
			LastAssignedIndex: s.LastAssignedIndex,
			MemberLoad:        s.MemberLoad,
			Version:           s.Version + 1,
			UpdatedAt:         now,
		})
	if res.Error != nil {
		return classify(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStaleRotation
	}
	s.Version++
	s.UpdatedAt = now
	return nil
}
