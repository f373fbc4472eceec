// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides read access to the configuration the
// booking engine consumes: booking links, availability rules, recurring
// blocks and calendar connections. The engine never mutates these; the
// create/upsert helpers exist for seeding and administration.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/slotbook/internal/domain"
)

// CreateLink inserts a booking link. An empty ID is replaced by a UUID.
func CreateLink(ctx context.Context, db *gorm.DB, l *domain.BookingLink) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	return classify(db.WithContext(ctx).Create(l).Error)
}

// GetLink fetches a booking link by ID or returns ErrNotFound.
func GetLink(ctx context.Context, db *gorm.DB, id string) (*domain.BookingLink, error) {
	var l domain.BookingLink
	if err := findOne(db.WithContext(ctx).Where("id = ?", id), &l); err != nil {
		return nil, err
	}
	return &l, nil
}

// UpsertRule inserts or replaces the availability rule for rule.UserID.
func UpsertRule(ctx context.Context, db *gorm.DB, rule *domain.AvailabilityRule) error {
	rule.UpdatedAt = time.Now().UTC()
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		UpdateAll: true,
	}).Create(rule).Error
}

// GetRule returns the availability rule for userID or ErrNotFound.
func GetRule(ctx context.Context, db *gorm.DB, userID string) (*domain.AvailabilityRule, error) {
	var r domain.AvailabilityRule
	if err := findOne(db.WithContext(ctx).Where("user_id = ?", userID), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRules returns the rules for the given users keyed by user ID. Users
// without a rule are absent from the map.
func ListRules(ctx context.Context, db *gorm.DB, userIDs []string) (map[string]domain.AvailabilityRule, error) {
	out := make(map[string]domain.AvailabilityRule, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	var rows []domain.AvailabilityRule
	if err := db.WithContext(ctx).Where("user_id IN ?", userIDs).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.UserID] = r
	}
	return out, nil
}

// CreateRecurringBlock inserts a recurring busy block.
func CreateRecurringBlock(ctx context.Context, db *gorm.DB, b *domain.RecurringBlock) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(b).Error
}

// ListRecurringBlocks returns every recurring block for the given users.
func ListRecurringBlocks(ctx context.Context, db *gorm.DB, userIDs []string) ([]domain.RecurringBlock, error) {
	var out []domain.RecurringBlock
	if len(userIDs) == 0 {
		return out, nil
	}
	err := db.WithContext(ctx).
		Where("user_id IN ?", userIDs).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}

// CreateConnection stores a calendar connection.
func CreateConnection(ctx context.Context, db *gorm.DB, c *domain.CalendarConnection) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return db.WithContext(ctx).Create(c).Error
}

// GetActiveConnection returns the most recently updated active calendar
// connection for userID, or ErrNotFound when the user has none.
func GetActiveConnection(ctx context.Context, db *gorm.DB, userID string) (*domain.CalendarConnection, error) {
	var c domain.CalendarConnection
	err := findOne(db.WithContext(ctx).
		Where("user_id = ? AND active = ?", userID, true).
		Order("updated_at desc"), &c)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
