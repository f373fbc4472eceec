package domain

import "time"

// Idempotency records the booking produced by a create request, keyed by
// (requester, link_id, key). A retried request with the same key receives the
// original booking instead of running assignment again.
type Idempotency struct {
	ID        string    `gorm:"type:varchar(36);primaryKey"`
	Requester string    `gorm:"type:varchar(255);not null;uniqueIndex:ux_requester_link_key,priority:1"`
	LinkID    string    `gorm:"type:varchar(255);not null;uniqueIndex:ux_requester_link_key,priority:2"`
	Key       string    `gorm:"type:varchar(255);not null;uniqueIndex:ux_requester_link_key,priority:3"`
	BookingID string    `gorm:"type:varchar(36);not null"`
	Status    int       `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
	ExpiresAt time.Time `gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
