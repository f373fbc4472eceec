package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/slotbook/internal/domain"
)

// LinkBookingsStats returns how many bookings a link has and when the most
// recently changed one was updated. Both feed the list ETag. maxUpdatedAt is
// nil when the link has no bookings.
func LinkBookingsStats(ctx context.Context, db *gorm.DB, linkID string) (count int64, maxUpdatedAt *time.Time, err error) {
	scope := func() *gorm.DB {
		return db.WithContext(ctx).Model(&domain.Booking{}).Where("booking_link_id = ?", linkID)
	}
	if err = scope().Count(&count).Error; err != nil || count == 0 {
		return 0, nil, err
	}

	// Ordering instead of MAX(): SQLite returns MAX(updated_at) as TEXT.
	var latest domain.Booking
	if err = scope().Select("updated_at").Order("updated_at DESC").Take(&latest).Error; err != nil {
		return 0, nil, err
	}
	ts := latest.UpdatedAt.UTC()
	return count, &ts, nil
}
