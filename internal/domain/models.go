// Package domain defines the persistence models for booking links, bookings,
// availability rules and rotation state. These types are mapped with GORM and
// shared across the repository, engine and service layers.
package domain

import (
	"fmt"
	"time"
)

// WeekdaySet is a bitmask of time.Weekday values (bit 0 = Sunday).
type WeekdaySet uint8

// NewWeekdaySet builds a set from the given days.
func NewWeekdaySet(days ...time.Weekday) WeekdaySet {
	var s WeekdaySet
	for _, d := range days {
		s |= 1 << uint(d)
	}
	return s
}

// Weekdays is Monday through Friday.
var Weekdays = NewWeekdaySet(time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday)

// Has reports whether d is in the set.
func (s WeekdaySet) Has(d time.Weekday) bool { return s&(1<<uint(d)) != 0 }

// Days lists the members of the set in Sunday-first order.
func (s WeekdaySet) Days() []time.Weekday {
	out := make([]time.Weekday, 0, 7)
	for d := time.Sunday; d <= time.Saturday; d++ {
		if s.Has(d) {
			out = append(out, d)
		}
	}
	return out
}

// AvailabilityRule describes when a user accepts bookings. It is owned by the
// user profile and is read-only to the booking engine.
//
// Working hours are stored as minutes since local midnight in Timezone.
type AvailabilityRule struct {
	UserID              string     `json:"user_id"               gorm:"type:varchar(64);primaryKey"`
	WorkingDays         WeekdaySet `json:"working_days"          gorm:"not null"`
	WorkStartMinute     int        `json:"work_start_minute"     gorm:"not null"`
	WorkEndMinute       int        `json:"work_end_minute"       gorm:"not null"`
	BufferBeforeMinutes int        `json:"buffer_before_minutes" gorm:"not null"`
	BufferAfterMinutes  int        `json:"buffer_after_minutes"  gorm:"not null"`
	LeadTimeMinutes     int        `json:"lead_time_minutes"     gorm:"not null"`
	MaxBookingsPerDay   int        `json:"max_bookings_per_day"  gorm:"not null"`
	Timezone            string     `json:"timezone"              gorm:"type:varchar(64);not null"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// TableName returns the database table name for AvailabilityRule.
func (AvailabilityRule) TableName() string { return "availability_rules" }

// BufferBefore returns the pre-meeting buffer.
func (r AvailabilityRule) BufferBefore() time.Duration {
	return time.Duration(r.BufferBeforeMinutes) * time.Minute
}

// BufferAfter returns the post-meeting buffer.
func (r AvailabilityRule) BufferAfter() time.Duration {
	return time.Duration(r.BufferAfterMinutes) * time.Minute
}

// LeadTime returns the minimum notice between now and a slot start.
func (r AvailabilityRule) LeadTime() time.Duration {
	return time.Duration(r.LeadTimeMinutes) * time.Minute
}

// MaxBuffer returns the larger of the two buffers.
func (r AvailabilityRule) MaxBuffer() time.Duration {
	if r.BufferBeforeMinutes > r.BufferAfterMinutes {
		return r.BufferBefore()
	}
	return r.BufferAfter()
}

// Location loads the rule's IANA timezone. An empty timezone means UTC.
func (r AvailabilityRule) Location() (*time.Location, error) {
	if r.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return nil, fmt.Errorf("availability rule %s: %w", r.UserID, err)
	}
	return loc, nil
}

// BookingLink is a published, bookable configuration. It is owned by its
// creator and never mutated by the engine.
//
// CandidateIDs is the ordered list of team members eligible for assignment;
// for individual links it is empty and OwnerID receives every booking.
type BookingLink struct {
	ID                     string           `json:"id"                       gorm:"type:char(36);primaryKey"`
	OwnerID                string           `json:"owner_id"                 gorm:"type:varchar(64);not null;index"`
	TeamID                 *string          `json:"team_id,omitempty"        gorm:"type:varchar(64);index"`
	Title                  string           `json:"title"                    gorm:"type:varchar(255);not null;default:''"`
	DurationMinutes        int              `json:"duration_minutes"         gorm:"not null"`
	AssignmentMethod       AssignmentMethod `json:"assignment_method"        gorm:"type:varchar(32);not null"`
	CandidateIDs           []string         `json:"candidate_ids"            gorm:"type:text;serializer:json"`
	AvailabilityWindowDays int              `json:"availability_window_days" gorm:"not null"`
	IsActive               bool             `json:"is_active"                gorm:"not null"`
	CreatedAt              time.Time        `json:"created_at"`
	UpdatedAt              time.Time        `json:"updated_at"`
}

// TableName returns the database table name for BookingLink.
func (BookingLink) TableName() string { return "booking_links" }

// Duration returns the configured slot length.
func (l BookingLink) Duration() time.Duration {
	return time.Duration(l.DurationMinutes) * time.Minute
}

// IsTeam reports whether the link assigns among several candidates.
func (l BookingLink) IsTeam() bool {
	return l.AssignmentMethod != MethodSpecific && len(l.CandidateIDs) > 0
}

// Members returns every user the link may assign to, in configured order.
func (l BookingLink) Members() []string {
	if !l.IsTeam() {
		return []string{l.OwnerID}
	}
	return append([]string(nil), l.CandidateIDs...)
}

// BookingStatus is the lifecycle state of a booking.
type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingFailed    BookingStatus = "failed"
	BookingCancelled BookingStatus = "cancelled"
)

// Booking is a reservation created exactly once per successful request.
// The booking orchestrator is the only writer of Status and AssignedUserID.
type Booking struct {
	ID                 string        `json:"id"                           gorm:"type:char(36);primaryKey"`
	BookingLinkID      string        `json:"booking_link_id"              gorm:"type:char(36);not null;index:idx_booking_link_start,priority:1"`
	AssignedUserID     string        `json:"assigned_user_id"             gorm:"type:varchar(64);not null;index:idx_booking_user_start,priority:1"`
	StartAt            time.Time     `json:"start_at"                     gorm:"not null;index:idx_booking_user_start,priority:2;index:idx_booking_link_start,priority:2"`
	EndAt              time.Time     `json:"end_at"                       gorm:"not null"`
	Status             BookingStatus `json:"status"                       gorm:"type:varchar(16);not null;check:status IN ('pending','confirmed','failed','cancelled')"`
	RequesterName      string        `json:"requester_name"               gorm:"type:varchar(255);not null"`
	RequesterEmail     string        `json:"requester_email"              gorm:"type:varchar(255);not null"`
	RequesterTimezone  string        `json:"requester_timezone,omitempty" gorm:"type:varchar(64)"`
	Notes              string        `json:"notes,omitempty"              gorm:"type:text"`
	ExternalEventRef   *string       `json:"external_event_ref,omitempty" gorm:"type:varchar(255)"`
	ExternalProvider   *string       `json:"external_provider,omitempty"  gorm:"type:varchar(32)"`
	CalendarSyncFailed bool          `json:"calendar_sync_failed"         gorm:"not null;default:false"`
	CancelledAt        *time.Time    `json:"cancelled_at,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// TableName returns the database table name for Booking.
func (Booking) TableName() string { return "bookings" }

// Window returns the booked range.
func (b Booking) Window() TimeWindow { return TimeWindow{Start: b.StartAt.UTC(), End: b.EndAt.UTC()} }

// RotationState is the durable per-link rotation ledger. LastAssignedIndex is
// an index into BookingLink.CandidateIDs (-1 before the first assignment);
// MemberLoad counts active assignments per member for load balancing.
type RotationState struct {
	LinkID            string         `json:"link_id"             gorm:"type:char(36);primaryKey"`
	LastAssignedIndex int            `json:"last_assigned_index" gorm:"not null"`
	MemberLoad        map[string]int `json:"member_load"         gorm:"type:text;serializer:json"`
	Version           int64          `json:"version"             gorm:"not null"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// TableName returns the database table name for RotationState.
func (RotationState) TableName() string { return "rotation_states" }

// Load returns the recorded load for userID.
func (s *RotationState) Load(userID string) int {
	if s == nil || s.MemberLoad == nil {
		return 0
	}
	return s.MemberLoad[userID]
}

// RecurringBlock is a user-defined repeating busy period (e.g. a weekly
// meeting). RRule holds RFC 5545 recurrence parts without DTSTART
// ("FREQ=WEEKLY;BYDAY=MO"); occurrences are generated from DTStart in
// Timezone so wall-clock times survive DST changes.
type RecurringBlock struct {
	ID              string    `json:"id"               gorm:"type:char(36);primaryKey"`
	UserID          string    `json:"user_id"          gorm:"type:varchar(64);not null;index"`
	RRule           string    `json:"rrule"            gorm:"type:text;not null"`
	DTStart         time.Time `json:"dtstart"          gorm:"not null"`
	Timezone        string    `json:"timezone"         gorm:"type:varchar(64)"`
	DurationMinutes int       `json:"duration_minutes" gorm:"not null"`
	Label           string    `json:"label"            gorm:"type:varchar(255)"`
	CreatedAt       time.Time `json:"created_at"`
}

// TableName returns the database table name for RecurringBlock.
func (RecurringBlock) TableName() string { return "recurring_blocks" }

// CalendarConnection records an already-authenticated calendar account for a
// user. Secret holds provider credentials (an OAuth token JSON for Google, an
// app password for CalDAV) and is never serialized.
type CalendarConnection struct {
	ID         string    `json:"id"          gorm:"type:char(36);primaryKey"`
	UserID     string    `json:"user_id"     gorm:"type:varchar(64);not null;index"`
	Provider   string    `json:"provider"    gorm:"type:varchar(32);not null"`
	CalendarID string    `json:"calendar_id" gorm:"type:varchar(512);not null"`
	Endpoint   string    `json:"endpoint"    gorm:"type:varchar(512)"`
	Username   string    `json:"username"    gorm:"type:varchar(255)"`
	Secret     string    `json:"-"           gorm:"type:text"`
	Active     bool      `json:"active"      gorm:"not null"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TableName returns the database table name for CalendarConnection.
func (CalendarConnection) TableName() string { return "calendar_connections" }

// BookingLock is a lock row written at the start of a booking transaction.
// Writing the row takes the database's row (or table) write lock, which
// linearizes concurrent critical sections for the same key across processes.
type BookingLock struct {
	Key        string    `gorm:"type:varchar(128);primaryKey"`
	Holder     string    `gorm:"type:varchar(64);not null"`
	AcquiredAt time.Time `gorm:"not null"`
}

// TableName returns the database table name for BookingLock.
func (BookingLock) TableName() string { return "booking_locks" }
