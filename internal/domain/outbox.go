package domain

import "time"

// SideEffectStep names one post-commit step of the booking saga. Each step is
// idempotent so the reconciler can rerun it after a failure.
type SideEffectStep string

const (
	StepCalendarSync      SideEffectStep = "calendar_sync"
	StepReminderRequester SideEffectStep = "reminder_requester"
	StepReminderAssignee  SideEffectStep = "reminder_assignee"
	StepNotifyRequester   SideEffectStep = "notify_requester"
	StepNotifyAssignee    SideEffectStep = "notify_assignee"
	StepCancelRequester   SideEffectStep = "cancel_notify_requester"
	StepCancelAssignee    SideEffectStep = "cancel_notify_assignee"
)

// ConfirmationSteps are enqueued in the same transaction as a new booking.
var ConfirmationSteps = []SideEffectStep{
	StepCalendarSync,
	StepReminderRequester,
	StepReminderAssignee,
	StepNotifyRequester,
	StepNotifyAssignee,
}

// CancellationSteps are enqueued when a booking is cancelled.
var CancellationSteps = []SideEffectStep{
	StepCancelRequester,
	StepCancelAssignee,
}

// SideEffectStatus is the outcome of the latest attempt of a step.
type SideEffectStatus string

const (
	SideEffectPending SideEffectStatus = "pending"
	SideEffectRunning SideEffectStatus = "running" // claimed; NextAttemptAt is the lease expiry
	SideEffectDone    SideEffectStatus = "done"
	SideEffectFailed  SideEffectStatus = "failed"
)

// SideEffect is an outbox row for a single saga step.
type SideEffect struct {
	ID            string           `json:"id"              gorm:"type:char(36);primaryKey"`
	BookingID     string           `json:"booking_id"      gorm:"type:char(36);not null;uniqueIndex:ux_side_effect_booking_step,priority:1"`
	Step          SideEffectStep   `json:"step"            gorm:"type:varchar(32);not null;uniqueIndex:ux_side_effect_booking_step,priority:2"`
	Status        SideEffectStatus `json:"status"          gorm:"type:varchar(16);not null;index"`
	Attempts      int              `json:"attempts"        gorm:"not null"`
	LastError     string           `json:"last_error"      gorm:"type:text"`
	NextAttemptAt time.Time        `json:"next_attempt_at" gorm:"not null;index"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// TableName returns the database table name for SideEffect.
func (SideEffect) TableName() string { return "side_effects" }

// ReminderStatus tracks delivery of a scheduled reminder.
type ReminderStatus string

const (
	ReminderPending   ReminderStatus = "pending"
	ReminderSending   ReminderStatus = "sending"
	ReminderSent      ReminderStatus = "sent"
	ReminderFailed    ReminderStatus = "failed"
	ReminderCancelled ReminderStatus = "cancelled"
)

// Reminder is a message due at SendAt. Role distinguishes the requester and
// assignee copies so a booking has at most one reminder per role.
type Reminder struct {
	ID        string         `json:"id"         gorm:"type:char(36);primaryKey"`
	BookingID string         `json:"booking_id" gorm:"type:char(36);not null;uniqueIndex:ux_reminder_booking_role,priority:1"`
	Role      string         `json:"role"       gorm:"type:varchar(16);not null;uniqueIndex:ux_reminder_booking_role,priority:2"`
	Recipient string         `json:"recipient"  gorm:"type:varchar(255);not null"`
	Template  string         `json:"template"   gorm:"type:varchar(64);not null"`
	Payload   map[string]any `json:"payload"    gorm:"type:text;serializer:json"`
	SendAt    time.Time      `json:"send_at"    gorm:"not null;index"`
	Status    ReminderStatus `json:"status"     gorm:"type:varchar(16);not null;index"`
	Attempts  int            `json:"attempts"   gorm:"not null"`
	LastError string         `json:"last_error" gorm:"type:text"`
	SentAt    *time.Time     `json:"sent_at,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// TableName returns the database table name for Reminder.
func (Reminder) TableName() string { return "reminders" }
