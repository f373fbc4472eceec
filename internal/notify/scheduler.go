package notify

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/slotbook/internal/domain"
	"github.com/tbourn/slotbook/internal/repo"
)

// Reminder roles. A booking gets at most one reminder per role.
const (
	RoleRequester = "requester"
	RoleAssignee  = "assignee"
)

// Reminder is a notification to deliver at SendAt.
type Reminder struct {
	BookingID string
	Role      string
	Recipient string
	Template  string
	SendAt    time.Time
	Payload   map[string]any
}

// ReminderScheduler accepts reminders for later delivery. Scheduling the
// same (BookingID, Role) twice is not an error.
type ReminderScheduler interface {
	ScheduleReminder(ctx context.Context, r Reminder) error
}

// DBScheduler stores reminders in the reminders table for the Dispatcher.
type DBScheduler struct {
	DB *gorm.DB
}

// ScheduleReminder implements ReminderScheduler.
func (s *DBScheduler) ScheduleReminder(ctx context.Context, r Reminder) error {
	if r.Recipient == "" {
		return ErrNoRecipient
	}
	tmpl := r.Template
	if tmpl == "" {
		tmpl = TemplateReminder
	}
	row := &domain.Reminder{
		BookingID: r.BookingID,
		Role:      r.Role,
		Recipient: r.Recipient,
		Template:  tmpl,
		Payload:   r.Payload,
		SendAt:    r.SendAt.UTC(),
	}
	err := repo.CreateReminder(ctx, s.DB, row)
	if errors.Is(err, repo.ErrDuplicate) {
		return nil
	}
	return err
}
