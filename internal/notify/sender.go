// Package notify delivers booking notifications and reminders.
//
// Senders are best-effort collaborators of the booking saga: callers record
// failures and retry later, so a Sender only needs to report whether one
// delivery attempt succeeded.
package notify

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// Templates used by the booking saga.
const (
	TemplateBookingConfirmed = "booking_confirmed"
	TemplateBookingAssigned  = "booking_assigned"
	TemplateBookingCancelled = "booking_cancelled"
	TemplateReminder         = "booking_reminder"
)

// ErrNoRecipient is returned when a notification has no recipient.
var ErrNoRecipient = errors.New("notification has no recipient")

// Notification is one message addressed to one recipient.
type Notification struct {
	Recipient string         `json:"recipient"`
	Template  string         `json:"template"`
	Data      map[string]any `json:"data,omitempty"`
}

// Sender delivers notifications.
type Sender interface {
	Notify(ctx context.Context, n Notification) error
}

// LogSender writes notifications to the log instead of delivering them. It
// is the default sender when no broker is configured.
type LogSender struct {
	Logger zerolog.Logger
}

// Notify implements Sender.
func (s LogSender) Notify(_ context.Context, n Notification) error {
	if n.Recipient == "" {
		return ErrNoRecipient
	}
	s.Logger.Info().
		Str("template", n.Template).
		Str("recipient", n.Recipient).
		Interface("data", n.Data).
		Msg("notification")
	return nil
}
