package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/slotbook/internal/repo"
)

// Dispatcher delivers due reminders from the reminders table.
type Dispatcher struct {
	DB     *gorm.DB
	Sender Sender
	Logger zerolog.Logger

	BatchSize    int
	MaxAttempts  int
	RetryBackoff time.Duration

	Now func() time.Time
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

// RunOnce claims due reminders and sends them. It returns how many were
// delivered; individual send failures are recorded, not returned.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	batch := d.BatchSize
	if batch <= 0 {
		batch = 100
	}
	maxAttempts := d.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	backoff := d.RetryBackoff
	if backoff <= 0 {
		backoff = time.Minute
	}

	now := d.now()
	due, err := repo.ClaimDueReminders(ctx, d.DB, now, batch)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, r := range due {
		n := Notification{Recipient: r.Recipient, Template: r.Template, Data: r.Payload}
		if serr := d.Sender.Notify(ctx, n); serr != nil {
			d.Logger.Warn().Err(serr).
				Str("booking_id", r.BookingID).
				Str("operation", "reminder").
				Int("attempt", r.Attempts).
				Msg("reminder delivery failed")
			retryAt := now.Add(backoff * time.Duration(r.Attempts))
			if err := repo.MarkReminderFailed(ctx, d.DB, r, serr, maxAttempts, retryAt, d.now()); err != nil {
				return sent, err
			}
			continue
		}
		if err := repo.MarkReminderSent(ctx, d.DB, r.ID, d.now()); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

// Run calls RunOnce every interval until ctx is done.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if n, err := d.RunOnce(ctx); err != nil {
			d.Logger.Error().Err(err).Msg("reminder dispatch failed")
		} else if n > 0 {
			d.Logger.Debug().Int("sent", n).Msg("reminders dispatched")
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
