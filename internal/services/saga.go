// Package services – booking saga
//
// Every confirmed or cancelled booking owns a set of outbox rows
// (side_effects), written in the same transaction as the status change. This
// file runs those steps after commit and retries failed ones from the
// Reconciler. Each step is idempotent:
//
//   - calendar_sync: the provider event id is derived from the booking id,
//     and a booking that already has an event ref is skipped
//   - reminder_*:    the reminder scheduler ignores a second (booking, role)
//   - notify_*:      at-least-once; a retried message may be delivered twice
//
// The post-commit dispatch and every Reconciler race for the same rows, so a
// step runs only after its row was claimed (see repo.ClaimSideEffect).
// Confirmation steps re-read the booking first and are dropped once it has
// been cancelled.
//
// Step failures are logged with booking_id, provider, operation and attempt,
// recorded on the outbox row, and never reach the booking caller.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/slotbook/internal/calendar"
	"github.com/tbourn/slotbook/internal/domain"
	"github.com/tbourn/slotbook/internal/notify"
	"github.com/tbourn/slotbook/internal/repo"
)

const (
	sideEffectBaseBackoff = 30 * time.Second
	sideEffectMaxBackoff  = time.Hour
)

// runSideEffects runs every step in effects for b that this process manages
// to claim. Outcomes are recorded on the outbox rows.
func (s *BookingService) runSideEffects(ctx context.Context, b *domain.Booking, effects []domain.SideEffect) {
	for _, e := range effects {
		if _, err := s.runClaimed(ctx, b, e); err != nil {
			s.Logger.Debug().Err(err).Str("booking_id", b.ID).Str("operation", string(e.Step)).Msg("side effect not completed")
		}
	}
}

// runClaimed claims e and, if the claim succeeds, runs it for b. It reports
// whether the step was claimed and, if so, the step's error.
func (s *BookingService) runClaimed(ctx context.Context, b *domain.Booking, e domain.SideEffect) (bool, error) {
	now := s.now()
	claimed, err := repo.ClaimSideEffect(ctx, s.DB, e.ID, now, s.sideEffectLease())
	if err != nil || !claimed {
		return false, err
	}

	if isConfirmationStep(e.Step) {
		current, err := repo.GetBooking(ctx, s.DB, b.ID)
		if err != nil {
			s.record(ctx, b, e, err)
			return true, err
		}
		if current.Status == domain.BookingCancelled {
			// Nothing left to confirm or remind about.
			return true, repo.RecordSideEffectAttempt(ctx, s.DB, e.ID, nil, now, now)
		}
	}
	return true, s.attempt(ctx, b, e)
}

// sideEffectLease is how long a claimed step is reserved for its worker.
func (s *BookingService) sideEffectLease() time.Duration {
	return 2 * s.stepTimeout()
}

// attempt runs one step with its own timeout and records the result.
func (s *BookingService) attempt(ctx context.Context, b *domain.Booking, e domain.SideEffect) error {
	sctx, cancel := context.WithTimeout(ctx, s.stepTimeout())
	err := s.runStep(sctx, b, e.Step)
	cancel()
	s.record(ctx, b, e, err)
	return err
}

// record logs, counts and stores the outcome of one attempt of e.
func (s *BookingService) record(ctx context.Context, b *domain.Booking, e domain.SideEffect, err error) {
	now := s.now()
	result := "ok"
	if err != nil {
		result = "error"
		s.Logger.Warn().Err(err).
			Str("booking_id", b.ID).
			Str("provider", providerFor(b, e.Step)).
			Str("operation", string(e.Step)).
			Int("attempt", e.Attempts+1).
			Msg("side effect failed")
	}
	sideEffectAttempts.WithLabelValues(string(e.Step), result).Inc()

	next := now.Add(retryDelay(e.Attempts + 1))
	if rerr := repo.RecordSideEffectAttempt(ctx, s.DB, e.ID, err, next, now); rerr != nil {
		s.Logger.Error().Err(rerr).Str("booking_id", b.ID).Str("operation", string(e.Step)).Msg("record side effect failed")
	}
}

func providerFor(b *domain.Booking, step domain.SideEffectStep) string {
	if step != domain.StepCalendarSync {
		return "notify"
	}
	if b.ExternalProvider != nil {
		return *b.ExternalProvider
	}
	return "calendar"
}

// retryDelay doubles from the base delay per attempt, capped.
func retryDelay(attempts int) time.Duration {
	d := sideEffectBaseBackoff
	for i := 1; i < attempts && d < sideEffectMaxBackoff; i++ {
		d *= 2
	}
	if d > sideEffectMaxBackoff {
		return sideEffectMaxBackoff
	}
	return d
}

// runStep performs a single saga step for b.
func (s *BookingService) runStep(ctx context.Context, b *domain.Booking, step domain.SideEffectStep) error {
	switch step {
	case domain.StepCalendarSync:
		return s.syncCalendar(ctx, b)
	case domain.StepReminderRequester:
		return s.scheduleReminder(ctx, b, notify.RoleRequester, b.RequesterEmail)
	case domain.StepReminderAssignee:
		return s.scheduleReminder(ctx, b, notify.RoleAssignee, b.AssignedUserID)
	case domain.StepNotifyRequester:
		return s.notify(ctx, b, b.RequesterEmail, notify.TemplateBookingConfirmed)
	case domain.StepNotifyAssignee:
		return s.notify(ctx, b, b.AssignedUserID, notify.TemplateBookingAssigned)
	case domain.StepCancelRequester:
		return s.notify(ctx, b, b.RequesterEmail, notify.TemplateBookingCancelled)
	case domain.StepCancelAssignee:
		return s.notify(ctx, b, b.AssignedUserID, notify.TemplateBookingCancelled)
	default:
		return fmt.Errorf("unknown side effect step %q", step)
	}
}

// syncCalendar creates the assignee's calendar event. On failure the booking
// is flagged CalendarSyncFailed; it stays confirmed either way.
func (s *BookingService) syncCalendar(ctx context.Context, b *domain.Booking) error {
	if b.ExternalEventRef != nil || s.Calendars == nil {
		return nil
	}
	src, err := s.Calendars.SourceFor(ctx, b.AssignedUserID)
	if errors.Is(err, calendar.ErrNoSource) {
		return nil
	}
	if err != nil {
		s.flagCalendarFailure(ctx, b)
		return err
	}

	ev, err := src.CreateEvent(ctx, b.AssignedUserID, calendar.EventRequest{
		Window:         b.Window(),
		Title:          fmt.Sprintf("Meeting with %s", b.RequesterName),
		Description:    b.Notes,
		Attendees:      []string{b.RequesterEmail},
		IdempotencyKey: calendar.IdempotencyKey(b.ID),
	})
	if err != nil {
		provider := src.Provider()
		b.ExternalProvider = &provider
		s.flagCalendarFailure(ctx, b)
		return err
	}

	if err := repo.SetCalendarResult(context.WithoutCancel(ctx), s.DB, b.ID, &ev.Ref, &ev.Provider); err != nil {
		return err
	}
	b.ExternalEventRef = &ev.Ref
	b.ExternalProvider = &ev.Provider
	b.CalendarSyncFailed = false
	return nil
}

func (s *BookingService) flagCalendarFailure(ctx context.Context, b *domain.Booking) {
	b.CalendarSyncFailed = true
	if err := repo.SetCalendarResult(context.WithoutCancel(ctx), s.DB, b.ID, nil, nil); err != nil {
		s.Logger.Error().Err(err).Str("booking_id", b.ID).Msg("flag calendar sync failure")
	}
}

func (s *BookingService) scheduleReminder(ctx context.Context, b *domain.Booking, role, recipient string) error {
	if s.Reminders == nil {
		return nil
	}
	lead := s.Config.ReminderLead
	if lead <= 0 {
		lead = 24 * time.Hour
	}
	sendAt := b.StartAt.Add(-lead)
	if now := s.now(); sendAt.Before(now) {
		sendAt = now
	}
	return s.Reminders.ScheduleReminder(ctx, notify.Reminder{
		BookingID: b.ID,
		Role:      role,
		Recipient: recipient,
		Template:  notify.TemplateReminder,
		SendAt:    sendAt,
		Payload:   bookingPayload(b),
	})
}

func (s *BookingService) notify(ctx context.Context, b *domain.Booking, recipient, template string) error {
	if s.Notifier == nil {
		return nil
	}
	return s.Notifier.Notify(ctx, notify.Notification{
		Recipient: recipient,
		Template:  template,
		Data:      bookingPayload(b),
	})
}

func bookingPayload(b *domain.Booking) map[string]any {
	return map[string]any{
		"booking_id":      b.ID,
		"booking_link_id": b.BookingLinkID,
		"assignee":        b.AssignedUserID,
		"requester_name":  b.RequesterName,
		"requester_email": b.RequesterEmail,
		"start":           b.StartAt.UTC().Format(time.RFC3339),
		"end":             b.EndAt.UTC().Format(time.RFC3339),
		"timezone":        b.RequesterTimezone,
	}
}

// Reconciler retries outbox steps that failed or were never run, for example
// because the process stopped between commit and dispatch.
type Reconciler struct {
	Bookings  *BookingService
	BatchSize int
	Logger    zerolog.Logger
}

// RunOnce retries due steps and reports how many succeeded and failed. Steps
// claimed by another worker in the meantime are not counted.
func (r *Reconciler) RunOnce(ctx context.Context) (done, failed int, err error) {
	s := r.Bookings
	batch := r.BatchSize
	if batch <= 0 {
		batch = 100
	}
	maxAttempts := s.Config.MaxSideEffectAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}

	due, err := repo.ListRetryableSideEffects(ctx, s.DB, s.now(), maxAttempts, batch)
	if err != nil {
		return 0, 0, err
	}
	bookings := map[string]*domain.Booking{}
	for _, e := range due {
		b, ok := bookings[e.BookingID]
		if !ok {
			b, err = repo.GetBooking(ctx, s.DB, e.BookingID)
			if err != nil {
				return done, failed, err
			}
			bookings[e.BookingID] = b
		}
		claimed, err := s.runClaimed(ctx, b, e)
		switch {
		case !claimed && err != nil:
			return done, failed, err
		case !claimed:
		case err != nil:
			failed++
		default:
			done++
		}
	}
	return done, failed, nil
}

func isConfirmationStep(step domain.SideEffectStep) bool {
	for _, st := range domain.ConfirmationSteps {
		if st == step {
			return true
		}
	}
	return false
}

// Run calls RunOnce every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		done, failed, err := r.RunOnce(ctx)
		if err != nil {
			r.Logger.Error().Err(err).Msg("reconcile failed")
			continue
		}
		if done+failed > 0 {
			r.Logger.Info().Int("done", done).Int("failed", failed).Msg("reconciled side effects")
		}
	}
}
