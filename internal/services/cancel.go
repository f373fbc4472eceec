package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/tbourn/slotbook/internal/assignment"
	"github.com/tbourn/slotbook/internal/domain"
	"github.com/tbourn/slotbook/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Cancel cancels bookingID on presentation of its cancel token. The
// assignee's rotation load is released and pending reminders are cancelled
// in the same transaction; cancellation notices are sent after commit.
func (s *BookingService) Cancel(ctx context.Context, bookingID, token string) (*domain.Booking, error) {
	tr := otel.Tracer("services/BookingService")
	ctx, span := tr.Start(ctx, "Cancel", trace.WithAttributes(attribute.String("booking.id", bookingID)))
	defer span.End()

	if s.Tokens == nil {
		return nil, ErrCancelDisabled
	}
	id, err := s.Tokens.Verify(token)
	if err != nil {
		return nil, err
	}
	if id != bookingID {
		return nil, ErrInvalidCancelToken
	}

	current, err := repo.GetBooking(ctx, s.DB, bookingID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	keys := []string{repo.LinkLockKey(current.BookingLinkID), repo.UserLockKey(current.AssignedUserID)}

	var (
		booking *domain.Booking
		effects []domain.SideEffect
	)
	now := s.now()
	err = repo.InLockTx(ctx, s.DB, func(tx *gorm.DB) error {
		if err := repo.AcquireLocks(ctx, tx, s.holder(), s.lockTimeout(), keys...); err != nil {
			return err
		}
		if err := repo.CancelBooking(ctx, tx, bookingID, now); errors.Is(err, repo.ErrNotFound) {
			return ErrNotCancellable
		} else if err != nil {
			return err
		}

		link, err := repo.GetLink(ctx, tx, current.BookingLinkID)
		if err != nil {
			return err
		}
		if strategy, err := assignment.StrategyFor(link.AssignmentMethod); err == nil && assignment.Uses(strategy) {
			state, err := repo.LoadRotation(ctx, tx, link.ID)
			if err != nil {
				return err
			}
			if state.Version > 0 && assignment.Release(strategy, state, current.AssignedUserID) {
				if err := repo.SaveRotation(ctx, tx, state); err != nil {
					return err
				}
			}
		}

		if _, err := repo.CancelReminders(ctx, tx, bookingID, now); err != nil {
			return err
		}
		rows, err := repo.EnqueueSideEffects(ctx, tx, bookingID, domain.CancellationSteps, now)
		if err != nil {
			return err
		}
		b, err := repo.GetBooking(ctx, tx, bookingID)
		if err != nil {
			return err
		}
		booking, effects = b, rows
		return nil
	})
	if repo.IsLockBusy(err) {
		return nil, ErrContention
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.Logger.Info().Str("booking_id", booking.ID).Msg("booking cancelled")
	bgctx := context.WithoutCancel(ctx)
	saga := *booking
	s.dispatch(func() { s.runSideEffects(bgctx, &saga, effects) })
	return booking, nil
}
