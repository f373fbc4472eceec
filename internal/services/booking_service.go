// Package services – BookingService
//
// This file implements BookingService.CreateBooking, the booking
// orchestrator. A request is validated against its link, external busy data
// is fetched without holding any lock, and then a short database transaction
// takes the link and member locks, re-reads internal bookings, runs team
// assignment, and commits the booking, the rotation ledger and the saga's
// outbox rows together. Calendar, reminder and notification work happens
// after commit (see saga.go) and never changes the booking result.
//
// Observability: CreateBooking is OpenTelemetry-instrumented and its outcome
// is counted in Prometheus (metrics.go).
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/slotbook/internal/assignment"
	"github.com/tbourn/slotbook/internal/availability"
	"github.com/tbourn/slotbook/internal/calendar"
	"github.com/tbourn/slotbook/internal/config"
	"github.com/tbourn/slotbook/internal/domain"
	"github.com/tbourn/slotbook/internal/lock"
	"github.com/tbourn/slotbook/internal/notify"
	"github.com/tbourn/slotbook/internal/repo"
	"github.com/tbourn/slotbook/internal/utils"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"golang.org/x/text/cases"
)

const (
	minRetryBackoff = 10 * time.Millisecond
	maxRetryBackoff = 200 * time.Millisecond
)

// errIdempotentRace reports that a concurrent request with the same
// idempotency key committed first.
var errIdempotentRace = errors.New("idempotency key claimed concurrently")

// Requester identifies the person making a booking.
type Requester struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Timezone string `json:"timezone,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

// CreateBookingInput is a request to reserve Window on LinkID.
type CreateBookingInput struct {
	LinkID         string
	Window         domain.TimeWindow
	Requester      Requester
	IdempotencyKey string
}

// CreateBookingResult is a confirmed booking. Replayed is set when the
// booking was produced by an earlier request with the same idempotency key.
type CreateBookingResult struct {
	Booking     *domain.Booking
	Replayed    bool
	CancelToken string
}

// FrontLocker is an optional cross-instance lock taken before the database
// transaction so obviously contended requests fail fast.
type FrontLocker interface {
	TryLock(ctx context.Context, key string) (lock.Lease, error)
	Unlock(ctx context.Context, lease lock.Lease) error
}

// BookingService orchestrates booking creation, cancellation and lookup.
type BookingService struct {
	DB        *gorm.DB
	Calendars calendar.Resolver       // nil: no external busy data or events
	Reminders notify.ReminderScheduler // nil: reminders are skipped
	Notifier  notify.Sender            // nil: notifications are skipped
	Locker    FrontLocker              // nil: database locks only
	Tokens    *TokenSigner             // nil: cancellation disabled

	Config         config.BookingConfig
	IdempotencyTTL time.Duration
	Logger         zerolog.Logger

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
	// Dispatch runs post-commit work. Defaults to a new goroutine.
	Dispatch func(func())
	// Holder identifies this instance in booking_locks rows.
	Holder string
}

func (s *BookingService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *BookingService) dispatch(f func()) {
	if s.Dispatch != nil {
		s.Dispatch(f)
		return
	}
	go f()
}

func (s *BookingService) holder() string {
	if s.Holder != "" {
		return s.Holder
	}
	return "slotbook"
}

// reservation carries everything the critical section needs.
type reservation struct {
	link      *domain.BookingLink
	strategy  assignment.Strategy
	window    domain.TimeWindow
	lookup    domain.TimeWindow
	requester Requester
	rules     map[string]domain.AvailabilityRule
	external  []domain.BusyInterval
	keys      []string
	idemKey   string
	now       time.Time
}

// CreateBooking validates in, reserves the slot and returns the confirmed
// booking. Business outcomes are returned as *Rejection; lock exhaustion as
// ErrContention. Side-effect failures are never returned.
func (s *BookingService) CreateBooking(ctx context.Context, in CreateBookingInput) (*CreateBookingResult, error) {
	tr := otel.Tracer("services/BookingService")
	ctx, span := tr.Start(ctx, "CreateBooking",
		trace.WithAttributes(
			attribute.String("link.id", in.LinkID),
			attribute.String("window.start", in.Window.Start.UTC().Format(time.RFC3339)),
		),
	)
	defer span.End()

	res, err := s.createBooking(ctx, in)
	bookingOutcomes.WithLabelValues(outcomeLabel(res, err)).Inc()
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(
		attribute.String("booking.id", res.Booking.ID),
		attribute.String("booking.assignee", res.Booking.AssignedUserID),
		attribute.Bool("booking.replayed", res.Replayed),
	)
	return res, nil
}

func outcomeLabel(res *CreateBookingResult, err error) string {
	var rej *Rejection
	switch {
	case err == nil && res.Replayed:
		return "replayed"
	case err == nil:
		return "confirmed"
	case errors.As(err, &rej):
		return string(rej.Reason)
	case errors.Is(err, ErrContention):
		return "contention"
	default:
		return "error"
	}
}

func (s *BookingService) createBooking(ctx context.Context, in CreateBookingInput) (*CreateBookingResult, error) {
	req, err := normalizeRequester(in.Requester)
	if err != nil {
		return nil, err
	}
	now := s.now()
	w := domain.TimeWindow{Start: in.Window.Start.UTC(), End: in.Window.End.UTC()}

	if in.IdempotencyKey != "" {
		if res, err := s.replay(ctx, req.Email, in.LinkID, in.IdempotencyKey, now); err != nil || res != nil {
			return res, err
		}
	}

	link, err := repo.GetLink(ctx, s.DB, in.LinkID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrLinkNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.validate(link, w, now); err != nil {
		return nil, err
	}

	strategy, err := assignment.StrategyFor(link.AssignmentMethod)
	if err != nil {
		return nil, err
	}
	members := link.Members()
	rules, err := repo.ListRules(ctx, s.DB, members)
	if err != nil {
		return nil, err
	}
	rules = s.usableRules(rules)
	lookup, err := lookupWindow(w, members, rules)
	if err != nil {
		return nil, err
	}
	external, err := s.gatherBusy(ctx, members, lookup)
	if err != nil {
		return nil, err
	}

	keys := []string{repo.LinkLockKey(link.ID)}
	for _, m := range members {
		keys = append(keys, repo.UserLockKey(m))
	}
	p := reservation{
		link:      link,
		strategy:  strategy,
		window:    w,
		lookup:    lookup,
		requester: req,
		rules:     rules,
		external:  external,
		keys:      keys,
		idemKey:   in.IdempotencyKey,
		now:       now,
	}

	release, err := s.frontLock(ctx, keys)
	if err != nil {
		return nil, err
	}
	booking, effects, err := s.reserveWithRetry(ctx, p)
	release()
	if errors.Is(err, errIdempotentRace) {
		res, rerr := s.replay(ctx, req.Email, link.ID, in.IdempotencyKey, now)
		if rerr == nil && res == nil {
			rerr = fmt.Errorf("idempotency record for key %q vanished", in.IdempotencyKey)
		}
		return res, rerr
	}
	if err != nil {
		return nil, err
	}

	s.Logger.Info().
		Str("booking_id", booking.ID).
		Str("link_id", link.ID).
		Str("assignee", booking.AssignedUserID).
		Time("start", booking.StartAt).
		Msg("booking confirmed")

	bgctx := context.WithoutCancel(ctx)
	saga := *booking
	s.dispatch(func() { s.runSideEffects(bgctx, &saga, effects) })

	return s.result(booking, false), nil
}

func (s *BookingService) result(b *domain.Booking, replayed bool) *CreateBookingResult {
	res := &CreateBookingResult{Booking: b, Replayed: replayed}
	if s.Tokens != nil {
		if tok, err := s.Tokens.Issue(b); err == nil {
			res.CancelToken = tok
		} else {
			s.Logger.Warn().Err(err).Str("booking_id", b.ID).Msg("issue cancel token failed")
		}
	}
	return res
}

// replay returns the booking recorded for an idempotency key, or nil when
// the key is unused.
func (s *BookingService) replay(ctx context.Context, email, linkID, key string, now time.Time) (*CreateBookingResult, error) {
	rec, err := repo.GetIdempotency(ctx, s.DB, email, linkID, key, now)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	b, err := repo.GetBooking(ctx, s.DB, rec.BookingID)
	if err != nil {
		return nil, err
	}
	return s.result(b, true), nil
}

// validate applies the link-level checks in order: active, horizon, duration.
func (s *BookingService) validate(link *domain.BookingLink, w domain.TimeWindow, now time.Time) error {
	if !link.IsActive {
		return reject(ReasonLinkInactive, "link %s is not accepting bookings", link.ID)
	}
	if w.Start.Before(now) {
		return reject(ReasonOutOfWindow, "window starts in the past")
	}
	if link.AvailabilityWindowDays > 0 {
		horizon := now.AddDate(0, 0, link.AvailabilityWindowDays)
		if w.End.After(horizon) {
			return reject(ReasonOutOfWindow, "window ends after %s", horizon.Format(time.RFC3339))
		}
	}
	diff := w.Duration() - link.Duration()
	if diff < 0 {
		diff = -diff
	}
	tol := s.Config.DurationTolerance
	if tol <= 0 {
		tol = time.Minute
	}
	if !w.Start.Before(w.End) || diff > tol {
		return reject(ReasonDurationMismatch, "want %d minutes, got %s", link.DurationMinutes, w.Duration())
	}
	return nil
}

// normalizeRequester trims the requester fields and folds the email so the
// idempotency scope does not depend on letter case.
func normalizeRequester(r Requester) (Requester, error) {
	r.Name = strings.Join(strings.Fields(r.Name), " ")
	r.Email = cases.Fold().String(strings.TrimSpace(r.Email))
	r.Timezone = strings.TrimSpace(r.Timezone)
	r.Notes = strings.TrimSpace(r.Notes)
	if r.Name == "" || r.Email == "" || !strings.Contains(r.Email, "@") {
		return r, ErrInvalidRequester
	}
	if r.Timezone != "" {
		if _, err := time.LoadLocation(r.Timezone); err != nil {
			return r, fmt.Errorf("%w: unknown timezone %q", ErrInvalidRequester, r.Timezone)
		}
	}
	return r, nil
}

// usableRules drops rules whose timezone cannot be loaded, logging each. Their
// users are then treated like users without a rule, so one misconfigured
// member does not fail a whole team link.
func (s *BookingService) usableRules(rules map[string]domain.AvailabilityRule) map[string]domain.AvailabilityRule {
	for id, r := range rules {
		if _, err := r.Location(); err != nil {
			s.Logger.Warn().Err(err).
				Str("user_id", id).
				Str("timezone", r.Timezone).
				Msg("ignoring availability rule with unknown timezone")
			delete(rules, id)
		}
	}
	return rules
}

// lookupWindow is the range of busy data every member's check needs.
func lookupWindow(w domain.TimeWindow, members []string, rules map[string]domain.AvailabilityRule) (domain.TimeWindow, error) {
	out := w
	for _, m := range members {
		rule, ok := rules[m]
		if !ok {
			continue
		}
		lw, err := availability.LookupWindow(w, rule)
		if err != nil {
			return domain.TimeWindow{}, err
		}
		out = out.Union(lw)
	}
	return out, nil
}

// gatherBusy collects the busy intervals that are not bookings: recurring
// blocks and external calendars. It runs before any lock is taken. Invalid
// recurring blocks and calendar read failures are logged and contribute no
// busy data.
func (s *BookingService) gatherBusy(ctx context.Context, members []string, lookup domain.TimeWindow) ([]domain.BusyInterval, error) {
	blocks, err := repo.ListRecurringBlocks(ctx, s.DB, members)
	if err != nil {
		return nil, err
	}
	busy, err := availability.ExpandRecurring(blocks, lookup)
	if err != nil {
		s.Logger.Warn().Err(err).Str("operation", "expand_recurring").Msg("skipping invalid recurring blocks")
	}
	if s.Calendars == nil {
		return busy, nil
	}

	results := make([][]domain.BusyInterval, len(members))
	var wg sync.WaitGroup
	for i, m := range members {
		wg.Add(1)
		go func(i int, userID string) {
			defer wg.Done()
			results[i] = s.externalBusy(ctx, userID, lookup)
		}(i, m)
	}
	wg.Wait()
	for _, r := range results {
		busy = append(busy, r...)
	}
	return busy, nil
}

func (s *BookingService) externalBusy(ctx context.Context, userID string, lookup domain.TimeWindow) []domain.BusyInterval {
	src, err := s.Calendars.SourceFor(ctx, userID)
	if errors.Is(err, calendar.ErrNoSource) {
		return nil
	}
	if err != nil {
		s.Logger.Warn().Err(err).Str("user_id", userID).Str("operation", "resolve_source").Msg("calendar source unavailable")
		return nil
	}
	cctx, cancel := context.WithTimeout(ctx, s.stepTimeout())
	defer cancel()
	busy, err := src.ListBusyIntervals(cctx, userID, lookup)
	if err != nil {
		s.Logger.Warn().Err(err).
			Str("user_id", userID).
			Str("provider", src.Provider()).
			Str("operation", "list_busy").
			Msg("calendar read failed")
		return nil
	}
	return busy
}

func (s *BookingService) stepTimeout() time.Duration {
	if s.Config.SideEffectTimeout > 0 {
		return s.Config.SideEffectTimeout
	}
	return 10 * time.Second
}

func (s *BookingService) lockTimeout() time.Duration {
	if s.Config.LockTimeout > 0 {
		return s.Config.LockTimeout
	}
	return 3 * time.Second
}

// frontLock takes the optional Redis leases for keys, waiting up to the
// lock timeout. Redis being unreachable is not an error: the database locks
// still serialize the critical section.
func (s *BookingService) frontLock(ctx context.Context, keys []string) (func(), error) {
	noop := func() {}
	if s.Locker == nil {
		return noop, nil
	}
	deadline := time.Now().Add(s.lockTimeout())
	backoff := minRetryBackoff
	for {
		leases, err := s.tryLockAll(ctx, keys)
		if err == nil {
			return func() {
				for _, l := range leases {
					_ = s.Locker.Unlock(context.WithoutCancel(ctx), l)
				}
			}, nil
		}
		if !errors.Is(err, lock.ErrHeld) {
			s.Logger.Warn().Err(err).Str("operation", "front_lock").Msg("front lock unavailable, using database locks only")
			return noop, nil
		}
		if time.Now().Add(backoff).After(deadline) {
			return nil, ErrContention
		}
		if err := sleepCtx(ctx, backoff); err != nil {
			return nil, ErrContention
		}
		backoff = nextBackoff(backoff)
	}
}

func (s *BookingService) tryLockAll(ctx context.Context, keys []string) ([]lock.Lease, error) {
	leases := make([]lock.Lease, 0, len(keys))
	for _, k := range keys {
		l, err := s.Locker.TryLock(ctx, k)
		if err != nil {
			for _, held := range leases {
				_ = s.Locker.Unlock(ctx, held)
			}
			return nil, err
		}
		leases = append(leases, l)
	}
	return leases, nil
}

// reserveWithRetry runs the critical section, retrying transient lock
// failures with backoff until the lock timeout elapses.
func (s *BookingService) reserveWithRetry(ctx context.Context, p reservation) (*domain.Booking, []domain.SideEffect, error) {
	start := time.Now()
	defer func() { reserveDuration.Observe(time.Since(start).Seconds()) }()

	deadline := start.Add(s.lockTimeout())
	backoff := minRetryBackoff
	for attempt := 1; ; attempt++ {
		b, effects, err := s.reserve(ctx, p)
		if err == nil || !retryable(ctx, err) {
			return b, effects, err
		}
		s.Logger.Debug().Err(err).Str("link_id", p.link.ID).Int("attempt", attempt).Msg("booking locks busy")
		if time.Now().Add(backoff).After(deadline) {
			return nil, nil, ErrContention
		}
		if err := sleepCtx(ctx, backoff); err != nil {
			return nil, nil, ErrContention
		}
		backoff = nextBackoff(backoff)
	}
}

// retryable reports whether a failed critical section may be rerun. A
// transaction deadline counts only while the caller's context is still live.
func retryable(ctx context.Context, err error) bool {
	if repo.IsLockBusy(err) || errors.Is(err, repo.ErrStaleRotation) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxRetryBackoff {
		return maxRetryBackoff
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// reserve is the critical section. Everything in it commits together or not
// at all: the booking, the rotation ledger, the outbox rows and the
// idempotency record.
func (s *BookingService) reserve(ctx context.Context, p reservation) (*domain.Booking, []domain.SideEffect, error) {
	txTimeout := s.Config.TxTimeout
	if txTimeout <= 0 {
		txTimeout = 5 * time.Second
	}
	txCtx, cancel := context.WithTimeout(ctx, txTimeout)
	defer cancel()

	var (
		booking *domain.Booking
		effects []domain.SideEffect
	)
	err := repo.InLockTx(txCtx, s.DB, func(tx *gorm.DB) error {
		if err := repo.AcquireLocks(txCtx, tx, s.holder(), s.lockTimeout(), p.keys...); err != nil {
			return err
		}

		var state *domain.RotationState
		if assignment.Uses(p.strategy) {
			st, err := repo.LoadRotation(txCtx, tx, p.link.ID)
			if err != nil {
				return err
			}
			state = st
		}

		members := p.link.Members()
		current, err := repo.ListActiveBookings(txCtx, tx, members, p.lookup)
		if err != nil {
			return err
		}
		busy := append(bookingBusy(current), p.external...)

		res, err := assignment.Select(p.strategy, *p.link, state, func(userID string) (availability.Verdict, error) {
			rule, ok := p.rules[userID]
			if !ok {
				return availability.Verdict{Reason: availability.OutsideWorkingHours}, nil
			}
			return availability.Check(p.now, p.window, rule, availability.OwnedBy(busy, userID))
		})
		if errors.Is(err, assignment.ErrNoneAvailable) {
			return rejectionFor(res.Attempts)
		}
		if err != nil {
			return err
		}

		b := &domain.Booking{
			ID:                uuid.NewString(),
			BookingLinkID:     p.link.ID,
			AssignedUserID:    res.Assigned.UserID,
			StartAt:           p.window.Start,
			EndAt:             p.window.End,
			Status:            domain.BookingPending,
			RequesterName:     p.requester.Name,
			RequesterEmail:    p.requester.Email,
			RequesterTimezone: p.requester.Timezone,
			Notes:             p.requester.Notes,
			CreatedAt:         p.now,
		}
		if err := repo.CreateBooking(txCtx, tx, b); err != nil {
			return err
		}
		if assignment.Advance(p.strategy, state, res.Assigned) {
			if err := repo.SaveRotation(txCtx, tx, state); err != nil {
				return err
			}
		}
		rows, err := repo.EnqueueSideEffects(txCtx, tx, b.ID, domain.ConfirmationSteps, p.now)
		if err != nil {
			return err
		}
		if p.idemKey != "" {
			_, err := repo.CreateIdempotency(txCtx, tx, p.requester.Email, p.link.ID, p.idemKey, b.ID, 201, s.idempotencyTTL())
			if errors.Is(err, repo.ErrDuplicate) {
				return errIdempotentRace
			}
			if err != nil {
				return err
			}
		}
		if err := repo.ConfirmBooking(txCtx, tx, b.ID); err != nil {
			return err
		}
		b.Status = domain.BookingConfirmed

		booking, effects = b, rows
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return booking, effects, nil
}

func (s *BookingService) idempotencyTTL() time.Duration {
	if s.IdempotencyTTL > 0 {
		return s.IdempotencyTTL
	}
	return 24 * time.Hour
}

// bookingBusy converts active bookings into internal busy intervals.
func bookingBusy(bookings []domain.Booking) []domain.BusyInterval {
	out := make([]domain.BusyInterval, 0, len(bookings))
	for _, b := range bookings {
		out = append(out, domain.BusyInterval{
			OwnerID:   b.AssignedUserID,
			Window:    b.Window(),
			Source:    domain.BusySource{Kind: domain.SourceInternal},
			BookingID: b.ID,
			Status:    b.Status,
		})
	}
	return out
}

// rejectionFor reports a single candidate's own reason, and NoAvailability
// for a team where nobody could take the slot.
func rejectionFor(attempts []assignment.Attempt) error {
	if len(attempts) == 1 {
		a := attempts[0]
		return reject(Reason(a.Verdict.Reason), "user %s", a.UserID)
	}
	return reject(ReasonNoAvailability, "%d candidates evaluated", len(attempts))
}

// Get returns a booking by id.
func (s *BookingService) Get(ctx context.Context, id string) (*domain.Booking, error) {
	tr := otel.Tracer("services/BookingService")
	ctx, span := tr.Start(ctx, "Get", trace.WithAttributes(attribute.String("booking.id", id)))
	defer span.End()

	b, err := repo.GetBooking(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrBookingNotFound
	}
	return b, err
}

// ListPage returns paginated bookings for a link.
func (s *BookingService) ListPage(ctx context.Context, linkID string, page, pageSize int) ([]domain.Booking, int64, error) {
	tr := otel.Tracer("services/BookingService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("link.id", linkID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	pg := utils.Page{Number: max(page, 1), Size: pageSize}
	if pg.Size <= 0 {
		pg.Size = 20
	}
	if _, err := repo.GetLink(ctx, s.DB, linkID); errors.Is(err, repo.ErrNotFound) {
		return nil, 0, ErrLinkNotFound
	} else if err != nil {
		return nil, 0, err
	}

	total, err := repo.CountLinkBookings(ctx, s.DB, linkID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Booking{}, 0, nil
	}
	items, err := repo.ListLinkBookingsPage(ctx, s.DB, linkID, pg.Offset(), pg.Size)
	return items, total, err
}

// ListStats returns the booking count and latest change for a link, used to
// build list ETags.
func (s *BookingService) ListStats(ctx context.Context, linkID string) (int64, *time.Time, error) {
	return repo.LinkBookingsStats(ctx, s.DB, linkID)
}
