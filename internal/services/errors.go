// Package services implements the booking engine: slot validation, team
// assignment, the locked reservation transaction and the post-commit saga.
// This file centralizes the service-level errors so handlers can translate
// them into HTTP responses with errors.Is and errors.As.
package services

import (
	"errors"
	"fmt"

	"github.com/tbourn/slotbook/internal/availability"
)

// Reason is the business reason a booking request was rejected.
type Reason string

// Validation reasons.
const (
	ReasonDurationMismatch Reason = "DurationMismatch"
	ReasonOutOfWindow      Reason = "OutOfWindow"
	ReasonLinkInactive     Reason = "LinkInactive"
)

// Availability reasons.
const (
	ReasonConflict            Reason = Reason(availability.Conflict)
	ReasonOutsideWorkingHours Reason = Reason(availability.OutsideWorkingHours)
	ReasonLeadTimeViolation   Reason = Reason(availability.LeadTimeViolation)
	ReasonDailyCapReached     Reason = Reason(availability.DailyCapReached)
	ReasonNoAvailability      Reason = "NoAvailability"
)

// Rejection is a definitive, non-retryable answer to a booking request.
// Two rejections match under errors.Is when their reasons are equal.
type Rejection struct {
	Reason Reason
	Detail string
}

func (r *Rejection) Error() string {
	if r.Detail == "" {
		return string(r.Reason)
	}
	return fmt.Sprintf("%s: %s", r.Reason, r.Detail)
}

// Is matches rejections by reason.
func (r *Rejection) Is(target error) bool {
	t, ok := target.(*Rejection)
	return ok && t.Reason == r.Reason
}

// Validation reports whether the rejection is about the request itself
// rather than the state of anyone's calendar.
func (r *Rejection) Validation() bool {
	switch r.Reason {
	case ReasonDurationMismatch, ReasonOutOfWindow, ReasonLinkInactive:
		return true
	}
	return false
}

func reject(reason Reason, format string, args ...any) *Rejection {
	return &Rejection{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Rejection sentinels for errors.Is.
var (
	ErrDurationMismatch    = &Rejection{Reason: ReasonDurationMismatch}
	ErrOutOfWindow         = &Rejection{Reason: ReasonOutOfWindow}
	ErrLinkInactive        = &Rejection{Reason: ReasonLinkInactive}
	ErrConflict            = &Rejection{Reason: ReasonConflict}
	ErrOutsideWorkingHours = &Rejection{Reason: ReasonOutsideWorkingHours}
	ErrLeadTimeViolation   = &Rejection{Reason: ReasonLeadTimeViolation}
	ErrDailyCapReached     = &Rejection{Reason: ReasonDailyCapReached}
	ErrNoAvailability      = &Rejection{Reason: ReasonNoAvailability}
)

var (
	// ErrContention is returned when the booking locks could not be taken
	// before the lock timeout. The request is safe to retry.
	ErrContention = errors.New("booking contention, retry later")

	// ErrLinkNotFound indicates the booking link does not exist.
	ErrLinkNotFound = errors.New("booking link not found")

	// ErrBookingNotFound indicates the booking does not exist.
	ErrBookingNotFound = errors.New("booking not found")

	// ErrInvalidRequester is returned when the requester has no name or email.
	ErrInvalidRequester = errors.New("requester name and email are required")

	// ErrInvalidCancelToken is returned when a cancel token is malformed,
	// expired, or issued for another booking.
	ErrInvalidCancelToken = errors.New("invalid cancel token")

	// ErrNotCancellable is returned when the booking is already cancelled or
	// failed.
	ErrNotCancellable = errors.New("booking cannot be cancelled")

	// ErrCancelDisabled is returned when no cancel token secret is configured.
	ErrCancelDisabled = errors.New("cancellation is not enabled")
)
