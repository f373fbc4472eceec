// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are stable, lowercase snake_case strings returned in the `code` field
// of ErrorResponse. Booking rejections additionally carry the business
// reason (Conflict, OutsideWorkingHours, ...) in `reason`.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "slot_unavailable",
//	  "reason": "Conflict",
//	  "message": "Conflict: user u1"
//	}
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Booking-specific:
	ErrCodeInvalidSlot     = "invalid_slot"     // request fails link validation
	ErrCodeSlotUnavailable = "slot_unavailable" // nobody can take the slot
	ErrCodeContention      = "contention"       // locks not acquired in time; retry
	ErrCodeInvalidToken    = "invalid_token"
	ErrCodeNotCancellable  = "not_cancellable"
)
