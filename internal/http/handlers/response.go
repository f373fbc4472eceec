// Package handlers provides HTTP handler implementations for the public API.
//
// This file holds the response helpers. Every error leaves through fail()
// as an ErrorResponse, and service errors are mapped to status codes in one
// place (failService) so handlers stay thin.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/slotbook/internal/http/middleware"
	"github.com/tbourn/slotbook/internal/services"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"slot_unavailable"`
	// Business reason for booking rejections
	Reason string `json:"reason,omitempty" example:"Conflict"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"Conflict: user u1"`
}

// retryAfterSeconds is sent with 503 contention responses.
const retryAfterSeconds = "1"

func fail(c *gin.Context, status int, code, msg string) {
	failReason(c, status, code, "", msg)
}

func failReason(c *gin.Context, status int, code, reason, msg string) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Reason:    reason,
		Message:   msg,
	})
}

// Fail is the exported variant of fail() for router fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// failService translates a service error into the HTTP envelope. Unknown
// errors become 500 without leaking their text.
func failService(c *gin.Context, err error) {
	var rej *services.Rejection
	switch {
	case errors.As(err, &rej):
		status, code := http.StatusConflict, ErrCodeSlotUnavailable
		if rej.Validation() {
			status, code = http.StatusBadRequest, ErrCodeInvalidSlot
		}
		failReason(c, status, code, string(rej.Reason), rej.Error())
	case errors.Is(err, services.ErrContention):
		c.Header("Retry-After", retryAfterSeconds)
		fail(c, http.StatusServiceUnavailable, ErrCodeContention, "booking is busy, retry shortly")
	case errors.Is(err, services.ErrLinkNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "booking link not found")
	case errors.Is(err, services.ErrBookingNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "booking not found")
	case errors.Is(err, services.ErrInvalidRequester):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrInvalidCancelToken):
		fail(c, http.StatusForbidden, ErrCodeInvalidToken, "cancel token is invalid or expired")
	case errors.Is(err, services.ErrCancelDisabled):
		fail(c, http.StatusForbidden, ErrCodeForbidden, "cancellation is not enabled")
	case errors.Is(err, services.ErrNotCancellable):
		fail(c, http.StatusConflict, ErrCodeNotCancellable, "booking is not confirmed")
	default:
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
	}
}

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
