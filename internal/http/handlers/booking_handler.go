// Booking HTTP handlers.
//
// This file exposes the public booking endpoints:
//   - POST /links/{id}/bookings       (create, Idempotency-Key aware)
//   - GET  /links/{id}/bookings       (list, paginated, weak ETag)
//   - GET  /links/{id}/availability   (free slots for one day)
//   - GET  /bookings/{id}             (lookup)
//   - POST /bookings/{id}/cancel      (cancel with the signed token)
//
// Handlers validate input, call the booking service and translate results
// with failService.
package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/slotbook/internal/domain"
	"github.com/tbourn/slotbook/internal/http/middleware"
	"github.com/tbourn/slotbook/internal/services"
	"github.com/tbourn/slotbook/internal/utils"
)

// BookingService is the subset of services.BookingService the handlers use.
// Implementations must be safe for concurrent use and honor ctx.
type BookingService interface {
	CreateBooking(ctx context.Context, in services.CreateBookingInput) (*services.CreateBookingResult, error)
	Get(ctx context.Context, id string) (*domain.Booking, error)
	ListPage(ctx context.Context, linkID string, page, pageSize int) ([]domain.Booking, int64, error)
	ListStats(ctx context.Context, linkID string) (int64, *time.Time, error)
	Cancel(ctx context.Context, bookingID, token string) (*domain.Booking, error)
	AvailableSlots(ctx context.Context, linkID string, date time.Time, loc *time.Location) ([]services.Slot, error)
}

// Handlers groups the booking endpoints.
type Handlers struct {
	svc BookingService
}

// New returns Handlers bound to svc.
func New(svc BookingService) *Handlers {
	return &Handlers{svc: svc}
}

//
// DTOs
//

// RequesterPayload identifies the person booking.
type RequesterPayload struct {
	Name     string `json:"name"     binding:"required,max=200"   example:"Ada Lovelace"`
	Email    string `json:"email"    binding:"required,email"     example:"ada@example.com"`
	Timezone string `json:"timezone" binding:"omitempty,max=64"   example:"Europe/London"`
	Notes    string `json:"notes"    binding:"omitempty,max=2000" example:"Intro call"`
}

// CreateBookingRequest is the JSON payload for creating a booking.
type CreateBookingRequest struct {
	Start     time.Time        `json:"start"     binding:"required" example:"2030-01-14T10:00:00Z"`
	End       time.Time        `json:"end"       binding:"required" example:"2030-01-14T10:30:00Z"`
	Requester RequesterPayload `json:"requester"`
}

// BookingResponse wraps a booking. CancelToken is only returned to the
// requester who created (or replayed) it.
type BookingResponse struct {
	Booking     *domain.Booking `json:"booking"`
	CancelToken string          `json:"cancel_token,omitempty"`
}

// CancelBookingRequest carries the cancel token issued at creation.
type CancelBookingRequest struct {
	Token string `json:"token" binding:"required"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListBookingsResponse wraps a page of bookings.
type ListBookingsResponse struct {
	Bookings   []domain.Booking `json:"bookings"`
	Pagination Pagination       `json:"pagination"`
}

// AvailabilityResponse lists the free slots of a link for one day.
type AvailabilityResponse struct {
	LinkID   string          `json:"link_id"`
	Date     string          `json:"date"     example:"2030-01-14"`
	Timezone string          `json:"timezone" example:"Europe/London"`
	Slots    []services.Slot `json:"slots"`
}

func clampPagination(c *gin.Context) utils.Page {
	const (
		defaultPageSize = 20
		maxPageSize     = 100
	)
	return utils.ParsePage(c.Query("page"), c.Query("page_size"), defaultPageSize, maxPageSize)
}

//
// Handlers
//

// CreateBooking godoc
// @ID          createBooking
// @Summary     Book a slot on a link
// @Description Validates the window, assigns a team member and confirms the booking atomically. Calendar sync, reminders and notifications run afterwards and never fail the request. With Idempotency-Key, a retry returns the original booking with 200.
// @Tags        Bookings
// @Accept      json
// @Produce     json
//
// @Param       id               path    string  true   "Booking link ID"
// @Param       Idempotency-Key  header  string  false  "Client retry key"  example(7b0c2c1e-retry-1)
// @Param       body             body    handlers.CreateBookingRequest  true  "Booking request"
//
// @Success     201  {object}  handlers.BookingResponse
// @Success     200  {object}  handlers.BookingResponse  "Idempotent replay"
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid request or slot"
// @Failure     404  {object}  handlers.ErrorResponse  "Link not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Slot unavailable"
// @Failure     503  {object}  handlers.ErrorResponse  "Contention, retry"
// @Header      503  {string}  Retry-After  "Seconds to wait"
// @Router      /links/{id}/bookings [post]
func (h *Handlers) CreateBooking(c *gin.Context) {
	middleware.NoStore(c)

	var req CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid booking request")
		return
	}
	if !req.End.After(req.Start) {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "end must be after start")
		return
	}
	key, _ := middleware.GetIdempotencyKey(c)

	res, err := h.svc.CreateBooking(c.Request.Context(), services.CreateBookingInput{
		LinkID: c.Param("id"),
		Window: domain.TimeWindow{Start: req.Start, End: req.End},
		Requester: services.Requester{
			Name:     req.Requester.Name,
			Email:    req.Requester.Email,
			Timezone: strings.TrimSpace(req.Requester.Timezone),
			Notes:    req.Requester.Notes,
		},
		IdempotencyKey: key,
	})
	if err != nil {
		failService(c, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
		c.Header("Idempotent-Replayed", "true")
	}
	c.Header("Location", "/bookings/"+res.Booking.ID)
	ok(c, status, BookingResponse{Booking: res.Booking, CancelToken: res.CancelToken})
}

// GetBooking godoc
// @ID          getBooking
// @Summary     Get a booking
// @Tags        Bookings
// @Produce     json
// @Param       id   path      string  true  "Booking ID"
// @Success     200  {object}  handlers.BookingResponse
// @Failure     404  {object}  handlers.ErrorResponse  "Booking not found"
// @Router      /bookings/{id} [get]
func (h *Handlers) GetBooking(c *gin.Context) {
	b, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		failService(c, err)
		return
	}
	middleware.NoStore(c)
	ok(c, http.StatusOK, BookingResponse{Booking: b})
}

// ListLinkBookings godoc
// @ID          listLinkBookings
// @Summary     List bookings of a link (paginated)
// @Description Newest first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Bookings
// @Produce     json
//
// @Param       id             path    string  true   "Booking link ID"
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
// @Param       page           query   int     false  "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false  "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.ListBookingsResponse
// @Header      200  {string}  ETag  "Weak ETag for current result"
// @Success     304  {string}  string  "Not Modified"
// @Failure     404  {object}  handlers.ErrorResponse  "Link not found"
// @Router      /links/{id}/bookings [get]
func (h *Handlers) ListLinkBookings(c *gin.Context) {
	ctx := c.Request.Context()
	linkID := c.Param("id")
	pg := clampPagination(c)

	// Best effort: a stats failure just skips the ETag.
	if count, last, err := h.svc.ListStats(ctx, linkID); err == nil {
		var ts int64
		if last != nil {
			ts = last.UnixNano()
		}
		etag := fmt.Sprintf(`W/"bookings:%s:%d:%d:%d:%d"`, linkID, count, ts, pg.Number, pg.Size)
		c.Header("ETag", etag)
		if c.GetHeader("If-None-Match") == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	items, total, err := h.svc.ListPage(ctx, linkID, pg.Number, pg.Size)
	if err != nil {
		c.Writer.Header().Del("ETag")
		failService(c, err)
		return
	}
	totalPages := pg.TotalPages(total)
	ok(c, http.StatusOK, ListBookingsResponse{
		Bookings: items,
		Pagination: Pagination{
			Page:       pg.Number,
			PageSize:   pg.Size,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    pg.Number < totalPages,
		},
	})
}

// CancelBooking godoc
// @ID          cancelBooking
// @Summary     Cancel a booking
// @Description Cancels a confirmed booking using the token returned at creation. The token expires when the booking starts.
// @Tags        Bookings
// @Accept      json
// @Param       id    path  string  true  "Booking ID"
// @Param       body  body  handlers.CancelBookingRequest  true  "Cancel token"
// @Success     204  {string}  string  "No Content"
// @Failure     400  {object}  handlers.ErrorResponse  "Missing token"
// @Failure     403  {object}  handlers.ErrorResponse  "Invalid token"
// @Failure     404  {object}  handlers.ErrorResponse  "Booking not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Not cancellable"
// @Router      /bookings/{id}/cancel [post]
func (h *Handlers) CancelBooking(c *gin.Context) {
	var req CancelBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Token) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "token required")
		return
	}
	if _, err := h.svc.Cancel(c.Request.Context(), c.Param("id"), strings.TrimSpace(req.Token)); err != nil {
		failService(c, err)
		return
	}
	noContent(c)
}

// ListAvailability godoc
// @ID          listAvailability
// @Summary     Free slots of a link
// @Description Back-to-back slots of the link's duration on one calendar day in tz that at least one candidate can take. Advisory: booking re-checks under lock.
// @Tags        Availability
// @Produce     json
// @Param       id    path   string  true   "Booking link ID"
// @Param       date  query  string  true   "Day (YYYY-MM-DD)"  example(2030-01-14)
// @Param       tz    query  string  false  "IANA timezone"     default(UTC)
// @Success     200  {object}  handlers.AvailabilityResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad date or timezone"
// @Failure     404  {object}  handlers.ErrorResponse  "Link not found"
// @Router      /links/{id}/availability [get]
func (h *Handlers) ListAvailability(c *gin.Context) {
	tz := strings.TrimSpace(c.DefaultQuery("tz", "UTC"))
	loc, err := time.LoadLocation(tz)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown timezone")
		return
	}
	date, err := time.ParseInLocation(time.DateOnly, c.Query("date"), loc)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "date must be YYYY-MM-DD")
		return
	}

	slots, err := h.svc.AvailableSlots(c.Request.Context(), c.Param("id"), date, loc)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, AvailabilityResponse{
		LinkID:   c.Param("id"),
		Date:     date.Format(time.DateOnly),
		Timezone: loc.String(),
		Slots:    slots,
	})
}
