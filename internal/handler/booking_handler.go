package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ticketblitz/ticketing/internal/response"
	"github.com/ticketblitz/ticketing/internal/telemetry"
)

// BookingHandler handles booking HTTP requests. Creation returns immediately
// with a PENDING booking; payment and confirmation happen asynchronously
// through the event bus.
type BookingHandler struct {
	bookings BookingService
}

// NewBookingHandler creates a booking handler
func NewBookingHandler(bookings BookingService) *BookingHandler {
	return &BookingHandler{bookings: bookings}
}

// CreateBookingRequest is the body of POST /bookings
type CreateBookingRequest struct {
	UserID  string   `json:"user_id"`
	EventID int64    `json:"event_id" binding:"required,gt=0"`
	SeatIDs []string `json:"seat_ids" binding:"required,min=1"`
	Amount  float64  `json:"amount" binding:"gte=0"`
}

func bookingIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.BadRequest(c, "invalid booking id")
		return 0, false
	}
	return id, true
}

// CreateBooking handles POST /bookings
func (h *BookingHandler) CreateBooking(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.create")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	var req CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request")
		response.BadRequest(c, err.Error())
		return
	}

	userID, ok := requestUser(c, req.UserID)
	if !ok {
		return
	}

	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.Int64("event_id", req.EventID),
		attribute.Int("seats", len(req.SeatIDs)),
	)

	b, err := h.bookings.CreateBooking(ctx, userID, req.EventID, req.SeatIDs, req.Amount)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetAttributes(attribute.Int64("booking_id", b.ID))
	span.SetStatus(codes.Ok, "")
	response.Created(c, b)
}

// GetBooking handles GET /bookings/:id
func (h *BookingHandler) GetBooking(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.get")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, ok := requestUser(c, queryUser(c))
	if !ok {
		return
	}

	id, idOK := bookingIDParam(c)
	if !idOK {
		return
	}

	b, err := h.bookings.GetBooking(ctx, id, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	response.Success(c, b)
}

// ListUserBookings handles GET /bookings/user/:userId
func (h *BookingHandler) ListUserBookings(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.list_user")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID := c.Param("userId")
	if userID == "" {
		response.BadRequest(c, "invalid user id")
		return
	}

	bookings, err := h.bookings.GetUserBookings(ctx, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	response.Success(c, gin.H{
		"bookings": bookings,
		"count":    len(bookings),
	})
}

// CancelBooking handles DELETE /bookings/:id. CONFIRMED bookings cannot be
// cancelled; cancelling an already-cancelled booking is a no-op.
func (h *BookingHandler) CancelBooking(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.cancel")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, ok := requestUser(c, queryUser(c))
	if !ok {
		return
	}

	id, idOK := bookingIDParam(c)
	if !idOK {
		return
	}

	span.SetAttributes(attribute.Int64("booking_id", id), attribute.String("user_id", userID))

	if _, err := h.bookings.Cancel(ctx, id, userID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	c.Status(http.StatusNoContent)
}
