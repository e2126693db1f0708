package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ticketblitz/ticketing/internal/domain"
	"github.com/ticketblitz/ticketing/internal/response"
	"github.com/ticketblitz/ticketing/internal/telemetry"
)

// InventoryHandler handles seat lock and Tatkal inventory HTTP requests
type InventoryHandler struct {
	locks  SeatLockService
	tatkal TatkalService
}

// NewInventoryHandler creates an inventory handler
func NewInventoryHandler(locks SeatLockService, tatkal TatkalService) *InventoryHandler {
	return &InventoryHandler{locks: locks, tatkal: tatkal}
}

type lockRequest struct {
	EventID int64  `json:"event_id" binding:"required,gt=0"`
	SeatID  string `json:"seat_id" binding:"required"`
	UserID  string `json:"user_id"`
}

func eventIDParam(c *gin.Context) (int64, bool) {
	eventID, err := strconv.ParseInt(c.Param("eventId"), 10, 64)
	if err != nil || eventID <= 0 {
		response.BadRequest(c, "invalid event id")
		return 0, false
	}
	return eventID, true
}

// Lock handles POST /inventory/lock. Losing the lock race is a normal
// outcome, reported as success=false with the current owner and TTL.
func (h *InventoryHandler) Lock(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.inventory.lock")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	var req lockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
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
		attribute.String("seat_id", req.SeatID),
	)

	err := h.locks.TryLock(ctx, req.EventID, req.SeatID, userID)
	if errors.Is(err, domain.ErrSeatAlreadyLocked) {
		owner, ttl, checkErr := h.locks.Check(ctx, req.EventID, req.SeatID)
		if checkErr != nil {
			owner, ttl = "", 0
		}
		span.SetStatus(codes.Ok, "")
		c.JSON(http.StatusOK, response.Response{
			Success: false,
			Data: gin.H{
				"owner":       owner,
				"ttl_seconds": int64(ttl.Seconds()),
			},
			Error: &response.ErrorData{
				Code:    "SEAT_ALREADY_LOCKED",
				Message: "seat is locked by another user",
			},
		})
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	_, ttl, checkErr := h.locks.Check(ctx, req.EventID, req.SeatID)
	if checkErr != nil {
		ttl = 0
	}

	span.SetStatus(codes.Ok, "")
	response.Success(c, gin.H{
		"event_id":    req.EventID,
		"seat_id":     req.SeatID,
		"ttl_seconds": int64(ttl.Seconds()),
	})
}

// LockMultiple handles POST /inventory/lock-multiple. All requested seats
// are locked or none.
func (h *InventoryHandler) LockMultiple(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.inventory.lock_multiple")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	var req struct {
		EventID int64    `json:"event_id" binding:"required,gt=0"`
		SeatIDs []string `json:"seat_ids" binding:"required,min=1"`
		UserID  string   `json:"user_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
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

	err := h.locks.TryLockMany(ctx, req.EventID, req.SeatIDs, userID)
	if errors.Is(err, domain.ErrSeatAlreadyLocked) {
		span.SetStatus(codes.Ok, "")
		c.JSON(http.StatusOK, response.Response{
			Success: false,
			Error: &response.ErrorData{
				Code:    "SEAT_ALREADY_LOCKED",
				Message: err.Error(),
			},
		})
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	response.Success(c, gin.H{
		"event_id": req.EventID,
		"seat_ids": req.SeatIDs,
	})
}

// ReleaseLock handles POST /inventory/release
func (h *InventoryHandler) ReleaseLock(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.inventory.release")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	var req lockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	userID, ok := requestUser(c, req.UserID)
	if !ok {
		return
	}

	if err := h.locks.Release(ctx, req.EventID, req.SeatID, userID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	response.Success(c, gin.H{
		"event_id": req.EventID,
		"seat_id":  req.SeatID,
		"released": true,
	})
}

// CheckSeat handles GET /inventory/check/:eventId/:seatId
func (h *InventoryHandler) CheckSeat(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.inventory.check")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	eventID, ok := eventIDParam(c)
	if !ok {
		return
	}
	seatID := c.Param("seatId")

	owner, ttl, err := h.locks.Check(ctx, eventID, seatID)
	if errors.Is(err, domain.ErrLockNotFound) {
		span.SetStatus(codes.Ok, "")
		response.Success(c, gin.H{
			"locked":      false,
			"owner":       "",
			"ttl_seconds": int64(0),
		})
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	response.Success(c, gin.H{
		"locked":      true,
		"owner":       owner,
		"ttl_seconds": int64(ttl.Seconds()),
	})
}

// Status handles GET /inventory/status/:eventId. One call returns both the
// seat lock picture and the Tatkal pool state.
func (h *InventoryHandler) Status(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.inventory.status")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	eventID, ok := eventIDParam(c)
	if !ok {
		return
	}

	seats, err := h.locks.LockedSeats(ctx, eventID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	remaining, err := h.tatkal.Remaining(ctx, eventID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	soldOut, err := h.tatkal.IsSoldOut(ctx, eventID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	response.Success(c, gin.H{
		"event_id":           eventID,
		"locked_seats_count": len(seats),
		"locked_seats":       seats,
		"tatkal_remaining":   remaining,
		"tatkal_sold_out":    soldOut,
	})
}

// TatkalInit handles POST /inventory/tatkal/init/:eventId?total_seats=N.
// Re-initialising an existing pool resets it.
func (h *InventoryHandler) TatkalInit(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.inventory.tatkal_init")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	eventID, ok := eventIDParam(c)
	if !ok {
		return
	}

	raw := c.Query("total_seats")
	if raw == "" {
		raw = c.Query("totalSeats")
	}
	totalSeats, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || totalSeats < 0 {
		response.BadRequest(c, "total_seats must be a non-negative integer")
		return
	}

	span.SetAttributes(attribute.Int64("event_id", eventID), attribute.Int64("total_seats", totalSeats))

	if c.Query("reset") == "true" {
		err = h.tatkal.Reset(ctx, eventID, totalSeats)
	} else {
		err = h.tatkal.Initialize(ctx, eventID, totalSeats)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	response.Success(c, gin.H{
		"event_id":    eventID,
		"total_seats": totalSeats,
	})
}

// TatkalReserve handles POST /inventory/tatkal/reserve/:eventId. One unit
// per call, first come first served. A sold-out pool is a normal outcome,
// reported as success=false.
func (h *InventoryHandler) TatkalReserve(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.inventory.tatkal_reserve")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	eventID, ok := eventIDParam(c)
	if !ok {
		return
	}

	err := h.tatkal.TryReserve(ctx, eventID)
	if errors.Is(err, domain.ErrSoldOut) {
		span.SetStatus(codes.Ok, "")
		c.JSON(http.StatusOK, response.Response{
			Success: false,
			Data:    gin.H{"remaining_seats": int64(0)},
			Error: &response.ErrorData{
				Code:    "SOLD_OUT",
				Message: "no seats remaining",
			},
		})
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	remaining, err := h.tatkal.Remaining(ctx, eventID)
	if err != nil {
		span.RecordError(err)
		remaining = 0
	}

	span.SetStatus(codes.Ok, "")
	response.Success(c, gin.H{
		"event_id":        eventID,
		"remaining_seats": remaining,
	})
}

// TatkalRelease handles POST /inventory/tatkal/release/:eventId. The
// compensating increment for an abandoned Tatkal reservation.
func (h *InventoryHandler) TatkalRelease(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.inventory.tatkal_release")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	eventID, ok := eventIDParam(c)
	if !ok {
		return
	}

	if err := h.tatkal.Release(ctx, eventID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	remaining, err := h.tatkal.Remaining(ctx, eventID)
	if err != nil {
		span.RecordError(err)
		remaining = 0
	}

	span.SetStatus(codes.Ok, "")
	response.Success(c, gin.H{
		"event_id":        eventID,
		"remaining_seats": remaining,
	})
}

// TatkalDelete handles DELETE /inventory/tatkal/:eventId
func (h *InventoryHandler) TatkalDelete(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.inventory.tatkal_delete")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	eventID, ok := eventIDParam(c)
	if !ok {
		return
	}

	if err := h.tatkal.Delete(ctx, eventID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	response.Success(c, gin.H{
		"event_id": eventID,
		"deleted":  true,
	})
}

// ForceReleaseAll handles POST /inventory/admin/release-all/:eventId.
// Admin reset of an event's seat map, regardless of lock owners.
func (h *InventoryHandler) ForceReleaseAll(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.inventory.force_release_all")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	eventID, ok := eventIDParam(c)
	if !ok {
		return
	}

	released, err := h.locks.ForceReleaseAll(ctx, eventID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	response.Success(c, gin.H{
		"event_id": eventID,
		"released": released,
	})
}
