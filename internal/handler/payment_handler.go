package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ticketblitz/ticketing/internal/response"
	"github.com/ticketblitz/ticketing/internal/telemetry"
)

// PaymentHandler handles payment transaction queries. Transactions are
// created by the payment engine, never over HTTP.
type PaymentHandler struct {
	payments PaymentService
}

// NewPaymentHandler creates a payment handler
func NewPaymentHandler(payments PaymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

// GetTransaction handles GET /payments/:transactionId. When the caller's
// identity is known, the transaction must belong to them.
func (h *PaymentHandler) GetTransaction(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.payment.get_transaction")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	id := c.Param("transactionId")
	span.SetAttributes(attribute.String("transaction_id", id))

	tx, err := h.payments.GetTransaction(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	if userID := resolvedUser(c); userID != "" && tx.UserID != userID {
		response.Forbidden(c, "transaction belongs to another user")
		return
	}

	span.SetStatus(codes.Ok, "")
	response.Success(c, tx)
}

// GetBookingTransactions handles GET /payments/booking/:bookingId
func (h *PaymentHandler) GetBookingTransactions(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.payment.booking_transactions")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	bookingID, err := strconv.ParseInt(c.Param("bookingId"), 10, 64)
	if err != nil || bookingID <= 0 {
		response.BadRequest(c, "invalid booking id")
		return
	}

	txs, err := h.payments.GetTransactionsByBooking(ctx, bookingID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	// The booking's transactions all carry the buyer's user ID
	if userID := resolvedUser(c); userID != "" {
		for _, tx := range txs {
			if tx.UserID != userID {
				response.Forbidden(c, "booking belongs to another user")
				return
			}
		}
	}

	span.SetStatus(codes.Ok, "")
	response.Success(c, gin.H{
		"booking_id":   bookingID,
		"transactions": txs,
		"count":        len(txs),
	})
}

// GetUserTransactions handles GET /payments/user/:userId
func (h *PaymentHandler) GetUserTransactions(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.payment.user_transactions")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID := c.Param("userId")
	if userID == "" {
		response.BadRequest(c, "invalid user id")
		return
	}

	txs, err := h.payments.GetTransactionsByUser(ctx, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	response.Success(c, gin.H{
		"transactions": txs,
		"count":        len(txs),
	})
}
