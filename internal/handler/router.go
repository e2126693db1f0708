package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ticketblitz/ticketing/internal/middleware"
	"github.com/ticketblitz/ticketing/internal/response"
)

// HealthChecker reports readiness of one dependency
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// RouterConfig wires the handlers and middleware into a gin engine
type RouterConfig struct {
	Identity  *middleware.IdentityConfig
	Inventory *InventoryHandler
	Bookings  *BookingHandler
	Payments  *PaymentHandler

	// Health dependencies, probed by name on /healthz
	Health map[string]HealthChecker
}

// NewRouter builds the HTTP API. Route prefixes are the core's own; an
// upstream gateway may rewrite them.
func NewRouter(cfg *RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", healthHandler(cfg.Health))

	api := r.Group("")
	api.Use(middleware.Identity(cfg.Identity))

	if cfg.Inventory != nil {
		inv := api.Group("/inventory")
		inv.POST("/lock", cfg.Inventory.Lock)
		inv.POST("/lock-multiple", cfg.Inventory.LockMultiple)
		inv.POST("/release", cfg.Inventory.ReleaseLock)
		inv.GET("/check/:eventId/:seatId", cfg.Inventory.CheckSeat)
		inv.GET("/status/:eventId", cfg.Inventory.Status)
		inv.POST("/tatkal/init/:eventId", cfg.Inventory.TatkalInit)
		inv.POST("/tatkal/reserve/:eventId", cfg.Inventory.TatkalReserve)
		inv.POST("/tatkal/release/:eventId", cfg.Inventory.TatkalRelease)
		inv.DELETE("/tatkal/:eventId", cfg.Inventory.TatkalDelete)
		inv.POST("/admin/release-all/:eventId", cfg.Inventory.ForceReleaseAll)
	}

	if cfg.Bookings != nil {
		api.POST("/bookings", cfg.Bookings.CreateBooking)
		api.GET("/bookings/user/:userId", cfg.Bookings.ListUserBookings) // before /bookings/:id
		api.GET("/bookings/:id", cfg.Bookings.GetBooking)
		api.DELETE("/bookings/:id", cfg.Bookings.CancelBooking)
	}

	if cfg.Payments != nil {
		api.GET("/payments/booking/:bookingId", cfg.Payments.GetBookingTransactions)
		api.GET("/payments/user/:userId", cfg.Payments.GetUserTransactions)
		api.GET("/payments/:transactionId", cfg.Payments.GetTransaction)
	}

	return r
}

func healthHandler(deps map[string]HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := make(map[string]string, len(deps))
		healthy := true
		for name, dep := range deps {
			if err := dep.HealthCheck(c.Request.Context()); err != nil {
				status[name] = err.Error()
				healthy = false
				continue
			}
			status[name] = "ok"
		}

		if !healthy {
			response.Error(c, http.StatusServiceUnavailable, "UNHEALTHY", "one or more dependencies are unhealthy", "")
			return
		}
		response.Success(c, gin.H{"status": "healthy", "dependencies": status})
	}
}
