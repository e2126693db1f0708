package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ticketblitz/ticketing/internal/booking"
	"github.com/ticketblitz/ticketing/internal/config"
	"github.com/ticketblitz/ticketing/internal/database"
	"github.com/ticketblitz/ticketing/internal/gateway"
	"github.com/ticketblitz/ticketing/internal/handler"
	"github.com/ticketblitz/ticketing/internal/inventory"
	"github.com/ticketblitz/ticketing/internal/kafka"
	"github.com/ticketblitz/ticketing/internal/lockstore"
	"github.com/ticketblitz/ticketing/internal/logger"
	"github.com/ticketblitz/ticketing/internal/middleware"
	"github.com/ticketblitz/ticketing/internal/payment"
	"github.com/ticketblitz/ticketing/internal/redis"
	"github.com/ticketblitz/ticketing/internal/repository"
	"github.com/ticketblitz/ticketing/internal/telemetry"
	"github.com/ticketblitz/ticketing/internal/worker"
)

func buildGateway(cfg *config.Config) (gateway.PaymentGateway, error) {
	if cfg.Payment.Gateway == "stripe" {
		return gateway.NewStripeGateway(&gateway.StripeGatewayConfig{
			SecretKey: cfg.Payment.StripeSecretKey,
		})
	}
	mockCfg := gateway.DefaultMockGatewayConfig()
	mockCfg.SuccessRate = cfg.Payment.MockSuccessRate
	return gateway.NewMockGateway(mockCfg), nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.Init(&logger.Config{
		Level:       "info",
		Development: !cfg.IsProduction(),
		ServiceName: cfg.App.Name + "-server",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    cfg.OTel.ServiceName + "-server",
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
		SampleRatio:    cfg.OTel.SampleRatio,
	}); err != nil {
		log.Fatal("failed to init telemetry", zap.Error(err))
	}
	defer telemetry.Shutdown(context.Background())

	db, err := database.NewPostgres(ctx, &database.PostgresConfig{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.DBName,
		SSLMode:         cfg.Database.SSLMode,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.ConnMaxLifetime,
		MaxConnIdleTime: cfg.Database.ConnMaxIdleTime,
		EnableTracing:   cfg.OTel.Enabled,
	})
	if err != nil {
		log.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer db.Close()

	rdb, err := redis.NewClient(ctx, &redis.Config{
		Host:         cfg.Redis.Host,
		Port:         cfg.Redis.Port,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	if err != nil {
		log.Fatal("failed to connect redis", zap.Error(err))
	}
	defer rdb.Close()

	producer, err := kafka.NewProducer(ctx, &kafka.ProducerConfig{
		Brokers:    cfg.Kafka.Brokers,
		ClientID:   cfg.Kafka.ClientID + "-server",
		MaxRetries: cfg.Payment.PublishRetries,
	})
	if err != nil {
		log.Fatal("failed to connect kafka", zap.Error(err))
	}
	defer producer.Close()

	// Services
	store := lockstore.NewRedisStore(rdb)
	locks := inventory.NewSeatLockService(store, cfg.Reservation.LockTTL)
	tatkal := inventory.NewTatkalService(store)

	bookingRepo := repository.NewPostgresBookingRepository(db.Pool())
	transactionRepo := repository.NewPostgresTransactionRepository(db.Pool())
	outboxRepo := repository.NewPostgresOutboxRepository(db.Pool())

	gw, err := buildGateway(cfg)
	if err != nil {
		log.Fatal("failed to build payment gateway", zap.Error(err))
	}

	saga := booking.NewSaga(bookingRepo, locks, cfg.Reservation.BookingExpiry)
	engine := payment.NewEngine(transactionRepo, gw, cfg.Payment.GatewayTimeout)

	// Background workers run inside the API process: the outbox drain ships
	// events written by CreateBooking, the expiry sweep reclaims abandoned
	// PENDING bookings.
	outboxWorker := worker.NewOutboxWorker(outboxRepo, producer, nil)
	if err := outboxWorker.Start(ctx); err != nil {
		log.Fatal("failed to start outbox worker", zap.Error(err))
	}
	defer outboxWorker.Stop()

	expiryWorker := worker.NewExpiryWorker(saga, cfg.Reservation.ExpirySweepInterval)
	if err := expiryWorker.Start(ctx); err != nil {
		log.Fatal("failed to start expiry worker", zap.Error(err))
	}
	defer expiryWorker.Stop()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := handler.NewRouter(&handler.RouterConfig{
		Identity: &middleware.IdentityConfig{
			JWTSecret:           cfg.JWT.Secret,
			AllowHeaderFallback: !cfg.IsProduction(),
			// Request bodies and queries may carry the user id directly;
			// handlers enforce identity where they need it.
			Optional: true,
		},
		Inventory: handler.NewInventoryHandler(locks, tatkal),
		Bookings:  handler.NewBookingHandler(saga),
		Payments:  handler.NewPaymentHandler(engine),
		Health: map[string]handler.HealthChecker{
			"postgres": db,
			"redis":    rdb,
		},
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server exited")
}
