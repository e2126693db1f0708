package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ticketblitz/ticketing/internal/config"
	"github.com/ticketblitz/ticketing/internal/database"
	"github.com/ticketblitz/ticketing/internal/gateway"
	"github.com/ticketblitz/ticketing/internal/logger"
	"github.com/ticketblitz/ticketing/internal/payment"
	"github.com/ticketblitz/ticketing/internal/repository"
	"github.com/ticketblitz/ticketing/internal/telemetry"
)

// staleSweepLimit caps the transactions resolved per sweep pass
const staleSweepLimit = 100

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
		ServiceName: cfg.App.Name + "-payment-worker",
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
		ServiceName:    cfg.OTel.ServiceName + "-payment-worker",
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

	gw, err := buildGateway(cfg)
	if err != nil {
		log.Fatal("failed to build payment gateway", zap.Error(err))
	}
	log.Info("payment gateway ready", zap.String("gateway", gw.Name()))

	transactionRepo := repository.NewPostgresTransactionRepository(db.Pool())
	engine := payment.NewEngine(transactionRepo, gw, cfg.Payment.GatewayTimeout)

	consumer, err := payment.NewBookingConsumer(ctx, &payment.BookingConsumerConfig{
		Brokers: cfg.Kafka.Brokers,
		GroupID: cfg.Kafka.ConsumerGroup + "-payment",
	}, engine)
	if err != nil {
		log.Fatal("failed to create booking consumer", zap.Error(err))
	}

	if err := consumer.Start(ctx); err != nil {
		log.Fatal("failed to start booking consumer", zap.Error(err))
	}

	// A transaction left PENDING means the process died mid-charge; sweep
	// them into FAILED so the saga can release the seats.
	staleAfter := 3 * cfg.Payment.GatewayTimeout
	go func() {
		ticker := time.NewTicker(cfg.Reservation.ExpirySweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := engine.ResolveStale(ctx, staleAfter, staleSweepLimit); err != nil {
					log.Error("stale transaction sweep failed", zap.Error(err))
				}
			}
		}
	}()

	log.Info("payment worker running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down payment worker...")
	cancel()
	if err := consumer.Stop(); err != nil {
		log.Error("failed to stop consumer", zap.Error(err))
	}
	log.Info("payment worker exited")
}
