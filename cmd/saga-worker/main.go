package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/ticketblitz/ticketing/internal/booking"
	"github.com/ticketblitz/ticketing/internal/config"
	"github.com/ticketblitz/ticketing/internal/database"
	"github.com/ticketblitz/ticketing/internal/inventory"
	"github.com/ticketblitz/ticketing/internal/kafka"
	"github.com/ticketblitz/ticketing/internal/lockstore"
	"github.com/ticketblitz/ticketing/internal/logger"
	"github.com/ticketblitz/ticketing/internal/redis"
	"github.com/ticketblitz/ticketing/internal/repository"
	"github.com/ticketblitz/ticketing/internal/retry"
	"github.com/ticketblitz/ticketing/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.Init(&logger.Config{
		Level:       "info",
		Development: !cfg.IsProduction(),
		ServiceName: cfg.App.Name + "-saga-worker",
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
		ServiceName:    cfg.OTel.ServiceName + "-saga-worker",
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

	// Producer for dead-letter publishes
	producer, err := kafka.NewProducer(ctx, &kafka.ProducerConfig{
		Brokers:    cfg.Kafka.Brokers,
		ClientID:   cfg.Kafka.ClientID + "-saga-dlq",
		MaxRetries: cfg.Payment.PublishRetries,
	})
	if err != nil {
		log.Fatal("failed to connect kafka", zap.Error(err))
	}
	defer producer.Close()

	store := lockstore.NewRedisStore(rdb)
	locks := inventory.NewSeatLockService(store, cfg.Reservation.LockTTL)
	bookingRepo := repository.NewPostgresBookingRepository(db.Pool())
	saga := booking.NewSaga(bookingRepo, locks, cfg.Reservation.BookingExpiry)

	dlq := retry.NewKafkaDLQPublisher(producer, "saga-worker")
	consumer, err := booking.NewPaymentResultConsumer(ctx, &booking.PaymentResultConsumerConfig{
		Brokers:  cfg.Kafka.Brokers,
		GroupID:  cfg.Kafka.ConsumerGroup + "-saga",
		DLQAfter: cfg.Payment.ConsumerDLQAfter,
	}, saga, dlq)
	if err != nil {
		log.Fatal("failed to create payment result consumer", zap.Error(err))
	}

	if err := consumer.Start(ctx); err != nil {
		log.Fatal("failed to start payment result consumer", zap.Error(err))
	}

	log.Info("saga worker running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down saga worker...")
	cancel()
	if err := consumer.Stop(); err != nil {
		log.Error("failed to stop consumer", zap.Error(err))
	}
	log.Info("saga worker exited")
}
