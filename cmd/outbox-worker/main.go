package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/ticketblitz/ticketing/internal/config"
	"github.com/ticketblitz/ticketing/internal/database"
	"github.com/ticketblitz/ticketing/internal/kafka"
	"github.com/ticketblitz/ticketing/internal/logger"
	"github.com/ticketblitz/ticketing/internal/repository"
	"github.com/ticketblitz/ticketing/internal/worker"
)

// Dedicated outbox drainer for deployments that scale the API separately
// from event publication. The API server embeds the same worker; row
// claiming keeps concurrent drains safe.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.Init(&logger.Config{
		Level:       "info",
		Development: !cfg.IsProduction(),
		ServiceName: cfg.App.Name + "-outbox-worker",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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
	})
	if err != nil {
		log.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer db.Close()

	producer, err := kafka.NewProducer(ctx, &kafka.ProducerConfig{
		Brokers:    cfg.Kafka.Brokers,
		ClientID:   cfg.Kafka.ClientID + "-outbox",
		MaxRetries: cfg.Payment.PublishRetries,
	})
	if err != nil {
		log.Fatal("failed to connect kafka", zap.Error(err))
	}
	defer producer.Close()

	outboxRepo := repository.NewPostgresOutboxRepository(db.Pool())
	outboxWorker := worker.NewOutboxWorker(outboxRepo, producer, nil)

	if err := outboxWorker.Start(ctx); err != nil {
		log.Fatal("failed to start outbox worker", zap.Error(err))
	}

	log.Info("outbox worker running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down outbox worker...")
	cancel()
	outboxWorker.Stop()
	log.Info("outbox worker exited")
}
