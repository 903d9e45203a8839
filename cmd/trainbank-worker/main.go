package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"trainbank/internal/config"
	"trainbank/internal/db"
	"trainbank/internal/events"
	"trainbank/internal/storage/postgres"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWorkerFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	pool, err := db.Connect(ctx, cfg.DatabaseURL, poolOptions(cfg.DB))
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	var publisher events.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		logger.Info("publishing to kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	} else {
		publisher = events.NewLogPublisher(logger)
		logger.Warn("TRAINBANK_KAFKA_BROKERS not set, logging events instead")
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error("publisher close failed", "err", err)
		}
	}()

	relay := events.NewRelay(postgres.New(pool), publisher, cfg.Batch, logger)
	if cfg.RunOnce {
		n, err := relay.Drain(ctx)
		if err != nil {
			logger.Error("relay failed", "err", err, "relayed", n)
			os.Exit(1)
		}
		logger.Info("worker run-once completed", "relayed", n)
		return
	}
	relay.Run(ctx, cfg.PollEvery)
}

func poolOptions(c config.DBConfig) db.Options {
	return db.Options{
		MaxConns:        int32(c.MaxConns),
		MinConns:        int32(c.MinConns),
		MaxConnLifetime: c.MaxConnLifetime,
	}
}
