package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trainbank/internal/api"
	"trainbank/internal/config"
	"trainbank/internal/db"
	"trainbank/internal/events"
	"trainbank/internal/game"
	"trainbank/internal/storage/memory"
	"trainbank/internal/storage/postgres"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	var store game.Store
	if cfg.DatabaseURL == "" {
		mem := memory.New()
		store = mem
		// Nothing else drains the in-memory outbox, so relay it to the log.
		relay := events.NewRelay(mem, events.NewLogPublisher(logger), cfg.Batch, logger)
		go relay.Run(ctx, cfg.PollEvery)
		logger.Warn("DATABASE_URL not set, using in-memory ledger")
	} else {
		pool, err := db.Connect(ctx, cfg.DatabaseURL, poolOptions(cfg.DB))
		if err != nil {
			logger.Error("db connect failed", "err", err)
			os.Exit(1)
		}
		defer pool.Close()

		pg := postgres.New(pool)
		if cfg.MigrateOnStart {
			if err := pg.Migrate(ctx); err != nil {
				logger.Error("migrate failed", "err", err)
				os.Exit(1)
			}
		}
		store = pg
	}

	gameSvc := game.NewService(store, logger)
	server := api.New(cfg, logger, gameSvc)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("trainbank api listening", "addr", cfg.Addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}

func poolOptions(c config.DBConfig) db.Options {
	return db.Options{
		MaxConns:        int32(c.MaxConns),
		MinConns:        int32(c.MinConns),
		MaxConnLifetime: c.MaxConnLifetime,
	}
}
