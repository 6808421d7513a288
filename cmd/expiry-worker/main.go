package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/caresched/slot-reservation/internal/booking"
	"github.com/caresched/slot-reservation/internal/config"
	"github.com/caresched/slot-reservation/internal/db"
	"github.com/caresched/slot-reservation/internal/logging"
	"github.com/caresched/slot-reservation/internal/redisclient"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("config load error: " + err.Error())
	}

	logger, err := logging.NewLogger(cfg.Env)
	if err != nil {
		panic("logger init error: " + err.Error())
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("expiry-worker starting up",
		zap.String("env", cfg.Env),
		zap.Duration("scan_interval", cfg.ScanInterval),
		zap.Duration("hold_window", cfg.HoldWindow))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		logger.Fatal("redis connection error", zap.Error(err))
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("error closing redis", zap.Error(err))
		}
	}()
	logger.Info("connected to Redis")

	store := booking.NewPgStore(pgPool)
	publisher := redisclient.NewEventPublisher(rdb, cfg.EventChannel)
	coord := booking.NewCoordinator(store, publisher, booking.SystemClock(), cfg.HoldWindow, logger)
	scanner := booking.NewScanner(coord, store, booking.SystemClock(), logger)

	// Run once at startup, then on the cron schedule.
	runOnce(rootCtx, scanner, logger)

	c := cron.New()
	_, err = c.AddFunc(fmt.Sprintf("@every %s", cfg.ScanInterval), func() {
		runOnce(rootCtx, scanner, logger)
	})
	if err != nil {
		logger.Fatal("schedule expiry sweep", zap.Error(err))
	}
	c.Start()

	<-rootCtx.Done()
	logger.Info("shutdown signal received, stopping expiry worker")

	// Let an in-flight sweep finish.
	<-c.Stop().Done()
	logger.Info("expiry-worker stopped")
}

func runOnce(ctx context.Context, scanner *booking.Scanner, logger *zap.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	expired, err := scanner.Tick(runCtx)
	if err != nil {
		logger.Error("expiry sweep error", zap.Error(err))
		return
	}
	logger.Info("expiry sweep run complete",
		zap.Int("expired", expired),
		zap.Duration("took", time.Since(start)))
}
