package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/hackgods/telehealth-slot-reservation/internal/booking"
	"github.com/hackgods/telehealth-slot-reservation/internal/catalog"
	"github.com/hackgods/telehealth-slot-reservation/internal/clock"
	"github.com/hackgods/telehealth-slot-reservation/internal/config"
	"github.com/hackgods/telehealth-slot-reservation/internal/db"
	"github.com/hackgods/telehealth-slot-reservation/internal/logger"
	"github.com/hackgods/telehealth-slot-reservation/internal/messaging"
	"github.com/hackgods/telehealth-slot-reservation/internal/reservation"
)

// The API never depends on this worker: expired holds read as free
// regardless. Sweeping turns them into explicit rows and expiry events.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel, cfg.IsDev())
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	log.Info("expiry-worker starting up", zap.String("env", cfg.Env), zap.String("schedule", cfg.SweepSchedule))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.PostgresMaxConn)
	cancelPg()
	if err != nil {
		log.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	log.Info("connected to postgres")

	clk := clock.System()
	store := reservation.NewPgStore(pgPool, clk)
	sinks := []booking.EventSink{store}

	if cfg.AMQPURL != "" {
		conn, err := messaging.Dial(cfg.AMQPURL)
		if err != nil {
			log.Fatal("rabbitmq connection error", zap.Error(err))
		}
		defer conn.Close()
		pub, err := messaging.NewPublisher(conn, cfg.OTPQueue, cfg.EventsExchange)
		if err != nil {
			log.Fatal("rabbitmq publisher error", zap.Error(err))
		}
		defer pub.Close()
		sinks = append(sinks, pub)
	}

	cat := catalog.New(catalog.NewPgDirectory(pgPool), cfg.SlotDuration, clk, cfg.Location)
	events := booking.NewEvents(clk, log, sinks...)
	locks := booking.NewLockManager(cat, store, cfg.LockTTL, clk, events, log.Named("locks"))

	runOnce(rootCtx, locks, log)

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(cfg.SweepSchedule, func() { runOnce(rootCtx, locks, log) }); err != nil {
		log.Fatal("invalid SWEEP_SCHEDULE", zap.String("schedule", cfg.SweepSchedule), zap.Error(err))
	}
	c.Start()

	<-rootCtx.Done()
	log.Info("shutdown signal received, stopping expiry worker")
	<-c.Stop().Done()
}

func runOnce(ctx context.Context, locks *booking.LockManager, log *zap.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	n, err := locks.SweepExpired(runCtx)
	if err != nil {
		log.Error("expiry run failed", zap.Error(err))
		return
	}
	log.Info("expiry run complete", zap.Int("released", n), zap.Duration("took", time.Since(start)))
}
