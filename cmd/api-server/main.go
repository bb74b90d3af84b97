package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/telehealth-slot-reservation/internal/api"
	"github.com/hackgods/telehealth-slot-reservation/internal/appointment"
	"github.com/hackgods/telehealth-slot-reservation/internal/auth"
	"github.com/hackgods/telehealth-slot-reservation/internal/booking"
	"github.com/hackgods/telehealth-slot-reservation/internal/catalog"
	"github.com/hackgods/telehealth-slot-reservation/internal/clock"
	"github.com/hackgods/telehealth-slot-reservation/internal/config"
	"github.com/hackgods/telehealth-slot-reservation/internal/db"
	"github.com/hackgods/telehealth-slot-reservation/internal/logger"
	"github.com/hackgods/telehealth-slot-reservation/internal/messaging"
	redisclient "github.com/hackgods/telehealth-slot-reservation/internal/redis"
	"github.com/hackgods/telehealth-slot-reservation/internal/reservation"
	"github.com/hackgods/telehealth-slot-reservation/internal/verification"
)

const version = "0.1.0"

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

	if err := run(cfg, log); err != nil {
		log.Fatal("api-server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	log.Info("api-server starting up", zap.String("env", cfg.Env), zap.String("http_port", cfg.HTTPPort))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.PostgresMaxConn)
	cancelPg()
	if err != nil {
		return err
	}
	defer pgPool.Close()
	if err := db.Migrate(rootCtx, pgPool); err != nil {
		return err
	}
	log.Info("connected to postgres")

	clk := clock.System()
	store := reservation.NewPgStore(pgPool, clk)
	deps := []api.Dependency{{Name: "postgres", Pinger: pgPool, Critical: true}}
	sinks := []booking.EventSink{store}

	var sender verification.Sender = verification.NewLogSender(log)
	if cfg.AMQPURL != "" {
		conn, err := messaging.Dial(cfg.AMQPURL)
		if err != nil {
			return err
		}
		defer conn.Close()

		pub, err := messaging.NewPublisher(conn, cfg.OTPQueue, cfg.EventsExchange)
		if err != nil {
			return err
		}
		defer pub.Close()

		sender = pub
		sinks = append(sinks, pub)
		deps = append(deps, api.Dependency{Name: "rabbitmq", Pinger: amqpPinger(conn)})
		log.Info("connected to rabbitmq", zap.String("otp_queue", cfg.OTPQueue), zap.String("exchange", cfg.EventsExchange))
	}

	var verifier booking.Verifier
	switch cfg.OTPMode {
	case config.OTPModeStatic:
		log.Warn("static otp mode enabled; do not use outside local runs")
		verifier = verification.NewStaticVerifier(cfg.OTPStaticCode)
	default:
		rdb, err := redisclient.NewClient(rootCtx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			PoolSize: cfg.RedisPoolSize,
			Timeout:  cfg.RedisTimeout,
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				log.Warn("error closing redis", zap.Error(err))
			}
		}()
		log.Info("connected to redis", zap.String("addr", cfg.RedisAddr))

		deps = append(deps, api.Dependency{Name: "redis", Pinger: redisPinger(rdb)})
		verifier = verification.NewOTPService(redisclient.NewOTPStore(rdb), sender, verification.OTPOptions{
			Length:      cfg.OTPLength,
			MaxAttempts: cfg.OTPMaxAttempts,
			Cooldown:    cfg.OTPCooldown,
		}, log.Named("otp"))
	}

	events := booking.NewEvents(clk, log, sinks...)
	cat := catalog.New(catalog.NewPgDirectory(pgPool), cfg.SlotDuration, clk, cfg.Location)

	handlers := &api.Handlers{
		Catalog:      cat,
		Locks:        booking.NewLockManager(cat, store, cfg.LockTTL, clk, events, log.Named("locks")),
		Booking:      booking.NewService(store, verifier, clk, events, log.Named("booking")),
		Appointments: appointment.NewService(store, cat, cat.Today),
		Clock:        clk,
		Log:          log,
	}

	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: api.NewRouter(api.RouterConfig{
			Handlers:    handlers,
			Health:      api.NewHealthHandler(cfg.Env, version, deps...),
			Tokens:      auth.NewTokens(cfg.JWTSecret, auth.DefaultIssuer),
			Log:         log,
			CORSOrigins: cfg.CORSOrigins,
			RateLimit:   cfg.RateLimit,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", srv.Addr),
			zap.Duration("lock_ttl", cfg.LockTTL), zap.Duration("slot_duration", cfg.SlotDuration))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-rootCtx.Done():
	}

	log.Info("shutting down api-server", zap.Duration("timeout", cfg.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func redisPinger(rdb *redis.Client) api.PingFunc {
	return func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
}

func amqpPinger(conn *amqp091.Connection) api.PingFunc {
	return func(context.Context) error {
		if conn.IsClosed() {
			return amqp091.ErrClosed
		}
		return nil
	}
}
