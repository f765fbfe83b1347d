package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/campuscare/counselling-booking/internal/booking"
	"github.com/campuscare/counselling-booking/internal/config"
	"github.com/campuscare/counselling-booking/internal/db"
	"github.com/campuscare/counselling-booking/internal/events"
	"github.com/campuscare/counselling-booking/internal/payu"
	redisclient "github.com/campuscare/counselling-booking/internal/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr)
		boot.Fatal().Err(err).Msg("config load error")
	}

	logger := newLogger(cfg.Env, "expiry-worker")
	logger.Info().Str("env", cfg.Env).Dur("interval", cfg.ReaperInterval).Msg("expiry-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn().Err(err).Msg("error closing redis")
		}
	}()
	logger.Info().Msg("connected to Redis")

	publisher, err := events.NewRabbitPublisher(cfg.RabbitURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("rabbitmq connection error")
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn().Err(err).Msg("error closing rabbitmq")
		}
	}()

	gateway := payu.NewClient(payu.Config{
		MerchantKey:  cfg.PayuMerchantKey,
		MerchantSalt: cfg.PayuMerchantSalt,
		BaseURL:      cfg.PayuBaseURL,
		RefundURL:    cfg.PayuRefundURL,
		SuccessURL:   cfg.PayuSuccessURL,
		FailureURL:   cfg.PayuFailureURL,
	}, &logger)

	repo := booking.NewPgRepository(pgPool)
	locker := redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL)
	svc := booking.NewService(repo, locker, gateway, publisher, cfg.PaymentWindow, &logger)

	// Run once at startup
	runOnce(rootCtx, svc, &logger)

	ticker := time.NewTicker(cfg.ReaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping expiry worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, &logger)
		}
	}
}

func runOnce(ctx context.Context, svc *booking.Service, logger *zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	expired, err := svc.ExpireStalePendingPayments(runCtx)
	if err != nil {
		logger.Error().Err(err).Msg("expiry run error")
		return
	}
	logger.Info().Int("expired", expired).Dur("took", time.Since(start)).Msg("expiry run complete")
}

func newLogger(env, service string) zerolog.Logger {
	if env == "dev" {
		out := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(out).With().Timestamp().Str("service", service).Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Str("service", service).Logger()
}
