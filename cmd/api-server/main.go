package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/campuscare/counselling-booking/internal/api"
	"github.com/campuscare/counselling-booking/internal/auth"
	"github.com/campuscare/counselling-booking/internal/booking"
	"github.com/campuscare/counselling-booking/internal/config"
	"github.com/campuscare/counselling-booking/internal/db"
	"github.com/campuscare/counselling-booking/internal/events"
	"github.com/campuscare/counselling-booking/internal/payment"
	"github.com/campuscare/counselling-booking/internal/payu"
	redisclient "github.com/campuscare/counselling-booking/internal/redis"
)

const version = "1.2.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr)
		boot.Fatal().Err(err).Msg("config load error")
	}

	logger := newLogger(cfg.Env, "api-server")
	logger.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Msg("api-server starting up")

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

	migCtx, cancelMig := context.WithTimeout(rootCtx, 30*time.Second)
	err = db.Migrate(migCtx, pgPool)
	cancelMig()
	if err != nil {
		logger.Fatal().Err(err).Msg("migration error")
	}

	// Connect Redis
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

	// Connect RabbitMQ
	publisher, err := events.NewRabbitPublisher(cfg.RabbitURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("rabbitmq connection error")
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn().Err(err).Msg("error closing rabbitmq")
		}
	}()
	logger.Info().Msg("connected to RabbitMQ")

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

	authSvc := auth.NewService(repo, cfg.JWTSecret, &logger)
	bookingSvc := booking.NewService(repo, locker, gateway, publisher, cfg.PaymentWindow, &logger)
	paymentSvc := payment.NewService(repo, gateway, publisher, &logger)

	router := api.NewRouter(api.RouterConfig{
		Auth:      authSvc,
		Booking:   bookingSvc,
		Payment:   paymentSvc,
		PgPool:    pgPool,
		Redis:     rdb,
		JWTSecret: cfg.JWTSecret,
		Env:       cfg.Env,
		Version:   version,
		Logger:    &logger,
		RateRPS:   100,
		RateBurst: 200,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-rootCtx.Done()
	logger.Info().Msg("shutting down api-server")

	shutCtx, cancelShut := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShut()
	if err := srv.Shutdown(shutCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func newLogger(env, service string) zerolog.Logger {
	if env == "dev" {
		out := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(out).With().Timestamp().Str("service", service).Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Str("service", service).Logger()
}
