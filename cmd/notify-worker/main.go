package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/campuscare/counselling-booking/internal/config"
	"github.com/campuscare/counselling-booking/internal/notify"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr)
		boot.Fatal().Err(err).Msg("config load error")
	}

	logger := newLogger(cfg.Env, "notify-worker")
	logger.Info().Str("env", cfg.Env).Msg("notify-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mailer := notify.NewLogMailer(&logger)
	consumer := notify.NewConsumer(cfg.RabbitURL, mailer, &logger)

	if err := consumer.Connect(); err != nil {
		logger.Fatal().Err(err).Msg("rabbitmq connection error")
	}
	defer consumer.Close()
	logger.Info().Msg("connected to RabbitMQ, consuming")

	if err := consumer.Run(rootCtx); err != nil {
		logger.Fatal().Err(err).Msg("consumer stopped with error")
	}

	logger.Info().Msg("shutting down notify-worker")
}

func newLogger(env, service string) zerolog.Logger {
	if env == "dev" {
		out := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(out).With().Timestamp().Str("service", service).Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Str("service", service).Logger()
}
