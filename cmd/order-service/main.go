package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderserver/internal/app"
	"github.com/vladislavdragonenkov/orderserver/internal/version"
)

// setupLogger настраивает формат и уровень логирования для сервиса.
// Неизвестный уровень оставляет info.
func setupLogger(level string) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	parsed, err := log.ParseLevel(level)
	if err != nil {
		log.SetLevel(log.InfoLevel)
		log.WithField("log_level", level).Warn("unknown log level, using info")
		return
	}
	log.SetLevel(parsed)
}

// loadEnv подхватывает .env, если он есть. Переменные окружения имеют приоритет.
func loadEnv(files ...string) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).Warn("failed to read .env file")
	}
}

var runApp = app.Run

func run(ctx context.Context) error {
	cfg, err := app.LoadConfig(nil)
	if err != nil {
		return err
	}
	setupLogger(cfg.LogLevel)

	log.WithFields(log.Fields{
		"version":        version.String(),
		"http_addr":      cfg.HTTPAddr,
		"metrics_addr":   cfg.MetricsAddr,
		"storage_driver": cfg.StorageDriver,
		"publish_mode":   cfg.PublishMode,
		"kafka_enabled":  cfg.KafkaEnabled(),
	}).Info("starting order service")

	if err := runApp(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	log.Info("order service stopped")
	return nil
}

func main() {
	setupLogger("info")
	loadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.WithError(err).Fatal("order service terminated with error")
	}
}
