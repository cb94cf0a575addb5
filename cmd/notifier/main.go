package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smukkama/airquality-pipeline/internal/notification"
	"github.com/smukkama/airquality-pipeline/internal/queue"
	"github.com/smukkama/airquality-pipeline/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)
	logger.Info("Starting notification service", "topic", cfg.Kafka.TopicAlerts, "group", cfg.Kafka.GroupID)

	email := notification.NewEmailSink(&cfg.SMTP, logger)
	if !email.Configured() {
		logger.Warn("SMTP not configured, digests will be logged only")
	}

	consumer := queue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicAlerts, cfg.Kafka.GroupID)
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatcher := queue.NewDispatcher(consumer, email.Publish, 50, 30*time.Second, logger)
	if err := dispatcher.Run(ctx); err != nil {
		logger.Error("Dispatcher stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Shut down gracefully")
}
