package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/smukkama/airquality-pipeline/internal/aggregation"
	"github.com/smukkama/airquality-pipeline/internal/alerting"
	"github.com/smukkama/airquality-pipeline/internal/api"
	"github.com/smukkama/airquality-pipeline/internal/database"
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
	gin.SetMode(gin.ReleaseMode)

	driver := database.Driver(cfg.Database.Driver)
	dsn := cfg.Database.ConnectionString()
	if driver == database.SQLite {
		dsn = database.SQLiteDSN(cfg.Database.Path)
	}
	db, err := database.Connect(driver, dsn)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Acknowledgments go straight to the database; the pipeline re-syncs its
	// alert state from there at the start of every run
	evaluator := alerting.NewEvaluator(cfg.Alerts.Tiers, nil, db, logger)
	handler := api.NewHandler(db, evaluator, aggregation.NewDailyAggregator(db, logger), logger)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("API listening", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown failed", "error", err)
	}
}
