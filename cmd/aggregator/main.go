package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/smukkama/airquality-pipeline/internal/aggregation"
	"github.com/smukkama/airquality-pipeline/internal/database"
	"github.com/smukkama/airquality-pipeline/pkg/config"
)

// aggregator rebuilds daily summaries for a range of days, e.g. after a
// backfill or a change to the cleaning rules
func main() {
	yesterday := time.Now().UTC().AddDate(0, 0, -1).Format(time.DateOnly)
	from := flag.String("from", yesterday, "first day to aggregate (YYYY-MM-DD, UTC)")
	to := flag.String("to", "", "last day to aggregate (defaults to -from)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	start, err := time.Parse(time.DateOnly, *from)
	if err != nil {
		logger.Error("Invalid -from", "value", *from, "error", err)
		os.Exit(2)
	}
	end := start
	if *to != "" {
		if end, err = time.Parse(time.DateOnly, *to); err != nil {
			logger.Error("Invalid -to", "value", *to, "error", err)
			os.Exit(2)
		}
	}
	if end.Before(start) {
		logger.Error("-to is before -from", "from", *from, "to", *to)
		os.Exit(2)
	}

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

	agg := aggregation.NewDailyAggregator(db, logger)
	rows, err := agg.AggregateRange(context.Background(), start, end)
	if err != nil {
		logger.Error("Daily aggregation failed", "error", err)
		db.Close()
		os.Exit(1)
	}
	logger.Info("Daily aggregation complete", "from", *from, "to", end.Format(time.DateOnly), "rows", rows)
}
