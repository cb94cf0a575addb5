package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/smukkama/airquality-pipeline/internal/aggregation"
	"github.com/smukkama/airquality-pipeline/internal/alerting"
	"github.com/smukkama/airquality-pipeline/internal/database"
	"github.com/smukkama/airquality-pipeline/internal/lock"
	"github.com/smukkama/airquality-pipeline/internal/models"
	"github.com/smukkama/airquality-pipeline/internal/notification"
	"github.com/smukkama/airquality-pipeline/internal/pipeline"
	"github.com/smukkama/airquality-pipeline/internal/quality"
	"github.com/smukkama/airquality-pipeline/internal/queue"
	"github.com/smukkama/airquality-pipeline/internal/sources"
	"github.com/smukkama/airquality-pipeline/internal/transform"
	"github.com/smukkama/airquality-pipeline/pkg/config"
)

// Process exit codes
const (
	exitOK      = 0
	exitFailed  = 1
	exitConfig  = 2
	exitSkipped = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	runOnce := flag.Bool("run-once", false, "execute a single run and exit")
	migrate := flag.Bool("migrate", true, "apply database migrations at startup")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return exitConfig
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting air quality pipeline",
		"run_once", *runOnce,
		"interval", cfg.Pipeline.Interval,
		"mode", cfg.Pipeline.Mode,
		"db_driver", cfg.Database.Driver)

	driver := database.Driver(cfg.Database.Driver)
	if *migrate {
		if err := database.RunMigrations(driver, cfg.Database.MigrationURL(), logger); err != nil {
			logger.Error("Failed to run migrations", "error", err)
			return exitFailed
		}
	}

	dsn := cfg.Database.ConnectionString()
	if driver == database.SQLite {
		dsn = database.SQLiteDSN(cfg.Database.Path)
	}
	db, err := database.Connect(driver, dsn)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		return exitFailed
	}
	defer db.Close()
	logger.Info("Connected to database")

	var locker lock.Locker = db
	var state alerting.StateStore = alerting.NewMemoryStateStore()
	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Error("Failed to connect to Redis", "addr", cfg.Redis.Addr, "error", err)
			return exitFailed
		}
		logger.Info("Connected to Redis", "addr", cfg.Redis.Addr)

		locker = lock.NewRedis(redisClient, "aq:lock:")
		state = alerting.NewRedisStateStore(redisClient, cfg.Redis.StateTTL)
	}

	sink := notification.Multi{notification.NewFileSink(cfg.Pipeline.AlertLogDir, logger)}
	if cfg.Kafka.Enabled {
		if err := queue.EnsureTopic(cfg.Kafka.Brokers, cfg.Kafka.TopicAlerts, cfg.Kafka.NumPartitions, 1, logger); err != nil {
			logger.Warn("Could not create alert topic", "topic", cfg.Kafka.TopicAlerts, "error", err)
		}
		producer := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicAlerts)
		defer producer.Close()
		sink = append(sink, notification.NewKafkaSink(producer))
	} else {
		// Without Kafka there is no notifier service; e-mail from here
		sink = append(sink, notification.NewEmailSink(&cfg.SMTP, logger))
	}

	params, _ := cfg.SourceParameters()
	ceilings, _ := cfg.CeilingTable()
	cleaner := quality.NewCleaner(quality.Config{
		MADMultiplier: cfg.Quality.MADMultiplier,
		MinGroupSize:  cfg.Quality.MinGroupSize,
		Ceilings:      ceilings,
	})

	orch := pipeline.NewOrchestrator(pipeline.Config{
		Interval:      cfg.Pipeline.Interval,
		Lookback:      cfg.Pipeline.Lookback,
		SourceTimeout: cfg.Pipeline.SourceTimeout,
		Mode:          pipeline.ExtractMode(cfg.Pipeline.Mode),
		Retry: pipeline.Backoff{
			Base:        cfg.Pipeline.RetryBase,
			Max:         cfg.Pipeline.RetryMax,
			Factor:      2,
			MaxAttempts: cfg.Pipeline.RetryAttempts,
		},
	}, pipeline.Deps{
		Sources:   buildSources(cfg, params, logger),
		Locations: cfg.ModelLocations(),
		Engine:    transform.NewEngine(cleaner),
		Store:     db,
		Alerter:   alerting.NewEvaluator(cfg.Alerts.Tiers, state, db, logger),
		Sink:      sink,
		Rollup:    aggregation.NewDailyAggregator(db, logger),
		Locker:    locker,
		Logger:    logger,
	})

	if *runOnce {
		return runSingle(ctx, orch, logger)
	}

	scheduler := pipeline.NewScheduler(orch, pipeline.SystemClock{}, cfg.Pipeline.Interval, logger)
	if err := scheduler.Run(ctx); err != nil {
		logger.Error("Scheduler stopped with error", "error", err)
		return exitFailed
	}
	logger.Info("Shut down gracefully")
	return exitOK
}

func runSingle(ctx context.Context, orch *pipeline.Orchestrator, logger *slog.Logger) int {
	result, err := orch.RunOnce(ctx)
	switch {
	case errors.Is(err, pipeline.ErrRunSkipped):
		logger.Warn("Another run holds the lock for this window")
		return exitSkipped
	case err != nil:
		logger.Error("Pipeline run failed", "error", err)
		return exitFailed
	}

	switch result.Status {
	case models.RunSucceeded, models.RunPartialFailure:
		return exitOK
	default:
		return exitFailed
	}
}

// buildSources returns the adapters in configured priority order
func buildSources(cfg *config.Config, params []models.Parameter, logger *slog.Logger) []sources.Source {
	order := cfg.Sources.Order
	if cfg.Sources.Synthetic && !slices.Contains(order, "synthetic") {
		order = append(slices.Clone(order), "synthetic")
	}

	var out []sources.Source
	for _, name := range order {
		switch name {
		case "openaq":
			out = append(out, sources.NewOpenAQ(sources.OpenAQConfig{
				Endpoint:   cfg.Sources.OpenAQURL,
				APIKey:     cfg.Sources.OpenAQKey,
				Parameters: params,
				Timeout:    cfg.Pipeline.SourceTimeout,
				Retries:    cfg.Sources.RequestRetries,
			}, logger))
		case "airnow":
			out = append(out, sources.NewAirNow(sources.AirNowConfig{
				Endpoint: cfg.Sources.AirNowURL,
				APIKey:   cfg.Sources.AirNowKey,
				Distance: cfg.Sources.AirNowRadius,
				Timeout:  cfg.Pipeline.SourceTimeout,
				Retries:  cfg.Sources.RequestRetries,
			}, logger))
		case "synthetic":
			out = append(out, sources.NewSynthetic(params))
		}
	}
	return out
}
