// Package pipeline drives extract, transform, load and alert runs.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/smukkama/airquality-pipeline/internal/lock"
	"github.com/smukkama/airquality-pipeline/internal/models"
	"github.com/smukkama/airquality-pipeline/internal/sources"
	"github.com/smukkama/airquality-pipeline/internal/transform"
)

var (
	// ErrRunSkipped is returned when another run holds the run lock
	ErrRunSkipped = errors.New("run skipped: lock held by another run")
	// ErrAllSourcesFailed is returned when no source produced data
	ErrAllSourcesFailed = errors.New("all sources failed")
)

// Store is the load adapter: audit rows plus idempotent, atomic upserts
type Store interface {
	UpsertLocation(ctx context.Context, loc models.Location) (int64, error)
	UpsertReadings(ctx context.Context, runID string, readings []models.ScoredReading) (int64, error)
	CreateRun(ctx context.Context, run *models.PipelineRun) error
	FinishRun(ctx context.Context, run *models.PipelineRun) error
}

// Alerter turns scored readings into alerts
type Alerter interface {
	Sync(ctx context.Context) error
	Evaluate(ctx context.Context, runID string, scored []models.ScoredReading) ([]*models.AlertEvent, error)
}

// Sink delivers alerts. Failures are logged and never fail the run.
type Sink interface {
	Publish(ctx context.Context, alerts []*models.AlertEvent) error
}

// Rollup refreshes aggregates after a load. Failures are logged only.
type Rollup interface {
	RollupReadings(ctx context.Context, readings []models.ScoredReading) (int64, error)
}

// ExtractMode selects how sources are consulted
type ExtractMode string

const (
	// ExtractFallback tries sources in priority order until one succeeds
	ExtractFallback ExtractMode = "fallback"
	// ExtractAll queries every source concurrently and merges the results
	ExtractAll ExtractMode = "all"
)

// Config tunes the orchestrator
type Config struct {
	Interval      time.Duration
	Lookback      time.Duration
	SourceTimeout time.Duration
	LockTTL       time.Duration
	Mode          ExtractMode
	Retry         Backoff
}

// Deps are the orchestrator's collaborators. Sink and Rollup are optional.
type Deps struct {
	Sources   []sources.Source
	Locations []models.Location
	Engine    *transform.Engine
	Store     Store
	Alerter   Alerter
	Sink      Sink
	Rollup    Rollup
	Locker    lock.Locker
	Clock     Clock
	Logger    *slog.Logger
}

// RunLockName is the lock every run holds for its whole duration. One fixed
// name keeps a scheduled run and a manual one from overlapping even when they
// start on either side of an interval boundary.
const RunLockName = "pipeline:run"

// Orchestrator runs the pipeline once per call to RunOnce. Runs are mutually
// exclusive through Locker.
type Orchestrator struct {
	cfg  Config
	deps Deps

	logger       *slog.Logger
	onTransition TransitionFunc

	mu    sync.Mutex
	stage Stage
}

// NewOrchestrator creates an orchestrator, filling unset config with defaults
func NewOrchestrator(cfg Config, deps Deps) *Orchestrator {
	if cfg.Interval <= 0 {
		cfg.Interval = 6 * time.Hour
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = cfg.Interval
	}
	if cfg.SourceTimeout <= 0 {
		cfg.SourceTimeout = 30 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = cfg.Interval
	}
	if cfg.Mode == "" {
		cfg.Mode = ExtractFallback
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultBackoff()
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}
	if deps.Locker == nil {
		deps.Locker = lock.NewMemory()
	}
	if deps.Engine == nil {
		deps.Engine = transform.NewEngine(nil)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	return &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger.With("component", "pipeline"),
		stage:  StageIdle,
	}
}

// OnTransition registers a hook called on every stage change
func (o *Orchestrator) OnTransition(fn TransitionFunc) {
	o.onTransition = fn
}

// Stage returns the current stage
func (o *Orchestrator) Stage() Stage {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stage
}

func (o *Orchestrator) transition(runID string, to Stage) {
	o.mu.Lock()
	from := o.stage
	o.stage = to
	o.mu.Unlock()

	o.logger.Info("Stage transition", "run_id", runID, "from", from, "to", to)
	if o.onTransition != nil {
		o.onTransition(runID, from, to)
	}
}

// RunOnce executes one end-to-end run and returns its audit record. The
// returned error is nil for Succeeded and PartialFailure runs.
func (o *Orchestrator) RunOnce(ctx context.Context) (*models.PipelineRun, error) {
	now := o.deps.Clock.Now().UTC()

	lockName := RunLockName
	lease, ok, err := o.deps.Locker.TryLock(ctx, lockName, o.cfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !ok {
		o.logger.Warn("Run skipped, lock held", "lock", lockName)
		return nil, ErrRunSkipped
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			o.logger.Error("Failed to release run lock", "lock", lockName, "error", err)
		}
	}()

	run := &models.PipelineRun{
		ID:        uuid.NewString(),
		StartedAt: now,
		Status:    models.RunRunning,
	}
	if err := retry(ctx, o.cfg.Retry, o.deps.Clock, o.logger, "create run", func(ctx context.Context) error {
		return o.deps.Store.CreateRun(ctx, run)
	}); err != nil {
		return nil, fmt.Errorf("failed to record run start: %w", err)
	}

	o.logger.Info("Pipeline run started", "run_id", run.ID, "mode", o.cfg.Mode)
	runErr := o.execute(ctx, run, now)
	return run, o.finish(ctx, run, runErr)
}

// execute walks the stages. It fills in run counters and status; the
// returned error is the run-fatal one, if any.
func (o *Orchestrator) execute(ctx context.Context, run *models.PipelineRun, now time.Time) error {
	var problems []string

	// Extracting
	o.transition(run.ID, StageExtracting)
	window := sources.Window{From: now.Add(-o.cfg.Lookback), To: now}
	raw, attempts := o.extract(ctx, window)

	run.SourcesAttempted = len(attempts)
	for _, a := range attempts {
		if a.err == nil {
			run.SourcesSucceeded++
			continue
		}
		problems = append(problems, a.err.Error())
	}
	if run.SourcesSucceeded == 0 {
		run.Status = models.RunFailed
		run.ErrorSummary = strings.Join(problems, "; ")
		return ErrAllSourcesFailed
	}

	// Transforming
	o.transition(run.ID, StageTransforming)
	result := o.deps.Engine.Process(raw)
	run.RecordsProcessed = len(result.Readings)
	run.RecordsRejected = result.Rejected.Total()
	run.RecordsImputed = result.Imputed
	o.logger.Info("Batch transformed",
		"run_id", run.ID,
		"raw", len(raw),
		"scored", len(result.Readings),
		"rejected", run.RecordsRejected,
		"imputed", run.RecordsImputed)
	for _, ov := range result.Overall {
		o.logger.Debug("Overall AQI",
			"location", ov.LocationRef,
			"observed_at", ov.ObservedAt,
			"aqi", ov.AQI,
			"category", ov.Category,
			"dominant", ov.Dominant)
	}

	// Loading
	o.transition(run.ID, StageLoading)
	if err := o.load(ctx, run.ID, result.Readings); err != nil {
		run.Status = models.RunFailed
		run.ErrorSummary = strings.Join(append(problems, "load: "+err.Error()), "; ")
		return err
	}

	if o.deps.Rollup != nil {
		if _, err := o.deps.Rollup.RollupReadings(ctx, result.Readings); err != nil {
			o.logger.Error("Daily rollup failed", "run_id", run.ID, "error", err)
			problems = append(problems, "rollup: "+err.Error())
		}
	}

	// Alerting
	o.transition(run.ID, StageAlerting)
	alerts, err := o.alert(ctx, run.ID, result.Readings)
	run.AlertsRaised = len(alerts)
	if len(alerts) > 0 && o.deps.Sink != nil {
		if perr := o.deps.Sink.Publish(ctx, alerts); perr != nil {
			o.logger.Error("Alert delivery failed", "run_id", run.ID, "alerts", len(alerts), "error", perr)
		}
	}
	if err != nil {
		run.Status = models.RunFailed
		run.ErrorSummary = strings.Join(append(problems, "alerting: "+err.Error()), "; ")
		return err
	}

	run.ErrorSummary = strings.Join(problems, "; ")
	if run.SourcesSucceeded < run.SourcesAttempted {
		run.Status = models.RunPartialFailure
	} else {
		run.Status = models.RunSucceeded
	}
	return nil
}

func (o *Orchestrator) load(ctx context.Context, runID string, readings []models.ScoredReading) error {
	for _, loc := range o.deps.Locations {
		if loc.Key == "" {
			loc.Key = models.LocationKey(loc.City, loc.District, loc.Latitude, loc.Longitude)
		}
		if err := retry(ctx, o.cfg.Retry, o.deps.Clock, o.logger, "upsert location", func(ctx context.Context) error {
			_, err := o.deps.Store.UpsertLocation(ctx, loc)
			return err
		}); err != nil {
			return err
		}
	}

	var affected int64
	err := retry(ctx, o.cfg.Retry, o.deps.Clock, o.logger, "upsert readings", func(ctx context.Context) error {
		n, err := o.deps.Store.UpsertReadings(ctx, runID, readings)
		affected = n
		return err
	})
	if err != nil {
		return err
	}

	o.logger.Info("Batch loaded", "run_id", runID, "rows", affected)
	return nil
}

// alert evaluates readings, retrying conflicts. Alerts raised by a failed
// attempt are kept: their state is already recorded, so a retry suppresses them.
func (o *Orchestrator) alert(ctx context.Context, runID string, readings []models.ScoredReading) ([]*models.AlertEvent, error) {
	if o.deps.Alerter == nil {
		return nil, nil
	}

	var all []*models.AlertEvent
	err := retry(ctx, o.cfg.Retry, o.deps.Clock, o.logger, "evaluate alerts", func(ctx context.Context) error {
		if err := o.deps.Alerter.Sync(ctx); err != nil {
			return err
		}
		raised, err := o.deps.Alerter.Evaluate(ctx, runID, readings)
		all = append(all, raised...)
		return err
	})
	return all, err
}

func (o *Orchestrator) finish(ctx context.Context, run *models.PipelineRun, runErr error) error {
	finished := o.deps.Clock.Now().UTC()
	run.FinishedAt = &finished
	if !run.Status.Terminal() {
		run.Status = models.RunFailed
	}

	o.transition(run.ID, terminalStage(run.Status))

	writeCtx := context.WithoutCancel(ctx)
	if err := retry(writeCtx, o.cfg.Retry, o.deps.Clock, o.logger, "finish run", func(ctx context.Context) error {
		return o.deps.Store.FinishRun(ctx, run)
	}); err != nil {
		o.logger.Error("Failed to record run result", "run_id", run.ID, "error", err)
		if runErr == nil {
			runErr = fmt.Errorf("failed to record run result: %w", err)
		}
	}

	o.logger.Info("Pipeline run finished",
		"run_id", run.ID,
		"status", run.Status,
		"sources_attempted", run.SourcesAttempted,
		"sources_succeeded", run.SourcesSucceeded,
		"records_processed", run.RecordsProcessed,
		"alerts_raised", run.AlertsRaised,
		"duration", finished.Sub(run.StartedAt))

	o.transition(run.ID, StageIdle)
	return runErr
}

type sourceAttempt struct {
	source string
	count  int
	err    error
}

func (o *Orchestrator) extract(ctx context.Context, window sources.Window) ([]models.RawReading, []sourceAttempt) {
	if o.cfg.Mode == ExtractAll {
		return o.extractAll(ctx, window)
	}
	return o.extractFallback(ctx, window)
}

// extractFallback consults sources in priority order and stops at the first success
func (o *Orchestrator) extractFallback(ctx context.Context, window sources.Window) ([]models.RawReading, []sourceAttempt) {
	var attempts []sourceAttempt
	for _, src := range o.deps.Sources {
		readings, err := o.fetch(ctx, src, window)
		attempts = append(attempts, sourceAttempt{source: src.Name(), count: len(readings), err: err})
		if err == nil {
			return readings, attempts
		}
		if ctx.Err() != nil {
			break
		}
	}
	return nil, attempts
}

// extractAll queries every source at once; results are merged in priority order
func (o *Orchestrator) extractAll(ctx context.Context, window sources.Window) ([]models.RawReading, []sourceAttempt) {
	results := make([][]models.RawReading, len(o.deps.Sources))
	attempts := make([]sourceAttempt, len(o.deps.Sources))

	var g errgroup.Group
	for i, src := range o.deps.Sources {
		g.Go(func() error {
			readings, err := o.fetch(ctx, src, window)
			results[i] = readings
			attempts[i] = sourceAttempt{source: src.Name(), count: len(readings), err: err}
			return nil
		})
	}
	g.Wait()

	var merged []models.RawReading
	for i := range results {
		if attempts[i].err == nil {
			merged = append(merged, results[i]...)
		}
	}
	return merged, attempts
}

// fetch calls one source under the per-source timeout. An empty result is a failure.
func (o *Orchestrator) fetch(ctx context.Context, src sources.Source, window sources.Window) ([]models.RawReading, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, o.cfg.SourceTimeout)
	defer cancel()

	start := time.Now()
	readings, err := src.Fetch(fetchCtx, o.deps.Locations, window)
	if err == nil && len(readings) == 0 {
		err = &sources.Error{Source: src.Name(), Kind: sources.KindEmpty}
	}
	if err != nil {
		var se *sources.Error
		if !errors.As(err, &se) {
			err = &sources.Error{Source: src.Name(), Kind: sources.KindOf(err), Err: err}
		}
		o.logger.Warn("Source failed",
			"source", src.Name(),
			"kind", sources.KindOf(err),
			"elapsed", time.Since(start),
			"error", err)
		return nil, err
	}

	o.logger.Info("Source succeeded", "source", src.Name(), "readings", len(readings), "elapsed", time.Since(start))
	return readings, nil
}
