// Package alerting turns scored readings into de-duplicated alert events.
package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/smukkama/airquality-pipeline/internal/models"
)

// DefaultSeverities are the alert tiers used when none are configured
var DefaultSeverities = []models.Severity{
	{Name: "Unhealthy", MinAQI: 151},
	{Name: "Very-Unhealthy", MinAQI: 201},
	{Name: "Hazardous", MinAQI: 301},
}

// Recorder persists alert events
type Recorder interface {
	// InsertAlert stores a new alert and sets its ID
	InsertAlert(ctx context.Context, a *models.AlertEvent) error
	CloseAlert(ctx context.Context, id int64, at time.Time) error
	AcknowledgeAlert(ctx context.Context, id int64, at time.Time) (*models.AlertEvent, error)
	OpenAlerts(ctx context.Context) ([]*models.AlertEvent, error)
}

// Evaluator checks scored readings against severity tiers. At most one alert
// is open per (location, parameter); a breach at a higher tier closes the
// open alert and replaces it, anything else is suppressed.
type Evaluator struct {
	tiers    []models.Severity
	state    StateStore
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewEvaluator creates an alert evaluator. recorder may be nil, in which case
// alerts only live in the state store.
func NewEvaluator(tiers []models.Severity, state StateStore, recorder Recorder, logger *slog.Logger) *Evaluator {
	if len(tiers) == 0 {
		tiers = DefaultSeverities
	}
	if state == nil {
		state = NewMemoryStateStore()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		tiers:    rankTiers(tiers),
		state:    state,
		recorder: recorder,
		logger:   logger.With("component", "alerting"),
		now:      time.Now,
	}
}

// rankTiers sorts tiers by threshold and numbers them from 1
func rankTiers(in []models.Severity) []models.Severity {
	tiers := make([]models.Severity, len(in))
	copy(tiers, in)
	sort.SliceStable(tiers, func(i, j int) bool { return tiers[i].MinAQI < tiers[j].MinAQI })
	for i := range tiers {
		tiers[i].Rank = i + 1
	}
	return tiers
}

// SetClock overrides the time source used for triggered/closed timestamps
func (e *Evaluator) SetClock(now func() time.Time) {
	e.now = now
}

// Tiers returns the ranked severity tiers
func (e *Evaluator) Tiers() []models.Severity {
	out := make([]models.Severity, len(e.tiers))
	copy(out, e.tiers)
	return out
}

// Classify returns the highest tier aqi reaches
func (e *Evaluator) Classify(aqi int) (models.Severity, bool) {
	for i := len(e.tiers) - 1; i >= 0; i-- {
		if aqi >= e.tiers[i].MinAQI {
			return e.tiers[i], true
		}
	}
	return models.Severity{}, false
}

// Sync reloads the state store from the recorder's open alerts, picking up
// acknowledgments made by other processes
func (e *Evaluator) Sync(ctx context.Context) error {
	if e.recorder == nil {
		return nil
	}

	alerts, err := e.recorder.OpenAlerts(ctx)
	if err != nil {
		return fmt.Errorf("failed to load open alerts: %w", err)
	}

	open := make([]*OpenAlert, 0, len(alerts))
	for _, a := range alerts {
		open = append(open, &OpenAlert{
			AlertID:     a.ID,
			LocationRef: a.LocationRef,
			Parameter:   a.Parameter,
			Severity:    a.Severity,
			Rank:        a.SeverityRank,
			TriggeredAt: a.TriggeredAt,
		})
	}
	return e.state.Replace(ctx, open)
}

// Evaluate raises alerts for readings that cross a tier. Readings are visited
// in (observed_at, location, parameter) order. On error the alerts raised so
// far are returned alongside it.
func (e *Evaluator) Evaluate(ctx context.Context, runID string, scored []models.ScoredReading) ([]*models.AlertEvent, error) {
	ordered := make([]models.ScoredReading, len(scored))
	copy(ordered, scored)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if !a.ObservedAt.Equal(b.ObservedAt) {
			return a.ObservedAt.Before(b.ObservedAt)
		}
		if a.LocationRef != b.LocationRef {
			return a.LocationRef < b.LocationRef
		}
		return a.Parameter.Rank() < b.Parameter.Rank()
	})

	var raised []*models.AlertEvent
	suppressed := 0
	for _, r := range ordered {
		tier, ok := e.Classify(r.AQI)
		if !ok {
			continue
		}

		alert, err := e.evaluateReading(ctx, runID, r, tier)
		if err != nil {
			return raised, err
		}
		if alert == nil {
			suppressed++
			continue
		}
		raised = append(raised, alert)
	}

	e.logger.Info("Alert evaluation complete",
		"readings", len(scored),
		"raised", len(raised),
		"suppressed", suppressed)
	return raised, nil
}

func (e *Evaluator) evaluateReading(ctx context.Context, runID string, r models.ScoredReading, tier models.Severity) (*models.AlertEvent, error) {
	open, err := e.state.GetOpen(ctx, r.LocationRef, r.Parameter)
	if err != nil {
		return nil, err
	}
	if open != nil && open.Rank >= tier.Rank {
		return nil, nil
	}

	now := e.now().UTC()
	if open != nil {
		if e.recorder != nil && open.AlertID > 0 {
			if err := e.recorder.CloseAlert(ctx, open.AlertID, now); err != nil {
				return nil, fmt.Errorf("failed to close superseded alert %d: %w", open.AlertID, err)
			}
		}
		e.logger.Info("Alert superseded",
			"location", r.LocationRef,
			"parameter", r.Parameter,
			"from", open.Severity,
			"to", tier.Name)
	}

	alert := &models.AlertEvent{
		LocationRef:    r.LocationRef,
		Parameter:      r.Parameter,
		AQI:            r.AQI,
		Category:       r.Category,
		Severity:       tier.Name,
		SeverityRank:   tier.Rank,
		Value:          r.Value,
		Unit:           r.Unit,
		Message:        message(tier, r),
		Recommendation: r.HealthRecommendation,
		RunID:          runID,
		TriggeredAt:    now,
	}

	if e.recorder != nil {
		if err := e.recorder.InsertAlert(ctx, alert); err != nil {
			return nil, fmt.Errorf("failed to insert alert: %w", err)
		}
	}

	if err := e.state.SetOpen(ctx, &OpenAlert{
		AlertID:     alert.ID,
		LocationRef: alert.LocationRef,
		Parameter:   alert.Parameter,
		Severity:    alert.Severity,
		Rank:        alert.SeverityRank,
		TriggeredAt: alert.TriggeredAt,
	}); err != nil {
		return nil, err
	}

	e.logger.Warn("Alert raised",
		"location", alert.LocationRef,
		"parameter", alert.Parameter,
		"aqi", alert.AQI,
		"severity", alert.Severity)
	return alert, nil
}

// Acknowledge marks an alert acknowledged and frees its (location, parameter)
// slot so the next breach raises a fresh alert
func (e *Evaluator) Acknowledge(ctx context.Context, id int64) (*models.AlertEvent, error) {
	if e.recorder == nil {
		return nil, fmt.Errorf("acknowledging alert %d: no recorder configured", id)
	}

	alert, err := e.recorder.AcknowledgeAlert(ctx, id, e.now().UTC())
	if err != nil {
		return nil, err
	}

	open, err := e.state.GetOpen(ctx, alert.LocationRef, alert.Parameter)
	if err != nil {
		return nil, err
	}
	if open != nil && open.AlertID == alert.ID {
		if err := e.state.ClearOpen(ctx, alert.LocationRef, alert.Parameter); err != nil {
			return nil, err
		}
	}

	e.logger.Info("Alert acknowledged", "alert_id", id, "location", alert.LocationRef, "parameter", alert.Parameter)
	return alert, nil
}

func message(tier models.Severity, r models.ScoredReading) string {
	return fmt.Sprintf("%s %s levels at %s. Value: %.2f %s, AQI: %d, Category: %s",
		tier.Name, r.Parameter, r.LocationRef, r.Value, r.Unit, r.AQI, r.Category)
}
