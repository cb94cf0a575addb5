package alerting

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/smukkama/airquality-pipeline/internal/aqi"
	"github.com/smukkama/airquality-pipeline/internal/models"
)

type fakeRecorder struct {
	nextID int64
	alerts map[int64]*models.AlertEvent
	failOn string
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{alerts: make(map[int64]*models.AlertEvent)}
}

func (f *fakeRecorder) InsertAlert(ctx context.Context, a *models.AlertEvent) error {
	if f.failOn == "insert" {
		return errors.New("insert failed")
	}
	f.nextID++
	a.ID = f.nextID
	cp := *a
	f.alerts[a.ID] = &cp
	return nil
}

func (f *fakeRecorder) CloseAlert(ctx context.Context, id int64, at time.Time) error {
	a, ok := f.alerts[id]
	if !ok {
		return errors.New("not found")
	}
	a.ClosedAt = &at
	return nil
}

func (f *fakeRecorder) AcknowledgeAlert(ctx context.Context, id int64, at time.Time) (*models.AlertEvent, error) {
	a, ok := f.alerts[id]
	if !ok {
		return nil, errors.New("not found")
	}
	a.Acknowledged = true
	a.AcknowledgedAt = &at
	cp := *a
	return &cp, nil
}

func (f *fakeRecorder) OpenAlerts(ctx context.Context) ([]*models.AlertEvent, error) {
	var out []*models.AlertEvent
	for _, a := range f.alerts {
		if a.Open() {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeRecorder) openCount() int {
	n := 0
	for _, a := range f.alerts {
		if a.Open() {
			n++
		}
	}
	return n
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func scored(loc string, p models.Parameter, aqiValue int, at time.Time) models.ScoredReading {
	cat := aqi.CategoryFor(aqiValue)
	return models.ScoredReading{
		CleanedReading: models.CleanedReading{
			LocationRef: loc,
			Parameter:   p,
			Value:       100,
			Unit:        "µg/m³",
			ObservedAt:  at,
			SourceName:  "test",
		},
		AQI:                  aqiValue,
		Category:             cat,
		HealthRecommendation: aqi.HealthRecommendation(cat),
	}
}

func TestEvaluate_RepeatedBreachProducesOneAlert(t *testing.T) {
	ctx := context.Background()
	rec := newFakeRecorder()
	e := NewEvaluator(nil, NewMemoryStateStore(), rec, quietLogger())
	at := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

	alerts, err := e.Evaluate(ctx, "run-1", []models.ScoredReading{
		scored("la", models.PM25, 160, at),
		scored("la", models.PM25, 170, at.Add(time.Hour)),
	})
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("Expected 1 alert, got %d", len(alerts))
	}
	if alerts[0].Severity != "Unhealthy" || alerts[0].RunID != "run-1" {
		t.Errorf("Unexpected alert: %+v", alerts[0])
	}
	if rec.openCount() != 1 {
		t.Errorf("Expected 1 open alert, got %d", rec.openCount())
	}
}

func TestEvaluate_HigherSeveritySupersedes(t *testing.T) {
	ctx := context.Background()
	rec := newFakeRecorder()
	state := NewMemoryStateStore()
	e := NewEvaluator(nil, state, rec, quietLogger())
	at := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

	if _, err := e.Evaluate(ctx, "run-1", []models.ScoredReading{
		scored("la", models.PM25, 160, at),
		scored("la", models.PM25, 155, at.Add(time.Hour)),
	}); err != nil {
		t.Fatal(err)
	}

	alerts, err := e.Evaluate(ctx, "run-2", []models.ScoredReading{
		scored("la", models.PM25, 350, at.Add(2*time.Hour)),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 1 || alerts[0].Severity != "Hazardous" {
		t.Fatalf("Expected one Hazardous alert, got %+v", alerts)
	}
	if rec.openCount() != 1 {
		t.Errorf("Expected exactly 1 open alert, got %d", rec.openCount())
	}
	if rec.alerts[1].ClosedAt == nil {
		t.Error("Expected the Unhealthy alert to be closed")
	}

	open, _ := state.GetOpen(ctx, "la", models.PM25)
	if open == nil || open.Severity != "Hazardous" {
		t.Errorf("Expected Hazardous open state, got %+v", open)
	}
}

func TestEvaluate_LowerSeverityIsSuppressed(t *testing.T) {
	ctx := context.Background()
	rec := newFakeRecorder()
	e := NewEvaluator(nil, nil, rec, quietLogger())
	at := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

	alerts, err := e.Evaluate(ctx, "run-1", []models.ScoredReading{
		scored("la", models.O3, 320, at),
		scored("la", models.O3, 210, at.Add(time.Hour)),
		scored("la", models.O3, 40, at.Add(2*time.Hour)),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 1 {
		t.Errorf("Expected 1 alert, got %d", len(alerts))
	}
	if rec.openCount() != 1 {
		t.Errorf("Expected open alert to survive a clean reading, got %d open", rec.openCount())
	}
}

func TestEvaluate_KeysArePerLocationAndParameter(t *testing.T) {
	e := NewEvaluator(nil, nil, newFakeRecorder(), quietLogger())
	at := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

	alerts, err := e.Evaluate(context.Background(), "", []models.ScoredReading{
		scored("la", models.PM25, 160, at),
		scored("la", models.O3, 160, at),
		scored("ny", models.PM25, 160, at),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 3 {
		t.Errorf("Expected 3 alerts, got %d", len(alerts))
	}
}

func TestAcknowledge_FreesSlot(t *testing.T) {
	ctx := context.Background()
	rec := newFakeRecorder()
	e := NewEvaluator(nil, nil, rec, quietLogger())
	at := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

	first, err := e.Evaluate(ctx, "run-1", []models.ScoredReading{scored("la", models.PM25, 160, at)})
	if err != nil || len(first) != 1 {
		t.Fatalf("Expected one alert, got %v %v", first, err)
	}

	acked, err := e.Acknowledge(ctx, first[0].ID)
	if err != nil {
		t.Fatalf("Acknowledge returned error: %v", err)
	}
	if !acked.Acknowledged || acked.AcknowledgedAt == nil {
		t.Errorf("Expected acknowledged alert, got %+v", acked)
	}

	again, err := e.Evaluate(ctx, "run-2", []models.ScoredReading{scored("la", models.PM25, 160, at.Add(time.Hour))})
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 1 {
		t.Errorf("Expected a new alert after acknowledgment, got %d", len(again))
	}
}

func TestSync_PicksUpExternalAcknowledgment(t *testing.T) {
	ctx := context.Background()
	rec := newFakeRecorder()
	state := NewMemoryStateStore()
	e := NewEvaluator(nil, state, rec, quietLogger())
	at := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

	alerts, _ := e.Evaluate(ctx, "run-1", []models.ScoredReading{scored("la", models.PM25, 160, at)})
	rec.alerts[alerts[0].ID].Acknowledged = true

	if err := e.Sync(ctx); err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}
	if state.Len() != 0 {
		t.Errorf("Expected no open state after sync, got %d", state.Len())
	}
}

func TestEvaluate_RecorderErrorReturnsRaisedSoFar(t *testing.T) {
	rec := newFakeRecorder()
	rec.failOn = "insert"
	e := NewEvaluator(nil, nil, rec, quietLogger())

	alerts, err := e.Evaluate(context.Background(), "", []models.ScoredReading{
		scored("la", models.PM25, 400, time.Now()),
	})
	if err == nil {
		t.Fatal("Expected error from failing recorder")
	}
	if len(alerts) != 0 {
		t.Errorf("Expected no alerts, got %d", len(alerts))
	}
}

func TestClassify(t *testing.T) {
	e := NewEvaluator([]models.Severity{
		{Name: "Hazardous", MinAQI: 301},
		{Name: "Unhealthy", MinAQI: 151},
	}, nil, nil, quietLogger())

	if _, ok := e.Classify(150); ok {
		t.Error("Expected no tier below 151")
	}
	tier, ok := e.Classify(305)
	if !ok || tier.Name != "Hazardous" || tier.Rank != 2 {
		t.Errorf("Expected Hazardous rank 2, got %+v", tier)
	}
}
