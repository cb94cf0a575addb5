package database

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/smukkama/airquality-pipeline/internal/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "aq.db")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := RunMigrations(SQLite, "sqlite://"+path, logger); err != nil {
		t.Fatalf("RunMigrations failed: %v", err)
	}

	db, err := Connect(SQLite, SQLiteDSN(path))
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

var base = time.Date(2024, 8, 1, 6, 0, 0, 0, time.UTC)

func scoredReading(loc string, p models.Parameter, v float64, aqiValue int, hour int) models.ScoredReading {
	return models.ScoredReading{
		CleanedReading: models.CleanedReading{
			LocationRef: loc,
			Parameter:   p,
			Value:       v,
			Unit:        "µg/m³",
			ObservedAt:  base.Add(time.Duration(hour) * time.Hour),
			SourceName:  "openaq",
		},
		AQI:      aqiValue,
		Category: models.CategoryModerate,
	}
}

func TestRebind(t *testing.T) {
	lite := &DB{Driver: SQLite}
	if got := lite.Rebind("a = $1 AND b = $12"); got != "a = ?1 AND b = ?12" {
		t.Errorf("Expected sqlite placeholders, got %q", got)
	}
	pg := &DB{Driver: Postgres}
	if got := pg.Rebind("a = $1"); got != "a = $1" {
		t.Errorf("Expected postgres query unchanged, got %q", got)
	}
}

func TestUpsertReadings_Idempotent(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	batch := []models.ScoredReading{
		scoredReading("name:la", models.PM25, 20, 68, 0),
		scoredReading("name:la", models.PM25, 22, 72, 1),
		scoredReading("name:la", models.O3, 40, 37, 0),
		scoredReading("name:ny", models.PM25, 9, 38, 0),
	}

	if _, err := db.UpsertReadings(ctx, "run-1", batch); err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}
	once, err := db.CountReadings(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := db.UpsertReadings(ctx, "run-2", batch); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}
	twice, err := db.CountReadings(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if once != int64(len(batch)) || twice != once {
		t.Errorf("Expected %d rows after both loads, got %d then %d", len(batch), once, twice)
	}
}

func TestUpsertReadings_UpdatesExistingRow(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	r := scoredReading("name:la", models.PM25, 20, 68, 0)
	if _, err := db.UpsertReadings(ctx, "run-1", []models.ScoredReading{r}); err != nil {
		t.Fatal(err)
	}
	r.Value, r.AQI = 30, 89
	if _, err := db.UpsertReadings(ctx, "run-2", []models.ScoredReading{r}); err != nil {
		t.Fatal(err)
	}

	latest, err := db.LatestReadings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(latest) != 1 || latest[0].Value != 30 || latest[0].AQI != 89 {
		t.Errorf("Expected updated reading, got %+v", latest)
	}
}

func TestUpsertReadings_AtomicBatch(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	bad := scoredReading("name:la", models.PM25, math.NaN(), 0, 2)
	batch := []models.ScoredReading{
		scoredReading("name:la", models.PM25, 20, 68, 0),
		bad,
	}

	_, err := db.UpsertReadings(ctx, "run-1", batch)
	if err == nil {
		t.Fatal("Expected NOT NULL violation for NaN value")
	}
	var le *LoadError
	if !errors.As(err, &le) {
		t.Errorf("Expected *LoadError, got %T", err)
	}

	n, err := db.CountReadings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("Expected failed batch to leave no rows, got %d", n)
	}
}

func TestUpsertLocation_EnrichesMissingFields(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	id, err := db.UpsertLocation(ctx, models.Location{Key: "name:la"})
	if err != nil {
		t.Fatalf("UpsertLocation failed: %v", err)
	}

	lat, lon := 34.0522, -118.2437
	again, err := db.UpsertLocation(ctx, models.Location{
		Key: "name:la", City: "Los Angeles", Country: "US", Latitude: &lat, Longitude: &lon,
	})
	if err != nil {
		t.Fatal(err)
	}
	if again != id {
		t.Errorf("Expected stable id %d, got %d", id, again)
	}

	if _, err := db.UpsertLocation(ctx, models.Location{Key: "name:la", City: "LA"}); err != nil {
		t.Fatal(err)
	}

	loc, err := db.GetLocation(ctx, "name:la")
	if err != nil || loc == nil {
		t.Fatalf("GetLocation failed: %v", err)
	}
	if loc.City != "Los Angeles" {
		t.Errorf("Expected existing city to be kept, got %q", loc.City)
	}
	if loc.Latitude == nil || *loc.Latitude != lat {
		t.Errorf("Expected latitude to be filled in, got %v", loc.Latitude)
	}
}

func TestRuns_CreateFinishList(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	run := &models.PipelineRun{ID: "run-1", StartedAt: base, Status: models.RunRunning}
	if err := db.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	finished := base.Add(time.Minute)
	run.FinishedAt = &finished
	run.Status = models.RunPartialFailure
	run.SourcesAttempted, run.SourcesSucceeded = 2, 1
	run.RecordsProcessed = 42
	run.ErrorSummary = "openaq: timeout"
	if err := db.FinishRun(ctx, run); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}

	got, err := db.GetRun(ctx, "run-1")
	if err != nil || got == nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Status != models.RunPartialFailure || got.RecordsProcessed != 42 || got.FinishedAt == nil {
		t.Errorf("Unexpected run: %+v", got)
	}

	runs, err := db.ListRuns(ctx, 10)
	if err != nil || len(runs) != 1 {
		t.Errorf("Expected 1 run, got %d (%v)", len(runs), err)
	}

	if missing, _ := db.GetRun(ctx, "nope"); missing != nil {
		t.Error("Expected nil for unknown run")
	}
}

func TestAlerts_Lifecycle(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	a := &models.AlertEvent{
		LocationRef:  "name:la",
		Parameter:    models.PM25,
		AQI:          160,
		Category:     models.CategoryUnhealthy,
		Severity:     "Unhealthy",
		SeverityRank: 1,
		Value:        70,
		Unit:         "µg/m³",
		Message:      "Unhealthy PM2.5",
		TriggeredAt:  base,
	}
	if err := db.InsertAlert(ctx, a); err != nil {
		t.Fatalf("InsertAlert failed: %v", err)
	}
	if a.ID == 0 {
		t.Fatal("Expected alert id to be set")
	}

	b := *a
	b.Severity, b.SeverityRank = "Hazardous", 3
	if err := db.InsertAlert(ctx, &b); err != nil {
		t.Fatal(err)
	}
	if err := db.CloseAlert(ctx, a.ID, base.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	open, err := db.OpenAlerts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 1 || open[0].ID != b.ID {
		t.Fatalf("Expected only the Hazardous alert open, got %+v", open)
	}

	acked, err := db.AcknowledgeAlert(ctx, b.ID, base.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("AcknowledgeAlert failed: %v", err)
	}
	if !acked.Acknowledged || acked.AcknowledgedAt == nil {
		t.Errorf("Expected acknowledged alert, got %+v", acked)
	}

	open, _ = db.OpenAlerts(ctx)
	if len(open) != 0 {
		t.Errorf("Expected no open alerts, got %d", len(open))
	}

	if _, err := db.AcknowledgeAlert(ctx, 999, base); !errors.Is(err, ErrAlertNotFound) {
		t.Errorf("Expected ErrAlertNotFound, got %v", err)
	}
}

func TestTryLock_Lease(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	lease, ok, err := db.TryLock(ctx, "pipeline:1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("Expected lock, got ok=%v err=%v", ok, err)
	}

	if _, ok, err := db.TryLock(ctx, "pipeline:1", time.Minute); err != nil || ok {
		t.Errorf("Expected held lock to be refused, got ok=%v err=%v", ok, err)
	}

	if err := lease.Release(ctx); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, ok, _ := db.TryLock(ctx, "pipeline:1", time.Minute); !ok {
		t.Error("Expected lock after release")
	}
}

func TestLoadError_Retryable(t *testing.T) {
	err := wrapLoad("upsert readings", errors.New("boom"))
	var le *LoadError
	if !errors.As(err, &le) || le.Retryable() {
		t.Errorf("Expected fatal LoadError, got %v", err)
	}
	if wrapLoad("x", nil) != nil {
		t.Error("Expected nil for nil error")
	}
}
