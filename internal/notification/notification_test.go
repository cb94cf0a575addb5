package notification

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/smtp"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/smukkama/airquality-pipeline/internal/models"
	"github.com/smukkama/airquality-pipeline/internal/protocol"
	"github.com/smukkama/airquality-pipeline/pkg/config"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleAlerts() []*models.AlertEvent {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return []*models.AlertEvent{
		{ID: 1, LocationRef: "name:los-angeles", Parameter: models.PM25, Severity: "Unhealthy", AQI: 160,
			Message: "Unhealthy PM2.5 levels at name:los-angeles", Recommendation: "Limit outdoor activity.", TriggeredAt: at},
		{ID: 2, LocationRef: "name:new-york", Parameter: models.O3, Severity: "Hazardous", AQI: 320,
			Message: "Hazardous O3 levels at name:new-york", Recommendation: "Stay indoors.", TriggeredAt: at},
	}
}

func TestRenderDigest(t *testing.T) {
	alerts := sampleAlerts()
	body, err := RenderDigest(alerts)
	if err != nil {
		t.Fatalf("RenderDigest returned error: %v", err)
	}
	for _, want := range []string{
		"ALERT: Unhealthy PM2.5 levels at name:los-angeles",
		"Health Recommendation: Stay indoors.",
		"Time: 2024-05-01 10:00:00 UTC",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("Expected digest to contain %q, got:\n%s", want, body)
		}
	}
	if got := Subject(alerts); got != "Air Quality Alert: 2 alerts detected" {
		t.Errorf("Unexpected subject: %s", got)
	}
}

func TestEmailSink_Sends(t *testing.T) {
	cfg := &config.SMTPConfig{Host: "smtp.test", Port: 2525, Username: "u", Password: "p", From: "aq@test", To: "a@test, b@test"}
	sink := NewEmailSink(cfg, quietLogger())

	var gotAddr string
	var gotTo []string
	var gotMsg string
	sink.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, string(msg)
		return nil
	}

	if err := sink.Publish(context.Background(), sampleAlerts()); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}
	if gotAddr != "smtp.test:2525" || len(gotTo) != 2 {
		t.Errorf("Unexpected delivery: addr=%s to=%v", gotAddr, gotTo)
	}
	if !strings.Contains(gotMsg, "Subject: Air Quality Alert: 2 alerts detected\r\n") {
		t.Errorf("Expected subject header, got:\n%s", gotMsg)
	}

	sink.send = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("refused") }
	if err := sink.Publish(context.Background(), sampleAlerts()); err == nil {
		t.Error("Expected send error")
	}
}

func TestEmailSink_UnconfiguredSkips(t *testing.T) {
	sink := NewEmailSink(&config.SMTPConfig{Host: "smtp.test"}, quietLogger())
	sink.send = func(string, smtp.Auth, string, []string, []byte) error {
		t.Error("Expected no send without credentials")
		return nil
	}
	if err := sink.Publish(context.Background(), sampleAlerts()); err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
}

func TestEmailSink_CancelledContextDoesNotSend(t *testing.T) {
	cfg := &config.SMTPConfig{Host: "smtp.test", Port: 2525, Username: "u", Password: "p", From: "aq@test", To: "a@test"}
	sink := NewEmailSink(cfg, quietLogger())
	sink.send = func(string, smtp.Auth, string, []string, []byte) error {
		t.Error("Expected no send after cancellation")
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sink.Publish(ctx, sampleAlerts()); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestFileSink_WritesTimestampedJSON(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	sink := NewFileSink(dir, quietLogger())
	sink.now = func() time.Time { return time.Date(2024, 5, 1, 10, 30, 15, 0, time.UTC) }

	if err := sink.Publish(context.Background(), sampleAlerts()); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "alerts_20240501_103015.json"))
	if err != nil {
		t.Fatalf("Expected alert log file: %v", err)
	}
	var logged []models.AlertEvent
	if err := json.Unmarshal(data, &logged); err != nil {
		t.Fatal(err)
	}
	if len(logged) != 2 || logged[1].AQI != 320 {
		t.Errorf("Unexpected logged alerts: %+v", logged)
	}
}

func TestFileSink_SameSecondDoesNotOverwrite(t *testing.T) {
	dir := t.TempDir()
	sink := NewFileSink(dir, quietLogger())
	sink.now = func() time.Time { return time.Date(2024, 5, 1, 10, 30, 15, 0, time.UTC) }

	alerts := sampleAlerts()
	for i := range alerts {
		if err := sink.Publish(context.Background(), alerts[i:i+1]); err != nil {
			t.Fatalf("Publish %d returned error: %v", i, err)
		}
	}

	files, err := filepath.Glob(filepath.Join(dir, "alerts_20240501_103015*.json"))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Fatalf("Expected 2 alert log files, got %v", files)
	}

	data, err := os.ReadFile(filepath.Join(dir, "alerts_20240501_103015_2.json"))
	if err != nil {
		t.Fatalf("Expected suffixed alert log file: %v", err)
	}
	var logged []models.AlertEvent
	if err := json.Unmarshal(data, &logged); err != nil {
		t.Fatal(err)
	}
	if len(logged) != 1 || logged[0].ID != 2 {
		t.Errorf("Expected the second batch in the suffixed file, got %+v", logged)
	}
}

type recordingPublisher struct {
	got []*protocol.AlertNotification
}

func (r *recordingPublisher) PublishAlerts(ctx context.Context, n []*protocol.AlertNotification) error {
	r.got = append(r.got, n...)
	return nil
}

type failingSink struct{ calls int }

func (f *failingSink) Publish(ctx context.Context, alerts []*models.AlertEvent) error {
	f.calls++
	return errors.New("down")
}

func TestKafkaSinkAndMulti(t *testing.T) {
	pub := &recordingPublisher{}
	failing := &failingSink{}
	multi := Multi{failing, NewKafkaSink(pub)}

	err := multi.Publish(context.Background(), sampleAlerts())
	if err == nil {
		t.Error("Expected joined error from failing sink")
	}
	if failing.calls != 1 {
		t.Errorf("Expected failing sink to be called once, got %d", failing.calls)
	}
	if len(pub.got) != 2 || pub.got[1].Type != protocol.AlertTypeRaised || pub.got[1].AlertID != 2 {
		t.Errorf("Expected both alerts forwarded after a failure, got %+v", pub.got)
	}
}
