package protocol

import (
	"testing"
	"time"

	"github.com/smukkama/airquality-pipeline/internal/models"
)

func TestAlertNotificationRoundTrip(t *testing.T) {
	alert := &models.AlertEvent{
		ID:          7,
		RunID:       "run-1",
		LocationRef: "name:los-angeles",
		Parameter:   models.PM25,
		Severity:    "Hazardous",
		AQI:         320,
		Category:    models.CategoryHazardous,
		Value:       270.5,
		Unit:        "µg/m³",
		TriggeredAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}

	data, err := EncodeAlertNotification(NewAlertNotification(alert))
	if err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}
	decoded, err := DecodeAlertNotification(data)
	if err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}

	got := decoded.Event()
	if got.ID != 7 || got.Parameter != models.PM25 || got.AQI != 320 || got.Category != models.CategoryHazardous {
		t.Errorf("Unexpected event after decode: %+v", got)
	}
	if !got.TriggeredAt.Equal(alert.TriggeredAt) {
		t.Errorf("Expected triggered_at %s, got %s", alert.TriggeredAt, got.TriggeredAt)
	}
	if decoded.Key() != "name:los-angeles" {
		t.Errorf("Expected location partition key, got %q", decoded.Key())
	}
}

func TestDecodeAlertNotificationRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `alert!`},
		{"unknown type", `{"type":"ALARM_CLEARED","location_ref":"x","parameter":"pm25"}`},
		{"missing location", `{"type":"ALERT_RAISED","parameter":"pm25"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeAlertNotification([]byte(tt.data)); err == nil {
				t.Error("Expected decode error")
			}
		})
	}
}
