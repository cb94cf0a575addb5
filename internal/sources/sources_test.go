package sources

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/smukkama/airquality-pipeline/internal/aqi"
	"github.com/smukkama/airquality-pipeline/internal/models"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func losAngeles() models.Location {
	lat, lon := 34.0522, -118.2437
	return models.Location{City: "Los Angeles", Country: "US", Latitude: &lat, Longitude: &lon}
}

func TestOpenAQ_ParsesResults(t *testing.T) {
	var gotKey, gotParam string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		gotParam = r.URL.Query().Get("parameter")
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"results": [
			{"location": "Downtown", "parameter": "pm25", "value": 12.5, "unit": "µg/m³",
			 "coordinates": {"latitude": 34.05, "longitude": -118.24},
			 "date": {"utc": "2024-05-01T10:00:00Z"}},
			{"location": "Downtown", "parameter": {"name": "pm25", "units": "µg/m³"}, "value": null,
			 "period": {"datetimeTo": {"utc": "2024-05-01T11:00:00Z"}}},
			{"location": "Downtown", "parameter": "pm25", "value": 3}
		]}`)
	}))
	defer srv.Close()

	src := NewOpenAQ(OpenAQConfig{
		Endpoint:   srv.URL,
		APIKey:     "secret",
		Parameters: []models.Parameter{models.PM25},
	}, quietLogger())

	readings, err := src.Fetch(context.Background(), []models.Location{losAngeles()}, Window{})
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if gotKey != "secret" || gotParam != "pm25" {
		t.Errorf("Expected API key and pm25 query, got key=%q parameter=%q", gotKey, gotParam)
	}
	if len(readings) != 2 {
		t.Fatalf("Expected 2 readings (undated one skipped), got %d", len(readings))
	}

	first := readings[0]
	if first.Parameter != models.PM25 || first.Value == nil || *first.Value != 12.5 {
		t.Errorf("Unexpected first reading: %+v", first)
	}
	if first.Site == nil || first.Site.District != "Downtown" || first.LocationRef == "" {
		t.Errorf("Expected site metadata, got %+v", first.Site)
	}
	if readings[1].Value != nil {
		t.Errorf("Expected null value to stay nil, got %v", *readings[1].Value)
	}
	if readings[1].Unit != "µg/m³" {
		t.Errorf("Expected unit from parameter object, got %q", readings[1].Unit)
	}
}

func TestOpenAQ_ErrorKinds(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		kind    ErrorKind
	}{
		{"auth", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}, KindAuth},
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}, KindUnavailable},
		{"malformed", func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `<html>oops</html>`)
		}, KindMalformed},
		{"unexpected envelope", func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"meta": {}}`)
		}, KindMalformed},
		{"empty", func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"results": []}`)
		}, KindEmpty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			src := NewOpenAQ(OpenAQConfig{Endpoint: srv.URL, Parameters: []models.Parameter{models.PM25}}, quietLogger())
			_, err := src.Fetch(context.Background(), []models.Location{losAngeles()}, Window{})

			var se *Error
			if !errors.As(err, &se) {
				t.Fatalf("Expected *Error, got %v", err)
			}
			if se.Kind != tt.kind || se.Source != "openaq" {
				t.Errorf("Expected kind %s, got %s", tt.kind, se.Kind)
			}
		})
	}
}

func TestOpenAQ_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		io.WriteString(w, `{"results": []}`)
	}))
	defer srv.Close()

	src := NewOpenAQ(OpenAQConfig{
		Endpoint:   srv.URL,
		Parameters: []models.Parameter{models.PM25},
		Timeout:    20 * time.Millisecond,
	}, quietLogger())

	_, err := src.Fetch(context.Background(), []models.Location{losAngeles()}, Window{})
	if KindOf(err) != KindTimeout {
		t.Errorf("Expected timeout, got %v", err)
	}
}

func TestAirNow_ConvertsAQIToConcentration(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("API_KEY") != "k" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		io.WriteString(w, `[
			{"DateObserved": "2024-05-01 ", "HourObserved": 9, "LocalTimeZone": "PST",
			 "ReportingArea": "Central LA", "StateCode": "CA",
			 "Latitude": 34.0663, "Longitude": -118.2266,
			 "ParameterName": "PM2.5", "AQI": 100},
			{"DateObserved": "2024-05-01 ", "HourObserved": 9, "LocalTimeZone": "PST",
			 "ReportingArea": "Central LA", "Latitude": 34.0663, "Longitude": -118.2266,
			 "ParameterName": "Pollen", "AQI": 3}
		]`)
	}))
	defer srv.Close()

	src := NewAirNow(AirNowConfig{Endpoint: srv.URL, APIKey: "k"}, quietLogger())
	readings, err := src.Fetch(context.Background(), []models.Location{losAngeles()}, Window{})
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if len(readings) != 1 {
		t.Fatalf("Expected 1 reading, got %d", len(readings))
	}

	r := readings[0]
	want := time.Date(2024, 5, 1, 17, 0, 0, 0, time.UTC)
	if !r.ObservedAt.Equal(want) {
		t.Errorf("Expected %s, got %s", want, r.ObservedAt)
	}
	score, err := aqi.Compute(r.Parameter, *r.Value)
	if err != nil || score.AQI != 100 {
		t.Errorf("Expected concentration to score back to AQI 100, got %d (%v)", score.AQI, err)
	}
}

func TestAirNow_AuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewAirNow(AirNowConfig{Endpoint: srv.URL}, quietLogger()).
		Fetch(context.Background(), []models.Location{losAngeles()}, Window{})
	if KindOf(err) != KindAuth {
		t.Errorf("Expected auth failure, got %v", err)
	}
}

func TestSynthetic(t *testing.T) {
	end := time.Date(2024, 5, 1, 10, 42, 0, 0, time.UTC)
	s := NewSynthetic(nil)

	readings, err := s.Fetch(context.Background(), []models.Location{losAngeles()}, Window{To: end})
	if err != nil {
		t.Fatal(err)
	}
	if len(readings) != 3 {
		t.Fatalf("Expected 3 readings, got %d", len(readings))
	}
	for _, r := range readings {
		if !r.ObservedAt.Equal(end.Truncate(time.Hour)) {
			t.Errorf("Expected hour-aligned timestamp, got %s", r.ObservedAt)
		}
		if r.SourceName != "synthetic" || r.Value == nil {
			t.Errorf("Unexpected reading: %+v", r)
		}
	}

	if _, err := s.Fetch(context.Background(), nil, Window{To: end}); KindOf(err) != KindEmpty {
		t.Errorf("Expected empty error with no locations, got %v", err)
	}
}
