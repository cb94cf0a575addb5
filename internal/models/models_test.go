package models

import (
	"strings"
	"testing"
)

func TestParseParameter(t *testing.T) {
	tests := []struct {
		in   string
		want Parameter
		ok   bool
	}{
		{"pm25", PM25, true},
		{"PM2.5", PM25, true},
		{"pm_10", PM10, true},
		{"Ozone", O3, true},
		{"no2", NO2, true},
		{"SO2", SO2, true},
		{"carbon monoxide", CO, true},
		{"pollen", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseParameter(tt.in)
			if got != tt.want || ok != tt.ok {
				t.Errorf("ParseParameter(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestParameterValid(t *testing.T) {
	if !PM25.Valid() {
		t.Error("PM2.5 should be valid")
	}
	if Parameter("pm25").Valid() {
		t.Error("non-canonical spelling should not be valid")
	}
}

func TestLocationKey_CoordinatesWin(t *testing.T) {
	lat, lon := 34.0522, -118.2437

	a := LocationKey("Los Angeles", "Downtown", &lat, &lon)
	b := LocationKey("LA", "", &lat, &lon)

	if a != b {
		t.Errorf("Expected identical keys for identical coordinates, got %s and %s", a, b)
	}
	if !strings.HasPrefix(a, "s2:") {
		t.Errorf("Expected s2 key, got %s", a)
	}
}

func TestLocationKey_NameFallback(t *testing.T) {
	got := LocationKey("New  York", "Lower Manhattan", nil, nil)
	if got != "name:new-york/lower-manhattan" {
		t.Errorf("Expected name key, got %s", got)
	}
}

func TestAlertEventOpen(t *testing.T) {
	a := &AlertEvent{}
	if !a.Open() {
		t.Error("new alert should be open")
	}
	a.Acknowledged = true
	if a.Open() {
		t.Error("acknowledged alert should not be open")
	}
}
