package models

import "time"

// Severity is one alerting tier. Higher Rank means more severe.
type Severity struct {
	Name   string `toml:"name"`
	MinAQI int    `toml:"min_aqi"`
	Rank   int    `toml:"-"`
}

// AlertEvent records a reading that crossed a severity threshold.
// Only Acknowledged/AcknowledgedAt and ClosedAt change after creation.
type AlertEvent struct {
	ID             int64     `json:"id"`
	LocationRef    string    `json:"location_ref"`
	Parameter      Parameter `json:"parameter"`
	AQI            int       `json:"aqi"`
	Category       Category  `json:"category"`
	Severity       string    `json:"severity"`
	SeverityRank   int       `json:"severity_rank"`
	Value          float64   `json:"value"`
	Unit           string    `json:"unit"`
	Message        string    `json:"message"`
	Recommendation string    `json:"health_recommendation"`
	RunID          string    `json:"run_id,omitempty"`
	TriggeredAt    time.Time `json:"triggered_at"`
	Acknowledged   bool      `json:"acknowledged"`

	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`
}

// Open reports whether the alert still blocks new alerts of equal or lower severity
func (a *AlertEvent) Open() bool {
	return !a.Acknowledged && a.ClosedAt == nil
}
