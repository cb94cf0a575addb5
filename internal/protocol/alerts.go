package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/smukkama/airquality-pipeline/internal/models"
)

// AlertNotification is the message format on the alerts topic
type AlertNotification struct {
	Type           string    `json:"type"` // ALERT_RAISED
	AlertID        int64     `json:"alert_id,omitempty"`
	RunID          string    `json:"run_id,omitempty"`
	LocationRef    string    `json:"location_ref"`
	Parameter      string    `json:"parameter"`
	Severity       string    `json:"severity"`
	AQI            int       `json:"aqi"`
	Category       string    `json:"category"`
	Value          float64   `json:"value"`
	Unit           string    `json:"unit"`
	Message        string    `json:"message"`
	Recommendation string    `json:"health_recommendation"`
	TriggeredAt    time.Time `json:"triggered_at"`
}

const (
	AlertTypeRaised = "ALERT_RAISED"
)

// NewAlertNotification builds the wire message for an alert event
func NewAlertNotification(a *models.AlertEvent) *AlertNotification {
	return &AlertNotification{
		Type:           AlertTypeRaised,
		AlertID:        a.ID,
		RunID:          a.RunID,
		LocationRef:    a.LocationRef,
		Parameter:      string(a.Parameter),
		Severity:       a.Severity,
		AQI:            a.AQI,
		Category:       string(a.Category),
		Value:          a.Value,
		Unit:           a.Unit,
		Message:        a.Message,
		Recommendation: a.Recommendation,
		TriggeredAt:    a.TriggeredAt.UTC(),
	}
}

// Event converts the message back into an alert event
func (n *AlertNotification) Event() *models.AlertEvent {
	return &models.AlertEvent{
		ID:             n.AlertID,
		RunID:          n.RunID,
		LocationRef:    n.LocationRef,
		Parameter:      models.Parameter(n.Parameter),
		Severity:       n.Severity,
		AQI:            n.AQI,
		Category:       models.Category(n.Category),
		Value:          n.Value,
		Unit:           n.Unit,
		Message:        n.Message,
		Recommendation: n.Recommendation,
		TriggeredAt:    n.TriggeredAt,
	}
}

// Key is the partition key: all alerts for one location land on one partition
func (n *AlertNotification) Key() string {
	return n.LocationRef
}

// EncodeAlertNotification encodes an AlertNotification to JSON
func EncodeAlertNotification(n *AlertNotification) ([]byte, error) {
	return json.Marshal(n)
}

// DecodeAlertNotification decodes JSON to AlertNotification
func DecodeAlertNotification(data []byte) (*AlertNotification, error) {
	var n AlertNotification
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, err
	}
	if n.Type != AlertTypeRaised {
		return nil, fmt.Errorf("unknown notification type: %q", n.Type)
	}
	if n.LocationRef == "" || n.Parameter == "" {
		return nil, fmt.Errorf("notification missing location or parameter")
	}
	return &n, nil
}
