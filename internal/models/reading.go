package models

import "time"

// Category is the EPA health category derived from an AQI value
type Category string

const (
	CategoryGood          Category = "Good"
	CategoryModerate      Category = "Moderate"
	CategorySensitive     Category = "Unhealthy-for-Sensitive-Groups"
	CategoryUnhealthy     Category = "Unhealthy"
	CategoryVeryUnhealthy Category = "Very-Unhealthy"
	CategoryHazardous     Category = "Hazardous"
)

// RawReading is one measurement as reported by an extraction source.
// Value is nil when the source reported null or a non-numeric value.
type RawReading struct {
	LocationRef string
	Parameter   Parameter
	Value       *float64
	Unit        string
	ObservedAt  time.Time
	SourceName  string

	// Site carries descriptive location metadata when the source supplies it
	Site *Location
}

// CleanedReading is a RawReading whose value passed validation.
// Value is in the canonical unit for Parameter and within [0, ceiling].
type CleanedReading struct {
	LocationRef string
	Parameter   Parameter
	Value       float64
	Unit        string
	ObservedAt  time.Time
	SourceName  string
	WasImputed  bool
	Site        *Location
}

// Raw converts a cleaned reading back into the raw shape accepted by the cleaner
func (c CleanedReading) Raw() RawReading {
	v := c.Value
	return RawReading{
		LocationRef: c.LocationRef,
		Parameter:   c.Parameter,
		Value:       &v,
		Unit:        c.Unit,
		ObservedAt:  c.ObservedAt,
		SourceName:  c.SourceName,
		Site:        c.Site,
	}
}

// ScoredReading is a CleanedReading enriched with its AQI score
type ScoredReading struct {
	CleanedReading
	AQI                  int
	Category             Category
	HealthRecommendation string
}

// OverallAQI is the maximum pollutant AQI for one location at one instant
type OverallAQI struct {
	LocationRef string
	ObservedAt  time.Time
	AQI         int
	Category    Category
	Dominant    Parameter
}

// Float returns a pointer to v, for building RawReadings
func Float(v float64) *float64 {
	return &v
}
