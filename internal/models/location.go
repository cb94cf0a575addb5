package models

import (
	"strings"
	"time"

	"github.com/golang/geo/s2"
)

// locationCellLevel is the S2 level used for coordinate keys (~600m cells)
const locationCellLevel = 14

// Location is a monitoring site. Optional fields are pointers so that
// enrichment can tell "unknown" from "empty".
type Location struct {
	ID        int64
	Key       string
	City      string
	District  string
	Country   string
	Latitude  *float64
	Longitude *float64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// LocationKey derives a stable location key. Coordinates win over names:
// two sources reporting the same site under different names still collide.
func LocationKey(city, district string, lat, lon *float64) string {
	if lat != nil && lon != nil {
		cell := s2.CellIDFromLatLng(s2.LatLngFromDegrees(*lat, *lon)).Parent(locationCellLevel)
		return "s2:" + cell.ToToken()
	}

	parts := []string{slug(city)}
	if district != "" {
		parts = append(parts, slug(district))
	}
	return "name:" + strings.Join(parts, "/")
}

func slug(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), "-")
}
