package aqi

import (
	"math"
	"sort"
	"time"

	"github.com/smukkama/airquality-pipeline/internal/models"
)

// Result is the score for one pollutant concentration
type Result struct {
	AQI      int
	Category models.Category
}

// MaxAQI caps extrapolation past the top of the table so a corrupt
// concentration stays a finite Hazardous score that fits an INTEGER column.
const MaxAQI = 999

// Compute interpolates the AQI for concentration c of pollutant p:
//
//	aqi = round((Ih-Il)/(Ch-Cl) * (c-Cl) + Il)
func Compute(p models.Parameter, c float64) (Result, error) {
	t, err := Lookup(p, c)
	if err != nil {
		return Result{}, err
	}

	slope := float64(t.IndexHigh-t.IndexLow) / (t.ConcHigh - t.ConcLow)
	raw := slope*(c-t.ConcLow) + float64(t.IndexLow)
	if raw > MaxAQI {
		raw = MaxAQI
	}
	value := int(math.Round(raw))

	return Result{AQI: value, Category: CategoryFor(value)}, nil
}

// CategoryFor maps an AQI value onto its health category
func CategoryFor(aqi int) models.Category {
	switch {
	case aqi <= 50:
		return models.CategoryGood
	case aqi <= 100:
		return models.CategoryModerate
	case aqi <= 150:
		return models.CategorySensitive
	case aqi <= 200:
		return models.CategoryUnhealthy
	case aqi <= 300:
		return models.CategoryVeryUnhealthy
	default:
		return models.CategoryHazardous
	}
}

var recommendations = map[models.Category]string{
	models.CategoryGood:          "Air quality is satisfactory, and air pollution poses little or no risk.",
	models.CategoryModerate:      "Air quality is acceptable. However, there may be a risk for some people, particularly those who are unusually sensitive to air pollution.",
	models.CategorySensitive:     "Members of sensitive groups may experience health effects. The general public is less likely to be affected.",
	models.CategoryUnhealthy:     "Some members of the general public may experience health effects; members of sensitive groups may experience more serious health effects.",
	models.CategoryVeryUnhealthy: "Health alert: The risk of health effects is increased for everyone.",
	models.CategoryHazardous:     "Health warning of emergency conditions: everyone is more likely to be affected.",
}

// HealthRecommendation returns the advisory text for a category
func HealthRecommendation(c models.Category) string {
	if r, ok := recommendations[c]; ok {
		return r
	}
	return "Unable to determine health risk due to missing or invalid data."
}

// Concentration inverts Compute: it returns the lowest concentration of p
// whose interpolated index equals aqi. Used for sources that only report AQI.
func Concentration(p models.Parameter, aqi int) (float64, bool) {
	tiers, ok := tables[p]
	if !ok || aqi < 0 || aqi > MaxAQI {
		return 0, false
	}

	last := len(tiers) - 1
	for i, t := range tiers {
		if i == last || aqi < t.IndexHigh {
			slope := (t.ConcHigh - t.ConcLow) / float64(t.IndexHigh-t.IndexLow)
			return t.ConcLow + slope*float64(aqi-t.IndexLow), true
		}
	}
	return 0, false
}

// Overall reduces scored readings to one AQI per (location, observed_at):
// the maximum pollutant AQI, with the dominant pollutant alongside.
// Output is sorted by location then time.
func Overall(readings []models.ScoredReading) []models.OverallAQI {
	type key struct {
		loc string
		at  time.Time
	}

	best := make(map[key]models.OverallAQI)
	var order []key

	for _, r := range readings {
		k := key{loc: r.LocationRef, at: r.ObservedAt.UTC()}
		cur, seen := best[k]
		if !seen {
			order = append(order, k)
		}
		if !seen || r.AQI > cur.AQI || (r.AQI == cur.AQI && r.Parameter.Rank() < cur.Dominant.Rank()) {
			best[k] = models.OverallAQI{
				LocationRef: r.LocationRef,
				ObservedAt:  k.at,
				AQI:         r.AQI,
				Category:    r.Category,
				Dominant:    r.Parameter,
			}
		}
	}

	sort.Slice(order, func(i, j int) bool {
		if order[i].loc != order[j].loc {
			return order[i].loc < order[j].loc
		}
		return order[i].at.Before(order[j].at)
	})

	out := make([]models.OverallAQI, 0, len(order))
	for _, k := range order {
		out = append(out, best[k])
	}
	return out
}
