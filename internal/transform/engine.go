// Package transform turns raw readings into health-scored records.
package transform

import (
	"github.com/smukkama/airquality-pipeline/internal/aqi"
	"github.com/smukkama/airquality-pipeline/internal/models"
	"github.com/smukkama/airquality-pipeline/internal/quality"
)

// ReasonUnscorable tallies cleaned readings the calculator could not score
const ReasonUnscorable quality.Reason = "unscorable"

// Result is one scored batch
type Result struct {
	Readings []models.ScoredReading
	Overall  []models.OverallAQI
	Rejected quality.Tally
	Imputed  int
}

// Engine composes the quality cleaner with the AQI calculator.
// It keeps no state between calls: the same batch always yields the same result.
type Engine struct {
	cleaner *quality.Cleaner
}

// NewEngine creates a transform engine
func NewEngine(cleaner *quality.Cleaner) *Engine {
	if cleaner == nil {
		cleaner = quality.NewCleaner(quality.DefaultConfig())
	}
	return &Engine{cleaner: cleaner}
}

// Process cleans and scores a raw batch
func (e *Engine) Process(batch []models.RawReading) Result {
	cleaned := e.cleaner.Clean(batch)

	res := e.Transform(cleaned.Readings)
	for reason, n := range cleaned.Rejected {
		res.Rejected[reason] += n
	}
	res.Imputed = cleaned.Imputed
	return res
}

// Transform scores each cleaned reading in input order and derives the
// overall AQI per (location, observed_at)
func (e *Engine) Transform(cleaned []models.CleanedReading) Result {
	res := Result{
		Readings: make([]models.ScoredReading, 0, len(cleaned)),
		Rejected: make(quality.Tally),
	}

	for _, c := range cleaned {
		score, err := aqi.Compute(c.Parameter, c.Value)
		if err != nil {
			res.Rejected[ReasonUnscorable]++
			continue
		}
		if c.WasImputed {
			res.Imputed++
		}
		res.Readings = append(res.Readings, models.ScoredReading{
			CleanedReading:       c,
			AQI:                  score.AQI,
			Category:             score.Category,
			HealthRecommendation: aqi.HealthRecommendation(score.Category),
		})
	}

	res.Overall = aqi.Overall(res.Readings)
	return res
}
