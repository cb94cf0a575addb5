// Package quality validates and repairs batches of raw readings before scoring.
package quality

import (
	"math"
	"sort"

	"github.com/smukkama/airquality-pipeline/internal/models"
)

// Reason explains why a reading was dropped
type Reason string

const (
	ReasonMissing          Reason = "missing"
	ReasonNegative         Reason = "negative"
	ReasonImplausible      Reason = "implausible"
	ReasonUnknownUnit      Reason = "unknown_unit"
	ReasonUnknownParameter Reason = "unknown_parameter"
)

// Tally counts dropped readings per reason
type Tally map[Reason]int

// Total returns the number of dropped readings
func (t Tally) Total() int {
	n := 0
	for _, c := range t {
		n += c
	}
	return n
}

// DefaultCeilings are the plausibility limits in canonical units.
// Anything above is treated as a sensor fault.
var DefaultCeilings = map[models.Parameter]float64{
	models.PM25: 1000,
	models.PM10: 2000,
	models.O3:   1000,
	models.NO2:  3000,
	models.SO2:  2000,
	models.CO:   100,
}

// Config tunes the cleaner
type Config struct {
	// MADMultiplier is how many MADs from the median a value may sit before it is imputed
	MADMultiplier float64
	// MinGroupSize is the smallest (location, parameter) group checked for outliers
	MinGroupSize int
	Ceilings     map[models.Parameter]float64
}

// DefaultConfig returns the documented defaults
func DefaultConfig() Config {
	ceilings := make(map[models.Parameter]float64, len(DefaultCeilings))
	for p, c := range DefaultCeilings {
		ceilings[p] = c
	}
	return Config{
		MADMultiplier: 5.0,
		MinGroupSize:  5,
		Ceilings:      ceilings,
	}
}

// Result is the outcome of cleaning one batch
type Result struct {
	Readings []models.CleanedReading
	Rejected Tally
	Imputed  int
}

// Cleaner drops invalid readings and imputes statistical outliers.
// It holds no state between batches.
type Cleaner struct {
	cfg Config
}

// NewCleaner creates a cleaner, filling unset fields from DefaultConfig.
// Configured ceilings override the defaults per parameter; parameters left
// out keep their default ceiling.
func NewCleaner(cfg Config) *Cleaner {
	def := DefaultConfig()
	if cfg.MADMultiplier <= 0 {
		cfg.MADMultiplier = def.MADMultiplier
	}
	if cfg.MinGroupSize <= 0 {
		cfg.MinGroupSize = def.MinGroupSize
	}
	for p, ceiling := range cfg.Ceilings {
		def.Ceilings[p] = ceiling
	}
	cfg.Ceilings = def.Ceilings
	return &Cleaner{cfg: cfg}
}

// Clean validates batch. Bad records are dropped and tallied, outliers are
// replaced by their group median. Survivors keep their input order.
func (c *Cleaner) Clean(batch []models.RawReading) Result {
	res := Result{
		Readings: make([]models.CleanedReading, 0, len(batch)),
		Rejected: make(Tally),
	}

	for _, raw := range batch {
		cleaned, reason, ok := c.validate(raw)
		if !ok {
			res.Rejected[reason]++
			continue
		}
		res.Readings = append(res.Readings, cleaned)
	}

	res.Imputed = c.imputeOutliers(res.Readings)
	return res
}

func (c *Cleaner) validate(raw models.RawReading) (models.CleanedReading, Reason, bool) {
	param := raw.Parameter
	if !param.Valid() {
		p, ok := models.ParseParameter(string(param))
		if !ok {
			return models.CleanedReading{}, ReasonUnknownParameter, false
		}
		param = p
	}

	if raw.Value == nil || math.IsNaN(*raw.Value) || math.IsInf(*raw.Value, 0) {
		return models.CleanedReading{}, ReasonMissing, false
	}

	value, ok := Normalize(param, *raw.Value, raw.Unit)
	if !ok {
		return models.CleanedReading{}, ReasonUnknownUnit, false
	}
	if value < 0 {
		return models.CleanedReading{}, ReasonNegative, false
	}
	if ceiling, ok := c.cfg.Ceilings[param]; ok && value > ceiling {
		return models.CleanedReading{}, ReasonImplausible, false
	}

	return models.CleanedReading{
		LocationRef: raw.LocationRef,
		Parameter:   param,
		Value:       value,
		Unit:        CanonicalUnit(param),
		ObservedAt:  raw.ObservedAt,
		SourceName:  raw.SourceName,
		Site:        raw.Site,
	}, "", true
}

type groupKey struct {
	location  string
	parameter models.Parameter
}

// imputeOutliers rewrites outliers in place and returns how many were replaced.
// Each group is repeated until no value is flagged, so a cleaned batch is a
// fixed point of the check.
func (c *Cleaner) imputeOutliers(readings []models.CleanedReading) int {
	groups := make(map[groupKey][]int)
	var keys []groupKey
	for i, r := range readings {
		k := groupKey{location: r.LocationRef, parameter: r.Parameter}
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], i)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].location != keys[j].location {
			return keys[i].location < keys[j].location
		}
		return keys[i].parameter < keys[j].parameter
	})

	imputed := 0
	for _, k := range keys {
		idx := groups[k]
		if len(idx) < c.cfg.MinGroupSize {
			continue
		}

		values := make([]float64, len(idx))
		for {
			for j, i := range idx {
				values[j] = readings[i].Value
			}
			median := lowerMedian(values)
			mad := medianAbsoluteDeviation(values, median)
			if mad == 0 {
				break
			}

			limit := c.cfg.MADMultiplier * mad
			changed := false
			for _, i := range idx {
				if math.Abs(readings[i].Value-median) > limit {
					readings[i].Value = median
					if !readings[i].WasImputed {
						readings[i].WasImputed = true
						imputed++
					}
					changed = true
				}
			}
			if !changed {
				break
			}
		}
	}

	return imputed
}
