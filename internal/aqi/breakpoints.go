// Package aqi converts pollutant concentrations to EPA Air Quality Index values.
package aqi

import (
	"fmt"
	"math"

	"github.com/smukkama/airquality-pipeline/internal/models"
)

// Tier maps a concentration sub-range onto an index sub-range.
// The last tier of every table is open-ended: ConcHigh is only used for its slope.
type Tier struct {
	ConcLow   float64
	ConcHigh  float64
	IndexLow  int
	IndexHigh int
}

// OutOfRangeError is returned for concentrations no tier can hold
type OutOfRangeError struct {
	Parameter     models.Parameter
	Concentration float64
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("concentration %v out of range for %s", e.Concentration, e.Parameter)
}

type anchor struct {
	conc  float64
	index int
}

// Published EPA upper breakpoints per tier. Units: PM in µg/m³, O3/NO2/SO2
// in ppb, CO in ppm. Each tier starts where the previous one ends so the
// index is continuous across boundaries.
var anchors = map[models.Parameter][]anchor{
	models.PM25: {{12.0, 50}, {35.4, 100}, {55.4, 150}, {150.4, 200}, {250.4, 300}, {350.4, 400}, {500.4, 500}},
	models.PM10: {{54, 50}, {154, 100}, {254, 150}, {354, 200}, {424, 300}, {504, 400}, {604, 500}},
	models.O3:   {{54, 50}, {70, 100}, {85, 150}, {105, 200}, {200, 300}, {604, 500}},
	models.NO2:  {{53, 50}, {100, 100}, {360, 150}, {649, 200}, {1249, 300}, {2049, 500}},
	models.SO2:  {{35, 50}, {75, 100}, {185, 150}, {304, 200}, {604, 300}, {804, 400}, {1004, 500}},
	models.CO:   {{4.4, 50}, {9.4, 100}, {12.4, 150}, {15.4, 200}, {30.4, 300}, {40.4, 400}, {50.4, 500}},
}

var tables = buildTables()

func buildTables() map[models.Parameter][]Tier {
	out := make(map[models.Parameter][]Tier, len(anchors))
	for p, as := range anchors {
		tiers := make([]Tier, 0, len(as))
		prev := anchor{}
		for _, a := range as {
			tiers = append(tiers, Tier{
				ConcLow:   prev.conc,
				ConcHigh:  a.conc,
				IndexLow:  prev.index,
				IndexHigh: a.index,
			})
			prev = a
		}
		out[p] = tiers
	}
	return out
}

// Tiers returns a copy of the breakpoint table for p
func Tiers(p models.Parameter) []Tier {
	t := tables[p]
	out := make([]Tier, len(t))
	copy(out, t)
	return out
}

// Lookup finds the tier holding concentration c. A value equal to a tier
// boundary belongs to the tier it opens; values past the last breakpoint
// belong to the last tier.
func Lookup(p models.Parameter, c float64) (Tier, error) {
	tiers, ok := tables[p]
	if !ok {
		return Tier{}, fmt.Errorf("no breakpoint table for parameter %q", p)
	}
	if c < 0 || math.IsNaN(c) || math.IsInf(c, 0) {
		return Tier{}, &OutOfRangeError{Parameter: p, Concentration: c}
	}

	last := len(tiers) - 1
	for i, t := range tiers {
		if i == last || c < t.ConcHigh {
			return t, nil
		}
	}
	return tiers[last], nil
}
