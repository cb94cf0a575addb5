package quality

import (
	"strings"

	"github.com/smukkama/airquality-pipeline/internal/models"
)

// Canonical units per pollutant
const (
	UnitMicrogramsPerCubicMeter = "µg/m³"
	UnitPPB                     = "ppb"
	UnitPPM                     = "ppm"
)

// molarVolume is the volume (L) of one mole of ideal gas at 25°C and 1 atm
const molarVolume = 24.45

var molecularWeight = map[models.Parameter]float64{
	models.O3:  48.00,
	models.NO2: 46.01,
	models.SO2: 64.07,
	models.CO:  28.01,
}

// CanonicalUnit returns the unit all values of p are normalized to
func CanonicalUnit(p models.Parameter) string {
	switch p {
	case models.PM25, models.PM10:
		return UnitMicrogramsPerCubicMeter
	case models.CO:
		return UnitPPM
	default:
		return UnitPPB
	}
}

// unitToken reduces spellings like "µg/m³", "μg/m3", "ug/m^3" to "ugm3"
func unitToken(unit string) string {
	u := strings.ToLower(strings.TrimSpace(unit))
	u = strings.NewReplacer(
		"µ", "u", "μ", "u",
		"³", "3", "^", "",
		"/", "", " ", "",
	).Replace(u)
	return u
}

// Normalize converts value from unit into the canonical unit of p.
// An empty unit is taken to already be canonical.
func Normalize(p models.Parameter, value float64, unit string) (float64, bool) {
	tok := unitToken(unit)
	if tok == "" {
		return value, true
	}

	switch p {
	case models.PM25, models.PM10:
		switch tok {
		case "ugm3":
			return value, true
		case "mgm3":
			return value * 1000, true
		}
		return 0, false

	case models.CO:
		mw := molecularWeight[p]
		switch tok {
		case "ppm":
			return value, true
		case "ppb":
			return value / 1000, true
		case "mgm3":
			return value * molarVolume / mw, true
		case "ugm3":
			return value * molarVolume / mw / 1000, true
		}
		return 0, false

	case models.O3, models.NO2, models.SO2:
		mw := molecularWeight[p]
		switch tok {
		case "ppb":
			return value, true
		case "ppm":
			return value * 1000, true
		case "ugm3":
			return value * molarVolume / mw, true
		case "mgm3":
			return value * 1000 * molarVolume / mw, true
		}
		return 0, false
	}

	return 0, false
}
