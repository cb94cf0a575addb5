package models

import "strings"

// Parameter identifies a monitored pollutant
type Parameter string

const (
	PM25 Parameter = "PM2.5"
	PM10 Parameter = "PM10"
	O3   Parameter = "O3"
	NO2  Parameter = "NO2"
	SO2  Parameter = "SO2"
	CO   Parameter = "CO"
)

// Parameters lists every supported pollutant in canonical order.
// Ties between pollutants are broken by this order.
var Parameters = []Parameter{PM25, PM10, O3, NO2, SO2, CO}

// ParseParameter maps vendor spellings ("pm25", "PM2.5", "ozone", ...) to a Parameter
func ParseParameter(s string) (Parameter, bool) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer(".", "", "_", "", " ", "", "-", "").Replace(key)

	switch key {
	case "pm25":
		return PM25, true
	case "pm10":
		return PM10, true
	case "o3", "ozone":
		return O3, true
	case "no2", "nitrogendioxide":
		return NO2, true
	case "so2", "sulfurdioxide", "sulphurdioxide":
		return SO2, true
	case "co", "carbonmonoxide":
		return CO, true
	default:
		return "", false
	}
}

// Valid reports whether p is one of the supported pollutants
func (p Parameter) Valid() bool {
	return p.Rank() < len(Parameters)
}

// Rank returns the position of p in Parameters, or len(Parameters) if unknown
func (p Parameter) Rank() int {
	for i, known := range Parameters {
		if known == p {
			return i
		}
	}
	return len(Parameters)
}
