package sources

import (
	"context"
	"time"

	"github.com/smukkama/airquality-pipeline/internal/models"
	"github.com/smukkama/airquality-pipeline/internal/quality"
)

// Synthetic generates fixed placeholder readings. It is the last resort in
// the source chain so that downstream stages can still be exercised when
// every real API is down.
type Synthetic struct {
	Parameters []models.Parameter
	now        func() time.Time
}

// NewSynthetic creates a synthetic source for the given parameters
// (all parameters when empty)
func NewSynthetic(params []models.Parameter) *Synthetic {
	if len(params) == 0 {
		params = []models.Parameter{models.PM25, models.O3, models.NO2}
	}
	return &Synthetic{Parameters: params, now: time.Now}
}

func (s *Synthetic) Name() string { return "synthetic" }

func syntheticValue(p models.Parameter) float64 {
	switch p {
	case models.PM25:
		return 35
	case models.O3:
		return 45
	case models.CO:
		return 0.5
	default:
		return 25
	}
}

// Fetch returns one reading per location and parameter, stamped with the
// end of the window truncated to the hour
func (s *Synthetic) Fetch(ctx context.Context, locations []models.Location, window Window) ([]models.RawReading, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Source: s.Name(), Kind: KindTimeout, Err: err}
	}

	at := window.To
	if at.IsZero() {
		at = s.now()
	}
	at = at.UTC().Truncate(time.Hour)

	var out []models.RawReading
	for _, loc := range locations {
		site := loc
		if site.Key == "" {
			site.Key = models.LocationKey(site.City, site.District, site.Latitude, site.Longitude)
		}
		for _, p := range s.Parameters {
			out = append(out, models.RawReading{
				LocationRef: site.Key,
				Parameter:   p,
				Value:       models.Float(syntheticValue(p)),
				Unit:        quality.CanonicalUnit(p),
				ObservedAt:  at,
				SourceName:  s.Name(),
				Site:        &site,
			})
		}
	}

	if len(out) == 0 {
		return nil, &Error{Source: s.Name(), Kind: KindEmpty}
	}
	return out, nil
}
