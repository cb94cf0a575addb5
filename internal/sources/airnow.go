package sources

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/smukkama/airquality-pipeline/internal/aqi"
	"github.com/smukkama/airquality-pipeline/internal/models"
	"github.com/smukkama/airquality-pipeline/internal/quality"
)

// AirNowConfig configures the AirNow current-observation adapter
type AirNowConfig struct {
	Endpoint string
	APIKey   string
	Distance int
	Timeout  time.Duration
	Retries  int
}

// AirNow reads current observations by coordinates. AirNow reports AQI
// rather than concentration, so values are mapped back through the
// breakpoint table.
type AirNow struct {
	cfg    AirNowConfig
	client *resty.Client
	logger *slog.Logger
}

// NewAirNow creates an AirNow adapter
func NewAirNow(cfg AirNowConfig, logger *slog.Logger) *AirNow {
	if cfg.Distance <= 0 {
		cfg.Distance = 25
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(2*time.Second).
		SetHeader("Accept", "application/json")

	return &AirNow{
		cfg:    cfg,
		client: client,
		logger: logger.With("component", "source", "source", "airnow"),
	}
}

func (a *AirNow) Name() string { return "airnow" }

type airnowObservation struct {
	DateObserved  string  `json:"DateObserved"`
	HourObserved  int     `json:"HourObserved"`
	LocalTimeZone string  `json:"LocalTimeZone"`
	ReportingArea string  `json:"ReportingArea"`
	StateCode     string  `json:"StateCode"`
	Latitude      float64 `json:"Latitude"`
	Longitude     float64 `json:"Longitude"`
	ParameterName string  `json:"ParameterName"`
	AQI           int     `json:"AQI"`
}

// US zones AirNow reports in, as UTC offsets in hours
var airnowZones = map[string]int{
	"EST": -5, "EDT": -4,
	"CST": -6, "CDT": -5,
	"MST": -7, "MDT": -6,
	"PST": -8, "PDT": -7,
	"AKST": -9, "AKDT": -8,
	"HST": -10,
}

func (o airnowObservation) observedAt() (time.Time, bool) {
	day, err := time.Parse("2006-01-02", strings.TrimSpace(o.DateObserved))
	if err != nil {
		return time.Time{}, false
	}
	offset := airnowZones[strings.ToUpper(strings.TrimSpace(o.LocalTimeZone))]
	zone := time.FixedZone(o.LocalTimeZone, offset*3600)
	local := time.Date(day.Year(), day.Month(), day.Day(), o.HourObserved, 0, 0, 0, zone)
	return local.UTC(), true
}

// Fetch asks for current observations around every location with coordinates
func (a *AirNow) Fetch(ctx context.Context, locations []models.Location, window Window) ([]models.RawReading, error) {
	var (
		readings []models.RawReading
		lastErr  *Error
	)

	for _, loc := range locations {
		if loc.Latitude == nil || loc.Longitude == nil {
			continue
		}

		batch, err := a.fetchOne(ctx, loc)
		if err != nil {
			a.logger.Warn("AirNow request failed", "city", loc.City, "kind", err.Kind, "error", err.Err)
			lastErr = err
			if err.Kind == KindAuth || ctx.Err() != nil {
				return nil, err
			}
			continue
		}
		readings = append(readings, batch...)
	}

	if len(readings) == 0 {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, &Error{Source: a.Name(), Kind: KindEmpty}
	}

	a.logger.Info("Fetched observations", "count", len(readings))
	return readings, nil
}

func (a *AirNow) fetchOne(ctx context.Context, loc models.Location) ([]models.RawReading, *Error) {
	resp, err := a.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"format":    "application/json",
			"latitude":  strconv.FormatFloat(*loc.Latitude, 'f', 4, 64),
			"longitude": strconv.FormatFloat(*loc.Longitude, 'f', 4, 64),
			"distance":  strconv.Itoa(a.cfg.Distance),
			"API_KEY":   a.cfg.APIKey,
		}).
		Get(a.cfg.Endpoint)
	if err != nil {
		return nil, transportError(a.Name(), err)
	}
	if resp.IsError() {
		return nil, statusError(a.Name(), resp.StatusCode(), resp.String())
	}

	var observations []airnowObservation
	if err := json.Unmarshal(resp.Body(), &observations); err != nil {
		return nil, &Error{Source: a.Name(), Kind: KindMalformed, Err: err}
	}

	out := make([]models.RawReading, 0, len(observations))
	for _, o := range observations {
		param, ok := models.ParseParameter(o.ParameterName)
		if !ok {
			continue
		}
		at, ok := o.observedAt()
		if !ok {
			continue
		}

		var value *float64
		if c, ok := aqi.Concentration(param, o.AQI); ok {
			value = &c
		}

		lat, lon := o.Latitude, o.Longitude
		site := models.Location{
			City:      loc.City,
			District:  o.ReportingArea,
			Country:   firstNonEmpty(loc.Country, "US"),
			Latitude:  &lat,
			Longitude: &lon,
		}
		site.Key = models.LocationKey(site.City, site.District, site.Latitude, site.Longitude)

		out = append(out, models.RawReading{
			LocationRef: site.Key,
			Parameter:   param,
			Value:       value,
			Unit:        quality.CanonicalUnit(param),
			ObservedAt:  at,
			SourceName:  a.Name(),
			Site:        &site,
		})
	}
	return out, nil
}
