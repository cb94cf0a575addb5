package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/smukkama/airquality-pipeline/internal/models"
)

// OpenAQConfig configures the OpenAQ v3 adapter
type OpenAQConfig struct {
	Endpoint   string
	APIKey     string
	Parameters []models.Parameter
	Limit      int
	Timeout    time.Duration
	Retries    int
}

// OpenAQ fetches measurements from the OpenAQ v3 API, one request per
// (city, parameter) pair
type OpenAQ struct {
	cfg    OpenAQConfig
	client *resty.Client
	logger *slog.Logger
}

// NewOpenAQ creates an OpenAQ adapter
func NewOpenAQ(cfg OpenAQConfig, logger *slog.Logger) *OpenAQ {
	if len(cfg.Parameters) == 0 {
		cfg.Parameters = models.Parameters
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 100
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(2*time.Second).
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("X-API-Key", cfg.APIKey)
	}

	return &OpenAQ{
		cfg:    cfg,
		client: client,
		logger: logger.With("component", "source", "source", "openaq"),
	}
}

func (o *OpenAQ) Name() string { return "openaq" }

// openaqResponse accepts both the "results" and the "data" envelope
type openaqResponse struct {
	Results []openaqMeasurement `json:"results"`
	Data    []openaqMeasurement `json:"data"`
}

type openaqMeasurement struct {
	Location    string          `json:"location"`
	City        string          `json:"city"`
	Country     string          `json:"country"`
	Parameter   json.RawMessage `json:"parameter"`
	Value       json.RawMessage `json:"value"`
	Unit        string          `json:"unit"`
	SourceName  string          `json:"sourceName"`
	Coordinates *struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"coordinates"`
	Date *struct {
		UTC string `json:"utc"`
	} `json:"date"`
	Period *struct {
		DatetimeTo struct {
			UTC string `json:"utc"`
		} `json:"datetimeTo"`
	} `json:"period"`
}

// parameter is either a bare string or {"name": ..., "units": ...}
func (m openaqMeasurement) parameter() (name, units string) {
	if err := json.Unmarshal(m.Parameter, &name); err == nil {
		return name, ""
	}
	var obj struct {
		Name  string `json:"name"`
		Units string `json:"units"`
	}
	if err := json.Unmarshal(m.Parameter, &obj); err == nil {
		return obj.Name, obj.Units
	}
	return "", ""
}

// value returns nil for null or non-numeric payloads; the cleaner drops those
func (m openaqMeasurement) value() *float64 {
	var v float64
	if err := json.Unmarshal(m.Value, &v); err == nil {
		return &v
	}
	var s string
	if err := json.Unmarshal(m.Value, &s); err == nil {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return &f
		}
	}
	return nil
}

func (m openaqMeasurement) observedAt() (time.Time, bool) {
	raw := ""
	switch {
	case m.Date != nil && m.Date.UTC != "":
		raw = m.Date.UTC
	case m.Period != nil:
		raw = m.Period.DatetimeTo.UTC
	}
	if raw == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// Fetch queries every configured parameter for every location. Individual
// request failures are logged; the fetch only fails when nothing came back.
func (o *OpenAQ) Fetch(ctx context.Context, locations []models.Location, window Window) ([]models.RawReading, error) {
	var (
		readings []models.RawReading
		lastErr  *Error
	)

	for _, loc := range locations {
		for _, p := range o.cfg.Parameters {
			batch, err := o.fetchOne(ctx, loc, p, window)
			if err != nil {
				o.logger.Warn("OpenAQ request failed", "city", loc.City, "parameter", p, "kind", err.Kind, "error", err.Err)
				lastErr = err
				// no point hammering the API with a bad key or past the deadline
				if err.Kind == KindAuth || ctx.Err() != nil {
					return nil, err
				}
				continue
			}
			readings = append(readings, batch...)
		}
	}

	if len(readings) == 0 {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, &Error{Source: o.Name(), Kind: KindEmpty}
	}

	o.logger.Info("Fetched measurements", "count", len(readings))
	return readings, nil
}

func (o *OpenAQ) fetchOne(ctx context.Context, loc models.Location, p models.Parameter, window Window) ([]models.RawReading, *Error) {
	params := map[string]string{
		"city":      loc.City,
		"parameter": openaqParameter(p),
		"limit":     strconv.Itoa(o.cfg.Limit),
		"sort":      "desc",
	}
	if !window.From.IsZero() {
		params["date_from"] = window.From.UTC().Format(time.RFC3339)
	}
	if !window.To.IsZero() {
		params["date_to"] = window.To.UTC().Format(time.RFC3339)
	}

	resp, err := o.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(o.cfg.Endpoint)
	if err != nil {
		return nil, transportError(o.Name(), err)
	}
	if resp.IsError() {
		return nil, statusError(o.Name(), resp.StatusCode(), resp.String())
	}

	var body openaqResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, &Error{Source: o.Name(), Kind: KindMalformed, Err: err}
	}
	results := body.Results
	if results == nil {
		results = body.Data
	}
	if results == nil {
		return nil, &Error{Source: o.Name(), Kind: KindMalformed, Err: fmt.Errorf("response has neither results nor data")}
	}

	out := make([]models.RawReading, 0, len(results))
	for _, m := range results {
		at, ok := m.observedAt()
		if !ok {
			continue
		}

		name, units := m.parameter()
		param, ok := models.ParseParameter(name)
		if !ok {
			param = p
		}
		unit := m.Unit
		if unit == "" {
			unit = units
		}

		site := models.Location{
			City:     loc.City,
			District: m.Location,
			Country:  firstNonEmpty(m.Country, loc.Country),
		}
		if m.City != "" {
			site.City = m.City
		}
		if m.Coordinates != nil {
			lat, lon := m.Coordinates.Latitude, m.Coordinates.Longitude
			site.Latitude, site.Longitude = &lat, &lon
		} else {
			site.Latitude, site.Longitude = loc.Latitude, loc.Longitude
		}
		site.Key = models.LocationKey(site.City, site.District, site.Latitude, site.Longitude)

		out = append(out, models.RawReading{
			LocationRef: site.Key,
			Parameter:   param,
			Value:       m.value(),
			Unit:        unit,
			ObservedAt:  at,
			SourceName:  o.Name(),
			Site:        &site,
		})
	}
	return out, nil
}

// openaqParameter maps a Parameter to OpenAQ's query spelling
func openaqParameter(p models.Parameter) string {
	switch p {
	case models.PM25:
		return "pm25"
	case models.PM10:
		return "pm10"
	case models.O3:
		return "o3"
	case models.NO2:
		return "no2"
	case models.SO2:
		return "so2"
	case models.CO:
		return "co"
	}
	return string(p)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
