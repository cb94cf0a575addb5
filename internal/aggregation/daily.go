// Package aggregation maintains the per-day reading rollups.
package aggregation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/smukkama/airquality-pipeline/internal/database"
	"github.com/smukkama/airquality-pipeline/internal/models"
)

const dayLayout = "2006-01-02"

// DailyAggregator refreshes daily_summary from the readings table
type DailyAggregator struct {
	db     *database.DB
	logger *slog.Logger
}

// NewDailyAggregator creates a new daily aggregator
func NewDailyAggregator(db *database.DB, logger *slog.Logger) *DailyAggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &DailyAggregator{db: db, logger: logger.With("component", "aggregation")}
}

// Aggregate recomputes the summary rows for the UTC day containing target.
// Returns the number of (location, parameter) rows written.
func (d *DailyAggregator) Aggregate(ctx context.Context, target time.Time) (int64, error) {
	start := target.UTC().Truncate(24 * time.Hour)
	end := start.Add(24 * time.Hour)

	query := d.db.Rebind(`
		INSERT INTO daily_summary (
			location_id, parameter, day,
			min_aqi, max_aqi, avg_value, sample_count
		)
		SELECT
			location_id,
			parameter,
			CAST($1 AS TEXT) AS day,
			MIN(aqi) AS min_aqi,
			MAX(aqi) AS max_aqi,
			AVG(value) AS avg_value,
			COUNT(*) AS sample_count
		FROM
			readings
		WHERE
			observed_at >= $2 AND observed_at < $3
		GROUP BY
			location_id, parameter
		ON CONFLICT (location_id, parameter, day) DO UPDATE
		SET
			min_aqi = EXCLUDED.min_aqi,
			max_aqi = EXCLUDED.max_aqi,
			avg_value = EXCLUDED.avg_value,
			sample_count = EXCLUDED.sample_count
	`)

	result, err := d.db.ExecContext(ctx, query, start.Format(dayLayout), start, end)
	if err != nil {
		return 0, fmt.Errorf("failed to aggregate daily data: %w", err)
	}

	rows, _ := result.RowsAffected()
	d.logger.Info("Daily aggregation completed", "day", start.Format(dayLayout), "rows", rows)
	return rows, nil
}

// AggregateRange refreshes every UTC day touched by [from, to]
func (d *DailyAggregator) AggregateRange(ctx context.Context, from, to time.Time) (int64, error) {
	var total int64
	for day := from.UTC().Truncate(24 * time.Hour); !day.After(to.UTC()); day = day.Add(24 * time.Hour) {
		n, err := d.Aggregate(ctx, day)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// RollupReadings refreshes the days covered by a freshly loaded batch
func (d *DailyAggregator) RollupReadings(ctx context.Context, readings []models.ScoredReading) (int64, error) {
	if len(readings) == 0 {
		return 0, nil
	}
	from, to := readings[0].ObservedAt, readings[0].ObservedAt
	for _, r := range readings[1:] {
		if r.ObservedAt.Before(from) {
			from = r.ObservedAt
		}
		if r.ObservedAt.After(to) {
			to = r.ObservedAt
		}
	}
	return d.AggregateRange(ctx, from, to)
}

// Summary is one daily_summary row
type Summary struct {
	LocationID  int64            `json:"location_id"`
	Parameter   models.Parameter `json:"parameter"`
	Day         string           `json:"day"`
	MinAQI      int              `json:"min_aqi"`
	MaxAQI      int              `json:"max_aqi"`
	AvgValue    float64          `json:"avg_value"`
	SampleCount int              `json:"sample_count"`
}

// Summaries returns the rollup rows for one UTC day
func (d *DailyAggregator) Summaries(ctx context.Context, day time.Time) ([]Summary, error) {
	query := d.db.Rebind(`
		SELECT location_id, parameter, day, min_aqi, max_aqi, avg_value, sample_count
		FROM daily_summary
		WHERE day = $1
		ORDER BY location_id, parameter
	`)

	rows, err := d.db.QueryContext(ctx, query, day.UTC().Format(dayLayout))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.LocationID, &s.Parameter, &s.Day, &s.MinAQI, &s.MaxAQI, &s.AvgValue, &s.SampleCount); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
