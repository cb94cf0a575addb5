package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/smukkama/airquality-pipeline/internal/models"
)

// UpsertReadings writes a scored batch in one transaction, keyed on
// (location_id, parameter, observed_at, source_name). Either every row is
// written or none is. Returns the number of rows inserted or updated.
func (db *DB) UpsertReadings(ctx context.Context, runID string, readings []models.ScoredReading) (int64, error) {
	if len(readings) == 0 {
		return 0, nil
	}

	var affected int64
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, db.Rebind(`
			INSERT INTO readings (
				location_id, parameter, observed_at, source_name, value, unit,
				was_imputed, aqi, aqi_category, health_recommendation, run_id, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (location_id, parameter, observed_at, source_name) DO UPDATE
			SET value = EXCLUDED.value,
			    unit = EXCLUDED.unit,
			    was_imputed = EXCLUDED.was_imputed,
			    aqi = EXCLUDED.aqi,
			    aqi_category = EXCLUDED.aqi_category,
			    health_recommendation = EXCLUDED.health_recommendation,
			    run_id = EXCLUDED.run_id,
			    updated_at = EXCLUDED.updated_at
		`))
		if err != nil {
			return fmt.Errorf("failed to prepare reading upsert: %w", err)
		}
		defer stmt.Close()

		locationIDs := make(map[string]int64)
		now := time.Now().UTC()

		for _, r := range readings {
			id, ok := locationIDs[r.LocationRef]
			if !ok {
				loc := models.Location{Key: r.LocationRef}
				if r.Site != nil {
					loc = *r.Site
					loc.Key = r.LocationRef
				}
				id, err = db.upsertLocation(ctx, tx, loc)
				if err != nil {
					return err
				}
				locationIDs[r.LocationRef] = id
			}

			res, err := stmt.ExecContext(ctx,
				id,
				string(r.Parameter),
				r.ObservedAt.UTC(),
				r.SourceName,
				r.Value,
				r.Unit,
				r.WasImputed,
				r.AQI,
				string(r.Category),
				r.HealthRecommendation,
				runID,
				now,
			)
			if err != nil {
				return fmt.Errorf("failed to upsert reading %s/%s@%s: %w",
					r.LocationRef, r.Parameter, r.ObservedAt.Format(time.RFC3339), err)
			}
			n, _ := res.RowsAffected()
			affected += n
		}
		return nil
	})
	if err != nil {
		return 0, wrapLoad("upsert readings", err)
	}
	return affected, nil
}

// LatestReading is the most recent stored value for a (location, parameter) pair
type LatestReading struct {
	LocationKey string           `json:"location_key"`
	City        string           `json:"city"`
	District    string           `json:"district"`
	Parameter   models.Parameter `json:"parameter"`
	Value       float64          `json:"value"`
	Unit        string           `json:"unit"`
	AQI         int              `json:"aqi"`
	Category    models.Category  `json:"aqi_category"`
	ObservedAt  time.Time        `json:"observed_at"`
	SourceName  string           `json:"source_name"`
}

// LatestReadings returns the newest reading per location and parameter
func (db *DB) LatestReadings(ctx context.Context) ([]LatestReading, error) {
	query := `
		SELECT l.location_key, l.city, l.district, r.parameter, r.value, r.unit,
		       r.aqi, r.aqi_category, r.observed_at, r.source_name
		FROM readings r
		JOIN locations l ON l.location_id = r.location_id
		WHERE r.observed_at = (
			SELECT MAX(r2.observed_at)
			FROM readings r2
			WHERE r2.location_id = r.location_id AND r2.parameter = r.parameter
		)
		ORDER BY l.location_key, r.parameter, r.source_name
	`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LatestReading
	for rows.Next() {
		var lr LatestReading
		if err := rows.Scan(
			&lr.LocationKey,
			&lr.City,
			&lr.District,
			&lr.Parameter,
			&lr.Value,
			&lr.Unit,
			&lr.AQI,
			&lr.Category,
			&lr.ObservedAt,
			&lr.SourceName,
		); err != nil {
			return nil, err
		}
		out = append(out, lr)
	}
	return out, rows.Err()
}

// CountReadings returns the number of stored readings
func (db *DB) CountReadings(ctx context.Context) (int64, error) {
	var n int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM readings`).Scan(&n)
	return n, err
}
