package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/smukkama/airquality-pipeline/internal/models"
)

// UpsertLocation creates the location on first sighting and otherwise only
// fills in fields that are still missing. Returns the location id.
func (db *DB) UpsertLocation(ctx context.Context, loc models.Location) (int64, error) {
	var id int64
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = db.upsertLocation(ctx, tx, loc)
		return err
	})
	if err != nil {
		return 0, wrapLoad("upsert location", err)
	}
	return id, nil
}

func (db *DB) upsertLocation(ctx context.Context, q querier, loc models.Location) (int64, error) {
	if loc.Key == "" {
		loc.Key = models.LocationKey(loc.City, loc.District, loc.Latitude, loc.Longitude)
	}
	now := time.Now().UTC()

	query := db.Rebind(`
		INSERT INTO locations (location_key, city, district, country, latitude, longitude, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (location_key) DO UPDATE
		SET city = CASE WHEN locations.city = '' THEN EXCLUDED.city ELSE locations.city END,
		    district = CASE WHEN locations.district = '' THEN EXCLUDED.district ELSE locations.district END,
		    country = CASE WHEN locations.country = '' THEN EXCLUDED.country ELSE locations.country END,
		    latitude = COALESCE(locations.latitude, EXCLUDED.latitude),
		    longitude = COALESCE(locations.longitude, EXCLUDED.longitude),
		    updated_at = EXCLUDED.updated_at
		WHERE (locations.city = '' AND EXCLUDED.city <> '')
		   OR (locations.district = '' AND EXCLUDED.district <> '')
		   OR (locations.country = '' AND EXCLUDED.country <> '')
		   OR (locations.latitude IS NULL AND EXCLUDED.latitude IS NOT NULL)
		   OR (locations.longitude IS NULL AND EXCLUDED.longitude IS NOT NULL)
	`)
	if _, err := q.ExecContext(ctx, query,
		loc.Key, loc.City, loc.District, loc.Country, loc.Latitude, loc.Longitude, now,
	); err != nil {
		return 0, fmt.Errorf("failed to upsert location %s: %w", loc.Key, err)
	}

	var id int64
	if err := q.QueryRowContext(ctx,
		db.Rebind(`SELECT location_id FROM locations WHERE location_key = $1`), loc.Key,
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to read location id for %s: %w", loc.Key, err)
	}
	return id, nil
}

// GetLocation retrieves a location by key. Returns nil if not found.
func (db *DB) GetLocation(ctx context.Context, key string) (*models.Location, error) {
	query := db.Rebind(`
		SELECT location_id, location_key, city, district, country, latitude, longitude, created_at, updated_at
		FROM locations
		WHERE location_key = $1
	`)

	var (
		loc      models.Location
		lat, lon sql.NullFloat64
	)
	err := db.QueryRowContext(ctx, query, key).Scan(
		&loc.ID,
		&loc.Key,
		&loc.City,
		&loc.District,
		&loc.Country,
		&lat,
		&lon,
		&loc.CreatedAt,
		&loc.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if lat.Valid {
		loc.Latitude = &lat.Float64
	}
	if lon.Valid {
		loc.Longitude = &lon.Float64
	}
	return &loc, nil
}
