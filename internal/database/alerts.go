package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/smukkama/airquality-pipeline/internal/models"
)

// ErrAlertNotFound is returned when an alert id does not exist
var ErrAlertNotFound = errors.New("alert not found")

// InsertAlert stores a new alert and sets its ID
func (db *DB) InsertAlert(ctx context.Context, a *models.AlertEvent) error {
	query := db.Rebind(`
		INSERT INTO alerts (
			location_key, parameter, aqi, category, severity, severity_rank,
			value, unit, message, health_recommendation, run_id, triggered_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING alert_id
	`)

	err := db.QueryRowContext(ctx, query,
		a.LocationRef,
		string(a.Parameter),
		a.AQI,
		string(a.Category),
		a.Severity,
		a.SeverityRank,
		a.Value,
		a.Unit,
		a.Message,
		a.Recommendation,
		a.RunID,
		a.TriggeredAt.UTC(),
	).Scan(&a.ID)
	if err != nil {
		return wrapLoad("insert alert", err)
	}
	return nil
}

// CloseAlert marks an alert as superseded
func (db *DB) CloseAlert(ctx context.Context, id int64, at time.Time) error {
	query := db.Rebind(`UPDATE alerts SET closed_at = $1 WHERE alert_id = $2 AND closed_at IS NULL`)
	if _, err := db.ExecContext(ctx, query, at.UTC(), id); err != nil {
		return wrapLoad("close alert", err)
	}
	return nil
}

// AcknowledgeAlert marks an alert acknowledged. Acknowledging twice keeps the
// first acknowledgment time.
func (db *DB) AcknowledgeAlert(ctx context.Context, id int64, at time.Time) (*models.AlertEvent, error) {
	query := db.Rebind(`
		UPDATE alerts SET acknowledged = $1, acknowledged_at = $2
		WHERE alert_id = $3 AND acknowledged = $4
	`)
	if _, err := db.ExecContext(ctx, query, true, at.UTC(), id, false); err != nil {
		return nil, wrapLoad("acknowledge alert", err)
	}

	alert, err := db.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}
	if alert == nil {
		return nil, ErrAlertNotFound
	}
	return alert, nil
}

const alertColumns = `alert_id, location_key, parameter, aqi, category, severity, severity_rank,
	value, unit, message, health_recommendation, run_id, triggered_at,
	acknowledged, acknowledged_at, closed_at`

func scanAlert(s rowScanner) (*models.AlertEvent, error) {
	var (
		a             models.AlertEvent
		acked, closed sql.NullTime
	)
	if err := s.Scan(
		&a.ID,
		&a.LocationRef,
		&a.Parameter,
		&a.AQI,
		&a.Category,
		&a.Severity,
		&a.SeverityRank,
		&a.Value,
		&a.Unit,
		&a.Message,
		&a.Recommendation,
		&a.RunID,
		&a.TriggeredAt,
		&a.Acknowledged,
		&acked,
		&closed,
	); err != nil {
		return nil, err
	}
	if acked.Valid {
		t := acked.Time
		a.AcknowledgedAt = &t
	}
	if closed.Valid {
		t := closed.Time
		a.ClosedAt = &t
	}
	return &a, nil
}

// GetAlert retrieves one alert. Returns nil if not found.
func (db *DB) GetAlert(ctx context.Context, id int64) (*models.AlertEvent, error) {
	query := db.Rebind(`SELECT ` + alertColumns + ` FROM alerts WHERE alert_id = $1`)
	a, err := scanAlert(db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// OpenAlerts returns every alert that is neither acknowledged nor closed
func (db *DB) OpenAlerts(ctx context.Context) ([]*models.AlertEvent, error) {
	return db.ListAlerts(ctx, true, 0)
}

// ListAlerts returns alerts newest first. limit <= 0 means no limit.
func (db *DB) ListAlerts(ctx context.Context, openOnly bool, limit int) ([]*models.AlertEvent, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts`
	args := []any{}
	if openOnly {
		query += ` WHERE acknowledged = $1 AND closed_at IS NULL`
		args = append(args, false)
	}
	query += ` ORDER BY triggered_at DESC, alert_id DESC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := db.QueryContext(ctx, db.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*models.AlertEvent
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}
