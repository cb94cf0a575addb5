package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/smukkama/airquality-pipeline/internal/models"
)

// CreateRun inserts the audit row for a run that just started
func (db *DB) CreateRun(ctx context.Context, run *models.PipelineRun) error {
	query := db.Rebind(`
		INSERT INTO pipeline_runs (run_id, started_at, status)
		VALUES ($1, $2, $3)
	`)
	if _, err := db.ExecContext(ctx, query, run.ID, run.StartedAt.UTC(), string(run.Status)); err != nil {
		return wrapLoad("create run", err)
	}
	return nil
}

// FinishRun records the final counters and status of a run
func (db *DB) FinishRun(ctx context.Context, run *models.PipelineRun) error {
	var finished any
	if run.FinishedAt != nil {
		finished = run.FinishedAt.UTC()
	}

	query := db.Rebind(`
		UPDATE pipeline_runs
		SET finished_at = $1, status = $2,
		    sources_attempted = $3, sources_succeeded = $4,
		    records_processed = $5, records_rejected = $6, records_imputed = $7,
		    alerts_raised = $8, error_summary = $9
		WHERE run_id = $10
	`)
	res, err := db.ExecContext(ctx, query,
		finished,
		string(run.Status),
		run.SourcesAttempted,
		run.SourcesSucceeded,
		run.RecordsProcessed,
		run.RecordsRejected,
		run.RecordsImputed,
		run.AlertsRaised,
		run.ErrorSummary,
		run.ID,
	)
	if err != nil {
		return wrapLoad("finish run", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run: run %s not found", run.ID)
	}
	return nil
}

const runColumns = `run_id, started_at, finished_at, status, sources_attempted, sources_succeeded,
	records_processed, records_rejected, records_imputed, alerts_raised, error_summary`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(s rowScanner) (*models.PipelineRun, error) {
	var (
		run      models.PipelineRun
		finished sql.NullTime
	)
	if err := s.Scan(
		&run.ID,
		&run.StartedAt,
		&finished,
		&run.Status,
		&run.SourcesAttempted,
		&run.SourcesSucceeded,
		&run.RecordsProcessed,
		&run.RecordsRejected,
		&run.RecordsImputed,
		&run.AlertsRaised,
		&run.ErrorSummary,
	); err != nil {
		return nil, err
	}
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return &run, nil
}

// GetRun retrieves one run. Returns nil if not found.
func (db *DB) GetRun(ctx context.Context, id string) (*models.PipelineRun, error) {
	query := db.Rebind(`SELECT ` + runColumns + ` FROM pipeline_runs WHERE run_id = $1`)
	run, err := scanRun(db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

// ListRuns returns the most recent runs, newest first
func (db *DB) ListRuns(ctx context.Context, limit int) ([]*models.PipelineRun, error) {
	if limit <= 0 {
		limit = 50
	}
	query := db.Rebind(`SELECT ` + runColumns + ` FROM pipeline_runs ORDER BY started_at DESC LIMIT $1`)

	rows, err := db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*models.PipelineRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
