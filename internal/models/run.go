package models

import "time"

// RunStatus is the outcome of a pipeline run
type RunStatus string

const (
	RunRunning        RunStatus = "running"
	RunSucceeded      RunStatus = "succeeded"
	RunPartialFailure RunStatus = "partial_failure"
	RunFailed         RunStatus = "failed"
)

// Terminal reports whether no further transitions are possible
func (s RunStatus) Terminal() bool {
	return s == RunSucceeded || s == RunPartialFailure || s == RunFailed
}

// PipelineRun is the audit row written for every orchestrator invocation
type PipelineRun struct {
	ID               string     `json:"run_id"`
	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
	Status           RunStatus  `json:"status"`
	SourcesAttempted int        `json:"sources_attempted"`
	SourcesSucceeded int        `json:"sources_succeeded"`
	RecordsProcessed int        `json:"records_processed"`
	RecordsRejected  int        `json:"records_rejected"`
	RecordsImputed   int        `json:"records_imputed"`
	AlertsRaised     int        `json:"alerts_raised"`
	ErrorSummary     string     `json:"error_summary,omitempty"`
}
