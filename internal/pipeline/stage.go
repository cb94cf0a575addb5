package pipeline

import "github.com/smukkama/airquality-pipeline/internal/models"

// Stage is the orchestrator's position within a run
type Stage string

const (
	StageIdle           Stage = "idle"
	StageExtracting     Stage = "extracting"
	StageTransforming   Stage = "transforming"
	StageLoading        Stage = "loading"
	StageAlerting       Stage = "alerting"
	StageSucceeded      Stage = "succeeded"
	StagePartialFailure Stage = "partial_failure"
	StageFailed         Stage = "failed"
)

// terminalStage maps a run outcome to its terminal stage
func terminalStage(s models.RunStatus) Stage {
	switch s {
	case models.RunSucceeded:
		return StageSucceeded
	case models.RunPartialFailure:
		return StagePartialFailure
	default:
		return StageFailed
	}
}

// TransitionFunc observes stage changes
type TransitionFunc func(runID string, from, to Stage)
