package interfaces

import (
	"context"

	"github.com/ternarybob/probatio/internal/models"
)

// RunRecorder pushes run lifecycle records to the external run-record
// store. Both operations are best-effort: a store outage never alters the
// run outcome, only its observability.
type RunRecorder interface {
	// CreateRun registers a RUNNING record and returns the run identity.
	// When the job carries a pre-assigned run_id that identity wins.
	CreateRun(ctx context.Context, job *models.TestCaseJob, params models.ParameterSet) (string, error)

	// CompleteRun closes out a run with its terminal status triple
	CompleteRun(ctx context.Context, run *models.RunState) error
}

// ProgressNotifier emits best-effort live-progress updates. Only called
// when the job is flagged is_live_view; every method is fire-and-forget.
type ProgressNotifier interface {
	RunStarted(ctx context.Context, runID string, steps []models.Step)
	StepStatus(ctx context.Context, runID string, stepNumber int, status models.StepStatus, reason string)
	RunCompleted(ctx context.Context, run *models.RunState)
	Broadcast(ctx context.Context, run *models.RunState)
}
