// Package runner executes dequeued test case jobs: one run per parameter
// set, each in its own browser session, with the terminal outcome pushed to
// the run-record store.
package runner

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/probatio/internal/common"
	"github.com/ternarybob/probatio/internal/interfaces"
	"github.com/ternarybob/probatio/internal/models"
	"github.com/ternarybob/probatio/internal/visual"
)

// RunController owns the run state machine. A run is RUNNING from browser
// launch until either every step passed (PASS) or the first failure (FAIL);
// a failed test is a successful execution as far as the queue is concerned.
type RunController struct {
	sessions  interfaces.SessionFactory
	executor  *StepExecutor
	visual    *visual.Engine
	artifacts *ArtifactCapture
	recorder  interfaces.RunRecorder
	notifier  interfaces.ProgressNotifier
	logger    arbor.ILogger
}

// NewRunController wires the controller with its collaborators
func NewRunController(
	sessions interfaces.SessionFactory,
	executor *StepExecutor,
	visualEngine *visual.Engine,
	artifacts *ArtifactCapture,
	recorder interfaces.RunRecorder,
	notifier interfaces.ProgressNotifier,
	logger arbor.ILogger,
) *RunController {
	return &RunController{
		sessions:  sessions,
		executor:  executor,
		visual:    visualEngine,
		artifacts: artifacts,
		recorder:  recorder,
		notifier:  notifier,
		logger:    logger,
	}
}

// Execute runs every parameter set of the job sequentially. Parameter sets
// are independent: one failing run never stops the next one. The returned
// error is always nil for a parsed job; run failures live in the run
// records, not in the queue.
func (c *RunController) Execute(ctx context.Context, job *models.TestCaseJob) error {
	c.logger.Info().
		Str("test_case_id", job.TestCaseID).
		Int("parameter_sets", len(job.Parameters)).
		Bool("live_view", job.IsLiveView).
		Msg("Starting test case job")

	for i := range job.Parameters {
		c.executeRun(ctx, job, job.Parameters[i], i)
	}
	return nil
}

// executeRun drives one (test case, parameter set) pair through the full
// state machine
func (c *RunController) executeRun(ctx context.Context, job *models.TestCaseJob, params models.ParameterSet, index int) {
	run := models.NewRunState(c.resolveRunID(ctx, job, params, index), job.TestCaseID, params.DatasetName)
	run.ArtifactsPath = fmt.Sprintf("runs/%s/%s", common.SanitizeName(job.TestCaseID), common.RunSlug(params.DatasetName, run.StartedAt))

	log := c.logger.WithCorrelationId(run.RunID)
	log.Info().
		Str("test_case_id", job.TestCaseID).
		Str("dataset", params.DatasetName).
		Msg("Run started")

	if job.IsLiveView {
		c.notifier.RunStarted(ctx, run.RunID, job.Steps)
	}

	session, err := c.sessions.NewSession(ctx, job.IsLiveView)
	if err != nil {
		// No page to screenshot when the browser never came up
		run.Fail("browser launch failed: " + normalizeReason(err))
		log.Error().Err(err).Msg("Browser launch failed")
		c.finishRun(ctx, run, job, nil)
		return
	}
	defer session.Close()

	c.runSteps(ctx, session, job, params, run, log)
	c.finishRun(ctx, run, job, session)
}

// runSteps navigates and walks the steps in order, aborting on the first
// failure. Recovers driver panics into a FAIL so one broken page cannot
// take the worker down.
func (c *RunController) runSteps(ctx context.Context, session interfaces.BrowserSession, job *models.TestCaseJob, params models.ParameterSet, run *models.RunState, log arbor.ILogger) {
	defer func() {
		if r := recover(); r != nil {
			run.Fail(fmt.Sprintf("browser driver panic: %v", r))
			log.Error().Str("panic", fmt.Sprintf("%v", r)).Msg("Recovered driver panic during run")
			c.artifacts.CaptureFailure(ctx, session, run)
		}
	}()

	if err := session.Navigate(ctx, job.TargetURL); err != nil {
		run.Fail(normalizeReason(err))
		log.Warn().Err(err).Str("url", job.TargetURL).Msg("Initial navigation failed")
		c.artifacts.CaptureFailure(ctx, session, run)
		return
	}

	// Baselines key on (test case, dataset) so reruns compare against the
	// same images
	visualCheck := c.visual.ForRun(job.TestCaseID+"-"+params.DatasetName, run.ArtifactsPath)

	for _, step := range job.Steps {
		if job.IsLiveView {
			c.notifier.StepStatus(ctx, run.RunID, step.StepNumber, models.StepStatusRunning, "")
		}

		outcome, err := c.executor.Execute(ctx, session, step, job.UIBlueprint, params.Data, visualCheck)

		run.VisualStatus = models.MergeVisual(run.VisualStatus, outcome.Visual)
		if outcome.VisualArtifact != "" {
			run.AddArtifact(outcome.VisualArtifact, models.ArtifactVisualDiff)
		}

		if err != nil {
			reason := err.Error()
			if failure, ok := err.(*StepFailure); ok {
				reason = failure.Reason
			}
			run.Fail(reason)
			log.Warn().
				Int("step", step.StepNumber).
				Str("action", step.Action.String()).
				Str("reason", reason).
				Msg("Step failed")
			if job.IsLiveView {
				c.notifier.StepStatus(ctx, run.RunID, step.StepNumber, models.StepStatusFail, reason)
			}
			c.artifacts.CaptureFailure(ctx, session, run)
			return
		}

		log.Debug().
			Int("step", step.StepNumber).
			Str("action", step.Action.String()).
			Msg("Step passed")
		if job.IsLiveView {
			c.notifier.StepStatus(ctx, run.RunID, step.StepNumber, models.StepStatusPass, "")
		}
	}
}

// finishRun settles the terminal status and reports it. session is nil when
// the browser never launched.
func (c *RunController) finishRun(ctx context.Context, run *models.RunState, job *models.TestCaseJob, session interfaces.BrowserSession) {
	if session != nil {
		// Where the journey actually ended, for the run record. Best-effort:
		// a dead page at this point changes nothing about the outcome.
		if url, err := session.CurrentURL(ctx); err == nil {
			run.FinalURL = url
		}
	}

	run.Complete()

	c.logger.WithCorrelationId(run.RunID).Info().
		Str("status", string(run.Status)).
		Str("visual_status", string(run.VisualStatus)).
		Str("reason", run.FailureReason).
		Msg("Run finished")

	if err := c.recorder.CompleteRun(ctx, run); err != nil {
		c.logger.Warn().
			Err(err).
			Str("run_id", run.RunID).
			Msg("Failed to record terminal run status")
	}

	if job.IsLiveView {
		c.notifier.RunCompleted(ctx, run)
		c.notifier.Broadcast(ctx, run)
	}
}

// resolveRunID settles the run identity before any browser work. The run
// record store assigns it; a pre-assigned job run_id wins for the first
// parameter set, and a local id keeps the run observable when the store is
// unreachable.
func (c *RunController) resolveRunID(ctx context.Context, job *models.TestCaseJob, params models.ParameterSet, index int) string {
	if job.RunID != "" && index == 0 {
		return job.RunID
	}

	runID, err := c.recorder.CreateRun(ctx, job, params)
	if err != nil {
		local := common.NewRunID()
		c.logger.Warn().
			Err(err).
			Str("run_id", local).
			Msg("Run record store unreachable at run start, using local run id")
		return local
	}
	return runID
}
