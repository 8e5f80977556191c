package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/probatio/internal/common"
	"github.com/ternarybob/probatio/internal/interfaces"
	"github.com/ternarybob/probatio/internal/models"
	"github.com/ternarybob/probatio/internal/resolver"
	"github.com/ternarybob/probatio/internal/visual"
)

// StepOutcome reports what a completed step contributed beyond pass/fail.
// Functional steps leave Visual at N/A.
type StepOutcome struct {
	Visual         models.VisualStatus
	VisualArtifact string
}

// StepExecutor interprets one step against a live page. Waits are the only
// flake mitigation: every interaction is preceded by an explicit
// wait-for-visible barrier, never a blind retry.
type StepExecutor struct {
	stepTimeout time.Duration
	navTimeout  time.Duration
	logger      arbor.ILogger
}

// NewStepExecutor creates a step executor with the configured wait bounds
func NewStepExecutor(config common.BrowserConfig, logger arbor.ILogger) *StepExecutor {
	return &StepExecutor{
		stepTimeout: common.MustDuration(config.StepTimeout, 10*time.Second),
		navTimeout:  common.MustDuration(config.NavigationTimeout, 60*time.Second),
		logger:      logger,
	}
}

// Execute dispatches a single step by action. A returned error is always a
// *StepFailure; the caller aborts the remaining steps of the run.
func (e *StepExecutor) Execute(ctx context.Context, page interfaces.Page, step models.Step, blueprint []models.BlueprintElement, dataset map[string]string, visualCheck *visual.RunCheck) (StepOutcome, error) {
	e.logger.Debug().
		Int("step", step.StepNumber).
		Str("action", step.Action.String()).
		Str("target", step.TargetElement).
		Msg("Executing step")

	switch step.Action {
	case models.StepActionEnterText:
		return StepOutcome{Visual: models.VisualStatusNA}, e.enterText(ctx, page, step, blueprint, dataset)

	case models.StepActionClick:
		return StepOutcome{Visual: models.VisualStatusNA}, e.click(ctx, page, step, blueprint)

	case models.StepActionVerifyVisible:
		return StepOutcome{Visual: models.VisualStatusNA}, e.verifyVisible(ctx, page, step, blueprint)

	case models.StepActionVisual:
		return e.visualValidation(ctx, page, step, visualCheck)

	default:
		// Unreachable for validated jobs; classified as a browser error
		// rather than panicking mid-run
		return StepOutcome{Visual: models.VisualStatusNA}, &StepFailure{
			Kind:       FailureBrowser,
			StepNumber: step.StepNumber,
			Target:     step.TargetElement,
			Reason:     fmt.Sprintf("unknown action %q", step.Action),
		}
	}
}

func (e *StepExecutor) enterText(ctx context.Context, page interfaces.Page, step models.Step, blueprint []models.BlueprintElement, dataset map[string]string) error {
	sel, failure := e.resolveTarget(step, step.TargetElement, blueprint)
	if failure != nil {
		return failure
	}

	if err := page.WaitVisible(ctx, sel, e.stepTimeout); err != nil {
		return e.notVisible(step, step.TargetElement, err)
	}

	// Absent data keys resolve to empty string: clearing a field is a
	// legitimate test input
	value := dataset[step.DataKey]
	if err := page.SetValue(ctx, sel, value); err != nil {
		return &StepFailure{
			Kind:       FailureBrowser,
			StepNumber: step.StepNumber,
			Target:     step.TargetElement,
			Reason:     normalizeReason(err),
		}
	}
	return nil
}

func (e *StepExecutor) click(ctx context.Context, page interfaces.Page, step models.Step, blueprint []models.BlueprintElement) error {
	sel, failure := e.resolveTarget(step, step.TargetElement, blueprint)
	if failure != nil {
		return failure
	}

	if err := page.WaitVisible(ctx, sel, e.stepTimeout); err != nil {
		return e.notVisible(step, step.TargetElement, err)
	}

	if err := page.Click(ctx, sel); err != nil {
		return &StepFailure{
			Kind:       FailureBrowser,
			StepNumber: step.StepNumber,
			Target:     step.TargetElement,
			Reason:     normalizeReason(err),
		}
	}

	if len(step.Verifications) == 0 {
		return nil
	}

	// A click that does not produce the asserted state is a failure even
	// though the click itself succeeded
	if err := page.WaitReady(ctx, e.navTimeout); err != nil {
		return &StepFailure{
			Kind:       FailureNavigationTimeout,
			StepNumber: step.StepNumber,
			Target:     step.TargetElement,
			Reason:     normalizeReason(err),
		}
	}

	for _, verification := range step.Verifications {
		vSel, failure := e.resolveTarget(step, verification, blueprint)
		if failure != nil {
			return failure
		}
		if err := page.WaitVisible(ctx, vSel, e.stepTimeout); err != nil {
			return &StepFailure{
				Kind:       FailureVerification,
				StepNumber: step.StepNumber,
				Target:     verification,
				Reason:     fmt.Sprintf("verification element %q did not become visible after click", verification),
			}
		}
	}
	return nil
}

func (e *StepExecutor) verifyVisible(ctx context.Context, page interfaces.Page, step models.Step, blueprint []models.BlueprintElement) error {
	sel, failure := e.resolveTarget(step, step.TargetElement, blueprint)
	if failure != nil {
		return failure
	}
	if err := page.WaitVisible(ctx, sel, e.stepTimeout); err != nil {
		return e.notVisible(step, step.TargetElement, err)
	}
	return nil
}

func (e *StepExecutor) visualValidation(ctx context.Context, page interfaces.Page, step models.Step, visualCheck *visual.RunCheck) (StepOutcome, error) {
	status, artifactPath, err := visualCheck.Check(ctx, page, step.TargetElement)
	if err != nil {
		return StepOutcome{Visual: models.VisualStatusNA}, &StepFailure{
			Kind:       FailureBrowser,
			StepNumber: step.StepNumber,
			Target:     step.TargetElement,
			Reason:     normalizeReason(err),
		}
	}

	outcome := StepOutcome{Visual: status, VisualArtifact: artifactPath}
	if status == models.VisualStatusFail {
		return outcome, &StepFailure{
			Kind:       FailureVisualMismatch,
			StepNumber: step.StepNumber,
			Target:     step.TargetElement,
			Reason:     fmt.Sprintf("visual mismatch at %q exceeds tolerance", step.TargetElement),
		}
	}
	return outcome, nil
}

// resolveTarget is shared so every action classifies resolver misses the
// same way
func (e *StepExecutor) resolveTarget(step models.Step, target string, blueprint []models.BlueprintElement) (interfaces.Selector, *StepFailure) {
	sel, err := resolver.Resolve(target, blueprint)
	if err != nil {
		return interfaces.Selector{}, &StepFailure{
			Kind:       FailureLocatorNotFound,
			StepNumber: step.StepNumber,
			Target:     target,
			Reason:     normalizeReason(err),
		}
	}
	return sel, nil
}

func (e *StepExecutor) notVisible(step models.Step, target string, err error) *StepFailure {
	return &StepFailure{
		Kind:       FailureElementNotVisible,
		StepNumber: step.StepNumber,
		Target:     target,
		Reason:     normalizeReason(err),
	}
}
