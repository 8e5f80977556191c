package models

import (
	"time"
)

// RunStatus represents the terminal state machine of one run:
// RUNNING -> PASS | FAIL. Terminal status is written exactly once.
type RunStatus string

const (
	RunStatusRunning RunStatus = "RUNNING"
	RunStatusPass    RunStatus = "PASS"
	RunStatusFail    RunStatus = "FAIL"
)

// VisualStatus represents the aggregated visual-regression outcome of a run.
type VisualStatus string

const (
	VisualStatusNA              VisualStatus = "N/A"
	VisualStatusPass            VisualStatus = "PASS"
	VisualStatusFail            VisualStatus = "FAIL"
	VisualStatusBaselineCreated VisualStatus = "BASELINE_CREATED"
)

// MergeVisual folds one visual check outcome into the run's aggregate.
// Any FAIL is sticky; otherwise the most informative non-N/A status wins.
func MergeVisual(current, outcome VisualStatus) VisualStatus {
	if current == VisualStatusFail || outcome == VisualStatusFail {
		return VisualStatusFail
	}
	if outcome == VisualStatusNA {
		return current
	}
	if current == VisualStatusNA {
		return outcome
	}
	// PASS and BASELINE_CREATED are both non-failing; BASELINE_CREATED is
	// the more informative of the two for a bootstrapping run.
	if current == VisualStatusBaselineCreated || outcome == VisualStatusBaselineCreated {
		return VisualStatusBaselineCreated
	}
	return VisualStatusPass
}

// StepStatus is the per-step progress state pushed to the live channel.
type StepStatus string

const (
	StepStatusRunning StepStatus = "RUNNING"
	StepStatusPass    StepStatus = "PASS"
	StepStatusFail    StepStatus = "FAIL"
)

// ArtifactKind classifies an uploaded diagnostic object.
type ArtifactKind string

const (
	ArtifactFailureScreenshot ArtifactKind = "failure_screenshot"
	ArtifactTrace             ArtifactKind = "trace"
	ArtifactVisualDiff        ArtifactKind = "visual_diff"
)

// Artifact is one write-once diagnostic object uploaded for a run.
type Artifact struct {
	Path string       `json:"path"`
	Kind ArtifactKind `json:"kind"`
}

// RunState is the ephemeral in-process state of one (test case, parameter
// set) execution. It never outlives the job; the terminal snapshot is
// pushed to the run-record store at run end.
type RunState struct {
	RunID         string
	TestCaseID    string
	DatasetName   string
	Status        RunStatus
	VisualStatus  VisualStatus
	FailureReason string
	ArtifactsPath string
	Artifacts     []Artifact
	FinalURL      string
	StartedAt     time.Time
	EndedAt       time.Time
}

// NewRunState creates a run in the RUNNING state with no visual outcome yet.
func NewRunState(runID, testCaseID, datasetName string) *RunState {
	return &RunState{
		RunID:        runID,
		TestCaseID:   testCaseID,
		DatasetName:  datasetName,
		Status:       RunStatusRunning,
		VisualStatus: VisualStatusNA,
		StartedAt:    time.Now(),
	}
}

// Fail transitions the run to FAIL with the given reason. The first failure
// wins; later calls never overwrite the original reason.
func (r *RunState) Fail(reason string) {
	if r.Status == RunStatusFail {
		return
	}
	r.Status = RunStatusFail
	r.FailureReason = reason
	r.EndedAt = time.Now()
}

// Complete finalizes a run that executed every step. The run passes only if
// the visual aggregate did not fail; a run with zero visual steps reports
// visual PASS alongside the functional result.
func (r *RunState) Complete() {
	if r.Status != RunStatusRunning {
		return
	}
	if r.VisualStatus == VisualStatusNA {
		r.VisualStatus = VisualStatusPass
	}
	if r.VisualStatus == VisualStatusFail {
		r.Status = RunStatusFail
		if r.FailureReason == "" {
			r.FailureReason = "visual regression detected"
		}
	} else {
		r.Status = RunStatusPass
	}
	r.EndedAt = time.Now()
}

// AddArtifact records an uploaded diagnostic object on the run.
func (r *RunState) AddArtifact(path string, kind ArtifactKind) {
	r.Artifacts = append(r.Artifacts, Artifact{Path: path, Kind: kind})
}

// PendingFinal is a terminal status write that could not reach the
// run-record store. Persisted so the reconciliation sweep can retry it
// after a restart. It carries the full terminal snapshot: a run finalized
// by the sweep must be indistinguishable in the store from one written
// directly.
type PendingFinal struct {
	RunID         string       `badgerhold:"key" json:"run_id"`
	Status        RunStatus    `json:"status"`
	VisualStatus  VisualStatus `json:"visual_status"`
	FailureReason string       `json:"failure_reason,omitempty"`
	Artifacts     []Artifact   `json:"artifacts,omitempty"`
	FinalURL      string       `json:"final_url,omitempty"`
	EndedAt       time.Time    `json:"ended_at"`
	Attempts      int          `json:"attempts"`
	LastAttempt   time.Time    `json:"last_attempt"`
	CreatedAt     time.Time    `json:"created_at"`
}
