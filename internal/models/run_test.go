package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeVisual(t *testing.T) {
	tests := []struct {
		name     string
		current  VisualStatus
		outcome  VisualStatus
		expected VisualStatus
	}{
		{"fail is sticky over pass", VisualStatusFail, VisualStatusPass, VisualStatusFail},
		{"fail overrides baseline created", VisualStatusBaselineCreated, VisualStatusFail, VisualStatusFail},
		{"na keeps current", VisualStatusPass, VisualStatusNA, VisualStatusPass},
		{"first outcome replaces na", VisualStatusNA, VisualStatusPass, VisualStatusPass},
		{"baseline created wins over pass", VisualStatusPass, VisualStatusBaselineCreated, VisualStatusBaselineCreated},
		{"baseline created survives later pass", VisualStatusBaselineCreated, VisualStatusPass, VisualStatusBaselineCreated},
		{"both na stays na", VisualStatusNA, VisualStatusNA, VisualStatusNA},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, MergeVisual(tt.current, tt.outcome))
		})
	}
}

func TestRunStateFailFirstReasonWins(t *testing.T) {
	run := NewRunState("run_1", "tc_1", "dataset_a")
	assert.Equal(t, RunStatusRunning, run.Status)

	run.Fail("first failure")
	run.Fail("second failure")

	assert.Equal(t, RunStatusFail, run.Status)
	assert.Equal(t, "first failure", run.FailureReason)
	assert.False(t, run.EndedAt.IsZero())
}

func TestRunStateCompleteWithoutVisualSteps(t *testing.T) {
	run := NewRunState("run_1", "tc_1", "dataset_a")
	run.Complete()

	assert.Equal(t, RunStatusPass, run.Status)
	assert.Equal(t, VisualStatusPass, run.VisualStatus)
}

func TestRunStateCompleteVisualFailForcesRunFail(t *testing.T) {
	run := NewRunState("run_1", "tc_1", "dataset_a")
	run.VisualStatus = VisualStatusFail
	run.Complete()

	assert.Equal(t, RunStatusFail, run.Status)
	assert.NotEmpty(t, run.FailureReason)
}

func TestRunStateCompleteDoesNotOverwriteFailure(t *testing.T) {
	run := NewRunState("run_1", "tc_1", "dataset_a")
	run.Fail("element not visible")
	run.Complete()

	assert.Equal(t, RunStatusFail, run.Status)
	assert.Equal(t, "element not visible", run.FailureReason)
}

func TestRunStateCompleteBaselineCreatedIsNotFailing(t *testing.T) {
	run := NewRunState("run_1", "tc_1", "dataset_a")
	run.VisualStatus = VisualStatusBaselineCreated
	run.Complete()

	assert.Equal(t, RunStatusPass, run.Status)
	assert.Equal(t, VisualStatusBaselineCreated, run.VisualStatus)
}
