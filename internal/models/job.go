package models

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// StepAction represents the kind of interaction a test step performs.
// This provides explicit type-safety for step dispatch in the executor.
type StepAction string

const (
	StepActionEnterText     StepAction = "ENTER_TEXT"
	StepActionClick         StepAction = "CLICK"
	StepActionVerifyVisible StepAction = "VERIFY_ELEMENT_VISIBLE"
	StepActionVisual        StepAction = "VISUAL_VALIDATION"
)

// IsValid checks if the StepAction is a known, valid action
func (a StepAction) IsValid() bool {
	switch a {
	case StepActionEnterText, StepActionClick, StepActionVerifyVisible, StepActionVisual:
		return true
	}
	return false
}

// String returns the string representation of the StepAction
func (a StepAction) String() string {
	return string(a)
}

// BlueprintElement is one interactive element discovered on the target page.
// Produced by the discovery service; read-only here. LogicalName is the only
// key steps may use to address an element.
type BlueprintElement struct {
	LogicalName string `json:"logical_name" validate:"required"`
	Tag         string `json:"tag,omitempty"`
	Text        string `json:"text,omitempty"`
	ID          string `json:"id,omitempty"`
	Name        string `json:"name,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
	AriaLabel   string `json:"aria_label,omitempty"`
	Role        string `json:"role,omitempty"`
	DataTest    string `json:"data_test,omitempty"`
}

// ParameterSet is one named dataset for a test case. Each set yields one
// independent run with its own browser session.
type ParameterSet struct {
	DatasetName string            `json:"dataset_name" validate:"required"`
	Data        map[string]string `json:"data"`
}

// Step is a single ordered action within a test case.
type Step struct {
	StepNumber    int        `json:"step_number"`
	Action        StepAction `json:"action" validate:"required"`
	TargetElement string     `json:"target_element"`
	DataKey       string     `json:"data_key,omitempty"`
	// Verifications names elements that must become visible after the
	// action completes (post-navigation assertions for CLICK steps).
	Verifications []string `json:"verifications,omitempty"`
}

// TestCaseJob is the message body consumed from the execution queue.
// Immutable once dequeued; owned by one run controller for the duration
// of the job.
type TestCaseJob struct {
	TestCaseID  string             `json:"test_case_id" validate:"required"`
	Objective   string             `json:"objective"`
	TargetURL   string             `json:"target_url" validate:"required,url"`
	IsLiveView  bool               `json:"is_live_view"`
	UIBlueprint []BlueprintElement `json:"ui_blueprint"`
	Parameters  []ParameterSet     `json:"parameters" validate:"required,min=1,dive"`
	Steps       []Step             `json:"steps" validate:"required,min=1,dive"`
	RunID       string             `json:"run_id"`
}

var jobValidator = validator.New()

// Validate checks the job has everything the engine needs before a browser
// is launched. A job failing validation is treated as malformed: logged and
// acked without creating a run record.
func (j *TestCaseJob) Validate() error {
	if err := jobValidator.Struct(j); err != nil {
		return fmt.Errorf("invalid test case job: %w", err)
	}
	for i := range j.Steps {
		if !j.Steps[i].Action.IsValid() {
			return fmt.Errorf("invalid test case job: step %d has unknown action %q", j.Steps[i].StepNumber, j.Steps[i].Action)
		}
	}
	return nil
}

// ParseTestCaseJob decodes and validates a queue message body.
func ParseTestCaseJob(body []byte) (*TestCaseJob, error) {
	var job TestCaseJob
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, fmt.Errorf("failed to decode test case job: %w", err)
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}
	return &job, nil
}
