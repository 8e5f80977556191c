package runner

import (
	"fmt"
	"regexp"
	"strings"
)

// FailureKind classifies why a step failed. All kinds are terminal for the
// run; none are retried.
type FailureKind string

const (
	FailureLocatorNotFound   FailureKind = "locator_not_found"
	FailureElementNotVisible FailureKind = "element_not_visible"
	FailureNavigationTimeout FailureKind = "navigation_timeout"
	FailureVerification      FailureKind = "verification_failed"
	FailureVisualMismatch    FailureKind = "visual_mismatch"
	FailureBrowser           FailureKind = "browser_error"
)

// StepFailure is the terminal failure of one step. The reason is what ends
// up in the run record's failure_reason field.
type StepFailure struct {
	Kind       FailureKind
	StepNumber int
	Target     string
	Reason     string
}

func (f *StepFailure) Error() string {
	return fmt.Sprintf("step %d failed (%s): %s", f.StepNumber, f.Kind, f.Reason)
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// normalizeReason collapses a driver error into a single readable line for
// the run record
func normalizeReason(err error) string {
	msg := err.Error()
	if idx := strings.IndexByte(msg, '\n'); idx >= 0 {
		msg = msg[:idx]
	}
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(msg, " "))
}
