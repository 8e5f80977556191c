package models

// RunLogEntry is one log line captured for a run, keyed by the run's
// correlation id. Stored alongside the run so a failed run can be inspected
// without grepping worker output.
type RunLogEntry struct {
	Timestamp     string `json:"timestamp"`      // Display time, "15:04:05"
	FullTimestamp string `json:"full_timestamp"` // RFC3339, used for ordering
	Level         string `json:"level"`          // 3-letter level code
	Message       string `json:"message"`
}
