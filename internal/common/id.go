package common

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewMessageID generates a unique queue message ID
func NewMessageID() string {
	return uuid.New().String()
}

// NewRunID generates a unique run ID with the "run_" prefix.
// Used when a job arrives without a pre-assigned run identity.
func NewRunID() string {
	return "run_" + uuid.New().String()
}

// RunSlug builds the per-run artifact path segment from a dataset name and
// a timestamp fixed at run start. Computed once per run so repeated
// failures inside the same run reuse the same path.
func RunSlug(datasetName string, startedAt time.Time) string {
	return SanitizeName(datasetName) + "-" + startedAt.UTC().Format("20060102-150405")
}

// SanitizeName lowercases a name and replaces path-hostile characters so it
// can be used as an object store key segment.
func SanitizeName(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	replacer := strings.NewReplacer(" ", "_", "/", "_", "\\", "_", ":", "_", "..", "_")
	s = replacer.Replace(s)
	if s == "" {
		return "unnamed"
	}
	return s
}
