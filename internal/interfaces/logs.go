package interfaces

import (
	"context"

	"github.com/ternarybob/probatio/internal/models"
)

// RunLogStorage persists per-run log lines captured from the logging
// pipeline, keyed by run id.
type RunLogStorage interface {
	AppendLogs(ctx context.Context, runID string, entries []models.RunLogEntry) error
	GetLogs(ctx context.Context, runID string) ([]models.RunLogEntry, error)
}
