package runner

import (
	"archive/zip"
	"bytes"
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/probatio/internal/interfaces"
	"github.com/ternarybob/probatio/internal/models"
)

// ArtifactCapture uploads the diagnostic set for a failed run: a screenshot
// of the page at failure time and the session's event trace. Paths derive
// from the run's artifact prefix, fixed at run start, so a redelivered job
// overwrites its own artifacts instead of accumulating new ones.
type ArtifactCapture struct {
	objects interfaces.ObjectStorage
	logger  arbor.ILogger
}

// NewArtifactCapture creates an artifact capture backed by the object store
func NewArtifactCapture(objects interfaces.ObjectStorage, logger arbor.ILogger) *ArtifactCapture {
	return &ArtifactCapture{
		objects: objects,
		logger:  logger,
	}
}

// CaptureFailure uploads the failure screenshot and trace for a run that
// just transitioned to FAIL. Upload errors are logged and swallowed: losing
// an artifact must not mask the original test failure.
func (c *ArtifactCapture) CaptureFailure(ctx context.Context, session interfaces.BrowserSession, run *models.RunState) {
	screenshot, err := session.FullScreenshot(ctx)
	if err != nil {
		c.logger.Warn().
			Err(err).
			Str("run_id", run.RunID).
			Msg("Failed to capture failure screenshot")
	} else {
		path := run.ArtifactsPath + "/failure.png"
		if err := c.objects.Put(ctx, path, screenshot, "image/png"); err != nil {
			c.logger.Warn().
				Err(err).
				Str("path", path).
				Msg("Failed to upload failure screenshot")
		} else {
			run.AddArtifact(path, models.ArtifactFailureScreenshot)
		}
	}

	trace := session.TraceDump()
	if len(trace) == 0 {
		return
	}

	archive, err := zipTrace(trace)
	if err != nil {
		c.logger.Warn().
			Err(err).
			Str("run_id", run.RunID).
			Msg("Failed to package session trace")
		return
	}

	path := run.ArtifactsPath + "/trace.zip"
	if err := c.objects.Put(ctx, path, archive, "application/zip"); err != nil {
		c.logger.Warn().
			Err(err).
			Str("path", path).
			Msg("Failed to upload session trace")
		return
	}
	run.AddArtifact(path, models.ArtifactTrace)
}

// zipTrace wraps the JSON-lines trace in a single-entry zip archive
func zipTrace(trace []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	entry, err := zw.Create("trace.jsonl")
	if err != nil {
		return nil, err
	}
	if _, err := entry.Write(trace); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
