// Package reporting pushes run lifecycle data to the external run-record
// store and the live-progress channel. Every call here is best-effort:
// collaborator outages degrade observability, never test outcomes.
package reporting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/probatio/internal/common"
	"github.com/ternarybob/probatio/internal/interfaces"
	"github.com/ternarybob/probatio/internal/models"
)

// Recorder talks to the run-record store over HTTP. Terminal writes that
// fail are parked as PendingFinal records for the reconciliation sweep.
type Recorder struct {
	client  *http.Client
	baseURL string
	pending interfaces.PendingFinalStorage
	logger  arbor.ILogger
}

// NewRecorder creates a run recorder for the configured store
func NewRecorder(config common.ReportingConfig, pending interfaces.PendingFinalStorage, logger arbor.ILogger) *Recorder {
	return &Recorder{
		client: &http.Client{
			Timeout: common.MustDuration(config.RequestTimeout, 10*time.Second),
		},
		baseURL: config.RunRecordURL,
		pending: pending,
		logger:  logger,
	}
}

type createRunRequest struct {
	TestCaseID  string `json:"test_case_id"`
	DatasetName string `json:"dataset_name"`
	Objective   string `json:"objective,omitempty"`
	TargetURL   string `json:"target_url"`
	Status      string `json:"status"`
	StartedAt   string `json:"started_at"`
}

type createRunResponse struct {
	ID string `json:"id"`
}

type finalStatusRequest struct {
	Status        string            `json:"status"`
	VisualStatus  string            `json:"visual_status"`
	FailureReason string            `json:"failure_reason,omitempty"`
	Artifacts     []models.Artifact `json:"artifacts,omitempty"`
	FinalURL      string            `json:"final_url,omitempty"`
	EndedAt       string            `json:"ended_at,omitempty"`
}

// CreateRun registers a RUNNING record and returns the store-assigned run id
func (r *Recorder) CreateRun(ctx context.Context, job *models.TestCaseJob, params models.ParameterSet) (string, error) {
	payload := createRunRequest{
		TestCaseID:  job.TestCaseID,
		DatasetName: params.DatasetName,
		Objective:   job.Objective,
		TargetURL:   job.TargetURL,
		Status:      string(models.RunStatusRunning),
		StartedAt:   time.Now().UTC().Format(time.RFC3339),
	}

	body, err := r.postJSON(ctx, http.MethodPost, r.baseURL+"/results", payload)
	if err != nil {
		return "", fmt.Errorf("failed to create run record: %w", err)
	}

	var created createRunResponse
	if err := json.Unmarshal(body, &created); err != nil {
		return "", fmt.Errorf("run record store returned an unreadable response: %w", err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("run record store returned no run id")
	}
	return created.ID, nil
}

// CompleteRun writes the terminal status triple. On failure the write is
// parked for the reconciliation sweep so the run does not stay RUNNING in
// the store forever.
func (r *Recorder) CompleteRun(ctx context.Context, run *models.RunState) error {
	payload := finalStatusRequest{
		Status:        string(run.Status),
		VisualStatus:  string(run.VisualStatus),
		FailureReason: run.FailureReason,
		Artifacts:     run.Artifacts,
		FinalURL:      run.FinalURL,
		EndedAt:       run.EndedAt.UTC().Format(time.RFC3339),
	}

	if _, err := r.postJSON(ctx, http.MethodPut, r.finalStatusURL(run.RunID), payload); err != nil {
		r.park(ctx, run)
		return fmt.Errorf("failed to write terminal run status: %w", err)
	}
	return nil
}

// ResendFinal retries a parked terminal write with the same payload the
// direct write would have sent. Used by the reconciliation sweep; the
// pending record is deleted by the caller on success.
func (r *Recorder) ResendFinal(ctx context.Context, pending *models.PendingFinal) error {
	payload := finalStatusRequest{
		Status:        string(pending.Status),
		VisualStatus:  string(pending.VisualStatus),
		FailureReason: pending.FailureReason,
		Artifacts:     pending.Artifacts,
		FinalURL:      pending.FinalURL,
	}
	if !pending.EndedAt.IsZero() {
		payload.EndedAt = pending.EndedAt.UTC().Format(time.RFC3339)
	}
	_, err := r.postJSON(ctx, http.MethodPut, r.finalStatusURL(pending.RunID), payload)
	return err
}

func (r *Recorder) finalStatusURL(runID string) string {
	return fmt.Sprintf("%s/results/%s/final-status", r.baseURL, runID)
}

// park persists the terminal write for the reconciliation sweep
func (r *Recorder) park(ctx context.Context, run *models.RunState) {
	pending := &models.PendingFinal{
		RunID:         run.RunID,
		Status:        run.Status,
		VisualStatus:  run.VisualStatus,
		FailureReason: run.FailureReason,
		Artifacts:     run.Artifacts,
		FinalURL:      run.FinalURL,
		EndedAt:       run.EndedAt,
		CreatedAt:     time.Now(),
	}
	if err := r.pending.Save(ctx, pending); err != nil {
		r.logger.Error().
			Err(err).
			Str("run_id", run.RunID).
			Msg("Failed to park terminal status for reconciliation")
		return
	}
	r.logger.Warn().
		Str("run_id", run.RunID).
		Msg("Terminal status parked for reconciliation sweep")
}

// postJSON sends a JSON request and returns the response body for 2xx
// statuses
func (r *Recorder) postJSON(ctx context.Context, method, url string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("run record store returned status %d", resp.StatusCode)
	}
	return body, nil
}
