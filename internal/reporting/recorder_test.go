package reporting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/probatio/internal/common"
	"github.com/ternarybob/probatio/internal/models"
)

// memPendingStorage is an in-memory PendingFinalStorage for tests
type memPendingStorage struct {
	pending map[string]*models.PendingFinal
}

func newMemPendingStorage() *memPendingStorage {
	return &memPendingStorage{pending: map[string]*models.PendingFinal{}}
}

func (m *memPendingStorage) Save(ctx context.Context, p *models.PendingFinal) error {
	copied := *p
	m.pending[p.RunID] = &copied
	return nil
}

func (m *memPendingStorage) List(ctx context.Context) ([]*models.PendingFinal, error) {
	out := make([]*models.PendingFinal, 0, len(m.pending))
	for _, p := range m.pending {
		copied := *p
		out = append(out, &copied)
	}
	return out, nil
}

func (m *memPendingStorage) Delete(ctx context.Context, runID string) error {
	delete(m.pending, runID)
	return nil
}

func testConfig(baseURL string) common.ReportingConfig {
	return common.ReportingConfig{
		RunRecordURL:         baseURL,
		RealtimeURL:          baseURL,
		RequestTimeout:       "2s",
		UpdateRateLimit:      10,
		ReconcileSchedule:    "@every 1m",
		ReconcileMaxAttempts: 3,
	}
}

func TestCreateRun(t *testing.T) {
	var received map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/results", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"id": "run_42"})
	}))
	defer server.Close()

	recorder := NewRecorder(testConfig(server.URL), newMemPendingStorage(), common.GetLogger())

	job := &models.TestCaseJob{TestCaseID: "tc_1", TargetURL: "https://example.com"}
	params := models.ParameterSet{DatasetName: "standard_user"}

	runID, err := recorder.CreateRun(context.Background(), job, params)
	require.NoError(t, err)
	assert.Equal(t, "run_42", runID)
	assert.Equal(t, "tc_1", received["test_case_id"])
	assert.Equal(t, "standard_user", received["dataset_name"])
	assert.Equal(t, "RUNNING", received["status"])
}

func TestCreateRunStoreError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	recorder := NewRecorder(testConfig(server.URL), newMemPendingStorage(), common.GetLogger())

	_, err := recorder.CreateRun(context.Background(), &models.TestCaseJob{}, models.ParameterSet{})
	assert.Error(t, err)
}

func TestCompleteRun(t *testing.T) {
	var path string
	var received map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		path = r.URL.Path
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	pending := newMemPendingStorage()
	recorder := NewRecorder(testConfig(server.URL), pending, common.GetLogger())

	run := models.NewRunState("run_42", "tc_1", "standard_user")
	run.FinalURL = "https://www.saucedemo.com/inventory.html"
	run.AddArtifact("runs/tc_1/a/failure.png", models.ArtifactFailureScreenshot)
	run.Fail("element not visible")

	require.NoError(t, recorder.CompleteRun(context.Background(), run))
	assert.Equal(t, "/results/run_42/final-status", path)
	assert.Equal(t, "FAIL", received["status"])
	assert.Equal(t, "element not visible", received["failure_reason"])
	assert.Equal(t, "https://www.saucedemo.com/inventory.html", received["final_url"])
	assert.Len(t, received["artifacts"], 1)
	assert.NotEmpty(t, received["ended_at"])
	assert.Empty(t, pending.pending)
}

func TestCompleteRunOutageParksWrite(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	pending := newMemPendingStorage()
	recorder := NewRecorder(testConfig(server.URL), pending, common.GetLogger())

	run := models.NewRunState("run_42", "tc_1", "standard_user")
	run.FinalURL = "https://www.saucedemo.com/checkout-complete.html"
	run.AddArtifact("runs/tc_1/a/step_2_diff.png", models.ArtifactVisualDiff)
	run.Complete()

	err := recorder.CompleteRun(context.Background(), run)
	require.Error(t, err)

	// The parked record is the complete terminal snapshot, so the sweep
	// can later write exactly what the direct write would have
	parked, ok := pending.pending["run_42"]
	require.True(t, ok)
	assert.Equal(t, models.RunStatusPass, parked.Status)
	assert.Equal(t, models.VisualStatusPass, parked.VisualStatus)
	assert.Equal(t, run.Artifacts, parked.Artifacts)
	assert.Equal(t, run.FinalURL, parked.FinalURL)
	assert.Equal(t, run.EndedAt, parked.EndedAt)
}

func TestReconcilerSweepDeliversAndClears(t *testing.T) {
	var deliveries int
	var received map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deliveries++
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	pending := newMemPendingStorage()
	pending.Save(context.Background(), &models.PendingFinal{
		RunID:        "run_parked",
		Status:       models.RunStatusFail,
		VisualStatus: models.VisualStatusNA,
		Artifacts:    []models.Artifact{{Path: "runs/tc/a/failure.png", Kind: models.ArtifactFailureScreenshot}},
		FinalURL:     "https://www.saucedemo.com/cart.html",
		EndedAt:      time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
	})

	recorder := NewRecorder(testConfig(server.URL), pending, common.GetLogger())
	reconciler := NewReconciler(recorder, pending, testConfig(server.URL), common.GetLogger())

	reconciler.sweep()

	assert.Equal(t, 1, deliveries)
	assert.Empty(t, pending.pending)

	// A reconciled write is no lossier than a direct one
	assert.Equal(t, "FAIL", received["status"])
	assert.Len(t, received["artifacts"], 1)
	assert.Equal(t, "https://www.saucedemo.com/cart.html", received["final_url"])
	assert.Equal(t, "2026-08-25T12:00:00Z", received["ended_at"])
}

func TestReconcilerSweepDropsAfterMaxAttempts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	pending := newMemPendingStorage()
	pending.Save(context.Background(), &models.PendingFinal{
		RunID:  "run_stuck",
		Status: models.RunStatusFail,
	})

	config := testConfig(server.URL)
	config.ReconcileMaxAttempts = 2
	recorder := NewRecorder(config, pending, common.GetLogger())
	reconciler := NewReconciler(recorder, pending, config, common.GetLogger())

	reconciler.sweep()
	assert.Len(t, pending.pending, 1)
	assert.Equal(t, 1, pending.pending["run_stuck"].Attempts)

	reconciler.sweep()
	assert.Empty(t, pending.pending)
}
