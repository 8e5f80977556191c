package reporting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/probatio/internal/common"
	"github.com/ternarybob/probatio/internal/models"
)

type captureServer struct {
	mu       sync.Mutex
	requests []capturedRequest
	server   *httptest.Server
}

type capturedRequest struct {
	path    string
	payload map[string]interface{}
}

func newCaptureServer() *captureServer {
	cs := &captureServer{}
	cs.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]interface{}
		json.NewDecoder(r.Body).Decode(&payload)
		cs.mu.Lock()
		cs.requests = append(cs.requests, capturedRequest{path: r.URL.Path, payload: payload})
		cs.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	return cs
}

func (cs *captureServer) waitFor(t *testing.T, count int) []capturedRequest {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		cs.mu.Lock()
		n := len(cs.requests)
		cs.mu.Unlock()
		if n >= count {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	require.GreaterOrEqual(t, len(cs.requests), count)
	return append([]capturedRequest(nil), cs.requests...)
}

func TestNotifierStepStatusDelivery(t *testing.T) {
	cs := newCaptureServer()
	defer cs.server.Close()

	notifier := NewNotifier(testConfig(cs.server.URL), common.GetLogger())
	notifier.StepStatus(context.Background(), "run_1", 2, models.StepStatusFail, "element not visible")

	requests := cs.waitFor(t, 1)
	assert.Equal(t, "/update/run_1", requests[0].path)
	assert.Equal(t, "step_result", requests[0].payload["type"])
	assert.Equal(t, float64(2), requests[0].payload["step_number"])
	assert.Equal(t, "FAIL", requests[0].payload["status"])
	assert.Equal(t, "element not visible", requests[0].payload["failure_reason"])
}

func TestNotifierRunLifecycleUpdates(t *testing.T) {
	cs := newCaptureServer()
	defer cs.server.Close()

	notifier := NewNotifier(testConfig(cs.server.URL), common.GetLogger())

	steps := []models.Step{{StepNumber: 1, Action: models.StepActionClick, TargetElement: "Login_Button"}}
	notifier.RunStarted(context.Background(), "run_1", steps)

	run := models.NewRunState("run_1", "tc_1", "standard_user")
	run.Complete()
	notifier.RunCompleted(context.Background(), run)
	notifier.Broadcast(context.Background(), run)

	requests := cs.waitFor(t, 3)

	types := map[string]bool{}
	paths := map[string]bool{}
	for _, req := range requests {
		paths[req.path] = true
		if v, ok := req.payload["type"].(string); ok {
			types[v] = true
		}
	}
	assert.True(t, types["run_started"])
	assert.True(t, types["run_completed"])
	assert.True(t, paths["/notify/broadcast"])
}

func TestNotifierRateLimitDropsExcessStepUpdates(t *testing.T) {
	cs := newCaptureServer()
	defer cs.server.Close()

	config := testConfig(cs.server.URL)
	config.UpdateRateLimit = 2
	notifier := NewNotifier(config, common.GetLogger())

	for i := 0; i < 20; i++ {
		notifier.StepStatus(context.Background(), "run_1", i, models.StepStatusPass, "")
	}

	// The burst allows roughly the limit; the rest are dropped rather than
	// queued behind the channel
	time.Sleep(200 * time.Millisecond)
	cs.mu.Lock()
	delivered := len(cs.requests)
	cs.mu.Unlock()
	assert.LessOrEqual(t, delivered, 4)
	assert.GreaterOrEqual(t, delivered, 1)
}

func TestNotifierUnreachableChannelDoesNotBlock(t *testing.T) {
	config := testConfig("http://127.0.0.1:1")
	notifier := NewNotifier(config, common.GetLogger())

	done := make(chan struct{})
	go func() {
		run := models.NewRunState("run_1", "tc_1", "d")
		notifier.RunCompleted(context.Background(), run)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("notifier blocked the caller")
	}
}
