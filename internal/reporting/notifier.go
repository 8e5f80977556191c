package reporting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/probatio/internal/common"
	"github.com/ternarybob/probatio/internal/models"
	"golang.org/x/time/rate"
)

// Notifier pushes live-progress updates to the realtime channel. Updates
// are fire-and-forget goroutines so a slow channel never stalls a running
// step, and per-step updates are rate limited so a long test case cannot
// flood the channel.
type Notifier struct {
	client  *http.Client
	baseURL string
	limiter *rate.Limiter
	logger  arbor.ILogger
}

// NewNotifier creates a progress notifier for the configured channel
func NewNotifier(config common.ReportingConfig, logger arbor.ILogger) *Notifier {
	limit := config.UpdateRateLimit
	if limit <= 0 {
		limit = 10
	}
	return &Notifier{
		client: &http.Client{
			Timeout: common.MustDuration(config.RequestTimeout, 10*time.Second),
		},
		baseURL: config.RealtimeURL,
		limiter: rate.NewLimiter(rate.Limit(limit), int(limit)),
		logger:  logger,
	}
}

type stepSummary struct {
	StepNumber    int    `json:"step_number"`
	Action        string `json:"action"`
	TargetElement string `json:"target_element,omitempty"`
}

type runUpdate struct {
	Type          string        `json:"type"`
	StepNumber    int           `json:"step_number,omitempty"`
	Status        string        `json:"status,omitempty"`
	VisualStatus  string        `json:"visual_status,omitempty"`
	FailureReason string        `json:"failure_reason,omitempty"`
	Steps         []stepSummary `json:"steps,omitempty"`
}

// RunStarted announces a new run with its step plan
func (n *Notifier) RunStarted(ctx context.Context, runID string, steps []models.Step) {
	summaries := make([]stepSummary, 0, len(steps))
	for _, s := range steps {
		summaries = append(summaries, stepSummary{
			StepNumber:    s.StepNumber,
			Action:        s.Action.String(),
			TargetElement: s.TargetElement,
		})
	}
	n.send(runID, runUpdate{Type: "run_started", Steps: summaries})
}

// StepStatus pushes one step transition. Updates beyond the rate limit are
// dropped; the terminal run_completed update always goes out, so a viewer
// can miss intermediate states but never the outcome.
func (n *Notifier) StepStatus(ctx context.Context, runID string, stepNumber int, status models.StepStatus, reason string) {
	if !n.limiter.Allow() {
		n.logger.Debug().
			Str("run_id", runID).
			Int("step", stepNumber).
			Msg("Live-progress update dropped by rate limiter")
		return
	}
	n.send(runID, runUpdate{
		Type:          "step_result",
		StepNumber:    stepNumber,
		Status:        string(status),
		FailureReason: reason,
	})
}

// RunCompleted pushes the terminal run outcome
func (n *Notifier) RunCompleted(ctx context.Context, run *models.RunState) {
	n.send(run.RunID, runUpdate{
		Type:          "run_completed",
		Status:        string(run.Status),
		VisualStatus:  string(run.VisualStatus),
		FailureReason: run.FailureReason,
	})
}

// Broadcast notifies the general channel that a run finished, for list
// views that are not subscribed to the run itself
func (n *Notifier) Broadcast(ctx context.Context, run *models.RunState) {
	payload := map[string]string{
		"run_id":       run.RunID,
		"test_case_id": run.TestCaseID,
		"status":       string(run.Status),
	}
	n.post(n.baseURL+"/notify/broadcast", payload, run.RunID)
}

func (n *Notifier) send(runID string, update runUpdate) {
	n.post(fmt.Sprintf("%s/update/%s", n.baseURL, runID), update, runID)
}

// post fires the request on a recovered goroutine. The worker never waits
// on the realtime channel.
func (n *Notifier) post(url string, payload interface{}, runID string) {
	common.SafeGo(n.logger, "progress-update", func() {
		data, err := json.Marshal(payload)
		if err != nil {
			return
		}

		req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.client.Do(req)
		if err != nil {
			n.logger.Debug().
				Err(err).
				Str("run_id", runID).
				Msg("Live-progress update not delivered")
			return
		}
		resp.Body.Close()
	})
}
