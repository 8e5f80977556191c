package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/probatio/internal/common"
	"github.com/ternarybob/probatio/internal/interfaces"
	"github.com/ternarybob/probatio/internal/models"
)

// fakeQueueManager feeds scripted messages and records acks
type fakeQueueManager struct {
	mu       sync.Mutex
	messages []models.QueueMessage
	acked    []string
	extends  int
}

func (f *fakeQueueManager) Enqueue(ctx context.Context, msg models.QueueMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeQueueManager) Receive(ctx context.Context) (*models.QueueMessage, interfaces.AckFunc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.messages) == 0 {
		return nil, nil, models.ErrNoMessage
	}
	msg := f.messages[0]
	f.messages = f.messages[1:]
	ack := func() error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.acked = append(f.acked, msg.MessageID)
		return nil
	}
	return &msg, ack, nil
}

func (f *fakeQueueManager) Extend(ctx context.Context, messageID string, duration time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extends++
	return nil
}

func (f *fakeQueueManager) Close() error { return nil }

func (f *fakeQueueManager) ackedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.acked...)
}

func enqueueJSON(t *testing.T, mgr *fakeQueueManager, id, body string) {
	t.Helper()
	require.NoError(t, mgr.Enqueue(context.Background(), models.QueueMessage{
		MessageID: id,
		Payload:   []byte(body),
	}))
}

func validJobBody() string {
	return `{
		"test_case_id": "tc_1",
		"target_url": "https://example.com",
		"parameters": [{"dataset_name": "d", "data": {}}],
		"steps": [{"step_number": 1, "action": "CLICK", "target_element": "Login_Button"}]
	}`
}

func runWorkerUntil(t *testing.T, mgr *fakeQueueManager, handler JobHandler, condition func() bool) {
	t.Helper()
	worker := NewWorker(mgr, handler, common.GetLogger(), 10*time.Millisecond, 10*time.Millisecond)
	require.NoError(t, worker.Start())
	defer worker.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func TestWorkerAcksSuccessfulJob(t *testing.T) {
	mgr := &fakeQueueManager{}
	enqueueJSON(t, mgr, "msg_1", validJobBody())

	var handled []string
	var mu sync.Mutex
	handler := func(ctx context.Context, job *models.TestCaseJob) error {
		mu.Lock()
		handled = append(handled, job.TestCaseID)
		mu.Unlock()
		return nil
	}

	runWorkerUntil(t, mgr, handler, func() bool { return len(mgr.ackedIDs()) == 1 })

	assert.Equal(t, []string{"msg_1"}, mgr.ackedIDs())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"tc_1"}, handled)
}

func TestWorkerAcksMalformedJobWithoutHandling(t *testing.T) {
	mgr := &fakeQueueManager{}
	enqueueJSON(t, mgr, "msg_bad", `{"not": "a job"}`)

	var handled int
	handler := func(ctx context.Context, job *models.TestCaseJob) error {
		handled++
		return nil
	}

	// Malformed jobs are acked so they cannot loop through redelivery
	runWorkerUntil(t, mgr, handler, func() bool { return len(mgr.ackedIDs()) == 1 })

	assert.Equal(t, []string{"msg_bad"}, mgr.ackedIDs())
	assert.Zero(t, handled)
}

func TestWorkerAcksWhenHandlerFails(t *testing.T) {
	mgr := &fakeQueueManager{}
	enqueueJSON(t, mgr, "msg_1", validJobBody())

	handler := func(ctx context.Context, job *models.TestCaseJob) error {
		return fmt.Errorf("dispatch blew up")
	}

	// A handler error is a dispatch failure, not grounds for redelivery
	runWorkerUntil(t, mgr, handler, func() bool { return len(mgr.ackedIDs()) == 1 })

	assert.Equal(t, []string{"msg_1"}, mgr.ackedIDs())
}

func TestWorkerProcessesSequentially(t *testing.T) {
	mgr := &fakeQueueManager{}
	enqueueJSON(t, mgr, "msg_1", validJobBody())
	enqueueJSON(t, mgr, "msg_2", validJobBody())

	var mu sync.Mutex
	inFlight := 0
	maxInFlight := 0
	handler := func(ctx context.Context, job *models.TestCaseJob) error {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()
		time.Sleep(30 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return nil
	}

	runWorkerUntil(t, mgr, handler, func() bool { return len(mgr.ackedIDs()) == 2 })

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, maxInFlight)
}

func TestWorkerStopWaitsForInFlightJob(t *testing.T) {
	mgr := &fakeQueueManager{}
	enqueueJSON(t, mgr, "msg_1", validJobBody())

	started := make(chan struct{})
	finished := false
	var mu sync.Mutex
	handler := func(ctx context.Context, job *models.TestCaseJob) error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		mu.Lock()
		finished = true
		mu.Unlock()
		return nil
	}

	worker := NewWorker(mgr, handler, common.GetLogger(), 10*time.Millisecond, 10*time.Millisecond)
	require.NoError(t, worker.Start())

	<-started
	require.NoError(t, worker.Stop())

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, finished, "Stop returned before the in-flight job completed")
}
