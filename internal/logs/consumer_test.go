package logs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/phuslu/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	arbormodels "github.com/ternarybob/arbor/models"
	"github.com/ternarybob/probatio/internal/common"
	"github.com/ternarybob/probatio/internal/models"
)

// memRunLogStorage is an in-memory RunLogStorage for tests
type memRunLogStorage struct {
	mu   sync.Mutex
	logs map[string][]models.RunLogEntry
}

func newMemRunLogStorage() *memRunLogStorage {
	return &memRunLogStorage{logs: map[string][]models.RunLogEntry{}}
}

func (m *memRunLogStorage) AppendLogs(ctx context.Context, runID string, entries []models.RunLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs[runID] = append(m.logs[runID], entries...)
	return nil
}

func (m *memRunLogStorage) GetLogs(ctx context.Context, runID string) ([]models.RunLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.RunLogEntry(nil), m.logs[runID]...), nil
}

func (m *memRunLogStorage) count(runID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.logs[runID])
}

func waitForCount(t *testing.T, storage *memRunLogStorage, runID string, expected int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if storage.count(runID) >= expected {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.Equal(t, expected, storage.count(runID))
}

func TestConsumerPersistsCorrelatedLogs(t *testing.T) {
	storage := newMemRunLogStorage()
	consumer := NewConsumer(storage, common.GetLogger(), "info")
	require.NoError(t, consumer.Start())
	defer consumer.Stop()

	consumer.GetChannel() <- []arbormodels.LogEvent{
		{
			Timestamp:     time.Date(2026, 8, 25, 12, 0, 1, 0, time.UTC),
			Level:         log.InfoLevel,
			Message:       "Run started",
			CorrelationID: "run_1",
		},
		{
			Timestamp:     time.Date(2026, 8, 25, 12, 0, 2, 0, time.UTC),
			Level:         log.WarnLevel,
			Message:       "Step failed",
			CorrelationID: "run_1",
		},
	}

	waitForCount(t, storage, "run_1", 2)

	entries, err := storage.GetLogs(context.Background(), "run_1")
	require.NoError(t, err)
	assert.Equal(t, "INF", entries[0].Level)
	assert.Equal(t, "Run started", entries[0].Message)
	assert.Equal(t, "WRN", entries[1].Level)
	assert.Equal(t, "12:00:01", entries[0].Timestamp)
}

func TestConsumerSkipsUncorrelatedAndBelowThreshold(t *testing.T) {
	storage := newMemRunLogStorage()
	consumer := NewConsumer(storage, common.GetLogger(), "warn")
	require.NoError(t, consumer.Start())
	defer consumer.Stop()

	consumer.GetChannel() <- []arbormodels.LogEvent{
		{Timestamp: time.Now(), Level: log.InfoLevel, Message: "worker chatter"},
		{Timestamp: time.Now(), Level: log.InfoLevel, Message: "below threshold", CorrelationID: "run_1"},
		{Timestamp: time.Now(), Level: log.ErrorLevel, Message: "stored", CorrelationID: "run_1"},
	}

	waitForCount(t, storage, "run_1", 1)

	entries, err := storage.GetLogs(context.Background(), "run_1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "stored", entries[0].Message)
	assert.Equal(t, "ERR", entries[0].Level)
}

func TestConvertTo3Letter(t *testing.T) {
	assert.Equal(t, "INF", convertTo3Letter("info"))
	assert.Equal(t, "WRN", convertTo3Letter("warning"))
	assert.Equal(t, "ERR", convertTo3Letter("error"))
	assert.Equal(t, "DBG", convertTo3Letter("debug"))
	assert.Equal(t, "FTL", convertTo3Letter("ftl"))
	assert.Equal(t, "INF", convertTo3Letter("unknown"))
}
