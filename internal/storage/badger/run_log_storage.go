package badger

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/probatio/internal/interfaces"
	"github.com/ternarybob/probatio/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// runLogSeq disambiguates entries sharing a timestamp within one process
var runLogSeq int64

// StoredRunLog is one persisted log line, indexed by run id
type StoredRunLog struct {
	Key   string `badgerhold:"key"`
	RunID string `badgerhold:"index"`
	Seq   int64
	Entry models.RunLogEntry
}

// RunLogStorage implements the RunLogStorage interface on Badger
type RunLogStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewRunLogStorage creates a new RunLogStorage instance
func NewRunLogStorage(db *BadgerDB, logger arbor.ILogger) interfaces.RunLogStorage {
	return &RunLogStorage{
		db:     db,
		logger: logger,
	}
}

// AppendLogs stores a batch of log lines for a run
func (s *RunLogStorage) AppendLogs(ctx context.Context, runID string, entries []models.RunLogEntry) error {
	if runID == "" {
		return fmt.Errorf("run ID is required")
	}

	for _, entry := range entries {
		seq := atomic.AddInt64(&runLogSeq, 1)
		record := StoredRunLog{
			Key:   fmt.Sprintf("%s:%020d", runID, seq),
			RunID: runID,
			Seq:   seq,
			Entry: entry,
		}
		if err := s.db.Store().Insert(record.Key, &record); err != nil {
			return fmt.Errorf("failed to append log for run %s: %w", runID, err)
		}
	}
	return nil
}

// GetLogs returns a run's log lines in capture order
func (s *RunLogStorage) GetLogs(ctx context.Context, runID string) ([]models.RunLogEntry, error) {
	var records []StoredRunLog
	if err := s.db.Store().Find(&records, badgerhold.Where("RunID").Eq(runID).Index("RunID")); err != nil {
		return nil, fmt.Errorf("failed to fetch logs for run %s: %w", runID, err)
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].Entry.FullTimestamp != records[j].Entry.FullTimestamp {
			return records[i].Entry.FullTimestamp < records[j].Entry.FullTimestamp
		}
		return records[i].Seq < records[j].Seq
	})

	entries := make([]models.RunLogEntry, 0, len(records))
	for _, r := range records {
		entries = append(entries, r.Entry)
	}
	return entries, nil
}
