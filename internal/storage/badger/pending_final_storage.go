package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/probatio/internal/interfaces"
	"github.com/ternarybob/probatio/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// PendingFinalStorage implements the PendingFinalStorage interface on Badger
type PendingFinalStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewPendingFinalStorage creates a new PendingFinalStorage instance
func NewPendingFinalStorage(db *BadgerDB, logger arbor.ILogger) interfaces.PendingFinalStorage {
	return &PendingFinalStorage{
		db:     db,
		logger: logger,
	}
}

// Save upserts a pending terminal-status write keyed by run ID
func (s *PendingFinalStorage) Save(ctx context.Context, pending *models.PendingFinal) error {
	if pending.RunID == "" {
		return fmt.Errorf("run ID is required")
	}
	if err := s.db.Store().Upsert(pending.RunID, pending); err != nil {
		return fmt.Errorf("failed to save pending final for run %s: %w", pending.RunID, err)
	}
	return nil
}

// List returns all pending terminal-status writes
func (s *PendingFinalStorage) List(ctx context.Context) ([]*models.PendingFinal, error) {
	var pendings []models.PendingFinal
	if err := s.db.Store().Find(&pendings, nil); err != nil {
		return nil, fmt.Errorf("failed to list pending finals: %w", err)
	}

	result := make([]*models.PendingFinal, 0, len(pendings))
	for i := range pendings {
		result = append(result, &pendings[i])
	}
	return result, nil
}

// Delete removes a pending write after it reached the run-record store
func (s *PendingFinalStorage) Delete(ctx context.Context, runID string) error {
	err := s.db.Store().Delete(runID, &models.PendingFinal{})
	if err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to delete pending final for run %s: %w", runID, err)
	}
	return nil
}
