package interfaces

import (
	"context"
	"errors"

	"github.com/ternarybob/probatio/internal/models"
)

// ErrObjectNotFound is returned when a key has no stored object
var ErrObjectNotFound = errors.New("object not found")

// ObjectStorage stores baseline screenshots and failure artifacts.
// Keys are slash-separated paths, e.g. "baselines/tc1-d1/step_3.png".
type ObjectStorage interface {
	// Put stores an object, overwriting any existing value at the key
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// PutIfAbsent stores an object only when the key is empty. Returns
	// true when the object was created. Baselines use this so a stored
	// baseline is never mutated by the engine.
	PutIfAbsent(ctx context.Context, key string, data []byte, contentType string) (bool, error)

	// Get retrieves an object, or ErrObjectNotFound
	Get(ctx context.Context, key string) ([]byte, error)

	// Exists reports whether the key holds an object
	Exists(ctx context.Context, key string) (bool, error)
}

// PendingFinalStorage persists terminal status writes that failed to reach
// the run-record store, so the reconciliation sweep can retry them across
// worker restarts.
type PendingFinalStorage interface {
	Save(ctx context.Context, pending *models.PendingFinal) error
	List(ctx context.Context) ([]*models.PendingFinal, error)
	Delete(ctx context.Context, runID string) error
}
