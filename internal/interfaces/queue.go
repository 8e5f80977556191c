package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/probatio/internal/models"
)

// AckFunc acknowledges a received message, removing it from the queue.
// Not calling it leaves the message to be redelivered after the visibility
// timeout expires (at-least-once delivery).
type AckFunc func() error

// QueueManager manages one named durable queue
type QueueManager interface {
	// Enqueue adds a message to the queue
	Enqueue(ctx context.Context, msg models.QueueMessage) error

	// Receive pulls the next visible message. Returns models.ErrNoMessage
	// when the queue is empty.
	Receive(ctx context.Context) (*models.QueueMessage, AckFunc, error)

	// Extend pushes out the visibility timeout for an in-flight message
	Extend(ctx context.Context, messageID string, duration time.Duration) error

	// Close releases queue resources
	Close() error
}
