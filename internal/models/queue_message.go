package models

import (
	"encoding/json"
	"errors"
)

// ErrNoMessage is returned when the queue is empty
var ErrNoMessage = errors.New("no messages in queue")

// QueueMessage is the structure stored in the execution queue.
// Keep it simple - just enough to route the job.
type QueueMessage struct {
	MessageID string          `json:"message_id"`
	Queue     string          `json:"queue"` // Queue name the message was published to
	Payload   json.RawMessage `json:"payload"`
}
