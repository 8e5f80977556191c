// Package logs captures structured log events for runs. Derived loggers
// carry the run id as their correlation id; the consumer drains arbor's
// context channel and persists the lines per run.
package logs

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/phuslu/log"
	"github.com/ternarybob/arbor"
	arborlevels "github.com/ternarybob/arbor/levels"
	arbormodels "github.com/ternarybob/arbor/models"
	"github.com/ternarybob/probatio/internal/interfaces"
	"github.com/ternarybob/probatio/internal/models"
)

// Consumer drains log batches from arbor's context channel and writes them
// to per-run storage. Lines without a correlation id are worker-level and
// are not stored.
type Consumer struct {
	storage       interfaces.RunLogStorage
	logger        arbor.ILogger
	channel       chan []arbormodels.LogEvent
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	minStoreLevel arbor.LogLevel
}

// NewConsumer creates a run-log consumer. minStoreLevel bounds what gets
// persisted; debug chatter stays on the console writers only.
func NewConsumer(storage interfaces.RunLogStorage, logger arbor.ILogger, minStoreLevel string) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		storage:       storage,
		logger:        logger,
		channel:       make(chan []arbormodels.LogEvent, 10),
		ctx:           ctx,
		cancel:        cancel,
		minStoreLevel: parseLogLevel(minStoreLevel),
	}
}

// parseLogLevel converts a config level string to arbor.LogLevel
func parseLogLevel(levelStr string) arbor.LogLevel {
	switch strings.ToLower(levelStr) {
	case "debug":
		return arbor.DebugLevel
	case "info":
		return arbor.InfoLevel
	case "warn", "warning":
		return arbor.WarnLevel
	case "error":
		return arbor.ErrorLevel
	default:
		return arbor.InfoLevel
	}
}

// convertTo3Letter converts full level names to 3-letter display codes
func convertTo3Letter(level string) string {
	switch strings.ToUpper(level) {
	case "INFO":
		return "INF"
	case "WARN", "WARNING":
		return "WRN"
	case "ERROR":
		return "ERR"
	case "DEBUG":
		return "DBG"
	default:
		if len(level) == 3 {
			return strings.ToUpper(level)
		}
		return "INF"
	}
}

// GetChannel returns the channel to hand to arbor's SetChannel
func (c *Consumer) GetChannel() chan []arbormodels.LogEvent {
	return c.channel
}

// Start launches the consumer goroutine
func (c *Consumer) Start() error {
	c.wg.Add(1)
	go c.consume()
	return nil
}

// Stop drains and shuts down the consumer
func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.logger.Info().Msg("Run-log consumer stopped")
	return nil
}

func (c *Consumer) consume() {
	defer c.wg.Done()

	defer func() {
		if r := recover(); r != nil {
			// Log without a correlation id to keep the panic out of the
			// channel this consumer drains
			c.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Run-log consumer panic recovered")
		}
	}()

	for {
		select {
		case batch, ok := <-c.channel:
			if !ok {
				return
			}
			c.writeBatch(batch)

		case <-c.ctx.Done():
			return
		}
	}
}

// writeBatch groups a batch by run id and writes each group concurrently
func (c *Consumer) writeBatch(batch []arbormodels.LogEvent) {
	entriesByRun := make(map[string][]models.RunLogEntry)

	for _, event := range batch {
		runID := event.CorrelationID
		if runID == "" {
			continue
		}
		if !c.shouldStore(event.Level) {
			continue
		}
		entriesByRun[runID] = append(entriesByRun[runID], transformEvent(event))
	}

	var wg sync.WaitGroup
	for runID, entries := range entriesByRun {
		wg.Add(1)
		go func(rid string, lines []models.RunLogEntry) {
			defer wg.Done()
			if err := c.storage.AppendLogs(c.ctx, rid, lines); err != nil {
				c.logger.Warn().
					Err(err).
					Str("run_id", rid).
					Int("log_count", len(lines)).
					Msg("Failed to persist run logs")
			}
		}(runID, entries)
	}
	wg.Wait()
}

// shouldStore applies the persistence threshold to an event's level
func (c *Consumer) shouldStore(level log.Level) bool {
	return arborlevels.FromLogLevel(level) >= c.minStoreLevel
}

// transformEvent converts an arbor log event to the stored entry shape
func transformEvent(event arbormodels.LogEvent) models.RunLogEntry {
	return models.RunLogEntry{
		Timestamp:     event.Timestamp.Format("15:04:05"),
		FullTimestamp: event.Timestamp.Format(time.RFC3339),
		Level:         convertTo3Letter(event.Level.String()),
		Message:       event.Message,
	}
}
