// probatio-enqueue submits a test case job file to the execution queue.
// Intended for local development and smoke testing a worker without the
// dispatcher in front of it.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/ternarybob/probatio/internal/common"
	"github.com/ternarybob/probatio/internal/models"
	"github.com/ternarybob/probatio/internal/queue"
	badgerstorage "github.com/ternarybob/probatio/internal/storage/badger"
)

var (
	configFile = flag.String("config", "probatio.toml", "Configuration file path")
	jobFile    = flag.String("job", "", "Path to a test case job JSON file (required)")
	liveView   = flag.Bool("live-view", false, "Enqueue to the live-view queue")
)

func main() {
	flag.Parse()

	logger := common.GetLogger()

	if *jobFile == "" {
		logger.Fatal().Msg("-job is required")
		os.Exit(1)
	}

	var paths []string
	if _, err := os.Stat(*configFile); err == nil {
		paths = append(paths, *configFile)
	}
	config, err := common.LoadFromFiles(paths...)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}
	if *liveView {
		config.Worker.Mode = common.WorkerModeLiveView
	}

	body, err := os.ReadFile(*jobFile)
	if err != nil {
		logger.Fatal().Err(err).Str("path", *jobFile).Msg("Failed to read job file")
		os.Exit(1)
	}

	// Validate up front so a typo fails here, not as a discarded message in
	// the worker log
	job, err := models.ParseTestCaseJob(body)
	if err != nil {
		logger.Fatal().Err(err).Msg("Job file is not a valid test case job")
		os.Exit(1)
	}

	db, err := badgerstorage.NewBadgerDB(logger, &config.Storage.Badger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open storage")
		os.Exit(1)
	}
	defer db.Close()

	queueMgr, err := queue.NewBadgerManager(
		db.Badger(),
		config.QueueName(),
		common.MustDuration(config.Queue.VisibilityTimeout, 0),
		config.Queue.MaxReceive,
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open queue")
		os.Exit(1)
	}

	msg := models.QueueMessage{
		MessageID: common.NewMessageID(),
		Payload:   body,
	}
	if err := queueMgr.Enqueue(context.Background(), msg); err != nil {
		logger.Fatal().Err(err).Msg("Failed to enqueue job")
		os.Exit(1)
	}

	logger.Info().
		Str("message_id", msg.MessageID).
		Str("test_case_id", job.TestCaseID).
		Str("queue", config.QueueName()).
		Int("parameter_sets", len(job.Parameters)).
		Msg("Job enqueued")
	fmt.Printf("Enqueued %s to %s\n", job.TestCaseID, config.QueueName())
}
