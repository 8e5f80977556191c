// Package app wires the worker's components together: storage, queue,
// browser, visual engine, reporting, and the consumer loop.
package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/probatio/internal/browser"
	"github.com/ternarybob/probatio/internal/common"
	"github.com/ternarybob/probatio/internal/interfaces"
	"github.com/ternarybob/probatio/internal/logs"
	"github.com/ternarybob/probatio/internal/queue"
	"github.com/ternarybob/probatio/internal/reporting"
	"github.com/ternarybob/probatio/internal/runner"
	badgerstorage "github.com/ternarybob/probatio/internal/storage/badger"
	"github.com/ternarybob/probatio/internal/visual"
)

// App holds the worker's components and owns their lifecycle
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	DB             *badgerstorage.BadgerDB
	ObjectStorage  interfaces.ObjectStorage
	PendingStorage interfaces.PendingFinalStorage
	RunLogStorage  interfaces.RunLogStorage

	QueueManager interfaces.QueueManager
	Worker       *queue.Worker

	Recorder   *reporting.Recorder
	Notifier   *reporting.Notifier
	Reconciler *reporting.Reconciler

	Controller  *runner.RunController
	LogConsumer *logs.Consumer
}

// New initializes the worker with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	db, err := badgerstorage.NewBadgerDB(logger, &cfg.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	app.DB = db
	app.ObjectStorage = badgerstorage.NewObjectStorage(db, logger)
	app.PendingStorage = badgerstorage.NewPendingFinalStorage(db, logger)
	app.RunLogStorage = badgerstorage.NewRunLogStorage(db, logger)

	// Route derived-logger output (correlation id = run id) into per-run
	// log storage
	app.LogConsumer = logs.NewConsumer(app.RunLogStorage, logger, cfg.Logging.Level)
	if err := app.LogConsumer.Start(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to start run-log consumer: %w", err)
	}
	logger.SetChannel("context", app.LogConsumer.GetChannel())

	queueMgr, err := queue.NewBadgerManager(
		db.Badger(),
		cfg.QueueName(),
		common.MustDuration(cfg.Queue.VisibilityTimeout, 0),
		cfg.Queue.MaxReceive,
	)
	if err != nil {
		app.shutdownStorage()
		return nil, fmt.Errorf("failed to initialize queue: %w", err)
	}
	app.QueueManager = queueMgr

	app.Recorder = reporting.NewRecorder(cfg.Reporting, app.PendingStorage, logger)
	app.Notifier = reporting.NewNotifier(cfg.Reporting, logger)
	app.Reconciler = reporting.NewReconciler(app.Recorder, app.PendingStorage, cfg.Reporting, logger)

	sessions := browser.NewFactory(cfg.Browser, logger)
	executor := runner.NewStepExecutor(cfg.Browser, logger)
	visualEngine := visual.NewEngine(app.ObjectStorage, cfg.Visual, logger)
	artifacts := runner.NewArtifactCapture(app.ObjectStorage, logger)

	app.Controller = runner.NewRunController(
		sessions,
		executor,
		visualEngine,
		artifacts,
		app.Recorder,
		app.Notifier,
		logger,
	)

	app.Worker = queue.NewWorker(
		app.QueueManager,
		app.Controller.Execute,
		logger,
		common.MustDuration(cfg.Queue.PollInterval, 0),
		common.MustDuration(cfg.Queue.RetryBackoff, 0),
	)

	return app, nil
}

// Start launches the consumer loop and the reconciliation sweep
func (a *App) Start() error {
	if err := a.Reconciler.Start(); err != nil {
		return fmt.Errorf("failed to start reconciliation sweep: %w", err)
	}
	if err := a.Worker.Start(); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}

	a.Logger.Info().
		Str("mode", string(a.Config.Worker.Mode)).
		Str("queue", a.Config.QueueName()).
		Msg("Worker started")
	return nil
}

// Shutdown stops the components in reverse dependency order. The in-flight
// run completes before the worker releases; browser sessions are per-run
// and close with their run.
func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.Info().Msg("Shutting down worker")

	if a.Worker != nil {
		if err := a.Worker.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Worker did not stop cleanly")
		}
	}
	if a.Reconciler != nil {
		a.Reconciler.Stop()
	}
	if a.QueueManager != nil {
		if err := a.QueueManager.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Queue manager did not close cleanly")
		}
	}

	a.shutdownStorage()

	a.Logger.Info().Msg("Shutdown complete")
	return nil
}

func (a *App) shutdownStorage() {
	if a.LogConsumer != nil {
		if err := a.LogConsumer.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Run-log consumer did not stop cleanly")
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Storage did not close cleanly")
		}
	}
}
