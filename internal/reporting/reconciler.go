package reporting

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/probatio/internal/common"
	"github.com/ternarybob/probatio/internal/interfaces"
)

// Reconciler periodically retries terminal status writes that could not
// reach the run-record store, so a store outage or worker crash never
// leaves a run stuck in RUNNING once the store comes back.
type Reconciler struct {
	recorder    *Recorder
	pending     interfaces.PendingFinalStorage
	cron        *cron.Cron
	schedule    string
	maxAttempts int
	logger      arbor.ILogger
}

// NewReconciler creates the reconciliation sweep
func NewReconciler(recorder *Recorder, pending interfaces.PendingFinalStorage, config common.ReportingConfig, logger arbor.ILogger) *Reconciler {
	maxAttempts := config.ReconcileMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 30
	}
	schedule := config.ReconcileSchedule
	if schedule == "" {
		schedule = "@every 1m"
	}
	return &Reconciler{
		recorder:    recorder,
		pending:     pending,
		cron:        cron.New(),
		schedule:    schedule,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Start registers and starts the sweep schedule
func (r *Reconciler) Start() error {
	if _, err := r.cron.AddFunc(r.schedule, r.sweep); err != nil {
		return err
	}
	r.cron.Start()
	r.logger.Info().
		Str("schedule", r.schedule).
		Msg("Run-record reconciliation sweep started")
	return nil
}

// Stop halts the sweep and waits for an in-flight pass to finish
func (r *Reconciler) Stop() {
	<-r.cron.Stop().Done()
}

// sweep retries every parked terminal write once. Records that exhaust the
// attempt budget are dropped with a loud log line; keeping them forever
// would just grow the store for a run nobody can resolve anymore.
func (r *Reconciler) sweep() {
	ctx := context.Background()

	parked, err := r.pending.List(ctx)
	if err != nil {
		r.logger.Warn().Err(err).Msg("Reconciliation sweep could not list pending writes")
		return
	}
	if len(parked) == 0 {
		return
	}

	r.logger.Info().
		Int("pending", len(parked)).
		Msg("Reconciliation sweep retrying parked terminal writes")

	for _, pending := range parked {
		if err := r.recorder.ResendFinal(ctx, pending); err != nil {
			pending.Attempts++
			pending.LastAttempt = time.Now()

			if pending.Attempts >= r.maxAttempts {
				r.logger.Error().
					Str("run_id", pending.RunID).
					Int("attempts", pending.Attempts).
					Msg("Dropping terminal status write after exhausting reconciliation attempts")
				if err := r.pending.Delete(ctx, pending.RunID); err != nil {
					r.logger.Warn().Err(err).Str("run_id", pending.RunID).Msg("Failed to drop exhausted pending write")
				}
				continue
			}

			if err := r.pending.Save(ctx, pending); err != nil {
				r.logger.Warn().Err(err).Str("run_id", pending.RunID).Msg("Failed to update pending write attempt count")
			}
			continue
		}

		if err := r.pending.Delete(ctx, pending.RunID); err != nil {
			r.logger.Warn().Err(err).Str("run_id", pending.RunID).Msg("Failed to clear reconciled pending write")
			continue
		}
		r.logger.Info().
			Str("run_id", pending.RunID).
			Msg("Reconciled terminal run status")
	}
}
