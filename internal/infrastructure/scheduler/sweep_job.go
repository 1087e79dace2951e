package scheduler

import (
	"context"
	"fmt"

	appinv "github.com/clinic/backend/internal/application/inventory"
	"github.com/clinic/backend/internal/infrastructure/logger"
	"github.com/clinic/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

const (
	// ExpirySweepJob is the job name for the periodic expiry sweep
	ExpirySweepJob = "expiry_sweep"

	// SweepActor is recorded as the actor of transitions made by the sweep
	SweepActor = "system:expiry-sweep"
)

// Sweeper persists past-expiry transitions across the ledger
type Sweeper interface {
	Sweep(ctx context.Context, actor string) (*appinv.SweepStats, error)
}

// SweepExecutor runs the expiry sweep as a scheduled job
type SweepExecutor struct {
	sweeper Sweeper
	logger  *zap.Logger
}

// NewSweepExecutor creates a new SweepExecutor
func NewSweepExecutor(sweeper Sweeper, logger *zap.Logger) *SweepExecutor {
	return &SweepExecutor{sweeper: sweeper, logger: logger}
}

// Execute runs one sweep. A sweep that expired some batches but failed on
// others is reported as failed so the scheduler retries the remainder.
func (e *SweepExecutor) Execute(ctx context.Context, job *Job) error {
	ctx, log := logger.WithActor(ctx, e.logger, SweepActor)

	var stats *appinv.SweepStats
	var err error
	telemetry.WithProfilingLabels(ctx, telemetry.LedgerOperationLabels(telemetry.OperationSweep), func(c context.Context) {
		stats, err = e.sweeper.Sweep(c, SweepActor)
	})
	if err != nil {
		return err
	}

	log.Info("Expiry sweep finished",
		zap.String("job_id", job.ID.String()),
		zap.Int("scanned", stats.Scanned),
		zap.Int("expired", stats.Expired),
		zap.Int("failed", stats.Failed),
		zap.Int("expiring_soon", stats.ExpiringSoon),
		zap.Time("processed_at", stats.ProcessedAt),
	)
	if stats.Failed > 0 {
		return &PartialSweepError{Failed: stats.Failed, Scanned: stats.Scanned}
	}
	return nil
}

// PartialSweepError reports batches the sweep could not transition
type PartialSweepError struct {
	Failed  int
	Scanned int
}

func (e *PartialSweepError) Error() string {
	return fmt.Sprintf("expiry sweep failed for %d of %d batches", e.Failed, e.Scanned)
}

var _ JobExecutor = (*SweepExecutor)(nil)
