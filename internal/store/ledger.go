package store

import (
	"context"

	"go.uber.org/zap"

	"github.com/ampersand-strategies/candidate-tracker/internal/model"
)

// RunLedger is the slice of Store that records job runs.
type RunLedger interface {
	StartRun(ctx context.Context, job string) (*model.Run, error)
	CompleteRun(ctx context.Context, runID string, summary *model.Summary) error
	FailRun(ctx context.Context, runID string, errMsg string) error
}

// Track runs fn as one ledger entry for job. A run interrupted by context
// cancellation is marked failed; otherwise it completes with its summary.
// Ledger write failures are logged and never stop the job.
func Track(ctx context.Context, ledger RunLedger, job string, fn func(ctx context.Context) *model.Summary) *model.Summary {
	log := zap.L().With(zap.String("component", "ledger"), zap.String("job", job))

	// Ledger writes outlive the job's context so interrupted runs still land.
	writeCtx := context.WithoutCancel(ctx)

	run, err := ledger.StartRun(writeCtx, job)
	if err != nil {
		log.Error("failed to record run start", zap.Error(err))
	}

	summary := fn(ctx)
	if run == nil {
		return summary
	}

	if cause := ctx.Err(); cause != nil {
		if err := ledger.FailRun(writeCtx, run.ID, cause.Error()); err != nil {
			log.Error("failed to record run failure", zap.Error(err))
		}
		return summary
	}
	if err := ledger.CompleteRun(writeCtx, run.ID, summary); err != nil {
		log.Error("failed to record run completion", zap.Error(err))
	}
	return summary
}
