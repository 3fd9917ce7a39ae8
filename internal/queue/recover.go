package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/biograph/pkg/logger"
	graphstorage "github.com/OFFIS-RIT/biograph/pkg/store/pgx"
)

// StaleRunStore finds runs whose worker disappeared.
type StaleRunStore interface {
	StaleBatchRuns(ctx context.Context, startedBefore time.Time) ([]graphstorage.BatchRun, error)
	ResetBatchRun(ctx context.Context, runID string) error
}

// RecoverStaleRuns requeues running batches older than olderThan whose lease expired. It
// returns the number of requeued runs.
func RecoverStaleRuns(ctx context.Context, runs StaleRunStore, ch Publisher, olderThan time.Duration) (int, error) {
	stale, err := runs.StaleBatchRuns(ctx, time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to get stale batch runs: %w", err)
	}
	if len(stale) == 0 {
		logger.Debug("[Queue] No stale batch runs found")
		return 0, nil
	}
	logger.Info("[Queue] Found stale batch runs", "count", len(stale))

	recovered := 0
	for _, run := range stale {
		if _, err := DecodeBatchMsg(run.Request); err != nil {
			logger.Warn("[Queue] Stale batch run has an invalid request, skipping", "run_id", run.RunID, "err", err)
			continue
		}
		if err := runs.ResetBatchRun(ctx, run.RunID); err != nil {
			logger.Error("[Queue] Failed to reset batch run", "run_id", run.RunID, "err", err)
			continue
		}
		if err := PublishFIFO(ch, BatchQueue, run.Request); err != nil {
			logger.Error("[Queue] Failed to republish batch run", "run_id", run.RunID, "err", err)
			continue
		}
		recovered++
		logger.Info("[Queue] Recovered stale batch run", "run_id", run.RunID, "lock_key", run.LockKey)
	}
	return recovered, nil
}
