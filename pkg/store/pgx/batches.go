package pgx

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	pgxv5 "github.com/jackc/pgx/v5"
)

// ErrRunNotFound is returned by GetBatchRun for unknown run ids.
var ErrRunNotFound = errors.New("batch run not found")

// Batch run states.
const (
	RunPending  = "pending"
	RunRunning  = "running"
	RunFinished = "finished"
	RunAborted  = "aborted"
	RunCanceled = "canceled"
	RunFailed   = "failed"
)

// BatchRun is one row of batch_runs. Request and Summary are stored as JSON documents.
type BatchRun struct {
	RunID      string          `json:"run_id"`
	Status     string          `json:"status"`
	LockKey    string          `json:"lock_key,omitempty"`
	Request    json.RawMessage `json:"request"`
	Summary    json.RawMessage `json:"summary,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// CreateBatchRun records a queued run. It reports false when the run id is taken.
func (s *GraphDBStorage) CreateBatchRun(ctx context.Context, runID string, request []byte) (bool, error) {
	if len(request) == 0 {
		request = []byte("{}")
	}
	tag, err := s.conn.Exec(ctx, createBatchRunSQL, runID, RunPending, request, s.now().UTC())
	if err != nil {
		return false, classifyError(err)
	}
	return tag.RowsAffected() == 1, nil
}

// StartBatchRun records a run as running under lockKey. Restarting a known run resets its summary.
func (s *GraphDBStorage) StartBatchRun(ctx context.Context, runID, lockKey string, request []byte) error {
	if len(request) == 0 {
		request = []byte("{}")
	}
	_, err := s.conn.Exec(ctx, startBatchRunSQL, runID, RunRunning, lockKey, request, s.now().UTC())
	return classifyError(err)
}

// FinishBatchRun stores the final status and summary of a run.
func (s *GraphDBStorage) FinishBatchRun(ctx context.Context, runID, status string, summary []byte) error {
	_, err := s.conn.Exec(ctx, finishBatchRunSQL, runID, status, summary, s.now().UTC())
	return classifyError(err)
}

// ResetBatchRun moves a run back to pending so it can be queued again.
func (s *GraphDBStorage) ResetBatchRun(ctx context.Context, runID string) error {
	_, err := s.conn.Exec(ctx, resetBatchRunSQL, runID, RunPending)
	return classifyError(err)
}

// GetBatchRun loads one run.
func (s *GraphDBStorage) GetBatchRun(ctx context.Context, runID string) (BatchRun, error) {
	var r BatchRun
	err := s.conn.QueryRow(ctx, getBatchRunSQL, runID).Scan(
		&r.RunID, &r.Status, &r.LockKey, &r.Request, &r.Summary, &r.StartedAt, &r.FinishedAt,
	)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return BatchRun{}, ErrRunNotFound
	}
	return r, classifyError(err)
}

// StaleBatchRuns lists running runs started before the cutoff whose lease has expired. Their
// worker died without recording a summary.
func (s *GraphDBStorage) StaleBatchRuns(ctx context.Context, startedBefore time.Time) ([]BatchRun, error) {
	rows, err := s.conn.Query(ctx, staleBatchRunsSQL, RunRunning, startedBefore)
	if err != nil {
		return nil, classifyError(err)
	}
	defer rows.Close()

	var out []BatchRun
	for rows.Next() {
		var r BatchRun
		if err := rows.Scan(&r.RunID, &r.Status, &r.LockKey, &r.Request, &r.Summary, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, classifyError(rows.Err())
}

const createBatchRunSQL = `
INSERT INTO batch_runs (run_id, status, request, started_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (run_id) DO NOTHING;
`

const startBatchRunSQL = `
INSERT INTO batch_runs (run_id, status, lock_key, request, summary, started_at, finished_at)
VALUES ($1, $2, $3, $4, NULL, $5, NULL)
ON CONFLICT (run_id) DO UPDATE
SET status      = EXCLUDED.status,
    lock_key    = EXCLUDED.lock_key,
    request     = EXCLUDED.request,
    summary     = NULL,
    started_at  = EXCLUDED.started_at,
    finished_at = NULL;
`

const finishBatchRunSQL = `
UPDATE batch_runs
SET status = $2, summary = $3, finished_at = $4
WHERE run_id = $1;
`

const resetBatchRunSQL = `
UPDATE batch_runs
SET status = $2, summary = NULL, finished_at = NULL
WHERE run_id = $1;
`

const getBatchRunSQL = `
SELECT run_id, status, lock_key, request, summary, started_at, finished_at
FROM batch_runs
WHERE run_id = $1;
`

const staleBatchRunsSQL = `
SELECT r.run_id, r.status, r.lock_key, r.request, r.summary, r.started_at, r.finished_at
FROM batch_runs r
WHERE r.status = $1
  AND r.started_at < $2
  AND NOT EXISTS (
      SELECT 1 FROM app_locks l
      WHERE l.lock_key = r.lock_key AND l.expires_at > now()
  )
ORDER BY r.started_at;
`
