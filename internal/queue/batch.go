package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/biograph/pkg/common"
	"github.com/OFFIS-RIT/biograph/pkg/feed"
	"github.com/OFFIS-RIT/biograph/pkg/leaselock"
	"github.com/OFFIS-RIT/biograph/pkg/logger"
	"github.com/OFFIS-RIT/biograph/pkg/pipeline"
	graphstorage "github.com/OFFIS-RIT/biograph/pkg/store/pgx"

	"github.com/go-playground/validator"
)

// Feed sources a batch can read from.
const (
	SourcePostgres = "postgres"
	SourceS3       = "s3"
)

// ErrInvalidMessage marks a batch message that can never be processed.
var ErrInvalidMessage = errors.New("invalid batch message")

var validate = validator.New()

// BatchMsg triggers one batch run over a publication range.
type BatchMsg struct {
	RunID     string    `json:"run_id" validate:"required,max=64"`
	Source    string    `json:"source" validate:"required,oneof=postgres s3"`
	FromID    string    `json:"from_id,omitempty"`
	ToID      string    `json:"to_id,omitempty"`
	Watermark time.Time `json:"watermark,omitzero"`
}

// Validate checks the message fields and the id range order.
func (m BatchMsg) Validate() error {
	if err := validate.Struct(m); err != nil {
		return err
	}
	if m.FromID != "" && m.ToID != "" && m.FromID > m.ToID {
		return fmt.Errorf("from_id %q is after to_id %q", m.FromID, m.ToID)
	}
	return nil
}

// Range is the feed range of the message.
func (m BatchMsg) Range() feed.Range {
	return feed.Range{FromID: m.FromID, ToID: m.ToID, Since: m.Watermark}
}

// LockKey names the lease that serializes runs over the same range.
func (m BatchMsg) LockKey() string {
	return leaselock.RangeKey(m.Source, m.FromID, m.ToID, m.Watermark)
}

// DecodeBatchMsg parses and validates a message body.
func DecodeBatchMsg(body []byte) (BatchMsg, error) {
	var m BatchMsg
	if err := json.Unmarshal(body, &m); err != nil {
		return BatchMsg{}, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	if err := m.Validate(); err != nil {
		return BatchMsg{}, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	return m, nil
}

// RunStore records batch runs. The postgres graph store implements it.
type RunStore interface {
	StartBatchRun(ctx context.Context, runID, lockKey string, request []byte) error
	FinishBatchRun(ctx context.Context, runID, status string, summary []byte) error
}

// BatchRunner runs one batch. *pipeline.Coordinator implements it.
type BatchRunner interface {
	Run(ctx context.Context, runID string, f feed.Feed) (pipeline.BatchSummary, error)
}

// FeedFactory opens the publication feed for a message.
type FeedFactory func(msg BatchMsg) (feed.Feed, error)

// BatchProcessor turns batch messages into coordinator runs.
type BatchProcessor struct {
	Runner BatchRunner
	Runs   RunStore
	Locker leaselock.Locker
	Feeds  FeedFactory
	// Events receives "batch.<status>" summaries when set.
	Events Publisher
	Lease  leaselock.Options
}

const finishTimeout = 10 * time.Second

// Process runs the batch described by body while holding the range lease. Aborted and
// finished runs are final and return nil. A canceled run returns its error so the message
// is retried, which is safe because ingestion is idempotent.
func (p *BatchProcessor) Process(ctx context.Context, body []byte) (pipeline.BatchSummary, error) {
	msg, err := DecodeBatchMsg(body)
	if err != nil {
		return pipeline.BatchSummary{}, err
	}
	f, err := p.Feeds(msg)
	if err != nil {
		return pipeline.BatchSummary{}, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}

	var summary pipeline.BatchSummary
	err = p.Locker.WithLease(ctx, msg.LockKey(), p.Lease, func(ctx context.Context) error {
		if err := p.Runs.StartBatchRun(ctx, msg.RunID, msg.LockKey(), body); err != nil {
			return fmt.Errorf("start batch run: %w", err)
		}

		var runErr error
		summary, runErr = p.Runner.Run(ctx, msg.RunID, f)
		status := runStatus(summary, runErr)

		data, err := json.Marshal(summary)
		if err != nil {
			return err
		}
		finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
		defer cancel()
		if err := p.Runs.FinishBatchRun(finishCtx, msg.RunID, status, data); err != nil {
			return fmt.Errorf("finish batch run: %w", err)
		}
		if p.Events != nil {
			if err := PublishTopic(p.Events, "batch."+status, data); err != nil {
				logger.Warn("[Queue] Failed to publish batch event", "run_id", msg.RunID, "err", err)
			}
		}

		switch status {
		case graphstorage.RunFinished, graphstorage.RunAborted:
			if runErr != nil {
				logger.Warn("[Queue] Batch aborted", "run_id", msg.RunID, "reason", summary.AbortReason)
			}
			return nil
		}
		return runErr
	})
	return summary, err
}

func runStatus(s pipeline.BatchSummary, err error) string {
	switch {
	case s.Aborted || errors.Is(err, common.ErrBatchAborted):
		return graphstorage.RunAborted
	case s.Canceled:
		return graphstorage.RunCanceled
	case err != nil:
		return graphstorage.RunFailed
	}
	return graphstorage.RunFinished
}
