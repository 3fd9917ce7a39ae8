// Package pipeline runs batches of publications through annotation, deduplication,
// relation proposal, resolution and graph ingestion.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/OFFIS-RIT/biograph/internal/util"
	"github.com/OFFIS-RIT/biograph/pkg/annotate"
	"github.com/OFFIS-RIT/biograph/pkg/common"
	"github.com/OFFIS-RIT/biograph/pkg/feed"
	"github.com/OFFIS-RIT/biograph/pkg/ingest"
	"github.com/OFFIS-RIT/biograph/pkg/logger"
	"github.com/OFFIS-RIT/biograph/pkg/mention"
	"github.com/OFFIS-RIT/biograph/pkg/relation"
	"github.com/OFFIS-RIT/biograph/pkg/resolve"
	"github.com/OFFIS-RIT/biograph/pkg/store"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/sync/errgroup"
)

// minAbortSample is the number of attempted writes before the failure fraction applies.
const minAbortSample = 5

// Params are the collaborators of a Coordinator. They are built once per process and shared
// by every batch.
type Params struct {
	Annotators []annotate.Annotator
	Registries resolve.Registries
	Store      store.GraphStore
	// Parser enables the structural relation strategy.
	Parser  relation.Parser
	Metrics *Metrics
}

// Coordinator sequences the pipeline stages per publication.
type Coordinator struct {
	cfg        Config
	annotators []annotate.Annotator
	registries resolve.Registries
	proposer   *relation.Proposer
	engine     *ingest.Engine
	metrics    *Metrics
	log        logger.Component
}

func NewCoordinator(cfg Config, p Params) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}
	if p.Store == nil {
		return nil, errors.New("pipeline needs a graph store")
	}
	if len(p.Annotators) == 0 {
		return nil, errors.New("pipeline needs at least one annotator")
	}
	return &Coordinator{
		cfg:        cfg,
		annotators: p.Annotators,
		registries: p.Registries,
		proposer: relation.NewProposer(relation.Options{
			Window:           cfg.ProximityWindow,
			ProximityPenalty: relation.DefaultProximityPenalty,
			MinConfidence:    cfg.RelationMinConfidence,
			Cooccurrence:     cfg.Cooccurrence,
			Parser:           p.Parser,
		}),
		engine:  ingest.NewEngine(p.Store, ingest.WithWriteTimeout(cfg.CallTimeout)),
		metrics: p.Metrics,
		log:     logger.With("Pipeline"),
	}, nil
}

// Config returns the configuration the coordinator was built with.
func (c *Coordinator) Config() Config { return c.cfg }

// worker owns the per-worker state. Resolver caches are never shared.
type worker struct {
	resolver *resolve.Resolver
	dedup    *mention.Deduplicator
	seen     resolve.Stats
}

func (c *Coordinator) newWorker() *worker {
	return &worker{
		resolver: resolve.NewResolver(c.registries,
			resolve.WithRate(c.cfg.RegistryRate),
			resolve.WithBackoff(c.cfg.backoff()),
			resolve.WithCallTimeout(c.cfg.CallTimeout),
			resolve.WithObserver(c.metrics.observeRegistry),
		),
		dedup: mention.NewDeduplicator(c.cfg.ConfidenceThreshold),
	}
}

// batch is the shared state of one Run.
type batch struct {
	mu        sync.Mutex
	summary   BatchSummary
	attempted int
	writeFail int
	abort     context.CancelCauseFunc
}

type abortError struct{ reason string }

func (e *abortError) Error() string { return e.reason }

// Run processes every publication of f. It returns when the feed is exhausted, the batch
// is aborted or ctx is canceled. The summary is complete in every case. An aborted batch
// returns an error wrapping common.ErrBatchAborted.
func (c *Coordinator) Run(ctx context.Context, runID string, f feed.Feed) (BatchSummary, error) {
	if runID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return BatchSummary{}, err
		}
		runID = id
	}

	runCtx, abort := context.WithCancelCause(ctx)
	defer abort(nil)
	b := &batch{
		summary: BatchSummary{RunID: runID, StartedAt: time.Now().UTC()},
		abort:   abort,
	}
	c.log.Info("Batch started", "run_id", runID, "parallelism", c.cfg.Parallelism)

	pubs := make(chan common.Publication)
	g, gCtx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer close(pubs)
		return c.produce(gCtx, f, pubs, b)
	})
	for range c.cfg.Parallelism {
		g.Go(func() error {
			w := c.newWorker()
			for pub := range pubs {
				if gCtx.Err() != nil {
					continue
				}
				c.handle(gCtx, w, pub, b)
			}
			return nil
		})
	}
	err := g.Wait()

	s := b.finish()
	var ab *abortError
	switch cause := context.Cause(runCtx); {
	case errors.As(cause, &ab):
		s.Aborted = true
		s.AbortReason = ab.reason
	case ctx.Err() != nil:
		s.Canceled = true
	}
	c.metrics.observeBatch(s)
	c.log.Info("Batch finished",
		"run_id", runID,
		"status", s.Status(),
		"processed", s.ProcessedCount,
		"failed", len(s.Failed),
		"entities_created", s.EntitiesCreated,
		"relations_created", s.RelationsCreated,
	)

	switch {
	case s.Aborted:
		return s, fmt.Errorf("%w: %s", common.ErrBatchAborted, s.AbortReason)
	case s.Canceled:
		return s, ctx.Err()
	case err != nil:
		return s, err
	}
	return s, nil
}

// produce pages through the feed. A feed that keeps failing aborts the batch.
func (c *Coordinator) produce(ctx context.Context, f feed.Feed, out chan<- common.Publication, b *batch) error {
	for {
		page, _, err := util.RetryWithBackoff(ctx, c.cfg.backoff(), common.IsTransient,
			func(ctx context.Context) ([]common.Publication, error) {
				callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
				defer cancel()
				return f.Next(callCtx)
			})
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			b.abort(&abortError{reason: fmt.Sprintf("publication feed failed: %v", err)})
			return nil
		}
		for _, pub := range page {
			select {
			case out <- pub:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (c *Coordinator) handle(ctx context.Context, w *worker, pub common.Publication, b *batch) {
	res, err := c.process(ctx, w, pub)

	stats := w.resolver.Stats()
	c.metrics.observeResolver(resolve.Stats{
		Lookups:   stats.Lookups - w.seen.Lookups,
		CacheHits: stats.CacheHits - w.seen.CacheHits,
	})
	w.seen = stats

	if err != nil && ctx.Err() != nil {
		c.log.Debug("Publication interrupted", "publication", pub.ID)
		return
	}
	b.record(c, pub, res, err)
}

// record applies one publication outcome to the summary and decides on aborting.
func (b *batch) record(c *Coordinator, pub common.Publication, res ingest.Result, err error) {
	kind := common.Classify(err)
	c.metrics.observeOutcome(kind, res.EntitiesCreated, res.RelationsCreated)

	b.mu.Lock()
	defer b.mu.Unlock()

	var wrote bool
	if err == nil {
		b.summary.ProcessedCount++
		b.summary.EntitiesCreated += res.EntitiesCreated
		b.summary.RelationsCreated += res.RelationsCreated
		b.summary.ProvenanceAdded += res.ProvenanceAdded
		if pub.UpdatedAt.After(b.summary.Watermark) {
			b.summary.Watermark = pub.UpdatedAt.UTC()
		}
		wrote = true
	} else {
		c.log.Warn("Publication failed", "publication", pub.ID, "kind", kind, "err", err)
		b.summary.Failed = append(b.summary.Failed, PublicationFailure{ID: pub.ID, Kind: kind, Reason: err.Error()})
		var writeErr *common.GraphWriteError
		if errors.As(err, &writeErr) {
			wrote = true
			b.writeFail++
		}
	}
	if !wrote {
		return
	}
	b.attempted++

	switch {
	case errors.Is(err, common.ErrStoreUnavailable):
		b.abort(&abortError{reason: fmt.Sprintf("graph store unavailable: %v", err)})
	case b.attempted >= minAbortSample &&
		float64(b.writeFail)/float64(b.attempted) > c.cfg.MaxWriteFailureFraction:
		b.abort(&abortError{reason: fmt.Sprintf(
			"%d of %d publication writes failed", b.writeFail, b.attempted,
		)})
	}
}

func (b *batch) finish() BatchSummary {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.summary
	s.Failed = append([]PublicationFailure(nil), b.summary.Failed...)
	s.sortFailures()
	s.FinishedAt = time.Now().UTC()
	return s
}

// process runs every stage for one publication. Panics from any stage become
// internal failures of that publication.
func (c *Coordinator) process(ctx context.Context, w *worker, pub common.Publication) (res ingest.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("publication %s panicked: %v", pub.ID, r)
		}
	}()

	if err := pub.Validate(); err != nil {
		return ingest.Result{}, err
	}

	var (
		mentions    []common.Mention
		assertions  []common.RelationAssertion
		failures    []error
		invocations int
	)
	for _, sec := range pub.Sections() {
		if err := ctx.Err(); err != nil {
			return ingest.Result{}, err
		}
		out := annotate.RunAll(ctx, c.annotators, sec.Text, c.cfg.CallTimeout)
		invocations += len(c.annotators)
		for _, f := range out.Failures {
			c.metrics.observeAnnotatorFailure(f)
			c.log.Warn("Annotator output dropped", "publication", pub.ID, "section", sec.Name, "err", f)
		}
		failures = append(failures, out.Failures...)

		kept := w.dedup.Deduplicate(out.Candidates)
		for i := range kept {
			kept[i].Section = sec.Name
		}
		mentions = append(mentions, kept...)
		assertions = append(assertions, c.proposer.Propose(ctx, sec.Text, kept)...)
	}
	if invocations > 0 && len(failures) == invocations {
		return ingest.Result{}, &common.ExtractionFailure{
			Annotator: "all",
			Err:       errors.Join(failures...),
		}
	}

	resolved := w.resolver.ResolveAll(ctx, mentions)
	if err := ctx.Err(); err != nil {
		return ingest.Result{}, err
	}

	plan, err := ingest.BuildPlan(pub, resolved, assertions)
	if err != nil {
		return ingest.Result{}, err
	}
	res, _, err = util.RetryWithBackoff(ctx, c.cfg.backoff(), retryableWrite,
		func(ctx context.Context) (ingest.Result, error) {
			return c.engine.Apply(ctx, pub.ID, plan)
		})
	return res, err
}

// retryableWrite retries every graph write failure of a publication.
func retryableWrite(err error) bool {
	var writeErr *common.GraphWriteError
	return errors.As(err, &writeErr) || common.IsTransient(err)
}
