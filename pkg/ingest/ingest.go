// Package ingest writes the extraction results of one publication into a graph store.
package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/OFFIS-RIT/biograph/pkg/common"
	"github.com/OFFIS-RIT/biograph/pkg/logger"
	"github.com/OFFIS-RIT/biograph/pkg/store"
)

// Result counts what an ingestion added to the graph.
type Result struct {
	EntitiesCreated  int `json:"entities_created"`
	RelationsCreated int `json:"relations_created"`
	ProvenanceAdded  int `json:"provenance_added"`
}

// Engine performs the graph writes of one publication as a single transaction.
type Engine struct {
	store   store.GraphStore
	timeout time.Duration
	log     logger.Component
}

type Option func(*Engine)

// WithWriteTimeout bounds each publication transaction.
func WithWriteTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

func NewEngine(s store.GraphStore, opts ...Option) *Engine {
	e := &Engine{store: s, log: logger.With("Ingest")}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Ingest upserts the publication node, one node per distinct entity or unlinked mention,
// one edge per relation and provenance for each. A failure rolls back every write of the
// publication and is returned as a GraphWriteError.
func (e *Engine) Ingest(
	ctx context.Context,
	pub common.Publication,
	mentions []common.ResolvedMention,
	assertions []common.RelationAssertion,
) (Result, error) {
	plan, err := BuildPlan(pub, mentions, assertions)
	if err != nil {
		return Result{}, err
	}
	return e.Apply(ctx, pub.ID, plan)
}

// Apply writes a prepared plan.
func (e *Engine) Apply(ctx context.Context, publicationID string, plan *Plan) (Result, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	var res Result
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		res = Result{}
		if _, err := tx.UpsertNode(ctx, plan.Publication); err != nil {
			return err
		}
		for _, n := range plan.Nodes {
			created, err := tx.UpsertNode(ctx, n)
			if err != nil {
				return err
			}
			if created {
				res.EntitiesCreated++
			}
		}
		for _, edge := range plan.Edges {
			created, err := tx.UpsertEdge(ctx, edge)
			if err != nil {
				return err
			}
			if created {
				res.RelationsCreated++
			}
		}
		for _, p := range plan.Provenance {
			created, err := tx.LinkProvenance(ctx, p)
			if err != nil {
				return err
			}
			if created {
				res.ProvenanceAdded++
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return Result{}, err
		}
		return Result{}, &common.GraphWriteError{PublicationID: publicationID, Err: err}
	}

	e.log.Debug("Ingested publication",
		"publication", publicationID,
		"entities_created", res.EntitiesCreated,
		"relations_created", res.RelationsCreated,
		"provenance_added", res.ProvenanceAdded,
	)
	return res, nil
}
