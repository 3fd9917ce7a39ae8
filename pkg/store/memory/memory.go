// Package memory is an in-process GraphStore for tests and dry runs.
package memory

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/OFFIS-RIT/biograph/pkg/common"
	"github.com/OFFIS-RIT/biograph/pkg/store"
)

// Store keeps the graph in maps. Transactions are serialized.
type Store struct {
	mu         sync.Mutex
	nodes      map[common.NodeRef]common.GraphNode
	edges      map[common.EdgeKey]common.GraphEdge
	provenance map[string]common.Provenance
	now        func() time.Time
	closed     bool
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		nodes:      make(map[common.NodeRef]common.GraphNode),
		edges:      make(map[common.EdgeKey]common.GraphEdge),
		provenance: make(map[string]common.Provenance),
		now:        time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

var errClosed = errors.New("memory store closed")

type tx struct {
	s          *Store
	now        time.Time
	nodes      map[common.NodeRef]common.GraphNode
	edges      map[common.EdgeKey]common.GraphEdge
	provenance map[string]common.Provenance
}

func (s *Store) WithTx(ctx context.Context, fn func(store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: %w", common.ErrStoreUnavailable, errClosed)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	t := &tx{
		s:          s,
		now:        s.now().UTC(),
		nodes:      map[common.NodeRef]common.GraphNode{},
		edges:      map[common.EdgeKey]common.GraphEdge{},
		provenance: map[string]common.Provenance{},
	}
	if err := fn(t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	maps.Copy(s.nodes, t.nodes)
	maps.Copy(s.edges, t.edges)
	maps.Copy(s.provenance, t.provenance)
	return nil
}

func (t *tx) node(ref common.NodeRef) (common.GraphNode, bool) {
	if n, ok := t.nodes[ref]; ok {
		return n, true
	}
	n, ok := t.s.nodes[ref]
	return n, ok
}

func (t *tx) UpsertNode(ctx context.Context, n common.GraphNode) (bool, error) {
	if n.Ref.Label == "" || n.Ref.ID == "" {
		return false, fmt.Errorf("node ref %+v is incomplete", n.Ref)
	}
	prev, exists := t.node(n.Ref)
	n.Aliases = store.MergeAliases(prev.Aliases, n.Aliases)
	n.Extra = maps.Clone(n.Extra)
	n.CreatedAt = t.now
	if exists {
		n.CreatedAt = prev.CreatedAt
	}
	n.UpdatedAt = t.now
	t.nodes[n.Ref] = n
	return !exists, nil
}

func (t *tx) UpsertEdge(ctx context.Context, e common.GraphEdge) (bool, error) {
	if !e.Key.Type.Valid() {
		return false, fmt.Errorf("unknown relation type %q", e.Key.Type)
	}
	for _, ref := range []common.NodeRef{e.Key.From, e.Key.To} {
		if _, ok := t.node(ref); !ok {
			return false, fmt.Errorf("edge endpoint %s does not exist", ref.FactID())
		}
	}
	prev, exists := t.edges[e.Key]
	if !exists {
		prev, exists = t.s.edges[e.Key]
	}
	e.Extra = maps.Clone(e.Extra)
	e.CreatedAt = t.now
	if exists {
		e.CreatedAt = prev.CreatedAt
	}
	e.UpdatedAt = t.now
	t.edges[e.Key] = e
	return !exists, nil
}

func (t *tx) LinkProvenance(ctx context.Context, p common.Provenance) (bool, error) {
	if p.ID == "" {
		return false, errors.New("provenance id is empty")
	}
	if _, ok := t.provenance[p.ID]; ok {
		return false, nil
	}
	if _, ok := t.s.provenance[p.ID]; ok {
		return false, nil
	}
	p.CreatedAt = t.now
	t.provenance[p.ID] = p
	return true, nil
}

func (s *Store) Stats(ctx context.Context) (common.GraphStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := common.GraphStats{
		NodesByLabel: map[string]int64{},
		EdgesByType:  map[string]int64{},
		Provenance:   int64(len(s.provenance)),
	}
	for ref := range s.nodes {
		st.NodesByLabel[ref.Label]++
	}
	for key := range s.edges {
		st.EdgesByType[string(key.Type)]++
	}
	return st, nil
}

// Close makes further transactions fail with ErrStoreUnavailable.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Nodes returns the committed nodes ordered by fact id.
func (s *Store) Nodes() []common.GraphNode {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := slices.Collect(maps.Values(s.nodes))
	slices.SortFunc(out, func(a, b common.GraphNode) int {
		return cmp.Compare(a.Ref.FactID(), b.Ref.FactID())
	})
	return out
}

// Node returns one committed node.
func (s *Store) Node(ref common.NodeRef) (common.GraphNode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[ref]
	return n, ok
}

// Edges returns the committed edges ordered by fact id.
func (s *Store) Edges() []common.GraphEdge {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := slices.Collect(maps.Values(s.edges))
	slices.SortFunc(out, func(a, b common.GraphEdge) int {
		return cmp.Compare(a.Key.FactID(), b.Key.FactID())
	})
	return out
}

// Provenance returns the committed provenance records ordered by fact id and id.
func (s *Store) Provenance() []common.Provenance {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := slices.Collect(maps.Values(s.provenance))
	slices.SortFunc(out, func(a, b common.Provenance) int {
		return cmp.Or(cmp.Compare(a.FactID, b.FactID), cmp.Compare(a.ID, b.ID))
	})
	return out
}
