package memory

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/OFFIS-RIT/biograph/pkg/common"
	"github.com/OFFIS-RIT/biograph/pkg/store"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

var (
	gene  = common.NodeRef{Label: "Gene", ID: "ENTREZ:67731"}
	organ = common.NodeRef{Label: "Tissue", ID: "UBERON:0001134"}
)

func TestUpsertNode_CreatesThenOverwrites(t *testing.T) {
	c := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := New(WithClock(c.now))
	ctx := context.Background()

	var created []bool
	for _, name := range []string{"Fbxo32", "FBXO32"} {
		err := s.WithTx(ctx, func(tx store.Tx) error {
			ok, err := tx.UpsertNode(ctx, common.GraphNode{Ref: gene, Name: name})
			created = append(created, ok)
			return err
		})
		if err != nil {
			t.Fatalf("WithTx() error = %v", err)
		}
	}
	if !created[0] || created[1] {
		t.Fatalf("created flags = %v, want [true false]", created)
	}
	n, ok := s.Node(gene)
	if !ok || n.Name != "FBXO32" {
		t.Fatalf("expected overwritten name, got %+v", n)
	}
	if !n.UpdatedAt.After(n.CreatedAt) {
		t.Fatalf("expected updated_at refresh, got created %v updated %v", n.CreatedAt, n.UpdatedAt)
	}
}

func TestUpsertNode_AliasesMergeIndependentOfOrder(t *testing.T) {
	ctx := context.Background()
	write := func(s *Store, aliases ...[]string) []string {
		t.Helper()
		for _, a := range aliases {
			err := s.WithTx(ctx, func(tx store.Tx) error {
				_, err := tx.UpsertNode(ctx, common.GraphNode{Ref: gene, Name: "Fbxo32", Aliases: a})
				return err
			})
			if err != nil {
				t.Fatalf("WithTx() error = %v", err)
			}
		}
		n, _ := s.Node(gene)
		return n.Aliases
	}

	a := []string{"Atrogin-1"}
	b := []string{"MAFbx", "Atrogin-1"}
	first := write(New(), a, b)
	second := write(New(), b, a)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("aliases depend on write order: %v vs %v", first, second)
	}
	if want := []string{"Atrogin-1", "MAFbx"}; !reflect.DeepEqual(first, want) {
		t.Fatalf("aliases = %v, want %v", first, want)
	}
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.UpsertNode(ctx, common.GraphNode{Ref: gene, Name: "x"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if len(s.Nodes()) != 0 {
		t.Fatalf("expected rollback, got %+v", s.Nodes())
	}
}

func TestUpsertEdge_RequiresEndpoints(t *testing.T) {
	s := New()
	ctx := context.Background()
	key := common.EdgeKey{Type: common.RelLocatedIn, From: gene, To: organ}

	err := s.WithTx(ctx, func(tx store.Tx) error {
		_, err := tx.UpsertEdge(ctx, common.GraphEdge{Key: key})
		return err
	})
	if err == nil {
		t.Fatalf("expected missing endpoint error")
	}

	var firstCreated, secondCreated bool
	err = s.WithTx(ctx, func(tx store.Tx) error {
		for _, ref := range []common.NodeRef{gene, organ} {
			if _, err := tx.UpsertNode(ctx, common.GraphNode{Ref: ref, Name: ref.ID}); err != nil {
				return err
			}
		}
		var err error
		firstCreated, err = tx.UpsertEdge(ctx, common.GraphEdge{Key: key, Confidence: 0.7, PublicationID: "p1"})
		if err != nil {
			return err
		}
		secondCreated, err = tx.UpsertEdge(ctx, common.GraphEdge{Key: key, Confidence: 0.55, PublicationID: "p2"})
		return err
	})
	if err != nil {
		t.Fatalf("WithTx() error = %v", err)
	}
	if !firstCreated || secondCreated {
		t.Fatalf("created flags = %v %v", firstCreated, secondCreated)
	}
	edges := s.Edges()
	if len(edges) != 1 || edges[0].PublicationID != "p2" || edges[0].Confidence != 0.55 {
		t.Fatalf("expected the latest write to win, got %+v", edges)
	}
}

func TestLinkProvenance_InsertIfAbsent(t *testing.T) {
	s := New()
	ctx := context.Background()
	p := common.Provenance{ID: "abc", FactKind: common.FactNode, FactID: gene.FactID(), PublicationID: "p1"}

	var results []bool
	for i := 0; i < 2; i++ {
		err := s.WithTx(ctx, func(tx store.Tx) error {
			ok, err := tx.LinkProvenance(ctx, p)
			results = append(results, ok)
			return err
		})
		if err != nil {
			t.Fatalf("WithTx() error = %v", err)
		}
	}
	if !results[0] || results[1] {
		t.Fatalf("created flags = %v", results)
	}
	st, _ := s.Stats(ctx)
	if st.Provenance != 1 {
		t.Fatalf("expected 1 provenance record, got %d", st.Provenance)
	}
}

func TestStatsAndClose(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.WithTx(ctx, func(tx store.Tx) error {
		_, _ = tx.UpsertNode(ctx, common.GraphNode{Ref: gene})
		_, _ = tx.UpsertNode(ctx, common.GraphNode{Ref: organ})
		_, err := tx.UpsertEdge(ctx, common.GraphEdge{Key: common.EdgeKey{Type: common.RelLocatedIn, From: gene, To: organ}})
		return err
	})
	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if st.NodesByLabel["Gene"] != 1 || st.NodesByLabel["Tissue"] != 1 || st.EdgesByType["LOCATED_IN"] != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}

	_ = s.Close(ctx)
	err = s.WithTx(ctx, func(tx store.Tx) error { return nil })
	if !errors.Is(err, common.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable after close, got %v", err)
	}
}
