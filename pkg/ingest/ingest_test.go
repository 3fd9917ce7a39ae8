package ingest

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/OFFIS-RIT/biograph/pkg/common"
	"github.com/OFFIS-RIT/biograph/pkg/relation"
	"github.com/OFFIS-RIT/biograph/pkg/resolve"
	"github.com/OFFIS-RIT/biograph/pkg/store"
	"github.com/OFFIS-RIT/biograph/pkg/store/memory"
)

const scenario = "Exposure to microgravity resulted in significant upregulation of ATROGIN-1 (FBXO32) and MuRF1 (TRIM63) in skeletal muscle tissue of mice."

var scenarioPub = common.Publication{
	ID:            "PMC0001",
	Title:         "Muscle atrophy in orbit",
	Abstract:      scenario,
	PublishedDate: time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC),
}

func entity(t common.EntityType, id, name string, aliases ...string) *common.CanonicalEntity {
	return &common.CanonicalEntity{Type: t, CanonicalID: id, CanonicalName: name, Aliases: aliases, Registry: "curated"}
}

func scenarioResolved(t *testing.T) []common.ResolvedMention {
	t.Helper()
	atrogin := entity(common.EntityGene, "ENTREZ:67731", "Fbxo32", "ATROGIN-1", "MAFbx")
	murf := entity(common.EntityGene, "ENTREZ:433766", "Trim63", "MuRF1")
	table := []struct {
		literal string
		typ     common.EntityType
		entity  *common.CanonicalEntity
	}{
		{"microgravity", common.EntityStressor, entity(common.EntityStressor, "STRESSOR:MICROGRAVITY", "Microgravity")},
		{"ATROGIN-1", common.EntityGene, atrogin},
		{"FBXO32", common.EntityGene, atrogin},
		{"MuRF1", common.EntityGene, murf},
		{"TRIM63", common.EntityGene, murf},
		{"skeletal muscle tissue", common.EntityTissue, entity(common.EntityTissue, "UBERON:0001134", "skeletal muscle tissue")},
		{"mice", common.EntityOrganism, entity(common.EntityOrganism, "TAXID:10090", "Mus musculus")},
	}
	out := make([]common.ResolvedMention, 0, len(table))
	for _, row := range table {
		start := strings.Index(scenario, row.literal)
		if start < 0 {
			t.Fatalf("literal %q not in scenario", row.literal)
		}
		m := common.Mention{
			Type: row.typ, Text: row.literal, Start: start, End: start + len(row.literal),
			Confidence: 0.9, Annotator: "dictionary", Section: common.SectionAbstract,
		}
		out = append(out, common.ResolvedMention{Mention: m, Resolution: common.Resolved(row.entity, row.literal)})
	}
	return out
}

func assertionsFor(resolved []common.ResolvedMention) []common.RelationAssertion {
	mentions := make([]common.Mention, len(resolved))
	for i, rm := range resolved {
		mentions[i] = rm.Mention
	}
	return relation.NewProposer(relation.DefaultOptions()).Propose(context.Background(), scenario, mentions)
}

func TestIngest_Scenario(t *testing.T) {
	s := memory.New()
	e := NewEngine(s)
	resolved := scenarioResolved(t)

	res, err := e.Ingest(context.Background(), scenarioPub, resolved, assertionsFor(resolved))
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if res.EntitiesCreated != 5 {
		t.Fatalf("EntitiesCreated = %d, want 5", res.EntitiesCreated)
	}

	nodes := s.Nodes()
	if len(nodes) != 6 {
		t.Fatalf("expected 5 entity nodes and the publication, got %+v", nodes)
	}
	atrogin, ok := s.Node(common.NodeRef{Label: "Gene", ID: "ENTREZ:67731"})
	if !ok {
		t.Fatalf("missing shared ATROGIN-1/FBXO32 node")
	}
	if want := []string{"ATROGIN-1", "FBXO32", "MAFbx"}; !reflect.DeepEqual(atrogin.Aliases, want) {
		t.Fatalf("aliases = %v, want %v", atrogin.Aliases, want)
	}

	up := 0
	for _, edge := range s.Edges() {
		if edge.Key.Type == common.RelUpregulates && edge.Key.From.ID == "STRESSOR:MICROGRAVITY" {
			up++
			if edge.Trigger != "upregulation" || edge.PublicationID != scenarioPub.ID {
				t.Fatalf("unexpected edge %+v", edge)
			}
		}
	}
	if up != 2 {
		t.Fatalf("expected UPREGULATES to both gene entities, got %d: %+v", up, s.Edges())
	}

	linked := map[string]bool{}
	for _, p := range s.Provenance() {
		if p.PublicationID != scenarioPub.ID {
			t.Fatalf("provenance for a foreign publication: %+v", p)
		}
		if p.FactKind == common.FactNode {
			linked[p.FactID] = true
			if p.Sentence != scenario || p.Section != common.SectionAbstract {
				t.Fatalf("unexpected provenance %+v", p)
			}
		}
	}
	for _, n := range nodes {
		if n.Ref.Label == common.LabelPublication {
			continue
		}
		if !linked[n.Ref.FactID()] {
			t.Fatalf("node %s has no provenance", n.Ref.FactID())
		}
	}
}

func stripTimes(nodes []common.GraphNode, edges []common.GraphEdge) ([]common.GraphNode, []common.GraphEdge) {
	for i := range nodes {
		nodes[i].UpdatedAt = time.Time{}
	}
	for i := range edges {
		edges[i].UpdatedAt = time.Time{}
	}
	return nodes, edges
}

func TestIngest_IdempotentReingestion(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := memory.New(memory.WithClock(func() time.Time {
		now = now.Add(time.Minute)
		return now
	}))
	e := NewEngine(s)
	ctx := context.Background()
	resolved := scenarioResolved(t)
	assertions := assertionsFor(resolved)

	if _, err := e.Ingest(ctx, scenarioPub, resolved, assertions); err != nil {
		t.Fatalf("first Ingest() error = %v", err)
	}
	before, _ := s.Stats(ctx)
	nodes1, edges1 := stripTimes(s.Nodes(), s.Edges())
	prov1 := s.Provenance()

	res, err := e.Ingest(ctx, scenarioPub, resolved, assertions)
	if err != nil {
		t.Fatalf("second Ingest() error = %v", err)
	}
	if res != (Result{}) {
		t.Fatalf("re-ingestion created facts: %+v", res)
	}
	after, _ := s.Stats(ctx)
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("stats changed: %+v -> %+v", before, after)
	}
	nodes2, edges2 := stripTimes(s.Nodes(), s.Edges())
	if !reflect.DeepEqual(nodes1, nodes2) || !reflect.DeepEqual(edges1, edges2) {
		t.Fatalf("properties changed beyond updated_at")
	}
	if !reflect.DeepEqual(prov1, s.Provenance()) {
		t.Fatalf("provenance changed on re-ingestion")
	}
	if n, _ := s.Node(common.NodeRef{Label: "Gene", ID: "ENTREZ:67731"}); !n.UpdatedAt.After(n.CreatedAt) {
		t.Fatalf("expected updated_at refresh, got %+v", n)
	}
}

func TestIngest_SecondPublicationAppendsProvenance(t *testing.T) {
	s := memory.New()
	e := NewEngine(s)
	ctx := context.Background()
	resolved := scenarioResolved(t)
	assertions := assertionsFor(resolved)

	if _, err := e.Ingest(ctx, scenarioPub, resolved, assertions); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	first, _ := s.Stats(ctx)

	other := scenarioPub
	other.ID = "PMC0002"
	res, err := e.Ingest(ctx, other, resolved, assertions)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if res.EntitiesCreated != 0 || res.RelationsCreated != 0 || res.ProvenanceAdded != int(first.Provenance) {
		t.Fatalf("unexpected result %+v", res)
	}
	for _, edge := range s.Edges() {
		if edge.PublicationID != "PMC0002" {
			t.Fatalf("expected the latest publication on edge properties, got %+v", edge)
		}
	}
}

func TestIngest_UnresolvedStagedAsUnlinked(t *testing.T) {
	s := memory.New()
	e := NewEngine(s)
	pub := common.Publication{ID: "p", Title: "t", Abstract: "Hypoxia increased Xyz9 levels."}
	m1 := common.Mention{Type: common.EntityStressor, Text: "Hypoxia", Start: 0, End: 7, Confidence: 0.9, Section: common.SectionAbstract}
	m2 := common.Mention{Type: common.EntityGene, Text: "Xyz9", Start: 18, End: 22, Confidence: 0.8, Section: common.SectionAbstract}
	resolved := []common.ResolvedMention{
		{Mention: m1, Resolution: common.Unresolved(m1.Text)},
		{Mention: m2, Resolution: common.Unresolved(m2.Text)},
	}
	assertions := []common.RelationAssertion{{
		Subject: m1, Type: common.RelUpregulates, Object: m2, Trigger: "increased",
		Confidence: 0.7, Evidence: pub.Abstract, Strategy: common.StrategyProximity,
	}}

	res, err := e.Ingest(context.Background(), pub, resolved, assertions)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if res.EntitiesCreated != 2 || res.RelationsCreated != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	ref := UnlinkedRef(common.EntityGene, "XYZ9 ")
	if ref.ID != "unlinked:Gene:xyz9" {
		t.Fatalf("UnlinkedRef() = %q", ref.ID)
	}
	if _, ok := s.Node(ref); !ok {
		t.Fatalf("expected unlinked node %s, got %+v", ref.ID, s.Nodes())
	}
}

func TestIngest_UnresolvedEndpointRejected(t *testing.T) {
	e := NewEngine(memory.New())
	m := common.Mention{Type: common.EntityGene, Text: "A", Start: 0, End: 1, Section: common.SectionAbstract}
	_, err := e.Ingest(context.Background(), common.Publication{ID: "p"}, nil, []common.RelationAssertion{
		{Subject: m, Type: common.RelCauses, Object: m},
	})
	if err == nil || !strings.Contains(err.Error(), "no resolution") {
		t.Fatalf("expected a missing resolution error, got %v", err)
	}
}

type failingStore struct {
	*memory.Store
	failAfter int
}

type failingTx struct {
	store.Tx
	calls *int
	limit int
}

func (f failingTx) UpsertEdge(ctx context.Context, e common.GraphEdge) (bool, error) {
	*f.calls++
	if *f.calls > f.limit {
		return false, errors.New("constraint violation")
	}
	return f.Tx.UpsertEdge(ctx, e)
}

func (f *failingStore) WithTx(ctx context.Context, fn func(store.Tx) error) error {
	calls := 0
	return f.Store.WithTx(ctx, func(tx store.Tx) error {
		return fn(failingTx{Tx: tx, calls: &calls, limit: f.failAfter})
	})
}

func TestIngest_FailureRollsBackPublication(t *testing.T) {
	s := &failingStore{Store: memory.New(), failAfter: 0}
	e := NewEngine(s)
	resolved := scenarioResolved(t)

	_, err := e.Ingest(context.Background(), scenarioPub, resolved, assertionsFor(resolved))
	var writeErr *common.GraphWriteError
	if !errors.As(err, &writeErr) || writeErr.PublicationID != scenarioPub.ID {
		t.Fatalf("expected GraphWriteError, got %v", err)
	}
	if common.Classify(err) != common.FailureGraphWrite {
		t.Fatalf("Classify() = %s", common.Classify(err))
	}
	if n := len(s.Nodes()); n != 0 {
		t.Fatalf("expected rollback, found %d nodes", n)
	}
}

type retryingStore struct {
	*memory.Store
}

// WithTx invokes fn twice like a backend retrying a transaction.
func (r retryingStore) WithTx(ctx context.Context, fn func(store.Tx) error) error {
	if err := r.Store.WithTx(ctx, func(tx store.Tx) error {
		_ = fn(tx)
		return errors.New("serialization failure")
	}); err == nil {
		return errors.New("expected first attempt to fail")
	}
	return r.Store.WithTx(ctx, fn)
}

func TestIngest_CountsResetOnTransactionRetry(t *testing.T) {
	e := NewEngine(retryingStore{Store: memory.New()})
	resolved := scenarioResolved(t)

	res, err := e.Ingest(context.Background(), scenarioPub, resolved, assertionsFor(resolved))
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if res.EntitiesCreated != 5 {
		t.Fatalf("EntitiesCreated = %d, want 5", res.EntitiesCreated)
	}
}

func TestProvenanceIDDeterministic(t *testing.T) {
	a := ProvenanceID("Gene:ENTREZ:1", "p1", "abstract", "s", "dictionary")
	if a != ProvenanceID("Gene:ENTREZ:1", "p1", "abstract", "s", "dictionary") {
		t.Fatalf("ProvenanceID is not deterministic")
	}
	for _, other := range []string{
		ProvenanceID("Gene:ENTREZ:1", "p2", "abstract", "s", "dictionary"),
		ProvenanceID("Gene:ENTREZ:1", "p1", "title", "s", "dictionary"),
		ProvenanceID("Gene:ENTREZ:1", "p1", "abstract", "s2", "dictionary"),
		ProvenanceID("Gene:ENTREZ:1", "p1", "abstract", "s", "pattern"),
	} {
		if other == a {
			t.Fatalf("distinct inputs share an id")
		}
	}
	if len(a) != 64 {
		t.Fatalf("expected hex sha256, got %q", a)
	}
}

type fixedRegistry struct{ rec resolve.Record }

func (f fixedRegistry) Name() string { return "fixed" }
func (f fixedRegistry) Lookup(ctx context.Context, q resolve.Query) ([]resolve.Record, error) {
	return []resolve.Record{f.rec}, nil
}

func TestIngest_AliasesIndependentOfWorkerHistory(t *testing.T) {
	ctx := context.Background()
	// The registry knows "MAFbx" only as a query, not as a record alias.
	registries := func() resolve.Registries {
		return resolve.Registries{common.EntityGene: fixedRegistry{rec: resolve.Record{
			ID: "ENTREZ:67731", Name: "Fbxo32", Aliases: []string{"Atrogin-1"},
		}}}
	}
	pubA := common.Publication{ID: "PMC-A", Title: "Atrogin", Abstract: "ATROGIN-1 rose in unloaded muscle."}
	pubB := common.Publication{ID: "PMC-B", Title: "MAFbx", Abstract: "Levels of MAFbx fell again."}
	resolveIn := func(r *resolve.Resolver, pub common.Publication, literal string) []common.ResolvedMention {
		start := strings.Index(pub.Abstract, literal)
		m := common.Mention{Type: common.EntityGene, Text: literal, Start: start, End: start + len(literal),
			Confidence: 0.9, Annotator: "dictionary", Section: "abstract"}
		return r.ResolveAll(ctx, []common.Mention{m})
	}
	gene := common.NodeRef{Label: "Gene", ID: "ENTREZ:67731"}

	fresh := resolve.NewResolver(registries())
	freshPlan, err := BuildPlan(pubA, resolveIn(fresh, pubA, "ATROGIN-1"), nil)
	if err != nil {
		t.Fatalf("BuildPlan() error = %v", err)
	}
	worker := resolve.NewResolver(registries())
	resolveIn(worker, pubB, "MAFbx")
	laterPlan, err := BuildPlan(pubA, resolveIn(worker, pubA, "ATROGIN-1"), nil)
	if err != nil {
		t.Fatalf("BuildPlan() error = %v", err)
	}
	if !reflect.DeepEqual(freshPlan.Nodes, laterPlan.Nodes) {
		t.Fatalf("plan depends on earlier publications:\nfresh %+v\nlater %+v", freshPlan.Nodes, laterPlan.Nodes)
	}

	ingest := func(s *memory.Store, r *resolve.Resolver, pub common.Publication, literal string) {
		t.Helper()
		if _, err := NewEngine(s).Ingest(ctx, pub, resolveIn(r, pub, literal), nil); err != nil {
			t.Fatalf("Ingest(%s) error = %v", pub.ID, err)
		}
	}
	aliases := func(s *memory.Store) []string {
		t.Helper()
		n, ok := s.Node(gene)
		if !ok {
			t.Fatalf("missing gene node")
		}
		return n.Aliases
	}

	ab, ba := memory.New(), memory.New()
	r1, r2 := resolve.NewResolver(registries()), resolve.NewResolver(registries())
	ingest(ab, r1, pubA, "ATROGIN-1")
	ingest(ab, r1, pubB, "MAFbx")
	ingest(ba, r2, pubB, "MAFbx")
	ingest(ba, r2, pubA, "ATROGIN-1")
	if !reflect.DeepEqual(aliases(ab), aliases(ba)) {
		t.Fatalf("aliases depend on ingestion order: %v vs %v", aliases(ab), aliases(ba))
	}

	before := aliases(ba)
	ingest(ba, r2, pubA, "ATROGIN-1")
	if !reflect.DeepEqual(aliases(ba), before) {
		t.Fatalf("re-ingesting A changed aliases from %v to %v", before, aliases(ba))
	}
	if want := []string{"Atrogin-1", "MAFbx"}; !reflect.DeepEqual(before, want) {
		t.Fatalf("aliases = %v, want %v", before, want)
	}
}
