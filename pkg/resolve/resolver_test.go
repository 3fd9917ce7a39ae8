package resolve

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/OFFIS-RIT/biograph/internal/util"
	"github.com/OFFIS-RIT/biograph/pkg/common"
	"github.com/OFFIS-RIT/biograph/pkg/logger"
)

type countingRegistry struct {
	calls  atomic.Int32
	lookup func(q Query, call int32) ([]Record, error)
}

func (c *countingRegistry) Name() string { return "counting" }
func (c *countingRegistry) Lookup(ctx context.Context, q Query) ([]Record, error) {
	n := c.calls.Add(1)
	return c.lookup(q, n)
}

var fastBackoff = util.Backoff{MaxAttempts: 3, Initial: time.Millisecond, Multiplier: 2}

func gene(text string) common.Mention {
	return common.Mention{Type: common.EntityGene, Text: text, Confidence: 0.9}
}

func TestResolver_AliasPairSharesEntity(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		if strings.Contains(q, "ATROGIN-1") || strings.Contains(q, "FBXO32") {
			_, _ = w.Write([]byte(`{"hits":[{"entrezgene":67731,"symbol":"Fbxo32","alias":["Atrogin-1","MAFbx"]}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"hits":[]}`))
	})
	r := NewResolver(Registries{common.EntityGene: NewMyGene(srv.URL, srv.Client())}, WithBackoff(fastBackoff))

	a := r.Resolve(context.Background(), gene("ATROGIN-1"), Context{Organism: "10090"})
	b := r.Resolve(context.Background(), gene("FBXO32"), Context{Organism: "10090"})
	if !a.IsResolved() || !b.IsResolved() {
		t.Fatalf("expected both resolved, got %+v / %+v", a, b)
	}
	if a.Entity != b.Entity {
		t.Fatalf("expected alias pair to share one entity pointer")
	}
	if a.Entity.CanonicalID != "ENTREZ:67731" || a.Entity.Type != common.EntityGene {
		t.Fatalf("unexpected entity %+v", a.Entity)
	}
	if a.OriginalText != "ATROGIN-1" || b.OriginalText != "FBXO32" {
		t.Fatalf("original text not preserved: %q %q", a.OriginalText, b.OriginalText)
	}
	for _, want := range []string{"Atrogin-1", "MAFbx"} {
		found := false
		for _, al := range a.Entity.Aliases {
			if al == want {
				found = true
			}
		}
		if !found {
			t.Errorf("alias %q missing from %v", want, a.Entity.Aliases)
		}
	}

	miss := r.Resolve(context.Background(), gene("NOTAGENE"), Context{})
	if miss.IsResolved() || miss.OriginalText != "NOTAGENE" {
		t.Fatalf("expected unresolved, got %+v", miss)
	}
}

func TestResolver_CachesPositiveAndNegative(t *testing.T) {
	reg := &countingRegistry{lookup: func(q Query, call int32) ([]Record, error) {
		if q.Normalized() == "murf1" {
			return []Record{{ID: "ENTREZ:84676", Name: "TRIM63"}}, nil
		}
		return nil, nil
	}}
	r := NewResolver(Registries{common.EntityGene: reg}, WithBackoff(fastBackoff))
	ctx := context.Background()

	first := r.Resolve(ctx, gene("MuRF1"), Context{})
	second := r.Resolve(ctx, gene(" murf1 "), Context{})
	if first.Entity != second.Entity {
		t.Fatalf("expected idempotent resolution")
	}
	r.Resolve(ctx, gene("unknown"), Context{})
	again := r.Resolve(ctx, gene("Unknown"), Context{})
	if again.IsResolved() {
		t.Fatalf("expected cached negative")
	}
	if got := reg.calls.Load(); got != 2 {
		t.Fatalf("expected 2 registry calls, got %d", got)
	}
	st := r.Stats()
	if st.Lookups != 4 || st.CacheHits != 2 || st.NegativeHits != 1 || st.Resolved != 1 || st.Unresolved != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestResolver_OrganismContextIsPartOfCacheKey(t *testing.T) {
	reg := &countingRegistry{lookup: func(q Query, call int32) ([]Record, error) {
		return []Record{{ID: "ENTREZ:" + q.Organism, Name: "Trim63"}}, nil
	}}
	r := NewResolver(Registries{common.EntityGene: reg})
	mouse := r.Resolve(context.Background(), gene("Trim63"), Context{Organism: "10090"})
	rat := r.Resolve(context.Background(), gene("Trim63"), Context{Organism: "10116"})
	if mouse.Entity == rat.Entity {
		t.Fatalf("expected distinct entities per organism context")
	}
	stressor := common.Mention{Type: common.EntityStressor, Text: "microgravity"}
	r2 := NewResolver(Registries{common.EntityStressor: CuratedStressors()})
	x := r2.Resolve(context.Background(), stressor, Context{Organism: "10090"})
	y := r2.Resolve(context.Background(), stressor, Context{})
	if x.Entity != y.Entity || r2.Stats().CacheHits != 1 {
		t.Fatalf("organism context must not split non gene lookups")
	}
}

func TestResolver_RetriesTransientThenResolves(t *testing.T) {
	reg := &countingRegistry{lookup: func(q Query, call int32) ([]Record, error) {
		if call < 3 {
			return nil, common.Transient("lookup", errors.New("503"))
		}
		return []Record{{ID: "ENTREZ:1", Name: "X"}}, nil
	}}
	r := NewResolver(Registries{common.EntityGene: reg}, WithBackoff(fastBackoff))
	if res := r.Resolve(context.Background(), gene("X"), Context{}); !res.IsResolved() {
		t.Fatalf("expected resolution on third attempt")
	}
	if reg.calls.Load() != 3 {
		t.Fatalf("expected 3 calls, got %d", reg.calls.Load())
	}
}

func TestResolver_ExhaustedRetriesDegradeToUnresolved(t *testing.T) {
	rec := &logger.Recorder{}
	logger.Init(rec)
	defer logger.Init()

	reg := &countingRegistry{lookup: func(q Query, call int32) ([]Record, error) {
		return nil, common.Transient("lookup", errors.New("connection reset"))
	}}
	var observed atomic.Int32
	r := NewResolver(Registries{common.EntityGene: reg},
		WithBackoff(fastBackoff),
		WithObserver(func(registry string, elapsed time.Duration, err error) {
			if err != nil {
				observed.Add(1)
			}
		}),
	)
	res := r.Resolve(context.Background(), gene("X"), Context{})
	if res.IsResolved() {
		t.Fatalf("expected unresolved")
	}
	if reg.calls.Load() != 3 || observed.Load() != 3 {
		t.Fatalf("expected 3 attempts observed, got calls=%d observed=%d", reg.calls.Load(), observed.Load())
	}
	if r.Stats().RegistryErrors != 1 {
		t.Fatalf("expected one registry error, got %+v", r.Stats())
	}
	if warns := rec.Messages("warn"); len(warns) != 1 || !strings.HasPrefix(warns[0], "[Resolver] ") {
		t.Fatalf("expected one prefixed warning, got %q", warns)
	}
	r.Resolve(context.Background(), gene("X"), Context{})
	if reg.calls.Load() != 3 {
		t.Fatalf("failed lookup must be cached for the run")
	}
}

func TestResolver_PerAttemptTimeoutIsRetried(t *testing.T) {
	reg := &countingRegistry{lookup: func(q Query, call int32) ([]Record, error) {
		if call == 1 {
			return nil, context.DeadlineExceeded
		}
		return []Record{{ID: "ENTREZ:2", Name: "Y"}}, nil
	}}
	r := NewResolver(Registries{common.EntityGene: reg}, WithBackoff(fastBackoff), WithCallTimeout(time.Second))
	if res := r.Resolve(context.Background(), gene("Y"), Context{}); !res.IsResolved() {
		t.Fatalf("expected retry after attempt timeout")
	}
}

func TestResolver_AmbiguousIsUnresolved(t *testing.T) {
	reg := &countingRegistry{lookup: func(q Query, call int32) ([]Record, error) {
		return []Record{
			{ID: "ENTREZ:114907", Name: "FBXO32", Aliases: []string{"Atrogin-1"}},
			{ID: "ENTREZ:67731", Name: "Fbxo32", Aliases: []string{"Atrogin-1"}},
		}, nil
	}}
	r := NewResolver(Registries{common.EntityGene: reg})
	if res := r.Resolve(context.Background(), gene("ATROGIN-1"), Context{}); res.IsResolved() {
		t.Fatalf("expected ambiguous result to stay unresolved, got %+v", res.Entity)
	}
}

func TestResolver_ProteinFallsBackToGene(t *testing.T) {
	proteins := staticRegistry{name: "uniprot"}
	genes := staticRegistry{name: "mygene", recs: []Record{{ID: "ENTREZ:84676", Name: "TRIM63"}}}
	r := NewResolver(Registries{common.EntityProtein: proteins, common.EntityGene: genes})

	m := common.Mention{Type: common.EntityProtein, Text: "MuRF1"}
	res := r.Resolve(context.Background(), m, Context{})
	if !res.IsResolved() || res.Entity.Type != common.EntityGene {
		t.Fatalf("expected gene fallback, got %+v", res)
	}
	g := r.Resolve(context.Background(), gene("TRIM63"), Context{})
	if g.Entity != res.Entity {
		t.Fatalf("expected fallback entity to be interned with the gene")
	}
}

func TestResolver_CanceledLookupIsNotCached(t *testing.T) {
	reg := &countingRegistry{lookup: func(q Query, call int32) ([]Record, error) {
		return []Record{{ID: "ENTREZ:1", Name: "X"}}, nil
	}}
	r := NewResolver(Registries{common.EntityGene: reg})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if res := r.Resolve(ctx, gene("X"), Context{}); res.IsResolved() {
		t.Fatalf("expected unresolved under canceled context")
	}
	if res := r.Resolve(context.Background(), gene("X"), Context{}); !res.IsResolved() {
		t.Fatalf("expected resolution once the context is live")
	}
}

func TestResolveAll_UsesPublicationOrganism(t *testing.T) {
	var organisms []string
	genes := &countingRegistry{lookup: func(q Query, call int32) ([]Record, error) {
		organisms = append(organisms, q.Organism)
		return []Record{{ID: "ENTREZ:" + q.Organism, Name: q.Text}}, nil
	}}
	r := NewResolver(Registries{
		common.EntityGene:     genes,
		common.EntityOrganism: CuratedTaxonomy(),
	})
	mentions := []common.Mention{
		gene("MuRF1"),
		{Type: common.EntityOrganism, Text: "rats"},
		{Type: common.EntityOrganism, Text: "mice"},
		{Type: common.EntityOrganism, Text: "mouse"},
	}
	out := r.ResolveAll(context.Background(), mentions)
	if len(out) != 4 {
		t.Fatalf("expected 4 results, got %d", len(out))
	}
	if out[0].Mention.Text != "MuRF1" || !out[0].Resolution.IsResolved() {
		t.Fatalf("results must keep input order, got %+v", out[0])
	}
	if len(organisms) != 1 || organisms[0] != "10090" {
		t.Fatalf("expected the most frequent organism as context, got %v", organisms)
	}
	if out[2].Resolution.Entity != out[3].Resolution.Entity {
		t.Fatalf("mice and mouse must share one entity")
	}
}

func TestWithRate_Throttles(t *testing.T) {
	reg := &countingRegistry{lookup: func(q Query, call int32) ([]Record, error) { return nil, nil }}
	r := NewResolver(Registries{common.EntityGene: reg}, WithRate(20))
	start := time.Now()
	for _, s := range []string{"a", "b", "c"} {
		r.Resolve(context.Background(), gene(s), Context{})
	}
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Fatalf("expected throttling to space out calls, took %v", elapsed)
	}
}
