package resolve

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/OFFIS-RIT/biograph/internal/util"
	"github.com/OFFIS-RIT/biograph/pkg/common"
	"github.com/OFFIS-RIT/biograph/pkg/logger"
	"github.com/OFFIS-RIT/biograph/pkg/text"

	"golang.org/x/time/rate"
)

// Context narrows a lookup.
type Context struct {
	// Organism is an NCBI taxonomy id without prefix. It only applies to genes and proteins.
	Organism string
	Type     common.EntityType
}

// Stats counts resolver activity for one worker.
type Stats struct {
	Lookups        int64
	CacheHits      int64
	NegativeHits   int64
	RegistryCalls  int64
	RegistryErrors int64
	Resolved       int64
	Unresolved     int64
}

type cacheKey struct {
	typ      common.EntityType
	text     string
	organism string
}

// Observer is told about every registry call.
type Observer func(registry string, elapsed time.Duration, err error)

// Resolver maps mentions onto canonical entities. A Resolver is owned by one worker and
// is not safe for concurrent use.
type Resolver struct {
	registries  Registries
	fallback    map[common.EntityType]common.EntityType
	limiter     *rate.Limiter
	backoff     util.Backoff
	callTimeout time.Duration
	observer    Observer

	cache    map[cacheKey]*common.CanonicalEntity
	interned map[common.EntityKey]*common.CanonicalEntity
	stats    Stats

	log logger.Component
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithRate limits registry calls to rps requests per second. rps <= 0 disables the limit.
func WithRate(rps float64) Option {
	return func(r *Resolver) {
		if rps <= 0 {
			r.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		r.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithBackoff sets the retry schedule for transient registry failures.
func WithBackoff(b util.Backoff) Option {
	return func(r *Resolver) { r.backoff = b }
}

// WithCallTimeout bounds each registry attempt.
func WithCallTimeout(d time.Duration) Option {
	return func(r *Resolver) { r.callTimeout = d }
}

// WithObserver registers a hook for registry call latency.
func WithObserver(o Observer) Option {
	return func(r *Resolver) { r.observer = o }
}

// WithFallback makes lookups of type from that find nothing retry against the registry of to.
func WithFallback(from, to common.EntityType) Option {
	return func(r *Resolver) { r.fallback[from] = to }
}

// NewResolver creates a resolver over registries. Proteins fall back to genes by default.
func NewResolver(registries Registries, opts ...Option) *Resolver {
	r := &Resolver{
		registries:  registries,
		fallback:    map[common.EntityType]common.EntityType{common.EntityProtein: common.EntityGene},
		limiter:     rate.NewLimiter(rate.Inf, 1),
		backoff:     util.DefaultBackoff,
		callTimeout: 30 * time.Second,
		cache:       make(map[cacheKey]*common.CanonicalEntity),
		interned:    make(map[common.EntityKey]*common.CanonicalEntity),
		log:         logger.With("Resolver"),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Stats returns a snapshot of the counters.
func (r *Resolver) Stats() Stats { return r.stats }

func organismScoped(t common.EntityType) bool {
	return t == common.EntityGene || t == common.EntityProtein
}

// Resolve returns the canonical entity for m, or an unresolved result. It never fails:
// registry errors are logged and the mention stays unresolved for the rest of the run.
func (r *Resolver) Resolve(ctx context.Context, m common.Mention, rc Context) common.Resolution {
	typ := rc.Type
	if typ == "" {
		typ = m.Type
	}
	organism := ""
	if organismScoped(typ) {
		organism = rc.Organism
	}
	key := cacheKey{typ: typ, text: text.Normalize(m.Text), organism: organism}
	r.stats.Lookups++

	if e, ok := r.cache[key]; ok {
		r.stats.CacheHits++
		if e == nil {
			r.stats.NegativeHits++
			return common.Unresolved(m.Text)
		}
		return common.Resolved(e, m.Text)
	}

	q := Query{Text: m.Text, Hint: m.CanonicalHint, Type: typ, Organism: organism}
	e, err := r.lookup(ctx, q)
	if e == nil {
		if fb, ok := r.fallback[typ]; ok && err == nil {
			q.Type = fb
			e, err = r.lookup(ctx, q)
		}
	}
	if err != nil && ctx.Err() != nil {
		// cancellation says nothing about the literal, so it is not cached
		return common.Unresolved(m.Text)
	}
	if err != nil {
		r.stats.RegistryErrors++
		r.log.Warn("Registry lookup failed, mention stays unresolved",
			"text", m.Text, "type", typ, "error", err)
	}

	r.cache[key] = e
	if e == nil {
		r.stats.Unresolved++
		return common.Unresolved(m.Text)
	}
	r.stats.Resolved++
	return common.Resolved(e, m.Text)
}

// lookup queries the registry for q.Type with retries. It returns nil without error when
// nothing matched or the match was ambiguous.
func (r *Resolver) lookup(ctx context.Context, q Query) (*common.CanonicalEntity, error) {
	reg, ok := r.registries[q.Type]
	if !ok || reg == nil {
		return nil, nil
	}

	recs, attempts, err := util.RetryWithBackoff(ctx, r.backoff, common.IsTransient,
		func(ctx context.Context) ([]Record, error) {
			if err := r.limiter.Wait(ctx); err != nil {
				return nil, err
			}
			callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
			defer cancel()

			start := time.Now()
			recs, err := reg.Lookup(callCtx, q)
			r.stats.RegistryCalls++
			if r.observer != nil {
				r.observer(reg.Name(), time.Since(start), err)
			}
			return recs, err
		})
	if err != nil {
		if attempts > 1 {
			err = errors.Join(err, errors.New("retry budget exhausted"))
		}
		return nil, err
	}

	rec, ok := bestMatch(q, recs)
	if !ok {
		if len(recs) > 1 {
			r.log.Debug("Ambiguous registry answer", "text", q.Text, "type", q.Type, "candidates", len(recs))
		}
		return nil, nil
	}
	return r.intern(q.Type, rec), nil
}

// intern returns the shared entity for (type, id), merging aliases from rec. Mention
// literals never reach the shared entity, so its aliases depend only on registry records.
func (r *Resolver) intern(t common.EntityType, rec Record) *common.CanonicalEntity {
	key := common.EntityKey{Type: t, ID: rec.ID}
	e, ok := r.interned[key]
	if !ok {
		e = &common.CanonicalEntity{
			Type:          t,
			CanonicalID:   rec.ID,
			CanonicalName: rec.Name,
			Registry:      rec.Registry,
		}
		r.interned[key] = e
	}
	for _, a := range rec.Aliases {
		r.addAlias(e, a)
	}
	return e
}

func (r *Resolver) addAlias(e *common.CanonicalEntity, alias string) {
	alias = strings.TrimSpace(alias)
	if alias == "" || strings.EqualFold(alias, e.CanonicalName) {
		return
	}
	for _, a := range e.Aliases {
		if strings.EqualFold(a, alias) {
			return
		}
	}
	e.Aliases = append(e.Aliases, alias)
}

// ResolveAll resolves the mentions of one publication. Organisms are resolved first; the
// most frequently mentioned resolved organism becomes the context for genes and proteins.
func (r *Resolver) ResolveAll(ctx context.Context, mentions []common.Mention) []common.ResolvedMention {
	out := make([]common.ResolvedMention, len(mentions))
	done := make([]bool, len(mentions))

	counts := map[string]int{}
	first := map[string]int{}
	for i, m := range mentions {
		if m.Type != common.EntityOrganism {
			continue
		}
		res := r.Resolve(ctx, m, Context{Type: m.Type})
		out[i] = common.ResolvedMention{Mention: m, Resolution: res}
		done[i] = true
		if res.IsResolved() {
			id := strings.TrimPrefix(res.Entity.CanonicalID, taxIDPrefix)
			if _, seen := first[id]; !seen {
				first[id] = i
			}
			counts[id]++
		}
	}
	organism := ""
	for id, n := range counts {
		if organism == "" || n > counts[organism] || (n == counts[organism] && first[id] < first[organism]) {
			organism = id
		}
	}

	for i, m := range mentions {
		if done[i] {
			continue
		}
		out[i] = common.ResolvedMention{Mention: m, Resolution: r.Resolve(ctx, m, Context{Organism: organism, Type: m.Type})}
	}
	return out
}
