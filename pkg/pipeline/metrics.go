package pipeline

import (
	"time"

	"github.com/OFFIS-RIT/biograph/pkg/common"
	"github.com/OFFIS-RIT/biograph/pkg/resolve"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the pipeline collectors. A nil *Metrics records nothing.
type Metrics struct {
	PublicationsProcessed prometheus.Counter
	PublicationsFailed    *prometheus.CounterVec
	EntitiesCreated       prometheus.Counter
	RelationsCreated      prometheus.Counter
	AnnotatorFailures     *prometheus.CounterVec
	ResolverCache         *prometheus.CounterVec
	RegistryLatency       *prometheus.HistogramVec
	Batches               *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PublicationsProcessed: f.NewCounter(prometheus.CounterOpts{
			Namespace: "biograph", Name: "publications_processed_total",
			Help: "Publications whose graph writes committed.",
		}),
		PublicationsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "biograph", Name: "publications_failed_total",
			Help: "Publications that failed, by failure kind.",
		}, []string{"kind"}),
		EntitiesCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: "biograph", Name: "entities_created_total",
			Help: "Graph nodes created for entities and unlinked mentions.",
		}),
		RelationsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: "biograph", Name: "relations_created_total",
			Help: "Graph edges created.",
		}),
		AnnotatorFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "biograph", Name: "annotator_failures_total",
			Help: "Annotator invocations whose output was dropped.",
		}, []string{"annotator"}),
		ResolverCache: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "biograph", Name: "resolver_cache_total",
			Help: "Resolver cache lookups by result.",
		}, []string{"result"}),
		RegistryLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "biograph", Name: "registry_lookup_seconds",
			Help:    "Registry call latency.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"registry", "outcome"}),
		Batches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "biograph", Name: "batches_total",
			Help: "Finished batches by status.",
		}, []string{"status"}),
	}
}

func (m *Metrics) observeRegistry(registry string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	switch {
	case err == nil:
	case common.IsTransient(err):
		outcome = "transient"
	default:
		outcome = "error"
	}
	m.RegistryLatency.WithLabelValues(registry, outcome).Observe(elapsed.Seconds())
}

func (m *Metrics) observeResolver(delta resolve.Stats) {
	if m == nil {
		return
	}
	m.ResolverCache.WithLabelValues("hit").Add(float64(delta.CacheHits))
	m.ResolverCache.WithLabelValues("miss").Add(float64(delta.Lookups - delta.CacheHits))
}

func (m *Metrics) observeAnnotatorFailure(err error) {
	if m == nil {
		return
	}
	name := "unknown"
	if f, ok := err.(*common.ExtractionFailure); ok {
		name = f.Annotator
	}
	m.AnnotatorFailures.WithLabelValues(name).Inc()
}

func (m *Metrics) observeOutcome(kind common.FailureKind, entities, relations int) {
	if m == nil {
		return
	}
	if kind != "" {
		m.PublicationsFailed.WithLabelValues(string(kind)).Inc()
		return
	}
	m.PublicationsProcessed.Inc()
	m.EntitiesCreated.Add(float64(entities))
	m.RelationsCreated.Add(float64(relations))
}

func (m *Metrics) observeBatch(s BatchSummary) {
	if m == nil {
		return
	}
	m.Batches.WithLabelValues(s.Status()).Inc()
}
