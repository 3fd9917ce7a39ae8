// Package neo4j stores the graph in Neo4j. Entity nodes carry their label and a unique id
// property, relations are typed relationships and provenance records are Provenance nodes.
package neo4j

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/OFFIS-RIT/biograph/pkg/common"
	"github.com/OFFIS-RIT/biograph/pkg/logger"
	"github.com/OFFIS-RIT/biograph/pkg/store"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const provenanceLabel = "Provenance"

var identifier = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// Params configures the driver.
type Params struct {
	URI      string
	Username string
	Password string
	Database string
}

// Store implements store.GraphStore and store.SchemaStore on a Neo4j driver.
type Store struct {
	driver   neo4j.DriverWithContext
	database string
	now      func() time.Time
}

// New connects and verifies connectivity.
func New(ctx context.Context, p Params) (*Store, error) {
	driver, err := neo4j.NewDriverWithContext(p.URI, neo4j.BasicAuth(p.Username, p.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, classifyError(err)
	}
	logger.Info("[Store][Neo4j] Connected", "uri", p.URI, "database", p.Database)
	return &Store{driver: driver, database: p.Database, now: time.Now}, nil
}

func (s *Store) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode, DatabaseName: s.database})
}

// WithTx runs fn in a managed write transaction. The driver may invoke fn again after a
// transient failure, so fn must not keep state across invocations.
func (s *Store) WithTx(ctx context.Context, fn func(store.Tx) error) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, fn(&graphTx{tx: tx, now: s.now().UTC()})
	})
	return classifyError(err)
}

// EnsureSchema creates one uniqueness constraint per label.
func (s *Store) EnsureSchema(ctx context.Context) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	for _, label := range schemaLabels() {
		if _, err := session.Run(ctx, constraintCypher(label), nil); err != nil {
			return classifyError(fmt.Errorf("constraint for %s: %w", label, err))
		}
	}
	return nil
}

func schemaLabels() []string {
	labels := make([]string, 0, len(common.EntityTypes)+3)
	for _, t := range common.EntityTypes {
		labels = append(labels, string(t))
	}
	return append(labels, common.LabelUnlinked, common.LabelPublication, provenanceLabel)
}

func constraintCypher(label string) string {
	return fmt.Sprintf(
		"CREATE CONSTRAINT biograph_%s_id IF NOT EXISTS FOR (n:`%s`) REQUIRE n.id IS UNIQUE",
		strings.ToLower(label), label,
	)
}

type graphTx struct {
	tx  neo4j.ManagedTransaction
	now time.Time
}

func (t *graphTx) UpsertNode(ctx context.Context, n common.GraphNode) (bool, error) {
	if !identifier.MatchString(n.Ref.Label) || n.Ref.ID == "" {
		return false, fmt.Errorf("invalid node ref %+v", n.Ref)
	}
	extra, err := encodeExtra(n.Extra)
	if err != nil {
		return false, err
	}
	aliases := store.MergeAliases(nil, n.Aliases)
	return t.single(ctx, upsertNodeCypher(n.Ref.Label), map[string]any{
		"id":          n.Ref.ID,
		"name":        n.Name,
		"entity_type": string(n.EntityType),
		"aliases":     aliases,
		"registry":    n.Registry,
		"extra":       extra,
		"now":         t.now,
	})
}

func (t *graphTx) UpsertEdge(ctx context.Context, e common.GraphEdge) (bool, error) {
	if !e.Key.Type.Valid() {
		return false, fmt.Errorf("unknown relation type %q", e.Key.Type)
	}
	for _, ref := range []common.NodeRef{e.Key.From, e.Key.To} {
		if !identifier.MatchString(ref.Label) {
			return false, fmt.Errorf("invalid node label %q", ref.Label)
		}
	}
	extra, err := encodeExtra(e.Extra)
	if err != nil {
		return false, err
	}
	created, err := t.single(ctx, upsertEdgeCypher(e.Key), map[string]any{
		"from":           e.Key.From.ID,
		"to":             e.Key.To.ID,
		"confidence":     e.Confidence,
		"trigger":        e.Trigger,
		"evidence":       e.Evidence,
		"strategy":       e.Strategy,
		"publication_id": e.PublicationID,
		"extra":          extra,
		"now":            t.now,
	})
	if errors.Is(err, errNoRow) {
		return false, fmt.Errorf("edge endpoints of %s do not exist", e.Key.FactID())
	}
	return created, err
}

func (t *graphTx) LinkProvenance(ctx context.Context, p common.Provenance) (bool, error) {
	if p.ID == "" {
		return false, errors.New("provenance id is empty")
	}
	created, err := t.single(ctx, mergeProvenanceCypher, map[string]any{
		"id":             p.ID,
		"fact_kind":      string(p.FactKind),
		"fact_id":        p.FactID,
		"publication_id": p.PublicationID,
		"sentence":       p.Sentence,
		"section":        p.Section,
		"confidence":     p.Confidence,
		"extractor":      p.Extractor,
		"now":            t.now,
	})
	if err != nil || p.FactKind != common.FactNode {
		return created, err
	}
	label, id, ok := store.SplitNodeFactID(p.FactID)
	if !ok || !identifier.MatchString(label) {
		return created, fmt.Errorf("invalid node fact id %q", p.FactID)
	}
	_, err = t.tx.Run(ctx, linkNodeProvenanceCypher(label), map[string]any{"id": id, "prov": p.ID})
	return created, err
}

var errNoRow = errors.New("query returned no row")

// single runs a query returning one boolean column named created.
func (t *graphTx) single(ctx context.Context, cypher string, params map[string]any) (bool, error) {
	res, err := t.tx.Run(ctx, cypher, params)
	if err != nil {
		return false, err
	}
	if !res.Next(ctx) {
		if err := res.Err(); err != nil {
			return false, err
		}
		return false, errNoRow
	}
	v, _ := res.Record().Get("created")
	created, _ := v.(bool)
	return created, res.Err()
}

func (s *Store) Stats(ctx context.Context) (common.GraphStats, error) {
	st := common.GraphStats{
		NodesByLabel: map[string]int64{},
		EdgesByType:  map[string]int64{},
	}
	relTypes := make([]string, len(common.RelationTypes))
	for i, r := range common.RelationTypes {
		relTypes[i] = string(r)
	}

	queries := []struct {
		cypher string
		params map[string]any
		into   map[string]int64
	}{
		{countNodesCypher, map[string]any{"exclude": provenanceLabel}, st.NodesByLabel},
		{countEdgesCypher, map[string]any{"types": relTypes}, st.EdgesByType},
	}
	for _, q := range queries {
		res, err := neo4j.ExecuteQuery(ctx, s.driver, q.cypher, q.params,
			neo4j.EagerResultTransformer, neo4j.ExecuteQueryWithDatabase(s.database))
		if err != nil {
			return st, classifyError(err)
		}
		for _, rec := range res.Records {
			key, _ := rec.Get("key")
			n, _ := rec.Get("n")
			if k, ok := key.(string); ok {
				q.into[k] = toInt64(n)
			}
		}
	}

	res, err := neo4j.ExecuteQuery(ctx, s.driver, countProvenanceCypher, nil,
		neo4j.EagerResultTransformer, neo4j.ExecuteQueryWithDatabase(s.database))
	if err != nil {
		return st, classifyError(err)
	}
	if len(res.Records) > 0 {
		n, _ := res.Records[0].Get("n")
		st.Provenance = toInt64(n)
	}
	return st, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

func encodeExtra(extra map[string]string) (string, error) {
	if len(extra) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(extra)
	return string(b), err
}

// classifyError maps driver connectivity errors onto common.ErrStoreUnavailable and other
// retryable driver errors onto TransientIOError.
func classifyError(err error) error {
	switch {
	case err == nil || errors.Is(err, context.Canceled) || errors.Is(err, common.ErrStoreUnavailable):
		return err
	case neo4j.IsConnectivityError(err):
		return fmt.Errorf("%w: %w", common.ErrStoreUnavailable, err)
	case neo4j.IsRetryable(err):
		return common.Transient("neo4j transaction", err)
	}
	return err
}

func upsertNodeCypher(label string) string {
	return fmt.Sprintf(`
MERGE (n:`+"`%s`"+` {id: $id})
ON CREATE SET n._created = true, n.created_at = $now
SET n.name = $name,
    n.entity_type = $entity_type,
    n.registry = $registry,
    n.extra = $extra,
    n.updated_at = $now
WITH n, n._created IS NOT NULL AS created, coalesce(n.aliases, []) + $aliases AS merged
CALL {
    WITH merged
    UNWIND merged AS alias
    WITH DISTINCT alias ORDER BY alias
    RETURN collect(alias) AS aliases
}
SET n.aliases = aliases
REMOVE n._created
RETURN created`, label)
}

func upsertEdgeCypher(k common.EdgeKey) string {
	return fmt.Sprintf(`
MATCH (a:`+"`%s`"+` {id: $from}), (b:`+"`%s`"+` {id: $to})
MERGE (a)-[r:`+"`%s`"+`]->(b)
ON CREATE SET r._created = true, r.created_at = $now
SET r.confidence = $confidence,
    r.trigger = $trigger,
    r.evidence = $evidence,
    r.strategy = $strategy,
    r.publication_id = $publication_id,
    r.extra = $extra,
    r.updated_at = $now
WITH r, r._created IS NOT NULL AS created
REMOVE r._created
RETURN created`, k.From.Label, k.To.Label, k.Type)
}

func linkNodeProvenanceCypher(label string) string {
	return fmt.Sprintf(`
MATCH (n:`+"`%s`"+` {id: $id}), (p:Provenance {id: $prov})
MERGE (n)-[:HAS_PROVENANCE]->(p)`, label)
}

const mergeProvenanceCypher = `
MERGE (p:Provenance {id: $id})
ON CREATE SET p._created = true,
    p.fact_kind = $fact_kind,
    p.fact_id = $fact_id,
    p.publication_id = $publication_id,
    p.sentence = $sentence,
    p.section = $section,
    p.confidence = $confidence,
    p.extractor = $extractor,
    p.created_at = $now
WITH p, p._created IS NOT NULL AS created
REMOVE p._created
WITH p, created
OPTIONAL MATCH (pub:Publication {id: $publication_id})
FOREACH (_ IN CASE WHEN pub IS NULL THEN [] ELSE [1] END | MERGE (p)-[:FROM_PUBLICATION]->(pub))
RETURN created`

const countNodesCypher = `
MATCH (n)
WHERE NOT $exclude IN labels(n)
RETURN labels(n)[0] AS key, count(*) AS n`

const countEdgesCypher = `
MATCH ()-[r]->()
WHERE type(r) IN $types
RETURN type(r) AS key, count(*) AS n`

const countProvenanceCypher = `MATCH (p:Provenance) RETURN count(p) AS n`
