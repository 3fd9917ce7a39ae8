package pgx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/OFFIS-RIT/biograph/internal/util"
	"github.com/OFFIS-RIT/biograph/pkg/common"
	"github.com/OFFIS-RIT/biograph/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

// GraphDBStorage implements store.GraphStore on PostgreSQL. Upserts rely on primary key
// conflicts, so concurrent workers writing the same node serialize in the database.
type GraphDBStorage struct {
	conn pgxIConn
	now  func() time.Time
}

type GraphDBStorageOption func(*GraphDBStorage)

// WithClock replaces time.Now for timestamps.
func WithClock(now func() time.Time) GraphDBStorageOption {
	return func(s *GraphDBStorage) {
		s.now = now
	}
}

// NewGraphDBStorageWithConnection creates a GraphDBStorage on an existing pool or connection.
func NewGraphDBStorageWithConnection(
	conn pgxIConn,
	opts ...GraphDBStorageOption,
) *GraphDBStorage {
	s := &GraphDBStorage{
		conn: conn,
		now:  time.Now,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s
}

type graphTx struct {
	tx  pgxv5.Tx
	now time.Time
}

func (s *GraphDBStorage) WithTx(ctx context.Context, fn func(store.Tx) error) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return classifyError(err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&graphTx{tx: tx, now: s.now().UTC()}); err != nil {
		return classifyError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return classifyError(err)
	}
	return nil
}

func marshalExtra(extra map[string]string) ([]byte, error) {
	if len(extra) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(extra)
}

func (t *graphTx) UpsertNode(ctx context.Context, n common.GraphNode) (bool, error) {
	extra, err := marshalExtra(n.Extra)
	if err != nil {
		return false, err
	}
	aliases := store.MergeAliases(nil, util.SanitizePostgresStrings(n.Aliases))
	var inserted bool
	err = t.tx.QueryRow(ctx, upsertNodeSQL,
		n.Ref.Label,
		n.Ref.ID,
		util.SanitizePostgresText(n.Name),
		string(n.EntityType),
		aliases,
		n.Registry,
		extra,
		t.now,
	).Scan(&inserted)
	return inserted, err
}

func (t *graphTx) UpsertEdge(ctx context.Context, e common.GraphEdge) (bool, error) {
	if !e.Key.Type.Valid() {
		return false, fmt.Errorf("unknown relation type %q", e.Key.Type)
	}
	extra, err := marshalExtra(e.Extra)
	if err != nil {
		return false, err
	}
	var inserted bool
	err = t.tx.QueryRow(ctx, upsertEdgeSQL,
		string(e.Key.Type),
		e.Key.From.Label, e.Key.From.ID,
		e.Key.To.Label, e.Key.To.ID,
		e.Confidence,
		util.SanitizePostgresText(e.Trigger),
		util.SanitizePostgresText(e.Evidence),
		e.Strategy,
		e.PublicationID,
		extra,
		t.now,
	).Scan(&inserted)
	return inserted, err
}

func (t *graphTx) LinkProvenance(ctx context.Context, p common.Provenance) (bool, error) {
	tag, err := t.tx.Exec(ctx, insertProvenanceSQL,
		p.ID,
		string(p.FactKind),
		p.FactID,
		p.PublicationID,
		util.SanitizePostgresText(p.Sentence),
		p.Section,
		p.Confidence,
		p.Extractor,
		t.now,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *GraphDBStorage) Stats(ctx context.Context) (common.GraphStats, error) {
	st := common.GraphStats{
		NodesByLabel: map[string]int64{},
		EdgesByType:  map[string]int64{},
	}
	if err := s.countInto(ctx, countNodesSQL, st.NodesByLabel); err != nil {
		return st, err
	}
	if err := s.countInto(ctx, countEdgesSQL, st.EdgesByType); err != nil {
		return st, err
	}
	if err := s.conn.QueryRow(ctx, countProvenanceSQL).Scan(&st.Provenance); err != nil {
		return st, classifyError(err)
	}
	return st, nil
}

func (s *GraphDBStorage) countInto(ctx context.Context, sql string, into map[string]int64) error {
	rows, err := s.conn.Query(ctx, sql)
	if err != nil {
		return classifyError(err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		into[key] = n
	}
	return classifyError(rows.Err())
}

// Close is a no-op; the owner of the pool closes it.
func (s *GraphDBStorage) Close(ctx context.Context) error { return nil }

// classifyError marks lost connectivity with common.ErrStoreUnavailable and serialization
// conflicts or timeouts as transient.
func classifyError(err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, common.ErrStoreUnavailable) {
		return err
	}
	var connectErr *pgconn.ConnectError
	var netErr net.Error
	if errors.As(err, &connectErr) || (errors.As(err, &netErr) && !netErr.Timeout()) {
		return fmt.Errorf("%w: %w", common.ErrStoreUnavailable, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return common.Transient("postgres transaction", err)
		case "57P01", "57P02", "57P03", "08000", "08003", "08006":
			return fmt.Errorf("%w: %w", common.ErrStoreUnavailable, err)
		}
		return err
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return common.Transient("postgres", err)
	}
	return err
}

const upsertNodeSQL = `
INSERT INTO graph_nodes (label, id, name, entity_type, aliases, registry, extra, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
ON CONFLICT (label, id) DO UPDATE
SET name        = EXCLUDED.name,
    entity_type = EXCLUDED.entity_type,
    aliases     = ARRAY(
        SELECT DISTINCT a FROM unnest(graph_nodes.aliases || EXCLUDED.aliases) AS a ORDER BY a
    ),
    registry    = EXCLUDED.registry,
    extra       = EXCLUDED.extra,
    updated_at  = EXCLUDED.updated_at
RETURNING (xmax = 0) AS inserted;
`

const upsertEdgeSQL = `
INSERT INTO graph_edges (relation_type, from_label, from_id, to_label, to_id, confidence,
    trigger_text, evidence, strategy, publication_id, extra, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
ON CONFLICT (relation_type, from_label, from_id, to_label, to_id) DO UPDATE
SET confidence     = EXCLUDED.confidence,
    trigger_text   = EXCLUDED.trigger_text,
    evidence       = EXCLUDED.evidence,
    strategy       = EXCLUDED.strategy,
    publication_id = EXCLUDED.publication_id,
    extra          = EXCLUDED.extra,
    updated_at     = EXCLUDED.updated_at
RETURNING (xmax = 0) AS inserted;
`

const insertProvenanceSQL = `
INSERT INTO graph_provenance (id, fact_kind, fact_id, publication_id, sentence, section,
    confidence, extractor, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO NOTHING;
`

const countNodesSQL = `SELECT label, count(*) FROM graph_nodes GROUP BY label;`

const countEdgesSQL = `SELECT relation_type, count(*) FROM graph_edges GROUP BY relation_type;`

const countProvenanceSQL = `SELECT count(*) FROM graph_provenance;`
