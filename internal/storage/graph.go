package storage

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/biograph/internal/util"
	"github.com/OFFIS-RIT/biograph/pkg/store"
	"github.com/OFFIS-RIT/biograph/pkg/store/memory"
	"github.com/OFFIS-RIT/biograph/pkg/store/neo4j"
	graphstorage "github.com/OFFIS-RIT/biograph/pkg/store/pgx"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Graph store backends.
const (
	GraphPostgres = "postgres"
	GraphNeo4j    = "neo4j"
	GraphMemory   = "memory"
)

// OpenGraphStore builds the backend named by kind. The postgres backend shares pool, which
// also holds publications, batch runs and leases for every backend.
func OpenGraphStore(ctx context.Context, kind string, pool *pgxpool.Pool) (store.GraphStore, error) {
	var s store.GraphStore
	switch kind {
	case "", GraphPostgres:
		s = graphstorage.NewGraphDBStorageWithConnection(pool)
	case GraphNeo4j:
		n, err := neo4j.New(ctx, neo4j.Params{
			URI:      util.GetEnvString("NEO4J_URI", "neo4j://localhost:7687"),
			Username: util.GetEnvString("NEO4J_USER", "neo4j"),
			Password: util.GetEnv("NEO4J_PASSWORD"),
			Database: util.GetEnv("NEO4J_DATABASE"),
		})
		if err != nil {
			return nil, err
		}
		s = n
	case GraphMemory:
		s = memory.New()
	default:
		return nil, fmt.Errorf("unknown graph store %q", kind)
	}

	if ss, ok := s.(store.SchemaStore); ok {
		if err := ss.EnsureSchema(ctx); err != nil {
			_ = s.Close(ctx)
			return nil, fmt.Errorf("ensure graph schema: %w", err)
		}
	}
	return s, nil
}
