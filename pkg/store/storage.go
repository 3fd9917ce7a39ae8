package store

import (
	"context"

	"github.com/OFFIS-RIT/biograph/pkg/common"
)

// Tx is one publication's write unit. Writes become visible when the surrounding
// WithTx call returns nil.
type Tx interface {
	// UpsertNode creates the node when absent, otherwise overwrites its mutable
	// properties and refreshes updated_at. It reports whether the node was created.
	UpsertNode(ctx context.Context, node common.GraphNode) (bool, error)
	// UpsertEdge does the same for the (type, from, to) identity. Both endpoints must exist.
	UpsertEdge(ctx context.Context, edge common.GraphEdge) (bool, error)
	// LinkProvenance inserts the record unless one with the same id exists.
	LinkProvenance(ctx context.Context, p common.Provenance) (bool, error)
}

// GraphStore persists the knowledge graph. Implementations must tolerate concurrent
// WithTx calls touching overlapping keys.
type GraphStore interface {
	// WithTx runs fn in a transaction. The transaction is rolled back when fn fails.
	// fn may be invoked again when the backend retries the transaction.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	Stats(ctx context.Context) (common.GraphStats, error)
	Close(ctx context.Context) error
}

// SchemaStore is implemented by stores that create their schema on demand.
type SchemaStore interface {
	EnsureSchema(ctx context.Context) error
}
