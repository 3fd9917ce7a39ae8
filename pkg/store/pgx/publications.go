package pgx

import (
	"context"
	"encoding/json"
	"time"

	"github.com/OFFIS-RIT/biograph/internal/util"
	"github.com/OFFIS-RIT/biograph/pkg/common"
	"github.com/OFFIS-RIT/biograph/pkg/logger"
	"github.com/OFFIS-RIT/biograph/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
)

const publicationChunk = 500

// SavePublications upserts publications into the feed table in chunks.
func (s *GraphDBStorage) SavePublications(ctx context.Context, pubs []common.Publication) error {
	return store.ChunkRange(len(pubs), publicationChunk, func(start, end int) error {
		logger.Debug("[Store][SavePublications] Saving chunk", "publications", end-start)

		batch := &pgxv5.Batch{}
		for _, p := range pubs[start:end] {
			meta, err := marshalExtra(p.Metadata)
			if err != nil {
				return err
			}
			var published *time.Time
			if !p.PublishedDate.IsZero() {
				d := p.PublishedDate.UTC()
				published = &d
			}
			updated := p.UpdatedAt
			if updated.IsZero() {
				updated = s.now()
			}
			batch.Queue(upsertPublicationSQL,
				p.ID,
				util.SanitizePostgresText(p.Title),
				util.SanitizePostgresText(p.Abstract),
				util.SanitizePostgresText(p.FullText),
				published,
				meta,
				updated.UTC(),
			)
		}

		tx, err := s.conn.Begin(ctx)
		if err != nil {
			return classifyError(err)
		}
		defer tx.Rollback(ctx)
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return classifyError(err)
		}
		return classifyError(tx.Commit(ctx))
	})
}

// PublicationsByID returns up to limit publications with afterID < id <= toID, ordered by id.
// fromID is inclusive and applies when afterID is empty. Empty bounds are open.
func (s *GraphDBStorage) PublicationsByID(
	ctx context.Context,
	fromID, toID, afterID string,
	limit int,
) ([]common.Publication, error) {
	return s.queryPublications(ctx, publicationsByIDSQL, fromID, toID, afterID, limit)
}

// PublicationsUpdatedSince returns up to limit publications whose (updated_at, id) is after
// (since, afterID), ordered by that pair.
func (s *GraphDBStorage) PublicationsUpdatedSince(
	ctx context.Context,
	since time.Time,
	afterID string,
	limit int,
) ([]common.Publication, error) {
	return s.queryPublications(ctx, publicationsSinceSQL, since.UTC(), afterID, limit)
}

func (s *GraphDBStorage) queryPublications(ctx context.Context, sql string, args ...any) ([]common.Publication, error) {
	rows, err := s.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, classifyError(err)
	}
	defer rows.Close()

	var out []common.Publication
	for rows.Next() {
		var (
			p         common.Publication
			published *time.Time
			meta      []byte
		)
		if err := rows.Scan(&p.ID, &p.Title, &p.Abstract, &p.FullText, &published, &meta, &p.UpdatedAt); err != nil {
			return nil, err
		}
		if published != nil {
			p.PublishedDate = published.UTC()
		}
		if len(meta) > 0 && string(meta) != "{}" {
			if err := json.Unmarshal(meta, &p.Metadata); err != nil {
				return nil, err
			}
		}
		out = append(out, p)
	}
	return out, classifyError(rows.Err())
}

const upsertPublicationSQL = `
INSERT INTO publications (id, title, abstract, full_text, published_date, metadata, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE
SET title          = EXCLUDED.title,
    abstract       = EXCLUDED.abstract,
    full_text      = EXCLUDED.full_text,
    published_date = EXCLUDED.published_date,
    metadata       = EXCLUDED.metadata,
    updated_at     = EXCLUDED.updated_at;
`

const publicationsByIDSQL = `
SELECT id, title, abstract, full_text, published_date, metadata, updated_at
FROM publications
WHERE ($1 = '' OR id >= $1)
  AND ($2 = '' OR id <= $2)
  AND ($3 = '' OR id > $3)
ORDER BY id
LIMIT $4;
`

const publicationsSinceSQL = `
SELECT id, title, abstract, full_text, published_date, metadata, updated_at
FROM publications
WHERE (updated_at, id) > ($1, $2)
ORDER BY updated_at, id
LIMIT $3;
`
