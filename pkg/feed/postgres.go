package feed

import (
	"context"
	"io"
	"time"

	"github.com/OFFIS-RIT/biograph/pkg/common"
)

// PublicationSource is the keyset query surface of the publications table.
type PublicationSource interface {
	PublicationsByID(ctx context.Context, fromID, toID, afterID string, limit int) ([]common.Publication, error)
	PublicationsUpdatedSince(ctx context.Context, since time.Time, afterID string, limit int) ([]common.Publication, error)
}

// PostgresFeed pages through the publications table with keyset pagination, by id or by
// (updated_at, id) when the range carries a watermark.
type PostgresFeed struct {
	src      PublicationSource
	rng      Range
	pageSize int

	afterID   string
	afterTime time.Time
	done      bool
}

func NewPostgresFeed(src PublicationSource, rng Range, pageSize int) *PostgresFeed {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &PostgresFeed{src: src, rng: rng, pageSize: pageSize, afterTime: rng.Since}
}

func (f *PostgresFeed) Next(ctx context.Context) ([]common.Publication, error) {
	if f.done {
		return nil, io.EOF
	}

	var (
		page []common.Publication
		err  error
	)
	if f.rng.Since.IsZero() {
		page, err = f.src.PublicationsByID(ctx, f.rng.FromID, f.rng.ToID, f.afterID, f.pageSize)
	} else {
		page, err = f.src.PublicationsUpdatedSince(ctx, f.afterTime, f.afterID, f.pageSize)
	}
	if err != nil {
		return nil, err
	}
	if len(page) < f.pageSize {
		f.done = true
	}
	if len(page) == 0 {
		return nil, io.EOF
	}
	last := page[len(page)-1]
	f.afterID, f.afterTime = last.ID, last.UpdatedAt
	return page, nil
}
