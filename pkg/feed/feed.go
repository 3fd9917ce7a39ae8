// Package feed supplies publications to the coordinator in pages.
package feed

import (
	"context"
	"io"
	"time"

	"github.com/OFFIS-RIT/biograph/pkg/common"
)

const DefaultPageSize = 100

// Feed is a pull based publication sequence. Next returns io.EOF once exhausted.
type Feed interface {
	Next(ctx context.Context) ([]common.Publication, error)
}

// Range selects the publications of a batch. IDs are inclusive bounds, empty means open.
// A non-zero Since selects records updated after the watermark instead of an id range.
type Range struct {
	FromID string    `json:"from_id,omitempty"`
	ToID   string    `json:"to_id,omitempty"`
	Since  time.Time `json:"watermark,omitzero"`
}

func (r Range) contains(id string) bool {
	return (r.FromID == "" || id >= r.FromID) && (r.ToID == "" || id <= r.ToID)
}

// SliceFeed pages over an in-memory slice.
type SliceFeed struct {
	pubs     []common.Publication
	pageSize int
	pos      int
}

func NewSliceFeed(pubs []common.Publication, pageSize int) *SliceFeed {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &SliceFeed{pubs: pubs, pageSize: pageSize}
}

func (f *SliceFeed) Next(ctx context.Context) ([]common.Publication, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.pos >= len(f.pubs) {
		return nil, io.EOF
	}
	end := min(f.pos+f.pageSize, len(f.pubs))
	page := f.pubs[f.pos:end]
	f.pos = end
	return page, nil
}

// Drain reads a feed to the end.
func Drain(ctx context.Context, f Feed) ([]common.Publication, error) {
	var out []common.Publication
	for {
		page, err := f.Next(ctx)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, page...)
	}
}
