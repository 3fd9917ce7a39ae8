package resolve

import (
	"context"
	"errors"
	"strings"

	"github.com/OFFIS-RIT/biograph/pkg/common"
	"github.com/OFFIS-RIT/biograph/pkg/text"
)

// Record is one candidate returned by a registry.
type Record struct {
	ID       string
	Name     string
	Aliases  []string
	Registry string
}

// Query is what a registry is asked to look up.
type Query struct {
	Text string
	// Hint is an annotator supplied canonical name, possibly empty.
	Hint string
	Type common.EntityType
	// Organism is an NCBI taxonomy id without prefix, possibly empty.
	Organism string
}

// Normalized returns the normalized query text.
func (q Query) Normalized() string { return text.Normalize(q.Text) }

// Registry looks up candidates for a query. An empty result without error means not found.
type Registry interface {
	Name() string
	Lookup(ctx context.Context, q Query) ([]Record, error)
}

// Chain consults registries in order and returns the first non-empty answer.
type Chain []Registry

func (c Chain) Name() string {
	names := make([]string, 0, len(c))
	for _, r := range c {
		names = append(names, r.Name())
	}
	return strings.Join(names, "+")
}

// Lookup returns an error only when no registry answered and at least one failed.
func (c Chain) Lookup(ctx context.Context, q Query) ([]Record, error) {
	var errs []error
	for _, r := range c {
		recs, err := r.Lookup(ctx, q)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			errs = append(errs, err)
			continue
		}
		if len(recs) > 0 {
			return recs, nil
		}
	}
	return nil, errors.Join(errs...)
}

// Registries routes entity types to registries.
type Registries map[common.EntityType]Registry

// Curated is an in-memory registry. Entries match on normalized name or alias.
type Curated struct {
	name    string
	entries map[string][]Record
}

// NewCurated indexes records by their normalized name and aliases.
func NewCurated(name string, records []Record) *Curated {
	c := &Curated{name: name, entries: make(map[string][]Record)}
	for _, r := range records {
		if r.Registry == "" {
			r.Registry = name
		}
		seen := map[string]bool{}
		for _, key := range append([]string{r.Name}, r.Aliases...) {
			k := text.Normalize(key)
			if k == "" || seen[k] {
				continue
			}
			seen[k] = true
			c.entries[k] = append(c.entries[k], r)
		}
	}
	return c
}

func (c *Curated) Name() string { return c.name }

func (c *Curated) Lookup(ctx context.Context, q Query) ([]Record, error) {
	if recs, ok := c.entries[q.Normalized()]; ok {
		return append([]Record(nil), recs...), nil
	}
	if q.Hint != "" {
		if recs, ok := c.entries[text.Normalize(q.Hint)]; ok {
			return append([]Record(nil), recs...), nil
		}
	}
	return nil, nil
}

// bestMatch applies the selection rule: a single candidate wins. Among several, a unique
// candidate whose name or alias equals the query text or hint wins. Otherwise the query
// is ambiguous.
func bestMatch(q Query, recs []Record) (Record, bool) {
	recs = uniqueByID(recs)
	switch len(recs) {
	case 0:
		return Record{}, false
	case 1:
		return recs[0], true
	}
	want := []string{q.Normalized()}
	if q.Hint != "" {
		want = append(want, text.Normalize(q.Hint))
	}
	var match *Record
	for i := range recs {
		if !namedAs(recs[i], want) {
			continue
		}
		if match != nil {
			return Record{}, false
		}
		match = &recs[i]
	}
	if match == nil {
		return Record{}, false
	}
	return *match, true
}

func namedAs(r Record, want []string) bool {
	for _, n := range append([]string{r.Name}, r.Aliases...) {
		nn := text.Normalize(n)
		for _, w := range want {
			if nn == w {
				return true
			}
		}
	}
	return false
}

func uniqueByID(recs []Record) []Record {
	seen := make(map[string]bool, len(recs))
	out := recs[:0:0]
	for _, r := range recs {
		if r.ID == "" || seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		out = append(out, r)
	}
	return out
}
