package store

import (
	"slices"
	"strings"
)

// ChunkRange calls fn for consecutive [start, end) windows of at most chunkSize.
func ChunkRange(total, chunkSize int, fn func(start, end int) error) error {
	if total <= 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = total
	}
	for start := 0; start < total; start += chunkSize {
		end := min(start+chunkSize, total)
		if err := fn(start, end); err != nil {
			return err
		}
	}
	return nil
}

// DedupeStrings drops empty values and case-insensitive duplicates, keeping the first
// spelling seen.
func DedupeStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		k := strings.ToLower(v)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, v)
	}
	return out
}

// MergeAliases returns the sorted set union of stored and incoming without empty values.
// Stores merge node aliases this way so the result does not depend on write order.
func MergeAliases(stored, incoming []string) []string {
	out := make([]string, 0, len(stored)+len(incoming))
	for _, a := range slices.Concat(stored, incoming) {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// SplitNodeFactID splits a node fact id of the form "Label:ID".
func SplitNodeFactID(factID string) (label, id string, ok bool) {
	label, id, ok = strings.Cut(factID, ":")
	if !ok || label == "" || id == "" {
		return "", "", false
	}
	return label, id, true
}
