package store

import (
	"errors"
	"reflect"
	"testing"
)

func TestChunkRange(t *testing.T) {
	tests := []struct {
		name      string
		total     int
		chunkSize int
		want      [][2]int
	}{
		{name: "empty", total: 0, chunkSize: 10, want: nil},
		{name: "exact", total: 4, chunkSize: 2, want: [][2]int{{0, 2}, {2, 4}}},
		{name: "remainder", total: 5, chunkSize: 2, want: [][2]int{{0, 2}, {2, 4}, {4, 5}}},
		{name: "no chunk size", total: 3, chunkSize: 0, want: [][2]int{{0, 3}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got [][2]int
			err := ChunkRange(tt.total, tt.chunkSize, func(start, end int) error {
				got = append(got, [2]int{start, end})
				return nil
			})
			if err != nil {
				t.Fatalf("ChunkRange: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("ChunkRange(%d, %d) = %v, want %v", tt.total, tt.chunkSize, got, tt.want)
			}
		})
	}
}

func TestChunkRange_StopsOnError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := ChunkRange(10, 3, func(start, end int) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) || calls != 1 {
		t.Fatalf("expected first error to stop the loop, got %v after %d calls", err, calls)
	}
}

func TestDedupeStrings(t *testing.T) {
	got := DedupeStrings([]string{"FBXO32", " Atrogin-1 ", "", "fbxo32", "ATROGIN-1", "MAFbx"})
	want := []string{"FBXO32", "Atrogin-1", "MAFbx"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("DedupeStrings() = %v, want %v", got, want)
	}
	if DedupeStrings(nil) != nil {
		t.Fatalf("expected nil for empty input")
	}
}

func TestMergeAliases(t *testing.T) {
	got := MergeAliases([]string{"MAFbx", "Atrogin-1"}, []string{" ", "Atrogin-1", "FBXO32"})
	if want := []string{"Atrogin-1", "FBXO32", "MAFbx"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("MergeAliases() = %v, want %v", got, want)
	}
	if got := MergeAliases(nil, nil); got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", got)
	}
}

func TestSplitNodeFactID(t *testing.T) {
	tests := []struct {
		in        string
		label, id string
		ok        bool
	}{
		{in: "Gene:ENTREZ:66040", label: "Gene", id: "ENTREZ:66040", ok: true},
		{in: "Publication:PMC1", label: "Publication", id: "PMC1", ok: true},
		{in: "Gene:", ok: false},
		{in: "nocolon", ok: false},
	}
	for _, tt := range tests {
		label, id, ok := SplitNodeFactID(tt.in)
		if label != tt.label || id != tt.id || ok != tt.ok {
			t.Fatalf("SplitNodeFactID(%q) = %q, %q, %v", tt.in, label, id, ok)
		}
	}
}
