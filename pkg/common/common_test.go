package common

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
)

func TestMentionOverlaps(t *testing.T) {
	tests := []struct {
		name string
		a, b Mention
		want bool
	}{
		{name: "same span", a: Mention{Start: 65, End: 74}, b: Mention{Start: 65, End: 74}, want: true},
		{name: "touching", a: Mention{Start: 0, End: 5}, b: Mention{Start: 5, End: 9}, want: false},
		{name: "nested", a: Mention{Start: 0, End: 10}, b: Mention{Start: 2, End: 3}, want: true},
		{name: "disjoint", a: Mention{Start: 0, End: 2}, b: Mention{Start: 7, End: 9}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Overlaps(tt.b); got != tt.want {
				t.Fatalf("Overlaps = %v, want %v", got, tt.want)
			}
			if got := tt.b.Overlaps(tt.a); got != tt.want {
				t.Fatalf("Overlaps not symmetric")
			}
		})
	}
}

func TestPublicationValidate(t *testing.T) {
	tests := []struct {
		name  string
		pub   Publication
		field string
	}{
		{name: "ok", pub: Publication{ID: "p1", Title: "t", Abstract: "a"}},
		{name: "full text only", pub: Publication{ID: "p1", Title: "t", FullText: "b"}},
		{name: "missing id", pub: Publication{Title: "t", Abstract: "a"}, field: "id"},
		{name: "missing title", pub: Publication{ID: "p1", Abstract: "a"}, field: "title"},
		{name: "missing text", pub: Publication{ID: "p1", Title: "t"}, field: "abstract"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.pub.Validate()
			if tt.field == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var m *MalformedRecordError
			if !errors.As(err, &m) {
				t.Fatalf("expected MalformedRecordError, got %v", err)
			}
			if m.Field != tt.field {
				t.Fatalf("expected field %q, got %q", tt.field, m.Field)
			}
		})
	}
}

func TestPublicationSections(t *testing.T) {
	p := Publication{ID: "p", Title: "Title", Abstract: "  ", FullText: "Body"}
	var names []string
	for _, s := range p.Sections() {
		names = append(names, s.Name)
	}
	if want := []string{SectionTitle, SectionBody}; !reflect.DeepEqual(names, want) {
		t.Fatalf("got %v, want %v", names, want)
	}
}

func TestParseEntityType(t *testing.T) {
	tests := map[string]EntityType{
		"PROTEIN":   EntityProtein,
		"chemical":  EntityMetabolite,
		"SPECIES":   EntityOrganism,
		"cell_type": EntityCellType,
		"Gene":      EntityGene,
	}
	for in, want := range tests {
		got, ok := ParseEntityType(in)
		if !ok || got != want {
			t.Errorf("ParseEntityType(%q) = %q, %v; want %q", in, got, ok, want)
		}
	}
	if _, ok := ParseEntityType("PERSON"); ok {
		t.Error("expected PERSON to be rejected")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureKind
	}{
		{name: "nil", err: nil, want: ""},
		{name: "malformed", err: &MalformedRecordError{PublicationID: "p", Field: "id"}, want: FailureMalformed},
		{name: "wrapped write", err: fmt.Errorf("ingest: %w", &GraphWriteError{PublicationID: "p", Err: errors.New("constraint")}), want: FailureGraphWrite},
		{name: "extraction", err: &ExtractionFailure{Annotator: "x", Err: errors.New("bad json")}, want: FailureExtraction},
		{name: "transient", err: Transient("lookup", errors.New("reset")), want: FailureTransient},
		{name: "deadline", err: context.DeadlineExceeded, want: FailureTransient},
		{name: "canceled", err: fmt.Errorf("x: %w", context.Canceled), want: FailureCanceled},
		{name: "other", err: errors.New("boom"), want: FailureInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Fatalf("Classify = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFactIDs(t *testing.T) {
	k := EdgeKey{
		Type: RelUpregulates,
		From: NodeRef{Label: "Stressor", ID: "STRESSOR:MICROGRAVITY"},
		To:   NodeRef{Label: "Gene", ID: "ENTREZ:67731"},
	}
	want := "UPREGULATES|Stressor:STRESSOR:MICROGRAVITY|Gene:ENTREZ:67731"
	if got := k.FactID(); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
