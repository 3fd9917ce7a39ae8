package text

import (
	"reflect"
	"testing"
)

func sentenceTexts(s string) []string {
	var out []string
	for _, sp := range Sentences(s) {
		out = append(out, s[sp.Start:sp.End])
	}
	return out
}

func TestSentences(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "two sentences",
			input: "Bone loss was observed. Muscle mass decreased!",
			want:  []string{"Bone loss was observed.", "Muscle mass decreased!"},
		},
		{
			name:  "initial and abbreviation",
			input: "E. coli grew faster, e.g. under hypergravity. Next one.",
			want:  []string{"E. coli grew faster, e.g. under hypergravity.", "Next one."},
		},
		{
			name:  "et al and decimals",
			input: "Smith et al. reported 3.5 fold changes. Done.",
			want:  []string{"Smith et al. reported 3.5 fold changes.", "Done."},
		},
		{
			name:  "closing bracket stays",
			input: "Levels rose (p < 0.05.) Then fell.",
			want:  []string{"Levels rose (p < 0.05.)", "Then fell."},
		},
		{
			name:  "numeric listing",
			input: "1. Introduction of the model",
			want:  []string{"1. Introduction of the model"},
		},
		{
			name:  "blank line",
			input: "Heading without period\n\nBody text.",
			want:  []string{"Heading without period", "Body text."},
		},
		{
			name:  "empty",
			input: "   ",
			want:  nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sentenceTexts(tt.input)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSentenceAt(t *testing.T) {
	s := "One here. Two there."
	spans := Sentences(s)
	got := SentenceAt(spans, 12, len(s))
	if s[got.Start:got.End] != "Two there." {
		t.Fatalf("unexpected sentence %q", s[got.Start:got.End])
	}
	if got := SentenceAt(nil, 3, len(s)); got != (Span{0, len(s)}) {
		t.Fatalf("expected whole text fallback, got %+v", got)
	}
}

func TestWords(t *testing.T) {
	s := "ATROGIN-1 (FBXO32) was down-regulated, didn't change."
	var got []string
	for _, w := range Words(s, 0, len(s)) {
		if s[w.Start:w.End] != w.Text {
			t.Fatalf("offsets do not match text for %q", w.Text)
		}
		got = append(got, w.Text)
	}
	want := []string{"ATROGIN-1", "FBXO32", "was", "down-regulated", "didn't", "change"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestWordsSubrange(t *testing.T) {
	s := "microgravity resulted in upregulation of X"
	words := Words(s, 12, 37)
	var got []string
	for _, w := range words {
		got = append(got, w.Text)
	}
	if want := []string{"resulted", "in", "upregulation"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestNormalize(t *testing.T) {
	tests := map[string]string{
		"  ATROGIN–1 ": "atrogin-1",
		"Skeletal   Muscle\tTissue": "skeletal muscle tissue",
		"μg":                        "μg",
	}
	for in, want := range tests {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSlug(t *testing.T) {
	if got := Slug("Hindlimb unloading (HU)"); got != "HINDLIMB_UNLOADING_HU" {
		t.Fatalf("got %q", got)
	}
}

func TestByteOffsets(t *testing.T) {
	s := "TNF-α → IL-1β"
	tests := []struct {
		name       string
		start, end int
		want       string
		ok         bool
	}{
		{name: "ascii prefix", start: 0, end: 3, want: "TNF", ok: true},
		{name: "greek letter", start: 4, end: 5, want: "α", ok: true},
		{name: "tail", start: 8, end: 13, want: "IL-1β", ok: true},
		{name: "empty at end", start: 13, end: 13, want: "", ok: true},
		{name: "past end", start: 8, end: 14, ok: false},
		{name: "reversed", start: 5, end: 4, ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bs, be, ok := ByteOffsets(s, tt.start, tt.end)
			if ok != tt.ok {
				t.Fatalf("ByteOffsets(%d, %d) ok = %v, want %v", tt.start, tt.end, ok, tt.ok)
			}
			if ok && s[bs:be] != tt.want {
				t.Fatalf("ByteOffsets(%d, %d) = %q, want %q", tt.start, tt.end, s[bs:be], tt.want)
			}
		})
	}
}
