package annotate

import (
	"context"
	"sort"
	"unicode"
	"unicode/utf8"

	"github.com/OFFIS-RIT/biograph/pkg/common"
)

// Term is one gazetteer entry.
type Term struct {
	Text       string
	Type       common.EntityType
	Confidence float64
	// CaseSensitive terms, such as gene symbols, must match exactly.
	CaseSensitive bool
	Canonical     string
}

// DictionaryAnnotator finds gazetteer terms on word boundaries. Longer terms win over
// shorter terms they contain.
type DictionaryAnnotator struct {
	terms []Term
}

// NewDictionaryAnnotator uses DefaultTerms when terms is empty.
func NewDictionaryAnnotator(terms ...Term) *DictionaryAnnotator {
	if len(terms) == 0 {
		terms = DefaultTerms()
	}
	sorted := make([]Term, 0, len(terms))
	for _, t := range terms {
		if t.Text != "" {
			sorted = append(sorted, t)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Text) > len(sorted[j].Text)
	})
	return &DictionaryAnnotator{terms: sorted}
}

func (a *DictionaryAnnotator) Name() string { return "dictionary" }

func (a *DictionaryAnnotator) Annotate(ctx context.Context, text string) ([]common.Mention, error) {
	folded := asciiLower(text)
	claimed := make([]bool, len(text))

	var out []common.Mention
	for _, t := range a.terms {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hay, needle := text, t.Text
		if !t.CaseSensitive {
			hay, needle = folded, asciiLower(t.Text)
		}
		for from := 0; from < len(hay); {
			i := indexFrom(hay, needle, from)
			if i < 0 {
				break
			}
			end := i + len(needle)
			from = i + 1
			if !wordBoundary(text, i, end) || anyClaimed(claimed, i, end) {
				continue
			}
			for k := i; k < end; k++ {
				claimed[k] = true
			}
			out = append(out, common.Mention{
				Type:          t.Type,
				Text:          text[i:end],
				Start:         i,
				End:           end,
				Confidence:    t.Confidence,
				Annotator:     a.Name(),
				CanonicalHint: t.Canonical,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out, nil
}

func indexFrom(s, sub string, from int) int {
	if from > len(s) {
		return -1
	}
	for i := from; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func anyClaimed(claimed []bool, start, end int) bool {
	for k := start; k < end; k++ {
		if claimed[k] {
			return true
		}
	}
	return false
}

func wordBoundary(text string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(text[:start])
		if isWordChar(r) {
			return false
		}
	}
	if end < len(text) {
		r, _ := utf8.DecodeRuneInString(text[end:])
		if isWordChar(r) {
			return false
		}
	}
	return true
}

func isWordChar(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// asciiLower folds A-Z only, so byte offsets stay aligned with the input.
func asciiLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// DefaultTerms returns a small gazetteer of model organisms, tissues, cell types and
// genes common in space biology abstracts.
func DefaultTerms() []Term {
	org := func(text, canonical string) Term {
		return Term{Text: text, Type: common.EntityOrganism, Confidence: 0.85, Canonical: canonical}
	}
	tissue := func(text string) Term {
		return Term{Text: text, Type: common.EntityTissue, Confidence: 0.80}
	}
	cell := func(text string) Term {
		return Term{Text: text, Type: common.EntityCellType, Confidence: 0.80}
	}
	gene := func(text string) Term {
		return Term{Text: text, Type: common.EntityGene, Confidence: 0.85, CaseSensitive: true}
	}
	return []Term{
		org("human", "Homo sapiens"), org("humans", "Homo sapiens"), org("astronauts", "Homo sapiens"),
		org("mouse", "Mus musculus"), org("mice", "Mus musculus"),
		org("rat", "Rattus norvegicus"), org("rats", "Rattus norvegicus"),
		org("Arabidopsis thaliana", "Arabidopsis thaliana"), org("Arabidopsis", "Arabidopsis thaliana"),
		org("Drosophila melanogaster", "Drosophila melanogaster"), org("Drosophila", "Drosophila melanogaster"),
		org("C. elegans", "Caenorhabditis elegans"), org("Caenorhabditis elegans", "Caenorhabditis elegans"),
		org("E. coli", "Escherichia coli"), org("zebrafish", "Danio rerio"),

		tissue("skeletal muscle tissue"), tissue("skeletal muscle"), tissue("soleus muscle"),
		tissue("gastrocnemius"), tissue("bone marrow"), tissue("femur"), tissue("heart"),
		tissue("liver"), tissue("retina"), tissue("brain"), tissue("thymus"), tissue("spleen"),

		cell("osteoclasts"), cell("osteoblasts"), cell("T cells"), cell("macrophages"),
		cell("cardiomyocytes"), cell("hematopoietic stem cells"),

		gene("ATROGIN-1"), gene("FBXO32"), gene("MuRF1"), gene("TRIM63"), gene("MSTN"),
		gene("FOXO3"), gene("IGF1"), gene("SOD1"), gene("TP53"), gene("NFE2L2"), gene("PGC-1α"),
		gene("PPARGC1A"), gene("TNF"), gene("IL6"), gene("SOST"), gene("RANKL"),
	}
}
