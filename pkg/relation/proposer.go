// Package relation proposes typed relation assertions between the mentions of one document.
//
// Two strategies run side by side. The structural strategy walks a dependency parse from
// trigger words to their grammatical subject and object. The proximity strategy looks for
// trigger words between nearby mention pairs. Their union is deduplicated by
// (subject, type, object), keeping the most confident assertion.
package relation

import (
	"context"
	"sort"
	"strings"

	"github.com/OFFIS-RIT/biograph/pkg/common"
	"github.com/OFFIS-RIT/biograph/pkg/logger"
	"github.com/OFFIS-RIT/biograph/pkg/text"
)

const (
	DefaultWindow           = 100
	DefaultProximityPenalty = 0.15
	DefaultMinConfidence    = 0.5
	cooccurrenceConfidence  = 0.50
	negationLookbehind      = 3
	negationLookahead       = 2
)

// Options configures a Proposer.
type Options struct {
	// Window is the largest character gap between two mentions the proximity strategy accepts.
	Window int
	// ProximityPenalty is subtracted from the structural confidence of a type for proximity hits.
	ProximityPenalty float64
	// MinConfidence drops deduplicated assertions below it.
	MinConfidence float64
	// Cooccurrence enables ASSOCIATED_WITH links between same-sentence mentions.
	Cooccurrence bool
	// Parser supplies dependency structures. Nil disables the structural strategy.
	Parser  Parser
	Lexicon *Lexicon
}

// DefaultOptions returns the standard proposer settings without a parser.
func DefaultOptions() Options {
	return Options{
		Window:           DefaultWindow,
		ProximityPenalty: DefaultProximityPenalty,
		MinConfidence:    DefaultMinConfidence,
	}
}

// Proposer is safe for concurrent use when its Parser is.
type Proposer struct {
	window           int
	proximityPenalty float64
	minConfidence    float64
	cooccurrence     bool
	parser           Parser
	lexicon          *Lexicon
	log              logger.Component
}

func NewProposer(opts Options) *Proposer {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.Lexicon == nil {
		opts.Lexicon = DefaultLexicon()
	}
	return &Proposer{
		window:           opts.Window,
		proximityPenalty: opts.ProximityPenalty,
		minConfidence:    opts.MinConfidence,
		cooccurrence:     opts.Cooccurrence,
		parser:           opts.Parser,
		lexicon:          opts.Lexicon,
		log:              logger.With("Relation"),
	}
}

// Propose returns the deduplicated assertions for mentions found in doc. Mentions are
// expected to be non-overlapping. A parser failure only disables the structural strategy.
func (p *Proposer) Propose(ctx context.Context, doc string, mentions []common.Mention) []common.RelationAssertion {
	if len(mentions) < 2 {
		return nil
	}
	sentences := text.Sentences(doc)

	var all []common.RelationAssertion
	if parsed := p.parse(ctx, doc); len(parsed) > 0 {
		all = append(all, p.structural(doc, parsed, mentions)...)
	}
	all = append(all, p.proximity(doc, sentences, mentions)...)
	if p.cooccurrence {
		all = append(all, p.sentenceCooccurrence(doc, sentences, mentions)...)
	}

	out := Dedupe(all)
	filtered := out[:0]
	for _, a := range out {
		if a.Confidence >= p.minConfidence {
			filtered = append(filtered, a)
		}
	}
	return filtered
}

func (p *Proposer) parse(ctx context.Context, doc string) []ParsedSentence {
	if p.parser == nil {
		return nil
	}
	parsed, err := p.parser.Parse(ctx, doc)
	if err != nil {
		p.log.Warn("dependency parse failed, using proximity only", "err", err)
		return nil
	}
	return parsed
}

// negatedAt reports a negation cue within a few words around the trigger at [start, end).
func (p *Proposer) negatedAt(doc string, start, end int) bool {
	from := start - 64
	if from < 0 {
		from = 0
	}
	before := text.Words(doc, from, start)
	if len(before) > negationLookbehind {
		before = before[len(before)-negationLookbehind:]
	}
	for _, w := range before {
		if IsNegationCue(w.Text) {
			return true
		}
	}
	to := end + 48
	if to > len(doc) {
		to = len(doc)
	}
	after := text.Words(doc, end, to)
	if len(after) > negationLookahead {
		after = after[:negationLookahead]
	}
	for _, w := range after {
		if IsNegationCue(w.Text) {
			return true
		}
	}
	return false
}

// RelationKey identifies an assertion for deduplication.
type RelationKey struct {
	Subject string
	Type    common.RelationType
	Object  string
}

// CanonicalText is the text used for relation keys: the annotator's canonical hint when
// present, otherwise the literal, normalized.
func CanonicalText(m common.Mention) string {
	if m.CanonicalHint != "" {
		return text.Normalize(m.CanonicalHint)
	}
	return text.Normalize(m.Text)
}

// KeyOf returns the deduplication key of a.
func KeyOf(a common.RelationAssertion) RelationKey {
	return RelationKey{Subject: CanonicalText(a.Subject), Type: a.Type, Object: CanonicalText(a.Object)}
}

// Dedupe keeps one assertion per key, preferring higher confidence and, on ties, the
// earlier one. The output is ordered by subject offset, object offset and type.
func Dedupe(assertions []common.RelationAssertion) []common.RelationAssertion {
	best := make(map[RelationKey]int, len(assertions))
	var out []common.RelationAssertion
	for _, a := range assertions {
		k := KeyOf(a)
		if i, ok := best[k]; ok {
			if a.Confidence > out[i].Confidence {
				out[i] = a
			}
			continue
		}
		best[k] = len(out)
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Subject.Start != b.Subject.Start {
			return a.Subject.Start < b.Subject.Start
		}
		if a.Object.Start != b.Object.Start {
			return a.Object.Start < b.Object.Start
		}
		return a.Type < b.Type
	})
	return out
}

func lower(s string) string {
	return strings.ToLower(s)
}
