package annotate

import (
	"context"
	"regexp"

	"github.com/OFFIS-RIT/biograph/pkg/common"
)

// Pattern is one curated expression with the canonical name it stands for.
type Pattern struct {
	Type       common.EntityType
	Canonical  string
	Expr       *regexp.Regexp
	Confidence float64
}

const (
	stressorConfidence  = 0.90
	phenotypeConfidence = 0.88
)

func term(t common.EntityType, canonical, expr string, conf float64) Pattern {
	return Pattern{
		Type:       t,
		Canonical:  canonical,
		Expr:       regexp.MustCompile(`(?i)\b(?:` + expr + `)\b`),
		Confidence: conf,
	}
}

// DefaultPatterns returns the curated stressor and phenotype lexicon.
func DefaultPatterns() []Pattern {
	s, p := common.EntityStressor, common.EntityPhenotype
	return []Pattern{
		term(s, "Microgravity", `micro-?gravity|simulated weightlessness|weightlessness`, stressorConfidence),
		term(s, "Spaceflight", `space-?flights?|space missions?`, stressorConfidence),
		term(s, "Space Radiation", `(?:space|cosmic|ionizing) radiation|galactic cosmic rays?|heavy[- ]ion irradiation`, stressorConfidence),
		term(s, "Hypergravity", `hyper-?gravity`, stressorConfidence),
		term(s, "Hindlimb Unloading", `hind-?limb (?:unloading|suspension)`, stressorConfidence),
		term(s, "Bed Rest", `(?:head-down (?:tilt )?)?bed rest`, stressorConfidence),
		term(s, "Isolation", `(?:social|prolonged) isolation|isolation and confinement`, stressorConfidence),

		term(p, "Muscle Atrophy", `(?:skeletal )?muscle atrophy|muscle wasting|sarcopenia`, phenotypeConfidence),
		term(p, "Bone Loss", `bone loss|osteopenia|bone mineral density loss`, phenotypeConfidence),
		term(p, "Oxidative Stress", `oxidative stress`, phenotypeConfidence),
		term(p, "Inflammation", `inflammation|inflammatory responses?`, phenotypeConfidence),
		term(p, "Insulin Resistance", `insulin resistance`, phenotypeConfidence),
		term(p, "Cardiovascular Deconditioning", `cardiovascular deconditioning|orthostatic intolerance`, phenotypeConfidence),
	}
}

// PatternAnnotator matches a fixed set of regular expressions.
type PatternAnnotator struct {
	patterns []Pattern
}

// NewPatternAnnotator uses DefaultPatterns when patterns is empty.
func NewPatternAnnotator(patterns ...Pattern) *PatternAnnotator {
	if len(patterns) == 0 {
		patterns = DefaultPatterns()
	}
	return &PatternAnnotator{patterns: patterns}
}

func (a *PatternAnnotator) Name() string { return "pattern" }

func (a *PatternAnnotator) Annotate(ctx context.Context, text string) ([]common.Mention, error) {
	var out []common.Mention
	for _, p := range a.patterns {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, loc := range p.Expr.FindAllStringIndex(text, -1) {
			out = append(out, common.Mention{
				Type:          p.Type,
				Text:          text[loc[0]:loc[1]],
				Start:         loc[0],
				End:           loc[1],
				Confidence:    p.Confidence,
				Annotator:     a.Name(),
				CanonicalHint: p.Canonical,
			})
		}
	}
	return out, nil
}
