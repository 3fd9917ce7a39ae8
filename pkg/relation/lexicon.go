package relation

import (
	"strings"

	"github.com/OFFIS-RIT/biograph/pkg/common"
)

// Entry holds the trigger words of one relation type and the confidence a
// structural match of that type receives.
type Entry struct {
	Type       common.RelationType
	Structural float64
	Triggers   map[string]struct{}
}

// Lexicon maps trigger words to relation types. Entries are kept in priority order,
// which decides the type when a word or a gap matches several entries.
type Lexicon struct {
	entries []Entry
}

func words(ws ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(ws))
	for _, w := range ws {
		m[w] = struct{}{}
	}
	return m
}

// DefaultLexicon is ordered UPREGULATES, DOWNREGULATES, PREVENTS, CAUSES, INTERACTS_WITH,
// LOCATED_IN, PARTICIPATES_IN. Increase words come before CAUSES so "induced"
// reads as upregulation.
func DefaultLexicon() *Lexicon {
	return &Lexicon{entries: []Entry{
		{
			Type:       common.RelUpregulates,
			Structural: 0.85,
			Triggers: words(
				"increase", "increases", "increased", "increasing",
				"upregulate", "upregulates", "upregulated", "upregulation", "up-regulate",
				"up-regulates", "up-regulated", "up-regulation",
				"enhance", "enhances", "enhanced", "enhancement",
				"activate", "activates", "activated", "activation",
				"induce", "induces", "induced", "induction",
				"stimulate", "stimulates", "stimulated", "stimulation",
				"promote", "promotes", "promoted", "elevation", "elevated", "elevate", "elevates",
				"overexpress", "overexpressed", "overexpression",
			),
		},
		{
			Type:       common.RelDownregulates,
			Structural: 0.85,
			Triggers: words(
				"decrease", "decreases", "decreased", "decreasing",
				"downregulate", "downregulates", "downregulated", "downregulation", "down-regulate",
				"down-regulates", "down-regulated", "down-regulation",
				"inhibit", "inhibits", "inhibited", "inhibition",
				"suppress", "suppresses", "suppressed", "suppression",
				"reduce", "reduces", "reduced", "reduction",
				"repress", "represses", "repressed", "repression",
				"attenuate", "attenuates", "attenuated", "attenuation",
				"diminish", "diminishes", "diminished",
			),
		},
		{
			Type:       common.RelPrevents,
			Structural: 0.80,
			Triggers: words(
				"prevent", "prevents", "prevented", "prevention",
				"treat", "treats", "treated", "treatment",
				"ameliorate", "ameliorates", "ameliorated", "amelioration",
				"alleviate", "alleviates", "alleviated", "alleviation",
				"rescue", "rescues", "rescued",
				"protect", "protects", "protected", "protection",
				"countermeasure", "countermeasures", "mitigate", "mitigates", "mitigated",
			),
		},
		{
			Type:       common.RelCauses,
			Structural: 0.80,
			Triggers: words(
				"cause", "causes", "caused", "causing",
				"lead", "leads", "led", "leading",
				"result", "results", "resulted", "resulting",
				"produce", "produces", "produced",
				"trigger", "triggers", "triggered",
			),
		},
		{
			Type:       common.RelInteractsWith,
			Structural: 0.75,
			Triggers: words(
				"interact", "interacts", "interacted", "interaction",
				"bind", "binds", "bound", "binding",
				"associate", "associates", "associated", "association",
				"complex", "partner", "colocalize", "colocalizes", "colocalized",
			),
		},
		{
			Type:       common.RelLocatedIn,
			Structural: 0.70,
			Triggers: words(
				"located", "localized", "localised", "localization", "localizes",
				"within", "resides", "resident", "contained",
			),
		},
		{
			Type:       common.RelParticipatesIn,
			Structural: 0.70,
			Triggers: words(
				"part", "component", "member", "element", "subunit",
				"participate", "participates", "participated", "participation",
				"involved", "involvement", "contributes", "contributed",
			),
		},
	}}
}

// Entries returns the entries in priority order.
func (l *Lexicon) Entries() []Entry {
	return l.entries
}

// Match returns the highest priority entry containing word.
func (l *Lexicon) Match(word string) (Entry, bool) {
	w := strings.ToLower(word)
	for _, e := range l.entries {
		if _, ok := e.Triggers[w]; ok {
			return e, true
		}
	}
	return Entry{}, false
}

var negationCues = words(
	"not", "no", "neither", "nor", "never", "none", "without", "lack", "lacks", "lacked",
	"absent", "unlikely", "fail", "fails", "failed", "unable", "cannot",
	"didn't", "doesn't", "don't", "wasn't", "weren't", "isn't", "aren't", "unaffected",
)

// IsNegationCue reports whether word negates a nearby trigger.
func IsNegationCue(word string) bool {
	_, ok := negationCues[strings.ToLower(word)]
	return ok
}
