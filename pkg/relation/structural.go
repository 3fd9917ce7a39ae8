package relation

import (
	"strings"

	"github.com/OFFIS-RIT/biograph/pkg/common"
)

var (
	subjectDeps  = []string{"nsubj", "nsubjpass", "nsubj:pass", "csubj"}
	objectDeps   = []string{"dobj", "obj", "iobj"}
	prepDeps     = []string{"prep", "agent"}
	pobjDeps     = []string{"pobj"}
	oblDeps      = []string{"nmod", "obl", "nmod:of"}
	modifierDeps = []string{"compound", "amod", "appos", "flat", "nummod", "conj"}
)

func hasDep(dep string, set []string) bool {
	dep = strings.ToLower(dep)
	for _, d := range set {
		if dep == d {
			return true
		}
	}
	return false
}

type depGraph struct {
	tokens   []Token
	children map[int][]int
	mentions map[int]int
}

func newDepGraph(sentence ParsedSentence, mentions []common.Mention) *depGraph {
	g := &depGraph{
		tokens:   sentence.Tokens,
		children: make(map[int][]int),
		mentions: make(map[int]int),
	}
	for pos, tok := range sentence.Tokens {
		if tok.Head >= 0 && tok.Head != tok.Index {
			g.children[tok.Head] = append(g.children[tok.Head], pos)
		}
		for mi, m := range mentions {
			if tok.Start >= m.Start && tok.Start < m.End {
				g.mentions[tok.Index] = mi
				break
			}
		}
	}
	return g
}

func (g *depGraph) childrenOf(index int) []Token {
	var out []Token
	for _, pos := range g.children[index] {
		out = append(out, g.tokens[pos])
	}
	return out
}

func (g *depGraph) mentionOf(index int) (int, bool) {
	mi, ok := g.mentions[index]
	return mi, ok
}

// argument looks for a mention attached to tok through one of deps, either on the
// dependent itself or on one of its modifiers.
func (g *depGraph) argument(tok Token, deps []string) (int, bool) {
	for _, child := range g.childrenOf(tok.Index) {
		if !hasDep(child.Dep, deps) {
			continue
		}
		if mi, ok := g.mentionOf(child.Index); ok {
			return mi, true
		}
		for _, grand := range g.childrenOf(child.Index) {
			if !hasDep(grand.Dep, modifierDeps) {
				continue
			}
			if mi, ok := g.mentionOf(grand.Index); ok {
				return mi, true
			}
		}
	}
	return 0, false
}

// object resolves direct objects first, then prepositional chains such as
// "upregulation -prep-> of -pobj-> ATROGIN-1" and UD style nmod/obl dependents.
func (g *depGraph) object(tok Token) (int, bool) {
	if mi, ok := g.argument(tok, objectDeps); ok {
		return mi, true
	}
	if mi, ok := g.prepObject(tok); ok {
		return mi, true
	}
	// "induced expression of MuRF1": the object noun carries the mention through its own prep.
	for _, child := range g.childrenOf(tok.Index) {
		if !hasDep(child.Dep, objectDeps) {
			continue
		}
		if mi, ok := g.prepObject(child); ok {
			return mi, true
		}
	}
	return g.argument(tok, oblDeps)
}

func (g *depGraph) prepObject(tok Token) (int, bool) {
	for _, child := range g.childrenOf(tok.Index) {
		if !hasDep(child.Dep, prepDeps) {
			continue
		}
		if mi, ok := g.argument(child, pobjDeps); ok {
			return mi, true
		}
	}
	return 0, false
}

func (g *depGraph) negated(tok Token) bool {
	for _, child := range g.childrenOf(tok.Index) {
		if strings.EqualFold(child.Dep, "neg") {
			return true
		}
	}
	return false
}

// structural proposes assertions from trigger tokens whose grammatical subject and
// object are both mentions.
func (p *Proposer) structural(text string, sentences []ParsedSentence, mentions []common.Mention) []common.RelationAssertion {
	var out []common.RelationAssertion
	for _, sentence := range sentences {
		if len(sentence.Tokens) == 0 {
			continue
		}
		g := newDepGraph(sentence, mentions)
		for _, tok := range sentence.Tokens {
			key := tok.Lemma
			if key == "" {
				key = tok.Text
			}
			entry, ok := p.lexicon.Match(key)
			if !ok {
				if entry, ok = p.lexicon.Match(tok.Text); !ok {
					continue
				}
			}
			si, ok := g.argument(tok, subjectDeps)
			if !ok {
				continue
			}
			oi, ok := g.object(tok)
			if !ok || oi == si {
				continue
			}
			if g.negated(tok) || p.negatedAt(text, tok.Start, tok.End) {
				p.log.Debug("dropped negated structural assertion", "trigger", tok.Text)
				continue
			}
			out = append(out, common.RelationAssertion{
				Subject:    mentions[si],
				Type:       entry.Type,
				Object:     mentions[oi],
				Trigger:    tok.Text,
				Confidence: entry.Structural,
				Evidence:   sentenceText(text, sentence.Start, sentence.End),
				Strategy:   common.StrategyStructural,
			})
		}
	}
	return out
}

func sentenceText(text string, start, end int) string {
	if start < 0 {
		start = 0
	}
	if end > len(text) || end <= start {
		end = len(text)
	}
	return strings.TrimSpace(text[start:end])
}
