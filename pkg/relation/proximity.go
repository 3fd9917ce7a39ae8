package relation

import (
	"sort"
	"unicode/utf8"

	"github.com/OFFIS-RIT/biograph/pkg/common"
	"github.com/OFFIS-RIT/biograph/pkg/text"
)

// proximity pairs each mention with the following mentions whose intervening gap is at
// most the window, counted in characters. Pairs are visited in increasing distance, so the scan for m1 stops at
// the first gap beyond the window. The text between the pair is searched for triggers in
// lexicon priority order and the first matching type is emitted with subject m1.
func (p *Proposer) proximity(doc string, sentences []text.Span, mentions []common.Mention) []common.RelationAssertion {
	sorted := append([]common.Mention(nil), mentions...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].End < sorted[j].End
	})

	var out []common.RelationAssertion
	for i, m1 := range sorted {
		for _, m2 := range sorted[i+1:] {
			if m2.Start < m1.End {
				continue
			}
			if utf8.RuneCountInString(doc[m1.End:m2.Start]) > p.window {
				break
			}
			entry, trigger, ok := p.firstTrigger(doc, m1.End, m2.Start)
			if !ok {
				continue
			}
			if p.negatedAt(doc, trigger.Start, trigger.End) {
				p.log.Debug("dropped negated proximity assertion", "trigger", trigger.Text)
				continue
			}
			conf := entry.Structural - p.proximityPenalty
			if conf < 0 {
				conf = 0
			}
			first := text.SentenceAt(sentences, m1.Start, len(doc))
			last := text.SentenceAt(sentences, m2.Start, len(doc))
			out = append(out, common.RelationAssertion{
				Subject:    m1,
				Type:       entry.Type,
				Object:     m2,
				Trigger:    trigger.Text,
				Confidence: conf,
				Evidence:   sentenceText(doc, first.Start, last.End),
				Strategy:   common.StrategyProximity,
			})
		}
	}
	return out
}

func (p *Proposer) firstTrigger(doc string, start, end int) (Entry, text.Word, bool) {
	gap := text.Words(doc, start, end)
	if len(gap) == 0 {
		return Entry{}, text.Word{}, false
	}
	for _, entry := range p.lexicon.Entries() {
		for _, w := range gap {
			if _, ok := entry.Triggers[lower(w.Text)]; ok {
				return entry, w, true
			}
		}
	}
	return Entry{}, text.Word{}, false
}

// sentenceCooccurrence links mentions of different types that share a sentence.
func (p *Proposer) sentenceCooccurrence(doc string, sentences []text.Span, mentions []common.Mention) []common.RelationAssertion {
	var out []common.RelationAssertion
	for _, s := range sentences {
		var inside []common.Mention
		for _, m := range mentions {
			if s.Contains(m.Start, m.End) {
				inside = append(inside, m)
			}
		}
		for i, a := range inside {
			for _, b := range inside[i+1:] {
				if a.Type == b.Type {
					continue
				}
				out = append(out, common.RelationAssertion{
					Subject:    a,
					Type:       common.RelAssociatedWith,
					Object:     b,
					Trigger:    "co-occurrence",
					Confidence: cooccurrenceConfidence,
					Evidence:   doc[s.Start:s.End],
					Strategy:   common.StrategyCooccurence,
				})
			}
		}
	}
	return out
}
