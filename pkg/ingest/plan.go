package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/biograph/pkg/common"
	"github.com/OFFIS-RIT/biograph/pkg/store"
	"github.com/OFFIS-RIT/biograph/pkg/text"
)

const unlinkedPrefix = "unlinked:"

// UnlinkedRef is the node of an unresolved mention. Equal normalized text of one type
// maps to one node across publications.
func UnlinkedRef(t common.EntityType, literal string) common.NodeRef {
	return common.NodeRef{
		Label: common.LabelUnlinked,
		ID:    unlinkedPrefix + string(t) + ":" + text.Normalize(literal),
	}
}

// PublicationRef is the node provenance records point to.
func PublicationRef(id string) common.NodeRef {
	return common.NodeRef{Label: common.LabelPublication, ID: id}
}

// NodeRefOf returns the graph node a resolved mention is written to.
func NodeRefOf(rm common.ResolvedMention) common.NodeRef {
	if e := rm.Resolution.Entity; e != nil {
		return common.NodeRef{Label: string(e.Type), ID: e.CanonicalID}
	}
	return UnlinkedRef(rm.Type, rm.Text)
}

// ProvenanceID is a digest of the fields that make a provenance record distinct.
func ProvenanceID(factID, publicationID, section, sentence, extractor string) string {
	h := sha256.Sum256([]byte(strings.Join(
		[]string{factID, publicationID, section, sentence, extractor}, "\x1f",
	)))
	return hex.EncodeToString(h[:])
}

// Plan is the ordered write set of one publication.
type Plan struct {
	Publication common.GraphNode
	Nodes       []common.GraphNode
	Edges       []common.GraphEdge
	Provenance  []common.Provenance
}

type mentionKey struct {
	section    string
	start, end int
}

// BuildPlan turns the resolved mentions and assertions of pub into graph writes.
// Every assertion endpoint must be one of mentions. Self loops, which arise when both
// ends resolve to the same entity, are skipped.
func BuildPlan(
	pub common.Publication,
	mentions []common.ResolvedMention,
	assertions []common.RelationAssertion,
) (*Plan, error) {
	p := &Plan{Publication: publicationNode(pub)}

	sentences := map[string][]text.Span{}
	sectionText := map[string]string{}
	for _, s := range pub.Sections() {
		sectionText[s.Name] = s.Text
		sentences[s.Name] = text.Sentences(s.Text)
	}
	sentenceOf := func(section string, start, end int) string {
		doc, ok := sectionText[section]
		if !ok {
			return ""
		}
		span := text.SentenceAt(sentences[section], start, len(doc))
		if span.End <= span.Start {
			return ""
		}
		return doc[span.Start:span.End]
	}

	nodeIndex := map[common.NodeRef]int{}
	refs := map[mentionKey]common.NodeRef{}
	seenProv := map[string]struct{}{}
	addProv := func(pr common.Provenance) {
		if _, ok := seenProv[pr.ID]; ok {
			return
		}
		seenProv[pr.ID] = struct{}{}
		p.Provenance = append(p.Provenance, pr)
	}

	for _, rm := range mentions {
		ref := NodeRefOf(rm)
		refs[mentionKey{rm.Section, rm.Start, rm.End}] = ref

		i, ok := nodeIndex[ref]
		if !ok {
			i = len(p.Nodes)
			nodeIndex[ref] = i
			p.Nodes = append(p.Nodes, mentionNode(ref, rm))
		}
		p.Nodes[i].Aliases = store.DedupeStrings(append(p.Nodes[i].Aliases, rm.Text))

		sentence := sentenceOf(rm.Section, rm.Start, rm.End)
		if sentence == "" {
			sentence = rm.Text
		}
		addProv(common.Provenance{
			ID:            ProvenanceID(ref.FactID(), pub.ID, rm.Section, sentence, rm.Annotator),
			FactKind:      common.FactNode,
			FactID:        ref.FactID(),
			PublicationID: pub.ID,
			Sentence:      sentence,
			Section:       rm.Section,
			Confidence:    rm.Confidence,
			Extractor:     rm.Annotator,
		})
	}

	edgeIndex := map[common.EdgeKey]int{}
	for _, a := range assertions {
		from, ok := refs[mentionKey{a.Subject.Section, a.Subject.Start, a.Subject.End}]
		if !ok {
			return nil, fmt.Errorf("subject %q of %s has no resolution", a.Subject.Text, a.Type)
		}
		to, ok := refs[mentionKey{a.Object.Section, a.Object.Start, a.Object.End}]
		if !ok {
			return nil, fmt.Errorf("object %q of %s has no resolution", a.Object.Text, a.Type)
		}
		if from == to {
			continue
		}
		key := common.EdgeKey{Type: a.Type, From: from, To: to}
		edge := common.GraphEdge{
			Key:           key,
			Confidence:    a.Confidence,
			Trigger:       a.Trigger,
			Evidence:      a.Evidence,
			Strategy:      a.Strategy,
			PublicationID: pub.ID,
			Extra: map[string]string{
				"subject_text": a.Subject.Text,
				"object_text":  a.Object.Text,
			},
		}
		if i, ok := edgeIndex[key]; ok {
			if edge.Confidence > p.Edges[i].Confidence {
				p.Edges[i] = edge
			}
		} else {
			edgeIndex[key] = len(p.Edges)
			p.Edges = append(p.Edges, edge)
		}

		extractor := "relation:" + a.Strategy
		addProv(common.Provenance{
			ID:            ProvenanceID(key.FactID(), pub.ID, a.Subject.Section, a.Evidence, extractor),
			FactKind:      common.FactEdge,
			FactID:        key.FactID(),
			PublicationID: pub.ID,
			Sentence:      a.Evidence,
			Section:       a.Subject.Section,
			Confidence:    a.Confidence,
			Extractor:     extractor,
		})
	}
	return p, nil
}

func publicationNode(pub common.Publication) common.GraphNode {
	extra := make(map[string]string, len(pub.Metadata)+1)
	for k, v := range pub.Metadata {
		extra[k] = v
	}
	if !pub.PublishedDate.IsZero() {
		extra["published_date"] = pub.PublishedDate.UTC().Format(time.DateOnly)
	}
	return common.GraphNode{
		Ref:   PublicationRef(pub.ID),
		Name:  pub.Title,
		Extra: extra,
	}
}

func mentionNode(ref common.NodeRef, rm common.ResolvedMention) common.GraphNode {
	if e := rm.Resolution.Entity; e != nil {
		return common.GraphNode{
			Ref:        ref,
			Name:       e.CanonicalName,
			EntityType: e.Type,
			Aliases:    store.DedupeStrings(e.Aliases),
			Registry:   e.Registry,
		}
	}
	return common.GraphNode{
		Ref:        ref,
		Name:       rm.Text,
		EntityType: rm.Type,
	}
}
