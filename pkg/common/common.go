package common

import (
	"strings"
	"time"
)

// EntityType is the biological category a mention or canonical entity belongs to.
type EntityType string

const (
	EntityGene         EntityType = "Gene"
	EntityProtein      EntityType = "Protein"
	EntityOrganism     EntityType = "Organism"
	EntityTissue       EntityType = "Tissue"
	EntityCellType     EntityType = "CellType"
	EntityDisease      EntityType = "Disease"
	EntityPhenotype    EntityType = "Phenotype"
	EntityStressor     EntityType = "Stressor"
	EntityMetabolite   EntityType = "Metabolite"
	EntityIntervention EntityType = "Intervention"
)

// EntityTypes lists every type the annotators may emit.
var EntityTypes = []EntityType{
	EntityGene, EntityProtein, EntityOrganism, EntityTissue, EntityCellType,
	EntityDisease, EntityPhenotype, EntityStressor, EntityMetabolite, EntityIntervention,
}

// ParseEntityType maps loose annotator labels onto the closed entity type set.
// Model annotators use labels such as PROTEIN, CHEMICAL or SPECIES.
func ParseEntityType(label string) (EntityType, bool) {
	switch strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(label), "_", "")) {
	case "GENE":
		return EntityGene, true
	case "PROTEIN":
		return EntityProtein, true
	case "ORGANISM", "SPECIES", "TAXON":
		return EntityOrganism, true
	case "TISSUE", "ANATOMY", "ORGAN":
		return EntityTissue, true
	case "CELLTYPE", "CELL", "CELLLINE":
		return EntityCellType, true
	case "DISEASE":
		return EntityDisease, true
	case "PHENOTYPE":
		return EntityPhenotype, true
	case "STRESSOR":
		return EntityStressor, true
	case "METABOLITE", "CHEMICAL", "COMPOUND", "DRUG":
		return EntityMetabolite, true
	case "INTERVENTION", "COUNTERMEASURE":
		return EntityIntervention, true
	}
	return "", false
}

// Publication is an immutable source record supplied by the acquisition side.
// The pipeline only reads it.
type Publication struct {
	ID            string            `json:"id"`
	Title         string            `json:"title"`
	Abstract      string            `json:"abstract"`
	FullText      string            `json:"full_text,omitempty"`
	PublishedDate time.Time         `json:"published_date"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	UpdatedAt     time.Time         `json:"updated_at,omitempty"`
}

// Section is a named slice of a publication. Mention offsets are relative to Text.
type Section struct {
	Name string
	Text string
}

const (
	SectionTitle    = "title"
	SectionAbstract = "abstract"
	SectionBody     = "body"
)

// Sections returns the non-empty text sections in reading order.
func (p Publication) Sections() []Section {
	var out []Section
	for _, s := range []Section{
		{Name: SectionTitle, Text: p.Title},
		{Name: SectionAbstract, Text: p.Abstract},
		{Name: SectionBody, Text: p.FullText},
	} {
		if strings.TrimSpace(s.Text) != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate reports a MalformedRecordError when required fields are missing.
// A publication needs an id, a title and at least one of abstract or full text.
func (p Publication) Validate() error {
	switch {
	case strings.TrimSpace(p.ID) == "":
		return &MalformedRecordError{PublicationID: p.ID, Field: "id"}
	case strings.TrimSpace(p.Title) == "":
		return &MalformedRecordError{PublicationID: p.ID, Field: "title"}
	case strings.TrimSpace(p.Abstract) == "" && strings.TrimSpace(p.FullText) == "":
		return &MalformedRecordError{PublicationID: p.ID, Field: "abstract"}
	}
	return nil
}

// Mention is a candidate entity occurrence. Start and End are half-open byte offsets into
// the UTF-8 text of Section. Character offsets from external annotators are converted when
// their output is collected.
type Mention struct {
	Type       EntityType `json:"type"`
	Text       string     `json:"text"`
	Start      int        `json:"start"`
	End        int        `json:"end"`
	Confidence float64    `json:"confidence"`
	Annotator  string     `json:"annotator"`
	// CanonicalHint is a preferred name supplied by rule based annotators.
	CanonicalHint string `json:"canonical_hint,omitempty"`
	Section       string `json:"section,omitempty"`
}

// Overlaps reports whether the spans [Start,End) of m and o intersect.
func (m Mention) Overlaps(o Mention) bool {
	return m.Start < o.End && o.Start < m.End
}

// CanonicalEntity is a registry identified concept. Identity is (Type, CanonicalID).
type CanonicalEntity struct {
	Type          EntityType `json:"entity_type"`
	CanonicalID   string     `json:"canonical_id"`
	CanonicalName string     `json:"canonical_name"`
	Aliases       []string   `json:"aliases,omitempty"`
	Registry      string     `json:"registry,omitempty"`
}

// EntityKey identifies a canonical entity.
type EntityKey struct {
	Type EntityType
	ID   string
}

func (e *CanonicalEntity) Key() EntityKey {
	return EntityKey{Type: e.Type, ID: e.CanonicalID}
}

// Resolution is the outcome of resolving one mention. Entity is nil when unresolved.
// A miss is a value, never an error.
type Resolution struct {
	Entity       *CanonicalEntity
	OriginalText string
}

// Resolved wraps a canonical entity.
func Resolved(e *CanonicalEntity, text string) Resolution {
	return Resolution{Entity: e, OriginalText: text}
}

// Unresolved records a mention the registries could not identify.
func Unresolved(text string) Resolution {
	return Resolution{OriginalText: text}
}

func (r Resolution) IsResolved() bool {
	return r.Entity != nil
}

// ResolvedMention pairs a deduplicated mention with its resolution.
type ResolvedMention struct {
	Mention
	Resolution Resolution
}

// RelationType is the closed taxonomy of relationship assertions.
type RelationType string

const (
	RelUpregulates    RelationType = "UPREGULATES"
	RelDownregulates  RelationType = "DOWNREGULATES"
	RelCauses         RelationType = "CAUSES"
	RelPrevents       RelationType = "PREVENTS"
	RelInteractsWith  RelationType = "INTERACTS_WITH"
	RelParticipatesIn RelationType = "PARTICIPATES_IN"
	RelLocatedIn      RelationType = "LOCATED_IN"
	RelAssociatedWith RelationType = "ASSOCIATED_WITH"
)

// RelationTypes lists the taxonomy.
var RelationTypes = []RelationType{
	RelUpregulates, RelDownregulates, RelCauses, RelPrevents,
	RelInteractsWith, RelParticipatesIn, RelLocatedIn, RelAssociatedWith,
}

// Valid reports whether r belongs to the taxonomy.
func (r RelationType) Valid() bool {
	for _, t := range RelationTypes {
		if t == r {
			return true
		}
	}
	return false
}

const (
	StrategyStructural  = "structural"
	StrategyProximity   = "proximity"
	StrategyCooccurence = "cooccurrence"
)

// RelationAssertion is a typed relation proposed between two mentions of one document.
type RelationAssertion struct {
	Subject    Mention      `json:"subject"`
	Type       RelationType `json:"relation_type"`
	Object     Mention      `json:"object"`
	Trigger    string       `json:"trigger_text"`
	Confidence float64      `json:"confidence"`
	Evidence   string       `json:"evidence_sentence"`
	Strategy   string       `json:"strategy"`
}

// Node labels that are not entity types.
const (
	LabelUnlinked    = "Unlinked"
	LabelPublication = "Publication"
)

// NodeRef identifies a graph node by (label, id).
type NodeRef struct {
	Label string `json:"label"`
	ID    string `json:"id"`
}

// FactID is the stable identifier used by provenance records.
func (r NodeRef) FactID() string {
	return r.Label + ":" + r.ID
}

// GraphNode is the persisted form of a canonical entity, an unlinked mention or a publication.
// Extra is the only open ended property map.
type GraphNode struct {
	Ref        NodeRef           `json:"ref"`
	Name       string            `json:"name"`
	EntityType EntityType        `json:"entity_type,omitempty"`
	Aliases    []string          `json:"aliases,omitempty"`
	Registry   string            `json:"registry,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// EdgeKey is the identity triple of a graph edge.
type EdgeKey struct {
	Type RelationType `json:"relation_type"`
	From NodeRef      `json:"from"`
	To   NodeRef      `json:"to"`
}

// FactID is the stable identifier used by provenance records.
func (k EdgeKey) FactID() string {
	return string(k.Type) + "|" + k.From.FactID() + "|" + k.To.FactID()
}

// GraphEdge is a persisted relation. Its properties reflect the most recent ingestion only.
type GraphEdge struct {
	Key           EdgeKey           `json:"key"`
	Confidence    float64           `json:"confidence"`
	Trigger       string            `json:"trigger"`
	Evidence      string            `json:"evidence"`
	Strategy      string            `json:"strategy"`
	PublicationID string            `json:"publication_id"`
	Extra         map[string]string `json:"extra,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// FactKind distinguishes node and edge provenance.
type FactKind string

const (
	FactNode FactKind = "node"
	FactEdge FactKind = "edge"
)

// Provenance links one graph fact to the publication sentence that produced it.
// Records are only ever added.
type Provenance struct {
	ID            string    `json:"id"`
	FactKind      FactKind  `json:"fact_kind"`
	FactID        string    `json:"fact_id"`
	PublicationID string    `json:"publication_id"`
	Sentence      string    `json:"sentence"`
	Section       string    `json:"section"`
	Confidence    float64   `json:"confidence"`
	Extractor     string    `json:"extractor"`
	CreatedAt     time.Time `json:"created_at"`
}

// GraphStats summarizes store contents.
type GraphStats struct {
	NodesByLabel map[string]int64 `json:"nodes_by_label"`
	EdgesByType  map[string]int64 `json:"edges_by_type"`
	Provenance   int64            `json:"provenance"`
}

// Nodes returns the total node count.
func (s GraphStats) Nodes() int64 {
	var n int64
	for _, c := range s.NodesByLabel {
		n += c
	}
	return n
}

// Edges returns the total edge count.
func (s GraphStats) Edges() int64 {
	var n int64
	for _, c := range s.EdgesByType {
		n += c
	}
	return n
}
