package resolve

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/OFFIS-RIT/biograph/pkg/common"
)

const defaultOLSURL = "https://www.ebi.ac.uk/ols4"

// ontologies maps entity types onto the OBO ontologies that define them.
var ontologies = map[common.EntityType]string{
	common.EntityTissue:    "uberon",
	common.EntityCellType:  "cl",
	common.EntityDisease:   "mondo",
	common.EntityPhenotype: "hp",
}

// CuratedOntology returns the curated terms for one entity type.
func CuratedOntology(t common.EntityType) *Curated {
	term := func(id, name string, aliases ...string) Record {
		return Record{ID: id, Name: name, Aliases: aliases}
	}
	var recs []Record
	switch t {
	case common.EntityTissue:
		recs = []Record{
			term("UBERON:0001134", "skeletal muscle tissue", "skeletal muscle", "skeletal muscles"),
			term("UBERON:0001389", "soleus muscle", "soleus"),
			term("UBERON:0001388", "gastrocnemius", "gastrocnemius muscle"),
			term("UBERON:0002371", "bone marrow"),
			term("UBERON:0000981", "femur"),
			term("UBERON:0002481", "bone tissue", "bone"),
			term("UBERON:0000948", "heart"),
			term("UBERON:0002107", "liver"),
			term("UBERON:0000966", "retina"),
			term("UBERON:0000955", "brain"),
			term("UBERON:0002370", "thymus"),
			term("UBERON:0002106", "spleen"),
		}
	case common.EntityCellType:
		recs = []Record{
			term("CL:0000187", "muscle cell", "muscle cells", "myocyte", "myocytes"),
			term("CL:0000188", "cell of skeletal muscle", "skeletal muscle cell", "skeletal muscle cells"),
			term("CL:0000746", "cardiac muscle cell", "cardiomyocyte", "cardiomyocytes"),
			term("CL:0000062", "osteoblast", "osteoblasts"),
			term("CL:0000092", "osteoclast", "osteoclasts"),
			term("CL:0001035", "bone cell", "bone cells"),
			term("CL:0000738", "leukocyte", "immune cell", "immune cells"),
			term("CL:0000084", "T cell", "t cells", "t lymphocytes"),
			term("CL:0000236", "B cell", "b cells", "b lymphocytes"),
			term("CL:0000235", "macrophage", "macrophages"),
			term("CL:0000540", "neuron", "neurons"),
			term("CL:0000115", "endothelial cell", "endothelial cells"),
			term("CL:0000037", "hematopoietic stem cell", "hematopoietic stem cells"),
		}
	case common.EntityDisease:
		recs = []Record{
			term("MONDO:0005298", "osteoporosis"),
			term("MONDO:0005267", "heart disease", "cardiovascular disease"),
			term("MONDO:0005046", "immune system disease", "immune dysfunction"),
			term("MONDO:0004992", "cancer"),
			term("MONDO:0006639", "radiation sickness", "acute radiation syndrome"),
		}
	case common.EntityPhenotype:
		recs = []Record{
			term("HP:0003202", "Skeletal muscle atrophy", "muscle atrophy", "muscle wasting"),
			term("HP:0000938", "Osteopenia", "bone loss"),
			term("HP:0000855", "Insulin resistance"),
			term("HP:0012649", "Increased inflammatory response", "inflammation"),
		}
	}
	return NewCurated("curated-"+strings.ToLower(string(t)), recs)
}

// OLS resolves ontology terms with the EBI Ontology Lookup Service, exact matches only.
type OLS struct {
	baseURL  string
	client   *http.Client
	ontology string
}

// NewOLS creates an OLS registry for the ontology that defines t. It returns nil when no
// ontology covers t.
func NewOLS(baseURL string, client *http.Client, t common.EntityType) *OLS {
	ont, ok := ontologies[t]
	if !ok {
		return nil
	}
	if baseURL == "" {
		baseURL = defaultOLSURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &OLS{baseURL: strings.TrimRight(baseURL, "/"), client: client, ontology: ont}
}

func (o *OLS) Name() string { return "ols:" + o.ontology }

type olsResponse struct {
	Response struct {
		Docs []struct {
			OboID   string     `json:"obo_id"`
			Label   string     `json:"label"`
			Synonym stringList `json:"synonym"`
		} `json:"docs"`
	} `json:"response"`
}

func (o *OLS) Lookup(ctx context.Context, q Query) ([]Record, error) {
	term := strings.TrimSpace(q.Text)
	if term == "" {
		return nil, nil
	}
	v := url.Values{}
	v.Set("q", term)
	v.Set("ontology", o.ontology)
	v.Set("exact", "true")
	v.Set("rows", "5")
	v.Set("fieldList", "obo_id,label,synonym")

	req, err := newGet(ctx, o.baseURL+"/api/search?"+v.Encode())
	if err != nil {
		return nil, err
	}
	var resp olsResponse
	if err := getJSON(o.client, req, &resp); err != nil {
		if errors.Is(err, errNotFound) {
			return nil, nil
		}
		return nil, err
	}
	recs := make([]Record, 0, len(resp.Response.Docs))
	for _, d := range resp.Response.Docs {
		if d.OboID == "" {
			continue
		}
		recs = append(recs, Record{ID: d.OboID, Name: d.Label, Aliases: d.Synonym, Registry: o.Name()})
	}
	return recs, nil
}
