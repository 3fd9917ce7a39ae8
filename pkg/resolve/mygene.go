package resolve

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
)

const (
	defaultMyGeneURL   = "https://mygene.info"
	defaultGeneSpecies = "human,mouse,rat"
	myGeneFields       = "symbol,name,entrezgene,alias,taxid"
	entrezPrefix       = "ENTREZ:"
)

// MyGene resolves gene symbols and aliases through MyGene.info.
type MyGene struct {
	baseURL string
	client  *http.Client
	species string
}

// NewMyGene creates a MyGene.info registry. An empty baseURL uses the public service.
func NewMyGene(baseURL string, client *http.Client) *MyGene {
	if baseURL == "" {
		baseURL = defaultMyGeneURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &MyGene{baseURL: strings.TrimRight(baseURL, "/"), client: client, species: defaultGeneSpecies}
}

func (m *MyGene) Name() string { return "mygene" }

type myGeneHit struct {
	EntrezGene flexID     `json:"entrezgene"`
	Symbol     string     `json:"symbol"`
	Name       string     `json:"name"`
	Alias      stringList `json:"alias"`
	TaxID      flexID     `json:"taxid"`
}

type myGeneResponse struct {
	Hits []myGeneHit `json:"hits"`
}

func (m *MyGene) Lookup(ctx context.Context, q Query) ([]Record, error) {
	term := strings.TrimSpace(q.Text)
	if term == "" {
		return nil, nil
	}
	species := m.species
	if q.Organism != "" {
		species = q.Organism
	}
	v := url.Values{}
	v.Set("q", `symbol:"`+term+`" OR alias:"`+term+`"`)
	v.Set("fields", myGeneFields)
	v.Set("species", species)
	v.Set("size", "10")

	req, err := newGet(ctx, m.baseURL+"/v3/query?"+v.Encode())
	if err != nil {
		return nil, err
	}
	var resp myGeneResponse
	if err := getJSON(m.client, req, &resp); err != nil {
		if errors.Is(err, errNotFound) {
			return nil, nil
		}
		return nil, err
	}

	recs := make([]Record, 0, len(resp.Hits))
	for _, h := range resp.Hits {
		if h.EntrezGene == "" || h.Symbol == "" {
			continue
		}
		aliases := append([]string(nil), h.Alias...)
		if h.Name != "" {
			aliases = append(aliases, h.Name)
		}
		recs = append(recs, Record{
			ID:       entrezPrefix + string(h.EntrezGene),
			Name:     h.Symbol,
			Aliases:  aliases,
			Registry: m.Name(),
		})
	}
	return recs, nil
}
