package resolve

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
)

const (
	defaultEUtilsURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"
	taxIDPrefix      = "TAXID:"
)

// CuratedTaxonomy knows the model organisms that dominate the literature.
func CuratedTaxonomy() *Curated {
	org := func(id, name string, aliases ...string) Record {
		return Record{ID: taxIDPrefix + id, Name: name, Aliases: aliases}
	}
	return NewCurated("taxonomy", []Record{
		org("9606", "Homo sapiens", "human", "humans", "astronaut", "astronauts"),
		org("10090", "Mus musculus", "mouse", "mice"),
		org("10116", "Rattus norvegicus", "rat", "rats"),
		org("3702", "Arabidopsis thaliana", "arabidopsis"),
		org("7227", "Drosophila melanogaster", "drosophila", "fruit fly", "fruit flies"),
		org("6239", "Caenorhabditis elegans", "c. elegans", "nematode"),
		org("562", "Escherichia coli", "e. coli"),
		org("7955", "Danio rerio", "zebrafish"),
		org("4932", "Saccharomyces cerevisiae", "yeast", "s. cerevisiae"),
	})
}

// NCBITaxonomy resolves organism names with E-utilities esearch and esummary.
type NCBITaxonomy struct {
	baseURL string
	client  *http.Client
	apiKey  string
}

// NewNCBITaxonomy creates the remote taxonomy registry. apiKey may be empty.
func NewNCBITaxonomy(baseURL string, client *http.Client, apiKey string) *NCBITaxonomy {
	if baseURL == "" {
		baseURL = defaultEUtilsURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &NCBITaxonomy{baseURL: strings.TrimRight(baseURL, "/"), client: client, apiKey: apiKey}
}

func (n *NCBITaxonomy) Name() string { return "ncbi-taxonomy" }

type esearchResponse struct {
	Result struct {
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
}

type esummaryResponse struct {
	Result map[string]any `json:"result"`
}

func (n *NCBITaxonomy) values(extra url.Values) url.Values {
	v := url.Values{}
	v.Set("db", "taxonomy")
	v.Set("retmode", "json")
	if n.apiKey != "" {
		v.Set("api_key", n.apiKey)
	}
	for k, vals := range extra {
		v[k] = vals
	}
	return v
}

func (n *NCBITaxonomy) Lookup(ctx context.Context, q Query) ([]Record, error) {
	term := strings.TrimSpace(q.Text)
	if term == "" {
		return nil, nil
	}
	req, err := newGet(ctx, n.baseURL+"/esearch.fcgi?"+n.values(url.Values{
		"term":   {term + "[All Names]"},
		"retmax": {"5"},
	}).Encode())
	if err != nil {
		return nil, err
	}
	var search esearchResponse
	if err := getJSON(n.client, req, &search); err != nil {
		if errors.Is(err, errNotFound) {
			return nil, nil
		}
		return nil, err
	}
	ids := search.Result.IDList
	if len(ids) == 0 {
		return nil, nil
	}

	names := map[string]string{}
	req, err = newGet(ctx, n.baseURL+"/esummary.fcgi?"+n.values(url.Values{
		"id": {strings.Join(ids, ",")},
	}).Encode())
	if err != nil {
		return nil, err
	}
	var summary esummaryResponse
	if err := getJSON(n.client, req, &summary); err == nil {
		for _, id := range ids {
			if doc, ok := summary.Result[id].(map[string]any); ok {
				if s, ok := doc["scientificname"].(string); ok {
					names[id] = s
				}
			}
		}
	} else if !errors.Is(err, errNotFound) {
		return nil, err
	}

	recs := make([]Record, 0, len(ids))
	for _, id := range ids {
		name := names[id]
		if name == "" {
			name = term
		}
		recs = append(recs, Record{ID: taxIDPrefix + id, Name: name, Aliases: []string{term}, Registry: n.Name()})
	}
	return recs, nil
}
