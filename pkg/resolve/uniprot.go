package resolve

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
)

const (
	defaultUniProtURL = "https://rest.uniprot.org"
	uniprotPrefix     = "UNIPROT:"
)

// UniProt resolves protein names and gene names through the UniProtKB REST API.
type UniProt struct {
	baseURL string
	client  *http.Client
}

// NewUniProt creates a UniProt registry. An empty baseURL uses the public service.
func NewUniProt(baseURL string, client *http.Client) *UniProt {
	if baseURL == "" {
		baseURL = defaultUniProtURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &UniProt{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (u *UniProt) Name() string { return "uniprot" }

type uniprotValue struct {
	Value string `json:"value"`
}

type uniprotEntry struct {
	PrimaryAccession   string `json:"primaryAccession"`
	ProteinDescription struct {
		RecommendedName struct {
			FullName   uniprotValue   `json:"fullName"`
			ShortNames []uniprotValue `json:"shortNames"`
		} `json:"recommendedName"`
	} `json:"proteinDescription"`
	Genes []struct {
		GeneName uniprotValue   `json:"geneName"`
		Synonyms []uniprotValue `json:"synonyms"`
	} `json:"genes"`
}

type uniprotResponse struct {
	Results []uniprotEntry `json:"results"`
}

func (u *UniProt) Lookup(ctx context.Context, q Query) ([]Record, error) {
	term := strings.ReplaceAll(strings.TrimSpace(q.Text), `"`, "")
	if term == "" {
		return nil, nil
	}
	query := `(gene_exact:"` + term + `" OR protein_name:"` + term + `") AND reviewed:true`
	if q.Organism != "" {
		query += " AND organism_id:" + q.Organism
	}
	v := url.Values{}
	v.Set("query", query)
	v.Set("fields", "accession,protein_name,gene_names")
	v.Set("format", "json")
	v.Set("size", "5")

	req, err := newGet(ctx, u.baseURL+"/uniprotkb/search?"+v.Encode())
	if err != nil {
		return nil, err
	}
	var resp uniprotResponse
	if err := getJSON(u.client, req, &resp); err != nil {
		if errors.Is(err, errNotFound) {
			return nil, nil
		}
		return nil, err
	}

	recs := make([]Record, 0, len(resp.Results))
	for _, e := range resp.Results {
		if e.PrimaryAccession == "" {
			continue
		}
		rn := e.ProteinDescription.RecommendedName
		name := rn.FullName.Value
		var aliases []string
		for _, s := range rn.ShortNames {
			aliases = append(aliases, s.Value)
		}
		for _, g := range e.Genes {
			if g.GeneName.Value != "" {
				aliases = append(aliases, g.GeneName.Value)
			}
			for _, s := range g.Synonyms {
				aliases = append(aliases, s.Value)
			}
		}
		if name == "" && len(aliases) > 0 {
			name, aliases = aliases[0], aliases[1:]
		}
		recs = append(recs, Record{
			ID:       uniprotPrefix + e.PrimaryAccession,
			Name:     name,
			Aliases:  aliases,
			Registry: u.Name(),
		})
	}
	return recs, nil
}
