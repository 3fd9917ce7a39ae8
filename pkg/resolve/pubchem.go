package resolve

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	defaultPubChemURL = "https://pubchem.ncbi.nlm.nih.gov/rest/pug"
	pubchemPrefix     = "PUBCHEM:"
)

// PubChem resolves metabolite and compound names to PubChem compound ids.
type PubChem struct {
	baseURL string
	client  *http.Client
}

// NewPubChem creates a PubChem registry. An empty baseURL uses the public service.
func NewPubChem(baseURL string, client *http.Client) *PubChem {
	if baseURL == "" {
		baseURL = defaultPubChemURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &PubChem{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (p *PubChem) Name() string { return "pubchem" }

type pubchemResponse struct {
	IdentifierList struct {
		CID []int64 `json:"CID"`
	} `json:"IdentifierList"`
}

func (p *PubChem) Lookup(ctx context.Context, q Query) ([]Record, error) {
	term := strings.TrimSpace(q.Text)
	if term == "" {
		return nil, nil
	}
	req, err := newGet(ctx, p.baseURL+"/compound/name/"+url.PathEscape(term)+"/cids/JSON")
	if err != nil {
		return nil, err
	}
	var resp pubchemResponse
	if err := getJSON(p.client, req, &resp); err != nil {
		if errors.Is(err, errNotFound) {
			return nil, nil
		}
		return nil, err
	}
	recs := make([]Record, 0, len(resp.IdentifierList.CID))
	for _, cid := range resp.IdentifierList.CID {
		recs = append(recs, Record{
			ID:       pubchemPrefix + strconv.FormatInt(cid, 10),
			Name:     term,
			Registry: p.Name(),
		})
	}
	return recs, nil
}
