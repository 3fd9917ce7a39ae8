package resolve

import (
	"net/http"

	"github.com/OFFIS-RIT/biograph/pkg/common"
)

// Endpoints overrides registry base URLs. Empty fields use the public services.
type Endpoints struct {
	MyGene     string
	UniProt    string
	EUtils     string
	EUtilsKey  string
	OLS        string
	PubChem    string
	HTTPClient *http.Client
	// Offline restricts resolution to the curated tables.
	Offline bool
}

// DefaultRegistries wires one registry per entity category. Curated tables are always
// consulted before the remote service of the same category.
func DefaultRegistries(e Endpoints) Registries {
	c := e.HTTPClient
	r := Registries{
		common.EntityStressor: CuratedStressors(),
		common.EntityOrganism: Chain{CuratedTaxonomy()},
	}
	for t := range ontologies {
		r[t] = Chain{CuratedOntology(t)}
	}
	if e.Offline {
		return r
	}

	r[common.EntityGene] = NewMyGene(e.MyGene, c)
	r[common.EntityProtein] = NewUniProt(e.UniProt, c)
	r[common.EntityMetabolite] = NewPubChem(e.PubChem, c)
	r[common.EntityOrganism] = Chain{CuratedTaxonomy(), NewNCBITaxonomy(e.EUtils, c, e.EUtilsKey)}
	for t := range ontologies {
		r[t] = Chain{CuratedOntology(t), NewOLS(e.OLS, c, t)}
	}
	return r
}
