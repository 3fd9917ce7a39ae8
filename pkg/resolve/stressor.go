package resolve

import (
	"github.com/OFFIS-RIT/biograph/pkg/text"
)

const stressorPrefix = "STRESSOR:"

// CuratedStressors lists the environmental stressors of spaceflight research.
func CuratedStressors() *Curated {
	s := func(name string, aliases ...string) Record {
		return Record{ID: stressorPrefix + text.Slug(name), Name: name, Aliases: aliases}
	}
	return NewCurated("stressors", []Record{
		s("Microgravity", "micro-gravity", "weightlessness", "simulated weightlessness", "simulated microgravity"),
		s("Spaceflight", "space flight", "space flights", "spaceflights", "space mission", "space missions"),
		s("Space Radiation", "cosmic radiation", "ionizing radiation", "galactic cosmic rays", "heavy ion irradiation", "heavy-ion irradiation"),
		s("Hypergravity", "hyper-gravity"),
		s("Hindlimb Unloading", "hindlimb suspension", "hind-limb unloading", "hind-limb suspension"),
		s("Bed Rest", "head-down bed rest", "head-down tilt bed rest"),
		s("Isolation", "social isolation", "prolonged isolation", "isolation and confinement"),
	})
}
