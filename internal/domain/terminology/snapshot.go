package terminology

import (
	"fmt"
	"time"

	"github.com/ayushbridge/bridge/internal/domain/codesystem"
	"github.com/ayushbridge/bridge/internal/domain/conceptmap"
	"github.com/ayushbridge/bridge/internal/domain/valueset"
)

// Snapshot is one immutable generation of loaded terminology. Every field is
// read-only after Build returns.
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Sources  []string

	Concepts   *codesystem.Store
	Maps       *conceptmap.Store
	ValueSets  *valueset.Store
	Translator *conceptmap.Translator
	Expander   *valueset.Expander
}

// Build indexes a merged bundle into a snapshot. Any invalid item fails the
// whole build.
func Build(version int64, b *Bundle, opts conceptmap.Options) (*Snapshot, error) {
	cb := codesystem.NewBuilder()
	for _, cs := range b.Systems {
		if err := cb.AddSystem(cs); err != nil {
			return nil, err
		}
	}
	for _, c := range b.Concepts {
		if err := cb.AddConcept(c); err != nil {
			return nil, err
		}
	}
	concepts := cb.Build()

	mb := conceptmap.NewBuilder().ResolveSystems(func(ref string) string {
		if cs, err := concepts.System(ref); err == nil {
			return cs.URL
		}
		return ref
	})
	for _, cm := range b.Maps {
		if err := mb.Add(cm); err != nil {
			return nil, err
		}
	}
	maps := mb.Build()

	vb := valueset.NewBuilder()
	for _, def := range b.ValueSets {
		if err := vb.Add(def); err != nil {
			return nil, err
		}
	}
	for _, cs := range concepts.Systems() {
		vb.AddImplicit(cs)
	}
	sets := vb.Build()

	return &Snapshot{
		Version:    version,
		LoadedAt:   time.Now().UTC(),
		Concepts:   concepts,
		Maps:       maps,
		ValueSets:  sets,
		Translator: conceptmap.NewTranslator(concepts, maps, opts),
		Expander:   valueset.NewExpander(concepts, sets, version),
	}, nil
}

// Export returns the snapshot content as a bundle, leaving out implicit
// ValueSets, so it can be persisted and rebuilt.
func (s *Snapshot) Export() *Bundle {
	systems, concepts := s.Concepts.Export()
	b := &Bundle{Systems: systems, Concepts: concepts, ValueSets: s.ValueSets.Explicit()}
	for _, cm := range s.Maps.Maps() {
		b.Maps = append(b.Maps, *cm)
	}
	return b
}

// SystemSummary describes one loaded coding system.
type SystemSummary struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	Version  string `json:"version,omitempty"`
	Concepts int    `json:"concepts"`
}

// Summary is the administrative view of a snapshot.
type Summary struct {
	Version   int64           `json:"version"`
	LoadedAt  time.Time       `json:"loaded_at"`
	Sources   []string        `json:"sources"`
	Systems   []SystemSummary `json:"systems"`
	Concepts  int             `json:"concepts"`
	Maps      int             `json:"concept_maps"`
	Mappings  int             `json:"mappings"`
	ValueSets int             `json:"value_sets"`
}

func (s *Snapshot) Summary() Summary {
	sum := Summary{
		Version:   s.Version,
		LoadedAt:  s.LoadedAt,
		Sources:   s.Sources,
		Concepts:  s.Concepts.Count(),
		Maps:      len(s.Maps.Maps()),
		Mappings:  s.Maps.Count(),
		ValueSets: s.ValueSets.Count(),
	}
	for _, cs := range s.Concepts.Systems() {
		sum.Systems = append(sum.Systems, SystemSummary{
			ID:       cs.ID,
			URL:      cs.URL,
			Version:  cs.Version,
			Concepts: s.Concepts.CountIn(cs.Canonical()),
		})
	}
	return sum
}

func (s Summary) String() string {
	return fmt.Sprintf("snapshot v%d: %d systems, %d concepts, %d maps (%d mappings), %d value sets",
		s.Version, len(s.Systems), s.Concepts, s.Maps, s.Mappings, s.ValueSets)
}
