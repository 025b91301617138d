package conceptmap

import (
	"fmt"
	"sort"

	"github.com/ayushbridge/bridge/internal/platform/fhir"
)

type mapIndex struct {
	cm       *ConceptMap
	forward  map[string][]*MappingEntry // source system|code
	backward map[string][]*MappingEntry // target system|code
}

// Store indexes ConceptMaps for translation. It is immutable once built and
// safe for concurrent readers.
type Store struct {
	maps    []*mapIndex
	byID    map[string]*mapIndex
	byURL   map[string]*mapIndex
	entries int
}

// Builder validates and accumulates ConceptMaps. Not safe for concurrent use.
type Builder struct {
	maps    []*mapIndex
	byID    map[string]*mapIndex
	byURL   map[string]*mapIndex
	resolve func(ref string) string
}

func NewBuilder() *Builder {
	return &Builder{
		byID:  make(map[string]*mapIndex),
		byURL: make(map[string]*mapIndex),
	}
}

// ResolveSystems sets the function that rewrites system references (short
// ids, versioned canonicals) to the URL concepts are indexed under. It must
// be set before the first Add.
func (b *Builder) ResolveSystems(fn func(ref string) string) *Builder {
	b.resolve = fn
	return b
}

func (b *Builder) system(ref string) string {
	if b.resolve == nil || ref == "" {
		return ref
	}
	return b.resolve(ref)
}

func entryKey(system, code string) string {
	return system + "|" + code
}

// Add copies cm into the builder. Entries without explicit systems inherit
// the map's source and target system.
func (b *Builder) Add(cm ConceptMap) error {
	if cm.URL == "" {
		return fmt.Errorf("concept map %q: url is required", cm.ID)
	}
	if cm.ID == "" {
		cm.ID = cm.URL
	}
	if _, ok := b.byID[cm.ID]; ok {
		return fmt.Errorf("concept map id %s declared twice", cm.ID)
	}
	if _, ok := b.byURL[cm.URL]; ok {
		return fmt.Errorf("concept map url %s declared twice", cm.URL)
	}

	cm.SourceSystem = b.system(cm.SourceSystem)
	cm.TargetSystem = b.system(cm.TargetSystem)
	stored := cm
	stored.Entries = make([]MappingEntry, 0, len(cm.Entries))
	idx := &mapIndex{
		cm:       &stored,
		forward:  make(map[string][]*MappingEntry),
		backward: make(map[string][]*MappingEntry),
	}
	seen := make(map[string]bool, len(cm.Entries))
	for i, e := range cm.Entries {
		e.SourceSystem = b.system(e.SourceSystem)
		e.TargetSystem = b.system(e.TargetSystem)
		if e.SourceSystem == "" {
			e.SourceSystem = cm.SourceSystem
		}
		if e.TargetSystem == "" {
			e.TargetSystem = cm.TargetSystem
		}
		if e.SourceSystem == "" || e.SourceCode == "" || e.TargetSystem == "" || e.TargetCode == "" {
			return fmt.Errorf("concept map %s entry %d: source and target system and code are required", cm.URL, i)
		}
		if !e.Equivalence.Valid() {
			return fmt.Errorf("concept map %s entry %d: unknown equivalence %q", cm.URL, i, e.Equivalence)
		}
		if e.Confidence != nil {
			if !(*e.Confidence >= 0 && *e.Confidence <= 1) {
				return fmt.Errorf("concept map %s entry %d: confidence %v outside [0,1]", cm.URL, i, *e.Confidence)
			}
			v := *e.Confidence
			e.Confidence = &v
		}
		tuple := entryKey(e.SourceSystem, e.SourceCode) + "->" + entryKey(e.TargetSystem, e.TargetCode)
		if seen[tuple] {
			return fmt.Errorf("concept map %s: duplicate entry %s", cm.URL, tuple)
		}
		seen[tuple] = true
		stored.Entries = append(stored.Entries, e)
	}
	for i := range stored.Entries {
		e := &stored.Entries[i]
		fk := entryKey(e.SourceSystem, e.SourceCode)
		bk := entryKey(e.TargetSystem, e.TargetCode)
		idx.forward[fk] = append(idx.forward[fk], e)
		idx.backward[bk] = append(idx.backward[bk], e)
	}

	b.maps = append(b.maps, idx)
	b.byID[stored.ID] = idx
	b.byURL[stored.URL] = idx
	return nil
}

func (b *Builder) Build() *Store {
	s := &Store{maps: b.maps, byID: b.byID, byURL: b.byURL}
	for _, idx := range b.maps {
		s.entries += len(idx.cm.Entries)
	}
	return s
}

func (s *Store) resolve(ref string) (*mapIndex, error) {
	if idx, ok := s.byID[ref]; ok {
		return idx, nil
	}
	if idx, ok := s.byURL[ref]; ok {
		return idx, nil
	}
	return nil, fmt.Errorf("ConceptMap %s: %w", ref, fhir.ErrNotFound)
}

// Get returns a ConceptMap by id or canonical URL.
func (s *Store) Get(ref string) (*ConceptMap, error) {
	idx, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	return idx.cm, nil
}

// Maps returns every ConceptMap in load order.
func (s *Store) Maps() []*ConceptMap {
	out := make([]*ConceptMap, len(s.maps))
	for i, idx := range s.maps {
		out[i] = idx.cm
	}
	return out
}

// Count returns the number of mapping entries across all maps.
func (s *Store) Count() int {
	return s.entries
}

// scope returns the maps a request searches: the referenced one, or all.
func (s *Store) scope(ref string) ([]*mapIndex, error) {
	if ref == "" {
		return s.maps, nil
	}
	idx, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	return []*mapIndex{idx}, nil
}

// Forward returns the entries whose source is (system, code), across every
// map when mapRef is empty.
func (s *Store) Forward(mapRef, system, code string) ([]*MappingEntry, error) {
	maps, err := s.scope(mapRef)
	if err != nil {
		return nil, err
	}
	var out []*MappingEntry
	for _, idx := range maps {
		out = append(out, idx.forward[entryKey(system, code)]...)
	}
	return out, nil
}

// Stats summarizes the loaded mappings.
func (s *Store) Stats() Stats {
	st := Stats{
		Maps:           len(s.maps),
		ByEquivalence:  make(map[Equivalence]int),
		ByConceptMap:   make(map[string]int, len(s.maps)),
		ByTargetSystem: make(map[string]int),
	}
	var sum float64
	for _, idx := range s.maps {
		st.ByConceptMap[idx.cm.URL] = len(idx.cm.Entries)
		for _, e := range idx.cm.Entries {
			st.Total++
			st.ByEquivalence[e.Equivalence]++
			st.ByTargetSystem[e.TargetSystem]++
			if e.Confidence != nil {
				st.Scored++
				sum += *e.Confidence
			} else {
				st.Unscored++
			}
		}
	}
	if st.Scored > 0 {
		avg := sum / float64(st.Scored)
		st.AverageConfidence = &avg
	}
	return st
}

// sortMatches orders matches by equivalence strength, then descending
// confidence with scored before unscored, then target code, target system
// and source map.
func sortMatches(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if ra, rb := a.Equivalence.Rank(), b.Equivalence.Rank(); ra != rb {
			return ra < rb
		}
		switch {
		case a.Confidence != nil && b.Confidence == nil:
			return true
		case a.Confidence == nil && b.Confidence != nil:
			return false
		case a.Confidence != nil && b.Confidence != nil && *a.Confidence != *b.Confidence:
			return *a.Confidence > *b.Confidence
		}
		if a.TargetCode != b.TargetCode {
			return a.TargetCode < b.TargetCode
		}
		if a.TargetSystem != b.TargetSystem {
			return a.TargetSystem < b.TargetSystem
		}
		return a.Source < b.Source
	})
}
