package codesystem

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ayushbridge/bridge/internal/platform/fhir"
	"github.com/ayushbridge/bridge/pkg/pagination"
)

// systemIndex holds every concept of one coding system version.
type systemIndex struct {
	meta     CodingSystem
	byCode   map[string]*Concept
	sorted   []*Concept
	folded   []string // lower-cased display, aligned with sorted
	children map[string][]*Concept
}

// Store is an immutable, indexed set of coding systems and their concepts.
// It is safe for concurrent readers. Build one with a Builder.
type Store struct {
	versions map[string]*systemIndex // url|version
	current  map[string]*systemIndex // url
	byID     map[string]*systemIndex // short id
	order    []*systemIndex          // current versions, declaration order
	declared []*systemIndex          // every version, declaration order
	concepts int
}

// Builder accumulates systems and concepts before they are frozen into a
// Store. It is not safe for concurrent use.
type Builder struct {
	versions map[string]*systemIndex
	current  map[string]*systemIndex
	order    []*systemIndex
	declared []*systemIndex
}

func NewBuilder() *Builder {
	return &Builder{
		versions: make(map[string]*systemIndex),
		current:  make(map[string]*systemIndex),
	}
}

// AddSystem declares a coding system version. The most recently declared
// version of a URL becomes the current one.
func (b *Builder) AddSystem(cs CodingSystem) error {
	if cs.URL == "" {
		return fmt.Errorf("coding system %q: url is required", cs.ID)
	}
	key := cs.Canonical()
	if _, ok := b.versions[key]; ok {
		return fmt.Errorf("coding system %s declared twice", key)
	}
	if cs.ID == "" {
		cs.ID = cs.Name
	}
	idx := &systemIndex{
		meta:     cs,
		byCode:   make(map[string]*Concept),
		children: make(map[string][]*Concept),
	}
	b.versions[key] = idx
	b.declared = append(b.declared, idx)
	if prev, ok := b.current[cs.URL]; ok {
		for i, o := range b.order {
			if o == prev {
				b.order = append(b.order[:i], b.order[i+1:]...)
				break
			}
		}
	}
	b.current[cs.URL] = idx
	b.order = append(b.order, idx)
	return nil
}

// HasSystem reports whether a system URL has been declared.
func (b *Builder) HasSystem(url string) bool {
	_, ok := b.current[url]
	return ok
}

// AddConcept copies c into the builder. A concept without a Version joins the
// current version of its system.
func (b *Builder) AddConcept(c Concept) error {
	if c.Code == "" {
		return fmt.Errorf("concept in %s: code is required", c.System)
	}
	idx, ok := b.current[c.System]
	if c.Version != "" {
		idx, ok = b.versions[canonicalKey(c.System, c.Version)]
	}
	if !ok {
		return fmt.Errorf("concept %s|%s: system is not declared", c.System, c.Code)
	}
	if _, dup := idx.byCode[c.Code]; dup {
		return fmt.Errorf("concept %s|%s: duplicate code", c.System, c.Code)
	}

	stored := c
	stored.Version = idx.meta.Version
	if stored.Status == "" {
		stored.Status = StatusActive
	}
	stored.Properties = make([]Property, len(c.Properties))
	copy(stored.Properties, c.Properties)
	for i := range stored.Properties {
		if stored.Properties[i].Type == "" {
			stored.Properties[i].Type = PropertyString
		}
	}
	if len(c.ParentCodes) > 0 {
		stored.ParentCodes = append([]string(nil), c.ParentCodes...)
	}
	idx.byCode[c.Code] = &stored
	return nil
}

// Build freezes the builder into a Store. The builder must not be reused.
func (b *Builder) Build() *Store {
	s := &Store{
		versions: b.versions,
		current:  b.current,
		byID:     make(map[string]*systemIndex, len(b.order)),
		order:    b.order,
		declared: b.declared,
	}
	for _, idx := range b.declared {
		idx.sorted = make([]*Concept, 0, len(idx.byCode))
		for _, c := range idx.byCode {
			idx.sorted = append(idx.sorted, c)
		}
		sort.Slice(idx.sorted, func(i, j int) bool {
			return idx.sorted[i].Code < idx.sorted[j].Code
		})
		idx.folded = make([]string, len(idx.sorted))
		for i, c := range idx.sorted {
			idx.folded[i] = Fold(c.Display)
			for _, p := range c.ParentCodes {
				idx.children[p] = append(idx.children[p], c)
			}
		}
		s.concepts += len(idx.sorted)
	}
	for _, idx := range b.order {
		s.byID[idx.meta.ID] = idx
	}
	return s
}

// resolve accepts a canonical URL, url|version or short id.
func (s *Store) resolve(ref string) (*systemIndex, error) {
	if idx, ok := s.current[ref]; ok {
		return idx, nil
	}
	if url, version, versioned := splitCanonical(ref); versioned {
		if idx, ok := s.versions[canonicalKey(url, version)]; ok {
			return idx, nil
		}
	}
	if idx, ok := s.byID[ref]; ok {
		return idx, nil
	}
	return nil, fmt.Errorf("CodeSystem %s: %w", ref, fhir.ErrNotFound)
}

// System returns the metadata of a coding system.
func (s *Store) System(ref string) (*CodingSystem, error) {
	idx, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	meta := idx.meta
	return &meta, nil
}

// Systems returns the current version of every system in declaration order.
func (s *Store) Systems() []CodingSystem {
	out := make([]CodingSystem, len(s.order))
	for i, idx := range s.order {
		out[i] = idx.meta
	}
	return out
}

// Export returns every system version and its concepts in declaration and
// code order, for persisting a snapshot.
func (s *Store) Export() ([]CodingSystem, []Concept) {
	systems := make([]CodingSystem, 0, len(s.declared))
	concepts := make([]Concept, 0, s.concepts)
	for _, idx := range s.declared {
		systems = append(systems, idx.meta)
		for _, c := range idx.sorted {
			concepts = append(concepts, *c)
		}
	}
	return systems, concepts
}

// Count returns the number of concepts across all loaded versions.
func (s *Store) Count() int {
	return s.concepts
}

// CountIn returns the number of concepts in one system.
func (s *Store) CountIn(system string) int {
	idx, err := s.resolve(system)
	if err != nil {
		return 0
	}
	return len(idx.sorted)
}

// Lookup returns the concept for (system, code).
func (s *Store) Lookup(system, code string) (*Concept, error) {
	idx, err := s.resolve(system)
	if err != nil {
		return nil, err
	}
	c, ok := idx.byCode[code]
	if !ok {
		return nil, fmt.Errorf("code %s in %s: %w", code, idx.meta.URL, fhir.ErrNotFound)
	}
	return c, nil
}

// Validate reports whether code exists in system. Absence is a result, not
// an error.
func (s *Store) Validate(system, code string) Validation {
	c, err := s.Lookup(system, code)
	if err != nil {
		return Validation{Valid: false, Message: fmt.Sprintf("Code '%s' not found in system '%s'", code, system)}
	}
	return Validation{Valid: true, Concept: c}
}

// ValidateDisplay is Validate with an additional case-insensitive display
// check. An empty display is not checked.
func (s *Store) ValidateDisplay(system, code, display string) Validation {
	v := s.Validate(system, code)
	if !v.Valid || display == "" {
		return v
	}
	if !strings.EqualFold(strings.TrimSpace(display), v.Concept.Display) {
		return Validation{
			Valid:   false,
			Concept: v.Concept,
			Message: fmt.Sprintf("Display '%s' does not match expected '%s'", display, v.Concept.Display),
		}
	}
	return v
}

// Concepts returns every concept of a system in ascending code order. The
// slice is shared and must not be modified.
func (s *Store) Concepts(system string) ([]*Concept, error) {
	idx, err := s.resolve(system)
	if err != nil {
		return nil, err
	}
	return idx.sorted, nil
}

// Search matches filter against display text case-insensitively and returns
// one page of the ranked result.
func (s *Store) Search(system, filter string, limit, offset int) (Page, error) {
	if limit < 0 || offset < 0 {
		return Page{}, fmt.Errorf("limit %d, offset %d: %w", limit, offset, fhir.ErrInvalidFilter)
	}
	idx, err := s.resolve(system)
	if err != nil {
		return Page{}, err
	}
	matched := idx.rank(Fold(filter))
	return Page{
		Concepts: pagination.Slice(matched, offset, limit),
		Total:    len(matched),
	}, nil
}

// rank returns the concepts whose display matches filter, ordered by match
// class then code.
func (idx *systemIndex) rank(filter string) []*Concept {
	if filter == "" {
		out := make([]*Concept, len(idx.sorted))
		copy(out, idx.sorted)
		return out
	}
	type hit struct {
		c     *Concept
		class MatchClass
	}
	hits := make([]hit, 0)
	for i, c := range idx.sorted {
		if class, ok := Classify(idx.folded[i], filter); ok {
			hits = append(hits, hit{c: c, class: class})
		}
	}
	// sorted is already in code order; a stable sort keeps it as the tie-break.
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].class < hits[j].class })
	out := make([]*Concept, len(hits))
	for i, h := range hits {
		out[i] = h.c
	}
	return out
}

// ByParent returns the direct children of parentCode in ascending code order.
func (s *Store) ByParent(system, parentCode string) ([]*Concept, error) {
	idx, err := s.resolve(system)
	if err != nil {
		return nil, err
	}
	if _, ok := idx.byCode[parentCode]; !ok {
		return nil, fmt.Errorf("code %s in %s: %w", parentCode, idx.meta.URL, fhir.ErrNotFound)
	}
	children := idx.children[parentCode]
	out := make([]*Concept, len(children))
	copy(out, children)
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// Descendants returns the transitive children of root, excluding root, in
// ascending code order. Cycles in the parent graph are tolerated.
func (s *Store) Descendants(system, root string) ([]*Concept, error) {
	idx, err := s.resolve(system)
	if err != nil {
		return nil, err
	}
	if _, ok := idx.byCode[root]; !ok {
		return nil, fmt.Errorf("code %s in %s: %w", root, idx.meta.URL, fhir.ErrNotFound)
	}
	seen := map[string]bool{root: true}
	queue := []string{root}
	var out []*Concept
	for len(queue) > 0 {
		code := queue[0]
		queue = queue[1:]
		for _, child := range idx.children[code] {
			if seen[child.Code] {
				continue
			}
			seen[child.Code] = true
			out = append(out, child)
			queue = append(queue, child.Code)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}
