package valueset

import (
	"fmt"

	"github.com/ayushbridge/bridge/internal/domain/codesystem"
	"github.com/ayushbridge/bridge/internal/platform/fhir"
)

// Store holds ValueSet definitions addressable by id or URL.
type Store struct {
	defs     []*Definition
	byID     map[string]*Definition
	byURL    map[string]*Definition
	implicit map[*Definition]bool
}

// Builder accumulates definitions. Not safe for concurrent use.
type Builder struct {
	s *Store
}

func NewBuilder() *Builder {
	return &Builder{s: &Store{
		byID:     make(map[string]*Definition),
		byURL:    make(map[string]*Definition),
		implicit: make(map[*Definition]bool),
	}}
}

// Add validates and copies a definition.
func (b *Builder) Add(def Definition) error {
	if def.URL == "" && def.ID == "" {
		return fmt.Errorf("value set: id or url is required")
	}
	if def.ID == "" {
		def.ID = def.URL
	}
	if len(def.Include) == 0 {
		return fmt.Errorf("value set %s: at least one include is required", def.ID)
	}
	for i, inc := range def.Include {
		if inc.System == "" {
			return fmt.Errorf("value set %s include %d: system is required", def.ID, i)
		}
	}
	if _, ok := b.s.byID[def.ID]; ok {
		return fmt.Errorf("value set id %s declared twice", def.ID)
	}
	if def.URL != "" {
		if _, ok := b.s.byURL[def.URL]; ok {
			return fmt.Errorf("value set url %s declared twice", def.URL)
		}
	}

	stored := def
	stored.Include = make([]Include, len(def.Include))
	for i, inc := range def.Include {
		inc.Codes = append([]string(nil), inc.Codes...)
		stored.Include[i] = inc
	}
	stored.Exclude = make([]Exclude, len(def.Exclude))
	for i, ex := range def.Exclude {
		ex.Codes = append([]string(nil), ex.Codes...)
		stored.Exclude[i] = ex
	}

	b.s.defs = append(b.s.defs, &stored)
	b.s.byID[stored.ID] = &stored
	if stored.URL != "" {
		b.s.byURL[stored.URL] = &stored
	}
	return nil
}

// AddImplicit registers the all-concepts definition of cs unless its id or
// URL is already taken by an explicit definition.
func (b *Builder) AddImplicit(cs codesystem.CodingSystem) {
	def := Implicit(cs)
	if _, ok := b.s.byID[def.ID]; ok {
		return
	}
	if _, ok := b.s.byURL[def.URL]; ok {
		return
	}
	if err := b.Add(def); err == nil {
		b.s.implicit[b.s.byID[def.ID]] = true
	}
}

func (b *Builder) Build() *Store {
	return b.s
}

// Get returns a definition by id or canonical URL.
func (s *Store) Get(ref string) (*Definition, error) {
	if d, ok := s.byID[ref]; ok {
		return d, nil
	}
	if d, ok := s.byURL[ref]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("ValueSet %s: %w", ref, fhir.ErrNotFound)
}

// Definitions returns every definition in load order.
func (s *Store) Definitions() []*Definition {
	out := make([]*Definition, len(s.defs))
	copy(out, s.defs)
	return out
}

// Explicit returns the loaded definitions, leaving out the implicit
// all-concepts ones.
func (s *Store) Explicit() []Definition {
	var out []Definition
	for _, d := range s.defs {
		if !s.implicit[d] {
			out = append(out, *d)
		}
	}
	return out
}

func (s *Store) Count() int {
	return len(s.defs)
}
