package valueset

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ayushbridge/bridge/internal/domain/codesystem"
	"github.com/ayushbridge/bridge/internal/platform/fhir"
	"github.com/ayushbridge/bridge/pkg/pagination"
)

// Concepts is the read surface of the concept store used for expansion.
type Concepts interface {
	System(ref string) (*codesystem.CodingSystem, error)
	Lookup(system, code string) (*codesystem.Concept, error)
	Concepts(system string) ([]*codesystem.Concept, error)
	Descendants(system, root string) ([]*codesystem.Concept, error)
}

// Expander evaluates ValueSet definitions against one concept store.
type Expander struct {
	concepts Concepts
	sets     *Store
	version  int64
	now      func() time.Time
}

// NewExpander binds an expander to a store pair. version is reported in every
// expansion so callers can tell which snapshot answered.
func NewExpander(concepts Concepts, sets *Store, version int64) *Expander {
	return &Expander{concepts: concepts, sets: sets, version: version, now: time.Now}
}

type candidate struct {
	concept *codesystem.Concept
	class   codesystem.MatchClass
}

// Expand evaluates req.ValueSet and returns one page of it.
//
// Systems are evaluated in declared order with a cancellation check between
// them. Total counts every concept before paging, so pages requested with
// consecutive offsets concatenate to the full expansion.
func (x *Expander) Expand(ctx context.Context, req ExpandRequest) (*Expansion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Limit < 0 || req.Offset < 0 {
		return nil, fmt.Errorf("count %d, offset %d: %w", req.Limit, req.Offset, fhir.ErrInvalidFilter)
	}
	def, err := x.sets.Get(req.ValueSet)
	if err != nil {
		return nil, err
	}
	systems := x.distinct(def.Systems())
	if req.System != "" {
		declared, ok := x.declared(systems, req.System)
		if !ok {
			return nil, fmt.Errorf("system %s is not part of ValueSet %s: %w", req.System, def.ID, fhir.ErrInvalidFilter)
		}
		systems = []string{declared}
	}

	defFilter := codesystem.Fold(def.Filter)
	callerFilter := codesystem.Fold(req.Filter)
	ranked := def.RankByRelevance && (defFilter != "" || callerFilter != "")

	var all []*codesystem.Concept
	seen := make(map[string]bool)
	for _, system := range systems {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		segment, err := x.evaluate(def, system, defFilter, callerFilter, ranked)
		if err != nil {
			return nil, err
		}
		for _, c := range segment {
			key := c.System + "|" + c.Version + "|" + c.Code
			if seen[key] {
				continue
			}
			seen[key] = true
			all = append(all, c)
		}
	}

	page := pagination.Params{Limit: req.Limit, Offset: req.Offset}
	window := pagination.Slice(all, req.Offset, req.Limit)
	contains := make([]Contains, len(window))
	for i, c := range window {
		contains[i] = toContains(c, req)
	}

	return &Expansion{
		Identifier:      uuid.New().String(),
		Timestamp:       x.now().UTC(),
		SnapshotVersion: x.version,
		ValueSet:        def.URL,
		Filter:          req.Filter,
		Total:           len(all),
		Offset:          req.Offset,
		Count:           len(contains),
		NextOffset:      page.Cursor(len(all)),
		Contains:        contains,
	}, nil
}

// declared matches a caller-supplied system against the definition's
// systems by reference or by canonical URL.
func (x *Expander) declared(systems []string, ref string) (string, bool) {
	want := x.canonical(ref)
	for _, s := range systems {
		if s == ref || x.canonical(s) == want {
			return s, true
		}
	}
	return "", false
}

// distinct drops references that name an already listed system by another
// form (short id, URL or url|version), keeping the first.
func (x *Expander) distinct(systems []string) []string {
	seen := make(map[string]bool, len(systems))
	out := systems[:0:0]
	for _, s := range systems {
		c := x.canonical(s)
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, s)
	}
	return out
}

func (x *Expander) canonical(ref string) string {
	if cs, err := x.concepts.System(ref); err == nil {
		return cs.Canonical()
	}
	return ref
}

// evaluate computes one system's segment: includes minus excludes, then the
// hierarchy restriction, then both text filters, then the status filter.
func (x *Expander) evaluate(def *Definition, system, defFilter, callerFilter string, ranked bool) ([]*codesystem.Concept, error) {
	if _, err := x.concepts.System(system); err != nil {
		return nil, err
	}

	selected := make(map[*codesystem.Concept]bool)
	for _, inc := range def.Include {
		if inc.System != system && x.canonical(inc.System) != x.canonical(system) {
			continue
		}
		base, err := x.include(system, inc)
		if err != nil {
			return nil, err
		}
		for _, c := range base {
			selected[c] = true
		}
	}
	for _, ex := range def.Exclude {
		if ex.System != system && x.canonical(ex.System) != x.canonical(system) {
			continue
		}
		for _, code := range ex.Codes {
			if c, err := x.concepts.Lookup(system, code); err == nil {
				delete(selected, c)
			}
		}
	}

	out := make([]candidate, 0, len(selected))
	for c := range selected {
		if def.ActiveOnly && !c.Active() {
			continue
		}
		display := codesystem.Fold(c.Display)
		defClass, ok := codesystem.Classify(display, defFilter)
		if !ok {
			continue
		}
		class, ok := codesystem.Classify(display, callerFilter)
		if !ok {
			continue
		}
		if callerFilter == "" {
			class = defClass
		}
		out = append(out, candidate{concept: c, class: class})
	}

	sort.Slice(out, func(i, j int) bool {
		if ranked && out[i].class != out[j].class {
			return out[i].class < out[j].class
		}
		return out[i].concept.Code < out[j].concept.Code
	})
	concepts := make([]*codesystem.Concept, len(out))
	for i, cand := range out {
		concepts[i] = cand.concept
	}
	return concepts, nil
}

func (x *Expander) include(system string, inc Include) ([]*codesystem.Concept, error) {
	var base []*codesystem.Concept
	if len(inc.Codes) > 0 {
		for _, code := range inc.Codes {
			c, err := x.concepts.Lookup(system, code)
			if err != nil {
				// Enumerated codes missing from the snapshot are skipped.
				continue
			}
			base = append(base, c)
		}
	} else {
		all, err := x.concepts.Concepts(system)
		if err != nil {
			return nil, err
		}
		base = all
	}
	if inc.ParentCode == "" {
		return base, nil
	}

	desc, err := x.concepts.Descendants(system, inc.ParentCode)
	if err != nil {
		return nil, err
	}
	under := make(map[*codesystem.Concept]bool, len(desc))
	for _, c := range desc {
		under[c] = true
	}
	restricted := make([]*codesystem.Concept, 0, len(base))
	for _, c := range base {
		if under[c] {
			restricted = append(restricted, c)
		}
	}
	return restricted, nil
}

func toContains(c *codesystem.Concept, req ExpandRequest) Contains {
	out := Contains{
		System:   c.System,
		Version:  c.Version,
		Code:     c.Code,
		Display:  c.Display,
		Inactive: !c.Active(),
	}
	if req.IncludeProperties {
		out.Properties = c.PropertiesNamed(req.PropertyNames)
	}
	return out
}
