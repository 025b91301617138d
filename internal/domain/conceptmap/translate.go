package conceptmap

import (
	"context"
	"fmt"

	"github.com/ayushbridge/bridge/internal/domain/codesystem"
	"github.com/ayushbridge/bridge/internal/platform/fhir"
)

// MessageNoMapping is reported when a concept exists but nothing maps it.
const MessageNoMapping = "no mapping found"

// Concepts resolves codes and systems against the concept store.
type Concepts interface {
	Lookup(system, code string) (*codesystem.Concept, error)
	System(ref string) (*codesystem.CodingSystem, error)
}

// Options tune translation behaviour.
type Options struct {
	// SymmetricInversion allows reverse translation through the backward
	// index, inverting directional grades.
	SymmetricInversion bool
	// MaxHops bounds chained resolution. 1 disables chaining.
	MaxHops int
}

// Translator answers translate requests against one concept store and one
// mapping store. It holds no mutable state.
type Translator struct {
	concepts Concepts
	maps     *Store
	opts     Options
}

func NewTranslator(concepts Concepts, maps *Store, opts Options) *Translator {
	if opts.MaxHops < 1 {
		opts.MaxHops = 1
	}
	return &Translator{concepts: concepts, maps: maps, opts: opts}
}

// Translate returns the ranked equivalents of (System, Code).
//
// An unknown source concept or map reference is ErrNotFound. A concept with
// no applicable mapping yields Result false and is not an error.
func (t *Translator) Translate(ctx context.Context, req TranslateRequest) (*Translation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.System == "" || req.Code == "" {
		return nil, fmt.Errorf("system and code are required: %w", fhir.ErrInvalidFilter)
	}
	if req.Reverse && !t.opts.SymmetricInversion {
		return nil, fmt.Errorf("reverse translation is not enabled: %w", fhir.ErrInvalidFilter)
	}

	source, err := t.concepts.Lookup(req.System, req.Code)
	if err != nil {
		return nil, err
	}
	maps, err := t.maps.scope(req.ConceptMap)
	if err != nil {
		return nil, err
	}
	target := t.canonical(req.TargetSystem)

	var matches []Match
	if req.Reverse {
		matches = t.reverse(maps, source, target)
	} else {
		matches = t.forward(maps, source, target)
	}

	if len(matches) == 0 && !req.Reverse && target != "" && req.ConceptMap == "" && t.opts.MaxHops >= 2 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		matches = t.chain(maps, source, target)
	}

	if len(matches) == 0 {
		return &Translation{Result: false, Message: MessageNoMapping, Matches: []Match{}}, nil
	}
	sortMatches(matches)
	return &Translation{Result: true, Matches: matches}, nil
}

// canonical resolves a short system id to its URL. Unknown systems are
// returned unchanged since maps may target systems that are not loaded.
func (t *Translator) canonical(system string) string {
	if system == "" {
		return ""
	}
	if cs, err := t.concepts.System(system); err == nil {
		return cs.URL
	}
	return system
}

func (t *Translator) display(system, code string) string {
	c, err := t.concepts.Lookup(system, code)
	if err != nil {
		return ""
	}
	return c.Display
}

func (t *Translator) forward(maps []*mapIndex, source *codesystem.Concept, target string) []Match {
	var out []Match
	key := entryKey(source.System, source.Code)
	for _, idx := range maps {
		for _, e := range idx.forward[key] {
			if target != "" && e.TargetSystem != target {
				continue
			}
			out = append(out, Match{
				TargetSystem:  e.TargetSystem,
				TargetCode:    e.TargetCode,
				TargetDisplay: t.display(e.TargetSystem, e.TargetCode),
				Equivalence:   e.Equivalence,
				Confidence:    e.Confidence,
				Comment:       e.Comment,
				Source:        idx.cm.URL,
			})
		}
	}
	return out
}

func (t *Translator) reverse(maps []*mapIndex, source *codesystem.Concept, target string) []Match {
	var out []Match
	key := entryKey(source.System, source.Code)
	for _, idx := range maps {
		for _, e := range idx.backward[key] {
			if target != "" && e.SourceSystem != target {
				continue
			}
			out = append(out, Match{
				TargetSystem:  e.SourceSystem,
				TargetCode:    e.SourceCode,
				TargetDisplay: t.display(e.SourceSystem, e.SourceCode),
				Equivalence:   e.Equivalence.Invert(),
				Confidence:    e.Confidence,
				Comment:       e.Comment,
				Source:        idx.cm.URL,
			})
		}
	}
	return out
}
