package terminology

import (
	"context"

	"github.com/ayushbridge/bridge/internal/domain/codesystem"
	"github.com/ayushbridge/bridge/internal/domain/conceptmap"
	"github.com/ayushbridge/bridge/internal/domain/valueset"
)

// Bundle is the raw content one source contributes to a snapshot.
type Bundle struct {
	Systems   []codesystem.CodingSystem
	Concepts  []codesystem.Concept
	Maps      []conceptmap.ConceptMap
	ValueSets []valueset.Definition
}

// Merge appends other's content. Conflicts surface when the snapshot is
// built, not here.
func (b *Bundle) Merge(other *Bundle) {
	if other == nil {
		return
	}
	b.Systems = append(b.Systems, other.Systems...)
	b.Concepts = append(b.Concepts, other.Concepts...)
	b.Maps = append(b.Maps, other.Maps...)
	b.ValueSets = append(b.ValueSets, other.ValueSets...)
}

func (b *Bundle) Empty() bool {
	return len(b.Systems) == 0 && len(b.Maps) == 0 && len(b.ValueSets) == 0
}

// Source fetches terminology content for a snapshot load.
type Source interface {
	Name() string
	Fetch(ctx context.Context) (*Bundle, error)
}
