package terminology

import (
	"context"
	"fmt"

	"github.com/ayushbridge/bridge/internal/domain/codesystem"
	"github.com/ayushbridge/bridge/internal/domain/conceptmap"
	"github.com/ayushbridge/bridge/internal/domain/valueset"
	"github.com/ayushbridge/bridge/internal/platform/db"
)

// PGSource reads and writes terminology in Postgres through the per-package
// repositories.
type PGSource struct {
	systems codesystem.Repository
	maps    conceptmap.Repository
	sets    valueset.Repository
}

func NewPGSource(q db.Querier) *PGSource {
	return &PGSource{
		systems: codesystem.NewCodeSystemRepoPG(q),
		maps:    conceptmap.NewConceptMapRepoPG(q),
		sets:    valueset.NewValueSetRepoPG(q),
	}
}

func (s *PGSource) Name() string { return "postgres" }

func (s *PGSource) Fetch(ctx context.Context) (*Bundle, error) {
	systems, err := s.systems.ListSystems(ctx)
	if err != nil {
		return nil, err
	}
	concepts, err := s.systems.ListConcepts(ctx)
	if err != nil {
		return nil, err
	}
	maps, err := s.maps.List(ctx)
	if err != nil {
		return nil, err
	}
	sets, err := s.sets.List(ctx)
	if err != nil {
		return nil, err
	}
	return &Bundle{Systems: systems, Concepts: concepts, Maps: maps, ValueSets: sets}, nil
}

// Store replaces the stored terminology with b in one transaction.
func (s *PGSource) Store(ctx context.Context, b db.Beginner, bundle *Bundle) error {
	return db.WithTx(ctx, b, func(ctx context.Context) error {
		if err := s.systems.Replace(ctx, bundle.Systems, bundle.Concepts); err != nil {
			return fmt.Errorf("store coding systems: %w", err)
		}
		if err := s.maps.Replace(ctx, bundle.Maps); err != nil {
			return fmt.Errorf("store concept maps: %w", err)
		}
		if err := s.sets.Replace(ctx, bundle.ValueSets); err != nil {
			return fmt.Errorf("store value sets: %w", err)
		}
		return nil
	})
}
