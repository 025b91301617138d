package codesystem

import "context"

// Repository persists coding systems and their concepts.
type Repository interface {
	ListSystems(ctx context.Context) ([]CodingSystem, error)
	ListConcepts(ctx context.Context) ([]Concept, error)
	// Replace deletes every stored system and concept and writes the given
	// ones in their place.
	Replace(ctx context.Context, systems []CodingSystem, concepts []Concept) error
}
