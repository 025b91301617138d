package conceptmap

import "context"

// Repository persists ConceptMaps with their entries.
type Repository interface {
	List(ctx context.Context) ([]ConceptMap, error)
	// Replace deletes every stored map and writes maps in their place.
	Replace(ctx context.Context, maps []ConceptMap) error
}
