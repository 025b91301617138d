package valueset

import "context"

// Repository persists ValueSet definitions.
type Repository interface {
	List(ctx context.Context) ([]Definition, error)
	Replace(ctx context.Context, defs []Definition) error
}
