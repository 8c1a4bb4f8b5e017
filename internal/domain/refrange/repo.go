package refrange

import (
	"context"
)

// Repository stores the editable reference table of each species. Writes
// replace a species' whole table; rows are never edited individually.
type Repository interface {
	Source
	ReplaceRows(ctx context.Context, species Species, rows []Row) error
	DeleteRows(ctx context.Context, species Species) error
}
