package protocol

import (
	"context"

	"github.com/google/uuid"
)

// ListFilter narrows List results. Zero value lists everything.
type ListFilter struct {
	Status string
}

// Repository persists protocol aggregates. Update must write the whole
// aggregate in one statement guarded by the version it was read at, returning
// apperr.Conflict when another writer got there first.
type Repository interface {
	Create(ctx context.Context, p *Protocol) error
	GetByID(ctx context.Context, id uuid.UUID) (*Protocol, error)
	Update(ctx context.Context, p *Protocol) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Protocol, int, error)
}
