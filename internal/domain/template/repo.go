package template

import (
	"context"

	"github.com/google/uuid"
)

type TemplateRepository interface {
	Create(ctx context.Context, t *Template) error
	GetByID(ctx context.Context, id uuid.UUID) (*Template, error)
	GetByFoldedName(ctx context.Context, foldedName string) (*Template, error)
	Update(ctx context.Context, t *Template) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*Template, int, error)
}

type ActivityTemplateRepository interface {
	Create(ctx context.Context, t *ActivityTemplate) error
	GetByID(ctx context.Context, id uuid.UUID) (*ActivityTemplate, error)
	Update(ctx context.Context, t *ActivityTemplate) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*ActivityTemplate, int, error)
}
