// Package template manages reusable visit templates and activity templates:
// libraries of form-field prototypes that get merged into protocol visits.
package template

import (
	"time"

	"github.com/google/uuid"

	"github.com/trialworks/protocol-server/internal/domain/forms"
)

// BasicTemplateName is the well-known template imported into every new visit.
const BasicTemplateName = "Visita Basica"

// Template is a reusable set of activities imported into visits as a block.
type Template struct {
	ID          uuid.UUID        `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Activities  []forms.Activity `json:"activities"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

// ActivityTemplate is a standalone library of activity prototypes applied to
// visits one template at a time. Same shape as Template, separate lifecycle.
type ActivityTemplate struct {
	ID          uuid.UUID        `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Activities  []forms.Activity `json:"activities"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

// basicActivities returns the canonical field set of the basic template.
func basicActivities() []forms.Activity {
	return []forms.Activity{
		{
			ID:        uuid.New(),
			Name:      "nombre_apellido",
			FieldType: forms.FieldTextShort,
			Required:  true,
			Order:     1,
		},
		{
			ID:        uuid.New(),
			Name:      "dni",
			FieldType: forms.FieldTextShort,
			Required:  true,
			Order:     2,
		},
		{
			ID:        uuid.New(),
			Name:      "fecha_visita",
			FieldType: forms.FieldDatetime,
			Required:  true,
			Order:     3,
			Datetime:  &forms.DatetimeConfig{IncludeDate: true, IncludeTime: false, RequireDate: true},
		},
		{
			ID:        uuid.New(),
			Name:      "numero_hoja",
			FieldType: forms.FieldNumberSimple,
			Required:  true,
			Order:     4,
		},
	}
}
