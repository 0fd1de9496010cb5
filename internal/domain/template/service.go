package template

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/trialworks/protocol-server/internal/domain/forms"
	"github.com/trialworks/protocol-server/internal/platform/apperr"
)

// Service implements template business rules, including provisioning of the
// basic template that seeds every new visit.
type Service struct {
	templates TemplateRepository
	activity  ActivityTemplateRepository

	mu      sync.Mutex
	basicID uuid.UUID // cached id of the basic template
}

func NewService(templates TemplateRepository, activity ActivityTemplateRepository) *Service {
	return &Service{templates: templates, activity: activity}
}

// -- Template CRUD --

func (s *Service) Create(ctx context.Context, t *Template) error {
	if strings.TrimSpace(t.Name) == "" {
		return apperr.Invalid("template name is required")
	}
	for i := range t.Activities {
		if err := t.Activities[i].Validate(); err != nil {
			return apperr.Invalid("activity %d: %v", i, err)
		}
		if t.Activities[i].ID == uuid.Nil {
			t.Activities[i].ID = uuid.New()
		}
	}
	if t.Activities == nil {
		t.Activities = []forms.Activity{}
	}
	return s.templates.Create(ctx, t)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Template, error) {
	return s.templates.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Template, int, error) {
	return s.templates.List(ctx, limit, offset)
}

func (s *Service) Update(ctx context.Context, t *Template) error {
	if strings.TrimSpace(t.Name) == "" {
		return apperr.Invalid("template name is required")
	}
	for i := range t.Activities {
		if err := t.Activities[i].Validate(); err != nil {
			return apperr.Invalid("activity %d: %v", i, err)
		}
	}
	return s.templates.Update(ctx, t)
}

// Delete removes a template. The basic template is protected: losing it
// would break visit provisioning for every protocol.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	t, err := s.templates.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if forms.FoldName(t.Name) == forms.FoldName(BasicTemplateName) {
		return apperr.Invalid("the template %q cannot be deleted", BasicTemplateName)
	}

	if err := s.templates.Delete(ctx, id); err != nil {
		return err
	}

	s.mu.Lock()
	if s.basicID == id {
		s.basicID = uuid.Nil
	}
	s.mu.Unlock()
	return nil
}

// -- Per-template activity operations --

func (s *Service) AddActivity(ctx context.Context, templateID uuid.UUID, act forms.Activity) (*Template, error) {
	if err := act.Validate(); err != nil {
		return nil, apperr.Invalid("%v", err)
	}
	t, err := s.templates.GetByID(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if act.ID == uuid.Nil {
		act.ID = uuid.New()
	}
	if act.Order == 0 {
		act.Order = forms.MaxOrder(t.Activities) + 1
	}
	t.Activities = append(t.Activities, act)
	if err := s.templates.Update(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Service) UpdateActivity(ctx context.Context, templateID, activityID uuid.UUID, act forms.Activity) (*Template, error) {
	if err := act.Validate(); err != nil {
		return nil, apperr.Invalid("%v", err)
	}
	t, err := s.templates.GetByID(ctx, templateID)
	if err != nil {
		return nil, err
	}
	found := false
	for i := range t.Activities {
		if t.Activities[i].ID == activityID {
			act.ID = activityID
			t.Activities[i] = act
			found = true
			break
		}
	}
	if !found {
		return nil, apperr.NotFound("activity not found in template")
	}
	if err := s.templates.Update(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Service) DeleteActivity(ctx context.Context, templateID, activityID uuid.UUID) (*Template, error) {
	t, err := s.templates.GetByID(ctx, templateID)
	if err != nil {
		return nil, err
	}
	kept := t.Activities[:0]
	found := false
	for _, a := range t.Activities {
		if a.ID == activityID {
			found = true
			continue
		}
		kept = append(kept, a)
	}
	if !found {
		return nil, apperr.NotFound("activity not found in template")
	}
	t.Activities = kept
	if err := s.templates.Update(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// -- Basic template provisioning --

// EnsureBasicTemplate returns the basic template, creating it with the
// canonical activities on first use. The id is cached; the cache is dropped
// and re-resolved if the row has meanwhile disappeared.
func (s *Service) EnsureBasicTemplate(ctx context.Context) (*Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.basicID != uuid.Nil {
		t, err := s.templates.GetByID(ctx, s.basicID)
		if err == nil {
			return t, nil
		}
		if !apperr.IsNotFound(err) {
			return nil, err
		}
		s.basicID = uuid.Nil
	}

	t, err := s.templates.GetByFoldedName(ctx, forms.FoldName(BasicTemplateName))
	if err == nil {
		s.basicID = t.ID
		return t, nil
	}
	if !apperr.IsNotFound(err) {
		return nil, err
	}

	t = &Template{
		Name:        BasicTemplateName,
		Description: "Campos basicos presentes en toda visita",
		Activities:  basicActivities(),
	}
	if err := s.templates.Create(ctx, t); err != nil {
		return nil, err
	}
	s.basicID = t.ID
	return t, nil
}

// BasicActivities exposes the basic template's activities for the protocol
// service's visit provisioning.
func (s *Service) BasicActivities(ctx context.Context) ([]forms.Activity, error) {
	t, err := s.EnsureBasicTemplate(ctx)
	if err != nil {
		return nil, err
	}
	return t.Activities, nil
}

// TemplateActivities resolves a template's activity prototypes for import
// into a visit.
func (s *Service) TemplateActivities(ctx context.Context, id uuid.UUID) ([]forms.Activity, error) {
	t, err := s.templates.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return t.Activities, nil
}

// ActivityTemplateActivities is the activity-template counterpart of
// TemplateActivities.
func (s *Service) ActivityTemplateActivities(ctx context.Context, id uuid.UUID) ([]forms.Activity, error) {
	t, err := s.activity.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return t.Activities, nil
}

// -- ActivityTemplate CRUD --

func (s *Service) CreateActivityTemplate(ctx context.Context, t *ActivityTemplate) error {
	if strings.TrimSpace(t.Name) == "" {
		return apperr.Invalid("activity template name is required")
	}
	for i := range t.Activities {
		if err := t.Activities[i].Validate(); err != nil {
			return apperr.Invalid("activity %d: %v", i, err)
		}
		if t.Activities[i].ID == uuid.Nil {
			t.Activities[i].ID = uuid.New()
		}
	}
	if t.Activities == nil {
		t.Activities = []forms.Activity{}
	}
	return s.activity.Create(ctx, t)
}

func (s *Service) GetActivityTemplate(ctx context.Context, id uuid.UUID) (*ActivityTemplate, error) {
	return s.activity.GetByID(ctx, id)
}

func (s *Service) ListActivityTemplates(ctx context.Context, limit, offset int) ([]*ActivityTemplate, int, error) {
	return s.activity.List(ctx, limit, offset)
}

func (s *Service) UpdateActivityTemplate(ctx context.Context, t *ActivityTemplate) error {
	if strings.TrimSpace(t.Name) == "" {
		return apperr.Invalid("activity template name is required")
	}
	for i := range t.Activities {
		if err := t.Activities[i].Validate(); err != nil {
			return apperr.Invalid("activity %d: %v", i, err)
		}
	}
	return s.activity.Update(ctx, t)
}

func (s *Service) DeleteActivityTemplate(ctx context.Context, id uuid.UUID) error {
	return s.activity.Delete(ctx, id)
}
