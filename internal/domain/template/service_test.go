package template

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/trialworks/protocol-server/internal/domain/forms"
	"github.com/trialworks/protocol-server/internal/platform/apperr"
)

type mockTemplateRepo struct {
	store   map[uuid.UUID]*Template
	creates int
	updates int
}

func newMockTemplateRepo() *mockTemplateRepo {
	return &mockTemplateRepo{store: make(map[uuid.UUID]*Template)}
}
func (m *mockTemplateRepo) Create(_ context.Context, t *Template) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	m.creates++
	cp := *t
	m.store[t.ID] = &cp
	return nil
}

func (m *mockTemplateRepo) GetByID(_ context.Context, id uuid.UUID) (*Template, error) {
	t, ok := m.store[id]
	if !ok {
		return nil, apperr.NotFound("template not found")
	}
	cp := *t
	return &cp, nil
}

func (m *mockTemplateRepo) GetByFoldedName(_ context.Context, folded string) (*Template, error) {
	for _, t := range m.store {
		if forms.FoldName(t.Name) == folded {
			cp := *t
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("template not found")
}

func (m *mockTemplateRepo) Update(_ context.Context, t *Template) error {
	if _, ok := m.store[t.ID]; !ok {
		return apperr.NotFound("template not found")
	}
	m.updates++
	cp := *t
	m.store[t.ID] = &cp
	return nil
}

func (m *mockTemplateRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.store[id]; !ok {
		return apperr.NotFound("template not found")
	}
	delete(m.store, id)
	return nil
}

func (m *mockTemplateRepo) List(_ context.Context, limit, offset int) ([]*Template, int, error) {
	var r []*Template
	for _, t := range m.store {
		r = append(r, t)
	}
	return r, len(r), nil
}

type mockActivityTemplateRepo struct{ store map[uuid.UUID]*ActivityTemplate }

func newMockActivityTemplateRepo() *mockActivityTemplateRepo {
	return &mockActivityTemplateRepo{store: make(map[uuid.UUID]*ActivityTemplate)}
}
func (m *mockActivityTemplateRepo) Create(_ context.Context, t *ActivityTemplate) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	m.store[t.ID] = t
	return nil
}

func (m *mockActivityTemplateRepo) GetByID(_ context.Context, id uuid.UUID) (*ActivityTemplate, error) {
	t, ok := m.store[id]
	if !ok {
		return nil, apperr.NotFound("activity template not found")
	}
	return t, nil
}

func (m *mockActivityTemplateRepo) Update(_ context.Context, t *ActivityTemplate) error {
	if _, ok := m.store[t.ID]; !ok {
		return apperr.NotFound("activity template not found")
	}
	m.store[t.ID] = t
	return nil
}

func (m *mockActivityTemplateRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.store[id]; !ok {
		return apperr.NotFound("activity template not found")
	}
	delete(m.store, id)
	return nil
}

func (m *mockActivityTemplateRepo) List(_ context.Context, limit, offset int) ([]*ActivityTemplate, int, error) {
	var r []*ActivityTemplate
	for _, t := range m.store {
		r = append(r, t)
	}
	return r, len(r), nil
}

func newTestService() (*Service, *mockTemplateRepo) {
	repo := newMockTemplateRepo()
	return NewService(repo, newMockActivityTemplateRepo()), repo
}

func TestCreate_RequiresName(t *testing.T) {
	svc, _ := newTestService()
	err := svc.Create(context.Background(), &Template{Name: "   "})
	if !apperr.IsInvalid(err) {
		t.Fatalf("expected invalid error, got %v", err)
	}
}

func TestCreate_ValidatesActivities(t *testing.T) {
	svc, _ := newTestService()
	err := svc.Create(context.Background(), &Template{
		Name:       "Laboratorio",
		Activities: []forms.Activity{{Name: "x", FieldType: "hologram"}},
	})
	if !apperr.IsInvalid(err) {
		t.Fatalf("expected invalid error, got %v", err)
	}
}

func TestCreate_AssignsActivityIDs(t *testing.T) {
	svc, repo := newTestService()
	tpl := &Template{
		Name:       "Laboratorio",
		Activities: []forms.Activity{{Name: "Hemograma", FieldType: forms.FieldTextShort}},
	}
	if err := svc.Create(context.Background(), tpl); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stored := repo.store[tpl.ID]
	if stored.Activities[0].ID == uuid.Nil {
		t.Error("expected activity id to be assigned")
	}
}

func TestEnsureBasicTemplate_CreatesOnce(t *testing.T) {
	svc, repo := newTestService()

	first, err := svc.EnsureBasicTemplate(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Name != BasicTemplateName {
		t.Errorf("expected name %q, got %q", BasicTemplateName, first.Name)
	}
	if len(first.Activities) != 4 {
		t.Fatalf("expected 4 canonical activities, got %d", len(first.Activities))
	}

	wantNames := []string{"nombre_apellido", "dni", "fecha_visita", "numero_hoja"}
	wantTypes := []forms.FieldType{forms.FieldTextShort, forms.FieldTextShort, forms.FieldDatetime, forms.FieldNumberSimple}
	for i, a := range first.Activities {
		if a.Name != wantNames[i] {
			t.Errorf("activity %d: expected name %q, got %q", i, wantNames[i], a.Name)
		}
		if a.FieldType != wantTypes[i] {
			t.Errorf("activity %d: expected type %q, got %q", i, wantTypes[i], a.FieldType)
		}
		if a.Order != i+1 {
			t.Errorf("activity %d: expected order %d, got %d", i, i+1, a.Order)
		}
	}
	if first.Activities[2].Datetime == nil || first.Activities[2].Datetime.IncludeTime {
		t.Error("expected fecha_visita to be date-only")
	}

	second, err := svc.EnsureBasicTemplate(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.ID != first.ID {
		t.Error("expected the cached basic template, not a new one")
	}
	if repo.creates != 1 {
		t.Errorf("expected exactly one create, got %d", repo.creates)
	}
}

func TestEnsureBasicTemplate_FindsExistingByName(t *testing.T) {
	svc, repo := newTestService()
	existing := &Template{Name: "VISITA BASICA", Activities: []forms.Activity{}}
	repo.Create(context.Background(), existing)

	got, err := svc.EnsureBasicTemplate(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != existing.ID {
		t.Error("expected case-insensitive lookup to find the existing template")
	}
	if repo.creates != 1 {
		t.Errorf("expected no additional creates, got %d", repo.creates)
	}
}

func TestEnsureBasicTemplate_RecreatesAfterRowLoss(t *testing.T) {
	svc, repo := newTestService()
	first, err := svc.EnsureBasicTemplate(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Simulate out-of-band deletion; the cached id is now stale.
	delete(repo.store, first.ID)

	second, err := svc.EnsureBasicTemplate(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.ID == first.ID {
		t.Error("expected a fresh template after the cached row disappeared")
	}
}

func TestDelete_GuardsBasicTemplate(t *testing.T) {
	svc, repo := newTestService()
	tpl, err := svc.EnsureBasicTemplate(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err = svc.Delete(context.Background(), tpl.ID)
	if !apperr.IsInvalid(err) {
		t.Fatalf("expected invalid error for basic template delete, got %v", err)
	}
	if _, ok := repo.store[tpl.ID]; !ok {
		t.Error("expected basic template to remain persisted")
	}
}

func TestDelete_GuardIsCaseInsensitive(t *testing.T) {
	svc, repo := newTestService()
	tpl := &Template{Name: "  visita BASICA "}
	repo.Create(context.Background(), tpl)

	if err := svc.Delete(context.Background(), tpl.ID); !apperr.IsInvalid(err) {
		t.Fatalf("expected guard to match case variant, got %v", err)
	}
}

func TestDelete_RegularTemplate(t *testing.T) {
	svc, repo := newTestService()
	tpl := &Template{Name: "Laboratorio"}
	repo.Create(context.Background(), tpl)

	if err := svc.Delete(context.Background(), tpl.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := repo.store[tpl.ID]; ok {
		t.Error("expected template to be deleted")
	}
}

func TestAddActivity_AppendsWithNextOrder(t *testing.T) {
	svc, repo := newTestService()
	tpl := &Template{Name: "Laboratorio", Activities: []forms.Activity{
		{ID: uuid.New(), Name: "Hemograma", FieldType: forms.FieldTextShort, Order: 3},
	}}
	repo.Create(context.Background(), tpl)

	got, err := svc.AddActivity(context.Background(), tpl.ID, forms.Activity{
		Name: "Glucemia", FieldType: forms.FieldNumberSimple,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Activities) != 2 {
		t.Fatalf("expected 2 activities, got %d", len(got.Activities))
	}
	if got.Activities[1].Order != 4 {
		t.Errorf("expected order 4, got %d", got.Activities[1].Order)
	}
	if got.Activities[1].ID == uuid.Nil {
		t.Error("expected assigned id")
	}
}

func TestUpdateActivity_NotFound(t *testing.T) {
	svc, repo := newTestService()
	tpl := &Template{Name: "Laboratorio"}
	repo.Create(context.Background(), tpl)

	_, err := svc.UpdateActivity(context.Background(), tpl.ID, uuid.New(), forms.Activity{
		Name: "Glucemia", FieldType: forms.FieldNumberSimple,
	})
	if !apperr.IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestDeleteActivity_RemovesOne(t *testing.T) {
	svc, repo := newTestService()
	keep := forms.Activity{ID: uuid.New(), Name: "Hemograma", FieldType: forms.FieldTextShort, Order: 1}
	drop := forms.Activity{ID: uuid.New(), Name: "Glucemia", FieldType: forms.FieldNumberSimple, Order: 2}
	tpl := &Template{Name: "Laboratorio", Activities: []forms.Activity{keep, drop}}
	repo.Create(context.Background(), tpl)

	got, err := svc.DeleteActivity(context.Background(), tpl.ID, drop.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Activities) != 1 || got.Activities[0].ID != keep.ID {
		t.Error("expected only the other activity to remain")
	}
}

func TestActivityTemplateCRUD(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	at := &ActivityTemplate{Name: "Signos Vitales", Activities: []forms.Activity{
		{Name: "Peso", FieldType: forms.FieldNumberSimple},
	}}
	if err := svc.CreateActivityTemplate(ctx, at); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := svc.GetActivityTemplate(ctx, at.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Name != "Signos Vitales" {
		t.Errorf("unexpected name %q", got.Name)
	}

	if err := svc.DeleteActivityTemplate(ctx, at.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.GetActivityTemplate(ctx, at.ID); !apperr.IsNotFound(err) {
		t.Fatalf("expected not-found after delete, got %v", err)
	}
}

func TestCreateActivityTemplate_RequiresName(t *testing.T) {
	svc, _ := newTestService()
	if err := svc.CreateActivityTemplate(context.Background(), &ActivityTemplate{}); !apperr.IsInvalid(err) {
		t.Fatal("expected invalid error")
	}
}
