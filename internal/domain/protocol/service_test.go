package protocol

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/trialworks/protocol-server/internal/domain/forms"
	"github.com/trialworks/protocol-server/internal/platform/apperr"
)

type mockRepo struct {
	store   map[uuid.UUID]*Protocol
	updates int
	// conflictsLeft makes the next N updates fail with a version conflict.
	conflictsLeft int
}

func newMockRepo() *mockRepo {
	return &mockRepo{store: make(map[uuid.UUID]*Protocol)}
}

func (m *mockRepo) Create(_ context.Context, p *Protocol) error {
	for _, other := range m.store {
		if other.Code == p.Code {
			return apperr.Duplicate("a protocol with code %q already exists", p.Code)
		}
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.Version = 1
	cp := *p
	m.store[p.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Protocol, error) {
	p, ok := m.store[id]
	if !ok {
		return nil, apperr.NotFound("protocol not found")
	}
	cp := *p
	return &cp, nil
}

func (m *mockRepo) Update(_ context.Context, p *Protocol) error {
	if m.conflictsLeft > 0 {
		m.conflictsLeft--
		return apperr.Conflict("protocol was modified concurrently")
	}
	cur, ok := m.store[p.ID]
	if !ok {
		return apperr.NotFound("protocol not found")
	}
	if cur.Version != p.Version {
		return apperr.Conflict("protocol was modified concurrently")
	}
	m.updates++
	p.Version++
	cp := *p
	m.store[p.ID] = &cp
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.store[id]; !ok {
		return apperr.NotFound("protocol not found")
	}
	delete(m.store, id)
	return nil
}

func (m *mockRepo) List(_ context.Context, f ListFilter, limit, offset int) ([]*Protocol, int, error) {
	var r []*Protocol
	for _, p := range m.store {
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		r = append(r, p)
	}
	return r, len(r), nil
}

type mockBasicSource struct{ activities []forms.Activity }

func (m *mockBasicSource) BasicActivities(_ context.Context) ([]forms.Activity, error) {
	return m.activities, nil
}

type mockLibrary struct{ sets map[uuid.UUID][]forms.Activity }

func (m *mockLibrary) TemplateActivities(_ context.Context, id uuid.UUID) ([]forms.Activity, error) {
	acts, ok := m.sets[id]
	if !ok {
		return nil, apperr.NotFound("template not found")
	}
	return acts, nil
}

func (m *mockLibrary) ActivityTemplateActivities(_ context.Context, id uuid.UUID) ([]forms.Activity, error) {
	return m.TemplateActivities(nil, id)
}

func canonicalBasics() []forms.Activity {
	return []forms.Activity{
		{ID: uuid.New(), Name: "nombre_apellido", FieldType: forms.FieldTextShort, Order: 1},
		{ID: uuid.New(), Name: "dni", FieldType: forms.FieldTextShort, Order: 2},
		{ID: uuid.New(), Name: "fecha_visita", FieldType: forms.FieldDatetime, Order: 3,
			Datetime: &forms.DatetimeConfig{IncludeDate: true, RequireDate: true}},
		{ID: uuid.New(), Name: "numero_hoja", FieldType: forms.FieldNumberSimple, Order: 4},
	}
}

func newTestService() (*Service, *mockRepo, *mockLibrary) {
	repo := newMockRepo()
	lib := &mockLibrary{sets: make(map[uuid.UUID][]forms.Activity)}
	svc := NewService(repo, &mockBasicSource{activities: canonicalBasics()}, lib, nil)
	return svc, repo, lib
}

func seedProtocol(t *testing.T, svc *Service) *Protocol {
	t.Helper()
	p := &Protocol{Name: "Ensayo Cardio", Code: "card-01"}
	if err := svc.Create(context.Background(), p); err != nil {
		t.Fatalf("seed protocol: %v", err)
	}
	return p
}

func TestCreate_NormalizesCode(t *testing.T) {
	svc, _, _ := newTestService()
	p := seedProtocol(t, svc)
	if p.Code != "CARD-01" {
		t.Errorf("expected upper-cased code, got %q", p.Code)
	}
	if p.Status != StatusDraft {
		t.Errorf("expected default status draft, got %q", p.Status)
	}
}

func TestCreate_DuplicateCode(t *testing.T) {
	svc, repo, _ := newTestService()
	first := seedProtocol(t, svc)

	dup := &Protocol{Name: "Otro", Code: "Card-01"}
	err := svc.Create(context.Background(), dup)
	if !apperr.IsDuplicate(err) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if _, ok := repo.store[first.ID]; !ok {
		t.Error("expected the first protocol to remain intact")
	}
}

func TestCreate_Validation(t *testing.T) {
	svc, _, _ := newTestService()
	cases := []Protocol{
		{Code: "X-01"},
		{Name: "Sin codigo"},
		{Name: "Estado", Code: "X-01", Status: "archived"},
		{Name: "Visita", Code: "X-01", Visits: []Visit{{Name: "V1", Type: "virtual", Order: 1}}},
		{Name: "Regla", Code: "X-01", ClinicalRules: []ClinicalRule{{Name: "r", Parameter: "hb", Condition: "between"}}},
	}
	for i, p := range cases {
		if err := svc.Create(context.Background(), &p); !apperr.IsInvalid(err) {
			t.Errorf("case %d: expected invalid error, got %v", i, err)
		}
	}
}

func TestAddVisit_SeedsBasicActivities(t *testing.T) {
	svc, _, _ := newTestService()
	p := seedProtocol(t, svc)

	got, err := svc.AddVisit(context.Background(), p.ID, Visit{Name: "Screening"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Visits) != 1 {
		t.Fatalf("expected 1 visit, got %d", len(got.Visits))
	}
	v := got.Visits[0]
	if v.Type != VisitPresencial {
		t.Errorf("expected default visit type, got %q", v.Type)
	}
	if v.Order != 1 {
		t.Errorf("expected order 1, got %d", v.Order)
	}
	if len(v.Activities) != 4 {
		t.Fatalf("expected the 4 basic activities, got %d", len(v.Activities))
	}
	want := []string{"nombre_apellido", "dni", "fecha_visita", "numero_hoja"}
	for i, a := range v.Activities {
		if a.Name != want[i] {
			t.Errorf("activity %d: expected %q, got %q", i, want[i], a.Name)
		}
		if a.ID == uuid.Nil {
			t.Errorf("activity %d: expected a fresh id", i)
		}
	}
}

func TestAddVisit_DoesNotDuplicateExistingNames(t *testing.T) {
	svc, _, _ := newTestService()
	p := seedProtocol(t, svc)

	got, err := svc.AddVisit(context.Background(), p.ID, Visit{
		Name: "Screening",
		Activities: []forms.Activity{
			{ID: uuid.New(), Name: "DNI", FieldType: forms.FieldTextShort, Order: 1},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v := got.Visits[0]
	if len(v.Activities) != 4 {
		t.Fatalf("expected 4 activities (1 own + 3 merged), got %d", len(v.Activities))
	}
	count := 0
	for _, a := range v.Activities {
		if strings.EqualFold(a.Name, "dni") {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected a single dni activity, got %d", count)
	}
}

func TestImportTemplate_ZeroInsertSkipsWrite(t *testing.T) {
	svc, repo, lib := newTestService()
	p := seedProtocol(t, svc)
	got, err := svc.AddVisit(context.Background(), p.ID, Visit{Name: "Screening"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	visitID := got.Visits[0].ID

	// Template whose names are all already present in the visit.
	tplID := uuid.New()
	lib.sets[tplID] = []forms.Activity{
		{ID: uuid.New(), Name: "DNI", FieldType: forms.FieldTextShort, Order: 1},
		{ID: uuid.New(), Name: "Numero_Hoja", FieldType: forms.FieldNumberSimple, Order: 2},
	}

	updatesBefore := repo.updates
	versionBefore := repo.store[p.ID].Version

	after, err := svc.ImportTemplate(context.Background(), p.ID, visitID, tplID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.updates != updatesBefore {
		t.Errorf("expected no persistence write, got %d extra", repo.updates-updatesBefore)
	}
	if repo.store[p.ID].Version != versionBefore {
		t.Error("expected version to stay unchanged")
	}
	if len(after.Visits[0].Activities) != 4 {
		t.Errorf("expected visit unchanged, got %d activities", len(after.Visits[0].Activities))
	}
}

func TestImportTemplate_AddsNovelActivities(t *testing.T) {
	svc, _, lib := newTestService()
	p := seedProtocol(t, svc)
	got, err := svc.AddVisit(context.Background(), p.ID, Visit{Name: "Screening"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	visitID := got.Visits[0].ID

	tplID := uuid.New()
	lib.sets[tplID] = []forms.Activity{
		{ID: uuid.New(), Name: "dni", FieldType: forms.FieldTextShort, Order: 1},
		{ID: uuid.New(), Name: "peso", FieldType: forms.FieldNumberSimple, Order: 2},
	}

	after, err := svc.ImportTemplate(context.Background(), p.ID, visitID, tplID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	acts := after.Visits[0].Activities
	if len(acts) != 5 {
		t.Fatalf("expected 5 activities, got %d", len(acts))
	}
	added := acts[4]
	if added.Name != "peso" {
		t.Errorf("expected peso to be appended, got %q", added.Name)
	}
	if added.Order != 5 {
		t.Errorf("expected order 5, got %d", added.Order)
	}
}

func TestMutate_RetriesThroughConflicts(t *testing.T) {
	svc, repo, _ := newTestService()
	p := seedProtocol(t, svc)

	repo.conflictsLeft = 2
	got, err := svc.AddVisit(context.Background(), p.ID, Visit{Name: "Screening"})
	if err != nil {
		t.Fatalf("expected third attempt to succeed, got %v", err)
	}
	if len(got.Visits) != 1 {
		t.Errorf("expected the visit to land, got %d visits", len(got.Visits))
	}
}

func TestMutate_ExhaustedRetriesSurfaceConflict(t *testing.T) {
	svc, repo, _ := newTestService()
	p := seedProtocol(t, svc)

	repo.conflictsLeft = 3
	_, err := svc.ReorderVisits(context.Background(), p.ID, nil)
	if !apperr.IsConflict(err) {
		t.Fatalf("expected conflict after exhausted retries, got %v", err)
	}
	if apperr.IsNotFound(err) {
		t.Error("contention must not be reported as not-found")
	}
}

func TestMutate_HonoursContextCancellation(t *testing.T) {
	svc, repo, _ := newTestService()
	p := seedProtocol(t, svc)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	repo.conflictsLeft = 10
	_, err := svc.AddVisit(ctx, p.ID, Visit{Name: "Screening"})
	if err == nil {
		t.Fatal("expected an error from a cancelled context")
	}
}

func TestReorderVisits_SkipsUnknownIDs(t *testing.T) {
	svc, _, _ := newTestService()
	p := seedProtocol(t, svc)
	got, _ := svc.AddVisit(context.Background(), p.ID, Visit{Name: "V1"})
	got, err := svc.AddVisit(context.Background(), p.ID, Visit{Name: "V2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v1, v2 := got.Visits[0].ID, got.Visits[1].ID

	after, err := svc.ReorderVisits(context.Background(), p.ID, []OrderUpdate{
		{ID: v1, Order: 2},
		{ID: v2, Order: 1},
		{ID: uuid.New(), Order: 99}, // not in this protocol
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if after.Visits[0].Order != 2 || after.Visits[1].Order != 1 {
		t.Errorf("expected swapped orders, got %d and %d", after.Visits[0].Order, after.Visits[1].Order)
	}
}

func TestReorderActivities(t *testing.T) {
	svc, _, _ := newTestService()
	p := seedProtocol(t, svc)
	got, err := svc.AddVisit(context.Background(), p.ID, Visit{Name: "V1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	visitID := got.Visits[0].ID
	a1 := got.Visits[0].Activities[0].ID

	after, err := svc.ReorderActivities(context.Background(), p.ID, visitID, []OrderUpdate{
		{ID: a1, Order: 9},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if after.Visits[0].Activities[0].Order != 9 {
		t.Errorf("expected order 9, got %d", after.Visits[0].Activities[0].Order)
	}
}

func TestUpdateVisit_NotFound(t *testing.T) {
	svc, _, _ := newTestService()
	p := seedProtocol(t, svc)

	_, err := svc.UpdateVisit(context.Background(), p.ID, uuid.New(), Visit{Name: "X"})
	if !apperr.IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestDeleteVisit(t *testing.T) {
	svc, _, _ := newTestService()
	p := seedProtocol(t, svc)
	got, err := svc.AddVisit(context.Background(), p.ID, Visit{Name: "V1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	after, err := svc.DeleteVisit(context.Background(), p.ID, got.Visits[0].ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(after.Visits) != 0 {
		t.Errorf("expected no visits, got %d", len(after.Visits))
	}
}

func TestClinicalRuleLifecycle(t *testing.T) {
	svc, _, _ := newTestService()
	p := seedProtocol(t, svc)
	ctx := context.Background()

	min, max := 12.0, 18.0
	got, err := svc.AddRule(ctx, p.ID, ClinicalRule{
		Name: "Hemoglobina", Parameter: "hb", Condition: RuleRange,
		MinValue: &min, MaxValue: &max, IsActive: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.ClinicalRules) != 1 || got.ClinicalRules[0].ID == uuid.Nil {
		t.Fatal("expected rule with assigned id")
	}
	ruleID := got.ClinicalRules[0].ID

	got, err = svc.UpdateRule(ctx, p.ID, ruleID, ClinicalRule{
		Name: "Hemoglobina", Parameter: "hb", Condition: RuleMin, MinValue: &min,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ClinicalRules[0].Condition != RuleMin {
		t.Errorf("expected updated condition, got %q", got.ClinicalRules[0].Condition)
	}

	got, err = svc.DeleteRule(ctx, p.ID, ruleID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.ClinicalRules) != 0 {
		t.Error("expected rule removed")
	}
}

func TestAddRule_InvalidRange(t *testing.T) {
	svc, _, _ := newTestService()
	p := seedProtocol(t, svc)

	min, max := 20.0, 10.0
	_, err := svc.AddRule(context.Background(), p.ID, ClinicalRule{
		Name: "Mal rango", Parameter: "hb", Condition: RuleRange, MinValue: &min, MaxValue: &max,
	})
	if !apperr.IsInvalid(err) {
		t.Fatalf("expected invalid error, got %v", err)
	}
}
